package domain

import (
	"context"
	"errors"
	"fmt"
)

// CredentialRef names a shared upstream credential without carrying the secret
// itself. Adapters resolve it against their own configuration.
type CredentialRef string

// UpstreamRequest is the payload dispatched to a provider adapter. It carries
// no tenant identity; the upstream only ever sees the shared credential.
type UpstreamRequest struct {
	RequestID string
	Model     string
	Messages  []Message
}

// UpstreamResponse is a completed upstream exchange.
type UpstreamResponse struct {
	ID           string
	Model        string
	Content      string
	FinishReason string
	Usage        Usage
}

// ProviderAdapter is the capability contract for upstream model providers.
// Dispatch must honor ctx cancellation; per-attempt timeouts are applied by
// the caller.
type ProviderAdapter interface {
	Name() string
	Dispatch(ctx context.Context, req *UpstreamRequest, credential CredentialRef) (*UpstreamResponse, error)
}

// UpstreamError classifies an adapter failure. Transient errors are eligible
// for tier escalation; fatal errors terminate routing immediately.
type UpstreamError struct {
	Provider  string
	Transient bool
	Status    int
	Err       error
}

func (e *UpstreamError) Error() string {
	kind := "fatal"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("upstream %s: %s error: %v", e.Provider, kind, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err should advance escalation rather than
// terminate it. Context deadline expiry counts as transient (a stalled
// adapter is abandoned and the next tier tried).
func IsTransient(err error) bool {
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue.Transient
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return false
}
