package provider

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/zeroveil/gateway/internal/domain"
)

// Stub is a deterministic adapter for development and tests. It never calls
// out and never fails.
type Stub struct {
	name string
	// Reply overrides the response content when set.
	Reply string
}

// NewStub creates a stub adapter with the given registry name.
func NewStub(name string) *Stub {
	return &Stub{name: name}
}

// Name implements domain.ProviderAdapter.
func (s *Stub) Name() string {
	return s.name
}

// Dispatch returns a canned completion. Context cancellation is honored so
// timeout behavior is testable against the stub too.
func (s *Stub) Dispatch(ctx context.Context, req *domain.UpstreamRequest, _ domain.CredentialRef) (*domain.UpstreamResponse, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	content := s.Reply
	if content == "" {
		content = "stubbed_response"
	}

	model := req.Model
	if model == "" {
		model = "stub"
	}

	return &domain.UpstreamResponse{
		ID:           "stub_" + strings.ReplaceAll(uuid.New().String(), "-", "")[:16],
		Model:        model,
		Content:      content,
		FinishReason: "stop",
	}, nil
}
