// Package router implements tiered dispatch with bounded escalation across
// provider adapters.
package router

import (
	"context"
	"errors"
	"time"

	"github.com/zeroveil/gateway/internal/domain"
	"github.com/zeroveil/gateway/internal/provider"
)

// maxTiers caps the escalation ladder. Exhausting the last tier flags the
// request for operator review instead of retrying forever.
const maxTiers = 3

// AttemptOutcome classifies a single routing attempt.
type AttemptOutcome string

const (
	AttemptSuccess AttemptOutcome = "success"
	AttemptTimeout AttemptOutcome = "timeout"
	AttemptError   AttemptOutcome = "error"
)

// Attempt records one tier's dispatch, metadata only.
type Attempt struct {
	RequestID string
	Tier      int
	Provider  string
	StartedAt time.Time
	Outcome   AttemptOutcome
	Duration  time.Duration
}

// TierConfig is one rung of the escalation ladder.
type TierConfig struct {
	Provider string
	Timeout  time.Duration
}

// Result is the terminal outcome of routing one request.
type Result struct {
	Response *domain.UpstreamResponse
	Provider string
	Attempts []Attempt
	// FlagForReview marks ladder exhaustion. The client still receives a
	// structured server_error; the flag is operator-visible via audit only.
	FlagForReview bool
	Err           *domain.GatewayError
}

// Controller walks a request down the tier ladder. Per request the state
// machine is Pending -> Attempting(tier n) -> Success, next tier, or a
// terminal failure. Only transient faults advance tiers.
type Controller struct {
	registry *provider.Registry
	tiers    []TierConfig
	now      func() time.Time
}

// New creates a controller. Tiers beyond the ladder cap are ignored; a nil
// clock uses the wall clock.
func New(registry *provider.Registry, tiers []TierConfig, now func() time.Time) *Controller {
	if len(tiers) > maxTiers {
		tiers = tiers[:maxTiers]
	}
	if now == nil {
		now = time.Now
	}
	return &Controller{registry: registry, tiers: tiers, now: now}
}

// PrimaryProvider returns the first tier provider passing the allowed
// predicate, or "" when no tier is eligible.
func (c *Controller) PrimaryProvider(allowed func(string) bool) string {
	for _, tier := range c.tiers {
		if allowed == nil || allowed(tier.Provider) {
			return tier.Provider
		}
	}
	return ""
}

// Dispatch attempts the request tier by tier. The allowed predicate restricts
// tiers to policy-allowlisted providers; ineligible tiers are skipped, not
// retried. Each attempt is bounded by its tier timeout, after which the
// adapter is abandoned and escalation proceeds.
func (c *Controller) Dispatch(ctx context.Context, req *domain.UpstreamRequest, credential domain.CredentialRef, allowed func(string) bool) *Result {
	result := &Result{}

	for i, tier := range c.tiers {
		tierNum := i + 1
		if allowed != nil && !allowed(tier.Provider) {
			continue
		}
		adapter, ok := c.registry.Get(tier.Provider)
		if !ok {
			continue
		}

		attempt := Attempt{
			RequestID: req.RequestID,
			Tier:      tierNum,
			Provider:  tier.Provider,
			StartedAt: c.now(),
		}

		attemptCtx := ctx
		cancel := context.CancelFunc(func() {})
		if tier.Timeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, tier.Timeout)
		}
		resp, err := adapter.Dispatch(attemptCtx, req, credential)
		cancel()
		attempt.Duration = c.now().Sub(attempt.StartedAt)

		if err == nil {
			attempt.Outcome = AttemptSuccess
			result.Attempts = append(result.Attempts, attempt)
			result.Response = resp
			result.Provider = tier.Provider
			return result
		}

		if errors.Is(err, context.DeadlineExceeded) {
			attempt.Outcome = AttemptTimeout
		} else {
			attempt.Outcome = AttemptError
		}
		result.Attempts = append(result.Attempts, attempt)

		if !domain.IsTransient(err) {
			result.Err = domain.ErrServer(domain.ReasonUpstreamFatal, "upstream rejected the request")
			return result
		}
		// Transient: fall through to the next tier.
	}

	result.FlagForReview = true
	result.Err = domain.ErrServer(domain.ReasonEscalationExhausted, "request could not be completed")
	return result
}
