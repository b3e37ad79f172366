// Package gateway composes the request pipeline: authentication, rate
// limiting, policy evaluation, auditing, mixing and tiered routing.
package gateway

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/zeroveil/gateway/internal/audit"
	"github.com/zeroveil/gateway/internal/domain"
	"github.com/zeroveil/gateway/internal/mixer"
	"github.com/zeroveil/gateway/internal/policy"
	"github.com/zeroveil/gateway/internal/ratelimit"
	"github.com/zeroveil/gateway/internal/router"
	"github.com/zeroveil/gateway/internal/tenant"
	"github.com/zeroveil/gateway/internal/tokens"
)

// Authenticator resolves a bearer credential to a tenant.
type Authenticator interface {
	Authenticate(apiKey string) (*tenant.Tenant, error)
}

// RequestContext is the per-request envelope the transport layer hands in.
type RequestContext struct {
	RequestID string
	APIKey    string
	ClientIP  string
	UserAgent string
	// TenantHint carries the caller's X-Tenant-Id header. It is never
	// trusted for authorization; it only labels audit events for requests
	// that fail authentication.
	TenantHint string
	ReceivedAt time.Time
}

// pending holds what the outcome recorder needs once the routed result
// arrives, which may be after the original caller has disconnected.
type pending struct {
	tenant    *tenant.Tenant
	req       *domain.ChatCompletionsRequest
	ctx       RequestContext
	startedAt time.Time
}

// Gateway owns the admission pipeline for chat completion requests.
type Gateway struct {
	policies *policy.Store
	auth     Authenticator
	limiter  *ratelimit.Limiter
	engine   *policy.Engine
	recorder *audit.Recorder
	route    *router.Controller
	tokens   *tokens.Registry
	logger   *slog.Logger
	now      func() time.Time

	mix *mixer.Mixer

	mu       sync.Mutex
	pendings map[string]*pending
}

// New wires the pipeline. The mixer is constructed here because the gateway
// is its dispatcher and result observer.
func New(
	policies *policy.Store,
	auth Authenticator,
	limiter *ratelimit.Limiter,
	engine *policy.Engine,
	recorder *audit.Recorder,
	route *router.Controller,
	counters *tokens.Registry,
	mixCfg mixer.Config,
	logger *slog.Logger,
) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	g := &Gateway{
		policies: policies,
		auth:     auth,
		limiter:  limiter,
		engine:   engine,
		recorder: recorder,
		route:    route,
		tokens:   counters,
		logger:   logger,
		now:      time.Now,
		pendings: make(map[string]*pending),
	}
	g.mix = mixer.New(mixCfg, g, logger)
	g.mix.SetResultObserver(g.recordOutcome)
	return g
}

// Mixer exposes the aggregation layer, used for drain on shutdown.
func (g *Gateway) Mixer() *mixer.Mixer { return g.mix }

// Remaining reports the tenant's quota headroom for rate limit headers.
func (g *Gateway) Remaining(t *tenant.Tenant) (rpm, tpd int) {
	return g.limiter.RemainingRPM(t), g.limiter.RemainingTPD(t)
}

// Handle runs one request through the full pipeline. The returned tenant is
// non-nil whenever authentication succeeded, even on later denial, so the
// caller can attach quota headers.
func (g *Gateway) Handle(ctx context.Context, rc RequestContext, req *domain.ChatCompletionsRequest) (*domain.ChatCompletionsResponse, *tenant.Tenant, error) {
	if rc.ReceivedAt.IsZero() {
		rc.ReceivedAt = g.now()
	}

	t, err := g.authenticate(rc.APIKey)
	if err != nil {
		g.recordDecision(rc, nil, req, "denied", "deny", domain.AsGatewayError(err))
		return nil, nil, err
	}

	if err := g.limiter.Check(t); err != nil {
		g.recordDecision(rc, t, req, "ok", "deny", domain.AsGatewayError(err))
		return nil, t, err
	}

	pol := g.policies.Current()
	decision := g.engine.Evaluate(pol, rc.RequestID, t.ID, req)
	if decision.Outcome == policy.Deny {
		g.recordDecision(rc, t, req, "ok", "deny", decision.Err)
		return nil, t, decision.Err
	}
	g.recordDecision(rc, t, req, "ok", "allow", nil)

	providerClass := g.route.PrimaryProvider(pol.ProviderAllowed)
	if providerClass == "" {
		gerr := domain.ErrPolicyDenied(domain.ReasonProviderNotAllowed, "no provider allowed by policy")
		g.finishWithoutDispatch(rc, t, req, gerr)
		return nil, t, gerr
	}

	member := &mixer.Member{
		RequestID: rc.RequestID,
		Model:     req.Model,
		Messages:  req.Messages,
		JoinedAt:  rc.ReceivedAt,
	}
	g.track(member.RequestID, &pending{tenant: t, req: req, ctx: rc, startedAt: rc.ReceivedAt})

	res, err := g.mix.Submit(ctx, g.mix.GroupKey(providerClass, req.Model), member)
	if err != nil {
		// Caller gone. The member still completes inside its batch and the
		// outcome recorder handles its bookkeeping.
		return nil, t, err
	}
	if res.Err != nil {
		return nil, t, res.Err
	}

	return g.buildResponse(req, res), t, nil
}

func (g *Gateway) authenticate(apiKey string) (*tenant.Tenant, error) {
	if apiKey == "" {
		return nil, domain.ErrUnauthorized(domain.ReasonMissingBearer, "missing bearer token")
	}
	return g.auth.Authenticate(apiKey)
}

// DispatchMember implements mixer.Dispatcher. Usage is filled here, before
// the result fans back out, so readers never race a later mutation.
func (g *Gateway) DispatchMember(ctx context.Context, req *domain.UpstreamRequest, credential domain.CredentialRef) *router.Result {
	pol := g.policies.Current()
	res := g.route.Dispatch(ctx, req, credential, pol.ProviderAllowed)
	if res.Response != nil && res.Response.Usage.TotalTokens == 0 {
		res.Response.Usage = g.tokens.CountUsage(req.Model, req.Messages, res.Response.Content)
	}
	return res
}

func (g *Gateway) track(requestID string, p *pending) {
	g.mu.Lock()
	g.pendings[requestID] = p
	g.mu.Unlock()
}

func (g *Gateway) untrack(requestID string) *pending {
	g.mu.Lock()
	p := g.pendings[requestID]
	delete(g.pendings, requestID)
	g.mu.Unlock()
	return p
}

// recordOutcome is the mixer's result observer. It runs on the dispatch
// goroutine for every member, so outcomes are recorded and quota charged
// even when the response is undeliverable.
func (g *Gateway) recordOutcome(member *mixer.Member, res *router.Result) {
	p := g.untrack(member.RequestID)
	if p == nil {
		return
	}

	evt := g.baseEvent(p.ctx, p.tenant, p.req)
	evt.Stage = audit.StageOutcome
	evt.AuthResult = "ok"
	evt.Provider = res.Provider
	evt.LatencyMS = g.now().Sub(p.startedAt).Milliseconds()
	for _, a := range res.Attempts {
		evt.Attempts = append(evt.Attempts, audit.AttemptRecord{
			Tier:       a.Tier,
			Provider:   a.Provider,
			Outcome:    string(a.Outcome),
			DurationMS: a.Duration.Milliseconds(),
		})
	}

	if res.Err != nil {
		evt.Outcome = "error"
		evt.Reason = string(res.Err.Reason)
		if res.FlagForReview {
			evt.Extra = map[string]any{"flag_for_review": true}
		}
	} else {
		evt.Outcome = "success"
		evt.Reason = string(domain.ReasonOK)
		evt.TokensPrompt = res.Response.Usage.PromptTokens
		evt.TokensCompletion = res.Response.Usage.CompletionTokens
		g.limiter.RecordUsage(p.tenant, res.Response.Usage.TotalTokens)
	}
	g.recorder.Record(evt)
}

// finishWithoutDispatch records an outcome for a request that was admitted
// but never reached the mixer.
func (g *Gateway) finishWithoutDispatch(rc RequestContext, t *tenant.Tenant, req *domain.ChatCompletionsRequest, gerr *domain.GatewayError) {
	evt := g.baseEvent(rc, t, req)
	evt.Stage = audit.StageOutcome
	evt.AuthResult = "ok"
	evt.Outcome = "error"
	evt.Reason = string(gerr.Reason)
	evt.LatencyMS = g.now().Sub(rc.ReceivedAt).Milliseconds()
	g.recorder.Record(evt)
}

func (g *Gateway) recordDecision(rc RequestContext, t *tenant.Tenant, req *domain.ChatCompletionsRequest, authResult, outcome string, gerr *domain.GatewayError) {
	evt := g.baseEvent(rc, t, req)
	evt.Stage = audit.StageDecision
	evt.AuthResult = authResult
	evt.Outcome = outcome
	if gerr != nil {
		evt.Reason = string(gerr.Reason)
	} else {
		evt.Reason = string(domain.ReasonOK)
	}
	g.recorder.Record(evt)
}

func (g *Gateway) baseEvent(rc RequestContext, t *tenant.Tenant, req *domain.ChatCompletionsRequest) *audit.Event {
	evt := &audit.Event{
		RequestID: rc.RequestID,
		ClientIP:  rc.ClientIP,
		UserAgent: rc.UserAgent,
	}
	if t != nil {
		evt.TenantID = t.ID
	} else if rc.TenantHint != "" {
		evt.TenantID = rc.TenantHint
	}
	if req != nil {
		evt.Model = req.Model
		evt.MessageCount = len(req.Messages)
		evt.TotalChars = req.TotalChars()
		evt.ZDROnly = req.ZDR()
		evt.ScrubbedAttested = req.Metadata.Scrubbed
	}
	return evt
}

func (g *Gateway) buildResponse(req *domain.ChatCompletionsRequest, res *router.Result) *domain.ChatCompletionsResponse {
	up := res.Response
	model := up.Model
	if model == "" {
		model = req.Model
	}
	return &domain.ChatCompletionsResponse{
		ID:      up.ID,
		Object:  "chat.completion",
		Created: g.now().Unix(),
		Model:   model,
		Choices: []domain.Choice{{
			Index:        0,
			Message:      domain.Message{Role: "assistant", Content: up.Content},
			FinishReason: up.FinishReason,
		}},
		Usage: up.Usage,
	}
}
