package gateway

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/zeroveil/gateway/internal/audit"
	"github.com/zeroveil/gateway/internal/domain"
	"github.com/zeroveil/gateway/internal/mixer"
	"github.com/zeroveil/gateway/internal/pii"
	"github.com/zeroveil/gateway/internal/policy"
	"github.com/zeroveil/gateway/internal/provider"
	"github.com/zeroveil/gateway/internal/ratelimit"
	"github.com/zeroveil/gateway/internal/router"
	"github.com/zeroveil/gateway/internal/tenant"
	"github.com/zeroveil/gateway/internal/tokens"
)

type memSink struct {
	mu     sync.Mutex
	events []*audit.Event
}

func (s *memSink) Write(evt *audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, evt)
	return nil
}

func (s *memSink) Close() error { return nil }

func (s *memSink) byRequest(id string) []*audit.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*audit.Event
	for _, e := range s.events {
		if e.RequestID == id {
			out = append(out, e)
		}
	}
	return out
}

type fixture struct {
	gw       *Gateway
	sink     *memSink
	recorder *audit.Recorder
	limiter  *ratelimit.Limiter
	tenant   *tenant.Tenant
}

func newFixture(t *testing.T, adapters ...domain.ProviderAdapter) *fixture {
	t.Helper()

	pol := &policy.Policy{
		Version:          "test",
		AllowedProviders: []string{"stub", "t1", "t2", "t3"},
		Logging:          policy.Logging{Sink: policy.SinkStdout},
	}
	store := policy.NewStaticStore(pol)

	ten := &tenant.Tenant{
		ID:           "acme",
		Name:         "Acme Corp",
		KeyHashes:    []string{tenant.HashKey("zv_test_key")},
		RateLimitRPM: 100,
		RateLimitTPD: 100000,
		Enabled:      true,
	}
	dir, err := tenant.NewDirectory([]*tenant.Tenant{ten})
	if err != nil {
		t.Fatal(err)
	}

	if len(adapters) == 0 {
		adapters = []domain.ProviderAdapter{provider.NewStub("stub")}
	}
	registry := provider.NewRegistry()
	var tiers []router.TierConfig
	for _, a := range adapters {
		if err := registry.Register(a); err != nil {
			t.Fatal(err)
		}
		tiers = append(tiers, router.TierConfig{Provider: a.Name(), Timeout: time.Second})
	}

	sink := &memSink{}
	recorder := audit.NewRecorder(sink, nil)
	t.Cleanup(func() { recorder.Close() })

	limiter := ratelimit.New(nil)
	gw := New(
		store,
		dir,
		limiter,
		policy.NewEngine(pii.NewDetector(pii.DefaultConfig()), nil),
		recorder,
		router.New(registry, tiers, nil),
		tokens.NewRegistry(),
		mixer.Config{},
		nil,
	)
	return &fixture{gw: gw, sink: sink, recorder: recorder, limiter: limiter, tenant: ten}
}

func allowedRequest() *domain.ChatCompletionsRequest {
	return &domain.ChatCompletionsRequest{
		Model:    "gpt-4o",
		Messages: []domain.Message{{Role: "user", Content: "summarize the meeting notes"}},
		Metadata: domain.RequestMetadata{Scrubbed: true},
	}
}

func reqCtx(id string) RequestContext {
	return RequestContext{RequestID: id, APIKey: "zv_test_key", ClientIP: "10.0.0.9", UserAgent: "test-client"}
}

func (f *fixture) flush(t *testing.T) {
	t.Helper()
	f.gw.Mixer().Drain()
	if err := f.recorder.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestHandleAllow(t *testing.T) {
	f := newFixture(t)

	resp, ten, err := f.gw.Handle(context.Background(), reqCtx("req_ok"), allowedRequest())
	if err != nil {
		t.Fatal(err)
	}
	if ten.ID != "acme" {
		t.Errorf("tenant = %s", ten.ID)
	}
	if resp.Object != "chat.completion" || len(resp.Choices) != 1 {
		t.Fatalf("resp = %+v", resp)
	}
	if resp.Choices[0].Message.Content == "" {
		t.Error("empty completion content")
	}
	if resp.Usage.TotalTokens == 0 {
		t.Error("usage not filled")
	}
}

func TestHandleRecordsDecisionThenOutcome(t *testing.T) {
	f := newFixture(t)

	if _, _, err := f.gw.Handle(context.Background(), reqCtx("req_audit"), allowedRequest()); err != nil {
		t.Fatal(err)
	}
	f.flush(t)

	events := f.sink.byRequest("req_audit")
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}
	if events[0].Stage != audit.StageDecision || events[0].Outcome != "allow" {
		t.Errorf("first event = %+v", events[0])
	}
	if events[1].Stage != audit.StageOutcome || events[1].Outcome != "success" {
		t.Errorf("second event = %+v", events[1])
	}
	if events[1].TokensPrompt == 0 || events[1].TokensCompletion == 0 {
		t.Errorf("outcome usage missing: %+v", events[1])
	}
	if len(events[1].Attempts) != 1 || events[1].Attempts[0].Provider != "stub" {
		t.Errorf("attempts = %+v", events[1].Attempts)
	}
}

// No audit event may carry message content, whatever the outcome.
func TestAuditNeverCarriesContent(t *testing.T) {
	f := newFixture(t)
	secret := "the launch codes are 0000"

	req := allowedRequest()
	req.Messages[0].Content = secret
	f.gw.Handle(context.Background(), reqCtx("req_secret"), req)
	f.flush(t)

	for _, evt := range f.sink.byRequest("req_secret") {
		for _, v := range evt.Extra {
			if s, ok := v.(string); ok && strings.Contains(s, secret) {
				t.Fatal("audit extra leaked content")
			}
		}
		if strings.Contains(evt.Reason, secret) || strings.Contains(evt.Model, secret) {
			t.Fatal("audit field leaked content")
		}
	}
}

func TestHandleMissingBearer(t *testing.T) {
	f := newFixture(t)
	rc := reqCtx("req_nokey")
	rc.APIKey = ""

	_, _, err := f.gw.Handle(context.Background(), rc, allowedRequest())
	gerr := domain.AsGatewayError(err)
	if gerr.Code != domain.CodeUnauthorized || gerr.Reason != domain.ReasonMissingBearer {
		t.Fatalf("err = %v", gerr)
	}

	f.flush(t)
	events := f.sink.byRequest("req_nokey")
	if len(events) != 1 || events[0].AuthResult != "denied" {
		t.Fatalf("events = %+v", events)
	}
	if events[0].Reason != string(domain.ReasonMissingBearer) {
		t.Errorf("reason = %q", events[0].Reason)
	}
}

// A client-supplied tenant hint labels audit events when authentication
// fails; authenticated requests ignore it in favor of the real tenant.
func TestTenantHintLabelsDeniedAuth(t *testing.T) {
	f := newFixture(t)

	rc := reqCtx("req_hinted")
	rc.APIKey = "zv_wrong_key"
	rc.TenantHint = "globex"
	if _, _, err := f.gw.Handle(context.Background(), rc, allowedRequest()); err == nil {
		t.Fatal("expected auth failure")
	}

	rc2 := reqCtx("req_hint_ignored")
	rc2.TenantHint = "globex"
	if _, _, err := f.gw.Handle(context.Background(), rc2, allowedRequest()); err != nil {
		t.Fatal(err)
	}
	f.flush(t)

	denied := f.sink.byRequest("req_hinted")
	if len(denied) != 1 || denied[0].TenantID != "globex" {
		t.Fatalf("denied events = %+v", denied)
	}
	for _, evt := range f.sink.byRequest("req_hint_ignored") {
		if evt.TenantID != "acme" {
			t.Errorf("authenticated event tenant = %q", evt.TenantID)
		}
	}
}

func TestHandlePolicyDenialIsAudited(t *testing.T) {
	f := newFixture(t)
	req := allowedRequest()
	req.Metadata.Scrubbed = false

	_, _, err := f.gw.Handle(context.Background(), reqCtx("req_denied"), req)
	gerr := domain.AsGatewayError(err)
	if gerr.Reason != domain.ReasonMissingAttestation {
		t.Fatalf("err = %v", gerr)
	}

	f.flush(t)
	events := f.sink.byRequest("req_denied")
	if len(events) != 1 {
		t.Fatalf("denied request should have exactly one decision event, got %d", len(events))
	}
	if events[0].Outcome != "deny" || events[0].Reason != string(domain.ReasonMissingAttestation) {
		t.Errorf("event = %+v", events[0])
	}
}

func TestHandleChargesTokenBudget(t *testing.T) {
	f := newFixture(t)

	_, tpdBefore := f.gw.Remaining(f.tenant)

	if _, _, err := f.gw.Handle(context.Background(), reqCtx("req_charge"), allowedRequest()); err != nil {
		t.Fatal(err)
	}
	f.gw.Mixer().Drain()

	_, tpdAfter := f.gw.Remaining(f.tenant)
	if tpdAfter >= tpdBefore {
		t.Errorf("token budget not charged: before=%d after=%d", tpdBefore, tpdAfter)
	}
}

type alwaysDown struct{ name string }

func (a alwaysDown) Name() string { return a.name }

func (a alwaysDown) Dispatch(context.Context, *domain.UpstreamRequest, domain.CredentialRef) (*domain.UpstreamResponse, error) {
	return nil, &domain.UpstreamError{Provider: a.name, Transient: true, Status: 503}
}

func TestHandleExhaustionReturnsServerError(t *testing.T) {
	f := newFixture(t, alwaysDown{"t1"}, alwaysDown{"t2"}, alwaysDown{"t3"})

	_, _, err := f.gw.Handle(context.Background(), reqCtx("req_down"), allowedRequest())
	gerr := domain.AsGatewayError(err)
	if gerr.Code != domain.CodeServerError || gerr.Reason != domain.ReasonEscalationExhausted {
		t.Fatalf("err = %v", gerr)
	}

	f.flush(t)
	events := f.sink.byRequest("req_down")
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}
	outcome := events[1]
	if outcome.Outcome != "error" || len(outcome.Attempts) != 3 {
		t.Errorf("outcome = %+v", outcome)
	}
	if flagged, _ := outcome.Extra["flag_for_review"].(bool); !flagged {
		t.Error("exhaustion must be flagged for review")
	}
}
