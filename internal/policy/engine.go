package policy

import (
	"strings"
	"time"

	"github.com/zeroveil/gateway/internal/domain"
	"github.com/zeroveil/gateway/internal/pii"
)

// Outcome is the result of a policy evaluation.
type Outcome string

const (
	Allow Outcome = "allow"
	Deny  Outcome = "deny"
)

// Decision is the single, immutable result of evaluating one request.
type Decision struct {
	RequestID   string
	TenantID    string
	Outcome     Outcome
	Err         *domain.GatewayError // nil iff Outcome == Allow
	EvaluatedAt time.Time
}

// Reason returns the stable reason identifier for the decision.
func (d *Decision) Reason() domain.Reason {
	if d.Err == nil {
		return domain.ReasonOK
	}
	return d.Err.Reason
}

// Engine evaluates requests against a policy snapshot. Evaluation is a pure
// function of (Policy, Tenant, Request); the same tuple always produces the
// same reason code, so decisions replay deterministically in tests.
type Engine struct {
	detector *pii.Detector
	now      func() time.Time
}

// NewEngine builds an engine with the given PII detector. A nil now uses the
// wall clock.
func NewEngine(detector *pii.Detector, now func() time.Time) *Engine {
	if now == nil {
		now = time.Now
	}
	return &Engine{detector: detector, now: now}
}

// Evaluate produces exactly one decision, short-circuiting on the first
// failed check. Order: structural validation, ZDR, attestation, PII gate,
// model allowlist.
func (e *Engine) Evaluate(p *Policy, requestID, tenantID string, req *domain.ChatCompletionsRequest) Decision {
	deny := func(err *domain.GatewayError) Decision {
		return Decision{
			RequestID:   requestID,
			TenantID:    tenantID,
			Outcome:     Deny,
			Err:         err,
			EvaluatedAt: e.now(),
		}
	}

	// Structural validation.
	if len(req.Messages) == 0 {
		return deny(domain.ErrInvalidRequest(domain.ReasonEmptyMessages, "messages must be non-empty").
			WithDetail("field", "messages"))
	}
	if len(req.Messages) > p.Limits.MaxMessages {
		return deny(domain.ErrInvalidRequest(domain.ReasonTooManyMessages, "too many messages").
			WithDetail("limit", p.Limits.MaxMessages))
	}
	for i, msg := range req.Messages {
		if !domain.AllowedRoles[msg.Role] {
			return deny(domain.ErrInvalidRequest(domain.ReasonInvalidRole, "invalid message role").
				WithDetail("index", i))
		}
		if len(msg.Content) > p.Limits.MaxCharsPerMessage {
			return deny(domain.ErrInvalidRequest(domain.ReasonMessageTooLarge, "message too large").
				WithDetail("index", i).
				WithDetail("limit", p.Limits.MaxCharsPerMessage))
		}
		if strings.ContainsRune(msg.Content, 0) {
			return deny(domain.ErrInvalidRequest(domain.ReasonInvalidContent, "message content contains null bytes").
				WithDetail("index", i))
		}
	}

	// ZDR intent.
	if p.ZDREnforced() && !req.ZDR() {
		return deny(domain.ErrPolicyDenied(domain.ReasonZDRRequired, "zdr_only must be true").
			WithDetail("field", "zdr_only"))
	}

	// Scrub attestation. Fails closed: anything but an explicit true denies.
	if p.AttestationRequired() && !req.Metadata.Scrubbed {
		return deny(domain.ErrPolicyDenied(domain.ReasonMissingAttestation,
			"scrub attestation required (metadata.scrubbed=true); content is never scrubbed server-side").
			WithDetail("field", "metadata.scrubbed"))
	}

	// PII tripwire. Detected classes are reported, the matched text never is.
	if e.detector != nil && p.PIIGate.On() {
		if idx, classes := e.detector.ScanMessages(req.Messages); idx >= 0 {
			return deny(domain.ErrPolicyDenied(domain.ReasonPIIDetected,
				"request contains unscrubbed PII; scrub before retry").
				WithDetail("message_index", idx).
				WithDetail("detected_types", classes))
		}
	}

	// Model allowlist.
	if req.Model != "" && !p.ModelAllowed(req.Model) {
		return deny(domain.ErrPolicyDenied(domain.ReasonModelNotAllowed, "model not allowed by policy").
			WithDetail("field", "model").
			WithDetail("value", req.Model))
	}

	return Decision{
		RequestID:   requestID,
		TenantID:    tenantID,
		Outcome:     Allow,
		EvaluatedAt: e.now(),
	}
}
