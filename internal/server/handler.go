package server

import (
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/zeroveil/gateway/internal/domain"
	"github.com/zeroveil/gateway/internal/gateway"
	"github.com/zeroveil/gateway/internal/tenant"
)

// maxBodyBytes caps the inbound request body. Policy limits on message size
// apply after parsing; this bound protects the parser itself.
const maxBodyBytes = 4 << 20

// errorEnvelope is the wire shape of every failure response.
type errorEnvelope struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    domain.ErrorCode `json:"code"`
	Reason  domain.Reason    `json:"reason,omitempty"`
	Message string           `json:"message"`
	Details map[string]any   `json:"details,omitempty"`
}

// handleChatCompletions admits, evaluates and routes one completion request.
func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := GetRequestID(ctx)

	var req domain.ChatCompletionsRequest
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		s.renderError(w, r, nil, domain.ErrInvalidRequest(domain.ReasonInvalidContent, "unreadable request body"))
		return
	}
	if err := json.Unmarshal(body, &req); err != nil {
		s.renderError(w, r, nil, domain.ErrInvalidRequest(domain.ReasonInvalidContent, "request body is not valid JSON"))
		return
	}

	rc := gateway.RequestContext{
		RequestID:  requestID,
		APIKey:     bearerToken(r),
		ClientIP:   clientIP(r),
		UserAgent:  r.UserAgent(),
		TenantHint: r.Header.Get("X-Tenant-Id"),
		ReceivedAt: time.Now(),
	}

	resp, t, err := s.gateway.Handle(ctx, rc, &req)
	if err != nil {
		AddError(ctx, err)
		if errors.Is(err, ctx.Err()) && ctx.Err() != nil {
			// Caller gave up; nothing deliverable.
			s.renderError(w, r, t, domain.ErrServer(domain.ReasonInternal, "request cancelled"))
			return
		}
		s.renderError(w, r, t, domain.AsGatewayError(err))
		return
	}

	AddLogField(ctx, "tenant_id", t.ID)
	s.setQuotaHeaders(w, t)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Error("response encode failed", "request_id", requestID, "error", err.Error())
	}
}

func (s *Server) renderError(w http.ResponseWriter, r *http.Request, t *tenant.Tenant, gerr *domain.GatewayError) {
	if t != nil {
		s.setQuotaHeaders(w, t)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(gerr.HTTPStatusCode())
	json.NewEncoder(w).Encode(errorEnvelope{Error: errorBody{
		Code:    gerr.Code,
		Reason:  gerr.Reason,
		Message: gerr.Message,
		Details: gerr.Details,
	}})
}

func (s *Server) setQuotaHeaders(w http.ResponseWriter, t *tenant.Tenant) {
	rpm, tpd := s.gateway.Remaining(t)
	if t.RateLimitRPM > 0 {
		w.Header().Set("X-RateLimit-Remaining-RPM", strconv.Itoa(rpm))
		w.Header().Set("x-ratelimit-limit-requests", strconv.Itoa(t.RateLimitRPM))
		w.Header().Set("x-ratelimit-remaining-requests", strconv.Itoa(rpm))
	}
	if t.RateLimitTPD > 0 {
		w.Header().Set("X-RateLimit-Remaining-TPD", strconv.Itoa(tpd))
		w.Header().Set("x-ratelimit-limit-tokens", strconv.Itoa(t.RateLimitTPD))
		w.Header().Set("x-ratelimit-remaining-tokens", strconv.Itoa(tpd))
	}
}

// handleHealthz reports liveness. No auth: the body carries nothing
// tenant-specific.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]bool{"ok": true})
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if h == "" {
		return ""
	}
	if len(h) > 7 && strings.EqualFold(h[:7], "Bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
