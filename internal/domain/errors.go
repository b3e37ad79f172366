// Package domain provides the wire types, error taxonomy, and upstream
// capability contract shared across the gateway.
package domain

import (
	"fmt"
	"net/http"
)

// ErrorCode is the client-visible error category.
type ErrorCode string

const (
	CodeUnauthorized   ErrorCode = "unauthorized"
	CodeInvalidRequest ErrorCode = "invalid_request"
	CodePolicyDenied   ErrorCode = "policy_denied"
	CodeRateLimited    ErrorCode = "rate_limited"
	CodeServerError    ErrorCode = "server_error"
)

// Reason provides additional specificity beyond the error code. Reasons are
// stable identifiers asserted by tests and recorded in audit events.
type Reason string

const (
	ReasonOK                  Reason = "ok"
	ReasonMissingBearer       Reason = "missing_bearer"
	ReasonInvalidKey          Reason = "invalid_key"
	ReasonLegacyModeDisabled  Reason = "legacy_mode_disabled"
	ReasonRateLimited         Reason = "rate_limited"
	ReasonEmptyMessages       Reason = "empty_messages"
	ReasonTooManyMessages     Reason = "too_many_messages"
	ReasonMessageTooLarge     Reason = "message_too_large"
	ReasonInvalidRole         Reason = "invalid_role"
	ReasonInvalidContent      Reason = "invalid_content"
	ReasonZDRRequired         Reason = "zdr_required"
	ReasonMissingAttestation  Reason = "missing_attestation"
	ReasonPIIDetected         Reason = "pii_detected"
	ReasonModelNotAllowed     Reason = "model_not_allowed"
	ReasonProviderNotAllowed  Reason = "provider_not_allowed"
	ReasonCapacityExceeded    Reason = "capacity_exceeded"
	ReasonEscalationExhausted Reason = "escalation_exhausted"
	ReasonUpstreamFatal       Reason = "upstream_fatal"
	ReasonInternal            Reason = "internal"
)

// GatewayError is the canonical error returned by gateway components and
// rendered as {error:{code,message,details}} by the server. Details never
// contain message or response content.
type GatewayError struct {
	Code    ErrorCode      `json:"code"`
	Reason  Reason         `json:"-"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func (e *GatewayError) Error() string {
	if e.Reason != "" && e.Reason != ReasonOK {
		return fmt.Sprintf("%s (%s): %s", e.Code, e.Reason, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// HTTPStatusCode maps the error code to an HTTP status.
func (e *GatewayError) HTTPStatusCode() int {
	switch e.Code {
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeInvalidRequest:
		return http.StatusBadRequest
	case CodePolicyDenied:
		return http.StatusForbidden
	case CodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// WithDetail attaches a single detail field to the error.
func (e *GatewayError) WithDetail(key string, value any) *GatewayError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// NewError creates a gateway error with an explicit reason.
func NewError(code ErrorCode, reason Reason, message string) *GatewayError {
	return &GatewayError{Code: code, Reason: reason, Message: message}
}

// ErrUnauthorized creates an authentication failure error.
func ErrUnauthorized(reason Reason, message string) *GatewayError {
	return NewError(CodeUnauthorized, reason, message)
}

// ErrInvalidRequest creates a structural validation error.
func ErrInvalidRequest(reason Reason, message string) *GatewayError {
	return NewError(CodeInvalidRequest, reason, message)
}

// ErrPolicyDenied creates a policy denial error.
func ErrPolicyDenied(reason Reason, message string) *GatewayError {
	return NewError(CodePolicyDenied, reason, message)
}

// ErrRateLimited creates a quota exhaustion error.
func ErrRateLimited(message string) *GatewayError {
	return NewError(CodeRateLimited, ReasonRateLimited, message)
}

// ErrServer creates an internal error. The message must stay generic; faults
// that would require echoing content are reported through this constructor.
func ErrServer(reason Reason, message string) *GatewayError {
	return NewError(CodeServerError, reason, message)
}

// AsGatewayError converts any error to a GatewayError, defaulting to a generic
// server_error so internal fault text never leaks verbatim to clients.
func AsGatewayError(err error) *GatewayError {
	if ge, ok := err.(*GatewayError); ok {
		return ge
	}
	return ErrServer(ReasonInternal, "internal error")
}
