// Package policy holds the declarative policy document and the decision
// engine that admits or rejects requests against it.
package policy

import (
	"fmt"
	"strings"
)

// Limits bounds request size.
type Limits struct {
	MaxMessages        int `json:"max_messages" koanf:"max_messages"`
	MaxCharsPerMessage int `json:"max_chars_per_message" koanf:"max_chars_per_message"`
}

// Retention configures audit log rotation.
type Retention struct {
	MaxSizeMB   int `json:"max_size_mb" koanf:"max_size_mb"`
	RotateCount int `json:"rotate_count" koanf:"rotate_count"`
	MaxAgeDays  int `json:"max_age_days" koanf:"max_age_days"`
}

// Logging configures the audit sink. Mode metadata_only is the only mode the
// gateway accepts; richer modes are rejected at load, not silently enabled.
type Logging struct {
	Mode      string    `json:"mode" koanf:"mode"`
	Sink      string    `json:"sink" koanf:"sink"`
	Path      string    `json:"path" koanf:"path"`
	Retention Retention `json:"retention" koanf:"retention"`
}

// PIIGate configures the PII tripwire. Enabled defaults to true.
type PIIGate struct {
	Enabled  *bool    `json:"enabled" koanf:"enabled"`
	Patterns []string `json:"patterns" koanf:"patterns"`
}

// On reports the effective enabled value; absent means enabled.
func (g PIIGate) On() bool {
	return g.Enabled == nil || *g.Enabled
}

// Policy is the active policy document. It is immutable between reloads and
// shared read-only across all concurrent requests.
type Policy struct {
	Version                 string   `json:"version" koanf:"version"`
	EnforceZDROnly          *bool    `json:"enforce_zdr_only" koanf:"enforce_zdr_only"`
	RequireScrubAttestation *bool    `json:"require_scrubbed_attestation" koanf:"require_scrubbed_attestation"`
	AllowedProviders        []string `json:"allowed_providers" koanf:"allowed_providers"`
	AllowedModels           []string `json:"allowed_models" koanf:"allowed_models"`
	Limits                  Limits   `json:"limits" koanf:"limits"`
	Logging                 Logging  `json:"logging" koanf:"logging"`
	PIIGate                 PIIGate  `json:"pii_gate" koanf:"pii_gate"`
}

const (
	SinkJSONL  = "jsonl"
	SinkStdout = "stdout"
	SinkSQLite = "sqlite"
)

// ZDREnforced reports the effective enforce_zdr_only value; absent means
// enforced.
func (p *Policy) ZDREnforced() bool {
	return p.EnforceZDROnly == nil || *p.EnforceZDROnly
}

// AttestationRequired reports the effective require_scrubbed_attestation
// value; absent means required.
func (p *Policy) AttestationRequired() bool {
	return p.RequireScrubAttestation == nil || *p.RequireScrubAttestation
}

// applyDefaults fills unset fields with the documented defaults.
func (p *Policy) applyDefaults() {
	if p.Version == "" {
		p.Version = "0"
	}
	if len(p.AllowedModels) == 0 {
		p.AllowedModels = []string{"*"}
	}
	if p.Limits.MaxMessages == 0 {
		p.Limits.MaxMessages = 50
	}
	if p.Limits.MaxCharsPerMessage == 0 {
		p.Limits.MaxCharsPerMessage = 16000
	}
	if p.Logging.Mode == "" {
		p.Logging.Mode = "metadata_only"
	}
	if p.Logging.Sink == "" {
		p.Logging.Sink = SinkJSONL
	}
}

// Validate checks the document for operator errors. A policy that fails
// validation fails process start; requests never see a half-valid policy.
func (p *Policy) Validate() error {
	if p.Logging.Mode != "metadata_only" {
		return fmt.Errorf("unsupported logging.mode: %q (only metadata_only is supported)", p.Logging.Mode)
	}
	switch p.Logging.Sink {
	case SinkJSONL, SinkSQLite:
		if p.Logging.Path == "" {
			return fmt.Errorf("logging.path required when logging.sink is %s", p.Logging.Sink)
		}
	case SinkStdout:
	default:
		return fmt.Errorf("unsupported logging.sink: %q", p.Logging.Sink)
	}
	if len(p.AllowedProviders) == 0 {
		return fmt.Errorf("allowed_providers must be non-empty")
	}
	return nil
}

// ProviderAllowed reports whether the provider is a member of the allowlist.
func (p *Policy) ProviderAllowed(provider string) bool {
	for _, allowed := range p.AllowedProviders {
		if allowed == provider || allowed == "*" {
			return true
		}
	}
	return false
}

// ModelAllowed reports whether the model matches the allowlist. A bare "*"
// matches any model; a trailing "*" matches by prefix.
func (p *Policy) ModelAllowed(model string) bool {
	for _, allowed := range p.AllowedModels {
		if allowed == "*" || allowed == model {
			return true
		}
		if prefix, ok := strings.CutSuffix(allowed, "*"); ok && strings.HasPrefix(model, prefix) {
			return true
		}
	}
	return false
}
