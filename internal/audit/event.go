// Package audit records metadata-only events about request decisions and
// outcomes. The event schema has no content-carrying field; a content leak
// would be a schema violation, not just a logic bug.
package audit

import "time"

// Stage orders the two events recorded per request.
type Stage string

const (
	// StageDecision is recorded after policy evaluation, before dispatch.
	StageDecision Stage = "decision"
	// StageOutcome is recorded after routing completes (or fails).
	StageOutcome Stage = "outcome"
)

// AttemptRecord is the metadata of one routing attempt.
type AttemptRecord struct {
	Tier       int    `json:"tier"`
	Provider   string `json:"provider"`
	Outcome    string `json:"outcome"` // success | timeout | error
	DurationMS int64  `json:"duration_ms"`
}

// Event is one append-only audit record. Counts, timestamps, identifiers and
// decisions only, never message or response text.
type Event struct {
	SchemaVersion    string          `json:"schema_version"`
	TS               int64           `json:"ts"`
	TSISO            string          `json:"ts_iso"`
	RequestID        string          `json:"request_id"`
	TenantID         string          `json:"tenant_id"`
	Stage            Stage           `json:"stage"`
	AuthResult       string          `json:"auth_result"`
	Outcome          string          `json:"outcome"`
	Reason           string          `json:"reason"`
	Provider         string          `json:"provider,omitempty"`
	Model            string          `json:"model,omitempty"`
	MessageCount     int             `json:"message_count"`
	TotalChars       int             `json:"total_chars"`
	ZDROnly          bool            `json:"zdr_only"`
	ScrubbedAttested bool            `json:"scrubbed_attested"`
	TokensPrompt     int             `json:"tokens_prompt"`
	TokensCompletion int             `json:"tokens_completion"`
	LatencyMS        int64           `json:"latency_ms"`
	ClientIP         string          `json:"client_ip,omitempty"`
	UserAgent        string          `json:"user_agent,omitempty"`
	Attempts         []AttemptRecord `json:"attempts,omitempty"`
	Extra            map[string]any  `json:"extra,omitempty"`
}

const schemaVersion = "1"

// stamp fills the schema version and timestamps if unset.
func (e *Event) stamp(now time.Time) {
	if e.SchemaVersion == "" {
		e.SchemaVersion = schemaVersion
	}
	if e.TS == 0 {
		e.TS = now.Unix()
	}
	if e.TSISO == "" {
		e.TSISO = time.Unix(e.TS, 0).UTC().Format(time.RFC3339)
	}
}
