// Package sqlite provides a SQLite-backed audit sink for deployments that
// prefer a queryable event store over flat JSONL files.
package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/zeroveil/gateway/internal/audit"
)

// Store writes audit events to a SQLite database. The schema mirrors the
// JSONL event: metadata columns only, no content-carrying field.
type Store struct {
	db *sql.DB
}

var _ audit.Sink = (*Store)(nil)

// New opens (creating if needed) the database at dbPath.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open audit database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize audit schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS audit_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			schema_version TEXT NOT NULL,
			ts INTEGER NOT NULL,
			ts_iso TEXT NOT NULL,
			request_id TEXT NOT NULL,
			tenant_id TEXT NOT NULL,
			stage TEXT NOT NULL,
			auth_result TEXT NOT NULL,
			outcome TEXT NOT NULL,
			reason TEXT NOT NULL,
			provider TEXT,
			model TEXT,
			message_count INTEGER NOT NULL DEFAULT 0,
			total_chars INTEGER NOT NULL DEFAULT 0,
			zdr_only INTEGER NOT NULL DEFAULT 0,
			scrubbed_attested INTEGER NOT NULL DEFAULT 0,
			tokens_prompt INTEGER NOT NULL DEFAULT 0,
			tokens_completion INTEGER NOT NULL DEFAULT 0,
			latency_ms INTEGER NOT NULL DEFAULT 0,
			client_ip TEXT,
			user_agent TEXT,
			attempts TEXT,
			extra TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_request ON audit_events(request_id)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_tenant ON audit_events(tenant_id)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_ts ON audit_events(ts)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Write inserts one event. The insert is a single implicit transaction, so
// the record fully appears or not at all.
func (s *Store) Write(evt *audit.Event) error {
	var attempts, extra []byte
	var err error
	if len(evt.Attempts) > 0 {
		if attempts, err = json.Marshal(evt.Attempts); err != nil {
			return fmt.Errorf("marshal attempts: %w", err)
		}
	}
	if len(evt.Extra) > 0 {
		if extra, err = json.Marshal(evt.Extra); err != nil {
			return fmt.Errorf("marshal extra: %w", err)
		}
	}

	_, err = s.db.Exec(`INSERT INTO audit_events (
		schema_version, ts, ts_iso, request_id, tenant_id, stage, auth_result,
		outcome, reason, provider, model, message_count, total_chars, zdr_only,
		scrubbed_attested, tokens_prompt, tokens_completion, latency_ms,
		client_ip, user_agent, attempts, extra
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		evt.SchemaVersion, evt.TS, evt.TSISO, evt.RequestID, evt.TenantID,
		string(evt.Stage), evt.AuthResult, evt.Outcome, evt.Reason,
		evt.Provider, evt.Model, evt.MessageCount, evt.TotalChars,
		boolToInt(evt.ZDROnly), boolToInt(evt.ScrubbedAttested),
		evt.TokensPrompt, evt.TokensCompletion, evt.LatencyMS,
		evt.ClientIP, evt.UserAgent, nullable(attempts), nullable(extra),
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullable(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
