package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// RetentionConfig controls size-based rotation of the JSONL sink. Zero values
// disable rotation.
type RetentionConfig struct {
	MaxSizeMB   int
	RotateCount int
	MaxAgeDays  int
}

// JSONLSink appends one JSON object per line to a file. Each record is
// written with a single Write call on an O_APPEND descriptor, so a record
// either fully appears or not at all. Only the recorder goroutine calls
// Write, so no extra locking is needed.
type JSONLSink struct {
	path      string
	retention RetentionConfig
	file      *os.File
}

// NewJSONLSink opens (creating parent directories as needed) the sink file.
func NewJSONLSink(path string, retention RetentionConfig) (*JSONLSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create audit dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	return &JSONLSink{path: path, retention: retention, file: f}, nil
}

// Write appends one event as a JSON line.
func (s *JSONLSink) Write(evt *Event) error {
	if err := s.maybeRotate(); err != nil {
		return err
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}
	data = append(data, '\n')
	if _, err := s.file.Write(data); err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}

// Close closes the underlying file.
func (s *JSONLSink) Close() error {
	return s.file.Close()
}

func (s *JSONLSink) maybeRotate() error {
	cfg := s.retention
	if cfg.RotateCount <= 0 || cfg.MaxSizeMB <= 0 {
		return nil
	}

	info, err := s.file.Stat()
	if err != nil {
		return nil
	}
	if info.Size() < int64(cfg.MaxSizeMB)*1024*1024 {
		return nil
	}

	if err := s.file.Close(); err != nil {
		return err
	}

	// Shift existing rotations first: audit.jsonl.(n-1) -> audit.jsonl.n.
	// The live file moves to .1 last so a crash mid-rotation never loses it.
	for i := cfg.RotateCount - 1; i > 0; i-- {
		src := fmt.Sprintf("%s.%d", s.path, i)
		dst := fmt.Sprintf("%s.%d", s.path, i+1)
		if _, err := os.Stat(src); err == nil {
			if err := os.Rename(src, dst); err != nil {
				return err
			}
		}
	}
	if err := os.Rename(s.path, s.path+".1"); err != nil {
		return err
	}

	s.cleanupRotated()

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	s.file = f
	return nil
}

// cleanupRotated removes rotations beyond the configured count or age.
func (s *JSONLSink) cleanupRotated() {
	cfg := s.retention
	if cfg.RotateCount <= 0 {
		return
	}

	cutoff := time.Now().Add(-time.Duration(cfg.MaxAgeDays) * 24 * time.Hour)
	prefix := s.path + "."

	entries, err := filepath.Glob(s.path + ".*")
	if err != nil {
		return
	}
	for _, p := range entries {
		suffix := strings.TrimPrefix(p, prefix)
		idx, err := strconv.Atoi(suffix)
		if err != nil {
			continue
		}
		if idx > cfg.RotateCount {
			_ = os.Remove(p)
			continue
		}
		if cfg.MaxAgeDays <= 0 {
			continue
		}
		info, err := os.Stat(p)
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			_ = os.Remove(p)
		}
	}
}

// StdoutSink writes events as JSON lines to standard output.
type StdoutSink struct{}

// Write emits one event line.
func (StdoutSink) Write(evt *Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(append(data, '\n'))
	return err
}

// Close is a no-op.
func (StdoutSink) Close() error { return nil }
