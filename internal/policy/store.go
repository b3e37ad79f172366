package policy

import (
	"fmt"
	"sync/atomic"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Load reads and validates a policy document from a JSON file.
func Load(path string) (*Policy, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), json.Parser()); err != nil {
		return nil, fmt.Errorf("load policy %s: %w", path, err)
	}

	var p Policy
	if err := k.Unmarshal("", &p); err != nil {
		return nil, fmt.Errorf("parse policy %s: %w", path, err)
	}

	p.applyDefaults()
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid policy %s: %w", path, err)
	}
	return &p, nil
}

// Store publishes an immutable policy snapshot to concurrent readers.
// Reload swaps the pointer atomically; readers see the old or the new
// document, never a partial one.
type Store struct {
	path    string
	current atomic.Pointer[Policy]
}

// NewStore loads the initial policy from path.
func NewStore(path string) (*Store, error) {
	p, err := Load(path)
	if err != nil {
		return nil, err
	}
	s := &Store{path: path}
	s.current.Store(p)
	return s, nil
}

// NewStaticStore wraps an already-built policy, for tests and embedding.
// Unset fields take the documented defaults, as they would on load.
func NewStaticStore(p *Policy) *Store {
	p.applyDefaults()
	s := &Store{}
	s.current.Store(p)
	return s
}

// Current returns the active snapshot.
func (s *Store) Current() *Policy {
	return s.current.Load()
}

// Reload re-reads the document from disk. On failure the previous snapshot
// stays active.
func (s *Store) Reload() error {
	if s.path == "" {
		return fmt.Errorf("policy store has no backing file")
	}
	p, err := Load(s.path)
	if err != nil {
		return err
	}
	s.current.Store(p)
	return nil
}
