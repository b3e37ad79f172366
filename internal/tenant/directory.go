package tenant

import (
	"crypto/subtle"
	"fmt"
	"sync/atomic"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/zeroveil/gateway/internal/domain"
)

// snapshot is an immutable view of the directory shared by concurrent readers.
type snapshot struct {
	byID   map[string]*Tenant
	byHash map[string]*Tenant
}

// Directory resolves credentials to tenants. Mutation happens only through
// administrative reload, which swaps the snapshot pointer atomically.
type Directory struct {
	path    string
	current atomic.Pointer[snapshot]
}

type directoryFile struct {
	Tenants []*Tenant `koanf:"tenants"`
}

// LoadDirectory reads the tenant directory from a JSON file.
func LoadDirectory(path string) (*Directory, error) {
	d := &Directory{path: path}
	snap, err := loadSnapshot(path)
	if err != nil {
		return nil, err
	}
	d.current.Store(snap)
	return d, nil
}

// NewDirectory builds a directory directly from tenants, for tests and
// operator tooling.
func NewDirectory(tenants []*Tenant) (*Directory, error) {
	snap, err := buildSnapshot(tenants)
	if err != nil {
		return nil, err
	}
	d := &Directory{}
	d.current.Store(snap)
	return d, nil
}

func loadSnapshot(path string) (*snapshot, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), json.Parser()); err != nil {
		return nil, fmt.Errorf("load tenants %s: %w", path, err)
	}
	var f directoryFile
	if err := k.Unmarshal("", &f); err != nil {
		return nil, fmt.Errorf("parse tenants %s: %w", path, err)
	}
	if len(f.Tenants) == 0 {
		return nil, fmt.Errorf("tenants %s: no tenants defined", path)
	}
	return buildSnapshot(f.Tenants)
}

func buildSnapshot(tenants []*Tenant) (*snapshot, error) {
	snap := &snapshot{
		byID:   make(map[string]*Tenant, len(tenants)),
		byHash: make(map[string]*Tenant),
	}
	for _, t := range tenants {
		if err := t.validate(); err != nil {
			return nil, err
		}
		if _, dup := snap.byID[t.ID]; dup {
			return nil, fmt.Errorf("duplicate tenant_id: %s", t.ID)
		}
		snap.byID[t.ID] = t
		for _, h := range t.KeyHashes {
			snap.byHash[h] = t
		}
	}
	return snap, nil
}

// Reload re-reads the directory from disk, keeping the previous snapshot on
// failure.
func (d *Directory) Reload() error {
	if d.path == "" {
		return fmt.Errorf("tenant directory has no backing file")
	}
	snap, err := loadSnapshot(d.path)
	if err != nil {
		return err
	}
	d.current.Store(snap)
	return nil
}

// Get returns a tenant by id.
func (d *Directory) Get(id string) (*Tenant, bool) {
	t, ok := d.current.Load().byID[id]
	return t, ok
}

// Authenticate resolves a bearer credential to an enabled tenant. Disabled
// tenants are indistinguishable from unknown keys.
func (d *Directory) Authenticate(apiKey string) (*Tenant, error) {
	keyHash := HashKey(apiKey)

	snap := d.current.Load()
	t, ok := snap.byHash[keyHash]
	if !ok || !t.Enabled {
		return nil, domain.ErrUnauthorized(domain.ReasonInvalidKey, "invalid API key")
	}

	// Constant-time confirmation against the stored digest.
	for _, h := range t.KeyHashes {
		if subtle.ConstantTimeCompare([]byte(keyHash), []byte(h)) == 1 {
			return t, nil
		}
	}
	return nil, domain.ErrUnauthorized(domain.ReasonInvalidKey, "invalid API key")
}

// LegacyAuthenticator maps every request with the single shared key to one
// fixed "default" tenant. Deprecated mode; it must be explicitly enabled via
// configuration and is refused otherwise.
type LegacyAuthenticator struct {
	keyHash string
}

// NewLegacyAuthenticator builds a legacy single-key authenticator.
func NewLegacyAuthenticator(apiKey string) *LegacyAuthenticator {
	return &LegacyAuthenticator{keyHash: HashKey(apiKey)}
}

// Authenticate checks the shared key and returns the fixed default tenant.
func (l *LegacyAuthenticator) Authenticate(apiKey string) (*Tenant, error) {
	if subtle.ConstantTimeCompare([]byte(HashKey(apiKey)), []byte(l.keyHash)) != 1 {
		return nil, domain.ErrUnauthorized(domain.ReasonInvalidKey, "invalid API key")
	}
	return &Tenant{ID: LegacyTenantID, Name: "legacy shared key", Enabled: true}, nil
}

// Authenticator resolves a bearer credential to a tenant.
type Authenticator interface {
	Authenticate(apiKey string) (*Tenant, error)
}

// LegacyGuard fronts an authenticator and refuses the retired shared key
// with a distinct reason, so operators who disabled legacy mode can see old
// clients still presenting it.
type LegacyGuard struct {
	inner   Authenticator
	keyHash string
}

// NewLegacyGuard wraps inner, intercepting the given retired key.
func NewLegacyGuard(inner Authenticator, retiredKey string) *LegacyGuard {
	return &LegacyGuard{inner: inner, keyHash: HashKey(retiredKey)}
}

// Authenticate refuses the retired key and delegates everything else.
func (g *LegacyGuard) Authenticate(apiKey string) (*Tenant, error) {
	if subtle.ConstantTimeCompare([]byte(HashKey(apiKey)), []byte(g.keyHash)) == 1 {
		return nil, domain.ErrUnauthorized(domain.ReasonLegacyModeDisabled, "legacy shared-key mode is disabled")
	}
	return g.inner.Authenticate(apiKey)
}
