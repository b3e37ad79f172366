// Package tenant provides the tenant directory and credential authentication.
package tenant

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Tenant is a client organization known to the gateway. Instances are
// read-only at request time; the directory swaps whole snapshots on reload.
type Tenant struct {
	ID        string   `koanf:"tenant_id"`
	Name      string   `koanf:"name"`
	KeyHashes []string `koanf:"api_key_hashes"`
	// RateLimitRPM is requests per minute; 0 means unlimited.
	RateLimitRPM int `koanf:"rate_limit_rpm"`
	// RateLimitTPD is tokens per day; 0 means unlimited.
	RateLimitTPD int  `koanf:"rate_limit_tpd"`
	Enabled      bool `koanf:"enabled"`
}

// LegacyTenantID is the fixed tenant every request maps to in legacy
// single-shared-key mode.
const LegacyTenantID = "default"

// HashKey returns the sha256 hex digest of an API key for directory storage.
// Raw secrets never appear in the directory.
func HashKey(apiKey string) string {
	sum := sha256.Sum256([]byte(apiKey))
	return hex.EncodeToString(sum[:])
}

func (t *Tenant) validate() error {
	if strings.TrimSpace(t.ID) == "" {
		return fmt.Errorf("tenant_id must be non-empty")
	}
	if t.RateLimitRPM < 0 {
		return fmt.Errorf("tenant %s: rate_limit_rpm must be >= 0", t.ID)
	}
	if t.RateLimitTPD < 0 {
		return fmt.Errorf("tenant %s: rate_limit_tpd must be >= 0", t.ID)
	}
	for i, h := range t.KeyHashes {
		normalized := strings.ToLower(strings.TrimSpace(h))
		if len(normalized) != 64 {
			return fmt.Errorf("tenant %s: api_key_hashes[%d] must be a sha256 hex digest", t.ID, i)
		}
		if strings.Trim(normalized, "0123456789abcdef") != "" {
			return fmt.Errorf("tenant %s: api_key_hashes[%d] must be a sha256 hex digest", t.ID, i)
		}
		t.KeyHashes[i] = normalized
	}
	return nil
}
