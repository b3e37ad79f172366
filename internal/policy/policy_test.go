package policy

import (
	"os"
	"path/filepath"
	"testing"
)

const samplePolicy = `{
  "version": "2026-08-01",
  "allowed_providers": ["stub", "openai"],
  "allowed_models": ["gpt-4*"],
  "limits": {"max_messages": 10, "max_chars_per_message": 500},
  "logging": {"mode": "metadata_only", "sink": "jsonl", "path": "audit.jsonl"}
}`

func writePolicy(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "policy.json")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	p, err := Load(writePolicy(t, samplePolicy))
	if err != nil {
		t.Fatal(err)
	}
	if p.Version != "2026-08-01" {
		t.Errorf("version = %q", p.Version)
	}
	if p.Limits.MaxMessages != 10 || p.Limits.MaxCharsPerMessage != 500 {
		t.Errorf("limits = %+v", p.Limits)
	}
	if !p.ZDREnforced() || !p.AttestationRequired() || !p.PIIGate.On() {
		t.Error("omitted enforcement flags must default to on")
	}
}

func TestLoadDefaults(t *testing.T) {
	p, err := Load(writePolicy(t, `{"allowed_providers":["stub"],"logging":{"sink":"stdout"}}`))
	if err != nil {
		t.Fatal(err)
	}
	if p.Version != "0" {
		t.Errorf("version default = %q", p.Version)
	}
	if p.Limits.MaxMessages != 50 || p.Limits.MaxCharsPerMessage != 16000 {
		t.Errorf("limit defaults = %+v", p.Limits)
	}
	if !p.ModelAllowed("anything") {
		t.Error("default model allowlist should be a wildcard")
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"richer logging mode": `{"allowed_providers":["stub"],"logging":{"mode":"full","sink":"stdout"}}`,
		"jsonl without path":  `{"allowed_providers":["stub"],"logging":{"sink":"jsonl"}}`,
		"no providers":        `{"logging":{"sink":"stdout"}}`,
		"unknown sink":        `{"allowed_providers":["stub"],"logging":{"sink":"kafka"}}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writePolicy(t, body)); err == nil {
				t.Fatal("expected load error")
			}
		})
	}
}

func TestStoreReload(t *testing.T) {
	path := writePolicy(t, samplePolicy)
	store, err := NewStore(path)
	if err != nil {
		t.Fatal(err)
	}
	if store.Current().Version != "2026-08-01" {
		t.Fatalf("version = %q", store.Current().Version)
	}

	updated := `{
  "version": "2026-09-15",
  "allowed_providers": ["stub"],
  "logging": {"sink": "stdout"}
}`
	if err := os.WriteFile(path, []byte(updated), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := store.Reload(); err != nil {
		t.Fatal(err)
	}
	if store.Current().Version != "2026-09-15" {
		t.Fatalf("after reload version = %q", store.Current().Version)
	}
}

// A failed reload must keep the previous snapshot serving.
func TestStoreReloadKeepsOldOnFailure(t *testing.T) {
	path := writePolicy(t, samplePolicy)
	store, err := NewStore(path)
	if err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(path, []byte(`{"logging":{"mode":"full"}}`), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := store.Reload(); err == nil {
		t.Fatal("expected reload error")
	}
	if store.Current().Version != "2026-08-01" {
		t.Fatalf("old snapshot lost, version = %q", store.Current().Version)
	}
}

func TestProviderAllowed(t *testing.T) {
	p := &Policy{AllowedProviders: []string{"stub", "openai"}}
	if !p.ProviderAllowed("openai") || p.ProviderAllowed("anthropic") {
		t.Error("provider allowlist mismatch")
	}
}
