package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, "policies/default.json", cfg.Policy.Path)
	require.Equal(t, "tenants/default.json", cfg.Tenants.Path)
	require.False(t, cfg.Auth.AllowLegacyKey)
	require.Equal(t, 0, cfg.Mixer.BatchWindowMS)
	require.Equal(t, 16, cfg.Mixer.MaxBatchSize)
	require.Equal(t, "provider", cfg.Mixer.GroupBy)
	require.Len(t, cfg.Routing.Tiers, 1)
	require.Equal(t, "stub", cfg.Routing.Tiers[0].Provider)
	require.Equal(t, 30*time.Second, cfg.Routing.Tiers[0].Timeout)
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
server:
  port: 9090
  read_timeout: 5s
mixer:
  batch_window_ms: 250
  group_by: model
routing:
  tiers:
    - provider: openai
      timeout: 10s
      api_key_env: OPENAI_API_KEY
    - provider: stub
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, 5*time.Second, cfg.Server.ReadTimeout)
	require.Equal(t, 250, cfg.Mixer.BatchWindowMS)
	require.Equal(t, "model", cfg.Mixer.GroupBy)
	require.Len(t, cfg.Routing.Tiers, 2)
	require.Equal(t, "openai", cfg.Routing.Tiers[0].Provider)
	require.Equal(t, 10*time.Second, cfg.Routing.Tiers[0].Timeout)
	// Unset tier timeouts take the default.
	require.Equal(t, 30*time.Second, cfg.Routing.Tiers[1].Timeout)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("ZEROVEIL_SERVER_PORT", "7070")
	t.Setenv("ZEROVEIL_POLICY_PATH", "custom/policy.json")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 7070, cfg.Server.Port)
	require.Equal(t, "custom/policy.json", cfg.Policy.Path)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	require.Equal(t, 8080, cfg.Server.Port)
}
