package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Server  ServerConfig  `koanf:"server"`
	Policy  PolicyConfig  `koanf:"policy"`
	Tenants TenantsConfig `koanf:"tenants"`
	Auth    AuthConfig    `koanf:"auth"`
	Mixer   MixerConfig   `koanf:"mixer"`
	Routing RoutingConfig `koanf:"routing"`
	Audit   AuditConfig   `koanf:"audit"`
}

type ServerConfig struct {
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

type PolicyConfig struct {
	Path string `koanf:"path"`
}

type TenantsConfig struct {
	Path string `koanf:"path"`
}

// AuthConfig controls the legacy shared-key mode. Multi-tenant keys live in
// the tenant registry file, never here.
type AuthConfig struct {
	AllowLegacyKey bool   `koanf:"allow_legacy_key"`
	LegacyKey      string `koanf:"legacy_key"`
}

type MixerConfig struct {
	BatchWindowMS int    `koanf:"batch_window_ms"`
	MaxBatchSize  int    `koanf:"max_batch_size"`
	GroupBy       string `koanf:"group_by"`
	PoolSlots     int    `koanf:"pool_slots"`
	QueueDepth    int    `koanf:"queue_depth"`
}

type RoutingConfig struct {
	Tiers []TierConfig `koanf:"tiers"`
}

type TierConfig struct {
	Provider  string        `koanf:"provider"`
	Timeout   time.Duration `koanf:"timeout"`
	APIKeyEnv string        `koanf:"api_key_env"`
	BaseURL   string        `koanf:"base_url"`
}

// AuditConfig overrides the sink selected by the active policy document.
type AuditConfig struct {
	Sink string `koanf:"sink"`
	Path string `koanf:"path"`
}

// Load reads the optional YAML file at path, then overlays ZEROVEIL_
// environment variables. ZEROVEIL_SERVER_PORT=9090 sets server.port.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("load config %s: %w", path, err)
			}
		}
	}

	if err := k.Load(env.Provider("ZEROVEIL_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "ZEROVEIL_")), "_", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	// Default values
	if !k.Exists("server.port") {
		k.Set("server.port", 8080)
	}
	if !k.Exists("server.read_timeout") {
		k.Set("server.read_timeout", "30s")
	}
	if !k.Exists("server.write_timeout") {
		k.Set("server.write_timeout", "120s")
	}
	if !k.Exists("server.shutdown_timeout") {
		k.Set("server.shutdown_timeout", "10s")
	}
	if !k.Exists("policy.path") {
		k.Set("policy.path", "policies/default.json")
	}
	if !k.Exists("tenants.path") {
		k.Set("tenants.path", "tenants/default.json")
	}
	if !k.Exists("mixer.max_batch_size") {
		k.Set("mixer.max_batch_size", 16)
	}
	if !k.Exists("mixer.group_by") {
		k.Set("mixer.group_by", "provider")
	}
	if !k.Exists("mixer.pool_slots") {
		k.Set("mixer.pool_slots", 2)
	}
	if !k.Exists("mixer.queue_depth") {
		k.Set("mixer.queue_depth", 32)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	if len(cfg.Routing.Tiers) == 0 {
		cfg.Routing.Tiers = []TierConfig{{Provider: "stub", Timeout: 30 * time.Second}}
	}
	for i := range cfg.Routing.Tiers {
		if cfg.Routing.Tiers[i].Timeout <= 0 {
			cfg.Routing.Tiers[i].Timeout = 30 * time.Second
		}
	}

	return &cfg, nil
}
