// Package config holds the central configuration struct, following
// this codebase's pattern of one struct per concern embedded into a
// top-level Config, with a DefaultConfig constructor.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/pelletier/go-toml/v2"
)

// InventoryConfig controls how the host inventory is loaded.
type InventoryConfig struct {
	Path       string `toml:"path" env:"FTL2_INVENTORY_PATH"`
	Executable bool   `toml:"executable" env:"FTL2_INVENTORY_EXECUTABLE"`
}

// StateConfig controls the on-disk state store.
type StateConfig struct {
	Path string `toml:"path" env:"FTL2_STATE_PATH"`
}

// AuditConfig controls the append-only audit log.
type AuditConfig struct {
	Path string `toml:"path" env:"FTL2_AUDIT_PATH"`
}

// SecretBackendConfig selects and configures one secret backend. Kind
// is one of "env", "redis", "age".
type SecretBackendConfig struct {
	Kind          string `toml:"kind" env:"FTL2_SECRETS_KIND" envDefault:"env"`
	RedisAddr     string `toml:"redis_addr" env:"FTL2_SECRETS_REDIS_ADDR"`
	RedisPassword string `toml:"redis_password" env:"FTL2_SECRETS_REDIS_PASSWORD"`
	AgeKeyFile    string `toml:"age_key_file" env:"FTL2_SECRETS_AGE_KEY_FILE"`
	AgeStoreDir   string `toml:"age_store_dir" env:"FTL2_SECRETS_AGE_STORE_DIR"`
}

// BundleConfig controls the bundle builder's cache.
type BundleConfig struct {
	CacheDir string `toml:"cache_dir" env:"FTL2_CACHE_DIR"`
}

// GateConfig controls the remote gate's transport and lifecycle.
type GateConfig struct {
	BinaryPath     string        `toml:"binary_path" env:"FTL2_GATE_BINARY_PATH"`
	RemoteDir      string        `toml:"remote_dir" env:"FTL2_GATE_REMOTE_DIR" envDefault:"/tmp/ftl2-gate"`
	ConnectTimeout time.Duration `toml:"connect_timeout" env:"FTL2_GATE_CONNECT_TIMEOUT" envDefault:"30s"`
	CallTimeout    time.Duration `toml:"call_timeout" env:"FTL2_GATE_CALL_TIMEOUT" envDefault:"5m"`
	MaxRetries     int           `toml:"max_retries" env:"FTL2_GATE_MAX_RETRIES" envDefault:"3"`
}

// FanoutConfig controls concurrency and failure behavior of the
// fan-out driver.
type FanoutConfig struct {
	Forks        int           `toml:"forks" env:"FTL2_MAX_PARALLEL_HOSTS" envDefault:"50"`
	FailFast     bool          `toml:"fail_fast" env:"FTL2_FANOUT_FAIL_FAST"`
	CancelGraceS time.Duration `toml:"cancel_grace" env:"FTL2_FANOUT_CANCEL_GRACE" envDefault:"5s"`
}

// TracingConfig holds OpenTelemetry tracing settings.
type TracingConfig struct {
	Enabled     bool    `toml:"enabled" env:"FTL2_TRACING_ENABLED"`
	Endpoint    string  `toml:"endpoint" env:"FTL2_TRACING_ENDPOINT" envDefault:"localhost:4318"`
	ServiceName string  `toml:"service_name" env:"FTL2_TRACING_SERVICE_NAME" envDefault:"ftl2"`
	SampleRate  float64 `toml:"sample_rate" env:"FTL2_TRACING_SAMPLE_RATE" envDefault:"1.0"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled   bool   `toml:"enabled" env:"FTL2_METRICS_ENABLED" envDefault:"true"`
	Namespace string `toml:"namespace" env:"FTL2_METRICS_NAMESPACE" envDefault:"ftl2"`
	Addr      string `toml:"addr" env:"FTL2_METRICS_ADDR" envDefault:":9464"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	Level  string `toml:"level" env:"FTL2_LOG_LEVEL" envDefault:"info"`
	Format string `toml:"format" env:"FTL2_LOG_FORMAT" envDefault:"text"`
}

// ObservabilityConfig groups the observability-related configs.
type ObservabilityConfig struct {
	Tracing TracingConfig `toml:"tracing"`
	Metrics MetricsConfig `toml:"metrics"`
	Logging LoggingConfig `toml:"logging"`
}

// Config is the central configuration struct embedding every
// component's config, following this codebase's Config layout.
type Config struct {
	Inventory     InventoryConfig     `toml:"inventory"`
	State         StateConfig         `toml:"state"`
	Audit         AuditConfig         `toml:"audit"`
	Secrets       SecretBackendConfig `toml:"secrets"`
	Bundle        BundleConfig        `toml:"bundle"`
	Gate          GateConfig          `toml:"gate"`
	Fanout        FanoutConfig        `toml:"fanout"`
	Observability ObservabilityConfig `toml:"observability"`
	Policy        PolicyFileConfig    `toml:"policy"`
}

// PolicyFileConfig points at the policy document applied to every call.
type PolicyFileConfig struct {
	Path string `toml:"path" env:"FTL2_POLICY_PATH"`
}

// DefaultConfig returns a Config with sensible defaults, mirroring this
// codebase's DefaultConfig constructors.
func DefaultConfig() *Config {
	return &Config{
		Inventory: InventoryConfig{Path: "inventory.yaml"},
		State:     StateConfig{Path: "ftl2-state.json"},
		Audit:     AuditConfig{Path: "ftl2-audit.jsonl"},
		Secrets:   SecretBackendConfig{Kind: "env"},
		Bundle:    BundleConfig{CacheDir: "/var/cache/ftl2/bundles"},
		Gate: GateConfig{
			RemoteDir:      "/tmp/ftl2-gate",
			ConnectTimeout: 30 * time.Second,
			CallTimeout:    5 * time.Minute,
			MaxRetries:     3,
		},
		Fanout: FanoutConfig{
			Forks:        50,
			FailFast:     false,
			CancelGraceS: 5 * time.Second,
		},
		Observability: ObservabilityConfig{
			Tracing: TracingConfig{Endpoint: "localhost:4318", ServiceName: "ftl2", SampleRate: 1.0},
			Metrics: MetricsConfig{Enabled: true, Namespace: "ftl2", Addr: ":9464"},
			Logging: LoggingConfig{Level: "info", Format: "text"},
		},
	}
}

// Load builds a Config by layering, in increasing precedence: built-in
// defaults, an optional TOML file, then environment variables. This
// mirrors how the rest of this corpus treats env vars as the final
// override applied over a file-backed base config.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config file: %w", err)
			}
		} else if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	// Only fill envDefault values into fields still at their zero value,
	// so an unset variable never overwrites a value the TOML file set.
	if err := env.ParseWithOptions(cfg, env.Options{SetDefaultsForZeroValuesOnly: true}); err != nil {
		return nil, fmt.Errorf("parse env config: %w", err)
	}

	return cfg, nil
}
