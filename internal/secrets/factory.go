package secrets

import (
	"fmt"

	"github.com/oriys/ftl2/internal/config"
)

// NewBackend constructs the configured secret backend. kind selects
// one of "env" (default), "redis", or "age".
func NewBackend(cfg config.SecretBackendConfig) (Backend, error) {
	switch cfg.Kind {
	case "", "env":
		return NewEnvBackend(), nil
	case "redis":
		if cfg.RedisAddr == "" {
			return nil, fmt.Errorf("secrets: redis backend requires redis_addr")
		}
		return NewRedisBackend(cfg.RedisAddr, cfg.RedisPassword), nil
	case "age":
		if cfg.AgeKeyFile == "" || cfg.AgeStoreDir == "" {
			return nil, fmt.Errorf("secrets: age backend requires age_key_file and age_store_dir")
		}
		return NewAgeFileBackend(cfg.AgeStoreDir, cfg.AgeKeyFile)
	default:
		return nil, fmt.Errorf("secrets: unknown backend kind %q", cfg.Kind)
	}
}
