package secrets

import (
	"context"
	"os"
)

// EnvBackend resolves secrets from process environment variables,
// matching a secret name directly to its env var name.
type EnvBackend struct{}

// NewEnvBackend constructs the environment-variable backend.
func NewEnvBackend() *EnvBackend { return &EnvBackend{} }

// Get implements Backend.
func (b *EnvBackend) Get(_ context.Context, name string) (string, bool, error) {
	v, ok := os.LookupEnv(name)
	return v, ok, nil
}
