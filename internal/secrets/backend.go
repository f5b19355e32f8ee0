// Package secrets resolves $SECRET:name references against one of
// several pluggable backends and redacts secret values and known
// credential-carrying parameter names before a call is audited.
package secrets

import "context"

// Backend is the minimal contract a secret store must satisfy. Each
// concrete backend (env, Redis KV, age-encrypted file) implements
// this so the Resolver stays backend-agnostic, mirroring this
// codebase's pattern of one narrow interface behind an otherwise
// storage-specific implementation.
type Backend interface {
	// Get returns the named secret's value. ok is false if the name is
	// not present in this backend.
	Get(ctx context.Context, name string) (value string, ok bool, err error)
}
