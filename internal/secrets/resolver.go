package secrets

import (
	"context"
	"fmt"
	"strings"

	"github.com/oriys/ftl2/internal/ferr"
)

const secretRefPrefix = "$SECRET:"

// sensitiveParamNames are masked in redact() regardless of any
// binding, matching the spec's well-known credential-carrying
// parameter names.
var sensitiveParamNames = map[string]bool{
	"password":     true,
	"token":        true,
	"bearer_token": true,
}

// Bindings maps module FQCN to a {param name: secret name} map,
// declaring which parameters should receive which secrets at
// injection time.
type Bindings map[string]map[string]string

// Resolver resolves $SECRET:name references against a Backend and
// injects/redacts module call parameters, generalized from this
// codebase's single-Redis-backed resolver to a backend-agnostic one.
type Resolver struct {
	backend  Backend
	bindings Bindings
	cache    map[string]string
}

// NewResolver constructs a Resolver over the given backend and
// static module-to-secret bindings.
func NewResolver(backend Backend, bindings Bindings) *Resolver {
	return &Resolver{backend: backend, bindings: bindings, cache: map[string]string{}}
}

// Get resolves a bare secret name, caching hits for the life of the
// resolver (and therefore the context).
func (r *Resolver) Get(ctx context.Context, name string) (string, error) {
	if v, ok := r.cache[name]; ok {
		return v, nil
	}
	v, ok, err := r.backend.Get(ctx, name)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", &ferr.SecretMissing{Name: name}
	}
	r.cache[name] = v
	return v, nil
}

// ResolveValue resolves a single value that may carry a
// $SECRET:name reference; non-references pass through unchanged.
func (r *Resolver) ResolveValue(ctx context.Context, value string) (string, error) {
	if !IsSecretRef(value) {
		return value, nil
	}
	name := ExtractSecretName(value)
	if name == "" {
		return "", &ferr.SecretMissing{Name: "(empty reference)"}
	}
	return r.Get(ctx, name)
}

// ResolveEnvVars resolves every $SECRET: reference in a map of
// string-valued env vars.
func (r *Resolver) ResolveEnvVars(ctx context.Context, envVars map[string]string) (map[string]string, error) {
	if len(envVars) == 0 {
		return envVars, nil
	}
	resolved := make(map[string]string, len(envVars))
	for k, v := range envVars {
		rv, err := r.ResolveValue(ctx, v)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", k, err)
		}
		resolved[k] = rv
	}
	return resolved, nil
}

// BindingsFor returns the resolved {param: value} injections declared
// for a module FQCN. Missing bindings yield an empty map, not an
// error: a module with no declared bindings simply gets none.
func (r *Resolver) BindingsFor(ctx context.Context, moduleFQCN string) (map[string]string, error) {
	declared, ok := r.bindings[moduleFQCN]
	if !ok {
		return nil, nil
	}
	out := make(map[string]string, len(declared))
	for param, secretName := range declared {
		v, err := r.Get(ctx, secretName)
		if err != nil {
			return nil, err
		}
		out[param] = v
	}
	return out, nil
}

// Inject merges resolved secret bindings into params, with explicit
// user-supplied params winning over injected secrets, per the
// executor's pipeline contract.
func (r *Resolver) Inject(ctx context.Context, moduleFQCN string, params map[string]any) (map[string]any, error) {
	bindings, err := r.BindingsFor(ctx, moduleFQCN)
	if err != nil {
		return nil, err
	}
	if len(bindings) == 0 {
		return params, nil
	}

	merged := make(map[string]any, len(params)+len(bindings))
	for k, v := range bindings {
		merged[k] = v
	}
	for k, v := range params {
		merged[k] = v
	}
	return merged, nil
}

// Redact removes keys bound to a secret for moduleFQCN and masks
// well-known credential-carrying parameter names, so audited params
// never contain a secret value or its holder key.
func (r *Resolver) Redact(moduleFQCN string, params map[string]any) map[string]any {
	bound := r.bindings[moduleFQCN]

	redacted := make(map[string]any, len(params))
	for k, v := range params {
		if _, isBound := bound[k]; isBound {
			continue
		}
		if sensitiveParamNames[strings.ToLower(k)] {
			redacted[k] = "***"
			continue
		}
		if strings.EqualFold(k, "headers") {
			if headers, ok := v.(map[string]any); ok {
				redacted[k] = redactHeaders(headers)
				continue
			}
		}
		redacted[k] = v
	}
	return redacted
}

func redactHeaders(headers map[string]any) map[string]any {
	out := make(map[string]any, len(headers))
	for k, v := range headers {
		if strings.EqualFold(k, "Authorization") {
			out[k] = "***"
			continue
		}
		out[k] = v
	}
	return out
}

// IsSecretRef reports whether value is a $SECRET: reference.
func IsSecretRef(value string) bool {
	return strings.HasPrefix(value, secretRefPrefix)
}

// ExtractSecretName extracts the secret name from a reference, or ""
// if value is not a reference.
func ExtractSecretName(value string) string {
	if !strings.HasPrefix(value, secretRefPrefix) {
		return ""
	}
	return strings.TrimPrefix(value, secretRefPrefix)
}

// ListSecretRefs returns every secret name referenced among envVars.
func ListSecretRefs(envVars map[string]string) []string {
	var refs []string
	for _, v := range envVars {
		if name := ExtractSecretName(v); name != "" {
			refs = append(refs, name)
		}
	}
	return refs
}
