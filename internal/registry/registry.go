// Package registry resolves a module FQCN to where its implementation
// comes from: an explicit user-supplied path, a built-in native Go
// fast path, or a search through the bundled collection — grounded on
// oriys-nova/internal/executor/invoker.go's Invoker interface pattern
// (local vs. remote dispatch behind one contract), generalized here to
// a three-way resolution instead of a two-way one.
package registry

import (
	"context"
	"sort"

	"github.com/oriys/ftl2/internal/bundle"
	"github.com/oriys/ftl2/internal/domain"
	"github.com/oriys/ftl2/internal/ferr"
)

// Kind classifies how a resolved module will be dispatched.
type Kind string

const (
	KindExplicit Kind = "explicit"
	KindNative   Kind = "native"
	KindBundled  Kind = "bundled"
)

// NativeModule is a module implemented directly in Go, bypassing
// bundle staging and gate dispatch entirely. Implementations must be
// safe for concurrent use, matching the teacher's Invoker contract.
type NativeModule interface {
	Run(ctx context.Context, host domain.Host, params map[string]any, checkMode bool) (*domain.ResultPayload, error)
}

// Resolution is the outcome of resolving one FQCN.
type Resolution struct {
	Kind   Kind
	FQCN   string
	Native NativeModule // set when Kind == KindNative
	Path   string       // resolved source path, set for Explicit/Bundled
}

// Registry holds the three resolution tiers, consulted in precedence
// order: explicit path override, native table, bundled collection
// search.
type Registry struct {
	explicit map[string]string
	native   map[string]NativeModule
	resolver *bundle.SourceResolver
}

// New constructs a Registry. explicit maps an FQCN to a user-supplied
// source file that overrides any bundled or native resolution of the
// same name. resolver may be nil if no bundled collection search
// should be attempted (native-only deployments).
func New(explicit map[string]string, resolver *bundle.SourceResolver) *Registry {
	return &Registry{
		explicit: explicit,
		native:   make(map[string]NativeModule),
		resolver: resolver,
	}
}

// RegisterNative adds a native fast-path implementation under fqcn,
// overwriting any prior registration of the same name.
func (r *Registry) RegisterNative(fqcn string, module NativeModule) {
	r.native[fqcn] = module
}

// Resolve finds where fqcn's implementation lives, in precedence
// order: explicit > native > bundled.
func (r *Registry) Resolve(fqcn string) (Resolution, error) {
	if path, ok := r.explicit[fqcn]; ok {
		return Resolution{Kind: KindExplicit, FQCN: fqcn, Path: path}, nil
	}
	if nm, ok := r.native[fqcn]; ok {
		return Resolution{Kind: KindNative, FQCN: fqcn, Native: nm}, nil
	}
	if r.resolver != nil {
		if path, err := r.resolver.Resolve(fqcn); err == nil {
			return Resolution{Kind: KindBundled, FQCN: fqcn, Path: path}, nil
		}
	}
	return Resolution{}, &ferr.BundleBuildFailed{Detail: "module not found: " + fqcn}
}

// List enumerates every FQCN this registry can currently resolve:
// explicit overrides and native fast-path modules. The bundled
// collection is not walked here — querying it exhaustively would mean
// recursively listing a filesystem tree whose layout is not this
// package's concern (spec.md scopes discovery to what's already
// loaded, not the full on-disk collection).
func (r *Registry) List() []string {
	seen := map[string]bool{}
	var names []string
	for fqcn := range r.explicit {
		if !seen[fqcn] {
			seen[fqcn] = true
			names = append(names, fqcn)
		}
	}
	for fqcn := range r.native {
		if !seen[fqcn] {
			seen[fqcn] = true
			names = append(names, fqcn)
		}
	}
	sort.Strings(names)
	return names
}

// Description is the human-facing discovery record for one module.
type Description struct {
	FQCN   string `json:"fqcn"`
	Kind   Kind   `json:"kind"`
	Source string `json:"source,omitempty"`
}

// Describe resolves fqcn and reports which tier served it and where
// its source lives, for diagnostic and discovery callers.
func (r *Registry) Describe(fqcn string) (Description, error) {
	res, err := r.Resolve(fqcn)
	if err != nil {
		return Description{}, err
	}
	desc := Description{FQCN: res.FQCN, Kind: res.Kind}
	if res.Kind != KindNative {
		desc.Source = res.Path
	} else {
		desc.Source = "native"
	}
	return desc, nil
}
