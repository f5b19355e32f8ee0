package domain

import "context"

// AllGroup is the distinguished group that implicitly contains every
// host in the inventory.
const AllGroup = "all"

// Group is an ordered collection of host names plus group-level
// variables and child groups. Order is inventory-declaration order;
// HostNames is kept as a slice (not a set) so selector resolution can
// be stable.
type Group struct {
	Name      string
	HostNames []string
	Vars      map[string]any
	Children  []string
}

// ModuleDescriptor describes a callable unit of work: its FQCN,
// parameter shape, and how it dispatches.
type ModuleDescriptor struct {
	FQCN string

	Params []ParamSpec

	// Dependencies are auxiliary library names declared by the module's
	// metadata block (see internal/bundle for the parser).
	Dependencies []string

	// Native is set for built-in fast-path modules that run in-process.
	// Exactly one of Native or Bundled is meaningful for a given
	// descriptor.
	Native NativeFunc

	// Bundled, when Native is nil, means this module resolves to a file
	// on disk that must be packaged into a Bundle before it can run.
	Bundled bool
	// SourcePath is the resolved module file location (bundled modules
	// only).
	SourcePath string
}

// ParamSpec documents one module parameter for discovery (C11 describe).
type ParamSpec struct {
	Name     string
	Required bool
	Type     string // "string", "int", "bool", "list", "map", "any"
}

// NativeFunc is the signature every native module implementation must
// satisfy. ctx carries cancellation/deadline; params are the
// already-secret-injected, not-yet-redacted call parameters.
type NativeFunc func(ctx context.Context, params map[string]any) (ModuleResult, error)

// ModuleResult is the JSON-shaped output a module call produces.
type ModuleResult struct {
	Changed bool           `json:"changed"`
	Output  map[string]any `json:"output,omitempty"`
}
