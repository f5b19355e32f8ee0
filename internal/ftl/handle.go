package ftl

import "context"

// GroupHandle is ergonomic sugar binding a Context to one selector
// (a group or host name), so a script can write
// ctx.Group("web").Module("file").Call(ctx, params) instead of
// repeating the selector at every call site. It carries no state of
// its own beyond the selector and never bypasses Context.Call.
type GroupHandle struct {
	ctx      *Context
	selector []string
}

// Module binds this group to one module FQCN, returning a handle
// whose Call dispatches exactly as Context.Call(ctx, selector, fqcn,
// params) would.
func (g *GroupHandle) Module(fqcn string) *ModuleHandle {
	return &ModuleHandle{ctx: g.ctx, selector: g.selector, module: fqcn}
}

// ModuleHandle is ergonomic sugar binding a Context to one selector
// and one module, ready to be called with only params left to supply.
type ModuleHandle struct {
	ctx      *Context
	selector []string
	module   string
}

// Call runs the bound module against the bound selector with params.
// Pure sugar over Context.Call: correctness (audit ordering, fail_fast
// semantics, policy/secret handling) lives entirely in Context and
// the packages it wires, never here.
func (m *ModuleHandle) Call(ctx context.Context, params map[string]any) (Report, error) {
	return m.ctx.Call(ctx, m.selector, m.module, params)
}
