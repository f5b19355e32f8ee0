// Package ftl is the controller-facing facade: the asynchronous
// context object a user script drives. It wires inventory, state,
// secrets, policy, audit, the executor and fan-out driver into one
// scoped handle with guaranteed gate-shutdown and state-flush on every
// exit path, mirroring this codebase's Close()-on-every-invoker
// convention (oriys-nova/internal/executor/remote.go's RemoteInvoker.Close,
// balanced_invoker.go's BalancedRemoteInvoker.Close).
package ftl

import (
	"context"
	"fmt"
	"sync"

	"github.com/oriys/ftl2/internal/audit"
	"github.com/oriys/ftl2/internal/domain"
	"github.com/oriys/ftl2/internal/fanout"
	"github.com/oriys/ftl2/internal/gate"
	"github.com/oriys/ftl2/internal/inventory"
	"github.com/oriys/ftl2/internal/secrets"
	"github.com/oriys/ftl2/internal/statestore"
)

// Result is one host's outcome from a Call. Re-exported from
// internal/fanout rather than redeclared: the facade adds no fields
// the driver doesn't already produce.
type Result = fanout.Result

// Report aggregates every host's Result from one Call, in inventory
// order.
type Report = fanout.Report

// Context is the scoped handle a user script drives: name a module,
// supply parameters, optionally scope to a host group, and the engine
// performs the work on every matching host. Safe for concurrent use
// from multiple goroutines driving the same script.
type Context struct {
	inv      *inventory.Inventory
	state    *statestore.Store
	secrets  *secrets.Resolver
	auditLog *audit.Log
	fanout   *fanout.Driver
	gates    *gate.Manager

	mu        sync.Mutex
	errs      []error
	failed    bool
	closeOnce sync.Once
	closeErr  error
}

// Deps bundles every collaborator a Context wires. Built by the
// program entry point (cmd/) once config is loaded and every
// component constructed; Open takes a fully assembled Deps so this
// package never owns construction order or config parsing itself.
type Deps struct {
	Inventory *inventory.Inventory
	State     *statestore.Store
	Secrets   *secrets.Resolver
	Audit     *audit.Log
	Fanout    *fanout.Driver
	Gates     *gate.Manager
}

// Open acquires a Context over deps. Call Close (or run the context
// through Run) on every exit path, success or failure, so the gate
// pool shuts down and pending state/audit writes flush.
func Open(deps Deps) *Context {
	return &Context{
		inv:      deps.Inventory,
		state:    deps.State,
		secrets:  deps.Secrets,
		auditLog: deps.Audit,
		fanout:   deps.Fanout,
		gates:    deps.Gates,
	}
}

// Run acquires a Context over deps, runs fn, and guarantees Close
// regardless of whether fn panics, returns an error, or succeeds —
// the scoped-acquisition lifecycle the controller API surface
// specifies. Errors raised while closing are logged into the
// returned error only when fn itself succeeded, so a close failure
// never masks the primary exit reason.
func Run(deps Deps, fn func(*Context) error) error {
	c := Open(deps)
	var fnErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				fnErr = fmt.Errorf("ftl: context panic: %v", r)
			}
		}()
		fnErr = fn(c)
	}()

	closeErr := c.Close()
	if fnErr != nil {
		return fnErr
	}
	return closeErr
}

// Call resolves selector (a host name, group name, or list of either)
// against the inventory and runs module with params on every matching
// host, up to the configured max_parallel_hosts concurrently. The
// returned Report holds one Result per host in inventory order.
func (c *Context) Call(ctx context.Context, selector []string, module string, params map[string]any) (Report, error) {
	report, err := c.fanout.Call(ctx, selector, module, params, false)
	c.recordOutcome(report, err)
	return report, err
}

func (c *Context) recordOutcome(report Report, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.failed = true
		c.errs = append(c.errs, err)
	}
	for _, r := range report.Results {
		if r.Err != nil {
			c.failed = true
			c.errs = append(c.errs, r.Err)
		}
	}
}

// Hosts resolves selector the same way Call does, without dispatching
// any module. Useful for scripts that need to inspect a group's
// membership before deciding what to call.
func (c *Context) Hosts(selector []string) ([]domain.Host, error) {
	return c.inv.Hosts(selector)
}

// Groups returns the name of every declared group, including the
// implicit "all".
func (c *Context) Groups() []string {
	return c.inv.Groups()
}

// AddHost inserts or updates a dynamic host, persisting it to the
// state store immediately (spec.md scenario S6: the host survives on
// disk even if a later call in the same context fails).
func (c *Context) AddHost(name string, attrs map[string]any) error {
	if err := c.inv.AddHost(name, attrs); err != nil {
		return err
	}
	return c.state.Flush()
}

// Var reads a user key/value variable from the state store.
func (c *Context) Var(key string) (any, bool) {
	return c.state.Var(key)
}

// SetVar writes a user key/value variable to the state store, batched
// in memory until the next Flush or context Close.
func (c *Context) SetVar(key string, value any) {
	c.state.PutVar(key, value)
}

// Secret resolves a named secret through the configured backend.
func (c *Context) Secret(ctx context.Context, name string) (string, error) {
	return c.secrets.Get(ctx, name)
}

// Results returns every execution record emitted so far in this
// context, in audit order.
func (c *Context) Results() []domain.ExecutionRecord {
	return c.auditLog.Records()
}

// Failed reports whether any call in this context has produced a
// per-host error or a context-level error.
func (c *Context) Failed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failed
}

// Errors returns every error observed across every Call made in this
// context so far.
func (c *Context) Errors() []error {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]error, len(c.errs))
	copy(out, c.errs)
	return out
}

// Group returns ergonomic sugar over Call scoped to one group name.
// Never the correctness mechanism: Group(name).Module(fqcn).Call(...)
// resolves to exactly the same Context.Call this type exposes
// directly.
func (c *Context) Group(name string) *GroupHandle {
	return &GroupHandle{ctx: c, selector: []string{name}}
}

// Close shuts down every gate connection this context opened, then
// flushes state, then the audit log, regardless of which exit path
// triggered it. Safe to call more than once; only the first
// call does any work.
func (c *Context) Close() error {
	c.closeOnce.Do(func() {
		c.gates.CloseAll()

		var errs []error
		if err := c.state.Close(); err != nil {
			errs = append(errs, fmt.Errorf("flush state: %w", err))
		}
		if err := c.auditLog.Close(); err != nil {
			errs = append(errs, fmt.Errorf("flush audit log: %w", err))
		}

		if len(errs) > 0 {
			c.closeErr = fmt.Errorf("ftl: context close: %v", errs)
		}
	})
	return c.closeErr
}
