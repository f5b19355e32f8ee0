// Package fanout turns one call into N per-host calls against an
// inventory selector, bounding concurrency, preserving inventory order
// in the audit log regardless of completion order, and supporting
// cooperative fail-fast cancellation with a grace period for in-flight
// calls. Grounded on oriys-nova/internal/executor/executor.go's
// errgroup.WithContext parallel pre-fetch for the concurrent-fan-out
// shape, and its `inflight sync.WaitGroup` / `closing atomic.Bool`
// graceful-shutdown drain for the fail_fast grace period.
package fanout

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oriys/ftl2/internal/audit"
	"github.com/oriys/ftl2/internal/config"
	"github.com/oriys/ftl2/internal/domain"
	"github.com/oriys/ftl2/internal/ferr"
	"github.com/oriys/ftl2/internal/inventory"
	"github.com/oriys/ftl2/internal/metrics"
)

// Caller is the subset of *executor.Executor the driver depends on.
// A slot obtained from the driver's audit log fixes where this call's
// record lands regardless of when it completes.
type Caller interface {
	CallIntoSlot(ctx context.Context, host domain.Host, module string, params map[string]any, checkMode bool, slot int) (map[string]any, error)
}

// Result is one host's outcome from a fan-out call.
type Result struct {
	Host   string
	Output map[string]any
	Err    error
}

// Report aggregates every host's Result from one fan-out call, in
// inventory order.
type Report struct {
	Results []Result
	Failed  bool // true once fail_fast has cancelled remaining hosts
}

// Driver fans a call out across an inventory selector.
type Driver struct {
	caller Caller
	inv    *inventory.Inventory
	audit  *audit.Log

	maxParallel int
	failFast    bool
	cancelGrace time.Duration
}

// New constructs a Driver over inv and auditLog, using cfg for
// concurrency and failure behavior.
func New(caller Caller, inv *inventory.Inventory, auditLog *audit.Log, cfg config.FanoutConfig) *Driver {
	maxParallel := cfg.Forks
	if maxParallel <= 0 {
		maxParallel = 1
	}
	return &Driver{
		caller:      caller,
		inv:         inv,
		audit:       auditLog,
		maxParallel: maxParallel,
		failFast:    cfg.FailFast,
		cancelGrace: cfg.CancelGraceS,
	}
}

// Call resolves selector against the inventory and runs module against
// every matching host, up to maxParallel concurrently. Per spec.md
// §4.10, the position each host's audit record takes is reserved in
// inventory order before any host call starts, so the persisted log
// reflects selector order even though hosts finish in any order.
//
// When fail_fast is configured, the first per-host failure marks the
// report Failed, skips any host call that has not yet started, and
// allows calls already in flight up to cancelGrace to finish naturally
// before their context is cancelled out from under them.
func (d *Driver) Call(ctx context.Context, selector []string, module string, params map[string]any, checkMode bool) (Report, error) {
	hosts, err := d.inv.Hosts(selector)
	if err != nil {
		return Report{}, err
	}

	results := make([]Result, len(hosts))
	slots := make([]int, len(hosts))
	for i := range hosts {
		slots[i] = d.audit.Reserve()
	}

	metrics.SetFanoutInFlight(len(hosts))
	defer metrics.SetFanoutInFlight(0)

	abandonCtx, abandon := context.WithCancel(ctx)
	defer abandon()

	var skip atomic.Bool
	var graceStarted atomic.Bool
	var firstErr atomic.Value

	sem := make(chan struct{}, d.maxParallel)
	var wg sync.WaitGroup
	wg.Add(len(hosts))

	for i, host := range hosts {
		i, host := i, host
		go func() {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				results[i] = Result{Host: host.Name, Err: &ferr.Cancelled{Module: module, Host: host.Name}}
				return
			}
			defer func() { <-sem }()

			if d.failFast && skip.Load() {
				results[i] = Result{Host: host.Name, Err: &ferr.Cancelled{Module: module, Host: host.Name}}
				return
			}

			output, callErr := d.caller.CallIntoSlot(abandonCtx, host, module, params, checkMode, slots[i])
			results[i] = Result{Host: host.Name, Output: output, Err: callErr}

			if callErr == nil || !d.failFast {
				return
			}
			if !skip.CompareAndSwap(false, true) {
				return
			}
			firstErr.Store(callErr)
			if graceStarted.CompareAndSwap(false, true) {
				d.startGrace(ctx, abandon)
			}
		}()
	}

	wg.Wait()

	report := Report{Results: results}
	if v := firstErr.Load(); v != nil {
		report.Failed = true
		return report, v.(error)
	}
	return report, nil
}

// startGrace abandons in-flight calls' shared context after
// cancelGrace, unless the parent ctx is cancelled first. Runs in its
// own goroutine so the host goroutine that triggered it is not
// blocked waiting out the grace period itself.
func (d *Driver) startGrace(ctx context.Context, abandon context.CancelFunc) {
	go func() {
		timer := time.NewTimer(d.cancelGrace)
		defer timer.Stop()
		select {
		case <-timer.C:
			abandon()
		case <-ctx.Done():
		}
	}()
}
