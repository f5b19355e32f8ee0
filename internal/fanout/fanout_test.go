package fanout

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oriys/ftl2/internal/audit"
	"github.com/oriys/ftl2/internal/config"
	"github.com/oriys/ftl2/internal/domain"
	"github.com/oriys/ftl2/internal/inventory"
)

type fakeCaller struct {
	mu        sync.Mutex
	calls     []string
	delay     map[string]time.Duration
	fail      map[string]bool
	canceled  map[string]bool
	failFirst bool
}

func newFakeCaller() *fakeCaller {
	return &fakeCaller{delay: map[string]time.Duration{}, fail: map[string]bool{}, canceled: map[string]bool{}}
}

func (f *fakeCaller) CallIntoSlot(ctx context.Context, host domain.Host, module string, params map[string]any, checkMode bool, slot int) (map[string]any, error) {
	f.mu.Lock()
	isFirst := len(f.calls) == 0
	f.calls = append(f.calls, host.Name)
	f.mu.Unlock()

	if d, ok := f.delay[host.Name]; ok {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			f.mu.Lock()
			f.canceled[host.Name] = true
			f.mu.Unlock()
			return nil, ctx.Err()
		}
	}

	if f.fail[host.Name] || (f.failFirst && isFirst) {
		return nil, assertErr{host: host.Name}
	}
	return map[string]any{"host": host.Name}, nil
}

type assertErr struct{ host string }

func (e assertErr) Error() string { return "failed on " + e.host }

func buildInventory(t *testing.T, names ...string) *inventory.Inventory {
	t.Helper()
	inv := inventory.New(nil)
	for _, n := range names {
		require.NoError(t, inv.AddHost(n, map[string]any{"ansible_connection": "local"}))
	}
	return inv
}

func newDriver(t *testing.T, caller Caller, inv *inventory.Inventory, cfg config.FanoutConfig) *Driver {
	t.Helper()
	log := audit.Open(filepath.Join(t.TempDir(), "audit.json"))
	return New(caller, inv, log, cfg)
}

func TestCall_RunsEveryHostAndAggregatesResults(t *testing.T) {
	caller := newFakeCaller()
	inv := buildInventory(t, "a", "b", "c")
	d := newDriver(t, caller, inv, config.FanoutConfig{Forks: 3})

	report, err := d.Call(context.Background(), []string{"all"}, "pkg.install", nil, false)
	require.NoError(t, err)
	assert.False(t, report.Failed)
	require.Len(t, report.Results, 3)

	for _, r := range report.Results {
		assert.NoError(t, r.Err)
		assert.Equal(t, r.Host, r.Output["host"])
	}
}

func TestCall_PreservesInventoryOrderRegardlessOfCompletionOrder(t *testing.T) {
	caller := newFakeCaller()
	// "a" is slow, "b" and "c" are fast, so completion order is b, c, a
	// — but the report must still reflect inventory declaration order.
	caller.delay["a"] = 60 * time.Millisecond
	inv := buildInventory(t, "a", "b", "c")
	d := newDriver(t, caller, inv, config.FanoutConfig{Forks: 3})

	report, err := d.Call(context.Background(), []string{"all"}, "pkg.install", nil, false)
	require.NoError(t, err)
	require.Len(t, report.Results, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{report.Results[0].Host, report.Results[1].Host, report.Results[2].Host})
}

func TestCall_ConcurrencyBoundedByForks(t *testing.T) {
	caller := newFakeCaller()
	for _, n := range []string{"a", "b", "c", "d"} {
		caller.delay[n] = 40 * time.Millisecond
	}
	inv := buildInventory(t, "a", "b", "c", "d")
	d := newDriver(t, caller, inv, config.FanoutConfig{Forks: 2})

	start := time.Now()
	_, err := d.Call(context.Background(), []string{"all"}, "pkg.install", nil, false)
	elapsed := time.Since(start)
	require.NoError(t, err)

	// 4 hosts at 40ms each, 2 at a time, must take at least 2 waves.
	assert.GreaterOrEqual(t, elapsed, 70*time.Millisecond)
}

func TestCall_FailFastSkipsUnstartedHosts(t *testing.T) {
	caller := newFakeCaller()
	// Forks=1 fully serializes dispatch: whichever host happens to run
	// first fails, so exactly one call can ever have been made by the
	// time skip is observed by the rest — deterministic regardless of
	// which host the scheduler happens to run first.
	caller.failFirst = true
	inv := buildInventory(t, "a", "b", "c")
	d := newDriver(t, caller, inv, config.FanoutConfig{Forks: 1, FailFast: true, CancelGraceS: 10 * time.Millisecond})

	report, err := d.Call(context.Background(), []string{"all"}, "pkg.install", nil, false)
	require.Error(t, err)
	assert.True(t, report.Failed)

	assert.Len(t, caller.calls, 1, "the remaining hosts must never have been dispatched once the first call failed")

	failed := 0
	for _, r := range report.Results {
		if r.Err != nil {
			failed++
		}
	}
	assert.Equal(t, 3, failed, "the failing call and every skipped call each surface an error")
}

func TestCall_FailFastAbandonsInFlightCallsAfterGrace(t *testing.T) {
	caller := newFakeCaller()
	caller.fail["a"] = true
	caller.delay["b"] = 200 * time.Millisecond
	inv := buildInventory(t, "a", "b")
	d := newDriver(t, caller, inv, config.FanoutConfig{Forks: 2, FailFast: true, CancelGraceS: 20 * time.Millisecond})

	report, err := d.Call(context.Background(), []string{"all"}, "pkg.install", nil, false)
	require.Error(t, err)
	assert.True(t, report.Failed)

	caller.mu.Lock()
	defer caller.mu.Unlock()
	assert.True(t, caller.canceled["b"], "an in-flight call must be abandoned once the grace period elapses")
}

func TestCall_NoFailFastRunsAllHostsDespiteFailure(t *testing.T) {
	caller := newFakeCaller()
	caller.fail["a"] = true
	inv := buildInventory(t, "a", "b", "c")
	d := newDriver(t, caller, inv, config.FanoutConfig{Forks: 3, FailFast: false})

	report, err := d.Call(context.Background(), []string{"all"}, "pkg.install", nil, false)
	require.NoError(t, err, "without fail_fast a per-host failure is surfaced only in the report, not as a top-level error")
	assert.False(t, report.Failed)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, caller.calls)
	assert.Error(t, report.Results[0].Err)
	assert.NoError(t, report.Results[1].Err)
}

func TestCall_UnknownSelectorErrors(t *testing.T) {
	caller := newFakeCaller()
	inv := buildInventory(t, "a")
	d := newDriver(t, caller, inv, config.FanoutConfig{Forks: 1})

	_, err := d.Call(context.Background(), []string{"missing"}, "pkg.install", nil, false)
	assert.Error(t, err)
}

func TestCall_ReservesAuditSlotsBeforeDispatch(t *testing.T) {
	caller := newFakeCaller()
	inv := buildInventory(t, "a", "b")
	log := audit.Open(filepath.Join(t.TempDir(), "audit.json"))
	d := New(caller, inv, log, config.FanoutConfig{Forks: 2})

	// Pre-existing record occupies slot 0 before the fan-out call starts,
	// so the fan-out's own slots must land after it.
	log.Append(domain.ExecutionRecord{Host: "preexisting"})

	_, err := d.Call(context.Background(), []string{"all"}, "pkg.install", nil, false)
	require.NoError(t, err)

	records := log.Records()
	require.Len(t, records, 3)
	assert.Equal(t, "preexisting", records[0].Host)
}

func TestNew_ZeroForksDefaultsToOne(t *testing.T) {
	d := New(newFakeCaller(), inventory.New(nil), audit.Open(filepath.Join(t.TempDir(), "audit.json")), config.FanoutConfig{Forks: 0})
	assert.Equal(t, 1, d.maxParallel)
}
