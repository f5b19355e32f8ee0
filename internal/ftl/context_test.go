package ftl

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oriys/ftl2/internal/audit"
	"github.com/oriys/ftl2/internal/config"
	"github.com/oriys/ftl2/internal/domain"
	"github.com/oriys/ftl2/internal/fanout"
	"github.com/oriys/ftl2/internal/gate"
	"github.com/oriys/ftl2/internal/inventory"
	"github.com/oriys/ftl2/internal/secrets"
	"github.com/oriys/ftl2/internal/statestore"
)

type fakeSecretBackend map[string]string

func (b fakeSecretBackend) Get(_ context.Context, name string) (string, bool, error) {
	v, ok := b[name]
	return v, ok, nil
}

type stubCaller struct {
	outputs map[string]map[string]any
	errs    map[string]error
}

func (s *stubCaller) CallIntoSlot(_ context.Context, host domain.Host, _ string, _ map[string]any, _ bool, _ int) (map[string]any, error) {
	return s.outputs[host.Name], s.errs[host.Name]
}

func newTestDeps(t *testing.T, caller fanout.Caller) Deps {
	t.Helper()
	inv := inventory.New(nil)
	require.NoError(t, inv.AddHost("web1", map[string]any{"ansible_connection": "local"}))
	require.NoError(t, inv.AddHost("web2", map[string]any{"ansible_connection": "local"}))

	state, err := statestore.Load(filepath.Join(t.TempDir(), "state.json"))
	require.NoError(t, err)

	auditLog := audit.Open(filepath.Join(t.TempDir(), "audit.json"))
	driver := fanout.New(caller, inv, auditLog, config.FanoutConfig{Forks: 2})

	return Deps{
		Inventory: inv,
		State:     state,
		Secrets:   secrets.NewResolver(fakeSecretBackend{"db_password": "hunter2"}, nil),
		Audit:     auditLog,
		Fanout:    driver,
		Gates:     gate.NewManager(config.GateConfig{}),
	}
}

func TestCall_AggregatesAcrossMultipleCallsAndTracksFailed(t *testing.T) {
	caller := &stubCaller{
		outputs: map[string]map[string]any{"web1": {"ok": true}, "web2": {"ok": true}},
		errs:    map[string]error{},
	}
	deps := newTestDeps(t, caller)
	c := Open(deps)
	defer c.Close()

	_, err := c.Call(context.Background(), []string{"all"}, "pkg.install", nil)
	require.NoError(t, err)
	assert.False(t, c.Failed())
	assert.Empty(t, c.Errors())
}

func TestCall_RecordsPerHostFailuresAcrossCalls(t *testing.T) {
	caller := &stubCaller{
		outputs: map[string]map[string]any{"web1": {"ok": true}},
		errs:    map[string]error{"web2": errors.New("boom")},
	}
	deps := newTestDeps(t, caller)
	c := Open(deps)
	defer c.Close()

	_, err := c.Call(context.Background(), []string{"all"}, "pkg.install", nil)
	require.NoError(t, err, "fail_fast is off by default, so a per-host error doesn't fail the call itself")
	assert.True(t, c.Failed())
	require.Len(t, c.Errors(), 1)
	assert.EqualError(t, c.Errors()[0], "boom")

	// A second call's failures accumulate on top of the first's.
	_, err = c.Call(context.Background(), []string{"all"}, "pkg.install", nil)
	require.NoError(t, err)
	assert.Len(t, c.Errors(), 2)
}

func TestHosts_ResolvesViaInventory(t *testing.T) {
	deps := newTestDeps(t, &stubCaller{outputs: map[string]map[string]any{}, errs: map[string]error{}})
	c := Open(deps)
	defer c.Close()

	hosts, err := c.Hosts([]string{"all"})
	require.NoError(t, err)
	assert.Len(t, hosts, 2)
}

func TestGroups_IncludesAll(t *testing.T) {
	deps := newTestDeps(t, &stubCaller{outputs: map[string]map[string]any{}, errs: map[string]error{}})
	c := Open(deps)
	defer c.Close()

	assert.Contains(t, c.Groups(), domain.AllGroup)
}

func TestAddHost_IsVisibleToLaterHostsCall(t *testing.T) {
	deps := newTestDeps(t, &stubCaller{outputs: map[string]map[string]any{}, errs: map[string]error{}})
	c := Open(deps)
	defer c.Close()

	require.NoError(t, c.AddHost("web3", map[string]any{"ansible_connection": "local"}))
	hosts, err := c.Hosts([]string{"web3"})
	require.NoError(t, err)
	require.Len(t, hosts, 1)
	assert.Equal(t, "web3", hosts[0].Name)
}

func TestSetVarAndVar_RoundTrip(t *testing.T) {
	deps := newTestDeps(t, &stubCaller{outputs: map[string]map[string]any{}, errs: map[string]error{}})
	c := Open(deps)
	defer c.Close()

	c.SetVar("build_id", "42")
	v, ok := c.Var("build_id")
	require.True(t, ok)
	assert.Equal(t, "42", v)
}

func TestSecret_ResolvesThroughBackend(t *testing.T) {
	deps := newTestDeps(t, &stubCaller{outputs: map[string]map[string]any{}, errs: map[string]error{}})
	c := Open(deps)
	defer c.Close()

	v, err := c.Secret(context.Background(), "db_password")
	require.NoError(t, err)
	assert.Equal(t, "hunter2", v)
}

func TestResults_ReflectsAuditLog(t *testing.T) {
	caller := &stubCaller{
		outputs: map[string]map[string]any{"web1": {"ok": true}, "web2": {"ok": true}},
		errs:    map[string]error{},
	}
	deps := newTestDeps(t, caller)
	c := Open(deps)
	defer c.Close()

	_, err := c.Call(context.Background(), []string{"all"}, "pkg.install", nil)
	require.NoError(t, err)
	assert.Len(t, c.Results(), 2)
}

func TestGroupModuleCall_DelegatesToContextCall(t *testing.T) {
	caller := &stubCaller{
		outputs: map[string]map[string]any{"web1": {"ok": true}, "web2": {"ok": true}},
		errs:    map[string]error{},
	}
	deps := newTestDeps(t, caller)
	c := Open(deps)
	defer c.Close()

	report, err := c.Group("all").Module("pkg.install").Call(context.Background(), nil)
	require.NoError(t, err)
	assert.Len(t, report.Results, 2)
}

func TestClose_IsIdempotentAndFlushesState(t *testing.T) {
	deps := newTestDeps(t, &stubCaller{outputs: map[string]map[string]any{}, errs: map[string]error{}})
	c := Open(deps)

	c.SetVar("k", "v")
	require.NoError(t, c.Close())
	assert.NoError(t, c.Close(), "a second Close must be a no-op, not re-flush or error")
}

func TestRun_ClosesContextEvenWhenFnErrors(t *testing.T) {
	deps := newTestDeps(t, &stubCaller{outputs: map[string]map[string]any{}, errs: map[string]error{}})

	sentinel := errors.New("fn failed")
	var captured *Context
	err := Run(deps, func(c *Context) error {
		captured = c
		return sentinel
	})
	assert.Equal(t, sentinel, err)
	assert.NoError(t, captured.Close(), "Run must have already closed the context, making a second Close a no-op")
}

func TestRun_RecoversPanicAndStillCloses(t *testing.T) {
	deps := newTestDeps(t, &stubCaller{outputs: map[string]map[string]any{}, errs: map[string]error{}})

	err := Run(deps, func(c *Context) error {
		panic("boom")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestRun_ReturnsFnErrorWhenCloseSucceeds(t *testing.T) {
	// Close succeeds with these deps, so this checks that Run hands back
	// fn's own error unchanged rather than Close's nil.
	deps := newTestDeps(t, &stubCaller{outputs: map[string]map[string]any{}, errs: map[string]error{}})
	sentinel := errors.New("primary failure")

	err := Run(deps, func(c *Context) error {
		return sentinel
	})
	assert.Equal(t, sentinel, err)
}
