// Package executor runs a single module call against a single host:
// replay lookup, policy evaluation, secret injection, dispatch to
// either a native Go fast path or a remote gate, and audit recording.
// Grounded on oriys-nova/internal/executor/executor.go's Invoke
// (drain-check, parallel prefetch, secret resolution, acquire,
// execute, async side-effects), restructured around the seven-step
// per-call pipeline this system's callers need instead of the
// teacher's VM-lifecycle one.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/oriys/ftl2/internal/audit"
	"github.com/oriys/ftl2/internal/bundle"
	"github.com/oriys/ftl2/internal/domain"
	"github.com/oriys/ftl2/internal/eventbus"
	"github.com/oriys/ftl2/internal/ferr"
	"github.com/oriys/ftl2/internal/gate"
	"github.com/oriys/ftl2/internal/metrics"
	"github.com/oriys/ftl2/internal/observability"
	"github.com/oriys/ftl2/internal/policy"
	"github.com/oriys/ftl2/internal/registry"
	"github.com/oriys/ftl2/internal/secrets"
)

// Executor wires together every collaborator one module call touches.
// One Executor is shared across all hosts and all concurrent calls in
// a run; every method is safe for concurrent use because each of its
// fields already is.
type Executor struct {
	registry *registry.Registry
	gates    *gate.Manager
	bundles  *bundle.Cache
	policy   *policy.Engine
	secrets  *secrets.Resolver
	audit    *audit.Log
	replay   *audit.Replayer
	bus      *eventbus.Bus

	profile     domain.TargetProfile
	environment string

	requestID func() string
}

// Option configures optional Executor behavior.
type Option func(*Executor)

// WithRequestIDFunc overrides how call ids are generated; tests use
// this to get deterministic ids instead of the default uuid.NewString.
func WithRequestIDFunc(f func() string) Option {
	return func(e *Executor) { e.requestID = f }
}

// New constructs an Executor from its required collaborators.
func New(
	reg *registry.Registry,
	gates *gate.Manager,
	bundles *bundle.Cache,
	pol *policy.Engine,
	sec *secrets.Resolver,
	auditLog *audit.Log,
	replay *audit.Replayer,
	bus *eventbus.Bus,
	profile domain.TargetProfile,
	environment string,
	opts ...Option,
) *Executor {
	e := &Executor{
		registry:    reg,
		gates:       gates,
		bundles:     bundles,
		policy:      pol,
		secrets:     sec,
		audit:       auditLog,
		replay:      replay,
		bus:         bus,
		profile:     profile,
		environment: environment,
		requestID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Call runs module against host with params, per spec.md §4.9's
// seven-step pipeline, appending its audit record (if any) at the
// next free position in the log. Use CallIntoSlot instead when the
// caller needs the record to land at a position fixed ahead of time —
// the fan-out driver's emit-on-start reservation.
func (e *Executor) Call(ctx context.Context, host domain.Host, module string, params map[string]any, checkMode bool) (map[string]any, error) {
	return e.call(ctx, host, module, params, checkMode, nil)
}

// CallIntoSlot behaves like Call, but finalizes its audit record (when
// one is written at all) into a slot previously obtained from
// audit.Log.Reserve, rather than appending at the tail. A call that
// produces no audit record (policy denied, secret resolution failed)
// leaves that slot permanently empty, which audit.Log.Records omits.
func (e *Executor) CallIntoSlot(ctx context.Context, host domain.Host, module string, params map[string]any, checkMode bool, slot int) (map[string]any, error) {
	return e.call(ctx, host, module, params, checkMode, &slot)
}

func (e *Executor) call(ctx context.Context, host domain.Host, module string, params map[string]any, checkMode bool, slot *int) (map[string]any, error) {
	start := time.Now()
	requestID := e.requestID()
	originalParams := params

	ctx, span := observability.StartSpan(ctx, "executor.call",
		observability.AttrHost.String(host.Name),
		observability.AttrModule.String(module),
		observability.AttrRequestID.String(requestID),
	)
	defer span.End()

	// Step 2: try_replay. A hit is itself the terminal outcome — it
	// still gets an audit record (marked replayed:true) but skips
	// policy, secrets, and dispatch entirely.
	if rec, ok := e.replay.TryReplay(module, host.Name); ok {
		span.SetAttributes(observability.AttrReplayed.Bool(true))
		observability.SetSpanOK(span)
		e.recordAudit(slot, rec)
		e.publishComplete(requestID, host.Name, module, true, rec.Success)
		metrics.RecordCall(module, "replayed", 0)
		return rec.Output, nil
	}

	// Step 3: policy.evaluate. A deny is fatal to this call but leaves
	// no audit trace (spec.md §8 scenario S2): the call never reached a
	// dispatch attempt, so there is nothing to record.
	decision := e.policy.Evaluate(module, host.Name, e.environment, params)
	if !decision.Allowed {
		metrics.RecordPolicyDeny(module)
		err := &ferr.PolicyDenied{Reason: decision.Reason}
		observability.SetSpanError(span, err)
		return nil, err
	}

	// Step 4: secret injection, explicit params winning over bindings.
	merged, err := e.secrets.Inject(ctx, module, params)
	if err != nil {
		observability.SetSpanError(span, err)
		return nil, err
	}

	e.bus.Publish(eventbus.Event{CallID: requestID, Host: host.Name, Module: module, Kind: eventbus.KindModuleStart})

	// Step 5: dispatch. An error here means no result ever came back —
	// a transport or protocol failure, not a module outcome — so it is
	// surfaced to the caller without an audit record, same as a denied
	// or unresolved call above.
	result, dispatchErr := e.dispatch(ctx, host, module, merged, checkMode, requestID)
	if dispatchErr != nil {
		observability.SetSpanError(span, dispatchErr)
		return nil, dispatchErr
	}

	output, outputErr := decodeOutput(result.Output)
	if outputErr != nil {
		werr := &ferr.ProtocolError{Detail: outputErr.Error()}
		observability.SetSpanError(span, werr)
		return nil, werr
	}

	// Step 6: record to audit using redact(original_params) and the
	// output from the result, whether the module reported success or
	// not — a ModuleFailed outcome is still a completed dispatch.
	record := domain.ExecutionRecord{
		RequestID: requestID,
		Timestamp: start,
		Host:      host.Name,
		Module:    module,
		Params:    e.secrets.Redact(module, originalParams),
		Success:   result.Success,
		Changed:   result.Changed,
		Output:    output,
		Error:     result.Error,
		DurationS: time.Since(start).Seconds(),
		Replayed:  false,
	}
	e.recordAudit(slot, record)
	e.publishComplete(requestID, host.Name, module, false, result.Success)

	outcome := "ok"
	var callErr error
	if !result.Success {
		outcome = "failed"
		callErr = &ferr.ModuleFailed{Output: output, Reason: result.Error}
	}
	metrics.RecordCall(module, outcome, time.Since(start).Milliseconds())

	// Step 7: return the output.
	if callErr != nil {
		observability.SetSpanError(span, callErr)
	} else {
		observability.SetSpanOK(span)
	}
	return output, callErr
}

func (e *Executor) recordAudit(slot *int, record domain.ExecutionRecord) {
	if slot != nil {
		e.audit.Fill(*slot, record)
		return
	}
	e.audit.Append(record)
}

// dispatch resolves module and routes the call to its native
// implementation or, for anything else, stages a single-module bundle
// and runs it through the host's gate. A bundled and an explicit-path
// resolution take the same remote route: internal/bundle's resolver
// already tries explicit search directories before the collection
// root, so there is nothing left for this layer to branch on.
func (e *Executor) dispatch(ctx context.Context, host domain.Host, module string, params map[string]any, checkMode bool, requestID string) (*domain.ResultPayload, error) {
	resolution, err := e.registry.Resolve(module)
	if err != nil {
		return nil, err
	}

	if resolution.Kind == registry.KindNative {
		return resolution.Native.Run(ctx, host, params, checkMode)
	}

	b, err := e.bundles.GetOrBuild(ctx, []string{module}, e.profile)
	if err != nil {
		return nil, &ferr.BundleBuildFailed{Detail: err.Error()}
	}

	sink := func(ev domain.EventPayload) {
		e.bus.Publish(eventbus.Event{
			CallID:  requestID,
			Host:    host.Name,
			Module:  module,
			Kind:    eventbus.Kind(ev.Kind),
			Payload: ev.Payload,
		})
	}

	return e.gates.Execute(ctx, host, b, module, params, checkMode, sink)
}

func (e *Executor) publishComplete(requestID, host, module string, replayed, success bool) {
	e.bus.Publish(eventbus.Event{
		CallID:  requestID,
		Host:    host,
		Module:  module,
		Kind:    eventbus.KindModuleComplete,
		Payload: mustJSON(map[string]any{"replayed": replayed, "success": success}),
	})
}

func decodeOutput(raw json.RawMessage) (map[string]any, error) {
	if len(raw) == 0 {
		return map[string]any{}, nil
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode module output: %w", err)
	}
	return out, nil
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}
