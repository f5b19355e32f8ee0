package gate

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/oriys/ftl2/internal/config"
	"github.com/oriys/ftl2/internal/domain"
	"github.com/oriys/ftl2/internal/ferr"
	"github.com/oriys/ftl2/internal/logging"
)

// EventSink receives event frames for one outstanding call, in arrival
// order, before the terminal result. Nil is a valid sink: events are
// then simply dropped.
type EventSink func(domain.EventPayload)

// pendingCall is one outstanding request awaiting its result frame.
type pendingCall struct {
	resultCh chan frameOutcome
	sink     EventSink
}

type frameOutcome struct {
	result *domain.ResultPayload
	err    error
}

// Gate is a single live connection to one host's entry stub, staged
// for one specific bundle fingerprint. Only one Gate exists per
// (host, fingerprint) pair at a time — see Manager. It multiplexes any
// number of concurrently in-flight execute calls over the one
// underlying stream, each correlated by a monotonic id, grounded on
// oriys-nova/internal/firecracker/vsock.go's VsockClient adapted from
// a single-in-flight-per-VM model to per-id correlation.
type Gate struct {
	host        domain.Host
	fingerprint string
	cfg         config.GateConfig

	mu        sync.Mutex
	transport conn
	nextID    int64
	pending   map[int64]*pendingCall
	closed    atomic.Bool
	readyCh   chan struct{}

	readerDone chan struct{}
}

// Dial establishes a Gate for host, staging the bundle if the target
// does not already have it and launching the entry stub, then waiting
// for its ready frame. SSH hosts get a persistent session over the
// network; hosts with domain.TransportLocal get a local subprocess —
// both satisfy the conn interface, so everything past this point is
// transport-agnostic.
func Dial(ctx context.Context, host domain.Host, bundle *domain.Bundle, cfg config.GateConfig) (*Gate, error) {
	g, err := dialOnce(ctx, host, bundle, cfg)
	if err != nil {
		return nil, err
	}

	info, infoErr := g.Info(ctx)
	if infoErr == nil && info.BundleFingerprint != "" && info.BundleFingerprint != bundle.Manifest.Fingerprint {
		logging.Op().Warn("gate reports stale bundle fingerprint, re-staging once",
			"host", host.Name, "want", bundle.Manifest.Fingerprint, "got", info.BundleFingerprint)
		g.Close()

		g, err = dialOnce(ctx, host, bundle, cfg)
		if err != nil {
			return nil, err
		}
	}

	return g, nil
}

// dialOnce opens one transport, launches the read loop, and waits for
// the gate's ready frame. Split out of Dial so a fingerprint-mismatch
// response from a stale gate cache (spec'd transport retry: one
// re-upload attempt) can redial exactly once without duplicating the
// dial/ready sequence.
func dialOnce(ctx context.Context, host domain.Host, bundle *domain.Bundle, cfg config.GateConfig) (*Gate, error) {
	transport, err := dialTransport(host, bundle, cfg)
	if err != nil {
		return nil, err
	}

	g := &Gate{
		host:        host,
		fingerprint: bundle.Manifest.Fingerprint,
		cfg:         cfg,
		transport:   transport,
		pending:     make(map[int64]*pendingCall),
		readerDone:  make(chan struct{}),
	}

	go g.readLoop(transport)

	if err := g.awaitReady(ctx); err != nil {
		g.Close()
		return nil, err
	}

	return g, nil
}

// dialTransport picks and opens the conn implementation appropriate
// for host.Transport, staging the bundle along the way.
func dialTransport(host domain.Host, bundle *domain.Bundle, cfg config.GateConfig) (conn, error) {
	if host.Transport == domain.TransportLocal {
		local, err := dialLocalStub(cfg.BinaryPath, cfg.RemoteDir, bundle.Manifest.Fingerprint, bundle.Archive)
		if err != nil {
			return nil, &ferr.TransportLost{Host: host.Name, Detail: err.Error()}
		}
		return local, nil
	}

	ssh, err := dialHost(host, cfg.BinaryPath, cfg.RemoteDir, bundle.Manifest.Fingerprint, cfg.ConnectTimeout)
	if err != nil {
		return nil, &ferr.TransportLost{Host: host.Name, Detail: err.Error()}
	}
	if _, err := stageBundle(ssh.client, cfg.RemoteDir, bundle.Manifest.Fingerprint, bundle.Archive); err != nil {
		ssh.Close()
		return nil, &ferr.TransportLost{Host: host.Name, Detail: fmt.Sprintf("stage bundle: %v", err)}
	}
	return ssh, nil
}

func (g *Gate) awaitReady(ctx context.Context) error {
	deadline := time.Now().Add(g.cfg.ConnectTimeout)
	waitCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	select {
	case <-g.readerReadyOnce():
		return nil
	case <-g.readerDone:
		return &ferr.TransportLost{Host: g.host.Name, Detail: "gate closed before ready"}
	case <-waitCtx.Done():
		return &ferr.Timeout{Module: "gate-ready", Host: g.host.Name}
	}
}

// readerReadyOnce is set by readLoop the first time a FrameReady frame
// arrives; it is consulted only during Dial.
func (g *Gate) readerReadyOnce() <-chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.readyCh == nil {
		g.readyCh = make(chan struct{})
	}
	return g.readyCh
}

func (g *Gate) readLoop(transport conn) {
	defer close(g.readerDone)
	defer g.failAllPending(&ferr.TransportLost{Host: g.host.Name, Detail: "stream closed"})

	for {
		frame, err := readFrame(transport.Stdout())
		if err != nil {
			return
		}
		g.dispatch(frame)
	}
}

func (g *Gate) dispatch(frame *domain.GateFrame) {
	switch frame.Type {
	case domain.FrameReady:
		g.mu.Lock()
		if g.readyCh == nil {
			g.readyCh = make(chan struct{})
		}
		select {
		case <-g.readyCh:
		default:
			close(g.readyCh)
		}
		g.mu.Unlock()

	case domain.FrameResult:
		var result domain.ResultPayload
		if err := json.Unmarshal(frame.Payload, &result); err != nil {
			g.completeCall(frame.ID, frameOutcome{err: &ferr.ProtocolError{Detail: err.Error()}})
			return
		}
		g.completeCall(frame.ID, frameOutcome{result: &result})

	case domain.FrameEvent:
		var event domain.EventPayload
		if err := json.Unmarshal(frame.Payload, &event); err != nil {
			logging.Op().Warn("malformed event frame", "host", g.host.Name, "error", err)
			return
		}
		g.mu.Lock()
		call := g.pending[frame.ID]
		g.mu.Unlock()
		if call != nil && call.sink != nil {
			call.sink(event)
		}

	case domain.FrameError:
		var errPayload domain.ErrorPayload
		json.Unmarshal(frame.Payload, &errPayload)
		g.completeCall(frame.ID, frameOutcome{err: &ferr.ProtocolError{Detail: errPayload.Message}})

	default:
		logging.Op().Warn("unknown gate frame type", "host", g.host.Name, "type", frame.Type)
	}
}

func (g *Gate) completeCall(id int64, outcome frameOutcome) {
	g.mu.Lock()
	call, ok := g.pending[id]
	if ok {
		delete(g.pending, id)
	}
	g.mu.Unlock()
	if ok && call.resultCh != nil {
		call.resultCh <- outcome
	}
}

func (g *Gate) failAllPending(err error) {
	g.mu.Lock()
	pending := g.pending
	g.pending = make(map[int64]*pendingCall)
	g.mu.Unlock()
	for _, call := range pending {
		if call.resultCh != nil {
			call.resultCh <- frameOutcome{err: err}
		}
	}
}

// Execute runs module on the gate's host with params, streaming any
// events to sink, and blocks until the terminal result frame, ctx
// cancellation, or the configured call timeout, whichever comes
// first. One in-flight request per id is the protocol invariant; a
// fresh id is allocated per call so distinct calls may overlap.
func (g *Gate) Execute(ctx context.Context, module string, params map[string]any, checkMode bool, sink EventSink) (*domain.ResultPayload, error) {
	if g.closed.Load() {
		return nil, &ferr.TransportLost{Host: g.host.Name, Detail: "gate closed"}
	}

	payload, err := json.Marshal(domain.ExecutePayload{Module: module, Params: params, CheckMode: checkMode})
	if err != nil {
		return nil, fmt.Errorf("marshal execute payload: %w", err)
	}

	id := atomic.AddInt64(&g.nextID, 1)
	call := &pendingCall{resultCh: make(chan frameOutcome, 1), sink: sink}

	g.mu.Lock()
	g.pending[id] = call
	transport := g.transport
	g.mu.Unlock()

	frame := &domain.GateFrame{Type: domain.FrameExecute, ID: id, Payload: payload}
	if err := writeFrame(transport.Stdin(), frame); err != nil {
		g.mu.Lock()
		delete(g.pending, id)
		g.mu.Unlock()
		return nil, &ferr.TransportLost{Host: g.host.Name, Detail: err.Error()}
	}

	callCtx := ctx
	var cancel context.CancelFunc
	if g.cfg.CallTimeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, g.cfg.CallTimeout)
		defer cancel()
	}

	select {
	case outcome := <-call.resultCh:
		if outcome.err != nil {
			return nil, outcome.err
		}
		return outcome.result, nil
	case <-callCtx.Done():
		g.mu.Lock()
		delete(g.pending, id)
		g.mu.Unlock()
		if ctx.Err() != nil {
			return nil, &ferr.Cancelled{Module: module, Host: g.host.Name}
		}
		return nil, &ferr.Timeout{Module: module, Host: g.host.Name}
	}
}

// ListModules asks the gate to enumerate the modules present in its
// staged bundle.
func (g *Gate) ListModules(ctx context.Context) ([]string, error) {
	id := atomic.AddInt64(&g.nextID, 1)
	call := &pendingCall{resultCh: make(chan frameOutcome, 1)}

	g.mu.Lock()
	g.pending[id] = call
	transport := g.transport
	g.mu.Unlock()

	frame := &domain.GateFrame{Type: domain.FrameListModules, ID: id}
	if err := writeFrame(transport.Stdin(), frame); err != nil {
		return nil, &ferr.TransportLost{Host: g.host.Name, Detail: err.Error()}
	}

	select {
	case outcome := <-call.resultCh:
		if outcome.err != nil {
			return nil, outcome.err
		}
		var result domain.ListModulesResult
		if err := json.Unmarshal(outcome.result.Output, &result); err != nil {
			return nil, &ferr.ProtocolError{Detail: err.Error()}
		}
		return result.Modules, nil
	case <-ctx.Done():
		return nil, &ferr.Cancelled{Module: "list_modules", Host: g.host.Name}
	}
}

// Info asks the gate to report its interpreter and the fingerprint of
// the bundle it has staged, used by Dial to detect a stale gate cache
// on the target (a prior run's entry stub still serving an older
// bundle at the same staging path).
func (g *Gate) Info(ctx context.Context) (*domain.InfoResult, error) {
	id := atomic.AddInt64(&g.nextID, 1)
	call := &pendingCall{resultCh: make(chan frameOutcome, 1)}

	g.mu.Lock()
	g.pending[id] = call
	transport := g.transport
	g.mu.Unlock()

	frame := &domain.GateFrame{Type: domain.FrameInfo, ID: id}
	if err := writeFrame(transport.Stdin(), frame); err != nil {
		return nil, &ferr.TransportLost{Host: g.host.Name, Detail: err.Error()}
	}

	select {
	case outcome := <-call.resultCh:
		if outcome.err != nil {
			return nil, outcome.err
		}
		var info domain.InfoResult
		if err := json.Unmarshal(outcome.result.Output, &info); err != nil {
			return nil, &ferr.ProtocolError{Detail: err.Error()}
		}
		return &info, nil
	case <-ctx.Done():
		return nil, &ferr.Cancelled{Module: "info", Host: g.host.Name}
	}
}

// Close sends a shutdown frame (best effort) and tears down the
// underlying SSH session and client.
func (g *Gate) Close() error {
	if !g.closed.CompareAndSwap(false, true) {
		return nil
	}
	g.mu.Lock()
	transport := g.transport
	g.mu.Unlock()
	if transport != nil {
		writeFrame(transport.Stdin(), &domain.GateFrame{Type: domain.FrameShutdown})
		return transport.Close()
	}
	return nil
}

// Fingerprint reports which bundle this gate has staged and launched.
func (g *Gate) Fingerprint() string { return g.fingerprint }

// HostName reports the host this gate is connected to.
func (g *Gate) HostName() string { return g.host.Name }

// withBackoff retries op using an exponential backoff policy, used by
// Manager when a transport-lost error surfaces and a fresh Gate must
// be redialed — grounded on vsock.go's redialAndInitLocked, with
// cenkalti/backoff/v5 replacing the hand-rolled backoff slice.
func withBackoff(ctx context.Context, maxRetries int, op func() error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 10 * time.Millisecond
	policy.MaxInterval = 1 * time.Second

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, op()
	}, backoff.WithBackOff(policy), backoff.WithMaxTries(uint(maxRetries)))
	return err
}
