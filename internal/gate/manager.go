package gate

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/oriys/ftl2/internal/config"
	"github.com/oriys/ftl2/internal/domain"
	"github.com/oriys/ftl2/internal/ferr"
	"github.com/oriys/ftl2/internal/logging"
	"github.com/oriys/ftl2/internal/metrics"
)

// Manager owns at most one live Gate per (host, bundle fingerprint)
// pair, dialing lazily and redialing with backoff when a call reports
// a lost transport, per spec.md §4.7/4.8's gate lifecycle.
type Manager struct {
	cfg config.GateConfig

	mu    sync.Mutex
	gates map[string]*Gate
}

// NewManager constructs a Manager using cfg for every gate it dials.
func NewManager(cfg config.GateConfig) *Manager {
	return &Manager{cfg: cfg, gates: make(map[string]*Gate)}
}

func gateKey(host string, fingerprint string) string {
	return host + "@" + fingerprint
}

// Get returns the live gate for host staged with bundle, dialing a
// fresh one if none exists yet or the prior one is dead, with
// exponential backoff between dial attempts; cfg.MaxRetries caps the
// total number of attempts, the first one included.
func (m *Manager) Get(ctx context.Context, host domain.Host, bundle *domain.Bundle) (*Gate, error) {
	key := gateKey(host.Name, bundle.Manifest.Fingerprint)

	m.mu.Lock()
	if g, ok := m.gates[key]; ok && !g.closed.Load() {
		m.mu.Unlock()
		return g, nil
	}
	m.mu.Unlock()

	var g *Gate
	err := withBackoff(ctx, m.cfg.MaxRetries, func() error {
		dialed, dialErr := Dial(ctx, host, bundle, m.cfg)
		if dialErr != nil {
			logging.Op().Warn("gate dial failed, retrying", "host", host.Name, "error", dialErr)
			return dialErr
		}
		g = dialed
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("dial gate for %s: %w", host.Name, err)
	}

	m.mu.Lock()
	m.gates[key] = g
	m.mu.Unlock()
	metrics.SetGatesActive(m.count())

	return g, nil
}

// Execute runs module against host via its gate, transparently
// redialing once and retrying the call if the first attempt reports a
// lost transport.
func (m *Manager) Execute(ctx context.Context, host domain.Host, bundle *domain.Bundle, module string, params map[string]any, checkMode bool, sink EventSink) (*domain.ResultPayload, error) {
	g, err := m.Get(ctx, host, bundle)
	if err != nil {
		return nil, err
	}

	result, err := g.Execute(ctx, module, params, checkMode, sink)
	if err == nil {
		return result, nil
	}

	var lost *ferr.TransportLost
	var proto *ferr.ProtocolError
	if !errors.As(err, &lost) && !errors.As(err, &proto) {
		return nil, err
	}

	// TransportLost means the session died; ProtocolError means the
	// gate itself may be in a corrupt state (malformed frame or
	// duplicated id) per spec.md §7 ("the gate is killed and
	// restarted") — both leave the cached gate unfit for reuse.
	logging.Op().Warn("gate transport lost or protocol error, redialing", "host", host.Name, "error", err)
	m.evict(host.Name, bundle.Manifest.Fingerprint)
	metrics.RecordGateRedial(host.Name)

	g, err = m.Get(ctx, host, bundle)
	if err != nil {
		return nil, err
	}
	return g.Execute(ctx, module, params, checkMode, sink)
}

func (m *Manager) evict(host, fingerprint string) {
	key := gateKey(host, fingerprint)
	m.mu.Lock()
	g, ok := m.gates[key]
	delete(m.gates, key)
	m.mu.Unlock()
	if ok {
		g.Close()
	}
	metrics.SetGatesActive(m.count())
}

func (m *Manager) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.gates)
}

// CloseAll tears down every live gate, used on context exit so no
// stray remote entry stub or SSH session outlives the run.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	gates := m.gates
	m.gates = make(map[string]*Gate)
	m.mu.Unlock()

	for _, g := range gates {
		g.Close()
	}
	metrics.SetGatesActive(0)
}
