package eventbus

import (
	"sync"
	"sync/atomic"

	"github.com/oriys/ftl2/internal/logging"
)

// defaultBufferSize bounds how many events may be queued awaiting the
// consumer before Publish starts dropping them. Progress/log/data
// events are informational, not authoritative (the audit log is
// authoritative), so dropping under sustained backpressure is an
// acceptable trade against ever blocking the executor's critical path.
const defaultBufferSize = 4096

// Bus delivers events to exactly one Consumer, in FIFO arrival order,
// from a single dedicated goroutine — narrowing
// oriys-nova/internal/eventbus/worker.go's multi-worker, durable-outbox
// dispatch pool down to the spec's single-consumer, non-durable model.
type Bus struct {
	consumer Consumer
	queue    chan Event
	done     chan struct{}
	closed   atomic.Bool
	wg       sync.WaitGroup
	closeOne sync.Once
}

// New starts a Bus delivering to consumer. bufferSize <= 0 uses
// defaultBufferSize.
func New(consumer Consumer, bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	b := &Bus{
		consumer: consumer,
		queue:    make(chan Event, bufferSize),
		done:     make(chan struct{}),
	}
	b.wg.Add(1)
	go b.dispatchLoop()
	return b
}

// Publish enqueues ev for delivery. It never blocks on a full consumer:
// if the queue is saturated the event is dropped and logged, mirroring
// the teacher's safeGo fire-and-forget pattern for side effects that
// must not block the critical path.
func (b *Bus) Publish(ev Event) {
	if b.closed.Load() {
		return
	}
	select {
	case b.queue <- ev:
	default:
		logging.Op().Warn("event bus queue full, dropping event",
			"kind", ev.Kind, "call_id", ev.CallID, "host", ev.Host, "module", ev.Module)
	}
}

func (b *Bus) dispatchLoop() {
	defer b.wg.Done()
	for {
		select {
		case ev := <-b.queue:
			b.deliver(ev)
		case <-b.done:
			b.drain()
			return
		}
	}
}

func (b *Bus) drain() {
	for {
		select {
		case ev := <-b.queue:
			b.deliver(ev)
		default:
			return
		}
	}
}

func (b *Bus) deliver(ev Event) {
	defer func() {
		if r := recover(); r != nil {
			logging.Op().Error("recovered panic in event consumer", "panic", r)
		}
	}()
	b.consumer(ev)
}

// Close stops accepting new events, delivers whatever is already
// queued, and waits for the dispatch goroutine to exit.
func (b *Bus) Close() {
	b.closeOne.Do(func() {
		b.closed.Store(true)
		close(b.done)
	})
	b.wg.Wait()
}
