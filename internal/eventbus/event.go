// Package eventbus delivers execution events to a single user-provided
// consumer, arrival-ordered per call, with no durable outbox — the
// spec's delivery model is narrower than this codebase's original
// event system, which additionally fans out to durable
// subscriptions, workflow triggers, and webhook relays; that outbox
// machinery is a separate concern this system does not have (see
// DESIGN.md).
package eventbus

import "encoding/json"

// Kind enumerates every event this system emits to its consumer,
// per spec.md §4.9's event list.
type Kind string

const (
	KindModuleStart    Kind = "module_start"
	KindModuleComplete Kind = "module_complete"
	KindProgress       Kind = "progress"
	KindLog            Kind = "log"
	KindData           Kind = "data"
)

// Event is one item delivered to the consumer. CallID correlates every
// event belonging to the same executor call (module_start through its
// eventual module_complete); ordering is guaranteed only among events
// sharing a CallID.
type Event struct {
	CallID  string          `json:"call_id"`
	Host    string          `json:"host"`
	Module  string          `json:"module"`
	Kind    Kind            `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Consumer receives events one at a time, in the order Bus delivers
// them. It runs on the bus's single dispatch goroutine, never
// concurrently with itself.
type Consumer func(Event)
