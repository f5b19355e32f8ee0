package domain

import "encoding/json"

// Gate frame types. The wire format mirrors the remote agent protocol
// used elsewhere in this codebase's VM backends: a typed envelope with
// an optional correlation id, length-prefixed on the stream.
const (
	FrameExecute     = "execute"
	FrameInfo        = "info"
	FrameListModules = "list_modules"
	FrameShutdown    = "shutdown"

	FrameResult = "result"
	FrameEvent  = "event"
	FrameReady  = "ready"
	FrameError  = "error"
)

// EventKind enumerates the kinds of event frames a gate may emit while
// an execute call is outstanding.
type EventKind string

const (
	EventProgress EventKind = "progress"
	EventLog      EventKind = "log"
	EventData     EventKind = "data"
)

// GateFrame is the envelope every frame on the wire carries. Type
// selects how Payload is interpreted; ID correlates controller
// requests with gate responses/events (monotonic per-gate integer,
// omitted on frames that need no correlation such as "ready").
type GateFrame struct {
	Type    string          `json:"type"`
	ID      int64           `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ExecutePayload is the controller→gate request to run a module.
type ExecutePayload struct {
	Module    string         `json:"module"`
	Params    map[string]any `json:"params"`
	CheckMode bool           `json:"check_mode,omitempty"`
}

// ResultPayload is the gate→controller terminal response to an
// execute frame.
type ResultPayload struct {
	Success bool            `json:"success"`
	Changed bool            `json:"changed"`
	Output  json.RawMessage `json:"output,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// EventPayload is a gate→controller progress/log/data frame. Any
// number may precede the terminating ResultPayload for the same id.
type EventPayload struct {
	Kind    EventKind       `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// ErrorPayload is a gate→controller protocol-level error, optionally
// correlated to a request id.
type ErrorPayload struct {
	Message string `json:"message"`
}

// ListModulesResult is the gate's response to a list_modules frame.
type ListModulesResult struct {
	Modules []string `json:"modules"`
}

// InfoResult is the gate's response to an info frame: basic facts
// about the remote interpreter used for bundle-fingerprint matching.
type InfoResult struct {
	InterpreterVersion string `json:"interpreter_version"`
	OS                 string `json:"os"`
	Arch               string `json:"arch"`
	BundleFingerprint  string `json:"bundle_fingerprint,omitempty"`
}
