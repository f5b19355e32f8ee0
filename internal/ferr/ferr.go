// Package ferr defines the closed set of error kinds FTL2 propagates
// out of the execution pipeline. Every kind is a distinct type so
// callers can discriminate with errors.As rather than string matching,
// mirroring the sentinel-error convention used throughout this
// codebase's executor and pool packages.
package ferr

import "fmt"

// InventoryInvalid wraps a malformed inventory document; it is also
// returned by audit.LoadReplay for a malformed replay audit file.
// Fatal at context entry.
type InventoryInvalid struct {
	Detail string
}

func (e *InventoryInvalid) Error() string { return "inventory invalid: " + e.Detail }

// PolicyDenied is returned when a deny rule matched a call.
type PolicyDenied struct {
	Reason string
}

func (e *PolicyDenied) Error() string { return "policy denied: " + e.Reason }

// SecretMissing wraps a secret reference that could not be resolved.
// Fatal at context entry (fail closed).
type SecretMissing struct {
	Name string
}

func (e *SecretMissing) Error() string { return "secret missing: " + e.Name }

// BundleBuildFailed wraps a dependency-resolution or packaging
// failure. Per-call; not retried.
type BundleBuildFailed struct {
	Detail string
}

func (e *BundleBuildFailed) Error() string { return "bundle build failed: " + e.Detail }

// TransportLost is returned when the SSH session or gate process died
// mid-call. Per-call; the gate is restarted on the next call.
type TransportLost struct {
	Host   string
	Detail string
}

func (e *TransportLost) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("transport lost: %s", e.Host)
	}
	return fmt.Sprintf("transport lost: %s: %s", e.Host, e.Detail)
}

// ProtocolError wraps a malformed frame or duplicated id. Per-gate;
// the gate is killed and restarted.
type ProtocolError struct {
	Detail string
}

func (e *ProtocolError) Error() string { return "protocol error: " + e.Detail }

// Timeout is returned when a per-call deadline is exceeded.
type Timeout struct {
	Module string
	Host   string
}

func (e *Timeout) Error() string { return fmt.Sprintf("timeout: %s on %s", e.Module, e.Host) }

// Cancelled is returned when a call is cooperatively cancelled, e.g.
// by fail_fast escalation from a sibling host's failure.
type Cancelled struct {
	Module string
	Host   string
}

func (e *Cancelled) Error() string { return fmt.Sprintf("cancelled: %s on %s", e.Module, e.Host) }

// ModuleFailed wraps a module that returned success:false. Per-call;
// recorded, not retried.
type ModuleFailed struct {
	Output map[string]any
	Reason string
}

func (e *ModuleFailed) Error() string { return "module failed: " + e.Reason }
