// Package audit maintains the append-only execution record log and
// the positional replay cursor over a prior run's log.
package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/oriys/ftl2/internal/domain"
)

// Log is an in-memory sequence of execution records that flushes to
// disk as one JSON array. A slot is either unreserved (nothing
// appended), reserved-and-pending (nil entry, reserved by Reserve but
// not yet Filled), or finalized (a non-nil record). Reserve lets a
// caller — the fan-out driver — fix a host's position in the log at
// the moment its call starts, independent of when it completes, per
// spec.md §4.10's emit-on-start reservation. A reserved slot that is
// never Filled (e.g. a policy-denied call, which spec.md §8 scenario
// S2 says leaves no audit record) is simply omitted from Records and
// Flush output.
type Log struct {
	mu      sync.Mutex
	path    string
	records []*domain.ExecutionRecord
	dirty   bool
}

// Open prepares a Log that will flush to path. path may not yet exist;
// it is created on first Flush.
func Open(path string) *Log {
	return &Log{path: path}
}

// Append adds one finalized execution record at the next position,
// for callers with no ordering requirement across concurrent calls
// (a single ad hoc call has nothing to reserve a position against).
func (l *Log) Append(record domain.ExecutionRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec := record
	l.records = append(l.records, &rec)
	l.dirty = true
}

// Reserve fixes the next position in the log and returns its index,
// without yet supplying a record. Call this before a concurrent call
// starts so its eventual record lands in call-start order regardless
// of completion order; pair with Fill once the call finishes.
func (l *Log) Reserve() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	idx := len(l.records)
	l.records = append(l.records, nil)
	return idx
}

// Fill supplies the record for a slot previously returned by Reserve.
func (l *Log) Fill(idx int, record domain.ExecutionRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec := record
	l.records[idx] = &rec
	l.dirty = true
}

// Records returns every finalized record, in slot order, skipping any
// slot that was reserved but never filled — backs the controller
// API's `results` surface.
func (l *Log) Records() []domain.ExecutionRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.recordsLocked()
}

func (l *Log) recordsLocked() []domain.ExecutionRecord {
	out := make([]domain.ExecutionRecord, 0, len(l.records))
	for _, r := range l.records {
		if r != nil {
			out = append(out, *r)
		}
	}
	return out
}

// Flush writes every finalized record to disk as one JSON array,
// atomically (temp file + rename). A no-op when nothing is dirty.
func (l *Log) Flush() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.dirty {
		return nil
	}

	dir := filepath.Dir(l.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create audit dir %q: %w", dir, err)
		}
	}

	data, err := json.MarshalIndent(l.recordsLocked(), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal audit log: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(l.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp audit file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp audit file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("sync temp audit file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp audit file: %w", err)
	}
	if err := os.Rename(tmpPath, l.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replace audit file: %w", err)
	}

	l.dirty = false
	return nil
}

// Close flushes any pending records. Call on every context exit path.
func (l *Log) Close() error {
	return l.Flush()
}
