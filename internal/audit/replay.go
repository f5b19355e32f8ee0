package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/oriys/ftl2/internal/domain"
	"github.com/oriys/ftl2/internal/ferr"
)

// Replayer holds a prior run's audit records and a positional cursor,
// disengaging on the first mismatch per spec.md §4.5. Positional
// matching needs no content hashing: it is simple and correct for
// crash recovery, at the cost of being unable to replay out of the
// original call order.
type Replayer struct {
	mu      sync.Mutex
	prior   []domain.ExecutionRecord
	cursor  int
	engaged bool
}

// LoadReplay reads path as a prior audit log. Per the spec's open
// question on malformed replay files, the safe default is refuse to
// start: a malformed file is a fatal error here, not a disengage.
func LoadReplay(path string) (*Replayer, error) {
	if path == "" {
		return &Replayer{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read replay audit file %s: %w", path, err)
	}

	var records []domain.ExecutionRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, &ferr.InventoryInvalid{Detail: fmt.Sprintf("malformed replay audit file %s: %v", path, err)}
	}

	return &Replayer{prior: records, engaged: true}, nil
}

// TryReplay returns the cached record for (module, host) if the
// replay cursor is engaged and the record at the cursor matches;
// otherwise it disengages replay (permanently, for the rest of the
// run) and returns false.
func (r *Replayer) TryReplay(module, host string) (domain.ExecutionRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.engaged {
		return domain.ExecutionRecord{}, false
	}
	if r.cursor >= len(r.prior) {
		r.engaged = false
		return domain.ExecutionRecord{}, false
	}

	candidate := r.prior[r.cursor]
	if candidate.Module != module || candidate.Host != host || candidate.Outcome() != domain.OutcomeOK {
		r.engaged = false
		return domain.ExecutionRecord{}, false
	}

	r.cursor++
	candidate.Replayed = true
	candidate.DurationS = 0
	return candidate, true
}

// Engaged reports whether replay is still active.
func (r *Replayer) Engaged() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.engaged
}
