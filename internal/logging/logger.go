package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// CallLog is one structured record of a per-host module call, emitted
// regardless of success or failure. It is distinct from the audit
// record (internal/audit): CallLog is an operational trace, the audit
// record is the source of truth for replay.
type CallLog struct {
	Timestamp  time.Time `json:"timestamp"`
	RequestID  string    `json:"request_id"`
	Host       string    `json:"host"`
	Module     string    `json:"module"`
	DurationMs int64     `json:"duration_ms"`
	Success    bool      `json:"success"`
	Replayed   bool      `json:"replayed,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// Logger writes CallLog entries to the console and, optionally, to a
// JSON-lines file.
type Logger struct {
	mu      sync.Mutex
	enabled bool
	console bool
	file    *os.File
}

var defaultLogger = &Logger{enabled: true, console: true}

// Default returns the process-wide call logger.
func Default() *Logger { return defaultLogger }

// SetOutput directs call logs to a JSON-lines file in addition to the
// console.
func (l *Logger) SetOutput(path string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		l.file.Close()
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	l.file = f
	return nil
}

// SetConsole toggles human-readable console output.
func (l *Logger) SetConsole(enabled bool) {
	l.mu.Lock()
	l.console = enabled
	l.mu.Unlock()
}

// Log writes one call record.
func (l *Logger) Log(entry *CallLog) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.enabled {
		return
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	if l.console {
		status := "✓"
		if !entry.Success {
			status = "✗"
		}
		replayed := ""
		if entry.Replayed {
			replayed = " [replayed]"
		}
		fmt.Printf("[call] %s %s %s@%s %dms%s\n",
			status, entry.RequestID, entry.Module, entry.Host, entry.DurationMs, replayed)
		if entry.Error != "" {
			fmt.Printf("[call]   error: %s\n", entry.Error)
		}
	}

	if l.file != nil {
		data, _ := json.Marshal(entry)
		l.file.Write(append(data, '\n'))
	}
}

// Close releases the log file handle, if any.
func (l *Logger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}
}
