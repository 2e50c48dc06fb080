package events

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// EventLog appends every emitted event to a JSONL file for auditing and
// debugging. Writes are best-effort at the call site: a failing log never
// interferes with ingestion.
type EventLog struct {
	mu   sync.Mutex
	path string
}

// logRecord wraps an Event with the envelope the log file carries.
type logRecord struct {
	UTC  string `json:"utc"`
	Type string `json:"type"`
	Event
}

// NewEventLog creates an appender for the JSONL file at path.
func NewEventLog(path string) *EventLog {
	return &EventLog{path: path}
}

// Append writes one event as a single JSON line.
func (l *EventLog) Append(ev Event) error {
	rec := logRecord{UTC: Now(), Type: "WATCHER_EVENT", Event: ev}
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("eventlog: marshal: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("eventlog: mkdir: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("eventlog: open: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("eventlog: write: %w", err)
	}
	return nil
}
