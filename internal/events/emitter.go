package events

import "log/slog"

// Emitter is the single funnel for watcher events: it stamps, broadcasts,
// and best-effort appends to the event log.
type Emitter struct {
	broker *Broker
	jsonl  *EventLog
	log    *slog.Logger
}

// NewEmitter creates an emitter. jsonl may be nil when event logging is
// disabled.
func NewEmitter(broker *Broker, jsonl *EventLog, log *slog.Logger) *Emitter {
	return &Emitter{broker: broker, jsonl: jsonl, log: log}
}

// Emit stamps the event and delivers it to all observers. Events for the
// same slot must be emitted from the same goroutine to preserve per-slot
// ordering; the broker preserves whatever order it receives.
func (e *Emitter) Emit(ev Event) {
	if ev.Timestamp == "" {
		ev.Timestamp = Now()
	}
	if ev.Stage == "" {
		ev.Stage = StageComfyOutput
	}

	e.log.Info("events: emit",
		slog.String("subject", ev.SubjectID),
		slog.String("image", ev.Image),
		slog.String("status", string(ev.Status)),
		slog.String("reason", ev.Reason))

	e.broker.Publish(ev)

	if e.jsonl != nil {
		if err := e.jsonl.Append(ev); err != nil {
			e.log.Warn("events: event log append failed", slog.String("error", err.Error()))
		}
	}
}
