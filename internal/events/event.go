// Package events defines the watcher event contract and fans events out to
// connected UI observers over a local WebSocket channel.
package events

import (
	"fmt"
	"strings"
	"time"
)

// Stage identifies which part of the pipeline produced an event. The
// ingestion watcher emits COMFY_OUTPUT; the other stages belong to the
// prompt-building UI flow and share this vocabulary.
type Stage string

const (
	StagePromptOutput Stage = "PROMPT_OUTPUT"
	StageAnchor       Stage = "ANCHOR"
	StageComfyOutput  Stage = "COMFY_OUTPUT"
)

// Status is a slot lifecycle state as surfaced to observers.
type Status string

const (
	StatusWaiting   Status = "WAITING"
	StatusDetected  Status = "DETECTED"
	StatusValidated Status = "VALIDATED"
	StatusIngesting Status = "INGESTING"
	StatusStored    Status = "STORED"
	StatusError     Status = "ERROR"
)

var allStatuses = []Status{
	StatusWaiting,
	StatusDetected,
	StatusValidated,
	StatusIngesting,
	StatusStored,
	StatusError,
}

// ParseStatus converts a string to a Status, case-insensitively.
func ParseStatus(s string) (Status, error) {
	for _, st := range allStatuses {
		if strings.EqualFold(s, string(st)) {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown status %q", s)
}

// Terminal reports whether the status ends a slot's forward progression.
func (s Status) Terminal() bool {
	return s == StatusStored || s == StatusError
}

// Event is the JSON payload pushed to every observer. Image carries the age
// label ("A45"); Path is the source path up to INGESTING and the canonical
// path from STORED on.
type Event struct {
	SubjectID string `json:"subjectId"`
	Stage     Stage  `json:"stage"`
	Image     string `json:"image"`
	Status    Status `json:"status"`
	Path      string `json:"path,omitempty"`
	Reason    string `json:"reason,omitempty"`
	SHA256    string `json:"sha256,omitempty"`
	Bytes     int64  `json:"bytes,omitempty"`
	Timestamp string `json:"timestamp"`
}

// Now returns the event timestamp format for the current instant.
func Now() string {
	return time.Now().UTC().Format(time.RFC3339)
}
