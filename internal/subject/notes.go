package subject

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ez3davatars/A360-Aging-UI/internal/fsops"
)

// NotesFilename is the per-subject sidecar the UI autosaves into.
const NotesFilename = "subject_notes.json"

// notesSchemaVersion identifies the sidecar format.
const notesSchemaVersion = "a360_subject_notes_v1"

// Notes is the subject_notes.json payload. The JSON file is authoritative
// for notes; the registry carries a best-effort mirror.
type Notes struct {
	SchemaVersion string         `json:"schema_version"`
	Subject       string         `json:"subject"`
	Notes         string         `json:"notes"`
	NotesMeta     map[string]any `json:"notes_meta"`
	UpdatedUTC    string         `json:"updated_utc"`
}

// WriteNotes writes the sidecar into subjectDir, creating the directory as
// needed. Returns the file path.
func WriteNotes(subjectDir, subjectID, notes string, meta map[string]any) (string, error) {
	if meta == nil {
		meta = map[string]any{}
	}
	payload := Notes{
		SchemaVersion: notesSchemaVersion,
		Subject:       subjectID,
		Notes:         notes,
		NotesMeta:     meta,
		UpdatedUTC:    nowUTC(),
	}

	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return "", fmt.Errorf("subject: marshal notes: %w", err)
	}
	path := filepath.Join(subjectDir, NotesFilename)
	if err := fsops.WriteAtomic(path, append(data, '\n')); err != nil {
		return "", err
	}
	return path, nil
}

// ReadNotes loads the sidecar from subjectDir. A missing file returns
// os.ErrNotExist wrapped; callers treat that as "no notes yet".
func ReadNotes(subjectDir string) (*Notes, error) {
	data, err := os.ReadFile(filepath.Join(subjectDir, NotesFilename))
	if err != nil {
		return nil, fmt.Errorf("subject: read notes: %w", err)
	}
	var n Notes
	if err := json.Unmarshal(data, &n); err != nil {
		return nil, fmt.Errorf("subject: parse notes: %w", err)
	}
	return &n, nil
}
