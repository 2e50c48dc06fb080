// Package manifest assembles the per-subject manifest document and, once a
// subject's timeline is complete, the export archive. Completeness is always
// recomputed from the files on disk so assembly stays safe across restarts.
package manifest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ez3davatars/A360-Aging-UI/internal/checksum"
	"github.com/ez3davatars/A360-Aging-UI/internal/fsops"
	"github.com/ez3davatars/A360-Aging-UI/internal/registry"
	"github.com/ez3davatars/A360-Aging-UI/internal/resolve"
	"github.com/ez3davatars/A360-Aging-UI/internal/subject"
)

// SchemaVersion identifies the manifest document format.
const SchemaVersion = "a360_subject_manifest_v2"

// Filename is the manifest's name inside the subject folder.
const Filename = "subject_manifest.json"

// ImageEntry describes one canonical image.
type ImageEntry struct {
	Age      int    `json:"age"`
	Filename string `json:"filename"`
	SHA256   string `json:"sha256"`
	Bytes    int64  `json:"bytes"`
}

// Manifest is the subject_manifest.json document.
type Manifest struct {
	SchemaVersion string         `json:"schema_version"`
	GeneratedUTC  string         `json:"generated_utc"`
	SubjectID     string         `json:"subject_id"`
	Timeline      string         `json:"timeline"`
	Complete      bool           `json:"complete"`
	MissingAges   []int          `json:"missing_ages"`
	Notes         string         `json:"notes"`
	NotesMeta     map[string]any `json:"notes_meta"`
	Images        []ImageEntry   `json:"images"`
}

// Result reports one assembly pass.
type Result struct {
	SubjectID    string `json:"subject_id"`
	ManifestPath string `json:"manifest_path"`
	Complete     bool   `json:"complete"`
	MissingAges  []int  `json:"missing_ages"`
	Images       int    `json:"images"`
	ZipPath      string `json:"zip_path,omitempty"`
}

// Assembler builds manifests and export archives. reg may be nil; the
// registry status update is best-effort either way.
type Assembler struct {
	timeline       string
	timelineFolder string
	reg            *registry.Store
	log            *slog.Logger
}

// NewAssembler wires an assembler for one timeline.
func NewAssembler(timeline, timelineFolder string, reg *registry.Store, log *slog.Logger) *Assembler {
	if timeline == "" {
		timeline = "A"
	}
	if timelineFolder == "" {
		timelineFolder = "Timeline" + timeline
	}
	return &Assembler{
		timeline:       timeline,
		timelineFolder: timelineFolder,
		reg:            reg,
		log:            log,
	}
}

// Assemble scans the subject's timeline folder, writes the manifest, and
// when every age is present bundles the export archive and marks the
// registry row complete. Re-running is always safe; the manifest is simply
// rewritten and the archive rebuilt.
func (a *Assembler) Assemble(ctx context.Context, subjectID, subjectDir string) (*Result, error) {
	timelineDir := filepath.Join(subjectDir, a.timelineFolder)
	if fi, err := os.Stat(timelineDir); err != nil || !fi.IsDir() {
		return nil, fmt.Errorf("manifest: timeline folder %s: %w", timelineDir, os.ErrNotExist)
	}

	m, err := a.build(subjectID, subjectDir, timelineDir)
	if err != nil {
		return nil, err
	}

	manifestPath := filepath.Join(subjectDir, Filename)
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("manifest: marshal: %w", err)
	}
	if err := fsops.WriteAtomic(manifestPath, append(data, '\n')); err != nil {
		return nil, fmt.Errorf("manifest: write: %w", err)
	}

	res := &Result{
		SubjectID:    subjectID,
		ManifestPath: manifestPath,
		Complete:     m.Complete,
		MissingAges:  m.MissingAges,
		Images:       len(m.Images),
	}
	if !m.Complete {
		a.log.Info("manifest: written, timeline incomplete",
			slog.String("subject", subjectID),
			slog.Any("missing", m.MissingAges))
		return res, nil
	}

	zipPath, err := a.writeArchive(subjectID, subjectDir, timelineDir, manifestPath, m)
	if err != nil {
		return nil, err
	}
	res.ZipPath = zipPath

	a.markComplete(ctx, subjectID)
	a.log.Info("manifest: subject exported",
		slog.String("subject", subjectID),
		slog.String("zip", zipPath))
	return res, nil
}

// build computes the manifest document from disk state and the notes
// sidecar.
func (a *Assembler) build(subjectID, subjectDir, timelineDir string) (*Manifest, error) {
	images := make([]ImageEntry, 0, len(resolve.Ages))
	missing := make([]int, 0)

	for _, age := range resolve.Ages {
		slot := resolve.Slot{SubjectID: subjectID, Age: age}
		p := resolve.CanonicalPath(timelineDir, slot)
		fi, err := os.Stat(p)
		if err != nil {
			missing = append(missing, age)
			continue
		}
		sha, err := checksum.File(p)
		if err != nil {
			return nil, fmt.Errorf("manifest: hash %s: %w", p, err)
		}
		images = append(images, ImageEntry{
			Age:      age,
			Filename: resolve.CanonicalFilename(slot),
			SHA256:   sha,
			Bytes:    fi.Size(),
		})
	}

	var notesText string
	notesMeta := map[string]any{}
	if n, err := subject.ReadNotes(subjectDir); err == nil {
		notesText = n.Notes
		if n.NotesMeta != nil {
			notesMeta = n.NotesMeta
		}
	}

	return &Manifest{
		SchemaVersion: SchemaVersion,
		GeneratedUTC:  nowUTC(),
		SubjectID:     subjectID,
		Timeline:      a.timeline,
		Complete:      len(missing) == 0,
		MissingAges:   missing,
		Notes:         notesText,
		NotesMeta:     notesMeta,
		Images:        images,
	}, nil
}

// markComplete flips the registry Image_Set_Status. Failure is logged, not
// returned: the manifest and archive on disk are the record.
func (a *Assembler) markComplete(ctx context.Context, subjectID string) {
	if a.reg == nil {
		return
	}
	status := a.timelineFolder + " complete"
	if err := a.reg.SetSubjectStatus(ctx, subjectID, status); err != nil {
		a.log.Warn("manifest: registry status update failed",
			slog.String("subject", subjectID),
			slog.String("error", err.Error()))
	}
}

// Read loads a previously written manifest from a subject folder.
func Read(subjectDir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(subjectDir, Filename))
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("manifest: parse %s: %w", Filename, err)
	}
	return &m, nil
}

func nowUTC() string {
	return time.Now().UTC().Format(time.RFC3339)
}
