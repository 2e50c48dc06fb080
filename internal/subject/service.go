package subject

import (
	"context"
	"encoding/json"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ez3davatars/A360-Aging-UI/internal/registry"
)

// ManifestFilename is the per-subject manifest the assembler writes; List
// falls back to scanning these when the registry has no subjects yet.
const ManifestFilename = "subject_manifest.json"

// manifestScanDepth bounds the fallback walk on large roots.
const manifestScanDepth = 6

// Status strings mirrored into the registry and list responses.
const (
	StatusComplete   = "TimelineA complete"
	StatusInProgress = "In Progress"
)

// Service owns subject creation, notes updates, and listing. The JSON
// sidecars on disk are authoritative; the registry mirror is best-effort
// and its failure is reported, not fatal.
type Service struct {
	agingRoot      string
	projectRoot    string
	timelineFolder string
	reg            *registry.Store
	log            *slog.Logger
}

// NewService wires a subject service. reg may be nil when no registry is
// configured (mirroring is skipped).
func NewService(agingRoot, projectRoot, timelineFolder string, reg *registry.Store, log *slog.Logger) *Service {
	return &Service{
		agingRoot:      agingRoot,
		projectRoot:    projectRoot,
		timelineFolder: timelineFolder,
		reg:            reg,
		log:            log,
	}
}

// CreateParams describes a new subject.
type CreateParams struct {
	Sex         string
	Ethnicity   string
	Fitzpatrick string
	Notes       string
}

// CreateResult is the JSON contract the UI consumes after subject creation.
// The excel* keys are the registry mirror outcome.
type CreateResult struct {
	OK                bool   `json:"ok"`
	SubjectID         string `json:"subjectId"`
	Sex               string `json:"sex"`
	Ethnicity         string `json:"ethnicity"`
	Fitzpatrick       string `json:"fitzpatrickTone"`
	Notes             string `json:"notes"`
	BasePathRel       string `json:"basePathRel"`
	SubjectFolderAbs  string `json:"subjectFolderAbs"`
	TimelineFolderAbs string `json:"timelineFolderAbs"`
	TimelineFolderRel string `json:"timelineFolderRel"`
	NotesPath         string `json:"subjectNotesJsonPath"`
	RegistryUpdated   bool   `json:"excelUpdated"`
	RegistryError     string `json:"excelError,omitempty"`
}

// Create allocates the next sequential subject, builds its folder tree and
// notes sidecar, and mirrors the row into the registry.
func (s *Service) Create(ctx context.Context, p CreateParams) (*CreateResult, error) {
	sex := NormalizeSex(p.Sex)
	eth := SafeFolder(p.Ethnicity, "Unsorted")
	fitz := strings.TrimSpace(p.Fitzpatrick)
	if fitz == "" {
		fitz = "III"
	}

	next := ScanMaxNumber(s.agingRoot) + 1
	id := FormatID(next)
	folder := FolderName(next)

	subjectDir := filepath.Join(s.agingRoot, sex, eth, folder)
	timelineDir := filepath.Join(subjectDir, s.timelineFolder)
	if err := os.MkdirAll(timelineDir, 0o755); err != nil {
		return nil, err
	}

	baseRel := s.relBase(subjectDir)

	meta := map[string]any{
		"sex":              sex,
		"ethnicity_group":  eth,
		"fitzpatrick_tone": fitz,
		"created_utc":      nowUTC(),
	}
	notesPath, err := WriteNotes(subjectDir, id, p.Notes, meta)
	if err != nil {
		return nil, err
	}

	res := &CreateResult{
		OK:                true,
		SubjectID:         id,
		Sex:               sex,
		Ethnicity:         eth,
		Fitzpatrick:       fitz,
		Notes:             p.Notes,
		BasePathRel:       baseRel,
		SubjectFolderAbs:  subjectDir,
		TimelineFolderAbs: timelineDir,
		TimelineFolderRel: path.Join(baseRel, s.timelineFolder),
		NotesPath:         notesPath,
	}

	res.RegistryUpdated, res.RegistryError = s.mirror(ctx, registry.Subject{
		ID:          id,
		BasePath:    baseRel,
		Sex:         sex,
		Ethnicity:   eth,
		Fitzpatrick: fitz,
		Notes:       p.Notes,
		FolderName:  folder,
	})

	s.log.Info("subject: created",
		slog.String("subject", id),
		slog.String("folder", subjectDir))
	return res, nil
}

// NotesResult is the JSON contract for a notes update.
type NotesResult struct {
	OK               bool   `json:"ok"`
	SubjectID        string `json:"subjectId"`
	SubjectFolderAbs string `json:"subjectFolderAbs"`
	BasePathRel      string `json:"basePathRel"`
	NotesPath        string `json:"subjectNotesJsonPath"`
	RegistryUpdated  bool   `json:"excelUpdated"`
	RegistryError    string `json:"excelError,omitempty"`
}

// UpdateNotes rewrites a subject's notes sidecar, locating the folder from
// meta hints and creating it under the hinted (or Unsorted) bucket when the
// subject does not exist on disk yet.
func (s *Service) UpdateNotes(ctx context.Context, ref, notes string, meta map[string]any) (*NotesResult, error) {
	id, _, folder, err := ParseID(ref)
	if err != nil {
		return nil, err
	}

	sexHint := metaString(meta, "sex", "Sex", "gender", "Gender")
	ethHint := metaString(meta, "ethnicity_group", "Ethnicity_Group", "ethnicity", "Ethnicity")
	fitzHint := metaString(meta, "fitzpatrick_tone", "Fitzpatrick_Tone", "fitz")
	if sexHint != "" {
		sexHint = NormalizeSex(sexHint)
	}
	if ethHint != "" {
		ethHint = SafeFolder(ethHint, "Unsorted")
	}

	subjectDir, found := LocateFolder(s.agingRoot, folder, sexHint, ethHint)
	if !found {
		sexDir := sexHint
		if sexDir == "" {
			sexDir = "Unsorted"
		}
		ethDir := ethHint
		if ethDir == "" {
			ethDir = "Unsorted"
		}
		subjectDir = filepath.Join(s.agingRoot, SafeFolder(sexDir, "Unsorted"), SafeFolder(ethDir, "Unsorted"), folder)
	}

	metaOut := make(map[string]any, len(meta)+3)
	for k, v := range meta {
		metaOut[k] = v
	}
	if sexHint != "" {
		setDefault(metaOut, "sex", sexHint)
	}
	if ethHint != "" {
		setDefault(metaOut, "ethnicity_group", ethHint)
	}
	if fitzHint != "" {
		setDefault(metaOut, "fitzpatrick_tone", fitzHint)
	}

	notesPath, err := WriteNotes(subjectDir, id, notes, metaOut)
	if err != nil {
		return nil, err
	}

	baseRel := s.relBase(subjectDir)
	res := &NotesResult{
		OK:               true,
		SubjectID:        id,
		SubjectFolderAbs: subjectDir,
		BasePathRel:      baseRel,
		NotesPath:        notesPath,
	}

	res.RegistryUpdated, res.RegistryError = s.mirror(ctx, registry.Subject{
		ID:          id,
		BasePath:    baseRel,
		Sex:         sexHint,
		Ethnicity:   ethHint,
		Fitzpatrick: fitzHint,
		Notes:       notes,
		FolderName:  folder,
	})

	return res, nil
}

// Summary is one subject in a list response. Source says which store it
// came from: the registry or a manifest scan.
type Summary struct {
	SubjectID    string `json:"subject_id"`
	BasePath     string `json:"base_path"`
	Sex          string `json:"sex,omitempty"`
	Ethnicity    string `json:"ethnicity_group,omitempty"`
	Fitzpatrick  string `json:"fitzpatrick_tone,omitempty"`
	Notes        string `json:"notes,omitempty"`
	Status       string `json:"status"`
	LastUpdated  string `json:"last_updated_utc,omitempty"`
	Complete     bool   `json:"complete,omitempty"`
	MissingAges  []int  `json:"missing_ages,omitempty"`
	ManifestPath string `json:"manifest_path,omitempty"`
	Source       string `json:"source"`
}

// List prefers the registry's Subjects sheet and falls back to scanning
// subject_manifest.json files under the aging root when the sheet is empty
// or unreadable.
func (s *Service) List(ctx context.Context) ([]Summary, error) {
	if s.reg != nil {
		subjects, err := s.reg.ListSubjects(ctx)
		if err != nil {
			s.log.Warn("subject: registry list failed, falling back to manifest scan",
				slog.String("error", err.Error()))
		} else if len(subjects) > 0 {
			out := make([]Summary, 0, len(subjects))
			for _, sub := range subjects {
				out = append(out, Summary{
					SubjectID:   sub.ID,
					BasePath:    sub.BasePath,
					Sex:         sub.Sex,
					Ethnicity:   sub.Ethnicity,
					Fitzpatrick: sub.Fitzpatrick,
					Notes:       sub.Notes,
					Status:      sub.Status,
					LastUpdated: sub.LastUpdated,
					Source:      "registry",
				})
			}
			return out, nil
		}
	}
	return s.scanManifests()
}

// scanManifests walks the aging root for subject_manifest.json files.
func (s *Service) scanManifests() ([]Summary, error) {
	var out []Summary
	root := s.agingRoot

	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return nil // unreadable branches are skipped, not fatal
		}
		if d.IsDir() {
			rel, err := filepath.Rel(root, p)
			if err == nil && rel != "." && len(strings.Split(rel, string(filepath.Separator))) > manifestScanDepth {
				return fs.SkipDir
			}
			return nil
		}
		if d.Name() != ManifestFilename {
			return nil
		}

		data, err := os.ReadFile(p)
		if err != nil {
			return nil
		}
		var m struct {
			SubjectID   string `json:"subject_id"`
			Complete    bool   `json:"complete"`
			MissingAges []int  `json:"missing_ages"`
		}
		if err := json.Unmarshal(data, &m); err != nil {
			return nil
		}

		dir := filepath.Dir(p)
		id := strings.ToUpper(strings.TrimSpace(m.SubjectID))
		if id == "" {
			id = strings.ToUpper(filepath.Base(dir))
		}
		status := StatusInProgress
		if m.Complete {
			status = StatusComplete
		}

		baseRel := ""
		if rel, err := filepath.Rel(root, dir); err == nil {
			baseRel = filepath.ToSlash(rel)
		}

		out = append(out, Summary{
			SubjectID:    id,
			BasePath:     baseRel,
			Status:       status,
			Complete:     m.Complete,
			MissingAges:  m.MissingAges,
			ManifestPath: p,
			Source:       "manifest",
		})
		return nil
	})
	if err != nil {
		return out, nil
	}

	sort.Slice(out, func(i, j int) bool { return out[i].SubjectID < out[j].SubjectID })
	return out, nil
}

// mirror pushes the subject row into the registry, best-effort.
func (s *Service) mirror(ctx context.Context, sub registry.Subject) (bool, string) {
	if s.reg == nil {
		return false, ""
	}
	if err := s.reg.UpsertSubject(ctx, sub); err != nil {
		s.log.Warn("subject: registry mirror failed",
			slog.String("subject", sub.ID),
			slog.String("error", err.Error()))
		return false, err.Error()
	}
	return true, ""
}

// relBase computes the Base_Path to record: the subject folder relative to
// the project root (what ingestion joins against), falling back to the
// aging root and finally the folder name.
func (s *Service) relBase(subjectDir string) string {
	if s.projectRoot != "" {
		if rel, err := filepath.Rel(s.projectRoot, subjectDir); err == nil && !strings.HasPrefix(rel, "..") {
			return filepath.ToSlash(rel)
		}
	}
	if rel, err := filepath.Rel(s.agingRoot, subjectDir); err == nil && !strings.HasPrefix(rel, "..") {
		return filepath.ToSlash(rel)
	}
	return filepath.Base(subjectDir)
}

func metaString(meta map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := meta[k]; ok {
			if str, ok := v.(string); ok && strings.TrimSpace(str) != "" {
				return strings.TrimSpace(str)
			}
		}
	}
	return ""
}

func setDefault(m map[string]any, key string, v any) {
	if _, ok := m[key]; !ok {
		m[key] = v
	}
}

func nowUTC() string {
	return time.Now().UTC().Format(time.RFC3339)
}
