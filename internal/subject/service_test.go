package subject

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/ez3davatars/A360-Aging-UI/internal/registry"
)

func testService(t *testing.T) (*Service, string) {
	t.Helper()
	projectRoot := t.TempDir()
	agingRoot := filepath.Join(projectRoot, "Aging")
	if err := os.MkdirAll(agingRoot, 0o755); err != nil {
		t.Fatal(err)
	}

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg, err := registry.Open(filepath.Join(projectRoot, "master.xlsx"), registry.Options{
		Timeline:       "A",
		TimelineFolder: "TimelineA",
	}, log)
	if err != nil {
		t.Fatalf("registry.Open: %v", err)
	}

	return NewService(agingRoot, projectRoot, "TimelineA", reg, log), projectRoot
}

func TestCreateAllocatesSequentially(t *testing.T) {
	svc, _ := testService(t)
	ctx := context.Background()

	first, err := svc.Create(ctx, CreateParams{Sex: "female", Ethnicity: "Polynesian", Fitzpatrick: "IV"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if first.SubjectID != "S001" {
		t.Errorf("first id = %q", first.SubjectID)
	}
	if !first.OK || !first.RegistryUpdated {
		t.Errorf("result = %+v", first)
	}

	second, err := svc.Create(ctx, CreateParams{Sex: "M", Ethnicity: "Japanese", Fitzpatrick: ""})
	if err != nil {
		t.Fatal(err)
	}
	if second.SubjectID != "S002" {
		t.Errorf("second id = %q", second.SubjectID)
	}
	if second.Fitzpatrick != "III" {
		t.Errorf("fitz default = %q", second.Fitzpatrick)
	}
	if second.Sex != "Male" {
		t.Errorf("sex = %q", second.Sex)
	}

	// Folder tree and notes sidecar exist.
	if _, err := os.Stat(second.TimelineFolderAbs); err != nil {
		t.Errorf("timeline folder missing: %v", err)
	}
	n, err := ReadNotes(second.SubjectFolderAbs)
	if err != nil {
		t.Fatalf("ReadNotes: %v", err)
	}
	if n.Subject != "S002" {
		t.Errorf("notes subject = %q", n.Subject)
	}
	if n.NotesMeta["ethnicity_group"] != "Japanese" {
		t.Errorf("notes meta = %v", n.NotesMeta)
	}
}

func TestCreateBasePathJoinsFromProjectRoot(t *testing.T) {
	svc, projectRoot := testService(t)

	res, err := svc.Create(context.Background(), CreateParams{Sex: "f", Ethnicity: "Nordic"})
	if err != nil {
		t.Fatal(err)
	}
	joined := filepath.Join(projectRoot, filepath.FromSlash(res.BasePathRel))
	if joined != res.SubjectFolderAbs {
		t.Errorf("projectRoot + basePathRel = %q, want %q", joined, res.SubjectFolderAbs)
	}
}

func TestUpdateNotes_ExistingSubject(t *testing.T) {
	svc, _ := testService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, CreateParams{Sex: "Female", Ethnicity: "Polynesian"})
	if err != nil {
		t.Fatal(err)
	}

	res, err := svc.UpdateNotes(ctx, created.SubjectID, "updated notes", map[string]any{
		"sex":             "Female",
		"ethnicity_group": "Polynesian",
	})
	if err != nil {
		t.Fatalf("UpdateNotes: %v", err)
	}
	if res.SubjectFolderAbs != created.SubjectFolderAbs {
		t.Errorf("located %q, want %q", res.SubjectFolderAbs, created.SubjectFolderAbs)
	}

	n, err := ReadNotes(created.SubjectFolderAbs)
	if err != nil {
		t.Fatal(err)
	}
	if n.Notes != "updated notes" {
		t.Errorf("notes = %q", n.Notes)
	}
}

func TestUpdateNotes_UnknownSubjectCreatesBucket(t *testing.T) {
	svc, _ := testService(t)

	res, err := svc.UpdateNotes(context.Background(), "s42", "orphan notes", nil)
	if err != nil {
		t.Fatalf("UpdateNotes: %v", err)
	}
	if res.SubjectID != "S042" {
		t.Errorf("id = %q", res.SubjectID)
	}
	if filepath.Base(filepath.Dir(filepath.Dir(res.SubjectFolderAbs))) != "Unsorted" {
		t.Errorf("expected Unsorted bucket, got %q", res.SubjectFolderAbs)
	}
	if _, err := ReadNotes(res.SubjectFolderAbs); err != nil {
		t.Errorf("notes not written: %v", err)
	}
}

func TestUpdateNotes_BadRef(t *testing.T) {
	svc, _ := testService(t)
	if _, err := svc.UpdateNotes(context.Background(), "not-an-id", "x", nil); err == nil {
		t.Error("expected error for invalid subject ref")
	}
}

func TestListPrefersRegistry(t *testing.T) {
	svc, _ := testService(t)
	ctx := context.Background()

	if _, err := svc.Create(ctx, CreateParams{Sex: "Male", Ethnicity: "Japanese"}); err != nil {
		t.Fatal(err)
	}

	subjects, err := svc.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(subjects) != 1 {
		t.Fatalf("len = %d", len(subjects))
	}
	if subjects[0].Source != "registry" {
		t.Errorf("source = %q", subjects[0].Source)
	}
	if subjects[0].Status != registry.StatusNotStarted {
		t.Errorf("status = %q", subjects[0].Status)
	}
}

func TestListFallsBackToManifests(t *testing.T) {
	projectRoot := t.TempDir()
	agingRoot := filepath.Join(projectRoot, "Aging")
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	// No registry configured at all.
	svc := NewService(agingRoot, projectRoot, "TimelineA", nil, log)

	subjectDir := filepath.Join(agingRoot, "Female", "Nordic", "subject003")
	if err := os.MkdirAll(subjectDir, 0o755); err != nil {
		t.Fatal(err)
	}
	manifest := map[string]any{
		"subject_id":   "S003",
		"complete":     true,
		"missing_ages": []int{},
	}
	data, _ := json.Marshal(manifest)
	if err := os.WriteFile(filepath.Join(subjectDir, ManifestFilename), data, 0o644); err != nil {
		t.Fatal(err)
	}

	subjects, err := svc.List(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(subjects) != 1 {
		t.Fatalf("len = %d", len(subjects))
	}
	got := subjects[0]
	if got.SubjectID != "S003" || got.Source != "manifest" {
		t.Errorf("summary = %+v", got)
	}
	if got.Status != StatusComplete {
		t.Errorf("status = %q", got.Status)
	}
	if got.BasePath != "Female/Nordic/subject003" {
		t.Errorf("base path = %q", got.BasePath)
	}
}
