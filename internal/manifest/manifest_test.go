package manifest

import (
	"archive/zip"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/ez3davatars/A360-Aging-UI/internal/registry"
	"github.com/ez3davatars/A360-Aging-UI/internal/resolve"
	"github.com/ez3davatars/A360-Aging-UI/internal/subject"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testAssembler(t *testing.T) (*Assembler, *registry.Store) {
	t.Helper()
	reg, err := registry.Open(filepath.Join(t.TempDir(), "master.xlsx"), registry.Options{
		Timeline:       "A",
		TimelineFolder: "TimelineA",
	}, discardLogger())
	if err != nil {
		t.Fatalf("registry.Open: %v", err)
	}
	return NewAssembler("A", "TimelineA", reg, discardLogger()), reg
}

func subjectTree(t *testing.T, ages []int, id string) (subjectDir, timelineDir string) {
	t.Helper()
	subjectDir = filepath.Join(t.TempDir(), "subject021")
	timelineDir = filepath.Join(subjectDir, "TimelineA")
	if err := os.MkdirAll(timelineDir, 0o755); err != nil {
		t.Fatal(err)
	}
	for _, age := range ages {
		p := resolve.CanonicalPath(timelineDir, resolve.Slot{SubjectID: id, Age: age})
		if err := os.WriteFile(p, []byte("png-bytes-for-age"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return subjectDir, timelineDir
}

func TestAssembleIncomplete(t *testing.T) {
	asm, _ := testAssembler(t)
	subjectDir, _ := subjectTree(t, []int{20, 45, 70}, "S021")

	res, err := asm.Assemble(context.Background(), "S021", subjectDir)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if res.Complete {
		t.Error("3 of 11 ages should not be complete")
	}
	if res.Images != 3 || len(res.MissingAges) != len(resolve.Ages)-3 {
		t.Errorf("result = %+v", res)
	}
	if res.ZipPath != "" {
		t.Error("incomplete subject must not produce an archive")
	}

	m, err := Read(subjectDir)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if m.SchemaVersion != SchemaVersion || m.SubjectID != "S021" || m.Timeline != "A" {
		t.Errorf("manifest = %+v", m)
	}
	if m.MissingAges[0] != 25 {
		t.Errorf("missing = %v", m.MissingAges)
	}
	for _, img := range m.Images {
		if img.SHA256 == "" || img.Bytes == 0 {
			t.Errorf("image entry = %+v", img)
		}
	}
}

func TestAssembleCompleteWritesArchive(t *testing.T) {
	asm, reg := testAssembler(t)
	subjectDir, _ := subjectTree(t, resolve.Ages, "S021")

	ctx := context.Background()
	if err := reg.UpsertSubject(ctx, registry.Subject{ID: "S021", Sex: "Female"}); err != nil {
		t.Fatal(err)
	}

	res, err := asm.Assemble(ctx, "S021", subjectDir)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if !res.Complete || len(res.MissingAges) != 0 {
		t.Fatalf("result = %+v", res)
	}
	if res.ZipPath != filepath.Join(subjectDir, "S021_export.zip") {
		t.Errorf("zip path = %q", res.ZipPath)
	}

	zr, err := zip.OpenReader(res.ZipPath)
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	defer zr.Close()
	names := make(map[string]bool, len(zr.File))
	for _, f := range zr.File {
		names[f.Name] = true
	}
	if len(zr.File) != len(resolve.Ages)+1 {
		t.Errorf("archive holds %d entries", len(zr.File))
	}
	if !names[Filename] || !names["S021_A20.png"] || !names["S021_A70.png"] {
		t.Errorf("archive names = %v", names)
	}

	// No temp archive debris.
	leftovers, _ := filepath.Glob(filepath.Join(subjectDir, ".a360-zip-*"))
	if len(leftovers) != 0 {
		t.Errorf("temp archives left behind: %v", leftovers)
	}

	// Registry row flipped to complete.
	sub, err := reg.GetSubject(ctx, "S021")
	if err != nil {
		t.Fatal(err)
	}
	if sub.Status != "TimelineA complete" {
		t.Errorf("status = %q", sub.Status)
	}
}

func TestAssembleIsRerunnable(t *testing.T) {
	asm, _ := testAssembler(t)
	subjectDir, _ := subjectTree(t, resolve.Ages, "S021")
	ctx := context.Background()

	first, err := asm.Assemble(ctx, "S021", subjectDir)
	if err != nil {
		t.Fatal(err)
	}
	second, err := asm.Assemble(ctx, "S021", subjectDir)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if !second.Complete || second.ZipPath != first.ZipPath {
		t.Errorf("second = %+v", second)
	}

	m, err := Read(subjectDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(m.Images) != len(resolve.Ages) {
		t.Errorf("images = %d", len(m.Images))
	}
}

func TestAssembleInjectsNotes(t *testing.T) {
	asm, _ := testAssembler(t)
	subjectDir, _ := subjectTree(t, []int{20}, "S021")

	_, err := subject.WriteNotes(subjectDir, "S021", "young anchor approved", map[string]any{
		"sex": "Female",
	})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := asm.Assemble(context.Background(), "S021", subjectDir); err != nil {
		t.Fatal(err)
	}
	m, err := Read(subjectDir)
	if err != nil {
		t.Fatal(err)
	}
	if m.Notes != "young anchor approved" {
		t.Errorf("notes = %q", m.Notes)
	}
	if m.NotesMeta["sex"] != "Female" {
		t.Errorf("meta = %v", m.NotesMeta)
	}
}

func TestAssembleMissingTimelineDir(t *testing.T) {
	asm, _ := testAssembler(t)
	if _, err := asm.Assemble(context.Background(), "S021", t.TempDir()); err == nil {
		t.Fatal("expected error for missing timeline folder")
	}
}
