package ledger

import (
	"bufio"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ez3davatars/A360-Aging-UI/internal/apperr"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSchemaCreation(t *testing.T) {
	db := testDB(t)
	var count int
	if err := db.conn.QueryRow(`SELECT count(*) FROM ingests`).Scan(&count); err != nil {
		t.Fatalf("ingests table missing: %v", err)
	}
}

func TestRecordAndQuery(t *testing.T) {
	db := testDB(t)

	id, err := db.RecordIngest(IngestRow{
		SubjectID:     "S004",
		Timeline:      "A",
		Age:           45,
		ImageID:       "S004_A45_Gem",
		RunID:         "CUI_S004_A45_20250101_120000",
		SourcePath:    "/comfy/out/S004_A45_00001_.png",
		CanonicalPath: "/root/Aging/Male/Japanese/subject004/TimelineA/S004_A45.png",
		Bytes:         1234,
		SHA256:        "deadbeef",
	})
	if err != nil {
		t.Fatalf("RecordIngest: %v", err)
	}
	if id == 0 {
		t.Error("expected nonzero id")
	}

	rows, err := db.BySubject("s004") // case-insensitive
	if err != nil {
		t.Fatalf("BySubject: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("len = %d", len(rows))
	}
	got := rows[0]
	if got.ImageID != "S004_A45_Gem" || got.Bytes != 1234 || got.SHA256 != "deadbeef" {
		t.Errorf("row = %+v", got)
	}
	if got.CreatedAt == "" {
		t.Error("created_at not stamped")
	}
}

func TestLastForSlot(t *testing.T) {
	db := testDB(t)

	for i, sha := range []string{"aaa", "bbb"} {
		if _, err := db.RecordIngest(IngestRow{
			SubjectID: "S010", Timeline: "A", Age: 20,
			SHA256: sha, Bytes: int64(i + 1),
		}); err != nil {
			t.Fatal(err)
		}
	}

	last, err := db.LastForSlot("S010", "A", 20)
	if err != nil {
		t.Fatalf("LastForSlot: %v", err)
	}
	if last.SHA256 != "bbb" {
		t.Errorf("sha = %q, want latest", last.SHA256)
	}

	_, err = db.LastForSlot("S010", "A", 70)
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestRecentOrderAndLimit(t *testing.T) {
	db := testDB(t)
	for age := 20; age <= 30; age += 5 {
		if _, err := db.RecordIngest(IngestRow{SubjectID: "S001", Timeline: "A", Age: age}); err != nil {
			t.Fatal(err)
		}
	}

	rows, err := db.Recent(2)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("len = %d", len(rows))
	}
	if rows[0].Age != 30 || rows[1].Age != 25 {
		t.Errorf("order = %d, %d", rows[0].Age, rows[1].Age)
	}
}

func TestAllOldestFirst(t *testing.T) {
	db := testDB(t)
	for _, r := range []IngestRow{
		{SubjectID: "S002", Timeline: "A", Age: 70},
		{SubjectID: "S001", Timeline: "A", Age: 20},
	} {
		if _, err := db.RecordIngest(r); err != nil {
			t.Fatal(err)
		}
	}

	rows, err := db.All()
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("len = %d", len(rows))
	}
	if rows[0].SubjectID != "S002" || rows[1].SubjectID != "S001" {
		t.Errorf("order = %s, %s", rows[0].SubjectID, rows[1].SubjectID)
	}
}

func TestCountBySubject(t *testing.T) {
	db := testDB(t)
	for _, r := range []IngestRow{
		{SubjectID: "S001", Timeline: "A", Age: 20},
		{SubjectID: "S001", Timeline: "A", Age: 25},
		{SubjectID: "S002", Timeline: "A", Age: 20},
	} {
		if _, err := db.RecordIngest(r); err != nil {
			t.Fatal(err)
		}
	}

	counts, err := db.CountBySubject()
	if err != nil {
		t.Fatal(err)
	}
	if counts["S001"] != 2 || counts["S002"] != 1 {
		t.Errorf("counts = %v", counts)
	}
}

func TestDatasetIndexAppend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dataset_index.jsonl")
	idx := NewDatasetIndex(path)

	for _, age := range []int{20, 25} {
		err := idx.Append(IndexRecord{
			SubjectID: "S004",
			Timeline:  "A",
			Age:       age,
			Filename:  "S004_A20.png",
			Labels:    Labels{Sex: "Male", Ethnicity: "Japanese", Fitzpatrick: "III"},
		})
		if err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	var lines int
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines++
		var rec map[string]any
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			t.Fatalf("line %d not json: %v", lines, err)
		}
		if rec["schema"] != IndexSchema {
			t.Errorf("schema = %v", rec["schema"])
		}
		if rec["stage"] != "TimelineImage" {
			t.Errorf("stage = %v", rec["stage"])
		}
		if rec["utc"] == "" {
			t.Error("utc not stamped")
		}
		labels, ok := rec["labels"].(map[string]any)
		if !ok || labels["ethnicity_group"] != "Japanese" {
			t.Errorf("labels = %v", rec["labels"])
		}
	}
	if lines != 2 {
		t.Errorf("lines = %d", lines)
	}
}
