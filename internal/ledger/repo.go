package ledger

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ez3davatars/A360-Aging-UI/internal/apperr"
)

// IngestRow is one completed ingest in the ingests table.
type IngestRow struct {
	ID            int64  `json:"id"`
	SubjectID     string `json:"subject_id"`
	Timeline      string `json:"timeline"`
	Age           int    `json:"age"`
	ImageID       string `json:"image_id"`
	RunID         string `json:"run_id"`
	SourcePath    string `json:"source_path"`
	CanonicalPath string `json:"canonical_path"`
	Bytes         int64  `json:"bytes"`
	SHA256        string `json:"sha256"`
	CreatedAt     string `json:"created_at"`
}

// RecordIngest appends a row and returns its id. CreatedAt defaults to the
// current UTC time when empty.
func (db *DB) RecordIngest(r IngestRow) (int64, error) {
	createdAt := r.CreatedAt
	if createdAt == "" {
		createdAt = time.Now().UTC().Format(time.RFC3339)
	}
	res, err := db.conn.Exec(`
		INSERT INTO ingests
			(subject_id, timeline, age, image_id, run_id, source_path, canonical_path, bytes, sha256, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.SubjectID, r.Timeline, r.Age, r.ImageID, r.RunID, r.SourcePath, r.CanonicalPath, r.Bytes, r.SHA256, createdAt)
	if err != nil {
		return 0, fmt.Errorf("ledger: record ingest: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("ledger: last insert id: %w", err)
	}
	return id, nil
}

const selectCols = `id, subject_id, timeline, age, image_id, run_id, source_path, canonical_path, bytes, sha256, created_at`

// BySubject returns all ingests for a subject, oldest first.
func (db *DB) BySubject(subjectID string) ([]IngestRow, error) {
	rows, err := db.conn.Query(`
		SELECT `+selectCols+` FROM ingests
		WHERE subject_id = ? COLLATE NOCASE
		ORDER BY id ASC
	`, subjectID)
	if err != nil {
		return nil, fmt.Errorf("ledger: by subject: %w", err)
	}
	return scanRows(rows)
}

// LastForSlot returns the most recent ingest for one (subject, timeline, age)
// slot, or apperr.ErrNotFound when the slot has never been ingested.
func (db *DB) LastForSlot(subjectID, timeline string, age int) (*IngestRow, error) {
	row := db.conn.QueryRow(`
		SELECT `+selectCols+` FROM ingests
		WHERE subject_id = ? COLLATE NOCASE AND timeline = ? AND age = ?
		ORDER BY id DESC LIMIT 1
	`, subjectID, timeline, age)

	r, err := scanRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("ledger: slot %s/%s/%d: %w", subjectID, timeline, age, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: last for slot: %w", err)
	}
	return r, nil
}

// Recent returns the newest ingests first, capped at limit.
func (db *DB) Recent(limit int) ([]IngestRow, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.conn.Query(`
		SELECT `+selectCols+` FROM ingests
		ORDER BY id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("ledger: recent: %w", err)
	}
	return scanRows(rows)
}

// All returns every ingest oldest first, for dataset export.
func (db *DB) All() ([]IngestRow, error) {
	rows, err := db.conn.Query(`
		SELECT ` + selectCols + ` FROM ingests ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("ledger: all: %w", err)
	}
	return scanRows(rows)
}

// CountBySubject returns ingest counts keyed by subject id.
func (db *DB) CountBySubject() (map[string]int, error) {
	rows, err := db.conn.Query(`SELECT subject_id, count(*) FROM ingests GROUP BY subject_id`)
	if err != nil {
		return nil, fmt.Errorf("ledger: count by subject: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var id string
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		out[id] = n
	}
	return out, rows.Err()
}

func scanRows(rows *sql.Rows) ([]IngestRow, error) {
	defer rows.Close()
	var out []IngestRow
	for rows.Next() {
		var r IngestRow
		if err := rows.Scan(&r.ID, &r.SubjectID, &r.Timeline, &r.Age, &r.ImageID, &r.RunID,
			&r.SourcePath, &r.CanonicalPath, &r.Bytes, &r.SHA256, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanRow(row *sql.Row) (*IngestRow, error) {
	var r IngestRow
	if err := row.Scan(&r.ID, &r.SubjectID, &r.Timeline, &r.Age, &r.ImageID, &r.RunID,
		&r.SourcePath, &r.CanonicalPath, &r.Bytes, &r.SHA256, &r.CreatedAt); err != nil {
		return nil, err
	}
	return &r, nil
}
