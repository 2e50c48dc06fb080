// Package ledger provides the SQLite-backed ingest ledger and the optional
// JSONL dataset index. The ledger is the query surface for "what has been
// ingested"; the registry workbook stays the curator-facing store.
package ledger

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS ingests (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	subject_id     TEXT NOT NULL,
	timeline       TEXT NOT NULL DEFAULT 'A',
	age            INTEGER NOT NULL,
	image_id       TEXT NOT NULL DEFAULT '',
	run_id         TEXT NOT NULL DEFAULT '',
	source_path    TEXT NOT NULL DEFAULT '',
	canonical_path TEXT NOT NULL DEFAULT '',
	bytes          INTEGER NOT NULL DEFAULT 0,
	sha256         TEXT NOT NULL DEFAULT '',
	created_at     DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_ingests_subject ON ingests(subject_id);
CREATE INDEX IF NOT EXISTS idx_ingests_slot ON ingests(subject_id, timeline, age);
`

// Ledger defines the operations the rest of the app needs from the ingest
// ledger. Consumers should depend on this interface rather than the concrete
// *DB type to facilitate testing with fakes.
type Ledger interface {
	RecordIngest(r IngestRow) (int64, error)
	BySubject(subjectID string) ([]IngestRow, error)
	LastForSlot(subjectID, timeline string, age int) (*IngestRow, error)
	Recent(limit int) ([]IngestRow, error)
	All() ([]IngestRow, error)
	CountBySubject() (map[string]int, error)
	Close() error
}

// Verify *DB satisfies Ledger at compile time.
var _ Ledger = (*DB)(nil)

// DB wraps a sql.DB with ledger-specific operations.
type DB struct {
	conn *sql.DB
}

// Open opens (or creates) the SQLite database and applies the schema.
func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("ledger: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ledger: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ledger: apply schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}
