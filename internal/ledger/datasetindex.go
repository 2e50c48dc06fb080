package ledger

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// IndexSchema identifies dataset index records for downstream ML tooling.
const IndexSchema = "A360_dataset_index_v1"

// Labels carries the subject metadata attached to every index record.
type Labels struct {
	Sex         string `json:"sex"`
	Ethnicity   string `json:"ethnicity_group"`
	Fitzpatrick string `json:"fitzpatrick_tone"`
}

// IndexRecord is one line of the dataset index. Field names follow the
// consumer contract; do not rename them.
type IndexRecord struct {
	Schema         string `json:"schema"`
	UTC            string `json:"utc"`
	SubjectID      string `json:"subjectId"`
	Timeline       string `json:"timeline"`
	Age            int    `json:"age"`
	Stage          string `json:"stage"`
	SrcPath        string `json:"srcPath"`
	DestPath       string `json:"destPath"`
	DestRel        string `json:"destRel"`
	BasePathRel    string `json:"basePathRel"`
	TimelineFolder string `json:"timelineFolderName"`
	Filename       string `json:"filename"`
	ImageID        string `json:"imageId"`
	RunID          string `json:"runId"`
	Bytes          int64  `json:"bytes"`
	SHA256         string `json:"sha256"`
	Labels         Labels `json:"labels"`
}

// DatasetIndex appends ML-ready JSONL records, one per stored image.
type DatasetIndex struct {
	mu   sync.Mutex
	path string
}

// NewDatasetIndex returns an appender writing to path.
func NewDatasetIndex(path string) *DatasetIndex {
	return &DatasetIndex{path: path}
}

// Path returns the index file location.
func (d *DatasetIndex) Path() string {
	return d.path
}

// Append writes one record as a JSON line, stamping Schema, Stage, and UTC
// when the caller left them empty.
func (d *DatasetIndex) Append(rec IndexRecord) error {
	if rec.Schema == "" {
		rec.Schema = IndexSchema
	}
	if rec.Stage == "" {
		rec.Stage = "TimelineImage"
	}
	if rec.UTC == "" {
		rec.UTC = time.Now().UTC().Format(time.RFC3339)
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("ledger: marshal index record: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(d.path), 0o755); err != nil {
		return fmt.Errorf("ledger: create index dir: %w", err)
	}
	f, err := os.OpenFile(d.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("ledger: open index: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("ledger: append index record: %w", err)
	}
	return nil
}
