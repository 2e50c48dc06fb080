package registry

import (
	"context"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/ez3davatars/A360-Aging-UI/internal/apperr"
)

// Subject is one row of the Subjects sheet.
type Subject struct {
	ID          string `json:"subject_id"`
	BasePath    string `json:"base_path"`
	Sex         string `json:"sex"`
	Ethnicity   string `json:"ethnicity_group"`
	Fitzpatrick string `json:"fitzpatrick_tone"`
	Notes       string `json:"notes"`
	Status      string `json:"status"`
	LastUpdated string `json:"last_updated_utc"`
	FolderName  string `json:"folder_name,omitempty"`
}

// StatusNotStarted is the initial Image_Set_Status for a new subject.
const StatusNotStarted = "Not started"

func subjectFromRow(header []string, row []string) Subject {
	get := func(name string) string { return cellAt(row, colIndex(header, name)) }
	fitz := get("Fitzpatrick_Tone")
	if fitz == "" {
		fitz = get("Fitzpatrick")
	}
	return Subject{
		ID:          strings.ToUpper(get("SubjectID")),
		BasePath:    get("Base_Path"),
		Sex:         get("Sex"),
		Ethnicity:   get("Ethnicity_Group"),
		Fitzpatrick: fitz,
		Notes:       get("Notes"),
		Status:      get("Image_Set_Status"),
		LastUpdated: get("Last_Updated_Utc"),
		FolderName:  get("Folder_Name"),
	}
}

// ListSubjects returns every Subjects row with a non-empty SubjectID.
func (s *Store) ListSubjects(ctx context.Context) ([]Subject, error) {
	var out []Subject
	err := s.view(ctx, "list subjects", func(f *excelize.File) error {
		header, rows, err := loadSheet(f, sheetSubjects, subjectHeaders)
		if err != nil {
			return err
		}
		for _, row := range rows {
			sub := subjectFromRow(header, row)
			if sub.ID == "" {
				continue
			}
			out = append(out, sub)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetSubject returns the row for id (case-insensitive) or apperr.ErrNotFound.
func (s *Store) GetSubject(ctx context.Context, id string) (*Subject, error) {
	subjects, err := s.ListSubjects(ctx)
	if err != nil {
		return nil, err
	}
	for i := range subjects {
		if strings.EqualFold(subjects[i].ID, id) {
			return &subjects[i], nil
		}
	}
	return nil, apperr.ErrNotFound
}

// UpsertSubject inserts or updates a Subjects row in place. Image_Set_Status
// is only initialized when the cell is empty, preserving progress recorded
// by earlier ingests.
func (s *Store) UpsertSubject(ctx context.Context, sub Subject) error {
	return s.update(ctx, "upsert subject", func(f *excelize.File) error {
		header, rows, err := loadSheet(f, sheetSubjects, subjectHeaders)
		if err != nil {
			return err
		}
		// Persist any header extension loadSheet added.
		if err := writeHeader(f, sheetSubjects, header); err != nil {
			return err
		}

		idCol := colIndex(header, "SubjectID")
		target := -1 // one-based sheet row
		for i, row := range rows {
			if strings.EqualFold(cellAt(row, idCol), sub.ID) {
				target = i + 2
				break
			}
		}
		if target < 0 {
			target = len(rows) + 2
		}

		set := func(name, value string) error {
			return setCell(f, sheetSubjects, colIndex(header, name), target, value)
		}
		if err := set("SubjectID", strings.ToUpper(sub.ID)); err != nil {
			return err
		}
		if err := set("Base_Path", sub.BasePath); err != nil {
			return err
		}
		if err := set("Sex", sub.Sex); err != nil {
			return err
		}
		if err := set("Ethnicity_Group", sub.Ethnicity); err != nil {
			return err
		}
		if err := set("Fitzpatrick_Tone", sub.Fitzpatrick); err != nil {
			return err
		}
		if err := set("Notes", sub.Notes); err != nil {
			return err
		}
		if sub.FolderName != "" {
			if err := set("Folder_Name", sub.FolderName); err != nil {
				return err
			}
		}

		statusCol := colIndex(header, "Image_Set_Status")
		existing := ""
		if target-2 < len(rows) {
			existing = cellAt(rows[target-2], statusCol)
		}
		if existing == "" {
			status := sub.Status
			if status == "" {
				status = StatusNotStarted
			}
			if err := set("Image_Set_Status", status); err != nil {
				return err
			}
		}

		return set("Last_Updated_Utc", nowUTC())
	})
}

// SetSubjectStatus updates Image_Set_Status for an existing subject.
func (s *Store) SetSubjectStatus(ctx context.Context, id, status string) error {
	return s.update(ctx, "set subject status", func(f *excelize.File) error {
		header, rows, err := loadSheet(f, sheetSubjects, subjectHeaders)
		if err != nil {
			return err
		}
		idCol := colIndex(header, "SubjectID")
		for i, row := range rows {
			if strings.EqualFold(cellAt(row, idCol), id) {
				if err := setCell(f, sheetSubjects, colIndex(header, "Image_Set_Status"), i+2, status); err != nil {
					return err
				}
				return setCell(f, sheetSubjects, colIndex(header, "Last_Updated_Utc"), i+2, nowUTC())
			}
		}
		return apperr.ErrNotFound
	})
}
