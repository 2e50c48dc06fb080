package registry

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

var subjectHeaders = []string{
	"SubjectID", "Base_Path", "Sex", "Ethnicity_Group", "Fitzpatrick_Tone",
	"Notes", "Image_Set_Status", "Last_Updated_Utc", "Folder_Name",
}

var imageHeaders = []string{
	"SubjectID", "Timeline", "TargetAge", "FolderPath", "Filename", "ImageID",
	"GenerationStage", "SourceModelTool", "BaseInput20_ID", "BaseInput70_ID", "RunID",
}

var promptHeaders = []string{
	"SubjectID", "Timeline", "TargetAge", "PromptType", "BaseImageID",
	"OutputImageID", "Sex", "Ethnicity_Group", "Fitzpatrick_Tone", "PromptText",
}

func writeHeader(f *excelize.File, sheet string, headers []string) error {
	row := make([]interface{}, len(headers))
	for i, h := range headers {
		row[i] = h
	}
	if err := f.SetSheetRow(sheet, "A1", &row); err != nil {
		return fmt.Errorf("registry: write %s header: %w", sheet, err)
	}
	return nil
}

// loadSheet returns the header row and data rows of a sheet. A missing
// sheet or an empty one yields the required headers and no rows.
func loadSheet(f *excelize.File, sheet string, required []string) (header []string, rows [][]string, err error) {
	all, err := f.GetRows(sheet)
	if err != nil {
		// Sheet absent; treat as empty with the canonical header.
		return append([]string(nil), required...), nil, nil
	}
	if len(all) == 0 {
		return append([]string(nil), required...), nil, nil
	}

	header = make([]string, len(all[0]))
	for i, h := range all[0] {
		header[i] = strings.TrimSpace(h)
	}
	// Extend with any required columns the workbook lacks.
	for _, want := range required {
		if colIndex(header, want) < 0 {
			header = append(header, want)
		}
	}
	return header, all[1:], nil
}

// colIndex finds a header column by name, or -1.
func colIndex(header []string, name string) int {
	for i, h := range header {
		if h == name {
			return i
		}
	}
	return -1
}

// cellAt reads a cell tolerantly: rows from GetRows are ragged.
func cellAt(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

// parseAge accepts both integer and spreadsheet-float renderings ("45",
// "45.0") of a target age.
func parseAge(s string) (int, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n, true
	}
	if fl, err := strconv.ParseFloat(s, 64); err == nil {
		return int(fl), true
	}
	return 0, false
}

// setCell writes one cell by zero-based column index and one-based row.
func setCell(f *excelize.File, sheet string, col0, row1 int, v interface{}) error {
	cell, err := excelize.CoordinatesToCellName(col0+1, row1)
	if err != nil {
		return fmt.Errorf("registry: cell name: %w", err)
	}
	if err := f.SetCellValue(sheet, cell, v); err != nil {
		return fmt.Errorf("registry: set cell %s!%s: %w", sheet, cell, err)
	}
	return nil
}

// replaceSheet rewrites a whole sheet: header first, then rows.
func replaceSheet(f *excelize.File, sheet string, header []string, rows [][]interface{}) error {
	if idx, err := f.GetSheetIndex(sheet); err == nil && idx >= 0 {
		if err := f.DeleteSheet(sheet); err != nil {
			return fmt.Errorf("registry: delete sheet %s: %w", sheet, err)
		}
	}
	if _, err := f.NewSheet(sheet); err != nil {
		return fmt.Errorf("registry: recreate sheet %s: %w", sheet, err)
	}
	if err := writeHeader(f, sheet, header); err != nil {
		return err
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return fmt.Errorf("registry: cell name: %w", err)
		}
		r := row
		if err := f.SetSheetRow(sheet, cell, &r); err != nil {
			return fmt.Errorf("registry: write %s row %d: %w", sheet, i+2, err)
		}
	}
	return nil
}
