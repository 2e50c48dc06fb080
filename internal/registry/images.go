package registry

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/ez3davatars/A360-Aging-UI/internal/prompts"
)

// GenerationStageAgeGen marks rows produced by the aging workflow.
const GenerationStageAgeGen = "ComfyUI_AgeGen"

// anchor ages carry hand-curated metadata; the watcher only fills
// generation fields for the in-between ages.
func isAnchorAge(age int) bool { return age == 20 || age == 70 }

// ImageRecord is one row of the Images sheet. Extra preserves columns this
// adapter does not model so a full-sheet rewrite never loses operator data.
type ImageRecord struct {
	SubjectID       string `json:"subject_id"`
	Timeline        string `json:"timeline"`
	Age             int    `json:"target_age"`
	FolderPath      string `json:"folder_path"`
	Filename        string `json:"filename"`
	ImageID         string `json:"image_id"`
	GenerationStage string `json:"generation_stage,omitempty"`
	SourceModelTool string `json:"source_model_tool,omitempty"`
	BaseInput20     string `json:"base_input_20_id,omitempty"`
	BaseInput70     string `json:"base_input_70_id,omitempty"`
	RunID           string `json:"run_id,omitempty"`

	Extra map[string]string `json:"-"`
}

var imageFieldCols = map[string]bool{
	"SubjectID": true, "Timeline": true, "TargetAge": true, "FolderPath": true,
	"Filename": true, "ImageID": true, "GenerationStage": true,
	"SourceModelTool": true, "BaseInput20_ID": true, "BaseInput70_ID": true,
	"RunID": true,
}

func imageFromRow(header []string, row []string) ImageRecord {
	get := func(name string) string { return cellAt(row, colIndex(header, name)) }
	age, _ := parseAge(get("TargetAge"))

	rec := ImageRecord{
		SubjectID:       get("SubjectID"),
		Timeline:        get("Timeline"),
		Age:             age,
		FolderPath:      get("FolderPath"),
		Filename:        get("Filename"),
		ImageID:         get("ImageID"),
		GenerationStage: get("GenerationStage"),
		SourceModelTool: get("SourceModelTool"),
		BaseInput20:     get("BaseInput20_ID"),
		BaseInput70:     get("BaseInput70_ID"),
		RunID:           get("RunID"),
	}
	for i, name := range header {
		if name == "" || imageFieldCols[name] {
			continue
		}
		if v := cellAt(row, i); v != "" {
			if rec.Extra == nil {
				rec.Extra = make(map[string]string)
			}
			rec.Extra[name] = v
		}
	}
	return rec
}

func (r ImageRecord) toRow(header []string) []interface{} {
	row := make([]interface{}, len(header))
	for i, name := range header {
		switch name {
		case "SubjectID":
			row[i] = r.SubjectID
		case "Timeline":
			row[i] = r.Timeline
		case "TargetAge":
			row[i] = r.Age
		case "FolderPath":
			row[i] = r.FolderPath
		case "Filename":
			row[i] = r.Filename
		case "ImageID":
			row[i] = r.ImageID
		case "GenerationStage":
			row[i] = r.GenerationStage
		case "SourceModelTool":
			row[i] = r.SourceModelTool
		case "BaseInput20_ID":
			row[i] = r.BaseInput20
		case "BaseInput70_ID":
			row[i] = r.BaseInput70
		case "RunID":
			row[i] = r.RunID
		default:
			row[i] = r.Extra[name]
		}
	}
	return row
}

// ImageID builds the canonical image identifier for a slot.
func ImageID(subjectID string, age int) string {
	return fmt.Sprintf("%s_A%02d_Gem", subjectID, age)
}

// NewRunID stamps a fresh run identifier for an ingested image.
func NewRunID(subjectID string, age int, at time.Time) string {
	return fmt.Sprintf("CUI_%s_A%02d_%s", subjectID, age, at.Format("20060102_150405"))
}

// CommitResult reports the identifiers recorded for an ingested image.
type CommitResult struct {
	ImageID string
	RunID   string
}

// CommitImage upserts the Images row for one ingested file and rebuilds the
// Prompts_Auto sheet, all in a single fresh read-modify-write. New rows
// inherit unmodeled columns from a template row of the same subject
// (preferring the age-20 anchor), mirroring how operators seed a subject's
// grid from its first row.
func (s *Store) CommitImage(ctx context.Context, subjectID string, age int, basePathRel, destFilename string) (*CommitResult, error) {
	relFolder := strings.TrimRight(basePathRel, "/\\") + "/" + s.opts.TimelineFolder
	relFolder = strings.ReplaceAll(relFolder, "\\", "/")

	res := &CommitResult{ImageID: ImageID(subjectID, age)}
	if !isAnchorAge(age) {
		res.RunID = NewRunID(subjectID, age, time.Now())
	}

	err := s.update(ctx, "commit image", func(f *excelize.File) error {
		subjHeader, subjRows, err := loadSheet(f, sheetSubjects, subjectHeaders)
		if err != nil {
			return err
		}
		imgHeader, imgRows, err := loadSheet(f, sheetImages, imageHeaders)
		if err != nil {
			return err
		}

		records := make([]ImageRecord, 0, len(imgRows)+1)
		for _, row := range imgRows {
			rec := imageFromRow(imgHeader, row)
			if rec.SubjectID == "" && rec.Filename == "" && rec.ImageID == "" {
				continue
			}
			records = append(records, rec)
		}

		target := -1
		for i := range records {
			if strings.EqualFold(records[i].SubjectID, subjectID) &&
				records[i].Timeline == s.opts.Timeline &&
				records[i].Age == age {
				target = i
				break
			}
		}
		if target < 0 {
			rec := ImageRecord{}
			if tpl := chooseTemplate(records, subjectID, s.opts.Timeline); tpl != nil {
				rec = *tpl
				rec.Extra = cloneExtra(tpl.Extra)
			}
			records = append(records, rec)
			target = len(records) - 1
		}

		rec := &records[target]
		rec.SubjectID = subjectID
		rec.Timeline = s.opts.Timeline
		rec.Age = age
		rec.FolderPath = relFolder
		rec.Filename = destFilename
		rec.ImageID = res.ImageID
		if !isAnchorAge(age) {
			rec.GenerationStage = GenerationStageAgeGen
			rec.SourceModelTool = s.opts.SourceModelTool
			rec.BaseInput20 = ImageID(subjectID, 20)
			rec.BaseInput70 = ImageID(subjectID, 70)
			rec.RunID = res.RunID
		}

		sortImageRecords(records)

		if err := replaceSheet(f, sheetImages, imgHeader, imageRowsFor(records, imgHeader)); err != nil {
			return err
		}
		return s.rebuildPromptsSheet(f, subjHeader, subjRows, records)
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// ListImages returns every Images row with a subject id.
func (s *Store) ListImages(ctx context.Context) ([]ImageRecord, error) {
	var out []ImageRecord
	err := s.view(ctx, "list images", func(f *excelize.File) error {
		header, rows, err := loadSheet(f, sheetImages, imageHeaders)
		if err != nil {
			return err
		}
		for _, row := range rows {
			rec := imageFromRow(header, row)
			if rec.SubjectID == "" {
				continue
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RebuildPrompts regenerates the Prompts_Auto sheet from the current
// Subjects and Images sheets. Run at startup so prompt text catches up with
// edits made while the watcher was down.
func (s *Store) RebuildPrompts(ctx context.Context) error {
	return s.update(ctx, "rebuild prompts", func(f *excelize.File) error {
		subjHeader, subjRows, err := loadSheet(f, sheetSubjects, subjectHeaders)
		if err != nil {
			return err
		}
		imgHeader, imgRows, err := loadSheet(f, sheetImages, imageHeaders)
		if err != nil {
			return err
		}
		records := make([]ImageRecord, 0, len(imgRows))
		for _, row := range imgRows {
			rec := imageFromRow(imgHeader, row)
			if rec.SubjectID == "" {
				continue
			}
			records = append(records, rec)
		}
		return s.rebuildPromptsSheet(f, subjHeader, subjRows, records)
	})
}

func (s *Store) rebuildPromptsSheet(f *excelize.File, subjHeader []string, subjRows [][]string, records []ImageRecord) error {
	var subjectInfos []prompts.SubjectInfo
	for _, row := range subjRows {
		sub := subjectFromRow(subjHeader, row)
		if sub.ID == "" {
			continue
		}
		subjectInfos = append(subjectInfos, prompts.SubjectInfo{
			ID:          sub.ID,
			Sex:         sub.Sex,
			Ethnicity:   sub.Ethnicity,
			Fitzpatrick: sub.Fitzpatrick,
			Features:    sub.Notes,
		})
	}

	var imageInfos []prompts.ImageInfo
	for _, rec := range records {
		imageInfos = append(imageInfos, prompts.ImageInfo{
			SubjectID: rec.SubjectID,
			Timeline:  rec.Timeline,
			Age:       rec.Age,
			ImageID:   rec.ImageID,
		})
	}

	rows := prompts.BuildRows(subjectInfos, imageInfos, s.opts.Timeline)
	out := make([][]interface{}, 0, len(rows))
	for _, r := range rows {
		out = append(out, []interface{}{
			r.SubjectID, r.Timeline, r.TargetAge, r.PromptType, r.BaseImageID,
			r.OutputImage, r.Sex, r.Ethnicity, r.Fitzpatrick, r.PromptText,
		})
	}
	return replaceSheet(f, sheetPrompts, promptHeaders, out)
}

func chooseTemplate(records []ImageRecord, subjectID, timeline string) *ImageRecord {
	var first *ImageRecord
	for i := range records {
		if !strings.EqualFold(records[i].SubjectID, subjectID) || records[i].Timeline != timeline {
			continue
		}
		if records[i].Age == 20 {
			return &records[i]
		}
		if first == nil {
			first = &records[i]
		}
	}
	return first
}

func cloneExtra(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func sortImageRecords(records []ImageRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].SubjectID != records[j].SubjectID {
			return records[i].SubjectID < records[j].SubjectID
		}
		if records[i].Timeline != records[j].Timeline {
			return records[i].Timeline < records[j].Timeline
		}
		return records[i].Age < records[j].Age
	})
}

func imageRowsFor(records []ImageRecord, header []string) [][]interface{} {
	out := make([][]interface{}, 0, len(records))
	for _, rec := range records {
		out = append(out, rec.toRow(header))
	}
	return out
}
