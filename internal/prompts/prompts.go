// Package prompts builds the Prompts_Auto sheet rows from subject metadata
// and image records. All functions are pure text assembly.
package prompts

import (
	"fmt"
	"sort"
	"strings"
)

// Prompt types as they appear in the Prompts_Auto sheet.
const (
	TypeBase20      = "Base_20"
	TypeAgeFrom20   = "Age_from_20"
	TypeAge70From20 = "Age_70_from_20"
)

// SubjectInfo is the slice of a Subjects row the prompt builder needs.
type SubjectInfo struct {
	ID          string
	Sex         string
	Ethnicity   string
	Fitzpatrick string
	// Features carries the free-text facial description; the builder folds
	// it into the portrait prompt when present.
	Features string
}

// ImageInfo is the slice of an Images row the prompt builder needs.
type ImageInfo struct {
	SubjectID string
	Timeline  string
	Age       int
	ImageID   string
	Sex       string
	Ethnicity string
}

// Row is one Prompts_Auto sheet row.
type Row struct {
	SubjectID   string
	Timeline    string
	TargetAge   int
	PromptType  string
	BaseImageID string
	OutputImage string
	Sex         string
	Ethnicity   string
	Fitzpatrick string
	PromptText  string
}

// subjectWords maps a sex value to the noun and possessive pronoun used in
// prompt text.
func subjectWords(sex string) (word, pronoun string) {
	switch {
	case strings.HasPrefix(strings.ToLower(sex), "m"):
		return "man", "his"
	case strings.HasPrefix(strings.ToLower(sex), "f"):
		return "woman", "her"
	default:
		return "person", "their"
	}
}

// BasePortraitText builds the age-20 anchor portrait prompt.
func BasePortraitText(sex, ethnicity, fitzpatrick, features string) string {
	word, pronoun := subjectWords(sex)

	ethnicityPhrase := ""
	if ethnicity != "" {
		ethnicityPhrase = ethnicity + " "
	}
	fitzPhrase := ""
	if fitzpatrick != "" {
		fitzPhrase = fmt.Sprintf(", Fitzpatrick Tone %s", fitzpatrick)
	}
	featuresPhrase := ""
	if features != "" {
		featuresPhrase = ", " + features
	}

	return "Extreme close-up clinical portrait, hyper-detailed facial features, sharp skin texture, " +
		"realistic pores, natural skin shine, high definition lighting, high-resolution 4000 x 4000, " +
		"ultra-photorealistic, shallow depth of field, face in perfect focus, " +
		fmt.Sprintf("of a %s%s, 20 years old%s%s, ", ethnicityPhrase, word, fitzPhrase, featuresPhrase) +
		"full head from the clavicle and shoulders up, no clothing cover for medical reference, " +
		"no dark shadows, soft white background, " +
		fmt.Sprintf("DO NOT crop off the top of %s head.", pronoun)
}

// AgingText builds the prompt that ages the age-20 anchor to targetAge.
func AgingText(sex, ethnicity string, targetAge int) string {
	word, pronoun := subjectWords(sex)

	ethnicityPhrase := ""
	if ethnicity != "" {
		ethnicityPhrase = ethnicity + " "
	}

	return fmt.Sprintf("Using the age 20 base clinical portrait of this same %s%s, ", ethnicityPhrase, word) +
		fmt.Sprintf("naturally age %s to approximately %d years old while fully preserving identity, ", pronoun, targetAge) +
		"facial structure, hairstyle, lighting, camera angle, composition, and the clinical studio aesthetic. " +
		"Maintain hyper-detailed skin texture, realistic pores, sharp focus, and a soft white background. " +
		fmt.Sprintf("Add age-appropriate features such as fine and deep wrinkles and realistic changes for a %d-year-old.", targetAge)
}

// BuildRows derives the full Prompts_Auto sheet content for one timeline.
// Image rows outside the timeline are skipped; subject metadata fills gaps
// the image row leaves empty. Output is sorted by subject then age.
func BuildRows(subjects []SubjectInfo, images []ImageInfo, timeline string) []Row {
	meta := make(map[string]SubjectInfo, len(subjects))
	for _, s := range subjects {
		if s.ID != "" {
			meta[s.ID] = s
		}
	}

	var rows []Row
	for _, img := range images {
		if img.SubjectID == "" || img.Timeline != timeline {
			continue
		}

		m := meta[img.SubjectID]

		sex := img.Sex
		if sex == "" {
			sex = m.Sex
		}
		ethnicity := img.Ethnicity
		if ethnicity == "" {
			ethnicity = m.Ethnicity
		}

		row := Row{
			SubjectID:   img.SubjectID,
			Timeline:    timeline,
			TargetAge:   img.Age,
			OutputImage: img.ImageID,
			Sex:         sex,
			Ethnicity:   ethnicity,
			Fitzpatrick: m.Fitzpatrick,
		}

		if img.Age == 20 {
			row.PromptType = TypeBase20
			row.BaseImageID = img.ImageID
			row.PromptText = BasePortraitText(sex, ethnicity, m.Fitzpatrick, m.Features)
		} else {
			row.BaseImageID = fmt.Sprintf("%s_A20_Gem", img.SubjectID)
			if img.Age == 70 {
				row.PromptType = TypeAge70From20
			} else {
				row.PromptType = TypeAgeFrom20
			}
			row.PromptText = AgingText(sex, ethnicity, img.Age)
		}

		rows = append(rows, row)
	}

	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].SubjectID != rows[j].SubjectID {
			return rows[i].SubjectID < rows[j].SubjectID
		}
		return rows[i].TargetAge < rows[j].TargetAge
	})
	return rows
}
