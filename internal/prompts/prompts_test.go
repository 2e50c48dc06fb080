package prompts

import (
	"strings"
	"testing"
)

func TestBasePortraitText(t *testing.T) {
	text := BasePortraitText("Female", "Polynesian", "IV", "light freckles")

	for _, want := range []string{
		"Extreme close-up clinical portrait",
		"of a Polynesian woman, 20 years old, Fitzpatrick Tone IV, light freckles,",
		"DO NOT crop off the top of her head.",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("missing %q in:\n%s", want, text)
		}
	}
}

func TestBasePortraitText_UnknownSex(t *testing.T) {
	text := BasePortraitText("", "", "", "")
	if !strings.Contains(text, "of a person, 20 years old,") {
		t.Errorf("expected neutral wording, got:\n%s", text)
	}
	if !strings.Contains(text, "their head.") {
		t.Errorf("expected neutral pronoun, got:\n%s", text)
	}
}

func TestAgingText(t *testing.T) {
	text := AgingText("Male", "Japanese", 55)

	for _, want := range []string{
		"Using the age 20 base clinical portrait of this same Japanese man,",
		"naturally age his to approximately 55 years old",
		"realistic changes for a 55-year-old.",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("missing %q in:\n%s", want, text)
		}
	}
}

func TestBuildRows(t *testing.T) {
	subjects := []SubjectInfo{
		{ID: "S001", Sex: "Male", Ethnicity: "Japanese", Fitzpatrick: "III"},
	}
	images := []ImageInfo{
		{SubjectID: "S001", Timeline: "A", Age: 70, ImageID: "S001_A70_Gem"},
		{SubjectID: "S001", Timeline: "A", Age: 20, ImageID: "S001_A20_Gem"},
		{SubjectID: "S001", Timeline: "A", Age: 45, ImageID: "S001_A45_Gem"},
		{SubjectID: "S001", Timeline: "B", Age: 20, ImageID: "other"},
		{SubjectID: "", Timeline: "A", Age: 20},
	}

	rows := BuildRows(subjects, images, "A")
	if len(rows) != 3 {
		t.Fatalf("len(rows) = %d, want 3", len(rows))
	}

	// Sorted by age.
	if rows[0].TargetAge != 20 || rows[1].TargetAge != 45 || rows[2].TargetAge != 70 {
		t.Errorf("ages = %d,%d,%d", rows[0].TargetAge, rows[1].TargetAge, rows[2].TargetAge)
	}

	if rows[0].PromptType != TypeBase20 {
		t.Errorf("age 20 type = %s", rows[0].PromptType)
	}
	if rows[0].BaseImageID != "S001_A20_Gem" {
		t.Errorf("age 20 base = %s", rows[0].BaseImageID)
	}

	if rows[1].PromptType != TypeAgeFrom20 {
		t.Errorf("age 45 type = %s", rows[1].PromptType)
	}
	if rows[1].BaseImageID != "S001_A20_Gem" {
		t.Errorf("age 45 base = %s", rows[1].BaseImageID)
	}

	if rows[2].PromptType != TypeAge70From20 {
		t.Errorf("age 70 type = %s", rows[2].PromptType)
	}

	// Subject metadata fills sex/ethnicity gaps.
	if rows[1].Sex != "Male" || rows[1].Ethnicity != "Japanese" || rows[1].Fitzpatrick != "III" {
		t.Errorf("metadata not inherited: %+v", rows[1])
	}
	if !strings.Contains(rows[1].PromptText, "Japanese man") {
		t.Errorf("prompt text missing subject wording: %s", rows[1].PromptText)
	}
}

func TestBuildRows_Empty(t *testing.T) {
	if rows := BuildRows(nil, nil, "A"); len(rows) != 0 {
		t.Errorf("expected no rows, got %d", len(rows))
	}
}
