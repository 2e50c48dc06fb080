package api

import (
	"github.com/ez3davatars/A360-Aging-UI/internal/ingest"
	"github.com/ez3davatars/A360-Aging-UI/internal/ledger"
	"github.com/ez3davatars/A360-Aging-UI/internal/manifest"
	"github.com/ez3davatars/A360-Aging-UI/internal/subject"
)

// SubjectSummary is one row in the subject list response.
type SubjectSummary struct {
	subject.Summary
	Stored int `json:"stored" example:"7"`
	Total  int `json:"total" example:"11"`
}

// SubjectListResponse wraps the subject listing.
type SubjectListResponse struct {
	Subjects []SubjectSummary `json:"subjects" validate:"required"`
	Total    int              `json:"total" example:"42" validate:"required"`
}

// SubjectDetail is the full per-subject response: the registry row plus
// the state of every timeline slot.
type SubjectDetail struct {
	SubjectID       string             `json:"subject_id" example:"S001" validate:"required"`
	BasePath        string             `json:"base_path,omitempty" example:"Male/Caucasian/subject001"`
	Sex             string             `json:"sex,omitempty" example:"Male"`
	Ethnicity       string             `json:"ethnicity_group,omitempty" example:"Caucasian"`
	Fitzpatrick     string             `json:"fitzpatrick_tone,omitempty" example:"III"`
	Notes           string             `json:"notes,omitempty"`
	Status          string             `json:"status,omitempty" example:"In Progress"`
	LastUpdated     string             `json:"last_updated_utc,omitempty"`
	Slots           []ingest.SlotView  `json:"slots" validate:"required"`
	Stored          int                `json:"stored" example:"7"`
	Total           int                `json:"total" example:"11"`
	ManifestPresent bool               `json:"manifest_present"`
	Manifest        *manifest.Manifest `json:"manifest,omitempty"`
	ExportPath      string             `json:"export_path,omitempty"`
}

// SlotsResponse wraps the slot view for one subject.
type SlotsResponse struct {
	SubjectID string            `json:"subject_id" example:"S001" validate:"required"`
	Slots     []ingest.SlotView `json:"slots" validate:"required"`
}

// IngestListResponse wraps recent ledger rows.
type IngestListResponse struct {
	Ingests []ledger.IngestRow `json:"ingests" validate:"required"`
	Total   int                `json:"total" example:"10" validate:"required"`
}
