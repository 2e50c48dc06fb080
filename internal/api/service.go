package api

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ez3davatars/A360-Aging-UI/internal/apperr"
	"github.com/ez3davatars/A360-Aging-UI/internal/events"
	"github.com/ez3davatars/A360-Aging-UI/internal/ingest"
	"github.com/ez3davatars/A360-Aging-UI/internal/ledger"
	"github.com/ez3davatars/A360-Aging-UI/internal/manifest"
	"github.com/ez3davatars/A360-Aging-UI/internal/registry"
	"github.com/ez3davatars/A360-Aging-UI/internal/resolve"
	"github.com/ez3davatars/A360-Aging-UI/internal/subject"
)

// ServiceConfig carries the path layout the API resolves files against.
type ServiceConfig struct {
	ProjectRoot    string
	AgingRoot      string
	TimelineFolder string
}

// Service coordinates the registry, slot table, ledger, and assembler for
// the API layer. Slot status is re-derived from disk for ages the current
// process never touched, so clients reconnecting after a restart still see
// STORED slots.
type Service struct {
	cfg      ServiceConfig
	subjects *subject.Service
	reg      *registry.Store
	ing      *ingest.Ingestor
	led      ledger.Ledger
	asm      *manifest.Assembler
}

// NewService creates the API service. led may be nil when the ingest ledger
// is disabled.
func NewService(cfg ServiceConfig, subjects *subject.Service, reg *registry.Store, ing *ingest.Ingestor, led ledger.Ledger, asm *manifest.Assembler) *Service {
	if cfg.TimelineFolder == "" {
		cfg.TimelineFolder = "TimelineA"
	}
	return &Service{
		cfg:      cfg,
		subjects: subjects,
		reg:      reg,
		ing:      ing,
		led:      led,
		asm:      asm,
	}
}

// ListSubjects returns all known subjects with their stored-slot counts.
func (s *Service) ListSubjects(ctx context.Context) ([]SubjectSummary, error) {
	items, err := s.subjects.List(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]SubjectSummary, 0, len(items))
	for _, item := range items {
		sum := SubjectSummary{
			Summary: item,
			Total:   len(resolve.Ages),
		}
		if dir := s.dirFromBase(item.BasePath); dir != "" {
			sum.Stored = s.storedOnDisk(item.SubjectID, dir)
		}
		out = append(out, sum)
	}
	return out, nil
}

// GetSubject returns the registry row together with the merged slot view
// and manifest/export presence.
func (s *Service) GetSubject(ctx context.Context, id string) (*SubjectDetail, error) {
	sub, dir, err := s.locate(ctx, id)
	if err != nil {
		return nil, err
	}

	slots := s.mergedSlots(id, dir)
	stored := 0
	for _, v := range slots {
		if v.Status == events.StatusStored {
			stored++
		}
	}

	detail := &SubjectDetail{
		SubjectID:   id,
		BasePath:    sub.BasePath,
		Sex:         sub.Sex,
		Ethnicity:   sub.Ethnicity,
		Fitzpatrick: sub.Fitzpatrick,
		Notes:       sub.Notes,
		Status:      sub.Status,
		LastUpdated: sub.LastUpdated,
		Slots:       slots,
		Stored:      stored,
		Total:       len(resolve.Ages),
	}
	if dir != "" {
		if m, err := manifest.Read(dir); err == nil {
			detail.ManifestPresent = true
			detail.Manifest = m
		}
		zipPath := filepath.Join(dir, id+"_export.zip")
		if _, err := os.Stat(zipPath); err == nil {
			detail.ExportPath = zipPath
		}
	}
	return detail, nil
}

// Slots returns the merged slot view for one subject.
func (s *Service) Slots(ctx context.Context, id string) ([]ingest.SlotView, error) {
	_, dir, err := s.locate(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.mergedSlots(id, dir), nil
}

// ImagePath resolves the canonical file backing one slot, refusing anything
// that escapes the project tree.
func (s *Service) ImagePath(ctx context.Context, id string, age int) (string, error) {
	if !resolve.ValidAge(age) {
		return "", fmt.Errorf("api: age %d not in timeline: %w", age, apperr.ErrNotFound)
	}
	_, dir, err := s.locate(ctx, id)
	if err != nil {
		return "", err
	}
	if dir == "" {
		return "", fmt.Errorf("api: subject %s has no folder: %w", id, apperr.ErrNotFound)
	}

	p := resolve.CanonicalPath(filepath.Join(dir, s.cfg.TimelineFolder), resolve.Slot{SubjectID: id, Age: age})
	if !s.underProject(p) {
		return "", fmt.Errorf("api: %s escapes project root: %w", p, apperr.ErrNotFound)
	}
	if _, err := os.Stat(p); err != nil {
		return "", fmt.Errorf("api: canonical file for %s age %d: %w", id, age, apperr.ErrNotFound)
	}
	return p, nil
}

// Ingests returns recent ledger rows, newest first.
func (s *Service) Ingests(limit int) ([]ledger.IngestRow, error) {
	if s.led == nil {
		return []ledger.IngestRow{}, nil
	}
	rows, err := s.led.Recent(limit)
	if err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []ledger.IngestRow{}
	}
	return rows, nil
}

// Export runs manifest assembly for one subject.
func (s *Service) Export(ctx context.Context, id string) (*manifest.Result, error) {
	_, dir, err := s.locate(ctx, id)
	if err != nil {
		return nil, err
	}
	if dir == "" {
		return nil, fmt.Errorf("api: subject %s has no folder: %w", id, apperr.ErrNotFound)
	}
	return s.asm.Assemble(ctx, id, dir)
}

// locate fetches the registry row and the subject folder. The folder may be
// empty when the row exists but no directory was ever created for it.
func (s *Service) locate(ctx context.Context, id string) (*registry.Subject, string, error) {
	sub, err := s.reg.GetSubject(ctx, id)
	if err != nil {
		return nil, "", err
	}
	if dir := s.dirFromBase(sub.BasePath); dir != "" {
		return sub, dir, nil
	}

	_, _, folder, err := subject.ParseID(id)
	if err != nil {
		return sub, "", nil
	}
	sex := subject.NormalizeSex(sub.Sex)
	eth := subject.SafeFolder(sub.Ethnicity, "Unsorted")
	if dir, found := subject.LocateFolder(s.cfg.AgingRoot, folder, sex, eth); found {
		return sub, dir, nil
	}
	return sub, "", nil
}

// dirFromBase joins a registry Base_Path against the project root, dropping
// values that would climb out of it.
func (s *Service) dirFromBase(basePath string) string {
	if basePath == "" {
		return ""
	}
	dir := filepath.Join(s.cfg.ProjectRoot, filepath.FromSlash(basePath))
	if !s.underProject(dir) {
		return ""
	}
	return dir
}

func (s *Service) underProject(p string) bool {
	rel, err := filepath.Rel(s.cfg.ProjectRoot, p)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(os.PathSeparator))
}

// mergedSlots overlays in-memory slot state on disk reality: a canonical
// file present for an age this process never touched reads as STORED.
func (s *Service) mergedSlots(id, dir string) []ingest.SlotView {
	slots := s.ing.SubjectSlots(id)
	if dir == "" {
		return slots
	}
	timelineDir := filepath.Join(dir, s.cfg.TimelineFolder)
	for i := range slots {
		if slots[i].Status != events.StatusWaiting {
			continue
		}
		p := resolve.CanonicalPath(timelineDir, resolve.Slot{SubjectID: id, Age: slots[i].Age})
		if fi, err := os.Stat(p); err == nil && fi.Size() > 0 {
			slots[i].Status = events.StatusStored
			slots[i].CanonicalPath = p
		}
	}
	return slots
}

// storedOnDisk counts canonical files present for one subject.
func (s *Service) storedOnDisk(id, dir string) int {
	timelineDir := filepath.Join(dir, s.cfg.TimelineFolder)
	n := 0
	for _, age := range resolve.Ages {
		p := resolve.CanonicalPath(timelineDir, resolve.Slot{SubjectID: id, Age: age})
		if fi, err := os.Stat(p); err == nil && fi.Size() > 0 {
			n++
		}
	}
	return n
}
