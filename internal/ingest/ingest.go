// Package ingest drives the per-slot lifecycle from raw detection through
// validation, the canonical move, and the registry commit. Each
// (subject, age) slot is serialized; distinct slots run in parallel.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ez3davatars/A360-Aging-UI/internal/apperr"
	"github.com/ez3davatars/A360-Aging-UI/internal/checksum"
	"github.com/ez3davatars/A360-Aging-UI/internal/events"
	"github.com/ez3davatars/A360-Aging-UI/internal/fsops"
	"github.com/ez3davatars/A360-Aging-UI/internal/ledger"
	"github.com/ez3davatars/A360-Aging-UI/internal/registry"
	"github.com/ez3davatars/A360-Aging-UI/internal/resolve"
	"github.com/ez3davatars/A360-Aging-UI/internal/subject"
)

// Reason strings carried on ERROR events. These are operator-facing; the UI
// renders them verbatim.
const (
	ReasonCorruptSource = "corrupt or unreadable source file"
	ReasonNotRegistered = "subject not registered"
	ReasonDestConflict  = "destination conflict"
	ReasonRegistrySync  = "registry sync failed"
	ReasonMoveFailed    = "move to canonical path failed"
)

// ioRetries bounds transient filesystem retries inside one slot run.
const (
	ioRetries   = 3
	ioRetryBase = 100 * time.Millisecond
	ioRetryMax  = time.Second
)

// Registry is the slice of the registry adapter the pipeline depends on.
// Consumers get the concrete store; the interface exists so tests can fake
// commit failures.
type Registry interface {
	GetSubject(ctx context.Context, id string) (*registry.Subject, error)
	CommitImage(ctx context.Context, subjectID string, age int, basePathRel, destFilename string) (*registry.CommitResult, error)
}

var _ Registry = (*registry.Store)(nil)

// Config carries the path layout and timeline identity the pipeline
// ingests into.
type Config struct {
	ProjectRoot    string
	AgingRoot      string
	Timeline       string
	TimelineFolder string

	// OnComplete fires once per subject when its last age slot lands on
	// disk. Runs on the slot goroutine that completed the set.
	OnComplete func(subjectID, subjectDir string)
}

// slotState is the tracked lifecycle of one (subject, age) slot. Guarded by
// Ingestor.mu; the busy flag hands the slot to exactly one goroutine.
type slotState struct {
	status     events.Status
	sourcePath string
	sourceBase string
	canonical  string
	reason     string
	updated    string

	busy    bool
	pending *detection
}

type detection struct {
	path string
	size int64
}

// Ingestor owns the slot table and runs the state machine.
type Ingestor struct {
	cfg     Config
	reg     Registry
	emitter *events.Emitter
	ledger  ledger.Ledger
	index   *ledger.DatasetIndex
	log     *slog.Logger

	mu        sync.Mutex
	slots     map[resolve.Slot]*slotState
	completed map[string]bool

	wg     sync.WaitGroup
	closed atomic.Bool
}

// New wires an ingestor. led and idx may be nil when the ledger or dataset
// index is disabled.
func New(cfg Config, reg Registry, emitter *events.Emitter, led ledger.Ledger, idx *ledger.DatasetIndex, log *slog.Logger) *Ingestor {
	if cfg.Timeline == "" {
		cfg.Timeline = "A"
	}
	if cfg.TimelineFolder == "" {
		cfg.TimelineFolder = "Timeline" + cfg.Timeline
	}
	return &Ingestor{
		cfg:       cfg,
		reg:       reg,
		emitter:   emitter,
		ledger:    led,
		index:     idx,
		log:       log,
		slots:     make(map[resolve.Slot]*slotState),
		completed: make(map[string]bool),
	}
}

// HandleDetection feeds one stable file from the watch loop into the state
// machine. Unclassifiable names are ignored. A detection arriving while the
// slot is mid-flight supersedes any queued one; a re-detection of the source
// that already produced the canonical file is a no-op.
func (g *Ingestor) HandleDetection(path string, size int64) {
	if g.closed.Load() {
		return
	}

	slot, ok := resolve.Classify(path)
	if !ok {
		g.log.Debug("ingest: ignoring unclassifiable file", slog.String("path", path))
		return
	}
	det := &detection{path: path, size: size}

	g.mu.Lock()
	st := g.slots[slot]
	if st == nil {
		st = &slotState{status: events.StatusWaiting}
		g.slots[slot] = st
	}

	if st.status == events.StatusStored && st.sourceBase == filepath.Base(path) {
		g.mu.Unlock()
		return
	}
	if st.busy {
		st.pending = det
		g.mu.Unlock()
		return
	}
	st.busy = true
	g.mu.Unlock()

	g.wg.Add(1)
	go g.runSlot(slot, det)
}

// Close stops accepting detections and waits for in-flight slots to finish.
func (g *Ingestor) Close() {
	g.closed.Store(true)
	g.wg.Wait()
}

// runSlot processes one detection, then drains any detection that was queued
// behind it before releasing the slot.
func (g *Ingestor) runSlot(slot resolve.Slot, det *detection) {
	defer g.wg.Done()

	for det != nil {
		g.process(slot, det)

		g.mu.Lock()
		st := g.slots[slot]
		det, st.pending = st.pending, nil
		if det == nil {
			st.busy = false
		}
		g.mu.Unlock()
	}
}

// process runs the full pipeline for one detection.
func (g *Ingestor) process(slot resolve.Slot, det *detection) {
	ctx := context.Background()
	src := det.path

	g.setStatus(slot, events.StatusDetected, src, "")
	g.emit(slot, events.StatusDetected, src, "", "", 0)

	size, err := g.validate(ctx, src)
	if err != nil {
		g.fail(slot, src, ReasonCorruptSource, err)
		return
	}

	g.setStatus(slot, events.StatusValidated, src, "")
	g.emit(slot, events.StatusValidated, src, "", "", 0)

	sub, subjectDir, err := g.subjectDir(ctx, slot.SubjectID)
	if err != nil {
		reason := ReasonRegistrySync
		if errors.Is(err, apperr.ErrNotFound) {
			reason = ReasonNotRegistered
		}
		g.fail(slot, src, reason, err)
		return
	}
	timelineDir := filepath.Join(subjectDir, g.cfg.TimelineFolder)
	dest := resolve.CanonicalPath(timelineDir, slot)

	g.setStatus(slot, events.StatusIngesting, src, "")
	g.emit(slot, events.StatusIngesting, src, "", "", 0)

	if _, statErr := os.Stat(dest); statErr == nil {
		var same bool
		err = withBackoff(ctx, ioRetries, ioRetryBase, ioRetryMax, func() error {
			var cmpErr error
			same, cmpErr = fsops.Identical(src, dest)
			return cmpErr
		})
		if err != nil {
			g.fail(slot, src, ReasonCorruptSource, err)
			return
		}
		if !same {
			g.fail(slot, src, ReasonDestConflict,
				fmt.Errorf("ingest: %s already holds different content", dest))
			return
		}
		// Same bytes already in place: finish without rewriting.
		if err := os.Remove(src); err != nil {
			g.log.Warn("ingest: duplicate source not removed",
				slog.String("path", src), slog.String("error", err.Error()))
		}
	} else {
		if err := os.MkdirAll(timelineDir, 0o755); err != nil {
			g.fail(slot, src, ReasonMoveFailed, err)
			return
		}
		err = withBackoff(ctx, ioRetries, ioRetryBase, ioRetryMax, func() error {
			return fsops.MoveVerified(src, dest)
		})
		if err != nil {
			g.fail(slot, src, ReasonMoveFailed, err)
			return
		}
	}

	sha, shaErr := checksum.File(dest)
	if shaErr != nil {
		g.log.Warn("ingest: hash canonical file", slog.String("error", shaErr.Error()))
	}
	fi, statErr := os.Stat(dest)
	var bytes int64
	if statErr == nil {
		bytes = fi.Size()
	} else {
		bytes = size
	}

	g.mu.Lock()
	st := g.slots[slot]
	st.status = events.StatusStored
	st.sourcePath = src
	st.sourceBase = filepath.Base(src)
	st.canonical = dest
	st.reason = ""
	st.updated = events.Now()
	g.mu.Unlock()

	g.emit(slot, events.StatusStored, dest, "", sha, bytes)
	g.log.Info("ingest: stored",
		slog.String("slot", slot.Key()),
		slog.String("path", dest))

	g.commit(ctx, slot, sub, subjectDir, src, dest, sha, bytes)
	g.checkComplete(slot.SubjectID, subjectDir, timelineDir)
}

// validate confirms the source decodes as an image and is nonempty.
// Momentary read failures are retried; a zero-size or undecodable file is
// reported immediately.
func (g *Ingestor) validate(ctx context.Context, src string) (int64, error) {
	var size int64
	err := withBackoff(ctx, ioRetries, ioRetryBase, ioRetryMax, func() error {
		n, err := decodableImageSize(src)
		if err != nil {
			return err
		}
		size = n
		return nil
	})
	return size, err
}

// subjectDir resolves where a subject's images live: the registry row's
// Base_Path when recorded, otherwise the folder located (or derived) from
// the row's demographics.
func (g *Ingestor) subjectDir(ctx context.Context, subjectID string) (*registry.Subject, string, error) {
	sub, err := g.reg.GetSubject(ctx, subjectID)
	if err != nil {
		return nil, "", err
	}

	if sub.BasePath != "" {
		return sub, filepath.Join(g.cfg.ProjectRoot, filepath.FromSlash(sub.BasePath)), nil
	}

	_, _, folder, err := subject.ParseID(subjectID)
	if err != nil {
		return nil, "", fmt.Errorf("ingest: subject id %q: %w", subjectID, apperr.ErrNotFound)
	}
	sex := subject.NormalizeSex(sub.Sex)
	eth := subject.SafeFolder(sub.Ethnicity, "Unsorted")
	if dir, found := subject.LocateFolder(g.cfg.AgingRoot, folder, sex, eth); found {
		return sub, dir, nil
	}
	return sub, filepath.Join(g.cfg.AgingRoot, sex, eth, folder), nil
}

// commit records the stored file in the registry, the ledger, and the
// dataset index. Registry failure is surfaced as an ERROR event but the slot
// stays STORED: the file on disk is the primary record.
func (g *Ingestor) commit(ctx context.Context, slot resolve.Slot, sub *registry.Subject, subjectDir, src, dest, sha string, bytes int64) {
	baseRel := g.relToProject(subjectDir)

	res, err := g.reg.CommitImage(ctx, slot.SubjectID, slot.Age, baseRel, resolve.CanonicalFilename(slot))
	if err != nil {
		g.log.Warn("ingest: registry commit failed",
			slog.String("slot", slot.Key()),
			slog.String("error", err.Error()))
		g.mu.Lock()
		g.slots[slot].reason = ReasonRegistrySync
		g.mu.Unlock()
		g.emitError(slot, dest, ReasonRegistrySync)
		res = &registry.CommitResult{}
	}

	if g.ledger != nil {
		if _, err := g.ledger.RecordIngest(ledger.IngestRow{
			SubjectID:     slot.SubjectID,
			Timeline:      g.cfg.Timeline,
			Age:           slot.Age,
			ImageID:       res.ImageID,
			RunID:         res.RunID,
			SourcePath:    src,
			CanonicalPath: dest,
			Bytes:         bytes,
			SHA256:        sha,
		}); err != nil {
			g.log.Warn("ingest: ledger record failed", slog.String("error", err.Error()))
		}
	}

	if g.index != nil {
		if err := g.index.Append(ledger.IndexRecord{
			SubjectID:      slot.SubjectID,
			Timeline:       g.cfg.Timeline,
			Age:            slot.Age,
			SrcPath:        src,
			DestPath:       dest,
			DestRel:        g.relToProject(dest),
			BasePathRel:    baseRel,
			TimelineFolder: g.cfg.TimelineFolder,
			Filename:       resolve.CanonicalFilename(slot),
			ImageID:        res.ImageID,
			RunID:          res.RunID,
			Bytes:          bytes,
			SHA256:         sha,
			Labels: ledger.Labels{
				Sex:         sub.Sex,
				Ethnicity:   sub.Ethnicity,
				Fitzpatrick: sub.Fitzpatrick,
			},
		}); err != nil {
			g.log.Warn("ingest: dataset index append failed", slog.String("error", err.Error()))
		}
	}
}

// checkComplete fires the completion hook the first time every age slot has
// a canonical file on disk. Disk is consulted directly so the trigger
// survives restarts with a warm output directory.
func (g *Ingestor) checkComplete(subjectID, subjectDir, timelineDir string) {
	if g.cfg.OnComplete == nil {
		return
	}
	for _, age := range resolve.Ages {
		p := resolve.CanonicalPath(timelineDir, resolve.Slot{SubjectID: subjectID, Age: age})
		fi, err := os.Stat(p)
		if err != nil || fi.Size() == 0 {
			return
		}
	}

	g.mu.Lock()
	done := g.completed[subjectID]
	g.completed[subjectID] = true
	g.mu.Unlock()
	if done {
		return
	}

	g.log.Info("ingest: subject complete", slog.String("subject", subjectID))
	g.cfg.OnComplete(subjectID, subjectDir)
}

// fail moves the slot to ERROR and emits the event.
func (g *Ingestor) fail(slot resolve.Slot, path, reason string, err error) {
	g.log.Warn("ingest: slot error",
		slog.String("slot", slot.Key()),
		slog.String("reason", reason),
		slog.String("error", err.Error()))
	g.setStatus(slot, events.StatusError, path, reason)
	g.emitError(slot, path, reason)
}

func (g *Ingestor) setStatus(slot resolve.Slot, status events.Status, path, reason string) {
	g.mu.Lock()
	st := g.slots[slot]
	st.status = status
	st.sourcePath = path
	st.reason = reason
	st.updated = events.Now()
	g.mu.Unlock()
}

func (g *Ingestor) emit(slot resolve.Slot, status events.Status, path, reason, sha string, bytes int64) {
	g.emitter.Emit(events.Event{
		SubjectID: slot.SubjectID,
		Image:     resolve.AgeLabel(slot.Age),
		Status:    status,
		Path:      path,
		Reason:    reason,
		SHA256:    sha,
		Bytes:     bytes,
	})
}

func (g *Ingestor) emitError(slot resolve.Slot, path, reason string) {
	g.emit(slot, events.StatusError, path, reason, "", 0)
}

func (g *Ingestor) relToProject(p string) string {
	if g.cfg.ProjectRoot == "" {
		return filepath.ToSlash(p)
	}
	rel, err := filepath.Rel(g.cfg.ProjectRoot, p)
	if err != nil {
		return filepath.ToSlash(p)
	}
	return filepath.ToSlash(rel)
}

// withBackoff retries fn with capped exponential delay. Only the final error
// is returned.
func withBackoff(ctx context.Context, attempts int, base, maxDelay time.Duration, fn func() error) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		delay := base << i
		if delay > maxDelay {
			delay = maxDelay
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}
