// Package watcher observes the generator output directory and surfaces
// files that have finished being written. Detection is poll-driven so a
// slow external writer cannot race us; fsnotify events only pull the next
// scan forward.
package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// kickDelay debounces fsnotify bursts into a single early scan.
const kickDelay = 200 * time.Millisecond

// Detection is one stable file surfaced to the ingestion pipeline.
type Detection struct {
	Path    string
	Size    int64
	ModTime time.Time
}

// Handler consumes detections. It must not block; long work belongs on the
// consumer's own goroutines.
type Handler func(Detection)

// Config tunes the watch loop.
type Config struct {
	// Dir is the flat output directory to observe. Subdirectories are
	// ignored.
	Dir string
	// PollInterval is the scan cadence. Defaults to 750ms.
	PollInterval time.Duration
	// StabilityCycles is how many consecutive unchanged observations mark
	// a file complete. Floor of 2: one observation alone cannot
	// distinguish a finished file from a paused writer.
	StabilityCycles int
}

// fileTrack remembers the last observation of one path.
type fileTrack struct {
	size    int64
	modTime time.Time
	stable  int
}

// Watcher owns the scan state. All fields are touched only from Run's
// goroutine.
type Watcher struct {
	cfg     Config
	handler Handler
	log     *slog.Logger

	tracks   map[string]*fileTrack
	surfaced map[string]string
}

// New builds a watcher delivering stable files to handler.
func New(cfg Config, handler Handler, log *slog.Logger) *Watcher {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 750 * time.Millisecond
	}
	if cfg.StabilityCycles < 2 {
		cfg.StabilityCycles = 2
	}
	return &Watcher{
		cfg:      cfg,
		handler:  handler,
		log:      log,
		tracks:   make(map[string]*fileTrack),
		surfaced: make(map[string]string),
	}
}

// Run scans until ctx is cancelled. The directory must exist up front; a
// missing watch dir is a startup failure, not something to retry silently.
func (w *Watcher) Run(ctx context.Context) error {
	fi, err := os.Stat(w.cfg.Dir)
	if err != nil {
		return fmt.Errorf("watcher: watch dir: %w", err)
	}
	if !fi.IsDir() {
		return fmt.Errorf("watcher: %s is not a directory", w.cfg.Dir)
	}

	var notifyCh <-chan fsnotify.Event
	var errCh <-chan error
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		w.log.Warn("watcher: fsnotify unavailable, polling only",
			slog.String("error", err.Error()))
	} else {
		defer fsw.Close()
		if err := fsw.Add(w.cfg.Dir); err != nil {
			w.log.Warn("watcher: fsnotify add failed, polling only",
				slog.String("error", err.Error()))
		} else {
			notifyCh = fsw.Events
			errCh = fsw.Errors
		}
	}

	w.log.Info("watcher: started",
		slog.String("dir", w.cfg.Dir),
		slog.Duration("poll", w.cfg.PollInterval))

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	// kickTimer debounces notify events into one early scan.
	var kickTimer *time.Timer
	var kickCh <-chan time.Time
	scheduleScan := func() {
		if kickTimer == nil {
			kickTimer = time.NewTimer(kickDelay)
			kickCh = kickTimer.C
		} else {
			kickTimer.Reset(kickDelay)
		}
	}

	w.scan()

	for {
		select {
		case <-ctx.Done():
			if kickTimer != nil {
				kickTimer.Stop()
			}
			w.log.Info("watcher: stopped")
			return nil

		case <-ticker.C:
			w.scan()

		case <-kickCh:
			w.scan()

		case ev, ok := <-notifyCh:
			if !ok {
				notifyCh = nil
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename|fsnotify.Remove) != 0 {
				scheduleScan()
			}

		case watchErr, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			w.log.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

// scan takes one observation of the directory, advances stability counters,
// and surfaces files that just became stable.
func (w *Watcher) scan() {
	entries, err := os.ReadDir(w.cfg.Dir)
	if err != nil {
		w.log.Warn("watcher: scan failed", slog.String("error", err.Error()))
		return
	}

	seen := make(map[string]bool, len(entries))
	for _, ent := range entries {
		if ent.IsDir() {
			continue
		}
		info, err := ent.Info()
		if err != nil {
			continue
		}
		path := filepath.Join(w.cfg.Dir, ent.Name())
		seen[path] = true

		tr := w.tracks[path]
		if tr == nil || tr.size != info.Size() || !tr.modTime.Equal(info.ModTime()) {
			w.tracks[path] = &fileTrack{size: info.Size(), modTime: info.ModTime(), stable: 1}
			continue
		}

		tr.stable++
		if tr.stable < w.cfg.StabilityCycles || info.Size() == 0 {
			continue
		}

		fp := fmt.Sprintf("%d:%d", info.Size(), info.ModTime().UnixNano())
		if w.surfaced[path] == fp {
			continue
		}
		w.surfaced[path] = fp

		w.log.Debug("watcher: surfaced",
			slog.String("path", path),
			slog.Int64("bytes", info.Size()))
		w.handler(Detection{Path: path, Size: info.Size(), ModTime: info.ModTime()})
	}

	// Forget paths that left the directory so a later rewrite re-arms them.
	for p := range w.tracks {
		if !seen[p] {
			delete(w.tracks, p)
			delete(w.surfaced, p)
		}
	}
}
