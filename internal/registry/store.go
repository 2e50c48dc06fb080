// Package registry adapts the spreadsheet-backed master workbook: the
// Subjects, Images, and Prompts_Auto sheets the UI and operators share.
//
// Every operation reloads the workbook from disk, mutates, and writes back
// under a cross-process lock, so edits made in a spreadsheet application
// between watcher writes are never clobbered. A workbook held open
// exclusively by such an application surfaces as a retryable "store locked"
// condition, never a crash.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/xuri/excelize/v2"

	"github.com/ez3davatars/A360-Aging-UI/internal/apperr"
)

const (
	sheetSubjects = "Subjects"
	sheetImages   = "Images"
	sheetPrompts  = "Prompts_Auto"
)

// RetryPolicy bounds how long a single registry operation keeps retrying a
// locked store before giving up.
type RetryPolicy struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// DefaultRetry is used when the config leaves the policy empty.
var DefaultRetry = RetryPolicy{Attempts: 5, BaseDelay: 250 * time.Millisecond, MaxDelay: 5 * time.Second}

// Options configures a Store.
type Options struct {
	Timeline        string // timeline code, e.g. "A"
	TimelineFolder  string // folder name under a subject, e.g. "TimelineA"
	SourceModelTool string // tool name recorded on generated image rows
	Retry           RetryPolicy
}

// Store is the workbook adapter. Safe for concurrent use; operations are
// serialized in-process by a mutex and across processes by a sidecar flock.
type Store struct {
	path string
	opts Options

	mu  sync.Mutex
	flk *flock.Flock
	log *slog.Logger
}

// Open prepares a Store for the workbook at path, creating the workbook
// with empty sheets and headers when it does not exist yet.
func Open(path string, opts Options, log *slog.Logger) (*Store, error) {
	if path == "" {
		return nil, errors.New("registry: empty workbook path")
	}
	if opts.Timeline == "" {
		opts.Timeline = "A"
	}
	if opts.TimelineFolder == "" {
		opts.TimelineFolder = "Timeline" + opts.Timeline
	}
	if opts.SourceModelTool == "" {
		opts.SourceModelTool = "ComfyUI"
	}
	if opts.Retry.Attempts <= 0 {
		opts.Retry = DefaultRetry
	}

	s := &Store{
		path: path,
		opts: opts,
		flk:  flock.New(path + ".lock"),
		log:  log,
	}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := s.create(); err != nil {
			return nil, err
		}
		log.Info("registry: created workbook", slog.String("path", path))
	}
	return s, nil
}

// Path returns the workbook location.
func (s *Store) Path() string { return s.path }

// create writes a fresh workbook with the three sheets and header rows.
func (s *Store) create() error {
	f := excelize.NewFile()
	defer f.Close()

	f.SetSheetName("Sheet1", sheetSubjects)
	if err := writeHeader(f, sheetSubjects, subjectHeaders); err != nil {
		return err
	}
	for _, sheet := range []string{sheetImages, sheetPrompts} {
		if _, err := f.NewSheet(sheet); err != nil {
			return fmt.Errorf("registry: create sheet %s: %w", sheet, err)
		}
	}
	if err := writeHeader(f, sheetImages, imageHeaders); err != nil {
		return err
	}
	if err := writeHeader(f, sheetPrompts, promptHeaders); err != nil {
		return err
	}

	if err := f.SaveAs(s.path); err != nil {
		return fmt.Errorf("registry: save new workbook: %w", mapLockedErr(err))
	}
	return nil
}

// update runs fn against a freshly loaded workbook and writes the result
// back, holding the exclusive sidecar lock for the whole read-modify-write.
func (s *Store) update(ctx context.Context, op string, fn func(f *excelize.File) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withRetry(ctx, op, func() error {
		locked, err := s.flk.TryLock()
		if err != nil {
			return fmt.Errorf("sidecar lock: %w", err)
		}
		if !locked {
			return apperr.ErrLocked
		}
		defer s.flk.Unlock()

		f, err := excelize.OpenFile(s.path)
		if err != nil {
			return fmt.Errorf("open workbook: %w", mapLockedErr(err))
		}
		defer f.Close()

		if err := fn(f); err != nil {
			return err
		}
		if err := f.SaveAs(s.path); err != nil {
			return fmt.Errorf("save workbook: %w", mapLockedErr(err))
		}
		return nil
	})
}

// view runs fn against a freshly loaded workbook without writing back,
// under the shared sidecar lock.
func (s *Store) view(ctx context.Context, op string, fn func(f *excelize.File) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withRetry(ctx, op, func() error {
		locked, err := s.flk.TryRLock()
		if err != nil {
			return fmt.Errorf("sidecar lock: %w", err)
		}
		if !locked {
			return apperr.ErrLocked
		}
		defer s.flk.Unlock()

		f, err := excelize.OpenFile(s.path)
		if err != nil {
			return fmt.Errorf("open workbook: %w", mapLockedErr(err))
		}
		defer f.Close()

		return fn(f)
	})
}

// withRetry retries fn on transient store contention with capped
// exponential backoff. Non-transient errors return immediately.
func (s *Store) withRetry(ctx context.Context, op string, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= s.opts.Retry.Attempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if !errors.Is(err, apperr.ErrLocked) {
			return fmt.Errorf("registry: %s: %w", op, err)
		}
		lastErr = err
		if attempt == s.opts.Retry.Attempts {
			break
		}

		backoff := s.opts.Retry.BaseDelay * time.Duration(1<<uint(attempt-1))
		if backoff > s.opts.Retry.MaxDelay {
			backoff = s.opts.Retry.MaxDelay
		}
		s.log.Warn("registry: store locked, retrying",
			slog.String("op", op),
			slog.Int("attempt", attempt),
			slog.Duration("backoff", backoff))

		if err := sleepContext(ctx, backoff); err != nil {
			return fmt.Errorf("registry: %s: %w", op, err)
		}
	}
	return fmt.Errorf("registry: %s after %d attempts: %w", op, s.opts.Retry.Attempts, lastErr)
}

// mapLockedErr folds OS-level sharing violations (workbook open in a
// spreadsheet application) into the transient lock sentinel.
func mapLockedErr(err error) error {
	if err == nil {
		return nil
	}
	if os.IsPermission(err) {
		return fmt.Errorf("%w: %v", apperr.ErrLocked, err)
	}
	return err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func nowUTC() string {
	return time.Now().UTC().Format(time.RFC3339)
}
