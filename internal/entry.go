// Package internal wires the watcher daemon together: registry, ledger,
// event channel, ingestion pipeline, watch loop and the REST API.
package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ez3davatars/A360-Aging-UI/internal/api"
	"github.com/ez3davatars/A360-Aging-UI/internal/events"
	"github.com/ez3davatars/A360-Aging-UI/internal/ingest"
	"github.com/ez3davatars/A360-Aging-UI/internal/ledger"
	"github.com/ez3davatars/A360-Aging-UI/internal/manifest"
	"github.com/ez3davatars/A360-Aging-UI/internal/registry"
	"github.com/ez3davatars/A360-Aging-UI/internal/subject"
	"github.com/ez3davatars/A360-Aging-UI/internal/watcher"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gofrs/flock"
	"golang.org/x/sync/errgroup"
)

// lockFileName guards against two daemons ingesting the same project. The
// lock lives in the project root so every instance pointed at the project
// sees it regardless of where the binary runs from.
const lockFileName = "a360_watcher.lock"

// Run starts the watcher daemon with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app := &application{}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return fmt.Errorf("config is required")
	}

	cfg := app.config

	// Initialize structured JSON logger.
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.App.LogLevel.Level(),
	}))
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("watch_dir", cfg.Paths.WatchDir),
		slog.String("registry_path", cfg.Paths.Registry),
		slog.String("channel_address", cfg.Channel.Address()),
		slog.String("log_level", cfg.App.LogLevel.Level().String()))

	// A missing watch dir is an operator mistake. Refuse to start instead
	// of polling a directory that will never exist.
	fi, err := os.Stat(cfg.Paths.WatchDir)
	if err != nil {
		return fmt.Errorf("watch dir: %w", err)
	}
	if !fi.IsDir() {
		return fmt.Errorf("watch dir: %s is not a directory", cfg.Paths.WatchDir)
	}

	// Ensure the canonical dataset root exists.
	if err := os.MkdirAll(cfg.Paths.AgingRoot, 0o755); err != nil {
		return fmt.Errorf("create aging root: %w", err)
	}

	// Single instance per project. Two daemons watching the same folder
	// would race each other on every move.
	lock := flock.New(filepath.Join(cfg.Paths.ProjectRoot, lockFileName))
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire daemon lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("another watcher instance already holds %s", lock.Path())
	}
	defer func() { _ = lock.Unlock() }()

	// Open the subject registry workbook.
	reg, err := registry.Open(cfg.Paths.Registry, registry.Options{
		Timeline:        cfg.Timeline.Code,
		TimelineFolder:  cfg.Timeline.FolderName,
		SourceModelTool: cfg.RegistryOpts.SourceModelTool,
		Retry:           cfg.RegistryOpts.Retry.Policy(),
	}, logger)
	if err != nil {
		return fmt.Errorf("open registry: %w", err)
	}

	// Refresh the prompts sheet from whatever the registry currently
	// holds. The workbook may be open in Excel right now; that only costs
	// us the refresh, not the daemon.
	if err := reg.RebuildPrompts(ctx); err != nil {
		logger.Warn("startup prompts rebuild failed", slog.String("error", err.Error()))
	}

	// Ingest ledger.
	led, err := ledger.Open(cfg.Paths.Ledger)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer led.Close()

	var idx *ledger.DatasetIndex
	if cfg.LedgerOpts.DatasetIndex {
		idx = ledger.NewDatasetIndex(cfg.DatasetIndexPath())
	}

	// Event channel: broker plus optional JSONL audit trail.
	broker := events.NewBroker()
	defer broker.Close()

	var eventLog *events.EventLog
	if cfg.LedgerOpts.EventLog {
		eventLog = events.NewEventLog(cfg.LedgerOpts.EventLogPath)
	}
	emitter := events.NewEmitter(broker, eventLog, logger)

	// Manifest assembly fires when a subject's timeline fills up.
	asm := manifest.NewAssembler(cfg.Timeline.Code, cfg.Timeline.FolderName, reg, logger)

	ing := ingest.New(ingest.Config{
		ProjectRoot:    cfg.Paths.ProjectRoot,
		AgingRoot:      cfg.Paths.AgingRoot,
		Timeline:       cfg.Timeline.Code,
		TimelineFolder: cfg.Timeline.FolderName,
		OnComplete: func(subjectID, subjectDir string) {
			if _, err := asm.Assemble(context.Background(), subjectID, subjectDir); err != nil {
				logger.Error("manifest assembly failed",
					slog.String("subject", subjectID),
					slog.String("error", err.Error()))
			}
		},
	}, reg, emitter, led, idx, logger)
	defer ing.Close()

	subjects := subject.NewService(cfg.Paths.AgingRoot, cfg.Paths.ProjectRoot, cfg.Timeline.FolderName, reg, logger)

	// Build API service and router.
	svc := api.NewService(api.ServiceConfig{
		ProjectRoot:    cfg.Paths.ProjectRoot,
		AgingRoot:      cfg.Paths.AgingRoot,
		TimelineFolder: cfg.Timeline.FolderName,
	}, subjects, reg, ing, led, asm)

	wsHandler := events.NewWSHandler(broker, logger)
	apiRouter := api.NewRouter(svc, cfg.Auth.AuthEnabled(), cfg.Auth.Token, wsHandler)

	// Build chi router.
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Mount API routes under /api.
	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:    cfg.App.HTTP.Address(),
		Handler: r,
	}

	// The event channel serves WebSocket upgrades on its own port so the
	// UI can connect without the REST prefix or a bearer token.
	channelServer := &http.Server{
		Addr:    cfg.Channel.Address(),
		Handler: wsHandler,
	}

	watch := watcher.New(watcher.Config{
		Dir:             cfg.Paths.WatchDir,
		PollInterval:    cfg.Watcher.PollInterval.Std(),
		StabilityCycles: cfg.Watcher.StabilityCycles,
	}, func(d watcher.Detection) {
		ing.HandleDetection(d.Path, d.Size)
	}, logger)

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gCtx := errgroup.WithContext(runCtx)

	// Start the watch loop.
	g.Go(func() error {
		return watch.Run(gCtx)
	})

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Start the event channel listener.
	g.Go(func() error {
		logger.Info("Starting event channel", slog.String("address", cfg.Channel.Address()))
		if err := channelServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("event channel error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancelShutdown()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}
		if err := channelServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("event channel shutdown error", slog.String("error", err.Error()))
		}

		// Unblock the watch loop.
		cancel()
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}
