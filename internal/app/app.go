package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/sophialabs/meetpoint/internal/domain/meeting"
	"github.com/sophialabs/meetpoint/internal/infrastructure/outbound/catalog"
	"github.com/sophialabs/meetpoint/internal/infrastructure/outbound/logging"
	"github.com/sophialabs/meetpoint/internal/infrastructure/ports"
	"github.com/sophialabs/meetpoint/internal/infrastructure/wiring"
)

// App is the thin lifecycle manager that delegates dependency construction to wiring.Container.
type App struct {
	cfg        Config
	container  *wiring.Container
	httpServer *http.Server
}

// New constructs the application by validating cfg, creating a logger, wiring
// infrastructure components via the container, and setting up the HTTP server.
func New(cfg Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := NewLogger(os.Stdout, cfg.LogLevel)
	container, err := wiring.New(Params(cfg, logger))
	if err != nil {
		return nil, fmt.Errorf("failed to wire infrastructure: %w", err)
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      container.Server(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return &App{
		cfg:        cfg,
		container:  container,
		httpServer: httpServer,
	}, nil
}

// NewLogger returns a text slog logger writing to w at the given level.
func NewLogger(w io.Writer, level string) ports.Logger {
	return logging.New(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: logging.ParseLevel(level),
	})))
}

// Params maps the configuration onto the container parameters.
func Params(cfg Config, logger ports.Logger) wiring.Params {
	return wiring.Params{
		CatalogPath:          cfg.Catalog.Path,
		Transit:              cfg.Transit.TransitClientConfig(),
		TransitResolves:      cfg.Transit.ResolveStations,
		CacheEnabled:         cfg.Cache.Enabled,
		CacheSize:            cfg.Cache.Size,
		CacheTTL:             cfg.Cache.TTL,
		HistorySize:          cfg.HistorySize,
		RateLimiterTTL:       cfg.RateLimiterTTL,
		CandidateConcurrency: cfg.Engine.CandidateConcurrency,
		MaxInFlight:          cfg.Engine.MaxInFlight,
		RankExpression:       cfg.Engine.RankExpression,
		ReportTemplate:       cfg.ReportTemplate,
		Scorer: meeting.Scorer{
			ExcellentWithin:     cfg.Engine.ExcellentWithin,
			GoodWithin:          cfg.Engine.GoodWithin,
			FairWithin:          cfg.Engine.FairWithin,
			TransferPenaltyFrom: cfg.Engine.TransferPenaltyFrom,
		},
		AllowedOrigins: cfg.AllowedOrigins,
		Logger:         logger,
	}
}

// Container exposes the wired components.
func (a *App) Container() *wiring.Container {
	return a.container
}

// Run executes the full application lifecycle: load the station catalog, start
// the watcher, serve HTTP, and shut down gracefully on SIGINT/SIGTERM or
// context cancellation.
func (a *App) Run(ctx context.Context) error {
	defer a.container.Close()

	logger := a.container.Logger()

	if repo := a.container.Catalog(); repo != nil {
		if err := repo.Reload(ctx); err != nil {
			return fmt.Errorf("failed to load station catalog: %w", err)
		}
		logger.Info("station catalog loaded", "path", repo.Root(), "stations", repo.Len())
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if watcher := a.setupWatcher(); watcher != nil {
		defer watcher.Stop()
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("starting meetpoint server", "addr", a.httpServer.Addr, "transit", a.cfg.Transit.BaseURL)
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		logger.Info("shutting down server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()

	// Event streams only end once the engine closes their channels.
	a.httpServer.RegisterOnShutdown(a.container.Engine().Close)
	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

func (a *App) setupWatcher() *catalog.Watcher {
	repo := a.container.Catalog()
	if repo == nil || !a.cfg.Catalog.Watch {
		return nil
	}
	logger := a.container.Logger()

	watcher, err := catalog.NewWatcher(repo.Root(), a.cfg.WatcherDebounce, logger, func() {
		if err := repo.Reload(context.Background()); err != nil {
			logger.Error("catalog reload failed", "error", err)
			return
		}
		logger.Info("catalog reload complete", "stations", repo.Len())
	})
	if err != nil {
		logger.Warn("catalog watcher not available", "error", err)
		return nil
	}

	watcher.Start()
	logger.Info("catalog watcher started", "path", repo.Root())
	return watcher
}
