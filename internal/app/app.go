// Package app provides application initialization and lifecycle management.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bissquit/notifyq/internal/config"
	"github.com/bissquit/notifyq/internal/dispatch"
	"github.com/bissquit/notifyq/internal/kvstore"
	badgerstore "github.com/bissquit/notifyq/internal/kvstore/badger"
	memorystore "github.com/bissquit/notifyq/internal/kvstore/memory"
	postgresstore "github.com/bissquit/notifyq/internal/kvstore/postgres"
	"github.com/bissquit/notifyq/internal/monitor"
	"github.com/bissquit/notifyq/internal/pkg/ctxlog"
	"github.com/bissquit/notifyq/internal/pkg/httputil"
	"github.com/bissquit/notifyq/internal/pkg/metrics"
	"github.com/bissquit/notifyq/internal/priority"
	"github.com/bissquit/notifyq/internal/queue"
	"github.com/bissquit/notifyq/internal/ratelimit"
	"github.com/bissquit/notifyq/internal/sender"
	"github.com/bissquit/notifyq/internal/sender/telegram"
	"github.com/bissquit/notifyq/internal/sender/webhook"
	"github.com/bissquit/notifyq/internal/version"
)

// App represents the application instance.
type App struct {
	config        *config.Config
	logger        *slog.Logger
	store         kvstore.Store
	dispatchLoop  *dispatch.Loop
	server        *http.Server
	metricsServer *http.Server
	metricsCancel context.CancelFunc
}

// New creates a new application instance.
func New(cfg *config.Config) (*App, error) {
	logger := initLogger(cfg.Log)

	store, err := openStore(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	metricsCtx, metricsCancel := context.WithCancel(context.Background())

	app := &App{
		config:        cfg,
		logger:        logger,
		store:         store,
		metricsCancel: metricsCancel,
	}

	if pgStore, ok := store.(*postgresstore.Store); ok {
		go app.collectStoreMetrics(metricsCtx, pgStore)
	}

	router, dispatchLoop, err := app.setupRouter()
	if err != nil {
		_ = store.Close()
		metricsCancel()
		return nil, fmt.Errorf("setup router: %w", err)
	}
	app.dispatchLoop = dispatchLoop
	dispatchLoop.Start(metricsCtx)

	app.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	// Metrics server on separate port
	metricsRouter := chi.NewRouter()
	metricsRouter.Handle("/metrics", promhttp.Handler())

	app.metricsServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.MetricsPort),
		Handler:           metricsRouter,
		ReadTimeout:       5 * time.Second,
		ReadHeaderTimeout: 2 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return app, nil
}

// Run starts the HTTP servers.
func (a *App) Run() error {
	// Start metrics server in background
	go func() {
		a.logger.Info("starting metrics server",
			"host", a.config.Server.Host,
			"port", a.config.Server.MetricsPort,
		)
		if err := a.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Error("metrics server error", "error", err)
		}
	}()

	// Start main server
	a.logger.Info("starting server",
		"host", a.config.Server.Host,
		"port", a.config.Server.Port,
	)

	if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the application. Dispatch stops first so no
// cycle is mid-flight when the store closes.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down servers")

	a.metricsCancel()
	a.dispatchLoop.Stop()

	// Shutdown both servers in parallel
	var wg sync.WaitGroup
	var errs []error
	var mu sync.Mutex

	wg.Add(2)

	go func() {
		defer wg.Done()
		if err := a.server.Shutdown(ctx); err != nil {
			mu.Lock()
			errs = append(errs, fmt.Errorf("shutdown server: %w", err))
			mu.Unlock()
		}
	}()

	go func() {
		defer wg.Done()
		if err := a.metricsServer.Shutdown(ctx); err != nil {
			mu.Lock()
			errs = append(errs, fmt.Errorf("shutdown metrics server: %w", err))
			mu.Unlock()
		}
	}()

	wg.Wait()

	if err := a.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}

	return errors.Join(errs...)
}

// Router returns the HTTP handler for testing.
func (a *App) Router() http.Handler {
	return a.server.Handler
}

func (a *App) setupRouter() (*chi.Mux, *dispatch.Loop, error) {
	r := chi.NewRouter()

	// Metrics middleware must be first to measure full request time
	r.Use(httputil.MetricsMiddleware)
	r.Use(middleware.RequestID)
	r.Use(httputil.RequestLoggerMiddleware(a.logger))
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", a.healthzHandler)
	r.Get("/readyz", a.readyzHandler)
	r.Get("/version", a.versionHandler)

	resolver := priority.NewResolver(a.store, a.config.Queue.MaxTier)
	core := queue.NewCore(queue.CoreConfig{
		MaxTier:    a.config.Queue.MaxTier,
		MaxRetries: a.config.Queue.MaxRetries,
	}, a.store, resolver)

	limiter := ratelimit.NewLimiter(a.store, a.config.Dispatch.MinInterval)

	snd, err := a.buildSender()
	if err != nil {
		return nil, nil, fmt.Errorf("create sender: %w", err)
	}

	schedulers := make([]*dispatch.Scheduler, 0, len(a.config.Dispatch.Tenants))
	for _, tenantID := range a.config.Dispatch.Tenants {
		schedulers = append(schedulers, dispatch.NewScheduler(dispatch.SchedulerConfig{
			TenantID:  tenantID,
			BatchSize: a.config.Dispatch.BatchSize,
		}, core, limiter, snd))
	}

	slog.Info("dispatch configured",
		"tenants", a.config.Dispatch.Tenants,
		"sender", snd.Name(),
		"batch_size", a.config.Dispatch.BatchSize,
		"min_interval", a.config.Dispatch.MinInterval,
	)

	queueHandler := queue.NewHandler(core)
	dispatchHandler := dispatch.NewHandler(schedulers...)
	monitorHandler := monitor.NewHandler(monitor.New(core, limiter))

	r.Route("/api/v1", func(r chi.Router) {
		queueHandler.RegisterRoutes(r)
		dispatchHandler.RegisterRoutes(r)
		monitorHandler.RegisterRoutes(r)
	})

	return r, dispatch.NewLoop(a.config.Dispatch.TickInterval, schedulers...), nil
}

func (a *App) buildSender() (sender.Sender, error) {
	switch a.config.Sender.Kind {
	case "telegram":
		return telegram.NewSender(telegram.Config{
			BotToken:      a.config.Sender.Telegram.BotToken,
			DefaultChatID: a.config.Sender.Telegram.DefaultChatID,
			RateLimit:     a.config.Sender.Telegram.RateLimit,
			Timeout:       a.config.Sender.Telegram.Timeout,
		})
	default:
		return webhook.NewSender(webhook.Config{
			URL:       a.config.Sender.Webhook.URL,
			AuthToken: a.config.Sender.Webhook.AuthToken,
			Timeout:   a.config.Sender.Webhook.Timeout,
		})
	}
}

func openStore(cfg config.StorageConfig) (kvstore.Store, error) {
	switch cfg.Backend {
	case "memory":
		return memorystore.New(), nil
	case "badger":
		return badgerstore.New(badgerstore.Config{Dir: cfg.Badger.Dir})
	case "postgres":
		connectCtx, cancel := context.WithTimeout(context.Background(), cfg.Postgres.ConnectTimeout)
		defer cancel()

		return postgresstore.New(connectCtx, postgresstore.Config{
			URL:             cfg.Postgres.URL,
			MaxOpenConns:    cfg.Postgres.MaxOpenConns,
			MaxIdleConns:    cfg.Postgres.MaxIdleConns,
			ConnMaxLifetime: cfg.Postgres.ConnMaxLifetime,
			ConnectAttempts: cfg.Postgres.ConnectAttempts,
		})
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

func (a *App) collectStoreMetrics(ctx context.Context, store *postgresstore.Store) {
	// Collect immediately on start
	metrics.RecordStorePoolMetrics(store.Pool())

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			metrics.RecordStorePoolMetrics(store.Pool())
		case <-ctx.Done():
			return
		}
	}
}

func (a *App) healthzHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) readyzHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	// A missing probe key still proves the backend answers reads.
	if _, err := a.store.Get(ctx, "system", "readyz"); err != nil && !errors.Is(err, kvstore.ErrNotFound) {
		ctxlog.FromContext(r.Context()).Error("readiness check failed", "error", err)
		httputil.Text(w, http.StatusServiceUnavailable, "Store unavailable")
		return
	}

	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) versionHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.JSON(w, http.StatusOK, map[string]string{
		"version":    version.Version,
		"commit":     version.GitCommit,
		"build_date": version.BuildDate,
	})
}

func initLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
