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
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/outboxlab/outpost/internal/config"
	"github.com/outboxlab/outpost/internal/email"
	"github.com/outboxlab/outpost/internal/identity"
	"github.com/outboxlab/outpost/internal/outbox"
	outboxpostgres "github.com/outboxlab/outpost/internal/outbox/postgres"
	"github.com/outboxlab/outpost/internal/pkg/ctxlog"
	"github.com/outboxlab/outpost/internal/pkg/httputil"
	"github.com/outboxlab/outpost/internal/pkg/metrics"
	"github.com/outboxlab/outpost/internal/pkg/postgres"
	"github.com/outboxlab/outpost/internal/version"
	"github.com/outboxlab/outpost/internal/webhook"
	webhookpostgres "github.com/outboxlab/outpost/internal/webhook/postgres"
)

// App represents the application instance.
type App struct {
	config        *config.Config
	logger        *slog.Logger
	db            *pgxpool.Pool
	server        *http.Server
	metricsServer *http.Server
	metricsCancel context.CancelFunc
	workerCancel  context.CancelFunc
	outboxWorker  *outbox.Worker
}

// New creates a new application instance: connects to the database, runs
// migrations, wires the outbox worker and builds both HTTP servers.
func New(cfg *config.Config) (*App, error) {
	logger := initLogger(cfg.Log)

	if cfg.Database.MigrationsPath != "" {
		if err := postgres.Migrate(cfg.Database.URL, cfg.Database.MigrationsPath); err != nil {
			return nil, fmt.Errorf("migrate database: %w", err)
		}
	}

	connectCtx, connectCancel := context.WithTimeout(context.Background(), cfg.Database.ConnectTimeout)
	defer connectCancel()

	db, err := postgres.Connect(connectCtx, postgres.Config{
		URL:             cfg.Database.URL,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnectAttempts: cfg.Database.ConnectAttempts,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	metricsCtx, metricsCancel := context.WithCancel(context.Background())

	// The worker gets its own context so shutdown can stop it before
	// cancelling: an in-flight batch must finish against a live context.
	workerCtx, workerCancel := context.WithCancel(context.Background())

	app := &App{
		config:        cfg,
		logger:        logger,
		db:            db,
		metricsCancel: metricsCancel,
		workerCancel:  workerCancel,
	}

	go app.collectDBMetrics(metricsCtx)

	router, worker, err := app.setupRouter(workerCtx)
	if err != nil {
		db.Close()
		metricsCancel()
		workerCancel()
		return nil, fmt.Errorf("setup router: %w", err)
	}

	app.outboxWorker = worker

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
	go func() {
		a.logger.Info("starting metrics server",
			"host", a.config.Server.Host,
			"port", a.config.Server.MetricsPort,
		)
		if err := a.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Error("metrics server error", "error", err)
		}
	}()

	a.logger.Info("starting server",
		"host", a.config.Server.Host,
		"port", a.config.Server.Port,
	)

	if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the application.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down servers")

	// Stop the worker before cancelling its context so an in-flight
	// batch finishes and records its outcome.
	if a.outboxWorker != nil {
		a.outboxWorker.Stop()
	}
	a.workerCancel()
	a.metricsCancel()

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

	a.db.Close()

	return errors.Join(errs...)
}

func (a *App) collectDBMetrics(ctx context.Context) {
	metrics.ObserveDBPool(a.db)

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			metrics.ObserveDBPool(a.db)
		case <-ctx.Done():
			return
		}
	}
}

// Router returns the HTTP handler for testing.
func (a *App) Router() http.Handler {
	return a.server.Handler
}

// OutboxWorker returns the outbox worker instance. Used in tests to
// access worker state.
func (a *App) OutboxWorker() *outbox.Worker {
	return a.outboxWorker
}

func (a *App) setupRouter(ctx context.Context) (*chi.Mux, *outbox.Worker, error) {
	r := chi.NewRouter()

	// Metrics middleware must be first to measure full request time
	r.Use(httputil.MetricsMiddleware)

	// CORS must be early to handle preflight requests before other middleware
	r.Use(httputil.CORSMiddleware(a.config.CORS.AllowedOrigins))
	r.Use(middleware.RequestID)
	r.Use(httputil.RequestLoggerMiddleware(a.logger))
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", a.healthzHandler)
	r.Get("/readyz", a.readyzHandler)
	r.Get("/version", a.versionHandler)

	// Storage
	outboxRepo := outboxpostgres.NewRepository(a.db, a.config.Outbox.MaxAttempts)
	auditLog := webhookpostgres.NewAuditLog(a.db)
	allowlist := webhookpostgres.NewAllowlist(a.db)

	// Outbound delivery
	guard := webhook.NewGuard(a.config.Webhooks.AllowedHosts, allowlist)
	webhookDispatcher := webhook.NewDispatcher(webhook.DispatcherConfig{
		Timeout:     a.config.Webhooks.Timeout,
		RatePerHost: a.config.Webhooks.RatePerHost,
		RateBurst:   a.config.Webhooks.RateBurst,
		UserAgent:   a.config.Webhooks.UserAgent,
	}, guard, auditLog)

	// With email disabled no dispatcher is registered for the kind, so
	// email rows fail through the retry path instead of being
	// acknowledged unsent.
	registered := []outbox.Dispatcher{webhookDispatcher}
	if a.config.Email.Enabled {
		emailDispatcher, err := email.NewDispatcher(email.Config{
			SMTPHost:     a.config.Email.SMTPHost,
			SMTPPort:     a.config.Email.SMTPPort,
			SMTPUser:     a.config.Email.SMTPUser,
			SMTPPassword: a.config.Email.SMTPPassword,
			FromAddress:  a.config.Email.FromAddress,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("create email dispatcher: %w", err)
		}
		registered = append(registered, emailDispatcher)
	} else {
		slog.Warn("email delivery disabled: email-kind items will retry until a dispatcher is configured")
	}

	dispatchers := outbox.NewDispatchers(registered...)

	outboxService := outbox.NewService(outboxRepo)
	outboxAdmin := outbox.NewAdmin(outboxRepo)
	outboxHandler := outbox.NewHandler(outboxService, outboxAdmin)

	worker := outbox.NewWorker(outbox.WorkerConfig{
		BatchSize:     a.config.Outbox.BatchSize,
		PollInterval:  a.config.Outbox.PollInterval,
		SweepInterval: a.config.Outbox.SweepInterval,
		StaleAfter:    a.config.Outbox.StaleAfter,
		StatsInterval: a.config.Outbox.StatsInterval,
	}, outboxService, outboxRepo, dispatchers)
	worker.Start(ctx)

	// Inbound verification
	verifier := webhook.NewVerifier(nil)
	webhookHandler := webhook.NewHandler(verifier, a.config.Webhooks.Providers, auditLog, nil)
	allowlistHandler := webhook.NewAllowlistHandler(allowlist)

	// Admin auth
	auth, err := identity.NewAuthenticator(identity.TokenConfig{
		Secret: a.config.JWT.SecretKey,
		Issuer: a.config.JWT.Issuer,
		TTL:    a.config.JWT.TokenDuration,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("create authenticator: %w", err)
	}
	identityService, err := identity.NewService(a.config.Admin.PasswordHash, auth)
	if err != nil {
		return nil, nil, fmt.Errorf("create identity service: %w", err)
	}
	identityHandler := identity.NewHandler(identityService)

	r.Route("/api", func(r chi.Router) {
		identityHandler.RegisterRoutes(r)
		webhookHandler.RegisterRoutes(r)

		r.Group(func(r chi.Router) {
			r.Use(httputil.AuthMiddleware(identityService))

			outboxHandler.RegisterRoutes(r)

			r.Route("/admin", func(r chi.Router) {
				outboxHandler.RegisterAdminRoutes(r)
				webhookHandler.RegisterAdminRoutes(r)
				allowlistHandler.RegisterAdminRoutes(r)
			})
		})
	})

	return r, worker, nil
}

func (a *App) healthzHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) readyzHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := a.db.Ping(ctx); err != nil {
		ctxlog.FromContext(r.Context()).Error("readiness check failed", "error", err)
		httputil.Text(w, http.StatusServiceUnavailable, "Database unavailable")
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

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}
