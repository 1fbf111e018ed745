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
	"time"

	guardhttp "github.com/aussiebroadwan/warden/internal/guard/http"
	"github.com/aussiebroadwan/warden/internal/guard/service"
	"github.com/aussiebroadwan/warden/internal/guard/store"
	redisstore "github.com/aussiebroadwan/warden/internal/guard/store/drivers/redis"
	"github.com/aussiebroadwan/warden/internal/guard/store/drivers/sqlite"
	"github.com/aussiebroadwan/warden/pkg/cryptox"
	"github.com/aussiebroadwan/warden/pkg/jwtx"
	"github.com/aussiebroadwan/warden/pkg/mailx"
	"github.com/aussiebroadwan/warden/pkg/slogx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
)

// BuildVersion is overridden at build time via ldflags.
var BuildVersion = "v0.1.0"

// Application holds the wired service and everything it owns.
type Application struct {
	cfg    Config
	logger *slog.Logger

	// Core dependencies
	db          store.Store
	keyManager  *jwtx.KeyManager
	revocations store.Revocations
	redis       *redis.Client
	checks      map[string]guardhttp.Pinger
	registry    *prometheus.Registry

	// Services
	tokens       *service.TokenEngine
	authService  *service.AuthService
	mfaService   *service.MFAService
	housekeeping *service.HousekeepingService

	server *http.Server
	router *guardhttp.Router
}

// Option adjusts an Application before it is wired.
type Option func(*Application)

// WithLogOutput sends logs to w instead of stdout.
func WithLogOutput(w io.Writer) Option {
	return func(app *Application) {
		app.logger = newLogger(app.cfg, w)
	}
}

func newLogger(cfg Config, w io.Writer) *slog.Logger {
	return slogx.New(slogx.Config{
		Service: "warden",
		Version: BuildVersion,
		Env:     cfg.Env,
		Level:   cfg.LogLevel,
		Format:  cfg.LogFormat,
		Output:  w,
	})
}

// New validates cfg and wires every dependency. Nothing listens until Run.
func New(cfg Config, opts ...Option) (*Application, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	app := &Application{cfg: cfg}
	for _, opt := range opts {
		opt(app)
	}
	if app.logger == nil {
		app.logger = newLogger(cfg, nil)
	}

	if err := app.initDatabase(); err != nil {
		return nil, err
	}

	if err := app.wire(); err != nil {
		_ = app.close()
		return nil, err
	}
	return app, nil
}

func (app *Application) wire() error {
	keyManager, err := InitKeys(app.cfg.Tokens, app.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize JWT keys: %w", err)
	}
	app.keyManager = keyManager

	if err := app.initRevocations(); err != nil {
		return err
	}
	if err := app.initServices(); err != nil {
		return err
	}
	app.initHTTP()
	return nil
}

// Handler is the fully wired HTTP handler.
func (app *Application) Handler() http.Handler { return app.router }

// Store exposes the database for operator commands.
func (app *Application) Store() store.Store { return app.db }

// Revocations is the configured revocation backend.
func (app *Application) Revocations() store.Revocations { return app.revocations }

func (app *Application) AuthService() *service.AuthService { return app.authService }

// Run starts the application and blocks until shutdown is requested
func (app *Application) Run() error {
	app.housekeeping.Start()

	app.logger.Info("warden starting", "port", app.cfg.Port, "version", BuildVersion)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- app.server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(shutdown)

	select {
	case err := <-serverErrors:
		app.housekeeping.Stop()
		_ = app.close()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
	case sig := <-shutdown:
		app.logger.Info("shutdown signal received", "signal", sig)

		if err := app.Shutdown(); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}

	return nil
}

// Shutdown gracefully shuts down the application
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down warden...")

	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("graceful server shutdown failed", "error", err)
		if err := app.server.Close(); err != nil {
			app.logger.Error("error closing server", "error", err)
		}
	}

	app.housekeeping.Stop()

	if err := app.close(); err != nil {
		return err
	}

	app.logger.Info("warden stopped")
	return nil
}

// Close releases the database and redis connections without touching the
// HTTP server. Operator commands that never call Run use it.
func (app *Application) Close() error { return app.close() }

func (app *Application) close() error {
	var errs []error
	if app.redis != nil {
		if err := app.redis.Close(); err != nil {
			app.logger.Error("error closing redis", "error", err)
			errs = append(errs, err)
		}
	}
	if app.db != nil {
		if err := app.db.Close(); err != nil {
			app.logger.Error("error closing database", "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// initDatabase opens the database and applies migrations
func (app *Application) initDatabase() error {
	db, err := sqlite.NewStore(databaseDSN(app.cfg.DatabaseFile))
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	app.db = db

	if err := db.ApplyMigrations(); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to apply database migrations: %w", err)
	}

	app.logger.Info("database migrations applied successfully")
	return nil
}

func databaseDSN(file string) string {
	if file == ":memory:" {
		return file
	}
	return fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)", file)
}

// initRevocations picks the revocation backend. The sqlite backend shares
// the principal database; redis keeps entries only until the token expires.
func (app *Application) initRevocations() error {
	switch app.cfg.Revocation.Backend {
	case BackendRedis:
		opts, err := redis.ParseURL(app.cfg.Revocation.RedisURL)
		if err != nil {
			return fmt.Errorf("%w: redis url: %w", service.ErrConfiguration, err)
		}
		app.redis = redis.NewClient(opts)
		revs := redisstore.NewRevocations(app.redis, app.cfg.Revocation.RedisPrefix)
		app.revocations = revs
		app.checks = map[string]guardhttp.Pinger{"redis": revs}
		app.logger.Info("using redis revocation list", "addr", opts.Addr)
	default:
		app.revocations = app.db.Revocations()
		app.logger.Info("using sqlite revocation list")
	}
	return nil
}

// initServices builds the business logic services
func (app *Application) initServices() error {
	var metrics *service.Metrics
	if !app.cfg.DisableMetrics {
		app.registry = prometheus.NewRegistry()
		app.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		metrics = service.NewMetrics(app.registry)
	}

	lifetimes, err := app.cfg.Tokens.Lifetimes()
	if err != nil {
		return err
	}

	app.tokens, err = service.NewTokenEngine(service.TokenConfig{
		Signer:      app.keyManager,
		Verifier:    app.keyManager.Verifier,
		Issuer:      app.cfg.Tokens.Issuer,
		Lifetimes:   lifetimes,
		Reserved:    app.cfg.Tokens.ReservedClaims,
		Revocations: app.revocations,
		Metrics:     metrics,
	})
	if err != nil {
		return err
	}

	pepper, err := cryptox.LoadOrGeneratePepper(app.cfg.PepperFile)
	if err != nil {
		return fmt.Errorf("failed to load pepper: %w", err)
	}

	verifier := app.cfg.TOTP.Verifier()
	refresh := !app.cfg.Tokens.DisableRefresh
	app.authService, err = service.NewAuthService(service.AuthConfig{
		Store:           app.db,
		Tokens:          app.tokens,
		Hasher:          cryptox.NewSchemeHasher(pepper),
		TOTP:            verifier,
		EnforceTOTP:     !app.cfg.TOTP.Optional,
		IssueRefresh:    refresh,
		RefreshRotation: refresh && !app.cfg.Tokens.DisableRotation,
		DefaultRoles:    app.cfg.Tokens.DefaultRoles,
		Mailer:          app.mailer(),
		Templates:       app.cfg.Mail,
		Metrics:         metrics,
	})
	if err != nil {
		return err
	}

	app.mfaService = &service.MFAService{
		Store:   app.db,
		TOTP:    verifier,
		Metrics: metrics,
	}

	app.housekeeping = service.NewHousekeepingService(
		app.revocations,
		app.logger,
		app.cfg.HousekeepingInterval,
	)
	return nil
}

// mailer falls back to logging messages when no SMTP relay is configured.
func (app *Application) mailer() mailx.Mailer {
	if app.cfg.SMTP.Host == "" {
		app.logger.Warn("no SMTP host configured, mail will be logged instead of sent")
		return mailx.LogMailer{Logger: app.logger}
	}
	return mailx.NewSMTPMailer(app.cfg.SMTP)
}

// initHTTP builds the router and server
func (app *Application) initHTTP() {
	router := guardhttp.NewRouter(
		app.keyManager.KeySet,
		BuildVersion,
		app.db,
		app.logger,
	)

	router.AuthService = app.authService
	router.MFAService = app.mfaService
	router.AdminRole = app.cfg.HTTP.AdminRole
	router.SetCookie = app.cfg.HTTP.SetCookie
	router.SecureCookie = !app.cfg.HTTP.InsecureCookie
	router.LoginLimit = app.cfg.HTTP.LoginLimit
	if app.registry != nil {
		router.Gatherer = app.registry
	}
	router.Checks = app.checks
	router.ApplyRoutes()

	app.router = router

	app.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", app.cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 3 * time.Second,
	}
}
