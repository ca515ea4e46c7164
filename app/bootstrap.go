package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"

	"account-api/internal/account"
	"account-api/internal/auth"
	"account-api/internal/config"
	"account-api/internal/db"
	"account-api/internal/mail"
	"account-api/internal/maintenance"
	"account-api/internal/observability"
)

type Options struct {
	LoadDotEnv bool
	// RunMigrations forces migrations regardless of RUN_MIGRATIONS_ON_STARTUP.
	RunMigrations bool
	// RequireDatabase rejects the in-memory store even in development.
	RequireDatabase bool
}

type Runtime struct {
	Handler http.Handler
	Logger  *observability.Logger
	Config  config.Config
	Close   func() error
}

// dependencies are the pieces Build wires from config. Tests supply their own.
type dependencies struct {
	store    account.Store
	database *sql.DB
	sender   mail.Sender
	logger   *observability.Logger
}

func Build(options Options) (*Runtime, error) {
	if options.LoadDotEnv {
		_ = godotenv.Load()
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger := observability.NewLogger(cfg.LogLevel)

	if err := observability.InitSentry(cfg.SentryDSN, cfg.AppEnv); err != nil {
		logger.Error("init_sentry_failed", map[string]any{"error": err.Error()})
	}

	deps := dependencies{logger: logger}

	if cfg.DatabaseURL == "" {
		if options.RequireDatabase {
			return nil, errors.New("missing required env: DATABASE_URL")
		}
		logger.Warn("database_not_configured", map[string]any{"store": "memory"})
		deps.store = account.NewMemoryStore()
	} else {
		database, err := openDatabase(cfg)
		if err != nil {
			return nil, err
		}

		if options.RunMigrations || cfg.RunMigrationsOnStartup {
			if err := db.RunMigrations(context.Background(), database); err != nil {
				_ = database.Close()
				return nil, fmt.Errorf("run migrations: %w", err)
			}
			logger.Info("migrations_applied", nil)
		}

		deps.database = database
		deps.store = account.NewRepository(database)
	}

	if cfg.SMTP.Enabled() {
		sender, err := mail.NewSMTPSender(cfg.SMTP.MailConfig())
		if err != nil {
			deps.closeDatabase()
			return nil, fmt.Errorf("init smtp: %w", err)
		}
		deps.sender = sender
	} else {
		logger.Warn("smtp_not_configured", map[string]any{"sender": "log"})
		deps.sender = mail.NewLogSender(logger)
	}

	runtime, err := build(cfg, deps)
	if err != nil {
		deps.closeDatabase()
		return nil, err
	}
	return runtime, nil
}

func openDatabase(cfg config.Config) (*sql.DB, error) {
	database, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	database.SetMaxOpenConns(cfg.DBMaxOpenConns)
	database.SetMaxIdleConns(cfg.DBMaxIdleConns)
	database.SetConnMaxLifetime(cfg.DBConnMaxLifetime)
	database.SetConnMaxIdleTime(cfg.DBConnMaxIdleTime)

	if err := database.Ping(); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return database, nil
}

func build(cfg config.Config, deps dependencies) (*Runtime, error) {
	logger := deps.logger

	templates, err := mail.NewTemplateRegistry()
	if err != nil {
		return nil, fmt.Errorf("load email templates: %w", err)
	}
	mailer := mail.NewMailer(deps.sender, templates)

	issuer, err := auth.NewIssuer(auth.TokenConfig{
		Secret:     []byte(cfg.JWTSecret),
		AccessTTL:  cfg.AccessTokenTTL,
		RefreshTTL: cfg.RefreshTokenTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("init token issuer: %w", err)
	}

	accountService := account.NewService(deps.store, mailer, logger)
	accountService.WithResetTokenTTL(cfg.ResetTokenTTL)
	accountHandler := account.NewHandler(accountService)

	authService := auth.NewService(deps.store, issuer, logger)
	authHandler := auth.NewHandler(authService)

	cleanupHandler := maintenance.NewCleanupHandler(deps.store, logger, cfg.CronSecret)

	if err := accountService.BootstrapAdmin(context.Background(), cfg.AdminEmail, cfg.AdminPassword); err != nil {
		return nil, fmt.Errorf("bootstrap admin: %w", err)
	}

	authenticated := func(h http.HandlerFunc) http.Handler {
		return auth.Middleware(issuer, deps.store, h)
	}
	adminOnly := func(h http.HandlerFunc) http.Handler {
		return auth.Middleware(issuer, deps.store, auth.RequireRole(account.RoleAdmin, h))
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /accounts/authenticate", authHandler.Authenticate)
	mux.HandleFunc("POST /accounts/refresh-token", authHandler.Refresh)
	mux.Handle("POST /accounts/revoke-token", authenticated(authHandler.Revoke))
	mux.HandleFunc("POST /accounts/register", accountHandler.Register)
	mux.HandleFunc("POST /accounts/verify-email", accountHandler.VerifyEmail)
	mux.HandleFunc("POST /accounts/forgot-password", accountHandler.ForgotPassword)
	mux.HandleFunc("POST /accounts/validate-reset-token", accountHandler.ValidateResetToken)
	mux.HandleFunc("POST /accounts/reset-password", accountHandler.ResetPassword)
	mux.Handle("GET /accounts", adminOnly(accountHandler.List))
	mux.Handle("POST /accounts", adminOnly(accountHandler.Create))
	mux.Handle("GET /accounts/{id}", authenticated(accountHandler.Get))
	mux.Handle("PUT /accounts/{id}", authenticated(accountHandler.Update))
	mux.Handle("DELETE /accounts/{id}", authenticated(accountHandler.Delete))
	mux.HandleFunc("GET /internal/maintenance/cleanup", cleanupHandler.Handle)
	mux.HandleFunc("POST /internal/maintenance/cleanup", cleanupHandler.Handle)
	mux.HandleFunc("GET /health", healthHandler(deps.database))

	handler := observability.RecoverMiddleware(logger,
		observability.RequestLoggingMiddleware(logger,
			CorsMiddleware(nil)(mux)))

	return &Runtime{
		Handler: handler,
		Logger:  logger,
		Config:  cfg,
		Close: func() error {
			observability.FlushSentry()
			_ = logger.Sync()
			if deps.database == nil {
				return nil
			}
			return deps.database.Close()
		},
	}, nil
}

func (d dependencies) closeDatabase() {
	if d.database != nil {
		_ = d.database.Close()
	}
}

// healthHandler pings the database when there is one. The in-memory store is
// always healthy.
func healthHandler(database *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusOK
		body := map[string]any{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)}

		if database != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()

			if err := database.PingContext(ctx); err != nil {
				status = http.StatusServiceUnavailable
				body["status"] = "degraded"
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}
}
