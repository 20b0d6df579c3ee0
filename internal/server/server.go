// Package server sets up the HTTP server, router, and all route definitions.
//
// SERVER ARCHITECTURE:
// This package is the wiring layer. It decides:
//   - Which URL patterns map to which handler functions
//   - What middleware runs on which routes
//   - Which background jobs run next to the HTTP server
//   - How everything starts and stops
//
// DEPENDENCY INJECTION FLOW:
// main.go creates the things that talk to the outside world (mailer, Redis
// client) and passes them in. Server.New creates everything else:
//
//	config → sqlite.DB → MagicLinkService / QuestionnaireService → handlers
//	                   → Sweeper, backup.Runner
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/sakif/proust-questionnaire/internal/auth"
	"github.com/sakif/proust-questionnaire/internal/backup"
	"github.com/sakif/proust-questionnaire/internal/config"
	"github.com/sakif/proust-questionnaire/internal/export"
	"github.com/sakif/proust-questionnaire/internal/handler"
	"github.com/sakif/proust-questionnaire/internal/mailer"
	"github.com/sakif/proust-questionnaire/internal/metrics"
	"github.com/sakif/proust-questionnaire/internal/middleware"
	"github.com/sakif/proust-questionnaire/internal/ratelimit"
	"github.com/sakif/proust-questionnaire/internal/repository"
	sqliteRepo "github.com/sakif/proust-questionnaire/internal/repository/sqlite"
	"github.com/sakif/proust-questionnaire/internal/service"
)

const shutdownTimeout = 30 * time.Second

// External holds the collaborators main builds because they reach outside
// the process.
type External struct {
	Mailer  mailer.Mailer
	Limiter ratelimit.Limiter
}

// Server owns the database, the HTTP server and the background jobs.
//
// RESOURCE MANAGEMENT:
// The database is closed in Start after the HTTP server has drained and the
// jobs have returned, so nothing is still writing when the file lock goes.
type Server struct {
	router  http.Handler
	config  config.Config
	logger  *slog.Logger
	db      *sqliteRepo.DB
	sweeper *service.Sweeper
	backups *backup.Runner // nil when backups are disabled
}

// New opens the database and wires every service, handler and job.
func New(cfg config.Config, logger *slog.Logger, ext External) (*Server, error) {
	db, err := sqliteRepo.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s, err := build(cfg, logger, ext, db)
	if err != nil {
		db.Close() // Clean up DB if wiring fails
		return nil, err
	}
	return s, nil
}

func build(cfg config.Config, logger *slog.Logger, ext External, db *sqliteRepo.DB) (*Server, error) {
	hasher, err := auth.NewHasher([]byte(cfg.TokenSecret))
	if err != nil {
		return nil, err
	}
	creds, err := auth.NewCredentialService([]byte(cfg.CredentialSecret), cfg.CredentialTTL)
	if err != nil {
		return nil, err
	}

	var sealer *auth.EmailSealer
	if cfg.EmailRecipient != "" {
		if sealer, err = auth.NewEmailSealer(cfg.EmailRecipient); err != nil {
			return nil, err
		}
	}

	renderer, err := export.NewRenderer(cfg.PDFFont)
	if err != nil {
		return nil, err
	}

	m := metrics.New()

	links := service.NewMagicLinkService(service.MagicLinkDeps{
		Repo:    db,
		Links:   db,
		Hasher:  hasher,
		Creds:   creds,
		Mailer:  ext.Mailer,
		Limiter: ext.Limiter,
		Sealer:  sealer,
		Metrics: m,
		Logger:  logger,
		BaseURL: cfg.BaseURL,
		LinkTTL: cfg.MagicLinkTTL,
	})
	quiz := service.NewQuestionnaireService(db, hasher, creds, renderer, m, logger)

	s := &Server{
		router: NewRouter(RouterDeps{
			DB:            db,
			Links:         links,
			Quiz:          quiz,
			Metrics:       m,
			Logger:        logger,
			CredentialTTL: creds.TTL(),
			CookieSecure:  cfg.CookieSecure,
			TrustProxy:    cfg.TrustProxy,
		}),
		config:  cfg,
		logger:  logger,
		db:      db,
		sweeper: service.NewSweeper(db, cfg.SweepInterval, m, logger),
	}

	if cfg.BackupEnabled() {
		s.backups, err = backup.NewRunner(db, backup.Config{
			Dir:       cfg.BackupDir,
			Recipient: cfg.BackupRecipient,
			Interval:  cfg.BackupInterval,
		}, m, logger)
		if err != nil {
			return nil, err
		}
	}
	return s, nil
}

// RouterDeps is what NewRouter needs. Tests build it around an in-memory
// database.
type RouterDeps struct {
	DB            repository.HealthChecker
	Links         *service.MagicLinkService
	Quiz          *service.QuestionnaireService
	Metrics       *metrics.Metrics
	Logger        *slog.Logger
	CredentialTTL time.Duration
	CookieSecure  bool
	// TrustProxy lets X-Forwarded-For and X-Real-IP replace RemoteAddr.
	// Off, a client cannot pick the IP the rate limiter counts against.
	TrustProxy bool
}

// NewRouter configures all middleware and routes.
//
// ROUTE STRUCTURE:
// GET    /api/health                    → liveness + database ping
// GET    /api/metrics                   → Prometheus exposition
// POST   /api/auth/magic-link           → start a session, mail the link
// GET    /auth/verify                   → redeem the emailed link
// POST   /api/auth/magic-link/verify    → redeem, JSON body
// POST   /api/auth/logout               → clear cookies
// GET    /api/questionnaire/current     → next question       [dual auth]
// GET    /api/questionnaire/answers     → answers so far      [dual auth]
// POST   /api/questionnaire/answers     → answer a question   [dual auth]
// PUT    /api/questionnaire/sharing     → toggle public link  [dual auth]
// GET    /api/questionnaire/export.pdf  → PDF download        [dual auth]
// GET    /api/share/{shareId}           → public read-only view
//
// MIDDLEWARE ORDER MATTERS:
// 1. RequestID: assigns unique ID to each request (for tracing)
// 2. RealIP: client IP from proxy headers, only with TrustProxy set; the
//    rate limiter keys on it
// 3. Recoverer: catches panics and returns 500 instead of crashing
// 4. Logger: logs each request and records its latency
func NewRouter(d RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	if d.TrustProxy {
		r.Use(chimiddleware.RealIP)
	}
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.Logger(d.Logger, d.Metrics))

	health := handler.NewHealthHandler(d.DB, d.Logger)
	authHandler := handler.NewAuthHandler(d.Links, d.CredentialTTL, d.CookieSecure, d.Logger)
	quiz := handler.NewQuestionnaireHandler(d.Quiz, d.Logger)

	r.Get("/auth/verify", authHandler.HandleVerify)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", health.HandleHealth)
		r.Method(http.MethodGet, "/metrics", d.Metrics.Handler())

		r.Post("/auth/magic-link", authHandler.HandleRequestLink)
		r.Post("/auth/magic-link/verify", authHandler.HandleVerifyJSON)
		r.Post("/auth/logout", authHandler.HandleLogout)

		r.Route("/questionnaire", func(r chi.Router) {
			r.Use(auth.RequireSessionAuth)
			r.Get("/current", quiz.HandleCurrent)
			r.Get("/answers", quiz.HandleListAnswers)
			r.Post("/answers", quiz.HandleSubmitAnswer)
			r.Put("/sharing", quiz.HandleSetSharing)
			r.Get("/export.pdf", quiz.HandleExportPDF)
		})

		r.Get("/share/{shareId}", quiz.HandleShared)
	})

	return r
}

// Start runs the HTTP server and the background jobs until SIGINT or
// SIGTERM, then shuts everything down.
//
// GRACEFUL SHUTDOWN:
// 1. Stop accepting new HTTP connections
// 2. Wait for in-flight requests to finish (30s timeout)
// 3. Cancel the sweeper and backup runner and wait for them
// 4. Close the database connection (flushes WAL, releases file lock)
func (s *Server) Start() error {
	defer s.db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	jobsCtx, cancelJobs := context.WithCancel(context.Background())
	var jobs sync.WaitGroup
	defer jobs.Wait()
	defer cancelJobs()

	jobs.Add(1)
	go func() {
		defer jobs.Done()
		s.sweeper.Run(jobsCtx)
	}()
	if s.backups != nil {
		jobs.Add(1)
		go func() {
			defer jobs.Done()
			s.backups.Run(jobsCtx)
		}()
	} else {
		s.logger.Warn("backups disabled: BACKUP_DIR and BACKUP_RECIPIENT not set")
	}

	srv := &http.Server{
		Addr:              s.config.Addr(),
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", slog.Any("config", s.config))
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil

	case <-ctx.Done():
		s.logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	s.logger.Info("server stopped gracefully")
	return nil
}
