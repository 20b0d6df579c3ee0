// Package main is the entry point for the Proust questionnaire server.
//
// MAIN PACKAGE IN GO:
// The main package should be kept minimal. Its job is to:
// 1. Read configuration (.env, YAML file, env vars, flags)
// 2. Create the dependencies that reach outside the process (logger sinks,
//    Redis, the mail provider)
// 3. Start the application
//
// All actual logic lives in imported packages (internal/server, internal/service, etc.).
package main

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/sakif/proust-questionnaire/internal/config"
	"github.com/sakif/proust-questionnaire/internal/mailer"
	"github.com/sakif/proust-questionnaire/internal/ratelimit"
	"github.com/sakif/proust-questionnaire/internal/server"
)

// rateWindow is the period RATE_LIMIT_PER_HOUR applies to.
const rateWindow = time.Hour

func main() {
	if err := run(); err != nil {
		os.Exit(1)
	}
}

// run returns instead of exiting so deferred cleanup (log file, Redis
// client) always runs. Errors are logged where they happen.
func run() error {
	// === 1. LOAD .env ===
	// Values already in the environment win; a missing file is fine.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Error("failed to read .env", slog.String("error", err.Error()))
		return err
	}

	// === 2. READ CONFIGURATION ===
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		slog.Error("invalid configuration", slog.String("error", err.Error()))
		return err
	}

	// === 3. SET UP LOGGING ===
	logger, closeLog := newLogger(cfg)
	defer closeLog()

	// Ensure the data directory exists (like `mkdir -p`).
	dbDir := filepath.Dir(cfg.DBPath)
	if err := os.MkdirAll(dbDir, 0o755); err != nil {
		logger.Error("failed to create database directory",
			slog.String("dir", dbDir),
			slog.String("error", err.Error()),
		)
		return err
	}

	// === 4. RATE LIMITER ===
	// Redis is optional. Without it each process counts on its own.
	var limiter ratelimit.Limiter
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Error("invalid REDIS_URL", slog.String("error", err.Error()))
			return err
		}
		client := redis.NewClient(opts)
		defer client.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := client.Ping(ctx).Err(); err != nil {
			// the limiter fails open, so an unreachable Redis is not fatal
			logger.Warn("redis unreachable at startup", slog.String("error", err.Error()))
		}
		cancel()
		limiter = ratelimit.NewRedisLimiter(client, cfg.RateLimitPerHour, rateWindow)
	} else {
		logger.Warn("REDIS_URL not set: rate limits are per process")
		limiter = ratelimit.NewMemoryLimiter(cfg.RateLimitPerHour, rateWindow)
	}

	// === 5. MAIL ===
	var mail mailer.Mailer
	if cfg.SendGridAPIKey != "" {
		mail = mailer.NewSendGrid(cfg.SendGridAPIKey, cfg.MailFrom, "")
	} else {
		logger.Warn("SENDGRID_API_KEY not set: magic links are printed to stdout")
		mail = mailer.NewConsole(os.Stdout)
	}

	// === 6. CREATE AND START THE SERVER ===
	srv, err := server.New(cfg, logger, server.External{
		Mailer:  mail,
		Limiter: limiter,
	})
	if err != nil {
		logger.Error("failed to create server", slog.String("error", err.Error()))
		return err
	}

	// Start() blocks until the server is shut down (via Ctrl+C or SIGTERM)
	if err := srv.Start(); err != nil {
		logger.Error("server error", slog.String("error", err.Error()))
		return err
	}
	return nil
}

// newLogger builds the slog logger. With LOG_FILE set, records also go to a
// rotated file.
func newLogger(cfg config.Config) (*slog.Logger, func()) {
	var out io.Writer = os.Stdout
	closeFn := func() {}

	if cfg.LogFile != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    50, // megabytes
			MaxBackups: 5,
			MaxAge:     28, // days
			Compress:   true,
		}
		out = io.MultiWriter(os.Stdout, rotator)
		closeFn = func() { rotator.Close() }
	}

	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	var h slog.Handler
	if cfg.LogFormat == "json" {
		h = slog.NewJSONHandler(out, opts)
	} else {
		h = slog.NewTextHandler(out, opts)
	}
	return slog.New(h), closeFn
}
