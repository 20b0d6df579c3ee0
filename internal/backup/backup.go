// Package backup writes encrypted, compressed snapshots of the database.
//
// Each run copies the live database with VACUUM INTO, streams the copy
// through zstd and then age, and renames the result into place:
//
//	snapshot.db → zstd → age(recipient) → proust-20260102T030405Z.db.zst.age
//
// The server holds only the recipient's public key. Restoring needs the
// operator's identity:
//
//	age -d -i key.txt proust-....db.zst.age | zstd -d > proust.db
package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"filippo.io/age"
	"github.com/klauspost/compress/zstd"

	"github.com/sakif/proust-questionnaire/internal/metrics"
)

const (
	DefaultInterval = 24 * time.Hour
	DefaultKeep     = 7

	filePrefix = "proust-"
	fileSuffix = ".db.zst.age"
	// timeLayout sorts lexically in chronological order.
	timeLayout = "20060102T150405Z"

	runTimeout = 10 * time.Minute
)

// Snapshotter writes a consistent copy of the database to a new file.
type Snapshotter interface {
	Snapshot(ctx context.Context, path string) error
}

// Config controls where backups go and how many are kept.
type Config struct {
	Dir       string
	Recipient string // age X25519 public key
	Interval  time.Duration
	Keep      int
}

// Runner takes backups on a schedule.
type Runner struct {
	db        Snapshotter
	dir       string
	recipient age.Recipient
	interval  time.Duration
	keep      int
	metrics   *metrics.Metrics
	logger    *slog.Logger
	now       func() time.Time
}

// NewRunner validates cfg and creates the backup directory.
func NewRunner(db Snapshotter, cfg Config, m *metrics.Metrics, logger *slog.Logger) (*Runner, error) {
	if cfg.Dir == "" {
		return nil, errors.New("backup: directory is required")
	}
	recipient, err := age.ParseX25519Recipient(strings.TrimSpace(cfg.Recipient))
	if err != nil {
		return nil, fmt.Errorf("backup: parsing recipient: %w", err)
	}
	if err := os.MkdirAll(cfg.Dir, 0o700); err != nil {
		return nil, fmt.Errorf("backup: creating %s: %w", cfg.Dir, err)
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Keep <= 0 {
		cfg.Keep = DefaultKeep
	}
	if m == nil {
		m = metrics.New()
	}
	return &Runner{
		db:        db,
		dir:       cfg.Dir,
		recipient: recipient,
		interval:  cfg.Interval,
		keep:      cfg.Keep,
		metrics:   m,
		logger:    logger,
		now:       time.Now,
	}, nil
}

// Run takes a backup every interval until ctx is cancelled. The first one
// is taken one interval after start, not at boot.
func (r *Runner) Run(ctx context.Context) {
	r.logger.Info("backup runner started",
		slog.String("dir", r.dir),
		slog.Duration("interval", r.interval),
	)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("backup runner stopped")
			return
		case <-ticker.C:
			path, err := r.RunOnce(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				r.logger.Error("backup failed", slog.String("error", err.Error()))
				continue
			}
			r.logger.Info("backup written", slog.String("path", path))
		}
	}
}

// RunOnce writes one backup, prunes old ones and returns the new file's path.
func (r *Runner) RunOnce(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, runTimeout)
	defer cancel()

	path, err := r.write(ctx)
	if err != nil {
		r.metrics.Backups.WithLabelValues("failure").Inc()
		return "", err
	}
	r.metrics.Backups.WithLabelValues("success").Inc()

	if err := r.prune(); err != nil {
		// the new backup is in place; a failed prune only costs disk
		r.logger.Warn("pruning old backups failed", slog.String("error", err.Error()))
	}
	return path, nil
}

func (r *Runner) write(ctx context.Context) (string, error) {
	work, err := os.MkdirTemp(r.dir, ".work-")
	if err != nil {
		return "", fmt.Errorf("backup: creating work dir: %w", err)
	}
	defer os.RemoveAll(work)

	snapshot := filepath.Join(work, "snapshot.db")
	if err := r.db.Snapshot(ctx, snapshot); err != nil {
		return "", fmt.Errorf("backup: %w", err)
	}

	src, err := os.Open(snapshot)
	if err != nil {
		return "", fmt.Errorf("backup: opening snapshot: %w", err)
	}
	defer src.Close()

	partial := filepath.Join(work, "backup.partial")
	dst, err := os.OpenFile(partial, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return "", fmt.Errorf("backup: creating output: %w", err)
	}
	if err := r.encode(dst, src); err != nil {
		dst.Close()
		return "", err
	}
	if err := dst.Sync(); err != nil {
		dst.Close()
		return "", fmt.Errorf("backup: syncing output: %w", err)
	}
	if err := dst.Close(); err != nil {
		return "", fmt.Errorf("backup: closing output: %w", err)
	}

	final := filepath.Join(r.dir, filePrefix+r.now().UTC().Format(timeLayout)+fileSuffix)
	if err := os.Rename(partial, final); err != nil {
		return "", fmt.Errorf("backup: moving into place: %w", err)
	}
	return final, nil
}

// encode compresses src and encrypts the result into dst. The writers close
// innermost first so each one flushes into the next.
func (r *Runner) encode(dst io.Writer, src io.Reader) error {
	enc, err := age.Encrypt(dst, r.recipient)
	if err != nil {
		return fmt.Errorf("backup: creating encryptor: %w", err)
	}
	zw, err := zstd.NewWriter(enc, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return fmt.Errorf("backup: creating compressor: %w", err)
	}
	if _, err := io.Copy(zw, src); err != nil {
		zw.Close()
		return fmt.Errorf("backup: compressing: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("backup: finishing compression: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("backup: finishing encryption: %w", err)
	}
	return nil
}

// prune deletes all but the newest keep backups.
func (r *Runner) prune() error {
	names, err := r.List()
	if err != nil {
		return err
	}
	if len(names) <= r.keep {
		return nil
	}
	var errs []error
	for _, name := range names[:len(names)-r.keep] {
		if err := os.Remove(filepath.Join(r.dir, name)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// List returns the backup file names in dir, oldest first.
func (r *Runner) List() ([]string, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, fmt.Errorf("backup: reading %s: %w", r.dir, err)
	}
	var names []string
	for _, e := range entries {
		name := e.Name()
		if e.Type().IsRegular() && strings.HasPrefix(name, filePrefix) && strings.HasSuffix(name, fileSuffix) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}
