package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/sakif/proust-questionnaire/internal/metrics"
	"github.com/sakif/proust-questionnaire/internal/repository"
)

const (
	DefaultSweepInterval = time.Hour
	sweepTimeout         = 30 * time.Second
)

// Sweeper periodically deletes expired, unredeemed magic links.
//
// It is housekeeping only: VerifyLink checks expiry itself, so a link is
// rejected on time whether or not a sweep has run.
type Sweeper struct {
	links    repository.MagicLinkRepository
	interval time.Duration
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time
}

// NewSweeper creates a Sweeper. interval <= 0 selects DefaultSweepInterval.
func NewSweeper(links repository.MagicLinkRepository, interval time.Duration, m *metrics.Metrics, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if m == nil {
		m = metrics.New()
	}
	return &Sweeper{
		links:    links,
		interval: interval,
		metrics:  m,
		logger:   logger,
		now:      time.Now,
	}
}

// SweepOnce deletes every link expired at the current time.
func (s *Sweeper) SweepOnce(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, sweepTimeout)
	defer cancel()

	n, err := s.links.DeleteExpiredMagicLinks(ctx, s.now().UTC())
	if err != nil {
		return 0, err
	}
	s.metrics.MagicLinksSwept.Add(float64(n))
	return n, nil
}

// Run sweeps once immediately and then every interval until ctx is
// cancelled. A failed sweep is logged and retried on the next tick.
func (s *Sweeper) Run(ctx context.Context) {
	s.logger.Info("magic link sweeper started", slog.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.sweep(ctx)
		select {
		case <-ctx.Done():
			s.logger.Info("magic link sweeper stopped")
			return
		case <-ticker.C:
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	n, err := s.SweepOnce(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.logger.Error("magic link sweep failed", slog.String("error", err.Error()))
		return
	}
	if n > 0 {
		s.logger.Info("expired magic links deleted", slog.Int64("count", n))
	}
}
