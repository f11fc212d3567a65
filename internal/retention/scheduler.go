// ABOUTME: Background scheduler that evicts conversations idle past the retention window
// ABOUTME: Ticker-driven, cancellable, and survives individual cleanup failures

package retention

import (
	"context"
	"log/slog"
	"time"
)

// Cleaner is the slice of storage the scheduler drives.
type Cleaner interface {
	CleanupOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}

// Scheduler periodically deletes conversations whose last activity is
// older than the retention window. A failed cycle is logged and the next
// cycle still runs on schedule; each retry naturally covers the backlog
// the failed one left behind.
type Scheduler struct {
	cleaner   Cleaner
	interval  time.Duration
	retention time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// New creates a Scheduler that runs every interval and removes
// conversations idle for longer than retention.
func New(cleaner Cleaner, interval, retention time.Duration, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cleaner:   cleaner,
		interval:  interval,
		retention: retention,
		logger:    logger.With("component", "retention"),
		now:       time.Now,
	}
}

// Run blocks until ctx is cancelled, invoking a cleanup cycle every
// interval. It returns ctx.Err() on cancellation and nothing else; cycle
// errors never terminate the loop.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("retention scheduler started", "interval", s.interval, "retention", s.retention)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("retention scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil {
				s.logger.Error("cleanup cycle failed", "error", err)
			}
		}
	}
}

// RunOnce performs a single cleanup cycle using the configured retention
// window. The manual admin trigger and tests share this path with the loop.
func (s *Scheduler) RunOnce(ctx context.Context) (int, error) {
	return s.CleanupWithRetention(ctx, s.retention)
}

// CleanupWithRetention runs one cycle with an explicit retention override.
func (s *Scheduler) CleanupWithRetention(ctx context.Context, retention time.Duration) (int, error) {
	cutoff := s.now().Add(-retention)
	deleted, err := s.cleaner.CleanupOlderThan(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		s.logger.Info("retention cleanup removed conversations", "count", deleted)
	}
	return deleted, nil
}
