package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	cronlib "github.com/robfig/cron/v3"
)

// DefaultSchedule runs the sweep hourly.
const DefaultSchedule = "@every 1h"

// scheduleParser accepts 5-field expressions and descriptors such as
// "@hourly" or "@every 30m".
var scheduleParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// Sweeper removes server-side consent records that are expired or were
// written under an older consent version.
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// CleanupResult summarizes the deletions performed by a cleanup run.
type CleanupResult struct {
	DeletedUserConsents int
}

// CleanupService periodically sweeps stale user consent.
type CleanupService struct {
	sweeper  Sweeper
	schedule cronlib.Schedule
	logger   *slog.Logger
	now      func() time.Time
}

// CleanupOption configures CleanupService.
type CleanupOption func(*CleanupService)

// WithCleanupLogger overrides the logger used for cleanup errors.
func WithCleanupLogger(logger *slog.Logger) CleanupOption {
	return func(s *CleanupService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithCleanupClock overrides the clock used to compute the next run.
func WithCleanupClock(now func() time.Time) CleanupOption {
	return func(s *CleanupService) {
		if now != nil {
			s.now = now
		}
	}
}

// New constructs a CleanupService. An empty schedule uses DefaultSchedule.
func New(sweeper Sweeper, schedule string, opts ...CleanupOption) (*CleanupService, error) {
	if sweeper == nil {
		return nil, fmt.Errorf("sweeper is required")
	}
	if schedule == "" {
		schedule = DefaultSchedule
	}
	sched, err := scheduleParser.Parse(schedule)
	if err != nil {
		return nil, fmt.Errorf("parse cleanup schedule %q: %w", schedule, err)
	}
	svc := &CleanupService{
		sweeper:  sweeper,
		schedule: sched,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc, nil
}

// Next returns the first scheduled run after t.
func (s *CleanupService) Next(t time.Time) time.Time {
	return s.schedule.Next(t)
}

// Start runs cleanup on schedule until ctx is cancelled.
func (s *CleanupService) Start(ctx context.Context) error {
	s.logger.InfoContext(ctx, "consent cleanup started", "next_run", s.Next(s.now()))
	for {
		timer := time.NewTimer(time.Until(s.Next(s.now())))
		select {
		case <-timer.C:
			res, err := s.RunOnce(ctx)
			if err != nil {
				s.logger.ErrorContext(ctx, "consent cleanup failed", "error", err)
				continue
			}
			if res.DeletedUserConsents > 0 {
				s.logger.InfoContext(ctx, "consent cleanup removed stale records",
					"deleted", res.DeletedUserConsents,
				)
			}
		case <-ctx.Done():
			timer.Stop()
			s.logger.InfoContext(ctx, "consent cleanup stopped")
			return ctx.Err()
		}
	}
}

// RunOnce performs a single sweep.
func (s *CleanupService) RunOnce(ctx context.Context) (CleanupResult, error) {
	deleted, err := s.sweeper.Sweep(ctx)
	if err != nil {
		return CleanupResult{}, fmt.Errorf("sweep user consent: %w", err)
	}
	return CleanupResult{DeletedUserConsents: deleted}, nil
}
