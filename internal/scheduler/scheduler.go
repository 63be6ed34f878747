// Package scheduler runs the periodic season jobs.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"

	"finrank/internal/core"
	"finrank/internal/services"
)

const DefaultSeasonCron = "5 0 * * *"

type SeasonTicker interface {
	Tick(ctx context.Context, now time.Time) ([]services.RolloverReport, error)
}

// SeasonFollower reloads the current season written by another process.
type SeasonFollower interface {
	Refresh(ctx context.Context) (core.Season, error)
}

type Scheduler struct {
	sched  gocron.Scheduler
	ticker SeasonTicker
	now    func() time.Time
}

// New schedules the season tick on a cron spec evaluated in UTC. The first tick
// runs as soon as the scheduler starts so an overdue season closes on boot.
func New(ctx context.Context, ticker SeasonTicker, cronSpec string) (*Scheduler, error) {
	if cronSpec == "" {
		cronSpec = DefaultSeasonCron
	}
	sched, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	s := &Scheduler{sched: sched, ticker: ticker, now: time.Now}

	_, err = sched.NewJob(
		gocron.CronJob(cronSpec, false),
		gocron.NewTask(func() { s.RunOnce(ctx) }),
		gocron.WithName("season-tick"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		_ = sched.Shutdown()
		return nil, fmt.Errorf("schedule season tick %q: %w", cronSpec, err)
	}
	return s, nil
}

func (s *Scheduler) Start() { s.sched.Start() }

func (s *Scheduler) Stop() error { return s.sched.Shutdown() }

// RunOnce closes any due season. Failures are logged; the season stays closing
// and the next run resumes it.
func (s *Scheduler) RunOnce(ctx context.Context) {
	reports, err := s.ticker.Tick(ctx, s.now().UTC())
	for _, r := range reports {
		slog.InfoContext(ctx, "Season tick",
			"season", r.Closing.Number,
			"closed", r.Closed,
			"rolled_users", r.Rolled,
			"failed_users", len(r.Failed))
	}
	if err != nil {
		slog.ErrorContext(ctx, "Season tick failed", "error", err)
	}
}

// NewFollower reloads the current season every interval.
func NewFollower(ctx context.Context, f SeasonFollower, interval time.Duration) (*Scheduler, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("invalid season refresh interval %v", interval)
	}
	sched, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}

	_, err = sched.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			if _, err := f.Refresh(ctx); err != nil {
				slog.WarnContext(ctx, "Season refresh failed", "error", err)
			}
		}),
		gocron.WithName("season-refresh"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = sched.Shutdown()
		return nil, fmt.Errorf("schedule season refresh: %w", err)
	}
	return &Scheduler{sched: sched, now: time.Now}, nil
}
