package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"finrank/internal/core"
	"finrank/internal/metrics"
	"finrank/internal/sheets"
)

const maxRolloverPasses = 3

// SeasonConfig controls season boundaries and rollover parallelism.
type SeasonConfig struct {
	// Length is the duration of every season (default: 90 days)
	Length time.Duration

	// CarryOverRatio is the share of season score kept at rollover (default: 0.5)
	CarryOverRatio decimal.Decimal

	// Concurrency bounds the users rolled over in parallel (default: 8)
	Concurrency int

	// FirstStart is the start of season 1 when no season exists yet.
	// Zero means midnight UTC of the first run.
	FirstStart time.Time
}

func DefaultSeasonConfig() SeasonConfig {
	return SeasonConfig{
		Length:         90 * 24 * time.Hour,
		CarryOverRatio: decimal.RequireFromString("0.5"),
		Concurrency:    8,
	}
}

// SeasonHolder is the process-wide current season. Only the SeasonManager
// moves it forward.
type SeasonHolder struct {
	mu     sync.RWMutex
	season core.Season
}

func NewSeasonHolder(s core.Season) *SeasonHolder {
	return &SeasonHolder{season: s}
}

func (h *SeasonHolder) Current() core.Season {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.season
}

func (h *SeasonHolder) set(s core.Season) {
	h.mu.Lock()
	h.season = s
	h.mu.Unlock()
}

// RolloverReport summarises the closing of one season.
type RolloverReport struct {
	Closing core.Season
	Opened  core.Season
	Rolled  int
	Failed  []*core.RolloverError
	Closed  bool
}

type SeasonOption func(*SeasonManager)

func WithArchiver(a sheets.SeasonArchiver) SeasonOption {
	return func(m *SeasonManager) { m.archiver = a }
}

func WithSeasonCache(c LeaderboardCache) SeasonOption {
	return func(m *SeasonManager) {
		if c != nil {
			m.cache = c
		}
	}
}

func WithSeasonMetrics(mt *metrics.Metrics) SeasonOption {
	return func(m *SeasonManager) { m.metrics = mt }
}

// SeasonManager drives the season lifecycle open -> closing -> closed and the
// per-user carry-over at rollover.
type SeasonManager struct {
	repo     SeasonRepository
	holder   *SeasonHolder
	locks    *KeyedMutex
	rules    core.Rules
	cfg      SeasonConfig
	archiver sheets.SeasonArchiver
	cache    LeaderboardCache
	metrics  *metrics.Metrics

	tickMu sync.Mutex
}

func NewSeasonManager(repo SeasonRepository, holder *SeasonHolder, locks *KeyedMutex, rules core.Rules, cfg SeasonConfig, opts ...SeasonOption) *SeasonManager {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultSeasonConfig().Concurrency
	}
	if cfg.Length <= 0 {
		cfg.Length = DefaultSeasonConfig().Length
	}
	m := &SeasonManager{
		repo:   repo,
		holder: holder,
		locks:  locks,
		rules:  rules,
		cfg:    cfg,
		cache:  noCache{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Init loads the current season from the repository, creating season 1 when
// none exists, and publishes it to the holder.
func (m *SeasonManager) Init(ctx context.Context, now time.Time) (core.Season, error) {
	m.tickMu.Lock()
	defer m.tickMu.Unlock()

	s, err := m.repo.CurrentSeason(ctx)
	switch {
	case errors.Is(err, core.ErrNotFound):
		start := m.cfg.FirstStart
		if start.IsZero() {
			y, mo, d := now.UTC().Date()
			start = time.Date(y, mo, d, 0, 0, 0, 0, time.UTC)
		}
		s = core.Season{
			ID:             uuid.NewString(),
			Number:         1,
			StartAt:        start,
			EndAt:          start.Add(m.cfg.Length),
			CarryOverRatio: m.cfg.CarryOverRatio,
			Status:         core.SeasonOpen,
		}
		if err := m.repo.SaveSeason(ctx, s); err != nil {
			return core.Season{}, core.Unavailable("save first season", err)
		}
		slog.InfoContext(ctx, "Opened first season", "season", s.Number, "start_at", s.StartAt, "end_at", s.EndAt)
	case err != nil:
		return core.Season{}, core.Unavailable("load current season", err)
	case s.Status == core.SeasonClosed:
		// Closed without its successor being saved.
		if s, err = m.openNext(ctx, s); err != nil {
			return core.Season{}, err
		}
	}

	m.holder.set(s)
	return s, nil
}

// Refresh reloads the current season into the holder. Processes that score
// events but leave rollover to another process call it periodically. While
// this manager is ticking the holder is already authoritative and is returned
// as is.
func (m *SeasonManager) Refresh(ctx context.Context) (core.Season, error) {
	if !m.tickMu.TryLock() {
		return m.holder.Current(), nil
	}
	defer m.tickMu.Unlock()

	s, err := m.repo.CurrentSeason(ctx)
	if errors.Is(err, core.ErrNotFound) {
		return m.holder.Current(), nil
	}
	if err != nil {
		return core.Season{}, core.Unavailable("load current season", err)
	}
	if cur := m.holder.Current(); cur.Number != s.Number || cur.Status != s.Status {
		m.holder.set(s)
		m.cache.Invalidate(ctx)
		slog.InfoContext(ctx, "Current season changed",
			"season", s.Number, "status", s.Status, "previous_season", cur.Number)
	}
	return s, nil
}

// Tick closes every season whose end has passed. A season only becomes closed
// once all of its users rolled over; otherwise it stays closing and the next
// tick resumes it.
func (m *SeasonManager) Tick(ctx context.Context, now time.Time) ([]RolloverReport, error) {
	m.tickMu.Lock()
	defer m.tickMu.Unlock()

	var reports []RolloverReport
	for {
		cur := m.holder.Current()
		if !cur.Due(now) {
			return reports, nil
		}
		report, err := m.closeSeason(ctx, cur, now)
		reports = append(reports, report)
		if err != nil {
			return reports, err
		}
	}
}

func (m *SeasonManager) closeSeason(ctx context.Context, cur core.Season, now time.Time) (RolloverReport, error) {
	started := time.Now()
	defer func() { m.metrics.RolloverFinished(time.Since(started)) }()

	if cur.Status == core.SeasonOpen {
		cur.Status = core.SeasonClosing
		if err := m.repo.SaveSeason(ctx, cur); err != nil {
			return RolloverReport{Closing: cur}, core.Unavailable("mark season closing", err)
		}
		m.holder.set(cur)
		slog.InfoContext(ctx, "Season closing", "season", cur.Number, "end_at", cur.EndAt)
	}

	report, err := m.rollover(ctx, cur, now)
	if err != nil {
		return report, err
	}
	if len(report.Failed) > 0 {
		errs := make([]error, 0, len(report.Failed))
		for _, f := range report.Failed {
			errs = append(errs, f)
		}
		slog.ErrorContext(ctx, "Season rollover incomplete, season stays closing",
			"season", cur.Number, "rolled", report.Rolled, "failed", len(report.Failed))
		return report, errors.Join(errs...)
	}

	closed := cur
	closed.Status = core.SeasonClosed
	if err := m.repo.SaveSeason(ctx, closed); err != nil {
		return report, core.Unavailable("mark season closed", err)
	}
	next, err := m.openNext(ctx, closed)
	if err != nil {
		return report, err
	}
	m.holder.set(next)
	m.cache.Invalidate(ctx)

	report.Closing, report.Opened, report.Closed = closed, next, true
	slog.InfoContext(ctx, "Season rolled over",
		"closed_season", closed.Number,
		"opened_season", next.Number,
		"rolled_users", report.Rolled,
		"end_at", next.EndAt)

	m.archive(ctx, closed)
	return report, nil
}

func (m *SeasonManager) openNext(ctx context.Context, closed core.Season) (core.Season, error) {
	next := closed.Next(uuid.NewString(), m.cfg.Length, m.cfg.CarryOverRatio)
	if err := m.repo.SaveSeason(ctx, next); err != nil {
		return core.Season{}, core.Unavailable("open next season", err)
	}
	return next, nil
}

// rollover carries over every user still attached to the closing season.
// Failures are isolated per user and retried on the following pass.
func (m *SeasonManager) rollover(ctx context.Context, closing core.Season, now time.Time) (RolloverReport, error) {
	report := RolloverReport{Closing: closing}
	var rolled atomic.Int64

	for pass := 0; pass < maxRolloverPasses; pass++ {
		ids, err := m.repo.RolloverCandidates(ctx, closing.Number)
		if err != nil {
			return report, core.Unavailable("list rollover candidates", err)
		}
		if len(ids) == 0 {
			report.Failed = nil
			break
		}

		var (
			mu     sync.Mutex
			failed []*core.RolloverError
			g      errgroup.Group
		)
		g.SetLimit(m.cfg.Concurrency)
		for _, id := range ids {
			g.Go(func() error {
				if err := m.rolloverUser(ctx, closing, id, now); err != nil {
					m.metrics.RolloverUser("failed")
					slog.WarnContext(ctx, "User rollover failed",
						"season", closing.Number, "user_id", id, "error", err)
					mu.Lock()
					failed = append(failed, &core.RolloverError{UserID: id, Err: err})
					mu.Unlock()
					return nil
				}
				m.metrics.RolloverUser("rolled")
				rolled.Add(1)
				return nil
			})
		}
		_ = g.Wait()
		// Later passes retry failures and pick up users that scored meanwhile.
		report.Failed = failed
	}

	report.Rolled = int(rolled.Load())
	return report, nil
}

func (m *SeasonManager) rolloverUser(ctx context.Context, closing core.Season, userID string, now time.Time) error {
	unlock := m.locks.Lock(userID)
	defer unlock()

	st, err := m.repo.GetUserState(ctx, userID)
	if err != nil {
		return fmt.Errorf("load user state: %w", err)
	}
	if st.SeasonNumber != closing.Number || st.SeasonScore <= 0 {
		return nil
	}

	next, standing := core.Rollover(st, closing, closing.Number+1, m.rules, now.UTC())
	next.Version = st.Version + 1
	return m.repo.Commit(ctx, Commit{
		State:       next,
		PrevVersion: st.Version,
		Standing:    &standing,
	})
}

func (m *SeasonManager) archive(ctx context.Context, closed core.Season) {
	if m.archiver == nil {
		return
	}
	standings, err := m.repo.ListStandings(ctx, closed.Number)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to load standings for archive", "season", closed.Number, "error", err)
		return
	}
	if err := m.archiver.ArchiveSeason(ctx, closed, standings); err != nil {
		slog.ErrorContext(ctx, "Failed to archive season", "season", closed.Number, "error", err)
		return
	}
	slog.InfoContext(ctx, "Season archived", "season", closed.Number, "standings", len(standings))
}
