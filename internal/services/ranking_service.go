package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"finrank/internal/catalog"
	"finrank/internal/core"
	"finrank/internal/metrics"
)

const defaultCommitRetries = 4

type (
	// ApplyResult describes what a score event did to a user.
	ApplyResult struct {
		State                 core.UserRankingState
		Points                int64
		Absorbed              bool // Duplicate or out-of-order event, nothing changed
		NewBadges             []string
		CompletedAchievements []string
	}

	RankingOption func(*RankingService)
)

// RankingService applies score events and answers ranking queries. All writes to
// a user's state go through the per-user lock, so a user has a single writer
// while different users are scored in parallel.
type RankingService struct {
	repo    RankingRepository
	seasons SeasonSource
	refresh SeasonRefresher
	catalog *catalog.Catalog
	rules   core.Rules
	locks   *KeyedMutex
	cache   LeaderboardCache
	metrics *metrics.Metrics

	commitRetries uint64
	now           func() time.Time
}

func WithLeaderboardCache(c LeaderboardCache) RankingOption {
	return func(s *RankingService) {
		if c != nil {
			s.cache = c
		}
	}
}

func WithMetrics(m *metrics.Metrics) RankingOption {
	return func(s *RankingService) { s.metrics = m }
}

// WithLocks shares a lock set with other writers, such as the season manager.
func WithLocks(l *KeyedMutex) RankingOption {
	return func(s *RankingService) {
		if l != nil {
			s.locks = l
		}
	}
}

// WithSeasonRefresh makes writes reload the current season once its end has
// passed, so a process that does not close seasons itself stops scoring into
// a season another process already closed.
func WithSeasonRefresh(r SeasonRefresher) RankingOption {
	return func(s *RankingService) { s.refresh = r }
}

func WithClock(now func() time.Time) RankingOption {
	return func(s *RankingService) { s.now = now }
}

func NewRankingService(repo RankingRepository, seasons SeasonSource, cat *catalog.Catalog, rules core.Rules, opts ...RankingOption) *RankingService {
	s := &RankingService{
		repo:          repo,
		seasons:       seasons,
		catalog:       cat,
		rules:         rules,
		locks:         NewKeyedMutex(defaultLockShards),
		cache:         noCache{},
		commitRetries: defaultCommitRetries,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ApplyEvent scores a single event. Invalid events fail with core.ErrInvalidEvent
// or core.ErrInvalidEventKind before anything is read or written. Duplicates are
// absorbed and reported through ApplyResult.Absorbed.
func (s *RankingService) ApplyEvent(ctx context.Context, ev core.ScoreEvent) (ApplyResult, error) {
	if err := ev.Validate(); err != nil {
		s.metrics.EventRejected(rejectReason(err))
		return ApplyResult{}, err
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	ev.OccurredAt = ev.OccurredAt.UTC()

	unlock := s.locks.Lock(ev.UserID)
	defer unlock()

	var res ApplyResult
	err := s.withCommitRetry(ctx, func() error {
		var err error
		res, err = s.applyLocked(ctx, ev)
		return err
	})
	if err != nil {
		slog.ErrorContext(ctx, "Failed to apply score event",
			"event_id", ev.ID, "user_id", ev.UserID, "kind", ev.Kind, "error", err)
		return ApplyResult{}, err
	}

	if res.Absorbed {
		s.metrics.EventAbsorbed(string(ev.Kind))
		slog.DebugContext(ctx, "Score event absorbed",
			"event_id", ev.ID, "user_id", ev.UserID,
			"occurred_at", ev.OccurredAt, "last_activity_at", res.State.LastActivityAt)
		return res, nil
	}

	s.cache.Invalidate(ctx)
	s.metrics.EventApplied(string(ev.Kind), res.Points)
	for _, id := range res.NewBadges {
		s.metrics.BadgeUnlocked(id)
	}
	for _, id := range res.CompletedAchievements {
		s.metrics.AchievementCompleted(id)
	}

	slog.InfoContext(ctx, "Score event applied",
		"event_id", ev.ID,
		"user_id", ev.UserID,
		"kind", ev.Kind,
		"points", res.Points,
		"season_score", res.State.SeasonScore,
		"league", res.State.League.String(),
		"streak_days", res.State.StreakDays,
		"new_badges", len(res.NewBadges))
	return res, nil
}

func (s *RankingService) applyLocked(ctx context.Context, ev core.ScoreEvent) (ApplyResult, error) {
	season := s.writeSeason(ctx)

	prev, err := s.loadState(ctx, ev.UserID, season.Number)
	if err != nil {
		return ApplyResult{}, err
	}

	entered, standing := s.catchUp(ctx, prev, season)
	next, points := core.Apply(entered, ev, season, s.rules)
	if points == 0 {
		return ApplyResult{State: prev, Absorbed: true}, nil
	}

	badges, achievements, err := s.evaluate(ctx, next, ev.OccurredAt)
	if err != nil {
		return ApplyResult{}, err
	}

	next.Version = prev.Version + 1
	commit := Commit{
		State:        next,
		PrevVersion:  prev.Version,
		Event:        &RecordedEvent{Event: ev, Points: points, SeasonNumber: next.SeasonNumber},
		Standing:     standing,
		Badges:       badges,
		Achievements: achievements,
	}
	if err := s.commit(ctx, commit); err != nil {
		return ApplyResult{}, err
	}

	res := ApplyResult{State: next, Points: points}
	for _, b := range badges {
		res.NewBadges = append(res.NewBadges, b.BadgeID)
	}
	for _, a := range achievements {
		if a.Completed {
			res.CompletedAchievements = append(res.CompletedAchievements, a.ID)
		}
	}
	return res, nil
}

// RecalculateUserScore rebuilds the user's state from the event log. Badges
// already unlocked are kept even if the rebuilt state no longer satisfies them.
func (s *RankingService) RecalculateUserScore(ctx context.Context, userID string) (core.UserRankingState, error) {
	if userID == "" {
		return core.UserRankingState{}, fmt.Errorf("%w: user id is required", core.ErrInvalidInput)
	}

	unlock := s.locks.Lock(userID)
	defer unlock()

	var result core.UserRankingState
	err := s.withCommitRetry(ctx, func() error {
		season := s.writeSeason(ctx)
		prev, err := s.loadState(ctx, userID, season.Number)
		if err != nil {
			return err
		}
		events, err := s.repo.ListEvents(ctx, userID)
		if err != nil {
			return core.Unavailable("list events", err)
		}
		if len(events) == 0 && prev.Version == 0 {
			result = prev
			return nil
		}

		entered, standing := s.catchUp(ctx, prev, season)
		next := core.Replay(entered, events, season, s.rules)
		badges, achievements, err := s.evaluate(ctx, next, s.now().UTC())
		if err != nil {
			return err
		}
		next.Version = prev.Version + 1
		if err := s.commit(ctx, Commit{
			State:        next,
			PrevVersion:  prev.Version,
			Standing:     standing,
			Badges:       badges,
			Achievements: achievements,
		}); err != nil {
			return err
		}
		result = next
		return nil
	})
	if err != nil {
		slog.ErrorContext(ctx, "Failed to recalculate user score", "user_id", userID, "error", err)
		return core.UserRankingState{}, err
	}

	s.cache.Invalidate(ctx)
	slog.InfoContext(ctx, "User score recalculated",
		"user_id", userID,
		"cumulative_score", result.CumulativeScore,
		"season_score", result.SeasonScore,
		"league", result.League.String())
	return result, nil
}

// writeSeason returns the season writes go to. Once the held season is due it
// is reloaded, since another process may have closed it.
func (s *RankingService) writeSeason(ctx context.Context) core.Season {
	season := s.seasons.Current()
	if s.refresh == nil || !season.Due(s.now().UTC()) {
		return season
	}
	fresh, err := s.refresh.Refresh(ctx)
	if err != nil {
		slog.WarnContext(ctx, "Failed to refresh due season, using held season",
			"season", season.Number, "error", err)
		return season
	}
	return fresh
}

// catchUp moves a state still attached to an earlier season into season. A
// state with season score there missed the rollover, so its standing for that
// season is returned to be written with the commit.
func (s *RankingService) catchUp(ctx context.Context, st core.UserRankingState, season core.Season) (core.UserRankingState, *core.SeasonStanding) {
	if st.Version == 0 || st.SeasonNumber >= season.Number {
		return st, nil
	}
	closed := core.Season{Number: st.SeasonNumber, CarryOverRatio: season.CarryOverRatio}
	next, standing := core.Rollover(st, closed, season.Number, s.rules, s.now().UTC())
	if st.SeasonScore <= 0 {
		return next, nil
	}
	slog.WarnContext(ctx, "User missed season rollover, carrying over late",
		"user_id", st.UserID, "season", st.SeasonNumber, "season_score", st.SeasonScore,
		"carried_over", standing.CarriedOver)
	return next, &standing
}

func (s *RankingService) loadState(ctx context.Context, userID string, season int) (core.UserRankingState, error) {
	st, err := s.repo.GetUserState(ctx, userID)
	if errors.Is(err, core.ErrNotFound) {
		return core.NewUserState(userID, season), nil
	}
	if err != nil {
		return core.UserRankingState{}, core.Unavailable("load user state", err)
	}
	return st, nil
}

// evaluate returns the badges newly unlocked and the achievements whose progress
// moved for state st.
func (s *RankingService) evaluate(ctx context.Context, st core.UserRankingState, at time.Time) ([]core.BadgeUnlock, []core.Achievement, error) {
	unlocks, err := s.repo.ListBadgeUnlocks(ctx, st.UserID)
	if err != nil {
		return nil, nil, core.Unavailable("list badge unlocks", err)
	}
	have := make(map[string]bool, len(unlocks))
	for _, u := range unlocks {
		have[u.BadgeID] = true
	}

	var badges []core.BadgeUnlock
	for _, id := range core.EvaluateBadges(st, s.catalog.Badges, have) {
		badges = append(badges, core.BadgeUnlock{UserID: st.UserID, BadgeID: id, UnlockedAt: at})
	}

	stored, err := s.repo.ListAchievements(ctx, st.UserID)
	if err != nil {
		return nil, nil, core.Unavailable("list achievements", err)
	}
	progress := make(map[string]core.Achievement, len(stored))
	for _, a := range stored {
		progress[a.ID] = a
	}
	return badges, core.EvaluateAchievements(st, s.catalog.Achievements, progress, at), nil
}

func (s *RankingService) commit(ctx context.Context, c Commit) error {
	err := s.repo.Commit(ctx, c)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, core.ErrVersionConflict):
		s.metrics.CommitConflict()
		slog.WarnContext(ctx, "User state changed concurrently, retrying",
			"user_id", c.State.UserID, "prev_version", c.PrevVersion)
		return err
	default:
		return core.Unavailable("commit user state", err)
	}
}

// withCommitRetry runs op again when it fails with a version conflict. Any other
// error stops the retries immediately.
func (s *RankingService) withCommitRetry(ctx context.Context, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 10 * time.Millisecond
	b.MaxInterval = 250 * time.Millisecond

	err := backoff.Retry(func() error {
		err := op()
		if err != nil && !errors.Is(err, core.ErrVersionConflict) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(b, s.commitRetries), ctx))

	if errors.Is(err, core.ErrVersionConflict) {
		return core.Unavailable("commit user state", err)
	}
	return err
}

func rejectReason(err error) string {
	if errors.Is(err, core.ErrInvalidEventKind) {
		return "invalid_kind"
	}
	return "invalid_event"
}
