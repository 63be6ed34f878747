package services

import (
	"context"

	"finrank/internal/core"
)

// RecordedEvent is an accepted score event together with the points it earned
// and the season they went into.
type RecordedEvent = core.LoggedEvent

type (
	// Commit is one atomic write of a user's ranking data. Either everything in
	// it is persisted or nothing is. Stores reject the commit with
	// core.ErrVersionConflict when the stored version differs from PrevVersion.
	Commit struct {
		State        core.UserRankingState // Version already advanced
		PrevVersion  int64                 // 0 for a user that has no record yet
		Event        *RecordedEvent
		Standing     *core.SeasonStanding
		Badges       []core.BadgeUnlock
		Achievements []core.Achievement
	}
)

// Ports for the persistence adapters.
type (
	UserStateReader interface {
		// GetUserState returns core.ErrNotFound for unknown users.
		GetUserState(ctx context.Context, userID string) (core.UserRankingState, error)
	}

	Committer interface {
		Commit(ctx context.Context, c Commit) error
	}

	RankingRepository interface {
		UserStateReader
		Committer
		GetUserStates(ctx context.Context, userIDs []string) ([]core.UserRankingState, error)
		ListUserStates(ctx context.Context) ([]core.UserRankingState, error)
		// GlobalLeaderboard returns one page ordered by core.CompareEntries.
		GlobalLeaderboard(ctx context.Context, page core.PageRequest) ([]core.LeaderboardEntry, error)
		// GlobalRank returns the 1-based position of s on the global leaderboard.
		GlobalRank(ctx context.Context, s core.UserRankingState) (int, error)
		// ListEvents returns the user's event log ordered by occurrence.
		ListEvents(ctx context.Context, userID string) ([]core.LoggedEvent, error)
		ListBadgeUnlocks(ctx context.Context, userID string) ([]core.BadgeUnlock, error)
		ListAchievements(ctx context.Context, userID string) ([]core.Achievement, error)
		UserStandings(ctx context.Context, userID string) ([]core.SeasonStanding, error)
	}

	SeasonRepository interface {
		UserStateReader
		Committer
		// CurrentSeason returns the latest season or core.ErrNotFound.
		CurrentSeason(ctx context.Context) (core.Season, error)
		SaveSeason(ctx context.Context, s core.Season) error
		// RolloverCandidates lists users still attached to season number with a
		// positive season score.
		RolloverCandidates(ctx context.Context, number int) ([]string, error)
		ListStandings(ctx context.Context, number int) ([]core.SeasonStanding, error)
	}

	// LeaderboardCache stores computed leaderboards for a short time.
	LeaderboardCache interface {
		Get(ctx context.Context, key string) ([]core.LeaderboardEntry, bool)
		Set(ctx context.Context, key string, entries []core.LeaderboardEntry)
		Invalidate(ctx context.Context)
	}

	// SeasonSource yields the season scoring currently applies to.
	SeasonSource interface {
		Current() core.Season
	}

	// SeasonRefresher reloads the current season from the repository.
	SeasonRefresher interface {
		Refresh(ctx context.Context) (core.Season, error)
	}
)

type noCache struct{}

func (noCache) Get(context.Context, string) ([]core.LeaderboardEntry, bool) { return nil, false }
func (noCache) Set(context.Context, string, []core.LeaderboardEntry)        {}
func (noCache) Invalidate(context.Context)                                  {}
