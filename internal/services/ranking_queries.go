package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"finrank/internal/core"
)

const (
	maxFriends                     = 500
	defaultCategoryLeaderboardSize = 10
)

type (
	// UserRanking is a user's state with its position on the global leaderboard.
	UserRanking struct {
		State            core.UserRankingState
		Rank             int // 0 for users without activity
		NextLeague       core.League
		PointsToNextTier int64
		TopLeague        bool
	}

	CategoryLeaderboard struct {
		Category core.Category
		Entries  []core.LeaderboardEntry
	}

	UserBadge struct {
		Badge      core.Badge
		UnlockedAt time.Time
	}
)

// GetUserRanking returns the user's ranking. Users that never scored get the
// initial state: zero score, Bronze, no rank.
func (s *RankingService) GetUserRanking(ctx context.Context, userID string) (UserRanking, error) {
	if strings.TrimSpace(userID) == "" {
		return UserRanking{}, fmt.Errorf("%w: user id is required", core.ErrInvalidInput)
	}
	season := s.seasons.Current()
	st, err := s.loadState(ctx, userID, season.Number)
	if err != nil {
		return UserRanking{}, err
	}

	out := UserRanking{State: st}
	if next, missing, ok := s.rules.Leagues.Next(st.SeasonScore); ok {
		out.NextLeague, out.PointsToNextTier = next, missing
	} else {
		out.NextLeague, out.TopLeague = core.Diamond, true
	}
	if st.Version == 0 {
		return out, nil
	}
	rank, err := s.repo.GlobalRank(ctx, st)
	if err != nil {
		return UserRanking{}, core.Unavailable("global rank", err)
	}
	out.Rank = rank
	return out, nil
}

// GetGlobalLeaderboard returns one page of the global leaderboard.
func (s *RankingService) GetGlobalLeaderboard(ctx context.Context, page core.PageRequest) ([]core.LeaderboardEntry, error) {
	page = page.Normalize()
	key := fmt.Sprintf("global:%d:%d", page.Limit, page.Offset)
	if entries, ok := s.cache.Get(ctx, key); ok {
		s.metrics.CacheLookup(true)
		return entries, nil
	}
	s.metrics.CacheLookup(false)

	entries, err := s.repo.GlobalLeaderboard(ctx, page)
	if err != nil {
		return nil, core.Unavailable("global leaderboard", err)
	}
	s.cache.Set(ctx, key, entries)
	return entries, nil
}

// GetFriendsLeaderboard ranks the user among the given friends. The user is
// always part of the result; unknown friends are left out.
func (s *RankingService) GetFriendsLeaderboard(ctx context.Context, userID string, friendIDs []string) ([]core.LeaderboardEntry, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: user id is required", core.ErrInvalidInput)
	}
	if len(friendIDs) > maxFriends {
		return nil, fmt.Errorf("%w: at most %d friends per request", core.ErrInvalidInput, maxFriends)
	}

	ids := []string{userID}
	for _, id := range friendIDs {
		id = strings.TrimSpace(id)
		if id != "" && !slices.Contains(ids, id) {
			ids = append(ids, id)
		}
	}

	states, err := s.repo.GetUserStates(ctx, ids)
	if err != nil {
		return nil, core.Unavailable("friends states", err)
	}
	if !slices.ContainsFunc(states, func(st core.UserRankingState) bool { return st.UserID == userID }) {
		states = append(states, core.NewUserState(userID, s.seasons.Current().Number))
	}
	return core.Rank(states, core.SeasonScore), nil
}

// GetCategoryLeaderboards ranks users on each category total of the current
// season. Users without points in a category are not listed in it.
func (s *RankingService) GetCategoryLeaderboards(ctx context.Context, limit int) ([]CategoryLeaderboard, error) {
	if limit <= 0 {
		limit = defaultCategoryLeaderboardSize
	}
	limit = min(limit, core.MaxLeaderboardLimit)

	boards := make([]CategoryLeaderboard, 0, len(core.Categories))
	var states []core.UserRankingState
	for _, c := range core.Categories {
		key := fmt.Sprintf("category:%s:%d", c, limit)
		if entries, ok := s.cache.Get(ctx, key); ok {
			s.metrics.CacheLookup(true)
			boards = append(boards, CategoryLeaderboard{Category: c, Entries: entries})
			continue
		}
		s.metrics.CacheLookup(false)

		if states == nil {
			var err error
			if states, err = s.repo.ListUserStates(ctx); err != nil {
				return nil, core.Unavailable("list user states", err)
			}
		}
		var active []core.UserRankingState
		for _, st := range states {
			if st.Totals.Get(c) > 0 {
				active = append(active, st)
			}
		}
		entries := core.Paginate(core.Rank(active, core.CategoryScore(c)), core.PageRequest{Limit: limit})
		s.cache.Set(ctx, key, entries)
		boards = append(boards, CategoryLeaderboard{Category: c, Entries: entries})
	}
	return boards, nil
}

// GetUserBadges lists the user's unlocked badges, oldest first.
func (s *RankingService) GetUserBadges(ctx context.Context, userID string) ([]UserBadge, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: user id is required", core.ErrInvalidInput)
	}
	unlocks, err := s.repo.ListBadgeUnlocks(ctx, userID)
	if err != nil {
		return nil, core.Unavailable("list badge unlocks", err)
	}
	out := make([]UserBadge, 0, len(unlocks))
	for _, u := range unlocks {
		b, ok := s.catalog.Badge(u.BadgeID)
		if !ok {
			// Unlocks survive badges removed from the catalog.
			b = core.Badge{ID: u.BadgeID, Name: u.BadgeID}
		}
		out = append(out, UserBadge{Badge: b, UnlockedAt: u.UnlockedAt})
	}
	slices.SortStableFunc(out, func(a, b UserBadge) int {
		if c := a.UnlockedAt.Compare(b.UnlockedAt); c != 0 {
			return c
		}
		return strings.Compare(a.Badge.ID, b.Badge.ID)
	})
	return out, nil
}

// GetUserAchievements lists every catalog achievement with the user's progress.
func (s *RankingService) GetUserAchievements(ctx context.Context, userID string) ([]core.Achievement, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: user id is required", core.ErrInvalidInput)
	}
	stored, err := s.repo.ListAchievements(ctx, userID)
	if err != nil {
		return nil, core.Unavailable("list achievements", err)
	}
	byID := make(map[string]core.Achievement, len(stored))
	for _, a := range stored {
		byID[a.ID] = a
	}
	return core.AchievementsView(s.catalog.Achievements, byID), nil
}

// GetUserSeasonHistory returns the user's standings of closed seasons, newest first.
func (s *RankingService) GetUserSeasonHistory(ctx context.Context, userID string) ([]core.SeasonStanding, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: user id is required", core.ErrInvalidInput)
	}
	standings, err := s.repo.UserStandings(ctx, userID)
	if err != nil && !errors.Is(err, core.ErrNotFound) {
		return nil, core.Unavailable("user standings", err)
	}
	slices.SortFunc(standings, func(a, b core.SeasonStanding) int { return b.SeasonNumber - a.SeasonNumber })
	return standings, nil
}

// CurrentSeason returns the season scoring currently applies to.
func (s *RankingService) CurrentSeason() core.Season {
	return s.seasons.Current()
}
