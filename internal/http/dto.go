package http

import (
	"time"

	"finrank/internal/core"
	"finrank/internal/services"
)

type (
	categoryTotalsResponse struct {
		Savings     int64 `json:"savings"`
		Goals       int64 `json:"goals"`
		Consistency int64 `json:"consistency"`
	}

	userStateResponse struct {
		UserID          string                 `json:"user_id"`
		CumulativeScore int64                  `json:"cumulative_score"`
		SeasonScore     int64                  `json:"season_score"`
		Season          int                    `json:"season"`
		League          string                 `json:"league"`
		Level           int                    `json:"level"`
		StreakDays      int                    `json:"streak_days"`
		LongestStreak   int                    `json:"longest_streak"`
		LastActivityAt  *time.Time             `json:"last_activity_at,omitempty"`
		Totals          categoryTotalsResponse `json:"category_totals"`
	}

	userRankingResponse struct {
		userStateResponse
		Rank             int    `json:"rank,omitempty"`
		NextLeague       string `json:"next_league,omitempty"`
		PointsToNextTier int64  `json:"points_to_next_league"`
	}

	leaderboardEntryResponse struct {
		Rank   int    `json:"rank"`
		UserID string `json:"user_id"`
		Score  int64  `json:"score"`
		League string `json:"league"`
		Level  int    `json:"level"`
	}

	leaderboardResponse struct {
		Entries []leaderboardEntryResponse `json:"entries"`
		Limit   int                        `json:"limit,omitempty"`
		Offset  int                        `json:"offset"`
	}

	categoryLeaderboardResponse struct {
		Category string                     `json:"category"`
		Entries  []leaderboardEntryResponse `json:"entries"`
	}

	badgeResponse struct {
		ID          string    `json:"id"`
		Name        string    `json:"name"`
		Category    string    `json:"category,omitempty"`
		Description string    `json:"description,omitempty"`
		Rarity      string    `json:"rarity,omitempty"`
		UnlockedAt  time.Time `json:"unlocked_at"`
	}

	achievementResponse struct {
		ID          string     `json:"id"`
		Title       string     `json:"title"`
		Current     int64      `json:"current"`
		Target      int64      `json:"target"`
		Completed   bool       `json:"completed"`
		CompletedAt *time.Time `json:"completed_at,omitempty"`
	}

	standingResponse struct {
		Season      int                    `json:"season"`
		SeasonScore int64                  `json:"season_score"`
		League      string                 `json:"league"`
		Totals      categoryTotalsResponse `json:"category_totals"`
		CarriedOver int64                  `json:"carried_over"`
		ArchivedAt  time.Time              `json:"archived_at"`
	}

	seasonResponse struct {
		ID             string    `json:"id"`
		Number         int       `json:"number"`
		StartAt        time.Time `json:"start_at"`
		EndAt          time.Time `json:"end_at"`
		CarryOverRatio string    `json:"carry_over_ratio"`
		Status         string    `json:"status"`
	}

	eventRequest struct {
		ID         string    `json:"event_id"`
		Kind       string    `json:"kind"`
		UserID     string    `json:"user_id"`
		OccurredAt time.Time `json:"occurred_at"`
		BasePoints int64     `json:"base_points,omitempty"`
	}

	eventResponse struct {
		EventID               string             `json:"event_id"`
		Queued                bool               `json:"queued"`
		Points                int64              `json:"points"`
		Absorbed              bool               `json:"absorbed,omitempty"`
		NewBadges             []string           `json:"new_badges,omitempty"`
		CompletedAchievements []string           `json:"completed_achievements,omitempty"`
		State                 *userStateResponse `json:"state,omitempty"`
	}

	errorResponse struct {
		Error     string `json:"error"`
		RequestID string `json:"request_id,omitempty"`
	}
)

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	t = t.UTC()
	return &t
}

func totalsResponse(t core.CategoryTotals) categoryTotalsResponse {
	return categoryTotalsResponse{Savings: t.Savings, Goals: t.Goals, Consistency: t.Consistency}
}

func stateResponse(s core.UserRankingState) userStateResponse {
	return userStateResponse{
		UserID:          s.UserID,
		CumulativeScore: s.CumulativeScore,
		SeasonScore:     s.SeasonScore,
		Season:          s.SeasonNumber,
		League:          s.League.String(),
		Level:           s.Level,
		StreakDays:      s.StreakDays,
		LongestStreak:   s.LongestStreak,
		LastActivityAt:  optionalTime(s.LastActivityAt),
		Totals:          totalsResponse(s.Totals),
	}
}

func rankingResponse(r services.UserRanking) userRankingResponse {
	out := userRankingResponse{userStateResponse: stateResponse(r.State), Rank: r.Rank}
	if !r.TopLeague {
		out.NextLeague = r.NextLeague.String()
		out.PointsToNextTier = r.PointsToNextTier
	}
	return out
}

func entriesResponse(entries []core.LeaderboardEntry) []leaderboardEntryResponse {
	out := make([]leaderboardEntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, leaderboardEntryResponse{
			Rank:   e.Rank,
			UserID: e.UserID,
			Score:  e.Score,
			League: e.League.String(),
			Level:  e.Level,
		})
	}
	return out
}

func badgesResponse(badges []services.UserBadge) []badgeResponse {
	out := make([]badgeResponse, 0, len(badges))
	for _, b := range badges {
		out = append(out, badgeResponse{
			ID:          b.Badge.ID,
			Name:        b.Badge.Name,
			Category:    b.Badge.Category,
			Description: b.Badge.Description,
			Rarity:      b.Badge.Rarity,
			UnlockedAt:  b.UnlockedAt.UTC(),
		})
	}
	return out
}

func achievementsResponse(achievements []core.Achievement) []achievementResponse {
	out := make([]achievementResponse, 0, len(achievements))
	for _, a := range achievements {
		out = append(out, achievementResponse{
			ID:          a.ID,
			Title:       a.Title,
			Current:     a.Current,
			Target:      a.Target,
			Completed:   a.Completed,
			CompletedAt: optionalTime(a.CompletedAt),
		})
	}
	return out
}

func standingsResponse(standings []core.SeasonStanding) []standingResponse {
	out := make([]standingResponse, 0, len(standings))
	for _, s := range standings {
		out = append(out, standingResponse{
			Season:      s.SeasonNumber,
			SeasonScore: s.SeasonScore,
			League:      s.League.String(),
			Totals:      totalsResponse(s.Totals),
			CarriedOver: s.CarriedOver,
			ArchivedAt:  s.ArchivedAt.UTC(),
		})
	}
	return out
}

func toSeasonResponse(s core.Season) seasonResponse {
	return seasonResponse{
		ID:             s.ID,
		Number:         s.Number,
		StartAt:        s.StartAt.UTC(),
		EndAt:          s.EndAt.UTC(),
		CarryOverRatio: s.CarryOverRatio.String(),
		Status:         string(s.Status),
	}
}
