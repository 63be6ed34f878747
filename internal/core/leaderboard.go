package core

import (
	"cmp"
	"slices"
	"time"
)

const (
	DefaultLeaderboardLimit = 50
	MaxLeaderboardLimit     = 200
)

type LeaderboardEntry struct {
	Rank           int
	UserID         string
	Score          int64
	League         League
	Level          int
	LastActivityAt time.Time
}

type PageRequest struct {
	Limit  int
	Offset int
}

// Normalize applies the default limit, the limit cap and a non-negative offset.
func (p PageRequest) Normalize() PageRequest {
	if p.Limit <= 0 {
		p.Limit = DefaultLeaderboardLimit
	}
	if p.Limit > MaxLeaderboardLimit {
		p.Limit = MaxLeaderboardLimit
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

// CompareEntries orders by score descending, earliest last activity first and
// user id ascending. User ids are unique so the order is total.
func CompareEntries(a, b LeaderboardEntry) int {
	if c := cmp.Compare(b.Score, a.Score); c != 0 {
		return c
	}
	if c := a.LastActivityAt.Compare(b.LastActivityAt); c != 0 {
		return c
	}
	return cmp.Compare(a.UserID, b.UserID)
}

// ScoreFunc selects the value a leaderboard ranks on.
type ScoreFunc func(UserRankingState) int64

func SeasonScore(s UserRankingState) int64 { return s.SeasonScore }

func CategoryScore(c Category) ScoreFunc {
	return func(s UserRankingState) int64 { return s.Totals.Get(c) }
}

// Rank builds sorted leaderboard entries with ranks starting at 1.
func Rank(states []UserRankingState, score ScoreFunc) []LeaderboardEntry {
	entries := make([]LeaderboardEntry, 0, len(states))
	for _, s := range states {
		entries = append(entries, LeaderboardEntry{
			UserID:         s.UserID,
			Score:          score(s),
			League:         s.League,
			Level:          s.Level,
			LastActivityAt: s.LastActivityAt,
		})
	}
	slices.SortFunc(entries, CompareEntries)
	for i := range entries {
		entries[i].Rank = i + 1
	}
	return entries
}

// Paginate returns the requested window of an already ranked slice.
func Paginate(entries []LeaderboardEntry, p PageRequest) []LeaderboardEntry {
	p = p.Normalize()
	if p.Offset >= len(entries) {
		return []LeaderboardEntry{}
	}
	end := min(p.Offset+p.Limit, len(entries))
	return entries[p.Offset:end]
}
