package core

import (
	"fmt"
	"slices"
	"time"
)

// Metric names a numeric aggregate of a user's state that catalog rules can test.
type Metric string

const (
	MetricCumulativeScore Metric = "cumulative_score"
	MetricSeasonScore     Metric = "season_score"
	MetricStreakDays      Metric = "streak_days"
	MetricLongestStreak   Metric = "longest_streak"
	MetricLevel           Metric = "level"
	MetricLeague          Metric = "league"
	MetricTransactions    Metric = "transactions"
	MetricGoalsCompleted  Metric = "goals_completed"
	MetricLoginDays       Metric = "login_days"
)

var Metrics = []Metric{
	MetricCumulativeScore, MetricSeasonScore, MetricStreakDays, MetricLongestStreak,
	MetricLevel, MetricLeague, MetricTransactions, MetricGoalsCompleted, MetricLoginDays,
}

func ParseMetric(s string) (Metric, error) {
	m := Metric(s)
	if slices.Contains(Metrics, m) {
		return m, nil
	}
	return "", fmt.Errorf("unknown metric %q", s)
}

// Value reads metric m from the state.
func (s UserRankingState) Value(m Metric) int64 {
	switch m {
	case MetricCumulativeScore:
		return s.CumulativeScore
	case MetricSeasonScore:
		return s.SeasonScore
	case MetricStreakDays:
		return int64(s.StreakDays)
	case MetricLongestStreak:
		return int64(s.LongestStreak)
	case MetricLevel:
		return int64(s.Level)
	case MetricLeague:
		return int64(s.League)
	case MetricTransactions:
		return s.Transactions
	case MetricGoalsCompleted:
		return s.GoalsCompleted
	case MetricLoginDays:
		return s.LoginDays
	}
	return 0
}

type (
	// Badge is a permanent marker unlocked once every requirement holds.
	Badge struct {
		ID          string
		Name        string
		Category    string
		Description string
		Rarity      string
		Requires    map[Metric]int64 // Minimum value per metric
	}

	BadgeUnlock struct {
		UserID     string
		BadgeID    string
		UnlockedAt time.Time
	}

	AchievementDef struct {
		ID          string
		Title       string
		Description string
		Metric      Metric
		Target      int64
	}

	Achievement struct {
		ID          string
		Title       string
		Current     int64
		Target      int64
		Completed   bool
		CompletedAt time.Time
	}
)

func (b Badge) Unlocked(s UserRankingState) bool {
	if len(b.Requires) == 0 {
		return false
	}
	for m, want := range b.Requires {
		if s.Value(m) < want {
			return false
		}
	}
	return true
}

// EvaluateBadges returns the ids of badges that s satisfies and that are not in
// unlocked yet, sorted. Badges already unlocked are never reported again.
func EvaluateBadges(s UserRankingState, badges []Badge, unlocked map[string]bool) []string {
	var ids []string
	for _, b := range badges {
		if unlocked[b.ID] {
			continue
		}
		if b.Unlocked(s) {
			ids = append(ids, b.ID)
		}
	}
	slices.Sort(ids)
	return ids
}

// Progress advances prev with the current state. Progress is a high-water mark
// capped at the target, and completion is terminal.
func (d AchievementDef) Progress(prev Achievement, s UserRankingState, at time.Time) (Achievement, bool) {
	if prev.Completed {
		return prev, false
	}
	next := Achievement{ID: d.ID, Title: d.Title, Target: d.Target, Current: prev.Current}
	v := min(s.Value(d.Metric), d.Target)
	if v > next.Current {
		next.Current = v
	}
	if next.Current >= d.Target {
		next.Current = d.Target
		next.Completed = true
		next.CompletedAt = at
	}
	changed := next.Current != prev.Current || next.Completed
	return next, changed
}

// EvaluateAchievements returns the achievements whose progress changed.
func EvaluateAchievements(s UserRankingState, defs []AchievementDef, current map[string]Achievement, at time.Time) []Achievement {
	var changed []Achievement
	for _, d := range defs {
		next, ok := d.Progress(current[d.ID], s, at)
		if ok {
			changed = append(changed, next)
		}
	}
	return changed
}

// AchievementsView merges stored progress with the catalog so that every
// achievement is reported, including the ones without progress yet.
func AchievementsView(defs []AchievementDef, stored map[string]Achievement) []Achievement {
	out := make([]Achievement, 0, len(defs))
	for _, d := range defs {
		a, ok := stored[d.ID]
		if !ok {
			a = Achievement{ID: d.ID, Title: d.Title, Target: d.Target}
		}
		a.Title = d.Title
		out = append(out, a)
	}
	return out
}
