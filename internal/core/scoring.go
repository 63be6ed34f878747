package core

import (
	"cmp"
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

// Apply scores ev against s within the given open season. Events that are not
// strictly newer than the last recorded activity are absorbed with zero points,
// which makes redelivery of the same event a no-op. Only the first login of a
// UTC day is rewarded; later ones on that day are absorbed the same way.
func Apply(s UserRankingState, ev ScoreEvent, season Season, rules Rules) (UserRankingState, int64) {
	if !ev.OccurredAt.After(s.LastActivityAt) || repeatLogin(s, ev) {
		return s, 0
	}
	if s.SeasonNumber < season.Number {
		s = enterSeason(s, season.Number, season.CarryOverRatio, rules)
	}

	s, points := accrue(s, ev, rules)
	s.SeasonScore += points
	s.Totals.add(ev.Kind.Category(), points)
	s.League = rules.Leagues.Classify(s.SeasonScore)
	return s, points
}

// accrue updates the lifetime part of the state: streak, counters, cumulative
// score and level. Season score is left to the caller.
func accrue(s UserRankingState, ev ScoreEvent, rules Rules) (UserRankingState, int64) {
	s.UserID = ev.UserID
	if s.JoinedAt.IsZero() {
		s.JoinedAt = ev.OccurredAt
	}

	s.StreakDays = nextStreak(s.LastActivityAt, s.StreakDays, ev.OccurredAt)
	if s.StreakDays > s.LongestStreak {
		s.LongestStreak = s.StreakDays
	}

	switch ev.Kind {
	case KindTransaction:
		s.Transactions++
	case KindGoalCompleted:
		s.GoalsCompleted++
	case KindLoginStreak:
		s.LoginDays++
		s.LastLoginAt = ev.OccurredAt
	}

	points := rules.Points.Points(ev.Kind, s.StreakDays, ev.BasePoints)
	s.CumulativeScore += points
	s.Level = LevelFor(s.CumulativeScore)
	s.LastActivityAt = ev.OccurredAt
	return s, points
}

// repeatLogin reports a login on a UTC day that was already rewarded.
func repeatLogin(s UserRankingState, ev ScoreEvent) bool {
	return ev.Kind == KindLoginStreak && !s.LastLoginAt.IsZero() &&
		calendarDaysBetween(s.LastLoginAt, ev.OccurredAt) == 0
}

func nextStreak(last time.Time, streak int, at time.Time) int {
	if last.IsZero() || streak <= 0 {
		return 1
	}
	switch calendarDaysBetween(last, at) {
	case 0:
		return streak
	case 1:
		return streak + 1
	default:
		return 1
	}
}

// calendarDaysBetween counts UTC calendar day boundaries crossed from a to b.
func calendarDaysBetween(a, b time.Time) int {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	da := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	db := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)
	return int(db.Sub(da).Hours() / 24)
}

// CarryOver returns floor(seasonScore * ratio).
func CarryOver(seasonScore int64, ratio decimal.Decimal) int64 {
	if seasonScore <= 0 {
		return 0
	}
	return decimal.NewFromInt(seasonScore).Mul(ratio).Floor().IntPart()
}

// Rollover closes the user's participation in the closing season and moves the
// state into season next. The returned standing is the immutable history record.
func Rollover(s UserRankingState, closing Season, next int, rules Rules, at time.Time) (UserRankingState, SeasonStanding) {
	carried := CarryOver(s.SeasonScore, closing.CarryOverRatio)
	standing := SeasonStanding{
		SeasonID:     closing.ID,
		SeasonNumber: closing.Number,
		UserID:       s.UserID,
		SeasonScore:  s.SeasonScore,
		League:       s.League,
		Totals:       s.Totals,
		CarriedOver:  carried,
		ArchivedAt:   at,
	}
	return startSeason(s, next, carried, rules), standing
}

// enterSeason moves a state that missed one or more rollovers into season.
// Only users without season score are skipped by the season manager, so the
// carried value is normally zero.
func enterSeason(s UserRankingState, season int, ratio decimal.Decimal, rules Rules) UserRankingState {
	return startSeason(s, season, CarryOver(s.SeasonScore, ratio), rules)
}

func startSeason(s UserRankingState, season int, baseline int64, rules Rules) UserRankingState {
	s.SeasonNumber = season
	s.SeasonBaseline = baseline
	s.SeasonScore = baseline
	s.Totals = CategoryTotals{}
	s.League = rules.Leagues.Classify(baseline)
	return s
}

// Replay rebuilds a user's state from the full event log. Lifetime values are
// recomputed from every event; the season score is the stored baseline plus the
// points of events logged against the season. Events that arrived after a
// season ended but before it was closed belong to that season and are already
// part of the baseline.
func Replay(base UserRankingState, events []LoggedEvent, season Season, rules Rules) UserRankingState {
	sorted := slices.Clone(events)
	slices.SortStableFunc(sorted, func(a, b LoggedEvent) int {
		if c := a.Event.OccurredAt.Compare(b.Event.OccurredAt); c != 0 {
			return c
		}
		return cmp.Compare(a.Event.ID, b.Event.ID)
	})

	baseline := base.SeasonBaseline
	if base.SeasonNumber < season.Number {
		baseline = CarryOver(base.SeasonScore, season.CarryOverRatio)
	}

	s := UserRankingState{
		UserID:         base.UserID,
		JoinedAt:       base.JoinedAt,
		SeasonNumber:   season.Number,
		SeasonBaseline: baseline,
		Version:        base.Version,
		Level:          LevelFor(0),
	}

	var seasonPoints int64
	for _, le := range sorted {
		ev := le.Event
		if !ev.OccurredAt.After(s.LastActivityAt) || repeatLogin(s, ev) {
			continue
		}
		var points int64
		s, points = accrue(s, ev, rules)
		if inSeason(le, season) {
			seasonPoints += points
			s.Totals.add(ev.Kind.Category(), points)
		}
	}

	s.SeasonScore = baseline + seasonPoints
	s.League = rules.Leagues.Classify(s.SeasonScore)
	return s
}

func inSeason(le LoggedEvent, season Season) bool {
	if le.SeasonNumber != 0 {
		return le.SeasonNumber == season.Number
	}
	return !le.Event.OccurredAt.Before(season.StartAt)
}
