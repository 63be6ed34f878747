package core

import (
	"errors"
	"math/rand"
	"reflect"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func testSeason() Season {
	return Season{
		ID:             "s1",
		Number:         1,
		StartAt:        time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		EndAt:          time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC),
		CarryOverRatio: decimal.RequireFromString("0.5"),
		Status:         SeasonOpen,
	}
}

func day(d int, hour int) time.Time {
	return time.Date(2025, 1, d, hour, 0, 0, 0, time.UTC)
}

func applyAll(t *testing.T, s UserRankingState, events []ScoreEvent) (UserRankingState, []int64) {
	t.Helper()
	var awarded []int64
	for _, ev := range events {
		var p int64
		s, p = Apply(s, ev, testSeason(), DefaultRules())
		awarded = append(awarded, p)
	}
	return s, awarded
}

func logged(season int, events ...ScoreEvent) []LoggedEvent {
	out := make([]LoggedEvent, len(events))
	for i, ev := range events {
		out[i] = LoggedEvent{Event: ev, SeasonNumber: season}
	}
	return out
}

func TestNewUserStateIsBronzeWithoutScore(t *testing.T) {
	s := NewUserState("u1", 1)
	if s.SeasonScore != 0 || s.CumulativeScore != 0 {
		t.Fatalf("expected zero scores, got %+v", s)
	}
	if s.League != Bronze {
		t.Fatalf("expected Bronze, got %s", s.League)
	}
	if ids := EvaluateBadges(s, testBadges(), nil); len(ids) != 0 {
		t.Fatalf("expected no badges, got %v", ids)
	}
}

func TestApplyTransactionsAndGoal(t *testing.T) {
	var events []ScoreEvent
	for i := 0; i < 5; i++ {
		events = append(events, ScoreEvent{ID: "tx", Kind: KindTransaction, UserID: "u1", OccurredAt: day(2, 8+i)})
	}
	events = append(events, ScoreEvent{ID: "goal", Kind: KindGoalCompleted, UserID: "u1", OccurredAt: day(2, 20)})

	s, _ := applyAll(t, NewUserState("u1", 1), events)
	if s.SeasonScore != 100 || s.CumulativeScore != 100 {
		t.Fatalf("expected 100 points, got season=%d cumulative=%d", s.SeasonScore, s.CumulativeScore)
	}
	if s.League != Bronze {
		t.Fatalf("expected Bronze, got %s", s.League)
	}
	if s.Totals.Savings != 50 || s.Totals.Goals != 50 || s.Totals.Consistency != 0 {
		t.Fatalf("unexpected category totals %+v", s.Totals)
	}
	if s.Transactions != 5 || s.GoalsCompleted != 1 {
		t.Fatalf("unexpected counters tx=%d goals=%d", s.Transactions, s.GoalsCompleted)
	}
	if s.Level != 2 {
		t.Fatalf("expected level 2, got %d", s.Level)
	}
	if !s.JoinedAt.Equal(day(2, 8)) || !s.LastActivityAt.Equal(day(2, 20)) {
		t.Fatalf("unexpected timestamps joined=%v last=%v", s.JoinedAt, s.LastActivityAt)
	}
}

func TestApplyLoginStreakTenDays(t *testing.T) {
	var events []ScoreEvent
	for d := 1; d <= 10; d++ {
		events = append(events, ScoreEvent{Kind: KindLoginStreak, UserID: "u1", OccurredAt: day(d, 9)})
	}
	s, awarded := applyAll(t, NewUserState("u1", 1), events)
	if s.StreakDays != 10 {
		t.Fatalf("expected streak 10, got %d", s.StreakDays)
	}
	if awarded[9] != 50 {
		t.Fatalf("expected 50 points on the 10th login, got %d", awarded[9])
	}
	if s.SeasonScore != 275 {
		t.Fatalf("expected 275 total points, got %d", s.SeasonScore)
	}
	if s.LoginDays != 10 || s.LongestStreak != 10 {
		t.Fatalf("unexpected login counters %+v", s)
	}
}

func TestLoginBonusIsCapped(t *testing.T) {
	s := NewUserState("u1", 1)
	s.StreakDays = 40
	s.LastActivityAt = day(1, 9)
	s, p := Apply(s, ScoreEvent{Kind: KindLoginStreak, UserID: "u1", OccurredAt: day(2, 9)}, testSeason(), DefaultRules())
	if s.StreakDays != 41 {
		t.Fatalf("expected streak 41, got %d", s.StreakDays)
	}
	if p != 150 {
		t.Fatalf("expected capped bonus 150, got %d", p)
	}
}

func TestRepeatLoginSameDayIsAbsorbed(t *testing.T) {
	events := []ScoreEvent{
		{Kind: KindLoginStreak, UserID: "u1", OccurredAt: day(1, 9)},
		{Kind: KindLoginStreak, UserID: "u1", OccurredAt: day(1, 9).Add(time.Minute)},
		{Kind: KindLoginStreak, UserID: "u1", OccurredAt: day(1, 23)},
		{Kind: KindLoginStreak, UserID: "u1", OccurredAt: day(2, 8)},
	}
	s, awarded := applyAll(t, NewUserState("u1", 1), events)
	if !reflect.DeepEqual(awarded, []int64{5, 0, 0, 10}) {
		t.Fatalf("expected one rewarded login per day, got %v", awarded)
	}
	if s.LoginDays != 2 || s.SeasonScore != 15 || s.StreakDays != 2 {
		t.Fatalf("unexpected state %+v", s)
	}
	if !s.LastLoginAt.Equal(day(2, 8)) || !s.LastActivityAt.Equal(day(2, 8)) {
		t.Fatalf("unexpected login timestamps %+v", s)
	}

	// Other activity on a rewarded day is still scored.
	s, p := Apply(s, ScoreEvent{Kind: KindTransaction, UserID: "u1", OccurredAt: day(2, 9)}, testSeason(), DefaultRules())
	if p != 10 || s.LoginDays != 2 {
		t.Fatalf("expected transaction to score 10, got %d (%+v)", p, s)
	}
}

func TestStreakTransitions(t *testing.T) {
	cases := []struct {
		name string
		at   []time.Time
		want []int
	}{
		{"consecutive", []time.Time{day(1, 9), day(2, 9), day(3, 23)}, []int{1, 2, 3}},
		{"same day", []time.Time{day(1, 9), day(1, 18)}, []int{1, 1}},
		{"gap resets", []time.Time{day(1, 9), day(2, 9), day(4, 9)}, []int{1, 2, 1}},
		{"midnight boundary", []time.Time{day(1, 23), day(2, 0)}, []int{1, 2}},
	}
	for _, tc := range cases {
		s := NewUserState("u1", 1)
		for i, at := range tc.at {
			s, _ = Apply(s, ScoreEvent{Kind: KindTransaction, UserID: "u1", OccurredAt: at}, testSeason(), DefaultRules())
			if s.StreakDays != tc.want[i] {
				t.Fatalf("%s: step %d expected streak %d, got %d", tc.name, i, tc.want[i], s.StreakDays)
			}
		}
	}
}

func TestApplyIsIdempotent(t *testing.T) {
	ev := ScoreEvent{ID: "e1", Kind: KindGoalCompleted, UserID: "u1", OccurredAt: day(3, 10)}
	once, p1 := Apply(NewUserState("u1", 1), ev, testSeason(), DefaultRules())
	twice, p2 := Apply(once, ev, testSeason(), DefaultRules())
	if p1 != 50 || p2 != 0 {
		t.Fatalf("expected 50 then 0 points, got %d and %d", p1, p2)
	}
	if !reflect.DeepEqual(once, twice) {
		t.Fatalf("redelivery changed state:\n%+v\n%+v", once, twice)
	}
}

func TestApplyAbsorbsOutOfOrderEvents(t *testing.T) {
	s, _ := Apply(NewUserState("u1", 1), ScoreEvent{Kind: KindTransaction, UserID: "u1", OccurredAt: day(5, 10)}, testSeason(), DefaultRules())
	late, p := Apply(s, ScoreEvent{Kind: KindTransaction, UserID: "u1", OccurredAt: day(4, 10)}, testSeason(), DefaultRules())
	if p != 0 || !reflect.DeepEqual(s, late) {
		t.Fatalf("expected late event to be absorbed, got %d points", p)
	}
}

func TestApplyBasePointsOverride(t *testing.T) {
	rules := DefaultRules()
	if got := rules.Points.Points(KindTransaction, 1, 25); got != 25 {
		t.Fatalf("expected override 25, got %d", got)
	}
	if got := rules.Points.Points(KindLoginStreak, 4, 2); got != 8 {
		t.Fatalf("expected 2 per day for 4 days, got %d", got)
	}
	if got := rules.Points.Points(KindGoalCompleted, 1, 0); got != 50 {
		t.Fatalf("expected table value 50, got %d", got)
	}
}

func TestApplyEntersNewSeasonLazily(t *testing.T) {
	s := NewUserState("u1", 1)
	s.LastActivityAt = day(1, 9)
	s.CumulativeScore = 40
	next := testSeason()
	next.Number = 2
	s, p := Apply(s, ScoreEvent{Kind: KindTransaction, UserID: "u1", OccurredAt: day(20, 9)}, next, DefaultRules())
	if s.SeasonNumber != 2 || s.SeasonScore != p || s.SeasonBaseline != 0 {
		t.Fatalf("unexpected state after entering season: %+v", s)
	}
	if s.CumulativeScore != 50 {
		t.Fatalf("expected cumulative 50, got %d", s.CumulativeScore)
	}
}

func TestReplayMatchesIncrementalScoring(t *testing.T) {
	kinds := []EventKind{KindTransaction, KindGoalCompleted, KindLoginStreak}
	var events []ScoreEvent
	for i := 0; i < 40; i++ {
		events = append(events, ScoreEvent{
			ID:         string(rune('a' + i%26)),
			Kind:       kinds[i%3],
			UserID:     "u1",
			OccurredAt: day(1+i/3, 6+i%3),
		})
	}
	want, _ := applyAll(t, NewUserState("u1", 1), events)

	shuffled := append([]ScoreEvent(nil), events...)
	rand.New(rand.NewSource(7)).Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	got := Replay(NewUserState("u1", 1), logged(1, shuffled...), testSeason(), DefaultRules())
	if !reflect.DeepEqual(want, got) {
		t.Fatalf("replay mismatch:\nwant %+v\ngot  %+v", want, got)
	}
}

func TestReplayKeepsBaselineAndSeasonWindow(t *testing.T) {
	season := testSeason()
	season.Number = 2
	season.StartAt = day(10, 0)
	base := NewUserState("u1", 2)
	base.SeasonBaseline = 600
	events := append(
		logged(1, ScoreEvent{ID: "old", Kind: KindGoalCompleted, UserID: "u1", OccurredAt: day(5, 9)}),
		logged(2, ScoreEvent{ID: "new", Kind: KindTransaction, UserID: "u1", OccurredAt: day(12, 9)})...,
	)
	got := Replay(base, events, season, DefaultRules())
	if got.CumulativeScore != 60 {
		t.Fatalf("expected cumulative 60, got %d", got.CumulativeScore)
	}
	if got.SeasonScore != 610 || got.League != Silver {
		t.Fatalf("expected season 610 Silver, got %d %s", got.SeasonScore, got.League)
	}
	if got.Totals.Savings != 10 || got.Totals.Goals != 0 {
		t.Fatalf("expected only in-season totals, got %+v", got.Totals)
	}
}

func TestReplayCountsEventsInTheSeasonTheyWereLogged(t *testing.T) {
	season := testSeason()
	season.Number = 2
	season.StartAt = day(10, 0)
	base := NewUserState("u1", 2)
	// Season 1 closed at 60 points, 50 from the goal and 10 from a
	// transaction that arrived after its end but before the rollover.
	base.SeasonBaseline = 30
	base.SeasonScore = 30
	events := append(
		logged(1,
			ScoreEvent{ID: "goal", Kind: KindGoalCompleted, UserID: "u1", OccurredAt: day(5, 9)},
			ScoreEvent{ID: "late", Kind: KindTransaction, UserID: "u1", OccurredAt: day(11, 9)},
		),
		logged(2, ScoreEvent{ID: "new", Kind: KindTransaction, UserID: "u1", OccurredAt: day(12, 9)})...,
	)
	got := Replay(base, events, season, DefaultRules())
	if got.CumulativeScore != 70 {
		t.Fatalf("expected cumulative 70, got %d", got.CumulativeScore)
	}
	if got.SeasonScore != 40 || got.Totals.Savings != 10 {
		t.Fatalf("expected season 40 with 10 savings, got %d %+v", got.SeasonScore, got.Totals)
	}

	// Entries without a season fall back to the season window.
	legacy := Replay(base, logged(0, events[0].Event, events[2].Event), season, DefaultRules())
	if legacy.SeasonScore != 40 {
		t.Fatalf("expected legacy season 40, got %d", legacy.SeasonScore)
	}
}

func TestReplaySkipsRepeatLogins(t *testing.T) {
	events := logged(1,
		ScoreEvent{ID: "a", Kind: KindLoginStreak, UserID: "u1", OccurredAt: day(1, 9)},
		ScoreEvent{ID: "b", Kind: KindLoginStreak, UserID: "u1", OccurredAt: day(1, 10)},
		ScoreEvent{ID: "c", Kind: KindLoginStreak, UserID: "u1", OccurredAt: day(2, 9)},
	)
	got := Replay(NewUserState("u1", 1), events, testSeason(), DefaultRules())
	if got.SeasonScore != 15 || got.LoginDays != 2 {
		t.Fatalf("expected 15 points over 2 login days, got %d and %d", got.SeasonScore, got.LoginDays)
	}
}

func TestRolloverCarriesHalf(t *testing.T) {
	s := NewUserState("u1", 1)
	s.SeasonScore = 1200
	s.CumulativeScore = 3000
	s.League = DefaultLeagueThresholds().Classify(1200)
	s.Totals = CategoryTotals{Savings: 700, Goals: 500}
	at := time.Date(2025, 4, 1, 0, 5, 0, 0, time.UTC)

	next, standing := Rollover(s, testSeason(), 2, DefaultRules(), at)
	if next.SeasonScore != 600 || next.SeasonBaseline != 600 {
		t.Fatalf("expected 600 carried, got score=%d baseline=%d", next.SeasonScore, next.SeasonBaseline)
	}
	if next.League != Silver {
		t.Fatalf("expected Silver, got %s", next.League)
	}
	if next.CumulativeScore != 3000 {
		t.Fatalf("cumulative must not change, got %d", next.CumulativeScore)
	}
	if next.SeasonNumber != 2 || next.Totals != (CategoryTotals{}) {
		t.Fatalf("expected season 2 with reset totals, got %+v", next)
	}
	if standing.SeasonScore != 1200 || standing.League != Silver || standing.CarriedOver != 600 || standing.SeasonNumber != 1 {
		t.Fatalf("unexpected standing %+v", standing)
	}
}

func TestCarryOverFloors(t *testing.T) {
	cases := []struct {
		score int64
		ratio string
		want  int64
	}{
		{1200, "0.5", 600},
		{1201, "0.5", 600},
		{999, "0.333", 332},
		{100, "0", 0},
		{100, "1", 100},
		{0, "0.5", 0},
	}
	for _, tc := range cases {
		if got := CarryOver(tc.score, decimal.RequireFromString(tc.ratio)); got != tc.want {
			t.Fatalf("CarryOver(%d, %s) = %d, want %d", tc.score, tc.ratio, got, tc.want)
		}
	}
}

func TestScoreEventValidate(t *testing.T) {
	good := ScoreEvent{Kind: KindTransaction, UserID: "u1", OccurredAt: day(1, 1)}
	if err := good.Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
	bad := good
	bad.Kind = "refund"
	if err := bad.Validate(); !errors.Is(err, ErrInvalidEventKind) {
		t.Fatalf("expected ErrInvalidEventKind, got %v", err)
	}
	bads := []ScoreEvent{
		{Kind: KindTransaction, UserID: " ", OccurredAt: day(1, 1)},
		{Kind: KindTransaction, UserID: "u1"},
		{Kind: KindTransaction, UserID: "u1", OccurredAt: day(1, 1), BasePoints: -1},
	}
	for i, ev := range bads {
		if err := ev.Validate(); !errors.Is(err, ErrInvalidEvent) {
			t.Fatalf("case %d expected ErrInvalidEvent, got %v", i, err)
		}
	}
}

func TestParseEventKind(t *testing.T) {
	if k, err := ParseEventKind(" Goal_Completed "); err != nil || k != KindGoalCompleted {
		t.Fatalf("expected goal_completed, got %q %v", k, err)
	}
	if _, err := ParseEventKind("bonus"); !errors.Is(err, ErrInvalidEventKind) {
		t.Fatalf("expected ErrInvalidEventKind, got %v", err)
	}
}
