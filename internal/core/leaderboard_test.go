package core

import (
	"errors"
	"testing"
	"time"
)

func TestClassifyBoundaries(t *testing.T) {
	th := DefaultLeagueThresholds()
	cases := []struct {
		score int64
		want  League
	}{
		{0, Bronze}, {499, Bronze}, {500, Silver}, {1499, Silver}, {1500, Gold},
		{3999, Gold}, {4000, Platinum}, {9999, Platinum}, {10000, Diamond}, {1 << 40, Diamond},
	}
	for _, tc := range cases {
		if got := th.Classify(tc.score); got != tc.want {
			t.Fatalf("Classify(%d) = %s, want %s", tc.score, got, tc.want)
		}
	}
}

func TestClassifyIsMonotonic(t *testing.T) {
	th := DefaultLeagueThresholds()
	prev := th.Classify(0)
	for s := int64(0); s <= 12000; s += 7 {
		l := th.Classify(s)
		if l < prev {
			t.Fatalf("league decreased at %d: %s after %s", s, l, prev)
		}
		prev = l
	}
}

func TestLeagueThresholdsValidate(t *testing.T) {
	if err := DefaultLeagueThresholds().Validate(); err != nil {
		t.Fatalf("default thresholds invalid: %v", err)
	}
	bads := []LeagueThresholds{
		{10, 500, 1500, 4000, 10000},
		{0, 500, 500, 4000, 10000},
		{0, 500, 1500, 1000, 10000},
	}
	for i, th := range bads {
		if err := th.Validate(); !errors.Is(err, ErrInvalidRules) {
			t.Fatalf("case %d expected ErrInvalidRules, got %v", i, err)
		}
	}
}

func TestParseLeague(t *testing.T) {
	for _, l := range Leagues {
		got, err := ParseLeague(l.String())
		if err != nil || got != l {
			t.Fatalf("round trip of %s failed: %v %v", l, got, err)
		}
	}
	if _, err := ParseLeague("Wood"); err == nil {
		t.Fatalf("expected error for unknown league")
	}
}

func TestLevelFor(t *testing.T) {
	cases := []struct {
		points int64
		want   int
	}{
		{0, 1}, {99, 1}, {100, 2}, {249, 2}, {250, 3},
	}
	for _, tc := range cases {
		if got := LevelFor(tc.points); got != tc.want {
			t.Fatalf("LevelFor(%d) = %d, want %d", tc.points, got, tc.want)
		}
	}
	if LevelFor(1<<62) != maxLevel {
		t.Fatalf("expected level cap %d", maxLevel)
	}
}

func TestRankOrdersWithTieBreaks(t *testing.T) {
	t1 := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)
	states := []UserRankingState{
		{UserID: "a", SeasonScore: 100, LastActivityAt: t2},
		{UserID: "c", SeasonScore: 100, LastActivityAt: t1},
		{UserID: "b", SeasonScore: 100, LastActivityAt: t1},
		{UserID: "d", SeasonScore: 200, LastActivityAt: t2},
	}
	got := Rank(states, SeasonScore)
	want := []string{"d", "b", "c", "a"}
	for i, e := range got {
		if e.UserID != want[i] || e.Rank != i+1 {
			t.Fatalf("position %d: got %s rank %d, want %s rank %d", i, e.UserID, e.Rank, want[i], i+1)
		}
	}
}

func TestCompareEntriesIsStrictTotalOrder(t *testing.T) {
	t1 := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	entries := []LeaderboardEntry{
		{UserID: "a", Score: 10, LastActivityAt: t1},
		{UserID: "b", Score: 10, LastActivityAt: t1},
		{UserID: "c", Score: 10, LastActivityAt: t1.Add(time.Minute)},
		{UserID: "d", Score: 20, LastActivityAt: t1},
	}
	for i, a := range entries {
		for j, b := range entries {
			c := CompareEntries(a, b)
			if i == j {
				if c != 0 {
					t.Fatalf("entry %s not equal to itself", a.UserID)
				}
				continue
			}
			if c == 0 || c != -CompareEntries(b, a) {
				t.Fatalf("order between %s and %s is not strict", a.UserID, b.UserID)
			}
		}
	}
}

func TestCategoryRanking(t *testing.T) {
	states := []UserRankingState{
		{UserID: "a", SeasonScore: 900, Totals: CategoryTotals{Savings: 10, Goals: 300}},
		{UserID: "b", SeasonScore: 100, Totals: CategoryTotals{Savings: 90}},
	}
	got := Rank(states, CategoryScore(CategorySavings))
	if got[0].UserID != "b" || got[0].Score != 90 {
		t.Fatalf("expected b first on savings, got %+v", got[0])
	}
}

func TestPaginate(t *testing.T) {
	var states []UserRankingState
	for i := 0; i < 120; i++ {
		states = append(states, UserRankingState{UserID: string(rune('A' + i%50)) + string(rune('a' + i/50)), SeasonScore: int64(i)})
	}
	ranked := Rank(states, SeasonScore)

	if got := Paginate(ranked, PageRequest{}); len(got) != DefaultLeaderboardLimit {
		t.Fatalf("expected default limit, got %d", len(got))
	}
	if got := Paginate(ranked, PageRequest{Limit: 10, Offset: 115}); len(got) != 5 || got[0].Rank != 116 {
		t.Fatalf("unexpected tail page %+v", got)
	}
	if got := Paginate(ranked, PageRequest{Limit: 10, Offset: 500}); len(got) != 0 {
		t.Fatalf("expected empty page, got %d", len(got))
	}
	if got := Paginate(ranked, PageRequest{Limit: 5, Offset: -3}); got[0].Rank != 1 {
		t.Fatalf("negative offset should start at rank 1, got %d", got[0].Rank)
	}
	if p := (PageRequest{Limit: 10000}).Normalize(); p.Limit != MaxLeaderboardLimit {
		t.Fatalf("expected cap %d, got %d", MaxLeaderboardLimit, p.Limit)
	}
}

func TestLeagueNext(t *testing.T) {
	th := DefaultLeagueThresholds()
	if l, missing, ok := th.Next(600); !ok || l != Gold || missing != 900 {
		t.Fatalf("expected Gold in 900, got %s %d %v", l, missing, ok)
	}
	if _, _, ok := th.Next(20000); ok {
		t.Fatalf("expected no league above Diamond")
	}
}
