package core

import (
	"fmt"
	"strings"
)

// League is the tier a user reaches with their season score.
type League int

const (
	Bronze League = iota
	Silver
	Gold
	Platinum
	Diamond
)

const leagueCount = int(Diamond) + 1

const maxLevel = 100

var Leagues = []League{Bronze, Silver, Gold, Platinum, Diamond}

func (l League) String() string {
	switch l {
	case Bronze:
		return "Bronze"
	case Silver:
		return "Silver"
	case Gold:
		return "Gold"
	case Platinum:
		return "Platinum"
	case Diamond:
		return "Diamond"
	}
	return fmt.Sprintf("League(%d)", int(l))
}

func (l League) Valid() bool {
	return l >= Bronze && l <= Diamond
}

func ParseLeague(s string) (League, error) {
	for _, l := range Leagues {
		if strings.EqualFold(l.String(), strings.TrimSpace(s)) {
			return l, nil
		}
	}
	return Bronze, fmt.Errorf("unknown league %q", s)
}

// LeagueThresholds holds the minimum season score of each league, indexed by League.
type LeagueThresholds [leagueCount]int64

func DefaultLeagueThresholds() LeagueThresholds {
	return LeagueThresholds{0, 500, 1500, 4000, 10000}
}

func (t LeagueThresholds) Validate() error {
	if t[Bronze] != 0 {
		return fmt.Errorf("%w: Bronze threshold must be 0, got %d", ErrInvalidRules, t[Bronze])
	}
	for i := 1; i < leagueCount; i++ {
		if t[i] <= t[i-1] {
			return fmt.Errorf("%w: %s threshold %d must be above %s threshold %d",
				ErrInvalidRules, League(i), t[i], League(i-1), t[i-1])
		}
	}
	return nil
}

// Classify maps a season score to the highest league whose threshold it reaches.
func (t LeagueThresholds) Classify(seasonScore int64) League {
	l := Bronze
	for i := leagueCount - 1; i > 0; i-- {
		if seasonScore >= t[i] {
			l = League(i)
			break
		}
	}
	return l
}

// Next returns the league above the one seasonScore falls into and the points
// still missing to reach it. ok is false in the top league.
func (t LeagueThresholds) Next(seasonScore int64) (next League, missing int64, ok bool) {
	cur := t.Classify(seasonScore)
	if cur == Diamond {
		return Diamond, 0, false
	}
	next = cur + 1
	return next, t[next] - seasonScore, true
}

// PointTable holds the base points awarded per event kind.
type PointTable struct {
	Transaction   int64
	GoalCompleted int64
	LoginPerDay   int64
	StreakCap     int
}

func DefaultPointTable() PointTable {
	return PointTable{
		Transaction:   10,
		GoalCompleted: 50,
		LoginPerDay:   5,
		StreakCap:     30,
	}
}

func (p PointTable) Validate() error {
	var problems []string
	if p.Transaction <= 0 {
		problems = append(problems, "transaction points must be positive")
	}
	if p.GoalCompleted <= 0 {
		problems = append(problems, "goal points must be positive")
	}
	if p.LoginPerDay <= 0 {
		problems = append(problems, "login points per day must be positive")
	}
	if p.StreakCap <= 0 {
		problems = append(problems, "streak cap must be positive")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidRules, strings.Join(problems, "; "))
	}
	return nil
}

// Points returns the points for an event of kind k given the streak length after
// the event. A positive override replaces the table value for that kind.
func (p PointTable) Points(k EventKind, streakDays int, override int64) int64 {
	switch k {
	case KindTransaction:
		if override > 0 {
			return override
		}
		return p.Transaction
	case KindGoalCompleted:
		if override > 0 {
			return override
		}
		return p.GoalCompleted
	case KindLoginStreak:
		perDay := p.LoginPerDay
		if override > 0 {
			perDay = override
		}
		return perDay * int64(min(streakDays, p.StreakCap))
	}
	return 0
}

// Rules bundles everything the scorer needs besides the event itself.
type Rules struct {
	Points  PointTable
	Leagues LeagueThresholds
}

func DefaultRules() Rules {
	return Rules{Points: DefaultPointTable(), Leagues: DefaultLeagueThresholds()}
}

func (r Rules) Validate() error {
	if err := r.Points.Validate(); err != nil {
		return err
	}
	return r.Leagues.Validate()
}

// LevelFor returns the level reached with the given cumulative score.
// Reaching level L+1 takes 100*L + 25*L*(L-1) points.
func LevelFor(cumulative int64) int {
	if cumulative <= 0 {
		return 1
	}
	level := 1
	for level < maxLevel {
		next := int64(100*level + (50*level*(level-1))/2)
		if cumulative < next {
			break
		}
		level++
	}
	return level
}
