// Package core holds the ranking domain: score events, user state, leagues,
// seasons, badges and the pure rules that tie them together.
package core

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	KindTransaction   EventKind = "transaction"
	KindGoalCompleted EventKind = "goal_completed"
	KindLoginStreak   EventKind = "login_streak"
)

const (
	CategorySavings     Category = "savings"
	CategoryGoals       Category = "goals"
	CategoryConsistency Category = "consistency"
)

const (
	SeasonOpen    SeasonStatus = "open"
	SeasonClosing SeasonStatus = "closing"
	SeasonClosed  SeasonStatus = "closed"
)

type (
	EventKind    string
	Category     string
	SeasonStatus string

	// ScoreEvent is a completed user activity. Events are immutable once recorded.
	ScoreEvent struct {
		ID         string
		Kind       EventKind
		UserID     string
		OccurredAt time.Time
		BasePoints int64 // Overrides the point table when positive
	}

	// LoggedEvent is an applied event as kept in the event log.
	LoggedEvent struct {
		Event  ScoreEvent
		Points int64
		// SeasonNumber is the season the points were counted in. Zero for
		// entries written before it was tracked.
		SeasonNumber int
	}

	CategoryTotals struct {
		Savings     int64
		Goals       int64
		Consistency int64
	}

	UserRankingState struct {
		UserID          string
		CumulativeScore int64
		SeasonScore     int64
		SeasonBaseline  int64 // Score carried into the current season
		SeasonNumber    int   // Season the SeasonScore belongs to
		Level           int
		League          League
		StreakDays      int
		LongestStreak   int
		LastActivityAt  time.Time
		LastLoginAt     time.Time // Day of the last rewarded login
		JoinedAt        time.Time
		Totals          CategoryTotals // Current season only
		Transactions    int64
		GoalsCompleted  int64
		LoginDays       int64
		Version         int64
	}

	Season struct {
		ID             string
		Number         int
		StartAt        time.Time
		EndAt          time.Time
		CarryOverRatio decimal.Decimal
		Status         SeasonStatus
	}

	// SeasonStanding is the frozen result of a user at the end of a season.
	SeasonStanding struct {
		SeasonID     string
		SeasonNumber int
		UserID       string
		SeasonScore  int64
		League       League
		Totals       CategoryTotals
		CarriedOver  int64
		ArchivedAt   time.Time
	}
)

var (
	EventKinds = []EventKind{KindTransaction, KindGoalCompleted, KindLoginStreak}
	Categories = []Category{CategorySavings, CategoryGoals, CategoryConsistency}
)

func ParseEventKind(s string) (EventKind, error) {
	k := EventKind(strings.TrimSpace(strings.ToLower(s)))
	if !k.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidEventKind, s)
	}
	return k, nil
}

func (k EventKind) Valid() bool {
	switch k {
	case KindTransaction, KindGoalCompleted, KindLoginStreak:
		return true
	}
	return false
}

// Category returns the leaderboard category the kind feeds.
func (k EventKind) Category() Category {
	switch k {
	case KindTransaction:
		return CategorySavings
	case KindGoalCompleted:
		return CategoryGoals
	case KindLoginStreak:
		return CategoryConsistency
	}
	return ""
}

func ParseCategory(s string) (Category, error) {
	c := Category(strings.TrimSpace(strings.ToLower(s)))
	switch c {
	case CategorySavings, CategoryGoals, CategoryConsistency:
		return c, nil
	}
	return "", fmt.Errorf("unknown category %q", s)
}

func (e ScoreEvent) Validate() error {
	if !e.Kind.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidEventKind, e.Kind)
	}
	if strings.TrimSpace(e.UserID) == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalidEvent)
	}
	if len(e.UserID) > 128 {
		return fmt.Errorf("%w: user id too long (max 128 characters)", ErrInvalidEvent)
	}
	if e.OccurredAt.IsZero() {
		return fmt.Errorf("%w: occurred_at is required", ErrInvalidEvent)
	}
	if e.BasePoints < 0 {
		return fmt.Errorf("%w: base points cannot be negative", ErrInvalidEvent)
	}
	return nil
}

// NewUserState returns the state of a user that has not scored yet.
func NewUserState(userID string, season int) UserRankingState {
	return UserRankingState{
		UserID:       userID,
		SeasonNumber: season,
		Level:        LevelFor(0),
		League:       Bronze,
	}
}

func (t CategoryTotals) Get(c Category) int64 {
	switch c {
	case CategorySavings:
		return t.Savings
	case CategoryGoals:
		return t.Goals
	case CategoryConsistency:
		return t.Consistency
	}
	return 0
}

func (t *CategoryTotals) add(c Category, points int64) {
	switch c {
	case CategorySavings:
		t.Savings += points
	case CategoryGoals:
		t.Goals += points
	case CategoryConsistency:
		t.Consistency += points
	}
}

func (s SeasonStatus) Valid() bool {
	switch s {
	case SeasonOpen, SeasonClosing, SeasonClosed:
		return true
	}
	return false
}

// CanTransition reports whether the season lifecycle allows moving from s to next.
func (s SeasonStatus) CanTransition(next SeasonStatus) bool {
	switch s {
	case SeasonOpen:
		return next == SeasonClosing
	case SeasonClosing:
		return next == SeasonClosed
	}
	return false
}

// Due reports whether the season has reached its end and is not closed yet.
func (s Season) Due(now time.Time) bool {
	return s.Status != SeasonClosed && !now.Before(s.EndAt)
}

// Contains reports whether t falls inside [StartAt, EndAt).
func (s Season) Contains(t time.Time) bool {
	return !t.Before(s.StartAt) && t.Before(s.EndAt)
}

// Next builds the season that follows s. It starts exactly where s ends.
func (s Season) Next(id string, length time.Duration, ratio decimal.Decimal) Season {
	return Season{
		ID:             id,
		Number:         s.Number + 1,
		StartAt:        s.EndAt,
		EndAt:          s.EndAt.Add(length),
		CarryOverRatio: ratio,
		Status:         SeasonOpen,
	}
}
