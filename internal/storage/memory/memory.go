// Package memory is an in-process ranking store for development and tests.
package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"

	"finrank/internal/core"
	"finrank/internal/services"
)

var (
	_ services.RankingRepository = (*Store)(nil)
	_ services.SeasonRepository  = (*Store)(nil)
)

type recorded struct {
	seq int64
	ev  core.LoggedEvent
}

type Store struct {
	mu           sync.RWMutex
	states       map[string]core.UserRankingState
	events       map[string][]recorded
	badges       map[string]map[string]core.BadgeUnlock
	achievements map[string]map[string]core.Achievement
	standings    map[int]map[string]core.SeasonStanding
	seasons      map[int]core.Season
	seq          int64
}

func NewStore() *Store {
	return &Store{
		states:       make(map[string]core.UserRankingState),
		events:       make(map[string][]recorded),
		badges:       make(map[string]map[string]core.BadgeUnlock),
		achievements: make(map[string]map[string]core.Achievement),
		standings:    make(map[int]map[string]core.SeasonStanding),
		seasons:      make(map[int]core.Season),
	}
}

func (s *Store) GetUserState(_ context.Context, userID string) (core.UserRankingState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.states[userID]
	if !ok {
		return core.UserRankingState{}, fmt.Errorf("user %s: %w", userID, core.ErrNotFound)
	}
	return st, nil
}

func (s *Store) GetUserStates(_ context.Context, userIDs []string) ([]core.UserRankingState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []core.UserRankingState
	for _, id := range userIDs {
		if st, ok := s.states[id]; ok {
			out = append(out, st)
		}
	}
	return out, nil
}

func (s *Store) ListUserStates(context.Context) ([]core.UserRankingState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.UserRankingState, 0, len(s.states))
	for _, st := range s.states {
		out = append(out, st)
	}
	slices.SortFunc(out, func(a, b core.UserRankingState) int { return cmp.Compare(a.UserID, b.UserID) })
	return out, nil
}

func (s *Store) GlobalLeaderboard(ctx context.Context, page core.PageRequest) ([]core.LeaderboardEntry, error) {
	states, _ := s.ListUserStates(ctx)
	return core.Paginate(core.Rank(states, core.SeasonScore), page), nil
}

func (s *Store) GlobalRank(_ context.Context, st core.UserRankingState) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	target := core.LeaderboardEntry{UserID: st.UserID, Score: st.SeasonScore, LastActivityAt: st.LastActivityAt}
	rank := 1
	for _, other := range s.states {
		e := core.LeaderboardEntry{UserID: other.UserID, Score: other.SeasonScore, LastActivityAt: other.LastActivityAt}
		if core.CompareEntries(e, target) < 0 {
			rank++
		}
	}
	return rank, nil
}

func (s *Store) Commit(_ context.Context, c services.Commit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, exists := s.states[c.State.UserID]
	switch {
	case c.PrevVersion == 0 && exists,
		c.PrevVersion != 0 && (!exists || cur.Version != c.PrevVersion):
		return fmt.Errorf("user %s at version %d: %w", c.State.UserID, c.PrevVersion, core.ErrVersionConflict)
	}

	s.states[c.State.UserID] = c.State
	if c.Event != nil {
		s.seq++
		s.events[c.State.UserID] = append(s.events[c.State.UserID], recorded{seq: s.seq, ev: *c.Event})
	}
	for _, b := range c.Badges {
		if s.badges[b.UserID] == nil {
			s.badges[b.UserID] = make(map[string]core.BadgeUnlock)
		}
		if _, ok := s.badges[b.UserID][b.BadgeID]; !ok {
			s.badges[b.UserID][b.BadgeID] = b
		}
	}
	for _, a := range c.Achievements {
		if s.achievements[c.State.UserID] == nil {
			s.achievements[c.State.UserID] = make(map[string]core.Achievement)
		}
		s.achievements[c.State.UserID][a.ID] = a
	}
	if st := c.Standing; st != nil {
		if s.standings[st.SeasonNumber] == nil {
			s.standings[st.SeasonNumber] = make(map[string]core.SeasonStanding)
		}
		if _, ok := s.standings[st.SeasonNumber][st.UserID]; !ok {
			s.standings[st.SeasonNumber][st.UserID] = *st
		}
	}
	return nil
}

func (s *Store) ListEvents(_ context.Context, userID string) ([]core.LoggedEvent, error) {
	s.mu.RLock()
	recs := slices.Clone(s.events[userID])
	s.mu.RUnlock()

	slices.SortFunc(recs, func(a, b recorded) int {
		if c := a.ev.Event.OccurredAt.Compare(b.ev.Event.OccurredAt); c != 0 {
			return c
		}
		return cmp.Compare(a.seq, b.seq)
	})
	out := make([]core.LoggedEvent, len(recs))
	for i, r := range recs {
		out[i] = r.ev
	}
	return out, nil
}

func (s *Store) ListBadgeUnlocks(_ context.Context, userID string) ([]core.BadgeUnlock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.BadgeUnlock, 0, len(s.badges[userID]))
	for _, b := range s.badges[userID] {
		out = append(out, b)
	}
	slices.SortFunc(out, func(a, b core.BadgeUnlock) int {
		if c := a.UnlockedAt.Compare(b.UnlockedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.BadgeID, b.BadgeID)
	})
	return out, nil
}

func (s *Store) ListAchievements(_ context.Context, userID string) ([]core.Achievement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.Achievement, 0, len(s.achievements[userID]))
	for _, a := range s.achievements[userID] {
		out = append(out, a)
	}
	slices.SortFunc(out, func(a, b core.Achievement) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func (s *Store) UserStandings(_ context.Context, userID string) ([]core.SeasonStanding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []core.SeasonStanding
	for _, bySeason := range s.standings {
		if st, ok := bySeason[userID]; ok {
			out = append(out, st)
		}
	}
	slices.SortFunc(out, func(a, b core.SeasonStanding) int { return cmp.Compare(b.SeasonNumber, a.SeasonNumber) })
	return out, nil
}

func (s *Store) ListStandings(_ context.Context, number int) ([]core.SeasonStanding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.SeasonStanding, 0, len(s.standings[number]))
	for _, st := range s.standings[number] {
		out = append(out, st)
	}
	slices.SortFunc(out, func(a, b core.SeasonStanding) int {
		if c := cmp.Compare(b.SeasonScore, a.SeasonScore); c != 0 {
			return c
		}
		return cmp.Compare(a.UserID, b.UserID)
	})
	return out, nil
}

func (s *Store) CurrentSeason(context.Context) (core.Season, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	latest, found := core.Season{}, false
	for n, season := range s.seasons {
		if !found || n > latest.Number {
			latest, found = season, true
		}
	}
	if !found {
		return core.Season{}, fmt.Errorf("no season: %w", core.ErrNotFound)
	}
	return latest, nil
}

func (s *Store) SaveSeason(_ context.Context, season core.Season) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seasons[season.Number] = season
	return nil
}

func (s *Store) RolloverCandidates(_ context.Context, number int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []string
	for id, st := range s.states {
		if st.SeasonNumber == number && st.SeasonScore > 0 {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }
