package cache

import (
	"context"
	"slices"
	"time"

	"finrank/internal/core"
)

// Leaderboard is an in-process leaderboard cache. Invalidate drops every
// cached page at once.
type Leaderboard struct {
	lru *LRUCache[[]core.LeaderboardEntry]
}

func NewLeaderboard(maxSize int, ttl time.Duration) *Leaderboard {
	return &Leaderboard{lru: NewLRUCache[[]core.LeaderboardEntry](maxSize, ttl)}
}

func (l *Leaderboard) Get(_ context.Context, key string) ([]core.LeaderboardEntry, bool) {
	entries, ok := l.lru.Get(key)
	if !ok {
		return nil, false
	}
	return slices.Clone(entries), true
}

func (l *Leaderboard) Set(_ context.Context, key string, entries []core.LeaderboardEntry) {
	l.lru.Set(key, slices.Clone(entries))
}

func (l *Leaderboard) Invalidate(context.Context) {
	l.lru.Purge()
}

func (l *Leaderboard) CleanExpired() int { return l.lru.CleanExpired() }

func (l *Leaderboard) Stats() Stats { return l.lru.Stats() }
