package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"

	"finrank/internal/core"
)

func sampleEntries() []core.LeaderboardEntry {
	return []core.LeaderboardEntry{
		{Rank: 1, UserID: "alice", Score: 900, League: core.Silver, Level: 5, LastActivityAt: time.Date(2025, 2, 1, 9, 0, 0, 0, time.UTC)},
		{Rank: 2, UserID: "bob", Score: 40, League: core.Bronze, Level: 1, LastActivityAt: time.Date(2025, 2, 2, 9, 0, 0, 0, time.UTC)},
	}
}

func TestLeaderboard_InvalidateDropsPages(t *testing.T) {
	ctx := context.Background()
	l := NewLeaderboard(16, time.Minute)
	l.Set(ctx, "global:50:0", sampleEntries())

	got, ok := l.Get(ctx, "global:50:0")
	if !ok || len(got) != 2 {
		t.Fatalf("expected cached page, got %v %v", got, ok)
	}
	got[0].UserID = "mutated"
	if again, _ := l.Get(ctx, "global:50:0"); again[0].UserID != "alice" {
		t.Fatal("cached entries must not be shared with callers")
	}

	l.Invalidate(ctx)
	if _, ok := l.Get(ctx, "global:50:0"); ok {
		t.Fatal("expected miss after invalidate")
	}
}

func newRedisCache(t *testing.T) (*RedisLeaderboard, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to create miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisLeaderboard(rdb, time.Minute, "test"), mr
}

func TestRedisLeaderboard_RoundTripAndInvalidate(t *testing.T) {
	ctx := context.Background()
	c, mr := newRedisCache(t)

	if _, ok := c.Get(ctx, "global:50:0"); ok {
		t.Fatal("expected miss on empty cache")
	}
	c.Set(ctx, "global:50:0", sampleEntries())

	got, ok := c.Get(ctx, "global:50:0")
	if !ok || len(got) != 2 || got[0].UserID != "alice" || got[0].League != core.Silver {
		t.Fatalf("unexpected cached page %+v", got)
	}
	if !got[0].LastActivityAt.Equal(sampleEntries()[0].LastActivityAt) {
		t.Errorf("timestamp not preserved: %v", got[0].LastActivityAt)
	}
	if ttl := mr.TTL("test:0:global:50:0"); ttl != time.Minute {
		t.Errorf("expected 1m ttl, got %v", ttl)
	}

	c.Invalidate(ctx)
	if _, ok := c.Get(ctx, "global:50:0"); ok {
		t.Fatal("expected miss after invalidate")
	}
}

func TestRedisLeaderboard_FailuresAreMisses(t *testing.T) {
	ctx := context.Background()
	c, mr := newRedisCache(t)
	c.Set(ctx, "k", sampleEntries())
	mr.Close()

	if _, ok := c.Get(ctx, "k"); ok {
		t.Fatal("expected miss with redis down")
	}
	c.Set(ctx, "k", sampleEntries())
	c.Invalidate(ctx)
}

func TestRedisLeaderboard_CorruptEntry(t *testing.T) {
	ctx := context.Background()
	c, mr := newRedisCache(t)
	if err := mr.Set("test:0:k", "not json"); err != nil {
		t.Fatal(err)
	}
	if _, ok := c.Get(ctx, "k"); ok {
		t.Fatal("expected miss on corrupt entry")
	}
}
