package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-redis/redis/v8"

	"finrank/internal/core"
)

const defaultRedisPrefix = "finrank:leaderboard"

// RedisLeaderboard caches leaderboard pages in Redis. Keys are namespaced by
// a generation counter; Invalidate bumps the counter so every replica stops
// seeing the old pages, which then expire on their TTL.
//
// Redis failures are logged and reported as misses.
type RedisLeaderboard struct {
	rdb    redis.UniversalClient
	ttl    time.Duration
	prefix string
}

func NewRedisLeaderboard(rdb redis.UniversalClient, ttl time.Duration, prefix string) *RedisLeaderboard {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisLeaderboard{rdb: rdb, ttl: ttl, prefix: prefix}
}

// NewRedisClient parses a redis:// URL and checks the server is reachable.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, core.Unavailable("redis ping", err)
	}
	return rdb, nil
}

func (r *RedisLeaderboard) genKey() string { return r.prefix + ":gen" }

func (r *RedisLeaderboard) generation(ctx context.Context) (int64, error) {
	gen, err := r.rdb.Get(ctx, r.genKey()).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

func (r *RedisLeaderboard) pageKey(gen int64, key string) string {
	return fmt.Sprintf("%s:%d:%s", r.prefix, gen, key)
}

func (r *RedisLeaderboard) Get(ctx context.Context, key string) ([]core.LeaderboardEntry, bool) {
	gen, err := r.generation(ctx)
	if err != nil {
		slog.WarnContext(ctx, "Leaderboard cache generation read failed", "error", err)
		return nil, false
	}
	raw, err := r.rdb.Get(ctx, r.pageKey(gen, key)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			slog.WarnContext(ctx, "Leaderboard cache read failed", "key", key, "error", err)
		}
		return nil, false
	}
	var entries []core.LeaderboardEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		slog.WarnContext(ctx, "Leaderboard cache entry corrupted", "key", key, "error", err)
		return nil, false
	}
	return entries, true
}

func (r *RedisLeaderboard) Set(ctx context.Context, key string, entries []core.LeaderboardEntry) {
	gen, err := r.generation(ctx)
	if err != nil {
		slog.WarnContext(ctx, "Leaderboard cache generation read failed", "error", err)
		return
	}
	raw, err := json.Marshal(entries)
	if err != nil {
		slog.WarnContext(ctx, "Leaderboard cache encode failed", "key", key, "error", err)
		return
	}
	if err := r.rdb.Set(ctx, r.pageKey(gen, key), raw, r.ttl).Err(); err != nil {
		slog.WarnContext(ctx, "Leaderboard cache write failed", "key", key, "error", err)
	}
}

func (r *RedisLeaderboard) Invalidate(ctx context.Context) {
	if err := r.rdb.Incr(ctx, r.genKey()).Err(); err != nil {
		slog.WarnContext(ctx, "Leaderboard cache invalidation failed", "error", err)
	}
}
