package services_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"finrank/internal/catalog"
	"finrank/internal/core"
	"finrank/internal/services"
	"finrank/internal/storage/memory"
)

var seasonStart = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func seasonOne() core.Season {
	return core.Season{
		ID:             "season-1",
		Number:         1,
		StartAt:        seasonStart,
		EndAt:          seasonStart.Add(90 * 24 * time.Hour),
		CarryOverRatio: decimal.RequireFromString("0.5"),
		Status:         core.SeasonOpen,
	}
}

// flakyStore wraps the memory store with injectable failures.
type flakyStore struct {
	*memory.Store

	mu         sync.Mutex
	commits    int
	failCommit func(c services.Commit) error
	failGet    error
}

func newFlakyStore() *flakyStore {
	return &flakyStore{Store: memory.NewStore()}
}

func (f *flakyStore) setFailCommit(fn func(c services.Commit) error) {
	f.mu.Lock()
	f.failCommit = fn
	f.mu.Unlock()
}

func (f *flakyStore) Commit(ctx context.Context, c services.Commit) error {
	f.mu.Lock()
	f.commits++
	fn := f.failCommit
	f.mu.Unlock()
	if fn != nil {
		if err := fn(c); err != nil {
			return err
		}
	}
	return f.Store.Commit(ctx, c)
}

func (f *flakyStore) GetUserState(ctx context.Context, userID string) (core.UserRankingState, error) {
	f.mu.Lock()
	err := f.failGet
	f.mu.Unlock()
	if err != nil {
		return core.UserRankingState{}, err
	}
	return f.Store.GetUserState(ctx, userID)
}

func (f *flakyStore) commitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.commits
}

type testEnv struct {
	store   *flakyStore
	holder  *services.SeasonHolder
	locks   *services.KeyedMutex
	ranking *services.RankingService
}

func mustCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	cat, err := catalog.Default()
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	return cat
}

func newTestEnv(t *testing.T, opts ...services.RankingOption) *testEnv {
	t.Helper()
	cat := mustCatalog(t)
	env := &testEnv{
		store:  newFlakyStore(),
		holder: services.NewSeasonHolder(seasonOne()),
		locks:  services.NewKeyedMutex(64),
	}
	opts = append([]services.RankingOption{services.WithLocks(env.locks)}, opts...)
	env.ranking = services.NewRankingService(env.store, env.holder, cat, core.DefaultRules(), opts...)
	return env
}

func txAt(user string, at time.Time) core.ScoreEvent {
	return core.ScoreEvent{Kind: core.KindTransaction, UserID: user, OccurredAt: at}
}

func mustApply(t *testing.T, svc *services.RankingService, ev core.ScoreEvent) services.ApplyResult {
	t.Helper()
	res, err := svc.ApplyEvent(context.Background(), ev)
	if err != nil {
		t.Fatalf("apply %+v: %v", ev, err)
	}
	return res
}
