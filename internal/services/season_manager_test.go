package services_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"finrank/internal/core"
	"finrank/internal/services"
	sheetsmem "finrank/internal/sheets/memory"
)

func newSeasonEnv(t *testing.T) (*testEnv, *services.SeasonManager, *sheetsmem.Archive) {
	t.Helper()
	env := newTestEnv(t)
	env.holder = services.NewSeasonHolder(core.Season{})
	env.ranking = services.NewRankingService(env.store, env.holder, mustCatalog(t), core.DefaultRules(), services.WithLocks(env.locks))

	cfg := services.DefaultSeasonConfig()
	cfg.FirstStart = seasonStart
	cfg.Concurrency = 4
	archive := sheetsmem.New()
	mgr := services.NewSeasonManager(env.store, env.holder, env.locks, core.DefaultRules(), cfg, services.WithArchiver(archive))
	if _, err := mgr.Init(context.Background(), seasonStart.Add(time.Hour)); err != nil {
		t.Fatalf("init seasons: %v", err)
	}
	return env, mgr, archive
}

func TestSeasonManager_InitCreatesFirstSeason(t *testing.T) {
	env, mgr, _ := newSeasonEnv(t)
	cur := env.holder.Current()
	if cur.Number != 1 || !cur.StartAt.Equal(seasonStart) || cur.Status != core.SeasonOpen {
		t.Fatalf("unexpected first season %+v", cur)
	}
	if !cur.EndAt.Equal(seasonStart.Add(90 * 24 * time.Hour)) {
		t.Fatalf("unexpected season end %v", cur.EndAt)
	}

	again, err := mgr.Init(context.Background(), seasonStart.Add(48*time.Hour))
	if err != nil || again.ID != cur.ID {
		t.Fatalf("init must reuse the stored season, got %+v %v", again, err)
	}

	reports, err := mgr.Tick(context.Background(), cur.EndAt.Add(-time.Second))
	if err != nil || len(reports) != 0 {
		t.Fatalf("nothing is due before the end, got %v %v", reports, err)
	}
}

func TestSeasonManager_RolloverCarriesHalf(t *testing.T) {
	env, mgr, archive := newSeasonEnv(t)
	ctx := context.Background()
	s1 := env.holder.Current()

	mustApply(t, env.ranking, core.ScoreEvent{Kind: core.KindTransaction, UserID: "alice", OccurredAt: seasonStart.Add(time.Hour), BasePoints: 1200})
	mustApply(t, env.ranking, core.ScoreEvent{Kind: core.KindTransaction, UserID: "bob", OccurredAt: seasonStart.Add(time.Hour), BasePoints: 1})

	reports, err := mgr.Tick(ctx, s1.EndAt.Add(5*time.Minute))
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if len(reports) != 1 || !reports[0].Closed || reports[0].Rolled != 2 {
		t.Fatalf("unexpected reports %+v", reports)
	}

	s2 := env.holder.Current()
	if s2.Number != 2 || s2.Status != core.SeasonOpen || !s2.StartAt.Equal(s1.EndAt) {
		t.Fatalf("unexpected next season %+v", s2)
	}
	stored, _ := env.store.CurrentSeason(ctx)
	if stored.Number != 2 {
		t.Fatalf("next season not persisted, got %+v", stored)
	}

	alice, _ := env.store.GetUserState(ctx, "alice")
	if alice.SeasonNumber != 2 || alice.SeasonScore != 600 || alice.League != core.Silver || alice.CumulativeScore != 1200 {
		t.Fatalf("unexpected state after rollover %+v", alice)
	}
	bob, _ := env.store.GetUserState(ctx, "bob")
	if bob.SeasonScore != 0 || bob.League != core.Bronze {
		t.Fatalf("floor of 0.5 must be 0, got %+v", bob)
	}

	history, err := env.ranking.GetUserSeasonHistory(ctx, "alice")
	if err != nil || len(history) != 1 || history[0].SeasonScore != 1200 || history[0].CarriedOver != 600 {
		t.Fatalf("unexpected history %+v %v", history, err)
	}

	archived, ok := archive.Standings(1)
	if !ok || len(archived) != 2 {
		t.Fatalf("season 1 not archived: %+v", archived)
	}

	// New activity lands in season 2 on top of the carried score.
	res := mustApply(t, env.ranking, core.ScoreEvent{Kind: core.KindTransaction, UserID: "alice", OccurredAt: s2.StartAt.Add(time.Hour)})
	if res.State.SeasonScore != 610 || res.State.SeasonNumber != 2 {
		t.Fatalf("unexpected state in season 2 %+v", res.State)
	}

	again, err := mgr.Tick(ctx, s1.EndAt.Add(time.Hour))
	if err != nil || len(again) != 0 {
		t.Fatalf("second tick must be a no-op, got %+v %v", again, err)
	}
}

func TestSeasonManager_FailedUserKeepsSeasonClosing(t *testing.T) {
	env, mgr, archive := newSeasonEnv(t)
	ctx := context.Background()
	s1 := env.holder.Current()

	for _, u := range []string{"ok-1", "broken", "ok-2"} {
		mustApply(t, env.ranking, core.ScoreEvent{Kind: core.KindTransaction, UserID: u, OccurredAt: seasonStart.Add(time.Hour), BasePoints: 800})
	}
	env.store.setFailCommit(func(c services.Commit) error {
		if c.Standing != nil && c.State.UserID == "broken" {
			return errors.New("write timeout")
		}
		return nil
	})

	reports, err := mgr.Tick(ctx, s1.EndAt.Add(time.Minute))
	if !errors.Is(err, core.ErrRolloverFailed) {
		t.Fatalf("expected ErrRolloverFailed, got %v", err)
	}
	var rerr *core.RolloverError
	if !errors.As(err, &rerr) || rerr.UserID != "broken" {
		t.Fatalf("expected a RolloverError for broken, got %v", err)
	}
	if len(reports) != 1 || reports[0].Closed || len(reports[0].Failed) != 1 || reports[0].Rolled != 2 {
		t.Fatalf("unexpected report %+v", reports)
	}

	cur := env.holder.Current()
	if cur.Number != 1 || cur.Status != core.SeasonClosing {
		t.Fatalf("season must stay closing, got %+v", cur)
	}
	for _, u := range []string{"ok-1", "ok-2"} {
		st, _ := env.store.GetUserState(ctx, u)
		if st.SeasonNumber != 2 || st.SeasonScore != 400 {
			t.Fatalf("user %s not rolled over: %+v", u, st)
		}
	}
	if _, ok := archive.Standings(1); ok {
		t.Fatalf("incomplete season must not be archived")
	}

	env.store.setFailCommit(nil)
	reports, err = mgr.Tick(ctx, s1.EndAt.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("resumed tick: %v", err)
	}
	if len(reports) != 1 || !reports[0].Closed || reports[0].Rolled != 1 {
		t.Fatalf("unexpected resumed report %+v", reports)
	}
	if cur := env.holder.Current(); cur.Number != 2 {
		t.Fatalf("expected season 2, got %+v", cur)
	}
	st, _ := env.store.GetUserState(ctx, "broken")
	if st.SeasonNumber != 2 || st.SeasonScore != 400 {
		t.Fatalf("broken user not rolled over on resume: %+v", st)
	}
	standings, _ := env.store.ListStandings(ctx, 1)
	if len(standings) != 3 {
		t.Fatalf("expected 3 standings, got %d", len(standings))
	}
}

func TestSeasonManager_CatchesUpSeveralSeasons(t *testing.T) {
	env, mgr, archive := newSeasonEnv(t)
	s1 := env.holder.Current()
	mustApply(t, env.ranking, core.ScoreEvent{Kind: core.KindTransaction, UserID: "zoe", OccurredAt: seasonStart.Add(time.Hour), BasePoints: 4000})

	reports, err := mgr.Tick(context.Background(), s1.EndAt.Add(100*24*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(reports) != 2 {
		t.Fatalf("expected two closed seasons, got %d", len(reports))
	}
	if cur := env.holder.Current(); cur.Number != 3 {
		t.Fatalf("expected season 3, got %d", cur.Number)
	}
	st, _ := env.store.GetUserState(context.Background(), "zoe")
	if st.SeasonNumber != 3 || st.SeasonScore != 1000 {
		t.Fatalf("expected two halvings, got %+v", st)
	}
	if got := archive.Seasons(); len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Fatalf("unexpected archived seasons %v", got)
	}
}

func TestSeasonManager_InitOpensMissingSuccessor(t *testing.T) {
	env, _, _ := newSeasonEnv(t)
	ctx := context.Background()
	closed := env.holder.Current()
	closed.Status = core.SeasonClosed
	if err := env.store.SaveSeason(ctx, closed); err != nil {
		t.Fatal(err)
	}

	holder := services.NewSeasonHolder(core.Season{})
	mgr := services.NewSeasonManager(env.store, holder, env.locks, core.DefaultRules(), services.DefaultSeasonConfig())
	cur, err := mgr.Init(ctx, closed.EndAt)
	if err != nil {
		t.Fatal(err)
	}
	if cur.Number != 2 || cur.Status != core.SeasonOpen || holder.Current().Number != 2 {
		t.Fatalf("expected season 2 to be opened, got %+v", cur)
	}
}

func TestSeasonManager_RefreshFollowsAnotherProcess(t *testing.T) {
	env, mgr, _ := newSeasonEnv(t)
	ctx := context.Background()
	s1 := env.holder.Current()

	// A second process sharing the store but not ticking.
	follower := services.NewSeasonHolder(s1)
	api := services.NewSeasonManager(env.store, follower, env.locks, core.DefaultRules(), services.DefaultSeasonConfig())

	if got, err := api.Refresh(ctx); err != nil || got.Number != 1 {
		t.Fatalf("unexpected refresh %+v %v", got, err)
	}

	if _, err := mgr.Tick(ctx, s1.EndAt.Add(time.Minute)); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if follower.Current().Number != 1 {
		t.Fatal("follower must not move before refreshing")
	}

	got, err := api.Refresh(ctx)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if got.Number != 2 || follower.Current().Number != 2 || follower.Current().Status != core.SeasonOpen {
		t.Fatalf("follower did not pick up season 2: %+v", follower.Current())
	}
}

func TestSeasonManager_EventAfterEndStaysInClosingSeason(t *testing.T) {
	env, mgr, _ := newSeasonEnv(t)
	ctx := context.Background()
	s1 := env.holder.Current()

	mustApply(t, env.ranking, core.ScoreEvent{Kind: core.KindTransaction, UserID: "alice", OccurredAt: seasonStart.Add(time.Hour), BasePoints: 1000})
	// Dated after the end but applied before the rollover ran.
	late := mustApply(t, env.ranking, txAt("alice", s1.EndAt.Add(time.Hour)))
	if late.State.SeasonNumber != 1 || late.State.SeasonScore != 1010 {
		t.Fatalf("late event must count in season 1, got %+v", late.State)
	}

	if _, err := mgr.Tick(ctx, s1.EndAt.Add(2*time.Hour)); err != nil {
		t.Fatalf("tick: %v", err)
	}
	rolled, _ := env.store.GetUserState(ctx, "alice")
	if rolled.SeasonNumber != 2 || rolled.SeasonScore != 505 || rolled.SeasonBaseline != 505 {
		t.Fatalf("unexpected state after rollover %+v", rolled)
	}

	got, err := env.ranking.RecalculateUserScore(ctx, "alice")
	if err != nil {
		t.Fatalf("recalculate: %v", err)
	}
	if got.SeasonScore != rolled.SeasonScore || got.SeasonBaseline != rolled.SeasonBaseline || got.Totals != rolled.Totals {
		t.Fatalf("recalculation changed the season:\n got %+v\nwant %+v", got, rolled)
	}
	if got.CumulativeScore != 1010 || got.League != rolled.League {
		t.Fatalf("unexpected lifetime values %+v", got)
	}

	history, _ := env.ranking.GetUserSeasonHistory(ctx, "alice")
	if len(history) != 1 || history[0].SeasonScore != 1010 {
		t.Fatalf("unexpected history %+v", history)
	}
}

func TestSeasonManager_FollowerRefreshesDueSeasonBeforeScoring(t *testing.T) {
	env, mgr, _ := newSeasonEnv(t)
	ctx := context.Background()
	s1 := env.holder.Current()

	follower := services.NewSeasonHolder(s1)
	api := services.NewSeasonManager(env.store, follower, env.locks, core.DefaultRules(), services.DefaultSeasonConfig())
	clock := s1.EndAt.Add(-time.Hour)
	ranking := services.NewRankingService(env.store, follower, mustCatalog(t), core.DefaultRules(),
		services.WithLocks(env.locks),
		services.WithSeasonRefresh(api),
		services.WithClock(func() time.Time { return clock }),
	)

	mustApply(t, ranking, txAt("carol", s1.StartAt.Add(time.Hour)))
	if _, err := mgr.Tick(ctx, s1.EndAt.Add(time.Minute)); err != nil {
		t.Fatalf("tick: %v", err)
	}

	// The follower has not refreshed yet; its season is due by now.
	clock = s1.EndAt.Add(2 * time.Minute)
	res := mustApply(t, ranking, txAt("dave", s1.EndAt.Add(90*time.Second)))
	if res.State.SeasonNumber != 2 || follower.Current().Number != 2 {
		t.Fatalf("expected scoring into season 2, got state %+v holder %+v", res.State, follower.Current())
	}
	events, _ := env.store.ListEvents(ctx, "dave")
	if len(events) != 1 || events[0].SeasonNumber != 2 {
		t.Fatalf("event must be logged in season 2, got %+v", events)
	}
}

func TestRankingService_StateLeftInClosedSeasonGetsStanding(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	s1 := seasonOne()
	s2 := s1.Next("season-2", 90*24*time.Hour, s1.CarryOverRatio)

	mustApply(t, env.ranking, core.ScoreEvent{Kind: core.KindTransaction, UserID: "dora", OccurredAt: s1.StartAt.Add(time.Hour), BasePoints: 40})
	mustApply(t, env.ranking, core.ScoreEvent{Kind: core.KindTransaction, UserID: "erin", OccurredAt: s1.StartAt.Add(time.Hour), BasePoints: 80})

	// A writer that already moved on to season 2 while both users were
	// left behind by the rollover.
	later := services.NewRankingService(env.store, services.NewSeasonHolder(s2), mustCatalog(t), core.DefaultRules(),
		services.WithLocks(env.locks))

	res := mustApply(t, later, txAt("dora", s2.StartAt.Add(time.Hour)))
	if res.State.SeasonNumber != 2 || res.State.SeasonBaseline != 20 || res.State.SeasonScore != 30 {
		t.Fatalf("unexpected state in season 2 %+v", res.State)
	}
	history, _ := later.GetUserSeasonHistory(ctx, "dora")
	if len(history) != 1 || history[0].SeasonNumber != 1 || history[0].SeasonScore != 40 || history[0].CarriedOver != 20 {
		t.Fatalf("season 1 standing missing, got %+v", history)
	}

	got, err := later.RecalculateUserScore(ctx, "erin")
	if err != nil {
		t.Fatalf("recalculate: %v", err)
	}
	if got.SeasonNumber != 2 || got.SeasonScore != 40 || got.CumulativeScore != 80 {
		t.Fatalf("unexpected recalculated state %+v", got)
	}
	history, _ = later.GetUserSeasonHistory(ctx, "erin")
	if len(history) != 1 || history[0].SeasonScore != 80 || history[0].CarriedOver != 40 {
		t.Fatalf("season 1 standing missing, got %+v", history)
	}
}

type archiverFunc func(ctx context.Context, season core.Season, standings []core.SeasonStanding) error

func (f archiverFunc) ArchiveSeason(ctx context.Context, season core.Season, standings []core.SeasonStanding) error {
	return f(ctx, season, standings)
}

func TestSeasonManager_RefreshDuringTickKeepsHolder(t *testing.T) {
	env := newTestEnv(t)
	env.holder = services.NewSeasonHolder(core.Season{})
	ctx := context.Background()

	cfg := services.DefaultSeasonConfig()
	cfg.FirstStart = seasonStart
	var (
		mgr        *services.SeasonManager
		refreshed  core.Season
		refreshErr error
	)
	archive := archiverFunc(func(ctx context.Context, _ core.Season, _ []core.SeasonStanding) error {
		refreshed, refreshErr = mgr.Refresh(ctx)
		return nil
	})
	mgr = services.NewSeasonManager(env.store, env.holder, env.locks, core.DefaultRules(), cfg, services.WithArchiver(archive))
	s1, err := mgr.Init(ctx, seasonStart)
	if err != nil {
		t.Fatalf("init: %v", err)
	}

	if _, err := mgr.Tick(ctx, s1.EndAt.Add(time.Minute)); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if refreshErr != nil || refreshed.Number != 2 || env.holder.Current().Number != 2 {
		t.Fatalf("refresh during tick returned %+v %v, holder %+v", refreshed, refreshErr, env.holder.Current())
	}
}
