package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"finrank/internal/core"
	"finrank/internal/services"

	_ "modernc.org/sqlite"
)

var (
	_ services.RankingRepository = (*SQLiteRepository)(nil)
	_ services.SeasonRepository  = (*SQLiteRepository)(nil)
)

const rankingColumns = `user_id, cumulative_score, season_score, season_baseline, season_number,
	level, league, streak_days, longest_streak, last_activity_at, joined_at,
	savings_points, goals_points, consistency_points, transactions, goals_completed,
	login_days, last_login_at, version`

const standingColumns = `season_number, season_id, user_id, season_score, league,
	savings_points, goals_points, consistency_points, carried_over, archived_at`

type SQLiteRepository struct {
	db *sql.DB
}

// dsn enables WAL and a busy timeout, and starts write transactions
// immediately so concurrent committers queue instead of failing.
func dsn(dbPath string) string {
	return "file:" + dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_txlock=immediate"
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dsn(dbPath)); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Ping reports whether the database is reachable.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UTC().UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanState(row scanner) (core.UserRankingState, error) {
	var (
		s            core.UserRankingState
		league       int
		last, joined int64
		lastLogin    int64
	)
	err := row.Scan(&s.UserID, &s.CumulativeScore, &s.SeasonScore, &s.SeasonBaseline, &s.SeasonNumber,
		&s.Level, &league, &s.StreakDays, &s.LongestStreak, &last, &joined,
		&s.Totals.Savings, &s.Totals.Goals, &s.Totals.Consistency, &s.Transactions, &s.GoalsCompleted,
		&s.LoginDays, &lastLogin, &s.Version)
	if err != nil {
		return core.UserRankingState{}, err
	}
	s.League = core.League(league)
	s.LastActivityAt = fromNanos(last)
	s.JoinedAt = fromNanos(joined)
	s.LastLoginAt = fromNanos(lastLogin)
	return s, nil
}

func stateArgs(s core.UserRankingState) []any {
	return []any{s.UserID, s.CumulativeScore, s.SeasonScore, s.SeasonBaseline, s.SeasonNumber,
		s.Level, int(s.League), s.StreakDays, s.LongestStreak, toNanos(s.LastActivityAt), toNanos(s.JoinedAt),
		s.Totals.Savings, s.Totals.Goals, s.Totals.Consistency, s.Transactions, s.GoalsCompleted,
		s.LoginDays, toNanos(s.LastLoginAt), s.Version}
}

func (r *SQLiteRepository) GetUserState(ctx context.Context, userID string) (core.UserRankingState, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+rankingColumns+` FROM user_rankings WHERE user_id = ?`, userID)
	s, err := scanState(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.UserRankingState{}, fmt.Errorf("user %s: %w", userID, core.ErrNotFound)
	}
	if err != nil {
		return core.UserRankingState{}, fmt.Errorf("get user state: %w", err)
	}
	return s, nil
}

func (r *SQLiteRepository) GetUserStates(ctx context.Context, userIDs []string) ([]core.UserRankingState, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(userIDs)), ",")
	args := make([]any, len(userIDs))
	for i, id := range userIDs {
		args[i] = id
	}
	return r.queryStates(ctx, `SELECT `+rankingColumns+` FROM user_rankings WHERE user_id IN (`+placeholders+`)`, args...)
}

func (r *SQLiteRepository) ListUserStates(ctx context.Context) ([]core.UserRankingState, error) {
	return r.queryStates(ctx, `SELECT `+rankingColumns+` FROM user_rankings ORDER BY user_id`)
}

func (r *SQLiteRepository) queryStates(ctx context.Context, query string, args ...any) ([]core.UserRankingState, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query user states: %w", err)
	}
	defer rows.Close()

	var out []core.UserRankingState
	for rows.Next() {
		s, err := scanState(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user state: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) GlobalLeaderboard(ctx context.Context, page core.PageRequest) ([]core.LeaderboardEntry, error) {
	page = page.Normalize()
	rows, err := r.db.QueryContext(ctx, `
		SELECT user_id, season_score, league, level, last_activity_at
		FROM user_rankings
		ORDER BY season_score DESC, last_activity_at ASC, user_id ASC
		LIMIT ? OFFSET ?`, page.Limit, page.Offset)
	if err != nil {
		return nil, fmt.Errorf("query leaderboard: %w", err)
	}
	defer rows.Close()

	entries := make([]core.LeaderboardEntry, 0, page.Limit)
	for rows.Next() {
		var (
			e      core.LeaderboardEntry
			league int
			last   int64
		)
		if err := rows.Scan(&e.UserID, &e.Score, &league, &e.Level, &last); err != nil {
			return nil, fmt.Errorf("scan leaderboard entry: %w", err)
		}
		e.League = core.League(league)
		e.LastActivityAt = fromNanos(last)
		e.Rank = page.Offset + len(entries) + 1
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (r *SQLiteRepository) GlobalRank(ctx context.Context, s core.UserRankingState) (int, error) {
	last := toNanos(s.LastActivityAt)
	var ahead int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM user_rankings
		WHERE season_score > ?
		   OR (season_score = ? AND last_activity_at < ?)
		   OR (season_score = ? AND last_activity_at = ? AND user_id < ?)`,
		s.SeasonScore, s.SeasonScore, last, s.SeasonScore, last, s.UserID).Scan(&ahead)
	if err != nil {
		return 0, fmt.Errorf("count users ahead: %w", err)
	}
	return ahead + 1, nil
}

// Commit writes the state and everything that came with it in one transaction.
func (r *SQLiteRepository) Commit(ctx context.Context, c services.Commit) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin commit: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var res sql.Result
	if c.PrevVersion == 0 {
		res, err = tx.ExecContext(ctx, `INSERT INTO user_rankings (`+rankingColumns+`)
			VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
			ON CONFLICT(user_id) DO NOTHING`, stateArgs(c.State)...)
	} else {
		args := append(stateArgs(c.State)[1:], c.State.UserID, c.PrevVersion)
		res, err = tx.ExecContext(ctx, `UPDATE user_rankings SET
			cumulative_score = ?, season_score = ?, season_baseline = ?, season_number = ?,
			level = ?, league = ?, streak_days = ?, longest_streak = ?, last_activity_at = ?, joined_at = ?,
			savings_points = ?, goals_points = ?, consistency_points = ?, transactions = ?, goals_completed = ?,
			login_days = ?, last_login_at = ?, version = ?
			WHERE user_id = ? AND version = ?`, args...)
	}
	if err != nil {
		return fmt.Errorf("write user state: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("write user state: %w", err)
	}
	if n == 0 {
		err = fmt.Errorf("user %s at version %d: %w", c.State.UserID, c.PrevVersion, core.ErrVersionConflict)
		return err
	}

	if ev := c.Event; ev != nil {
		_, err = tx.ExecContext(ctx, `INSERT INTO score_events
			(event_id, user_id, kind, occurred_at, base_points, points, season_number, recorded_at)
			VALUES (?,?,?,?,?,?,?,?)`,
			ev.Event.ID, ev.Event.UserID, string(ev.Event.Kind), toNanos(ev.Event.OccurredAt),
			ev.Event.BasePoints, ev.Points, ev.SeasonNumber, time.Now().UTC().UnixNano())
		if err != nil {
			return fmt.Errorf("record score event: %w", err)
		}
	}

	for _, b := range c.Badges {
		_, err = tx.ExecContext(ctx, `INSERT INTO user_badges (user_id, badge_id, unlocked_at)
			VALUES (?,?,?) ON CONFLICT(user_id, badge_id) DO NOTHING`,
			b.UserID, b.BadgeID, toNanos(b.UnlockedAt))
		if err != nil {
			return fmt.Errorf("record badge %s: %w", b.BadgeID, err)
		}
	}

	for _, a := range c.Achievements {
		_, err = tx.ExecContext(ctx, `INSERT INTO user_achievements
			(user_id, achievement_id, title, current, target, completed, completed_at)
			VALUES (?,?,?,?,?,?,?)
			ON CONFLICT(user_id, achievement_id) DO UPDATE SET
				title = excluded.title, current = excluded.current, target = excluded.target,
				completed = excluded.completed, completed_at = excluded.completed_at`,
			c.State.UserID, a.ID, a.Title, a.Current, a.Target, a.Completed, toNanos(a.CompletedAt))
		if err != nil {
			return fmt.Errorf("record achievement %s: %w", a.ID, err)
		}
	}

	if st := c.Standing; st != nil {
		_, err = tx.ExecContext(ctx, `INSERT INTO season_standings (`+standingColumns+`)
			VALUES (?,?,?,?,?,?,?,?,?,?)
			ON CONFLICT(season_number, user_id) DO NOTHING`,
			st.SeasonNumber, st.SeasonID, st.UserID, st.SeasonScore, int(st.League),
			st.Totals.Savings, st.Totals.Goals, st.Totals.Consistency, st.CarriedOver, toNanos(st.ArchivedAt))
		if err != nil {
			return fmt.Errorf("record season standing: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) ListEvents(ctx context.Context, userID string) ([]core.LoggedEvent, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT event_id, user_id, kind, occurred_at, base_points, points, season_number
		FROM score_events WHERE user_id = ? ORDER BY occurred_at, seq`, userID)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []core.LoggedEvent
	for rows.Next() {
		var (
			le   core.LoggedEvent
			kind string
			at   int64
		)
		if err := rows.Scan(&le.Event.ID, &le.Event.UserID, &kind, &at, &le.Event.BasePoints,
			&le.Points, &le.SeasonNumber); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		le.Event.Kind = core.EventKind(kind)
		le.Event.OccurredAt = fromNanos(at)
		out = append(out, le)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) ListBadgeUnlocks(ctx context.Context, userID string) ([]core.BadgeUnlock, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT badge_id, unlocked_at FROM user_badges
		WHERE user_id = ? ORDER BY unlocked_at, badge_id`, userID)
	if err != nil {
		return nil, fmt.Errorf("query badges: %w", err)
	}
	defer rows.Close()

	var out []core.BadgeUnlock
	for rows.Next() {
		var (
			b  = core.BadgeUnlock{UserID: userID}
			at int64
		)
		if err := rows.Scan(&b.BadgeID, &at); err != nil {
			return nil, fmt.Errorf("scan badge: %w", err)
		}
		b.UnlockedAt = fromNanos(at)
		out = append(out, b)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) ListAchievements(ctx context.Context, userID string) ([]core.Achievement, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT achievement_id, title, current, target, completed, completed_at
		FROM user_achievements WHERE user_id = ? ORDER BY achievement_id`, userID)
	if err != nil {
		return nil, fmt.Errorf("query achievements: %w", err)
	}
	defer rows.Close()

	var out []core.Achievement
	for rows.Next() {
		var (
			a  core.Achievement
			at int64
		)
		if err := rows.Scan(&a.ID, &a.Title, &a.Current, &a.Target, &a.Completed, &at); err != nil {
			return nil, fmt.Errorf("scan achievement: %w", err)
		}
		a.CompletedAt = fromNanos(at)
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) UserStandings(ctx context.Context, userID string) ([]core.SeasonStanding, error) {
	return r.queryStandings(ctx, `SELECT `+standingColumns+` FROM season_standings
		WHERE user_id = ? ORDER BY season_number DESC`, userID)
}

func (r *SQLiteRepository) ListStandings(ctx context.Context, number int) ([]core.SeasonStanding, error) {
	return r.queryStandings(ctx, `SELECT `+standingColumns+` FROM season_standings
		WHERE season_number = ? ORDER BY season_score DESC, user_id`, number)
}

func (r *SQLiteRepository) queryStandings(ctx context.Context, query string, args ...any) ([]core.SeasonStanding, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query standings: %w", err)
	}
	defer rows.Close()

	var out []core.SeasonStanding
	for rows.Next() {
		var (
			s      core.SeasonStanding
			league int
			at     int64
		)
		if err := rows.Scan(&s.SeasonNumber, &s.SeasonID, &s.UserID, &s.SeasonScore, &league,
			&s.Totals.Savings, &s.Totals.Goals, &s.Totals.Consistency, &s.CarriedOver, &at); err != nil {
			return nil, fmt.Errorf("scan standing: %w", err)
		}
		s.League = core.League(league)
		s.ArchivedAt = fromNanos(at)
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) CurrentSeason(ctx context.Context) (core.Season, error) {
	var (
		s             core.Season
		start, end    int64
		ratio, status string
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, number, start_at, end_at, carry_over_ratio, status
		FROM seasons ORDER BY number DESC LIMIT 1`).
		Scan(&s.ID, &s.Number, &start, &end, &ratio, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Season{}, fmt.Errorf("no season: %w", core.ErrNotFound)
	}
	if err != nil {
		return core.Season{}, fmt.Errorf("get current season: %w", err)
	}
	if s.CarryOverRatio, err = decimal.NewFromString(ratio); err != nil {
		return core.Season{}, fmt.Errorf("season %d carry-over ratio %q: %w", s.Number, ratio, err)
	}
	s.StartAt, s.EndAt = fromNanos(start), fromNanos(end)
	s.Status = core.SeasonStatus(status)
	return s, nil
}

// SaveSeason inserts the season or updates it by number.
func (r *SQLiteRepository) SaveSeason(ctx context.Context, s core.Season) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO seasons (number, id, start_at, end_at, carry_over_ratio, status)
		VALUES (?,?,?,?,?,?)
		ON CONFLICT(number) DO UPDATE SET
			start_at = excluded.start_at, end_at = excluded.end_at,
			carry_over_ratio = excluded.carry_over_ratio, status = excluded.status`,
		s.Number, s.ID, toNanos(s.StartAt), toNanos(s.EndAt), s.CarryOverRatio.String(), string(s.Status))
	if err != nil {
		return fmt.Errorf("save season %d: %w", s.Number, err)
	}
	slog.InfoContext(ctx, "Season saved to SQLite", "season", s.Number, "status", s.Status)
	return nil
}

func (r *SQLiteRepository) RolloverCandidates(ctx context.Context, number int) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT user_id FROM user_rankings
		WHERE season_number = ? AND season_score > 0 ORDER BY user_id`, number)
	if err != nil {
		return nil, fmt.Errorf("query rollover candidates: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan rollover candidate: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
