package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"

	"finrank/internal/catalog"
	"finrank/internal/core"
	"finrank/internal/services"
)

var (
	accent  = color.New(color.FgCyan, color.Bold)
	success = color.New(color.FgGreen, color.Bold)
	warn    = color.New(color.FgYellow, color.Bold)
	danger  = color.New(color.FgRed, color.Bold)
	neutral = color.New(color.FgHiWhite)
)

var leagueColors = map[core.League]*color.Color{
	core.Bronze:   color.New(color.FgYellow),
	core.Silver:   color.New(color.FgHiWhite),
	core.Gold:     color.New(color.FgHiYellow, color.Bold),
	core.Platinum: color.New(color.FgHiCyan, color.Bold),
	core.Diamond:  color.New(color.FgHiMagenta, color.Bold),
}

func printSuccess(msg string) {
	success.Println(msg)
}

func printWarn(msg string) {
	warn.Println(msg)
}

func printError(msg string) {
	danger.Println(msg)
}

func printInfo(msg string) {
	neutral.Println(msg)
}

func league(l core.League) string {
	if c, ok := leagueColors[l]; ok {
		return c.Sprintf("%-9s", l.String())
	}
	return fmt.Sprintf("%-9s", l.String())
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format("2006-01-02 15:04")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}

func renderSeason(s core.Season) {
	accent.Printf("\n== SEASON %d ==\n", s.Number)
	fmt.Printf("%-12s %s\n", "Status", s.Status)
	fmt.Printf("%-12s %s\n", "Start", formatTime(s.StartAt))
	fmt.Printf("%-12s %s\n", "End", formatTime(s.EndAt))
	fmt.Printf("%-12s %s\n", "Carry-over", s.CarryOverRatio.String())
	fmt.Println()
}

func renderReports(reports []services.RolloverReport) {
	if len(reports) == 0 {
		printInfo("No season due.")
		return
	}
	for _, r := range reports {
		if r.Closed {
			printSuccess(fmt.Sprintf("Season %d closed, %d users rolled over, season %d opened.",
				r.Closing.Number, r.Rolled, r.Opened.Number))
			continue
		}
		printWarn(fmt.Sprintf("Season %d still closing: %d users rolled over, %d failed.",
			r.Closing.Number, r.Rolled, len(r.Failed)))
		for _, f := range r.Failed {
			printError("  " + f.Error())
		}
	}
}

func renderState(st core.UserRankingState) {
	accent.Printf("\n== %s ==\n", strings.ToUpper(st.UserID))
	fmt.Printf("%-16s %d\n", "Season", st.SeasonNumber)
	fmt.Printf("%-16s %d\n", "Season score", st.SeasonScore)
	fmt.Printf("%-16s %d\n", "Cumulative", st.CumulativeScore)
	fmt.Printf("%-16s %s\n", "League", league(st.League))
	fmt.Printf("%-16s %d\n", "Level", st.Level)
	fmt.Printf("%-16s %d (longest %d)\n", "Streak", st.StreakDays, st.LongestStreak)
	fmt.Printf("%-16s savings %d, goals %d, consistency %d\n", "Categories",
		st.Totals.Savings, st.Totals.Goals, st.Totals.Consistency)
	fmt.Printf("%-16s %s\n", "Last activity", formatTime(st.LastActivityAt))
}

func renderRanking(r services.UserRanking) {
	renderState(r.State)
	if r.Rank > 0 {
		fmt.Printf("%-16s #%d\n", "Rank", r.Rank)
	} else {
		fmt.Printf("%-16s %s\n", "Rank", "unranked")
	}
	if r.TopLeague {
		printSuccess("Top league reached.")
	} else {
		fmt.Printf("%-16s %s in %d points\n", "Next league", league(r.NextLeague), r.PointsToNextTier)
	}
	fmt.Println()
}

func renderLeaderboard(entries []core.LeaderboardEntry, title string) {
	accent.Printf("\n== %s ==\n", strings.ToUpper(title))
	if len(entries) == 0 {
		printInfo("No leaderboard rows yet.")
		return
	}
	fmt.Printf("%-6s %-24s %10s %-9s %5s\n", "RANK", "USER", "SCORE", "LEAGUE", "LEVEL")
	for _, e := range entries {
		fmt.Printf("%-6d %-24s %10d %s %5d\n",
			e.Rank,
			truncate(e.UserID, 24),
			e.Score,
			league(e.League),
			e.Level,
		)
	}
	fmt.Println()
}

func renderStandings(userID string, standings []core.SeasonStanding) {
	accent.Printf("\n== %s SEASON HISTORY ==\n", strings.ToUpper(userID))
	if len(standings) == 0 {
		printInfo("No closed seasons yet.")
		return
	}
	fmt.Printf("%-8s %10s %-9s %12s %s\n", "SEASON", "SCORE", "LEAGUE", "CARRIED", "ARCHIVED")
	for _, s := range standings {
		fmt.Printf("%-8d %10d %s %12d %s\n", s.SeasonNumber, s.SeasonScore, league(s.League), s.CarriedOver, formatTime(s.ArchivedAt))
	}
	fmt.Println()
}

func renderApply(ev core.ScoreEvent, res services.ApplyResult) {
	if res.Absorbed {
		printWarn(fmt.Sprintf("Event %s already applied, nothing changed.", ev.ID))
		renderState(res.State)
		return
	}
	printSuccess(fmt.Sprintf("Applied %s event %s: +%d points.", ev.Kind, ev.ID, res.Points))
	for _, b := range res.NewBadges {
		printSuccess("  badge unlocked: " + b)
	}
	for _, a := range res.CompletedAchievements {
		printSuccess("  achievement completed: " + a)
	}
	renderState(res.State)
	fmt.Println()
}

func renderCatalog(c *catalog.Catalog) {
	accent.Printf("\n== BADGES (%d) ==\n", len(c.Badges))
	for _, b := range c.Badges {
		fmt.Printf("%-24s %-12s %s\n", b.ID, b.Rarity, b.Name)
	}
	accent.Printf("\n== ACHIEVEMENTS (%d) ==\n", len(c.Achievements))
	for _, a := range c.Achievements {
		fmt.Printf("%-24s %-20s %8d  %s\n", a.ID, a.Metric, a.Target, a.Title)
	}
	fmt.Println()
}
