package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"finrank/internal/amqp"
	"finrank/internal/catalog"
	"finrank/internal/cli"
	"finrank/internal/config"
	"finrank/internal/core"
	"finrank/internal/log"
)

const commandTimeout = 2 * time.Minute

func main() {
	var cfg *config.Config

	root := &cobra.Command{
		Use:          "rankctl",
		Short:        "Operate the finrank ranking engine",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Catalog validation works on a file and needs no environment.
			if cmd.Annotations["config"] == "none" {
				return nil
			}
			cli.LoadEnvFile()
			loaded, err := cli.LoadAndValidateConfig()
			if err != nil {
				return err
			}
			cfg = loaded
			logCfg := log.DefaultConfig()
			logCfg.Level = cfg.LogLevel
			logCfg.Component = "rankctl"
			logCfg.Output = os.Stderr
			log.SetDefault(log.New(logCfg))
			return nil
		},
	}

	root.AddCommand(
		newSeasonCmd(&cfg),
		newRecalcCmd(&cfg),
		newRankingCmd(&cfg),
		newLeaderboardCmd(&cfg),
		newPublishCmd(&cfg),
		newCatalogCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// withRuntime opens the ranking runtime for the duration of fn.
func withRuntime(cmd *cobra.Command, cfg *config.Config, archive bool, fn func(ctx context.Context, rt *cli.Runtime) error) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout)
	defer cancel()

	rt, err := cli.NewRuntime(ctx, cfg, cli.RuntimeOptions{Archive: archive})
	if err != nil {
		return err
	}
	return errors.Join(fn(ctx, rt), rt.Close())
}

func newSeasonCmd(cfg **config.Config) *cobra.Command {
	season := &cobra.Command{
		Use:   "season",
		Short: "Season commands",
	}
	season.AddCommand(&cobra.Command{
		Use:   "current",
		Short: "Show the current season",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, *cfg, false, func(ctx context.Context, rt *cli.Runtime) error {
				renderSeason(rt.Ranking.CurrentSeason())
				return nil
			})
		},
	})
	season.AddCommand(&cobra.Command{
		Use:   "tick",
		Short: "Close every season whose end has passed",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, *cfg, true, func(ctx context.Context, rt *cli.Runtime) error {
				reports, err := rt.Seasons.Tick(ctx, time.Now().UTC())
				renderReports(reports)
				if err != nil {
					return fmt.Errorf("season tick: %w", err)
				}
				renderSeason(rt.Holder.Current())
				return nil
			})
		},
	})
	season.AddCommand(&cobra.Command{
		Use:   "history [user_id]",
		Short: "Show a user's standings of closed seasons",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, *cfg, false, func(ctx context.Context, rt *cli.Runtime) error {
				standings, err := rt.Ranking.GetUserSeasonHistory(ctx, args[0])
				if err != nil {
					return err
				}
				renderStandings(args[0], standings)
				return nil
			})
		},
	})
	return season
}

func newRecalcCmd(cfg **config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "recalc [user_id...]",
		Short: "Rebuild user scores from their event history",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, *cfg, false, func(ctx context.Context, rt *cli.Runtime) error {
				var errs []error
				for _, id := range args {
					st, err := rt.Ranking.RecalculateUserScore(ctx, id)
					if err != nil {
						printError(fmt.Sprintf("%s: %v", id, err))
						errs = append(errs, err)
						continue
					}
					renderState(st)
				}
				return errors.Join(errs...)
			})
		},
	}
}

func newRankingCmd(cfg **config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "ranking [user_id]",
		Short: "Show a user's ranking",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, *cfg, false, func(ctx context.Context, rt *cli.Runtime) error {
				r, err := rt.Ranking.GetUserRanking(ctx, args[0])
				if err != nil {
					return err
				}
				renderRanking(r)
				return nil
			})
		},
	}
}

func newLeaderboardCmd(cfg **config.Config) *cobra.Command {
	var limit, offset int
	lb := &cobra.Command{
		Use:   "leaderboard",
		Short: "Show the global leaderboard of the current season",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, *cfg, false, func(ctx context.Context, rt *cli.Runtime) error {
				entries, err := rt.Ranking.GetGlobalLeaderboard(ctx, core.PageRequest{Limit: limit, Offset: offset})
				if err != nil {
					return err
				}
				renderLeaderboard(entries, fmt.Sprintf("Season %d", rt.Ranking.CurrentSeason().Number))
				return nil
			})
		},
	}
	lb.Flags().IntVar(&limit, "limit", core.DefaultLeaderboardLimit, "entries per page")
	lb.Flags().IntVar(&offset, "offset", 0, "entries to skip")

	var friends []string
	friendsCmd := &cobra.Command{
		Use:   "friends [user_id]",
		Short: "Rank a user among friends",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, *cfg, false, func(ctx context.Context, rt *cli.Runtime) error {
				entries, err := rt.Ranking.GetFriendsLeaderboard(ctx, args[0], friends)
				if err != nil {
					return err
				}
				renderLeaderboard(entries, "Friends of "+args[0])
				return nil
			})
		},
	}
	friendsCmd.Flags().StringSliceVar(&friends, "friend", nil, "friend user id (repeatable or comma separated)")
	lb.AddCommand(friendsCmd)

	lb.AddCommand(&cobra.Command{
		Use:   "categories",
		Short: "Show the per-category leaderboards",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, *cfg, false, func(ctx context.Context, rt *cli.Runtime) error {
				boards, err := rt.Ranking.GetCategoryLeaderboards(ctx, 0)
				if err != nil {
					return err
				}
				for _, b := range boards {
					renderLeaderboard(b.Entries, string(b.Category))
				}
				return nil
			})
		},
	})
	return lb
}

func newPublishCmd(cfg **config.Config) *cobra.Command {
	var (
		kind, userID, at string
		points           int64
		direct           bool
	)
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish a score event",
		Long:  "Publish a score event to the broker, or apply it directly with --direct.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ev, err := buildEvent(kind, userID, at, points)
			if err != nil {
				return err
			}
			if direct {
				return withRuntime(cmd, *cfg, false, func(ctx context.Context, rt *cli.Runtime) error {
					res, err := rt.Ranking.ApplyEvent(ctx, ev)
					if err != nil {
						return err
					}
					renderApply(ev, res)
					return nil
				})
			}

			c := *cfg
			if c.AMQPURL == "" {
				return errors.New("AMQP_URL is not set; use --direct to apply the event in-process")
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			client, err := amqp.NewClient(ctx, c.AMQPURL, c.AMQPExchange, c.AMQPQueue)
			if err != nil {
				return err
			}
			defer client.Close()
			if err := client.PublishScoreEvent(ctx, ev); err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Published %s event %s for %s.", ev.Kind, ev.ID, ev.UserID))
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "event kind: transaction, goal_completed or login_streak")
	cmd.Flags().StringVar(&userID, "user", "", "user id")
	cmd.Flags().StringVar(&at, "at", "", "occurrence time, RFC3339 (default: now)")
	cmd.Flags().Int64Var(&points, "points", 0, "base points overriding the point table")
	cmd.Flags().BoolVar(&direct, "direct", false, "apply the event in-process instead of publishing it")
	_ = cmd.MarkFlagRequired("kind")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func buildEvent(kind, userID, at string, points int64) (core.ScoreEvent, error) {
	k, err := core.ParseEventKind(kind)
	if err != nil {
		return core.ScoreEvent{}, err
	}
	occurred := time.Now().UTC()
	if at != "" {
		if occurred, err = time.Parse(time.RFC3339, at); err != nil {
			return core.ScoreEvent{}, fmt.Errorf("invalid --at: %w", err)
		}
	}
	ev := core.ScoreEvent{
		ID:         uuid.NewString(),
		Kind:       k,
		UserID:     strings.TrimSpace(userID),
		OccurredAt: occurred,
		BasePoints: points,
	}
	return ev, ev.Validate()
}

func newCatalogCmd() *cobra.Command {
	cat := &cobra.Command{
		Use:   "catalog",
		Short: "Badge and achievement catalog commands",
	}
	cat.AddCommand(&cobra.Command{
		Use:         "validate [file]",
		Short:       "Validate a catalog file, or the embedded catalog when no file is given",
		Args:        cobra.MaximumNArgs(1),
		Annotations: map[string]string{"config": "none"},
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				c   *catalog.Catalog
				err error
			)
			if len(args) == 1 {
				c, err = catalog.Load(args[0])
			} else {
				c, err = catalog.Default()
			}
			if err != nil {
				return err
			}
			renderCatalog(c)
			printSuccess("Catalog is valid.")
			return nil
		},
	})
	return cat
}
