package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/c4a/ctiwatch/internal/correlate"
	"github.com/c4a/ctiwatch/internal/feeds"
	"github.com/c4a/ctiwatch/internal/pipeline"
)

var watchInterval string

// busStreamMaxLen caps each Redis stream between watch cycles.
const busStreamMaxLen = 10000

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run the pipeline continuously on an interval",
	Long: `Run ingestion followed by correlation across all organizations on a
fixed interval until interrupted. When rss.feeds_file is configured the
feed list is hot-reloaded on change.`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVar(&watchInterval, "interval", "", "Pipeline interval (default from config, 15m)")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := newApp(cmd.OutOrStdout(), "watch")
	if err != nil {
		return err
	}
	defer a.Close()

	orchestrator, err := a.orchestrator(cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	if len(orchestrator.Adapters()) == 0 {
		return fmt.Errorf("no sources configured")
	}
	engine := a.engine(cmd.ErrOrStderr())

	intervalStr := a.config.Watch.Interval
	if watchInterval != "" {
		intervalStr = watchInterval
	}
	interval, err := time.ParseDuration(intervalStr)
	if err != nil {
		return fmt.Errorf("invalid watch interval %q: %w", intervalStr, err)
	}

	runners := []pipeline.Runner{
		pipeline.RunnerFunc{
			RunnerName: "ingest",
			Fn: func(ctx context.Context) error {
				result := orchestrator.Run(ctx, nil, feeds.FetchOptions{})
				if result.TotalErrors > 0 {
					return fmt.Errorf("%d source errors", result.TotalErrors)
				}
				return nil
			},
		},
		pipeline.RunnerFunc{
			RunnerName: "correlate",
			Fn: func(ctx context.Context) error {
				orgs, err := a.assets.ListOrganizationIDs(ctx)
				if err != nil {
					return err
				}
				since := time.Now().Add(-2 * interval)
				for _, orgID := range orgs {
					summary, err := engine.CorrelateRecent(ctx, orgID, correlate.RecentOptions{
						Since: &since,
						Limit: 500,
					})
					if err != nil {
						return err
					}
					if len(summary.Errors) > 0 {
						return fmt.Errorf("%s: %d correlation errors", orgID, len(summary.Errors))
					}
				}
				return nil
			},
		},
		pipeline.RunnerFunc{
			RunnerName: "bus-trim",
			Fn: func(ctx context.Context) error {
				return a.bus.CleanupOldMessages(ctx, busStreamMaxLen)
			},
		},
	}

	if a.config.RSS.FeedsFile != "" && a.rss != nil {
		watcher := feeds.NewFeedListWatcher(a.config.RSS.FeedsFile, a.rss, newLogger(cmd.ErrOrStderr(), "feed-list"))
		go func() {
			if err := watcher.Run(ctx); err != nil && ctx.Err() == nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "feed list watcher stopped: %v\n", err)
			}
		}()
	}

	scheduler := pipeline.NewScheduler(interval, runners, newLogger(cmd.OutOrStdout(), "watch"))
	if err := scheduler.Run(ctx); err != nil && err != context.Canceled {
		return err
	}
	return nil
}
