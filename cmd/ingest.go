package cmd

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/c4a/ctiwatch/internal/cti"
	"github.com/c4a/ctiwatch/internal/feeds"
)

var (
	ingestSources []string
	ingestSince   string
	ingestLimit   int
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Run one ingestion batch across the configured sources",
	Long: `Fetch threat intelligence from the configured sources, drop duplicates,
persist new items, and enrich them. Sources run concurrently; a failing
source never blocks the others.`,
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().StringSliceVar(&ingestSources, "sources", nil, "Only run these sources (MISP, NVD, RSS)")
	ingestCmd.Flags().StringVar(&ingestSince, "since", "", "Fetch window start (RFC3339 or duration like 24h)")
	ingestCmd.Flags().IntVar(&ingestLimit, "limit", 0, "Maximum items per source (0 = source default)")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := newApp(cmd.OutOrStdout(), "ingest")
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

	opts := feeds.FetchOptions{Limit: ingestLimit}
	if ingestSince != "" {
		since, err := parseSince(ingestSince)
		if err != nil {
			return err
		}
		opts.Since = since
	}

	sources, err := parseSources(ingestSources)
	if err != nil {
		return err
	}

	result := orchestrator.Run(ctx, sources, opts)

	out := cmd.OutOrStdout()
	names := make([]string, 0, len(result.PerSource))
	for name := range result.PerSource {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		sr := result.PerSource[name]
		fmt.Fprintf(out, "%-6s %d items, %d errors\n", name, sr.Items, len(sr.Errors))
		for _, e := range sr.Errors {
			fmt.Fprintf(out, "       error: %s\n", e)
		}
	}
	fmt.Fprintf(out, "Total: %d items, %d errors in %s\n",
		result.TotalItems, result.TotalErrors, result.Duration.Round(time.Millisecond))
	return nil
}

func parseSources(names []string) ([]cti.Source, error) {
	var out []cti.Source
	for _, name := range names {
		switch strings.ToUpper(strings.TrimSpace(name)) {
		case "MISP":
			out = append(out, cti.SourceMISP)
		case "NVD":
			out = append(out, cti.SourceNVD)
		case "RSS":
			out = append(out, cti.SourceRSS)
		default:
			return nil, fmt.Errorf("unknown source: %s", name)
		}
	}
	return out, nil
}

func parseSince(value string) (time.Time, error) {
	if d, err := time.ParseDuration(value); err == nil {
		return time.Now().Add(-d), nil
	}
	if ts, err := time.Parse(time.RFC3339, value); err == nil {
		return ts, nil
	}
	return time.Time{}, fmt.Errorf("invalid --since value %q (want RFC3339 or duration)", value)
}
