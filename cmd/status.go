package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/c4a/ctiwatch/internal/cti"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Probe configured sources, storage, and the event bus",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	a, err := newApp(cmd.OutOrStdout(), "status")
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()

	// Storage: a listing query doubles as a connectivity check.
	if _, _, err := a.items.Recent(ctx, cti.ListOptions{Limit: 1}); err != nil {
		fmt.Fprintf(out, "store  FAIL  %v\n", err)
	} else {
		fmt.Fprintf(out, "store  OK    backend=%s\n", a.config.Store.Backend)
	}

	if err := a.bus.HealthCheck(ctx); err != nil {
		fmt.Fprintf(out, "bus    FAIL  %v\n", err)
	} else if stats, err := a.bus.GetStats(ctx); err != nil {
		fmt.Fprintf(out, "bus    OK    (stats unavailable: %v)\n", err)
	} else {
		fmt.Fprintf(out, "bus    OK    %v\n", stats)
	}

	for _, adapter := range a.adapters(cmd.ErrOrStderr()) {
		name := string(adapter.Source())
		if err := adapter.Probe(ctx); err != nil {
			fmt.Fprintf(out, "%-6s FAIL  %v\n", name, err)
		} else {
			fmt.Fprintf(out, "%-6s OK\n", name)
		}
	}
	return nil
}
