package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/eventpoll/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:     "status",
	Short:   "Show the poller's cursor, schedule, and counters",
	GroupID: "poller",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := pollerClient.Status(context.Background())
		if err != nil {
			return fmt.Errorf("fetching status: %w", err)
		}
		if jsonOutput {
			printJSON(st)
			return nil
		}
		printStatus(os.Stdout, st, ui.NewStyles(ui.ShouldUseColor(os.Stdout)), time.Now())
		return nil
	},
}

var subscribersCmd = &cobra.Command{
	Use:     "subscribers",
	Short:   "List live subscribers",
	GroupID: "poller",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		stale, _ := cmd.Flags().GetDuration("stale")
		resp, err := pollerClient.Subscribers(context.Background(), stale)
		if err != nil {
			return fmt.Errorf("listing subscribers: %w", err)
		}
		if jsonOutput {
			printJSON(resp)
			return nil
		}
		printSubscribers(os.Stdout, resp, ui.NewStyles(ui.ShouldUseColor(os.Stdout)))
		return nil
	},
}

func init() {
	subscribersCmd.Flags().Duration("stale", 0, "hide subscribers silent for longer than this (0 = show all)")
}
