package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var triggerCmd = &cobra.Command{
	Use:     "trigger",
	Short:   "Run a poll cycle now (no-op while one is running or scheduled)",
	GroupID: "poller",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := pollerClient.Trigger(context.Background()); err != nil {
			return fmt.Errorf("triggering poll: %w", err)
		}
		if !jsonOutput {
			fmt.Println("Triggered")
		}
		return nil
	},
}

var resetCmd = &cobra.Command{
	Use:     "reset",
	Short:   "Forget the cursor and pending wake; the next trigger bootstraps again",
	GroupID: "poller",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := pollerClient.Reset(context.Background()); err != nil {
			return fmt.Errorf("resetting poller: %w", err)
		}
		if !jsonOutput {
			fmt.Println("Reset")
		}
		return nil
	},
}
