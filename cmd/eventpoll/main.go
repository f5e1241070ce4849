package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/eventpoll/internal/client"
)

var (
	httpURL    string
	authToken  string
	jsonOutput bool

	pollerClient client.PollerClient
)

func defaultHTTPURL() string {
	if s := os.Getenv("EVENTPOLL_HTTP_URL"); s != "" {
		return s
	}
	return "http://localhost:8080"
}

var rootCmd = &cobra.Command{
	Use:          "eventpoll <command>",
	Short:        "Ledger event poller and its control client",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		pollerClient = client.NewHTTPClient(httpURL, authToken)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if pollerClient != nil {
			pollerClient.Close()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&httpURL, "http-url", defaultHTTPURL(), "poller HTTP URL")
	rootCmd.PersistentFlags().StringVar(&authToken, "token", os.Getenv("EVENTPOLL_AUTH_TOKEN"), "bearer token for the control API")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output as JSON")

	rootCmd.AddGroup(
		&cobra.Group{ID: "poller", Title: "Poller:"},
		&cobra.Group{ID: "system", Title: "System:"},
	)
	cobra.EnableCommandSorting = false

	// Poller
	rootCmd.AddCommand(triggerCmd)
	rootCmd.AddCommand(resetCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(tailCmd)
	rootCmd.AddCommand(subscribersCmd)

	// System
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(healthCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
