package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/eventpoll/internal/events"
	"github.com/alfredjeanlab/eventpoll/internal/ui"
)

var tailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Stream event batches as the poller delivers them",
	Long: `Subscribe to the poller and print every delivered batch.

By default tail connects to the poller's WebSocket endpoint. With --nats it
listens on the broker's broadcast subject instead, which works from any host
that can reach NATS.`,
	GroupID: "poller",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		natsURL, _ := cmd.Flags().GetString("nats")
		ping, _ := cmd.Flags().GetDuration("ping")

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		pretty := !jsonOutput && ui.IsTerminal(os.Stdout)
		styles := ui.NewStyles(pretty && ui.ShouldUseColor(os.Stdout))
		printBatch := func(msg []byte) error {
			out, err := formatBatch(msg, pretty, styles)
			if err != nil {
				fmt.Fprintf(os.Stderr, "%s\n", styles.Error(err.Error()))
				return nil
			}
			fmt.Print(out)
			return nil
		}

		if natsURL != "" {
			return tailNATS(ctx, natsURL, printBatch)
		}
		return pollerClient.Tail(ctx, ping, printBatch)
	},
}

// tailNATS prints broadcasts relayed over core NATS until ctx is done.
func tailNATS(ctx context.Context, natsURL string, fn func([]byte) error) error {
	sub, err := events.NewNATSSubscriber(natsURL,
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			fmt.Fprintf(os.Stderr, "nats: disconnected: %v\n", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			fmt.Fprintln(os.Stderr, "nats: reconnected")
		}),
	)
	if err != nil {
		return fmt.Errorf("connecting to NATS: %w", err)
	}
	defer sub.Close()

	ch, cancel, err := sub.Subscribe(events.SubjectBroadcast)
	if err != nil {
		return fmt.Errorf("subscribing to broadcasts: %w", err)
	}
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			if err := fn(msg); err != nil {
				return err
			}
		}
	}
}

func init() {
	tailCmd.Flags().String("nats", os.Getenv("EVENTPOLL_NATS_URL"), "read broadcasts from this NATS server instead of the WebSocket")
	tailCmd.Flags().Duration("ping", 30*time.Second, "WebSocket liveness probe interval (0 disables)")
}
