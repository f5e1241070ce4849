package poller

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/alfredjeanlab/eventpoll/internal/events"
	"github.com/alfredjeanlab/eventpoll/internal/model"
)

// Broadcaster pushes one message to every live subscriber it holds and
// returns how many accepted it.
type Broadcaster interface {
	Broadcast(data []byte) int
}

// FanOut delivers a batch to the durable queue, then broadcasts it to live
// subscribers. Only the queue submission can fail the delivery.
type FanOut struct {
	queue        events.Queue
	broadcasters []Broadcaster
	relay        events.Publisher
	logger       *slog.Logger
}

// NewFanOut creates a sink. relay may be nil.
func NewFanOut(queue events.Queue, relay events.Publisher, logger *slog.Logger, broadcasters ...Broadcaster) *FanOut {
	if relay == nil {
		relay = &events.NoopPublisher{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FanOut{queue: queue, broadcasters: broadcasters, relay: relay, logger: logger}
}

// Deliver implements Sink.
func (f *FanOut) Deliver(ctx context.Context, batch []model.Event) error {
	if len(batch) == 0 {
		return nil
	}
	if err := f.queue.SendBatch(ctx, batch); err != nil {
		return fmt.Errorf("enqueue batch: %w", err)
	}

	data, err := json.MarshalIndent(batch, "", "  ")
	if err != nil {
		f.logger.Error("encoding broadcast", "err", err)
		return nil
	}
	for _, b := range f.broadcasters {
		n := b.Broadcast(data)
		f.logger.Debug("broadcast batch", "events", len(batch), "subscribers", n)
	}
	if err := f.relay.Publish(ctx, events.SubjectBroadcast, json.RawMessage(data)); err != nil {
		f.logger.Warn("relay publish failed", "err", err)
	}
	return nil
}
