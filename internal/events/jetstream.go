package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/alfredjeanlab/eventpoll/internal/model"
)

// EnsureStreams creates (or updates) the work-queue streams for events and
// dead letters.
func EnsureStreams(ctx context.Context, js jetstream.JetStream) error {
	for _, cfg := range []jetstream.StreamConfig{
		{
			Name:        StreamEvents,
			Description: "Ledger events awaiting processing",
			Subjects:    []string{SubjectEvents},
			Retention:   jetstream.WorkQueuePolicy,
			Storage:     jetstream.FileStorage,
		},
		{
			Name:        StreamDeadLetter,
			Description: "Ledger events that exhausted processing attempts",
			Subjects:    []string{SubjectDeadLetter},
			Retention:   jetstream.WorkQueuePolicy,
			Storage:     jetstream.FileStorage,
		},
	} {
		if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
			return fmt.Errorf("ensuring stream %s: %w", cfg.Name, err)
		}
	}
	return nil
}

// DefaultAckTimeout bounds how long SendBatch waits for the server to
// acknowledge a batch.
const DefaultAckTimeout = 10 * time.Second

// JetStreamQueue submits event batches to the LEDGER_EVENTS stream.
type JetStreamQueue struct {
	js         jetstream.JetStream
	ackTimeout time.Duration
}

var _ Queue = (*JetStreamQueue)(nil)

// NewJetStreamQueue binds to nc's JetStream context and ensures the streams
// exist. The connection remains owned by the caller.
func NewJetStreamQueue(ctx context.Context, nc *nats.Conn) (*JetStreamQueue, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("creating JetStream context: %w", err)
	}
	if err := EnsureStreams(ctx, js); err != nil {
		return nil, err
	}
	return &JetStreamQueue{js: js, ackTimeout: DefaultAckTimeout}, nil
}

// JetStream exposes the underlying context for consumers and KV mirrors.
func (q *JetStreamQueue) JetStream() jetstream.JetStream {
	return q.js
}

// SendBatch publishes one message per event, in order, and waits for every
// acknowledgement. The event id is used as the message id so the server
// drops duplicates from a retried cycle.
func (q *JetStreamQueue) SendBatch(ctx context.Context, batch []model.Event) error {
	if len(batch) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, q.ackTimeout)
	defer cancel()

	futures := make([]jetstream.PubAckFuture, 0, len(batch))
	for i := range batch {
		data, err := json.Marshal(&batch[i])
		if err != nil {
			return fmt.Errorf("marshaling event %s: %w", batch[i].ID, err)
		}
		f, err := q.js.PublishAsync(SubjectEvents, data, jetstream.WithMsgID(batch[i].ID))
		if err != nil {
			return fmt.Errorf("publishing event %s: %w", batch[i].ID, err)
		}
		futures = append(futures, f)
	}

	for i, f := range futures {
		select {
		case <-f.Ok():
		case err := <-f.Err():
			return fmt.Errorf("event %s not accepted: %w", batch[i].ID, err)
		case <-ctx.Done():
			return fmt.Errorf("waiting for acks: %w", ctx.Err())
		}
	}
	return nil
}

func (q *JetStreamQueue) Close() error {
	return nil
}
