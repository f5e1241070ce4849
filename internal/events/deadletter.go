package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// DeadLetterSink persists a batch of dead-lettered message bodies.
type DeadLetterSink interface {
	Dump(ctx context.Context, messages []json.RawMessage) error
}

// DeadLetterCollector drains the dead-letter stream into a sink in batches.
type DeadLetterCollector struct {
	js        jetstream.JetStream
	sink      DeadLetterSink
	batchSize int
	maxWait   time.Duration
	logger    *slog.Logger
}

// NewDeadLetterCollector creates a collector fetching up to batchSize
// messages at a time.
func NewDeadLetterCollector(js jetstream.JetStream, sink DeadLetterSink, batchSize int, logger *slog.Logger) *DeadLetterCollector {
	if batchSize <= 0 {
		batchSize = 100
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DeadLetterCollector{
		js:        js,
		sink:      sink,
		batchSize: batchSize,
		maxWait:   5 * time.Second,
		logger:    logger,
	}
}

// Run collects until ctx is cancelled.
func (c *DeadLetterCollector) Run(ctx context.Context) error {
	cons, err := c.consumer(ctx)
	if err != nil {
		return err
	}
	c.logger.Info("dead-letter consumer started", "consumer", ConsumerDeadLetter)

	for ctx.Err() == nil {
		n, err := c.collect(ctx, cons)
		if err != nil {
			c.logger.Error("dead-letter collection failed", "err", err)
			select {
			case <-ctx.Done():
			case <-time.After(c.maxWait):
			}
			continue
		}
		if n > 0 {
			c.logger.Info("dead letters captured", "count", n)
		}
	}
	return nil
}

func (c *DeadLetterCollector) consumer(ctx context.Context) (jetstream.Consumer, error) {
	cons, err := c.js.CreateOrUpdateConsumer(ctx, StreamDeadLetter, jetstream.ConsumerConfig{
		Durable:       ConsumerDeadLetter,
		FilterSubject: SubjectDeadLetter,
		AckPolicy:     jetstream.AckExplicitPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("creating consumer %s: %w", ConsumerDeadLetter, err)
	}
	return cons, nil
}

// collect fetches one batch and hands it to the sink. All messages are acked
// if the sink succeeds and nak'd otherwise.
func (c *DeadLetterCollector) collect(ctx context.Context, cons jetstream.Consumer) (int, error) {
	batch, err := cons.Fetch(c.batchSize, jetstream.FetchMaxWait(c.maxWait))
	if err != nil {
		return 0, fmt.Errorf("fetching dead letters: %w", err)
	}

	var msgs []jetstream.Msg
	for msg := range batch.Messages() {
		msgs = append(msgs, msg)
	}
	if err := batch.Error(); err != nil && !errors.Is(err, nats.ErrTimeout) && len(msgs) == 0 {
		return 0, fmt.Errorf("fetching dead letters: %w", err)
	}
	if len(msgs) == 0 {
		return 0, nil
	}

	bodies := make([]json.RawMessage, len(msgs))
	for i, msg := range msgs {
		bodies[i] = rawBody(msg.Data())
	}

	if err := c.sink.Dump(ctx, bodies); err != nil {
		for _, msg := range msgs {
			_ = msg.Nak()
		}
		return 0, fmt.Errorf("dumping %d dead letters: %w", len(msgs), err)
	}
	for _, msg := range msgs {
		if err := msg.Ack(); err != nil {
			c.logger.Warn("dead-letter ack failed", "err", err)
		}
	}
	return len(msgs), nil
}

// rawBody keeps valid JSON verbatim and quotes anything else as a string.
func rawBody(data []byte) json.RawMessage {
	if json.Valid(data) {
		return json.RawMessage(append([]byte(nil), data...))
	}
	quoted, _ := json.Marshal(string(data))
	return quoted
}
