package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/alfredjeanlab/eventpoll/internal/model"
	"github.com/alfredjeanlab/eventpoll/internal/store"
)

// Processor is the normal consumption path of the work queue: each message is
// decoded and written to every configured mirror. A message that keeps
// failing is moved to the dead-letter stream on its final attempt.
//
// The server-side consumer redelivers without limit; maxDeliver is enforced
// here so a message whose dead-letter publish fails is redelivered until the
// publish succeeds.
type Processor struct {
	js         jetstream.JetStream
	mirrors    []store.EventMirror
	maxDeliver int
	ackWait    time.Duration
	dlqRetry   time.Duration
	logger     *slog.Logger
}

// NewProcessor creates a processing consumer. maxDeliver <= 0 selects
// DefaultMaxDeliver.
func NewProcessor(js jetstream.JetStream, maxDeliver int, logger *slog.Logger, mirrors ...store.EventMirror) *Processor {
	if maxDeliver <= 0 {
		maxDeliver = DefaultMaxDeliver
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		js:         js,
		mirrors:    mirrors,
		maxDeliver: maxDeliver,
		ackWait:    30 * time.Second,
		dlqRetry:   5 * time.Second,
		logger:     logger,
	}
}

// Run consumes until ctx is cancelled.
func (p *Processor) Run(ctx context.Context) error {
	cons, err := p.js.CreateOrUpdateConsumer(ctx, StreamEvents, jetstream.ConsumerConfig{
		Durable:       ConsumerProcess,
		FilterSubject: SubjectEvents,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       p.ackWait,
		MaxDeliver:    -1,
	})
	if err != nil {
		return fmt.Errorf("creating consumer %s: %w", ConsumerProcess, err)
	}

	cc, err := cons.Consume(func(msg jetstream.Msg) { p.handle(ctx, msg) })
	if err != nil {
		return fmt.Errorf("consuming %s: %w", StreamEvents, err)
	}
	p.logger.Info("processing consumer started", "consumer", ConsumerProcess, "max_deliver", p.maxDeliver)

	<-ctx.Done()
	cc.Stop()
	return nil
}

func (p *Processor) handle(ctx context.Context, msg jetstream.Msg) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.ackWait)
	defer cancel()

	err := p.process(ctx, msg.Data())
	if err == nil {
		if ackErr := msg.Ack(); ackErr != nil {
			p.logger.Warn("ack failed", "err", ackErr)
		}
		return
	}

	var attempt uint64 = 1
	if meta, metaErr := msg.Metadata(); metaErr == nil {
		attempt = meta.NumDelivered
	}

	if attempt >= uint64(p.maxDeliver) {
		p.deadLetter(ctx, msg, attempt, err)
		return
	}

	p.logger.Warn("event processing failed, will retry", "attempt", attempt, "err", err)
	if nakErr := msg.NakWithDelay(time.Duration(attempt) * time.Second); nakErr != nil {
		p.logger.Warn("nak failed", "err", nakErr)
	}
}

// process writes one message to every mirror. A message that cannot be
// decoded is returned as an error so it ends up dead-lettered.
func (p *Processor) process(ctx context.Context, data []byte) error {
	var ev model.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return fmt.Errorf("decoding event: %w", err)
	}
	if ev.ID == "" {
		return errors.New("event has no id")
	}

	batch := []model.Event{ev}
	for _, m := range p.mirrors {
		if err := m.PutEvents(ctx, batch); err != nil {
			return fmt.Errorf("mirroring event %s: %w", ev.ID, err)
		}
	}
	return nil
}

func (p *Processor) deadLetter(ctx context.Context, msg jetstream.Msg, attempt uint64, cause error) {
	if _, err := p.js.Publish(ctx, SubjectDeadLetter, msg.Data()); err != nil {
		p.logger.Error("dead-letter publish failed, will retry", "attempt", attempt, "retry_in", p.dlqRetry, "err", err, "cause", cause)
		if nakErr := msg.NakWithDelay(p.dlqRetry); nakErr != nil {
			p.logger.Warn("nak failed", "err", nakErr)
		}
		return
	}
	if err := msg.Term(); err != nil {
		p.logger.Warn("terminate failed", "err", err)
	}
	p.logger.Error("event dead-lettered", "attempt", attempt, "err", cause)
}
