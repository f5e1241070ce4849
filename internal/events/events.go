// Package events carries ledger events between the poller and everything
// downstream of it: the durable JetStream work queue, its processing and
// dead-letter consumers, and the core NATS broadcast relay.
package events

import (
	"context"

	"github.com/alfredjeanlab/eventpoll/internal/model"
)

// Stream, subject and consumer names.
const (
	StreamEvents  = "LEDGER_EVENTS"
	SubjectEvents = "ledger.events"

	StreamDeadLetter  = "LEDGER_EVENTS_DLQ"
	SubjectDeadLetter = "ledger.events.dlq"

	ConsumerProcess    = "event-listener"
	ConsumerDeadLetter = "event-listener-dlq"

	// SubjectBroadcast carries each cycle's batch over core NATS for
	// subscribers in other processes. Delivery is best-effort.
	SubjectBroadcast = "ledger.broadcast"
)

// DefaultMaxDeliver is how many times the processing consumer attempts a
// message before dead-lettering it.
const DefaultMaxDeliver = 5

// Queue accepts batches of events for reliable downstream processing.
// SendBatch must return nil only once every event in the batch is durably
// accepted.
type Queue interface {
	SendBatch(ctx context.Context, batch []model.Event) error
	Close() error
}

// Publisher is the interface for emitting best-effort broadcasts.
type Publisher interface {
	Publish(ctx context.Context, topic string, event any) error
	Close() error
}
