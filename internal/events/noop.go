package events

import (
	"context"

	"github.com/alfredjeanlab/eventpoll/internal/model"
)

// NoopQueue is a Queue that accepts and discards every batch. serve uses it
// when EVENTPOLL_QUEUE=none.
type NoopQueue struct{}

func (n *NoopQueue) SendBatch(ctx context.Context, batch []model.Event) error {
	return nil
}

func (n *NoopQueue) Close() error {
	return nil
}

// NoopPublisher is a Publisher that does nothing (the relay when queueing is disabled).
type NoopPublisher struct{}

func (n *NoopPublisher) Publish(ctx context.Context, topic string, event any) error {
	return nil
}

func (n *NoopPublisher) Close() error {
	return nil
}
