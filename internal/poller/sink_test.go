package poller

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alfredjeanlab/eventpoll/internal/model"
)

type recordingQueue struct {
	mu      sync.Mutex
	batches [][]model.Event
	err     error
}

func (q *recordingQueue) SendBatch(_ context.Context, batch []model.Event) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.batches = append(q.batches, append([]model.Event(nil), batch...))
	return nil
}

func (q *recordingQueue) Close() error { return nil }

type recordingBroadcaster struct {
	mu       sync.Mutex
	messages [][]byte
}

func (b *recordingBroadcaster) Broadcast(data []byte) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages = append(b.messages, data)
	return 1
}

type recordingRelay struct {
	topics []string
}

func (r *recordingRelay) Publish(_ context.Context, topic string, _ any) error {
	r.topics = append(r.topics, topic)
	return nil
}

func (r *recordingRelay) Close() error { return nil }

func TestFanOut_QueueThenBroadcast(t *testing.T) {
	queue := &recordingQueue{}
	hub1, hub2 := &recordingBroadcaster{}, &recordingBroadcaster{}
	relay := &recordingRelay{}
	f := NewFanOut(queue, relay, nil, hub1, hub2)

	batch := testEvents("T1", "T2")
	require.NoError(t, f.Deliver(context.Background(), batch))

	require.Len(t, queue.batches, 1)
	assert.Equal(t, []string{"T1", "T2"}, tokensOf(queue.batches[0]))

	for _, hub := range []*recordingBroadcaster{hub1, hub2} {
		require.Len(t, hub.messages, 1)
		msg := string(hub.messages[0])
		assert.True(t, strings.HasPrefix(msg, "[\n  {"), "broadcast should be an indented array, got %q", msg)

		var got []model.Event
		require.NoError(t, json.Unmarshal(hub.messages[0], &got))
		assert.Equal(t, []string{"T1", "T2"}, tokensOf(got))
	}
	assert.Equal(t, []string{"ledger.broadcast"}, relay.topics)
}

func TestFanOut_QueueFailureSkipsBroadcast(t *testing.T) {
	queue := &recordingQueue{err: errors.New("stream unavailable")}
	hub := &recordingBroadcaster{}
	f := NewFanOut(queue, nil, nil, hub)

	err := f.Deliver(context.Background(), testEvents("T1"))
	require.Error(t, err)
	assert.Empty(t, hub.messages)
}

func TestFanOut_EmptyBatch(t *testing.T) {
	queue := &recordingQueue{}
	hub := &recordingBroadcaster{}
	f := NewFanOut(queue, nil, nil, hub)

	require.NoError(t, f.Deliver(context.Background(), nil))
	assert.Empty(t, queue.batches)
	assert.Empty(t, hub.messages)
}
