package server

import (
	"log/slog"
	"sync"

	"github.com/alfredjeanlab/eventpoll/internal/idgen"
)

// subscriberBuffer is the number of undelivered broadcasts a subscriber may
// queue before further broadcasts to it are dropped.
const subscriberBuffer = 16

// Hub is the registry of live subscribers. Broadcast never blocks on a slow
// subscriber.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]*subscriber
	logger *slog.Logger
}

type subscriber struct {
	id        string
	transport string
	ch        chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

// close signals the transport goroutine to hang up.
func (s *subscriber) close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// NewHub returns an empty subscriber registry.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		subs:   make(map[string]*subscriber),
		logger: logger,
	}
}

// Broadcast queues data for every registered subscriber and returns how many
// accepted it. Subscribers with a full buffer miss this message.
func (h *Hub) Broadcast(data []byte) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	sent := 0
	for id, sub := range h.subs {
		select {
		case sub.ch <- data:
			sent++
		default:
			h.logger.Warn("dropping broadcast for slow subscriber", "id", id, "transport", sub.transport)
		}
	}
	return sent
}

// Len returns the number of registered subscribers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Disconnect asks the subscriber with the given id to hang up. It reports
// whether such a subscriber was registered.
func (h *Hub) Disconnect(id string) bool {
	h.mu.RLock()
	sub, ok := h.subs[id]
	h.mu.RUnlock()
	if ok {
		sub.close()
	}
	return ok
}

func (h *Hub) subscribe(transport string) (*subscriber, error) {
	id, err := idgen.Subscriber()
	if err != nil {
		return nil, err
	}
	sub := &subscriber{
		id:        id,
		transport: transport,
		ch:        make(chan []byte, subscriberBuffer),
		done:      make(chan struct{}),
	}
	h.mu.Lock()
	h.subs[id] = sub
	n := len(h.subs)
	h.mu.Unlock()
	h.logger.Info("subscriber connected", "id", id, "transport", transport, "subscribers", n)
	return sub, nil
}

func (h *Hub) unsubscribe(sub *subscriber) {
	h.mu.Lock()
	delete(h.subs, sub.id)
	n := len(h.subs)
	h.mu.Unlock()
	sub.close()
	h.logger.Info("subscriber disconnected", "id", sub.id, "transport", sub.transport, "subscribers", n)
}
