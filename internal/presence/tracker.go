// Package presence tracks live subscriber connections for the subscriber
// roster.
//
// The server records an activity whenever a subscriber connects, answers a
// liveness probe, or receives a keepalive, and removes the entry when the
// connection ends. An optional reaper marks subscribers idle past a threshold
// as dead and hands them to OnDead so the connection can be dropped.
package presence

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Activity kinds.
const (
	KindConnect   = "connect"
	KindProbe     = "probe"
	KindKeepalive = "keepalive"
	KindMessage   = "message"
)

// Entry represents a single subscriber's live presence state.
type Entry struct {
	ID            string    `json:"id"`
	Transport     string    `json:"transport"`
	Remote        string    `json:"remote,omitempty"`
	ConnectedAt   time.Time `json:"connected_at"`
	LastSeen      time.Time `json:"last_seen"`
	LastEvent     string    `json:"last_event"`
	IdleSecs      float64   `json:"idle_secs"`
	Probes        int64     `json:"probes"`
	ConnectedSecs float64   `json:"connected_secs"`
	Reaped        bool      `json:"reaped,omitempty"`
	ReapedAt      time.Time `json:"reaped_at,omitempty"`
}

// Activity is one observation of a subscriber.
type Activity struct {
	ID        string
	Transport string // "websocket" or "sse"
	Remote    string
	Kind      string
}

// ReaperConfig configures the background idle-subscriber reaper.
type ReaperConfig struct {
	// DeadThreshold is how long a subscriber may stay silent before being
	// marked dead. Default: 5 minutes.
	DeadThreshold time.Duration

	// EvictAfter is how long a reaped entry is kept if the connection never
	// reports its removal. Default: 10 minutes.
	EvictAfter time.Duration

	// SweepInterval is how often the reaper scans. Default: 30 seconds.
	SweepInterval time.Duration

	// OnDead is called for each subscriber newly marked as dead.
	// Called outside the lock.
	OnDead func(id string)
}

// Tracker maintains an in-memory roster of subscribers.
type Tracker struct {
	mu      sync.RWMutex
	entries map[string]*subscriberState

	reaperStop chan struct{}
	reaperDone chan struct{}
}

type subscriberState struct {
	transport   string
	remote      string
	connectedAt time.Time
	lastSeen    time.Time
	lastEvent   string
	probes      int64
	reaped      bool
	reapedAt    time.Time
}

// New creates a new presence tracker.
func New() *Tracker {
	return &Tracker{entries: make(map[string]*subscriberState)}
}

// Record updates the presence state for a subscriber.
func (t *Tracker) Record(a Activity) {
	if a.ID == "" {
		return
	}

	now := time.Now()
	t.mu.Lock()
	defer t.mu.Unlock()

	state, ok := t.entries[a.ID]
	if !ok {
		state = &subscriberState{connectedAt: now}
		t.entries[a.ID] = state
	}
	if state.reaped {
		slog.Info("presence: subscriber resurrected", "id", a.ID)
		state.reaped = false
		state.reapedAt = time.Time{}
	}

	state.lastSeen = now
	state.lastEvent = a.Kind
	if a.Kind == KindProbe {
		state.probes++
	}
	if a.Transport != "" {
		state.transport = a.Transport
	}
	if a.Remote != "" {
		state.remote = a.Remote
	}
}

// Remove drops a subscriber from the roster.
func (t *Tracker) Remove(id string) {
	t.mu.Lock()
	delete(t.entries, id)
	t.mu.Unlock()
}

// Roster returns a snapshot of all tracked subscribers, most recently active
// first. staleThreshold excludes subscribers silent for longer; pass 0 to
// include everyone.
func (t *Tracker) Roster(staleThreshold time.Duration) []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()

	now := time.Now()
	entries := make([]Entry, 0, len(t.entries))
	for id, state := range t.entries {
		idle := now.Sub(state.lastSeen)
		if staleThreshold > 0 && idle > staleThreshold {
			continue
		}
		entries = append(entries, Entry{
			ID:            id,
			Transport:     state.transport,
			Remote:        state.remote,
			ConnectedAt:   state.connectedAt,
			LastSeen:      state.lastSeen,
			LastEvent:     state.lastEvent,
			IdleSecs:      idle.Seconds(),
			Probes:        state.probes,
			ConnectedSecs: now.Sub(state.connectedAt).Seconds(),
			Reaped:        state.reaped,
			ReapedAt:      state.reapedAt,
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].LastSeen.After(entries[j].LastSeen)
	})
	return entries
}

// Len returns the number of tracked subscribers.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// StartReaper launches a background goroutine that periodically marks idle
// subscribers as dead. Call Stop() to shut it down.
func (t *Tracker) StartReaper(cfg *ReaperConfig) {
	if cfg == nil {
		cfg = &ReaperConfig{}
	}
	if cfg.DeadThreshold == 0 {
		cfg.DeadThreshold = 5 * time.Minute
	}
	if cfg.EvictAfter == 0 {
		cfg.EvictAfter = 10 * time.Minute
	}
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = 30 * time.Second
	}

	t.reaperStop = make(chan struct{})
	t.reaperDone = make(chan struct{})

	go t.reapLoop(cfg)
	slog.Info("presence: reaper started",
		"dead_threshold", cfg.DeadThreshold,
		"sweep_interval", cfg.SweepInterval)
}

// Stop shuts down the reaper goroutine.
func (t *Tracker) Stop() {
	if t.reaperStop != nil {
		close(t.reaperStop)
		<-t.reaperDone
		t.reaperStop = nil
		t.reaperDone = nil
	}
}

func (t *Tracker) reapLoop(cfg *ReaperConfig) {
	defer close(t.reaperDone)

	ticker := time.NewTicker(cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.reaperStop:
			return
		case <-ticker.C:
			t.sweep(cfg)
		}
	}
}

func (t *Tracker) sweep(cfg *ReaperConfig) {
	now := time.Now()
	var newlyDead []string

	t.mu.Lock()
	for id, state := range t.entries {
		if state.reaped {
			if !state.reapedAt.IsZero() && now.Sub(state.reapedAt) > cfg.EvictAfter {
				delete(t.entries, id)
			}
			continue
		}
		if now.Sub(state.lastSeen) > cfg.DeadThreshold {
			state.reaped = true
			state.reapedAt = now
			newlyDead = append(newlyDead, id)
		}
	}
	t.mu.Unlock()

	for _, id := range newlyDead {
		slog.Info("presence: reaper marked subscriber dead",
			"id", id,
			"threshold", cfg.DeadThreshold)
		if cfg.OnDead != nil {
			cfg.OnDead(id)
		}
	}
}
