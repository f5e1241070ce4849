// Package poller implements the stateful ledger poller: a single-flight
// engine that bootstraps a cursor, polls the ledger on an aligned cadence,
// fans each batch out, and persists its position between cycles.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alfredjeanlab/eventpoll/internal/ledger"
	"github.com/alfredjeanlab/eventpoll/internal/model"
	"github.com/alfredjeanlab/eventpoll/internal/store"
)

// Defaults for Engine options.
const (
	DefaultPageLimit     = 100
	DefaultCatchupWindow = 17280 // one day of ledgers at 5s
)

// Source is the upstream event feed.
type Source interface {
	LatestSequence(ctx context.Context) (int64, error)
	PollEvents(ctx context.Context, cursor model.Cursor, limit int) (*ledger.PollResult, error)
}

// Sink receives each non-empty batch before the cursor advances past it.
type Sink interface {
	Deliver(ctx context.Context, batch []model.Event) error
}

// Status is a point-in-time view of the engine.
type Status struct {
	Cursor          model.Cursor `json:"cursor"`
	Running         bool         `json:"running"`
	NextWake        *time.Time   `json:"next_wake,omitempty"`
	Generation      uint64       `json:"generation"`
	LastCycleAt     *time.Time   `json:"last_cycle_at,omitempty"`
	LastError       string       `json:"last_error,omitempty"`
	Cycles          uint64       `json:"cycles"`
	Failures        uint64       `json:"failures"`
	EventsDelivered uint64       `json:"events_delivered"`
}

// Option configures an Engine.
type Option func(*Engine)

// WithInterval sets the wake-up grid spacing.
func WithInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.interval = d
		}
	}
}

// WithPageLimit sets the maximum number of events fetched per cycle.
func WithPageLimit(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.pageLimit = n
		}
	}
}

// WithCatchupWindow sets how many ledgers behind the tip bootstrap starts.
func WithCatchupWindow(n int64) Option {
	return func(e *Engine) {
		if n > 0 {
			e.window = n
		}
	}
}

// WithLogger sets the engine's logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithClock overrides time.Now for cycle start times.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithCycleObserver registers fn to be called after every cycle with its
// outcome (nil on success). fn runs with the engine locked and must not call
// back into it.
func WithCycleObserver(fn func(error)) Option {
	return func(e *Engine) { e.observers = append(e.observers, fn) }
}

// Engine is the poll cycle state machine. All state transitions happen under
// mu; ledger, queue and broadcast I/O happen outside it. Exactly one Engine
// may run against a given state store.
type Engine struct {
	source Source
	state  store.StateStore
	sink   Sink
	sched  Scheduler

	interval  time.Duration
	pageLimit int
	window    int64
	logger    *slog.Logger
	now       func() time.Time
	observers []func(error)

	mu         sync.Mutex
	cursor     model.Cursor
	running    bool
	stopped    bool
	generation uint64
	lastCycle  time.Time
	lastErr    string
	cycles     uint64
	failures   uint64
	delivered  uint64

	wg sync.WaitGroup
}

// New creates an engine. Call Start to load persisted state before the first
// Trigger.
func New(source Source, state store.StateStore, sink Sink, opts ...Option) *Engine {
	e := &Engine{
		source:    source,
		state:     state,
		sink:      sink,
		interval:  DefaultInterval,
		pageLimit: DefaultPageLimit,
		window:    DefaultCatchupWindow,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.sched.now = e.now
	return e
}

// Start loads the persisted cursor and re-arms a persisted wake. A wake that
// is already due fires immediately.
func (e *Engine) Start(ctx context.Context) error {
	cursor, err := e.state.GetCursor(ctx)
	if err != nil {
		return err
	}
	wake, hasWake, err := e.state.GetNextWake(ctx)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.cursor = cursor
	if hasWake && !cursor.IsZero() {
		e.scheduleLocked(wake)
	}
	e.logger.Info("poller started", "cursor", cursor, "next_wake", wake, "wake_restored", hasWake && !cursor.IsZero())
	return nil
}

// Stop cancels the pending wake and waits for an in-flight cycle to finish.
// A cycle that completes after Stop still persists its cursor and next wake
// but arms no timer. Later triggers fail with ErrStopped.
func (e *Engine) Stop() {
	e.mu.Lock()
	e.stopped = true
	e.sched.Cancel()
	e.mu.Unlock()
	e.wg.Wait()
}

// Trigger starts a cycle if the engine is idle: it bootstraps when there is
// no cursor and otherwise polls from the existing one. It is a no-op,
// returning false, while a cycle is running or a wake is pending. The cycle
// runs to completion even if ctx is cancelled.
func (e *Engine) Trigger(ctx context.Context) (bool, error) {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return false, ErrStopped
	}
	if e.running {
		e.mu.Unlock()
		return false, nil
	}
	if _, pending := e.sched.Pending(); pending {
		e.mu.Unlock()
		return false, nil
	}
	e.running = true
	gen := e.generation
	cursor := e.cursor
	e.wg.Add(1)
	e.mu.Unlock()
	defer e.wg.Done()

	ctx = context.WithoutCancel(ctx)

	if cursor.IsZero() {
		c, err := e.bootstrap(ctx, gen)
		if errors.Is(err, errSuperseded) {
			return true, nil
		}
		if err != nil {
			return true, err
		}
		cursor = c
	}
	return true, e.cycle(ctx, gen, cursor)
}

// Reset cancels any pending wake, clears persisted and in-memory state, and
// marks the engine idle. A cycle in flight when Reset runs will discard its
// result.
func (e *Engine) Reset(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.generation++
	e.sched.Cancel()
	e.cursor = model.Cursor{}
	e.running = false
	e.lastErr = ""

	if err := e.state.Clear(ctx); err != nil {
		e.logger.Error("reset failed to clear state", "err", err)
		return err
	}
	e.logger.Info("poller reset", "generation", e.generation)
	return nil
}

// Status returns a snapshot of the engine state.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := Status{
		Cursor:          e.cursor,
		Running:         e.running,
		Generation:      e.generation,
		LastError:       e.lastErr,
		Cycles:          e.cycles,
		Failures:        e.failures,
		EventsDelivered: e.delivered,
	}
	if at, ok := e.sched.Pending(); ok {
		s.NextWake = &at
	}
	if !e.lastCycle.IsZero() {
		t := e.lastCycle
		s.LastCycleAt = &t
	}
	return s
}

// bootstrap establishes the first cursor WINDOW ledgers behind the tip.
func (e *Engine) bootstrap(ctx context.Context, gen uint64) (model.Cursor, error) {
	latest, err := e.source.LatestSequence(ctx)
	if err != nil {
		return model.Cursor{}, e.fail(gen, fmt.Errorf("bootstrap: latest sequence: %w", err))
	}

	target := latest - e.window + 1
	if target < 1 {
		target = 1
	}

	res, err := e.source.PollEvents(ctx, model.SequenceCursor(target), 1)
	if err != nil {
		return model.Cursor{}, e.fail(gen, fmt.Errorf("bootstrap: poll events: %w", err))
	}

	cursor := model.SequenceCursor(target)
	if len(res.Events) > 0 && res.Events[0].PagingToken != "" {
		cursor = model.TokenCursor(res.Events[0].PagingToken)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if gen != e.generation {
		return model.Cursor{}, errSuperseded
	}
	if err := e.state.SetCursor(ctx, cursor); err != nil {
		return model.Cursor{}, e.failLocked(err)
	}
	e.cursor = cursor
	e.logger.Info("bootstrapped", "latest", latest, "target", target, "cursor", cursor)
	return cursor, nil
}

// cycle polls once from cursor, delivers the batch, and commits the new
// cursor and next wake.
func (e *Engine) cycle(ctx context.Context, gen uint64, cursor model.Cursor) error {
	t0 := e.now()

	res, err := e.source.PollEvents(ctx, cursor, e.pageLimit)
	if err != nil {
		return e.fail(gen, fmt.Errorf("poll events: %w", err))
	}

	next := reanchor(cursor, res.LatestLedger)
	if n := len(res.Events); n > 0 {
		if err := e.sink.Deliver(ctx, res.Events); err != nil {
			return e.fail(gen, &DeliveryError{Count: n, Err: err})
		}
		next = advance(cursor, res.Events[n-1])
	}
	wake := NextAlignedWake(t0, e.interval)

	e.mu.Lock()
	defer e.mu.Unlock()
	if gen != e.generation {
		e.logger.Info("cycle superseded by reset, discarding", "events", len(res.Events), "cursor", next)
		return nil
	}
	if err := e.state.SetCursor(ctx, next); err != nil {
		return e.failLocked(err)
	}
	e.cursor = next
	if err := e.state.SetNextWake(ctx, wake); err != nil {
		return e.failLocked(err)
	}

	e.running = false
	e.lastCycle = t0
	e.lastErr = ""
	e.cycles++
	e.delivered += uint64(len(res.Events))
	e.scheduleLocked(wake)

	e.logger.Debug("cycle complete", "events", len(res.Events), "cursor", next, "next_wake", wake)
	e.notify(nil)
	return nil
}

// scheduleLocked arms the next wake for the current generation.
func (e *Engine) scheduleLocked(at time.Time) {
	if e.stopped {
		return
	}
	gen := e.generation
	e.sched.ScheduleAt(at, func() { e.wake(gen) })
}

// wake runs a scheduled cycle unless a reset happened since it was armed.
func (e *Engine) wake(gen uint64) {
	e.mu.Lock()
	if e.stopped || gen != e.generation || e.running || e.cursor.IsZero() {
		e.mu.Unlock()
		return
	}
	e.running = true
	cursor := e.cursor
	e.wg.Add(1)
	e.mu.Unlock()
	defer e.wg.Done()

	_ = e.cycle(context.Background(), gen, cursor)
}

// fail records a failed cycle. running is cleared only if no reset happened
// in the meantime.
func (e *Engine) fail(gen uint64, err error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if gen != e.generation {
		e.logger.Info("cycle failed after reset", "err", err)
		return err
	}
	return e.failLocked(err)
}

func (e *Engine) failLocked(err error) error {
	e.running = false
	e.lastErr = err.Error()
	e.failures++

	attrs := []any{"cursor", e.cursor, "err", err}
	var (
		te *ledger.TransportError
		ue *ledger.UpstreamError
		se *store.StorageError
		de *DeliveryError
	)
	switch {
	case errors.As(err, &ue):
		attrs = append(attrs, "kind", "upstream", "code", ue.Code)
	case errors.As(err, &te):
		attrs = append(attrs, "kind", "transport", "status", te.StatusCode)
	case errors.As(err, &se):
		attrs = append(attrs, "kind", "storage", "op", se.Op)
	case errors.As(err, &de):
		attrs = append(attrs, "kind", "delivery", "events", de.Count)
	}
	e.logger.Error("poll cycle failed", attrs...)
	e.notify(err)
	return err
}

func (e *Engine) notify(err error) {
	for _, fn := range e.observers {
		fn(err)
	}
}

// advance returns the cursor after the last event of a non-empty batch.
func advance(prev model.Cursor, last model.Event) model.Cursor {
	if last.PagingToken != "" {
		return model.TokenCursor(last.PagingToken)
	}
	return reanchor(prev, last.Ledger.Int64())
}

// reanchor returns the numeric cursor for an empty poll. A numeric cursor is
// never moved backwards, and a missing latest sequence keeps prev.
func reanchor(prev model.Cursor, latest int64) model.Cursor {
	if latest <= 0 {
		return prev
	}
	if seq, ok := prev.Sequence(); ok && seq > latest {
		return prev
	}
	return model.SequenceCursor(latest)
}
