package poller

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Triggerer is satisfied by *Engine.
type Triggerer interface {
	Trigger(ctx context.Context) (bool, error)
}

// Heartbeat invokes Trigger on a fixed interval so the engine is restarted
// after a failed cycle or a lost wake.
type Heartbeat struct {
	target   Triggerer
	interval time.Duration
	logger   *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewHeartbeat creates a heartbeat that triggers target every interval.
func NewHeartbeat(target Triggerer, interval time.Duration, logger *slog.Logger) *Heartbeat {
	if logger == nil {
		logger = slog.Default()
	}
	return &Heartbeat{
		target:   target,
		interval: interval,
		logger:   logger,
	}
}

// Start triggers once immediately, then on each tick.
func (h *Heartbeat) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.run(ctx)
	}()
}

// Stop cancels the heartbeat and waits for the current trigger (if any) to
// return.
func (h *Heartbeat) Stop() {
	if h.cancel != nil {
		h.cancel()
	}
	h.wg.Wait()
}

func (h *Heartbeat) run(ctx context.Context) {
	h.beat(ctx)

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.beat(ctx)
		}
	}
}

func (h *Heartbeat) beat(ctx context.Context) {
	started, err := h.target.Trigger(ctx)
	if err != nil {
		h.logger.Warn("heartbeat trigger failed", "err", err)
		return
	}
	if started {
		h.logger.Debug("heartbeat started a cycle")
	}
}
