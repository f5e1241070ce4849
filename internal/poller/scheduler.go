package poller

import (
	"sync"
	"time"
)

// Scheduler holds at most one pending wake-up. Scheduling replaces any
// pending wake.
type Scheduler struct {
	// now measures the delay until a wake; nil means time.Now.
	now func() time.Time

	mu    sync.Mutex
	timer *time.Timer
	at    time.Time
	seq   uint64
}

// ScheduleAt arranges for fn to run in its own goroutine at instant. An
// instant in the past fires immediately. The wake stops being pending just
// before fn is called.
func (s *Scheduler) ScheduleAt(instant time.Time, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopLocked()
	s.seq++
	seq := s.seq
	s.at = instant
	now := time.Now
	if s.now != nil {
		now = s.now
	}
	s.timer = time.AfterFunc(instant.Sub(now()), func() {
		s.mu.Lock()
		if s.seq != seq || s.timer == nil {
			s.mu.Unlock()
			return
		}
		s.timer = nil
		s.at = time.Time{}
		s.mu.Unlock()
		fn()
	})
}

// Cancel drops the pending wake, if any, and reports whether one was pending.
func (s *Scheduler) Cancel() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	pending := s.timer != nil
	s.stopLocked()
	return pending
}

// Pending returns the instant of the pending wake.
func (s *Scheduler) Pending() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.at, s.timer != nil
}

func (s *Scheduler) stopLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.at = time.Time{}
	s.seq++
}
