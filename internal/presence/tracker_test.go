package presence

import (
	"testing"
	"time"
)

func TestRecord_BasicTracking(t *testing.T) {
	tr := New()

	tr.Record(Activity{ID: "sub-1", Transport: "websocket", Remote: "10.0.0.1:5555", Kind: KindConnect})

	roster := tr.Roster(0)
	if len(roster) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(roster))
	}

	e := roster[0]
	if e.ID != "sub-1" {
		t.Errorf("expected id sub-1, got %s", e.ID)
	}
	if e.Transport != "websocket" {
		t.Errorf("expected transport websocket, got %s", e.Transport)
	}
	if e.Remote != "10.0.0.1:5555" {
		t.Errorf("expected remote 10.0.0.1:5555, got %s", e.Remote)
	}
	if e.LastEvent != KindConnect {
		t.Errorf("expected last_event connect, got %s", e.LastEvent)
	}
	if e.Probes != 0 {
		t.Errorf("expected 0 probes, got %d", e.Probes)
	}
}

func TestRecord_CountsProbes(t *testing.T) {
	tr := New()

	tr.Record(Activity{ID: "sub-2", Transport: "websocket", Kind: KindConnect})
	tr.Record(Activity{ID: "sub-2", Kind: KindProbe})
	tr.Record(Activity{ID: "sub-2", Kind: KindProbe})

	roster := tr.Roster(0)
	if len(roster) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(roster))
	}
	e := roster[0]
	if e.Probes != 2 {
		t.Errorf("expected 2 probes, got %d", e.Probes)
	}
	if e.Transport != "websocket" {
		t.Errorf("transport should survive updates without one, got %q", e.Transport)
	}
	if e.LastEvent != KindProbe {
		t.Errorf("expected last_event probe, got %s", e.LastEvent)
	}
}

func TestRecord_IgnoresEmptyID(t *testing.T) {
	tr := New()

	tr.Record(Activity{Transport: "sse", Kind: KindConnect})

	if n := tr.Len(); n != 0 {
		t.Fatalf("expected 0 entries for empty id, got %d", n)
	}
}

func TestRemove(t *testing.T) {
	tr := New()

	tr.Record(Activity{ID: "sub-a", Kind: KindConnect})
	tr.Record(Activity{ID: "sub-b", Kind: KindConnect})
	tr.Remove("sub-a")
	tr.Remove("sub-missing")

	roster := tr.Roster(0)
	if len(roster) != 1 || roster[0].ID != "sub-b" {
		t.Fatalf("expected only sub-b, got %+v", roster)
	}
}

func TestRoster_StaleThreshold(t *testing.T) {
	tr := New()

	tr.Record(Activity{ID: "old", Kind: KindConnect})
	tr.mu.Lock()
	tr.entries["old"].lastSeen = time.Now().Add(-10 * time.Minute)
	tr.mu.Unlock()

	tr.Record(Activity{ID: "fresh", Kind: KindConnect})

	if roster := tr.Roster(0); len(roster) != 2 {
		t.Fatalf("expected 2 entries without threshold, got %d", len(roster))
	}

	roster := tr.Roster(5 * time.Minute)
	if len(roster) != 1 {
		t.Fatalf("expected 1 entry with 5m threshold, got %d", len(roster))
	}
	if roster[0].ID != "fresh" {
		t.Errorf("expected fresh, got %s", roster[0].ID)
	}
}

func TestRoster_SortedByMostRecent(t *testing.T) {
	tr := New()

	tr.Record(Activity{ID: "first", Kind: KindConnect})
	tr.Record(Activity{ID: "second", Kind: KindConnect})
	tr.Record(Activity{ID: "third", Kind: KindConnect})

	tr.mu.Lock()
	now := time.Now()
	tr.entries["first"].lastSeen = now.Add(-3 * time.Second)
	tr.entries["second"].lastSeen = now.Add(-2 * time.Second)
	tr.entries["third"].lastSeen = now.Add(-1 * time.Second)
	tr.mu.Unlock()

	roster := tr.Roster(0)
	if len(roster) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(roster))
	}
	if roster[0].ID != "third" || roster[2].ID != "first" {
		t.Errorf("unexpected order: %s, %s, %s", roster[0].ID, roster[1].ID, roster[2].ID)
	}
}

func TestSweep_MarksIdleSubscribersDead(t *testing.T) {
	tr := New()

	tr.Record(Activity{ID: "idle", Kind: KindConnect})
	tr.mu.Lock()
	tr.entries["idle"].lastSeen = time.Now().Add(-20 * time.Minute)
	tr.mu.Unlock()

	var dead []string
	cfg := &ReaperConfig{
		DeadThreshold: 15 * time.Minute,
		EvictAfter:    30 * time.Minute,
		OnDead: func(id string) {
			dead = append(dead, id)
		},
	}

	tr.sweep(cfg)

	if len(dead) != 1 || dead[0] != "idle" {
		t.Errorf("expected idle to be reaped, got %v", dead)
	}
	roster := tr.Roster(0)
	if len(roster) != 1 || !roster[0].Reaped {
		t.Errorf("expected idle to have reaped=true, got %+v", roster)
	}

	// A second sweep must not report it again.
	tr.sweep(cfg)
	if len(dead) != 1 {
		t.Errorf("expected OnDead once, got %v", dead)
	}
}

func TestSweep_ResurrectedSubscriberNotReaped(t *testing.T) {
	tr := New()

	tr.Record(Activity{ID: "zombie", Kind: KindConnect})
	tr.mu.Lock()
	tr.entries["zombie"].lastSeen = time.Now().Add(-20 * time.Minute)
	tr.mu.Unlock()

	cfg := &ReaperConfig{DeadThreshold: 15 * time.Minute, EvictAfter: 30 * time.Minute}
	tr.sweep(cfg)

	tr.Record(Activity{ID: "zombie", Kind: KindProbe})

	roster := tr.Roster(0)
	if len(roster) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(roster))
	}
	if roster[0].Reaped {
		t.Error("expected zombie to be resurrected (reaped=false)")
	}
	if roster[0].Probes != 1 {
		t.Errorf("expected 1 probe, got %d", roster[0].Probes)
	}
}

func TestSweep_EvictsLongReapedEntries(t *testing.T) {
	tr := New()

	tr.Record(Activity{ID: "gone", Kind: KindConnect})
	tr.mu.Lock()
	state := tr.entries["gone"]
	state.lastSeen = time.Now().Add(-time.Hour)
	state.reaped = true
	state.reapedAt = time.Now().Add(-40 * time.Minute)
	tr.mu.Unlock()

	tr.sweep(&ReaperConfig{DeadThreshold: 15 * time.Minute, EvictAfter: 30 * time.Minute})

	if n := tr.Len(); n != 0 {
		t.Errorf("expected reaped entry to be evicted, %d remain", n)
	}
}

func TestStartReaper_StopsCleanly(t *testing.T) {
	tr := New()

	tr.StartReaper(&ReaperConfig{
		SweepInterval: 50 * time.Millisecond,
	})

	time.Sleep(150 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		tr.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop() did not return within 2 seconds")
	}

	// Stop is safe to call twice.
	tr.Stop()
}
