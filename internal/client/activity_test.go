package client

import (
	"sync"
	"testing"
	"time"

	"github.com/MeshVSC/SparkV2/internal/presence"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Unix(1700000000, 0).UTC()}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestActivityMonitorDemotesThroughIdleToAway(t *testing.T) {
	clock := newManualClock()
	var changes []presence.Status
	monitor := NewActivityMonitor(ActivityConfig{
		IdleAfter: time.Minute,
		AwayAfter: 5 * time.Minute,
		Clock:     clock.Now,
		OnChange:  func(s presence.Status) { changes = append(changes, s) },
	})

	monitor.Tick()
	if monitor.Status() != presence.StatusOnline {
		t.Fatalf("expected online before threshold, got %s", monitor.Status())
	}

	clock.Advance(61 * time.Second)
	monitor.Tick()
	if monitor.Status() != presence.StatusIdle {
		t.Fatalf("expected idle past the idle threshold, got %s", monitor.Status())
	}

	clock.Advance(5 * time.Minute)
	monitor.Tick()
	if monitor.Status() != presence.StatusAway {
		t.Fatalf("expected away past the away threshold, got %s", monitor.Status())
	}

	if len(changes) != 2 || changes[0] != presence.StatusIdle || changes[1] != presence.StatusAway {
		t.Fatalf("unexpected change sequence: %v", changes)
	}
}

func TestActivityMonitorInputPromotesFromAnyState(t *testing.T) {
	clock := newManualClock()
	monitor := NewActivityMonitor(ActivityConfig{
		IdleAfter: time.Minute,
		AwayAfter: 5 * time.Minute,
		Clock:     clock.Now,
	})

	clock.Advance(10 * time.Minute)
	monitor.Tick()
	if monitor.Status() != presence.StatusAway {
		t.Fatalf("expected away, got %s", monitor.Status())
	}

	monitor.Input()
	if monitor.Status() != presence.StatusOnline {
		t.Fatalf("input must promote to online, got %s", monitor.Status())
	}

	// A fresh input resets both timers.
	clock.Advance(30 * time.Second)
	monitor.Tick()
	if monitor.Status() != presence.StatusOnline {
		t.Fatalf("expected online within idle threshold, got %s", monitor.Status())
	}
}

func TestActivityMonitorSkipsIdleWhenAlreadyAway(t *testing.T) {
	clock := newManualClock()
	monitor := NewActivityMonitor(ActivityConfig{
		IdleAfter: time.Minute,
		AwayAfter: 5 * time.Minute,
		Clock:     clock.Now,
	})

	clock.Advance(6 * time.Minute)
	monitor.Tick()
	if monitor.Status() != presence.StatusAway {
		t.Fatalf("expected to jump straight to away, got %s", monitor.Status())
	}

	// Without input the status stays away on later ticks.
	clock.Advance(time.Minute)
	monitor.Tick()
	if monitor.Status() != presence.StatusAway {
		t.Fatalf("away regressed without input: %s", monitor.Status())
	}
}
