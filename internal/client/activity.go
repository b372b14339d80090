package client

import (
	"context"
	"sync"
	"time"

	"github.com/MeshVSC/SparkV2/internal/presence"
)

const (
	defaultIdleAfter = 60 * time.Second
	defaultAwayAfter = 5 * time.Minute
)

// ActivityMonitor watches local input activity and demotes presence status
// over time: online drops to idle past the idle threshold, idle drops to
// away past the away threshold. Any input event promotes straight back to
// online. Status changes are reported through the callback, typically wired
// to Manager.Send with a StatusUpdateEvent.
type ActivityMonitor struct {
	idleAfter time.Duration
	awayAfter time.Duration
	clock     func() time.Time

	mu        sync.Mutex
	lastInput time.Time
	status    presence.Status

	onChange func(presence.Status)
}

// ActivityConfig configures an ActivityMonitor. Zero thresholds fall back to
// 60s idle and 5m away.
type ActivityConfig struct {
	IdleAfter time.Duration
	AwayAfter time.Duration
	Clock     func() time.Time
	OnChange  func(presence.Status)
}

// NewActivityMonitor constructs a monitor starting in the online state.
func NewActivityMonitor(cfg ActivityConfig) *ActivityMonitor {
	if cfg.IdleAfter <= 0 {
		cfg.IdleAfter = defaultIdleAfter
	}
	if cfg.AwayAfter <= cfg.IdleAfter {
		cfg.AwayAfter = defaultAwayAfter
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &ActivityMonitor{
		idleAfter: cfg.IdleAfter,
		awayAfter: cfg.AwayAfter,
		clock:     clock,
		lastInput: clock(),
		status:    presence.StatusOnline,
		onChange:  cfg.OnChange,
	}
}

// Input records a tracked input event, promoting to online from any state.
func (m *ActivityMonitor) Input() {
	m.mu.Lock()
	m.lastInput = m.clock()
	changed := m.status != presence.StatusOnline
	m.status = presence.StatusOnline
	onChange := m.onChange
	m.mu.Unlock()
	if changed && onChange != nil {
		onChange(presence.StatusOnline)
	}
}

// Status reports the current derived status.
func (m *ActivityMonitor) Status() presence.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Tick re-evaluates the thresholds against the clock. Run calls it
// periodically; tests call it directly.
func (m *ActivityMonitor) Tick() {
	m.mu.Lock()
	elapsed := m.clock().Sub(m.lastInput)
	next := m.status
	switch {
	case elapsed >= m.awayAfter:
		next = presence.StatusAway
	case elapsed >= m.idleAfter:
		// Away never demotes back to idle without input.
		if m.status == presence.StatusOnline {
			next = presence.StatusIdle
		}
	}
	changed := next != m.status
	m.status = next
	onChange := m.onChange
	m.mu.Unlock()
	if changed && onChange != nil {
		onChange(next)
	}
}

// Run ticks the monitor until the context is cancelled.
func (m *ActivityMonitor) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Tick()
		}
	}
}
