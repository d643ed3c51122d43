// Package heartbeat derives connection liveness from record arrival times.
//
// The gateway sends a heartbeat record whenever a connection has been idle
// for the negotiated interval, so a silence longer than interval × grace
// means the connection is dead even if the socket has not reported it.
// Nothing is sent upstream; staleness is computed on demand.
package heartbeat

import (
	"sync"
	"time"
)

// Defaults.
const (
	// DefaultInterval matches the gateway's heartbeat interval when none is requested.
	DefaultInterval = 30 * time.Second
	// DefaultGrace is the multiple of the interval tolerated before a connection is stale.
	DefaultGrace = 2.0
)

// Monitor tracks the time of the last received record.
type Monitor struct {
	interval time.Duration
	grace    float64

	mu         sync.Mutex
	last       time.Time
	records    int64
	heartbeats int64
}

// NewMonitor creates a monitor. Non-positive values select the defaults.
func NewMonitor(interval time.Duration, grace float64) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if grace <= 0 {
		grace = DefaultGrace
	}
	return &Monitor{interval: interval, grace: grace}
}

// Interval returns the expected heartbeat interval.
func (m *Monitor) Interval() time.Duration {
	return m.interval
}

// Window returns the silence tolerated before the connection is stale.
func (m *Monitor) Window() time.Duration {
	return time.Duration(float64(m.interval) * m.grace)
}

// Reset restarts tracking, typically when a connection is (re)established.
func (m *Monitor) Reset(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.last = now
}

// Observe records a decoded record at t.
func (m *Monitor) Observe(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.records++
	m.advance(t)
}

// Touch records bytes arriving at t without counting a record.
func (m *Monitor) Touch(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.advance(t)
}

func (m *Monitor) advance(t time.Time) {
	if t.After(m.last) {
		m.last = t
	}
}

// ObserveHeartbeat records a heartbeat record at t.
func (m *Monitor) ObserveHeartbeat(t time.Time) {
	m.mu.Lock()
	m.heartbeats++
	m.mu.Unlock()

	m.Observe(t)
}

// LastActivity returns the time of the most recent activity.
func (m *Monitor) LastActivity() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.last
}

// Silence returns how long the connection has been quiet at now.
func (m *Monitor) Silence(now time.Time) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.last.IsZero() {
		return 0
	}
	return now.Sub(m.last)
}

// Stale reports whether the silence at now exceeds the window.
// A monitor that was never reset is not stale.
func (m *Monitor) Stale(now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.last.IsZero() {
		return false
	}
	return now.Sub(m.last) > time.Duration(float64(m.interval)*m.grace)
}

// Deadline returns the time at which the connection becomes stale.
func (m *Monitor) Deadline() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.last.Add(time.Duration(float64(m.interval) * m.grace))
}

// Counts returns the number of records and heartbeats observed.
func (m *Monitor) Counts() (records, heartbeats int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.records, m.heartbeats
}
