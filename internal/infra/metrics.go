package infra

import (
	"sync/atomic"
	"time"
)

// Metrics provides lightweight observability without external dependencies.
// Uses atomic operations for thread-safety.
type Metrics struct {
	// Counters
	instructions   atomic.Uint64
	rejected       atomic.Uint64
	fills          atomic.Uint64
	outs           atomic.Uint64
	eventsConsumed atomic.Uint64

	// Latency tracking
	latencySumNs atomic.Int64
	latencyCount atomic.Uint64

	// Gauges
	activeConnections atomic.Int32
	halted            atomic.Int32 // 1 = sequencer halted
}

// GlobalMetrics is the singleton metrics instance.
var GlobalMetrics = &Metrics{}

// RecordInstruction records one processed instruction with its latency.
func (m *Metrics) RecordInstruction(latency time.Duration, err error) {
	m.instructions.Add(1)
	if err != nil {
		m.rejected.Add(1)
	}
	m.latencySumNs.Add(latency.Nanoseconds())
	m.latencyCount.Add(1)
}

// RecordMatch records events produced by a placement.
func (m *Metrics) RecordMatch(fills, outs int) {
	m.fills.Add(uint64(fills))
	m.outs.Add(uint64(outs))
}

// RecordCrank records events consumed by a crank.
func (m *Metrics) RecordCrank(consumed int) {
	m.eventsConsumed.Add(uint64(consumed))
}

// IncrementConnections increments active connections by 1.
func (m *Metrics) IncrementConnections() {
	m.activeConnections.Add(1)
}

// DecrementConnections decrements active connections by 1.
func (m *Metrics) DecrementConnections() {
	m.activeConnections.Add(-1)
}

// SetHalted marks the sequencer as stopped on a fatal error.
func (m *Metrics) SetHalted(halted bool) {
	if halted {
		m.halted.Store(1)
	} else {
		m.halted.Store(0)
	}
}

// MetricsSnapshot is a point-in-time view of all metrics.
type MetricsSnapshot struct {
	Instructions      uint64    `json:"instructions"`
	Rejected          uint64    `json:"rejected"`
	Fills             uint64    `json:"fills"`
	Outs              uint64    `json:"outs"`
	EventsConsumed    uint64    `json:"events_consumed"`
	AvgLatencyNs      int64     `json:"avg_latency_ns"`
	ActiveConnections int32     `json:"active_connections"`
	Halted            bool      `json:"halted"`
	Timestamp         time.Time `json:"timestamp"`
}

// Snapshot returns current metrics as a snapshot.
func (m *Metrics) Snapshot() MetricsSnapshot {
	var avgLatency int64
	count := m.latencyCount.Load()
	if count > 0 {
		avgLatency = m.latencySumNs.Load() / int64(count)
	}

	return MetricsSnapshot{
		Instructions:      m.instructions.Load(),
		Rejected:          m.rejected.Load(),
		Fills:             m.fills.Load(),
		Outs:              m.outs.Load(),
		EventsConsumed:    m.eventsConsumed.Load(),
		AvgLatencyNs:      avgLatency,
		ActiveConnections: m.activeConnections.Load(),
		Halted:            m.halted.Load() == 1,
		Timestamp:         time.Now(),
	}
}

// Reset clears all metrics (for testing).
func (m *Metrics) Reset() {
	m.instructions.Store(0)
	m.rejected.Store(0)
	m.fills.Store(0)
	m.outs.Store(0)
	m.eventsConsumed.Store(0)
	m.latencySumNs.Store(0)
	m.latencyCount.Store(0)
	m.activeConnections.Store(0)
	m.halted.Store(0)
}
