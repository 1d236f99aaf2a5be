package arbor

import (
	"sync"
	"time"
)

// Metrics tracks low-overhead runtime statistics for a Loop, attached
// via WithMetrics and read through Loop.Metrics: handler latency,
// ready-queue depth, and ticks per second — the three series the tick
// loop can cheaply produce.
type Metrics struct {
	mu      sync.Mutex
	latency *pSquareMultiQuantile
	timers  uint64
	ticks   uint64
	maxQueueDepth int

	tpsWindowStart time.Time
	tpsWindowTicks uint64
	tps            float64
}

func newMetrics() *Metrics {
	return &Metrics{
		latency: newPSquareMultiQuantile(0.50, 0.90, 0.95, 0.99),
	}
}

// RecordHandlerLatency is called by the loop after running a ready
// queue Handler, with the time spent inside it.
func (m *Metrics) RecordHandlerLatency(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latency.Update(float64(d))
}

// RecordQueueDepth is called by the loop once per tick with the ready
// queue's length just before draining.
func (m *Metrics) RecordQueueDepth(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n > m.maxQueueDepth {
		m.maxQueueDepth = n
	}
}

func (m *Metrics) recordTimer() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timers++
}

// recordTick is called once per reactor iteration to maintain the
// ticks-per-second estimate over a rolling one-second window.
func (m *Metrics) recordTick() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ticks++

	now := time.Now()
	if m.tpsWindowStart.IsZero() {
		m.tpsWindowStart = now
	}
	m.tpsWindowTicks++
	if elapsed := now.Sub(m.tpsWindowStart); elapsed >= time.Second {
		m.tps = float64(m.tpsWindowTicks) / elapsed.Seconds()
		m.tpsWindowStart = now
		m.tpsWindowTicks = 0
	}
}

// Snapshot is a point-in-time copy of a Metrics' accumulated stats,
// safe to read without holding any lock.
type Snapshot struct {
	P50, P90, P95, P99 time.Duration
	Mean               time.Duration
	TimersFired        uint64
	Ticks              uint64
	MaxQueueDepth      int
	TicksPerSecond     float64
}

// Snapshot returns a copy of the current metrics.
func (m *Metrics) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		P50:            time.Duration(m.latency.Quantile(0)),
		P90:            time.Duration(m.latency.Quantile(1)),
		P95:            time.Duration(m.latency.Quantile(2)),
		P99:            time.Duration(m.latency.Quantile(3)),
		Mean:           time.Duration(m.latency.Mean()),
		TimersFired:    m.timers,
		Ticks:          m.ticks,
		MaxQueueDepth:  m.maxQueueDepth,
		TicksPerSecond: m.tps,
	}
}
