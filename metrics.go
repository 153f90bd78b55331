package haltaskqueue

import (
	"sync/atomic"
	"time"
)

// Metrics tracks operational statistics for a Queue: how many batches
// were submitted and retired, how they fared, how many wait-idle calls
// timed out, and the average submit-to-retire latency. Plain atomic
// counters, retargeted from per-operation byte/latency counters onto
// per-batch submission counters.
type Metrics struct {
	BatchesSubmitted atomic.Uint64
	BatchesRetired   atomic.Uint64
	BatchesFailed    atomic.Uint64

	SignalsAdvanced atomic.Uint64
	SignalsFailed   atomic.Uint64

	WaitIdleCalls     atomic.Uint64
	WaitIdleTimeouts  atomic.Uint64
	TotalRetireNs     atomic.Uint64
	RetireSampleCount atomic.Uint64

	StartTime atomic.Int64
}

// NewMetrics creates a fresh, zeroed Metrics instance.
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// RecordSubmit records that a batch was accepted by submit.
func (m *Metrics) RecordSubmit() {
	m.BatchesSubmitted.Add(1)
}

// RecordRetire records a batch's retirement, its success, and the
// wall-clock duration from submit to retire.
func (m *Metrics) RecordRetire(success bool, latencyNs uint64) {
	m.BatchesRetired.Add(1)
	if !success {
		m.BatchesFailed.Add(1)
	}
	m.TotalRetireNs.Add(latencyNs)
	m.RetireSampleCount.Add(1)
}

// RecordSignal records one semaphore signal or failure.
func (m *Metrics) RecordSignal(success bool) {
	if success {
		m.SignalsAdvanced.Add(1)
	} else {
		m.SignalsFailed.Add(1)
	}
}

// RecordWaitIdle records one wait-idle call and whether it timed out.
func (m *Metrics) RecordWaitIdle(timedOut bool) {
	m.WaitIdleCalls.Add(1)
	if timedOut {
		m.WaitIdleTimeouts.Add(1)
	}
}

// MetricsSnapshot is a point-in-time copy of Metrics, safe to read
// without racing further updates.
type MetricsSnapshot struct {
	BatchesSubmitted uint64
	BatchesRetired   uint64
	BatchesFailed    uint64
	SignalsAdvanced  uint64
	SignalsFailed    uint64
	WaitIdleCalls    uint64
	WaitIdleTimeouts uint64
	AvgRetireLatency time.Duration
	UptimeNs         uint64
}

// Snapshot takes a point-in-time copy of m.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		BatchesSubmitted: m.BatchesSubmitted.Load(),
		BatchesRetired:   m.BatchesRetired.Load(),
		BatchesFailed:    m.BatchesFailed.Load(),
		SignalsAdvanced:  m.SignalsAdvanced.Load(),
		SignalsFailed:    m.SignalsFailed.Load(),
		WaitIdleCalls:    m.WaitIdleCalls.Load(),
		WaitIdleTimeouts: m.WaitIdleTimeouts.Load(),
		UptimeNs:         uint64(time.Now().UnixNano() - m.StartTime.Load()),
	}
	if n := m.RetireSampleCount.Load(); n > 0 {
		snap.AvgRetireLatency = time.Duration(m.TotalRetireNs.Load() / n)
	}
	return snap
}

// Observer allows pluggable metrics collection, decoupling Queue from
// any one Metrics implementation.
type Observer interface {
	ObserveSubmit()
	ObserveRetire(success bool, latency time.Duration)
	ObserveSignal(success bool)
	ObserveWaitIdle(timedOut bool)
}

// NoOpObserver discards every observation.
type NoOpObserver struct{}

func (NoOpObserver) ObserveSubmit()                                    {}
func (NoOpObserver) ObserveRetire(success bool, latency time.Duration) {}
func (NoOpObserver) ObserveSignal(success bool)                        {}
func (NoOpObserver) ObserveWaitIdle(timedOut bool)                     {}

// MetricsObserver implements Observer by recording into a Metrics.
type MetricsObserver struct {
	metrics *Metrics
}

// NewMetricsObserver creates an observer backed by m.
func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

func (o *MetricsObserver) ObserveSubmit() {
	o.metrics.RecordSubmit()
}

func (o *MetricsObserver) ObserveRetire(success bool, latency time.Duration) {
	o.metrics.RecordRetire(success, uint64(latency.Nanoseconds()))
}

func (o *MetricsObserver) ObserveSignal(success bool) {
	o.metrics.RecordSignal(success)
}

func (o *MetricsObserver) ObserveWaitIdle(timedOut bool) {
	o.metrics.RecordWaitIdle(timedOut)
}

var (
	_ Observer = (*MetricsObserver)(nil)
	_ Observer = NoOpObserver{}
)
