package infra

import (
	"sync/atomic"
	"time"
)

// Metrics provides lightweight observability without external dependencies.
// Uses atomic operations for thread-safety.
type Metrics struct {
	// Counters
	ordersPlaced    atomic.Uint64
	ordersFilled    atomic.Uint64
	ordersRejected  atomic.Uint64
	fillsApplied    atomic.Uint64
	reconcilePasses atomic.Uint64
	resyncs         atomic.Uint64
	wsReconnects    atomic.Uint64
	errorsTotal     atomic.Uint64

	// Request latency tracking
	latencySumNs atomic.Int64
	latencyCount atomic.Uint64

	// Gauges
	openOrders atomic.Int32
}

// GlobalMetrics is the singleton metrics instance.
var GlobalMetrics = &Metrics{}

// RecordRequest records one REST request with its latency.
func (m *Metrics) RecordRequest(latency time.Duration) {
	m.latencySumNs.Add(latency.Nanoseconds())
	m.latencyCount.Add(1)
}

// RecordError records an error occurrence.
func (m *Metrics) RecordError() {
	m.errorsTotal.Add(1)
}

// RecordOrderPlaced records an acked order submission.
func (m *Metrics) RecordOrderPlaced() {
	m.ordersPlaced.Add(1)
}

// RecordOrderFilled records a fully filled order.
func (m *Metrics) RecordOrderFilled() {
	m.ordersFilled.Add(1)
}

// RecordOrderRejected records a rejected order.
func (m *Metrics) RecordOrderRejected() {
	m.ordersRejected.Add(1)
}

// RecordFill records a fill event applied to the ledger.
func (m *Metrics) RecordFill() {
	m.fillsApplied.Add(1)
}

// RecordReconcilePass records one completed reconciliation pass.
func (m *Metrics) RecordReconcilePass() {
	m.reconcilePasses.Add(1)
}

// RecordResync records one book resnapshot.
func (m *Metrics) RecordResync() {
	m.resyncs.Add(1)
}

// RecordWSReconnect records a streaming feed reconnect.
func (m *Metrics) RecordWSReconnect() {
	m.wsReconnects.Add(1)
}

// SetOpenOrders sets the current open order count.
func (m *Metrics) SetOpenOrders(count int32) {
	m.openOrders.Store(count)
}

// MetricsSnapshot is a point-in-time view of all metrics.
type MetricsSnapshot struct {
	OrdersPlaced    uint64
	OrdersFilled    uint64
	OrdersRejected  uint64
	FillsApplied    uint64
	ReconcilePasses uint64
	Resyncs         uint64
	WSReconnects    uint64
	ErrorsTotal     uint64
	AvgLatencyNs    int64
	OpenOrders      int32
	Timestamp       time.Time
}

// Snapshot returns current metrics as a snapshot.
func (m *Metrics) Snapshot() MetricsSnapshot {
	var avgLatency int64
	count := m.latencyCount.Load()
	if count > 0 {
		avgLatency = m.latencySumNs.Load() / int64(count)
	}

	return MetricsSnapshot{
		OrdersPlaced:    m.ordersPlaced.Load(),
		OrdersFilled:    m.ordersFilled.Load(),
		OrdersRejected:  m.ordersRejected.Load(),
		FillsApplied:    m.fillsApplied.Load(),
		ReconcilePasses: m.reconcilePasses.Load(),
		Resyncs:         m.resyncs.Load(),
		WSReconnects:    m.wsReconnects.Load(),
		ErrorsTotal:     m.errorsTotal.Load(),
		AvgLatencyNs:    avgLatency,
		OpenOrders:      m.openOrders.Load(),
		Timestamp:       time.Now(),
	}
}

// Reset clears all metrics (for testing).
func (m *Metrics) Reset() {
	m.ordersPlaced.Store(0)
	m.ordersFilled.Store(0)
	m.ordersRejected.Store(0)
	m.fillsApplied.Store(0)
	m.reconcilePasses.Store(0)
	m.resyncs.Store(0)
	m.wsReconnects.Store(0)
	m.errorsTotal.Store(0)
	m.latencySumNs.Store(0)
	m.latencyCount.Store(0)
	m.openOrders.Store(0)
}
