package infra

import (
	"sync/atomic"
	"time"
)

// Metrics provides lightweight observability for polling and serving.
// Uses atomic operations for thread-safety. One instance is owned by the process bootstrap.
type Metrics struct {
	// Counters
	fetchesTotal     atomic.Uint64
	fetchErrors      atomic.Uint64
	retriesScheduled atomic.Uint64
	givenUpTotal     atomic.Uint64
	staleResults     atomic.Uint64
	cacheHits        atomic.Uint64

	// Latency tracking
	latencySumNs atomic.Int64
	latencyCount atomic.Uint64

	// Gauges
	activeSubscriptions atomic.Int32
	activeConnections   atomic.Int32
}

// NewMetrics returns a zeroed Metrics.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// RecordFetch records a completed provider fetch with latency.
func (m *Metrics) RecordFetch(latencyNs int64) {
	m.fetchesTotal.Add(1)
	m.latencySumNs.Add(latencyNs)
	m.latencyCount.Add(1)
}

// RecordError records a failed fetch attempt.
func (m *Metrics) RecordError() {
	m.fetchErrors.Add(1)
}

// RecordRetry records a scheduled backoff retry.
func (m *Metrics) RecordRetry() {
	m.retriesScheduled.Add(1)
}

// RecordGivenUp records a subscription reaching its terminal state.
func (m *Metrics) RecordGivenUp() {
	m.givenUpTotal.Add(1)
}

// RecordStaleResult records a fetch result dropped because a newer request superseded it.
func (m *Metrics) RecordStaleResult() {
	m.staleResults.Add(1)
}

// RecordCacheHit records a provider response served from the revalidation cache.
func (m *Metrics) RecordCacheHit() {
	m.cacheHits.Add(1)
}

// IncrementSubscriptions increments running subscriptions by 1.
func (m *Metrics) IncrementSubscriptions() {
	m.activeSubscriptions.Add(1)
}

// DecrementSubscriptions decrements running subscriptions by 1.
func (m *Metrics) DecrementSubscriptions() {
	m.activeSubscriptions.Add(-1)
}

// IncrementConnections increments active websocket connections by 1.
func (m *Metrics) IncrementConnections() {
	m.activeConnections.Add(1)
}

// DecrementConnections decrements active websocket connections by 1.
func (m *Metrics) DecrementConnections() {
	m.activeConnections.Add(-1)
}

// MetricsSnapshot is a point-in-time view of all metrics.
type MetricsSnapshot struct {
	FetchesTotal        uint64    `json:"fetches_total"`
	FetchErrors         uint64    `json:"fetch_errors"`
	RetriesScheduled    uint64    `json:"retries_scheduled"`
	GivenUpTotal        uint64    `json:"given_up_total"`
	StaleResults        uint64    `json:"stale_results"`
	CacheHits           uint64    `json:"cache_hits"`
	AvgLatencyNs        int64     `json:"avg_latency_ns"`
	ActiveSubscriptions int32     `json:"active_subscriptions"`
	ActiveConnections   int32     `json:"active_connections"`
	Timestamp           time.Time `json:"timestamp"`
}

// Snapshot returns current metrics as a snapshot.
func (m *Metrics) Snapshot() MetricsSnapshot {
	var avgLatency int64
	count := m.latencyCount.Load()
	if count > 0 {
		avgLatency = m.latencySumNs.Load() / int64(count)
	}

	return MetricsSnapshot{
		FetchesTotal:        m.fetchesTotal.Load(),
		FetchErrors:         m.fetchErrors.Load(),
		RetriesScheduled:    m.retriesScheduled.Load(),
		GivenUpTotal:        m.givenUpTotal.Load(),
		StaleResults:        m.staleResults.Load(),
		CacheHits:           m.cacheHits.Load(),
		AvgLatencyNs:        avgLatency,
		ActiveSubscriptions: m.activeSubscriptions.Load(),
		ActiveConnections:   m.activeConnections.Load(),
		Timestamp:           time.Now(),
	}
}

// Reset clears all metrics (for testing).
func (m *Metrics) Reset() {
	m.fetchesTotal.Store(0)
	m.fetchErrors.Store(0)
	m.retriesScheduled.Store(0)
	m.givenUpTotal.Store(0)
	m.staleResults.Store(0)
	m.cacheHits.Store(0)
	m.latencySumNs.Store(0)
	m.latencyCount.Store(0)
	m.activeSubscriptions.Store(0)
	m.activeConnections.Store(0)
}
