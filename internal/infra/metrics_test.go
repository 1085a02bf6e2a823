package infra

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_RecordFetch(t *testing.T) {
	m := &Metrics{}

	m.RecordFetch(1000)
	m.RecordFetch(2000)
	m.RecordFetch(3000)

	snap := m.Snapshot()

	if snap.FetchesTotal != 3 {
		t.Errorf("Expected 3 fetches, got %d", snap.FetchesTotal)
	}

	// Average latency: (1000 + 2000 + 3000) / 3 = 2000
	if snap.AvgLatencyNs != 2000 {
		t.Errorf("Expected avg latency 2000, got %d", snap.AvgLatencyNs)
	}
}

func TestMetrics_Gauges(t *testing.T) {
	m := &Metrics{}

	m.IncrementConnections()
	m.IncrementConnections()
	m.IncrementSubscriptions()

	snap := m.Snapshot()
	if snap.ActiveConnections != 2 {
		t.Errorf("Expected 2 connections, got %d", snap.ActiveConnections)
	}
	if snap.ActiveSubscriptions != 1 {
		t.Errorf("Expected 1 subscription, got %d", snap.ActiveSubscriptions)
	}

	m.DecrementConnections()
	m.DecrementSubscriptions()
	snap = m.Snapshot()
	if snap.ActiveConnections != 1 {
		t.Errorf("Expected 1 connection, got %d", snap.ActiveConnections)
	}
	if snap.ActiveSubscriptions != 0 {
		t.Errorf("Expected 0 subscriptions, got %d", snap.ActiveSubscriptions)
	}
}

func TestMetrics_Reset(t *testing.T) {
	m := &Metrics{}

	m.RecordFetch(1000)
	m.RecordError()
	m.RecordRetry()
	m.RecordGivenUp()
	m.IncrementConnections()

	m.Reset()
	snap := m.Snapshot()

	if snap.FetchesTotal != 0 || snap.FetchErrors != 0 || snap.RetriesScheduled != 0 || snap.GivenUpTotal != 0 {
		t.Errorf("Expected zero counters after reset, got %+v", snap)
	}
	if snap.ActiveConnections != 0 {
		t.Error("Expected 0 connections after reset")
	}
}

func TestMetricsCollector(t *testing.T) {
	m := &Metrics{}
	m.RecordRetry()
	m.RecordRetry()
	m.RecordGivenUp()

	reg := prometheus.NewRegistry()
	reg.MustRegister(NewMetricsCollector(m))

	expected := `
# HELP crypto_dashboard_poller_retries_total Total number of scheduled backoff retries.
# TYPE crypto_dashboard_poller_retries_total counter
crypto_dashboard_poller_retries_total 2
# HELP crypto_dashboard_poller_given_up_total Total number of subscriptions that exhausted their retry budget.
# TYPE crypto_dashboard_poller_given_up_total counter
crypto_dashboard_poller_given_up_total 1
`
	err := testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"crypto_dashboard_poller_retries_total", "crypto_dashboard_poller_given_up_total")
	if err != nil {
		t.Error(err)
	}
}
