package infra

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "crypto_dashboard"

// MetricsCollector exposes a Metrics instance to Prometheus.
// Values are read from the atomic counters at scrape time.
type MetricsCollector struct {
	metrics *Metrics

	fetchesTotal        *prometheus.Desc
	fetchErrors         *prometheus.Desc
	retriesScheduled    *prometheus.Desc
	givenUpTotal        *prometheus.Desc
	staleResults        *prometheus.Desc
	cacheHits           *prometheus.Desc
	avgLatencySeconds   *prometheus.Desc
	activeSubscriptions *prometheus.Desc
	activeConnections   *prometheus.Desc
}

// NewMetricsCollector creates a collector bound to m.
func NewMetricsCollector(m *Metrics) *MetricsCollector {
	desc := func(subsystem, name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(metricsNamespace, subsystem, name), help, nil, nil)
	}

	return &MetricsCollector{
		metrics:             m,
		fetchesTotal:        desc("provider", "fetches_total", "Total number of completed provider fetches."),
		fetchErrors:         desc("provider", "fetch_errors_total", "Total number of failed fetch attempts."),
		retriesScheduled:    desc("poller", "retries_total", "Total number of scheduled backoff retries."),
		givenUpTotal:        desc("poller", "given_up_total", "Total number of subscriptions that exhausted their retry budget."),
		staleResults:        desc("poller", "stale_results_total", "Total number of fetch results dropped as superseded."),
		cacheHits:           desc("provider", "cache_hits_total", "Total number of provider responses served from cache."),
		avgLatencySeconds:   desc("provider", "fetch_latency_avg_seconds", "Average provider fetch latency."),
		activeSubscriptions: desc("poller", "active_subscriptions", "Number of running polling subscriptions."),
		activeConnections:   desc("ws", "active_connections", "Number of connected websocket clients."),
	}
}

// Describe implements prometheus.Collector.
func (c *MetricsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.fetchesTotal
	ch <- c.fetchErrors
	ch <- c.retriesScheduled
	ch <- c.givenUpTotal
	ch <- c.staleResults
	ch <- c.cacheHits
	ch <- c.avgLatencySeconds
	ch <- c.activeSubscriptions
	ch <- c.activeConnections
}

// Collect implements prometheus.Collector.
func (c *MetricsCollector) Collect(ch chan<- prometheus.Metric) {
	snap := c.metrics.Snapshot()

	ch <- prometheus.MustNewConstMetric(c.fetchesTotal, prometheus.CounterValue, float64(snap.FetchesTotal))
	ch <- prometheus.MustNewConstMetric(c.fetchErrors, prometheus.CounterValue, float64(snap.FetchErrors))
	ch <- prometheus.MustNewConstMetric(c.retriesScheduled, prometheus.CounterValue, float64(snap.RetriesScheduled))
	ch <- prometheus.MustNewConstMetric(c.givenUpTotal, prometheus.CounterValue, float64(snap.GivenUpTotal))
	ch <- prometheus.MustNewConstMetric(c.staleResults, prometheus.CounterValue, float64(snap.StaleResults))
	ch <- prometheus.MustNewConstMetric(c.cacheHits, prometheus.CounterValue, float64(snap.CacheHits))
	ch <- prometheus.MustNewConstMetric(c.avgLatencySeconds, prometheus.GaugeValue, float64(snap.AvgLatencyNs)/1e9)
	ch <- prometheus.MustNewConstMetric(c.activeSubscriptions, prometheus.GaugeValue, float64(snap.ActiveSubscriptions))
	ch <- prometheus.MustNewConstMetric(c.activeConnections, prometheus.GaugeValue, float64(snap.ActiveConnections))
}
