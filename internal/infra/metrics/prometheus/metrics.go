// Package prometheus implements the ingestion metrics sink on a private
// Prometheus registry, exposed for pull-based scraping through Handler.
package prometheus

import (
	"net/http"

	"github.com/gabapcia/mempoolwatch/internal/txingest"

	prometheus "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the counters, gauges, and histograms produced by the
// ingestion pipeline. It is injected into the service instead of being
// registered globally, so tests and alternative wirings stay possible.
type Metrics struct {
	registry *prometheus.Registry

	transactionsIngested *prometheus.CounterVec
	endpointHealth       *prometheus.GaugeVec
	connectionLatency    *prometheus.HistogramVec
}

// Compile-time assertion that Metrics implements the metrics port.
var _ txingest.Metrics = (*Metrics)(nil)

// New creates the metric vectors on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		transactionsIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mempoolwatch_transactions_ingested_total",
			Help: "Transactions processed from the pending feed, by chain and outcome.",
		}, []string{"chain", "outcome"}),
		endpointHealth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mempoolwatch_endpoint_health_score",
			Help: "Current EMA health score per endpoint, in [0, 1].",
		}, []string{"chain", "endpoint"}),
		connectionLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mempoolwatch_connection_latency_seconds",
			Help:    "Time spent connecting and subscribing to an endpoint.",
			Buckets: prometheus.DefBuckets,
		}, []string{"chain", "endpoint"}),
	}

	registry.MustRegister(m.transactionsIngested, m.endpointHealth, m.connectionLatency)
	return m
}

// TransactionIngested counts one processed feed record.
func (m *Metrics) TransactionIngested(chain, outcome string) {
	m.transactionsIngested.WithLabelValues(chain, outcome).Inc()
}

// EndpointHealth reports the current health score of an endpoint.
func (m *Metrics) EndpointHealth(chain, endpoint string, score float64) {
	m.endpointHealth.WithLabelValues(chain, endpoint).Set(score)
}

// ConnectionLatency records one connect-and-subscribe attempt.
func (m *Metrics) ConnectionLatency(chain, endpoint string, seconds float64) {
	m.connectionLatency.WithLabelValues(chain, endpoint).Observe(seconds)
}

// Handler returns the scrape endpoint for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
