// Package metrics exposes generation, anomaly and ingestion counters in
// Prometheus format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vanshika/upiscope/internal/domain"
)

const namespace = "upiscope"

// Metrics owns a private registry so several instances can coexist in tests.
type Metrics struct {
	registry *prometheus.Registry

	transactions   *prometheus.CounterVec
	flagged        *prometheus.CounterVec
	injected       *prometheus.CounterVec
	caught         *prometheus.CounterVec
	score          prometheus.Histogram
	settleLatency  prometheus.Histogram
	appendDuration *prometheus.HistogramVec
	appendFailures *prometheus.CounterVec
	httpRequests   *prometheus.CounterVec
}

// New registers every collector plus the Go and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		transactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transactions_total",
			Help:      "Finalized transactions by terminal state.",
		}, []string{"state"}),
		flagged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "anomaly_reasons_total",
			Help:      "Fired anomaly rules.",
		}, []string{"rule"}),
		injected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "injected_anomalies_total",
			Help:      "Anomalies injected by the generator, by pattern.",
		}, []string{"pattern"}),
		caught: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "injected_anomalies_flagged_total",
			Help:      "Injected anomalies the scorer flagged, by pattern.",
		}, []string{"pattern"}),
		score: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "anomaly_score",
			Help:      "Distribution of anomaly scores.",
			Buckets:   prometheus.LinearBuckets(0.1, 0.1, 10),
		}),
		settleLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "settlement_latency_seconds",
			Help:      "Simulated initiation-to-settlement latency.",
			Buckets:   []float64{0.5, 1, 2, 3, 4, 5, 6, 8},
		}),
		appendDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sink_append_duration_seconds",
			Help:      "Time spent appending to a storage sink.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"sink"}),
		appendFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sink_append_failures_total",
			Help:      "Failed sink appends.",
		}, []string{"sink"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.transactions, m.flagged, m.injected, m.caught,
		m.score, m.settleLatency, m.appendDuration, m.appendFailures, m.httpRequests,
	)
	return m
}

// Observe records one finalized transaction. It satisfies dataset.Observer.
func (m *Metrics) Observe(tx domain.Transaction) {
	m.transactions.WithLabelValues(string(tx.State)).Inc()
	m.score.Observe(tx.AnomalyScore)
	for _, r := range tx.AnomalyReasons {
		m.flagged.WithLabelValues(r).Inc()
	}
	if tx.Injected() {
		m.injected.WithLabelValues(tx.InjectedPattern).Inc()
		if tx.AnomalyFlag {
			m.caught.WithLabelValues(tx.InjectedPattern).Inc()
		}
	}
	if tx.State == domain.StateSettled && tx.Latency > 0 {
		m.settleLatency.Observe(tx.Latency.Seconds())
	}
}

// ObserveAppend records a sink write.
func (m *Metrics) ObserveAppend(sink string, took time.Duration, err error) {
	m.appendDuration.WithLabelValues(sink).Observe(took.Seconds())
	if err != nil {
		m.appendFailures.WithLabelValues(sink).Inc()
	}
}

// ObserveRequest records one served HTTP request.
func (m *Metrics) ObserveRequest(route, code string) {
	m.httpRequests.WithLabelValues(route, code).Inc()
}

// Handler serves the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
