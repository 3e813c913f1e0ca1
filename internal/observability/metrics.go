package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the
// ingest engine and alert dispatcher.
type Metrics struct {
	ReadingsIngested *prometheus.CounterVec // labels: risk_level
	IngestRejected   *prometheus.CounterVec // labels: reason={unknown_device,storage}
	IngestDuration   prometheus.Histogram
	RapidRises       prometheus.Counter

	IncidentsOpened   *prometheus.CounterVec // labels: risk_level
	IncidentsResolved prometheus.Counter

	AlertsDispatched prometheus.Counter
	AlertsDropped    prometheus.Counter
	AlertFailures    prometheus.Counter
	AlertQueueDepth  prometheus.Gauge
}

// NewMetrics creates and registers all service metrics with the default
// Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.ReadingsIngested,
		m.IngestRejected,
		m.IngestDuration,
		m.RapidRises,
		m.IncidentsOpened,
		m.IncidentsResolved,
		m.AlertsDispatched,
		m.AlertsDropped,
		m.AlertFailures,
		m.AlertQueueDepth,
	)
	return m
}

// NewMetricsForTesting creates Metrics without registering them, avoiding
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		ReadingsIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flood_monitor",
			Name:      "readings_ingested_total",
			Help:      "Readings accepted and stored, by final risk level.",
		}, []string{"risk_level"}),
		IngestRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flood_monitor",
			Name:      "ingest_rejected_total",
			Help:      "Readings rejected before storage, by reason.",
		}, []string{"reason"}),
		IngestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "flood_monitor",
			Name:      "ingest_duration_seconds",
			Help:      "Duration of a complete classify-store-reconcile cycle.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
		RapidRises: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "flood_monitor",
			Name:      "rapid_rises_detected_total",
			Help:      "Readings flagged as a rapid rise within the trailing window.",
		}),
		IncidentsOpened: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flood_monitor",
			Name:      "incidents_opened_total",
			Help:      "Incidents opened, by risk level.",
		}, []string{"risk_level"}),
		IncidentsResolved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "flood_monitor",
			Name:      "incidents_resolved_total",
			Help:      "Incidents resolved by a safe reading.",
		}),
		AlertsDispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "flood_monitor",
			Name:      "alerts_dispatched_total",
			Help:      "Alert notifications delivered to the sink.",
		}),
		AlertsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "flood_monitor",
			Name:      "alerts_dropped_total",
			Help:      "Alert notifications dropped because the queue was full.",
		}),
		AlertFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "flood_monitor",
			Name:      "alert_failures_total",
			Help:      "Alert notifications that failed or timed out; never retried.",
		}),
		AlertQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "flood_monitor",
			Name:      "alert_queue_depth",
			Help:      "Notifications currently buffered for dispatch.",
		}),
	}
}
