package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains the pipeline's platform metrics.
type Metrics struct {
	// Intake loop
	FilesCopied   prometheus.Counter
	CopyFailures  prometheus.Counter

	// Aggregation passes
	PassesTotal     prometheus.Counter
	PassDuration    prometheus.Histogram
	ExtractFailures *prometheus.CounterVec
	DropsTotal      *prometheus.CounterVec
	ActiveIncidents prometheus.Gauge
	TrackedCalls    prometheus.Gauge
	FilesDeleted    prometheus.Counter

	// Retention sweeper
	RetentionExpirations prometheus.Counter

	// Web surface
	RequestsTotal    *prometheus.CounterVec
	WebsocketClients prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all pipeline metrics
func NewMetrics() *Metrics {
	return &Metrics{
		FilesCopied: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "incidentwatch",
			Subsystem: "intake",
			Name:      "files_copied_total",
			Help:      "Total number of export files copied from the source directory",
		}),
		CopyFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "incidentwatch",
			Subsystem: "intake",
			Name:      "copy_failures_total",
			Help:      "Total number of failed export file copies",
		}),

		PassesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "incidentwatch",
			Subsystem: "aggregate",
			Name:      "passes_total",
			Help:      "Total number of aggregation passes run",
		}),
		PassDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "incidentwatch",
			Subsystem: "aggregate",
			Name:      "pass_duration_seconds",
			Help:      "Duration of aggregation passes",
			Buckets:   prometheus.DefBuckets,
		}),
		ExtractFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "incidentwatch",
				Subsystem: "aggregate",
				Name:      "extract_failures_total",
				Help:      "Total number of export files that failed extraction",
			},
			[]string{"kind"},
		),
		DropsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "incidentwatch",
				Subsystem: "aggregate",
				Name:      "drops_total",
				Help:      "Total number of snapshots dropped by the classification policy",
			},
			[]string{"reason"},
		),
		ActiveIncidents: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "incidentwatch",
			Subsystem: "aggregate",
			Name:      "active_incidents",
			Help:      "Number of incident groups produced by the latest pass",
		}),
		TrackedCalls: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "incidentwatch",
			Subsystem: "aggregate",
			Name:      "tracked_calls",
			Help:      "Number of call numbers tracked in the display registry",
		}),
		FilesDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "incidentwatch",
			Subsystem: "aggregate",
			Name:      "files_deleted_total",
			Help:      "Total number of staged export files deleted",
		}),

		RetentionExpirations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "incidentwatch",
			Subsystem: "retention",
			Name:      "expirations_total",
			Help:      "Total number of calls expired by the retention sweeper",
		}),

		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "incidentwatch",
				Subsystem: "gateway",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests served",
			},
			[]string{"path", "status"},
		),
		WebsocketClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "incidentwatch",
			Subsystem: "gateway",
			Name:      "websocket_clients",
			Help:      "Number of connected WebSocket clients",
		}),
	}
}

// collectors returns every metric for registration.
func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.FilesCopied,
		m.CopyFailures,
		m.PassesTotal,
		m.PassDuration,
		m.ExtractFailures,
		m.DropsTotal,
		m.ActiveIncidents,
		m.TrackedCalls,
		m.FilesDeleted,
		m.RetentionExpirations,
		m.RequestsTotal,
		m.WebsocketClients,
	}
}
