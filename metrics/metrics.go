// Package metrics exposes the counters of a transcription run as Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/lherman-cs/bag2rawlog/record"
)

const namespace = "bag2rawlog"

// Skip reasons.
const (
	ReasonDecode  = "decode"
	ReasonHandler = "handler"
)

// State values of the run state gauge.
const (
	StateIdle = iota
	StateStreaming
	StateDone
	StateFailed
)

// Metrics holds the collectors of one run on their own registry.
type Metrics struct {
	registry *prometheus.Registry

	MessagesRead       *prometheus.CounterVec
	MessagesSkipped    *prometheus.CounterVec
	HandlersFailed     *prometheus.CounterVec
	RecordsWritten     *prometheus.CounterVec
	UnhandledTopics    prometheus.Gauge
	TransformsRejected prometheus.Gauge
	Fusions            prometheus.Gauge
	FusionsDropped     prometheus.Gauge
	State              prometheus.Gauge
	Duration           prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		MessagesRead: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "messages",
				Name:      "read_total",
				Help:      "Messages read from the bag, by topic",
			},
			[]string{"topic"},
		),

		MessagesSkipped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "messages",
				Name:      "skipped_total",
				Help:      "Messages that failed to decode or convert, by topic and reason",
			},
			[]string{"topic", "reason"},
		),

		HandlersFailed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "handlers",
				Name:      "failed_total",
				Help:      "Messages where some handlers failed while others produced their records, by topic",
			},
			[]string{"topic"},
		),

		RecordsWritten: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "records",
				Name:      "written_total",
				Help:      "Records written to the rawlog, by kind",
			},
			[]string{"kind"},
		),

		UnhandledTopics: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "unhandled_topics",
			Help:      "Topics seen without a configured handler",
		}),

		TransformsRejected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "transforms",
			Name:      "rejected",
			Help:      "Transforms that were invalid or redefined a static transform",
		}),

		Fusions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "rendezvous",
			Name:      "fusions",
			Help:      "Completed rendezvous groups that produced records",
		}),

		FusionsDropped: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "rendezvous",
			Name:      "dropped",
			Help:      "Completed rendezvous groups dropped because the pose was not resolved",
		}),

		State: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "state",
			Help:      "Run state (0=idle, 1=streaming, 2=done, 3=failed)",
		}),

		Duration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "duration_seconds",
			Help:      "Wall time of the run",
		}),
	}

	m.registry.MustRegister(
		m.MessagesRead,
		m.MessagesSkipped,
		m.HandlersFailed,
		m.RecordsWritten,
		m.UnhandledTopics,
		m.TransformsRejected,
		m.Fusions,
		m.FusionsDropped,
		m.State,
		m.Duration,
	)
	return m
}

// Registry returns the registry holding the run's collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) MessageRead(topic string) {
	m.MessagesRead.WithLabelValues(topic).Inc()
}

func (m *Metrics) MessageSkipped(topic, reason string) {
	m.MessagesSkipped.WithLabelValues(topic, reason).Inc()
}

func (m *Metrics) HandlerFailed(topic string) {
	m.HandlersFailed.WithLabelValues(topic).Inc()
}

func (m *Metrics) RecordWritten(kind record.Kind) {
	m.RecordsWritten.WithLabelValues(kind.String()).Inc()
}

// WriteTextfile writes the current values in the node exporter textfile format.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}
