// Package metric provides Prometheus metrics for the kpmstream pipeline:
// a registry wrapper, the core pipeline metrics, and an optional HTTP server
// exposing them for long-running (follow/exec) deployments.
package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Entry drop reasons used as the "reason" label on EntriesDropped
const (
	DropIncomplete = "incomplete" // entry failed the completeness gate at flush
	DropSuperseded = "superseded" // entry replaced by a new identifying field mid-accumulation
	DropOrphaned   = "orphaned"   // field observed with no open window or entry
)

// Metrics contains the pipeline-level metrics
type Metrics struct {
	LinesConsumed  prometheus.Counter
	LinesIgnored   prometheus.Counter
	FieldsMatched  prometheus.Counter
	ParseErrors    *prometheus.CounterVec
	WindowsOpened  prometheus.Counter
	RecordsEmitted prometheus.Counter
	EntriesDropped *prometheus.CounterVec
	EmitDuration   prometheus.Histogram
}

// NewMetrics creates a new Metrics instance with all pipeline metrics
func NewMetrics() *Metrics {
	return &Metrics{
		LinesConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kpmstream",
			Subsystem: "lines",
			Name:      "consumed_total",
			Help:      "Total input lines consumed",
		}),

		LinesIgnored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kpmstream",
			Subsystem: "lines",
			Name:      "ignored_total",
			Help:      "Lines matching no schema pattern",
		}),

		FieldsMatched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kpmstream",
			Subsystem: "lines",
			Name:      "fields_matched_total",
			Help:      "Lines matched to an ordinary schema field",
		}),

		ParseErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "kpmstream",
				Subsystem: "lines",
				Name:      "parse_errors_total",
				Help:      "Matched lines whose value failed numeric validation",
			},
			[]string{"field"},
		),

		WindowsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kpmstream",
			Subsystem: "assembler",
			Name:      "windows_opened_total",
			Help:      "Record windows opened by start markers",
		}),

		RecordsEmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kpmstream",
			Subsystem: "assembler",
			Name:      "records_emitted_total",
			Help:      "Completed records handed to the sink",
		}),

		EntriesDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "kpmstream",
				Subsystem: "assembler",
				Name:      "entries_dropped_total",
				Help:      "Pending entries dropped without emission",
			},
			[]string{"reason"},
		),

		EmitDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "kpmstream",
			Subsystem: "sink",
			Name:      "emit_duration_seconds",
			Help:      "Time to write one record to the sink",
			Buckets:   []float64{0.00001, 0.0001, 0.001, 0.01, 0.1, 1},
		}),
	}
}

// RecordLineConsumed increments the consumed line counter
func (m *Metrics) RecordLineConsumed() {
	m.LinesConsumed.Inc()
}

// RecordLineIgnored increments the ignored line counter
func (m *Metrics) RecordLineIgnored() {
	m.LinesIgnored.Inc()
}

// RecordFieldMatched increments the matched field counter
func (m *Metrics) RecordFieldMatched() {
	m.FieldsMatched.Inc()
}

// RecordParseError increments the parse error counter for a field
func (m *Metrics) RecordParseError(field string) {
	m.ParseErrors.WithLabelValues(field).Inc()
}

// RecordWindowOpened increments the window counter
func (m *Metrics) RecordWindowOpened() {
	m.WindowsOpened.Inc()
}

// RecordEmitted increments the emitted record counter
func (m *Metrics) RecordEmitted() {
	m.RecordsEmitted.Inc()
}

// RecordDropped increments the dropped entry counter for a reason
func (m *Metrics) RecordDropped(reason string) {
	m.EntriesDropped.WithLabelValues(reason).Inc()
}

// ObserveEmitDuration records the time to write one record
func (m *Metrics) ObserveEmitDuration(d time.Duration) {
	m.EmitDuration.Observe(d.Seconds())
}
