// Package metrics holds the Prometheus collectors shared by ingestion and aggregation.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "beacon"

// Beacon outcomes recorded by ObserveReceived.
const (
	ResultAccepted  = "accepted"
	ResultInvalid   = "invalid"
	ResultMalformed = "malformed"
	ResultTooLarge  = "too_large"
)

type Metrics struct {
	eventsReceived  *prometheus.CounterVec
	eventsPersisted prometheus.Counter
	eventsFailed    prometheus.Counter
	publishFailed   prometheus.Counter
	bufferDepth     prometheus.Gauge
	flushDuration   prometheus.Histogram
	cycleRuns       *prometheus.CounterVec
	cycleDuration   *prometheus.HistogramVec
	bucketsWritten  prometheus.Counter
	rowsPurged      *prometheus.CounterVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		eventsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_received_total",
			Help:      "Beacons received by outcome",
		}, []string{"result"}),
		eventsPersisted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_persisted_total",
			Help:      "Events written to raw storage",
		}),
		eventsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_failed_total",
			Help:      "Events dropped because the storage write failed",
		}),
		publishFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_publish_failed_total",
			Help:      "Persisted events that could not be mirrored to Kafka",
		}),
		bufferDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "buffer_depth",
			Help:      "Events waiting in the ingestion buffer",
		}),
		flushDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "flush_duration_seconds",
			Help:      "Time spent persisting one swept batch",
			Buckets:   prometheus.DefBuckets,
		}),
		cycleRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycle_runs_total",
			Help:      "Aggregation and retention cycles by job and status",
		}, []string{"job", "status"}),
		cycleDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Duration of aggregation and retention cycles",
			Buckets:   prometheus.DefBuckets,
		}, []string{"job"}),
		bucketsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hourly_buckets_written_total",
			Help:      "Hourly aggregate rows written",
		}),
		rowsPurged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_purged_total",
			Help:      "Rows deleted by retention, by table",
		}, []string{"table"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.eventsReceived, m.eventsPersisted, m.eventsFailed, m.publishFailed,
			m.bufferDepth, m.flushDuration, m.cycleRuns, m.cycleDuration,
			m.bucketsWritten, m.rowsPurged,
		)
	}
	return m
}

func (m *Metrics) ObserveReceived(result string) {
	if m == nil {
		return
	}
	m.eventsReceived.WithLabelValues(result).Inc()
}

func (m *Metrics) EventPersisted() {
	if m == nil {
		return
	}
	m.eventsPersisted.Inc()
}

func (m *Metrics) EventFailed() {
	if m == nil {
		return
	}
	m.eventsFailed.Inc()
}

func (m *Metrics) PublishFailed() {
	if m == nil {
		return
	}
	m.publishFailed.Inc()
}

func (m *Metrics) SetBufferDepth(n int) {
	if m == nil {
		return
	}
	m.bufferDepth.Set(float64(n))
}

func (m *Metrics) ObserveFlush(d time.Duration) {
	if m == nil {
		return
	}
	m.flushDuration.Observe(d.Seconds())
}

func (m *Metrics) ObserveCycle(job string, d time.Duration, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.cycleRuns.WithLabelValues(job, status).Inc()
	m.cycleDuration.WithLabelValues(job).Observe(d.Seconds())
}

func (m *Metrics) BucketsWritten(n int) {
	if m == nil {
		return
	}
	m.bucketsWritten.Add(float64(n))
}

func (m *Metrics) RowsPurged(table string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.rowsPurged.WithLabelValues(table).Add(float64(n))
}
