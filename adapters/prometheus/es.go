// Package prometheus provides the Prometheus implementation of es.Metrics.
package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/codewandler/evsrc/core/es"
	"github.com/codewandler/evsrc/core/metrics"
)

// esMetrics implements es.Metrics using Prometheus.
type esMetrics struct {
	// Event log
	storeLoadDuration   *prometheus.HistogramVec
	storeAppendDuration *prometheus.HistogramVec
	eventsAppended      *prometheus.CounterVec
	versionConflicts    *prometheus.CounterVec

	// Repository
	repoLoadDuration   *prometheus.HistogramVec
	repoCommitDuration *prometheus.HistogramVec

	// Memo
	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec

	// Snapshots
	snapshotLoadDuration *prometheus.HistogramVec
	snapshotSaveDuration *prometheus.HistogramVec

	// Publishing
	publishDuration *prometheus.HistogramVec
	eventsPublished *prometheus.CounterVec
	eventsReplayed  prometheus.Counter
}

// NewESMetrics creates a Prometheus implementation of es.Metrics and
// registers its collectors with reg.
func NewESMetrics(reg prometheus.Registerer) es.Metrics {
	m := &esMetrics{
		storeLoadDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "evsrc_store_load_duration_seconds",
			Help:    "Event log read latency in seconds",
			Buckets: defaultBuckets,
		}, []string{"op"}),

		storeAppendDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "evsrc_store_append_duration_seconds",
			Help:    "Event log append latency in seconds",
			Buckets: defaultBuckets,
		}, []string{"aggregate_type"}),

		eventsAppended: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "evsrc_events_appended_total",
			Help: "Total number of events appended",
		}, []string{"aggregate_type"}),

		versionConflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "evsrc_version_conflicts_total",
			Help: "Total number of rejected appends due to version conflicts",
		}, []string{"aggregate_type"}),

		repoLoadDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "evsrc_repo_load_duration_seconds",
			Help:    "Repository load latency in seconds",
			Buckets: defaultBuckets,
		}, []string{"aggregate_type"}),

		repoCommitDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "evsrc_repo_commit_duration_seconds",
			Help:    "Repository commit latency in seconds",
			Buckets: defaultBuckets,
		}, []string{"aggregate_type"}),

		cacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "evsrc_memo_hits_total",
			Help: "Total number of memo hits",
		}, []string{"aggregate_type"}),

		cacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "evsrc_memo_misses_total",
			Help: "Total number of memo misses",
		}, []string{"aggregate_type"}),

		snapshotLoadDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "evsrc_snapshot_load_duration_seconds",
			Help:    "Snapshot load latency in seconds",
			Buckets: defaultBuckets,
		}, []string{"aggregate_type"}),

		snapshotSaveDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "evsrc_snapshot_save_duration_seconds",
			Help:    "Snapshot save latency in seconds",
			Buckets: defaultBuckets,
		}, []string{"aggregate_type"}),

		publishDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "evsrc_publish_duration_seconds",
			Help:    "Handler latency per published event in seconds",
			Buckets: defaultBuckets,
		}, []string{"event_type"}),

		eventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "evsrc_events_published_total",
			Help: "Total number of events delivered to handlers",
		}, []string{"event_type", "success"}),

		eventsReplayed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "evsrc_events_replayed_total",
			Help: "Total number of events delivered by replays",
		}),
	}

	reg.MustRegister(
		m.storeLoadDuration,
		m.storeAppendDuration,
		m.eventsAppended,
		m.versionConflicts,
		m.repoLoadDuration,
		m.repoCommitDuration,
		m.cacheHits,
		m.cacheMisses,
		m.snapshotLoadDuration,
		m.snapshotSaveDuration,
		m.publishDuration,
		m.eventsPublished,
		m.eventsReplayed,
	)

	return m
}

func (m *esMetrics) StoreLoadDuration(op string) metrics.Timer {
	return newTimer(m.storeLoadDuration.WithLabelValues(op))
}

func (m *esMetrics) StoreAppendDuration(aggType string) metrics.Timer {
	return newTimer(m.storeAppendDuration.WithLabelValues(aggType))
}

func (m *esMetrics) EventsAppended(aggType string, count int) {
	m.eventsAppended.WithLabelValues(aggType).Add(float64(count))
}

func (m *esMetrics) VersionConflict(aggType string) {
	m.versionConflicts.WithLabelValues(aggType).Inc()
}

func (m *esMetrics) RepoLoadDuration(aggType string) metrics.Timer {
	return newTimer(m.repoLoadDuration.WithLabelValues(aggType))
}

func (m *esMetrics) RepoCommitDuration(aggType string) metrics.Timer {
	return newTimer(m.repoCommitDuration.WithLabelValues(aggType))
}

func (m *esMetrics) CacheHit(aggType string) {
	m.cacheHits.WithLabelValues(aggType).Inc()
}

func (m *esMetrics) CacheMiss(aggType string) {
	m.cacheMisses.WithLabelValues(aggType).Inc()
}

func (m *esMetrics) SnapshotLoadDuration(aggType string) metrics.Timer {
	return newTimer(m.snapshotLoadDuration.WithLabelValues(aggType))
}

func (m *esMetrics) SnapshotSaveDuration(aggType string) metrics.Timer {
	return newTimer(m.snapshotSaveDuration.WithLabelValues(aggType))
}

func boolToStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func (m *esMetrics) PublishDuration(eventType string) metrics.Timer {
	return newTimer(m.publishDuration.WithLabelValues(eventType))
}

func (m *esMetrics) EventPublished(eventType string, success bool) {
	m.eventsPublished.WithLabelValues(eventType, boolToStr(success)).Inc()
}

func (m *esMetrics) EventsReplayed(count int) {
	m.eventsReplayed.Add(float64(count))
}

var _ es.Metrics = (*esMetrics)(nil)

func newTimer(h prometheus.Observer) metrics.Timer { return metrics.NewTimer(h.Observe) }

// defaultBuckets start at 100µs; embedded SQLite reads are often below 1ms.
var defaultBuckets = []float64{
	.0001, .00025, .0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5,
}
