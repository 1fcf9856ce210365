package es

import "github.com/codewandler/evsrc/core/metrics"

// Metrics is the instrumentation surface of the event-sourcing core.
// Implementations must be safe for concurrent use.
type Metrics interface {
	// Event log
	StoreLoadDuration(op string) metrics.Timer
	StoreAppendDuration(aggType string) metrics.Timer
	EventsAppended(aggType string, count int)
	VersionConflict(aggType string)

	// Repository
	RepoLoadDuration(aggType string) metrics.Timer
	RepoCommitDuration(aggType string) metrics.Timer

	// Memoization
	CacheHit(aggType string)
	CacheMiss(aggType string)

	// Snapshots
	SnapshotLoadDuration(aggType string) metrics.Timer
	SnapshotSaveDuration(aggType string) metrics.Timer

	// Publishing and replay
	PublishDuration(eventType string) metrics.Timer
	EventPublished(eventType string, success bool)
	EventsReplayed(count int)
}

type nopMetrics struct{}

func (nopMetrics) StoreLoadDuration(string) metrics.Timer   { return metrics.NopTimer() }
func (nopMetrics) StoreAppendDuration(string) metrics.Timer { return metrics.NopTimer() }
func (nopMetrics) EventsAppended(string, int)               {}
func (nopMetrics) VersionConflict(string)                   {}

func (nopMetrics) RepoLoadDuration(string) metrics.Timer   { return metrics.NopTimer() }
func (nopMetrics) RepoCommitDuration(string) metrics.Timer { return metrics.NopTimer() }

func (nopMetrics) CacheHit(string)  {}
func (nopMetrics) CacheMiss(string) {}

func (nopMetrics) SnapshotLoadDuration(string) metrics.Timer { return metrics.NopTimer() }
func (nopMetrics) SnapshotSaveDuration(string) metrics.Timer { return metrics.NopTimer() }

func (nopMetrics) PublishDuration(string) metrics.Timer { return metrics.NopTimer() }
func (nopMetrics) EventPublished(string, bool)          {}
func (nopMetrics) EventsReplayed(int)                   {}

// NopMetrics returns a Metrics implementation that records nothing.
func NopMetrics() Metrics { return nopMetrics{} }
