// Package metrics holds the instrumentation primitives used by the event
// sourcing packages. Backends (see adapters/prometheus) implement them; the
// core only ever sees these interfaces.
package metrics

import "time"

// Timer measures one operation. Call ObserveDuration when it completes:
//
//	defer m.RepoLoadDuration("order").ObserveDuration()
type Timer interface {
	ObserveDuration()
}

// ObserverFunc receives an elapsed duration in seconds.
type ObserverFunc func(seconds float64)

type funcTimer struct {
	start time.Time
	obs   ObserverFunc
}

func (t *funcTimer) ObserveDuration() { t.obs(time.Since(t.start).Seconds()) }

// NewTimer starts a Timer that reports to obs.
func NewTimer(obs ObserverFunc) Timer {
	return &funcTimer{start: time.Now(), obs: obs}
}
