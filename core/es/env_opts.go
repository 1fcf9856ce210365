package es

import (
	"log/slog"

	"github.com/codewandler/evsrc/core/cache"
)

type (
	envOptions struct {
		log            *slog.Logger
		metrics        Metrics
		eventLog       EventLog
		snapshotter    Snapshotter
		snapshotterSet bool
		noSnapshots    bool
		cache          cache.Cache
		strict         bool
		events         []func() any
		aggTypes       []*AggregateType
		domTypes       []*DomainType
		handlers       []Handler
		reporter       Reporter
		publisher      *Publisher
	}

	EnvOption interface {
		applyToEnv(*envOptions)
	}
)

func newEnvOptions(opts ...EnvOption) envOptions {
	options := envOptions{
		log:     slog.Default(),
		metrics: NopMetrics(),
	}
	for _, opt := range opts {
		opt.applyToEnv(&options)
	}
	if options.eventLog == nil {
		options.eventLog = NewInMemoryLog()
	}
	return options
}

// === options ===

func (o EnvOpts) applyToEnv(e *envOptions) {
	for _, opt := range o.opts {
		opt.applyToEnv(e)
	}
}

func (o LogOption) applyToEnv(e *envOptions)      { e.log = o.v }
func (o MetricsOption) applyToEnv(e *envOptions)  { e.metrics = o.v }
func (o EventLogOption) applyToEnv(e *envOptions) { e.eventLog = o.v }
func (o MemoryOption) applyToEnv(e *envOptions)   { e.eventLog = NewInMemoryLog() }
func (o SnapshotterOption) applyToEnv(e *envOptions) {
	e.snapshotter = o.v
	e.snapshotterSet = true
}
func (o NoSnapshotsOption) applyToEnv(e *envOptions)       { e.noSnapshots = true }
func (o CacheOption) applyToEnv(e *envOptions)             { e.cache = o.v }
func (o StrictVersionsOption) applyToEnv(e *envOptions)    { e.strict = true }
func (o EventsOption) applyToEnv(e *envOptions)            { e.events = append(e.events, o.v...) }
func (o AggregateTypesOption) applyToEnv(e *envOptions)    { e.aggTypes = append(e.aggTypes, o.v...) }
func (o DomainTypesOption) applyToEnv(e *envOptions)       { e.domTypes = append(e.domTypes, o.v...) }
func (o HandlersOption) applyToEnv(e *envOptions)          { e.handlers = append(e.handlers, o.v...) }
func (o ReporterOption) applyToEnv(e *envOptions)          { e.reporter = o.v }
func (o PublisherInstanceOption) applyToEnv(e *envOptions) { e.publisher = o.v }
