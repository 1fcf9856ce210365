package es

import (
	"log/slog"
	"time"

	"github.com/codewandler/evsrc/core/cache"
)

type (
	valueOption[T any] struct{ v T }
	MultiOption[T any] struct{ opts []T }

	LogOption               valueOption[*slog.Logger]
	MetricsOption           valueOption[Metrics]
	SnapshotterOption       valueOption[Snapshotter]
	NoSnapshotsOption       struct{}
	CacheOption             valueOption[cache.Cache]
	StrictVersionsOption    struct{}
	AggregateTypesOption    valueOption[[]*AggregateType]
	DomainTypesOption       valueOption[[]*DomainType]
	HandlersOption          valueOption[[]Handler]
	ReporterOption          valueOption[Reporter]
	PublisherInstanceOption valueOption[*Publisher]
	EventLogOption          valueOption[EventLog]
	MemoryOption            struct{}
	EventsOption            valueOption[[]func() any]
	EnvOpts                 MultiOption[EnvOption]
)

func WithLog(l *slog.Logger) LogOption                   { return LogOption{v: l} }
func WithMetrics(m Metrics) MetricsOption                { return MetricsOption{v: m} }
func WithSnapshotter(s Snapshotter) SnapshotterOption    { return SnapshotterOption{v: s} }
func WithoutSnapshots() NoSnapshotsOption                { return NoSnapshotsOption{} }
func WithCache(c cache.Cache) CacheOption                { return CacheOption{v: c} }
func WithStrictVersions() StrictVersionsOption           { return StrictVersionsOption{} }
func WithHandlers(hs ...Handler) HandlersOption          { return HandlersOption{v: hs} }
func WithReporter(r Reporter) ReporterOption             { return ReporterOption{v: r} }
func WithPublisher(p *Publisher) PublisherInstanceOption { return PublisherInstanceOption{v: p} }
func WithEventLog(l EventLog) EventLogOption             { return EventLogOption{v: l} }
func WithInMemory() MemoryOption                         { return MemoryOption{} }
func WithEvents(ctors ...func() any) EventsOption        { return EventsOption{v: ctors} }
func WithEnvOpts(opts ...EnvOption) EnvOpts              { return EnvOpts{opts: opts} }
func WithDomainTypes(ts ...*DomainType) DomainTypesOption {
	return DomainTypesOption{v: ts}
}
func WithAggregateTypes(ts ...*AggregateType) AggregateTypesOption {
	return AggregateTypesOption{v: ts}
}

// === per-load options ===

type (
	loadOpts struct {
		parentID        string
		aggregateID     string
		untilVersion    Version
		untilVersionSet bool
		untilCreatedAt  time.Time
		withSnapshot    bool
		extra           map[string]string
		skipLoader      bool
	}

	LoadOption interface{ applyToLoad(*loadOpts) }

	ParentIDOption       valueOption[string]
	AggregateIDOption    valueOption[string]
	UntilVersionOption   valueOption[Version]
	UntilCreatedAtOption valueOption[time.Time]
	SnapshotOption       valueOption[bool]
	ExtraOption          struct{ k, v string }
	NoCustomLoaderOption struct{}
)

func WithParentID(id string) ParentIDOption               { return ParentIDOption{v: id} }
func WithUntilVersion(v Version) UntilVersionOption       { return UntilVersionOption{v: v} }
func WithUntilCreatedAt(t time.Time) UntilCreatedAtOption { return UntilCreatedAtOption{v: t} }

// WithSnapshot controls whether a load may start from a snapshot. The
// default is true.
func WithSnapshot(use bool) SnapshotOption { return SnapshotOption{v: use} }

// WithAggregateID scopes a domain load to one aggregate.
func WithAggregateID(id string) AggregateIDOption { return AggregateIDOption{v: id} }

// WithExtra passes an opaque key to custom loaders. Extras are part of the
// memoization key.
func WithExtra(k, v string) ExtraOption { return ExtraOption{k: k, v: v} }

// WithoutCustomLoader bypasses the type's custom loader.
func WithoutCustomLoader() NoCustomLoaderOption { return NoCustomLoaderOption{} }

func (o ParentIDOption) applyToLoad(l *loadOpts)    { l.parentID = o.v }
func (o AggregateIDOption) applyToLoad(l *loadOpts) { l.aggregateID = o.v }
func (o UntilVersionOption) applyToLoad(l *loadOpts) {
	l.untilVersion = o.v
	l.untilVersionSet = true
}
func (o UntilCreatedAtOption) applyToLoad(l *loadOpts) { l.untilCreatedAt = o.v }
func (o SnapshotOption) applyToLoad(l *loadOpts)       { l.withSnapshot = o.v }
func (o NoCustomLoaderOption) applyToLoad(l *loadOpts) { l.skipLoader = true }
func (o ExtraOption) applyToLoad(l *loadOpts) {
	if l.extra == nil {
		l.extra = map[string]string{}
	}
	l.extra[o.k] = o.v
}

func newLoadOpts(opts ...LoadOption) loadOpts {
	options := loadOpts{withSnapshot: true}
	for _, opt := range opts {
		opt.applyToLoad(&options)
	}
	return options
}

// empty reports whether the bounds exclude every event: nothing has a
// version <= 0.
func (o loadOpts) empty() bool { return o.untilVersionSet && o.untilVersion == 0 }

func (o loadOpts) filter() Filter {
	return Filter{
		ParentID:       o.parentID,
		AggregateID:    o.aggregateID,
		UntilVersion:   o.untilVersion,
		UntilCreatedAt: o.untilCreatedAt,
	}
}

func (o loadOpts) snapshotQuery(t *AggregateType) SnapshotQuery {
	return SnapshotQuery{
		AggregateType:  t.Name,
		SchemaVersion:  t.SchemaVersion,
		ParentID:       o.parentID,
		UntilVersion:   o.untilVersion,
		UntilCreatedAt: o.untilCreatedAt,
	}
}
