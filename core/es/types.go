package es

import (
	"context"
	"fmt"
	"time"
)

// DefaultSnapshotInterval is used when an AggregateType leaves
// SnapshotInterval unset.
const DefaultSnapshotInterval = 100

// IntervalRule yields the number of events between snapshots.
type IntervalRule interface {
	Interval() int
}

// FixedInterval is a constant snapshot interval.
type FixedInterval int

func (i FixedInterval) Interval() int { return int(i) }

// IntervalFunc evaluates the interval each time it is needed.
type IntervalFunc func() int

func (f IntervalFunc) Interval() int { return f() }

// AggregateLoadOptions is handed to custom loaders.
type AggregateLoadOptions struct {
	AggregateType  string
	AggregateID    string
	ParentID       string
	UntilVersion   Version
	UntilCreatedAt time.Time
	WithSnapshot   bool
	Extra          map[string]string
}

// DomainLoadOptions is handed to custom domain loaders.
type DomainLoadOptions struct {
	DomainType     string
	DomainID       string
	AggregateID    string
	ParentID       string
	UntilVersion   Version
	UntilCreatedAt time.Time
	Extra          map[string]string
}

// AggregateLoader loads an aggregate from somewhere other than the log. A nil
// aggregate with a nil error falls back to the regular load.
type AggregateLoader func(ctx context.Context, opts AggregateLoadOptions) (Aggregate, error)

// DomainLoader is the domain counterpart of AggregateLoader.
type DomainLoader func(ctx context.Context, opts DomainLoadOptions) (Domain, error)

// AggregateType describes one kind of aggregate. Descriptors are registered
// once when the repository is built and never change afterwards.
type AggregateType struct {
	Name string
	// SchemaVersion invalidates snapshots taken of an older state shape.
	SchemaVersion    int
	New              func() Aggregate
	SnapshotInterval IntervalRule
	// Codec used for snapshots of aggregates that are not Snapshottable.
	// Defaults to JSONCodec.
	Codec SnapshotCodec
	// Init callbacks run in order on every freshly constructed instance.
	Init   []func(Aggregate)
	Loader AggregateLoader
}

func (t *AggregateType) validate() error {
	if t.Name == "" {
		return fmt.Errorf("%w: aggregate type without name", ErrUnknownAggregateType)
	}
	if t.New == nil {
		return fmt.Errorf("%w: aggregate type %s has no constructor", ErrUnknownAggregateType, t.Name)
	}
	return nil
}

func (t *AggregateType) interval() int {
	if t == nil || t.SnapshotInterval == nil {
		return DefaultSnapshotInterval
	}
	return t.SnapshotInterval.Interval()
}

func (t *AggregateType) codec() SnapshotCodec {
	if t.Codec == nil {
		return JSONCodec{}
	}
	return t.Codec
}

// construct builds a fresh instance at version 0 and runs the Init callbacks.
func (t *AggregateType) construct(id, parentID string, repo *Repository) Aggregate {
	agg := t.New()
	b := agg.base()
	b.id = id
	b.parentID = parentID
	b.typ = t
	b.repo = repo
	for _, init := range t.Init {
		init(agg)
	}
	return agg
}

// DomainType describes one kind of domain.
type DomainType struct {
	Name   string
	New    func() Domain
	Loader DomainLoader
}

func (t *DomainType) validate() error {
	if t.Name == "" {
		return fmt.Errorf("%w: domain type without name", ErrUnknownDomainType)
	}
	if t.New == nil {
		return fmt.Errorf("%w: domain type %s has no constructor", ErrUnknownDomainType, t.Name)
	}
	return nil
}

func (t *DomainType) construct(aggregateID, domainID, parentID string) Domain {
	d := t.New()
	b := d.domainBase()
	b.aggregateID = aggregateID
	b.domainID = domainID
	b.parentID = parentID
	b.domainType = t.Name
	return d
}

// SnapshotTakeable reports whether agg has applied enough events since its
// load, and since its latest snapshot, to warrant a new snapshot.
func SnapshotTakeable(agg Aggregate) bool {
	b := agg.base()
	interval := b.typ.interval()
	if len(b.applied) < interval {
		return false
	}
	if b.snapshot != nil {
		if b.version < b.snapshot.EventVersion {
			return false
		}
		return int(b.version-b.snapshot.EventVersion) >= interval
	}
	return true
}
