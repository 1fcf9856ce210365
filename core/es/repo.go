package es

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/codewandler/evsrc/core/cache"
	"github.com/codewandler/evsrc/core/ds"
	"github.com/codewandler/evsrc/core/sf"
)

// memoKeyVersion is bumped whenever the memoization key layout changes.
const memoKeyVersion = 1

type (
	repoOpts struct {
		log            *slog.Logger
		metrics        Metrics
		snapshotter    Snapshotter
		snapshotterSet bool
		noSnapshots    bool
		cache          cache.Cache
		strict         bool
		aggTypes       []*AggregateType
		domTypes       []*DomainType
	}
	RepositoryOption interface{ applyToRepository(*repoOpts) }
)

// Repository loads aggregates (custom loader, memo, snapshot, replay),
// loads domains, and commits entities.
type Repository struct {
	log         *slog.Logger
	store       *EventStore
	snapshotter Snapshotter
	cache       cache.Cache
	strict      bool
	metrics     Metrics
	aggTypes    map[string]*AggregateType
	domTypes    map[string]*DomainType
	builds      *sf.Singleflight[Aggregate]
}

// NewRepository builds a repository over store. Unless WithSnapshotter or
// WithoutSnapshots says otherwise, the store's log doubles as snapshotter
// when it implements Snapshotter.
func NewRepository(store *EventStore, opts ...RepositoryOption) (*Repository, error) {
	options := repoOpts{log: slog.Default(), metrics: NopMetrics()}
	for _, opt := range opts {
		opt.applyToRepository(&options)
	}

	snapshotter := options.snapshotter
	if !options.snapshotterSet {
		snapshotter, _ = store.Log().(Snapshotter)
	}
	if options.noSnapshots {
		snapshotter = nil
	}

	r := &Repository{
		log:         options.log.With(slog.String("component", "repo")),
		store:       store,
		snapshotter: snapshotter,
		cache:       options.cache,
		strict:      options.strict,
		metrics:     options.metrics,
		aggTypes:    make(map[string]*AggregateType, len(options.aggTypes)),
		domTypes:    make(map[string]*DomainType, len(options.domTypes)),
		builds:      sf.New[Aggregate](),
	}
	for _, t := range options.aggTypes {
		if err := t.validate(); err != nil {
			return nil, err
		}
		if _, dup := r.aggTypes[t.Name]; dup {
			return nil, fmt.Errorf("aggregate type %s registered twice", t.Name)
		}
		r.aggTypes[t.Name] = t
	}
	for _, t := range options.domTypes {
		if err := t.validate(); err != nil {
			return nil, err
		}
		if _, dup := r.domTypes[t.Name]; dup {
			return nil, fmt.Errorf("domain type %s registered twice", t.Name)
		}
		r.domTypes[t.Name] = t
	}
	return r, nil
}

func (r *Repository) Store() *EventStore { return r.store }

func (r *Repository) SnapshotsEnabled() bool { return r.snapshotter != nil }

// InTx runs fn in one transaction of the underlying log.
func (r *Repository) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.store.InTx(ctx, fn)
}

func (r *Repository) AggregateType(name string) (*AggregateType, error) {
	t, ok := r.aggTypes[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAggregateType, name)
	}
	return t, nil
}

// New constructs a fresh aggregate at version 0, bound to this repository.
func (r *Repository) New(typeName, id, parentID string) (Aggregate, error) {
	t, err := r.AggregateType(typeName)
	if err != nil {
		return nil, err
	}
	if id == "" {
		return nil, errors.New("aggregate id is empty")
	}
	return t.construct(id, parentID, r), nil
}

// NewDomain constructs an empty domain. Custom domain loaders use it to build
// the instances they return.
func (r *Repository) NewDomain(domainType, aggregateID, domainID, parentID string) (Domain, error) {
	t, ok := r.domTypes[domainType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDomainType, domainType)
	}
	return t.construct(aggregateID, domainID, parentID), nil
}

// === load ===

// Load returns the aggregate typeName/id as of the given bounds. An
// aggregate without events is returned fresh at version 0.
func (r *Repository) Load(ctx context.Context, typeName, id string, opts ...LoadOption) (Aggregate, error) {
	t, err := r.AggregateType(typeName)
	if err != nil {
		return nil, err
	}
	if id == "" {
		return nil, errors.New("aggregate id is empty")
	}
	o := newLoadOpts(opts...)
	o.aggregateID = id

	defer r.metrics.RepoLoadDuration(t.Name).ObserveDuration()

	if !o.skipLoader && t.Loader != nil {
		agg, err := t.Loader(ctx, o.aggregateLoadOptions(t))
		if err != nil {
			return nil, fmt.Errorf("custom loader %s: %w", t.Name, err)
		}
		if agg != nil {
			r.adopt(t, agg)
			return agg, nil
		}
	}

	memo, ok := r.memo(ctx)
	if !ok {
		return r.build(ctx, t, o)
	}

	key := r.memoKey(t, id, o)
	if agg, hit := memoGet(memo, key); hit {
		r.metrics.CacheHit(t.Name)
		return agg, nil
	}
	r.metrics.CacheMiss(t.Name)

	// Concurrent loads sharing a memo store build the aggregate once.
	agg, _, err := r.builds.Do(fmt.Sprintf("%p|%s", memo, key), func() (Aggregate, error) {
		if agg, hit := memoGet(memo, key); hit {
			return agg, nil
		}
		agg, err := r.build(ctx, t, o)
		if err != nil {
			return nil, err
		}
		memo.Put(key, agg)
		return agg, nil
	})
	return agg, err
}

// Preload loads several aggregates of one type that share every option but
// their id, with one snapshot lookup and one event query. Results follow
// the order of ids and are memoized when a memo store is available.
func (r *Repository) Preload(ctx context.Context, typeName string, ids []string, opts ...LoadOption) ([]Aggregate, error) {
	t, err := r.AggregateType(typeName)
	if err != nil {
		return nil, err
	}
	o := newLoadOpts(opts...)
	o.aggregateID = ""
	ids = ds.NewSet(ids...).Values()

	defer r.metrics.RepoLoadDuration(t.Name).ObserveDuration()

	var snaps map[string]*Snapshot
	if r.SnapshotsEnabled() && o.withSnapshot && !o.empty() && len(ids) > 0 {
		done := r.metrics.SnapshotLoadDuration(t.Name)
		snaps, err = r.snapshotter.LatestSnapshots(ctx, o.snapshotQuery(t), ids)
		done.ObserveDuration()
		if err != nil {
			return nil, fmt.Errorf("load snapshots %s: %w", t.Name, err)
		}
	}

	aggs := make([]Aggregate, 0, len(ids))
	selectors := make([]Selector, 0, len(ids))
	for _, id := range ids {
		agg := r.materialize(t, id, o.parentID, snaps[id])
		aggs = append(aggs, agg)
		selectors = append(selectors, Selector{AggregateID: id, FromVersion: agg.base().version})
	}

	byID := map[string][]Event{}
	if !o.empty() && len(selectors) > 0 {
		events, err := r.store.LoadMulti(ctx, o.filter(), selectors)
		if err != nil {
			return nil, err
		}
		for _, ev := range events {
			byID[ev.AggregateID] = append(byID[ev.AggregateID], ev)
		}
	}

	memo, memoOK := r.memo(ctx)
	for _, agg := range aggs {
		id := agg.base().id
		if err := loadFromHistory(agg, byID[id], r.strict); err != nil {
			return nil, fmt.Errorf("replay %s %s: %w", t.Name, id, err)
		}
		if memoOK {
			memo.Put(r.memoKey(t, id, o), agg)
		}
	}

	r.log.Debug("preloaded", slog.String("type", t.Name), slog.Int("count", len(aggs)), slog.Int("snapshots", len(snaps)))
	return aggs, nil
}

func (r *Repository) build(ctx context.Context, t *AggregateType, o loadOpts) (Aggregate, error) {
	id := o.aggregateID

	var snap *Snapshot
	if r.SnapshotsEnabled() && o.withSnapshot && !o.empty() {
		done := r.metrics.SnapshotLoadDuration(t.Name)
		s, err := r.snapshotter.LatestSnapshot(ctx, o.snapshotQuery(t), id)
		done.ObserveDuration()
		switch {
		case err == nil:
			snap = s
		case errors.Is(err, ErrSnapshotNotFound):
		default:
			return nil, fmt.Errorf("load snapshot %s %s: %w", t.Name, id, err)
		}
	}

	agg := r.materialize(t, id, o.parentID, snap)
	b := agg.base()

	var events []Event
	if !o.empty() {
		f := o.filter()
		f.FromVersion = b.version
		var err error
		if events, err = r.store.Load(ctx, f); err != nil {
			return nil, err
		}
	}
	if err := loadFromHistory(agg, events, r.strict); err != nil {
		return nil, fmt.Errorf("replay %s %s: %w", t.Name, id, err)
	}

	r.log.Debug(
		"loaded",
		slog.Group("agg", slog.String("type", t.Name), slog.String("id", id), b.version.SlogAttr()),
		slog.Bool("from_snapshot", b.snapshot != nil),
		slog.Int("replayed", len(events)),
	)
	return agg, nil
}

// materialize builds the starting point of a load: the snapshot state if a
// usable snapshot exists, a fresh instance otherwise. A corrupt snapshot is
// logged and ignored; the full replay that follows is still correct.
func (r *Repository) materialize(t *AggregateType, id, parentID string, snap *Snapshot) Aggregate {
	agg := t.construct(id, parentID, r)
	if snap == nil {
		return agg
	}
	if err := restoreSnapshot(agg, snap); err != nil {
		r.log.Warn("ignoring snapshot", snap.logAttrs(), slog.Any("error", err))
		return t.construct(id, parentID, r)
	}
	return agg
}

func (r *Repository) adopt(t *AggregateType, agg Aggregate) {
	b := agg.base()
	b.typ = t
	b.repo = r
}

// === domains ===

// LoadDomain loads a domain from its events, bounded by the options. With no
// events it returns a fresh domain when an aggregate id was given and
// ErrDomainNotExists otherwise.
func (r *Repository) LoadDomain(ctx context.Context, domainType, domainID string, opts ...LoadOption) (Domain, error) {
	t, ok := r.domTypes[domainType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDomainType, domainType)
	}
	if domainID == "" {
		return nil, fmt.Errorf("%w: %s", ErrMissingDomainID, domainType)
	}
	o := newLoadOpts(opts...)

	if !o.skipLoader && t.Loader != nil {
		d, err := t.Loader(ctx, DomainLoadOptions{
			DomainType:     t.Name,
			DomainID:       domainID,
			AggregateID:    o.aggregateID,
			ParentID:       o.parentID,
			UntilVersion:   o.untilVersion,
			UntilCreatedAt: o.untilCreatedAt,
			Extra:          o.extra,
		})
		if err != nil {
			return nil, fmt.Errorf("custom loader %s: %w", t.Name, err)
		}
		if d != nil {
			return d, nil
		}
	}

	var events []Event
	if !o.empty() {
		f := o.filter()
		f.DomainType = t.Name
		f.DomainID = domainID
		var err error
		if events, err = r.store.Load(ctx, f); err != nil {
			return nil, err
		}
	}

	if len(events) == 0 {
		if o.aggregateID == "" {
			return nil, fmt.Errorf("%w: %s %s", ErrDomainNotExists, t.Name, domainID)
		}
		return t.construct(o.aggregateID, domainID, o.parentID), nil
	}

	first := events[0]
	d := t.construct(first.AggregateID, domainID, first.ParentID)
	for _, ev := range events {
		if err := applyDomain(d, ev); err != nil {
			return nil, fmt.Errorf("replay %s %s: %w", t.Name, domainID, err)
		}
	}
	return d, nil
}

// LoadDomain returns the domain domainType/domainID of agg, attached to agg.
// The domain never sees events beyond agg's current version. Instances are
// cached on agg until the next replayed event.
func LoadDomain[D Domain](ctx context.Context, agg Aggregate, domainType, domainID string) (D, error) {
	var zero D
	b := agg.base()

	d, ok := b.cachedDomain(domainType, domainID)
	if !ok {
		if b.repo == nil {
			return zero, ErrNoRepository
		}
		var err error
		d, err = b.repo.LoadDomain(
			ctx,
			domainType,
			domainID,
			WithParentID(b.parentID),
			WithAggregateID(b.id),
			WithUntilVersion(b.version),
		)
		if err != nil {
			return zero, err
		}
		if err := AttachRoot(d, agg); err != nil {
			return zero, err
		}
		b.storeDomain(domainType, domainID, d)
	}

	typed, ok := d.(D)
	if !ok {
		return zero, fmt.Errorf("domain %s/%s is %T, not %T", domainType, domainID, d, zero)
	}
	return typed, nil
}

// === commit ===

// Commit appends the uncommitted events of entity (which publishes them),
// clears them, and takes a snapshot of the root when one is due.
func (r *Repository) Commit(ctx context.Context, entity Entity) error {
	events := entity.Uncommitted()
	if len(events) == 0 {
		return nil
	}
	aggType := events[0].AggregateType
	defer r.metrics.RepoCommitDuration(aggType).ObserveDuration()

	if _, err := r.store.Append(ctx, events, entity); err != nil {
		return err
	}
	entity.markCommitted()

	root := rootOf(entity)
	if r.SnapshotsEnabled() && root != nil && SnapshotTakeable(root) {
		if _, err := r.TakeSnapshot(ctx, root); err != nil {
			return err
		}
	}

	r.log.Debug(
		"committed",
		slog.Group("agg", slog.String("type", aggType), slog.String("id", events[0].AggregateID)),
		slog.Int("num_events", len(events)),
	)
	return nil
}

// TakeSnapshot captures agg now, regardless of the interval.
func (r *Repository) TakeSnapshot(ctx context.Context, agg Aggregate) (*Snapshot, error) {
	if r.snapshotter == nil {
		return nil, ErrSnapshotterUnconfigured
	}
	b := agg.base()
	t := b.typ
	if t == nil {
		var err error
		if t, err = r.AggregateType(agg.GetAggType()); err != nil {
			return nil, err
		}
	}
	defer r.metrics.SnapshotSaveDuration(t.Name).ObserveDuration()

	s, err := CreateSnapshot(t, agg)
	if err != nil {
		return nil, err
	}
	if err := r.snapshotter.SaveSnapshot(ctx, s); err != nil {
		return nil, fmt.Errorf("save snapshot: %w", err)
	}
	b.snapshot = s
	r.log.Debug("snapshot saved", s.logAttrs())
	return s, nil
}

// === memoization ===

func (r *Repository) memo(ctx context.Context) (cache.Cache, bool) {
	if r.cache != nil {
		return r.cache, true
	}
	return cache.FromContext(ctx)
}

func memoGet(c cache.Cache, key string) (Aggregate, bool) {
	return cache.NewTyped[Aggregate](c).Get(key)
}

// memoKey is type:id:parent:until_version:until_created_at:with_snapshot
// [:extras]:key_version[:schema_version].
func (r *Repository) memoKey(t *AggregateType, id string, o loadOpts) string {
	until := ""
	if o.untilVersionSet {
		until = strconv.FormatUint(uint64(o.untilVersion), 10)
	}
	createdAt := ""
	if !o.untilCreatedAt.IsZero() {
		createdAt = o.untilCreatedAt.UTC().Format(time.RFC3339Nano)
	}
	parts := []string{t.Name, id, o.parentID, until, createdAt, strconv.FormatBool(o.withSnapshot)}
	if len(o.extra) > 0 {
		keys := make([]string, 0, len(o.extra))
		for k := range o.extra {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		for _, k := range keys {
			parts = append(parts, k+"="+o.extra[k])
		}
	}
	parts = append(parts, strconv.Itoa(memoKeyVersion))
	if r.SnapshotsEnabled() {
		parts = append(parts, strconv.Itoa(t.SchemaVersion))
	}
	return strings.Join(parts, ":")
}

func (o loadOpts) aggregateLoadOptions(t *AggregateType) AggregateLoadOptions {
	return AggregateLoadOptions{
		AggregateType:  t.Name,
		AggregateID:    o.aggregateID,
		ParentID:       o.parentID,
		UntilVersion:   o.untilVersion,
		UntilCreatedAt: o.untilCreatedAt,
		WithSnapshot:   o.withSnapshot,
		Extra:          o.extra,
	}
}

// === options ===

func (o LogOption) applyToRepository(r *repoOpts)     { r.log = o.v }
func (o MetricsOption) applyToRepository(r *repoOpts) { r.metrics = o.v }
func (o SnapshotterOption) applyToRepository(r *repoOpts) {
	r.snapshotter = o.v
	r.snapshotterSet = true
}
func (o NoSnapshotsOption) applyToRepository(r *repoOpts)    { r.noSnapshots = true }
func (o CacheOption) applyToRepository(r *repoOpts)          { r.cache = o.v }
func (o StrictVersionsOption) applyToRepository(r *repoOpts) { r.strict = true }
func (o AggregateTypesOption) applyToRepository(r *repoOpts) {
	r.aggTypes = append(r.aggTypes, o.v...)
}
func (o DomainTypesOption) applyToRepository(r *repoOpts) {
	r.domTypes = append(r.domTypes, o.v...)
}
