package es

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// Env wires a registry, an event log, a publisher, an event store and a
// repository together. It is the usual entry point:
//
//	env, err := es.NewEnv(
//	    es.WithEventLog(sqliteStore),
//	    es.WithEvents(es.Kind[OrderPlaced](), es.Kind[OrderPaid]()),
//	    es.WithAggregateTypes(OrderType),
//	    es.WithHandlers(projection),
//	)
type Env struct {
	id        string
	log       *slog.Logger
	registry  *EventRegistry
	eventLog  EventLog
	publisher *Publisher
	store     *EventStore
	repo      *Repository
}

func NewEnv(opts ...EnvOption) (*Env, error) {
	var (
		id      = gonanoid.Must(6)
		options = newEnvOptions(opts...)
		log     = options.log.With(slog.String("env", id))
	)

	e := &Env{
		id:       id,
		log:      log,
		registry: NewRegistry(),
		eventLog: options.eventLog,
	}

	RegisterEvents(e.registry, options.events...)
	log.Debug("registered events", slog.Int("count", len(options.events)))

	e.publisher = options.publisher
	if e.publisher == nil {
		pubOpts := []PublisherOption{WithLog(log), WithMetrics(options.metrics), WithHandlers(options.handlers...)}
		if options.reporter != nil {
			pubOpts = append(pubOpts, WithReporter(options.reporter))
		}
		e.publisher = NewPublisher(pubOpts...)
	}

	e.store = NewEventStore(
		e.eventLog,
		e.registry,
		WithLog(log),
		WithMetrics(options.metrics),
		WithPublisher(e.publisher),
	)

	repoOpts := []RepositoryOption{
		WithLog(log),
		WithMetrics(options.metrics),
		WithAggregateTypes(options.aggTypes...),
		WithDomainTypes(options.domTypes...),
	}
	if options.snapshotterSet {
		repoOpts = append(repoOpts, WithSnapshotter(options.snapshotter))
	}
	if options.noSnapshots {
		repoOpts = append(repoOpts, WithoutSnapshots())
	}
	if options.cache != nil {
		repoOpts = append(repoOpts, WithCache(options.cache))
	}
	if options.strict {
		repoOpts = append(repoOpts, WithStrictVersions())
	}

	repo, err := NewRepository(e.store, repoOpts...)
	if err != nil {
		return nil, fmt.Errorf("create repository: %w", err)
	}
	e.repo = repo

	log.Debug(
		"env ready",
		slog.Int("aggregate_types", len(options.aggTypes)),
		slog.Int("domain_types", len(options.domTypes)),
		slog.Bool("snapshots", repo.SnapshotsEnabled()),
	)
	return e, nil
}

func (e *Env) ID() string               { return e.id }
func (e *Env) Log() *slog.Logger        { return e.log }
func (e *Env) Registry() *EventRegistry { return e.registry }
func (e *Env) EventLog() EventLog       { return e.eventLog }
func (e *Env) Publisher() *Publisher    { return e.publisher }
func (e *Env) Store() *EventStore       { return e.store }
func (e *Env) Repository() *Repository  { return e.repo }
func (e *Env) Snapshotter() Snapshotter { return e.repo.snapshotter }

func (e *Env) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return e.eventLog.InTx(ctx, fn)
}

// Append writes payloads for aggType/aggID directly, as versions
// expect+1, expect+2 and so on. It bypasses aggregates and state machines and
// is meant for seeding and migrations.
func (e *Env) Append(ctx context.Context, aggType, aggID string, expect Version, payloads ...any) ([]Event, error) {
	now := time.Now().UTC()
	events := make([]Event, 0, len(payloads))
	for i, p := range payloads {
		p = pointerTo(p)
		events = append(events, Event{
			AggregateType: aggType,
			AggregateID:   aggID,
			Version:       expect + Version(i+1),
			CreatedAt:     now,
			Type:          EventTypeOf(p),
			Payload:       p,
		})
	}
	return e.store.Append(ctx, events, nil)
}
