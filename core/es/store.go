package es

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

type storeOpts struct {
	log       *slog.Logger
	metrics   Metrics
	publisher *Publisher
}

type StoreOption interface{ applyToStore(*storeOpts) }

// EventStore encodes events into the log, decodes them back through the
// registry, and publishes what it appended.
type EventStore struct {
	log       *slog.Logger
	el        EventLog
	registry  *EventRegistry
	publisher *Publisher
	metrics   Metrics
}

func NewEventStore(el EventLog, registry *EventRegistry, opts ...StoreOption) *EventStore {
	options := storeOpts{log: slog.Default(), metrics: NopMetrics()}
	for _, opt := range opts {
		opt.applyToStore(&options)
	}
	if options.publisher == nil {
		options.publisher = NewPublisher(WithLog(options.log), WithMetrics(options.metrics))
	}
	return &EventStore{
		log:       options.log.With(slog.String("component", "store")),
		el:        el,
		registry:  registry,
		publisher: options.publisher,
		metrics:   options.metrics,
	}
}

func (s *EventStore) Log() EventLog            { return s.el }
func (s *EventStore) Registry() *EventRegistry { return s.registry }
func (s *EventStore) Publisher() *Publisher    { return s.publisher }

// InTx runs fn in a transaction of the underlying log.
func (s *EventStore) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return s.el.InTx(ctx, fn)
}

// Append persists events in order and then publishes them. Events are
// durable before any handler runs; a publish failure leaves them stored.
// The returned events carry their log sequence.
func (s *EventStore) Append(ctx context.Context, events []Event, entity Entity) ([]Event, error) {
	if len(events) == 0 {
		return nil, nil
	}
	aggType := events[0].AggregateType
	defer s.metrics.StoreAppendDuration(aggType).ObserveDuration()

	envs := make([]Envelope, 0, len(events))
	for _, ev := range events {
		env, err := s.registry.Encode(ev)
		if err != nil {
			return nil, err
		}
		envs = append(envs, env)
	}

	stored, err := s.el.Append(ctx, envs)
	if err != nil {
		if errors.Is(err, ErrVersionConflict) {
			s.metrics.VersionConflict(aggType)
		}
		return nil, fmt.Errorf("append %s %s: %w", aggType, events[0].AggregateID, err)
	}
	s.metrics.EventsAppended(aggType, len(stored))

	out := make([]Event, len(events))
	for i, ev := range events {
		ev.Seq = stored[i].Seq
		out[i] = ev
	}

	s.log.Debug(
		"appended",
		slog.Group("agg", slog.String("type", aggType), slog.String("id", events[0].AggregateID)),
		slog.Int("num_events", len(out)),
		out[len(out)-1].Version.SlogAttrWithKey("last_version"),
	)

	return out, s.publisher.Publish(ctx, out, entity)
}

// Load returns the events matching f, ascending by version.
func (s *EventStore) Load(ctx context.Context, f Filter) ([]Event, error) {
	defer s.metrics.StoreLoadDuration("load").ObserveDuration()
	envs, err := s.el.Query(ctx, f)
	if err != nil {
		return nil, err
	}
	return s.registry.DecodeAll(envs)
}

// LoadMulti returns the events matching f and any of the selectors as one
// ascending sequence; callers group by aggregate id.
func (s *EventStore) LoadMulti(ctx context.Context, f Filter, selectors []Selector) ([]Event, error) {
	defer s.metrics.StoreLoadDuration("load_multi").ObserveDuration()
	envs, err := s.el.QueryMulti(ctx, f, selectors)
	if err != nil {
		return nil, err
	}
	return s.registry.DecodeAll(envs)
}

// === replay ===

// ReplayOptions configures ReplayFrom. Without a handler, events go to the
// store's publisher.
type ReplayOptions struct {
	Filter    Filter
	BatchSize int
	Handler   Handler
	// Checkpoint, if set, is read to resume and advanced after every event.
	Checkpoint CpStore
}

// ReplayFrom re-publishes stored events in log order, in batches of
// BatchSize (default 100). Aggregate state is not touched.
func (s *EventStore) ReplayFrom(ctx context.Context, opts ReplayOptions) (int, error) {
	batch := opts.BatchSize
	if batch <= 0 {
		batch = 100
	}
	h := opts.Handler
	if h == nil {
		h = s.publisher
	}

	var after uint64
	if opts.Checkpoint != nil {
		var err error
		if after, err = opts.Checkpoint.Get(ctx); err != nil {
			return 0, fmt.Errorf("read checkpoint: %w", err)
		}
	}

	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		envs, err := s.el.Scan(ctx, opts.Filter, after, batch)
		if err != nil {
			return total, err
		}
		for _, env := range envs {
			ev, err := s.registry.Decode(env)
			if err != nil {
				return total, err
			}
			mc := NewMsgCtx(ctx, s.log, ev, nil)
			mc.replay = true
			if err := h.Handle(mc); err != nil {
				return total, err
			}
			if opts.Checkpoint != nil {
				if err := opts.Checkpoint.Set(ctx, env.Seq); err != nil {
					return total, fmt.Errorf("write checkpoint: %w", err)
				}
			}
			after = env.Seq
			total++
		}
		s.metrics.EventsReplayed(len(envs))
		if len(envs) < batch {
			break
		}
	}
	s.log.Debug("replayed", slog.Int("events", total), slog.Uint64("last_seq", after))
	return total, nil
}

// Projector is a read model that can be rebuilt per aggregate.
type Projector interface {
	Handler
	// Remove drops everything the projector derived from aggregateID.
	Remove(ctx context.Context, aggregateID string) error
}

// ReplayFor rebuilds p for one aggregate: Remove, then every event of the
// aggregate in version order.
func (s *EventStore) ReplayFor(ctx context.Context, p Projector, aggregateID string) error {
	if err := p.Remove(ctx, aggregateID); err != nil {
		return fmt.Errorf("remove %s from %s: %w", aggregateID, HandlerName(p), err)
	}
	events, err := s.Load(ctx, Filter{AggregateID: aggregateID})
	if err != nil {
		return err
	}
	for _, ev := range events {
		mc := NewMsgCtx(ctx, s.log, ev, nil)
		mc.replay = true
		if err := p.Handle(mc); err != nil {
			return err
		}
	}
	s.metrics.EventsReplayed(len(events))
	return nil
}

// === options ===

func (o LogOption) applyToStore(s *storeOpts)               { s.log = o.v }
func (o MetricsOption) applyToStore(s *storeOpts)           { s.metrics = o.v }
func (o PublisherInstanceOption) applyToStore(s *storeOpts) { s.publisher = o.v }
func (o LogOption) applyToPublisher(p *publisherOpts)       { p.log = o.v }
func (o MetricsOption) applyToPublisher(p *publisherOpts)   { p.metrics = o.v }
func (o HandlersOption) applyToPublisher(p *publisherOpts) {
	p.handlers = append(p.handlers, o.v...)
}
func (o ReporterOption) applyToPublisher(p *publisherOpts) { p.reporter = o.v }
