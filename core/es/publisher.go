package es

import (
	"context"
	"fmt"
	"log/slog"
)

// Reporter receives errors that are surfaced to an external error tracker.
type Reporter interface {
	Report(ctx context.Context, err error)
}

type ReporterFunc func(ctx context.Context, err error)

func (f ReporterFunc) Report(ctx context.Context, err error) { f(ctx, err) }

// LogReporter reports errors by logging them.
func LogReporter(log *slog.Logger) Reporter {
	return ReporterFunc(func(ctx context.Context, err error) {
		log.ErrorContext(ctx, "reported", slog.Any("error", err))
	})
}

// PublishError wraps the first handler failure for an event.
type PublishError struct {
	Handler string
	Event   Event
	Err     error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish %s v%d of %s to %s: %v", e.Event.Type, e.Event.Version, e.Event.AggregateID, e.Handler, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }

type publisherOpts struct {
	log      *slog.Logger
	handlers []Handler
	reporter Reporter
	metrics  Metrics
}

type PublisherOption interface{ applyToPublisher(*publisherOpts) }

// Publisher dispatches committed events synchronously to its handlers, in
// registration order. The handler list is fixed at construction.
type Publisher struct {
	log      *slog.Logger
	handlers []Handler
	reporter Reporter
	metrics  Metrics
}

func NewPublisher(opts ...PublisherOption) *Publisher {
	options := publisherOpts{log: slog.Default(), metrics: NopMetrics()}
	for _, opt := range opts {
		opt.applyToPublisher(&options)
	}
	if options.reporter == nil {
		options.reporter = LogReporter(options.log)
	}
	return &Publisher{
		log:      options.log.With(slog.String("component", "publisher")),
		handlers: append([]Handler(nil), options.handlers...),
		reporter: options.reporter,
		metrics:  options.metrics,
	}
}

// Publish hands each event to every handler. The first failing handler stops
// dispatch; the failure is reported and returned as a *PublishError.
// Nothing already stored is undone.
func (p *Publisher) Publish(ctx context.Context, events []Event, entity Entity) error {
	for _, ev := range events {
		if err := p.publish(NewMsgCtx(ctx, p.log, ev, entity)); err != nil {
			return err
		}
	}
	return nil
}

func (p *Publisher) publish(mc MsgCtx) error {
	ev := mc.Event()
	defer p.metrics.PublishDuration(ev.Type).ObserveDuration()
	for _, h := range p.handlers {
		if err := h.Handle(mc); err != nil {
			perr := &PublishError{Handler: HandlerName(h), Event: ev, Err: err}
			p.metrics.EventPublished(ev.Type, false)
			p.reporter.Report(mc.Context(), perr)
			return perr
		}
	}
	p.metrics.EventPublished(ev.Type, true)
	return nil
}

// Handle lets a Publisher stand in for a single Handler, as replay does.
func (p *Publisher) Handle(mc MsgCtx) error { return p.publish(mc) }

func (p *Publisher) Name() string { return "publisher" }
