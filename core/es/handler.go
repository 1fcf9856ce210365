package es

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// MsgCtx carries one event to a handler together with the entity that raised
// it. Entity is nil during replay.
type MsgCtx struct {
	ctx    context.Context
	log    *slog.Logger
	ev     Event
	entity Entity
	replay bool
}

func NewMsgCtx(ctx context.Context, log *slog.Logger, ev Event, entity Entity) MsgCtx {
	if log == nil {
		log = slog.Default()
	}
	return MsgCtx{ctx: ctx, log: log.With(ev.logAttrs()), ev: ev, entity: entity}
}

func (c MsgCtx) Context() context.Context { return c.ctx }
func (c MsgCtx) Log() *slog.Logger        { return c.log }
func (c MsgCtx) Event() Event             { return c.ev }
func (c MsgCtx) Payload() any             { return c.ev.Payload }
func (c MsgCtx) Entity() Entity           { return c.entity }
func (c MsgCtx) Replay() bool             { return c.replay }
func (c MsgCtx) Seq() uint64              { return c.ev.Seq }
func (c MsgCtx) Version() Version         { return c.ev.Version }
func (c MsgCtx) AggregateID() string      { return c.ev.AggregateID }
func (c MsgCtx) Type() string             { return c.ev.Type }

func (c MsgCtx) withContext(ctx context.Context) MsgCtx {
	c.ctx = ctx
	return c
}

type (
	Handler interface {
		Handle(msgCtx MsgCtx) error
	}
	HandleFunc           func(ctx MsgCtx) error
	HandlerMiddleware    func(next Handler) Handler
	MiddlewareHandleFunc func(ctx MsgCtx, next Handler) error
)

// HandlerName is the identity a handler is reported under.
func HandlerName(h Handler) string {
	if n, ok := h.(interface{ Name() string }); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T", h)
}

// WithMiddlewares wraps h; the first middleware is the outermost.
func WithMiddlewares(h Handler, middlewares ...HandlerMiddleware) Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

func (f HandleFunc) Handle(ctx MsgCtx) error { return f(ctx) }

// === middleware ===

type middleware struct {
	next Handler
	mw   MiddlewareHandleFunc
}

func (m *middleware) Handle(msgCtx MsgCtx) error { return m.mw(msgCtx, m.next) }
func (m *middleware) Name() string               { return HandlerName(m.next) }

func MiddlewareHandle(mw MiddlewareHandleFunc) HandlerMiddleware {
	return func(next Handler) Handler {
		return &middleware{next: next, mw: mw}
	}
}

// === log ===

func NewLogMiddleware(attrs ...any) HandlerMiddleware {
	return MiddlewareHandle(func(ctx MsgCtx, next Handler) (err error) {
		handleAt := time.Now()

		log := ctx.Log().With(attrs...)

		err = next.Handle(ctx)
		if err != nil {
			log.Error("failed", slog.Any("error", err), slog.Duration("duration", time.Since(handleAt)))
		} else {
			log.Debug("handled", slog.Duration("duration", time.Since(handleAt)))
		}

		return err
	})
}

// === checkpoint middleware ===

type checkpointHandler struct {
	cp CpStore
	h  Handler
}

func (c *checkpointHandler) Name() string { return HandlerName(c.h) }

func (c *checkpointHandler) Handle(msgCtx MsgCtx) (err error) {
	lastSeenSeq, err := c.cp.Get(msgCtx.Context())
	if err != nil {
		return err
	}

	if msgCtx.Seq() <= lastSeenSeq {
		msgCtx.Log().Debug("skip", slog.Uint64("last_seq", lastSeenSeq), slog.String("middleware", "checkpoint"))
		return nil
	}

	if err = c.h.Handle(msgCtx); err != nil {
		return err
	}
	return c.cp.Set(msgCtx.Context(), msgCtx.Seq())
}

// NewCheckpointMiddleware skips events at or below the stored sequence and
// advances it after each handled event.
func NewCheckpointMiddleware(cp CpStore) HandlerMiddleware {
	return func(handler Handler) Handler {
		return &checkpointHandler{cp: cp, h: handler}
	}
}
