package es

import (
	"context"
	"errors"
	"sync"
)

type commitHooksKey struct{}

type commitHooks struct {
	mu  sync.Mutex
	fns []func(ctx context.Context) error
}

// AfterCommit defers fn until the transaction carried by ctx commits; a
// rollback drops it. Without a transaction fn runs at once and its error is
// returned. Deferred hooks receive the context the transaction was opened
// with, so they never run inside it.
func AfterCommit(ctx context.Context, fn func(ctx context.Context) error) error {
	if h, ok := ctx.Value(commitHooksKey{}).(*commitHooks); ok {
		h.mu.Lock()
		h.fns = append(h.fns, fn)
		h.mu.Unlock()
		return nil
	}
	return fn(ctx)
}

// WithCommitHooks prepares ctx for an outermost transaction. EventLog
// implementations call run with the pre-transaction context after a
// successful commit only; it runs every hook in registration order and joins
// their errors.
func WithCommitHooks(ctx context.Context) (txCtx context.Context, run func(ctx context.Context) error) {
	h := &commitHooks{}
	return context.WithValue(ctx, commitHooksKey{}, h), func(ctx context.Context) error {
		h.mu.Lock()
		fns := h.fns
		h.fns = nil
		h.mu.Unlock()

		var errs []error
		for _, fn := range fns {
			if err := fn(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}
}
