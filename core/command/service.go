package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/codewandler/evsrc/core/es"
	"github.com/codewandler/evsrc/core/perkey"
)

// ErrUnhandled is returned by a Mux asked to handle a kind it has no route
// for.
var ErrUnhandled = errors.New("no route for command")

// TxRunner opens the transaction a command runs in.
type TxRunner = es.TxRunner

// SilentExecuteError wraps a failure swallowed by a silent service.
type SilentExecuteError struct {
	Command any
	Err     error
}

func (e *SilentExecuteError) Error() string {
	return fmt.Sprintf("silent execute %s: %v", kindName(e.Command), e.Err)
}

func (e *SilentExecuteError) Unwrap() error { return e.Err }

type (
	serviceOpts struct {
		log         *slog.Logger
		handlers    []Handler
		silent      bool
		reporter    es.Reporter
		passThrough func(error) bool
		skip        bool
		keyFn       func(cmd any) string
	}

	Option func(*serviceOpts)
)

func WithLog(log *slog.Logger) Option { return func(o *serviceOpts) { o.log = log } }

// WithHandlers appends handlers; they run in the order given.
func WithHandlers(hs ...Handler) Option {
	return func(o *serviceOpts) { o.handlers = append(o.handlers, hs...) }
}

// WithSilent reports failures to reporter instead of returning them.
func WithSilent(reporter es.Reporter) Option {
	return func(o *serviceOpts) {
		o.silent = true
		o.reporter = reporter
	}
}

// WithPassThrough names the errors a silent service still returns.
func WithPassThrough(match func(error) bool) Option {
	return func(o *serviceOpts) { o.passThrough = match }
}

// WithSkipExecution turns Execute into a no-op.
func WithSkipExecution() Option { return func(o *serviceOpts) { o.skip = true } }

// WithSerializeBy runs commands with the same non-empty key one at a time.
func WithSerializeBy(keyFn func(cmd any) string) Option {
	return func(o *serviceOpts) { o.keyFn = keyFn }
}

// Service executes commands against the handlers that accept them.
type Service struct {
	log         *slog.Logger
	tx          TxRunner
	handlers    []Handler
	silent      bool
	reporter    es.Reporter
	passThrough func(error) bool
	skip        bool
	keyFn       func(cmd any) string
	sched       *perkey.Scheduler[string]
}

func NewService(tx TxRunner, opts ...Option) *Service {
	options := serviceOpts{log: slog.Default()}
	for _, opt := range opts {
		opt(&options)
	}
	log := options.log.With(slog.String("component", "command"))
	if options.silent && options.reporter == nil {
		options.reporter = es.LogReporter(log)
	}
	s := &Service{
		log:         log,
		tx:          tx,
		handlers:    append([]Handler(nil), options.handlers...),
		silent:      options.silent,
		reporter:    options.reporter,
		passThrough: options.passThrough,
		skip:        options.skip,
		keyFn:       options.keyFn,
	}
	if s.keyFn != nil {
		s.sched = perkey.New[string]()
	}
	return s
}

// Execute runs every handler accepting cmd, in registration order, inside
// one transaction. The first failure rolls the transaction back.
func (s *Service) Execute(ctx context.Context, cmd any) error {
	if s.skip {
		return nil
	}
	err := s.serialized(ctx, cmd)
	if err == nil || !s.silent {
		return err
	}
	if s.passThrough != nil && s.passThrough(err) {
		return err
	}
	s.reporter.Report(ctx, &SilentExecuteError{Command: cmd, Err: err})
	return nil
}

// Close stops the per-key workers of a serializing service.
func (s *Service) Close() {
	if s.sched != nil {
		s.sched.Close()
	}
}

func (s *Service) serialized(ctx context.Context, cmd any) error {
	if s.sched == nil {
		return s.run(ctx, cmd)
	}
	key := s.keyFn(cmd)
	if key == "" {
		return s.run(ctx, cmd)
	}
	return s.sched.DoContext(ctx, key, func() error { return s.run(ctx, cmd) })
}

func (s *Service) run(ctx context.Context, cmd any) error {
	start := time.Now()
	log := s.log.With(slog.String("command", kindName(cmd)))

	handled := 0
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		for _, h := range s.handlers {
			if !h.Handles(cmd) {
				continue
			}
			handled++
			if err := h.Handle(ctx, cmd); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		log.Debug("failed", slog.Any("error", err), slog.Duration("duration", time.Since(start)))
		return err
	}
	log.Debug("executed", slog.Int("handlers", handled), slog.Duration("duration", time.Since(start)))
	return nil
}
