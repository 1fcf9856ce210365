// Package perkey provides a scheduler that serializes work per key while
// allowing work for different keys to execute concurrently.
//
// The command service uses it to run commands addressed to the same aggregate
// one at a time. Workers are reaped once their key has no pending work, so an
// unbounded key space (aggregate ids) does not leak goroutines.
package perkey

import (
	"context"
	"errors"
	"sync"
)

// ErrSchedulerClosed is returned when Do is called on a closed scheduler.
var ErrSchedulerClosed = errors.New("perkey: scheduler is closed")

// Option configures a Scheduler.
type Option func(*config)

type config struct {
	bufferSize int
}

// WithBufferSize sets the task buffer size per worker (default: 64).
func WithBufferSize(size int) Option {
	return func(c *config) {
		if size > 0 {
			c.bufferSize = size
		}
	}
}

// Scheduler runs tasks such that for any given key tasks are executed
// sequentially, in submission order.
type Scheduler[K comparable] struct {
	mu         sync.Mutex
	workers    map[K]*worker
	closed     bool
	wg         sync.WaitGroup // in-flight enqueues
	bufferSize int
}

type worker struct {
	tasks chan *task
	refs  int // tasks submitted and not yet finished
}

type task struct {
	fn   func() error
	done chan error
}

// New creates a new Scheduler.
func New[K comparable](opts ...Option) *Scheduler[K] {
	cfg := &config{bufferSize: 64}
	for _, opt := range opts {
		opt(cfg)
	}
	return &Scheduler[K]{
		workers:    make(map[K]*worker),
		bufferSize: cfg.bufferSize,
	}
}

// Do schedules fn for key and blocks until it has run.
func (s *Scheduler[K]) Do(key K, fn func() error) error {
	return s.DoContext(context.Background(), key, fn)
}

// DoContext is like Do but returns early with the context error if ctx is
// done. A task that was already enqueued still runs.
func (s *Scheduler[K]) DoContext(ctx context.Context, key K, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSchedulerClosed
	}
	s.wg.Add(1)
	w := s.acquireLocked(key)
	s.mu.Unlock()

	t := &task{fn: fn, done: make(chan error, 1)}

	select {
	case w.tasks <- t:
		s.wg.Done()
	case <-ctx.Done():
		s.wg.Done()
		s.release(key, w)
		return ctx.Err()
	}

	select {
	case err := <-t.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Len returns the number of keys that currently have a live worker.
func (s *Scheduler[K]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.workers)
}

// Close stops accepting new tasks. Queued tasks are still processed.
func (s *Scheduler[K]) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.wg.Wait()

	s.mu.Lock()
	for k, w := range s.workers {
		close(w.tasks)
		delete(s.workers, k)
	}
	s.mu.Unlock()
}

func (s *Scheduler[K]) acquireLocked(key K) *worker {
	w, ok := s.workers[key]
	if !ok {
		w = &worker{tasks: make(chan *task, s.bufferSize)}
		s.workers[key] = w
		go s.run(key, w)
	}
	w.refs++
	return w
}

// release drops one reference and retires the worker when it was the last.
func (s *Scheduler[K]) release(key K, w *worker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w.refs--
	if w.refs > 0 {
		return
	}
	if cur, ok := s.workers[key]; ok && cur == w {
		delete(s.workers, key)
		close(w.tasks)
	}
}

func (s *Scheduler[K]) run(key K, w *worker) {
	for t := range w.tasks {
		t.done <- t.fn()
		s.release(key, w)
	}
}
