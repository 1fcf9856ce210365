package es

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
)

type memTxKey struct{ l *InMemoryLog }

// InMemoryLog is an EventLog and Snapshotter for tests and development.
// Transactions are serialized; a failed InTx discards every event and
// snapshot written inside it.
type InMemoryLog struct {
	txMu sync.Mutex // held for the duration of a transaction

	mu       sync.RWMutex
	log      *slog.Logger
	seq      uint64
	events   []Envelope // seq order
	versions map[string]map[Version]struct{}
	snaps    []*Snapshot
}

func NewInMemoryLog() *InMemoryLog {
	return &InMemoryLog{
		log:      slog.Default().With(slog.String("log", "memory")),
		versions: map[string]map[Version]struct{}{},
	}
}

func (l *InMemoryLog) inTx(ctx context.Context) bool {
	_, ok := ctx.Value(memTxKey{l}).(bool)
	return ok
}

func (l *InMemoryLog) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if l.inTx(ctx) {
		return fn(ctx)
	}

	txCtx, afterCommit := WithCommitHooks(ctx)
	if err := l.runTx(context.WithValue(txCtx, memTxKey{l}, true), fn); err != nil {
		return err
	}
	// txMu is released; hooks may open transactions of their own.
	if err := afterCommit(ctx); err != nil {
		l.log.Error("after commit hooks failed", slog.Any("error", err))
	}
	return nil
}

func (l *InMemoryLog) runTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	l.txMu.Lock()
	defer l.txMu.Unlock()

	l.mu.RLock()
	nEvents, nSnaps, seq := len(l.events), len(l.snaps), l.seq
	l.mu.RUnlock()

	defer func() {
		if r := recover(); r != nil {
			l.rollback(nEvents, nSnaps, seq)
			panic(r)
		}
		if err != nil {
			l.rollback(nEvents, nSnaps, seq)
		}
	}()

	return fn(ctx)
}

func (l *InMemoryLog) rollback(nEvents, nSnaps int, seq uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.events[nEvents:] {
		delete(l.versions[e.AggregateID], e.Version)
	}
	l.events = l.events[:nEvents]
	l.snaps = l.snaps[:nSnaps]
	l.seq = seq
	l.log.Debug("rolled back", slog.Int("events", nEvents), slog.Int("snapshots", nSnaps))
}

func (l *InMemoryLog) Append(ctx context.Context, envs []Envelope) ([]Envelope, error) {
	if !l.inTx(ctx) {
		l.txMu.Lock()
		defer l.txMu.Unlock()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	seen := map[string]map[Version]struct{}{}
	for _, e := range envs {
		if err := e.Validate(); err != nil {
			return nil, err
		}
		_, stored := l.versions[e.AggregateID][e.Version]
		_, dup := seen[e.AggregateID][e.Version]
		if stored || dup {
			return nil, fmt.Errorf("%w: %s at version %d", ErrVersionConflict, e.AggregateID, e.Version)
		}
		if seen[e.AggregateID] == nil {
			seen[e.AggregateID] = map[Version]struct{}{}
		}
		seen[e.AggregateID][e.Version] = struct{}{}
	}

	out := make([]Envelope, 0, len(envs))
	for _, e := range envs {
		l.seq++
		e.Seq = l.seq
		if l.versions[e.AggregateID] == nil {
			l.versions[e.AggregateID] = map[Version]struct{}{}
		}
		l.versions[e.AggregateID][e.Version] = struct{}{}
		l.events = append(l.events, e)
		out = append(out, e)
	}
	l.log.Debug("append", slog.Uint64("last_seq", l.seq), slog.Int("num_events", len(out)))
	return out, nil
}

func (l *InMemoryLog) Query(_ context.Context, f Filter) ([]Envelope, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Envelope, 0)
	for _, e := range l.events {
		if f.Match(e) {
			out = append(out, e)
		}
	}
	sortByVersion(out)
	return out, nil
}

func (l *InMemoryLog) QueryMulti(_ context.Context, f Filter, selectors []Selector) ([]Envelope, error) {
	selectors = ActiveSelectors(selectors)
	out := make([]Envelope, 0)
	if len(selectors) == 0 {
		return out, nil
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, e := range l.events {
		if f.Match(e) && matchSelectors(e, selectors) {
			out = append(out, e)
		}
	}
	sortByVersion(out)
	return out, nil
}

func (l *InMemoryLog) Scan(_ context.Context, f Filter, afterSeq uint64, limit int) ([]Envelope, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Envelope, 0)
	for _, e := range l.events {
		if e.Seq <= afterSeq || !f.Match(e) {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// === snapshots ===

func (l *InMemoryLog) SaveSnapshot(ctx context.Context, s *Snapshot) error {
	if !l.inTx(ctx) {
		l.txMu.Lock()
		defer l.txMu.Unlock()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.snaps = append(l.snaps, s)
	return nil
}

func (l *InMemoryLog) LatestSnapshot(_ context.Context, q SnapshotQuery, aggregateID string) (*Snapshot, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if s := l.latestLocked(q, aggregateID); s != nil {
		return s, nil
	}
	return nil, ErrSnapshotNotFound
}

func (l *InMemoryLog) LatestSnapshots(_ context.Context, q SnapshotQuery, aggregateIDs []string) (map[string]*Snapshot, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[string]*Snapshot, len(aggregateIDs))
	for _, id := range aggregateIDs {
		if s := l.latestLocked(q, id); s != nil {
			out[id] = s
		}
	}
	return out, nil
}

// latestLocked prefers the highest event version, then the latest write.
func (l *InMemoryLog) latestLocked(q SnapshotQuery, aggregateID string) *Snapshot {
	var best *Snapshot
	for _, s := range l.snaps {
		if s.AggregateID != aggregateID || !q.Match(s) {
			continue
		}
		if best == nil || s.EventVersion >= best.EventVersion {
			best = s
		}
	}
	return best
}

func sortByVersion(envs []Envelope) {
	slices.SortStableFunc(envs, func(a, b Envelope) int {
		if c := cmp.Compare(a.Version, b.Version); c != 0 {
			return c
		}
		return cmp.Compare(a.Seq, b.Seq)
	})
}

var (
	_ EventLog    = (*InMemoryLog)(nil)
	_ Snapshotter = (*InMemoryLog)(nil)
)
