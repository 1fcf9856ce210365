package es

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"golang.org/x/crypto/blake2b"
)

// ProjectionSnapshotType is the aggregate type projection snapshots are
// stored under. EventVersion holds the last log sequence folded in.
const ProjectionSnapshotType = "projection"

type (
	// Projection consumes persisted events to build read models / indexes.
	Projection interface {
		Name() string
		Handler
	}

	SnapshottableProjection interface {
		Projection
		Snapshottable
	}
)

// SnapshotProjection persists the state of a projection every N events so a
// restart only replays the tail of the log. It is its own CpStore:
//
//	p, _ := es.NewSnapshotProjection(log, inner, snapshotter, 50)
//	_ = p.Restore(ctx)
//	_, _ = store.ReplayFrom(ctx, es.ReplayOptions{Handler: p, Checkpoint: p})
type SnapshotProjection[T SnapshottableProjection] struct {
	log         *slog.Logger
	inner       T
	snapshotter Snapshotter
	every       uint64

	mu           sync.Mutex
	lastSeq      uint64
	persistedSeq uint64
}

func NewSnapshotProjection[T SnapshottableProjection](
	log *slog.Logger,
	innerProjection T,
	snapshotter Snapshotter,
	every int,
) (*SnapshotProjection[T], error) {
	if any(innerProjection) == nil {
		return nil, fmt.Errorf("inner projection is required")
	}
	if snapshotter == nil {
		return nil, ErrSnapshotterUnconfigured
	}
	if every <= 0 {
		every = DefaultSnapshotInterval
	}
	if log == nil {
		log = slog.Default()
	}
	return &SnapshotProjection[T]{
		log:         log.With(slog.String("projection", innerProjection.Name())),
		inner:       innerProjection,
		snapshotter: snapshotter,
		every:       uint64(every),
	}, nil
}

func (p *SnapshotProjection[T]) Projection() T { return p.inner }
func (p *SnapshotProjection[T]) Name() string  { return p.inner.Name() }

func (p *SnapshotProjection[T]) Get(context.Context) (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastSeq, nil
}

func (p *SnapshotProjection[T]) Set(_ context.Context, seq uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if seq > p.lastSeq {
		p.lastSeq = seq
	}
	return nil
}

// Handle folds the event into the projection once the transaction that
// appended it has committed, so a rolled back command leaves no trace in the
// read model. Outside a transaction, replay included, it applies at once.
func (p *SnapshotProjection[T]) Handle(msgCtx MsgCtx) error {
	return AfterCommit(msgCtx.Context(), func(ctx context.Context) error {
		return p.apply(msgCtx.withContext(ctx))
	})
}

func (p *SnapshotProjection[T]) apply(msgCtx MsgCtx) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.inner.Handle(msgCtx); err != nil {
		return err
	}
	if seq := msgCtx.Seq(); seq > p.lastSeq {
		p.lastSeq = seq
	}
	if p.lastSeq-p.persistedSeq < p.every {
		return nil
	}
	return p.snapshotLocked(msgCtx.Context())
}

// Flush persists the current state if anything was handled since the last
// snapshot.
func (p *SnapshotProjection[T]) Flush(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.lastSeq == p.persistedSeq {
		return nil
	}
	return p.snapshotLocked(ctx)
}

func (p *SnapshotProjection[T]) snapshotLocked(ctx context.Context) error {
	data, err := p.inner.Snapshot()
	if err != nil {
		return err
	}
	sum := blake2b.Sum256(data)
	err = p.snapshotter.SaveSnapshot(ctx, &Snapshot{
		ID:            gonanoid.Must(),
		AggregateID:   p.Name(),
		AggregateType: ProjectionSnapshotType,
		EventVersion:  Version(p.lastSeq),
		Encoding:      EncodingCustom,
		Checksum:      sum[:],
		Data:          data,
		CreatedAt:     time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to create snapshot: %w", err)
	}
	p.persistedSeq = p.lastSeq
	p.log.Debug("snapshot created", slog.Uint64("seq", p.persistedSeq))
	return nil
}

// Restore loads the latest projection snapshot, if any, and positions the
// checkpoint right after it.
func (p *SnapshotProjection[T]) Restore(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	s, err := p.snapshotter.LatestSnapshot(ctx, SnapshotQuery{AggregateType: ProjectionSnapshotType}, p.Name())
	if err != nil {
		if errors.Is(err, ErrSnapshotNotFound) {
			return nil
		}
		return fmt.Errorf("failed to restore snapshot projection: %w", err)
	}
	if err := s.Verify(); err != nil {
		return err
	}
	if err := p.inner.RestoreSnapshot(s.Data); err != nil {
		return fmt.Errorf("failed to restore: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastSeq = s.EventVersion.Uint64()
	p.persistedSeq = p.lastSeq
	p.log.Debug("restored projection state", slog.Uint64("seq", p.lastSeq))
	return nil
}

var _ CpStore = (*SnapshotProjection[SnapshottableProjection])(nil)
