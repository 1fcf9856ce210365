package estests

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/codewandler/evsrc/core/es"
	"github.com/codewandler/evsrc/core/es/estests/domain"
)

type recorder struct {
	mu     sync.Mutex
	events []es.Event
	replay []bool
	ents   []es.Entity
	fail   error
}

func (r *recorder) Name() string { return "recorder" }

func (r *recorder) Handle(mc es.MsgCtx) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return r.fail
	}
	r.events = append(r.events, mc.Event())
	r.replay = append(r.replay, mc.Replay())
	r.ents = append(r.ents, mc.Entity())
	return nil
}

func TestPublisher_CommitPublishesInOrder(t *testing.T) {
	var (
		rec = &recorder{}
		te  = startEnv(t, es.WithHandlers(rec))
		ctx = t.Context()
	)
	o := newOrder(t, te, "o-1")
	require.NoError(t, o.Place("alice"))
	require.NoError(t, o.Pay(10))
	require.NoError(t, te.Repository().Commit(ctx, o))

	require.Len(t, rec.events, 2)
	require.Equal(t, "order_placed", rec.events[0].Type)
	require.Equal(t, "order_paid", rec.events[1].Type)
	require.NotZero(t, rec.events[0].Seq)
	require.Less(t, rec.events[0].Seq, rec.events[1].Seq)
	require.Same(t, o, rec.ents[0])
	require.Equal(t, []bool{false, false}, rec.replay)
}

func TestPublisher_FailureIsReportedAndReturned(t *testing.T) {
	var (
		boom     = errors.New("boom")
		first    = &recorder{}
		second   = &recorder{fail: boom}
		reported []error
		te       = startEnv(
			t,
			es.WithHandlers(first, es.HandleFunc(func(mc es.MsgCtx) error { return second.Handle(mc) })),
			es.WithReporter(es.ReporterFunc(func(_ context.Context, err error) { reported = append(reported, err) })),
		)
		ctx = t.Context()
	)
	o := newOrder(t, te, "o-1")
	require.NoError(t, o.Place("alice"))

	err := te.Repository().Commit(ctx, o)
	require.ErrorIs(t, err, boom)
	var perr *es.PublishError
	require.ErrorAs(t, err, &perr)
	require.Equal(t, "es.HandleFunc", perr.Handler)
	require.Equal(t, "order_placed", perr.Event.Type)
	require.Len(t, reported, 1)
	require.Len(t, first.events, 1, "handlers before the failing one ran")
	require.Len(t, o.Uncommitted(), 1, "not marked committed")

	// outside a transaction the events stay stored
	require.Len(t, te.Assert().Events(ctx, "o-1"), 1)
}

func TestPublisher_FailureInsideTxRollsBack(t *testing.T) {
	var (
		boom = errors.New("boom")
		te   = startEnv(t, es.WithHandlers(&recorder{fail: boom}))
		ctx  = t.Context()
		repo = te.Repository()
	)
	o := newOrder(t, te, "o-1")
	require.NoError(t, o.Place("alice"))

	err := repo.InTx(ctx, func(ctx context.Context) error { return repo.Commit(ctx, o) })
	require.ErrorIs(t, err, boom)
	require.Empty(t, te.Assert().Events(ctx, "o-1"))
}

func TestRouter(t *testing.T) {
	var (
		paid   []int
		placed []string
		router = es.NewRouter(
			"orders",
			es.On(func(_ es.MsgCtx, e *domain.OrderPaid) error { paid = append(paid, e.Amount); return nil }),
			es.On(func(_ es.MsgCtx, e *domain.OrderPlaced) error { placed = append(placed, e.Customer); return nil }),
		)
		te  = startEnv(t, es.WithHandlers(router))
		ctx = t.Context()
	)
	require.True(t, router.Handles(&domain.OrderPaid{}))
	require.False(t, router.Handles(&domain.OrderShipped{}))

	o := newOrder(t, te, "o-1")
	require.NoError(t, o.Place("alice"))
	require.NoError(t, o.Pay(3))
	require.NoError(t, o.Ship())
	require.NoError(t, te.Repository().Commit(ctx, o))

	require.Equal(t, []int{3}, paid)
	require.Equal(t, []string{"alice"}, placed)
}

func TestRouter_WrapsErrors(t *testing.T) {
	boom := errors.New("boom")
	router := es.NewRouter("orders", es.On(func(es.MsgCtx, *domain.OrderPaid) error { return boom }))
	err := router.Handle(es.NewMsgCtx(t.Context(), nil, es.Event{Payload: &domain.OrderPaid{}}, nil))
	require.ErrorIs(t, err, boom)
	require.ErrorContains(t, err, "orders")
}

func TestReplayFrom_Checkpoint(t *testing.T) {
	var (
		te  = startEnv(t)
		ctx = t.Context()
		cp  = es.NewInMemCpStore()
	)
	for _, id := range []string{"a", "b", "c"} {
		te.Assert().Append(ctx, domain.TestAggType, id, 0, domain.Incremented{Inc: 1}, domain.Incremented{Inc: 1})
	}

	rec := &recorder{}
	n, err := te.Store().ReplayFrom(ctx, es.ReplayOptions{Handler: rec, Checkpoint: cp, BatchSize: 4})
	require.NoError(t, err)
	require.Equal(t, 6, n)
	require.Len(t, rec.events, 6)
	require.Equal(t, []bool{true, true, true, true, true, true}, rec.replay)
	last, _ := cp.Get(ctx)
	require.Equal(t, uint64(6), last)

	te.Assert().Append(ctx, domain.TestAggType, "a", 2, domain.Incremented{Inc: 1})
	n, err = te.Store().ReplayFrom(ctx, es.ReplayOptions{Handler: rec, Checkpoint: cp})
	require.NoError(t, err)
	require.Equal(t, 1, n)

	n, err = te.Store().ReplayFrom(ctx, es.ReplayOptions{Handler: rec, Filter: es.Filter{AggregateID: "b"}})
	require.NoError(t, err)
	require.Equal(t, 2, n)
}

// countProjection counts events per aggregate.
type countProjection struct {
	mu     sync.Mutex
	Counts map[string]int `json:"counts"`
}

func newCountProjection() *countProjection { return &countProjection{Counts: map[string]int{}} }

func (p *countProjection) Name() string { return "counts" }
func (p *countProjection) Handle(mc es.MsgCtx) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Counts[mc.AggregateID()]++
	return nil
}
func (p *countProjection) Remove(_ context.Context, aggregateID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.Counts, aggregateID)
	return nil
}
func (p *countProjection) Snapshot() ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return json.Marshal(p)
}
func (p *countProjection) RestoreSnapshot(data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return json.Unmarshal(data, p)
}

func TestReplayFor(t *testing.T) {
	var (
		p   = newCountProjection()
		te  = startEnv(t, es.WithHandlers(p))
		ctx = t.Context()
	)
	te.Assert().Append(ctx, domain.TestAggType, "a", 0, domain.Incremented{Inc: 1}, domain.Incremented{Inc: 1})
	te.Assert().Append(ctx, domain.TestAggType, "b", 0, domain.Incremented{Inc: 1})
	require.Equal(t, map[string]int{"a": 2, "b": 1}, p.Counts)

	p.Counts["a"] = 99
	require.NoError(t, te.Store().ReplayFor(ctx, p, "a"))
	require.Equal(t, map[string]int{"a": 2, "b": 1}, p.Counts)
}

func TestSnapshotProjection_Resumes(t *testing.T) {
	var (
		te  = startEnv(t)
		ctx = t.Context()
	)
	for _, id := range []string{"a", "b", "c"} {
		te.Assert().Append(ctx, domain.TestAggType, id, 0, domain.Incremented{Inc: 1}, domain.Incremented{Inc: 1})
	}

	p, err := es.NewSnapshotProjection(nil, newCountProjection(), te.Snapshotter(), 4)
	require.NoError(t, err)
	require.NoError(t, p.Restore(ctx))
	n, err := te.Store().ReplayFrom(ctx, es.ReplayOptions{Handler: p, Checkpoint: p})
	require.NoError(t, err)
	require.Equal(t, 6, n)

	// snapshot at seq 4 only; a restart replays the tail
	restarted, err := es.NewSnapshotProjection(nil, newCountProjection(), te.Snapshotter(), 4)
	require.NoError(t, err)
	require.NoError(t, restarted.Restore(ctx))
	seq, _ := restarted.Get(ctx)
	require.Equal(t, uint64(4), seq)
	require.Equal(t, map[string]int{"a": 2, "b": 2}, restarted.Projection().Counts)

	n, err = te.Store().ReplayFrom(ctx, es.ReplayOptions{Handler: restarted, Checkpoint: restarted})
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Equal(t, p.Projection().Counts, restarted.Projection().Counts)

	require.NoError(t, restarted.Flush(ctx))
	again, err := es.NewSnapshotProjection(nil, newCountProjection(), te.Snapshotter(), 4)
	require.NoError(t, err)
	require.NoError(t, again.Restore(ctx))
	seq, _ = again.Get(ctx)
	require.Equal(t, uint64(6), seq)
}

func TestSnapshotProjection_AppliesAfterCommit(t *testing.T) {
	var (
		ctx   = t.Context()
		snaps = es.NewInMemoryLog()
		boom  = errors.New("boom")
	)
	p, err := es.NewSnapshotProjection(nil, newCountProjection(), snaps, 1)
	require.NoError(t, err)
	rejectBad := es.HandleFunc(func(mc es.MsgCtx) error {
		if mc.AggregateID() == "bad" {
			return boom
		}
		return nil
	})
	te := startEnv(t, es.WithHandlers(p, rejectBad))

	commit := func(ctx context.Context, id string) error {
		c := newCounter(t, te, id)
		if err := c.Inc(); err != nil {
			return err
		}
		return te.Repository().Commit(ctx, c)
	}

	// a later handler fails, the transaction rolls back and the projection
	// never sees the event
	err = te.InTx(ctx, func(ctx context.Context) error {
		if err := commit(ctx, "a"); err != nil {
			return err
		}
		return commit(ctx, "bad")
	})
	require.ErrorIs(t, err, boom)
	require.Empty(t, p.Projection().Counts)
	seq, _ := p.Get(ctx)
	require.Zero(t, seq)
	_, err = snaps.LatestSnapshot(ctx, es.SnapshotQuery{AggregateType: es.ProjectionSnapshotType}, p.Name())
	require.ErrorIs(t, err, es.ErrSnapshotNotFound)

	err = te.InTx(ctx, func(ctx context.Context) error {
		if err := commit(ctx, "a"); err != nil {
			return err
		}
		require.Empty(t, p.Projection().Counts)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, map[string]int{"a": 1}, p.Projection().Counts)
	seq, _ = p.Get(ctx)
	require.Equal(t, uint64(1), seq)
	_, err = snaps.LatestSnapshot(ctx, es.SnapshotQuery{AggregateType: es.ProjectionSnapshotType}, p.Name())
	require.NoError(t, err)

	// outside a transaction the event applies at once
	require.NoError(t, commit(ctx, "b"))
	require.Equal(t, map[string]int{"a": 1, "b": 1}, p.Projection().Counts)
}
