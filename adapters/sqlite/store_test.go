package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/codewandler/evsrc/core/es"
	"github.com/codewandler/evsrc/core/es/estests/domain"
	"github.com/codewandler/evsrc/ports/kv"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.Context(), Config{Path: filepath.Join(t.TempDir(), "es.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func env(aggType, aggID string, v es.Version, typ string) es.Envelope {
	return es.Envelope{
		AggregateType: aggType,
		AggregateID:   aggID,
		Version:       v,
		CreatedAt:     time.Unix(1700000000, int64(v)).UTC(),
		Type:          typ,
		Data:          []byte(`{"inc":1}`),
	}
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(t.Context(), Config{})
	require.Error(t, err)
}

func TestOpen_MigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "es.db")
	s, err := Open(t.Context(), Config{Path: path})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(t.Context(), Config{Path: path})
	require.NoError(t, err)
	require.NoError(t, s.Close())
}

func TestStore_AppendAndQuery(t *testing.T) {
	var (
		s   = openTestStore(t)
		ctx = t.Context()
	)

	out, err := s.Append(ctx, []es.Envelope{env("counter", "a", 1, "incremented"), env("counter", "a", 2, "incremented")})
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.Equal(t, uint64(1), out[0].Seq)
	require.Equal(t, uint64(2), out[1].Seq)

	_, err = s.Append(ctx, []es.Envelope{env("counter", "b", 1, "incremented")})
	require.NoError(t, err)

	got, err := s.Query(ctx, es.Filter{AggregateID: "a"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, es.Version(1), got[0].Version)
	require.Equal(t, "counter", got[0].AggregateType)
	require.JSONEq(t, `{"inc":1}`, string(got[0].Data))
	require.True(t, got[0].CreatedAt.Equal(time.Unix(1700000000, 1)))

	got, err = s.Query(ctx, es.Filter{AggregateID: "a", FromVersion: 1})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, es.Version(2), got[0].Version)

	got, err = s.Query(ctx, es.Filter{AggregateID: "a", UntilVersion: 1})
	require.NoError(t, err)
	require.Len(t, got, 1)

	got, err = s.Query(ctx, es.Filter{AggregateID: "a", UntilCreatedAt: time.Unix(1700000000, 1)})
	require.NoError(t, err)
	require.Len(t, got, 1)
}

func TestStore_AppendRejectsInvalid(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Append(t.Context(), []es.Envelope{{AggregateID: "a", Version: 1}})
	require.ErrorIs(t, err, es.ErrInvalidEnvelope)
}

func TestStore_VersionConflict(t *testing.T) {
	var (
		s   = openTestStore(t)
		ctx = t.Context()
	)
	_, err := s.Append(ctx, []es.Envelope{env("counter", "a", 1, "incremented")})
	require.NoError(t, err)

	_, err = s.Append(ctx, []es.Envelope{env("counter", "a", 2, "incremented"), env("counter", "a", 1, "incremented")})
	require.ErrorIs(t, err, es.ErrVersionConflict)

	// the whole batch rolled back
	got, err := s.Query(ctx, es.Filter{AggregateID: "a"})
	require.NoError(t, err)
	require.Len(t, got, 1)
}

func TestStore_QueryMulti(t *testing.T) {
	var (
		s   = openTestStore(t)
		ctx = t.Context()
	)
	_, err := s.Append(ctx, []es.Envelope{
		env("counter", "a", 1, "incremented"),
		env("counter", "b", 1, "incremented"),
		env("counter", "b", 2, "incremented"),
		env("counter", "a", 2, "incremented"),
		env("counter", "a", 3, "incremented"),
		env("counter", "c", 1, "incremented"),
	})
	require.NoError(t, err)

	got, err := s.QueryMulti(ctx, es.Filter{}, []es.Selector{
		{AggregateID: "a", FromVersion: 2},
		{AggregateID: "b"},
		{},
	})
	require.NoError(t, err)
	require.Len(t, got, 3)
	require.Equal(t, "b", got[0].AggregateID)
	require.Equal(t, es.Version(1), got[0].Version)
	require.Equal(t, "b", got[1].AggregateID)
	require.Equal(t, es.Version(2), got[1].Version)
	require.Equal(t, "a", got[2].AggregateID)
	require.Equal(t, es.Version(3), got[2].Version)

	got, err = s.QueryMulti(ctx, es.Filter{}, nil)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestStore_Scan(t *testing.T) {
	var (
		s   = openTestStore(t)
		ctx = t.Context()
	)
	for i := range 5 {
		_, err := s.Append(ctx, []es.Envelope{env("counter", "a", es.Version(i+1), "incremented")})
		require.NoError(t, err)
	}

	got, err := s.Scan(ctx, es.Filter{}, 2, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, uint64(3), got[0].Seq)
	require.Equal(t, uint64(4), got[1].Seq)

	got, err = s.Scan(ctx, es.Filter{}, 0, 0)
	require.NoError(t, err)
	require.Len(t, got, 5)
}

func TestStore_InTxRollsBack(t *testing.T) {
	var (
		s    = openTestStore(t)
		ctx  = t.Context()
		boom = errors.New("boom")
	)

	err := s.InTx(ctx, func(ctx context.Context) error {
		_, err := s.Append(ctx, []es.Envelope{env("counter", "a", 1, "incremented")})
		require.NoError(t, err)

		// reads inside the tx see its writes
		got, err := s.Query(ctx, es.Filter{AggregateID: "a"})
		require.NoError(t, err)
		require.Len(t, got, 1)

		require.NoError(t, s.KV().Put(ctx, "k", kv.Entry{Data: []byte("1")}, kv.PutOptions{}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := s.Query(ctx, es.Filter{AggregateID: "a"})
	require.NoError(t, err)
	require.Empty(t, got)

	_, err = s.KV().Get(ctx, "k")
	require.ErrorIs(t, err, kv.ErrNotFound)
}

func TestStore_Snapshots(t *testing.T) {
	var (
		s   = openTestStore(t)
		ctx = t.Context()
		q   = es.SnapshotQuery{AggregateType: "counter", SchemaVersion: 1}
	)

	_, err := s.LatestSnapshot(ctx, q, "a")
	require.ErrorIs(t, err, es.ErrSnapshotNotFound)

	save := func(id, aggID string, v es.Version, schema int) {
		require.NoError(t, s.SaveSnapshot(ctx, &es.Snapshot{
			ID:            id,
			AggregateID:   aggID,
			AggregateType: "counter",
			EventVersion:  v,
			SchemaVersion: schema,
			Encoding:      "json",
			Checksum:      []byte{1, 2},
			Data:          []byte(`{}`),
			CreatedAt:     time.Unix(1700000000+int64(v), 0),
		}))
	}
	save("s1", "a", 2, 1)
	save("s2", "a", 4, 1)
	save("s3", "a", 6, 2)
	save("s4", "b", 3, 1)

	snap, err := s.LatestSnapshot(ctx, q, "a")
	require.NoError(t, err)
	require.Equal(t, "s2", snap.ID)
	require.Equal(t, es.Version(4), snap.EventVersion)
	require.Equal(t, []byte{1, 2}, snap.Checksum)

	bounded := q
	bounded.UntilVersion = 3
	snap, err = s.LatestSnapshot(ctx, bounded, "a")
	require.NoError(t, err)
	require.Equal(t, "s1", snap.ID)

	bounded = q
	bounded.UntilCreatedAt = time.Unix(1700000002, 0)
	snap, err = s.LatestSnapshot(ctx, bounded, "a")
	require.NoError(t, err)
	require.Equal(t, "s1", snap.ID)

	snaps, err := s.LatestSnapshots(ctx, q, []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	require.Equal(t, "s2", snaps["a"].ID)
	require.Equal(t, "s4", snaps["b"].ID)

	snaps, err = s.LatestSnapshots(ctx, q, nil)
	require.NoError(t, err)
	require.Empty(t, snaps)
}

func TestStore_KV(t *testing.T) {
	var (
		s   = openTestStore(t)
		ctx = t.Context()
		kvs = s.KV()
	)

	_, err := kvs.Get(ctx, "missing")
	require.ErrorIs(t, err, kv.ErrNotFound)

	require.NoError(t, kv.Put(ctx, kvs, "seq", uint64(3), kv.PutOptions{}))
	require.NoError(t, kv.Put(ctx, kvs, "seq", uint64(9), kv.PutOptions{}))
	v, err := kv.Get[uint64](ctx, kvs, "seq")
	require.NoError(t, err)
	require.Equal(t, uint64(9), v)

	require.NoError(t, kvs.Put(ctx, "gone", kv.Entry{Data: []byte("1")}, kv.PutOptions{TTL: time.Nanosecond}))
	time.Sleep(time.Millisecond)
	_, err = kvs.Get(ctx, "gone")
	require.ErrorIs(t, err, kv.ErrNotFound)

	require.NoError(t, kvs.Delete(ctx, "seq"))
	_, err = kvs.Get(ctx, "seq")
	require.ErrorIs(t, err, kv.ErrNotFound)

	cp, err := es.NewKVCpStore(kvs, "cp")
	require.NoError(t, err)
	require.NoError(t, cp.Set(ctx, 12))
	seq, err := cp.Get(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(12), seq)
}

func TestStore_Env(t *testing.T) {
	var (
		s   = openTestStore(t)
		ctx = t.Context()
	)
	e, err := es.NewEnv(
		es.WithEventLog(s),
		es.WithEvents(domain.TestAggEvents()...),
		es.WithEvents(domain.OrderEvents()...),
		es.WithAggregateTypes(domain.NewTestAggType(2), domain.NewOrderType()),
		es.WithDomainTypes(domain.NewLineItemType()),
	)
	require.NoError(t, err)
	require.Same(t, es.Snapshotter(s), e.Snapshotter())

	repo := e.Repository()
	agg, err := repo.New(domain.TestAggType, "c-1", "")
	require.NoError(t, err)
	c := agg.(*domain.TestAgg)
	for range 3 {
		require.NoError(t, c.Inc())
	}
	require.NoError(t, repo.Commit(ctx, c))

	snap, err := s.LatestSnapshot(ctx, es.SnapshotQuery{AggregateType: domain.TestAggType}, "c-1")
	require.NoError(t, err)
	require.Equal(t, es.Version(3), snap.EventVersion)

	loaded, err := repo.Load(ctx, domain.TestAggType, "c-1")
	require.NoError(t, err)
	require.Equal(t, 3, loaded.(*domain.TestAgg).Count())
	require.Equal(t, es.Version(3), loaded.(*domain.TestAgg).GetVersion())

	// order with a line item domain sharing its version counter
	agg, err = repo.New(domain.OrderType, "o-1", "")
	require.NoError(t, err)
	o := agg.(*domain.Order)
	require.NoError(t, o.Place("alice"))
	require.NoError(t, repo.Commit(ctx, o))
	item, err := o.AddItem(ctx, "sku-1", 2, 5)
	require.NoError(t, err)
	require.NoError(t, repo.Commit(ctx, item))

	for _, useSnapshot := range []bool{true, false} {
		loaded, err = repo.Load(ctx, domain.OrderType, "o-1", es.WithSnapshot(useSnapshot))
		require.NoError(t, err)
		order := loaded.(*domain.Order)
		require.Equal(t, "alice", order.Customer)
		require.Equal(t, 10, order.Total)
		require.Equal(t, es.Version(2), order.GetVersion())
	}

	dom, err := repo.LoadDomain(ctx, domain.LineItemType, "sku-1", es.WithAggregateID("o-1"))
	require.NoError(t, err)
	require.Equal(t, 2, dom.(*domain.LineItem).Qty)
}

func TestStore_CheckpointInTx(t *testing.T) {
	var (
		s   = openTestStore(t)
		ctx = t.Context()
	)
	cp, err := es.NewKVCpStore(s.KV(), "cp/counter")
	require.NoError(t, err)

	handled := 0
	counter := es.WithMiddlewares(es.HandleFunc(func(es.MsgCtx) error {
		handled++
		return nil
	}), es.NewCheckpointMiddleware(cp))

	e, err := es.NewEnv(
		es.WithEventLog(s),
		es.WithEvents(domain.TestAggEvents()...),
		es.WithAggregateTypes(domain.NewTestAggType(100)),
		es.WithHandlers(counter),
	)
	require.NoError(t, err)

	commit := func(ctx context.Context, id string, n int) error {
		agg, err := e.Repository().New(domain.TestAggType, id, "")
		if err != nil {
			return err
		}
		c := agg.(*domain.TestAgg)
		for range n {
			if err := c.Inc(); err != nil {
				return err
			}
		}
		return e.Repository().Commit(ctx, c)
	}

	require.NoError(t, e.InTx(ctx, func(ctx context.Context) error {
		return commit(ctx, "c-1", 2)
	}))
	require.Equal(t, 2, handled)
	seq, err := cp.Get(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(2), seq)

	// the checkpoint write is part of the transaction
	boom := errors.New("boom")
	err = e.InTx(ctx, func(ctx context.Context) error {
		if err := commit(ctx, "c-2", 1); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)
	seq, err = cp.Get(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(2), seq)

	envs, err := s.Scan(ctx, es.Filter{}, 0, 10)
	require.NoError(t, err)
	require.Len(t, envs, 2)
}

func TestStore_AfterCommitRunsOutsideTx(t *testing.T) {
	var (
		s   = openTestStore(t)
		ctx = t.Context()
	)

	var seen []es.Envelope
	err := s.InTx(ctx, func(ctx context.Context) error {
		if _, err := s.Append(ctx, []es.Envelope{env("order", "o-1", 1, "placed")}); err != nil {
			return err
		}
		return es.AfterCommit(ctx, func(ctx context.Context) error {
			// a second connection would block behind the open transaction
			envs, err := s.Scan(ctx, es.Filter{}, 0, 10)
			seen = envs
			return err
		})
	})
	require.NoError(t, err)
	require.Len(t, seen, 1)

	ran := false
	err = s.InTx(ctx, func(ctx context.Context) error {
		_ = es.AfterCommit(ctx, func(context.Context) error {
			ran = true
			return nil
		})
		return errors.New("abort")
	})
	require.Error(t, err)
	require.False(t, ran)
}
