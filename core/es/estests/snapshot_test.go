package estests

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/codewandler/evsrc/core/es"
	"github.com/codewandler/evsrc/core/es/estests/domain"
)

func orderSnapshot(t *testing.T, te *es.TestingEnv, id string, schema int) *es.Snapshot {
	t.Helper()
	s, err := te.Snapshotter().LatestSnapshot(
		t.Context(),
		es.SnapshotQuery{AggregateType: domain.OrderType, SchemaVersion: schema},
		id,
	)
	if err != nil {
		return nil
	}
	return s
}

func TestSnapshot_TakenAtInterval(t *testing.T) {
	var (
		te   = startEnv(t)
		repo = te.Repository()
		ctx  = t.Context()
	)

	o := newOrder(t, te, "o-1")
	require.NoError(t, o.Place("alice"))
	require.NoError(t, repo.Commit(ctx, o))
	require.Nil(t, orderSnapshot(t, te, "o-1", 1), "one event is below the interval")

	require.NoError(t, o.Pay(100))
	require.NoError(t, repo.Commit(ctx, o))
	s := orderSnapshot(t, te, "o-1", 1)
	require.NotNil(t, s)
	require.Equal(t, es.Version(2), s.EventVersion)
	require.Equal(t, "json", s.Encoding)
	require.NoError(t, s.Verify())
	require.Same(t, s, o.LatestSnapshot())

	loaded, err := repo.Load(ctx, domain.OrderType, "o-1")
	require.NoError(t, err)
	lo := loaded.(*domain.Order)
	require.Equal(t, domain.StatePaid, lo.State)
	require.Equal(t, "alice", lo.Customer)
	require.Equal(t, 100, lo.Paid)
	require.Equal(t, es.Version(2), lo.GetVersion())
	require.Empty(t, lo.Applied(), "state came from the snapshot")
	require.NotNil(t, lo.LatestSnapshot())

	// one more event: applied since load is below the interval
	require.NoError(t, lo.Ship())
	require.False(t, es.SnapshotTakeable(lo))
	require.NoError(t, repo.Commit(ctx, lo))
	require.Equal(t, es.Version(2), orderSnapshot(t, te, "o-1", 1).EventVersion)

	loaded, err = repo.Load(ctx, domain.OrderType, "o-1")
	require.NoError(t, err)
	require.Equal(t, domain.StateShipped, loaded.(*domain.Order).State)
	require.Len(t, loaded.(*domain.Order).Applied(), 1)
}

func TestSnapshot_LoadWithoutSnapshot(t *testing.T) {
	var (
		te   = startEnv(t)
		repo = te.Repository()
		ctx  = t.Context()
	)
	o := newOrder(t, te, "o-1")
	require.NoError(t, o.Place("alice"))
	require.NoError(t, o.Pay(5))
	require.NoError(t, repo.Commit(ctx, o))

	loaded, err := repo.Load(ctx, domain.OrderType, "o-1", es.WithSnapshot(false))
	require.NoError(t, err)
	lo := loaded.(*domain.Order)
	require.Nil(t, lo.LatestSnapshot())
	require.Len(t, lo.Applied(), 2)
	require.Equal(t, domain.StatePaid, lo.State)
}

func TestSnapshot_SchemaVersionInvalidates(t *testing.T) {
	var (
		te  = startEnv(t)
		ctx = t.Context()
	)
	o := newOrder(t, te, "o-1")
	require.NoError(t, o.Place("alice"))
	require.NoError(t, o.Pay(5))
	require.NoError(t, te.Repository().Commit(ctx, o))
	require.NotNil(t, orderSnapshot(t, te, "o-1", 1))

	v2 := domain.NewOrderType()
	v2.SchemaVersion = 2
	next := es.StartTestEnv(
		t,
		es.WithEventLog(te.EventLog()),
		es.WithEvents(domain.OrderEvents()...),
		es.WithAggregateTypes(v2),
	)
	loaded, err := next.Repository().Load(ctx, domain.OrderType, "o-1")
	require.NoError(t, err)
	require.Nil(t, loaded.(*domain.Order).LatestSnapshot())
	require.Len(t, loaded.(*domain.Order).Applied(), 2)
	require.Equal(t, domain.StatePaid, loaded.(*domain.Order).State)
}

func TestSnapshot_HistoricalLoadSkipsNewerSnapshot(t *testing.T) {
	var (
		te   = startEnv(t)
		repo = te.Repository()
		ctx  = t.Context()
	)
	o := newOrder(t, te, "o-1")
	require.NoError(t, o.Place("alice"))
	require.NoError(t, o.Pay(5))
	require.NoError(t, repo.Commit(ctx, o))

	loaded, err := repo.Load(ctx, domain.OrderType, "o-1", es.WithUntilVersion(1))
	require.NoError(t, err)
	lo := loaded.(*domain.Order)
	require.Nil(t, lo.LatestSnapshot())
	require.Equal(t, domain.StateCreated, lo.State)
	require.Equal(t, es.Version(1), lo.GetVersion())
}

func TestSnapshot_CorruptIsIgnored(t *testing.T) {
	var (
		te   = startEnv(t)
		repo = te.Repository()
		ctx  = t.Context()
	)
	o := newOrder(t, te, "o-1")
	require.NoError(t, o.Place("alice"))
	require.NoError(t, repo.Commit(ctx, o))

	require.NoError(t, te.Snapshotter().SaveSnapshot(ctx, &es.Snapshot{
		ID:            "bad",
		AggregateID:   "o-1",
		AggregateType: domain.OrderType,
		EventVersion:  1,
		SchemaVersion: 1,
		Encoding:      "json",
		Checksum:      []byte("nope"),
		Data:          []byte(`{"state":"shipped"}`),
		CreatedAt:     time.Now(),
	}))

	loaded, err := repo.Load(ctx, domain.OrderType, "o-1")
	require.NoError(t, err)
	require.Nil(t, loaded.(*domain.Order).LatestSnapshot())
	require.Equal(t, domain.StateCreated, loaded.(*domain.Order).State)
	require.Equal(t, "alice", loaded.(*domain.Order).Customer)
}

func TestSnapshot_CBORCodec(t *testing.T) {
	typ := domain.NewOrderType()
	typ.Codec = es.CBORCodec{}
	var (
		te = es.StartTestEnv(
			t,
			es.WithEvents(domain.OrderEvents()...),
			es.WithAggregateTypes(typ),
		)
		repo = te.Repository()
		ctx  = t.Context()
	)
	o := newOrder(t, te, "o-1")
	require.NoError(t, o.Place("bob"))
	require.NoError(t, o.Pay(7))
	require.NoError(t, repo.Commit(ctx, o))

	s := orderSnapshot(t, te, "o-1", 1)
	require.NotNil(t, s)
	require.Equal(t, "cbor", s.Encoding)

	loaded, err := repo.Load(ctx, domain.OrderType, "o-1")
	require.NoError(t, err)
	require.NotNil(t, loaded.(*domain.Order).LatestSnapshot())
	require.Equal(t, "bob", loaded.(*domain.Order).Customer)
	require.Equal(t, 7, loaded.(*domain.Order).Paid)
}

func TestSnapshot_Disabled(t *testing.T) {
	var (
		te   = startEnv(t, es.WithoutSnapshots())
		repo = te.Repository()
		ctx  = t.Context()
	)
	require.False(t, repo.SnapshotsEnabled())

	o := newOrder(t, te, "o-1")
	require.NoError(t, o.Place("alice"))
	require.NoError(t, o.Pay(5))
	require.NoError(t, repo.Commit(ctx, o))
	require.Nil(t, o.LatestSnapshot())

	_, err := repo.TakeSnapshot(ctx, o)
	require.ErrorIs(t, err, es.ErrSnapshotterUnconfigured)
}

func TestSnapshot_TakeableRules(t *testing.T) {
	te := startEnv(t)
	o := newOrder(t, te, "o-1")
	require.False(t, es.SnapshotTakeable(o))
	require.NoError(t, o.Place("alice"))
	require.False(t, es.SnapshotTakeable(o))
	require.NoError(t, o.Pay(1))
	require.True(t, es.SnapshotTakeable(o))

	_, err := te.Repository().TakeSnapshot(t.Context(), o)
	require.NoError(t, err)
	require.False(t, es.SnapshotTakeable(o), "nothing applied since the snapshot")
}
