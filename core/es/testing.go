package es

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

// === Helpers ===

type TestingEnv struct {
	*Env
	t *testing.T
}

func (e *TestingEnv) Assert() *TestingEnvAssert {
	return &TestingEnvAssert{env: e}
}

// StartTestEnv builds an in-memory Env, failing t on error. The in-memory
// log doubles as snapshotter unless opts say otherwise.
func StartTestEnv(t *testing.T, opts ...EnvOption) *TestingEnv {
	t.Helper()
	e, err := NewEnv(
		WithInMemory(),
		WithEnvOpts(opts...),
	)
	require.NoError(t, err)
	return &TestingEnv{t: t, Env: e}
}

type TestingEnvAssert struct {
	env *TestingEnv
}

func (a *TestingEnvAssert) Append(ctx context.Context, aggType, aggID string, expect Version, payloads ...any) {
	a.env.t.Helper()
	_, err := a.env.Append(ctx, aggType, aggID, expect, payloads...)
	require.NoError(a.env.t, err)
}

// Events returns every stored event of aggID in version order.
func (a *TestingEnvAssert) Events(ctx context.Context, aggID string) []Event {
	a.env.t.Helper()
	events, err := a.env.Store().Load(ctx, Filter{AggregateID: aggID})
	require.NoError(a.env.t, err)
	return events
}

func (a *TestingEnvAssert) Version(ctx context.Context, aggID string, want Version) {
	a.env.t.Helper()
	events := a.Events(ctx, aggID)
	var got Version
	if n := len(events); n > 0 {
		got = events[n-1].Version
	}
	require.Equal(a.env.t, want, got, "version of %s", aggID)
}
