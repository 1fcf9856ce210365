package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewTimer(t *testing.T) {
	var got float64
	tm := NewTimer(func(s float64) { got = s })
	time.Sleep(5 * time.Millisecond)
	tm.ObserveDuration()
	require.Greater(t, got, 0.0)
}

func TestNop(t *testing.T) {
	NopTimer().ObserveDuration()
}
