package ds

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSet_KeepsInsertionOrder(t *testing.T) {
	s := NewSet("c-3", "c-1", "c-3", "c-2", "c-1")
	require.Equal(t, []string{"c-3", "c-1", "c-2"}, s.Values())
	require.Equal(t, 3, s.Len())
	require.True(t, s.Contains("c-2"))
	require.False(t, s.Contains("c-4"))
}

func TestSet_AddRemove(t *testing.T) {
	var s Set[string]
	require.True(t, s.IsEmpty())

	s.Add("hello")
	s.Add("world")
	require.False(t, s.IsEmpty())

	s.Remove("hello", "missing")
	require.Equal(t, []string{"world"}, s.Values())
}

func TestSet_Json(t *testing.T) {
	s := NewSet("hello", "world", "!")
	data, err := json.Marshal(s)
	require.NoError(t, err)
	require.Equal(t, `["hello","world","!"]`, string(data))

	data, err = json.Marshal(NewSet[string]())
	require.NoError(t, err)
	require.Equal(t, `[]`, string(data))

	var out struct {
		Readers *Set[string] `json:"readers"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"readers":["a","b","a"]}`), &out))
	require.Equal(t, []string{"a", "b"}, out.Readers.Values())
}
