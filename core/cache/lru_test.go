package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLRU_Eviction(t *testing.T) {
	l := NewLRU(LRUOpts{Size: 2})
	defer l.Close()

	l.Put("a", 1)
	l.Put("b", 2)

	val, ok := l.Get("a") // promotes a
	require.True(t, ok)
	require.Equal(t, 1, val)

	l.Put("c", 3)

	_, ok = l.Get("b")
	require.False(t, ok, "b should be evicted")
	_, ok = l.Get("a")
	require.True(t, ok)
	require.Equal(t, 2, l.Len())
}

func TestLRU_Update(t *testing.T) {
	l := NewLRU(LRUOpts{Size: 2})
	defer l.Close()

	l.Put("a", 1)
	l.Put("a", 2)

	val, ok := l.Get("a")
	require.True(t, ok)
	require.Equal(t, 2, val)
	require.Equal(t, 1, l.Len())
}

func TestLRU_Delete(t *testing.T) {
	l := NewLRU(LRUOpts{Size: 2})
	defer l.Close()

	l.Put("a", 1)
	l.Put("b", 2)
	l.Delete("a")
	l.Delete("nonexistent")

	_, ok := l.Get("a")
	require.False(t, ok)
	val, ok := l.Get("b")
	require.True(t, ok)
	require.Equal(t, 2, val)
}

func TestLRU_TTL(t *testing.T) {
	l := NewLRU(LRUOpts{Size: 2})
	defer l.Close()

	l.Put("a", 1, WithTTL(50*time.Millisecond))
	l.Put("b", 2)

	_, ok := l.Get("a")
	require.True(t, ok)

	time.Sleep(60 * time.Millisecond)

	_, ok = l.Get("a")
	require.False(t, ok)
	_, ok = l.Get("b")
	require.True(t, ok)
}

func TestLRU_Close(t *testing.T) {
	l := NewLRU(LRUOpts{Size: 2})
	l.Put("a", 1)
	l.Close()

	_, ok := l.Get("a")
	require.False(t, ok)

	l.Put("b", 2)
	l.Delete("a")
	require.Equal(t, 0, l.Len())
}

func TestLRU_DefaultSize(t *testing.T) {
	l := NewLRU(LRUOpts{})
	defer l.Close()

	for i := range 129 {
		l.Put(fmt.Sprintf("k%d", i), i)
	}
	require.Equal(t, 128, l.Len())
	_, ok := l.Get("k0")
	require.False(t, ok)
}

func TestLRU_Concurrent(t *testing.T) {
	l := NewLRU(LRUOpts{Size: 100})
	defer l.Close()

	var wg sync.WaitGroup
	for w := range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range 1000 {
				l.Put(fmt.Sprintf("key-%d", w), j)
				l.Get(fmt.Sprintf("key-%d", w))
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 10, l.Len())
}
