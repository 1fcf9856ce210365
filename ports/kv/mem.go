package kv

import (
	"context"
	"sync"
	"time"
)

type memEntry struct {
	Entry
	expiresAt time.Time
}

// MemStore is an in-process Store. Entries put with a TTL expire lazily on
// read.
type MemStore struct {
	mu   sync.RWMutex
	data map[string]memEntry
	now  func() time.Time
}

func NewMemStore() *MemStore {
	return &MemStore{data: map[string]memEntry{}, now: time.Now}
}

func (m *MemStore) Put(_ context.Context, key string, entry Entry, opts PutOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := memEntry{Entry: entry}
	if opts.TTL > 0 {
		e.expiresAt = m.now().Add(opts.TTL)
	}
	m.data[key] = e
	return nil
}

func (m *MemStore) Get(_ context.Context, key string) (entry Entry, err error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.data[key]
	if !ok || (!e.expiresAt.IsZero() && m.now().After(e.expiresAt)) {
		return entry, ErrNotFound
	}

	return e.Entry, nil
}

func (m *MemStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

var _ Store = (*MemStore)(nil)
