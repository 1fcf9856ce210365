package es

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/codewandler/evsrc/ports/kv"
)

// CpStore remembers the last log sequence a replay or handler has processed.
// The context carries any transaction the checkpoint must join.
type CpStore interface {
	Get(ctx context.Context) (lastSeq uint64, err error)
	Set(ctx context.Context, lastSeq uint64) error
}

type InMemCpStore struct {
	mu sync.RWMutex
	v  uint64
}

func NewInMemCpStore() *InMemCpStore {
	return &InMemCpStore{}
}

func (s *InMemCpStore) Get(context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.v, nil
}

func (s *InMemCpStore) Set(_ context.Context, v uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.v = v
	return nil
}

// KVCpStore keeps a checkpoint under one key of a kv.Store.
type KVCpStore struct {
	kv      kv.Store
	key     string
	timeout time.Duration
}

func NewKVCpStore(store kv.Store, key string) (*KVCpStore, error) {
	if store == nil {
		return nil, errors.New("kv store is required")
	}
	if key == "" {
		return nil, errors.New("key is required")
	}
	return &KVCpStore{kv: store, key: key, timeout: 10 * time.Second}, nil
}

func (s *KVCpStore) Get(ctx context.Context) (lastSeq uint64, err error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	lastSeq, err = kv.Get[uint64](ctx, s.kv, s.key)
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("get checkpoint %s: %w", s.key, err)
	}
	return lastSeq, nil
}

func (s *KVCpStore) Set(ctx context.Context, lastSeq uint64) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return kv.Put[uint64](ctx, s.kv, s.key, lastSeq, kv.PutOptions{})
}

var (
	_ CpStore = (*InMemCpStore)(nil)
	_ CpStore = (*KVCpStore)(nil)
)
