// Package kv is the small key/value port checkpoints and other bookkeeping
// are stored through. Values are opaque bytes; Put and Get add JSON typing.
package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned by Get for missing and expired keys.
var ErrNotFound = errors.New("kv: key not found")

type Entry struct {
	Data []byte
}

type PutOptions struct {
	// TTL expires the entry after the given duration; zero keeps it forever.
	TTL time.Duration
}

// Store is implemented by MemStore and the SQLite adapter. Implementations
// must be safe for concurrent use.
type Store interface {
	Put(ctx context.Context, key string, entry Entry, opts PutOptions) error
	Get(ctx context.Context, key string) (entry Entry, err error)
	Delete(ctx context.Context, key string) error
}

func Put[T any](ctx context.Context, store Store, key string, v T, opts PutOptions) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return store.Put(ctx, key, Entry{Data: data}, opts)
}

func Get[T any](ctx context.Context, store Store, key string) (out T, err error) {
	entry, err := store.Get(ctx, key)
	if err != nil {
		return out, err
	}
	if err = json.Unmarshal(entry.Data, &out); err != nil {
		return out, fmt.Errorf("decode %s: %w", key, err)
	}
	return out, nil
}
