package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/codewandler/evsrc/ports/kv"
)

// KV returns the kv.Store view of s. Entries share the database, and the
// transaction carried by ctx, with the event log.
func (s *Store) KV() kv.Store { return kvStore{s: s} }

type kvStore struct{ s *Store }

func (k kvStore) Put(ctx context.Context, key string, entry kv.Entry, opts kv.PutOptions) error {
	var expiresAt int64
	if opts.TTL > 0 {
		expiresAt = time.Now().Add(opts.TTL).UnixNano()
	}
	_, err := k.s.conn(ctx).ExecContext(
		ctx,
		`INSERT INTO kv (key, data, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT (key) DO UPDATE SET data = excluded.data, expires_at = excluded.expires_at`,
		key, entry.Data, expiresAt,
	)
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

func (k kvStore) Get(ctx context.Context, key string) (kv.Entry, error) {
	var (
		data      []byte
		expiresAt int64
	)
	err := k.s.conn(ctx).QueryRowContext(ctx, `SELECT data, expires_at FROM kv WHERE key = ?`, key).Scan(&data, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return kv.Entry{}, kv.ErrNotFound
	}
	if err != nil {
		return kv.Entry{}, fmt.Errorf("get %s: %w", key, err)
	}
	if expiresAt > 0 && time.Now().UnixNano() > expiresAt {
		return kv.Entry{}, kv.ErrNotFound
	}
	return kv.Entry{Data: data}, nil
}

func (k kvStore) Delete(ctx context.Context, key string) error {
	if _, err := k.s.conn(ctx).ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}
