// Package sqlite provides a durable es.EventLog and es.Snapshotter on SQLite,
// plus a kv.Store used for checkpoints.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/codewandler/evsrc/adapters/sqlite/migrations"
	"github.com/codewandler/evsrc/core/es"
)

// Config configures Open.
type Config struct {
	Path string       // Path of the database file, required
	Log  *slog.Logger // Log for diagnostics (optional)
}

// Store persists events, snapshots and kv entries in one SQLite database.
// Transactions opened with InTx travel in the context; every method called
// with such a context runs inside it.
type Store struct {
	db  *sql.DB
	log *slog.Logger
}

type txKey struct{ s *Store }

// querier is implemented by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Open opens the database at cfg.Path and applies embedded migrations.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}

	dsn := "file:" + filepath.Clean(cfg.Path) +
		"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One connection: writers never contend, and a transaction carried in the
	// context always sees its own writes.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(ctx, db, migrations.FS); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{db: db, log: log.With(slog.String("store", "sqlite"))}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) conn(ctx context.Context) querier {
	if tx, ok := ctx.Value(txKey{s}).(*sql.Tx); ok {
		return tx
	}
	return s.db
}

// InTx runs fn in a transaction. A transaction already carried by ctx is
// joined. fn returning an error, or panicking, rolls back. Hooks registered
// with es.AfterCommit run once the outermost transaction has committed.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if _, ok := ctx.Value(txKey{s}).(*sql.Tx); ok {
		return fn(ctx)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback()
			panic(r)
		}
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				s.log.Error("rollback failed", slog.Any("error", rbErr))
			}
		}
	}()

	txCtx, afterCommit := es.WithCommitHooks(ctx)
	if err = fn(context.WithValue(txCtx, txKey{s}, tx)); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	if hookErr := afterCommit(ctx); hookErr != nil {
		s.log.Error("after commit hooks failed", slog.Any("error", hookErr))
	}
	return nil
}

// === events ===

const eventColumns = `seq, parent_id, aggregate_type, aggregate_id, version, created_at, domain_type, domain_id, type, data`

func (s *Store) Append(ctx context.Context, envs []es.Envelope) ([]es.Envelope, error) {
	if len(envs) == 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for _, env := range envs {
		if err := env.Validate(); err != nil {
			return nil, err
		}
	}

	out := make([]es.Envelope, 0, len(envs))
	err := s.InTx(ctx, func(ctx context.Context) error {
		q := s.conn(ctx)
		for _, env := range envs {
			data := []byte(env.Data)
			if data == nil {
				data = []byte("null")
			}
			res, err := q.ExecContext(
				ctx,
				`INSERT INTO events (parent_id, aggregate_type, aggregate_id, version, created_at, domain_type, domain_id, type, data)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				env.ParentID,
				env.AggregateType,
				env.AggregateID,
				int64(env.Version),
				env.CreatedAt.UTC().UnixNano(),
				env.DomainType,
				env.DomainID,
				env.Type,
				data,
			)
			if err != nil {
				if isConstraintError(err) {
					return fmt.Errorf("%w: %s at version %d", es.ErrVersionConflict, env.AggregateID, env.Version)
				}
				return fmt.Errorf("insert event: %w", err)
			}
			seq, err := res.LastInsertId()
			if err != nil {
				return fmt.Errorf("read seq: %w", err)
			}
			env.Seq = uint64(seq)
			out = append(out, env)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Debug("append", slog.Uint64("last_seq", out[len(out)-1].Seq), slog.Int("num_events", len(out)))
	return out, nil
}

func (s *Store) Query(ctx context.Context, f es.Filter) ([]es.Envelope, error) {
	where, args := filterSQL(f)
	return s.queryEvents(ctx, `SELECT `+eventColumns+` FROM events WHERE `+where+` ORDER BY version, seq`, args...)
}

func (s *Store) QueryMulti(ctx context.Context, f es.Filter, selectors []es.Selector) ([]es.Envelope, error) {
	selectors = es.ActiveSelectors(selectors)
	if len(selectors) == 0 {
		return []es.Envelope{}, nil
	}
	where, args := filterSQL(f)
	branches := make([]string, 0, len(selectors))
	for _, sel := range selectors {
		branches = append(branches, "(aggregate_id = ? AND version > ?)")
		args = append(args, sel.AggregateID, int64(sel.FromVersion))
	}
	query := `SELECT ` + eventColumns + ` FROM events WHERE ` + where +
		` AND (` + strings.Join(branches, " OR ") + `) ORDER BY version, seq`
	return s.queryEvents(ctx, query, args...)
}

func (s *Store) Scan(ctx context.Context, f es.Filter, afterSeq uint64, limit int) ([]es.Envelope, error) {
	where, args := filterSQL(f)
	query := `SELECT ` + eventColumns + ` FROM events WHERE ` + where + ` AND seq > ? ORDER BY seq`
	args = append(args, int64(afterSeq))
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return s.queryEvents(ctx, query, args...)
}

func (s *Store) queryEvents(ctx context.Context, query string, args ...any) ([]es.Envelope, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rows, err := s.conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	out := make([]es.Envelope, 0)
	for rows.Next() {
		var (
			env       es.Envelope
			seq, ver  int64
			createdAt int64
			data      []byte
		)
		if err := rows.Scan(
			&seq,
			&env.ParentID,
			&env.AggregateType,
			&env.AggregateID,
			&ver,
			&createdAt,
			&env.DomainType,
			&env.DomainID,
			&env.Type,
			&data,
		); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		env.Seq = uint64(seq)
		env.Version = es.Version(ver)
		env.CreatedAt = time.Unix(0, createdAt).UTC()
		env.Data = data
		out = append(out, env)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return out, nil
}

// filterSQL renders f as a WHERE clause; it is never empty.
func filterSQL(f es.Filter) (string, []any) {
	var (
		conds = []string{"1 = 1"}
		args  []any
	)
	if f.ParentID != "" {
		conds = append(conds, "parent_id = ?")
		args = append(args, f.ParentID)
	}
	if f.AggregateID != "" {
		conds = append(conds, "aggregate_id = ?")
		args = append(args, f.AggregateID)
	}
	if f.DomainType != "" {
		conds = append(conds, "domain_type = ?", "domain_id = ?")
		args = append(args, f.DomainType, f.DomainID)
	}
	if f.FromVersion > 0 {
		conds = append(conds, "version > ?")
		args = append(args, int64(f.FromVersion))
	}
	if f.UntilVersion > 0 {
		conds = append(conds, "version <= ?")
		args = append(args, int64(f.UntilVersion))
	}
	if !f.UntilCreatedAt.IsZero() {
		conds = append(conds, "created_at <= ?")
		args = append(args, f.UntilCreatedAt.UTC().UnixNano())
	}
	return strings.Join(conds, " AND "), args
}

func isConstraintError(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	code := sqliteErr.Code()
	return code == sqlite3.SQLITE_CONSTRAINT || code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
}

var (
	_ es.EventLog    = (*Store)(nil)
	_ es.Snapshotter = (*Store)(nil)
)
