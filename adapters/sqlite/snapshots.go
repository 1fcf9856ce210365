package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/codewandler/evsrc/core/es"
)

const snapshotColumns = `id, aggregate_id, aggregate_type, parent_id, event_version, schema_version, encoding, checksum, data, created_at`

func (s *Store) SaveSnapshot(ctx context.Context, snap *es.Snapshot) error {
	if snap == nil || snap.ID == "" || snap.AggregateID == "" {
		return fmt.Errorf("snapshot id and aggregate id are required")
	}
	_, err := s.conn(ctx).ExecContext(
		ctx,
		`INSERT INTO snapshots (`+snapshotColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		snap.ID,
		snap.AggregateID,
		snap.AggregateType,
		snap.ParentID,
		int64(snap.EventVersion),
		snap.SchemaVersion,
		snap.Encoding,
		snap.Checksum,
		snap.Data,
		snap.CreatedAt.UTC().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

func (s *Store) LatestSnapshot(ctx context.Context, q es.SnapshotQuery, aggregateID string) (*es.Snapshot, error) {
	where, args := snapshotSQL(q)
	row := s.conn(ctx).QueryRowContext(
		ctx,
		`SELECT `+snapshotColumns+` FROM snapshots WHERE `+where+` AND aggregate_id = ?
		 ORDER BY event_version DESC, rowid DESC LIMIT 1`,
		append(args, aggregateID)...,
	)
	snap, err := scanSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, es.ErrSnapshotNotFound
	}
	return snap, err
}

func (s *Store) LatestSnapshots(ctx context.Context, q es.SnapshotQuery, aggregateIDs []string) (map[string]*es.Snapshot, error) {
	out := make(map[string]*es.Snapshot, len(aggregateIDs))
	if len(aggregateIDs) == 0 {
		return out, nil
	}
	where, args := snapshotSQL(q)
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(aggregateIDs)), ", ")
	for _, id := range aggregateIDs {
		args = append(args, id)
	}
	rows, err := s.conn(ctx).QueryContext(
		ctx,
		`SELECT `+snapshotColumns+` FROM snapshots WHERE `+where+` AND aggregate_id IN (`+marks+`)
		 ORDER BY aggregate_id, event_version DESC, rowid DESC`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		if _, seen := out[snap.AggregateID]; !seen {
			out[snap.AggregateID] = snap
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshots: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(r rowScanner) (*es.Snapshot, error) {
	var (
		snap           es.Snapshot
		version        int64
		createdAtNanos int64
		checksum, data []byte
	)
	err := r.Scan(
		&snap.ID,
		&snap.AggregateID,
		&snap.AggregateType,
		&snap.ParentID,
		&version,
		&snap.SchemaVersion,
		&snap.Encoding,
		&checksum,
		&data,
		&createdAtNanos,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan snapshot: %w", err)
	}
	snap.EventVersion = es.Version(version)
	snap.Checksum = checksum
	snap.Data = data
	snap.CreatedAt = time.Unix(0, createdAtNanos).UTC()
	return &snap, nil
}

func snapshotSQL(q es.SnapshotQuery) (string, []any) {
	conds := []string{"aggregate_type = ?", "schema_version = ?"}
	args := []any{q.AggregateType, q.SchemaVersion}
	if q.ParentID != "" {
		conds = append(conds, "parent_id = ?")
		args = append(args, q.ParentID)
	}
	if q.UntilVersion > 0 {
		conds = append(conds, "event_version <= ?")
		args = append(args, int64(q.UntilVersion))
	}
	if !q.UntilCreatedAt.IsZero() {
		conds = append(conds, "created_at <= ?")
		args = append(args, q.UntilCreatedAt.UTC().UnixNano())
	}
	return strings.Join(conds, " AND "), args
}
