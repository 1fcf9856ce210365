package es

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fxamacker/cbor/v2"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"golang.org/x/crypto/blake2b"
)

var (
	ErrSnapshotterUnconfigured = errors.New("no snapshotter configured")
	ErrSnapshotNotFound        = errors.New("snapshot not found")
	ErrSnapshotCorrupt         = errors.New("snapshot corrupt")
)

// EncodingCustom marks snapshots written by a Snapshottable aggregate.
const EncodingCustom = "custom"

type (
	// Snapshot is a checkpoint of one aggregate at EventVersion. It is never
	// mutated, only superseded.
	Snapshot struct {
		ID            string    `json:"id"`
		AggregateID   string    `json:"aggregate_id"`
		AggregateType string    `json:"aggregate_type"`
		ParentID      string    `json:"parent_id,omitempty"`
		EventVersion  Version   `json:"event_version"`
		SchemaVersion int       `json:"schema_version"`
		Encoding      string    `json:"encoding"`
		Checksum      []byte    `json:"checksum"`
		Data          []byte    `json:"data"`
		CreatedAt     time.Time `json:"created_at"`
	}

	// SnapshotQuery selects the snapshots usable for a load. Zero bounds are
	// ignored.
	SnapshotQuery struct {
		AggregateType  string
		SchemaVersion  int
		ParentID       string
		UntilVersion   Version
		UntilCreatedAt time.Time
	}

	// Snapshottable aggregates choose their persisted state themselves, usually
	// by marshalling a struct that lists exactly the fields to keep.
	Snapshottable interface {
		Snapshot() (data []byte, err error)
		RestoreSnapshot(data []byte) error
	}

	Snapshotter interface {
		SaveSnapshot(ctx context.Context, s *Snapshot) error
		// LatestSnapshot returns the matching snapshot with the highest event
		// version, or ErrSnapshotNotFound.
		LatestSnapshot(ctx context.Context, q SnapshotQuery, aggregateID string) (*Snapshot, error)
		// LatestSnapshots is the batched variant; ids without a snapshot are
		// absent from the result.
		LatestSnapshots(ctx context.Context, q SnapshotQuery, aggregateIDs []string) (map[string]*Snapshot, error)
	}

	// SnapshotCodec serializes aggregate state.
	SnapshotCodec interface {
		Name() string
		Marshal(v any) ([]byte, error)
		Unmarshal(data []byte, v any) error
	}
)

// Match reports whether s is usable for q.
func (q SnapshotQuery) Match(s *Snapshot) bool {
	if s.AggregateType != q.AggregateType || s.SchemaVersion != q.SchemaVersion {
		return false
	}
	if q.ParentID != "" && s.ParentID != q.ParentID {
		return false
	}
	if q.UntilVersion > 0 && s.EventVersion > q.UntilVersion {
		return false
	}
	if !q.UntilCreatedAt.IsZero() && s.CreatedAt.After(q.UntilCreatedAt) {
		return false
	}
	return true
}

func (s *Snapshot) logAttrs() slog.Attr {
	return slog.Group(
		"snapshot",
		slog.String("id", s.ID),
		slog.String("aggregate_type", s.AggregateType),
		slog.String("aggregate_id", s.AggregateID),
		s.EventVersion.SlogAttrWithKey("event_version"),
		slog.Int("schema_version", s.SchemaVersion),
		slog.String("encoding", s.Encoding),
		slog.Int("size", len(s.Data)),
	)
}

// Verify checks the payload against its checksum.
func (s *Snapshot) Verify() error {
	sum := blake2b.Sum256(s.Data)
	if !bytes.Equal(sum[:], s.Checksum) {
		return fmt.Errorf("%w: checksum mismatch for %s %s@%d", ErrSnapshotCorrupt, s.AggregateType, s.AggregateID, s.EventVersion)
	}
	return nil
}

// === codecs ===

type JSONCodec struct{}

func (JSONCodec) Name() string                       { return "json" }
func (JSONCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (JSONCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

// CBORCodec trades readability for size. Fields are matched by their json
// tags, so the same struct serves both codecs.
type CBORCodec struct{}

func (CBORCodec) Name() string                       { return "cbor" }
func (CBORCodec) Marshal(v any) ([]byte, error)      { return cbor.Marshal(v) }
func (CBORCodec) Unmarshal(data []byte, v any) error { return cbor.Unmarshal(data, v) }

func codecByName(name string) (SnapshotCodec, bool) {
	switch name {
	case "json":
		return JSONCodec{}, true
	case "cbor":
		return CBORCodec{}, true
	}
	return nil, false
}

// === capture / restore ===

// CreateSnapshot captures agg at its current version.
func CreateSnapshot(t *AggregateType, agg Aggregate) (*Snapshot, error) {
	var (
		data     []byte
		err      error
		encoding string
	)
	if s, ok := agg.(Snapshottable); ok {
		encoding = EncodingCustom
		data, err = s.Snapshot()
	} else {
		codec := t.codec()
		encoding = codec.Name()
		data, err = codec.Marshal(agg)
	}
	if err != nil {
		return nil, fmt.Errorf("snapshot %s %s: %w", t.Name, agg.base().id, err)
	}
	b := agg.base()
	sum := blake2b.Sum256(data)
	return &Snapshot{
		ID:            gonanoid.Must(),
		AggregateID:   b.id,
		AggregateType: t.Name,
		ParentID:      b.parentID,
		EventVersion:  b.version,
		SchemaVersion: t.SchemaVersion,
		Encoding:      encoding,
		Checksum:      sum[:],
		Data:          data,
		CreatedAt:     time.Now().UTC(),
	}, nil
}

// restoreSnapshot decodes s into a freshly constructed agg. Transient state
// (applied and uncommitted events, domain cache) starts empty.
func restoreSnapshot(agg Aggregate, s *Snapshot) error {
	if err := s.Verify(); err != nil {
		return err
	}
	var err error
	if s.Encoding == EncodingCustom {
		sn, ok := agg.(Snapshottable)
		if !ok {
			return fmt.Errorf("%w: %T cannot restore custom encoding", ErrSnapshotCorrupt, agg)
		}
		err = sn.RestoreSnapshot(s.Data)
	} else {
		codec, ok := codecByName(s.Encoding)
		if !ok {
			return fmt.Errorf("%w: unknown encoding %q", ErrSnapshotCorrupt, s.Encoding)
		}
		err = codec.Unmarshal(s.Data, agg)
	}
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSnapshotCorrupt, err)
	}
	b := agg.base()
	b.id = s.AggregateID
	b.parentID = s.ParentID
	b.version = s.EventVersion
	b.snapshot = s
	return nil
}
