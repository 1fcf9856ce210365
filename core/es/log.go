package es

import (
	"context"
	"time"
)

// Filter narrows a query over the event log. Zero values mean "no bound".
// DomainType and DomainID are matched as a pair.
type Filter struct {
	ParentID       string
	AggregateID    string
	DomainType     string
	DomainID       string
	FromVersion    Version   // exclusive
	UntilVersion   Version   // inclusive
	UntilCreatedAt time.Time // inclusive
}

// Selector is one OR-branch of a multi-aggregate query: the events of
// AggregateID after FromVersion. Selectors without an aggregate id select
// nothing.
type Selector struct {
	AggregateID string
	FromVersion Version
}

// TxRunner runs fn inside one transaction. A transaction already carried by
// ctx is joined instead of nesting. A non-nil error from fn rolls back.
type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// EventLog is the durable, append-only log.
//
// Append stores envelopes all-or-nothing, in order, assigning Seq. A second
// event with the same (aggregate_id, version) fails with ErrVersionConflict.
// Query and QueryMulti return matching events ascending by version, then
// seq. Scan returns events after afterSeq ascending by seq.
type EventLog interface {
	TxRunner
	Append(ctx context.Context, envs []Envelope) ([]Envelope, error)
	Query(ctx context.Context, f Filter) ([]Envelope, error)
	QueryMulti(ctx context.Context, f Filter, selectors []Selector) ([]Envelope, error)
	Scan(ctx context.Context, f Filter, afterSeq uint64, limit int) ([]Envelope, error)
}

// Match reports whether env passes f. EventLog implementations that filter
// in memory share it.
func (f Filter) Match(env Envelope) bool {
	if f.ParentID != "" && env.ParentID != f.ParentID {
		return false
	}
	if f.AggregateID != "" && env.AggregateID != f.AggregateID {
		return false
	}
	if f.DomainType != "" && (env.DomainType != f.DomainType || env.DomainID != f.DomainID) {
		return false
	}
	if f.FromVersion > 0 && env.Version <= f.FromVersion {
		return false
	}
	if f.UntilVersion > 0 && env.Version > f.UntilVersion {
		return false
	}
	if !f.UntilCreatedAt.IsZero() && env.CreatedAt.After(f.UntilCreatedAt) {
		return false
	}
	return true
}

// ActiveSelectors drops selectors that cannot match anything.
func ActiveSelectors(selectors []Selector) []Selector {
	out := make([]Selector, 0, len(selectors))
	for _, s := range selectors {
		if s.AggregateID == "" {
			continue
		}
		out = append(out, s)
	}
	return out
}

func matchSelectors(env Envelope, selectors []Selector) bool {
	for _, s := range selectors {
		if env.AggregateID == s.AggregateID && env.Version > s.FromVersion {
			return true
		}
	}
	return false
}
