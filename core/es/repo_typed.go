package es

import (
	"context"
	"fmt"
)

// TypedRepository is a Repository narrowed to the aggregate type T.
type TypedRepository[T Aggregate] struct {
	repo *Repository
	typ  *AggregateType
}

// NewTypedRepository finds the one registered aggregate type whose
// constructor returns a T.
func NewTypedRepository[T Aggregate](r *Repository) (*TypedRepository[T], error) {
	var found *AggregateType
	for _, t := range r.aggTypes {
		if _, ok := t.New().(T); !ok {
			continue
		}
		if found != nil {
			return nil, fmt.Errorf("aggregate types %s and %s both construct %T", found.Name, t.Name, *new(T))
		}
		found = t
	}
	if found == nil {
		return nil, fmt.Errorf("%w: none constructs %T", ErrUnknownAggregateType, *new(T))
	}
	return &TypedRepository[T]{repo: r, typ: found}, nil
}

func (r *TypedRepository[T]) Repository() *Repository { return r.repo }
func (r *TypedRepository[T]) TypeName() string        { return r.typ.Name }

func (r *TypedRepository[T]) New(id, parentID string) (T, error) {
	agg, err := r.repo.New(r.typ.Name, id, parentID)
	if err != nil {
		var zero T
		return zero, err
	}
	return agg.(T), nil
}

func (r *TypedRepository[T]) Load(ctx context.Context, id string, opts ...LoadOption) (T, error) {
	var zero T
	agg, err := r.repo.Load(ctx, r.typ.Name, id, opts...)
	if err != nil {
		return zero, err
	}
	typed, ok := agg.(T)
	if !ok {
		return zero, fmt.Errorf("loaded %T, want %T", agg, zero)
	}
	return typed, nil
}

func (r *TypedRepository[T]) Preload(ctx context.Context, ids []string, opts ...LoadOption) ([]T, error) {
	aggs, err := r.repo.Preload(ctx, r.typ.Name, ids, opts...)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(aggs))
	for _, agg := range aggs {
		out = append(out, agg.(T))
	}
	return out, nil
}

func (r *TypedRepository[T]) Commit(ctx context.Context, agg T) error {
	return r.repo.Commit(ctx, agg)
}
