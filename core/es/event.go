package es

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/codewandler/evsrc/core/fsm"
	"github.com/codewandler/evsrc/internal/reflector"
)

// Event is an immutable fact about one aggregate. Payload holds a pointer to
// the registered kind struct. Seq is the log position and stays 0 until the
// event has been appended.
type Event struct {
	Seq           uint64
	ParentID      string
	AggregateType string
	AggregateID   string
	Version       Version
	CreatedAt     time.Time
	DomainType    string
	DomainID      string
	Type          string
	Payload       any
}

// IsDomain reports whether the event was raised by a domain.
func (e Event) IsDomain() bool { return e.DomainType != "" }

func (e Event) logAttrs() slog.Attr {
	attrs := []any{
		slog.String("type", e.Type),
		slog.String("aggregate_id", e.AggregateID),
		e.Version.SlogAttr(),
	}
	if e.Seq > 0 {
		attrs = append(attrs, slog.Uint64("seq", e.Seq))
	}
	if e.IsDomain() {
		attrs = append(attrs, slog.String("domain_type", e.DomainType), slog.String("domain_id", e.DomainID))
	}
	return slog.Group("event", attrs...)
}

// AggregateDeleted marks an aggregate as deleted. Its kind is the reserved
// deletion sentinel, so state machines accept whatever state it leaves
// behind.
type AggregateDeleted struct {
	Reason string `json:"reason,omitempty"`
}

func (AggregateDeleted) EventType() string { return fsm.DeletedEventType }

// EventTypeOf resolves the kind tag of a payload: its EventType() method if it
// has one, the snake-cased type name otherwise.
func EventTypeOf(payload any) string {
	if t, ok := payload.(interface{ EventType() string }); ok {
		return t.EventType()
	}
	return reflector.TypeInfoOf(payload).Snake
}

// === registry ===

// EventRegistry maps event kind tags to constructors so persisted events can
// be decoded.
type EventRegistry struct {
	mu   sync.RWMutex
	news map[string]func() any
}

func NewRegistry() *EventRegistry {
	r := &EventRegistry{news: map[string]func() any{}}
	RegisterEvents(r, Kind[AggregateDeleted]())
	return r
}

func (r *EventRegistry) Register(eventType string, ctor func() any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.news[eventType] = ctor
}

func (r *EventRegistry) Has(eventType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.news[eventType]
	return ok
}

// Decode turns a stored envelope back into an event.
func (r *EventRegistry) Decode(env Envelope) (Event, error) {
	r.mu.RLock()
	ctor, ok := r.news[env.Type]
	r.mu.RUnlock()
	if !ok {
		return Event{}, fmt.Errorf("%w: %s", ErrUnknownEventType, env.Type)
	}
	payload := ctor()
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, payload); err != nil {
			return Event{}, fmt.Errorf("decode %s v%d: %w", env.Type, env.Version, err)
		}
	}
	return Event{
		Seq:           env.Seq,
		ParentID:      env.ParentID,
		AggregateType: env.AggregateType,
		AggregateID:   env.AggregateID,
		Version:       env.Version,
		CreatedAt:     env.CreatedAt,
		DomainType:    env.DomainType,
		DomainID:      env.DomainID,
		Type:          env.Type,
		Payload:       payload,
	}, nil
}

func (r *EventRegistry) DecodeAll(envs []Envelope) ([]Event, error) {
	out := make([]Event, 0, len(envs))
	for _, env := range envs {
		ev, err := r.Decode(env)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, nil
}

// Encode builds the durable record for ev. Unregistered kinds are rejected so
// that nothing is stored that could not be read back.
func (r *EventRegistry) Encode(ev Event) (Envelope, error) {
	if !r.Has(ev.Type) {
		return Envelope{}, fmt.Errorf("%w: %s", ErrUnknownEventType, ev.Type)
	}
	data, err := json.Marshal(ev.Payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s v%d: %w", ev.Type, ev.Version, err)
	}
	env := Envelope{
		Seq:           ev.Seq,
		ParentID:      ev.ParentID,
		AggregateType: ev.AggregateType,
		AggregateID:   ev.AggregateID,
		Version:       ev.Version,
		CreatedAt:     ev.CreatedAt,
		DomainType:    ev.DomainType,
		DomainID:      ev.DomainID,
		Type:          ev.Type,
		Data:          data,
	}
	return env, env.Validate()
}

type Registrar interface {
	Register(eventType string, ctor func() any)
}

// Kind returns a reflection-free constructor for an event payload of type T.
func Kind[T any]() func() any { return func() any { return new(T) } }

// RegisterEvents registers payload constructors under the kind tag of the
// value each one produces.
func RegisterEvents(r Registrar, ctors ...func() any) {
	for _, ctor := range ctors {
		r.Register(EventTypeOf(ctor()), ctor)
	}
}
