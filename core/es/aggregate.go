package es

import (
	"fmt"
	"reflect"
	"time"

	"github.com/codewandler/evsrc/core/es/assert"
	"github.com/codewandler/evsrc/core/fsm"
)

// Applier mutates state from one event. Kinds an entity does not care about
// are ignored by returning nil.
type Applier interface {
	Apply(ev Event) error
}

// StateMachined is implemented by entities whose state changes are checked
// by a state machine, usually one built with fsm.New(...).MustBuild().Guard().
type StateMachined interface {
	StateMachine() fsm.Listener
}

// Entity is an Aggregate or a Domain: anything that raises events and can be
// committed.
type Entity interface {
	Applier
	Uncommitted() []Event
	markCommitted()
}

// Aggregate is the consistency boundary rebuilt by replaying its events.
// Implementations embed BaseAggregate:
//
//	type Order struct {
//	    es.BaseAggregate
//	    State fsm.State `json:"state"`
//	}
//
//	func (o *Order) GetAggType() string { return "order" }
//	func (o *Order) Apply(ev es.Event) error { ... }
type Aggregate interface {
	Entity
	GetAggType() string
	base() *BaseAggregate
}

type domainKey struct{ typ, id string }

// BaseAggregate is embedded by aggregates. It tracks identity, the shared
// version counter, applied and uncommitted events, the domain cache and the
// latest snapshot. None of it is part of the snapshot state.
type BaseAggregate struct {
	id          string
	parentID    string
	version     Version
	applied     []Event
	uncommitted []Event
	domains     map[domainKey]Domain
	snapshot    *Snapshot
	typ         *AggregateType
	repo        *Repository
}

func (b *BaseAggregate) base() *BaseAggregate { return b }

func (b *BaseAggregate) GetID() string             { return b.id }
func (b *BaseAggregate) GetParentID() string       { return b.parentID }
func (b *BaseAggregate) GetVersion() Version       { return b.version }
func (b *BaseAggregate) LatestSnapshot() *Snapshot { return b.snapshot }

// Applied returns the events replayed or applied since the aggregate was
// loaded.
func (b *BaseAggregate) Applied() []Event { return append([]Event(nil), b.applied...) }

func (b *BaseAggregate) Uncommitted() []Event { return append([]Event(nil), b.uncommitted...) }
func (b *BaseAggregate) markCommitted()       { b.uncommitted = nil }

func (b *BaseAggregate) Checked(c assert.Cond, thenFunc func() error) error {
	if err := c.Check(); err != nil {
		return err
	}
	return thenFunc()
}

func (b *BaseAggregate) cachedDomain(typ, id string) (Domain, bool) {
	d, ok := b.domains[domainKey{typ, id}]
	return d, ok
}

func (b *BaseAggregate) storeDomain(typ, id string, d Domain) {
	if b.domains == nil {
		b.domains = make(map[domainKey]Domain)
	}
	b.domains[domainKey{typ, id}] = d
}

func (b *BaseAggregate) clearDomains() { b.domains = nil }

// Domain is a child entity scoped to one aggregate. It shares the version
// counter of its root. Implementations embed BaseDomain.
type Domain interface {
	Entity
	domainBase() *BaseDomain
}

// BaseDomain is embedded by domains. The root is a back reference; the
// aggregate owns the domain, not the other way round.
type BaseDomain struct {
	aggregateID string
	parentID    string
	domainType  string
	domainID    string
	version     Version
	uncommitted []Event
	root        Aggregate
}

func (d *BaseDomain) domainBase() *BaseDomain { return d }

func (d *BaseDomain) GetAggregateID() string { return d.aggregateID }
func (d *BaseDomain) GetParentID() string    { return d.parentID }
func (d *BaseDomain) GetDomainType() string  { return d.domainType }
func (d *BaseDomain) GetDomainID() string    { return d.domainID }
func (d *BaseDomain) GetVersion() Version    { return d.version }
func (d *BaseDomain) Root() Aggregate        { return d.root }

func (d *BaseDomain) Uncommitted() []Event { return append([]Event(nil), d.uncommitted...) }
func (d *BaseDomain) markCommitted()       { d.uncommitted = nil }

func (d *BaseDomain) Checked(c assert.Cond, thenFunc func() error) error {
	if err := c.Check(); err != nil {
		return err
	}
	return thenFunc()
}

// AttachRoot sets the root of d. The root must be the aggregate d belongs to.
func AttachRoot(d Domain, root Aggregate) error {
	db, rb := d.domainBase(), root.base()
	if db.aggregateID != rb.id {
		return fmt.Errorf("attach domain %s/%s: aggregate id %q does not match root %q",
			db.domainType, db.domainID, db.aggregateID, rb.id)
	}
	db.root = root
	return nil
}

// === event application ===

// BuildEvent stamps identity, the next version of the root counter and the
// kind tag onto payload. It neither applies nor persists the event. Struct
// payloads are stored behind a pointer, the same shape decoding produces.
func BuildEvent(entity Entity, payload any) (Event, error) {
	payload = pointerTo(payload)
	ev := Event{
		CreatedAt: time.Now().UTC(),
		Type:      EventTypeOf(payload),
		Payload:   payload,
	}
	switch e := entity.(type) {
	case Aggregate:
		b := e.base()
		ev.ParentID = b.parentID
		ev.AggregateType = e.GetAggType()
		ev.AggregateID = b.id
		ev.Version = b.version.Next()
	case Domain:
		d := e.domainBase()
		if d.root == nil {
			return Event{}, fmt.Errorf("%w: %s/%s", ErrDomainDetached, d.domainType, d.domainID)
		}
		ev.ParentID = d.parentID
		ev.AggregateType = d.root.GetAggType()
		ev.AggregateID = d.aggregateID
		ev.Version = d.root.base().version.Next()
		ev.DomainType = d.domainType
		ev.DomainID = d.domainID
	default:
		return Event{}, fmt.Errorf("%w: %T is neither an aggregate nor a domain", ErrInvalidEvent, entity)
	}
	if ev.AggregateID == "" {
		return Event{}, fmt.Errorf("%w: %s raised by entity without id", ErrInvalidEvent, ev.Type)
	}
	return ev, nil
}

// RaiseAndApply builds an event for each payload, applies it and records it
// as uncommitted. Payloads with a Validate() error method are validated
// before anything is applied.
func RaiseAndApply(entity Entity, payloads ...any) error {
	for _, p := range payloads {
		if v, ok := p.(interface{ Validate() error }); ok {
			if err := v.Validate(); err != nil {
				return fmt.Errorf("%w %T: %w", ErrInvalidEvent, p, err)
			}
		}
	}

	for _, p := range payloads {
		ev, err := BuildEvent(entity, p)
		if err != nil {
			return err
		}
		switch e := entity.(type) {
		case Aggregate:
			if err := applyRoot(e, ev); err != nil {
				return err
			}
			e.base().uncommitted = append(e.base().uncommitted, ev)
		case Domain:
			err := listen(e, ev.Type, func() error { return applyDomain(e, ev) })
			if err != nil {
				return err
			}
			e.domainBase().uncommitted = append(e.domainBase().uncommitted, ev)
		}
	}
	return nil
}

// RaiseAndApplyD defers RaiseAndApply, for use with BaseAggregate.Checked.
func RaiseAndApplyD(entity Entity, payloads ...any) func() error {
	return func() error { return RaiseAndApply(entity, payloads...) }
}

// ApplyEvent applies an already built event to entity without recording it
// as uncommitted.
func ApplyEvent(entity Entity, ev Event) error {
	switch e := entity.(type) {
	case Aggregate:
		return applyRoot(e, ev)
	case Domain:
		return applyDomain(e, ev)
	}
	return fmt.Errorf("%w: %T is neither an aggregate nor a domain", ErrInvalidEvent, entity)
}

// LoadFromHistory replays events in the given order. The domain cache is
// cleared after each event so that domains touched during replay are
// reloaded rather than reused.
func LoadFromHistory(agg Aggregate, events []Event) error {
	return loadFromHistory(agg, events, false)
}

func loadFromHistory(agg Aggregate, events []Event, strict bool) error {
	b := agg.base()
	for _, ev := range events {
		if strict && ev.Version != b.version.Next() {
			return fmt.Errorf("%w: %s %s at %d, got %d", ErrVersionGap, agg.GetAggType(), b.id, b.version, ev.Version)
		}
		if err := applyRoot(agg, ev); err != nil {
			return err
		}
		b.clearDomains()
	}
	return nil
}

func applyRoot(agg Aggregate, ev Event) error {
	b := agg.base()
	prev := b.version
	b.version = ev.Version
	if err := listen(agg, ev.Type, func() error { return agg.Apply(ev) }); err != nil {
		b.version = prev
		return err
	}
	b.applied = append(b.applied, ev)
	return nil
}

func applyDomain(d Domain, ev Event) error {
	db := d.domainBase()
	if err := d.Apply(ev); err != nil {
		return err
	}
	db.version = ev.Version
	if db.root != nil {
		return applyRoot(db.root, ev)
	}
	return nil
}

func listen(entity any, eventType string, logic func() error) error {
	if sm, ok := entity.(StateMachined); ok {
		if l := sm.StateMachine(); l != nil {
			return l.Listen(entity, eventType, logic)
		}
	}
	return logic()
}

func pointerTo(payload any) any {
	rv := reflect.ValueOf(payload)
	if !rv.IsValid() || rv.Kind() == reflect.Pointer {
		return payload
	}
	ptr := reflect.New(rv.Type())
	ptr.Elem().Set(rv)
	return ptr.Interface()
}

func rootOf(entity Entity) Aggregate {
	switch e := entity.(type) {
	case Aggregate:
		return e
	case Domain:
		return e.domainBase().root
	}
	return nil
}
