package fsm

import (
	"fmt"
)

// DeletedEventType is the reserved event kind that skips transition checks.
const DeletedEventType = "deleted_event"

type State string

// Callback runs when an entity leaves or enters a state. An error aborts the
// surrounding event application.
type Callback[T any] func(T) error

// Listener is the untyped view of a Machine used by the event-sourcing core.
type Listener interface {
	Listen(entity any, eventType string, logic func() error) error
}

type transition struct {
	from, to State
	event    string
}

type stateDecl[T any] struct {
	onEnter []Callback[T]
	onExit  []Callback[T]
}

// Machine is an immutable state machine declaration for entities of type T.
type Machine[T any] struct {
	attr        string
	state       func(T) State
	states      map[State]*stateDecl[T]
	transitions map[transition]struct{}
}

type StateOption[T any] func(*stateDecl[T])

func OnEnter[T any](cb ...Callback[T]) StateOption[T] {
	return func(d *stateDecl[T]) { d.onEnter = append(d.onEnter, cb...) }
}

func OnExit[T any](cb ...Callback[T]) StateOption[T] {
	return func(d *stateDecl[T]) { d.onExit = append(d.onExit, cb...) }
}

type Builder[T any] struct {
	attr        string
	state       func(T) State
	order       []State
	states      map[State]*stateDecl[T]
	transitions []transition
	errs        []error
}

// New starts a declaration. attr names the state attribute in errors; state
// reads it from an entity.
func New[T any](attr string, state func(T) State) *Builder[T] {
	return &Builder[T]{
		attr:   attr,
		state:  state,
		states: make(map[State]*stateDecl[T]),
	}
}

func (b *Builder[T]) State(name State, opts ...StateOption[T]) *Builder[T] {
	if name == "" {
		b.errs = append(b.errs, fmt.Errorf("%w: empty state name", ErrInvalidDeclaration))
		return b
	}
	if _, ok := b.states[name]; ok {
		b.errs = append(b.errs, fmt.Errorf("%w: duplicate state %q", ErrInvalidDeclaration, name))
		return b
	}
	d := &stateDecl[T]{}
	for _, opt := range opts {
		opt(d)
	}
	b.states[name] = d
	b.order = append(b.order, name)
	return b
}

func (b *Builder[T]) Transition(from, to State, eventType string) *Builder[T] {
	b.transitions = append(b.transitions, transition{from: from, to: to, event: eventType})
	return b
}

func (b *Builder[T]) Build() (*Machine[T], error) {
	if b.state == nil {
		return nil, fmt.Errorf("%w: missing state accessor for %q", ErrInvalidDeclaration, b.attr)
	}
	if len(b.errs) > 0 {
		return nil, b.errs[0]
	}
	m := &Machine[T]{
		attr:        b.attr,
		state:       b.state,
		states:      make(map[State]*stateDecl[T], len(b.states)),
		transitions: make(map[transition]struct{}, len(b.transitions)),
	}
	for name, d := range b.states {
		m.states[name] = &stateDecl[T]{
			onEnter: append([]Callback[T](nil), d.onEnter...),
			onExit:  append([]Callback[T](nil), d.onExit...),
		}
	}
	for _, t := range b.transitions {
		if t.event == "" {
			return nil, fmt.Errorf("%w: transition %q -> %q has no event kind", ErrInvalidDeclaration, t.from, t.to)
		}
		for _, s := range []State{t.from, t.to} {
			if _, ok := m.states[s]; !ok {
				return nil, fmt.Errorf("%w: transition references undeclared state %q", ErrInvalidDeclaration, s)
			}
		}
		m.transitions[t] = struct{}{}
	}
	return m, nil
}

func (b *Builder[T]) MustBuild() *Machine[T] {
	m, err := b.Build()
	if err != nil {
		panic(err)
	}
	return m
}

// States returns the declared states in declaration order.
func (b *Builder[T]) States() []State { return append([]State(nil), b.order...) }

func (m *Machine[T]) Attr() string { return m.attr }

// Can reports whether (from, to, eventType) is a declared transition.
func (m *Machine[T]) Can(from, to State, eventType string) bool {
	_, ok := m.transitions[transition{from: from, to: to, event: eventType}]
	return ok
}

// Listen wraps logic, which is expected to mutate entity, with state
// validation and callbacks. A nil machine only runs logic.
func (m *Machine[T]) Listen(entity T, eventType string, logic func() error) error {
	if m == nil {
		return logic()
	}

	from := m.state(entity)
	fromDecl, ok := m.states[from]
	if !ok {
		return &InvalidStateError{Attr: m.attr, State: from}
	}
	for _, cb := range fromDecl.onExit {
		if err := cb(entity); err != nil {
			return err
		}
	}

	if err := logic(); err != nil {
		return err
	}

	to := m.state(entity)
	toDecl, ok := m.states[to]
	if !ok {
		return &InvalidStateError{Attr: m.attr, State: to}
	}
	if from != to && eventType != DeletedEventType && !m.Can(from, to, eventType) {
		return &InvalidTransitionError{Attr: m.attr, From: from, To: to, Event: eventType}
	}
	for _, cb := range toDecl.onEnter {
		if err := cb(entity); err != nil {
			return err
		}
	}
	return nil
}

// Guard returns the untyped Listener view of m. Entities that are not a T
// pass through unchecked.
func (m *Machine[T]) Guard() Listener { return guard[T]{m: m} }

type guard[T any] struct{ m *Machine[T] }

func (g guard[T]) Listen(entity any, eventType string, logic func() error) error {
	e, ok := entity.(T)
	if !ok {
		return logic()
	}
	return g.m.Listen(e, eventType, logic)
}
