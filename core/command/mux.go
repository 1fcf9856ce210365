package command

import (
	"context"
	"fmt"
	"reflect"
)

// Handler handles the command kinds it declares.
type Handler interface {
	Name() string
	Handles(cmd any) bool
	Handle(ctx context.Context, cmd any) error
}

// Route binds one command kind to a function. Build routes with On.
type Route struct {
	kind reflect.Type
	fn   func(ctx context.Context, cmd any) error
}

// On routes commands of exactly type C to fn.
func On[C any](fn func(ctx context.Context, cmd C) error) Route {
	return Route{
		kind: reflect.TypeFor[C](),
		fn: func(ctx context.Context, cmd any) error {
			return fn(ctx, cmd.(C))
		},
	}
}

// Mux is an immutable command kind to function mapping. Commands are
// validated before they reach a route.
type Mux struct {
	name   string
	routes map[reflect.Type]func(context.Context, any) error
}

func NewMux(name string, routes ...Route) *Mux {
	m := &Mux{name: name, routes: make(map[reflect.Type]func(context.Context, any) error, len(routes))}
	for _, r := range routes {
		if _, dup := m.routes[r.kind]; dup {
			panic(fmt.Sprintf("command mux %s: %s routed twice", name, r.kind))
		}
		m.routes[r.kind] = r.fn
	}
	return m
}

func (m *Mux) Name() string { return m.name }

func (m *Mux) Handles(cmd any) bool {
	_, ok := m.routes[reflect.TypeOf(cmd)]
	return ok
}

func (m *Mux) Handle(ctx context.Context, cmd any) error {
	fn, ok := m.routes[reflect.TypeOf(cmd)]
	if !ok {
		return fmt.Errorf("%s: %w: %s", m.name, ErrUnhandled, kindName(cmd))
	}
	if err := Validate(cmd); err != nil {
		return err
	}
	return fn(ctx, cmd)
}

func kindName(cmd any) string {
	t := reflect.TypeOf(cmd)
	if t == nil {
		return "<nil>"
	}
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.Name()
}

var _ Handler = (*Mux)(nil)
