package es

import (
	"fmt"
	"reflect"
)

// Route binds one payload kind to a handler function. Build routes with On.
type Route struct {
	kind reflect.Type
	fn   func(MsgCtx) error
}

// On routes events whose payload is a *P to fn.
func On[P any](fn func(MsgCtx, *P) error) Route {
	return Route{
		kind: reflect.TypeFor[*P](),
		fn: func(mc MsgCtx) error {
			return fn(mc, mc.Payload().(*P))
		},
	}
}

// EventRouter is an immutable payload-kind to handler mapping. Events of
// kinds it has no route for are ignored. Several routes for one kind run in
// declaration order.
type EventRouter struct {
	name   string
	routes map[reflect.Type][]func(MsgCtx) error
}

func NewRouter(name string, routes ...Route) *EventRouter {
	r := &EventRouter{name: name, routes: make(map[reflect.Type][]func(MsgCtx) error, len(routes))}
	for _, route := range routes {
		r.routes[route.kind] = append(r.routes[route.kind], route.fn)
	}
	return r
}

func (r *EventRouter) Name() string { return r.name }

// Handles reports whether the router has a route for payload's kind.
func (r *EventRouter) Handles(payload any) bool {
	_, ok := r.routes[reflect.TypeOf(payload)]
	return ok
}

func (r *EventRouter) Handle(mc MsgCtx) error {
	for _, fn := range r.routes[reflect.TypeOf(mc.Payload())] {
		if err := fn(mc); err != nil {
			return fmt.Errorf("%s: %w", r.name, err)
		}
	}
	return nil
}

var _ Handler = (*EventRouter)(nil)
