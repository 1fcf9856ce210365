// Package fsm validates entity state transitions against a declared state
// machine.
//
// A machine is declared once per entity type and is immutable after Build:
//
//	var orderStates = fsm.New("state", func(o *Order) fsm.State { return o.State }).
//		State("created").
//		State("paid", fsm.OnEnter(func(o *Order) error { o.PaidAt = time.Now(); return nil })).
//		Transition("created", "paid", "order_paid").
//		MustBuild()
//
// The machine never chooses the next state. Business logic mutates the
// entity; [Machine.Listen] checks that the observed change was declared legal
// for the triggering event kind and runs the exit and enter callbacks around
// it. An unchanged state is always legal, and events of kind
// [DeletedEventType] bypass the transition table.
package fsm
