package fsm

import (
	"errors"
	"fmt"
)

var ErrInvalidDeclaration = errors.New("fsm: invalid declaration")

// InvalidStateError reports a state value that was never declared.
type InvalidStateError struct {
	Attr  string
	State State
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("fsm: %s has undeclared state %q", e.Attr, e.State)
}

// InvalidTransitionError reports a state change with no matching transition
// for the event kind.
type InvalidTransitionError struct {
	Attr  string
	From  State
	To    State
	Event string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("fsm: %s transition %q -> %q is not declared for event %q", e.Attr, e.From, e.To, e.Event)
}
