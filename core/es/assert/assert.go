// Package assert builds the preconditions command methods check before
// raising events, see es.BaseAggregate.Checked.
package assert

import (
	"errors"
	"fmt"
	"slices"
)

// ErrFailed is matched by every error a failing Cond returns.
var ErrFailed = errors.New("assertion failed")

// FailedError names the condition that did not hold.
type FailedError struct {
	Cond string
}

func (e *FailedError) Error() string        { return fmt.Sprintf("assertion failed: %s", e.Cond) }
func (e *FailedError) Is(target error) bool { return target == ErrFailed }

type Func func() error
type CondFunc func() bool

type Cond interface {
	String() string
	Eval() bool
	Check() error
}

type cond struct {
	name  string
	cond  CondFunc
	check func() error
}

func (c *cond) Check() error   { return c.check() }
func (c *cond) String() string { return c.name }
func (c *cond) Eval() bool     { return c.cond() }

func newCond(name string, condFn CondFunc) *cond {
	return &cond{name: name, cond: condFn, check: func() error {
		if !condFn() {
			return &FailedError{Cond: name}
		}
		return nil
	}}
}

func Not(c Cond) Cond {
	return newCond(fmt.Sprintf("not(%s)", c.String()), func() bool { return !c.Eval() })
}
func True(v bool, name string) Cond  { return newCond(name, func() bool { return v }) }
func False(v bool, name string) Cond { return newCond(name, func() bool { return !v }) }

// OneOf holds when v equals one of allowed, e.g. a state attribute.
func OneOf[T comparable](v T, name string, allowed ...T) Cond {
	return newCond(fmt.Sprintf("%s in %v", name, allowed), func() bool { return slices.Contains(allowed, v) })
}

// All holds when every c holds. Check reports the first failing one.
func All(cs ...Cond) Cond {
	all := newCond("all", func() bool {
		for _, c := range cs {
			if !c.Eval() {
				return false
			}
		}
		return true
	})

	all.check = func() error {
		for _, c := range cs {
			if err := c.Check(); err != nil {
				return err
			}
		}
		return nil
	}

	return all
}

func Assert(cond ...Cond) Func {
	return All(cond...).Check
}
