package ir

import (
	"fmt"

	"dexsmith/internal/dex"
)

// Unit coordinates editing across a scope: it balloons method bodies on
// demand, caches them so repeated lookups share one editable form, and
// writes every touched body back in a single sync pass.
//
// A Unit is confined to one goroutine; drivers shard work per method, not
// per unit.
type Unit struct {
	scope  *dex.Scope
	bodies map[*dex.Method]*Body
}

// NewUnit wraps scope for editing.
func NewUnit(scope *dex.Scope) *Unit {
	return &Unit{scope: scope, bodies: make(map[*dex.Method]*Body)}
}

// Scope returns the wrapped scope.
func (u *Unit) Scope() *dex.Scope { return u.scope }

// BodyOf returns the editable body of m, ballooning it on first access.
// Methods without code (abstract, native) return an error.
func (u *Unit) BodyOf(m *dex.Method) (*Body, error) {
	if b, ok := u.bodies[m]; ok {
		return b, nil
	}
	if m.Code == nil {
		return nil, fmt.Errorf("ir: method %s has no code", u.scope.Pool.MethodName(m.ID))
	}
	b, err := Balloon(m.Code)
	if err != nil {
		return nil, err
	}
	u.bodies[m] = b
	return b, nil
}

// Discard drops m's editable body without writing it back. The method
// keeps the code it had before BodyOf.
func (u *Unit) Discard(m *dex.Method) {
	delete(u.bodies, m)
}

// Touched returns the number of methods with a live editable body.
func (u *Unit) Touched() int { return len(u.bodies) }

// SyncOne writes m's editable body back into its code and drops the body.
// A method never ballooned is a no-op.
func (u *Unit) SyncOne(m *dex.Method) error {
	b, ok := u.bodies[m]
	if !ok {
		return nil
	}
	if err := b.Sync(m.Code); err != nil {
		return fmt.Errorf("ir: sync %s: %w", u.scope.Pool.MethodName(m.ID), err)
	}
	delete(u.bodies, m)
	return nil
}

// SyncAll writes every touched body back in scope order. It stops at the
// first failure, leaving later bodies untouched.
func (u *Unit) SyncAll() error {
	var err error
	u.scope.EachMethod(func(_ *dex.Class, m *dex.Method) {
		if err != nil {
			return
		}
		err = u.SyncOne(m)
	})
	return err
}

// Transform balloons m, applies fn, and syncs the result back. When fn
// returns an error the body is discarded and the method's code is left as
// it was.
func (u *Unit) Transform(m *dex.Method, fn func(*Body) error) error {
	b, err := u.BodyOf(m)
	if err != nil {
		return err
	}
	if err := fn(b); err != nil {
		u.Discard(m)
		return err
	}
	return u.SyncOne(m)
}
