// Package passes defines the transform pass contract and the registry the
// driver resolves configured pass names against.
package passes

import (
	"context"
	"fmt"
	"sort"

	"dexsmith/internal/config"
	"dexsmith/internal/dex"
	"dexsmith/internal/diag"
	"dexsmith/internal/ir"
	"dexsmith/internal/trace"
)

// Context is everything a pass sees while running: the scope, the bodies
// the driver ballooned for it, configuration and reporting channels.
//
// Bodies maps every method that has code to its editable form. A pass
// edits bodies in place; the driver syncs them all back after the last
// pass. A pass that needs to abandon its edits on one method swaps the
// entry back via Restore.
type Context struct {
	Scope  *dex.Scope
	Bodies map[*dex.Method]*ir.Body
	Config *config.Config
	Report diag.Reporter
	Tracer trace.Tracer
}

// BodyOf returns the ballooned body for m, nil when m has no code.
func (c *Context) BodyOf(m *dex.Method) *ir.Body {
	return c.Bodies[m]
}

// Restore replaces m's body, discarding whatever edits the current one
// carries. Passes use this with a pre-edit clone to bail out cleanly.
func (c *Context) Restore(m *dex.Method, b *ir.Body) {
	c.Bodies[m] = b
}

// Pass is one whole-scope transform.
type Pass interface {
	// Name is the identifier configuration refers to the pass by.
	Name() string
	// Run edits bodies in place. Per-method failures are reported as
	// diagnostics and rolled back; an error return aborts the pipeline.
	Run(ctx context.Context, pc *Context) error
}

var registry = make(map[string]Pass)

// Register adds a pass to the registry. Called from pass package init
// functions; duplicate names are a programming error.
func Register(p Pass) {
	name := p.Name()
	if _, dup := registry[name]; dup {
		panic(fmt.Sprintf("passes: duplicate registration of %q", name))
	}
	registry[name] = p
}

// Lookup resolves a configured pass name.
func Lookup(name string) (Pass, bool) {
	p, ok := registry[name]
	return p, ok
}

// Names returns every registered pass name, sorted.
func Names() []string {
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
