// Package dataflow runs forward fixpoint analyses over a method's
// control-flow graph. A client supplies the lattice (entry state, meet,
// equality) and the per-instruction transfer function; the framework
// iterates in reverse postorder until the states stop changing and hands
// back the state observed immediately before every instruction.
package dataflow

import (
	"dexsmith/internal/dex"
	"dexsmith/internal/ir"
)

// Problem defines one forward analysis. T is the lattice state; values
// passed to Transfer and Meet are owned by the framework and must not be
// retained.
type Problem[T any] interface {
	// Entry returns the state at method entry.
	Entry() T
	// Clone returns an independent copy of a state.
	Clone(T) T
	// Meet folds from into into at a control-flow join and returns the
	// result. It may mutate into.
	Meet(into, from T) T
	// Equal reports whether two states are indistinguishable. Fixpoint
	// termination depends on Meet being monotone under this relation.
	Equal(a, b T) bool
	// Transfer applies one item's effect to state and returns the result.
	// It may mutate state. Non-instruction items are passed through so
	// analyses can react to catch markers and try boundaries.
	Transfer(item *ir.Item, state T) T
}

// Result holds the fixpoint of a forward analysis.
type Result[T any] struct {
	// Before maps each instruction item to the state immediately before
	// it executes.
	Before map[*ir.Item]T
	// Exit is the meet of every return block's final state; zero when the
	// body has no reachable return.
	Exit    T
	hasExit bool
}

// HasExit reports whether any return was reached.
func (r *Result[T]) HasExit() bool { return r.hasExit }

// Forward runs p over g to fixpoint. The graph must be fresh for the body
// it was built from.
func Forward[T any](g *ir.Graph, p Problem[T]) *Result[T] {
	blocks := g.Blocks()
	in := make(map[*ir.Block]T, len(blocks))
	out := make(map[*ir.Block]T, len(blocks))

	blockOut := func(bb *ir.Block, state T) T {
		for _, it := range bb.Items() {
			state = p.Transfer(it, state)
		}
		return state
	}

	rpo := g.ReversePostorder()
	for changed := true; changed; {
		changed = false
		for _, bb := range rpo {
			var state T
			have := false
			if bb == g.Entry() {
				state = p.Entry()
				have = true
			}
			for _, pred := range bb.Preds() {
				po, ok := out[pred]
				if !ok {
					continue
				}
				if !have {
					state = p.Clone(po)
					have = true
				} else {
					state = p.Meet(state, po)
				}
			}
			if !have {
				continue // unreachable this round
			}
			if prev, ok := in[bb]; ok && p.Equal(prev, state) {
				continue
			}
			in[bb] = p.Clone(state)
			out[bb] = blockOut(bb, state)
			changed = true
		}
	}

	res := &Result[T]{Before: make(map[*ir.Item]T)}
	for _, bb := range blocks {
		state, ok := in[bb]
		if !ok {
			continue
		}
		state = p.Clone(state)
		returns := false
		for _, it := range bb.Items() {
			if it.Kind == ir.ItemInsn {
				res.Before[it] = p.Clone(state)
				if isReturnItem(it) {
					returns = true
				}
			}
			state = p.Transfer(it, state)
		}
		if returns {
			if !res.hasExit {
				res.Exit = p.Clone(state)
				res.hasExit = true
			} else {
				res.Exit = p.Meet(res.Exit, state)
			}
		}
	}
	return res
}

func isReturnItem(it *ir.Item) bool {
	return dex.IsReturn(it.Insn.Opcode())
}
