package builders

import (
	"dexsmith/internal/dataflow"
	"dexsmith/internal/dex"
	"dexsmith/internal/ir"
)

// taintedProblem tracks which registers may hold the builder instance.
// The pass only rewrites a method when the instance provably stays local
// to it, so taint is seeded at every new-instance of the builder type and
// followed through object moves and move-result of builder-returning
// builder methods.
type taintedProblem struct {
	pool    *dex.Pool
	builder dex.TypeID
	regs    int
}

func (p taintedProblem) Entry() ir.RegSet {
	return ir.NewRegSet(p.regs)
}

func (p taintedProblem) Clone(s ir.RegSet) ir.RegSet { return s.Clone() }

func (p taintedProblem) Meet(into, from ir.RegSet) ir.RegSet {
	into.Union(from)
	return into
}

func (p taintedProblem) Equal(a, b ir.RegSet) bool { return a.Equal(b) }

func (p taintedProblem) Transfer(item *ir.Item, s ir.RegSet) ir.RegSet {
	if item.Kind != ir.ItemInsn {
		return s
	}
	insn := item.Insn
	switch op := insn.Opcode(); {
	case op == dex.OpNewInstance && insn.TypeRef() == p.builder:
		s.Add(insn.Dest())

	case op == dex.OpMoveObject || op == dex.OpMoveObjectFrom16 || op == dex.OpMoveObject16:
		if s.Has(insn.Src(0)) {
			s.Add(insn.Dest())
		} else {
			s.Remove(insn.Dest())
		}

	case op == dex.OpMoveResultObject:
		if p.invokeReturnsBuilder(item) {
			s.Add(insn.Dest())
		} else {
			s.Remove(insn.Dest())
		}

	case insn.HasDest():
		s.Remove(insn.Dest())
		if insn.DestIsWide() {
			s.Remove(insn.Dest() + 1)
		}
	}
	return s
}

// invokeReturnsBuilder reports whether the instruction feeding this
// move-result-object is an invoke on the builder class that returns the
// builder type (the fluent-setter shape).
func (p taintedProblem) invokeReturnsBuilder(item *ir.Item) bool {
	prev := item.Prev()
	for prev != nil && prev.Kind != ir.ItemInsn {
		prev = prev.Prev()
	}
	if prev == nil || !dex.IsInvoke(prev.Insn.Opcode()) {
		return false
	}
	def := p.pool.MethodDef(prev.Insn.MethodRef())
	return def.Class == p.builder && p.pool.ProtoDef(def.Proto).Return == p.builder
}

// escapes reports whether the builder instance can leave the method: it
// is stored into a field or returned, thrown, or passed to a method that
// is not the builder's own. The body must carry a fresh CFG.
func escapes(body *ir.Body, pool *dex.Pool, builder dex.TypeID) bool {
	res := dataflow.Forward[ir.RegSet](body.CFG(), taintedProblem{
		pool:    pool,
		builder: builder,
		regs:    int(body.Registers),
	})
	for _, it := range body.Insns() {
		tainted, ok := res.Before[it]
		if !ok {
			continue // unreachable
		}
		insn := it.Insn
		op := insn.Opcode()
		switch {
		case dex.IsIput(op) || dex.IsSput(op):
			if tainted.Has(insn.Src(0)) {
				return true
			}
		case op == dex.OpReturnObject || op == dex.OpThrow:
			if tainted.Has(insn.Src(0)) {
				return true
			}
		case dex.IsInvoke(op):
			if pool.MethodDef(insn.MethodRef()).Class == builder {
				continue
			}
			for n := 0; n < insn.SrcCount(); n++ {
				if tainted.Has(insn.Src(n)) {
					return true
				}
			}
		}
	}
	return false
}
