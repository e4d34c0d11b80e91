package builders

import (
	"dexsmith/internal/dex"
	"dexsmith/internal/ir"
)

// A field's tracked value is either a register number (>= 0) or one of
// these sentinels.
const (
	// regUndefined: no write (or read) has reached this point yet.
	regUndefined int32 = -1
	// regDifferent: paths disagree about the register.
	regDifferent int32 = -2
	// regOverwritten: the register no longer holds the field's value.
	regOverwritten int32 = -3
)

// FieldsRegs maps each of the builder's instance fields to the register
// currently holding its authoritative value, or a sentinel.
type FieldsRegs map[dex.FieldID]int32

// fieldsProblem is the forward analysis behind the pass. Run once over
// writes (setter=true: a field maps to the register last stored into it)
// and once over reads (setter=false: a field maps to the register its
// value was last loaded into).
type fieldsProblem struct {
	pool    *dex.Pool
	builder dex.TypeID
	fields  []dex.FieldID
	setter  bool
}

func (p fieldsProblem) Entry() FieldsRegs {
	m := make(FieldsRegs, len(p.fields))
	for _, f := range p.fields {
		m[f] = regUndefined
	}
	return m
}

func (p fieldsProblem) Clone(s FieldsRegs) FieldsRegs {
	out := make(FieldsRegs, len(s))
	for f, r := range s {
		out[f] = r
	}
	return out
}

func (p fieldsProblem) Meet(into, from FieldsRegs) FieldsRegs {
	for f, r := range into {
		if r != from[f] {
			into[f] = regDifferent
		}
	}
	return into
}

func (p fieldsProblem) Equal(a, b FieldsRegs) bool {
	for f, r := range a {
		if b[f] != r {
			return false
		}
	}
	return true
}

func (p fieldsProblem) Transfer(item *ir.Item, s FieldsRegs) FieldsRegs {
	if item.Kind != ir.ItemInsn {
		return s
	}
	insn := item.Insn
	op := insn.Opcode()

	// Any write to a register a field was tracked in invalidates that
	// mapping.
	if insn.HasDest() {
		dest := int32(insn.Dest())
		for f, r := range s {
			if r == dest || (insn.DestIsWide() && r == dest+1) {
				s[f] = regOverwritten
			}
		}
	}

	if (p.setter && dex.IsIput(op)) || (!p.setter && dex.IsIget(op)) {
		ref := insn.FieldRef()
		if p.pool.FieldDef(ref).Class == p.builder {
			if p.setter {
				s[ref] = int32(insn.Src(0))
			} else {
				s[ref] = int32(insn.Dest())
			}
		}
	}
	return s
}
