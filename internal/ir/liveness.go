package ir

import "dexsmith/internal/dex"

// Liveness maps every instruction item to the set of registers that may
// still be read after it executes (its live-out set).
type Liveness map[*Item]RegSet

// insnUses appends insn's read registers through fn, expanding wide pairs.
func insnUses(insn *dex.Insn, fn func(uint16)) {
	for n := 0; n < insn.SrcCount(); n++ {
		fn(insn.Src(n))
		if dex.SrcIsWide(insn.Opcode(), n) {
			fn(insn.Src(n) + 1)
		}
	}
}

// insnDefs appends insn's written registers through fn, expanding wide pairs.
func insnDefs(insn *dex.Insn, fn func(uint16)) {
	if !insn.HasDest() {
		return
	}
	d := insn.Dest()
	fn(d)
	if insn.DestIsWide() {
		fn(d + 1)
	}
}

// ComputeLiveness runs a backward use/def fixpoint over the body's CFG and
// returns per-instruction live-out sets. The CFG must be fresh.
func (b *Body) ComputeLiveness() Liveness {
	g := b.CFG()
	blocks := g.Blocks()

	in := make([]RegSet, len(blocks))
	out := make([]RegSet, len(blocks))
	for i := range blocks {
		in[i] = NewRegSet(int(b.Registers))
		out[i] = NewRegSet(int(b.Registers))
	}

	blockIn := func(bb *Block) RegSet {
		// in = use ∪ (out − def), computed by walking backwards.
		live := out[bb.ID()].Clone()
		items := bb.Items()
		for i := len(items) - 1; i >= 0; i-- {
			it := items[i]
			if it.Kind != ItemInsn {
				continue
			}
			insnDefs(it.Insn, func(r uint16) { live.Remove(r) })
			insnUses(it.Insn, func(r uint16) { live.Add(r) })
		}
		return live
	}

	changed := true
	for changed {
		changed = false
		post := g.Postorder()
		for _, bb := range post {
			o := NewRegSet(int(b.Registers))
			for _, s := range bb.Succs() {
				o.Union(in[s.ID()])
			}
			if !o.Equal(out[bb.ID()]) {
				out[bb.ID()] = o
				changed = true
			}
			i := blockIn(bb)
			if !i.Equal(in[bb.ID()]) {
				in[bb.ID()] = i
				changed = true
			}
		}
	}

	// Second sweep records per-instruction live-out sets.
	result := make(Liveness)
	for _, bb := range blocks {
		live := out[bb.ID()].Clone()
		items := bb.Items()
		for i := len(items) - 1; i >= 0; i-- {
			it := items[i]
			if it.Kind != ItemInsn {
				continue
			}
			result[it] = live.Clone()
			insnDefs(it.Insn, func(r uint16) { live.Remove(r) })
			insnUses(it.Insn, func(r uint16) { live.Add(r) })
		}
	}
	return result
}
