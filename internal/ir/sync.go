package ir

import (
	"fmt"

	"dexsmith/internal/dex"
)

// Sync re-linearizes the item sequence into code, recomputing branch
// offsets, payload placement, exception ranges and debug addresses.
//
// Encoding is iterative: a pass that finds a branch whose offset no longer
// fits widens that instruction in place and retries. Instructions only
// ever grow, so the number of passes is bounded by the number of goto size
// classes times the number of branches.
func (b *Body) Sync(code *dex.Code) error {
	// Every pass widens at least one instruction, and each branch can be
	// widened at most twice.
	maxPasses := 2*b.CountOpcodes() + 1
	for pass := 0; pass < maxPasses; pass++ {
		done, err := b.trySync(code)
		if err != nil {
			return err
		}
		if done {
			b.cfg = nil // linearized form is now authoritative
			return nil
		}
	}
	panic("ir: sync failed to converge; branch resizing is not monotone")
}

// trySync attempts one encoding pass. It returns done=false after widening
// an instruction whose branch offset did not fit.
func (b *Body) trySync(code *dex.Code) (bool, error) {
	// Pass 1: assign addresses to every item. Markers take the address of
	// the instruction that follows them.
	cursor := uint32(0)
	for it := b.head; it != nil; it = it.next {
		it.Addr = cursor
		if it.Kind == ItemInsn {
			cursor += uint32(it.Insn.SizeUnits())
		}
	}

	// Pass 2: collect branch targets. Each simple target belongs to
	// exactly one branch; case targets group per switch instruction.
	type switchInfo struct {
		keys    []int32
		targets []*Item
	}
	switches := make(map[*Item]*switchInfo)
	var switchOrder []*Item
	simple := make(map[*Item]*Item) // branch item -> target item
	for it := b.head; it != nil; it = it.next {
		if it.Kind != ItemTarget {
			continue
		}
		src := it.Target.Src
		if src == nil || src.Kind != ItemInsn {
			panic("ir: dangling branch target")
		}
		if it.Target.Kind == TargetCase {
			info := switches[src]
			if info == nil {
				info = &switchInfo{}
				switches[src] = info
				switchOrder = append(switchOrder, src)
			}
			info.keys = append(info.keys, it.Target.CaseKey)
			info.targets = append(info.targets, it)
		} else {
			if prev, dup := simple[src]; dup {
				panic(fmt.Sprintf("ir: branch has two targets (%d and %d)", prev.Addr, it.Addr))
			}
			simple[src] = it
		}
	}

	// Pass 3: resolve simple branch offsets in stream order, widening when
	// needed.
	for src := b.head; src != nil; src = src.next {
		target, ok := simple[src]
		if !ok {
			continue
		}
		off := int32(target.Addr) - int32(src.Addr)
		if src.Insn.OffsetFits(off) {
			src.Insn.SetOffset(off)
			continue
		}
		op := src.Insn.Opcode()
		wider, ok := dex.WidenGoto(op)
		if !ok {
			// Conditional branches have no wider encoding; a transform
			// that pushed a target this far out is a bug.
			panic(fmt.Sprintf("ir: %v offset %d does not fit and cannot widen", op, off))
		}
		// Swap in the wider goto. The target records the item, not the
		// instruction, so linkage survives.
		src.Insn = dex.NewInsn(wider)
		return false, nil
	}

	// Pass 4: lay out payloads after the instruction stream, 4-byte
	// aligned with nop padding, and patch the 31t offsets.
	var payloads []dex.Payload
	var padding []bool
	payloadCursor := cursor
	place := func(owner *Item, p dex.Payload) {
		pad := payloadCursor%2 == 1
		if pad {
			payloadCursor++
		}
		owner.Insn.SetOffset(int32(payloadCursor) - int32(owner.Addr))
		payloads = append(payloads, p)
		padding = append(padding, pad)
		payloadCursor += uint32(p.SizeUnits())
	}
	for _, src := range switchOrder {
		info := switches[src]
		sortCaseTargets(info.keys, info.targets)
		p, err := buildSwitchPayload(src, info.keys, info.targets)
		if err != nil {
			return false, err
		}
		place(src, p)
	}
	for it := b.head; it != nil; it = it.next {
		if it.Kind == ItemInsn && it.Insn.Opcode() == dex.OpFillArrayData {
			p := b.arrayData[it.Insn]
			if p == nil {
				return false, fmt.Errorf("sync: fill-array at %d has no payload", it.Addr)
			}
			place(it, p)
		}
	}

	// Pass 5: rebuild exception ranges from the marker pairs.
	code.Tries = code.Tries[:0]
	open := make(map[*TryMarker]uint32)
	for it := b.head; it != nil; it = it.next {
		switch it.Kind {
		case ItemTryStart:
			if _, dup := open[it.Try]; dup {
				panic("ir: try range opened twice")
			}
			open[it.Try] = it.Addr
		case ItemTryEnd:
			start, ok := open[it.Try]
			if !ok {
				panic("ir: try end without matching start")
			}
			delete(open, it.Try)
			t := dex.Try{Start: start, End: it.Addr}
			for c := it.Try.CatchStart; c != nil; c = c.Catch.Next {
				if c.Kind != ItemCatch {
					panic("ir: catch chain references a non-catch item")
				}
				if c.Catch.CatchAll {
					t.HasCatchAll = true
					t.CatchAllAddr = c.Addr
				} else {
					t.Catches = append(t.Catches, dex.CatchArm{Type: c.Catch.Type, Addr: c.Addr})
				}
			}
			code.Tries = append(code.Tries, t)
		}
	}
	if len(open) != 0 {
		panic("ir: try range never closed")
	}

	// Pass 6: debug markers get their recomputed addresses.
	code.Positions = code.Positions[:0]
	code.Debug = code.Debug[:0]
	for it := b.head; it != nil; it = it.next {
		switch it.Kind {
		case ItemPosition:
			p := it.Pos
			p.Addr = it.Addr
			code.Positions = append(code.Positions, p)
		case ItemDebug:
			n := it.Note
			n.Addr = it.Addr
			code.Debug = append(code.Debug, n)
		}
	}

	// Pass 7: emit units.
	code.Units = code.Units[:0]
	for it := b.head; it != nil; it = it.next {
		if it.Kind == ItemInsn {
			code.Units = it.Insn.Units(code.Units)
		}
	}
	for i, p := range payloads {
		if padding[i] {
			code.Units = append(code.Units, uint16(dex.OpNop))
		}
		code.Units = p.AppendUnits(code.Units)
	}

	// Register metadata: outs is recomputed from the widest invoke.
	code.Registers = b.Registers
	code.Ins = b.Ins
	outs := uint16(0)
	for it := b.head; it != nil; it = it.next {
		if it.Kind == ItemInsn && dex.IsInvoke(it.Insn.Opcode()) {
			if n := uint16(it.Insn.Arity()); n > outs {
				outs = n
			}
		}
	}
	code.Outs = outs
	b.Outs = outs

	return true, nil
}

// buildSwitchPayload encodes one switch's sorted cases, packed when the
// keys are contiguous and sparse otherwise, retagging the instruction's
// opcode to match. Case offsets are relative to the switch instruction.
func buildSwitchPayload(src *Item, keys []int32, targets []*Item) (dex.Payload, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("sync: switch at %d has no cases", src.Addr)
	}
	rel := make([]int32, len(targets))
	for i, t := range targets {
		rel[i] = int32(t.Addr) - int32(src.Addr)
	}
	packed := true
	for i := 1; i < len(keys); i++ {
		if keys[i] != keys[i-1]+1 {
			packed = false
			break
		}
	}
	if packed {
		if src.Insn.Opcode() != dex.OpPackedSwitch {
			src.Insn.ReplaceOpcode(dex.OpPackedSwitch)
		}
		return &dex.PackedSwitchPayload{FirstKey: keys[0], Targets: rel}, nil
	}
	if src.Insn.Opcode() != dex.OpSparseSwitch {
		src.Insn.ReplaceOpcode(dex.OpSparseSwitch)
	}
	return &dex.SparseSwitchPayload{Keys: keys, Targets: rel}, nil
}
