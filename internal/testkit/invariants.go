package testkit

import (
	"fmt"

	"fortio.org/safecast"

	"dexsmith/internal/dex"
	"dexsmith/internal/ir"
)

// CheckBodyInvariants runs a minimal set of structural invariants on an
// editable method body:
// 1) the item list is a consistent doubly-linked chain of Len items
// 2) every target's source instruction is present in the body
// 3) every fallthrough marker guards the instruction that follows it
// 4) try markers are paired and their catch chains stay inside the body
// 5) every register operand fits the declared frame
func CheckBodyInvariants(b *ir.Body) error {
	if b == nil {
		return fmt.Errorf("nil body")
	}
	if b.Ins > b.Registers {
		return fmt.Errorf("frame declares %d inputs in %d registers", b.Ins, b.Registers)
	}

	// 1) chain consistency + membership index
	present := make(map[*ir.Item]bool, b.Len())
	count := 0
	var prev *ir.Item
	for it := b.Front(); it != nil; it = it.Next() {
		if it.Prev() != prev {
			return fmt.Errorf("item %d has inconsistent prev link", count)
		}
		if present[it] {
			return fmt.Errorf("item %d appears twice in the chain", count)
		}
		present[it] = true
		prev = it
		count++
	}
	if count != b.Len() {
		return fmt.Errorf("chain holds %d items, body reports %d", count, b.Len())
	}
	if prev != b.Back() {
		return fmt.Errorf("chain tail does not match Back()")
	}

	// 2-4) per-item structure
	tryStarts := make(map[*ir.TryMarker]bool)
	for it := b.Front(); it != nil; it = it.Next() {
		switch it.Kind {
		case ir.ItemTarget:
			src := it.Target.Src
			if src == nil || !present[src] {
				return fmt.Errorf("target at item refers to a source outside the body")
			}
			if src.Kind != ir.ItemInsn {
				return fmt.Errorf("target source is a %s, not an instruction", src.Kind)
			}
			if !src.Insn.HasOffset() {
				return fmt.Errorf("target source %s cannot branch", src.Insn.Opcode())
			}
		case ir.ItemFallthrough:
			guarded := it.Throwing
			if guarded == nil || !present[guarded] {
				return fmt.Errorf("fallthrough marker guards an instruction outside the body")
			}
			next := it.Next()
			for next != nil && next.Kind != ir.ItemInsn {
				next = next.Next()
			}
			if next != guarded {
				return fmt.Errorf("fallthrough marker does not precede its guarded instruction")
			}
		case ir.ItemTryStart:
			if tryStarts[it.Try] {
				return fmt.Errorf("try range opened twice")
			}
			tryStarts[it.Try] = true
			for c := it.Try.CatchStart; c != nil; c = c.Catch.Next {
				if !present[c] || c.Kind != ir.ItemCatch {
					return fmt.Errorf("catch chain leaves the body")
				}
			}
		case ir.ItemTryEnd:
			if !tryStarts[it.Try] {
				return fmt.Errorf("try range closed before it was opened")
			}
			delete(tryStarts, it.Try)
		}
	}
	if len(tryStarts) != 0 {
		return fmt.Errorf("%d try ranges never closed", len(tryStarts))
	}

	// 5) operands within the frame
	for _, it := range b.Insns() {
		if err := checkInsnRegs(it.Insn, b.Registers); err != nil {
			return err
		}
	}
	return nil
}

func checkInsnRegs(insn *dex.Insn, frame uint16) error {
	top, err := safecast.Conv[int](frame)
	if err != nil {
		return fmt.Errorf("frame size overflow: %w", err)
	}
	if insn.HasDest() {
		reg := int(insn.Dest())
		width := 1
		if insn.DestIsWide() {
			width = 2
		}
		if reg+width > top {
			return fmt.Errorf("%s writes v%d past the %d-register frame", insn.Opcode(), reg, top)
		}
	}
	start := 0
	if insn.DestIsSrc0() {
		start = 1
	}
	for n := start; n < insn.SrcCount(); n++ {
		if int(insn.Src(n)) >= top {
			return fmt.Errorf("%s reads v%d past the %d-register frame", insn.Opcode(), insn.Src(n), top)
		}
	}
	return nil
}
