package ir

import (
	"errors"
	"fmt"

	"dexsmith/internal/dex"
)

// ErrTooManyRegisters is returned when a transform would push a method
// past the encoding's representable register count.
var ErrTooManyRegisters = errors.New("ir: register count exceeds encoding limit")

// ErrOperandTooWide is returned when renumbering would write a register
// that does not fit an operand's declared bit width.
var ErrOperandTooWide = errors.New("ir: renumbered register does not fit operand width")

// InsertAfter splices insns immediately after anchor. A nil anchor inserts
// at the head of the sequence. Always succeeds.
func (b *Body) InsertAfter(anchor *dex.Insn, insns []*dex.Insn) {
	var at *Item
	if anchor != nil {
		at = b.FindInsn(anchor)
		if at == nil {
			panic("ir: InsertAfter anchor is not in the body")
		}
	}
	for _, insn := range insns {
		item := newInsnItem(insn)
		b.insertAfter(at, item)
		at = item
	}
	b.markDirty()
}

// RemoveOpcode deletes insn from the sequence, releasing its auxiliary
// data. For branches, the now-unreferenced target markers are removed too,
// so no dangling targets remain.
func (b *Body) RemoveOpcode(insn *dex.Insn) {
	item := b.FindInsn(insn)
	if item == nil {
		panic("ir: RemoveOpcode instruction is not in the body")
	}
	if dex.IsBranch(insn.Opcode()) {
		b.removeBranchTargets(item)
	}
	if insn.Opcode() == dex.OpFillArrayData {
		delete(b.arrayData, insn)
	}
	if item.prev != nil && item.prev.Kind == ItemFallthrough && item.prev.Throwing == item {
		b.removeItem(item.prev)
	}
	b.removeItem(item)
	b.markDirty()
}

// removeBranchTargets deletes every target marker owned by the branch item.
func (b *Body) removeBranchTargets(branch *Item) {
	var doomed []*Item
	for it := b.head; it != nil; it = it.next {
		if it.Kind == ItemTarget && it.Target.Src == branch {
			doomed = append(doomed, it)
		}
	}
	for _, it := range doomed {
		b.removeItem(it)
	}
}

// ReplaceOpcode swaps from for to in place. Ownership of from passes to
// the operation; the caller must not use it afterwards. Branch linkage is
// not preserved; use ReplaceBranch for branches.
func (b *Body) ReplaceOpcode(from, to *dex.Insn) {
	item := b.FindInsn(from)
	if item == nil {
		panic("ir: ReplaceOpcode instruction is not in the body")
	}
	item.Insn = to
	b.markDirty()
}

// ReplaceBranch swaps one branch instruction for another. Both must be
// branch opcodes; the target markers keep pointing at the same item, so
// the new branch jumps where the old one did.
func (b *Body) ReplaceBranch(from, to *dex.Insn) {
	if !dex.IsBranch(from.Opcode()) || !dex.IsBranch(to.Opcode()) {
		panic("ir: ReplaceBranch needs branch opcodes on both sides")
	}
	item := b.FindInsn(from)
	if item == nil {
		panic("ir: ReplaceBranch instruction is not in the body")
	}
	item.Insn = to
	b.markDirty()
}

// RemoveSwitchCase deletes the case target owned by the given switch
// instruction whose marker matches key. When the last case disappears the
// switch itself is removed and execution falls through.
func (b *Body) RemoveSwitchCase(insn *dex.Insn, key int32) {
	item := b.FindInsn(insn)
	if item == nil || !dex.IsSwitch(insn.Opcode()) {
		panic("ir: RemoveSwitchCase needs a switch instruction in the body")
	}
	var match *Item
	remaining := 0
	for it := b.head; it != nil; it = it.next {
		if it.Kind == ItemTarget && it.Target.Src == item {
			if it.Target.CaseKey == key && match == nil {
				match = it
			} else {
				remaining++
			}
		}
	}
	if match == nil {
		panic(fmt.Sprintf("ir: switch has no case %d", key))
	}
	b.removeItem(match)
	if remaining == 0 {
		b.RemoveOpcode(insn)
		return
	}
	b.markDirty()
}

// EnlargeRegs grows the method's register frame to newregs. Local
// registers keep their numbers; the input window (always the last Ins
// registers) shifts up by the delta, freeing newregs-oldregs registers
// starting at oldregs-Ins. The edit is atomic: every renumbered operand is
// validated against its declared width before anything is written.
func (b *Body) EnlargeRegs(newregs int) error {
	if newregs > 0xffff {
		return ErrTooManyRegisters
	}
	old := int(b.Registers)
	if newregs < old {
		panic("ir: EnlargeRegs cannot shrink the frame")
	}
	if newregs == old {
		return nil
	}
	delta := uint16(newregs - old)
	locals := b.Registers - b.Ins

	renumber := func(reg uint16) uint16 {
		if reg >= locals {
			return reg + delta
		}
		return reg
	}

	// Validate first.
	for _, item := range b.Insns() {
		insn := item.Insn
		if insn.HasDest() && !insn.DestIsSrc0() {
			if v := renumber(insn.Dest()); int(v) >= 1<<insn.DestWidth() {
				return fmt.Errorf("%w: %v dest v%d", ErrOperandTooWide, insn.Opcode(), v)
			}
		}
		for n := 0; n < insn.SrcCount(); n++ {
			if v := renumber(insn.Src(n)); int(v) >= 1<<insn.SrcWidth(n) {
				return fmt.Errorf("%w: %v src%d v%d", ErrOperandTooWide, insn.Opcode(), n, v)
			}
		}
	}

	for _, item := range b.Insns() {
		insn := item.Insn
		if insn.HasDest() && !insn.DestIsSrc0() {
			insn.SetDest(renumber(insn.Dest()))
		}
		for n := 0; n < insn.SrcCount(); n++ {
			insn.SetSrc(n, renumber(insn.Src(n)))
		}
	}
	b.Registers = uint16(newregs)
	return nil
}
