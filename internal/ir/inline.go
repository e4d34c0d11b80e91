package ir

import (
	"errors"
	"fmt"

	"dexsmith/internal/dex"
)

// ErrNotInlinable is returned when a call site does not meet an inline
// operation's structural preconditions.
var ErrNotInlinable = errors.New("ir: call site cannot be inlined")

// InlineContext carries per-caller state shared across the inlining of
// several call sites into the same body. Liveness is computed once, on
// first use, against the caller as it stood at that point; callers that
// mutate the body between inlines should start a fresh context.
type InlineContext struct {
	Caller       *Body
	OriginalRegs uint16

	// EstimatedInsnSize accumulates the code units added by inlining, so
	// drivers can stop before a method grows past encoding limits.
	EstimatedInsnSize int

	useLiveness bool
	live        Liveness
}

// NewInlineContext prepares caller for a sequence of inline operations.
// When useLiveness is set, dead caller registers at each call site may be
// reused for callee locals instead of growing the frame.
func NewInlineContext(caller *Body, useLiveness bool) *InlineContext {
	return &InlineContext{
		Caller:       caller,
		OriginalRegs: caller.Registers,
		useLiveness:  useLiveness,
	}
}

func (c *InlineContext) liveOut(at *Item) (RegSet, bool) {
	if !c.useLiveness {
		return RegSet{}, false
	}
	if c.live == nil {
		c.Caller.BuildCFG(true)
		c.live = c.Caller.ComputeLiveness()
	}
	s, ok := c.live[at]
	return s, ok
}

// InlineTailCall splices callee into caller at invoke, replacing the call
// and everything after it with the callee's body. The callee's returns
// become the caller's returns.
//
// The call must be a true tail call: the invoke passes the caller's last
// callee-ins input registers, in order, and nothing after the invoke does
// work. Both frames are enlarged to a common size so the callee's input
// window lands exactly on the argument registers, which makes the splice
// a pure concatenation with no move instructions.
func InlineTailCall(caller, callee *Body, invoke *dex.Insn) error {
	item := caller.FindInsn(invoke)
	if item == nil || !dex.IsInvoke(invoke.Opcode()) {
		return fmt.Errorf("%w: not an invoke in the caller", ErrNotInlinable)
	}
	bins, eins := int(caller.Ins), int(callee.Ins)
	if eins > bins {
		return fmt.Errorf("%w: callee takes %d inputs, caller has %d", ErrNotInlinable, eins, bins)
	}
	if invoke.SrcCount() != eins {
		return fmt.Errorf("%w: invoke passes %d args, callee takes %d", ErrNotInlinable, invoke.SrcCount(), eins)
	}
	for i := 0; i < eins; i++ {
		want := int(caller.Registers) - eins + i
		if int(invoke.Src(i)) != want {
			return fmt.Errorf("%w: arg %d is v%d, tail call needs v%d", ErrNotInlinable, i, invoke.Src(i), want)
		}
	}

	newregs := int(caller.Registers)
	if n := int(callee.Registers) + bins - eins; n > newregs {
		newregs = n
	}
	if err := caller.EnlargeRegs(newregs); err != nil {
		return err
	}
	dropThrowGuard(caller, item)
	spliced := callee.Clone()
	if err := spliced.EnlargeRegs(newregs); err != nil {
		return err
	}

	// Concatenate: callee body in, then drop the invoke and the vestigial
	// caller tail behind it.
	for it := spliced.head; it != nil; {
		next := it.next
		spliced.removeItem(it)
		caller.insertBefore(item, it)
		it = next
	}
	for it := item; it != nil; {
		next := it.next
		caller.removeItem(it)
		it = next
	}
	for insn, payload := range spliced.arrayData {
		caller.arrayData[insn] = payload
	}
	caller.markDirty()
	return nil
}

// Inline16Regs splices callee into caller at invoke as an ordinary
// (non-tail) inline. Callee locals are renumbered into a window of caller
// registers, callee inputs are substituted by the invoke's argument
// registers, and callee returns become moves into the move-result
// destination followed by a jump past the call site.
//
// Every register of the merged frame must stay addressable by the
// narrowest operand encoding, so the operation fails when the combined
// count exceeds 16. With liveness enabled, a dead suffix of the caller's
// local window is reused for callee locals before the frame is grown.
func Inline16Regs(ctx *InlineContext, callee *Body, invoke *dex.Insn) error {
	caller := ctx.Caller
	item := caller.FindInsn(invoke)
	if item == nil || !dex.IsInvoke(invoke.Opcode()) {
		return fmt.Errorf("%w: not an invoke in the caller", ErrNotInlinable)
	}
	eins := int(callee.Ins)
	if invoke.SrcCount() != eins {
		return fmt.Errorf("%w: invoke passes %d args, callee takes %d", ErrNotInlinable, invoke.SrcCount(), eins)
	}
	calleeLocals := int(callee.Registers) - eins
	callerLocals := int(caller.Registers) - int(caller.Ins)

	// Base of the callee-local window. Without liveness it sits at the top
	// of the caller's locals; with liveness it slides down over the dead
	// suffix, keeping wide pairs adjacent since the whole window shifts as
	// one.
	base := callerLocals
	if live, ok := ctx.liveOut(item); ok {
		argUsed := func(r int) bool {
			for i := 0; i < eins; i++ {
				if int(invoke.Src(i)) == r {
					return true
				}
			}
			return false
		}
		for base > 0 && !live.Has(uint16(base-1)) && !argUsed(base-1) {
			base--
		}
	}
	newregs := int(caller.Registers)
	if grow := base + calleeLocals - callerLocals; grow > 0 {
		newregs += grow
	}
	if newregs > 16 {
		return fmt.Errorf("%w: merged frame needs %d registers", ErrTooManyRegisters, newregs)
	}
	if err := caller.EnlargeRegs(newregs); err != nil {
		return err
	}
	dropThrowGuard(caller, item)

	// Argument registers read after enlargement: inputs have shifted.
	argRegs := make([]uint16, eins)
	for i := range argRegs {
		argRegs[i] = invoke.Src(i)
	}
	remap := func(reg uint16) uint16 {
		if int(reg) >= calleeLocals {
			return argRegs[int(reg)-calleeLocals]
		}
		return uint16(base) + reg
	}

	// The join point is where execution resumes after the call.
	moveResult := nextInsnItem(item)
	if moveResult != nil && !dex.IsMoveResult(moveResult.Insn.Opcode()) {
		moveResult = nil
	}
	join := item
	if moveResult != nil {
		join = moveResult
	}

	clones := cloneItems(callee.head, nil)
	cloneOf := calleeInsnIndex(callee, clones)
	for _, c := range clones {
		if c.Kind != ItemInsn {
			continue
		}
		insn := c.Insn
		if insn.HasDest() && !insn.DestIsSrc0() {
			insn.SetDest(remap(insn.Dest()))
		}
		for n := 0; n < insn.SrcCount(); n++ {
			insn.SetSrc(n, remap(insn.Src(n)))
		}
	}
	for _, c := range clones {
		caller.insertBefore(item, c)
	}
	for insn, payload := range callee.arrayData {
		if clone, ok := cloneOf[insn]; ok {
			caller.arrayData[clone] = payload.Clone()
		}
	}

	// Rewrite callee returns. A return with a value becomes a move into
	// the move-result destination; every return except the one falling
	// into the call site jumps to the join point.
	last := clones[len(clones)-1]
	for _, c := range clones {
		if c.Kind != ItemInsn || !dex.IsReturn(c.Insn.Opcode()) {
			continue
		}
		var after *Item
		if moveResult != nil && c.Insn.SrcCount() == 1 {
			c.Insn = moveInsnFor(c.Insn.Opcode(), moveResult.Insn.Dest(), c.Insn.Src(0))
			after = c
		}
		if c != last {
			g := newInsnItem(dex.NewInsn(dex.OpGoto))
			caller.insertAfter(join, newTargetItem(TargetSimple, g, 0))
			if after != nil {
				caller.insertAfter(after, g)
			} else {
				caller.insertAfter(c.prev, g)
				caller.removeItem(c)
			}
		} else if after == nil {
			caller.removeItem(c)
		}
	}

	if moveResult != nil {
		caller.RemoveOpcode(moveResult.Insn)
	}
	caller.RemoveOpcode(invoke)

	ctx.EstimatedInsnSize += callee.SumOpcodeSizes()
	caller.markDirty()
	return nil
}

// dropThrowGuard removes the fallthrough marker guarding item, if any, so
// splicing new items in front of it cannot orphan the marker.
func dropThrowGuard(b *Body, item *Item) {
	if item.prev != nil && item.prev.Kind == ItemFallthrough && item.prev.Throwing == item {
		b.removeItem(item.prev)
	}
}

// nextInsnItem returns the first instruction item after it, skipping
// markers.
func nextInsnItem(it *Item) *Item {
	for n := it.next; n != nil; n = n.next {
		if n.Kind == ItemInsn {
			return n
		}
	}
	return nil
}

// moveInsnFor builds the move matching a valued return's width.
func moveInsnFor(ret dex.Opcode, dest, src uint16) *dex.Insn {
	switch ret {
	case dex.OpReturnWide:
		return dex.NewMove(dex.OpMoveWide, dest, src)
	case dex.OpReturnObject:
		return dex.NewMove(dex.OpMoveObject, dest, src)
	default:
		return dex.NewMove(dex.OpMove, dest, src)
	}
}

// calleeInsnIndex pairs each callee instruction with its clone.
func calleeInsnIndex(callee *Body, clones []*Item) map[*dex.Insn]*dex.Insn {
	out := make(map[*dex.Insn]*dex.Insn)
	i := 0
	for it := callee.head; it != nil; it = it.next {
		if it.Kind == ItemInsn {
			out[it.Insn] = clones[i].Insn
		}
		i++
	}
	return out
}
