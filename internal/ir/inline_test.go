package ir

import (
	"errors"
	"testing"

	"dexsmith/internal/dex"
)

func mustBalloon(t *testing.T, code *dex.Code) *Body {
	t.Helper()
	b, err := Balloon(code)
	if err != nil {
		t.Fatalf("balloon: %v", err)
	}
	return b
}

func TestInlineTailCall(t *testing.T) {
	// Caller: invoke-static {v1}, callee; return-void. v1 is the input.
	caller := mustBalloon(t, asm(2, 1,
		dex.NewInvoke(dex.OpInvokeStatic, 0, 1),
		dex.NewInsn(dex.OpReturnVoid),
	))
	// Callee: const/4 v0, #7; return v0. v1 is the input.
	callee := mustBalloon(t, asm(2, 1,
		dex.NewConst4(0, 7),
		returnReg(0),
	))
	invoke := caller.Insns()[0].Insn

	if err := InlineTailCall(caller, callee, invoke); err != nil {
		t.Fatalf("inline: %v", err)
	}

	out := &dex.Code{}
	if err := caller.Sync(out); err != nil {
		t.Fatalf("sync: %v", err)
	}
	want := asm(2, 1,
		dex.NewConst4(0, 7),
		returnReg(0),
	)
	if !out.EqualUnits(want) {
		t.Errorf("units = %04x, want %04x", out.Units, want.Units)
	}
	if out.Registers != 2 {
		t.Errorf("registers = %d, want 2", out.Registers)
	}
	if out.Outs != 0 {
		t.Errorf("outs = %d, want 0 (invoke is gone)", out.Outs)
	}
}

func TestInlineTailCallEnlargesBothFrames(t *testing.T) {
	caller := mustBalloon(t, asm(2, 1,
		dex.NewInvoke(dex.OpInvokeStatic, 0, 1),
		dex.NewInsn(dex.OpReturnVoid),
	))
	// Callee needs two locals: its frame dictates the merged size.
	callee := mustBalloon(t, asm(3, 1,
		dex.NewConst4(0, 1),
		dex.NewConst4(1, 2),
		ternary(dex.OpAddInt, 0, 0, 1),
		returnReg(0),
	))
	invoke := caller.Insns()[0].Insn

	if err := InlineTailCall(caller, callee, invoke); err != nil {
		t.Fatalf("inline: %v", err)
	}
	if caller.Registers != 3 {
		t.Errorf("registers = %d, want 3", caller.Registers)
	}
	// The callee's input (and the caller's) now sits at the top.
	out := &dex.Code{}
	if err := caller.Sync(out); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if out.Ins != 1 || out.Registers != 3 {
		t.Errorf("frame = %d/%d, want 3/1", out.Registers, out.Ins)
	}
}

func TestInlineTailCallRejectsNonTailArgs(t *testing.T) {
	// The invoke passes v0, not the caller's trailing input register.
	caller := mustBalloon(t, asm(2, 1,
		dex.NewInvoke(dex.OpInvokeStatic, 0, 0),
		dex.NewInsn(dex.OpReturnVoid),
	))
	callee := mustBalloon(t, asm(2, 1,
		dex.NewConst4(0, 7),
		returnReg(0),
	))
	err := InlineTailCall(caller, callee, caller.Insns()[0].Insn)
	if !errors.Is(err, ErrNotInlinable) {
		t.Errorf("err = %v, want ErrNotInlinable", err)
	}
}

func TestInline16RegsSingleReturn(t *testing.T) {
	// Caller: invoke-static {v2}; move-result v0; return v0.
	mr := dex.NewInsn(dex.OpMoveResult)
	mr.SetDest(0)
	caller := mustBalloon(t, asm(3, 1,
		dex.NewInvoke(dex.OpInvokeStatic, 0, 2),
		mr,
		returnReg(0),
	))
	// Callee: const/4 v0, #5; add-int v0, v0, v1; return v0. v1 is the input.
	callee := mustBalloon(t, asm(2, 1,
		dex.NewConst4(0, 5),
		ternary(dex.OpAddInt, 0, 0, 1),
		returnReg(0),
	))
	invoke := caller.Insns()[0].Insn

	ctx := NewInlineContext(caller, false)
	if err := Inline16Regs(ctx, callee, invoke); err != nil {
		t.Fatalf("inline: %v", err)
	}

	out := &dex.Code{}
	if err := caller.Sync(out); err != nil {
		t.Fatalf("sync: %v", err)
	}
	// Callee local v0 lands in the freed window at v2; the caller's input
	// shifted from v2 to v3; the return became a move into v0.
	want := asm(4, 1,
		dex.NewConst4(2, 5),
		ternary(dex.OpAddInt, 2, 2, 3),
		dex.NewMove(dex.OpMove, 0, 2),
		returnReg(0),
	)
	if !out.EqualUnits(want) {
		t.Errorf("units = %04x\n     want %04x", out.Units, want.Units)
	}
	if out.Registers != 4 {
		t.Errorf("registers = %d, want 4", out.Registers)
	}
	if got := ctx.EstimatedInsnSize; got != 4 {
		t.Errorf("EstimatedInsnSize = %d, want 4", got)
	}
}

func TestInline16RegsMultipleReturns(t *testing.T) {
	mr := dex.NewInsn(dex.OpMoveResult)
	mr.SetDest(0)
	caller := mustBalloon(t, asm(3, 1,
		dex.NewInvoke(dex.OpInvokeStatic, 0, 2),
		mr,
		returnReg(0),
	))
	// Callee with an early return on the taken path.
	callee := mustBalloon(t, asm(2, 1,
		branchInsn(dex.OpIfEqz, 1, 4),
		dex.NewConst4(0, 1),
		returnReg(0),
		dex.NewConst4(0, 0),
		returnReg(0),
	))
	invoke := caller.Insns()[0].Insn

	ctx := NewInlineContext(caller, false)
	if err := Inline16Regs(ctx, callee, invoke); err != nil {
		t.Fatalf("inline: %v", err)
	}

	out := &dex.Code{}
	if err := caller.Sync(out); err != nil {
		t.Fatalf("sync: %v", err)
	}
	g := dex.NewInsn(dex.OpGoto)
	g.SetOffset(3)
	want := asm(4, 1,
		branchInsn(dex.OpIfEqz, 3, 5),
		dex.NewConst4(2, 1),
		dex.NewMove(dex.OpMove, 0, 2),
		g,
		dex.NewConst4(2, 0),
		dex.NewMove(dex.OpMove, 0, 2),
		returnReg(0),
	)
	if !out.EqualUnits(want) {
		t.Errorf("units = %04x\n     want %04x", out.Units, want.Units)
	}
}

func TestInline16RegsReusesDeadRegisters(t *testing.T) {
	mr := dex.NewInsn(dex.OpMoveResult)
	mr.SetDest(0)
	caller := mustBalloon(t, asm(3, 1,
		dex.NewInvoke(dex.OpInvokeStatic, 0, 2),
		mr,
		returnReg(0),
	))
	callee := mustBalloon(t, asm(2, 1,
		dex.NewConst4(0, 5),
		returnReg(0),
	))
	invoke := caller.Insns()[0].Insn

	// Both caller locals are dead across the call; the callee local fits
	// without growing the frame.
	ctx := NewInlineContext(caller, true)
	if err := Inline16Regs(ctx, callee, invoke); err != nil {
		t.Fatalf("inline: %v", err)
	}
	if caller.Registers != 3 {
		t.Errorf("registers = %d, want 3 (reuse, not growth)", caller.Registers)
	}
}

func TestInline16RegsRejectsWideFrames(t *testing.T) {
	mr := dex.NewInsn(dex.OpMoveResult)
	mr.SetDest(0)
	caller := mustBalloon(t, asm(14, 1,
		dex.NewInvoke(dex.OpInvokeStatic, 0, 13),
		mr,
		returnReg(0),
	))
	callee := mustBalloon(t, asm(5, 1,
		dex.NewConst4(0, 1),
		dex.NewConst4(1, 2),
		dex.NewConst4(2, 3),
		dex.NewConst4(3, 4),
		returnReg(0),
	))
	ctx := NewInlineContext(caller, false)
	err := Inline16Regs(ctx, callee, caller.Insns()[0].Insn)
	if !errors.Is(err, ErrTooManyRegisters) {
		t.Errorf("err = %v, want ErrTooManyRegisters", err)
	}
}
