package ir

import (
	"testing"

	"dexsmith/internal/dex"
)

func TestFormatBranchListing(t *testing.T) {
	code := asm(1, 0,
		branchInsn(dex.OpIfEqz, 0, 3),
		dex.NewConst4(0, 0),
		returnReg(0),
	)
	b := mustBalloon(t, code)

	got := b.Format(nil)
	want := "registers=1 ins=0 outs=0\n" +
		"  if-eqz v0 -> :L0\n" +
		"  const/4 v0, #0\n" +
		":L0\n" +
		"  return v0\n"
	if got != want {
		t.Errorf("listing mismatch:\ngot:\n%swant:\n%s", got, want)
	}
}

func TestFormatResolvesSymbols(t *testing.T) {
	pool := dex.NewPool()
	cls := pool.Type("LFoo;")
	fld := pool.Field(cls, pool.Type("I"), "count")

	iget := dex.NewFieldOp(dex.OpIget, fld)
	iget.SetDest(0)
	iget.SetSrc(0, 1)
	code := asm(2, 1,
		iget,
		returnReg(0),
	)
	b := mustBalloon(t, code)

	got := b.Format(pool)
	want := "registers=2 ins=1 outs=0\n" +
		"  iget v0, v1, LFoo;->count\n" +
		"  return v0\n"
	if got != want {
		t.Errorf("listing mismatch:\ngot:\n%swant:\n%s", got, want)
	}
}

func TestFormatSwitchCases(t *testing.T) {
	sw := dex.NewInsn(dex.OpPackedSwitch)
	sw.SetSrc(0, 0)
	sw.SetOffset(6)
	code := asm(1, 0,
		sw,
		dex.NewConst4(0, 1),
		dex.NewConst4(0, 2),
		dex.NewInsn(dex.OpReturnVoid),
	)
	payload := &dex.PackedSwitchPayload{FirstKey: 10, Targets: []int32{3, 4}}
	code.Units = payload.AppendUnits(code.Units)
	b := mustBalloon(t, code)

	got := b.Format(nil)
	want := "registers=1 ins=0 outs=0\n" +
		"  packed-switch v0 -> :L0 (case 10), -> :L1 (case 11)\n" +
		":L0\n" +
		"  const/4 v0, #1\n" +
		":L1\n" +
		"  const/4 v0, #2\n" +
		"  return-void\n"
	if got != want {
		t.Errorf("listing mismatch:\ngot:\n%swant:\n%s", got, want)
	}
}
