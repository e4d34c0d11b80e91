package dataflow

import (
	"testing"

	"dexsmith/internal/dex"
	"dexsmith/internal/ir"
)

// definedRegs is a must-be-defined analysis: a register is in the state
// only when every path to the program point wrote it.
type definedRegs struct {
	regs int
}

func (d definedRegs) Entry() []bool { return make([]bool, d.regs) }

func (d definedRegs) Clone(s []bool) []bool {
	return append([]bool(nil), s...)
}

func (d definedRegs) Meet(into, from []bool) []bool {
	for i := range into {
		into[i] = into[i] && from[i]
	}
	return into
}

func (d definedRegs) Equal(a, b []bool) bool {
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func (d definedRegs) Transfer(item *ir.Item, s []bool) []bool {
	if item.Kind == ir.ItemInsn && item.Insn.HasDest() {
		s[item.Insn.Dest()] = true
		if item.Insn.DestIsWide() {
			s[item.Insn.Dest()+1] = true
		}
	}
	return s
}

func balloon(t *testing.T, code *dex.Code) *ir.Body {
	t.Helper()
	b, err := ir.Balloon(code)
	if err != nil {
		t.Fatalf("balloon: %v", err)
	}
	return b
}

func TestForwardMeetsAtJoin(t *testing.T) {
	// v1 is written only on the fallthrough path, v2 only on the taken
	// path; after the join neither survives the meet.
	ifeqz := dex.NewInsn(dex.OpIfEqz)
	ifeqz.SetSrc(0, 0)
	ifeqz.SetOffset(4)
	g := dex.NewInsn(dex.OpGoto)
	g.SetOffset(2)
	code := &dex.Code{Registers: 3}
	for _, i := range []*dex.Insn{
		dex.NewConst4(0, 0),
		ifeqz,
		dex.NewConst4(1, 1),
		g,
		dex.NewConst4(2, 2),
		dex.NewInsn(dex.OpReturnVoid),
	} {
		code.Units = i.Units(code.Units)
	}
	b := balloon(t, code)
	b.BuildCFG(true)

	res := Forward[[]bool](b.CFG(), definedRegs{regs: 3})

	insns := b.Insns()
	ret := insns[5]
	before, ok := res.Before[ret]
	if !ok {
		t.Fatal("no state recorded before the return")
	}
	if !before[0] {
		t.Error("v0 lost at the join despite being written on every path")
	}
	if before[1] || before[2] {
		t.Errorf("one-sided defs survived the meet: v1=%v v2=%v", before[1], before[2])
	}

	if !res.HasExit() {
		t.Fatal("no exit state")
	}
	if !res.Exit[0] || res.Exit[1] || res.Exit[2] {
		t.Errorf("exit state = %v, want only v0 defined", res.Exit)
	}
}

func TestForwardReachesFixpointThroughLoop(t *testing.T) {
	// The loop header's state must meet the back edge, which needs a
	// second sweep to stabilize.
	ifnez := dex.NewInsn(dex.OpIfNez)
	ifnez.SetSrc(0, 0)
	ifnez.SetOffset(-1)
	code := &dex.Code{Registers: 2}
	for _, i := range []*dex.Insn{
		dex.NewConst4(0, 0),
		dex.NewConst4(1, 1),
		ifnez,
		dex.NewInsn(dex.OpReturnVoid),
	} {
		code.Units = i.Units(code.Units)
	}
	b := balloon(t, code)
	b.BuildCFG(true)

	res := Forward[[]bool](b.CFG(), definedRegs{regs: 2})

	insns := b.Insns()
	header := insns[1] // const/4 v1, the loop target
	before, ok := res.Before[header]
	if !ok {
		t.Fatal("no state recorded at the loop header")
	}
	if !before[0] {
		t.Error("v0 not defined at the loop header")
	}
	if before[1] {
		t.Error("v1 defined at the loop header on the entry path")
	}

	branch, ok := res.Before[insns[2]]
	if !ok {
		t.Fatal("no state recorded at the branch")
	}
	if !branch[0] || !branch[1] {
		t.Error("both registers should be defined at the loop branch")
	}
}

func TestForwardIsDeterministic(t *testing.T) {
	ifeqz := dex.NewInsn(dex.OpIfEqz)
	ifeqz.SetSrc(0, 0)
	ifeqz.SetOffset(4)
	g := dex.NewInsn(dex.OpGoto)
	g.SetOffset(2)
	mk := func() *ir.Body {
		code := &dex.Code{Registers: 3}
		for _, i := range []*dex.Insn{
			dex.NewConst4(0, 0),
			ifeqz.Clone(),
			dex.NewConst4(1, 1),
			g.Clone(),
			dex.NewConst4(2, 2),
			dex.NewInsn(dex.OpReturnVoid),
		} {
			code.Units = i.Units(code.Units)
		}
		b := balloon(t, code)
		b.BuildCFG(true)
		return b
	}

	b1, b2 := mk(), mk()
	r1 := Forward[[]bool](b1.CFG(), definedRegs{regs: 3})
	r2 := Forward[[]bool](b2.CFG(), definedRegs{regs: 3})

	i1, i2 := b1.Insns(), b2.Insns()
	for n := range i1 {
		s1, ok1 := r1.Before[i1[n]]
		s2, ok2 := r2.Before[i2[n]]
		if ok1 != ok2 {
			t.Fatalf("insn %d: reachability differs between runs", n)
		}
		if !ok1 {
			continue
		}
		for r := range s1 {
			if s1[r] != s2[r] {
				t.Errorf("insn %d: v%d differs between identical runs", n, r)
			}
		}
	}
}
