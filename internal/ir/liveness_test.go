package ir

import (
	"testing"

	"dexsmith/internal/dex"
)

func TestLivenessStraightLine(t *testing.T) {
	code := asm(3, 0,
		dex.NewConst4(0, 1),
		dex.NewConst4(1, 2),
		ternary(dex.OpAddInt, 2, 0, 1),
		returnReg(2),
	)
	b, err := Balloon(code)
	if err != nil {
		t.Fatalf("balloon: %v", err)
	}
	b.BuildCFG(true)
	live := b.ComputeLiveness()

	insns := b.Insns()
	cases := []struct {
		name string
		item *Item
		want []uint16
	}{
		{"after const v0", insns[0], []uint16{0}},
		{"after const v1", insns[1], []uint16{0, 1}},
		{"after add", insns[2], []uint16{2}},
		{"after return", insns[3], nil},
	}
	for _, tc := range cases {
		set, ok := live[tc.item]
		if !ok {
			t.Errorf("%s: no live-out recorded", tc.name)
			continue
		}
		for r := uint16(0); r < 3; r++ {
			want := false
			for _, w := range tc.want {
				if w == r {
					want = true
				}
			}
			if set.Has(r) != want {
				t.Errorf("%s: v%d live = %v, want %v", tc.name, r, set.Has(r), want)
			}
		}
	}
}

func TestLivenessAcrossBranch(t *testing.T) {
	// v1 is read only on the taken path; it must still be live-out at the
	// branch.
	g := dex.NewInsn(dex.OpGoto)
	g.SetOffset(2)
	code := asm(2, 0,
		branchInsn(dex.OpIfEqz, 0, 4),
		dex.NewConst4(1, 0),
		g,
		returnReg(1), // taken path reads v1
		returnReg(1),
	)
	b, err := Balloon(code)
	if err != nil {
		t.Fatalf("balloon: %v", err)
	}
	b.BuildCFG(true)
	live := b.ComputeLiveness()

	branch := b.Insns()[0]
	set, ok := live[branch]
	if !ok {
		t.Fatal("no live-out recorded at the branch")
	}
	if !set.Has(1) {
		t.Error("v1 not live-out at the branch despite the taken-path read")
	}
	if set.Has(0) {
		t.Error("v0 live-out at the branch but never read again")
	}
}

func TestLivenessWidePair(t *testing.T) {
	ret := dex.NewInsn(dex.OpReturnWide)
	ret.SetSrc(0, 0)
	code := asm(2, 0,
		dex.NewConst4(1, 0),
		ret,
	)
	b, err := Balloon(code)
	if err != nil {
		t.Fatalf("balloon: %v", err)
	}
	b.BuildCFG(true)
	live := b.ComputeLiveness()

	// return-wide v0 reads the v0/v1 pair, so both halves are live after
	// the const.
	set, ok := live[b.Insns()[0]]
	if !ok {
		t.Fatal("no live-out recorded at the const")
	}
	if !set.Has(0) || !set.Has(1) {
		t.Error("return-wide should keep both halves of the pair live")
	}
}
