package ir

import (
	"errors"
	"testing"

	"dexsmith/internal/dex"
)

func TestEditSyncsMutationBack(t *testing.T) {
	code := asm(3, 0,
		dex.NewConst4(0, 1),
		dex.NewConst4(1, 2),
		ternary(dex.OpAddInt, 2, 0, 1),
		returnReg(2),
	)
	err := Edit(code, func(b *Body) error {
		b.RemoveOpcode(b.Front().Insn)
		return nil
	})
	if err != nil {
		t.Fatalf("edit: %v", err)
	}
	want := asm(3, 0,
		dex.NewConst4(1, 2),
		ternary(dex.OpAddInt, 2, 0, 1),
		returnReg(2),
	)
	if !code.EqualUnits(want) {
		t.Fatalf("units after edit:\n got %04x\nwant %04x", code.Units, want.Units)
	}
}

func TestEditFailureLeavesCodeAlone(t *testing.T) {
	code := asm(2, 0,
		dex.NewConst4(0, 7),
		returnReg(0),
	)
	original := append([]uint16(nil), code.Units...)

	boom := errors.New("boom")
	err := Edit(code, func(b *Body) error {
		b.RemoveOpcode(b.Front().Insn)
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected the callback error, got %v", err)
	}
	if len(code.Units) != len(original) {
		t.Fatalf("units changed on failed edit")
	}
	for i, u := range original {
		if code.Units[i] != u {
			t.Fatalf("unit %d changed on failed edit", i)
		}
	}
}
