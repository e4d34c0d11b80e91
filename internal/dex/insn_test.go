package dex

import "testing"

// TestRegisterRoundTrip sets a unique bit pattern into every operand of
// every opcode and checks that nothing stomps anything else, that the
// declared dest/src0 aliasing holds, and that boundary values survive.
func TestRegisterRoundTrip(t *testing.T) {
	for _, op := range AllOpcodes() {
		insn := NewInsn(op)
		if insn.info().flags&flagArity != 0 {
			insn.SetArity(5)
		}

		srcCount := insn.SrcCount()
		hasDest := insn.HasDest()
		destIsSrc0 := insn.DestIsSrc0()

		var destValue uint16
		if hasDest {
			destValue = uint16(1)<<insn.DestWidth() - 1
		}
		srcValues := make([]uint16, srcCount)
		for idx := 0; idx < srcCount; idx++ {
			width := insn.SrcWidth(idx)
			if width <= 0 {
				t.Fatalf("%s: source %d has width %d", op, idx, width)
			}
			bits := uint16(idx + 5)
			bits |= bits << 4
			bits |= bits << 8
			bits &= uint16(1)<<width - 1
			srcValues[idx] = bits
		}

		if hasDest {
			insn.SetDest(destValue)
		}
		for idx := 0; idx < srcCount; idx++ {
			insn.SetSrc(idx, srcValues[idx])
		}

		if hasDest {
			want := destValue
			if destIsSrc0 {
				want = srcValues[0]
			}
			if got := insn.Dest(); got != want {
				t.Errorf("%s: dest = %d, want %d", op, got, want)
			}
		}
		for idx := 0; idx < srcCount; idx++ {
			if got := insn.Src(idx); got != srcValues[idx] {
				t.Errorf("%s: src %d = %d, want %d", op, idx, got, srcValues[idx])
			}
		}

		// Boundary values per operand.
		if hasDest {
			max := uint16(1)<<insn.DestWidth() - 1
			insn.SetDest(0)
			if got := insn.Dest(); got != 0 {
				t.Errorf("%s: dest min round-trip = %d", op, got)
			}
			insn.SetDest(max)
			if got := insn.Dest(); got != max {
				t.Errorf("%s: dest max round-trip = %d, want %d", op, got, max)
			}
		}
		for idx := 0; idx < srcCount; idx++ {
			max := uint16(1)<<insn.SrcWidth(idx) - 1
			insn.SetSrc(idx, 0)
			if got := insn.Src(idx); got != 0 {
				t.Errorf("%s: src %d min round-trip = %d", op, idx, got)
			}
			insn.SetSrc(idx, max)
			if got := insn.Src(idx); got != max {
				t.Errorf("%s: src %d max round-trip = %d, want %d", op, idx, got, max)
			}
		}
	}
}

func TestLiteralRoundTrip(t *testing.T) {
	cases := []struct {
		op   Opcode
		vals []int64
	}{
		{OpConst4, []int64{0, 7, -8, -1}},
		{OpConst16, []int64{0, 32767, -32768, -1}},
		{OpConst, []int64{0, 1 << 30, -(1 << 30), -1}},
		{OpAddIntLit8, []int64{0, 127, -128}},
	}
	for _, tc := range cases {
		for _, v := range tc.vals {
			insn := NewInsn(tc.op)
			insn.SetLiteral(v)
			if got := insn.Literal(); got != v {
				t.Errorf("%s: literal %d round-tripped to %d", tc.op, v, got)
			}
		}
	}
}

func TestLiteralDoesNotStompDest(t *testing.T) {
	insn := NewConst4(5, -3)
	if got := insn.Dest(); got != 5 {
		t.Errorf("dest = %d after SetLiteral, want 5", got)
	}
	if got := insn.Literal(); got != -3 {
		t.Errorf("literal = %d, want -3", got)
	}
	insn.SetDest(2)
	if got := insn.Literal(); got != -3 {
		t.Errorf("literal = %d after SetDest, want -3", got)
	}
}

func TestOffsetRoundTrip(t *testing.T) {
	cases := []struct {
		op   Opcode
		offs []int32
	}{
		{OpGoto, []int32{1, -1, 127, -128}},
		{OpGoto16, []int32{1, 32767, -32768}},
		{OpGoto32, []int32{1, 1 << 20, -(1 << 20)}},
		{OpIfEqz, []int32{2, -2, 300}},
		{OpPackedSwitch, []int32{4, 70000}},
	}
	for _, tc := range cases {
		for _, off := range tc.offs {
			insn := NewInsn(tc.op)
			insn.SetOffset(off)
			if got := insn.Offset(); got != off {
				t.Errorf("%s: offset %d round-tripped to %d", tc.op, off, got)
			}
		}
	}
}

func TestEncodedUnitsCarryOpcode(t *testing.T) {
	insn := NewInvoke(OpInvokeVirtual, 3, 0, 1, 2)
	units := insn.Units(nil)
	if len(units) != 3 {
		t.Fatalf("invoke encodes to %d units, want 3", len(units))
	}
	if Opcode(units[0]&0xff) != OpInvokeVirtual {
		t.Errorf("unit 0 low byte = %#x, want invoke-virtual", units[0]&0xff)
	}
	back, n, err := ReadInsn(units, 0)
	if err != nil {
		t.Fatalf("ReadInsn: %v", err)
	}
	if n != 3 || back.Opcode() != OpInvokeVirtual || back.Arity() != 3 {
		t.Errorf("decoded %s arity=%d consumed=%d", back.Opcode(), back.Arity(), n)
	}
	for idx := 0; idx < 3; idx++ {
		if got := back.Src(idx); got != uint16(idx) {
			t.Errorf("decoded src %d = %d", idx, got)
		}
	}
}

func TestPayloadRoundTrip(t *testing.T) {
	packed := &PackedSwitchPayload{FirstKey: -2, Targets: []int32{4, 8, 12}}
	units := packed.AppendUnits(nil)
	if len(units) != packed.SizeUnits() {
		t.Fatalf("packed payload size %d, want %d", len(units), packed.SizeUnits())
	}
	got, n, err := ReadPayload(units, 0)
	if err != nil || n != len(units) {
		t.Fatalf("ReadPayload: n=%d err=%v", n, err)
	}
	gp := got.(*PackedSwitchPayload)
	if gp.FirstKey != -2 || len(gp.Targets) != 3 || gp.Targets[2] != 12 {
		t.Errorf("packed payload mismatch: %+v", gp)
	}

	sparse := &SparseSwitchPayload{Keys: []int32{-10, 0, 99}, Targets: []int32{6, 10, 14}}
	units = sparse.AppendUnits(nil)
	got, n, err = ReadPayload(units, 0)
	if err != nil || n != len(units) {
		t.Fatalf("ReadPayload sparse: n=%d err=%v", n, err)
	}
	sp := got.(*SparseSwitchPayload)
	if sp.Keys[0] != -10 || sp.Targets[2] != 14 {
		t.Errorf("sparse payload mismatch: %+v", sp)
	}

	fill := &FillArrayPayload{ElemWidth: 1, Count: 3, Data: []byte{1, 2, 3}}
	units = fill.AppendUnits(nil)
	if len(units) != fill.SizeUnits() {
		t.Fatalf("fill payload size %d, want %d", len(units), fill.SizeUnits())
	}
	got, _, err = ReadPayload(units, 0)
	if err != nil {
		t.Fatalf("ReadPayload fill: %v", err)
	}
	fp := got.(*FillArrayPayload)
	if fp.Count != 3 || fp.Data[2] != 3 {
		t.Errorf("fill payload mismatch: %+v", fp)
	}
}

func TestPoolInterning(t *testing.T) {
	pool := NewPool()
	a := pool.Type("Lfoo/Bar;")
	b := pool.Type("Lfoo/Bar;")
	if a != b {
		t.Errorf("type interning broke identity: %d vs %d", a, b)
	}
	intType := pool.Type("I")
	f1 := pool.Field(a, intType, "x")
	f2 := pool.Field(a, intType, "x")
	if f1 != f2 {
		t.Errorf("field interning broke identity: %d vs %d", f1, f2)
	}
	proto := pool.ProtoOf(intType)
	m1 := pool.Method(a, "get", proto)
	m2 := pool.Method(a, "get", proto)
	if m1 != m2 {
		t.Errorf("method interning broke identity: %d vs %d", m1, m2)
	}
	if pool.Descriptor(a) != "Lfoo/Bar;" {
		t.Errorf("descriptor = %q", pool.Descriptor(a))
	}
	if pool.MethodName(m1) != "get" {
		t.Errorf("method name = %q", pool.MethodName(m1))
	}
}
