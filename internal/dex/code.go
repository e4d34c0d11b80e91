package dex

// CatchArm is one typed handler of a try region.
type CatchArm struct {
	Type TypeID
	Addr uint32 // handler address, in code units
}

// Try is one exception range over the encoded units. Start is inclusive,
// End exclusive. Handlers are tried in order; CatchAllAddr applies when no
// typed arm matches.
type Try struct {
	Start       uint32
	End         uint32
	Catches     []CatchArm
	HasCatchAll bool
	CatchAllAddr uint32
}

// Position is a source line marker at a code address.
type Position struct {
	Addr uint32
	Line uint32
}

// DebugNote is an opaque debug event anchored to a code address. The engine
// re-emits the blob untouched with a recomputed address.
type DebugNote struct {
	Addr uint32
	Blob []byte
}

// Code is the binary form of one method body: packed code units plus
// register metadata, exception ranges and debug markers. This is what the
// IR layer balloons from and syncs back into.
type Code struct {
	Registers uint16 // total register count
	Ins       uint16 // input registers, always the last Ins of Registers
	Outs      uint16 // widest argument count of any invoke in the body
	Units     []uint16
	Tries     []Try
	Positions []Position
	Debug     []DebugNote
}

// Clone returns a deep copy of the code body.
func (c *Code) Clone() *Code {
	out := &Code{
		Registers: c.Registers,
		Ins:       c.Ins,
		Outs:      c.Outs,
		Units:     append([]uint16(nil), c.Units...),
		Positions: append([]Position(nil), c.Positions...),
	}
	for _, t := range c.Tries {
		t.Catches = append([]CatchArm(nil), t.Catches...)
		out.Tries = append(out.Tries, t)
	}
	for _, d := range c.Debug {
		d.Blob = append([]byte(nil), d.Blob...)
		out.Debug = append(out.Debug, d)
	}
	return out
}

// EqualUnits reports whether two bodies encode the same instruction stream.
func (c *Code) EqualUnits(other *Code) bool {
	if len(c.Units) != len(other.Units) {
		return false
	}
	for i := range c.Units {
		if c.Units[i] != other.Units[i] {
			return false
		}
	}
	return true
}
