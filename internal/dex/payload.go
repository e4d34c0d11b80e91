package dex

import "fmt"

// Payload is a pseudo-instruction living after the method's real
// instructions: switch tables and fill-array data. Payloads are 4-byte
// aligned in the unit stream and referenced by a 31t instruction's offset.
type Payload interface {
	// SizeUnits returns the payload's encoded size in 16-bit units.
	SizeUnits() int
	// AppendUnits appends the encoded payload to dst.
	AppendUnits(dst []uint16) []uint16
}

// PackedSwitchPayload is a dense jump table: FirstKey..FirstKey+len-1 map
// to Targets, each target relative to the owning switch instruction.
type PackedSwitchPayload struct {
	FirstKey int32
	Targets  []int32
}

func (p *PackedSwitchPayload) SizeUnits() int { return 4 + 2*len(p.Targets) }

func (p *PackedSwitchPayload) AppendUnits(dst []uint16) []uint16 {
	dst = append(dst, PackedSwitchIdent, uint16(len(p.Targets)))
	dst = appendInt32(dst, p.FirstKey)
	for _, t := range p.Targets {
		dst = appendInt32(dst, t)
	}
	return dst
}

// SparseSwitchPayload maps arbitrary sorted keys to targets.
type SparseSwitchPayload struct {
	Keys    []int32
	Targets []int32
}

func (p *SparseSwitchPayload) SizeUnits() int { return 2 + 4*len(p.Keys) }

func (p *SparseSwitchPayload) AppendUnits(dst []uint16) []uint16 {
	dst = append(dst, SparseSwitchIdent, uint16(len(p.Keys)))
	for _, k := range p.Keys {
		dst = appendInt32(dst, k)
	}
	for _, t := range p.Targets {
		dst = appendInt32(dst, t)
	}
	return dst
}

// FillArrayPayload is the raw element data of a fill-array-data instruction.
type FillArrayPayload struct {
	ElemWidth uint16
	Count     uint32
	Data      []byte // Count*ElemWidth bytes
}

func (p *FillArrayPayload) SizeUnits() int { return 4 + (len(p.Data)+1)/2 }

func (p *FillArrayPayload) AppendUnits(dst []uint16) []uint16 {
	dst = append(dst, FillArrayIdent, p.ElemWidth)
	dst = appendInt32(dst, int32(p.Count))
	for i := 0; i < len(p.Data); i += 2 {
		u := uint16(p.Data[i])
		if i+1 < len(p.Data) {
			u |= uint16(p.Data[i+1]) << 8
		}
		dst = append(dst, u)
	}
	return dst
}

// Clone returns a deep copy of the payload.
func (p *FillArrayPayload) Clone() *FillArrayPayload {
	return &FillArrayPayload{
		ElemWidth: p.ElemWidth,
		Count:     p.Count,
		Data:      append([]byte(nil), p.Data...),
	}
}

// IsPayloadIdent reports whether a unit begins a payload pseudo-instruction.
func IsPayloadIdent(u uint16) bool {
	return u == PackedSwitchIdent || u == SparseSwitchIdent || u == FillArrayIdent
}

// ReadInsn decodes the instruction starting at pos and returns it along
// with the number of units consumed.
func ReadInsn(units []uint16, pos int) (*Insn, int, error) {
	op := Opcode(units[pos] & 0xff)
	info := opTable[op]
	if info == nil {
		return nil, 0, fmt.Errorf("unknown opcode %#02x at unit %d", uint8(op), pos)
	}
	n := int(info.units)
	if pos+n > len(units) {
		return nil, 0, fmt.Errorf("truncated %s at unit %d", info.name, pos)
	}
	i := &Insn{op: op}
	copy(i.words[:n], units[pos:pos+n])
	return i, n, nil
}

// ReadPayload decodes the payload starting at pos and returns it along
// with the number of units consumed.
func ReadPayload(units []uint16, pos int) (Payload, int, error) {
	switch units[pos] {
	case PackedSwitchIdent:
		size := int(units[pos+1])
		need := 4 + 2*size
		if pos+need > len(units) {
			return nil, 0, fmt.Errorf("truncated packed-switch payload at unit %d", pos)
		}
		p := &PackedSwitchPayload{FirstKey: readInt32(units, pos+2)}
		for k := 0; k < size; k++ {
			p.Targets = append(p.Targets, readInt32(units, pos+4+2*k))
		}
		return p, need, nil
	case SparseSwitchIdent:
		size := int(units[pos+1])
		need := 2 + 4*size
		if pos+need > len(units) {
			return nil, 0, fmt.Errorf("truncated sparse-switch payload at unit %d", pos)
		}
		p := &SparseSwitchPayload{}
		for k := 0; k < size; k++ {
			p.Keys = append(p.Keys, readInt32(units, pos+2+2*k))
		}
		base := pos + 2 + 2*size
		for k := 0; k < size; k++ {
			p.Targets = append(p.Targets, readInt32(units, base+2*k))
		}
		return p, need, nil
	case FillArrayIdent:
		width := units[pos+1]
		count := uint32(readInt32(units, pos+2))
		byteLen := int(count) * int(width)
		need := 4 + (byteLen+1)/2
		if pos+need > len(units) {
			return nil, 0, fmt.Errorf("truncated fill-array payload at unit %d", pos)
		}
		p := &FillArrayPayload{ElemWidth: width, Count: count}
		for b := 0; b < byteLen; b++ {
			u := units[pos+4+b/2]
			if b%2 == 1 {
				u >>= 8
			}
			p.Data = append(p.Data, byte(u))
		}
		return p, need, nil
	default:
		return nil, 0, fmt.Errorf("not a payload ident at unit %d", pos)
	}
}

func appendInt32(dst []uint16, v int32) []uint16 {
	return append(dst, uint16(uint32(v)), uint16(uint32(v)>>16))
}

func readInt32(units []uint16, pos int) int32 {
	return int32(uint32(units[pos]) | uint32(units[pos+1])<<16)
}
