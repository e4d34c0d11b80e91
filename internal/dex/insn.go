package dex

import "fmt"

// Insn is one instruction with its operands stored packed in the code units
// they will be encoded as. Register accessors shift and mask directly into
// those units, so a value that fits an operand's declared width round-trips
// bit-exactly and never disturbs a neighbouring field.
type Insn struct {
	op    Opcode
	words [3]uint16
}

// NewInsn returns a zero-operand instance of op.
func NewInsn(op Opcode) *Insn {
	infoFor(op) // reject unknown opcodes early
	i := &Insn{op: op}
	i.words[0] = uint16(op)
	return i
}

// NewMove returns a narrow register move of the given flavour.
func NewMove(op Opcode, dest, src uint16) *Insn {
	i := NewInsn(op)
	i.SetDest(dest)
	i.SetSrc(0, src)
	return i
}

// NewConst4 returns a const/4 loading lit into dest.
func NewConst4(dest uint16, lit int64) *Insn {
	i := NewInsn(OpConst4)
	i.SetDest(dest)
	i.SetLiteral(lit)
	return i
}

// NewFieldOp returns an iget/iput/sget/sput-family instruction referencing field.
func NewFieldOp(op Opcode, field FieldID) *Insn {
	i := NewInsn(op)
	i.SetFieldRef(field)
	return i
}

// NewTypeOp returns a type-referencing instruction (new-instance, check-cast, ...).
func NewTypeOp(op Opcode, typ TypeID) *Insn {
	i := NewInsn(op)
	i.SetTypeRef(typ)
	return i
}

// NewInvoke returns an invoke instruction calling method with the given
// argument registers (at most five, each 4-bit addressable).
func NewInvoke(op Opcode, method MethodID, args ...uint16) *Insn {
	i := NewInsn(op)
	i.SetMethodRef(method)
	i.SetArity(len(args))
	for n, a := range args {
		i.SetSrc(n, a)
	}
	return i
}

// Opcode returns the instruction's opcode.
func (i *Insn) Opcode() Opcode { return i.op }

func (i *Insn) info() *opInfo { return infoFor(i.op) }

// SizeUnits returns the number of 16-bit code units the instruction encodes to.
func (i *Insn) SizeUnits() int { return int(i.info().units) }

// HasDest reports whether the opcode declares a destination register.
func (i *Insn) HasDest() bool { return i.info().dest.width != 0 }

// DestIsSrc0 reports whether destination and source 0 share storage.
func (i *Insn) DestIsSrc0() bool { return i.info().destIsSrc0 }

// DestWidth returns the destination operand's bit width (0 when absent).
func (i *Insn) DestWidth() int { return int(i.info().dest.width) }

// DestIsWide reports whether the destination names a register pair.
func (i *Insn) DestIsWide() bool { return i.info().flags&flagWideDest != 0 }

// SrcCount returns the number of source register operands. For 35c invokes
// this is the encoded argument count, not the format's capacity.
func (i *Insn) SrcCount() int {
	info := i.info()
	if info.flags&flagArity != 0 {
		return i.Arity()
	}
	return len(info.srcs)
}

// SrcWidth returns the bit width of source operand n.
func (i *Insn) SrcWidth(n int) int {
	info := i.info()
	if n < 0 || n >= len(info.srcs) {
		panic(fmt.Sprintf("dex: %s has no source %d", info.name, n))
	}
	return int(info.srcs[n].width)
}

func (i *Insn) getField(f regField) uint16 {
	mask := uint16(1)<<f.width - 1
	return (i.words[f.word] >> f.shift) & mask
}

func (i *Insn) setField(f regField, v uint16) {
	mask := uint16(1)<<f.width - 1
	w := i.words[f.word]
	w &^= mask << f.shift
	w |= (v & mask) << f.shift
	i.words[f.word] = w
}

// Dest returns the destination register.
func (i *Insn) Dest() uint16 {
	info := i.info()
	if info.dest.width == 0 {
		panic(fmt.Sprintf("dex: %s has no destination", info.name))
	}
	return i.getField(info.dest)
}

// SetDest stores v into the destination operand, masked to its declared
// width. Callers are responsible for range-checking v.
func (i *Insn) SetDest(v uint16) {
	info := i.info()
	if info.dest.width == 0 {
		panic(fmt.Sprintf("dex: %s has no destination", info.name))
	}
	i.setField(info.dest, v)
}

// Src returns source register n.
func (i *Insn) Src(n int) uint16 {
	info := i.info()
	if n < 0 || n >= len(info.srcs) {
		panic(fmt.Sprintf("dex: %s has no source %d", info.name, n))
	}
	return i.getField(info.srcs[n])
}

// SetSrc stores v into source operand n, masked to its declared width.
func (i *Insn) SetSrc(n int, v uint16) {
	info := i.info()
	if n < 0 || n >= len(info.srcs) {
		panic(fmt.Sprintf("dex: %s has no source %d", info.name, n))
	}
	i.setField(info.srcs[n], v)
}

// Arity returns the encoded invoke argument count.
func (i *Insn) Arity() int {
	return int((i.words[0] >> 12) & 0xf)
}

// SetArity stores the invoke argument count nibble.
func (i *Insn) SetArity(n int) {
	if i.info().flags&flagArity == 0 {
		panic(fmt.Sprintf("dex: %s has no argument count", i.info().name))
	}
	if n < 0 || n > 5 {
		panic("dex: invoke arity out of range")
	}
	i.words[0] = i.words[0]&0x0fff | uint16(n)<<12
}

// Literal returns the embedded literal, sign-extended.
func (i *Insn) Literal() int64 {
	switch i.info().lit {
	case Lit4:
		return int64(int8(uint8(i.words[0]>>12)<<4) >> 4)
	case Lit16:
		return int64(int16(i.words[1]))
	case Lit32:
		return int64(int32(uint32(i.words[1]) | uint32(i.words[2])<<16))
	case Lit8:
		return int64(int8(i.words[1] >> 8))
	default:
		panic(fmt.Sprintf("dex: %s has no literal", i.info().name))
	}
}

// SetLiteral stores the embedded literal. The value must fit the opcode's
// literal width.
func (i *Insn) SetLiteral(v int64) {
	switch i.info().lit {
	case Lit4:
		i.words[0] = i.words[0]&0x0fff | uint16(v&0xf)<<12
	case Lit16:
		i.words[1] = uint16(v)
	case Lit32:
		i.words[1] = uint16(v)
		i.words[2] = uint16(uint32(v) >> 16)
	case Lit8:
		i.words[1] = i.words[1]&0x00ff | uint16(v&0xff)<<8
	default:
		panic(fmt.Sprintf("dex: %s has no literal", i.info().name))
	}
}

// HasOffset reports whether the opcode carries a branch or payload offset.
func (i *Insn) HasOffset() bool { return i.info().br != BrNone }

// Offset returns the encoded branch (or payload) offset in code units,
// relative to the instruction's own address.
func (i *Insn) Offset() int32 {
	switch i.info().br {
	case Br8:
		return int32(int8(i.words[0] >> 8))
	case Br16:
		return int32(int16(i.words[1]))
	case Br32:
		return int32(uint32(i.words[1]) | uint32(i.words[2])<<16)
	default:
		panic(fmt.Sprintf("dex: %s has no offset", i.info().name))
	}
}

// OffsetFits reports whether off is representable in the opcode's offset field.
func (i *Insn) OffsetFits(off int32) bool {
	switch i.info().br {
	case Br8:
		return off >= -128 && off <= 127
	case Br16:
		return off >= -32768 && off <= 32767
	case Br32:
		return true
	default:
		return false
	}
}

// SetOffset stores the branch (or payload) offset. The value must fit the
// opcode's offset width; sync widens the opcode first when it does not.
func (i *Insn) SetOffset(off int32) {
	switch i.info().br {
	case Br8:
		i.words[0] = i.words[0]&0x00ff | uint16(uint8(int8(off)))<<8
	case Br16:
		i.words[1] = uint16(int16(off))
	case Br32:
		i.words[1] = uint16(uint32(off))
		i.words[2] = uint16(uint32(off) >> 16)
	default:
		panic(fmt.Sprintf("dex: %s has no offset", i.info().name))
	}
}

// RefKind returns the kind of symbol reference the opcode embeds.
func (i *Insn) RefKind() RefKind { return i.info().ref }

func (i *Insn) ref(kind RefKind) uint16 {
	if i.info().ref != kind {
		panic(fmt.Sprintf("dex: %s has no %v reference", i.info().name, kind))
	}
	return i.words[1]
}

func (i *Insn) setRef(kind RefKind, idx uint16) {
	if i.info().ref != kind {
		panic(fmt.Sprintf("dex: %s has no %v reference", i.info().name, kind))
	}
	i.words[1] = idx
}

// StringRef returns the referenced string.
func (i *Insn) StringRef() StringID { return StringID(i.ref(RefString)) }

// SetStringRef stores the string reference.
func (i *Insn) SetStringRef(id StringID) { i.setRef(RefString, uint16(id)) }

// TypeRef returns the referenced type.
func (i *Insn) TypeRef() TypeID { return TypeID(i.ref(RefType)) }

// SetTypeRef stores the type reference.
func (i *Insn) SetTypeRef(id TypeID) { i.setRef(RefType, uint16(id)) }

// FieldRef returns the referenced field.
func (i *Insn) FieldRef() FieldID { return FieldID(i.ref(RefField)) }

// SetFieldRef stores the field reference.
func (i *Insn) SetFieldRef(id FieldID) { i.setRef(RefField, uint16(id)) }

// MethodRef returns the referenced method.
func (i *Insn) MethodRef() MethodID { return MethodID(i.ref(RefMethod)) }

// SetMethodRef stores the method reference.
func (i *Insn) SetMethodRef(id MethodID) { i.setRef(RefMethod, uint16(id)) }

// Units appends the instruction's encoded code units to dst.
func (i *Insn) Units(dst []uint16) []uint16 {
	return append(dst, i.words[:i.info().units]...)
}

// HasLiteral reports whether the instruction embeds a literal operand.
func (i *Insn) HasLiteral() bool { return i.info().lit != LitNone }

// Clone returns a deep copy of the instruction.
func (i *Insn) Clone() *Insn {
	c := *i
	return &c
}

// ReplaceOpcode rewrites the opcode byte in place, keeping every operand
// field. Only valid between opcodes that share a format (goto widening
// rewrites the whole instruction instead).
func (i *Insn) ReplaceOpcode(op Opcode) {
	if infoFor(op).format != i.info().format {
		panic("dex: ReplaceOpcode across formats")
	}
	i.op = op
	i.words[0] = i.words[0]&0xff00 | uint16(op)
}

func (i *Insn) String() string {
	return i.info().name
}
