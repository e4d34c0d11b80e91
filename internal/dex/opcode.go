package dex

// Opcode identifies one Dalvik instruction. The numeric values follow the
// published opcode map so encoded units stay byte-compatible with the format.
type Opcode uint8

const (
	OpNop Opcode = 0x00

	OpMove       Opcode = 0x01
	OpMoveFrom16 Opcode = 0x02
	OpMove16     Opcode = 0x03

	OpMoveWide       Opcode = 0x04
	OpMoveWideFrom16 Opcode = 0x05
	OpMoveWide16     Opcode = 0x06

	OpMoveObject       Opcode = 0x07
	OpMoveObjectFrom16 Opcode = 0x08
	OpMoveObject16     Opcode = 0x09

	OpMoveResult       Opcode = 0x0a
	OpMoveResultWide   Opcode = 0x0b
	OpMoveResultObject Opcode = 0x0c
	OpMoveException    Opcode = 0x0d

	OpReturnVoid   Opcode = 0x0e
	OpReturn       Opcode = 0x0f
	OpReturnWide   Opcode = 0x10
	OpReturnObject Opcode = 0x11

	OpConst4      Opcode = 0x12
	OpConst16     Opcode = 0x13
	OpConst       Opcode = 0x14
	OpConstWide16 Opcode = 0x16
	OpConstString Opcode = 0x1a
	OpConstClass  Opcode = 0x1c

	OpCheckCast   Opcode = 0x1f
	OpNewInstance Opcode = 0x22
	OpNewArray    Opcode = 0x23

	OpFillArrayData Opcode = 0x26
	OpThrow         Opcode = 0x27

	OpGoto   Opcode = 0x28
	OpGoto16 Opcode = 0x29
	OpGoto32 Opcode = 0x2a

	OpPackedSwitch Opcode = 0x2b
	OpSparseSwitch Opcode = 0x2c

	OpIfEq Opcode = 0x32
	OpIfNe Opcode = 0x33
	OpIfLt Opcode = 0x34
	OpIfGe Opcode = 0x35
	OpIfGt Opcode = 0x36
	OpIfLe Opcode = 0x37

	OpIfEqz Opcode = 0x38
	OpIfNez Opcode = 0x39
	OpIfLtz Opcode = 0x3a
	OpIfGez Opcode = 0x3b
	OpIfGtz Opcode = 0x3c
	OpIfLez Opcode = 0x3d

	OpIget       Opcode = 0x52
	OpIgetWide   Opcode = 0x53
	OpIgetObject Opcode = 0x54
	OpIput       Opcode = 0x59
	OpIputWide   Opcode = 0x5a
	OpIputObject Opcode = 0x5b

	OpSget       Opcode = 0x60
	OpSgetObject Opcode = 0x62
	OpSput       Opcode = 0x67
	OpSputObject Opcode = 0x69

	OpInvokeVirtual   Opcode = 0x6e
	OpInvokeSuper     Opcode = 0x6f
	OpInvokeDirect    Opcode = 0x70
	OpInvokeStatic    Opcode = 0x71
	OpInvokeInterface Opcode = 0x72

	OpAddInt Opcode = 0x90
	OpSubInt Opcode = 0x91
	OpMulInt Opcode = 0x92

	OpAddInt2addr Opcode = 0xb0
	OpSubInt2addr Opcode = 0xb1
	OpMulInt2addr Opcode = 0xb2

	OpAddIntLit8 Opcode = 0xd8
)

// Payload idents occupy the full first code unit of a pseudo-instruction
// (low byte OpNop plus a distinguishing high byte).
const (
	PackedSwitchIdent uint16 = 0x0100
	SparseSwitchIdent uint16 = 0x0200
	FillArrayIdent    uint16 = 0x0300
)

func (op Opcode) String() string {
	if info := opTable[op]; info != nil {
		return info.name
	}
	return "op?"
}

// AllOpcodes returns every opcode the engine understands, in numeric order.
func AllOpcodes() []Opcode {
	ops := make([]Opcode, 0, len(opTable))
	for op, info := range opTable {
		if info != nil {
			ops = append(ops, Opcode(op))
		}
	}
	return ops
}
