package dex

// Opcode classification predicates. These are the read-only metadata
// queries passes and the IR layer share.

// IsBranch reports whether op transfers control via an encoded offset
// (gotos, conditional branches, switches).
func IsBranch(op Opcode) bool { return infoFor(op).flags&flagBranch != 0 }

// IsGoto reports whether op is an unconditional goto of any width.
func IsGoto(op Opcode) bool {
	return op == OpGoto || op == OpGoto16 || op == OpGoto32
}

// IsConditionalBranch reports whether op is an if/if-z branch.
func IsConditionalBranch(op Opcode) bool { return infoFor(op).flags&flagCond != 0 }

// IsSwitch reports whether op is a packed or sparse switch.
func IsSwitch(op Opcode) bool { return infoFor(op).flags&flagSwitch != 0 }

// IsInvoke reports whether op calls a method.
func IsInvoke(op Opcode) bool { return infoFor(op).flags&flagInvoke != 0 }

// IsReturn reports whether op leaves the method.
func IsReturn(op Opcode) bool { return infoFor(op).flags&flagReturn != 0 }

// MayThrow reports whether op can raise at runtime and therefore needs an
// exception edge when it sits inside a try region.
func MayThrow(op Opcode) bool {
	return infoFor(op).flags&flagThrow != 0 || op == OpThrow
}

// IsIget reports whether op reads an instance field.
func IsIget(op Opcode) bool {
	return op == OpIget || op == OpIgetWide || op == OpIgetObject
}

// IsIput reports whether op writes an instance field.
func IsIput(op Opcode) bool {
	return op == OpIput || op == OpIputWide || op == OpIputObject
}

// IsSget reports whether op reads a static field.
func IsSget(op Opcode) bool { return op == OpSget || op == OpSgetObject }

// IsSput reports whether op writes a static field.
func IsSput(op Opcode) bool { return op == OpSput || op == OpSputObject }

// SrcIsWide reports whether source operand n of op names a register pair.
func SrcIsWide(op Opcode, n int) bool {
	switch op {
	case OpMoveWide, OpMoveWideFrom16, OpMoveWide16, OpReturnWide, OpIputWide:
		return n == 0
	}
	return false
}

// IsMoveResult reports whether op captures the previous invoke's result.
func IsMoveResult(op Opcode) bool {
	return op == OpMoveResult || op == OpMoveResultWide || op == OpMoveResultObject
}

// IsConst reports whether op loads a literal.
func IsConst(op Opcode) bool {
	switch op {
	case OpConst4, OpConst16, OpConst, OpConstWide16, OpConstString, OpConstClass:
		return true
	}
	return false
}

// EndsBlock reports whether op never falls through to the next instruction.
func EndsBlock(op Opcode) bool {
	return IsGoto(op) || IsReturn(op) || op == OpThrow
}

// WidenGoto returns the next wider goto opcode, or ok=false for goto/32.
func WidenGoto(op Opcode) (Opcode, bool) {
	switch op {
	case OpGoto:
		return OpGoto16, true
	case OpGoto16:
		return OpGoto32, true
	default:
		return op, false
	}
}
