package dex

// Format names the packed encoding of an instruction, using the conventional
// Dalvik format IDs (unit count, operand nibble layout).
type Format uint8

const (
	Fmt10x Format = iota
	Fmt12x
	Fmt11n
	Fmt11x
	Fmt10t
	Fmt20t
	Fmt22x
	Fmt21t
	Fmt21s
	Fmt21c
	Fmt23x
	Fmt22b
	Fmt22t
	Fmt22c
	Fmt30t
	Fmt32x
	Fmt31i
	Fmt31t
	Fmt35c
)

// RefKind classifies the symbol reference embedded in an instruction.
type RefKind uint8

const (
	RefNone RefKind = iota
	RefString
	RefType
	RefField
	RefMethod
)

// LitKind locates the embedded literal, when one exists.
type LitKind uint8

const (
	LitNone LitKind = iota
	Lit4    // word 0, bits 12..15, signed
	Lit16   // word 1, signed
	Lit32   // words 1..2, little-endian units
	Lit8    // word 1, bits 8..15, signed
)

// BrKind locates the branch offset, when one exists.
type BrKind uint8

const (
	BrNone BrKind = iota
	Br8    // word 0, bits 8..15, signed
	Br16   // word 1, signed
	Br32   // words 1..2, signed
)

// regField describes one register operand slot inside the packed units.
type regField struct {
	word  uint8
	shift uint8
	width uint8
}

type opFlags uint16

const (
	flagThrow  opFlags = 1 << iota // may raise at runtime
	flagBranch                     // has a branch offset (goto/if/switch)
	flagCond                       // conditional branch
	flagSwitch                     // packed/sparse switch
	flagInvoke
	flagReturn
	flagWideDest // destination occupies a register pair
	flagArity    // source count carried in the count nibble (35c)
)

type opInfo struct {
	name       string
	format     Format
	units      uint8
	dest       regField // width 0 means no destination
	srcs       []regField
	destIsSrc0 bool
	ref        RefKind
	lit        LitKind
	br         BrKind
	flags      opFlags
}

// Field geometry shared by the format variants.
var (
	fieldA8  = regField{word: 0, shift: 8, width: 8}
	fieldA4  = regField{word: 0, shift: 8, width: 4}
	fieldB4  = regField{word: 0, shift: 12, width: 4}
	fieldA16 = regField{word: 1, shift: 0, width: 16}
	fieldB16 = regField{word: 1, shift: 0, width: 16}
	fieldC16 = regField{word: 2, shift: 0, width: 16}
	fieldBB  = regField{word: 1, shift: 0, width: 8}
	fieldCC  = regField{word: 1, shift: 8, width: 8}

	// 35c argument nibbles: C..F in word 2, G back in word 0.
	fieldArgC = regField{word: 2, shift: 0, width: 4}
	fieldArgD = regField{word: 2, shift: 4, width: 4}
	fieldArgE = regField{word: 2, shift: 8, width: 4}
	fieldArgF = regField{word: 2, shift: 12, width: 4}
	fieldArgG = regField{word: 0, shift: 8, width: 4}

	invokeSrcs = []regField{fieldArgC, fieldArgD, fieldArgE, fieldArgF, fieldArgG}
)

func move12x(name string, wide bool) *opInfo {
	fl := opFlags(0)
	if wide {
		fl |= flagWideDest
	}
	return &opInfo{name: name, format: Fmt12x, units: 1, dest: fieldA4, srcs: []regField{fieldB4}, flags: fl}
}

func move22x(name string, wide bool) *opInfo {
	fl := opFlags(0)
	if wide {
		fl |= flagWideDest
	}
	return &opInfo{name: name, format: Fmt22x, units: 2, dest: fieldA8, srcs: []regField{fieldB16}, flags: fl}
}

func move32x(name string, wide bool) *opInfo {
	fl := opFlags(0)
	if wide {
		fl |= flagWideDest
	}
	return &opInfo{name: name, format: Fmt32x, units: 3, dest: fieldA16, srcs: []regField{fieldC16}, flags: fl}
}

func binop23x(name string) *opInfo {
	return &opInfo{name: name, format: Fmt23x, units: 2, dest: fieldA8, srcs: []regField{fieldBB, fieldCC}}
}

func binop2addr(name string) *opInfo {
	// Destination shares storage with source 0.
	return &opInfo{name: name, format: Fmt12x, units: 1, dest: fieldA4, srcs: []regField{fieldA4, fieldB4}, destIsSrc0: true}
}

func if21t(name string) *opInfo {
	return &opInfo{name: name, format: Fmt21t, units: 2, srcs: []regField{fieldA8}, br: Br16, flags: flagBranch | flagCond}
}

func if22t(name string) *opInfo {
	return &opInfo{name: name, format: Fmt22t, units: 2, srcs: []regField{fieldA4, fieldB4}, br: Br16, flags: flagBranch | flagCond}
}

func invoke35c(name string) *opInfo {
	return &opInfo{name: name, format: Fmt35c, units: 3, srcs: invokeSrcs, ref: RefMethod, flags: flagThrow | flagInvoke | flagArity}
}

var opTable = [256]*opInfo{
	OpNop: {name: "nop", format: Fmt10x, units: 1},

	OpMove:       move12x("move", false),
	OpMoveFrom16: move22x("move/from16", false),
	OpMove16:     move32x("move/16", false),

	OpMoveWide:       move12x("move-wide", true),
	OpMoveWideFrom16: move22x("move-wide/from16", true),
	OpMoveWide16:     move32x("move-wide/16", true),

	OpMoveObject:       move12x("move-object", false),
	OpMoveObjectFrom16: move22x("move-object/from16", false),
	OpMoveObject16:     move32x("move-object/16", false),

	OpMoveResult:       {name: "move-result", format: Fmt11x, units: 1, dest: fieldA8},
	OpMoveResultWide:   {name: "move-result-wide", format: Fmt11x, units: 1, dest: fieldA8, flags: flagWideDest},
	OpMoveResultObject: {name: "move-result-object", format: Fmt11x, units: 1, dest: fieldA8},
	OpMoveException:    {name: "move-exception", format: Fmt11x, units: 1, dest: fieldA8},

	OpReturnVoid:   {name: "return-void", format: Fmt10x, units: 1, flags: flagReturn},
	OpReturn:       {name: "return", format: Fmt11x, units: 1, srcs: []regField{fieldA8}, flags: flagReturn},
	OpReturnWide:   {name: "return-wide", format: Fmt11x, units: 1, srcs: []regField{fieldA8}, flags: flagReturn},
	OpReturnObject: {name: "return-object", format: Fmt11x, units: 1, srcs: []regField{fieldA8}, flags: flagReturn},

	OpConst4:      {name: "const/4", format: Fmt11n, units: 1, dest: fieldA4, lit: Lit4},
	OpConst16:     {name: "const/16", format: Fmt21s, units: 2, dest: fieldA8, lit: Lit16},
	OpConst:       {name: "const", format: Fmt31i, units: 3, dest: fieldA8, lit: Lit32},
	OpConstWide16: {name: "const-wide/16", format: Fmt21s, units: 2, dest: fieldA8, lit: Lit16, flags: flagWideDest},
	OpConstString: {name: "const-string", format: Fmt21c, units: 2, dest: fieldA8, ref: RefString, flags: flagThrow},
	OpConstClass:  {name: "const-class", format: Fmt21c, units: 2, dest: fieldA8, ref: RefType, flags: flagThrow},

	OpCheckCast:   {name: "check-cast", format: Fmt21c, units: 2, srcs: []regField{fieldA8}, ref: RefType, flags: flagThrow},
	OpNewInstance: {name: "new-instance", format: Fmt21c, units: 2, dest: fieldA8, ref: RefType, flags: flagThrow},
	OpNewArray:    {name: "new-array", format: Fmt22c, units: 2, dest: fieldA4, srcs: []regField{fieldB4}, ref: RefType, flags: flagThrow},

	// fill-array-data carries a payload offset in its branch slot but is not
	// a control-flow branch; the offset is managed through the payload table.
	OpFillArrayData: {name: "fill-array-data", format: Fmt31t, units: 3, srcs: []regField{fieldA8}, br: Br32},
	OpThrow:         {name: "throw", format: Fmt11x, units: 1, srcs: []regField{fieldA8}, flags: flagThrow},

	OpGoto:   {name: "goto", format: Fmt10t, units: 1, br: Br8, flags: flagBranch},
	OpGoto16: {name: "goto/16", format: Fmt20t, units: 2, br: Br16, flags: flagBranch},
	OpGoto32: {name: "goto/32", format: Fmt30t, units: 3, br: Br32, flags: flagBranch},

	OpPackedSwitch: {name: "packed-switch", format: Fmt31t, units: 3, srcs: []regField{fieldA8}, br: Br32, flags: flagBranch | flagSwitch},
	OpSparseSwitch: {name: "sparse-switch", format: Fmt31t, units: 3, srcs: []regField{fieldA8}, br: Br32, flags: flagBranch | flagSwitch},

	OpIfEq: if22t("if-eq"),
	OpIfNe: if22t("if-ne"),
	OpIfLt: if22t("if-lt"),
	OpIfGe: if22t("if-ge"),
	OpIfGt: if22t("if-gt"),
	OpIfLe: if22t("if-le"),

	OpIfEqz: if21t("if-eqz"),
	OpIfNez: if21t("if-nez"),
	OpIfLtz: if21t("if-ltz"),
	OpIfGez: if21t("if-gez"),
	OpIfGtz: if21t("if-gtz"),
	OpIfLez: if21t("if-lez"),

	OpIget:       {name: "iget", format: Fmt22c, units: 2, dest: fieldA4, srcs: []regField{fieldB4}, ref: RefField, flags: flagThrow},
	OpIgetWide:   {name: "iget-wide", format: Fmt22c, units: 2, dest: fieldA4, srcs: []regField{fieldB4}, ref: RefField, flags: flagThrow | flagWideDest},
	OpIgetObject: {name: "iget-object", format: Fmt22c, units: 2, dest: fieldA4, srcs: []regField{fieldB4}, ref: RefField, flags: flagThrow},
	OpIput:       {name: "iput", format: Fmt22c, units: 2, srcs: []regField{fieldA4, fieldB4}, ref: RefField, flags: flagThrow},
	OpIputWide:   {name: "iput-wide", format: Fmt22c, units: 2, srcs: []regField{fieldA4, fieldB4}, ref: RefField, flags: flagThrow},
	OpIputObject: {name: "iput-object", format: Fmt22c, units: 2, srcs: []regField{fieldA4, fieldB4}, ref: RefField, flags: flagThrow},

	OpSget:       {name: "sget", format: Fmt21c, units: 2, dest: fieldA8, ref: RefField, flags: flagThrow},
	OpSgetObject: {name: "sget-object", format: Fmt21c, units: 2, dest: fieldA8, ref: RefField, flags: flagThrow},
	OpSput:       {name: "sput", format: Fmt21c, units: 2, srcs: []regField{fieldA8}, ref: RefField, flags: flagThrow},
	OpSputObject: {name: "sput-object", format: Fmt21c, units: 2, srcs: []regField{fieldA8}, ref: RefField, flags: flagThrow},

	OpInvokeVirtual:   invoke35c("invoke-virtual"),
	OpInvokeSuper:     invoke35c("invoke-super"),
	OpInvokeDirect:    invoke35c("invoke-direct"),
	OpInvokeStatic:    invoke35c("invoke-static"),
	OpInvokeInterface: invoke35c("invoke-interface"),

	OpAddInt: binop23x("add-int"),
	OpSubInt: binop23x("sub-int"),
	OpMulInt: binop23x("mul-int"),

	OpAddInt2addr: binop2addr("add-int/2addr"),
	OpSubInt2addr: binop2addr("sub-int/2addr"),
	OpMulInt2addr: binop2addr("mul-int/2addr"),

	OpAddIntLit8: {name: "add-int/lit8", format: Fmt22b, units: 2, dest: fieldA8, srcs: []regField{fieldBB}, lit: Lit8},
}

func infoFor(op Opcode) *opInfo {
	info := opTable[op]
	if info == nil {
		panic("dex: unknown opcode")
	}
	return info
}
