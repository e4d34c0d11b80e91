package builders

import (
	"context"
	"testing"

	"dexsmith/internal/config"
	"dexsmith/internal/dex"
	"dexsmith/internal/diag"
	"dexsmith/internal/ir"
	"dexsmith/internal/passes"
	"dexsmith/internal/testkit"
	"dexsmith/internal/trace"
)

// fixture is a scope with one builder (Lgeo/PointBuilder; holding x and
// y), the Lgeo/Point; it builds, and a consumer class whose method body
// each test installs.
type fixture struct {
	scope       *dex.Scope
	ctx         *passes.Context
	bag         *diag.Bag
	point       dex.TypeID
	builder     dex.TypeID
	shapes      dex.TypeID
	x, y        dex.FieldID
	pointInit   dex.MethodID
	builderInit dex.MethodID
	build       dex.MethodID
	consumer    *dex.Method
	original    *dex.Code
}

func asm(regs, ins uint16, insns ...*dex.Insn) *dex.Code {
	code := &dex.Code{Registers: regs, Ins: ins}
	for _, i := range insns {
		code.Units = i.Units(code.Units)
	}
	return code
}

func fieldOp(op dex.Opcode, field dex.FieldID, value, object uint16) *dex.Insn {
	i := dex.NewFieldOp(op, field)
	if dex.IsIput(op) {
		i.SetSrc(0, value)
		i.SetSrc(1, object)
	} else {
		i.SetDest(value)
		i.SetSrc(0, object)
	}
	return i
}

func typeOp(op dex.Opcode, typ dex.TypeID, dest uint16) *dex.Insn {
	i := dex.NewTypeOp(op, typ)
	i.SetDest(dest)
	return i
}

func srcInsn(op dex.Opcode, reg uint16) *dex.Insn {
	i := dex.NewInsn(op)
	i.SetSrc(0, reg)
	return i
}

func destInsn(op dex.Opcode, reg uint16) *dex.Insn {
	i := dex.NewInsn(op)
	i.SetDest(reg)
	return i
}

func branchInsn(op dex.Opcode, reg uint16, off int32) *dex.Insn {
	i := dex.NewInsn(op)
	i.SetSrc(0, reg)
	i.SetOffset(off)
	return i
}

func gotoInsn(off int32) *dex.Insn {
	i := dex.NewInsn(dex.OpGoto)
	i.SetOffset(off)
	return i
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	scope := dex.NewScope()
	p := scope.Pool

	f := &fixture{scope: scope}
	f.point = p.Type("Lgeo/Point;")
	f.builder = p.Type("Lgeo/PointBuilder;")
	f.shapes = p.Type("Lgeo/Shapes;")
	intT := p.Type("I")
	void := p.Type("V")
	obj := p.Type("Ljava/lang/Object;")

	f.x = p.Field(f.builder, intT, "x")
	f.y = p.Field(f.builder, intT, "y")
	f.pointInit = p.Method(f.point, "<init>", p.ProtoOf(void, intT, intT))
	f.builderInit = p.Method(f.builder, "<init>", p.ProtoOf(void))
	f.build = p.Method(f.builder, "build", p.ProtoOf(f.point))

	// build(): load both fields off this (v3) and construct the Point.
	buildCode := asm(4, 1,
		typeOp(dex.OpNewInstance, f.point, 0),
		fieldOp(dex.OpIget, f.x, 1, 3),
		fieldOp(dex.OpIget, f.y, 2, 3),
		dex.NewInvoke(dex.OpInvokeDirect, f.pointInit, 0, 1, 2),
		srcInsn(dex.OpReturnObject, 0),
	)

	f.consumer = &dex.Method{
		ID:    p.Method(f.shapes, "make", p.ProtoOf(f.point, intT, intT)),
		Flags: dex.AccPublic | dex.AccStatic,
	}
	scope.Classes = append(scope.Classes,
		&dex.Class{
			Type: f.point, Super: obj, Flags: dex.AccPublic,
			Directs: []*dex.Method{{ID: f.pointInit, Flags: dex.AccPublic | dex.AccConstructor}},
		},
		&dex.Class{
			Type: f.builder, Super: obj, Flags: dex.AccPublic,
			IFields: []dex.FieldID{f.x, f.y},
			Directs: []*dex.Method{{
				ID: f.builderInit, Flags: dex.AccPublic | dex.AccConstructor,
				Code: asm(1, 1, dex.NewInsn(dex.OpReturnVoid)),
			}},
			Virtuals: []*dex.Method{{ID: f.build, Flags: dex.AccPublic, Code: buildCode}},
		},
		&dex.Class{
			Type: f.shapes, Super: obj, Flags: dex.AccPublic,
			Directs: []*dex.Method{f.consumer},
		},
	)
	return f
}

// install sets the consumer body, balloons every method and builds the
// pass context.
func (f *fixture) install(t *testing.T, code *dex.Code) {
	t.Helper()
	f.consumer.Code = code
	f.original = code

	bodies := make(map[*dex.Method]*ir.Body)
	f.scope.EachMethod(func(_ *dex.Class, m *dex.Method) {
		if m.Code == nil {
			return
		}
		b, err := ir.Balloon(m.Code)
		if err != nil {
			t.Fatalf("balloon %s: %v", f.scope.Pool.MethodName(m.ID), err)
		}
		bodies[m] = b
	})

	f.bag = diag.NewBag(32)
	f.ctx = &passes.Context{
		Scope:  f.scope,
		Bodies: bodies,
		Config: config.Default(),
		Report: diag.BagReporter{Bag: f.bag},
		Tracer: trace.Nop,
	}
}

func (f *fixture) run(t *testing.T) {
	t.Helper()
	p, ok := passes.Lookup("builders")
	if !ok {
		t.Fatal("builders pass not registered")
	}
	if err := p.Run(context.Background(), f.ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
}

func (f *fixture) syncConsumer(t *testing.T) *dex.Code {
	t.Helper()
	out := &dex.Code{}
	if err := f.ctx.BodyOf(f.consumer).Sync(out); err != nil {
		t.Fatalf("sync: %v", err)
	}
	return out
}

// referencesBuilder reports whether any instruction still touches the
// builder type, its fields, or its methods.
func (f *fixture) referencesBuilder(body *ir.Body) bool {
	pool := f.scope.Pool
	for _, it := range body.Insns() {
		insn := it.Insn
		op := insn.Opcode()
		switch {
		case op == dex.OpNewInstance && insn.TypeRef() == f.builder:
			return true
		case (dex.IsIget(op) || dex.IsIput(op)) && pool.FieldDef(insn.FieldRef()).Class == f.builder:
			return true
		case dex.IsInvoke(op) && pool.MethodDef(insn.MethodRef()).Class == f.builder:
			return true
		}
	}
	return false
}

func (f *fixture) findInvoke(body *ir.Body, method dex.MethodID) *dex.Insn {
	for _, it := range body.Insns() {
		if dex.IsInvoke(it.Insn.Opcode()) && it.Insn.MethodRef() == method {
			return it.Insn
		}
	}
	return nil
}

func (f *fixture) wantUnchanged(t *testing.T, code diag.Code) {
	t.Helper()
	if !f.syncConsumer(t).EqualUnits(f.original) {
		t.Error("body changed, want bit-identical bail-out")
	}
	for _, d := range f.bag.Items() {
		if d.Code == code {
			return
		}
	}
	t.Errorf("no %v diagnostic in %+v", code, f.bag.Items())
}

// canonical is the shape the pass exists for: construct, set both
// fields from the inputs, build, return.
func (f *fixture) canonical() *dex.Code {
	return asm(3, 2,
		typeOp(dex.OpNewInstance, f.builder, 0),
		dex.NewInvoke(dex.OpInvokeDirect, f.builderInit, 0),
		fieldOp(dex.OpIput, f.x, 1, 0),
		fieldOp(dex.OpIput, f.y, 2, 0),
		dex.NewInvoke(dex.OpInvokeVirtual, f.build, 0),
		destInsn(dex.OpMoveResultObject, 0),
		srcInsn(dex.OpReturnObject, 0),
	)
}

func TestRemoveBuildersErasesBuilder(t *testing.T) {
	f := newFixture(t)
	f.install(t, f.canonical())
	f.run(t)

	body := f.ctx.BodyOf(f.consumer)
	if f.referencesBuilder(body) {
		t.Fatalf("builder survives:\n%s", body.Format(f.scope.Pool))
	}
	if err := testkit.CheckBodyInvariants(body); err != nil {
		t.Fatalf("invariants: %v", err)
	}

	// The constructor now takes its arguments straight from the method
	// inputs, wherever inlining left them.
	ctor := f.findInvoke(body, f.pointInit)
	if ctor == nil {
		t.Fatalf("Point constructor gone:\n%s", body.Format(f.scope.Pool))
	}
	a, b := body.Registers-2, body.Registers-1
	if ctor.Src(1) != a || ctor.Src(2) != b {
		t.Errorf("ctor args = v%d, v%d; want inputs v%d, v%d",
			ctor.Src(1), ctor.Src(2), a, b)
	}
	f.syncConsumer(t)
	if f.bag.Len() != 0 {
		t.Errorf("unexpected diagnostics: %+v", f.bag.Items())
	}
}

// Storing the builder into a static field makes it visible outside the
// method, so the pass must leave everything alone.
func TestRemoveBuildersBailsWhenInstanceEscapes(t *testing.T) {
	f := newFixture(t)
	cache := f.scope.Pool.Field(f.shapes, f.builder, "cache")
	sput := dex.NewFieldOp(dex.OpSputObject, cache)
	sput.SetSrc(0, 0)
	f.install(t, asm(3, 2,
		typeOp(dex.OpNewInstance, f.builder, 0),
		dex.NewInvoke(dex.OpInvokeDirect, f.builderInit, 0),
		fieldOp(dex.OpIput, f.x, 1, 0),
		fieldOp(dex.OpIput, f.y, 2, 0),
		sput,
		dex.NewInvoke(dex.OpInvokeVirtual, f.build, 0),
		destInsn(dex.OpMoveResultObject, 0),
		srcInsn(dex.OpReturnObject, 0),
	))
	f.run(t)
	f.wantUnchanged(t, diag.PassBuilderEscapes)
}

// Two build() calls would need the callee inlined twice; the pass keeps
// the builder instead.
func TestRemoveBuildersBailsOnMultipleBuildCalls(t *testing.T) {
	f := newFixture(t)
	f.install(t, asm(3, 2,
		typeOp(dex.OpNewInstance, f.builder, 0),
		dex.NewInvoke(dex.OpInvokeDirect, f.builderInit, 0),
		fieldOp(dex.OpIput, f.x, 1, 0),
		fieldOp(dex.OpIput, f.y, 2, 0),
		dex.NewInvoke(dex.OpInvokeVirtual, f.build, 0),
		destInsn(dex.OpMoveResultObject, 0),
		dex.NewInvoke(dex.OpInvokeVirtual, f.build, 0),
		destInsn(dex.OpMoveResultObject, 0),
		srcInsn(dex.OpReturnObject, 0),
	))
	f.run(t)
	f.wantUnchanged(t, diag.PassBuilderMultipleSites)
}

// A field written from different registers on two paths has no single
// replacement register; the inline is rolled back and the method comes
// out bit-identical.
func TestRemoveBuildersRollsBackOnDivergingWrites(t *testing.T) {
	f := newFixture(t)
	f.install(t, asm(3, 2,
		typeOp(dex.OpNewInstance, f.builder, 0),                 // 0000
		dex.NewInvoke(dex.OpInvokeDirect, f.builderInit, 0),     // 0002
		branchInsn(dex.OpIfEqz, 1, 5),                           // 0005 -> 000a
		fieldOp(dex.OpIput, f.x, 1, 0),                          // 0007
		gotoInsn(3),                                             // 0009 -> 000c
		fieldOp(dex.OpIput, f.x, 2, 0),                          // 000a
		fieldOp(dex.OpIput, f.y, 1, 0),                          // 000c
		dex.NewInvoke(dex.OpInvokeVirtual, f.build, 0),          // 000e
		destInsn(dex.OpMoveResultObject, 0),                     // 0011
		srcInsn(dex.OpReturnObject, 0),                          // 0012
	))
	f.run(t)
	f.wantUnchanged(t, diag.PassRolledBack)
}

// A field that build() reads but the caller never writes gets a fresh
// zero register instead of blocking the rewrite.
func TestRemoveBuildersZeroFillsUnwrittenField(t *testing.T) {
	f := newFixture(t)
	f.install(t, asm(3, 2,
		typeOp(dex.OpNewInstance, f.builder, 0),
		dex.NewInvoke(dex.OpInvokeDirect, f.builderInit, 0),
		fieldOp(dex.OpIput, f.x, 1, 0),
		dex.NewInvoke(dex.OpInvokeVirtual, f.build, 0),
		destInsn(dex.OpMoveResultObject, 0),
		srcInsn(dex.OpReturnObject, 0),
	))
	f.run(t)

	body := f.ctx.BodyOf(f.consumer)
	if f.referencesBuilder(body) {
		t.Fatalf("builder survives:\n%s", body.Format(f.scope.Pool))
	}
	if err := testkit.CheckBodyInvariants(body); err != nil {
		t.Fatalf("invariants: %v", err)
	}

	first := body.Front()
	for first != nil && first.Kind != ir.ItemInsn {
		first = first.Next()
	}
	if first == nil || !dex.IsConst(first.Insn.Opcode()) || first.Insn.Literal() != 0 {
		t.Fatalf("body does not start with a zero fill:\n%s", body.Format(f.scope.Pool))
	}
	zero := first.Insn.Dest()

	ctor := f.findInvoke(body, f.pointInit)
	if ctor == nil {
		t.Fatal("Point constructor gone")
	}
	if ctor.Src(1) != body.Registers-2 {
		t.Errorf("x arg = v%d, want input v%d", ctor.Src(1), body.Registers-2)
	}
	if ctor.Src(2) != zero {
		t.Errorf("y arg = v%d, want the zero register v%d", ctor.Src(2), zero)
	}
	f.syncConsumer(t)
}

func TestRemoveBuildersHonorsBlocklist(t *testing.T) {
	f := newFixture(t)
	f.install(t, f.canonical())
	f.ctx.Config.Passes.Builders.Blocklist = []string{"Lgeo/PointBuilder;"}
	f.run(t)

	if !f.syncConsumer(t).EqualUnits(f.original) {
		t.Error("blocklisted builder was rewritten")
	}
	if f.bag.Len() != 0 {
		t.Errorf("unexpected diagnostics: %+v", f.bag.Items())
	}
}
