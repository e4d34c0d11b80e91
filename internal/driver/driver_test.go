package driver

import (
	"context"
	"errors"
	"testing"

	"dexsmith/internal/config"
	"dexsmith/internal/dex"
	"dexsmith/internal/diag"
	_ "dexsmith/internal/passes/builders"
)

func insn(op dex.Opcode, set func(*dex.Insn)) *dex.Insn {
	i := dex.NewInsn(op)
	if set != nil {
		set(i)
	}
	return i
}

func assemble(regs, ins uint16, insns ...*dex.Insn) *dex.Code {
	code := &dex.Code{Registers: regs, Ins: ins}
	for _, i := range insns {
		code.Units = i.Units(code.Units)
	}
	return code
}

// builderScope wires the canonical builder scenario: a PointBuilder
// holding x and y, its build() method, and a consumer that sets both
// fields from its inputs and builds.
func builderScope(t *testing.T) (*dex.Scope, *dex.Method, dex.TypeID) {
	t.Helper()
	scope := dex.NewScope()
	p := scope.Pool

	point := p.Type("Lgeo/Point;")
	builder := p.Type("Lgeo/PointBuilder;")
	shapes := p.Type("Lgeo/Shapes;")
	intT := p.Type("I")
	void := p.Type("V")
	obj := p.Type("Ljava/lang/Object;")

	x := p.Field(builder, intT, "x")
	y := p.Field(builder, intT, "y")
	pointInit := p.Method(point, "<init>", p.ProtoOf(void, intT, intT))
	builderInit := p.Method(builder, "<init>", p.ProtoOf(void))
	build := p.Method(builder, "build", p.ProtoOf(point))

	iget := func(field dex.FieldID, dest, object uint16) *dex.Insn {
		i := dex.NewFieldOp(dex.OpIget, field)
		i.SetDest(dest)
		i.SetSrc(0, object)
		return i
	}
	iput := func(field dex.FieldID, value, object uint16) *dex.Insn {
		i := dex.NewFieldOp(dex.OpIput, field)
		i.SetSrc(0, value)
		i.SetSrc(1, object)
		return i
	}

	buildCode := assemble(4, 1,
		insn(dex.OpNewInstance, func(i *dex.Insn) { i.SetTypeRef(point); i.SetDest(0) }),
		iget(x, 1, 3),
		iget(y, 2, 3),
		dex.NewInvoke(dex.OpInvokeDirect, pointInit, 0, 1, 2),
		insn(dex.OpReturnObject, func(i *dex.Insn) { i.SetSrc(0, 0) }),
	)
	consumer := &dex.Method{
		ID:    p.Method(shapes, "make", p.ProtoOf(point, intT, intT)),
		Flags: dex.AccPublic | dex.AccStatic,
		Code: assemble(3, 2,
			insn(dex.OpNewInstance, func(i *dex.Insn) { i.SetTypeRef(builder); i.SetDest(0) }),
			dex.NewInvoke(dex.OpInvokeDirect, builderInit, 0),
			iput(x, 1, 0),
			iput(y, 2, 0),
			dex.NewInvoke(dex.OpInvokeVirtual, build, 0),
			insn(dex.OpMoveResultObject, func(i *dex.Insn) { i.SetDest(0) }),
			insn(dex.OpReturnObject, func(i *dex.Insn) { i.SetSrc(0, 0) }),
		),
	}

	scope.Classes = append(scope.Classes,
		&dex.Class{
			Type: point, Super: obj, Flags: dex.AccPublic,
			Directs: []*dex.Method{{ID: pointInit, Flags: dex.AccPublic | dex.AccConstructor}},
		},
		&dex.Class{
			Type: builder, Super: obj, Flags: dex.AccPublic,
			IFields: []dex.FieldID{x, y},
			Directs: []*dex.Method{{
				ID: builderInit, Flags: dex.AccPublic | dex.AccConstructor,
				Code: assemble(1, 1, dex.NewInsn(dex.OpReturnVoid)),
			}},
			Virtuals: []*dex.Method{{ID: build, Flags: dex.AccPublic, Code: buildCode}},
		},
		&dex.Class{
			Type: shapes, Super: obj, Flags: dex.AccPublic,
			Directs: []*dex.Method{consumer},
		},
	)
	return scope, consumer, builder
}

// referencesType reports whether any instruction of code touches typ or
// its pool members.
func referencesType(pool *dex.Pool, code *dex.Code, typ dex.TypeID) bool {
	for pos := 0; pos < len(code.Units); {
		i, n, err := dex.ReadInsn(code.Units, pos)
		if err != nil {
			return false
		}
		switch i.RefKind() {
		case dex.RefType:
			if i.TypeRef() == typ {
				return true
			}
		case dex.RefField:
			if pool.FieldDef(i.FieldRef()).Class == typ {
				return true
			}
		case dex.RefMethod:
			if pool.MethodDef(i.MethodRef()).Class == typ {
				return true
			}
		}
		pos += n
	}
	return false
}

func TestOptimizeRunsBuildersEndToEnd(t *testing.T) {
	scope, consumer, builder := builderScope(t)
	bag := diag.NewBag(64)

	stats, err := Optimize(context.Background(), scope, Options{
		Report: diag.BagReporter{Bag: bag},
	})
	if err != nil {
		t.Fatalf("optimize: %v", err)
	}
	if stats.Methods != 3 || stats.Ballooned != 3 {
		t.Errorf("methods/ballooned = %d/%d, want 3/3", stats.Methods, stats.Ballooned)
	}
	if stats.SyncFails != 0 || stats.Synced != 3 {
		t.Errorf("synced/failed = %d/%d, want 3/0", stats.Synced, stats.SyncFails)
	}
	if bag.HasErrors() {
		t.Errorf("unexpected errors: %+v", bag.Items())
	}
	if referencesType(scope.Pool, consumer.Code, builder) {
		t.Errorf("builder survives in synced code: %04x", consumer.Code.Units)
	}
}

func TestOptimizeLeavesCodeWithNoPasses(t *testing.T) {
	scope, consumer, _ := builderScope(t)
	before := append([]uint16(nil), consumer.Code.Units...)

	cfg := config.Default()
	cfg.Optimize.Passes = nil
	stats, err := Optimize(context.Background(), scope, Options{Config: cfg})
	if err != nil {
		t.Fatalf("optimize: %v", err)
	}
	if stats.Synced != 3 {
		t.Errorf("synced = %d, want 3", stats.Synced)
	}
	if len(consumer.Code.Units) != len(before) {
		t.Fatalf("code size changed with no passes: %d -> %d", len(before), len(consumer.Code.Units))
	}
	for i := range before {
		if consumer.Code.Units[i] != before[i] {
			t.Fatalf("unit %d changed with no passes", i)
		}
	}
}

func TestOptimizeRejectsUnknownPass(t *testing.T) {
	scope, _, _ := builderScope(t)
	bag := diag.NewBag(8)

	cfg := config.Default()
	cfg.Optimize.Passes = []string{"builders", "frobnicate"}
	_, err := Optimize(context.Background(), scope, Options{
		Config: cfg,
		Report: diag.BagReporter{Bag: bag},
	})
	if !errors.Is(err, config.ErrUnknownPass) {
		t.Fatalf("err = %v, want ErrUnknownPass", err)
	}
	found := false
	for _, d := range bag.Items() {
		if d.Code == diag.DrvUnknownPass {
			found = true
		}
	}
	if !found {
		t.Errorf("no DrvUnknownPass diagnostic in %+v", bag.Items())
	}
}

func TestOptimizeStopsWhenCancelled(t *testing.T) {
	scope, _, _ := builderScope(t)
	bag := diag.NewBag(8)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Optimize(ctx, scope, Options{Report: diag.BagReporter{Bag: bag}})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	found := false
	for _, d := range bag.Items() {
		if d.Code == diag.DrvCancelled {
			found = true
		}
	}
	if !found {
		t.Errorf("no DrvCancelled diagnostic in %+v", bag.Items())
	}
}
