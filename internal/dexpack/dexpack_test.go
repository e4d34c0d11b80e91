package dexpack

import (
	"errors"
	"path/filepath"
	"reflect"
	"testing"

	"dexsmith/internal/dex"
)

func sampleScope() *dex.Scope {
	scope := dex.NewScope()
	p := scope.Pool
	obj := p.Type("Ljava/lang/Object;")
	cls := p.Type("Lcom/example/Foo;")
	intT := p.Type("I")
	proto := p.ProtoOf(intT, intT)
	count := p.Field(cls, intT, "count")

	iget := dex.NewFieldOp(dex.OpIget, count)
	iget.SetDest(0)
	iget.SetSrc(0, 1)
	code := &dex.Code{Registers: 2, Ins: 2}
	for _, i := range []*dex.Insn{iget, func() *dex.Insn {
		r := dex.NewInsn(dex.OpReturn)
		r.SetSrc(0, 0)
		return r
	}()} {
		code.Units = i.Units(code.Units)
	}
	code.Tries = []dex.Try{{Start: 0, End: 2, HasCatchAll: true, CatchAllAddr: 2}}
	code.Positions = []dex.Position{{Addr: 0, Line: 12}}
	code.Debug = []dex.DebugNote{{Addr: 1, Blob: []byte{0x0b, 0x01}}}

	scope.Classes = append(scope.Classes, &dex.Class{
		Type:    cls,
		Super:   obj,
		Flags:   dex.AccPublic,
		IFields: []dex.FieldID{count},
		Virtuals: []*dex.Method{{
			ID:    p.Method(cls, "get", proto),
			Flags: dex.AccPublic,
			Code:  code,
		}},
		Directs: []*dex.Method{{
			ID:    p.Method(cls, "<init>", p.ProtoOf(p.Type("V"))),
			Flags: dex.AccPublic | dex.AccConstructor,
		}},
	})
	return scope
}

func TestRoundTripPreservesHandles(t *testing.T) {
	scope := sampleScope()
	got, err := Decode(Encode(scope))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	ws, wt, wp, wf, wm := scope.Pool.Counts()
	gs, gt, gp, gf, gm := got.Pool.Counts()
	if ws != gs || wt != gt || wp != gp || wf != gf || wm != gm {
		t.Fatalf("pool counts changed: %d/%d/%d/%d/%d -> %d/%d/%d/%d/%d",
			ws, wt, wp, wf, wm, gs, gt, gp, gf, gm)
	}
	if got.Pool.Descriptor(scope.Classes[0].Type) != "Lcom/example/Foo;" {
		t.Error("type handle no longer resolves to the same descriptor")
	}

	wantM := scope.Classes[0].Virtuals[0]
	gotM := got.Classes[0].Virtuals[0]
	if gotM.ID != wantM.ID || gotM.Flags != wantM.Flags {
		t.Errorf("method identity changed: %v/%v -> %v/%v", wantM.ID, wantM.Flags, gotM.ID, gotM.Flags)
	}
	if !reflect.DeepEqual(gotM.Code, wantM.Code) {
		t.Errorf("code changed across the round trip:\n%+v\n%+v", wantM.Code, gotM.Code)
	}
	if got.Classes[0].Directs[0].Code != nil {
		t.Error("abstract-style method grew a body")
	}
}

func TestSaveAndLoad(t *testing.T) {
	scope := sampleScope()
	path := filepath.Join(t.TempDir(), "app.dxp")

	if err := Save(path, scope); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.MethodCount() != scope.MethodCount() {
		t.Errorf("method count = %d, want %d", got.MethodCount(), scope.MethodCount())
	}
}

func TestDecodeRejectsWrongSchema(t *testing.T) {
	p := Encode(sampleScope())
	p.Schema = SchemaVersion + 1
	if _, err := Decode(p); !errors.Is(err, ErrBadSchema) {
		t.Errorf("err = %v, want ErrBadSchema", err)
	}
}

func TestDecodeRejectsDanglingReference(t *testing.T) {
	p := Encode(sampleScope())
	p.Methods[0].Class = 999
	if _, err := Decode(p); !errors.Is(err, ErrDanglingRef) {
		t.Errorf("err = %v, want ErrDanglingRef", err)
	}
}
