// Package dexpack reads and writes the .dxp container: a msgpack snapshot
// of a whole scope (symbol pool, classes, method code). The container is
// the engine's input and output format; the pool tables are stored in
// handle order so loading reproduces the exact same IDs.
package dexpack

import (
	"errors"
	"fmt"

	"dexsmith/internal/dex"
)

// SchemaVersion is bumped whenever the payload layout changes. Loading a
// container with a different schema fails rather than misreading it.
const SchemaVersion uint16 = 1

var (
	// ErrBadSchema is returned when the container's schema version does
	// not match SchemaVersion.
	ErrBadSchema = errors.New("dexpack: unsupported schema version")
	// ErrDanglingRef is returned when a payload index points outside its
	// pool table.
	ErrDanglingRef = errors.New("dexpack: dangling pool reference")
)

// Payload is the root of a serialized container.
type Payload struct {
	Schema  uint16
	Strings []string
	Types   []uint16 // string index per type
	Protos  []ProtoPayload
	Fields  []FieldPayload
	Methods []MethodPayload
	Classes []ClassPayload
}

type ProtoPayload struct {
	Return uint16
	Params []uint16
}

type FieldPayload struct {
	Class uint16
	Type  uint16
	Name  uint16
}

type MethodPayload struct {
	Class uint16
	Name  uint16
	Proto uint16
}

type ClassPayload struct {
	Type     uint16
	Super    uint16
	Flags    uint32
	IFields  []uint16
	SFields  []uint16
	Directs  []MethodDefPayload
	Virtuals []MethodDefPayload
}

type MethodDefPayload struct {
	Ref   uint16 // index into Methods
	Flags uint32
	Code  *CodePayload // nil for abstract and native methods
}

type CodePayload struct {
	Registers uint16
	Ins       uint16
	Outs      uint16
	Units     []uint16
	Tries     []TryPayload
	Positions []PositionPayload
	Debug     []DebugPayload
}

type TryPayload struct {
	Start        uint32
	End          uint32
	CatchTypes   []uint16
	CatchAddrs   []uint32
	HasCatchAll  bool
	CatchAllAddr uint32
}

type PositionPayload struct {
	Addr uint32
	Line uint32
}

type DebugPayload struct {
	Addr uint32
	Blob []byte
}

// Encode converts a scope into its serializable payload.
func Encode(scope *dex.Scope) *Payload {
	pool := scope.Pool
	nStrings, nTypes, nProtos, nFields, nMethods := pool.Counts()

	p := &Payload{
		Schema:  SchemaVersion,
		Strings: make([]string, nStrings),
		Types:   make([]uint16, nTypes),
		Protos:  make([]ProtoPayload, nProtos),
		Fields:  make([]FieldPayload, nFields),
		Methods: make([]MethodPayload, nMethods),
		Classes: make([]ClassPayload, 0, len(scope.Classes)),
	}
	for i := range p.Strings {
		p.Strings[i] = pool.StringVal(dex.StringID(i))
	}
	for i := range p.Types {
		p.Types[i] = uint16(pool.String(pool.Descriptor(dex.TypeID(i))))
	}
	for i := range p.Protos {
		def := pool.ProtoDef(dex.ProtoID(i))
		pp := ProtoPayload{Return: uint16(def.Return)}
		for _, t := range def.Params {
			pp.Params = append(pp.Params, uint16(t))
		}
		p.Protos[i] = pp
	}
	for i := range p.Fields {
		def := pool.FieldDef(dex.FieldID(i))
		p.Fields[i] = FieldPayload{Class: uint16(def.Class), Type: uint16(def.Type), Name: uint16(def.Name)}
	}
	for i := range p.Methods {
		def := pool.MethodDef(dex.MethodID(i))
		p.Methods[i] = MethodPayload{Class: uint16(def.Class), Name: uint16(def.Name), Proto: uint16(def.Proto)}
	}

	for _, c := range scope.Classes {
		cp := ClassPayload{
			Type:  uint16(c.Type),
			Super: uint16(c.Super),
			Flags: uint32(c.Flags),
		}
		for _, f := range c.IFields {
			cp.IFields = append(cp.IFields, uint16(f))
		}
		for _, f := range c.SFields {
			cp.SFields = append(cp.SFields, uint16(f))
		}
		for _, m := range c.Directs {
			cp.Directs = append(cp.Directs, encodeMethod(m))
		}
		for _, m := range c.Virtuals {
			cp.Virtuals = append(cp.Virtuals, encodeMethod(m))
		}
		p.Classes = append(p.Classes, cp)
	}
	return p
}

func encodeMethod(m *dex.Method) MethodDefPayload {
	mp := MethodDefPayload{Ref: uint16(m.ID), Flags: uint32(m.Flags)}
	if m.Code != nil {
		mp.Code = encodeCode(m.Code)
	}
	return mp
}

func encodeCode(code *dex.Code) *CodePayload {
	cp := &CodePayload{
		Registers: code.Registers,
		Ins:       code.Ins,
		Outs:      code.Outs,
		Units:     append([]uint16(nil), code.Units...),
	}
	for _, t := range code.Tries {
		tp := TryPayload{
			Start:        t.Start,
			End:          t.End,
			HasCatchAll:  t.HasCatchAll,
			CatchAllAddr: t.CatchAllAddr,
		}
		for _, arm := range t.Catches {
			tp.CatchTypes = append(tp.CatchTypes, uint16(arm.Type))
			tp.CatchAddrs = append(tp.CatchAddrs, arm.Addr)
		}
		cp.Tries = append(cp.Tries, tp)
	}
	for _, pos := range code.Positions {
		cp.Positions = append(cp.Positions, PositionPayload{Addr: pos.Addr, Line: pos.Line})
	}
	for _, d := range code.Debug {
		cp.Debug = append(cp.Debug, DebugPayload{Addr: d.Addr, Blob: append([]byte(nil), d.Blob...)})
	}
	return cp
}

// Decode rebuilds a scope from a payload. Pool tables are re-interned in
// stored order, so every handle keeps its original value.
func Decode(p *Payload) (*dex.Scope, error) {
	if p.Schema != SchemaVersion {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrBadSchema, p.Schema, SchemaVersion)
	}
	if err := p.validate(); err != nil {
		return nil, err
	}

	scope := dex.NewScope()
	pool := scope.Pool
	for _, s := range p.Strings {
		pool.String(s)
	}
	for _, si := range p.Types {
		pool.Type(p.Strings[si])
	}
	for _, pp := range p.Protos {
		params := make([]dex.TypeID, len(pp.Params))
		for i, t := range pp.Params {
			params[i] = dex.TypeID(t)
		}
		pool.ProtoOf(dex.TypeID(pp.Return), params...)
	}
	for _, fp := range p.Fields {
		pool.Field(dex.TypeID(fp.Class), dex.TypeID(fp.Type), p.Strings[fp.Name])
	}
	for _, mp := range p.Methods {
		pool.Method(dex.TypeID(mp.Class), p.Strings[mp.Name], dex.ProtoID(mp.Proto))
	}

	for i := range p.Classes {
		cp := &p.Classes[i]
		c := &dex.Class{
			Type:  dex.TypeID(cp.Type),
			Super: dex.TypeID(cp.Super),
			Flags: dex.AccessFlags(cp.Flags),
		}
		for _, f := range cp.IFields {
			c.IFields = append(c.IFields, dex.FieldID(f))
		}
		for _, f := range cp.SFields {
			c.SFields = append(c.SFields, dex.FieldID(f))
		}
		for j := range cp.Directs {
			c.Directs = append(c.Directs, decodeMethod(&cp.Directs[j]))
		}
		for j := range cp.Virtuals {
			c.Virtuals = append(c.Virtuals, decodeMethod(&cp.Virtuals[j]))
		}
		scope.Classes = append(scope.Classes, c)
	}
	return scope, nil
}

func decodeMethod(mp *MethodDefPayload) *dex.Method {
	m := &dex.Method{ID: dex.MethodID(mp.Ref), Flags: dex.AccessFlags(mp.Flags)}
	if mp.Code != nil {
		m.Code = decodeCode(mp.Code)
	}
	return m
}

func decodeCode(cp *CodePayload) *dex.Code {
	code := &dex.Code{
		Registers: cp.Registers,
		Ins:       cp.Ins,
		Outs:      cp.Outs,
		Units:     append([]uint16(nil), cp.Units...),
	}
	for _, tp := range cp.Tries {
		t := dex.Try{
			Start:        tp.Start,
			End:          tp.End,
			HasCatchAll:  tp.HasCatchAll,
			CatchAllAddr: tp.CatchAllAddr,
		}
		for i := range tp.CatchTypes {
			t.Catches = append(t.Catches, dex.CatchArm{Type: dex.TypeID(tp.CatchTypes[i]), Addr: tp.CatchAddrs[i]})
		}
		code.Tries = append(code.Tries, t)
	}
	for _, pos := range cp.Positions {
		code.Positions = append(code.Positions, dex.Position{Addr: pos.Addr, Line: pos.Line})
	}
	for _, d := range cp.Debug {
		code.Debug = append(code.Debug, dex.DebugNote{Addr: d.Addr, Blob: append([]byte(nil), d.Blob...)})
	}
	return code
}

func (p *Payload) validate() error {
	nStrings := len(p.Strings)
	nTypes := len(p.Types)
	nProtos := len(p.Protos)
	nFields := len(p.Fields)
	nMethods := len(p.Methods)

	checkString := func(i uint16, what string) error {
		if int(i) >= nStrings {
			return fmt.Errorf("%w: %s string %d of %d", ErrDanglingRef, what, i, nStrings)
		}
		return nil
	}
	checkType := func(i uint16, what string) error {
		if int(i) >= nTypes {
			return fmt.Errorf("%w: %s type %d of %d", ErrDanglingRef, what, i, nTypes)
		}
		return nil
	}

	for _, si := range p.Types {
		if err := checkString(si, "type descriptor"); err != nil {
			return err
		}
	}
	for _, pp := range p.Protos {
		if err := checkType(pp.Return, "proto return"); err != nil {
			return err
		}
		for _, t := range pp.Params {
			if err := checkType(t, "proto param"); err != nil {
				return err
			}
		}
	}
	for _, fp := range p.Fields {
		if err := checkType(fp.Class, "field class"); err != nil {
			return err
		}
		if err := checkType(fp.Type, "field type"); err != nil {
			return err
		}
		if err := checkString(fp.Name, "field name"); err != nil {
			return err
		}
	}
	for _, mp := range p.Methods {
		if err := checkType(mp.Class, "method class"); err != nil {
			return err
		}
		if err := checkString(mp.Name, "method name"); err != nil {
			return err
		}
		if int(mp.Proto) >= nProtos {
			return fmt.Errorf("%w: method proto %d of %d", ErrDanglingRef, mp.Proto, nProtos)
		}
	}
	for i := range p.Classes {
		cp := &p.Classes[i]
		if err := checkType(cp.Type, "class"); err != nil {
			return err
		}
		for _, f := range append(append([]uint16(nil), cp.IFields...), cp.SFields...) {
			if int(f) >= nFields {
				return fmt.Errorf("%w: class field %d of %d", ErrDanglingRef, f, nFields)
			}
		}
		for _, defs := range [][]MethodDefPayload{cp.Directs, cp.Virtuals} {
			for j := range defs {
				if int(defs[j].Ref) >= nMethods {
					return fmt.Errorf("%w: class method %d of %d", ErrDanglingRef, defs[j].Ref, nMethods)
				}
				if c := defs[j].Code; c != nil {
					for _, tp := range c.Tries {
						if len(tp.CatchTypes) != len(tp.CatchAddrs) {
							return fmt.Errorf("dexpack: try with %d catch types but %d addresses", len(tp.CatchTypes), len(tp.CatchAddrs))
						}
					}
				}
			}
		}
	}
	return nil
}
