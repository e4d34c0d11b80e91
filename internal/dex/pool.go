package dex

import "fmt"

// Symbol handles. All four are indices into one Pool; instructions embed
// them as 16-bit fields, so a pool holds at most 65536 entries per table.
// Handles are opaque and identity-comparable.
type (
	StringID uint16
	TypeID   uint16
	ProtoID  uint16
	FieldID  uint16
	MethodID uint16
)

// Proto is a method signature: a return type and parameter types.
type Proto struct {
	Return TypeID
	Params []TypeID
}

// FieldDef names one field: owning class, field type, field name.
type FieldDef struct {
	Class TypeID
	Type  TypeID
	Name  StringID
}

// MethodDef names one method: owning class, name, signature.
type MethodDef struct {
	Class TypeID
	Name  StringID
	Proto ProtoID
}

// Pool interns the strings, type descriptors, prototypes, fields and
// methods a scope references. Interning makes handles identity-comparable:
// two references to the same symbol always carry the same ID.
type Pool struct {
	strings    []string
	stringIdx  map[string]StringID
	types      []StringID // descriptor string per type
	typeIdx    map[StringID]TypeID
	protos     []Proto
	fields     []FieldDef
	fieldIdx   map[FieldDef]FieldID
	methods    []MethodDef
	methodIdx  map[MethodDef]MethodID
}

// NewPool returns an empty symbol pool.
func NewPool() *Pool {
	return &Pool{
		stringIdx: make(map[string]StringID),
		typeIdx:   make(map[StringID]TypeID),
		fieldIdx:  make(map[FieldDef]FieldID),
		methodIdx: make(map[MethodDef]MethodID),
	}
}

func checkRoom(n int, what string) {
	if n >= 1<<16 {
		panic(fmt.Sprintf("dex: %s pool exhausted", what))
	}
}

// String interns s and returns its handle.
func (p *Pool) String(s string) StringID {
	if id, ok := p.stringIdx[s]; ok {
		return id
	}
	checkRoom(len(p.strings), "string")
	id := StringID(len(p.strings))
	p.strings = append(p.strings, s)
	p.stringIdx[s] = id
	return id
}

// StringVal returns the interned string for id.
func (p *Pool) StringVal(id StringID) string { return p.strings[id] }

// Type interns a type by descriptor (e.g. "Lfoo/Bar;") and returns its handle.
func (p *Pool) Type(descriptor string) TypeID {
	s := p.String(descriptor)
	if id, ok := p.typeIdx[s]; ok {
		return id
	}
	checkRoom(len(p.types), "type")
	id := TypeID(len(p.types))
	p.types = append(p.types, s)
	p.typeIdx[s] = id
	return id
}

// Descriptor returns the descriptor string for a type handle.
func (p *Pool) Descriptor(id TypeID) string { return p.strings[p.types[id]] }

// ProtoOf interns a method signature.
func (p *Pool) ProtoOf(ret TypeID, params ...TypeID) ProtoID {
	// Protos are few; a linear scan keeps the table simple.
	for i := range p.protos {
		if p.protos[i].Return == ret && equalTypes(p.protos[i].Params, params) {
			return ProtoID(i)
		}
	}
	checkRoom(len(p.protos), "proto")
	id := ProtoID(len(p.protos))
	p.protos = append(p.protos, Proto{Return: ret, Params: append([]TypeID(nil), params...)})
	return id
}

// ProtoDef returns the signature for a proto handle.
func (p *Pool) ProtoDef(id ProtoID) Proto { return p.protos[id] }

// Field interns a field reference.
func (p *Pool) Field(class TypeID, typ TypeID, name string) FieldID {
	def := FieldDef{Class: class, Type: typ, Name: p.String(name)}
	if id, ok := p.fieldIdx[def]; ok {
		return id
	}
	checkRoom(len(p.fields), "field")
	id := FieldID(len(p.fields))
	p.fields = append(p.fields, def)
	p.fieldIdx[def] = id
	return id
}

// FieldDef returns the definition for a field handle.
func (p *Pool) FieldDef(id FieldID) FieldDef { return p.fields[id] }

// Method interns a method reference.
func (p *Pool) Method(class TypeID, name string, proto ProtoID) MethodID {
	def := MethodDef{Class: class, Name: p.String(name), Proto: proto}
	if id, ok := p.methodIdx[def]; ok {
		return id
	}
	checkRoom(len(p.methods), "method")
	id := MethodID(len(p.methods))
	p.methods = append(p.methods, def)
	p.methodIdx[def] = id
	return id
}

// MethodDef returns the definition for a method handle.
func (p *Pool) MethodDef(id MethodID) MethodDef { return p.methods[id] }

// MethodName returns the name string of a method handle.
func (p *Pool) MethodName(id MethodID) string {
	return p.strings[p.methods[id].Name]
}

// FieldName returns the name string of a field handle.
func (p *Pool) FieldName(id FieldID) string {
	return p.strings[p.fields[id].Name]
}

// Counts returns the table sizes (strings, types, protos, fields, methods).
func (p *Pool) Counts() (int, int, int, int, int) {
	return len(p.strings), len(p.types), len(p.protos), len(p.fields), len(p.methods)
}

func equalTypes(a, b []TypeID) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
