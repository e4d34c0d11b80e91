package dex

// AccessFlags carries the subset of method/class access bits the engine
// cares about.
type AccessFlags uint32

const (
	AccPublic      AccessFlags = 0x0001
	AccPrivate     AccessFlags = 0x0002
	AccStatic      AccessFlags = 0x0008
	AccFinal       AccessFlags = 0x0010
	AccConstructor AccessFlags = 0x10000
)

// Method is one method definition. Code is nil for abstract/native methods.
type Method struct {
	ID    MethodID
	Flags AccessFlags
	Code  *Code
}

// Class is one class definition with its fields and methods. Directs hold
// constructors, private and static methods; Virtuals everything else.
type Class struct {
	Type     TypeID
	Super    TypeID
	Flags    AccessFlags
	IFields  []FieldID
	SFields  []FieldID
	Directs  []*Method
	Virtuals []*Method
}

// Methods returns all of the class's methods, directs first.
func (c *Class) Methods() []*Method {
	out := make([]*Method, 0, len(c.Directs)+len(c.Virtuals))
	out = append(out, c.Directs...)
	out = append(out, c.Virtuals...)
	return out
}

// FindVirtual returns the virtual method with the given name, or nil.
func (c *Class) FindVirtual(pool *Pool, name string) *Method {
	for _, m := range c.Virtuals {
		if pool.MethodName(m.ID) == name {
			return m
		}
	}
	return nil
}

// Scope is a whole program: a symbol pool plus an ordered class list.
// Passes receive a scope and may edit any method body in it.
type Scope struct {
	Pool    *Pool
	Classes []*Class
}

// NewScope returns an empty scope with a fresh pool.
func NewScope() *Scope {
	return &Scope{Pool: NewPool()}
}

// ClassOf returns the class defining the given type, or nil for external types.
func (s *Scope) ClassOf(t TypeID) *Class {
	for _, c := range s.Classes {
		if c.Type == t {
			return c
		}
	}
	return nil
}

// EachMethod calls fn for every method in class-list order, directs before
// virtuals within a class.
func (s *Scope) EachMethod(fn func(*Class, *Method)) {
	for _, c := range s.Classes {
		for _, m := range c.Directs {
			fn(c, m)
		}
		for _, m := range c.Virtuals {
			fn(c, m)
		}
	}
}

// MethodCount returns the number of methods in the scope.
func (s *Scope) MethodCount() int {
	n := 0
	for _, c := range s.Classes {
		n += len(c.Directs) + len(c.Virtuals)
	}
	return n
}
