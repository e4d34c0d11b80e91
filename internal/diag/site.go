package diag

import "fmt"

// NoAddr marks a Site that does not point at a particular instruction.
const NoAddr = ^uint32(0)

// Site locates a diagnostic inside the program being transformed: a class,
// optionally a method within it, optionally a code-unit address within the
// method's instruction stream.
type Site struct {
	Class  string
	Method string
	Addr   uint32
}

// At returns a copy of the site pointing at the given code-unit address.
func (s Site) At(addr uint32) Site {
	s.Addr = addr
	return s
}

// HasAddr reports whether the site names an instruction address.
func (s Site) HasAddr() bool {
	return s.Addr != NoAddr
}

func (s Site) String() string {
	switch {
	case s.Class == "":
		return "<program>"
	case s.Method == "":
		return s.Class
	case !s.HasAddr():
		return s.Class + "->" + s.Method
	}
	return fmt.Sprintf("%s->%s@%04x", s.Class, s.Method, s.Addr)
}

// MethodSite builds a site for a whole method body.
func MethodSite(class, method string) Site {
	return Site{Class: class, Method: method, Addr: NoAddr}
}

// ClassSite builds a site for a whole class.
func ClassSite(class string) Site {
	return Site{Class: class, Addr: NoAddr}
}
