// Package bind composes native bindings: it turns signatures into function
// descriptors, resolves and caches trampolines, and runs the per-call
// marshal/unmarshal pipeline around them.
package bind

import (
	"fmt"
	"strings"

	"github.com/alexhholmes/nativebind/layout"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("nativebind.bind")

// HostKind is the Go-side kind of a parameter or return value.
type HostKind int

const (
	Void HostKind = iota
	Bool
	Char
	Int8
	Int16
	Int32
	Int64
	Float32
	Float64
	Address     // memory.Address, uintptr, memory.Segment or *layout.Struct
	String      // string, or *string when Ref
	Array       // slice of Elem
	Segment     // memory.Segment
	StructRef   // *layout.Struct passed as a pointer
	StructValue // *layout.Struct copied by value
	Callback    // HostFunc, *Delegate or memory.Address
	Enum        // NativeEnum or integer
	Allocator   // memory.Allocator, first parameter only
	Arena       // memory.Arena, first parameter only
)

var kindNames = map[HostKind]string{
	Void:        "void",
	Bool:        "bool",
	Char:        "char",
	Int8:        "int8",
	Int16:       "int16",
	Int32:       "int32",
	Int64:       "int64",
	Float32:     "float32",
	Float64:     "float64",
	Address:     "address",
	String:      "string",
	Array:       "array",
	Segment:     "segment",
	StructRef:   "struct*",
	StructValue: "struct",
	Callback:    "callback",
	Enum:        "enum",
	Allocator:   "allocator",
	Arena:       "arena",
}

func (k HostKind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseHostKind returns the kind named s.
func ParseHostKind(s string) (HostKind, bool) {
	for k, name := range kindNames {
		if name == s {
			return k, true
		}
	}
	return Void, false
}

// primitive reports whether values of k map directly onto one native scalar.
func (k HostKind) primitive() bool {
	return k >= Bool && k <= Float64
}

// layoutKind maps a primitive host kind onto the layout table.
func (k HostKind) layoutKind() layout.Kind {
	switch k {
	case Bool:
		return layout.Bool
	case Char:
		return layout.Char
	case Int8:
		return layout.Int8
	case Int16:
		return layout.Int16
	case Int32:
		return layout.Int32
	case Int64:
		return layout.Int64
	case Float32:
		return layout.Float32
	case Float64:
		return layout.Float64
	case Address, String, Segment, Callback:
		return layout.Address
	case StructRef:
		return layout.StructRef
	case StructValue:
		return layout.StructValue
	}
	return layout.Void
}

// Unbounded marks an array or segment with no declared size.
const Unbounded = -1

// Param describes one declared parameter.
type Param struct {
	Name        string
	Kind        HostKind
	Elem        HostKind // element kind of an Array
	Ref         bool     // copy native changes back after the call
	NullableRef bool     // nil is passed as NULL
	Size        int64    // fixed element count (bytes for segments and ref strings); <= 0 is unbounded
	Charset     string   // overrides the binding charset
	ByValue     bool     // segment contents are copied rather than referenced
	BoolAs      layout.Kind
	Struct      *layout.StructLayout
	Upcall      *UpcallType
	Enum        *EnumType
}

// Return describes a declared return value.
type Return struct {
	Kind    HostKind
	Elem    HostKind
	Size    int64
	Charset string
	BoolAs  layout.Kind
	Struct  *layout.StructLayout
	Upcall  *UpcallType
	Enum    *EnumType
}

// Flags are per-signature switches.
type Flags struct {
	ByValue                 bool // the struct return is copied into the caller's memory
	Critical                bool
	CriticalAllowHeapAccess bool
	Defaulted               bool // the method has a host fallback
}

// Fallback is the host implementation used when a symbol is missing.
type Fallback func(args ...any) (any, error)

// Signature is one bound method.
type Signature struct {
	Name       string
	Entrypoint string // defaults to Name
	Owner      string // declaring binding, matched by WithTarget
	Params     []Param
	Return     Return
	Flags      Flags
	Fallback   Fallback
}

// EntrypointName returns the symbol the signature binds to.
func (s Signature) EntrypointName() string {
	if s.Entrypoint != "" {
		return s.Entrypoint
	}
	return s.Name
}

// QualifiedName returns Owner.Name, or Name when there is no owner.
func (s Signature) QualifiedName() string {
	if s.Owner == "" {
		return s.Name
	}
	return s.Owner + "." + s.Name
}

// returnsByValue reports whether the return is a struct copied into
// caller-provided memory.
func (s Signature) returnsByValue() bool {
	switch s.Return.Kind {
	case StructValue:
		return true
	case StructRef:
		return s.Flags.ByValue
	}
	return false
}

func (s Signature) String() string {
	var b strings.Builder
	b.WriteString(s.QualifiedName())
	b.WriteByte('(')
	for i, p := range s.Params {
		if i > 0 {
			b.WriteString(", ")
		}
		if p.Name != "" {
			b.WriteString(p.Name + " ")
		}
		if p.Ref {
			b.WriteString("ref ")
		}
		b.WriteString(p.typeName())
	}
	b.WriteByte(')')
	if s.Return.Kind != Void {
		b.WriteString(" " + s.Return.spec().typeName())
	}
	return b.String()
}

// value is the part of Param and Return that drives layout and conversion.
type value struct {
	Kind    HostKind
	Elem    HostKind
	Size    int64
	Charset string
	ByValue bool
	BoolAs  layout.Kind
	Struct  *layout.StructLayout
	Upcall  *UpcallType
	Enum    *EnumType
}

func (p Param) spec() value {
	return value{
		Kind: p.Kind, Elem: p.Elem, Size: p.Size, Charset: p.Charset, ByValue: p.ByValue,
		BoolAs: p.BoolAs, Struct: p.Struct, Upcall: p.Upcall, Enum: p.Enum,
	}
}

func (r Return) spec() value {
	return value{
		Kind: r.Kind, Elem: r.Elem, Size: r.Size, Charset: r.Charset,
		BoolAs: r.BoolAs, Struct: r.Struct, Upcall: r.Upcall, Enum: r.Enum,
	}
}

func (p Param) typeName() string { return p.spec().typeName() }

func (v value) sized() bool { return v.Size > 0 }

func (v value) typeName() string {
	switch v.Kind {
	case Array:
		if v.sized() {
			return fmt.Sprintf("[%d]%s", v.Size, v.Elem)
		}
		return "[]" + v.Elem.String()
	case StructRef:
		if v.Struct != nil {
			return "*" + v.Struct.Name
		}
	case StructValue:
		if v.Struct != nil {
			return v.Struct.Name
		}
	case Callback:
		if v.Upcall != nil {
			return v.Upcall.Name
		}
	case Enum:
		if v.Enum != nil {
			return v.Enum.Name
		}
	}
	return v.Kind.String()
}
