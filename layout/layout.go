// Package layout describes native memory layouts: scalar values, pointers,
// sequences, padding and structs, plus the function descriptors built from
// them.
package layout

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/alexhholmes/nativebind/memory"
)

// Layout is the shape of a native value.
type Layout interface {
	Size() int64
	Align() int64
	// String is canonical: two layouts are equal iff their strings are.
	String() string
}

// Carrier is the Go type used for a native value at the linker boundary.
type Carrier int

const (
	CarrierNone    Carrier = iota
	CarrierInt8            // int8
	CarrierInt16           // int16
	CarrierInt32           // int32
	CarrierInt64           // int64
	CarrierFloat32         // float32
	CarrierFloat64         // float64
	CarrierAddress         // memory.Address
	CarrierSegment         // memory.Segment, for structs passed by value
)

func (c Carrier) String() string {
	switch c {
	case CarrierInt8:
		return "int8"
	case CarrierInt16:
		return "int16"
	case CarrierInt32:
		return "int32"
	case CarrierInt64:
		return "int64"
	case CarrierFloat32:
		return "float32"
	case CarrierFloat64:
		return "float64"
	case CarrierAddress:
		return "address"
	case CarrierSegment:
		return "segment"
	default:
		return "none"
	}
}

// ValueLayout is a scalar native value.
type ValueLayout struct {
	name    string
	carrier Carrier
	size    int64
	order   binary.ByteOrder
}

func newValue(name string, c Carrier, size int64) ValueLayout {
	return ValueLayout{name: name, carrier: c, size: size, order: memory.Order}
}

func (v ValueLayout) Size() int64             { return v.size }
func (v ValueLayout) Align() int64            { return v.size }
func (v ValueLayout) Carrier() Carrier        { return v.carrier }
func (v ValueLayout) Order() binary.ByteOrder { return v.order }
func (v ValueLayout) Name() string            { return v.name }

// WithName returns v renamed to n.
func (v ValueLayout) WithName(n string) ValueLayout {
	v.name = n
	return v
}

// WithOrder returns v with a different byte order.
func (v ValueLayout) WithOrder(o binary.ByteOrder) ValueLayout {
	v.order = o
	return v
}

func (v ValueLayout) String() string {
	s := v.name
	if v.order != memory.Order && v.size > 1 {
		if v.order == binary.BigEndian {
			s += "be"
		} else {
			s += "le"
		}
	}
	return s
}

// AddressLayout is a native pointer, optionally annotated with the layout of
// the memory it points to.
type AddressLayout struct {
	Target Layout
}

func (a AddressLayout) Size() int64      { return memory.AddressSize }
func (a AddressLayout) Align() int64     { return memory.AddressSize }
func (a AddressLayout) Carrier() Carrier { return CarrierAddress }

// WithTarget returns a pointer to t.
func (a AddressLayout) WithTarget(t Layout) AddressLayout {
	return AddressLayout{Target: t}
}

func (a AddressLayout) String() string {
	s := fmt.Sprintf("a%d", memory.AddressSize)
	switch t := a.Target.(type) {
	case nil:
	case *StructLayout:
		// Structs are named rather than expanded so self-referential
		// pointers terminate.
		s += fmt.Sprintf(":%s<%d>", t.Name, t.Size())
	default:
		s += ":" + t.String()
	}
	return s
}

// SequenceLayout is Count consecutive elements.
type SequenceLayout struct {
	Count int64
	Elem  Layout
}

// Sequence returns a sequence of count elem values.
func Sequence(count int64, elem Layout) SequenceLayout {
	return SequenceLayout{Count: count, Elem: elem}
}

func (s SequenceLayout) Size() int64  { return s.Count * s.Elem.Size() }
func (s SequenceLayout) Align() int64 { return s.Elem.Align() }

func (s SequenceLayout) String() string {
	return fmt.Sprintf("[%d:%s]", s.Count, s.Elem)
}

// PaddingLayout is unused space with byte alignment.
type PaddingLayout struct {
	size int64
}

// Padding returns n bytes of padding.
func Padding(n int64) PaddingLayout { return PaddingLayout{size: n} }

func (p PaddingLayout) Size() int64    { return p.size }
func (p PaddingLayout) Align() int64   { return 1 }
func (p PaddingLayout) String() string { return fmt.Sprintf("x%d", p.size) }

// Equal reports whether two layouts describe the same native shape.
// Nil layouts (void) are equal to each other only.
func Equal(a, b Layout) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Size() == b.Size() && a.Align() == b.Align() && a.String() == b.String()
}

// CarrierOf returns the linker carrier for values of l.
func CarrierOf(l Layout) Carrier {
	switch t := l.(type) {
	case ValueLayout:
		return t.carrier
	case AddressLayout:
		return CarrierAddress
	case *StructLayout:
		return CarrierSegment
	default:
		return CarrierNone
	}
}

// FunctionDescriptor is the ordered native signature of a call.
type FunctionDescriptor struct {
	Return Layout // nil for void
	Args   []Layout
}

// NewFunction returns a descriptor with the given return and argument layouts.
func NewFunction(ret Layout, args ...Layout) FunctionDescriptor {
	return FunctionDescriptor{Return: ret, Args: args}
}

func (d FunctionDescriptor) String() string {
	var b strings.Builder
	b.WriteByte('(')
	for i, a := range d.Args {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(a.String())
	}
	b.WriteByte(')')
	if d.Return == nil {
		b.WriteByte('v')
	} else {
		b.WriteString(d.Return.String())
	}
	return b.String()
}

// Equal reports value equality of two descriptors.
func (d FunctionDescriptor) Equal(o FunctionDescriptor) bool {
	if len(d.Args) != len(o.Args) || !Equal(d.Return, o.Return) {
		return false
	}
	for i := range d.Args {
		if !Equal(d.Args[i], o.Args[i]) {
			return false
		}
	}
	return true
}
