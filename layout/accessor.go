package layout

import (
	"fmt"

	"github.com/alexhholmes/nativebind/memory"
)

// Struct is a host handle over native memory holding one or more instances
// of a struct layout.
type Struct struct {
	layout *StructLayout
	seg    memory.Segment
}

// View returns a handle over seg. The segment must hold at least one
// instance.
func View(l *StructLayout, seg memory.Segment) (*Struct, error) {
	if seg.Size() < l.Size() {
		return nil, fmt.Errorf("segment of %d bytes cannot hold %s (%d bytes): %w",
			seg.Size(), l.Name, l.Size(), memory.ErrOutOfBounds)
	}
	return &Struct{layout: l, seg: seg}, nil
}

// Allocate returns a zeroed array of count instances of l.
func Allocate(a memory.Allocator, l *StructLayout, count int64) (*Struct, error) {
	if count < 1 {
		count = 1
	}
	seg, err := a.Allocate(l.Size()*count, l.Align())
	if err != nil {
		return nil, err
	}
	return &Struct{layout: l, seg: seg}, nil
}

func (s *Struct) Layout() *StructLayout   { return s.layout }
func (s *Struct) Segment() memory.Segment { return s.seg }
func (s *Struct) Address() memory.Address { return s.seg.Address() }

// Len returns how many instances fit in the segment.
func (s *Struct) Len() int64 {
	if s.layout.Size() == 0 {
		return 0
	}
	return s.seg.Size() / s.layout.Size()
}

// At returns a handle over instance index.
func (s *Struct) At(index int64) (*Struct, error) {
	seg, err := s.seg.Slice(index*s.layout.Size(), s.layout.Size())
	if err != nil {
		return nil, fmt.Errorf("%s[%d]: %w", s.layout.Name, index, err)
	}
	return &Struct{layout: s.layout, seg: seg}, nil
}

// Get reads a scalar or address field of the first instance.
func (s *Struct) Get(field string) (any, error) { return s.GetAt(0, field) }

// Set writes a scalar or address field of the first instance.
func (s *Struct) Set(field string, v any) error { return s.SetAt(0, field, v) }

// GetAt reads field of instance index: base + index*size + offset.
func (s *Struct) GetAt(index int64, field string) (any, error) {
	m, off, err := s.locate(index, field)
	if err != nil {
		return nil, err
	}
	return Load(s.seg, off, m.Layout)
}

// SetAt writes field of instance index.
func (s *Struct) SetAt(index int64, field string, v any) error {
	m, off, err := s.locate(index, field)
	if err != nil {
		return err
	}
	return Store(s.seg, off, m.Layout, v)
}

// Elem reads element i of a sequence field, or of the sequence an address
// field points to.
func (s *Struct) Elem(field string, i int64) (any, error) {
	seg, off, elem, err := s.element(field, i)
	if err != nil {
		return nil, err
	}
	return Load(seg, off, elem)
}

// SetElem writes element i of a sequence field or its pointed-to sequence.
func (s *Struct) SetElem(field string, i int64, v any) error {
	seg, off, elem, err := s.element(field, i)
	if err != nil {
		return err
	}
	return Store(seg, off, elem, v)
}

// Field returns the sub-segment of the first instance occupied by field.
func (s *Struct) Field(field string) (memory.Segment, error) {
	m, off, err := s.locate(0, field)
	if err != nil {
		return memory.Segment{}, err
	}
	return s.seg.Slice(off, m.Layout.Size())
}

func (s *Struct) locate(index int64, field string) (Member, int64, error) {
	m, ok := s.layout.Member(field)
	if !ok {
		return Member{}, 0, fmt.Errorf("struct %s has no field %q", s.layout.Name, field)
	}
	if index < 0 || index >= s.Len() {
		return Member{}, 0, fmt.Errorf("%s[%d] of %d: %w", s.layout.Name, index, s.Len(), memory.ErrOutOfBounds)
	}
	return m, index*s.layout.Size() + m.Offset, nil
}

func (s *Struct) element(field string, i int64) (memory.Segment, int64, Layout, error) {
	m, off, err := s.locate(0, field)
	if err != nil {
		return memory.Segment{}, 0, nil, err
	}

	switch l := m.Layout.(type) {
	case SequenceLayout:
		if i < 0 || i >= l.Count {
			return memory.Segment{}, 0, nil, fmt.Errorf("%s.%s[%d] of %d: %w",
				s.layout.Name, field, i, l.Count, memory.ErrOutOfBounds)
		}
		return s.seg, off + i*l.Elem.Size(), l.Elem, nil

	case AddressLayout:
		seq, ok := l.Target.(SequenceLayout)
		if !ok {
			return memory.Segment{}, 0, nil, fmt.Errorf("%s.%s does not point to a sequence", s.layout.Name, field)
		}
		if i < 0 || i >= seq.Count {
			return memory.Segment{}, 0, nil, fmt.Errorf("%s.%s[%d] of %d: %w",
				s.layout.Name, field, i, seq.Count, memory.ErrOutOfBounds)
		}
		p, err := s.seg.GetAddress(off)
		if err != nil {
			return memory.Segment{}, 0, nil, err
		}
		target := memory.NewSegment(p, seq.Size())
		return target, i * seq.Elem.Size(), seq.Elem, nil
	}
	return memory.Segment{}, 0, nil, fmt.Errorf("%s.%s is not an array field", s.layout.Name, field)
}

// Load reads a value of layout l at off. Scalars come back as their carrier
// type, addresses as memory.Address and nested structs as *Struct.
func Load(seg memory.Segment, off int64, l Layout) (any, error) {
	switch t := l.(type) {
	case ValueLayout:
		switch t.carrier {
		case CarrierInt8:
			return seg.GetInt8(off)
		case CarrierInt16:
			return seg.GetInt16(off)
		case CarrierInt32:
			return seg.GetInt32(off)
		case CarrierInt64:
			return seg.GetInt64(off)
		case CarrierFloat32:
			return seg.GetFloat32(off)
		case CarrierFloat64:
			return seg.GetFloat64(off)
		}
	case AddressLayout:
		return seg.GetAddress(off)
	case *StructLayout:
		sub, err := seg.Slice(off, t.Size())
		if err != nil {
			return nil, err
		}
		return &Struct{layout: t, seg: sub}, nil
	case SequenceLayout:
		return seg.Slice(off, t.Size())
	}
	return nil, &UnsupportedTypeError{Type: l.String(), Reason: "not loadable"}
}

// Store writes v as a value of layout l at off.
func Store(seg memory.Segment, off int64, l Layout, v any) error {
	switch t := l.(type) {
	case ValueLayout:
		switch t.carrier {
		case CarrierInt8:
			n, err := ToInt64(v)
			if err != nil {
				return err
			}
			return seg.SetInt8(off, int8(n))
		case CarrierInt16:
			n, err := ToInt64(v)
			if err != nil {
				return err
			}
			return seg.SetInt16(off, int16(n))
		case CarrierInt32:
			n, err := ToInt64(v)
			if err != nil {
				return err
			}
			return seg.SetInt32(off, int32(n))
		case CarrierInt64:
			n, err := ToInt64(v)
			if err != nil {
				return err
			}
			return seg.SetInt64(off, n)
		case CarrierFloat32:
			f, err := ToFloat64(v)
			if err != nil {
				return err
			}
			return seg.SetFloat32(off, float32(f))
		case CarrierFloat64:
			f, err := ToFloat64(v)
			if err != nil {
				return err
			}
			return seg.SetFloat64(off, f)
		}
	case AddressLayout:
		a, err := ToAddress(v)
		if err != nil {
			return err
		}
		return seg.SetAddress(off, a)
	case *StructLayout:
		src, ok := v.(*Struct)
		if !ok {
			return fmt.Errorf("store %T into struct %s", v, t.Name)
		}
		dst, err := seg.Slice(off, t.Size())
		if err != nil {
			return err
		}
		copy(dst.Bytes(), src.seg.Bytes()[:t.Size()])
		return nil
	}
	return &UnsupportedTypeError{Type: l.String(), Reason: "not storable"}
}

// ToInt64 converts Go integers and booleans to int64.
func ToInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int8:
		return int64(n), nil
	case int16:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case uint:
		return int64(n), nil
	case uint8:
		return int64(n), nil
	case uint16:
		return int64(n), nil
	case uint32:
		return int64(n), nil
	case uint64:
		return int64(n), nil
	case uintptr:
		return int64(n), nil
	case bool:
		if n {
			return 1, nil
		}
		return 0, nil
	}
	return 0, fmt.Errorf("cannot use %T as an integer", v)
}

// ToFloat64 converts Go floats and integers to float64.
func ToFloat64(v any) (float64, error) {
	switch f := v.(type) {
	case float32:
		return float64(f), nil
	case float64:
		return f, nil
	}
	n, err := ToInt64(v)
	if err != nil {
		return 0, fmt.Errorf("cannot use %T as a float", v)
	}
	return float64(n), nil
}

// ToAddress converts pointers-like host values to an address.
func ToAddress(v any) (memory.Address, error) {
	switch a := v.(type) {
	case nil:
		return memory.Null, nil
	case memory.Address:
		return a, nil
	case uintptr:
		return memory.Address(a), nil
	case memory.Segment:
		return a.Address(), nil
	case *Struct:
		if a == nil {
			return memory.Null, nil
		}
		return a.Address(), nil
	}
	return memory.Null, fmt.Errorf("cannot use %T as an address", v)
}
