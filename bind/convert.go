package bind

import (
	"fmt"
	"reflect"
	"unsafe"

	"github.com/alexhholmes/nativebind/layout"
	"github.com/alexhholmes/nativebind/linker"
	"github.com/alexhholmes/nativebind/memory"
)

// toScalar converts a host value of a scalar kind to the carrier of l.
func toScalar(v value, l layout.Layout, x any) (any, error) {
	c := layout.CarrierOf(l)
	switch v.Kind {
	case Bool:
		b, ok := x.(bool)
		if !ok {
			return nil, fmt.Errorf("want bool, got %T", x)
		}
		var n int64
		if b {
			n = 1
		}
		return linker.Coerce(c, n)
	case Char, Int8, Int16, Int32, Int64:
		if _, ok := x.(bool); ok {
			return nil, fmt.Errorf("want integer, got bool")
		}
		n, err := layout.ToInt64(x)
		if err != nil {
			return nil, err
		}
		return linker.Coerce(c, n)
	case Float32, Float64:
		f, err := layout.ToFloat64(x)
		if err != nil {
			return nil, err
		}
		return linker.Coerce(c, f)
	case Enum:
		if e, ok := x.(NativeEnum); ok {
			return linker.Coerce(c, e.Value())
		}
		n, err := layout.ToInt64(x)
		if err != nil {
			return nil, fmt.Errorf("want %s or integer, got %T", v.typeName(), x)
		}
		return linker.Coerce(c, n)
	case Address:
		a, err := hostAddress(x)
		if err != nil {
			return nil, err
		}
		return a, nil
	}
	return nil, fmt.Errorf("%s is not a scalar kind", v.Kind)
}

func hostAddress(x any) (memory.Address, error) {
	if p, ok := x.(unsafe.Pointer); ok {
		return memory.Address(uintptr(p)), nil
	}
	return layout.ToAddress(x)
}

// fromNative converts a raw native value into its host representation.
// Null strings, structs and callbacks become nil.
func fromNative(v value, raw any, cs memory.Charset) (any, error) {
	switch v.Kind {
	case Void:
		return nil, nil
	case Bool:
		n, err := layout.ToInt64(raw)
		if err != nil {
			return nil, err
		}
		return n != 0, nil
	case Char:
		n, err := layout.ToInt64(raw)
		if err != nil {
			return nil, err
		}
		return byte(n), nil
	case Int8, Int16, Int32, Int64:
		l, _ := layout.Of(v.Kind.layoutKind())
		return linker.Coerce(layout.CarrierOf(l), raw)
	case Float32, Float64:
		l, _ := layout.Of(v.Kind.layoutKind())
		return linker.Coerce(layout.CarrierOf(l), raw)
	case Enum:
		if v.Enum == nil || v.Enum.Wrap == nil {
			return nil, &WrapperNotFoundError{Type: v.typeName()}
		}
		n, err := layout.ToInt64(raw)
		if err != nil {
			return nil, err
		}
		return v.Enum.Wrap(n)
	case StructValue:
		seg, ok := raw.(memory.Segment)
		if !ok {
			return nil, fmt.Errorf("struct %s returned as %T", v.typeName(), raw)
		}
		return layout.View(v.Struct, seg)
	}

	addr, err := layout.ToAddress(raw)
	if err != nil {
		return nil, err
	}

	switch v.Kind {
	case Address:
		return addr, nil
	case Segment:
		size := v.Size
		if size < 0 {
			size = 0
		}
		return memory.NewSegment(addr, size), nil
	}

	if addr == memory.Null {
		return nil, nil
	}

	switch v.Kind {
	case String:
		if v.sized() {
			return memory.ReadStringIn(memory.NewSegment(addr, v.Size), cs)
		}
		return memory.ReadString(addr, cs)
	case StructRef:
		n := v.Size
		if n <= 0 {
			n = 1
		}
		return layout.View(v.Struct, memory.NewSegment(addr, n*v.Struct.Size()))
	case Callback:
		if v.Upcall == nil {
			return addr, nil
		}
		return v.Upcall.Wrap(addr)
	case Array:
		el, err := elemLayout(v)
		if err != nil {
			return nil, err
		}
		return readArray(v, el, memory.NewSegment(addr, v.Size*el.Size()), int(v.Size), cs)
	}
	return nil, fmt.Errorf("cannot convert %s from native", v.Kind)
}

// primitiveSlice returns the raw bytes backing a host slice whose element
// type matches elem.
func primitiveSlice(elem HostKind, x any) ([]byte, bool) {
	raw := func(p unsafe.Pointer, n, size int) []byte {
		if n == 0 {
			return []byte{}
		}
		return unsafe.Slice((*byte)(p), n*size)
	}
	switch s := x.(type) {
	case []byte:
		return s, elem == Char || elem == Int8
	case []int8:
		return raw(unsafe.Pointer(unsafe.SliceData(s)), len(s), 1), elem == Char || elem == Int8
	case []int16:
		return raw(unsafe.Pointer(unsafe.SliceData(s)), len(s), 2), elem == Int16
	case []uint16:
		return raw(unsafe.Pointer(unsafe.SliceData(s)), len(s), 2), elem == Int16
	case []int32:
		return raw(unsafe.Pointer(unsafe.SliceData(s)), len(s), 4), elem == Int32
	case []uint32:
		return raw(unsafe.Pointer(unsafe.SliceData(s)), len(s), 4), elem == Int32
	case []int64:
		return raw(unsafe.Pointer(unsafe.SliceData(s)), len(s), 8), elem == Int64
	case []uint64:
		return raw(unsafe.Pointer(unsafe.SliceData(s)), len(s), 8), elem == Int64
	case []float32:
		return raw(unsafe.Pointer(unsafe.SliceData(s)), len(s), 4), elem == Float32
	case []float64:
		return raw(unsafe.Pointer(unsafe.SliceData(s)), len(s), 8), elem == Float64
	case []memory.Address:
		return raw(unsafe.Pointer(unsafe.SliceData(s)), len(s), int(memory.AddressSize)), elem == Address
	case []uintptr:
		return raw(unsafe.Pointer(unsafe.SliceData(s)), len(s), int(memory.AddressSize)), elem == Address
	}
	return nil, false
}

// newArray returns an empty host slice of n elements of kind elem.
func newArray(elem HostKind, n int) (any, bool) {
	switch elem {
	case Bool:
		return make([]bool, n), true
	case Char:
		return make([]byte, n), true
	case Int8:
		return make([]int8, n), true
	case Int16:
		return make([]int16, n), true
	case Int32:
		return make([]int32, n), true
	case Int64:
		return make([]int64, n), true
	case Float32:
		return make([]float32, n), true
	case Float64:
		return make([]float64, n), true
	case Address:
		return make([]memory.Address, n), true
	case String:
		return make([]string, n), true
	}
	return nil, false
}

// readArray decodes n elements at seg into a new host slice.
func readArray(v value, el layout.Layout, seg memory.Segment, n int, cs memory.Charset) (any, error) {
	out, ok := newArray(v.Elem, n)
	if !ok {
		return nil, &layout.UnsupportedTypeError{Type: "[]" + v.Elem.String()}
	}
	if err := copyBack(v, el, seg, out, cs); err != nil {
		return nil, err
	}
	return out, nil
}

// copyBack updates the host slice dst in place from native memory.
func copyBack(v value, el layout.Layout, seg memory.Segment, dst any, cs memory.Charset) error {
	switch s := dst.(type) {
	case []bool:
		for i := range s {
			raw, err := layout.Load(seg, int64(i)*el.Size(), el)
			if err != nil {
				return err
			}
			n, _ := layout.ToInt64(raw)
			s[i] = n != 0
		}
		return nil
	case []string:
		for i := range s {
			p, err := seg.GetAddress(int64(i) * memory.AddressSize)
			if err != nil {
				return err
			}
			if p == memory.Null {
				s[i] = ""
				continue
			}
			if s[i], err = memory.ReadString(p, cs); err != nil {
				return err
			}
		}
		return nil
	}

	b, ok := primitiveSlice(v.Elem, dst)
	if !ok {
		return fmt.Errorf("cannot copy %s into %T", v.typeName(), dst)
	}
	src := seg.Bytes()
	if len(src) > len(b) {
		src = src[:len(b)]
	}
	copy(b, src)
	return nil
}

// hostLen returns the element count of a host array or the byte size of a
// segment, or -1 when x has no length.
func hostLen(x any) int64 {
	switch s := x.(type) {
	case nil:
		return -1
	case memory.Segment:
		return s.Size()
	}
	rv := reflect.ValueOf(x)
	if rv.Kind() == reflect.Slice {
		return int64(rv.Len())
	}
	return -1
}

// isNil reports whether x is nil or a nil pointer, slice or func.
func isNil(x any) bool {
	if x == nil {
		return true
	}
	rv := reflect.ValueOf(x)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Slice, reflect.Func, reflect.Map, reflect.Interface:
		return rv.IsNil()
	}
	return false
}
