// Package memory provides raw native memory segments, allocators and the
// scoped stack used to hold per-call transient buffers.
package memory

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"unsafe"
)

// Address is a raw native address.
type Address uintptr

// Null is the native null pointer.
const Null Address = 0

// AddressSize is the byte size of a native pointer.
const AddressSize = int64(unsafe.Sizeof(uintptr(0)))

// ErrOutOfBounds is returned for any access outside a segment.
var ErrOutOfBounds = errors.New("out of bounds")

// Order is the byte order of native memory.
var Order binary.ByteOrder = binary.NativeEndian

// Segment is a view over native memory [addr, addr+size).
// The zero value is the null segment.
type Segment struct {
	addr Address
	size int64
}

// NewSegment returns a segment over size bytes at addr.
func NewSegment(addr Address, size int64) Segment {
	if size < 0 {
		size = 0
	}
	return Segment{addr: addr, size: size}
}

// FromBytes returns a segment over the backing array of b.
// The caller keeps b reachable for as long as the segment is used.
func FromBytes(b []byte) Segment {
	if len(b) == 0 {
		return Segment{}
	}
	return Segment{addr: Address(unsafe.Pointer(&b[0])), size: int64(len(b))}
}

func (s Segment) Address() Address { return s.addr }
func (s Segment) Size() int64      { return s.size }
func (s Segment) IsNull() bool     { return s.addr == Null }

func (s Segment) String() string {
	return fmt.Sprintf("segment{0x%x, %d}", uintptr(s.addr), s.size)
}

// Reinterpret returns a segment at the same address with a new size.
func (s Segment) Reinterpret(size int64) Segment {
	return NewSegment(s.addr, size)
}

// Slice returns the sub-segment [off, off+n).
func (s Segment) Slice(off, n int64) (Segment, error) {
	if err := s.check(off, n); err != nil {
		return Segment{}, err
	}
	return Segment{addr: s.addr + Address(off), size: n}, nil
}

// Bytes returns the segment contents as a byte slice aliasing native memory.
func (s Segment) Bytes() []byte {
	if s.addr == Null || s.size == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(uintptr(s.addr))), s.size)
}

// CopyFrom copies src into the start of the segment.
func (s Segment) CopyFrom(src []byte) error {
	if err := s.check(0, int64(len(src))); err != nil {
		return err
	}
	copy(s.Bytes(), src)
	return nil
}

// Fill sets every byte of the segment to b.
func (s Segment) Fill(b byte) {
	buf := s.Bytes()
	for i := range buf {
		buf[i] = b
	}
}

func (s Segment) check(off, n int64) error {
	if s.addr == Null {
		return fmt.Errorf("access [%d, %d) of null segment: %w", off, off+n, ErrOutOfBounds)
	}
	if off < 0 || n < 0 || off+n > s.size {
		return fmt.Errorf("access [%d, %d) of %d-byte segment: %w", off, off+n, s.size, ErrOutOfBounds)
	}
	return nil
}

func (s Segment) window(off, n int64) ([]byte, error) {
	if err := s.check(off, n); err != nil {
		return nil, err
	}
	return s.Bytes()[off : off+n], nil
}

func (s Segment) GetInt8(off int64) (int8, error) {
	b, err := s.window(off, 1)
	if err != nil {
		return 0, err
	}
	return int8(b[0]), nil
}

func (s Segment) SetInt8(off int64, v int8) error {
	b, err := s.window(off, 1)
	if err != nil {
		return err
	}
	b[0] = byte(v)
	return nil
}

func (s Segment) GetInt16(off int64) (int16, error) {
	b, err := s.window(off, 2)
	if err != nil {
		return 0, err
	}
	return int16(Order.Uint16(b)), nil
}

func (s Segment) SetInt16(off int64, v int16) error {
	b, err := s.window(off, 2)
	if err != nil {
		return err
	}
	Order.PutUint16(b, uint16(v))
	return nil
}

func (s Segment) GetInt32(off int64) (int32, error) {
	b, err := s.window(off, 4)
	if err != nil {
		return 0, err
	}
	return int32(Order.Uint32(b)), nil
}

func (s Segment) SetInt32(off int64, v int32) error {
	b, err := s.window(off, 4)
	if err != nil {
		return err
	}
	Order.PutUint32(b, uint32(v))
	return nil
}

func (s Segment) GetInt64(off int64) (int64, error) {
	b, err := s.window(off, 8)
	if err != nil {
		return 0, err
	}
	return int64(Order.Uint64(b)), nil
}

func (s Segment) SetInt64(off int64, v int64) error {
	b, err := s.window(off, 8)
	if err != nil {
		return err
	}
	Order.PutUint64(b, uint64(v))
	return nil
}

func (s Segment) GetFloat32(off int64) (float32, error) {
	v, err := s.GetInt32(off)
	return math.Float32frombits(uint32(v)), err
}

func (s Segment) SetFloat32(off int64, v float32) error {
	return s.SetInt32(off, int32(math.Float32bits(v)))
}

func (s Segment) GetFloat64(off int64) (float64, error) {
	v, err := s.GetInt64(off)
	return math.Float64frombits(uint64(v)), err
}

func (s Segment) SetFloat64(off int64, v float64) error {
	return s.SetInt64(off, int64(math.Float64bits(v)))
}

func (s Segment) GetAddress(off int64) (Address, error) {
	if AddressSize == 4 {
		v, err := s.GetInt32(off)
		return Address(uint32(v)), err
	}
	v, err := s.GetInt64(off)
	return Address(uint64(v)), err
}

func (s Segment) SetAddress(off int64, v Address) error {
	if AddressSize == 4 {
		return s.SetInt32(off, int32(uint32(v)))
	}
	return s.SetInt64(off, int64(uint64(v)))
}
