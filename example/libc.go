package example

import (
	"unsafe"

	"github.com/alexhholmes/nativebind/memory"
)

// Comparator orders two elements of a qsort array.
//
// @callback
type Comparator func(a, b unsafe.Pointer) int32

// DivResult is div_t.
//
// @struct
type DivResult struct {
	Quot int32
	Rem  int32
}

// LibC declares the libc functions the Client calls.
//
// @native target=LibC
type LibC struct {
	Strlen func(s string) int64
	Abs    func(n int32) int32                                                   `native:"abs,critical"`
	Div    func(alloc memory.Allocator, num, denom int32) DivResult              `native:"div"`
	Qsort  func(arena memory.Arena, base []int32, n, size int64, cmp Comparator) `native:"qsort" args:"base:ref"`
	Getenv func(name string) string                                              `native:"getenv,optional"`
}
