package testdata

import (
	"unsafe"

	"github.com/alexhholmes/nativebind/memory"
)

type Handle = uintptr

type Size int64

// @enum
type Whence int32

// @struct
type Point struct {
	X int32
	Y int32
}

// @struct
type Node struct {
	Value int32
	_     [4]byte `native:"pad"`
	Next  *Node
	Data  *[8]int32
	Pos   Point
	Cache []byte `native:"-"`
}

// @callback
type Comparator func(a, b unsafe.Pointer) int32

// @callback
type Visitor interface {
	Name() string
	// @stub
	Visit(p *Point, label string) int32
}

// @native target=LibC
type LibC struct {
	Strlen  func(s string) Size
	Abs     func(n int32) int32                                                   `native:"abs,critical"`
	Qsort   func(arena memory.Arena, base []int32, n, size int64, cmp Comparator) `native:"qsort" args:"base:ref"`
	Getenv  func(name string) (string, error)                                     `native:"getenv,optional"`
	Lseek   func(fd int32, off int64, whence Whence) int64                        `native:"lseek"`
	Origin  func(alloc memory.Allocator) Point                                    `native:"origin"`
	Walk    func(arena memory.Arena, n *Node, v Visitor) int32                    `native:"walk_nodes"`
	Fill    func(buf memory.Segment, c int32, n Handle) Handle                    `native:"memset,heap" args:"buf:size=64"`
	IsSpace func(c int32) bool                                                    `native:"isspace,ret.bool=int32"`
}

// No annotation - should be skipped
type Ignored struct {
	Field uint32
}
