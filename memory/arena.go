package memory

import (
	"errors"
	"fmt"
	"sync"
)

// ErrClosed is returned when allocating from a closed arena.
var ErrClosed = errors.New("arena is closed")

// Allocator hands out zeroed native memory.
type Allocator interface {
	Allocate(size, align int64) (Segment, error)
}

// Arena is an allocator whose lifetime bounds everything allocated from it,
// including native callback stubs registered through OnClose.
type Arena interface {
	Allocator
	OnClose(fn func())
	Close() error
}

// HeapArena is an Arena backed by Go heap blocks it keeps reachable until
// Close. Heap objects do not move, so addresses stay valid. It is safe for
// concurrent use.
type HeapArena struct {
	mu      sync.Mutex
	blocks  [][]byte
	onClose []func()
	closed  bool
}

// NewArena returns an open heap arena.
func NewArena() *HeapArena {
	return &HeapArena{}
}

// Allocate returns a zeroed segment of size bytes aligned to align.
func (a *HeapArena) Allocate(size, align int64) (Segment, error) {
	if size < 0 {
		return Segment{}, fmt.Errorf("negative allocation size %d", size)
	}
	if align <= 0 {
		align = 1
	}
	if align&(align-1) != 0 {
		return Segment{}, fmt.Errorf("alignment must be a power of 2, got: %d", align)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return Segment{}, ErrClosed
	}

	// Zero-size requests still get a distinct, non-null address.
	n := size
	if n == 0 {
		n = 1
	}
	buf := make([]byte, n+align-1)
	a.blocks = append(a.blocks, buf)

	seg := FromBytes(buf)
	pad := alignUp(int64(seg.addr), align) - int64(seg.addr)
	return Segment{addr: seg.addr + Address(pad), size: size}, nil
}

// OnClose registers fn to run when the arena closes. Hooks run in reverse
// registration order. Registering on a closed arena runs fn immediately.
func (a *HeapArena) OnClose(fn func()) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		fn()
		return
	}
	a.onClose = append(a.onClose, fn)
	a.mu.Unlock()
}

// Close releases every allocation. Segments obtained from the arena must not
// be used afterwards.
func (a *HeapArena) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return ErrClosed
	}
	a.closed = true
	hooks := a.onClose
	a.onClose = nil
	a.mu.Unlock()

	for i := len(hooks) - 1; i >= 0; i-- {
		hooks[i]()
	}

	a.mu.Lock()
	a.blocks = nil
	a.mu.Unlock()
	return nil
}

// Closed reports whether Close has been called.
func (a *HeapArena) Closed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed
}

func alignUp(n, align int64) int64 {
	return (n + align - 1) &^ (align - 1)
}
