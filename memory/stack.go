package memory

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// DefaultStackSize is the capacity of pooled stacks.
const DefaultStackSize = 64 << 10

// ErrStackDiscipline is returned when frames are not popped in strict
// reverse order of pushing.
var ErrStackDiscipline = errors.New("stack frames must be popped in push order")

// Stack is a strictly nested bump allocator. A Stack is owned by one call
// chain at a time and is not safe for concurrent use.
type Stack struct {
	buf    []byte
	base   Segment
	top    int64
	frames []*Frame
}

// NewStack returns a stack with size bytes of capacity.
func NewStack(size int64) *Stack {
	if size <= 0 {
		size = DefaultStackSize
	}
	s := &Stack{buf: make([]byte, size)}
	s.base = FromBytes(s.buf)
	return s
}

// Depth returns the number of live frames.
func (s *Stack) Depth() int { return len(s.frames) }

// Push opens a new frame. Everything allocated from it is released by Pop.
func (s *Stack) Push() *Frame {
	f := &Frame{stack: s, mark: s.top, depth: len(s.frames)}
	s.frames = append(s.frames, f)
	return f
}

// Frame is one push/pop scope of a Stack.
type Frame struct {
	stack    *Stack
	mark     int64
	depth    int
	overflow *HeapArena
	popped   bool
}

// Allocate bumps size bytes off the stack. Requests that do not fit go to an
// overflow arena owned by the frame.
func (f *Frame) Allocate(size, align int64) (Segment, error) {
	if f.popped {
		return Segment{}, fmt.Errorf("allocate from popped frame: %w", ErrStackDiscipline)
	}
	s := f.stack
	if f.depth != len(s.frames)-1 {
		return Segment{}, fmt.Errorf("allocate from frame %d while frame %d is on top: %w",
			f.depth, len(s.frames)-1, ErrStackDiscipline)
	}
	if align <= 0 {
		align = 1
	}

	start := alignUp(int64(s.base.addr)+s.top, align) - int64(s.base.addr)
	if size >= 0 && start+size <= int64(len(s.buf)) {
		seg := Segment{addr: s.base.addr + Address(start), size: size}
		clear(s.buf[start : start+size])
		s.top = start + size
		return seg, nil
	}

	if f.overflow == nil {
		f.overflow = NewArena()
	}
	return f.overflow.Allocate(size, align)
}

// Pop releases the frame. It must be the top frame of its stack.
func (f *Frame) Pop() error {
	if f.popped {
		return nil
	}
	s := f.stack
	if f.depth != len(s.frames)-1 {
		return fmt.Errorf("pop frame %d with %d live frames: %w", f.depth, len(s.frames), ErrStackDiscipline)
	}
	s.frames = s.frames[:f.depth]
	s.top = f.mark
	f.popped = true
	if f.overflow != nil {
		err := f.overflow.Close()
		f.overflow = nil
		return err
	}
	return nil
}

var (
	stackPool = sync.Pool{New: func() any { return NewStack(DefaultStackSize) }}
	inUse     atomic.Int64
)

// AcquireStack takes a stack from the process-wide pool. Every call chain
// gets its own stack, so nested calls never interleave frames.
func AcquireStack() *Stack {
	inUse.Add(1)
	return stackPool.Get().(*Stack)
}

// ReleaseStack returns s to the pool. s must have no live frames.
func ReleaseStack(s *Stack) error {
	inUse.Add(-1)
	if len(s.frames) != 0 {
		// Leaked frames poison the stack; drop it instead of pooling it.
		return fmt.Errorf("release stack with %d live frames: %w", len(s.frames), ErrStackDiscipline)
	}
	stackPool.Put(s)
	return nil
}

// StacksInUse reports how many pooled stacks are currently acquired.
func StacksInUse() int64 { return inUse.Load() }
