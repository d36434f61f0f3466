package bind

import (
	"errors"
	"fmt"
	"runtime"
	"unsafe"

	"github.com/alexhholmes/nativebind/layout"
	"github.com/alexhholmes/nativebind/memory"
)

// HostFunc is a Go function that can be turned into a native callback.
type HostFunc func(args ...any) (any, error)

type paramPlan struct {
	Param
	layout  layout.Layout // nil for the allocator or destination slot
	charset memory.Charset
}

// Function is a bound method. Calls are safe from multiple goroutines.
type Function struct {
	sig       Signature
	entry     *Entry
	desc      *layout.FunctionDescriptor
	req       Requirement
	slot      slotRole
	params    []paramPlan
	ret       value
	retLayout layout.Layout
	charset   memory.Charset
	sizeCheck bool
	fallback  Fallback
}

type functionConfig struct {
	charset   memory.Charset
	sizeCheck bool
	fallback  Fallback
}

func newFunction(sig Signature, entry *Entry, cfg functionConfig) (*Function, error) {
	desc := entry.Descriptor
	f := &Function{
		sig:       sig,
		entry:     entry,
		desc:      desc,
		req:       Analyze(sig),
		slot:      firstSlot(sig),
		ret:       sig.Return.spec(),
		retLayout: desc.Return,
		sizeCheck: cfg.sizeCheck,
		fallback:  cfg.fallback,
	}

	var err error
	if f.charset, err = charsetOr(sig.Return.Charset, cfg.charset); err != nil {
		return nil, fmt.Errorf("%s: return: %w", sig.QualifiedName(), err)
	}

	arg := 0
	for i, p := range sig.Params {
		plan := paramPlan{Param: p}
		if plan.charset, err = charsetOr(p.Charset, cfg.charset); err != nil {
			return nil, fmt.Errorf("%s: parameter %s: %w", sig.QualifiedName(), p.Name, err)
		}
		if i > 0 || f.slot == slotNone {
			if arg >= len(desc.Args) {
				return nil, &IllegalSignatureError{
					Signature: sig.QualifiedName(), Param: p.Name,
					Reason: fmt.Sprintf("descriptor %s has only %d arguments", desc, len(desc.Args)),
				}
			}
			plan.layout = desc.Args[arg]
			arg++
		}
		f.params = append(f.params, plan)
	}
	if arg != len(desc.Args) {
		return nil, &IllegalSignatureError{
			Signature: sig.QualifiedName(),
			Reason:    fmt.Sprintf("descriptor %s has %d arguments, signature passes %d", desc, len(desc.Args), arg),
		}
	}
	return f, nil
}

func charsetOr(name string, def memory.Charset) (memory.Charset, error) {
	if name == "" {
		return def, nil
	}
	return memory.LookupCharset(name)
}

func (f *Function) Signature() Signature                   { return f.sig }
func (f *Function) Entry() *Entry                          { return f.entry }
func (f *Function) Descriptor() *layout.FunctionDescriptor { return f.desc }
func (f *Function) Requirement() Requirement               { return f.req }

// Bound reports whether calls reach native code rather than the fallback.
func (f *Function) Bound() bool { return f.entry != nil && f.entry.Trampoline != nil }

// Call runs the pipeline: check, marshal, invoke, copy back, release
// transient memory, unmarshal.
func (f *Function) Call(args ...any) (result any, err error) {
	name := f.sig.QualifiedName()
	if len(args) != len(f.params) {
		return nil, &ArgumentError{
			Signature: name, Index: len(args),
			Reason: fmt.Sprintf("want %d arguments, got %d", len(f.params), len(args)),
		}
	}

	if !f.Bound() {
		if f.fallback == nil {
			return nil, &SymbolNotFoundError{Entrypoint: f.sig.EntrypointName(), Descriptor: f.desc.String(), Signature: name}
		}
		return f.fallback(args...)
	}

	if f.sizeCheck {
		if err := f.check(args); err != nil {
			return nil, err
		}
	}

	st := &callState{sig: name, heapAccess: f.entry.Options.Critical && f.entry.Options.AllowHeapAccess}
	defer func() {
		if rerr := st.release(); rerr != nil && err == nil {
			result, err = nil, rerr
		}
	}()

	native, ret, err := f.marshal(st, args)
	if err != nil {
		return nil, err
	}

	raw, err := f.entry.Trampoline.Call(ret, native)
	if err != nil {
		return nil, &NativeCallFailedError{Signature: name, Entrypoint: f.entry.Entrypoint, Cause: err}
	}

	for _, cb := range st.copyBacks {
		if err := cb(); err != nil {
			return nil, fmt.Errorf("%s: copy back: %w", name, err)
		}
	}

	if err := st.release(); err != nil {
		return nil, err
	}

	return f.unmarshal(raw)
}

func (f *Function) check(args []any) error {
	for i, p := range f.params {
		if p.layout == nil || !p.spec().sized() {
			continue
		}
		if p.Kind != Array && p.Kind != Segment {
			continue
		}
		if n := hostLen(args[i]); n >= 0 && n != p.Size {
			return &SizeMismatchError{Signature: f.sig.QualifiedName(), Param: p.Name, Want: p.Size, Got: n}
		}
	}
	return nil
}

func (f *Function) marshal(st *callState, args []any) ([]any, memory.Allocator, error) {
	var ret memory.Allocator

	switch f.slot {
	case slotAllocator:
		a, ok := args[0].(memory.Allocator)
		if !ok || isNil(args[0]) {
			return nil, nil, f.argError(0, "want memory.Allocator, got %T", args[0])
		}
		if f.params[0].Kind == Arena {
			arena, ok := a.(memory.Arena)
			if !ok {
				return nil, nil, f.argError(0, "want memory.Arena, got %T", args[0])
			}
			st.arena = arena
		}
		st.alloc = a
		ret = a
	case slotDestination:
		seg, ok := args[0].(memory.Segment)
		if !ok {
			return nil, nil, f.argError(0, "want memory.Segment, got %T", args[0])
		}
		if seg.Size() < f.retLayout.Size() {
			return nil, nil, f.argError(0, "destination of %d bytes cannot hold %d", seg.Size(), f.retLayout.Size())
		}
		ret = destination{seg}
	}

	native := make([]any, 0, len(f.desc.Args))
	for i, p := range f.params {
		if p.layout == nil {
			continue
		}
		v, err := st.marshal(p, args[i])
		if err != nil {
			var ae *ArgumentError
			if errors.As(err, &ae) {
				return nil, nil, err
			}
			return nil, nil, f.argError(i, "%v", err)
		}
		native = append(native, v)
	}
	return native, ret, nil
}

func (f *Function) unmarshal(raw any) (any, error) {
	if f.sig.returnsByValue() {
		seg, ok := raw.(memory.Segment)
		if !ok {
			return nil, fmt.Errorf("%s: struct returned as %T", f.sig.QualifiedName(), raw)
		}
		return layout.View(f.ret.Struct, seg)
	}
	v, err := fromNative(f.ret, raw, f.charset)
	if err != nil {
		return nil, fmt.Errorf("%s: return: %w", f.sig.QualifiedName(), err)
	}
	return v, nil
}

func (f *Function) argError(i int, format string, args ...any) error {
	return &ArgumentError{
		Signature: f.sig.QualifiedName(),
		Param:     f.params[i].Name,
		Index:     i,
		Reason:    fmt.Sprintf(format, args...),
	}
}

// destination hands out the caller's segment for a by-value struct return.
type destination struct {
	seg memory.Segment
}

func (d destination) Allocate(size, align int64) (memory.Segment, error) {
	if size > d.seg.Size() {
		return memory.Segment{}, fmt.Errorf("destination of %d bytes for %d: %w", d.seg.Size(), size, memory.ErrOutOfBounds)
	}
	return d.seg.Slice(0, size)
}

// callState is the call-local part of the pipeline: the transient
// allocator, pinned host memory and pending copy-backs.
type callState struct {
	sig        string
	alloc      memory.Allocator // caller-provided allocator, if any
	arena      memory.Arena
	heapAccess bool

	stack    *memory.Stack
	frame    *memory.Frame
	pinner   runtime.Pinner
	pinned   bool
	released bool

	copyBacks []func() error
}

// Allocate returns transient memory from the caller's allocator or, when
// there is none, from a pooled stack frame pushed on first use.
func (st *callState) Allocate(size, align int64) (memory.Segment, error) {
	if st.alloc != nil {
		return st.alloc.Allocate(size, align)
	}
	if st.frame == nil {
		st.stack = memory.AcquireStack()
		st.frame = st.stack.Push()
	}
	return st.frame.Allocate(size, align)
}

func (st *callState) release() error {
	if st.released {
		return nil
	}
	st.released = true

	if st.pinned {
		st.pinner.Unpin()
	}
	if st.frame == nil {
		return nil
	}
	err := st.frame.Pop()
	if rerr := memory.ReleaseStack(st.stack); err == nil {
		err = rerr
	}
	st.frame, st.stack = nil, nil
	return err
}

// marshal converts one host argument to its carrier.
func (st *callState) marshal(p paramPlan, x any) (any, error) {
	v := p.spec()
	switch p.Kind {
	case Bool, Char, Int8, Int16, Int32, Int64, Float32, Float64, Enum, Address:
		return toScalar(v, p.layout, x)
	case String:
		return st.marshalString(p, x)
	case Array:
		return st.marshalArray(p, x)
	case Segment:
		seg, ok := x.(memory.Segment)
		if !ok {
			if isNil(x) {
				return memory.Null, nil
			}
			return nil, fmt.Errorf("want memory.Segment, got %T", x)
		}
		if !p.ByValue || seg.IsNull() {
			return seg.Address(), nil
		}
		buf, err := st.Allocate(seg.Size(), 8)
		if err != nil {
			return nil, err
		}
		copy(buf.Bytes(), seg.Bytes())
		return buf.Address(), nil
	case StructRef:
		if isNil(x) {
			return memory.Null, nil
		}
		s, ok := x.(*layout.Struct)
		if !ok {
			return hostAddress(x)
		}
		if err := sameStruct(p.Struct, s); err != nil {
			return nil, err
		}
		return s.Address(), nil
	case StructValue:
		s, ok := x.(*layout.Struct)
		if !ok || s == nil {
			return nil, fmt.Errorf("want *layout.Struct, got %T", x)
		}
		if err := sameStruct(p.Struct, s); err != nil {
			return nil, err
		}
		buf, err := st.Allocate(p.Struct.Size(), p.Struct.Align())
		if err != nil {
			return nil, err
		}
		copy(buf.Bytes(), s.Segment().Bytes())
		return buf, nil
	case Callback:
		return st.marshalCallback(p, x)
	}
	return nil, fmt.Errorf("cannot pass %s", p.Kind)
}

func sameStruct(want *layout.StructLayout, s *layout.Struct) error {
	if want == nil || s.Layout() == want || s.Layout().String() == want.String() {
		return nil
	}
	return fmt.Errorf("want struct %s, got %s", want.Name, s.Layout().Name)
}

func (st *callState) marshalString(p paramPlan, x any) (any, error) {
	if isNil(x) {
		if p.NullableRef || !p.Ref {
			return memory.Null, nil
		}
		return nil, fmt.Errorf("nil for non-nullable ref string")
	}

	switch s := x.(type) {
	case string:
		if p.Ref {
			return nil, fmt.Errorf("ref string needs a *string, got string")
		}
		seg, err := memory.AllocateString(st, s, p.charset)
		if err != nil {
			return nil, err
		}
		return seg.Address(), nil
	case *string:
		if !p.Ref {
			seg, err := memory.AllocateString(st, *s, p.charset)
			if err != nil {
				return nil, err
			}
			return seg.Address(), nil
		}
		size, err := p.charset.EncodedSize(*s)
		if err != nil {
			return nil, err
		}
		if p.Size > size {
			size = p.Size
		}
		buf, err := st.Allocate(size, int64(p.charset.Terminator()))
		if err != nil {
			return nil, err
		}
		if err := memory.WriteString(buf, *s, p.charset); err != nil {
			return nil, err
		}
		st.copyBacks = append(st.copyBacks, func() error {
			out, err := memory.ReadStringIn(buf, p.charset)
			if err != nil {
				return err
			}
			*s = out
			return nil
		})
		return buf.Address(), nil
	}
	return nil, fmt.Errorf("want string, got %T", x)
}

func (st *callState) marshalArray(p paramPlan, x any) (any, error) {
	if isNil(x) {
		if p.NullableRef || !p.Ref {
			return memory.Null, nil
		}
		return nil, fmt.Errorf("nil for non-nullable ref array")
	}

	v := p.spec()
	el, err := elemLayout(v)
	if err != nil {
		return nil, err
	}
	n := hostLen(x)
	if n < 0 {
		return nil, fmt.Errorf("want []%s, got %T", p.Elem, x)
	}

	switch s := x.(type) {
	case []bool:
		buf, err := st.arrayBuffer(el, n, p.Size)
		if err != nil {
			return nil, err
		}
		for i, b := range s {
			if err := layout.Store(buf, int64(i)*el.Size(), el, b); err != nil {
				return nil, err
			}
		}
		st.deferCopyBack(p, v, el, buf, x)
		return buf.Address(), nil

	case []string:
		if p.Elem != String {
			return nil, fmt.Errorf("want []%s, got %T", p.Elem, x)
		}
		buf, err := st.arrayBuffer(el, n, p.Size)
		if err != nil {
			return nil, err
		}
		for i, str := range s {
			seg, err := memory.AllocateString(st, str, p.charset)
			if err != nil {
				return nil, err
			}
			if err := buf.SetAddress(int64(i)*memory.AddressSize, seg.Address()); err != nil {
				return nil, err
			}
		}
		st.deferCopyBack(p, v, el, buf, x)
		return buf.Address(), nil
	}

	b, ok := primitiveSlice(p.Elem, x)
	if !ok {
		return nil, fmt.Errorf("want []%s, got %T", p.Elem, x)
	}
	if n == 0 {
		if p.Size <= 0 {
			return memory.Null, nil
		}
	} else if st.heapAccess && n >= p.Size {
		// Native code works on the Go backing array directly.
		st.pinner.Pin(&b[0])
		st.pinned = true
		return memory.Address(uintptr(unsafe.Pointer(&b[0]))), nil
	}

	buf, err := st.arrayBuffer(el, n, p.Size)
	if err != nil {
		return nil, err
	}
	copy(buf.Bytes(), b)
	if st.heapAccess && !p.Ref {
		// A short array on a heap-access call still sees the native writes
		// that fit.
		st.copyBacks = append(st.copyBacks, func() error {
			return copyBack(v, el, buf, x, p.charset)
		})
		return buf.Address(), nil
	}
	st.deferCopyBack(p, v, el, buf, x)
	return buf.Address(), nil
}

// arrayBuffer allocates room for max(n, size) elements so a short array
// never lets native code write past the buffer.
func (st *callState) arrayBuffer(el layout.Layout, n, size int64) (memory.Segment, error) {
	if size > n {
		n = size
	}
	return st.Allocate(n*el.Size(), el.Align())
}

func (st *callState) deferCopyBack(p paramPlan, v value, el layout.Layout, buf memory.Segment, dst any) {
	if !p.Ref {
		return
	}
	st.copyBacks = append(st.copyBacks, func() error {
		return copyBack(v, el, buf, dst, p.charset)
	})
}

func (st *callState) marshalCallback(p paramPlan, x any) (any, error) {
	switch fn := x.(type) {
	case nil:
		return memory.Null, nil
	case memory.Address:
		return fn, nil
	case *Delegate:
		if fn == nil {
			return memory.Null, nil
		}
		return fn.Address(), nil
	case HostFunc, func(...any) (any, error):
		if p.Upcall == nil {
			return nil, fmt.Errorf("callback parameter has no delegate type")
		}
		if st.arena == nil {
			return nil, fmt.Errorf("host callbacks need an arena")
		}
		return p.Upcall.MakeStub(st.arena, fn)
	}
	return nil, fmt.Errorf("want callback, got %T", x)
}
