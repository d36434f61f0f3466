//go:build darwin || freebsd || linux

package linker

import (
	"fmt"
	"reflect"
	"runtime"
	"unsafe"

	"github.com/alexhholmes/nativebind/layout"
	"github.com/alexhholmes/nativebind/memory"
	"github.com/ebitengine/purego"
)

// Dynamic is a symbol source over a dlopen handle.
type Dynamic struct {
	name   string
	handle uintptr
	owned  bool
}

// Open loads the shared library at path.
func Open(path string) (*Dynamic, error) {
	h, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	log.Infof("loaded %s", path)
	return &Dynamic{name: path, handle: h, owned: true}, nil
}

// Process returns the symbol source of every library already loaded into the
// process.
func Process() *Dynamic {
	return &Dynamic{name: "<process>", handle: purego.RTLD_DEFAULT}
}

func (d *Dynamic) Name() string { return d.name }

func (d *Dynamic) Find(name string) (memory.Address, bool) {
	addr, err := purego.Dlsym(d.handle, name)
	if err != nil || addr == 0 {
		return memory.Null, false
	}
	return memory.Address(addr), true
}

// Close releases a library opened with Open. Process sources are not closed.
func (d *Dynamic) Close() error {
	if !d.owned {
		return nil
	}
	d.owned = false
	return purego.Dlclose(d.handle)
}

// Native is the linker backed by purego.
type Native struct{}

func (Native) Downcall(addr memory.Address, fd layout.FunctionDescriptor, opts Options) (h Handle, err error) {
	if addr == memory.Null {
		return nil, fmt.Errorf("downcall %s: null address", fd)
	}
	typ, err := funcType(fd)
	if err != nil {
		return nil, err
	}

	defer trap("register "+fd.String(), &err)
	fn := reflect.New(typ)
	purego.RegisterFunc(fn.Interface(), uintptr(addr))

	return &nativeHandle{addr: addr, fd: fd, opts: opts, fn: fn.Elem()}, nil
}

func (Native) Upcall(fd layout.FunctionDescriptor, fn UpcallFunc, arena memory.Arena) (addr memory.Address, err error) {
	if c, ok := arena.(interface{ Closed() bool }); ok && c.Closed() {
		return memory.Null, memory.ErrClosed
	}
	typ, err := funcType(fd)
	if err != nil {
		return memory.Null, err
	}

	bridge := reflect.MakeFunc(typ, func(in []reflect.Value) []reflect.Value {
		return callUpcall(fd, typ, fn, in)
	})

	defer trap("callback "+fd.String(), &err)
	ptr := purego.NewCallback(bridge.Interface())

	// purego callbacks are never freed; closing the arena only ends the
	// pointer's validity from the caller's point of view.
	arena.OnClose(func() { log.Debugf("upcall stub 0x%x released", ptr) })
	return memory.Address(ptr), nil
}

func callUpcall(fd layout.FunctionDescriptor, typ reflect.Type, fn UpcallFunc, in []reflect.Value) (out []reflect.Value) {
	zero := func() []reflect.Value {
		if typ.NumOut() == 0 {
			return nil
		}
		return []reflect.Value{reflect.Zero(typ.Out(0))}
	}
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("upcall %s panicked: %v", fd, r)
			out = zero()
		}
	}()

	// Struct arguments are copied into Go memory that must outlive fn.
	var keep [][]byte
	args := make([]any, len(in))
	for i, v := range in {
		args[i] = fromReflect(fd.Args[i], v, &keep)
	}
	r, err := fn(args)
	runtime.KeepAlive(keep)
	if err != nil {
		log.Errorf("upcall %s: %s", fd, err)
		return zero()
	}
	if typ.NumOut() == 0 {
		return nil
	}
	v, err := toReflect(fd.Return, typ.Out(0), r)
	if err != nil {
		log.Errorf("upcall %s: %s", fd, err)
		return zero()
	}
	return []reflect.Value{v}
}

type nativeHandle struct {
	addr memory.Address
	fd   layout.FunctionDescriptor
	opts Options
	fn   reflect.Value
}

func (h *nativeHandle) Address() memory.Address               { return h.addr }
func (h *nativeHandle) Descriptor() layout.FunctionDescriptor { return h.fd }
func (h *nativeHandle) Options() Options                      { return h.opts }

func (h *nativeHandle) Call(ret memory.Allocator, args []any) (result any, err error) {
	if err := CheckArgs(h.fd, args); err != nil {
		return nil, err
	}

	in := make([]reflect.Value, len(args))
	typ := h.fn.Type()
	for i, a := range args {
		v, err := toReflect(h.fd.Args[i], typ.In(i), a)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		in[i] = v
	}

	if !h.opts.Critical {
		// errno and other thread-local state belong to this call.
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
	}

	defer trap(fmt.Sprintf("call 0x%x", uintptr(h.addr)), &err)
	out := h.fn.Call(in)
	if len(out) == 0 {
		return nil, nil
	}

	if s, ok := h.fd.Return.(*layout.StructLayout); ok {
		if ret == nil {
			return nil, fmt.Errorf("struct %s returned by value but no allocator was given", s.Name)
		}
		dst, err := ret.Allocate(s.Size(), s.Align())
		if err != nil {
			return nil, err
		}
		copy(dst.Bytes(), rawBytes(out[0]))
		return dst, nil
	}
	return fromReflect(h.fd.Return, out[0], nil), nil
}

// funcType builds the Go func type purego registers for fd.
func funcType(fd layout.FunctionDescriptor) (reflect.Type, error) {
	in := make([]reflect.Type, len(fd.Args))
	for i, a := range fd.Args {
		t, err := goType(a)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		in[i] = t
	}
	var out []reflect.Type
	if fd.Return != nil {
		t, err := goType(fd.Return)
		if err != nil {
			return nil, fmt.Errorf("return: %w", err)
		}
		out = append(out, t)
	}
	return reflect.FuncOf(in, out, false), nil
}

func goType(l layout.Layout) (reflect.Type, error) {
	switch t := l.(type) {
	case layout.ValueLayout:
		switch t.Carrier() {
		case layout.CarrierInt8:
			return reflect.TypeFor[int8](), nil
		case layout.CarrierInt16:
			return reflect.TypeFor[int16](), nil
		case layout.CarrierInt32:
			return reflect.TypeFor[int32](), nil
		case layout.CarrierInt64:
			return reflect.TypeFor[int64](), nil
		case layout.CarrierFloat32:
			return reflect.TypeFor[float32](), nil
		case layout.CarrierFloat64:
			return reflect.TypeFor[float64](), nil
		}
	case layout.AddressLayout:
		return reflect.TypeFor[uintptr](), nil
	case layout.SequenceLayout:
		elem, err := goType(t.Elem)
		if err != nil {
			return nil, err
		}
		return reflect.ArrayOf(int(t.Count), elem), nil
	case layout.PaddingLayout:
		return reflect.ArrayOf(int(t.Size()), reflect.TypeFor[byte]()), nil
	case *layout.StructLayout:
		fields := make([]reflect.StructField, len(t.Members))
		for i, m := range t.Members {
			ft, err := goType(m.Layout)
			if err != nil {
				return nil, fmt.Errorf("%s.%s: %w", t.Name, m.Name, err)
			}
			fields[i] = reflect.StructField{Name: fmt.Sprintf("F%d", i), Type: ft}
		}
		st := reflect.StructOf(fields)
		if int64(st.Size()) != t.Size() {
			return nil, &layout.UnsupportedTypeError{Type: t.Name, Reason: "struct size differs from the Go layout"}
		}
		return st, nil
	}
	return nil, &layout.UnsupportedTypeError{Type: l.String()}
}

func toReflect(l layout.Layout, typ reflect.Type, v any) (reflect.Value, error) {
	switch a := v.(type) {
	case memory.Address:
		return reflect.ValueOf(uintptr(a)), nil
	case memory.Segment:
		s, ok := l.(*layout.StructLayout)
		if !ok {
			return reflect.Value{}, fmt.Errorf("segment passed for %s", l)
		}
		if a.Size() < s.Size() {
			return reflect.Value{}, fmt.Errorf("segment of %d bytes for %s: %w", a.Size(), s.Name, memory.ErrOutOfBounds)
		}
		p := reflect.New(typ)
		copy(unsafe.Slice((*byte)(p.UnsafePointer()), s.Size()), a.Bytes())
		return p.Elem(), nil
	case nil:
		return reflect.Zero(typ), nil
	}
	c, err := Coerce(layout.CarrierOf(l), v)
	if err != nil {
		return reflect.Value{}, err
	}
	if a, ok := c.(memory.Address); ok {
		return reflect.ValueOf(uintptr(a)), nil
	}
	return reflect.ValueOf(c), nil
}

func fromReflect(l layout.Layout, v reflect.Value, keep *[][]byte) any {
	switch l.(type) {
	case layout.AddressLayout:
		return memory.Address(v.Uint())
	case *layout.StructLayout:
		b := rawBytes(v)
		if keep != nil {
			*keep = append(*keep, b)
		}
		return memory.FromBytes(b)
	}
	return v.Interface()
}

func rawBytes(v reflect.Value) []byte {
	p := reflect.New(v.Type())
	p.Elem().Set(v)
	return unsafe.Slice((*byte)(p.UnsafePointer()), v.Type().Size())
}
