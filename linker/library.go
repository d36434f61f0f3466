package linker

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/alexhholmes/nativebind/layout"
	"github.com/alexhholmes/nativebind/memory"
)

// NativeFunc is a function implemented in Go that a Library exposes as a
// native symbol. It sees arguments in their carrier types.
type NativeFunc func(args []any) (any, error)

// Library addresses are never dereferenced. They only need to be unique
// across every library in the process.
var nextAddress atomic.Uintptr

func init() {
	nextAddress.Store(0x7f0000000000)
}

func allocAddress() memory.Address {
	return memory.Address(nextAddress.Add(16))
}

type symbol struct {
	name string
	fn   NativeFunc
	desc *layout.FunctionDescriptor // set for upcall stubs
}

// Library is an in-process symbol table of Go-implemented native functions.
// It is both a SymbolSource and a Linker, and upcall stubs it creates are
// callable through it like any other symbol.
type Library struct {
	name string

	mu     sync.RWMutex
	byName map[string]memory.Address
	funcs  map[memory.Address]*symbol
	calls  map[memory.Address]*atomic.Int64
}

func NewLibrary(name string) *Library {
	return &Library{
		name:   name,
		byName: make(map[string]memory.Address),
		funcs:  make(map[memory.Address]*symbol),
		calls:  make(map[memory.Address]*atomic.Int64),
	}
}

func (l *Library) Name() string { return l.name }

// Define exports fn under name, replacing any previous definition.
func (l *Library) Define(name string, fn NativeFunc) memory.Address {
	l.mu.Lock()
	defer l.mu.Unlock()

	if old, ok := l.byName[name]; ok {
		delete(l.funcs, old)
		delete(l.calls, old)
	}
	addr := allocAddress()
	l.byName[name] = addr
	l.funcs[addr] = &symbol{name: name, fn: fn}
	l.calls[addr] = new(atomic.Int64)
	return addr
}

func (l *Library) Find(name string) (memory.Address, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	addr, ok := l.byName[name]
	return addr, ok
}

// Has reports whether addr is a live function or stub.
func (l *Library) Has(addr memory.Address) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.funcs[addr]
	return ok
}

// Calls returns how many times the function at addr has run.
func (l *Library) Calls(addr memory.Address) int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if c, ok := l.calls[addr]; ok {
		return c.Load()
	}
	return 0
}

// Invoke calls the function at addr. Library functions that receive a
// callback use it to call through the pointer.
func (l *Library) Invoke(addr memory.Address, args ...any) (any, error) {
	sym, err := l.lookup(addr)
	if err != nil {
		return nil, err
	}
	if sym.desc != nil {
		if err := CheckArgs(*sym.desc, args); err != nil {
			return nil, fmt.Errorf("%s: %w", sym.name, err)
		}
	}
	return l.run(addr, sym, args)
}

func (l *Library) lookup(addr memory.Address) (*symbol, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	sym, ok := l.funcs[addr]
	if !ok {
		return nil, fmt.Errorf("%s: no function at 0x%x", l.name, uintptr(addr))
	}
	return sym, nil
}

func (l *Library) run(addr memory.Address, sym *symbol, args []any) (result any, err error) {
	defer trap(sym.name, &err)

	l.mu.RLock()
	c := l.calls[addr]
	l.mu.RUnlock()
	if c != nil {
		c.Add(1)
	}
	return sym.fn(args)
}

func (l *Library) remove(addr memory.Address) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if sym, ok := l.funcs[addr]; ok {
		delete(l.funcs, addr)
		delete(l.calls, addr)
		if l.byName[sym.name] == addr {
			delete(l.byName, sym.name)
		}
	}
}

func (l *Library) Downcall(addr memory.Address, fd layout.FunctionDescriptor, opts Options) (Handle, error) {
	sym, err := l.lookup(addr)
	if err != nil {
		return nil, err
	}
	if sym.desc != nil && !sym.desc.Equal(fd) {
		return nil, fmt.Errorf("%s: stub has descriptor %s, not %s", sym.name, sym.desc, fd)
	}
	log.Debugf("%s: downcall %s %s (%s)", l.name, sym.name, fd, opts)
	return &libraryHandle{lib: l, addr: addr, fd: fd, opts: opts}, nil
}

func (l *Library) Upcall(fd layout.FunctionDescriptor, fn UpcallFunc, arena memory.Arena) (memory.Address, error) {
	if c, ok := arena.(interface{ Closed() bool }); ok && c.Closed() {
		return memory.Null, memory.ErrClosed
	}

	desc := fd
	addr := allocAddress()
	name := fmt.Sprintf("upcall@%x", uintptr(addr))
	sym := &symbol{
		name: name,
		desc: &desc,
		fn: func(args []any) (any, error) {
			r, err := fn(args)
			if err != nil || desc.Return == nil {
				return nil, err
			}
			return coerceReturn(desc.Return, r)
		},
	}

	l.mu.Lock()
	l.byName[name] = addr
	l.funcs[addr] = sym
	l.calls[addr] = new(atomic.Int64)
	l.mu.Unlock()

	arena.OnClose(func() { l.remove(addr) })
	return addr, nil
}

type libraryHandle struct {
	lib  *Library
	addr memory.Address
	fd   layout.FunctionDescriptor
	opts Options
}

func (h *libraryHandle) Address() memory.Address               { return h.addr }
func (h *libraryHandle) Descriptor() layout.FunctionDescriptor { return h.fd }
func (h *libraryHandle) Options() Options                      { return h.opts }

func (h *libraryHandle) Call(ret memory.Allocator, args []any) (any, error) {
	if err := CheckArgs(h.fd, args); err != nil {
		return nil, err
	}
	sym, err := h.lib.lookup(h.addr)
	if err != nil {
		return nil, err
	}
	r, err := h.lib.run(h.addr, sym, args)
	if err != nil {
		return nil, err
	}
	if h.fd.Return == nil {
		return nil, nil
	}

	if s, ok := h.fd.Return.(*layout.StructLayout); ok {
		src, ok := r.(memory.Segment)
		if !ok {
			return nil, &CarrierError{Index: -1, Want: layout.CarrierSegment, Got: r}
		}
		if ret == nil {
			return nil, fmt.Errorf("%s returns %s by value but no allocator was given", sym.name, s.Name)
		}
		dst, err := ret.Allocate(s.Size(), s.Align())
		if err != nil {
			return nil, err
		}
		copy(dst.Bytes(), src.Bytes())
		return dst, nil
	}
	return coerceReturn(h.fd.Return, r)
}

func coerceReturn(l layout.Layout, r any) (any, error) {
	c := layout.CarrierOf(l)
	if c == layout.CarrierSegment {
		if _, ok := r.(memory.Segment); !ok {
			return nil, &CarrierError{Index: -1, Want: c, Got: r}
		}
		return r, nil
	}
	v, err := Coerce(c, r)
	if err != nil {
		return nil, &CarrierError{Index: -1, Want: c, Got: r}
	}
	return v, nil
}
