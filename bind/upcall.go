package bind

import (
	"fmt"

	"github.com/alexhholmes/nativebind/layout"
	"github.com/alexhholmes/nativebind/linker"
	"github.com/alexhholmes/nativebind/memory"
)

// Method is one method of a delegate type.
type Method struct {
	Name   string
	Stub   bool // the method native code calls through a stub
	Params []Param
	Return Return
}

// DelegateSpec declares a callback type.
type DelegateSpec struct {
	Name    string
	Methods []Method
	Charset string
}

// UpcallType is the native shape of a delegate type's stub method. It turns
// host functions into native function pointers and back.
type UpcallType struct {
	Name       string
	Method     Method
	Descriptor layout.FunctionDescriptor

	lnk     linker.Linker
	sig     Signature
	charset memory.Charset
}

// NewUpcallType derives the upcall type of spec. The first method marked as
// the stub is used.
func NewUpcallType(spec DelegateSpec, lnk linker.Linker) (*UpcallType, error) {
	var stub *Method
	for i := range spec.Methods {
		if spec.Methods[i].Stub {
			stub = &spec.Methods[i]
			break
		}
	}
	if stub == nil {
		return nil, &StubProviderNotFoundError{Type: spec.Name}
	}

	sig := Signature{Name: stub.Name, Owner: spec.Name, Params: stub.Params, Return: stub.Return}
	for _, p := range sig.Params {
		if p.Kind == Allocator || p.Kind == Arena {
			return nil, &IllegalSignatureError{Signature: sig.QualifiedName(), Param: p.Name, Reason: "delegates take no allocator"}
		}
	}
	if sig.returnsByValue() {
		return nil, &IllegalSignatureError{Signature: sig.QualifiedName(), Reason: "delegates cannot return structs by value"}
	}

	fd, err := BuildDescriptor(sig, nil)
	if err != nil {
		return nil, err
	}
	cs, err := memory.LookupCharset(spec.Charset)
	if err != nil {
		return nil, fmt.Errorf("delegate %s: %w", spec.Name, err)
	}

	return &UpcallType{
		Name:       spec.Name,
		Method:     *stub,
		Descriptor: fd,
		lnk:        lnk,
		sig:        sig,
		charset:    cs,
	}, nil
}

// MakeStub returns a native function pointer for target, valid until arena
// closes. target is a HostFunc, a func(...any) (any, error) or a *Delegate;
// a delegate is already native and its own address is returned.
func (u *UpcallType) MakeStub(arena memory.Arena, target any) (memory.Address, error) {
	var fn HostFunc
	switch t := target.(type) {
	case *Delegate:
		if t == nil {
			return memory.Null, nil
		}
		if !t.typ.Descriptor.Equal(u.Descriptor) {
			return memory.Null, fmt.Errorf("delegate %s %s cannot serve as %s %s", t.typ.Name, t.typ.Descriptor, u.Name, u.Descriptor)
		}
		return t.addr, nil
	case HostFunc:
		fn = t
	case func(...any) (any, error):
		fn = t
	default:
		return memory.Null, fmt.Errorf("%s: cannot make a stub from %T", u.Name, target)
	}
	if fn == nil {
		return memory.Null, nil
	}

	bridge := func(args []any) (any, error) {
		host := make([]any, len(args))
		for i, a := range args {
			p := u.sig.Params[i]
			cs, err := charsetOr(p.Charset, u.charset)
			if err != nil {
				return nil, err
			}
			if host[i], err = fromNative(p.spec(), a, cs); err != nil {
				return nil, fmt.Errorf("%s: argument %s: %w", u.Name, p.Name, err)
			}
		}

		r, err := fn(host...)
		if err != nil || u.sig.Return.Kind == Void {
			return nil, err
		}
		return u.returnToNative(arena, r)
	}
	return u.lnk.Upcall(u.Descriptor, bridge, arena)
}

// returnToNative marshals a host result into arena-owned memory.
func (u *UpcallType) returnToNative(arena memory.Arena, r any) (any, error) {
	cs, err := charsetOr(u.sig.Return.Charset, u.charset)
	if err != nil {
		return nil, err
	}
	ret := u.sig.Return
	plan := paramPlan{
		Param: Param{
			Name: "return", Kind: ret.Kind, Elem: ret.Elem, Size: ret.Size, BoolAs: ret.BoolAs,
			Struct: ret.Struct, Upcall: ret.Upcall, Enum: ret.Enum, NullableRef: true,
		},
		layout:  u.Descriptor.Return,
		charset: cs,
	}
	st := &callState{sig: u.sig.QualifiedName(), alloc: arena, arena: arena}
	v, err := st.marshal(plan, r)
	if err != nil {
		return nil, fmt.Errorf("%s: return: %w", u.Name, err)
	}
	return v, nil
}

// Wrap returns a delegate that calls the native function at addr, or nil for
// a null pointer.
func (u *UpcallType) Wrap(addr memory.Address) (*Delegate, error) {
	if addr == memory.Null {
		return nil, nil
	}
	h, err := u.lnk.Downcall(addr, u.Descriptor, linker.Options{})
	if err != nil {
		return nil, fmt.Errorf("wrap %s: %w", u.Name, err)
	}
	desc := u.Descriptor
	entry := &Entry{
		Entrypoint: fmt.Sprintf("%s@%x", u.Name, uintptr(addr)),
		Descriptor: &desc,
		Address:    addr,
		Trampoline: h,
		State:      Bound,
	}
	fn, err := newFunction(u.sig, entry, functionConfig{charset: u.charset, sizeCheck: true})
	if err != nil {
		return nil, err
	}
	return &Delegate{typ: u, addr: addr, fn: fn}, nil
}

// Delegate is a native function pointer callable from Go.
type Delegate struct {
	typ  *UpcallType
	addr memory.Address
	fn   *Function
}

func (d *Delegate) Type() *UpcallType       { return d.typ }
func (d *Delegate) Address() memory.Address { return d.addr }

// Call invokes the native function through the pipeline.
func (d *Delegate) Call(args ...any) (any, error) {
	return d.fn.Call(args...)
}
