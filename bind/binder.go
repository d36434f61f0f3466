package bind

import (
	"errors"
	"fmt"

	"github.com/alexhholmes/nativebind/layout"
	"github.com/alexhholmes/nativebind/linker"
	"github.com/alexhholmes/nativebind/memory"
)

type options struct {
	overrides  map[string]layout.FunctionDescriptor
	transform  Transform
	skip       map[string]bool
	target     string
	sizeCheck  bool
	charset    string
	critical   map[string]bool
	heapAccess map[string]bool
	fallbacks  map[string]Fallback
	registry   *Registry
}

// Option configures Compose.
type Option func(*options)

// WithOverrides supplies native descriptors, keyed by entrypoint, that are
// used verbatim instead of derived ones.
func WithOverrides(overrides map[string]layout.FunctionDescriptor) Option {
	return func(o *options) {
		for k, v := range overrides {
			o.overrides[k] = v
		}
	}
}

// WithTransform wraps every resolved handle before it is cached. The
// binding gets its own registry.
func WithTransform(t Transform) Option {
	return func(o *options) { o.transform = t }
}

// WithSkip leaves the named methods or entrypoints unbound.
func WithSkip(names ...string) Option {
	return func(o *options) {
		for _, n := range names {
			o.skip[n] = true
		}
	}
}

// WithTarget binds only the signatures owned by target.
func WithTarget(target string) Option {
	return func(o *options) { o.target = target }
}

// WithSizeCheck turns the array and segment size check on or off. It is on
// by default.
func WithSizeCheck(on bool) Option {
	return func(o *options) { o.sizeCheck = on }
}

// WithCharset sets the default charset for strings.
func WithCharset(name string) Option {
	return func(o *options) { o.charset = name }
}

// WithCritical marks entrypoints as critical.
func WithCritical(entrypoints ...string) Option {
	return func(o *options) {
		for _, e := range entrypoints {
			o.critical[e] = true
		}
	}
}

// WithHeapAccess marks entrypoints as critical with direct access to Go
// arrays.
func WithHeapAccess(entrypoints ...string) Option {
	return func(o *options) {
		for _, e := range entrypoints {
			o.critical[e] = true
			o.heapAccess[e] = true
		}
	}
}

// WithFallback sets the host implementation of method name, used when its
// symbol is missing.
func WithFallback(name string, fn Fallback) Option {
	return func(o *options) { o.fallbacks[name] = fn }
}

// WithRegistry uses r instead of the process-wide registry.
func WithRegistry(r *Registry) Option {
	return func(o *options) { o.registry = r }
}

// Binding is a composed set of bound methods.
type Binding struct {
	src      linker.SymbolSource
	lnk      linker.Linker
	registry *Registry
	names    []string
	funcs    map[string]*Function
}

// Compose binds every selected signature. It either binds all of them or
// returns an error and no binding.
func Compose(src linker.SymbolSource, lnk linker.Linker, sigs []Signature, opts ...Option) (*Binding, error) {
	o := options{
		overrides:  make(map[string]layout.FunctionDescriptor),
		skip:       make(map[string]bool),
		sizeCheck:  true,
		critical:   make(map[string]bool),
		heapAccess: make(map[string]bool),
		fallbacks:  make(map[string]Fallback),
	}
	for _, opt := range opts {
		opt(&o)
	}

	switch {
	case o.transform != nil && o.registry != nil:
		return nil, errors.New("WithTransform and WithRegistry cannot be combined; give the registry the transform")
	case o.transform != nil:
		o.registry = NewRegistry(o.transform)
	case o.registry == nil:
		o.registry = Default()
	}

	cs, err := memory.LookupCharset(o.charset)
	if err != nil {
		return nil, err
	}

	b := &Binding{src: src, lnk: lnk, registry: o.registry, funcs: make(map[string]*Function)}
	for _, sig := range sigs {
		if o.target != "" && sig.Owner != o.target {
			continue
		}
		if o.skip[sig.Name] || o.skip[sig.EntrypointName()] {
			log.Debugf("skipping %s", sig.QualifiedName())
			continue
		}
		if _, dup := b.funcs[sig.Name]; dup {
			return nil, &IllegalSignatureError{Signature: sig.QualifiedName(), Reason: "duplicate method"}
		}

		f, err := compose(src, lnk, sig, o, cs)
		if err != nil {
			return nil, err
		}
		b.names = append(b.names, sig.Name)
		b.funcs[sig.Name] = f
	}

	log.Debugf("composed %d methods from %s", len(b.names), src.Name())
	return b, nil
}

func compose(src linker.SymbolSource, lnk linker.Linker, sig Signature, o options, cs memory.Charset) (*Function, error) {
	if err := Validate(sig); err != nil {
		return nil, err
	}
	if err := checkTypes(sig); err != nil {
		return nil, err
	}

	fd, err := BuildDescriptor(sig, o.overrides)
	if err != nil {
		return nil, err
	}

	entrypoint := sig.EntrypointName()
	callOpts := linker.Options{
		Critical:        sig.Flags.Critical || sig.Flags.CriticalAllowHeapAccess || o.critical[entrypoint],
		AllowHeapAccess: sig.Flags.CriticalAllowHeapAccess || o.heapAccess[entrypoint],
	}

	entry, err := o.registry.GetOrBuild(src, lnk, entrypoint, fd, callOpts)
	if err != nil {
		return nil, err
	}

	fallback := sig.Fallback
	if fb, ok := o.fallbacks[sig.Name]; ok {
		fallback = fb
	}
	if entry.State == Missing {
		if fallback == nil {
			return nil, &SymbolNotFoundError{Entrypoint: entrypoint, Descriptor: entry.Descriptor.String(), Signature: sig.String()}
		}
		log.Warningf("%s: %s not found, using fallback", src.Name(), entrypoint)
	}

	return newFunction(sig, entry, functionConfig{charset: cs, sizeCheck: o.sizeCheck, fallback: fallback})
}

// checkTypes rejects signatures referring to struct, delegate or enum types
// they do not carry.
func checkTypes(sig Signature) error {
	vals := []value{sig.Return.spec()}
	for _, p := range sig.Params {
		vals = append(vals, p.spec())
	}
	for i, v := range vals {
		where := "return"
		if i > 0 {
			where = sig.Params[i-1].Name
		}
		switch v.Kind {
		case StructRef, StructValue:
			if v.Struct == nil {
				return &layout.UnsupportedTypeError{Type: fmt.Sprintf("%s %s", where, v.Kind), Reason: "missing struct layout"}
			}
			if !v.Struct.IsValid() {
				return &IllegalSignatureError{Signature: sig.QualifiedName(), Param: where, Reason: "invalid struct " + v.Struct.Name}
			}
		case Enum:
			if i == 0 && (v.Enum == nil || v.Enum.Wrap == nil) {
				return &WrapperNotFoundError{Type: v.typeName()}
			}
		case Callback:
			if i == 0 && v.Upcall == nil {
				return &StubProviderNotFoundError{Type: v.typeName()}
			}
		}
	}
	return nil
}

// Func returns the bound method called name.
func (b *Binding) Func(name string) (*Function, bool) {
	f, ok := b.funcs[name]
	return f, ok
}

// Call invokes the method called name.
func (b *Binding) Call(name string, args ...any) (any, error) {
	f, ok := b.funcs[name]
	if !ok {
		return nil, fmt.Errorf("no method %q", name)
	}
	return f.Call(args...)
}

// Names returns the bound method names in declaration order.
func (b *Binding) Names() []string {
	return append([]string(nil), b.names...)
}

// Descriptors returns the native descriptor of every method by entrypoint.
func (b *Binding) Descriptors() map[string]layout.FunctionDescriptor {
	out := make(map[string]layout.FunctionDescriptor, len(b.funcs))
	for _, f := range b.funcs {
		out[f.entry.Entrypoint] = *f.desc
	}
	return out
}

// Handles returns the native handle of every bound entrypoint. Methods
// served by a fallback have none.
func (b *Binding) Handles() map[string]linker.Handle {
	out := make(map[string]linker.Handle, len(b.funcs))
	for _, f := range b.funcs {
		if f.Bound() {
			out[f.entry.Entrypoint] = f.entry.Trampoline
		}
	}
	return out
}

// Entries returns the cache entry of every method by entrypoint.
func (b *Binding) Entries() map[string]*Entry {
	out := make(map[string]*Entry, len(b.funcs))
	for _, f := range b.funcs {
		out[f.entry.Entrypoint] = f.entry
	}
	return out
}

func (b *Binding) Source() linker.SymbolSource { return b.src }
func (b *Binding) Linker() linker.Linker       { return b.lnk }
func (b *Binding) Registry() *Registry         { return b.registry }
