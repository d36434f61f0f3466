package parser

import (
	"errors"
	"fmt"
	"strings"

	"github.com/iancoleman/strcase"

	"github.com/alexhholmes/nativebind/bind"
	"github.com/alexhholmes/nativebind/layout"
	"github.com/alexhholmes/nativebind/linker"
)

// Schema is a lowered File: the struct layouts, upcall types and signatures
// ready for bind.Compose.
type Schema struct {
	Registry *layout.Registry
	Structs  []*layout.StructLayout // declaration order
	Upcalls  map[string]*bind.UpcallType
	Enums    map[string]*bind.EnumType
	Bindings []*Binding
}

// Binding is the lowered form of one @native declaration.
type Binding struct {
	Name       string
	Owner      string
	Charset    string
	Signatures []bind.Signature
}

// Binding returns the binding declared as name or owned by name.
func (s *Schema) Binding(name string) (*Binding, bool) {
	for _, b := range s.Bindings {
		if b.Name == name || b.Owner == name {
			return b, true
		}
	}
	return nil, false
}

// Signatures returns the signatures of every binding.
func (s *Schema) Signatures() []bind.Signature {
	var sigs []bind.Signature
	for _, b := range s.Bindings {
		sigs = append(sigs, b.Signatures...)
	}
	return sigs
}

type lowerer struct {
	file      *File
	lnk       linker.Linker
	reg       *layout.Registry
	structs   map[string]*StructDecl
	callbacks map[string]*CallbackDecl
	upcalls   map[string]*bind.UpcallType
	enums     map[string]*bind.EnumType
	building  map[string]bool
}

// Lower resolves every declaration of f. Upcall types are bound to lnk.
func Lower(f *File, lnk linker.Linker) (*Schema, error) {
	l := &lowerer{
		file:      f,
		lnk:       lnk,
		reg:       newRegistry(f),
		structs:   make(map[string]*StructDecl),
		callbacks: make(map[string]*CallbackDecl),
		upcalls:   make(map[string]*bind.UpcallType),
		enums:     make(map[string]*bind.EnumType),
		building:  make(map[string]bool),
	}
	for _, d := range f.Structs {
		if _, dup := l.structs[d.Name]; dup {
			return nil, fmt.Errorf("struct %s declared twice", d.Name)
		}
		l.structs[d.Name] = d
	}
	for _, d := range f.Callbacks {
		l.callbacks[d.Name] = d
	}

	// Phase 1: Enums
	for _, e := range f.Enums {
		if err := l.lowerEnum(e); err != nil {
			return nil, err
		}
	}

	// Phase 2: Struct layouts
	structs, err := l.lowerStructs()
	if err != nil {
		return nil, err
	}

	// Phase 3: Callbacks
	for _, c := range f.Callbacks {
		if _, err := l.upcall(c.Name); err != nil {
			return nil, err
		}
	}

	// Phase 4: Bindings
	s := &Schema{Registry: l.reg, Structs: structs, Upcalls: l.upcalls, Enums: l.enums}
	for _, b := range f.Bindings {
		lowered, err := l.lowerBinding(b)
		if err != nil {
			return nil, err
		}
		s.Bindings = append(s.Bindings, lowered)
	}
	return s, nil
}

func newRegistry(f *File) *layout.Registry {
	r := layout.NewRegistry()
	for alias, underlying := range f.Aliases {
		r.RegisterAlias(alias, underlying)
	}
	return r
}

func (l *lowerer) lowerEnum(e *EnumDecl) error {
	switch l.reg.ResolveType(e.GoType) {
	case "int32", "uint32":
	default:
		return fmt.Errorf("enum %s: native enums are int32, got %s", e.Name, e.GoType)
	}
	et, ok := bind.LookupEnum(e.Name)
	if !ok {
		// Returns of this enum fail composition until a wrapper is registered.
		et = &bind.EnumType{Name: e.Name}
	}
	l.enums[e.Name] = et
	return nil
}

// lowerStructs lays structs out in by-value dependency order. The first pass
// leaves pointers to structs not yet laid out untyped; the second pass
// rebuilds every struct with typed pointers.
func (l *lowerer) lowerStructs() ([]*layout.StructLayout, error) {
	order, err := l.structOrder()
	if err != nil {
		return nil, err
	}

	first := newRegistry(l.file)
	for _, name := range order {
		s, err := l.buildStruct(l.structs[name], first, first)
		if err != nil {
			return nil, err
		}
		first.Register(name, s)
	}

	for _, name := range order {
		s, err := l.buildStruct(l.structs[name], l.reg, first)
		if err != nil {
			return nil, err
		}
		l.reg.Register(name, s)
	}

	out := make([]*layout.StructLayout, 0, len(l.file.Structs))
	for _, d := range l.file.Structs {
		s, _ := l.reg.Lookup(d.Name)
		out = append(out, s)
	}
	return out, nil
}

func (l *lowerer) structOrder() ([]string, error) {
	const (
		visiting = 1
		done     = 2
	)
	state := make(map[string]int)
	var order []string

	var visit func(name string) error
	visit = func(name string) error {
		switch state[name] {
		case visiting:
			return fmt.Errorf("struct %s contains itself by value", name)
		case done:
			return nil
		}
		state[name] = visiting
		for _, f := range l.structs[name].Fields {
			dep := valueDependency(l.reg.ResolveType(f.GoType))
			if _, ok := l.structs[dep]; ok {
				if err := visit(dep); err != nil {
					return err
				}
			}
		}
		state[name] = done
		order = append(order, name)
		return nil
	}

	for _, d := range l.file.Structs {
		if err := visit(d.Name); err != nil {
			return nil, err
		}
	}
	return order, nil
}

// valueDependency strips array brackets from goType and returns the element
// type name, or "" when the field holds a pointer.
func valueDependency(goType string) string {
	for strings.HasPrefix(goType, "[") {
		i := strings.IndexByte(goType, ']')
		if i < 0 {
			return ""
		}
		goType = goType[i+1:]
	}
	if strings.HasPrefix(goType, "*") {
		return ""
	}
	return goType
}

func (l *lowerer) buildStruct(d *StructDecl, values, pointers *layout.Registry) (*layout.StructLayout, error) {
	specs := make([]layout.FieldSpec, 0, len(d.Fields))
	for _, f := range d.Fields {
		spec, err := l.fieldSpec(f, values, pointers)
		if err != nil {
			return nil, fmt.Errorf("struct %s field %s: %w", d.Name, f.Name, err)
		}
		specs = append(specs, spec)
	}
	return layout.NewStruct(d.Name, specs)
}

func (l *lowerer) fieldSpec(f Field, values, pointers *layout.Registry) (layout.FieldSpec, error) {
	if f.Tag != nil && f.Tag.Pad {
		pad, err := values.LayoutOf(f.GoType)
		if err != nil {
			return layout.FieldSpec{}, err
		}
		return layout.FieldSpec{Name: f.Name, Padding: pad.Size()}, nil
	}

	if _, ok := l.callbacks[f.GoType]; ok || f.GoType == "func" {
		cb, _ := layout.Of(layout.Callback)
		return layout.FieldSpec{Name: f.Name, Layout: cb}, nil
	}

	if target, ok := strings.CutPrefix(f.GoType, "*"); ok {
		if s, ok := values.Lookup(target); ok {
			return layout.FieldSpec{Name: f.Name, Layout: s, Pointer: true}, nil
		}
		if s, ok := pointers.Lookup(target); ok {
			return layout.FieldSpec{Name: f.Name, Layout: s, Pointer: true}, nil
		}
		if _, ok := l.structs[target]; ok {
			return layout.FieldSpec{Name: f.Name, Layout: layout.Pointer}, nil
		}
	}

	fl, err := values.LayoutOf(f.GoType)
	if err != nil {
		return layout.FieldSpec{}, err
	}
	return layout.FieldSpec{Name: f.Name, Layout: fl}, nil
}

func (l *lowerer) upcall(name string) (*bind.UpcallType, error) {
	if u, ok := l.upcalls[name]; ok {
		return u, nil
	}
	if l.building[name] {
		return nil, fmt.Errorf("callback %s refers to itself", name)
	}
	l.building[name] = true
	defer delete(l.building, name)

	decl := l.callbacks[name]
	spec := bind.DelegateSpec{Name: name, Charset: decl.Anno.Charset}
	for _, m := range decl.Methods {
		if !m.Stub {
			spec.Methods = append(spec.Methods, bind.Method{Name: m.Name})
			continue
		}
		params, ret, err := l.lowerFunc(m, "")
		if err != nil {
			return nil, fmt.Errorf("callback %s.%s: %w", name, m.Name, err)
		}
		spec.Methods = append(spec.Methods, bind.Method{Name: m.Name, Stub: true, Params: params, Return: ret})
	}

	u, err := bind.NewUpcallType(spec, l.lnk)
	if err != nil {
		return nil, fmt.Errorf("callback %s: %w", name, err)
	}
	l.upcalls[name] = u
	return u, nil
}

func (l *lowerer) lowerBinding(b *BindingDecl) (*Binding, error) {
	out := &Binding{Name: b.Name, Owner: b.Name, Charset: b.Anno.Charset}
	if b.Anno.Target != "" {
		out.Owner = b.Anno.Target
	}

	for _, m := range b.Methods {
		params, ret, err := l.lowerFunc(m, b.Anno.Charset)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", b.Name, m.Name, err)
		}

		tag := m.Tag
		if tag == nil {
			tag = &MethodTag{}
		}
		entry := tag.Entrypoint
		if entry == "" {
			entry = strcase.ToSnake(m.Name)
		}

		sig := bind.Signature{
			Name:       m.Name,
			Entrypoint: entry,
			Owner:      out.Owner,
			Params:     params,
			Return:     ret,
			Flags: bind.Flags{
				ByValue:                 tag.ByValue,
				Critical:                tag.Critical,
				CriticalAllowHeapAccess: tag.Heap,
				Defaulted:               tag.Optional,
			},
		}
		if err := bind.Validate(sig); err != nil {
			return nil, err
		}
		out.Signatures = append(out.Signatures, sig)
	}
	return out, nil
}

func (l *lowerer) lowerFunc(m *FuncDecl, charset string) ([]bind.Param, bind.Return, error) {
	var params []bind.Param
	for _, p := range m.Params {
		ht, err := l.hostType(p.GoType)
		if err != nil {
			return nil, bind.Return{}, fmt.Errorf("parameter %s: %w", p.Name, err)
		}
		opts := m.Args[p.Name]
		if opts == nil {
			opts = &ValueOptions{}
		}

		param := bind.Param{
			Name:        p.Name,
			Kind:        ht.kind,
			Elem:        ht.elem,
			Ref:         ht.ref || opts.Ref,
			NullableRef: opts.Nullable,
			Size:        opts.Size,
			Charset:     opts.Charset,
			ByValue:     opts.ByValue,
			Struct:      ht.structLayout,
			Upcall:      ht.upcall,
			Enum:        ht.enum,
		}
		if param.Charset == "" && carriesString(ht) {
			param.Charset = charset
		}
		if param.BoolAs, err = boolAs(opts.BoolAs); err != nil {
			return nil, bind.Return{}, fmt.Errorf("parameter %s: %w", p.Name, err)
		}
		params = append(params, param)
	}

	ret, err := l.lowerReturn(m, charset)
	return params, ret, err
}

func (l *lowerer) lowerReturn(m *FuncDecl, charset string) (bind.Return, error) {
	results := m.Results
	if n := len(results); n > 0 && results[n-1] == "error" {
		results = results[:n-1]
	}

	var opts ValueOptions
	if m.Tag != nil {
		opts = m.Tag.Ret
	}

	switch len(results) {
	case 0:
		return bind.Return{Kind: bind.Void}, nil
	case 1:
	default:
		return bind.Return{}, errors.New("methods return at most one value and an error")
	}

	ht, err := l.hostType(results[0])
	if err != nil {
		return bind.Return{}, fmt.Errorf("return: %w", err)
	}
	switch {
	case ht.kind == bind.Allocator || ht.kind == bind.Arena:
		return bind.Return{}, fmt.Errorf("return: cannot return %s", ht.kind)
	case ht.ref:
		return bind.Return{}, fmt.Errorf("return: cannot return %s", results[0])
	}

	ret := bind.Return{
		Kind:    ht.kind,
		Elem:    ht.elem,
		Size:    opts.Size,
		Charset: opts.Charset,
		Struct:  ht.structLayout,
		Upcall:  ht.upcall,
		Enum:    ht.enum,
	}
	if ret.Charset == "" && carriesString(ht) {
		ret.Charset = charset
	}
	if ret.BoolAs, err = boolAs(opts.BoolAs); err != nil {
		return bind.Return{}, fmt.Errorf("return: %w", err)
	}
	return ret, nil
}

type hostType struct {
	kind         bind.HostKind
	elem         bind.HostKind
	ref          bool
	structLayout *layout.StructLayout
	upcall       *bind.UpcallType
	enum         *bind.EnumType
}

func carriesString(ht hostType) bool {
	return ht.kind == bind.String || (ht.kind == bind.Array && ht.elem == bind.String)
}

func boolAs(name string) (layout.Kind, error) {
	if name == "" {
		return layout.Void, nil
	}
	k, ok := layout.KindOf(name)
	if !ok {
		return layout.Void, fmt.Errorf("unknown bool carrier %s", name)
	}
	return k, nil
}

// hostType maps a Go type name used in a method signature onto a host kind.
func (l *lowerer) hostType(goType string) (hostType, error) {
	switch goType {
	case "memory.Allocator", "Allocator":
		return hostType{kind: bind.Allocator}, nil
	case "memory.Arena", "Arena":
		return hostType{kind: bind.Arena}, nil
	case "memory.Segment", "Segment":
		return hostType{kind: bind.Segment}, nil
	case "string":
		return hostType{kind: bind.String}, nil
	case "*string":
		return hostType{kind: bind.String, ref: true}, nil
	}

	if elemType, ok := strings.CutPrefix(goType, "[]"); ok {
		elem, err := l.hostType(elemType)
		if err != nil {
			return hostType{}, fmt.Errorf("array element: %w", err)
		}
		switch {
		case elem.ref:
		case elem.kind >= bind.Bool && elem.kind <= bind.Float64,
			elem.kind == bind.String, elem.kind == bind.Address:
			return hostType{kind: bind.Array, elem: elem.kind}, nil
		}
		return hostType{}, &layout.UnsupportedTypeError{Type: goType, Reason: "arrays hold primitives, strings or addresses"}
	}

	if target, ok := strings.CutPrefix(goType, "*"); ok {
		if s, ok := l.reg.Lookup(target); ok {
			return hostType{kind: bind.StructRef, structLayout: s}, nil
		}
	}
	if s, ok := l.reg.Lookup(goType); ok {
		return hostType{kind: bind.StructValue, structLayout: s}, nil
	}
	if e, ok := l.enums[goType]; ok {
		return hostType{kind: bind.Enum, enum: e}, nil
	}
	if _, ok := l.callbacks[goType]; ok {
		u, err := l.upcall(goType)
		if err != nil {
			return hostType{}, err
		}
		return hostType{kind: bind.Callback, upcall: u}, nil
	}

	if resolved := l.reg.ResolveType(goType); resolved != goType {
		return l.hostType(resolved)
	}

	if k, ok := layout.KindOf(goType); ok {
		switch k {
		case layout.Bool:
			return hostType{kind: bind.Bool}, nil
		case layout.Char:
			return hostType{kind: bind.Char}, nil
		case layout.Int8:
			return hostType{kind: bind.Int8}, nil
		case layout.Int16:
			return hostType{kind: bind.Int16}, nil
		case layout.Int32:
			return hostType{kind: bind.Int32}, nil
		case layout.Int64:
			return hostType{kind: bind.Int64}, nil
		case layout.Float32:
			return hostType{kind: bind.Float32}, nil
		case layout.Float64:
			return hostType{kind: bind.Float64}, nil
		case layout.Address:
			return hostType{kind: bind.Address}, nil
		}
	}
	return hostType{}, &layout.UnsupportedTypeError{Type: goType, Reason: "no host kind"}
}
