package bind

import (
	"fmt"

	"github.com/alexhholmes/nativebind/layout"
)

// BuildDescriptor derives the native function descriptor of sig. An override
// keyed by the entrypoint is returned verbatim.
func BuildDescriptor(sig Signature, overrides map[string]layout.FunctionDescriptor) (layout.FunctionDescriptor, error) {
	if fd, ok := overrides[sig.EntrypointName()]; ok {
		return fd, nil
	}

	ret, err := returnLayout(sig)
	if err != nil {
		return layout.FunctionDescriptor{}, err
	}

	params := sig.Params
	if firstSlot(sig) != slotNone {
		params = params[1:]
	}
	args, err := paramLayouts(sig, params)
	if err != nil {
		return layout.FunctionDescriptor{}, err
	}
	return layout.NewFunction(ret, args...), nil
}

func returnLayout(sig Signature) (layout.Layout, error) {
	r := sig.Return
	switch {
	case r.Kind == Void:
		return nil, nil
	case sig.returnsByValue():
		if r.Struct == nil {
			return nil, &IllegalSignatureError{Signature: sig.QualifiedName(), Reason: "by-value return has no struct layout"}
		}
		return r.Struct, nil
	case r.Kind == Array && !r.spec().sized():
		return nil, &IllegalSignatureError{Signature: sig.QualifiedName(), Reason: "array return needs a size"}
	case r.Kind == Allocator || r.Kind == Arena:
		return nil, &IllegalSignatureError{Signature: sig.QualifiedName(), Reason: "cannot return an " + r.Kind.String()}
	}
	l, err := valueLayout(r.spec())
	if err != nil {
		return nil, fmt.Errorf("%s: return: %w", sig.QualifiedName(), err)
	}
	return l, nil
}

func paramLayouts(sig Signature, params []Param) ([]layout.Layout, error) {
	args := make([]layout.Layout, 0, len(params))
	for _, p := range params {
		if p.Kind == Allocator || p.Kind == Arena {
			return nil, &IllegalSignatureError{
				Signature: sig.QualifiedName(), Param: p.Name,
				Reason: fmt.Sprintf("%s parameters must come first", p.Kind),
			}
		}
		l, err := valueLayout(p.spec())
		if err != nil {
			return nil, fmt.Errorf("%s: parameter %s: %w", sig.QualifiedName(), p.Name, err)
		}
		args = append(args, l)
	}
	return args, nil
}

// valueLayout maps a parameter or return value onto its native layout.
func valueLayout(v value) (layout.Layout, error) {
	switch v.Kind {
	case Bool:
		return layout.OfBool(v.BoolAs)
	case Char, Int8, Int16, Int32, Int64, Float32, Float64:
		return layout.Of(v.Kind.layoutKind())
	case Address, String:
		return layout.Pointer, nil
	case Callback:
		return layout.Of(layout.Callback)
	case Enum:
		return layout.Int32Layout, nil
	case Array:
		elem, err := elemLayout(v)
		if err != nil {
			return nil, err
		}
		if v.sized() {
			return layout.Pointer.WithTarget(layout.Sequence(v.Size, elem)), nil
		}
		return layout.Pointer, nil
	case Segment:
		if v.sized() {
			return layout.Pointer.WithTarget(layout.Sequence(v.Size, layout.Int8Layout)), nil
		}
		return layout.Pointer, nil
	case StructRef:
		if v.sized() && v.Struct != nil {
			return layout.Pointer.WithTarget(layout.Sequence(v.Size, v.Struct)), nil
		}
		return layout.Pointer, nil
	case StructValue:
		return layout.OfStruct(layout.StructValue, v.Struct)
	}
	return nil, &layout.UnsupportedTypeError{Type: v.Kind.String()}
}

// elemLayout returns the native layout of one array element.
func elemLayout(v value) (layout.Layout, error) {
	switch v.Elem {
	case Bool:
		return layout.OfBool(v.BoolAs)
	case Char, Int8, Int16, Int32, Int64, Float32, Float64:
		return layout.Of(v.Elem.layoutKind())
	case String, Address:
		return layout.Pointer, nil
	}
	return nil, &layout.UnsupportedTypeError{Type: "[]" + v.Elem.String(), Reason: "no native array layout"}
}
