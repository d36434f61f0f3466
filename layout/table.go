package layout

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Kind is a host value kind with a native layout.
type Kind int

const (
	Void Kind = iota
	Bool
	Char
	Int8
	Int16
	Int32
	Int64
	Float32
	Float64
	Address     // opaque pointer or segment
	StructRef   // pointer to a struct
	StructValue // struct copied by value
	Callback    // native function pointer
)

func (k Kind) String() string {
	switch k {
	case Void:
		return "void"
	case Bool:
		return "bool"
	case Char:
		return "char"
	case Int8:
		return "int8"
	case Int16:
		return "int16"
	case Int32:
		return "int32"
	case Int64:
		return "int64"
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	case Address:
		return "address"
	case StructRef:
		return "struct*"
	case StructValue:
		return "struct"
	case Callback:
		return "callback"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// UnsupportedTypeError reports a host kind or type with no native layout.
type UnsupportedTypeError struct {
	Type   string
	Reason string
}

func (e *UnsupportedTypeError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("unsupported type: %s", e.Type)
	}
	return fmt.Sprintf("unsupported type: %s (%s)", e.Type, e.Reason)
}

// Native value layouts.
var (
	BoolLayout    = newValue("z8", CarrierInt8, 1)
	CharLayout    = newValue("c8", CarrierInt8, 1)
	Int8Layout    = newValue("i8", CarrierInt8, 1)
	Int16Layout   = newValue("i16", CarrierInt16, 2)
	Int32Layout   = newValue("i32", CarrierInt32, 4)
	Int64Layout   = newValue("i64", CarrierInt64, 8)
	Float32Layout = newValue("f32", CarrierFloat32, 4)
	Float64Layout = newValue("f64", CarrierFloat64, 8)
	Pointer       = AddressLayout{}
)

// NativeBool is the layout used for booleans with no representation
// override: one byte, zero or one.
var NativeBool = BoolLayout

// Of returns the layout of a primitive, address or callback kind.
func Of(k Kind) (Layout, error) {
	switch k {
	case Bool:
		return NativeBool, nil
	case Char:
		return CharLayout, nil
	case Int8:
		return Int8Layout, nil
	case Int16:
		return Int16Layout, nil
	case Int32:
		return Int32Layout, nil
	case Int64:
		return Int64Layout, nil
	case Float32:
		return Float32Layout, nil
	case Float64:
		return Float64Layout, nil
	case Address, Callback:
		return Pointer, nil
	case StructRef, StructValue:
		return nil, &UnsupportedTypeError{Type: k.String(), Reason: "struct kinds need a struct layout"}
	default:
		return nil, &UnsupportedTypeError{Type: k.String()}
	}
}

// OfBool returns the integer layout that carries a boolean. Zero selects the
// native boolean.
func OfBool(as Kind) (ValueLayout, error) {
	switch as {
	case Void, Bool:
		return NativeBool, nil
	case Int8:
		return Int8Layout, nil
	case Int16:
		return Int16Layout, nil
	case Int32:
		return Int32Layout, nil
	case Int64:
		return Int64Layout, nil
	default:
		return ValueLayout{}, &UnsupportedTypeError{Type: "bool as " + as.String(), Reason: "booleans are carried by integers"}
	}
}

// OfStruct returns the layout of a struct passed by value or by reference.
func OfStruct(k Kind, s *StructLayout) (Layout, error) {
	if s == nil {
		return nil, &UnsupportedTypeError{Type: k.String(), Reason: "missing struct layout"}
	}
	switch k {
	case StructValue:
		return s, nil
	case StructRef:
		return AddressLayout{Target: s}, nil
	default:
		return nil, &UnsupportedTypeError{Type: k.String(), Reason: "not a struct kind"}
	}
}

// KindOf maps a Go type name to its kind.
func KindOf(goType string) (Kind, bool) {
	switch goType {
	case "bool":
		return Bool, true
	case "byte":
		return Char, true
	case "int8", "uint8":
		return Int8, true
	case "int16", "uint16":
		return Int16, true
	case "int32", "uint32", "rune":
		return Int32, true
	case "int64", "uint64":
		return Int64, true
	case "float32":
		return Float32, true
	case "float64":
		return Float64, true
	case "uintptr", "Address", "memory.Address", "unsafe.Pointer":
		return Address, true
	}
	return Void, false
}

var arrayRe = regexp.MustCompile(`^\[(\d+)\](.+)$`)

// Registry tracks struct layouts and type aliases by name.
type Registry struct {
	structs map[string]*StructLayout
	aliases map[string]string // alias → underlying type
}

func NewRegistry() *Registry {
	return &Registry{
		structs: make(map[string]*StructLayout),
		aliases: make(map[string]string),
	}
}

// Register adds a struct layout under name.
func (r *Registry) Register(name string, s *StructLayout) {
	r.structs[name] = s
}

// RegisterAlias adds a type alias mapping (e.g., type Handle = uintptr)
func (r *Registry) RegisterAlias(alias, underlying string) {
	r.aliases[alias] = underlying
}

// Lookup returns the struct layout registered under name.
func (r *Registry) Lookup(name string) (*StructLayout, bool) {
	s, ok := r.structs[name]
	return s, ok
}

// ResolveType resolves type aliases to their underlying types.
// Returns the original type if not an alias.
func (r *Registry) ResolveType(goType string) string {
	seen := map[string]bool{}
	for !seen[goType] {
		seen[goType] = true
		underlying, ok := r.aliases[goType]
		if !ok {
			break
		}
		goType = underlying
	}
	return goType
}

// LayoutOf returns the in-memory layout of a Go type name:
// primitives, [N]T arrays, *T pointers and registered structs.
func (r *Registry) LayoutOf(goType string) (Layout, error) {
	goType = r.ResolveType(strings.TrimSpace(goType))

	if strings.HasPrefix(goType, "[]") {
		return nil, &UnsupportedTypeError{Type: goType, Reason: "slices have no fixed layout"}
	}

	if m := arrayRe.FindStringSubmatch(goType); m != nil {
		n, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid array length: %s", m[1])
		}
		elem, err := r.LayoutOf(m[2])
		if err != nil {
			return nil, fmt.Errorf("array element: %w", err)
		}
		return Sequence(n, elem), nil
	}

	if strings.HasPrefix(goType, "*") {
		inner := strings.TrimPrefix(goType, "*")
		target, err := r.LayoutOf(inner)
		if err != nil {
			return nil, fmt.Errorf("pointer target: %w", err)
		}
		return AddressLayout{Target: target}, nil
	}

	if k, ok := KindOf(goType); ok {
		return Of(k)
	}

	if s, ok := r.Lookup(goType); ok {
		return s, nil
	}

	return nil, &UnsupportedTypeError{Type: goType, Reason: "not registered"}
}
