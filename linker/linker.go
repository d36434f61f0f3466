// Package linker is the native-call primitive: it resolves symbols and turns
// an address plus a function descriptor into something callable, in both
// directions.
package linker

import (
	"fmt"

	"github.com/alexhholmes/nativebind/layout"
	"github.com/alexhholmes/nativebind/memory"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("nativebind.linker")

// SymbolSource resolves entrypoint names to native addresses.
type SymbolSource interface {
	Name() string
	Find(name string) (memory.Address, bool)
}

// Options are per-entrypoint call options.
type Options struct {
	// Critical calls are short and never reenter Go. The linker skips its
	// thread bookkeeping for them.
	Critical bool
	// AllowHeapAccess lets a critical call receive addresses of pinned Go
	// memory directly.
	AllowHeapAccess bool
}

func (o Options) String() string {
	switch {
	case o.Critical && o.AllowHeapAccess:
		return "critical+heap"
	case o.Critical:
		return "critical"
	default:
		return "default"
	}
}

// Handle is a bound downcall.
type Handle interface {
	// Call invokes the native function. Arguments must already be in their
	// carrier types. ret receives by-value struct returns.
	Call(ret memory.Allocator, args []any) (any, error)
	Address() memory.Address
	Descriptor() layout.FunctionDescriptor
	Options() Options
}

// UpcallFunc receives carrier-typed arguments and returns a carrier-typed
// result, or nil for void.
type UpcallFunc func(args []any) (any, error)

// Linker builds downcall handles and upcall stubs.
type Linker interface {
	Downcall(addr memory.Address, fd layout.FunctionDescriptor, opts Options) (Handle, error)
	// Upcall returns a native function pointer that invokes fn. The pointer
	// is valid until arena closes.
	Upcall(fd layout.FunctionDescriptor, fn UpcallFunc, arena memory.Arena) (memory.Address, error)
}

// CarrierError reports a value whose Go type does not match the carrier of
// its descriptor slot.
type CarrierError struct {
	Index int // -1 for the return value
	Want  layout.Carrier
	Got   any
}

func (e *CarrierError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("return value: want %s, got %T", e.Want, e.Got)
	}
	return fmt.Sprintf("argument %d: want %s, got %T", e.Index, e.Want, e.Got)
}

// CheckArgs validates args against the argument layouts of fd.
func CheckArgs(fd layout.FunctionDescriptor, args []any) error {
	if len(args) != len(fd.Args) {
		return fmt.Errorf("descriptor %s takes %d arguments, got %d", fd, len(fd.Args), len(args))
	}
	for i, a := range args {
		want := layout.CarrierOf(fd.Args[i])
		if !IsCarrier(want, a) {
			return &CarrierError{Index: i, Want: want, Got: a}
		}
	}
	return nil
}

// IsCarrier reports whether v has the Go type of carrier c.
func IsCarrier(c layout.Carrier, v any) bool {
	switch c {
	case layout.CarrierInt8:
		_, ok := v.(int8)
		return ok
	case layout.CarrierInt16:
		_, ok := v.(int16)
		return ok
	case layout.CarrierInt32:
		_, ok := v.(int32)
		return ok
	case layout.CarrierInt64:
		_, ok := v.(int64)
		return ok
	case layout.CarrierFloat32:
		_, ok := v.(float32)
		return ok
	case layout.CarrierFloat64:
		_, ok := v.(float64)
		return ok
	case layout.CarrierAddress:
		_, ok := v.(memory.Address)
		return ok
	case layout.CarrierSegment:
		_, ok := v.(memory.Segment)
		return ok
	}
	return false
}

// Coerce converts an integer, float, or address-like value to carrier c.
// It is used on values produced by host code, which may use wider types.
func Coerce(c layout.Carrier, v any) (any, error) {
	if IsCarrier(c, v) {
		return v, nil
	}
	switch c {
	case layout.CarrierInt8, layout.CarrierInt16, layout.CarrierInt32, layout.CarrierInt64:
		n, err := layout.ToInt64(v)
		if err != nil {
			return nil, err
		}
		switch c {
		case layout.CarrierInt8:
			return int8(n), nil
		case layout.CarrierInt16:
			return int16(n), nil
		case layout.CarrierInt32:
			return int32(n), nil
		}
		return n, nil
	case layout.CarrierFloat32:
		f, err := layout.ToFloat64(v)
		if err != nil {
			return nil, err
		}
		return float32(f), nil
	case layout.CarrierFloat64:
		return layout.ToFloat64(v)
	case layout.CarrierAddress:
		return layout.ToAddress(v)
	}
	return nil, fmt.Errorf("cannot coerce %T to %s", v, c)
}

// trap converts a panic raised during a native call into an error.
func trap(name string, err *error) {
	if r := recover(); r != nil {
		if e, ok := r.(error); ok {
			*err = fmt.Errorf("%s: %w", name, e)
		} else {
			*err = fmt.Errorf("%s: %v", name, r)
		}
	}
}
