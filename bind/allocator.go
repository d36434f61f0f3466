package bind

import "fmt"

// Requirement is the memory a call needs from its caller. Stricter
// requirements compare greater.
type Requirement int

const (
	NeedNone      Requirement = iota
	NeedStack                 // transient buffers that die before the call returns
	NeedAllocator             // memory that outlives the call
	NeedArena                 // memory plus callback stub lifetime
)

func (r Requirement) String() string {
	switch r {
	case NeedNone:
		return "none"
	case NeedStack:
		return "stack"
	case NeedAllocator:
		return "allocator"
	case NeedArena:
		return "arena"
	default:
		return fmt.Sprintf("requirement(%d)", int(r))
	}
}

// Merge returns the stricter of a and b.
func Merge(a, b Requirement) Requirement {
	if b > a {
		return b
	}
	return a
}

// ParamRequirement returns what passing p needs.
func ParamRequirement(p Param) Requirement {
	switch p.Kind {
	case Callback:
		return NeedArena
	case String, Array, StructValue:
		return NeedStack
	case Segment:
		if p.ByValue {
			return NeedStack
		}
	}
	return NeedNone
}

// Analyze folds the requirements of every parameter and the return value.
func Analyze(sig Signature) Requirement {
	req := NeedNone
	if sig.returnsByValue() {
		req = NeedAllocator
	}
	for _, p := range sig.Params {
		req = Merge(req, ParamRequirement(p))
	}
	return req
}

// slotRole is what the first parameter is used for.
type slotRole int

const (
	slotNone        slotRole = iota
	slotAllocator            // caller-provided allocator or arena
	slotDestination          // segment receiving a by-value struct return
)

func firstSlot(sig Signature) slotRole {
	if len(sig.Params) == 0 {
		return slotNone
	}
	switch sig.Params[0].Kind {
	case Allocator, Arena:
		return slotAllocator
	case Segment:
		if sig.returnsByValue() {
			return slotDestination
		}
	}
	return slotNone
}

// Validate checks that the first parameter satisfies the signature's
// requirement and that allocator parameters appear only in slot 0.
func Validate(sig Signature) error {
	illegal := func(p Param, format string, args ...any) error {
		return &IllegalSignatureError{Signature: sig.QualifiedName(), Param: p.Name, Reason: fmt.Sprintf(format, args...)}
	}

	for i, p := range sig.Params {
		if i > 0 && (p.Kind == Allocator || p.Kind == Arena) {
			return illegal(p, "%s parameters must come first", p.Kind)
		}
		if p.Kind == Void {
			return illegal(p, "void parameter")
		}
	}

	req := Analyze(sig)
	var first Param
	if len(sig.Params) > 0 {
		first = sig.Params[0]
	}

	switch req {
	case NeedArena:
		if first.Kind != Arena {
			return illegal(culprit(sig, NeedArena), "requires an arena as the first parameter")
		}
	case NeedAllocator:
		switch {
		case first.Kind == Allocator, first.Kind == Arena:
		case first.Kind == Segment && sig.returnsByValue():
		default:
			return &IllegalSignatureError{
				Signature: sig.QualifiedName(),
				Reason:    "by-value struct return requires an allocator or destination segment as the first parameter",
			}
		}
	}
	return nil
}

// culprit returns the first parameter demanding req.
func culprit(sig Signature, req Requirement) Param {
	for _, p := range sig.Params {
		if ParamRequirement(p) == req {
			return p
		}
	}
	return Param{}
}
