package bind

import "fmt"

// IllegalSignatureError reports a signature that cannot be bound as
// declared, such as an allocator requirement the first parameter does not
// satisfy.
type IllegalSignatureError struct {
	Signature string
	Param     string // empty when the problem is not tied to one parameter
	Reason    string
}

func (e *IllegalSignatureError) Error() string {
	if e.Param == "" {
		return fmt.Sprintf("illegal signature %s: %s", e.Signature, e.Reason)
	}
	return fmt.Sprintf("illegal signature %s: parameter %s: %s", e.Signature, e.Param, e.Reason)
}

// SymbolNotFoundError reports an entrypoint that could not be resolved for a
// method with no fallback.
type SymbolNotFoundError struct {
	Entrypoint string
	Descriptor string
	Signature  string
}

func (e *SymbolNotFoundError) Error() string {
	return fmt.Sprintf("symbol %s not found (descriptor %s, signature %s)", e.Entrypoint, e.Descriptor, e.Signature)
}

// SizeMismatchError reports an array or segment whose length differs from
// its declared size.
type SizeMismatchError struct {
	Signature string
	Param     string
	Want      int64
	Got       int64
}

func (e *SizeMismatchError) Error() string {
	return fmt.Sprintf("%s: parameter %s: declared size %d, got %d", e.Signature, e.Param, e.Want, e.Got)
}

// NativeCallFailedError wraps a failure raised by the native call itself.
type NativeCallFailedError struct {
	Signature  string
	Entrypoint string
	Cause      error
}

func (e *NativeCallFailedError) Error() string {
	return fmt.Sprintf("native call %s (%s) failed: %v", e.Signature, e.Entrypoint, e.Cause)
}

func (e *NativeCallFailedError) Unwrap() error { return e.Cause }

// StubProviderNotFoundError reports a delegate type with no stub method.
type StubProviderNotFoundError struct {
	Type string
}

func (e *StubProviderNotFoundError) Error() string {
	return fmt.Sprintf("delegate type %s declares no stub method", e.Type)
}

// WrapperNotFoundError reports an enum type returned from native code with
// no factory to wrap the raw value.
type WrapperNotFoundError struct {
	Type string
}

func (e *WrapperNotFoundError) Error() string {
	return fmt.Sprintf("enum type %s has no wrapper", e.Type)
}

// ArgumentError reports a host argument of the wrong Go type or value.
type ArgumentError struct {
	Signature string
	Param     string
	Index     int
	Reason    string
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("%s: argument %d (%s): %s", e.Signature, e.Index, e.Param, e.Reason)
}
