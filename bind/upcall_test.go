package bind

import (
	"testing"

	"github.com/alexhholmes/nativebind/layout"
	"github.com/alexhholmes/nativebind/linker"
	"github.com/alexhholmes/nativebind/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func comparatorSpec() DelegateSpec {
	return DelegateSpec{
		Name: "Comparator",
		Methods: []Method{
			{Name: "String", Return: Return{Kind: String}},
			{
				Name: "Compare",
				Stub: true,
				Params: []Param{
					{Name: "a", Kind: Int32},
					{Name: "b", Kind: Int32},
				},
				Return: Return{Kind: Int32},
			},
			{Name: "Other", Stub: true, Return: Return{Kind: Int64}},
		},
	}
}

// applyLib exports apply(cb, a, b), which calls cb(a, b).
func applyLib(t *testing.T) *linker.Library {
	lib := newLib(t)
	lib.Define("apply", func(args []any) (any, error) {
		return lib.Invoke(args[0].(memory.Address), args[1], args[2])
	})
	lib.Define("native_sub", func(args []any) (any, error) {
		return args[0].(int32) - args[1].(int32), nil
	})
	return lib
}

func TestNewUpcallType(t *testing.T) {
	lib := newLib(t)
	u, err := NewUpcallType(comparatorSpec(), lib)
	require.NoError(t, err)
	assert.Equal(t, "Compare", u.Method.Name, "first stub method wins")
	assert.Equal(t, "(i32,i32)i32", u.Descriptor.String())

	_, err = NewUpcallType(DelegateSpec{Name: "Empty", Methods: []Method{{Name: "run"}}}, lib)
	var spnf *StubProviderNotFoundError
	require.ErrorAs(t, err, &spnf)
	assert.Equal(t, "Empty", spnf.Type)

	_, err = NewUpcallType(DelegateSpec{Name: "Bad", Methods: []Method{{
		Name: "run", Stub: true, Params: []Param{{Name: "a", Kind: Arena}},
	}}}, lib)
	var ise *IllegalSignatureError
	assert.ErrorAs(t, err, &ise)
}

func TestCallbackRoundTrip(t *testing.T) {
	lib := applyLib(t)
	cmp, err := NewUpcallType(comparatorSpec(), lib)
	require.NoError(t, err)

	b := mustCompose(t, lib, []Signature{{
		Name: "apply",
		Params: []Param{
			{Name: "arena", Kind: Arena},
			{Name: "cb", Kind: Callback, Upcall: cmp},
			{Name: "a", Kind: Int32},
			{Name: "b", Kind: Int32},
		},
		Return: Return{Kind: Int32},
	}})

	arena := memory.NewArena()
	defer arena.Close()

	// native pointer -> delegate -> stub pointer -> native call target
	sub, _ := lib.Find("native_sub")
	d, err := cmp.Wrap(sub)
	require.NoError(t, err)
	r, err := d.Call(7, 2)
	require.NoError(t, err)
	assert.Equal(t, int32(5), r)

	stub, err := cmp.MakeStub(arena, d)
	require.NoError(t, err)
	r, err = b.Call("apply", arena, stub, 10, 4)
	require.NoError(t, err)
	assert.Equal(t, int32(6), r)

	r, err = b.Call("apply", arena, d, 3, 4)
	require.NoError(t, err)
	assert.Equal(t, int32(-1), r)

	// host function -> stub -> native call target -> delegate
	var calls int
	mul := HostFunc(func(args ...any) (any, error) {
		calls++
		return args[0].(int32) * args[1].(int32), nil
	})
	r, err = b.Call("apply", arena, mul, 6, 7)
	require.NoError(t, err)
	assert.Equal(t, int32(42), r)
	assert.Equal(t, 1, calls)

	hostStub, err := cmp.MakeStub(arena, mul)
	require.NoError(t, err)
	back, err := cmp.Wrap(hostStub)
	require.NoError(t, err)
	r, err = back.Call(int32(3), int32(3))
	require.NoError(t, err)
	assert.Equal(t, int32(9), r)
	assert.Equal(t, 2, calls)

	nilDelegate, err := cmp.Wrap(memory.Null)
	require.NoError(t, err)
	assert.Nil(t, nilDelegate)
}

func TestCallbackStubLifetime(t *testing.T) {
	lib := applyLib(t)
	cmp, err := NewUpcallType(comparatorSpec(), lib)
	require.NoError(t, err)

	arena := memory.NewArena()
	stub, err := cmp.MakeStub(arena, func(args ...any) (any, error) { return 0, nil })
	require.NoError(t, err)
	assert.True(t, lib.Has(stub))

	require.NoError(t, arena.Close())
	assert.False(t, lib.Has(stub), "closing the arena releases the stub")

	_, err = cmp.MakeStub(arena, func(args ...any) (any, error) { return 0, nil })
	assert.ErrorIs(t, err, memory.ErrClosed)
}

func TestCallbackReturnedFromNative(t *testing.T) {
	lib := applyLib(t)
	cmp, err := NewUpcallType(comparatorSpec(), lib)
	require.NoError(t, err)

	sub, _ := lib.Find("native_sub")
	lib.Define("get_cmp", func(args []any) (any, error) {
		if args[0].(int8) != 0 {
			return sub, nil
		}
		return memory.Null, nil
	})

	b := mustCompose(t, lib, []Signature{{
		Name:   "get_cmp",
		Params: []Param{{Name: "want", Kind: Bool}},
		Return: Return{Kind: Callback, Upcall: cmp},
	}})

	r, err := b.Call("get_cmp", true)
	require.NoError(t, err)
	d, ok := r.(*Delegate)
	require.True(t, ok)
	assert.Equal(t, sub, d.Address())
	v, err := d.Call(1, 1)
	require.NoError(t, err)
	assert.Equal(t, int32(0), v)

	r, err = b.Call("get_cmp", false)
	require.NoError(t, err)
	assert.Nil(t, r)
}

func TestUpcallStringAndStructArguments(t *testing.T) {
	point, err := layout.NewStruct("Point", []layout.FieldSpec{
		{Name: "x", Layout: layout.Int32Layout},
		{Name: "y", Layout: layout.Int32Layout},
	})
	require.NoError(t, err)

	lib := newLib(t)
	visitor, err := NewUpcallType(DelegateSpec{
		Name: "Visitor",
		Methods: []Method{{
			Name: "Visit",
			Stub: true,
			Params: []Param{
				{Name: "name", Kind: String},
				{Name: "p", Kind: StructRef, Struct: point},
			},
			Return: Return{Kind: String},
		}},
	}, lib)
	require.NoError(t, err)

	arena := memory.NewArena()
	defer arena.Close()

	stub, err := visitor.MakeStub(arena, HostFunc(func(args ...any) (any, error) {
		p := args[1].(*layout.Struct)
		x, _ := p.Get("x")
		return args[0].(string) + "!" + string(rune('0'+x.(int32))), nil
	}))
	require.NoError(t, err)

	name, _ := memory.AllocateString(arena, "visit", memory.UTF8)
	p, _ := layout.Allocate(arena, point, 1)
	require.NoError(t, p.Set("x", 4))

	raw, err := lib.Invoke(stub, name.Address(), p.Address())
	require.NoError(t, err)
	s, err := memory.ReadString(raw.(memory.Address), memory.UTF8)
	require.NoError(t, err)
	assert.Equal(t, "visit!4", s)
}
