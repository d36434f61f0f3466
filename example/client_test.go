package example

import (
	"slices"
	"testing"

	"github.com/alexhholmes/nativebind/bind"
	"github.com/alexhholmes/nativebind/linker"
	"github.com/alexhholmes/nativebind/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeLibC implements the bound subset of libc in Go.
func fakeLibC(t *testing.T) *linker.Library {
	t.Helper()
	lib := linker.NewLibrary(t.Name())
	lib.Define("strlen", func(args []any) (any, error) {
		s, err := memory.ReadString(args[0].(memory.Address), memory.UTF8)
		return int64(len(s)), err
	})
	lib.Define("abs", func(args []any) (any, error) {
		n := args[0].(int32)
		if n < 0 {
			n = -n
		}
		return n, nil
	})
	lib.Define("div", func(args []any) (any, error) {
		num, denom := args[0].(int32), args[1].(int32)
		out := memory.FromBytes(make([]byte, 8))
		_ = out.SetInt32(0, num/denom)
		_ = out.SetInt32(4, num%denom)
		return out, nil
	})
	lib.Define("qsort", func(args []any) (any, error) {
		base := args[0].(memory.Address)
		n, size := args[1].(int64), args[2].(int64)
		cmp := args[3].(memory.Address)

		// Insertion sort through the comparator.
		seg := memory.NewSegment(base, n*size)
		for i := int64(1); i < n; i++ {
			for j := i; j > 0; j-- {
				a, b := base+memory.Address((j-1)*size), base+memory.Address(j*size)
				r, err := lib.Invoke(cmp, a, b)
				if err != nil {
					return nil, err
				}
				if r.(int32) <= 0 {
					break
				}
				x, _ := seg.GetInt32((j - 1) * size)
				y, _ := seg.GetInt32(j * size)
				_ = seg.SetInt32((j-1)*size, y)
				_ = seg.SetInt32(j*size, x)
			}
		}
		return nil, nil
	})
	return lib
}

func newClient(t *testing.T, lib *linker.Library) *Client {
	t.Helper()
	c, err := New(lib, lib, bind.WithRegistry(bind.NewRegistry(nil)))
	require.NoError(t, err)
	return c
}

func TestClient(t *testing.T) {
	lib := fakeLibC(t)
	c := newClient(t, lib)

	n, err := c.Strlen("hello, world")
	require.NoError(t, err)
	assert.Equal(t, int64(12), n)

	a, err := c.Abs(-42)
	require.NoError(t, err)
	assert.Equal(t, int32(42), a)

	q, r, err := c.Div(17, 5)
	require.NoError(t, err)
	assert.Equal(t, int32(3), q)
	assert.Equal(t, int32(2), r)

	xs := []int32{5, -1, 9, 3, 3, 0}
	require.NoError(t, c.Sort(xs))
	assert.True(t, slices.IsSorted(xs), "got %v", xs)
	assert.Equal(t, []int32{-1, 0, 3, 3, 5, 9}, xs)
}

func TestClientDescriptors(t *testing.T) {
	c := newClient(t, fakeLibC(t))
	got := map[string]string{}
	for name, fd := range c.Binding().Descriptors() {
		got[name] = fd.String()
	}
	assert.Equal(t, map[string]string{
		"Strlen": "(a8)i64",
		"Abs":    "(i32)i32",
		"Div":    "(i32,i32)[i32(Quot),i32(Rem)]",
		"Qsort":  "(a8,i64,i64,a8)v",
		"Getenv": "(a8)a8",
	}, got)

	abs, ok := c.Binding().Func("Abs")
	require.True(t, ok)
	assert.True(t, abs.Entry().Options.Critical)
}

func TestClientGetenvFallback(t *testing.T) {
	lib := fakeLibC(t)
	c := newClient(t, lib)

	getenv, ok := c.Binding().Func("Getenv")
	require.True(t, ok)
	assert.False(t, getenv.Bound(), "no getenv symbol in the fake library")

	t.Setenv("NATIVEBIND_EXAMPLE", "on")
	v, ok, err := c.Getenv("NATIVEBIND_EXAMPLE")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "on", v)

	_, ok, err = c.Getenv("NATIVEBIND_EXAMPLE_UNSET")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestClientMissingSymbol(t *testing.T) {
	lib := linker.NewLibrary(t.Name())
	_, err := New(lib, lib, bind.WithRegistry(bind.NewRegistry(nil)))
	var snf *bind.SymbolNotFoundError
	require.ErrorAs(t, err, &snf)
	assert.Equal(t, "strlen", snf.Entrypoint)
}

func TestClientSortEmpty(t *testing.T) {
	lib := fakeLibC(t)
	c := newClient(t, lib)

	require.NoError(t, c.Sort(nil))
	addr, ok := lib.Find("qsort")
	require.True(t, ok)
	assert.Zero(t, lib.Calls(addr))

	require.NoError(t, c.Sort([]int32{2, 1}))
	assert.Equal(t, int64(1), lib.Calls(addr))
}
