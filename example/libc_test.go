//go:build linux || darwin

package example

import (
	"os"
	"runtime"
	"slices"
	"testing"

	"github.com/alexhholmes/nativebind/bind"
	"github.com/alexhholmes/nativebind/linker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func realClient(t *testing.T) *Client {
	t.Helper()
	if os.Getenv("NATIVEBIND_LIBC") == "" {
		t.Skip("set NATIVEBIND_LIBC=1 to call into the C library")
	}
	path := "libc.so.6"
	if runtime.GOOS == "darwin" {
		path = "/usr/lib/libSystem.B.dylib"
	}
	lib, err := linker.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = lib.Close() })

	c, err := New(lib, linker.Native{}, bind.WithRegistry(bind.NewRegistry(nil)))
	require.NoError(t, err)
	return c
}

func TestLibC(t *testing.T) {
	c := realClient(t)

	n, err := c.Strlen("native")
	require.NoError(t, err)
	assert.Equal(t, int64(6), n)

	a, err := c.Abs(-7)
	require.NoError(t, err)
	assert.Equal(t, int32(7), a)

	xs := []int32{3, 1, 2}
	require.NoError(t, c.Sort(xs))
	assert.True(t, slices.IsSorted(xs), "got %v", xs)

}
