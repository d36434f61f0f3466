//go:build linux || darwin

package linker

import (
	"os"
	"runtime"
	"testing"

	"github.com/alexhholmes/nativebind/layout"
	"github.com/alexhholmes/nativebind/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openLibc(t *testing.T) *Dynamic {
	t.Helper()
	if os.Getenv("NATIVEBIND_LIBC") == "" {
		t.Skip("set NATIVEBIND_LIBC=1 to call into the C library")
	}
	path := "libc.so.6"
	if runtime.GOOS == "darwin" {
		path = "/usr/lib/libSystem.B.dylib"
	}
	lib, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = lib.Close() })
	return lib
}

func TestNativeStrlen(t *testing.T) {
	libc := openLibc(t)
	addr, ok := libc.Find("strlen")
	require.True(t, ok)

	h, err := Native{}.Downcall(addr, layout.NewFunction(layout.Int64Layout, layout.Pointer), Options{Critical: true})
	require.NoError(t, err)

	arena := memory.NewArena()
	defer arena.Close()
	s, err := memory.AllocateString(arena, "hello", memory.UTF8)
	require.NoError(t, err)

	n, err := h.Call(nil, []any{s.Address()})
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)
}

func TestNativeMissingSymbol(t *testing.T) {
	libc := openLibc(t)
	_, ok := libc.Find("definitely_not_a_libc_symbol")
	assert.False(t, ok)
}
