// Package example binds a handful of libc functions from annotated
// declarations.
package example

import (
	"cmp"
	_ "embed"
	"fmt"
	"os"

	"github.com/alexhholmes/nativebind/bind"
	"github.com/alexhholmes/nativebind/internal/parser"
	"github.com/alexhholmes/nativebind/layout"
	"github.com/alexhholmes/nativebind/linker"
	"github.com/alexhholmes/nativebind/memory"
)

//go:embed libc.go
var declarations []byte

// Client calls libc through a composed binding.
type Client struct {
	binding *bind.Binding
}

// New composes the LibC declarations against src. Getenv falls back to
// os.Getenv when the symbol is missing.
func New(src linker.SymbolSource, lnk linker.Linker, opts ...bind.Option) (*Client, error) {
	f, err := parser.ParseSource("libc.go", declarations)
	if err != nil {
		return nil, err
	}
	s, err := parser.Lower(f, lnk)
	if err != nil {
		return nil, err
	}
	b, ok := s.Binding("LibC")
	if !ok {
		return nil, fmt.Errorf("no LibC binding")
	}

	opts = append([]bind.Option{bind.WithFallback("Getenv", getenv)}, opts...)
	binding, err := bind.Compose(src, lnk, b.Signatures, opts...)
	if err != nil {
		return nil, err
	}
	return &Client{binding: binding}, nil
}

func getenv(args ...any) (any, error) {
	v, ok := os.LookupEnv(args[0].(string))
	if !ok {
		return nil, nil
	}
	return v, nil
}

// Binding returns the underlying binding.
func (c *Client) Binding() *bind.Binding { return c.binding }

func (c *Client) Strlen(s string) (int64, error) {
	r, err := c.binding.Call("Strlen", s)
	if err != nil {
		return 0, err
	}
	return r.(int64), nil
}

func (c *Client) Abs(n int32) (int32, error) {
	r, err := c.binding.Call("Abs", n)
	if err != nil {
		return 0, err
	}
	return r.(int32), nil
}

// Div returns the quotient and remainder of num / denom.
func (c *Client) Div(num, denom int32) (quot, rem int32, err error) {
	arena := memory.NewArena()
	defer arena.Close()

	r, err := c.binding.Call("Div", arena, num, denom)
	if err != nil {
		return 0, 0, err
	}
	d := r.(*layout.Struct)
	q, err := d.Get("Quot")
	if err != nil {
		return 0, 0, err
	}
	m, err := d.Get("Rem")
	if err != nil {
		return 0, 0, err
	}
	return q.(int32), m.(int32), nil
}

// Sort sorts xs in place with qsort and a host comparator.
func (c *Client) Sort(xs []int32) error {
	if len(xs) == 0 {
		return nil
	}
	arena := memory.NewArena()
	defer arena.Close()

	compare := bind.HostFunc(func(args ...any) (any, error) {
		a, err := memory.NewSegment(args[0].(memory.Address), 4).GetInt32(0)
		if err != nil {
			return nil, err
		}
		b, err := memory.NewSegment(args[1].(memory.Address), 4).GetInt32(0)
		if err != nil {
			return nil, err
		}
		return int32(cmp.Compare(a, b)), nil
	})

	_, err := c.binding.Call("Qsort", arena, xs, int64(len(xs)), int64(4), compare)
	return err
}

// Getenv returns the environment variable name, and false when it is unset.
func (c *Client) Getenv(name string) (string, bool, error) {
	r, err := c.binding.Call("Getenv", name)
	if err != nil || r == nil {
		return "", false, err
	}
	return r.(string), true, nil
}
