package parser

import (
	"errors"
	"strings"
	"testing"

	"github.com/alexhholmes/nativebind/bind"
	"github.com/alexhholmes/nativebind/linker"
	"github.com/alexhholmes/nativebind/memory"
)

func lowerFile(t *testing.T, lib *linker.Library) *Schema {
	t.Helper()
	f, err := ParseFile("testdata/libc.go")
	if err != nil {
		t.Fatalf("ParseFile() error: %v", err)
	}
	s, err := Lower(f, lib)
	if err != nil {
		t.Fatalf("Lower() error: %v", err)
	}
	return s
}

func TestLowerStructs(t *testing.T) {
	s := lowerFile(t, linker.NewLibrary(t.Name()))

	if len(s.Structs) != 2 {
		t.Fatalf("Lower() produced %d structs, want 2", len(s.Structs))
	}

	point := s.Structs[0]
	if point.Size() != 8 || point.Align() != 4 {
		t.Errorf("Point size/align = %d/%d, want 8/4", point.Size(), point.Align())
	}

	node := s.Structs[1]
	if node.Size() != 32 || node.Align() != 8 {
		t.Errorf("Node size/align = %d/%d, want 32/8", node.Size(), node.Align())
	}

	tests := []struct {
		field  string
		offset int64
		layout string
	}{
		{"Value", 0, "i32"},
		{"Next", 8, "a8:Node<32>"},
		{"Data", 16, "a8:[8:i32]"},
		{"Pos", 24, "[i32(X),i32(Y)]"},
	}
	for _, tt := range tests {
		m, ok := node.Member(tt.field)
		if !ok {
			t.Errorf("Node has no member %s", tt.field)
			continue
		}
		if m.Offset != tt.offset {
			t.Errorf("Node.%s offset = %d, want %d", tt.field, m.Offset, tt.offset)
		}
		if got := m.Layout.String(); got != tt.layout {
			t.Errorf("Node.%s layout = %s, want %s", tt.field, got, tt.layout)
		}
	}

	if _, ok := node.Member("Cache"); ok {
		t.Errorf("skipped field Cache is part of the layout")
	}
	if got := strings.Join(node.Fields(), ","); got != "Value,Next,Data,Pos" {
		t.Errorf("Node fields = %s, want Value,Next,Data,Pos", got)
	}
}

func TestLowerDescriptors(t *testing.T) {
	s := lowerFile(t, linker.NewLibrary(t.Name()))

	libc, ok := s.Binding("LibC")
	if !ok {
		t.Fatalf("Binding(LibC) not found")
	}

	tests := []struct {
		name  string
		entry string
		desc  string
	}{
		{"Strlen", "strlen", "(a8)i64"},
		{"Abs", "abs", "(i32)i32"},
		{"Qsort", "qsort", "(a8,i64,i64,a8)v"},
		{"Getenv", "getenv", "(a8)a8"},
		{"Lseek", "lseek", "(i32,i64,i32)i64"},
		{"Origin", "origin", "()[i32(X),i32(Y)]"},
		{"Walk", "walk_nodes", "(a8,a8)i32"},
		{"Fill", "memset", "(a8:[64:i8],i32,a8)a8"},
		{"IsSpace", "isspace", "(i32)i32"},
	}

	if len(libc.Signatures) != len(tests) {
		t.Fatalf("LibC has %d signatures, want %d", len(libc.Signatures), len(tests))
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig := libc.Signatures[i]
			if sig.Name != tt.name {
				t.Fatalf("signature %d = %s, want %s", i, sig.Name, tt.name)
			}
			if sig.Owner != "LibC" {
				t.Errorf("%s.Owner = %q, want LibC", tt.name, sig.Owner)
			}
			if sig.EntrypointName() != tt.entry {
				t.Errorf("%s entrypoint = %q, want %q", tt.name, sig.EntrypointName(), tt.entry)
			}
			fd, err := bind.BuildDescriptor(sig, nil)
			if err != nil {
				t.Fatalf("BuildDescriptor(%s) error: %v", tt.name, err)
			}
			if fd.String() != tt.desc {
				t.Errorf("%s descriptor = %s, want %s", tt.name, fd, tt.desc)
			}
		})
	}

	flags := map[string]bind.Flags{}
	for _, sig := range libc.Signatures {
		flags[sig.Name] = sig.Flags
	}
	if !flags["Abs"].Critical {
		t.Errorf("Abs is not critical")
	}
	if !flags["Fill"].CriticalAllowHeapAccess {
		t.Errorf("Fill has no heap access")
	}
	if !flags["Getenv"].Defaulted {
		t.Errorf("Getenv is not defaulted")
	}
}

func TestLowerUpcalls(t *testing.T) {
	s := lowerFile(t, linker.NewLibrary(t.Name()))

	tests := []struct {
		name string
		stub string
		desc string
	}{
		{"Comparator", "Comparator", "(a8,a8)i32"},
		{"Visitor", "Visit", "(a8,a8)i32"},
	}
	for _, tt := range tests {
		u, ok := s.Upcalls[tt.name]
		if !ok {
			t.Errorf("upcall %s missing", tt.name)
			continue
		}
		if u.Method.Name != tt.stub {
			t.Errorf("%s stub = %s, want %s", tt.name, u.Method.Name, tt.stub)
		}
		if got := u.Descriptor.String(); got != tt.desc {
			t.Errorf("%s descriptor = %s, want %s", tt.name, got, tt.desc)
		}
	}

	if _, ok := s.Enums["Whence"]; !ok {
		t.Errorf("enum Whence missing")
	}
}

func TestLowerCompose(t *testing.T) {
	lib := linker.NewLibrary(t.Name())
	lib.Define("strlen", func(args []any) (any, error) {
		str, err := memory.ReadString(args[0].(memory.Address), memory.UTF8)
		if err != nil {
			return nil, err
		}
		return int64(len(str)), nil
	})
	lib.Define("abs", func(args []any) (any, error) {
		n := args[0].(int32)
		if n < 0 {
			n = -n
		}
		return n, nil
	})

	s := lowerFile(t, lib)
	b, err := bind.Compose(lib, lib, s.Signatures(),
		bind.WithRegistry(bind.NewRegistry(nil)),
		bind.WithSkip("Qsort", "Getenv", "Lseek", "Origin", "Walk", "Fill", "IsSpace"))
	if err != nil {
		t.Fatalf("Compose() error: %v", err)
	}

	n, err := b.Call("Strlen", "hello")
	if err != nil {
		t.Fatalf("Strlen error: %v", err)
	}
	if n != int64(5) {
		t.Errorf("Strlen(hello) = %v, want 5", n)
	}

	a, err := b.Call("Abs", int32(-7))
	if err != nil {
		t.Fatalf("Abs error: %v", err)
	}
	if a != int32(7) {
		t.Errorf("Abs(-7) = %v, want 7", a)
	}
}

func TestLowerErrors(t *testing.T) {
	tests := []struct {
		name    string
		code    string
		wantErr string
	}{
		{
			name: "unsupported parameter type",
			code: `package test
// @native
type L struct {
	F func(m map[string]int32)
}`,
			wantErr: "unsupported type",
		},
		{
			name: "enum wider than int32",
			code: `package test
// @enum
type E int64`,
			wantErr: "native enums are int32",
		},
		{
			name: "struct contains itself",
			code: `package test
// @struct
type A struct{ B B }
// @struct
type B struct{ A A }`,
			wantErr: "contains itself by value",
		},
		{
			name: "string field",
			code: `package test
// @struct
type S struct{ Name string }`,
			wantErr: "field Name",
		},
		{
			name: "two results",
			code: `package test
// @native
type L struct {
	F func() (int32, int32)
}`,
			wantErr: "at most one value",
		},
		{
			name: "callback without stub",
			code: `package test
// @callback
type V interface{ Visit() }`,
			wantErr: "declares no stub method",
		},
		{
			name: "callback without arena",
			code: `package test
// @callback
type Cb func() int32
// @native
type L struct {
	F func(cb Cb)
}`,
			wantErr: "requires an arena",
		},
		{
			name: "by-value return without allocator",
			code: `package test
// @struct
type P struct{ X int32 }
// @native
type L struct {
	F func() P
}`,
			wantErr: "by-value struct return",
		},
		{
			name: "string pointer return",
			code: `package test
// @native
type L struct {
	F func() *string
}`,
			wantErr: "cannot return *string",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := ParseSource("test.go", []byte(tt.code))
			if err != nil {
				t.Fatalf("ParseSource() error: %v", err)
			}
			_, err = Lower(f, linker.NewLibrary(t.Name()))
			if err == nil {
				t.Fatalf("Lower() expected error containing %q, got nil", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Lower() error = %q, want containing %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestLowerStubErrorType(t *testing.T) {
	f, err := ParseSource("test.go", []byte(`package test
// @callback
type V interface{ Visit() }`))
	if err != nil {
		t.Fatalf("ParseSource() error: %v", err)
	}
	_, err = Lower(f, linker.NewLibrary(t.Name()))

	var stubErr *bind.StubProviderNotFoundError
	if !errors.As(err, &stubErr) {
		t.Fatalf("Lower() error = %v, want StubProviderNotFoundError", err)
	}
	if stubErr.Type != "V" {
		t.Errorf("StubProviderNotFoundError.Type = %q, want V", stubErr.Type)
	}
}
