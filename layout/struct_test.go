package layout

import (
	"strings"
	"testing"

	"github.com/alexhholmes/nativebind/memory"
)

func TestNewStruct_DeclaredPadding(t *testing.T) {
	// struct {
	//     int32_t a;
	//     char    pad[4];
	//     int64_t b;
	// }
	s, err := NewStruct("S", []FieldSpec{
		{Name: "a", Layout: Int32Layout},
		{Name: "pad", Padding: 4},
		{Name: "b", Layout: Int64Layout},
	})
	if err != nil {
		t.Fatalf("NewStruct() error: %v", err)
	}

	if !s.IsValid() {
		t.Errorf("Layout should be valid, errors: %v", s.Errors)
	}

	wantOffsets := map[string]int64{"a": 0, "b": 8}
	for name, want := range wantOffsets {
		got, err := s.Offset(name)
		if err != nil {
			t.Fatalf("Offset(%q) error: %v", name, err)
		}
		if got != want {
			t.Errorf("Offset(%q) = %d, want %d", name, got, want)
		}
	}

	if s.Size() != 16 {
		t.Errorf("Size() = %d, want 16", s.Size())
	}
	if s.Align() != 8 {
		t.Errorf("Align() = %d, want 8", s.Align())
	}

	if got := s.Fields(); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("Fields() = %v, want [a b]", got)
	}
}

func TestNewStruct_NoImplicitPadding(t *testing.T) {
	// Without the declared padding b would land at offset 4, which is
	// misaligned for an int64.
	s, err := NewStruct("S", []FieldSpec{
		{Name: "a", Layout: Int32Layout},
		{Name: "b", Layout: Int64Layout},
	})
	if err == nil {
		t.Fatal("Expected misalignment error")
	}
	if s.IsValid() {
		t.Error("Layout should be invalid")
	}
	if !strings.Contains(s.Errors[0], "misaligned: b at offset 4") {
		t.Errorf("Unexpected error: %v", s.Errors)
	}
}

func TestNewStruct_Errors(t *testing.T) {
	tests := []struct {
		name   string
		fields []FieldSpec
		want   string
	}{
		{
			name: "duplicate",
			fields: []FieldSpec{
				{Name: "a", Layout: Int32Layout},
				{Name: "a", Layout: Int32Layout},
			},
			want: "duplicate field",
		},
		{
			name:   "missing layout",
			fields: []FieldSpec{{Name: "a"}},
			want:   "missing layout",
		},
		{
			name:   "negative count",
			fields: []FieldSpec{{Name: "a", Layout: Int8Layout, Count: -1}},
			want:   "negative count",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewStruct("S", tt.fields)
			if err == nil {
				t.Fatal("Expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %v, want it to mention %q", err, tt.want)
			}
		})
	}
}

func TestNewStruct_ArrayFields(t *testing.T) {
	s, err := NewStruct("Buf", []FieldSpec{
		{Name: "data", Layout: Int16Layout, Count: 4},
		{Name: "next", Layout: Int32Layout, Count: 8, Pointer: true},
	})
	if err != nil {
		t.Fatalf("NewStruct() error: %v", err)
	}

	data, _ := s.Member("data")
	if _, ok := data.Layout.(SequenceLayout); !ok || data.Layout.Size() != 8 {
		t.Errorf("data layout = %v, want [4:i16]", data.Layout)
	}

	next, _ := s.Member("next")
	addr, ok := next.Layout.(AddressLayout)
	if !ok {
		t.Fatalf("next layout = %T, want AddressLayout", next.Layout)
	}
	if addr.Target.String() != "[8:i32]" {
		t.Errorf("next target = %v, want [8:i32]", addr.Target)
	}
	if next.Offset != 8 {
		t.Errorf("next offset = %d, want 8", next.Offset)
	}
}

func TestStructAccessors(t *testing.T) {
	point, err := NewStruct("Point", []FieldSpec{
		{Name: "x", Layout: Int32Layout},
		{Name: "y", Layout: Int32Layout},
		{Name: "tag", Layout: CharLayout, Count: 8},
	})
	if err != nil {
		t.Fatalf("NewStruct() error: %v", err)
	}

	arena := memory.NewArena()
	defer arena.Close()

	points, err := Allocate(arena, point, 3)
	if err != nil {
		t.Fatalf("Allocate() error: %v", err)
	}
	if points.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", points.Len())
	}

	for i := int64(0); i < 3; i++ {
		if err := points.SetAt(i, "x", int32(i*10)); err != nil {
			t.Fatalf("SetAt(%d, x) error: %v", i, err)
		}
		if err := points.SetAt(i, "y", i*10+1); err != nil {
			t.Fatalf("SetAt(%d, y) error: %v", i, err)
		}
	}

	// Indexed access is base + index*size + offset.
	raw, err := points.Segment().GetInt32(2*point.Size() + 4)
	if err != nil {
		t.Fatalf("GetInt32() error: %v", err)
	}
	if raw != 21 {
		t.Errorf("points[2].y raw = %d, want 21", raw)
	}

	got, err := points.GetAt(1, "x")
	if err != nil {
		t.Fatalf("GetAt(1, x) error: %v", err)
	}
	if got.(int32) != 10 {
		t.Errorf("points[1].x = %v, want 10", got)
	}

	if _, err := points.GetAt(3, "x"); err == nil {
		t.Error("GetAt(3, x) should be out of bounds")
	}

	if err := points.SetElem("tag", 7, byte('z')); err != nil {
		t.Fatalf("SetElem() error: %v", err)
	}
	if _, err := points.Elem("tag", 8); err == nil {
		t.Error("Elem(tag, 8) should be out of bounds")
	}
	c, err := points.Elem("tag", 7)
	if err != nil {
		t.Fatalf("Elem() error: %v", err)
	}
	if c.(int8) != 'z' {
		t.Errorf("tag[7] = %v, want 'z'", c)
	}
}

func TestStructPointerToSequence(t *testing.T) {
	holder, err := NewStruct("Holder", []FieldSpec{
		{Name: "values", Layout: Int64Layout, Count: 2, Pointer: true},
	})
	if err != nil {
		t.Fatalf("NewStruct() error: %v", err)
	}

	arena := memory.NewArena()
	defer arena.Close()

	backing, _ := arena.Allocate(16, 8)
	h, _ := Allocate(arena, holder, 1)
	if err := h.Set("values", backing.Address()); err != nil {
		t.Fatalf("Set() error: %v", err)
	}
	if err := h.SetElem("values", 1, int64(99)); err != nil {
		t.Fatalf("SetElem() error: %v", err)
	}

	v, _ := backing.GetInt64(8)
	if v != 99 {
		t.Errorf("backing[1] = %d, want 99", v)
	}
	if err := h.SetElem("values", 2, int64(1)); err == nil {
		t.Error("SetElem(values, 2) should be out of bounds")
	}
}
