package layout

import (
	"fmt"
	"strings"
)

// FieldSpec declares one struct member.
type FieldSpec struct {
	Name    string
	Layout  Layout // element layout when Count > 0; ignored for padding
	Padding int64  // > 0 declares an explicit padding field of this many bytes
	Count   int64  // > 0: fixed-size array of Count elements
	Pointer bool   // with Count: pointer to the array instead of inline storage
}

// Member is a laid-out struct member.
type Member struct {
	Name    string
	Layout  Layout
	Offset  int64
	Padding bool
}

// End returns the offset one past the member.
func (m Member) End() int64 { return m.Offset + m.Layout.Size() }

// StructLayout is an ordered list of members with their byte offsets.
// It is immutable once built.
type StructLayout struct {
	Name    string
	Members []Member
	size    int64
	align   int64
	byName  map[string]int
	Errors  []string // Validation errors
}

// NewStruct lays out fields in declaration order. Padding is never inserted
// implicitly: the declared padding fields must produce an ABI-correct layout.
func NewStruct(name string, fields []FieldSpec) (*StructLayout, error) {
	s := &StructLayout{
		Name:   name,
		align:  1,
		byName: make(map[string]int),
	}

	// Phase 1: Build members from fields
	var offset int64
	for _, f := range fields {
		m, err := buildMember(f, offset)
		if err != nil {
			s.Errors = append(s.Errors, fmt.Sprintf("%s: %v", f.Name, err))
			continue
		}
		s.Members = append(s.Members, m)
		offset = m.End()
	}
	s.size = offset

	if len(s.Errors) > 0 {
		return s, fmt.Errorf("struct %s has %d errors: %s", name, len(s.Errors), strings.Join(s.Errors, "; "))
	}

	// Phase 2: Index names and compute alignment
	for i, m := range s.Members {
		if m.Padding {
			continue
		}
		if _, dup := s.byName[m.Name]; dup {
			s.Errors = append(s.Errors, fmt.Sprintf("%s: duplicate field", m.Name))
			continue
		}
		s.byName[m.Name] = i
		if a := m.Layout.Align(); a > s.align {
			s.align = a
		}
	}

	// Phase 3: Detect misaligned members
	detectMisalignment(s)

	if len(s.Errors) > 0 {
		return s, fmt.Errorf("struct %s has %d errors: %s", name, len(s.Errors), strings.Join(s.Errors, "; "))
	}
	return s, nil
}

func buildMember(f FieldSpec, offset int64) (Member, error) {
	m := Member{Name: f.Name, Offset: offset}

	if f.Padding > 0 {
		m.Layout = Padding(f.Padding)
		m.Padding = true
		return m, nil
	}
	if f.Padding < 0 {
		return m, fmt.Errorf("negative padding %d", f.Padding)
	}
	if f.Name == "" {
		return m, fmt.Errorf("unnamed field")
	}
	if f.Layout == nil {
		return m, fmt.Errorf("missing layout")
	}
	if _, ok := f.Layout.(PaddingLayout); ok {
		m.Layout = f.Layout
		m.Padding = true
		return m, nil
	}

	switch {
	case f.Count < 0:
		return m, fmt.Errorf("negative count %d", f.Count)
	case f.Count > 0 && f.Pointer:
		m.Layout = AddressLayout{Target: Sequence(f.Count, f.Layout)}
	case f.Count > 0:
		m.Layout = Sequence(f.Count, f.Layout)
	case f.Pointer:
		m.Layout = AddressLayout{Target: f.Layout}
	default:
		m.Layout = f.Layout
	}
	return m, nil
}

func detectMisalignment(s *StructLayout) {
	for _, m := range s.Members {
		if m.Padding {
			continue
		}
		if a := m.Layout.Align(); m.Offset%a != 0 {
			s.Errors = append(s.Errors,
				fmt.Sprintf("misaligned: %s at offset %d needs alignment %d", m.Name, m.Offset, a))
		}
	}
}

func (s *StructLayout) Size() int64  { return s.size }
func (s *StructLayout) Align() int64 { return s.align }

// IsValid returns true if layout has no errors
func (s *StructLayout) IsValid() bool {
	return len(s.Errors) == 0
}

func (s *StructLayout) String() string {
	var b strings.Builder
	b.WriteByte('[')
	for i, m := range s.Members {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(m.Layout.String())
		if !m.Padding {
			b.WriteString("(" + m.Name + ")")
		}
	}
	b.WriteByte(']')
	return b.String()
}

// Member returns the named member.
func (s *StructLayout) Member(name string) (Member, bool) {
	i, ok := s.byName[name]
	if !ok {
		return Member{}, false
	}
	return s.Members[i], true
}

// Offset returns the byte offset of the named member.
func (s *StructLayout) Offset(name string) (int64, error) {
	m, ok := s.Member(name)
	if !ok {
		return 0, fmt.Errorf("struct %s has no field %q", s.Name, name)
	}
	return m.Offset, nil
}

// Fields returns the non-padding member names in declaration order.
func (s *StructLayout) Fields() []string {
	names := make([]string, 0, len(s.byName))
	for _, m := range s.Members {
		if !m.Padding {
			names = append(names, m.Name)
		}
	}
	return names
}
