package layout

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseFunction parses the canonical form of a descriptor, such as
// "(a8:[4:i32],i64)i32" or "()v". Struct layouts have no textual form and
// are rejected.
func ParseFunction(s string) (FunctionDescriptor, error) {
	p := &descParser{src: strings.ReplaceAll(s, " ", "")}
	fd, err := p.function()
	if err != nil {
		return FunctionDescriptor{}, fmt.Errorf("descriptor %q: %w", s, err)
	}
	return fd, nil
}

// ParseLayout parses the canonical form of a single layout.
func ParseLayout(s string) (Layout, error) {
	p := &descParser{src: strings.ReplaceAll(s, " ", "")}
	l, err := p.layout()
	if err == nil && p.pos != len(p.src) {
		err = fmt.Errorf("trailing input at %d", p.pos)
	}
	if err != nil {
		return nil, fmt.Errorf("layout %q: %w", s, err)
	}
	return l, nil
}

type descParser struct {
	src string
	pos int
}

func (p *descParser) peek() byte {
	if p.pos < len(p.src) {
		return p.src[p.pos]
	}
	return 0
}

func (p *descParser) expect(c byte) error {
	if p.peek() != c {
		return fmt.Errorf("expected %q at %d", c, p.pos)
	}
	p.pos++
	return nil
}

func (p *descParser) function() (FunctionDescriptor, error) {
	var fd FunctionDescriptor
	if err := p.expect('('); err != nil {
		return fd, err
	}
	for p.peek() != ')' {
		if len(fd.Args) > 0 {
			if err := p.expect(','); err != nil {
				return fd, err
			}
		}
		l, err := p.layout()
		if err != nil {
			return fd, err
		}
		fd.Args = append(fd.Args, l)
	}
	p.pos++

	if p.peek() == 'v' && p.pos == len(p.src)-1 {
		p.pos++
		return fd, nil
	}
	ret, err := p.layout()
	if err != nil {
		return fd, err
	}
	if p.pos != len(p.src) {
		return fd, fmt.Errorf("trailing input at %d", p.pos)
	}
	fd.Return = ret
	return fd, nil
}

func (p *descParser) number() (int64, error) {
	start := p.pos
	for p.pos < len(p.src) && p.src[p.pos] >= '0' && p.src[p.pos] <= '9' {
		p.pos++
	}
	if start == p.pos {
		return 0, fmt.Errorf("expected number at %d", start)
	}
	return strconv.ParseInt(p.src[start:p.pos], 10, 64)
}

var valuesByName = map[string]ValueLayout{
	"z8": BoolLayout, "c8": CharLayout, "i8": Int8Layout, "i16": Int16Layout,
	"i32": Int32Layout, "i64": Int64Layout, "f32": Float32Layout, "f64": Float64Layout,
}

func (p *descParser) layout() (Layout, error) {
	switch c := p.peek(); c {
	case '[':
		p.pos++
		n, err := p.number()
		if err != nil {
			return nil, err
		}
		if err := p.expect(':'); err != nil {
			return nil, err
		}
		elem, err := p.layout()
		if err != nil {
			return nil, err
		}
		if err := p.expect(']'); err != nil {
			return nil, err
		}
		return Sequence(n, elem), nil

	case 'x':
		p.pos++
		n, err := p.number()
		if err != nil {
			return nil, err
		}
		return Padding(n), nil

	case 'a':
		p.pos++
		if _, err := p.number(); err != nil {
			return nil, err
		}
		if p.peek() != ':' {
			return Pointer, nil
		}
		p.pos++
		target, err := p.layout()
		if err != nil {
			return nil, err
		}
		return Pointer.WithTarget(target), nil

	case 'z', 'c', 'i', 'f':
		start := p.pos
		p.pos++
		if _, err := p.number(); err != nil {
			return nil, err
		}
		v, ok := valuesByName[p.src[start:p.pos]]
		if !ok {
			return nil, &UnsupportedTypeError{Type: p.src[start:p.pos]}
		}
		return v, nil
	}
	return nil, fmt.Errorf("unexpected %q at %d", p.peek(), p.pos)
}
