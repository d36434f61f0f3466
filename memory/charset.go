package memory

import (
	"bytes"
	"fmt"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/encoding/unicode/utf32"
)

// maxStringScan bounds the terminator search in ReadString.
const maxStringScan = 1 << 30

// Charset converts between Go strings and NUL-terminated native strings.
type Charset struct {
	name string
	enc  encoding.Encoding // nil means UTF-8 without transcoding
	unit int               // terminator width in bytes
}

// UTF8 is the default charset.
var UTF8 = Charset{name: "UTF-8", unit: 1}

// LookupCharset resolves an IANA charset name. The empty name is UTF-8.
func LookupCharset(name string) (Charset, error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "", "UTF-8", "UTF8":
		return UTF8, nil
	case "UTF-16LE":
		return Charset{name: "UTF-16LE", enc: unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM), unit: 2}, nil
	case "UTF-16BE", "UTF-16":
		return Charset{name: "UTF-16BE", enc: unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM), unit: 2}, nil
	case "UTF-32LE":
		return Charset{name: "UTF-32LE", enc: utf32.UTF32(utf32.LittleEndian, utf32.IgnoreBOM), unit: 4}, nil
	case "UTF-32BE", "UTF-32":
		return Charset{name: "UTF-32BE", enc: utf32.UTF32(utf32.BigEndian, utf32.IgnoreBOM), unit: 4}, nil
	}

	enc, err := ianaindex.IANA.Encoding(name)
	if err != nil {
		return Charset{}, fmt.Errorf("unknown charset %q: %w", name, err)
	}
	if enc == nil {
		return Charset{}, fmt.Errorf("unsupported charset %q", name)
	}
	canonical, err := ianaindex.IANA.Name(enc)
	if err != nil {
		canonical = name
	}
	return Charset{name: canonical, enc: enc, unit: 1}, nil
}

func (c Charset) Name() string {
	if c.name == "" {
		return UTF8.name
	}
	return c.name
}

// Terminator returns the width of the NUL terminator in bytes.
func (c Charset) Terminator() int {
	if c.unit == 0 {
		return 1
	}
	return c.unit
}

func (c Charset) String() string { return c.Name() }

// Encode returns s in the charset, without terminator.
func (c Charset) Encode(s string) ([]byte, error) {
	if c.enc == nil {
		return []byte(s), nil
	}
	b, err := c.enc.NewEncoder().Bytes([]byte(s))
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", c.Name(), err)
	}
	return b, nil
}

// Decode converts b from the charset into a Go string.
func (c Charset) Decode(b []byte) (string, error) {
	if c.enc == nil {
		return string(b), nil
	}
	out, err := c.enc.NewDecoder().Bytes(b)
	if err != nil {
		return "", fmt.Errorf("decode %s: %w", c.Name(), err)
	}
	return string(out), nil
}

// EncodedSize returns the byte size of s including the terminator.
func (c Charset) EncodedSize(s string) (int64, error) {
	b, err := c.Encode(s)
	if err != nil {
		return 0, err
	}
	return int64(len(b) + c.Terminator()), nil
}

// AllocateString copies s into a new NUL-terminated buffer from a.
func AllocateString(a Allocator, s string, cs Charset) (Segment, error) {
	b, err := cs.Encode(s)
	if err != nil {
		return Segment{}, err
	}
	seg, err := a.Allocate(int64(len(b)+cs.Terminator()), int64(cs.Terminator()))
	if err != nil {
		return Segment{}, err
	}
	copy(seg.Bytes(), b)
	return seg, nil
}

// WriteString copies s and its terminator into seg.
func WriteString(seg Segment, s string, cs Charset) error {
	b, err := cs.Encode(s)
	if err != nil {
		return err
	}
	n := int64(len(b) + cs.Terminator())
	if err := seg.check(0, n); err != nil {
		return fmt.Errorf("string of %d bytes: %w", n, err)
	}
	buf := seg.Bytes()
	copy(buf, b)
	clear(buf[len(b):n])
	return nil
}

// ReadString decodes the NUL-terminated string at addr.
func ReadString(addr Address, cs Charset) (string, error) {
	if addr == Null {
		return "", fmt.Errorf("read string at null address: %w", ErrOutOfBounds)
	}
	unit := cs.Terminator()
	n := scanTerminator(addr, unit)
	if n < 0 {
		return "", fmt.Errorf("unterminated %s string at 0x%x", cs.Name(), uintptr(addr))
	}
	return cs.Decode(NewSegment(addr, int64(n)).Bytes())
}

// ReadStringIn decodes the string at the start of seg, never reading past its
// end. An unterminated segment decodes in full.
func ReadStringIn(seg Segment, cs Charset) (string, error) {
	buf := seg.Bytes()
	unit := cs.Terminator()
	zero := make([]byte, unit)
	for i := 0; i+unit <= len(buf); i += unit {
		if bytes.Equal(buf[i:i+unit], zero) {
			return cs.Decode(buf[:i])
		}
	}
	return cs.Decode(buf[:len(buf)-len(buf)%unit])
}

func scanTerminator(addr Address, unit int) int {
	for n := 0; n < maxStringScan; n += unit {
		b := NewSegment(addr+Address(n), int64(unit)).Bytes()
		zero := true
		for _, c := range b {
			if c != 0 {
				zero = false
				break
			}
		}
		if zero {
			return n
		}
	}
	return -1
}
