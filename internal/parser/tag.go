package parser

import (
	"fmt"
	"strconv"
	"strings"
)

// ValueOptions refine how one parameter or the return value is carried.
type ValueOptions struct {
	Ref      bool   // copy native changes back after the call
	Nullable bool   // nil is passed as NULL
	ByValue  bool   // segment contents are copied
	Size     int64  // fixed element count, 0 if unspecified
	Charset  string // string charset, empty for the binding default
	BoolAs   string // integer type carrying a bool, empty for the native bool
}

// MethodTag is the parsed native tag of a binding method.
type MethodTag struct {
	Entrypoint string // empty: derived from the method name
	Critical   bool
	Heap       bool // critical with direct access to Go arrays
	Optional   bool // a host fallback serves the method when the symbol is missing
	ByValue    bool // the struct return is copied into caller memory
	Ret        ValueOptions
}

// ParseMethodTag parses the native tag of a binding method
//
// Semantics:
//   - "entry"            : bind to symbol entry
//   - "critical"         : critical call (no thread handoff)
//   - "heap"             : critical call with direct access to Go arrays
//   - "optional"         : the method may be served by a fallback
//   - "byvalue"          : a *S return is copied into caller memory
//   - "ret.size=N"       : fixed size of the returned array or segment
//   - "ret.charset=CS"   : charset of a returned string
//   - "ret.bool=int32"   : integer type carrying a returned bool
//
// Examples:
//
//	"strlen"                    → symbol strlen
//	"abs,critical"              → symbol abs, critical
//	",heap"                     → derived symbol, heap access
//	"getenv,ret.charset=UTF-8"  → symbol getenv, string return in UTF-8
func ParseMethodTag(tag string) (*MethodTag, error) {
	m := &MethodTag{}
	if tag == "" {
		return m, nil
	}

	parts := strings.Split(tag, ",")
	m.Entrypoint = strings.TrimSpace(parts[0])
	if strings.ContainsAny(m.Entrypoint, "= ") {
		return nil, fmt.Errorf("invalid entrypoint: %q", m.Entrypoint)
	}

	for _, part := range parts[1:] {
		part = strings.TrimSpace(part)
		switch part {
		case "critical":
			m.Critical = true
			continue
		case "heap":
			m.Heap = true
			continue
		case "optional":
			m.Optional = true
			continue
		case "byvalue":
			m.ByValue = true
			continue
		}

		key, value, ok := strings.Cut(part, "=")
		if !ok || !strings.HasPrefix(key, "ret.") {
			return nil, fmt.Errorf("unknown parameter: %s", part)
		}
		if err := setValueOption(&m.Ret, strings.TrimPrefix(key, "ret."), value); err != nil {
			return nil, fmt.Errorf("return: %w", err)
		}
	}

	return m, nil
}

// ParseArgsTag parses the args tag of a binding method into options keyed by
// parameter name.
//
// Format: "name:opt,opt;name:opt", where opt is ref, nullable, byvalue,
// size=N, charset=CS or bool=TYPE.
//
//	"buf:ref,size=64"          → buf is copied back, 64 elements
//	"s:nullable;out:ref"       → s may be nil, out is copied back
//	"flag:bool=int32"          → flag is carried as an int32
func ParseArgsTag(tag string) (map[string]*ValueOptions, error) {
	args := make(map[string]*ValueOptions)
	if strings.TrimSpace(tag) == "" {
		return args, nil
	}

	for _, group := range strings.Split(tag, ";") {
		name, opts, ok := strings.Cut(strings.TrimSpace(group), ":")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid args entry: %q (expected name:options)", group)
		}
		if _, dup := args[name]; dup {
			return nil, fmt.Errorf("duplicate args entry: %s", name)
		}

		v := &ValueOptions{}
		for _, opt := range strings.Split(opts, ",") {
			opt = strings.TrimSpace(opt)
			switch opt {
			case "ref":
				v.Ref = true
			case "nullable":
				v.Nullable = true
			case "byvalue":
				v.ByValue = true
			default:
				key, value, ok := strings.Cut(opt, "=")
				if !ok {
					return nil, fmt.Errorf("%s: unknown option: %s", name, opt)
				}
				if err := setValueOption(v, key, value); err != nil {
					return nil, fmt.Errorf("%s: %w", name, err)
				}
			}
		}
		args[name] = v
	}

	return args, nil
}

func setValueOption(v *ValueOptions, key, value string) error {
	if value == "" {
		return fmt.Errorf("%s= requires a value", key)
	}
	switch key {
	case "size":
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid size: %s", value)
		}
		if n <= 0 {
			return fmt.Errorf("size must be positive, got: %d", n)
		}
		v.Size = n
	case "charset":
		v.Charset = value
	case "bool":
		switch value {
		case "int8", "int16", "int32", "int64":
			v.BoolAs = value
		default:
			return fmt.Errorf("bool must be carried by int8, int16, int32 or int64, got: %s", value)
		}
	default:
		return fmt.Errorf("unknown option: %s", key)
	}
	return nil
}

// FieldTag is the parsed native tag of a @struct field.
type FieldTag struct {
	Pad  bool // the field is explicit padding of its type's size
	Skip bool // the field is not part of the layout
}

// ParseFieldTag parses "pad", "-" or an empty tag.
func ParseFieldTag(tag string) (*FieldTag, error) {
	switch strings.TrimSpace(tag) {
	case "":
		return &FieldTag{}, nil
	case "pad":
		return &FieldTag{Pad: true}, nil
	case "-":
		return &FieldTag{Skip: true}, nil
	}
	return nil, fmt.Errorf("invalid field tag: %q (expected pad or -)", tag)
}
