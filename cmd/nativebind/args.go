package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/alexhholmes/nativebind/bind"
	"github.com/alexhholmes/nativebind/layout"
	"github.com/alexhholmes/nativebind/memory"
)

// parseArg converts a command-line argument into the host value of p.
func parseArg(p bind.Param, s string) (any, error) {
	bad := func(err error) error {
		return fmt.Errorf("parameter %s: invalid %s %q: %w", p.Name, p.Kind, s, err)
	}

	switch p.Kind {
	case bind.Bool:
		v, err := strconv.ParseBool(s)
		if err != nil {
			return nil, bad(err)
		}
		return v, nil
	case bind.Char:
		if len(s) != 1 {
			return nil, fmt.Errorf("parameter %s: want one byte, got %q", p.Name, s)
		}
		return s[0], nil
	case bind.Int8:
		n, err := strconv.ParseInt(s, 0, 8)
		if err != nil {
			return nil, bad(err)
		}
		return int8(n), nil
	case bind.Int16:
		n, err := strconv.ParseInt(s, 0, 16)
		if err != nil {
			return nil, bad(err)
		}
		return int16(n), nil
	case bind.Int32, bind.Enum:
		n, err := strconv.ParseInt(s, 0, 32)
		if err != nil {
			return nil, bad(err)
		}
		return int32(n), nil
	case bind.Int64:
		n, err := strconv.ParseInt(s, 0, 64)
		if err != nil {
			return nil, bad(err)
		}
		return n, nil
	case bind.Float32:
		f, err := strconv.ParseFloat(s, 32)
		if err != nil {
			return nil, bad(err)
		}
		return float32(f), nil
	case bind.Float64:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, bad(err)
		}
		return f, nil
	case bind.String:
		if p.Ref {
			return &s, nil
		}
		return s, nil
	case bind.Address:
		n, err := strconv.ParseUint(s, 0, 64)
		if err != nil {
			return nil, bad(err)
		}
		return memory.Address(n), nil
	}
	return nil, fmt.Errorf("parameter %s: %s values cannot be given on the command line", p.Name, p.Kind)
}

// callArgs builds the argument list of sig from args. An allocator or arena
// parameter is served by arena.
func callArgs(sig bind.Signature, args []string, arena memory.Arena) ([]any, error) {
	params := sig.Params
	var out []any
	if len(params) > 0 && (params[0].Kind == bind.Allocator || params[0].Kind == bind.Arena) {
		out = append(out, arena)
		params = params[1:]
	}

	if len(args) != len(params) {
		return nil, fmt.Errorf("%s takes %d arguments, got %d", sig.QualifiedName(), len(params), len(args))
	}
	for i, p := range params {
		v, err := parseArg(p, args[i])
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func formatResult(v any) string {
	switch r := v.(type) {
	case nil:
		return "NULL"
	case string:
		return strconv.Quote(r)
	case byte:
		return strconv.QuoteRune(rune(r))
	case memory.Address:
		return fmt.Sprintf("0x%x", uintptr(r))
	case *layout.Struct:
		var fields []string
		for _, name := range r.Layout().Fields() {
			fv, err := r.Get(name)
			if err != nil {
				fv = "?"
			}
			fields = append(fields, fmt.Sprintf("%s=%s", name, formatResult(fv)))
		}
		return r.Layout().Name + "{" + strings.Join(fields, " ") + "}"
	}
	return fmt.Sprint(v)
}
