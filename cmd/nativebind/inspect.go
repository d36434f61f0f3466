package main

import (
	"context"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"text/tabwriter"

	"github.com/fxamacker/cbor/v2"
	"github.com/urfave/cli/v3"

	"github.com/alexhholmes/nativebind/bind"
	"github.com/alexhholmes/nativebind/internal/parser"
	"github.com/alexhholmes/nativebind/layout"
	"github.com/alexhholmes/nativebind/linker"
)

type report struct {
	Structs  []structReport  `cbor:"structs"`
	Upcalls  []upcallReport  `cbor:"upcalls"`
	Bindings []bindingReport `cbor:"bindings"`
}

type structReport struct {
	Name    string         `cbor:"name"`
	Size    int64          `cbor:"size"`
	Align   int64          `cbor:"align"`
	Layout  string         `cbor:"layout"`
	Members []memberReport `cbor:"members"`
}

type memberReport struct {
	Name   string `cbor:"name"`
	Offset int64  `cbor:"offset"`
	Layout string `cbor:"layout"`
}

type upcallReport struct {
	Name       string `cbor:"name"`
	Stub       string `cbor:"stub"`
	Descriptor string `cbor:"descriptor"`
}

type bindingReport struct {
	Name    string         `cbor:"name"`
	Owner   string         `cbor:"owner"`
	Methods []methodReport `cbor:"methods"`
}

type methodReport struct {
	Name        string `cbor:"name"`
	Entrypoint  string `cbor:"entrypoint"`
	Signature   string `cbor:"signature"`
	Descriptor  string `cbor:"descriptor"`
	Requirement string `cbor:"requirement"`
	Critical    bool   `cbor:"critical"`
	HeapAccess  bool   `cbor:"heap_access"`
	Defaulted   bool   `cbor:"defaulted"`
}

func inspectAction(ctx context.Context, cmd *cli.Command) error {
	if cmd.NArg() < 1 {
		return fmt.Errorf("usage: nativebind inspect [--target NAME] [--config FILE] [--cbor FILE] <file.go>")
	}
	file := cmd.Args().First()

	cfg, err := loadConfig(cmd, cmd.String("config"), sourceDir(file))
	if err != nil {
		return err
	}
	target := cmd.String("target")
	var overrides map[string]layout.FunctionDescriptor
	if cfg != nil {
		if target == "" {
			target = cfg.Binding.Target
		}
		if overrides, err = cfg.Descriptors(); err != nil {
			return err
		}
	}

	f, err := parser.ParseFile(file)
	if err != nil {
		return err
	}
	// Inspection never calls native code, so upcall types bind to an
	// in-process library.
	s, err := parser.Lower(f, linker.NewLibrary("inspect"))
	if err != nil {
		return err
	}

	r, err := buildReport(s, target, overrides)
	if err != nil {
		return err
	}
	if err := printReport(os.Stdout, r, useColor(os.Stdout)); err != nil {
		return err
	}

	if path := cmd.String("cbor"); path != "" {
		return writeCBOR(path, r)
	}
	return nil
}

func buildReport(s *parser.Schema, target string, overrides map[string]layout.FunctionDescriptor) (*report, error) {
	r := &report{}

	for _, sl := range s.Structs {
		sr := structReport{Name: sl.Name, Size: sl.Size(), Align: sl.Align(), Layout: sl.String()}
		for _, m := range sl.Members {
			name := m.Name
			if m.Padding {
				name = "(padding)"
			}
			sr.Members = append(sr.Members, memberReport{Name: name, Offset: m.Offset, Layout: m.Layout.String()})
		}
		r.Structs = append(r.Structs, sr)
	}

	for _, c := range slices.Sorted(maps.Keys(s.Upcalls)) {
		u := s.Upcalls[c]
		r.Upcalls = append(r.Upcalls, upcallReport{Name: u.Name, Stub: u.Method.Name, Descriptor: u.Descriptor.String()})
	}

	for _, b := range s.Bindings {
		if target != "" && b.Owner != target {
			continue
		}
		br := bindingReport{Name: b.Name, Owner: b.Owner}
		for _, sig := range b.Signatures {
			fd, err := bind.BuildDescriptor(sig, overrides)
			if err != nil {
				return nil, err
			}
			br.Methods = append(br.Methods, methodReport{
				Name:        sig.Name,
				Entrypoint:  sig.EntrypointName(),
				Signature:   sig.String(),
				Descriptor:  fd.String(),
				Requirement: bind.Analyze(sig).String(),
				Critical:    sig.Flags.Critical || sig.Flags.CriticalAllowHeapAccess,
				HeapAccess:  sig.Flags.CriticalAllowHeapAccess,
				Defaulted:   sig.Flags.Defaulted,
			})
		}
		r.Bindings = append(r.Bindings, br)
	}

	if target != "" && len(r.Bindings) == 0 {
		return nil, fmt.Errorf("no binding with owner %s", target)
	}
	return r, nil
}

func printReport(w io.Writer, r *report, color bool) error {
	heading := func(format string, args ...any) {
		s := fmt.Sprintf(format, args...)
		if color {
			s = "\033[1m" + s + "\033[0m"
		}
		fmt.Fprintln(w, s)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)

	for _, s := range r.Structs {
		heading("struct %s (size=%d, align=%d)", s.Name, s.Size, s.Align)
		for _, m := range s.Members {
			fmt.Fprintf(tw, "  @%d\t%s\t%s\n", m.Offset, m.Name, m.Layout)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
		fmt.Fprintln(w)
	}

	if len(r.Upcalls) > 0 {
		heading("callbacks")
		for _, u := range r.Upcalls {
			fmt.Fprintf(tw, "  %s\t%s\t%s\n", u.Name, u.Stub, u.Descriptor)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
		fmt.Fprintln(w)
	}

	for _, b := range r.Bindings {
		heading("binding %s (owner %s)", b.Name, b.Owner)
		for _, m := range b.Methods {
			var notes string
			switch {
			case m.HeapAccess:
				notes = " critical,heap"
			case m.Critical:
				notes = " critical"
			}
			if m.Defaulted {
				notes += " optional"
			}
			fmt.Fprintf(tw, "  %s\t%s\t%s\t%s%s\n", m.Name, m.Entrypoint, m.Descriptor, m.Requirement, notes)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}
	return nil
}

func writeCBOR(path string, r *report) error {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		return err
	}
	data, err := em.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("cannot write %s: %w", path, err)
	}
	return nil
}
