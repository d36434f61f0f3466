//go:build darwin || freebsd || linux

package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/alexhholmes/nativebind/bind"
	"github.com/alexhholmes/nativebind/config"
	"github.com/alexhholmes/nativebind/internal/parser"
	"github.com/alexhholmes/nativebind/linker"
	"github.com/alexhholmes/nativebind/memory"
)

func callAction(ctx context.Context, cmd *cli.Command) error {
	if cmd.NArg() < 2 {
		return fmt.Errorf("usage: nativebind call [--lib PATH] [--config FILE] <file.go> <Binding.Method> [args...]")
	}
	file := cmd.Args().Get(0)
	bindingName, method, ok := strings.Cut(cmd.Args().Get(1), ".")
	if !ok {
		return fmt.Errorf("method %q: want Binding.Method", cmd.Args().Get(1))
	}

	cfg, err := loadConfig(cmd, cmd.String("config"), sourceDir(file))
	if err != nil {
		return err
	}

	f, err := parser.ParseFile(file)
	if err != nil {
		return err
	}
	lnk := linker.Native{}
	s, err := parser.Lower(f, lnk)
	if err != nil {
		return err
	}

	b, ok := s.Binding(bindingName)
	if !ok {
		return fmt.Errorf("no binding %s in %s", bindingName, file)
	}
	var sig *bind.Signature
	var others []string
	for i := range b.Signatures {
		if b.Signatures[i].Name == method {
			sig = &b.Signatures[i]
		} else {
			others = append(others, b.Signatures[i].Name)
		}
	}
	if sig == nil {
		return fmt.Errorf("binding %s has no method %s", bindingName, method)
	}

	src, err := openSource(cmd.String("lib"), cfg)
	if err != nil {
		return err
	}
	defer src.Close()

	var opts []bind.Option
	if cfg != nil {
		if opts, err = cfg.Options(); err != nil {
			return err
		}
	}
	// Compose only the requested method so missing siblings do not fail it.
	opts = append(opts, bind.WithTarget(b.Owner), bind.WithSkip(others...))

	binding, err := bind.Compose(src, lnk, b.Signatures, opts...)
	if err != nil {
		return err
	}

	arena := memory.NewArena()
	defer arena.Close()

	args, err := callArgs(*sig, cmd.Args().Slice()[2:], arena)
	if err != nil {
		return err
	}
	res, err := binding.Call(method, args...)
	if err != nil {
		return err
	}
	if sig.Return.Kind != bind.Void {
		fmt.Println(formatResult(res))
	}
	return nil
}

// openSource opens the library named by the flag, then the config file, and
// falls back to the libraries already loaded into the process.
func openSource(lib string, cfg *config.Config) (*linker.Dynamic, error) {
	if lib == "" && cfg != nil {
		lib = cfg.LibraryPath()
	}
	if lib == "" {
		return linker.Process(), nil
	}
	return linker.Open(lib)
}
