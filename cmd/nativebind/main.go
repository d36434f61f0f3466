// Command nativebind inspects annotated binding declarations and calls
// native functions through them.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"
	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"github.com/alexhholmes/nativebind/config"
)

var version = "v0.1.0"

func main() {
	cmd := &cli.Command{
		Name:                   "nativebind",
		Usage:                  "Bind annotated Go declarations to native libraries",
		Version:                version,
		UseShortOptionHandling: true,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "verbosity",
				Aliases: []string{"v"},
				Usage:   "Log verbosity when no config file sets it",
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "inspect",
				Usage:     "Print struct layouts, upcall types and method descriptors",
				ArgsUsage: "<file.go>",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "target",
						Aliases: []string{"t"},
						Usage:   "Only show the binding with this owner",
					},
					&cli.StringFlag{
						Name:    "config",
						Aliases: []string{"c"},
						Usage:   "Path to nativebind.toml (default: search upwards from the source file)",
					},
					&cli.StringFlag{
						Name:  "cbor",
						Usage: "Also write the report as CBOR to this file",
					},
				},
				Action: inspectAction,
			},
			{
				Name:      "call",
				Usage:     "Call one bound method of a native library",
				ArgsUsage: "<file.go> <Binding.Method> [args...]",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "lib",
						Aliases: []string{"l"},
						Usage:   "Shared library to load (default: config file, then the process)",
					},
					&cli.StringFlag{
						Name:    "config",
						Aliases: []string{"c"},
						Usage:   "Path to nativebind.toml (default: search upwards from the source file)",
					},
				},
				Action: callAction,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads the file at path, or searches upwards from dir when path
// is empty. It returns nil when no file is found, and configures logging.
func loadConfig(cmd *cli.Command, path, dir string) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if path != "" {
		cfg, err = config.LoadFile(path)
	} else {
		cfg, err = config.FindAndLoad(dir)
	}
	if err != nil {
		return nil, err
	}

	if cfg == nil {
		commonlog.Configure(int(cmd.Root().Int("verbosity")), nil)
		return nil, nil
	}
	if cmd.Root().IsSet("verbosity") {
		cfg.Log.Verbosity = int(cmd.Root().Int("verbosity"))
	}
	cfg.ConfigureLogging()
	return cfg, nil
}

func sourceDir(file string) string {
	dir, err := filepath.Abs(filepath.Dir(file))
	if err != nil {
		return filepath.Dir(file)
	}
	return dir
}

// useColor reports whether headings written to f may use ANSI escapes.
func useColor(f *os.File) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}
