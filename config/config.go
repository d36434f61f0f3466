// Package config handles nativebind.toml binding configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/tliron/commonlog"

	"github.com/alexhholmes/nativebind/bind"
	"github.com/alexhholmes/nativebind/layout"
)

// FileName is the configuration file looked up by Load and FindAndLoad.
const FileName = "nativebind.toml"

// Config represents a nativebind.toml file.
type Config struct {
	Library   Library           `toml:"library"`
	Binding   Binding           `toml:"binding"`
	Log       Log               `toml:"log"`
	Overrides map[string]string `toml:"overrides"` // entrypoint → descriptor

	// Dir is the directory containing the file (set at load time).
	Dir string `toml:"-"`
}

// Library selects the symbol source.
type Library struct {
	Path    string `toml:"path"`
	Process bool   `toml:"process"`
}

// Binding holds composition switches.
type Binding struct {
	Target     string   `toml:"target"`
	Skip       []string `toml:"skip"`
	Critical   []string `toml:"critical"`
	HeapAccess []string `toml:"heap-access"`
	SizeCheck  *bool    `toml:"size-check"`
	Charset    string   `toml:"charset"`
}

// Log configures commonlog.
type Log struct {
	Verbosity int    `toml:"verbosity"`
	Path      string `toml:"path"`
}

// Load parses nativebind.toml from the given directory.
func Load(dir string) (*Config, error) {
	return LoadFile(filepath.Join(dir, FileName))
}

// LoadFile parses the configuration file at path.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var c Config
	if _, err := toml.Decode(string(data), &c); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	c.Dir, err = filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", path, err)
	}

	if c.Library.Path != "" && c.Library.Process {
		return nil, fmt.Errorf("%s: library.path and library.process are exclusive", path)
	}
	if _, err := c.Descriptors(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &c, nil
}

// FindAndLoad walks up from startDir to find a nativebind.toml file.
// Returns nil if none is found.
func FindAndLoad(startDir string) (*Config, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, FileName)); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, nil
		}
		dir = parent
	}
}

// SizeCheck reports whether array sizes are checked. Defaults to true.
func (c *Config) SizeCheck() bool {
	return c.Binding.SizeCheck == nil || *c.Binding.SizeCheck
}

// LibraryPath returns the library path resolved against Dir, or "" when the
// process itself is the symbol source.
func (c *Config) LibraryPath() string {
	p := c.Library.Path
	if p == "" || filepath.IsAbs(p) || filepath.Base(p) == p {
		// Bare names go to the dynamic loader's search path.
		return p
	}
	return filepath.Join(c.Dir, p)
}

// Options converts the configuration into composition options.
func (c *Config) Options() ([]bind.Option, error) {
	opts := []bind.Option{bind.WithSizeCheck(c.SizeCheck())}

	if c.Binding.Target != "" {
		opts = append(opts, bind.WithTarget(c.Binding.Target))
	}
	if c.Binding.Charset != "" {
		opts = append(opts, bind.WithCharset(c.Binding.Charset))
	}
	if len(c.Binding.Skip) > 0 {
		opts = append(opts, bind.WithSkip(c.Binding.Skip...))
	}
	if len(c.Binding.Critical) > 0 {
		opts = append(opts, bind.WithCritical(c.Binding.Critical...))
	}
	if len(c.Binding.HeapAccess) > 0 {
		opts = append(opts, bind.WithHeapAccess(c.Binding.HeapAccess...))
	}

	overrides, err := c.Descriptors()
	if err != nil {
		return nil, err
	}
	if len(overrides) > 0 {
		opts = append(opts, bind.WithOverrides(overrides))
	}
	return opts, nil
}

// Descriptors parses the [overrides] section, keyed by entrypoint.
func (c *Config) Descriptors() (map[string]layout.FunctionDescriptor, error) {
	overrides := make(map[string]layout.FunctionDescriptor, len(c.Overrides))
	for entry, desc := range c.Overrides {
		fd, err := layout.ParseFunction(desc)
		if err != nil {
			return nil, fmt.Errorf("override %s: %w", entry, err)
		}
		overrides[entry] = fd
	}
	return overrides, nil
}

// ConfigureLogging applies the [log] section. A relative path is resolved
// against Dir.
func (c *Config) ConfigureLogging() {
	if c.Log.Path == "" {
		commonlog.Configure(c.Log.Verbosity, nil)
		return
	}
	path := c.Log.Path
	if !filepath.IsAbs(path) {
		path = filepath.Join(c.Dir, path)
	}
	commonlog.Configure(c.Log.Verbosity, &path)
}
