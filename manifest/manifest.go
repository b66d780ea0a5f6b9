// Package manifest handles secd.toml project configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/chazu/secd/vm"
)

// Manifest represents a secd.toml project configuration.
type Manifest struct {
	Program Program  `toml:"program"`
	Run     Run      `toml:"run"`
	Globals []Global `toml:"globals"`

	// Dir is the directory containing the secd.toml file (set at load time).
	Dir string `toml:"-"`
}

// Program contains program metadata.
type Program struct {
	Name     string `toml:"name"`
	Bytecode string `toml:"bytecode"`
}

// Run configures execution defaults.
type Run struct {
	StepLimit        uint64 `toml:"step-limit"`
	Debug            bool   `toml:"debug"`
	DisableTailCalls bool   `toml:"disable-tail-calls"`
}

// Global is one builtin binding pre-seeded into the machine's
// outermost environment frame. Bindings keep their file order, since
// compiled coordinates address the frame by position. Exactly one of
// the value fields must be set.
type Global struct {
	Name  string   `toml:"name"`
	Int   *int64   `toml:"int"`
	UInt  *uint64  `toml:"uint"`
	Float *float64 `toml:"float"`
	Char  string   `toml:"char"`
}

// Cell returns the atom the binding describes.
func (g Global) Cell() (vm.Cell, error) {
	set := 0
	var c vm.Cell
	if g.Int != nil {
		set++
		c = vm.NewSInt(*g.Int)
	}
	if g.UInt != nil {
		set++
		c = vm.NewUInt(*g.UInt)
	}
	if g.Float != nil {
		set++
		c = vm.NewFloat(*g.Float)
	}
	if g.Char != "" {
		set++
		runes := []rune(g.Char)
		if len(runes) != 1 {
			return nil, fmt.Errorf("global %q: char must be a single character, got %q", g.Name, g.Char)
		}
		c = vm.NewChar(runes[0])
	}
	if set != 1 {
		return nil, fmt.Errorf("global %q: exactly one of int, uint, float, char must be set", g.Name)
	}
	return c, nil
}

// GlobalFrame builds the environment frame from the globals, in file
// order.
func (m *Manifest) GlobalFrame() (vm.Cell, error) {
	values := make([]vm.Cell, 0, len(m.Globals))
	for _, g := range m.Globals {
		c, err := g.Cell()
		if err != nil {
			return nil, err
		}
		values = append(values, c)
	}
	return vm.List(values...), nil
}

// MachineOptions translates the run configuration into machine options.
func (m *Manifest) MachineOptions() (vm.Options, error) {
	frame, err := m.GlobalFrame()
	if err != nil {
		return vm.Options{}, err
	}
	return vm.Options{
		StepLimit:        m.Run.StepLimit,
		DisableTailCalls: m.Run.DisableTailCalls,
		GlobalFrame:      frame,
	}, nil
}

// BytecodePath returns the absolute path of the configured bytecode file.
func (m *Manifest) BytecodePath() string {
	if m.Program.Bytecode == "" {
		return ""
	}
	if filepath.IsAbs(m.Program.Bytecode) {
		return m.Program.Bytecode
	}
	return filepath.Join(m.Dir, m.Program.Bytecode)
}

// Load parses a secd.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, "secd.toml")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	return &m, nil
}

// FindAndLoad walks up from startDir to find a secd.toml file, then
// loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, "secd.toml")
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}
