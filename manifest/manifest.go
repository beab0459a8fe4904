// Package manifest handles pcode.toml project configuration. A pcode.yaml
// or pcode.yml file is read instead when no pcode.toml exists.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/chazu/pcode/vm"
	"gopkg.in/yaml.v3"
)

// FileNames lists the manifest names looked for in a directory, in order
// of preference.
var FileNames = []string{"pcode.toml", "pcode.yaml", "pcode.yml"}

// Manifest represents a pcode project configuration.
type Manifest struct {
	Project Project     `toml:"project" yaml:"project"`
	Machine Machine     `toml:"machine" yaml:"machine"`
	Log     Log         `toml:"log" yaml:"log"`
	Cache   CacheConfig `toml:"cache" yaml:"cache"`

	// Dir is the directory containing the manifest (set at load time).
	Dir string `toml:"-" yaml:"-"`
	// File is the manifest path that was read (set at load time).
	File string `toml:"-" yaml:"-"`
}

// Project contains project metadata.
type Project struct {
	Name    string `toml:"name" yaml:"name"`
	Version string `toml:"version" yaml:"version"`
	Entry   string `toml:"entry" yaml:"entry"`
}

// Machine configures the virtual machine.
type Machine struct {
	Memory    int      `toml:"memory" yaml:"memory"`
	Debug     bool     `toml:"debug" yaml:"debug"`
	StepDelay Duration `toml:"step-delay" yaml:"step-delay"`
}

// Log configures logging.
type Log struct {
	Verbosity int    `toml:"verbosity" yaml:"verbosity"`
	File      string `toml:"file" yaml:"file"`
}

// CacheConfig configures the compile cache.
type CacheConfig struct {
	Enabled bool   `toml:"enabled" yaml:"enabled"`
	Path    string `toml:"path" yaml:"path"`
}

// Duration is a time.Duration written as a string such as "250ms".
type Duration struct {
	time.Duration
}

// UnmarshalText parses a duration string.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	if v < 0 {
		return fmt.Errorf("negative duration %q", text)
	}
	d.Duration = v
	return nil
}

// MarshalText formats the duration as a string.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// UnmarshalYAML parses a duration scalar.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a string", node.Line)
	}
	return d.UnmarshalText([]byte(node.Value))
}

// Default returns the configuration used when no manifest exists, and
// the base that manifest values are laid over.
func Default() Manifest {
	return Manifest{
		Machine: Machine{Memory: vm.DefaultMemoryCapacity},
		Cache: CacheConfig{
			Enabled: true,
			Path:    filepath.Join(".pcode", "cache.db"),
		},
	}
}

// Find returns the manifest path in dir, if there is one.
func Find(dir string) (string, bool) {
	for _, name := range FileNames {
		path := filepath.Join(dir, name)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path, true
		}
	}
	return "", false
}

// Load parses the manifest in the given directory.
func Load(dir string) (*Manifest, error) {
	path, ok := Find(dir)
	if !ok {
		return nil, fmt.Errorf("no %s in %s", strings.Join(FileNames, " or "), dir)
	}
	return LoadFile(path)
}

// LoadFile parses a manifest file. The format follows the extension.
func LoadFile(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	m := Default()
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &m)
	default:
		err = toml.Unmarshal(data, &m)
	}
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	if m.Machine.Memory < 0 {
		return nil, fmt.Errorf("%s: machine memory must not be negative, got %d", path, m.Machine.Memory)
	}

	m.File = path
	m.Dir, err = filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", path, err)
	}
	return &m, nil
}

// FindAndLoad walks up from startDir to find a manifest, then loads and
// returns it. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		if path, ok := Find(dir); ok {
			return LoadFile(path)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// MachineConfig returns the machine settings as a vm.Config.
func (m *Manifest) MachineConfig() vm.Config {
	return vm.Config{
		MemoryCapacity: m.Machine.Memory,
		Trace:          m.Machine.Debug,
		StepDelay:      m.Machine.StepDelay.Duration,
	}
}

// EntryPath returns the absolute path of the entry source file, or "" if
// none is configured.
func (m *Manifest) EntryPath() string {
	if m.Project.Entry == "" {
		return ""
	}
	return m.resolve(m.Project.Entry)
}

// CachePath returns the absolute path of the cache database.
func (m *Manifest) CachePath() string {
	return m.resolve(m.Cache.Path)
}

// LogPath returns the absolute path of the log file, or "" for stderr.
func (m *Manifest) LogPath() string {
	if m.Log.File == "" {
		return ""
	}
	return m.resolve(m.Log.File)
}

func (m *Manifest) resolve(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(m.Dir, path)
}
