package manifest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadManifest(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "pcode.toml", `
[project]
name = "test-app"
version = "0.1.0"
entry = "src/main.lang"

[machine]
memory = 64
debug = true
step-delay = "250ms"

[log]
verbosity = 2
file = "pcode.log"

[cache]
enabled = false
path = "/tmp/elsewhere.db"
`)

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if m.Project.Name != "test-app" {
		t.Errorf("project name = %q, want test-app", m.Project.Name)
	}
	if m.Project.Version != "0.1.0" {
		t.Errorf("project version = %q, want 0.1.0", m.Project.Version)
	}
	if m.EntryPath() != filepath.Join(m.Dir, "src", "main.lang") {
		t.Errorf("entry path = %q", m.EntryPath())
	}
	if m.Machine.Memory != 64 || !m.Machine.Debug {
		t.Errorf("machine = %+v, want memory 64 with debug", m.Machine)
	}
	if m.Machine.StepDelay.Duration != 250*time.Millisecond {
		t.Errorf("step delay = %v, want 250ms", m.Machine.StepDelay)
	}
	if m.Log.Verbosity != 2 || m.LogPath() != filepath.Join(m.Dir, "pcode.log") {
		t.Errorf("log = %+v (path %q)", m.Log, m.LogPath())
	}
	if m.Cache.Enabled {
		t.Error("cache enabled = true, want false")
	}
	if m.CachePath() != "/tmp/elsewhere.db" {
		t.Errorf("cache path = %q, want the absolute path unchanged", m.CachePath())
	}
	if filepath.Base(m.File) != "pcode.toml" {
		t.Errorf("File = %q", m.File)
	}
}

func TestLoadManifestDefaults(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "pcode.toml", `
[project]
name = "minimal"
`)

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	cfg := m.MachineConfig()
	if cfg.MemoryCapacity != 250 || cfg.Trace || cfg.StepDelay != 0 {
		t.Errorf("machine config = %+v, want defaults", cfg)
	}
	if !m.Cache.Enabled {
		t.Error("cache disabled by default")
	}
	if m.CachePath() != filepath.Join(m.Dir, ".pcode", "cache.db") {
		t.Errorf("cache path = %q", m.CachePath())
	}
	if m.EntryPath() != "" || m.LogPath() != "" {
		t.Errorf("entry %q log %q, want both empty", m.EntryPath(), m.LogPath())
	}
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "pcode.yaml", `
project:
  name: yaml-app
machine:
  memory: 10
  step-delay: 1s
cache:
  enabled: false
`)

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if m.Project.Name != "yaml-app" {
		t.Errorf("project name = %q, want yaml-app", m.Project.Name)
	}
	cfg := m.MachineConfig()
	if cfg.MemoryCapacity != 10 || cfg.StepDelay != time.Second {
		t.Errorf("machine config = %+v", cfg)
	}
	if m.Cache.Enabled {
		t.Error("cache enabled = true, want false")
	}
	// unset keys keep their defaults
	if m.Cache.Path == "" {
		t.Error("cache path lost its default")
	}
}

func TestTOMLPreferredOverYAML(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "pcode.yml", "project:\n  name: from-yaml\n")
	writeFile(t, dir, "pcode.toml", "[project]\nname = \"from-toml\"\n")

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if m.Project.Name != "from-toml" {
		t.Errorf("project name = %q, want from-toml", m.Project.Name)
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		want    string
	}{
		{"bad toml", "pcode.toml", "[project\n", "parse error"},
		{"bad duration", "pcode.toml", "[machine]\nstep-delay = \"soon\"\n", "invalid duration"},
		{"negative duration", "pcode.toml", "[machine]\nstep-delay = \"-1s\"\n", "negative duration"},
		{"negative memory", "pcode.toml", "[machine]\nmemory = -1\n", "must not be negative"},
		{"yaml duration map", "pcode.yaml", "machine:\n  step-delay:\n    a: 1\n", "must be a string"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			writeFile(t, dir, tc.file, tc.content)
			_, err := Load(dir)
			if err == nil {
				t.Fatal("Load succeeded, want error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error = %q, want it to contain %q", err, tc.want)
			}
		})
	}
}

func TestLoadMissing(t *testing.T) {
	if _, err := Load(t.TempDir()); err == nil {
		t.Error("Load of an empty directory succeeded")
	}
}

func TestFindAndLoad(t *testing.T) {
	dir := t.TempDir()
	subDir := filepath.Join(dir, "a", "b", "c")
	if err := os.MkdirAll(subDir, 0755); err != nil {
		t.Fatal(err)
	}
	writeFile(t, dir, "pcode.toml", "[project]\nname = \"found-project\"\n")

	// Should find manifest when starting from a deep subdirectory
	m, err := FindAndLoad(subDir)
	if err != nil {
		t.Fatalf("FindAndLoad failed: %v", err)
	}
	if m == nil {
		t.Fatal("FindAndLoad returned nil")
	}
	if m.Project.Name != "found-project" {
		t.Errorf("project name = %q, want found-project", m.Project.Name)
	}
	abs, _ := filepath.Abs(dir)
	if m.Dir != abs {
		t.Errorf("Dir = %q, want %q", m.Dir, abs)
	}
}

func TestFindAndLoadNotFound(t *testing.T) {
	dir := t.TempDir()
	m, err := FindAndLoad(dir)
	if err != nil {
		t.Fatalf("FindAndLoad error: %v", err)
	}
	if m != nil {
		t.Error("expected nil manifest when no pcode.toml exists")
	}
}

func TestFindIgnoresDirectories(t *testing.T) {
	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, "pcode.toml"), 0755); err != nil {
		t.Fatal(err)
	}
	if path, ok := Find(dir); ok {
		t.Errorf("Find returned directory %q", path)
	}
}

func TestDurationText(t *testing.T) {
	var d Duration
	if err := d.UnmarshalText([]byte(" 1m30s ")); err != nil {
		t.Fatalf("UnmarshalText: %v", err)
	}
	text, err := d.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText: %v", err)
	}
	if string(text) != "1m30s" {
		t.Errorf("MarshalText = %q, want 1m30s", text)
	}
}
