package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	toml "github.com/pelletier/go-toml/v2"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadFullFile(t *testing.T) {
	path := writeConfig(t, `
[indexing]
include_paths = ["/data/docs", "/data/music"]
exclude_patterns = ["*.bak"]

[performance]
max_cpu_percent = 30
max_memory_mb = 128
batch_size = 200
flush_interval_ms = 1500

[ui]
keyboard_shortcut = "ctrl+space"
max_results = 20
`)

	cfg, err := Load(path, t.Logf)
	if err != nil {
		t.Fatal(err)
	}

	if got := cfg.Indexing.IncludePaths; len(got) != 2 || got[0] != "/data/docs" {
		t.Errorf("include_paths = %v", got)
	}
	if cfg.Performance.MaxCPUPercent != 30 {
		t.Errorf("max_cpu_percent = %d, want 30", cfg.Performance.MaxCPUPercent)
	}
	if cfg.Performance.BatchSize != 200 {
		t.Errorf("batch_size = %d, want 200", cfg.Performance.BatchSize)
	}
	if cfg.UI.KeyboardShortcut != "ctrl+space" {
		t.Errorf("keyboard_shortcut = %q", cfg.UI.KeyboardShortcut)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
[indexing]
include_paths = ["/data"]
`)

	cfg, err := Load(path, t.Logf)
	if err != nil {
		t.Fatal(err)
	}
	def := Default()
	if cfg.Performance.BatchSize != def.Performance.BatchSize {
		t.Errorf("batch_size default = %d, want %d", cfg.Performance.BatchSize, def.Performance.BatchSize)
	}
	if cfg.Performance.FlushIntervalMS != def.Performance.FlushIntervalMS {
		t.Errorf("flush_interval_ms default = %d, want %d", cfg.Performance.FlushIntervalMS, def.Performance.FlushIntervalMS)
	}
	if len(cfg.Indexing.ExcludePatterns) == 0 {
		t.Error("expected default exclude patterns")
	}
}

func TestLoadWarnsUnknownKeys(t *testing.T) {
	path := writeConfig(t, `
[indexing]
include_paths = ["/data"]
frobnicate = true
`)

	var warnings []string
	warn := func(format string, args ...any) {
		warnings = append(warnings, fmt.Sprintf(format, args...))
	}

	if _, err := Load(path, warn); err != nil {
		t.Fatal(err)
	}
	found := false
	for _, w := range warnings {
		if strings.Contains(w, "frobnicate") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a warning naming the unknown key, got %v", warnings)
	}
}

func TestLoadMalformedFile(t *testing.T) {
	path := writeConfig(t, `[indexing
include_paths = `)

	if _, err := Load(path, t.Logf); err == nil {
		t.Error("expected error for malformed TOML")
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"relative include path", "[indexing]\ninclude_paths = [\"relative/path\"]\n"},
		{"cpu percent zero", "[performance]\nmax_cpu_percent = 0\n"},
		{"negative batch size", "[performance]\nbatch_size = -5\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.content)
			if _, err := Load(path, t.Logf); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestLoadTildeExpansion(t *testing.T) {
	path := writeConfig(t, `
[indexing]
include_paths = ["~/docs"]
`)
	cfg, err := Load(path, t.Logf)
	if err != nil {
		t.Fatal(err)
	}
	home, _ := os.UserHomeDir()
	roots := cfg.Roots()
	if len(roots) != 1 || roots[0] != filepath.Join(home, "docs") {
		t.Errorf("expected tilde-expanded root, got %v", roots)
	}
}

func TestComputeDiff(t *testing.T) {
	old := &Config{Indexing: IndexingConfig{
		IncludePaths:    []string{"/a", "/b"},
		ExcludePatterns: []string{"*.tmp"},
	}}
	new := &Config{Indexing: IndexingConfig{
		IncludePaths:    []string{"/b", "/c"},
		ExcludePatterns: []string{"*.tmp"},
	}}

	d := ComputeDiff(old, new)
	if len(d.AddedRoots) != 1 || d.AddedRoots[0] != "/c" {
		t.Errorf("added = %v, want [/c]", d.AddedRoots)
	}
	if len(d.RemovedRoots) != 1 || d.RemovedRoots[0] != "/a" {
		t.Errorf("removed = %v, want [/a]", d.RemovedRoots)
	}
	if d.PatternsChanged {
		t.Error("patterns should be unchanged")
	}

	new2 := &Config{Indexing: IndexingConfig{
		IncludePaths:    []string{"/a", "/b"},
		ExcludePatterns: []string{"*.tmp", "node_modules"},
	}}
	d2 := ComputeDiff(old, new2)
	if !d2.PatternsChanged {
		t.Error("expected patterns_changed")
	}
	if d2.Empty() {
		t.Error("diff with pattern change must not be empty")
	}
}

func TestWriteDefaultPreservesUISection(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	existing := `
[indexing]
include_paths = ["/old"]

[ui]
keyboard_shortcut = "alt+f2"
max_results = 99
theme = "dark"
`
	if err := os.WriteFile(path, []byte(existing), 0644); err != nil {
		t.Fatal(err)
	}

	if err := WriteDefault(path); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var doc map[string]any
	if err := toml.Unmarshal(data, &doc); err != nil {
		t.Fatal(err)
	}
	ui, ok := doc["ui"].(map[string]any)
	if !ok {
		t.Fatalf("missing [ui] table in %s", data)
	}
	if ui["keyboard_shortcut"] != "alt+f2" {
		t.Errorf("keyboard_shortcut = %v, want alt+f2", ui["keyboard_shortcut"])
	}
	// Keys the daemon does not even know about survive a rewrite.
	if ui["theme"] != "dark" {
		t.Errorf("expected panel-owned key preserved, got %v", ui["theme"])
	}

	// Daemon-owned sections are reset to defaults.
	cfg, err := Load(path, t.Logf)
	if err != nil {
		t.Fatal(err)
	}
	def := Default()
	if cfg.Performance.BatchSize != def.Performance.BatchSize {
		t.Errorf("expected default batch_size, got %d", cfg.Performance.BatchSize)
	}
}

func TestWriteDefaultFreshFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.toml")
	if err := WriteDefault(path); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path, t.Logf)
	if err != nil {
		t.Fatal(err)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("written defaults failed validation: %v", err)
	}
}
