// Package config handles configuration loading, validation, and hot
// reload for the NovaSearch daemon.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"

	"github.com/novik133/novasearch/internal/classify"
)

const (
	appDirName     = "novasearch"
	configFileName = "config.toml"
	indexFileName  = "index.db"
	// SystemConfigPath is read when no user config exists.
	SystemConfigPath = "/etc/novasearch/config.toml"
)

// Config holds all daemon configuration. Snapshots are immutable values;
// a reload produces a fresh Config, never an in-place mutation.
type Config struct {
	// Indexing controls what gets indexed.
	Indexing IndexingConfig `mapstructure:"indexing" toml:"indexing"`
	// Performance holds the advisory resource bounds and write batching.
	Performance PerformanceConfig `mapstructure:"performance" toml:"performance"`
	// UI is owned by the search panel; the daemon parses it only to
	// preserve it when rewriting the file.
	UI UIConfig `mapstructure:"ui" toml:"ui"`
}

// IndexingConfig controls the indexed set.
type IndexingConfig struct {
	// IncludePaths are the roots to index, tilde-expandable.
	IncludePaths []string `mapstructure:"include_paths" toml:"include_paths"`
	// ExcludePatterns are glob patterns removed from the indexed set.
	ExcludePatterns []string `mapstructure:"exclude_patterns" toml:"exclude_patterns"`
}

// PerformanceConfig holds resource bounds and batching knobs.
type PerformanceConfig struct {
	// MaxCPUPercent is the soft CPU budget for scans.
	MaxCPUPercent int `mapstructure:"max_cpu_percent" toml:"max_cpu_percent"`
	// MaxMemoryMB is the advisory memory bound.
	MaxMemoryMB int `mapstructure:"max_memory_mb" toml:"max_memory_mb"`
	// BatchSize caps records per write transaction.
	BatchSize int `mapstructure:"batch_size" toml:"batch_size"`
	// FlushIntervalMS is the maximum coalescing delay before a non-full
	// batch is flushed.
	FlushIntervalMS int `mapstructure:"flush_interval_ms" toml:"flush_interval_ms"`
}

// UIConfig is read by the search panel, not the daemon.
type UIConfig struct {
	KeyboardShortcut string `mapstructure:"keyboard_shortcut" toml:"keyboard_shortcut"`
	MaxResults       int    `mapstructure:"max_results" toml:"max_results"`
}

// UserConfigPath returns the per-user config file path.
func UserConfigPath() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, appDirName, configFileName)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", appDirName, configFileName)
}

// DataDir returns the per-user data directory holding the index, the
// pidfile, and the status file.
func DataDir() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, appDirName)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".local", "share", appDirName)
}

// IndexPath returns the fixed index file path consumed by UI clients.
func IndexPath() string {
	return filepath.Join(DataDir(), indexFileName)
}

// ResolvePath picks the config file to read: the explicit flag value,
// then the user file, then the system-wide default. Empty when none
// exists.
func ResolvePath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if p := UserConfigPath(); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	if _, err := os.Stat(SystemConfigPath); err == nil {
		return SystemConfigPath
	}
	return ""
}

// Default returns the built-in configuration.
func Default() *Config {
	home, _ := os.UserHomeDir()
	var include []string
	if home != "" {
		include = []string{home}
	}
	return &Config{
		Indexing: IndexingConfig{
			IncludePaths: include,
			ExcludePatterns: []string{
				".git", ".cache", "node_modules", "__pycache__", "target",
				"*.tmp", "*.swp",
			},
		},
		Performance: PerformanceConfig{
			MaxCPUPercent:   50,
			MaxMemoryMB:     256,
			BatchSize:       500,
			FlushIntervalMS: 2000,
		},
		UI: UIConfig{
			KeyboardShortcut: "super+space",
			MaxResults:       50,
		},
	}
}

// Load reads the config at path (empty means defaults only). Unknown keys
// produce warnings through warn; a malformed file is an error, letting
// the caller retain its previous snapshot.
func Load(path string, warn func(format string, args ...any)) (*Config, error) {
	if warn == nil {
		warn = func(string, ...any) {}
	}

	v := viper.New()
	v.SetConfigType("toml")
	setDefaults(v)

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
		warnUnknownKeys(path, data, warn)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// warnUnknownKeys strictly re-decodes the file and reports keys the
// daemon does not recognize. Unknown keys are tolerated, not fatal.
func warnUnknownKeys(path string, data []byte, warn func(format string, args ...any)) {
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var probe Config
	if err := dec.Decode(&probe); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			for _, e := range strict.Errors {
				key := e.Key()
				// The [ui] table belongs to the search panel; whatever it
				// writes there is preserved, not second-guessed.
				if len(key) > 0 && key[0] == "ui" {
					continue
				}
				warn("config %s: unknown key %q ignored", path, strings.Join([]string(key), "."))
			}
		}
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	for _, p := range c.Indexing.IncludePaths {
		if _, err := classify.Normalize(p); err != nil {
			return fmt.Errorf("invalid config: include path %q: %w", p, err)
		}
	}
	if c.Performance.MaxCPUPercent < 1 || c.Performance.MaxCPUPercent > 100 {
		return fmt.Errorf("invalid config: max_cpu_percent must be 1-100, got %d", c.Performance.MaxCPUPercent)
	}
	if c.Performance.BatchSize < 1 {
		return fmt.Errorf("invalid config: batch_size must be positive, got %d", c.Performance.BatchSize)
	}
	if c.Performance.FlushIntervalMS < 1 {
		return fmt.Errorf("invalid config: flush_interval_ms must be positive, got %d", c.Performance.FlushIntervalMS)
	}
	return nil
}

// Roots returns the normalized configured include paths, without the
// application roots.
func (c *Config) Roots() []string {
	return classify.UserRoots(c.Indexing.IncludePaths)
}

// Policy builds the immutable include/exclude evaluator for this snapshot.
func (c *Config) Policy() *classify.Policy {
	return classify.NewPolicy(c.Indexing.IncludePaths, c.Indexing.ExcludePatterns)
}

func setDefaults(v *viper.Viper) {
	def := Default()
	v.SetDefault("indexing.include_paths", def.Indexing.IncludePaths)
	v.SetDefault("indexing.exclude_patterns", def.Indexing.ExcludePatterns)
	v.SetDefault("performance.max_cpu_percent", def.Performance.MaxCPUPercent)
	v.SetDefault("performance.max_memory_mb", def.Performance.MaxMemoryMB)
	v.SetDefault("performance.batch_size", def.Performance.BatchSize)
	v.SetDefault("performance.flush_interval_ms", def.Performance.FlushIntervalMS)
	v.SetDefault("ui.keyboard_shortcut", def.UI.KeyboardShortcut)
	v.SetDefault("ui.max_results", def.UI.MaxResults)
}

// Diff describes how the indexed set changed between two snapshots.
type Diff struct {
	AddedRoots      []string
	RemovedRoots    []string
	PatternsChanged bool
}

// Empty reports whether the diff requires no action.
func (d Diff) Empty() bool {
	return len(d.AddedRoots) == 0 && len(d.RemovedRoots) == 0 && !d.PatternsChanged
}

// ComputeDiff compares the indexed sets of two snapshots.
func ComputeDiff(old, new *Config) Diff {
	oldRoots := toSet(old.Roots())
	newRoots := toSet(new.Roots())

	var d Diff
	for r := range newRoots {
		if _, ok := oldRoots[r]; !ok {
			d.AddedRoots = append(d.AddedRoots, r)
		}
	}
	for r := range oldRoots {
		if _, ok := newRoots[r]; !ok {
			d.RemovedRoots = append(d.RemovedRoots, r)
		}
	}
	sort.Strings(d.AddedRoots)
	sort.Strings(d.RemovedRoots)

	d.PatternsChanged = !equalStrings(old.Indexing.ExcludePatterns, new.Indexing.ExcludePatterns)
	return d
}

func toSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, it := range items {
		set[it] = struct{}{}
	}
	return set
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
