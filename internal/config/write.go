package config

import (
	"fmt"
	"os"
	"path/filepath"

	toml "github.com/pelletier/go-toml/v2"
)

// WriteDefault writes the built-in configuration to path, creating parent
// directories. When a file already exists, its [ui] table is preserved
// verbatim: that section belongs to the search panel, and the daemon must
// not clobber panel-originated edits.
func WriteDefault(path string) error {
	doc := map[string]any{}
	def := Default()
	doc["indexing"] = def.Indexing
	doc["performance"] = def.Performance
	doc["ui"] = def.UI

	if data, err := os.ReadFile(path); err == nil {
		var existing map[string]any
		if err := toml.Unmarshal(data, &existing); err == nil {
			if ui, ok := existing["ui"]; ok {
				doc["ui"] = ui
			}
		}
	}

	out, err := toml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := os.WriteFile(path, out, 0644); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}
