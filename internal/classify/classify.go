// Package classify decides which filesystem paths belong in the index.
// It owns path normalization, include/exclude evaluation, file-type
// classification, and desktop-entry recognition.
package classify

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// ErrInvalidPath is returned for empty or non-absolute paths.
var ErrInvalidPath = errors.New("invalid path")

// FileType is the three-valued kind stored per index row.
type FileType string

const (
	Regular   FileType = "Regular"
	Directory FileType = "Directory"
	Symlink   FileType = "Symlink"
)

// ExpandTilde replaces a leading ~ with the invoking user's home directory.
func ExpandTilde(p string) string {
	if p == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return p
		}
		return home
	}
	if strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return p
		}
		return filepath.Join(home, p[2:])
	}
	return p
}

// Normalize expands a leading tilde and lexically resolves . and ..
// components. Symlinks are preserved, not resolved. The result must be
// absolute; empty or relative input fails with ErrInvalidPath.
func Normalize(p string) (string, error) {
	if p == "" {
		return "", ErrInvalidPath
	}
	p = ExpandTilde(p)
	if !filepath.IsAbs(p) {
		return "", ErrInvalidPath
	}
	return filepath.Clean(p), nil
}

// Classify maps stat metadata to the index file-type enum. Symlinks win
// over directories so a symlinked directory yields a single Symlink row.
func Classify(info fs.FileInfo) FileType {
	mode := info.Mode()
	switch {
	case mode&fs.ModeSymlink != 0:
		return Symlink
	case mode.IsDir():
		return Directory
	default:
		return Regular
	}
}

// IsDesktopEntry reports whether the path names a desktop-entry file.
// Recognition is by suffix alone, matching how the fixed application
// roots are populated.
func IsDesktopEntry(p string) bool {
	return strings.HasSuffix(p, ".desktop")
}

// ApplicationRoots returns the fixed directories expected to contain
// desktop entries. They are indexed regardless of user configuration.
func ApplicationRoots() []string {
	roots := []string{
		"/usr/share/applications",
		"/usr/local/share/applications",
		"/var/lib/snapd/desktop/applications",
		"/var/lib/flatpak/exports/share/applications",
	}
	if home, err := os.UserHomeDir(); err == nil {
		roots = append(roots,
			filepath.Join(home, ".local", "share", "applications"),
			filepath.Join(home, ".local", "share", "flatpak", "exports", "share", "applications"),
			filepath.Join(home, "Applications"),
		)
	}
	return roots
}

// Policy is an immutable include/exclude evaluator built from one config
// snapshot. The application roots are layered on top of the configured
// include paths.
type Policy struct {
	roots    []string
	patterns []string
}

// NewPolicy builds a Policy from configured include paths and exclude
// patterns. Include paths are tilde-expanded and normalized; entries that
// fail normalization are dropped. Application roots are always appended.
func NewPolicy(includePaths, excludePatterns []string) *Policy {
	var roots []string
	seen := make(map[string]struct{})
	add := func(p string) {
		n, err := Normalize(p)
		if err != nil {
			return
		}
		if _, ok := seen[n]; ok {
			return
		}
		seen[n] = struct{}{}
		roots = append(roots, n)
	}
	for _, p := range includePaths {
		add(p)
	}
	for _, p := range ApplicationRoots() {
		add(p)
	}
	return &Policy{roots: roots, patterns: excludePatterns}
}

// Roots returns the effective root set: configured include paths plus the
// application roots, normalized and de-duplicated.
func (p *Policy) Roots() []string {
	out := make([]string, len(p.roots))
	copy(out, p.roots)
	return out
}

// UserRoots returns only the configured include paths, without the fixed
// application roots. Used when diffing config changes.
func UserRoots(includePaths []string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, p := range includePaths {
		n, err := Normalize(p)
		if err != nil {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

// Included reports whether path lies under some root and matches no
// exclude pattern. The path must already be normalized.
func (p *Policy) Included(path string) bool {
	if !p.underRoot(path) {
		return false
	}
	return !ExcludeMatches(path, p.patterns)
}

func (p *Policy) underRoot(path string) bool {
	for _, root := range p.roots {
		if path == root || strings.HasPrefix(path, root+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// UnderAny reports whether path lies under any of the given roots.
func UnderAny(path string, roots []string) bool {
	for _, root := range roots {
		if path == root || strings.HasPrefix(path, root+string(filepath.Separator)) {
			return true
		}
	}
	return false
}
