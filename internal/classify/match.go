package classify

import (
	"path"
	"path/filepath"
	"strings"
)

// ExcludeMatches reports whether any pattern matches the path. Pattern
// semantics: * matches within one segment, ** matches any depth, ? matches
// one character. A pattern without a slash matches any single path
// component anywhere, so "node_modules" excludes every directory so named.
// Slashed patterns are matched against every contiguous window of the
// path's components, so matching an ancestor excludes the whole subtree.
func ExcludeMatches(p string, patterns []string) bool {
	comps := splitPath(p)
	for _, pattern := range patterns {
		if matchPattern(pattern, comps) {
			return true
		}
	}
	return false
}

func matchPattern(pattern string, comps []string) bool {
	pattern = strings.Trim(filepath.ToSlash(pattern), "/")
	if pattern == "" {
		return false
	}

	if !strings.Contains(pattern, "/") {
		for _, c := range comps {
			if ok, _ := path.Match(pattern, c); ok {
				return true
			}
		}
		return false
	}

	pparts := splitPath(pattern)
	for i := 0; i < len(comps); i++ {
		for j := i; j <= len(comps); j++ {
			if matchParts(pparts, comps[i:j]) {
				return true
			}
		}
	}
	return false
}

// matchParts matches pattern components against path components, with **
// consuming zero or more components.
func matchParts(pparts, comps []string) bool {
	if len(pparts) == 0 {
		return len(comps) == 0
	}
	if pparts[0] == "**" {
		rest := pparts[1:]
		for i := 0; i <= len(comps); i++ {
			if matchParts(rest, comps[i:]) {
				return true
			}
		}
		return false
	}
	if len(comps) == 0 {
		return false
	}
	if ok, _ := path.Match(pparts[0], comps[0]); !ok {
		return false
	}
	return matchParts(pparts[1:], comps[1:])
}

func splitPath(p string) []string {
	p = filepath.ToSlash(p)
	var out []string
	for _, part := range strings.Split(p, "/") {
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
