package storage

import (
	"path/filepath"
	"strings"
)

// MatchPattern matches a key against a Redis KEYS-style glob pattern.
// Common shapes (exact, prefix*, *suffix, single mid-pattern *) are handled
// without touching filepath.Match.
func MatchPattern(key, pattern string) bool {
	if pattern == "" {
		return key == ""
	}
	if pattern == "*" {
		return true
	}

	if !strings.ContainsAny(pattern, "*?[") {
		return key == pattern
	}

	if starIndex := strings.IndexByte(pattern, '*'); starIndex != -1 &&
		strings.LastIndexByte(pattern, '*') == starIndex &&
		!strings.ContainsAny(pattern, "?[") {
		return strings.HasPrefix(key, pattern[:starIndex]) &&
			strings.HasSuffix(key[min(starIndex, len(key)):], pattern[starIndex+1:])
	}

	matched, err := filepath.Match(pattern, key)
	if err != nil {
		return key == pattern
	}
	return matched
}
