package tree

import (
	"fmt"
	"path"
	"strings"
)

// NormalizePath turns a repo path into its canonical form: no leading or
// trailing slash. "/" and "" both name the repository root and normalize to "".
// Empty, "." and ".." segments are rejected.
func NormalizePath(p string) (string, error) {
	trimmed := strings.TrimSuffix(strings.TrimPrefix(p, "/"), "/")
	if trimmed == "" {
		return "", nil
	}

	for _, segment := range strings.Split(trimmed, "/") {
		switch segment {
		case "":
			return "", fmt.Errorf("path %q contains an empty segment", p)
		case ".", "..":
			return "", fmt.Errorf("path %q contains a %q segment", p, segment)
		}
	}
	return trimmed, nil
}

// IsNormalized reports whether p is already in canonical form.
func IsNormalized(p string) bool {
	normalized, err := NormalizePath(p)
	return err == nil && normalized == p
}

// Base returns the last element of a normalized path.
func Base(p string) string {
	return path.Base(p)
}

// Within reports whether p equals root or lies below it. The empty root
// contains every path.
func Within(p, root string) bool {
	if root == "" {
		return true
	}
	return p == root || strings.HasPrefix(p, root+"/")
}
