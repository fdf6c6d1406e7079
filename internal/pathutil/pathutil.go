// Package pathutil provides safe relative-path handling for uploaded files.
package pathutil

import (
	"errors"
	"path"
	"path/filepath"
	"strings"
)

// ErrEscape is returned when a relative path would resolve outside its root.
var ErrEscape = errors.New("path escapes root")

// CleanRelPath normalizes a user-supplied path into a slash-separated relative
// path with no leading slash ("" means root). Backslashes are treated as
// separators so Windows-style uploads normalize the same way.
func CleanRelPath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" || p == "." || p == "/" {
		return ""
	}
	p = strings.ReplaceAll(p, "\\", "/")
	p = path.Clean("/" + p) // force absolute for stable cleaning
	p = strings.TrimPrefix(p, "/")
	if p == "." {
		return ""
	}
	return p
}

// JoinWithinRoot returns the absolute filesystem path for rel under rootAbs.
// It rejects NUL bytes and any path carrying a ".." segment: traversal
// attempts are errors, not something to clean away silently.
func JoinWithinRoot(rootAbs, rel string) (string, error) {
	if strings.Contains(rel, "\x00") {
		return "", errors.New("invalid path")
	}
	for _, seg := range strings.FieldsFunc(rel, func(r rune) bool { return r == '/' || r == '\\' }) {
		if seg == ".." {
			return "", ErrEscape
		}
	}
	rel = CleanRelPath(rel)
	if rel == "" {
		return rootAbs, nil
	}
	abs := filepath.Clean(filepath.Join(rootAbs, filepath.FromSlash(rel)))
	root := filepath.Clean(rootAbs)
	if abs != root && !strings.HasPrefix(abs, root+string(filepath.Separator)) {
		return "", ErrEscape
	}
	return abs, nil
}

// DetectCollection derives the collection tag from a relative path:
// outputs/<kind>/<name>/... yields <name>, prompts/<name>/... yields <name>,
// anything else falls back to the parent directory name, or "unknown" for
// top-level files.
func DetectCollection(rel string) string {
	rel = CleanRelPath(rel)
	if rel == "" {
		return "unknown"
	}
	parts := strings.Split(rel, "/")
	switch {
	case parts[0] == "outputs" && len(parts) >= 3:
		return parts[2]
	case parts[0] == "prompts" && len(parts) >= 2:
		return parts[1]
	case len(parts) > 1:
		return parts[len(parts)-2]
	default:
		return "unknown"
	}
}
