// Package bundle provides the default exclusion rules applied when
// assembling a source bundle before it is handed to the source store. The
// store itself only cares about content-addressed bytes; deciding what
// belongs in those bytes is this package's job.
package bundle

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DefaultExcludes are always applied, regardless of any .rchignore file.
var DefaultExcludes = []string{
	".git",
	".DS_Store",
	"DerivedData",
	".build",
	"*.xcresult",
	".swiftpm",
	".rch/artifacts",
	"*.xcuserdata",
}

// ExcludeRules decides whether a relative path should be left out of a
// source bundle.
type ExcludeRules struct {
	patterns []string
}

// New builds ExcludeRules from the defaults plus any extra patterns.
func New(extra ...string) *ExcludeRules {
	patterns := make([]string, 0, len(DefaultExcludes)+len(extra))
	patterns = append(patterns, DefaultExcludes...)
	patterns = append(patterns, extra...)
	return &ExcludeRules{patterns: patterns}
}

// WithIgnoreFile loads additional newline-delimited glob patterns from
// path (blank lines and lines starting with '#' are skipped), in the style
// of a .gitignore. A missing file is not an error: it simply contributes
// no extra patterns.
func WithIgnoreFile(path string) (*ExcludeRules, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return New(), nil
		}
		return nil, fmt.Errorf("bundle: read ignore file: %w", err)
	}
	var extra []string
	for _, line := range strings.Split(string(contents), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		extra = append(extra, line)
	}
	return New(extra...), nil
}

// IsExcluded reports whether relPath (slash-separated, relative to the
// bundle root) matches any exclusion pattern, at any path depth.
func (r *ExcludeRules) IsExcluded(relPath string) bool {
	relPath = filepath.ToSlash(relPath)
	segments := strings.Split(relPath, "/")
	for _, pattern := range r.patterns {
		if matchesAnySegment(pattern, relPath, segments) {
			return true
		}
	}
	return false
}

func matchesAnySegment(pattern, fullPath string, segments []string) bool {
	if ok, err := filepath.Match(pattern, fullPath); err == nil && ok {
		return true
	}
	for _, seg := range segments {
		if ok, err := filepath.Match(pattern, seg); err == nil && ok {
			return true
		}
	}
	// Directory-style patterns like "DerivedData" should also exclude
	// everything beneath them once any path segment matches.
	for i := range segments {
		prefix := strings.Join(segments[:i+1], "/")
		if ok, err := filepath.Match(pattern, prefix); err == nil && ok {
			return true
		}
	}
	return false
}
