package fs

import (
	"bufio"
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// IgnoreFileName is the per-source file listing extra exclude patterns, one
// per line.
const IgnoreFileName = ".csyncignore"

// defaultExcludePatterns are always applied regardless of config.
var defaultExcludePatterns = []string{IgnoreFileName}

type excludePattern struct {
	pattern   string
	matchPath bool // true = match against relative path; false = match against basename only
}

// ExcludeMatcher checks slash-separated relative paths against glob patterns.
// Patterns without '/' match any path component's basename, so "20[0-9][0-9]"
// excludes year-named directories at any depth. Patterns with '/' match the
// full relative path and may use "**".
type ExcludeMatcher struct {
	patterns []excludePattern
}

// NewExcludeMatcher creates an ExcludeMatcher from raw pattern strings.
// Blank lines and lines starting with '#' are skipped, as are invalid patterns.
func NewExcludeMatcher(rawPatterns []string) *ExcludeMatcher {
	var patterns []excludePattern
	for _, raw := range append(append([]string{}, defaultExcludePatterns...), rawPatterns...) {
		raw = strings.TrimSpace(raw)
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		raw = strings.TrimPrefix(raw, "/")
		if !doublestar.ValidatePattern(raw) {
			continue
		}
		patterns = append(patterns, excludePattern{
			pattern:   raw,
			matchPath: strings.Contains(raw, "/"),
		})
	}
	return &ExcludeMatcher{patterns: patterns}
}

// Match reports whether relativePath should be excluded.
func (m *ExcludeMatcher) Match(relativePath string) bool {
	base := path.Base(relativePath)
	for _, p := range m.patterns {
		target := base
		if p.matchPath {
			target = relativePath
		}
		if ok, _ := doublestar.Match(p.pattern, target); ok {
			return true
		}
	}
	return false
}

// Len returns the number of active patterns, including defaults.
func (m *ExcludeMatcher) Len() int { return len(m.patterns) }

// ParseIgnoreFile reads an ignore file and returns the raw pattern strings.
// Returns nil and no error if the file does not exist.
func ParseIgnoreFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening ignore file: %w", err)
	}
	defer f.Close()

	var patterns []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		patterns = append(patterns, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading ignore file: %w", err)
	}
	return patterns, nil
}
