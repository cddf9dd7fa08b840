package csync

import (
	"fmt"
	"path"
	"path/filepath"
	"regexp"
	"strings"
)

// SyncTaskSpec describes one source/destination/table triple. It is not
// modified while a run is in progress.
type SyncTaskSpec struct {
	Name       string
	SourceRoot string
	DestRoot   string
	Table      string

	// Exclude holds glob patterns pruned during the walk, in addition to the
	// global patterns configured for every task.
	Exclude []string

	// Overwrite forces replacement of destinations that are newer than the source.
	Overwrite bool
}

var tableNamePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// ValidateTableName reports whether name is usable as a store namespace.
func ValidateTableName(name string) error {
	if !tableNamePattern.MatchString(name) {
		return fmt.Errorf("invalid table name %q: must match %s", name, tableNamePattern.String())
	}
	return nil
}

// Validate checks that the spec is complete.
func (s SyncTaskSpec) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("task name is required")
	}
	if s.SourceRoot == "" {
		return fmt.Errorf("task %q: source is required", s.Name)
	}
	if s.DestRoot == "" {
		return fmt.Errorf("task %q: dest is required", s.Name)
	}
	if err := ValidateTableName(s.Table); err != nil {
		return fmt.Errorf("task %q: %w", s.Name, err)
	}
	return nil
}

// IsRemote reports whether root names an object store location rather than a
// local directory.
func IsRemote(root string) bool {
	return strings.HasPrefix(root, "s3://")
}

// JoinDest builds the destination path for a slash-separated relative path.
func JoinDest(root, relativePath string) string {
	if IsRemote(root) {
		scheme, rest, _ := strings.Cut(root, "://")
		return scheme + "://" + path.Join(rest, relativePath)
	}
	return filepath.Join(root, filepath.FromSlash(relativePath))
}
