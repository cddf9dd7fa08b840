// Package fs discovers the files a sync task works on.
package fs

import (
	"context"
	"errors"
	"fmt"
	"io"
	iofs "io/fs"
	"os"
	"path/filepath"

	"csync/internal/csync"
)

// OSWalker walks the real filesystem.
type OSWalker struct {
	logger csync.Logger
}

// NewOSWalker creates a walker. Skipped special files are logged at debug level.
func NewOSWalker(logger csync.Logger) *OSWalker {
	if logger == nil {
		logger = csync.NewNopLogger()
	}
	return &OSWalker{logger: logger}
}

// Walk calls fn for every regular file under root that no exclude pattern
// matches, plus patterns from root's ignore file. Excluded directories are
// not descended into. Symlinks, devices, sockets and pipes are skipped.
//
// Entries below root that cannot be read are passed to fn with a non-nil error
// and the walk continues.
func (w *OSWalker) Walk(ctx context.Context, root string, excludes []string, fn csync.WalkFunc) error {
	info, err := os.Stat(root)
	if err != nil {
		return &csync.WalkError{Root: root, Err: err}
	}
	if !info.IsDir() {
		return &csync.WalkError{Root: root, Err: fmt.Errorf("not a directory")}
	}
	// Opening the root up front surfaces permission errors before any callback.
	dir, err := os.Open(root)
	if err != nil {
		return &csync.WalkError{Root: root, Err: err}
	}
	if _, err := dir.ReadDir(1); err != nil && !errors.Is(err, io.EOF) {
		dir.Close()
		return &csync.WalkError{Root: root, Err: err}
	}
	dir.Close()

	extra, err := ParseIgnoreFile(filepath.Join(root, IgnoreFileName))
	if err != nil {
		w.logger.Warn("ignore file unreadable", "root", root, "error", err)
	}
	matcher := NewExcludeMatcher(append(append([]string{}, excludes...), extra...))

	return filepath.WalkDir(root, func(p string, d iofs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if p == root {
			if err != nil {
				return &csync.WalkError{Root: root, Err: err}
			}
			return nil
		}

		rel, relErr := filepath.Rel(root, p)
		if relErr != nil {
			return fn(csync.FileWorkItem{AbsolutePath: p}, relErr)
		}
		rel = filepath.ToSlash(rel)

		if err != nil {
			return fn(csync.FileWorkItem{AbsolutePath: p, RelativePath: rel}, err)
		}

		if matcher.Match(rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if !d.Type().IsRegular() {
			w.logger.Debug("skipping non-regular file", "path", rel, "type", d.Type().String())
			return nil
		}

		fi, err := d.Info()
		if err != nil {
			return fn(csync.FileWorkItem{AbsolutePath: p, RelativePath: rel}, err)
		}
		return fn(csync.FileWorkItem{AbsolutePath: p, RelativePath: rel, Size: fi.Size()}, nil)
	})
}

var _ csync.Walker = (*OSWalker)(nil)
