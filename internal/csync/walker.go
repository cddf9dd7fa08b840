package csync

import "context"

// FileWorkItem is one regular file discovered under a task's source root.
type FileWorkItem struct {
	AbsolutePath string
	// RelativePath is slash-separated and relative to the source root.
	RelativePath string
	Size         int64
}

// WalkFunc receives each discovered file. A non-nil err reports an entry below
// the root that could not be read; item then carries whatever path is known.
// Returning an error stops the walk.
type WalkFunc func(item FileWorkItem, err error) error

// Walker enumerates the regular files under a source root.
//
// Walk returns a *WalkError without calling fn when the root itself is missing
// or unreadable. It returns ctx.Err() when the context is cancelled mid-walk.
type Walker interface {
	Walk(ctx context.Context, root string, excludes []string, fn WalkFunc) error
}
