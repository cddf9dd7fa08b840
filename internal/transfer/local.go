// Package transfer copies single files to local or object-store destinations.
package transfer

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"csync/internal/csync"
)

// TempFile is the handle a LocalTransferor writes through before renaming
// into place.
type TempFile interface {
	io.Writer
	Name() string
	Sync() error
	Close() error
}

// TempFileFunc creates a temporary file in dir, like os.CreateTemp.
type TempFileFunc func(dir, pattern string) (TempFile, error)

func osCreateTemp(dir, pattern string) (TempFile, error) {
	return os.CreateTemp(dir, pattern)
}

// LocalOption configures a LocalTransferor.
type LocalOption func(*LocalTransferor)

// WithTempFileFunc replaces how temporary files are created.
func WithTempFileFunc(fn TempFileFunc) LocalOption {
	return func(t *LocalTransferor) { t.createTemp = fn }
}

// LocalTransferor copies files within the local filesystem.
//
// Content is written to a temp file beside the destination, verified against
// the source size, synced, and renamed into place. The destination never holds
// partial content.
type LocalTransferor struct {
	createTemp TempFileFunc
}

// NewLocalTransferor creates a LocalTransferor.
func NewLocalTransferor(opts ...LocalOption) *LocalTransferor {
	t := &LocalTransferor{createTemp: osCreateTemp}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *LocalTransferor) Transfer(ctx context.Context, src, dest string, opts csync.TransferOptions) (csync.TransferResult, error) {
	if err := ctx.Err(); err != nil {
		return csync.TransferResult{}, &csync.TransferError{Path: dest, Reason: "cancelled", Err: err}
	}

	srcInfo, err := os.Stat(src)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return csync.TransferResult{}, &csync.TransferError{Path: src, Reason: "source vanished", Err: err}
		}
		return csync.TransferResult{}, &csync.TransferError{Path: src, Reason: "stat source", Err: err}
	}
	if !srcInfo.Mode().IsRegular() {
		return csync.TransferResult{}, &csync.TransferError{Path: src, Reason: "source is not a regular file"}
	}

	destInfo, err := os.Stat(dest)
	switch {
	case err == nil:
		if destInfo.IsDir() {
			return csync.TransferResult{}, &csync.TransferError{Path: dest, Reason: "destination is a directory"}
		}
		same, err := sameContent(src, dest, srcInfo.Size(), destInfo.Size())
		if err != nil {
			return csync.TransferResult{}, &csync.TransferError{Path: dest, Reason: "comparing destination", Err: err}
		}
		if same {
			if opts.PreserveAttributes {
				if err := applyAttributes(dest, srcInfo); err != nil {
					return csync.TransferResult{}, &csync.TransferError{Path: dest, Reason: "refreshing attributes", Err: err}
				}
			}
			return csync.TransferResult{Outcome: csync.AlreadyIdentical}, nil
		}
		if !opts.OverwriteExisting && destInfo.ModTime().After(srcInfo.ModTime()) {
			return csync.TransferResult{}, &csync.TransferError{Path: dest, Reason: "destination is newer than source"}
		}
	case !errors.Is(err, fs.ErrNotExist):
		return csync.TransferResult{}, &csync.TransferError{Path: dest, Reason: "stat destination", Err: err}
	}

	n, err := t.copyAtomic(ctx, src, dest, srcInfo, opts.PreserveAttributes)
	if err != nil {
		return csync.TransferResult{}, err
	}
	return csync.TransferResult{Outcome: csync.Copied, Bytes: n}, nil
}

// copyAtomic writes src into a temp file in dest's directory and renames it
// over dest. On any failure the temp file is removed.
func (t *LocalTransferor) copyAtomic(ctx context.Context, src, dest string, srcInfo fs.FileInfo, preserve bool) (int64, error) {
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return 0, &csync.TransferError{Path: dest, Reason: "destination unwritable", Err: err}
	}

	in, err := os.Open(src)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, &csync.TransferError{Path: src, Reason: "source vanished", Err: err}
		}
		return 0, &csync.TransferError{Path: src, Reason: "opening source", Err: err}
	}
	defer in.Close()

	tmp, err := t.createTemp(dir, ".csync-*.tmp")
	if err != nil {
		return 0, &csync.TransferError{Path: dest, Reason: "destination unwritable", Err: err}
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	written, err := io.Copy(tmp, &ctxReader{ctx: ctx, r: in})
	if err != nil {
		tmp.Close()
		return 0, &csync.TransferError{Path: dest, Reason: "write failed", Err: err}
	}
	if written != srcInfo.Size() {
		tmp.Close()
		return 0, &csync.TransferError{
			Path:   dest,
			Reason: fmt.Sprintf("partial write: %d of %d bytes", written, srcInfo.Size()),
		}
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return 0, &csync.TransferError{Path: dest, Reason: "sync failed", Err: err}
	}
	if err := tmp.Close(); err != nil {
		return 0, &csync.TransferError{Path: dest, Reason: "close failed", Err: err}
	}

	if preserve {
		if err := applyAttributes(tmpPath, srcInfo); err != nil {
			return 0, &csync.TransferError{Path: dest, Reason: "preserving attributes", Err: err}
		}
	}

	if err := os.Rename(tmpPath, dest); err != nil {
		return 0, &csync.TransferError{Path: dest, Reason: "rename failed", Err: err}
	}
	success = true
	return written, nil
}

func applyAttributes(path string, info fs.FileInfo) error {
	if err := os.Chmod(path, info.Mode().Perm()); err != nil {
		return err
	}
	return os.Chtimes(path, info.ModTime(), info.ModTime())
}

// sameContent compares two files byte for byte.
func sameContent(a, b string, sizeA, sizeB int64) (bool, error) {
	if sizeA != sizeB {
		return false, nil
	}
	fa, err := os.Open(a)
	if err != nil {
		return false, err
	}
	defer fa.Close()
	fb, err := os.Open(b)
	if err != nil {
		return false, err
	}
	defer fb.Close()

	const chunk = 64 * 1024
	ra, rb := bufio.NewReaderSize(fa, chunk), bufio.NewReaderSize(fb, chunk)
	bufA, bufB := make([]byte, chunk), make([]byte, chunk)
	for {
		na, errA := io.ReadFull(ra, bufA)
		nb, errB := io.ReadFull(rb, bufB)
		if na != nb || !bytes.Equal(bufA[:na], bufB[:nb]) {
			return false, nil
		}
		doneA := errA == io.EOF || errA == io.ErrUnexpectedEOF
		doneB := errB == io.EOF || errB == io.ErrUnexpectedEOF
		if errA != nil && !doneA {
			return false, errA
		}
		if errB != nil && !doneB {
			return false, errB
		}
		if doneA || doneB {
			return doneA && doneB, nil
		}
	}
}

// ctxReader aborts a copy once the context is cancelled.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

var _ csync.Transferor = (*LocalTransferor)(nil)
