// Package fingerprint computes file content digests used for change detection.
package fingerprint

import (
	"context"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"

	"csync/internal/csync"
)

// Algorithm names accepted by New.
const (
	MD5    = "md5"
	SHA256 = "sha256"
)

// HashFingerprinter hashes the full content of a file.
type HashFingerprinter struct {
	algorithm string
	newHash   func() hash.Hash
}

// New returns a Fingerprinter for the named algorithm. An empty name selects MD5.
func New(algorithm string) (*HashFingerprinter, error) {
	switch algorithm {
	case MD5, "":
		return &HashFingerprinter{algorithm: MD5, newHash: md5.New}, nil
	case SHA256:
		return &HashFingerprinter{algorithm: SHA256, newHash: sha256.New}, nil
	default:
		return nil, fmt.Errorf("unknown fingerprint algorithm: %s", algorithm)
	}
}

// Algorithm returns the digest name.
func (f *HashFingerprinter) Algorithm() string { return f.algorithm }

// Fingerprint returns the lowercase hex digest of the file at path.
//
// The number of bytes hashed must match the size of the open file once reading
// is done; a mismatch means the file changed underneath and is reported as a
// ReadError rather than a digest of partial content.
func (f *HashFingerprinter) Fingerprint(ctx context.Context, path string) (csync.Fingerprint, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", &csync.ReadError{Path: path, Err: err}
	}
	defer file.Close()

	h := f.newHash()
	n, err := io.Copy(h, &ctxReader{ctx: ctx, r: file})
	if err != nil {
		return "", &csync.ReadError{Path: path, Err: err}
	}

	info, err := file.Stat()
	if err != nil {
		return "", &csync.ReadError{Path: path, Err: err}
	}
	if n != info.Size() {
		return "", &csync.ReadError{
			Path: path,
			Err:  fmt.Errorf("short read: hashed %d of %d bytes", n, info.Size()),
		}
	}

	return csync.Fingerprint(hex.EncodeToString(h.Sum(nil))), nil
}

// ctxReader stops a long read once the context is cancelled.
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

var _ csync.Fingerprinter = (*HashFingerprinter)(nil)
