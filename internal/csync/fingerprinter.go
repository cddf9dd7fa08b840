package csync

import "context"

// Fingerprinter computes a deterministic content digest for a file.
// A file that cannot be read to completion yields a *ReadError; a digest is
// never returned for partial content.
type Fingerprinter interface {
	Fingerprint(ctx context.Context, path string) (Fingerprint, error)
}
