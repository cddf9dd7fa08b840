package csync

import (
	"context"
	"time"
)

// Fingerprint is a lowercase hex content digest.
type Fingerprint string

// FingerprintRecord is the persisted sync state of one file within a table.
type FingerprintRecord struct {
	Table        string
	RelativePath string
	Fingerprint  Fingerprint
	LastSynced   time.Time
}

// FingerprintStore persists the last synced fingerprint of every file, namespaced
// by table. Implementations must be safe for concurrent use from multiple paths.
// Failures of the backing store are reported as *StoreError.
type FingerprintStore interface {
	// Get returns the stored fingerprint. found is false, with a nil error, when
	// no record exists.
	Get(ctx context.Context, table, relativePath string) (fp Fingerprint, found bool, err error)

	// Put inserts the record or overwrites fingerprint and timestamp in place.
	Put(ctx context.Context, table, relativePath string, fp Fingerprint, syncedAt time.Time) error
}
