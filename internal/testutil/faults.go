package testutil

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"time"

	"csync/internal/csync"
)

// ErrInjected is the cause carried by every injected failure.
var ErrInjected = errors.New("injected failure")

// FailingFingerprinter fails for files whose base name is in FailNames and
// delegates the rest.
type FailingFingerprinter struct {
	csync.Fingerprinter
	FailNames map[string]bool
}

func (f *FailingFingerprinter) Fingerprint(ctx context.Context, path string) (csync.Fingerprint, error) {
	if f.FailNames[filepath.Base(path)] {
		return "", &csync.ReadError{Path: path, Err: ErrInjected}
	}
	return f.Fingerprinter.Fingerprint(ctx, path)
}

// FailingTransferor fails transfers whose source base name is in FailNames
// and counts every call.
type FailingTransferor struct {
	csync.Transferor
	FailNames map[string]bool
	Calls     atomic.Int64
}

func (f *FailingTransferor) Transfer(ctx context.Context, src, dest string, opts csync.TransferOptions) (csync.TransferResult, error) {
	f.Calls.Add(1)
	if f.FailNames[filepath.Base(src)] {
		return csync.TransferResult{}, &csync.TransferError{Path: dest, Reason: "injected", Err: ErrInjected}
	}
	return f.Transferor.Transfer(ctx, src, dest, opts)
}

// FailingStore wraps a store and fails Get and/or Put on demand.
type FailingStore struct {
	csync.FingerprintStore
	FailGet bool
	FailPut bool
	Puts    atomic.Int64
}

func (s *FailingStore) Get(ctx context.Context, table, relativePath string) (csync.Fingerprint, bool, error) {
	if s.FailGet {
		return "", false, &csync.StoreError{Op: "get", Err: ErrInjected}
	}
	return s.FingerprintStore.Get(ctx, table, relativePath)
}

func (s *FailingStore) Put(ctx context.Context, table, relativePath string, fp csync.Fingerprint, syncedAt time.Time) error {
	s.Puts.Add(1)
	if s.FailPut {
		return &csync.StoreError{Op: "put", Err: ErrInjected}
	}
	return s.FingerprintStore.Put(ctx, table, relativePath, fp, syncedAt)
}

// CancellingTransferor calls Cancel on the CancelAt-th transfer, then
// delegates that transfer and every later one.
type CancellingTransferor struct {
	csync.Transferor
	Cancel   context.CancelFunc
	CancelAt int64
	calls    atomic.Int64
}

func (c *CancellingTransferor) Transfer(ctx context.Context, src, dest string, opts csync.TransferOptions) (csync.TransferResult, error) {
	if c.calls.Add(1) == c.CancelAt {
		c.Cancel()
	}
	return c.Transferor.Transfer(ctx, src, dest, opts)
}
