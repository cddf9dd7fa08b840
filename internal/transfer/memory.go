package transfer

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"time"

	"csync/internal/csync"
)

// MemoryObject is one file held by a MemoryTransferor.
type MemoryObject struct {
	Data    []byte
	Mode    fs.FileMode
	ModTime time.Time
}

// MemoryTransferor keeps destinations in memory. It follows the same replace
// rules as LocalTransferor and is safe for concurrent use.
type MemoryTransferor struct {
	mu      sync.RWMutex
	objects map[string]MemoryObject
}

// NewMemoryTransferor creates an empty MemoryTransferor.
func NewMemoryTransferor() *MemoryTransferor {
	return &MemoryTransferor{objects: make(map[string]MemoryObject)}
}

func (m *MemoryTransferor) Transfer(ctx context.Context, src, dest string, opts csync.TransferOptions) (csync.TransferResult, error) {
	if err := ctx.Err(); err != nil {
		return csync.TransferResult{}, &csync.TransferError{Path: dest, Reason: "cancelled", Err: err}
	}
	info, err := os.Stat(src)
	if err != nil {
		return csync.TransferResult{}, &csync.TransferError{Path: src, Reason: "source vanished", Err: err}
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return csync.TransferResult{}, &csync.TransferError{Path: src, Reason: "reading source", Err: err}
	}
	if int64(len(data)) != info.Size() {
		return csync.TransferResult{}, &csync.TransferError{
			Path:   dest,
			Reason: fmt.Sprintf("size mismatch: expected %d bytes, got %d", info.Size(), len(data)),
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.objects[dest]; ok {
		if bytes.Equal(existing.Data, data) {
			return csync.TransferResult{Outcome: csync.AlreadyIdentical}, nil
		}
		if !opts.OverwriteExisting && existing.ModTime.After(info.ModTime()) {
			return csync.TransferResult{}, &csync.TransferError{Path: dest, Reason: "destination is newer than source"}
		}
	}

	obj := MemoryObject{Data: data, Mode: 0644, ModTime: time.Now()}
	if opts.PreserveAttributes {
		obj.Mode = info.Mode().Perm()
		obj.ModTime = info.ModTime()
	}
	m.objects[dest] = obj
	return csync.TransferResult{Outcome: csync.Copied, Bytes: int64(len(data))}, nil
}

// Get returns the object stored at dest.
func (m *MemoryTransferor) Get(dest string) (MemoryObject, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[dest]
	return obj, ok
}

// Put seeds an object, as if a previous run had written it.
func (m *MemoryTransferor) Put(dest string, obj MemoryObject) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[dest] = obj
}

// Len returns the number of stored objects.
func (m *MemoryTransferor) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}

var _ csync.Transferor = (*MemoryTransferor)(nil)
