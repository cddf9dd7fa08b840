package csync

import (
	"errors"
	"fmt"
)

var (
	// ErrRead means a source file could not be read to completion.
	ErrRead = errors.New("read error")
	// ErrStoreUnavailable means the fingerprint store could not be read or written.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrTransfer means a file could not be written to its destination.
	ErrTransfer = errors.New("transfer error")
	// ErrWalk means the source root could not be walked at all.
	ErrWalk = errors.New("walk error")
	// ErrSinkUnavailable means a metric could not be delivered.
	ErrSinkUnavailable = errors.New("sink unavailable")
)

// ReadError is returned by a Fingerprinter when a file cannot be hashed.
type ReadError struct {
	Path string
	Err  error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("reading %s: %v", e.Path, e.Err)
}

func (e *ReadError) Unwrap() error        { return e.Err }
func (e *ReadError) Is(target error) bool { return target == ErrRead }

// StoreError is returned by a FingerprintStore when the backing store fails.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error        { return e.Err }
func (e *StoreError) Is(target error) bool { return target == ErrStoreUnavailable }

// TransferError is returned by a Transferor. The destination is left in its
// pre-transfer state.
type TransferError struct {
	Path   string
	Reason string
	Err    error
}

func (e *TransferError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transfer %s: %s: %v", e.Path, e.Reason, e.Err)
	}
	return fmt.Sprintf("transfer %s: %s", e.Path, e.Reason)
}

func (e *TransferError) Unwrap() error        { return e.Err }
func (e *TransferError) Is(target error) bool { return target == ErrTransfer }

// WalkError is returned by a Walker when the source root cannot be walked.
type WalkError struct {
	Root string
	Err  error
}

func (e *WalkError) Error() string {
	return fmt.Sprintf("walking %s: %v", e.Root, e.Err)
}

func (e *WalkError) Unwrap() error        { return e.Err }
func (e *WalkError) Is(target error) bool { return target == ErrWalk }

// SinkError is returned by a MetricsSink when a push fails.
type SinkError struct {
	Job    string
	Metric string
	Err    error
}

func (e *SinkError) Error() string {
	return fmt.Sprintf("pushing %s for job %s: %v", e.Metric, e.Job, e.Err)
}

func (e *SinkError) Unwrap() error        { return e.Err }
func (e *SinkError) Is(target error) bool { return target == ErrSinkUnavailable }
