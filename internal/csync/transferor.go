package csync

import "context"

// TransferOptions control how a single file is copied.
type TransferOptions struct {
	// OverwriteExisting replaces a differing destination unconditionally. When
	// false, a differing destination is replaced only if it is not newer than
	// the source.
	OverwriteExisting bool

	// PreserveAttributes copies modification time and permissions.
	PreserveAttributes bool

	// Digest is the source fingerprint, when known. Backends that cannot
	// compare content cheaply use it to detect an identical destination.
	Digest Fingerprint
}

// TransferOutcome describes what a successful transfer did.
type TransferOutcome int

const (
	// Copied means the destination was written from the source.
	Copied TransferOutcome = iota
	// AlreadyIdentical means the destination already held the source content.
	AlreadyIdentical
)

func (o TransferOutcome) String() string {
	switch o {
	case Copied:
		return "copied"
	case AlreadyIdentical:
		return "identical"
	default:
		return "unknown"
	}
}

// TransferResult is the typed outcome of a successful Transfer.
type TransferResult struct {
	Outcome TransferOutcome
	Bytes   int64
}

// Transferor copies one source file to a destination path.
//
// Transfers are idempotent and atomic: the destination either holds the complete
// source content afterwards or is left exactly as it was. Failures are reported
// as *TransferError.
type Transferor interface {
	Transfer(ctx context.Context, sourcePath, destPath string, opts TransferOptions) (TransferResult, error)
}
