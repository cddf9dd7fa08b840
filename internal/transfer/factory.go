package transfer

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"csync/internal/config"
	"csync/internal/csync"
)

// Router dispatches each transfer to the backend matching its destination:
// s3:// URLs go to S3 and everything else to the local filesystem.
type Router struct {
	local *LocalTransferor

	mu    sync.Mutex
	s3    csync.Transferor
	newS3 func(context.Context) (csync.Transferor, error)
}

// NewRouter creates a Router. The S3 client is built on first use, so runs
// without S3 destinations never load AWS configuration.
func NewRouter(local *LocalTransferor, newS3 func(context.Context) (csync.Transferor, error)) *Router {
	return &Router{local: local, newS3: newS3}
}

// NewTransferorFromConfig creates the Router used by runs.
func NewTransferorFromConfig(cfg config.S3Config) *Router {
	return NewRouter(NewLocalTransferor(), func(ctx context.Context) (csync.Transferor, error) {
		client, err := NewS3Client(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return NewS3Transferor(client), nil
	})
}

func (r *Router) Transfer(ctx context.Context, src, dest string, opts csync.TransferOptions) (csync.TransferResult, error) {
	if !strings.HasPrefix(dest, "s3://") {
		return r.local.Transfer(ctx, src, dest, opts)
	}
	s3t, err := r.s3Transferor(ctx)
	if err != nil {
		return csync.TransferResult{}, &csync.TransferError{Path: dest, Reason: "s3 unavailable", Err: err}
	}
	return s3t.Transfer(ctx, src, dest, opts)
}

func (r *Router) s3Transferor(ctx context.Context) (csync.Transferor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.s3 != nil {
		return r.s3, nil
	}
	if r.newS3 == nil {
		return nil, fmt.Errorf("s3 destinations are not configured")
	}
	t, err := r.newS3(ctx)
	if err != nil {
		return nil, err
	}
	r.s3 = t
	return t, nil
}

var _ csync.Transferor = (*Router)(nil)
