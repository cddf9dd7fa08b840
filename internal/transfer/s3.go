package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"csync/internal/config"
	"csync/internal/csync"
)

// Object metadata keys written with every upload.
const (
	metaDigest = "csync-digest"
	metaMtime  = "csync-mtime"
	metaMode   = "csync-mode"
)

// S3API is the subset of the S3 client used by S3Transferor.
type S3API interface {
	manager.UploadAPIClient
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// S3Transferor uploads files to destinations of the form s3://bucket/key.
//
// A PUT only becomes visible once complete, so a failed upload leaves the
// previous object in place. Modification time and mode travel as object
// metadata, along with the source digest used to detect identical objects.
type S3Transferor struct {
	client   S3API
	uploader *manager.Uploader
}

// NewS3Transferor creates an S3Transferor on top of client.
func NewS3Transferor(client S3API) *S3Transferor {
	return &S3Transferor{
		client:   client,
		uploader: manager.NewUploader(client),
	}
}

// NewS3Client builds an S3 client from configuration. Static credentials are
// used when set; otherwise the default AWS credential chain applies.
func NewS3Client(ctx context.Context, cfg config.S3Config) (*s3.Client, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	}), nil
}

// ParseS3URL splits s3://bucket/key into its parts.
func ParseS3URL(u string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(u, "s3://")
	if !ok {
		return "", "", fmt.Errorf("not an s3 url: %s", u)
	}
	bucket, key, _ = strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", fmt.Errorf("missing bucket in %s", u)
	}
	return bucket, key, nil
}

func (t *S3Transferor) Transfer(ctx context.Context, src, dest string, opts csync.TransferOptions) (csync.TransferResult, error) {
	bucket, key, err := ParseS3URL(dest)
	if err != nil {
		return csync.TransferResult{}, &csync.TransferError{Path: dest, Reason: "invalid destination", Err: err}
	}
	if key == "" {
		return csync.TransferResult{}, &csync.TransferError{Path: dest, Reason: "destination has no key"}
	}

	srcInfo, err := os.Stat(src)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return csync.TransferResult{}, &csync.TransferError{Path: src, Reason: "source vanished", Err: err}
		}
		return csync.TransferResult{}, &csync.TransferError{Path: src, Reason: "stat source", Err: err}
	}

	head, err := t.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: &bucket, Key: &key})
	switch {
	case err == nil:
		if opts.Digest != "" &&
			aws.ToInt64(head.ContentLength) == srcInfo.Size() &&
			metadataValue(head.Metadata, metaDigest) == string(opts.Digest) {
			return csync.TransferResult{Outcome: csync.AlreadyIdentical}, nil
		}
		if !opts.OverwriteExisting && objectModTime(head).After(srcInfo.ModTime()) {
			return csync.TransferResult{}, &csync.TransferError{Path: dest, Reason: "destination is newer than source"}
		}
	case !isNotFound(err):
		return csync.TransferResult{}, &csync.TransferError{Path: dest, Reason: "checking destination", Err: err}
	}

	f, err := os.Open(src)
	if err != nil {
		return csync.TransferResult{}, &csync.TransferError{Path: src, Reason: "source vanished", Err: err}
	}
	defer f.Close()

	metadata := map[string]string{}
	if opts.Digest != "" {
		metadata[metaDigest] = string(opts.Digest)
	}
	if opts.PreserveAttributes {
		metadata[metaMtime] = srcInfo.ModTime().UTC().Format(time.RFC3339Nano)
		metadata[metaMode] = strconv.FormatUint(uint64(srcInfo.Mode().Perm()), 8)
	}

	// The size check fails the read itself, so a source that changes mid-upload
	// aborts the upload before anything is committed.
	body := &sizedReader{r: &ctxReader{ctx: ctx, r: f}, want: srcInfo.Size()}
	_, err = t.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:        &bucket,
		Key:           &key,
		Body:          body,
		ContentLength: aws.Int64(srcInfo.Size()),
		Metadata:      metadata,
	})
	if err != nil {
		return csync.TransferResult{}, &csync.TransferError{Path: dest, Reason: "upload failed", Err: err}
	}
	return csync.TransferResult{Outcome: csync.Copied, Bytes: body.n}, nil
}

// objectModTime prefers the preserved source mtime over the upload time.
func objectModTime(head *s3.HeadObjectOutput) time.Time {
	if v := metadataValue(head.Metadata, metaMtime); v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			return t
		}
	}
	return aws.ToTime(head.LastModified)
}

// metadataValue looks up a user metadata key case-insensitively.
func metadataValue(md map[string]string, key string) string {
	for k, v := range md {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return ""
}

func isNotFound(err error) bool {
	var nf *types.NotFound
	var nsk *types.NoSuchKey
	return errors.As(err, &nf) || errors.As(err, &nsk)
}

var errSizeChanged = errors.New("source size changed during upload")

// sizedReader counts bytes read and fails once the count can no longer equal want.
type sizedReader struct {
	r    io.Reader
	want int64
	n    int64
}

func (s *sizedReader) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	s.n += int64(n)
	if s.n > s.want || (err == io.EOF && s.n < s.want) {
		return n, fmt.Errorf("%w: read %d of %d bytes", errSizeChanged, s.n, s.want)
	}
	return n, err
}

var _ csync.Transferor = (*S3Transferor)(nil)
