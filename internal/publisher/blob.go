package publisher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob" // local driver
	_ "gocloud.dev/blob/gcsblob"  // GCS driver
	_ "gocloud.dev/blob/memblob"  // in-memory driver
	"gocloud.dev/blob/s3blob"
	"gocloud.dev/gcerrors"
)

// BlobPublisher writes raw objects to a gocloud bucket under
// {account}/raw/upload/{folder}/{name}, the same layout the delivery host
// serves.
type BlobPublisher struct {
	bucket    *blob.Bucket
	storeRoot string
	prefix    string
	opts      Options
}

// NewBlob wraps an open bucket.
func NewBlob(bucket *blob.Bucket, storeRoot, account string, opts Options) *BlobPublisher {
	return &BlobPublisher{
		bucket:    bucket,
		storeRoot: storeRoot,
		prefix:    path.Join(account, "raw", "upload"),
		opts:      opts.withDefaults(),
	}
}

// OpenBlob opens bucketURL (s3://, gs://, file://, mem://) and wraps it.
func OpenBlob(ctx context.Context, bucketURL, storeRoot, account string, opts Options) (*BlobPublisher, error) {
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("open bucket %s: %w", bucketURL, err)
	}
	return NewBlob(bucket, storeRoot, account, opts), nil
}

// OpenS3 opens an S3 bucket through an existing SDK client so the caller's
// region, credentials and instrumentation apply.
func OpenS3(ctx context.Context, client *s3.Client, bucketURL, storeRoot, account string, opts Options) (*BlobPublisher, error) {
	u, err := url.Parse(bucketURL)
	if err != nil || u.Scheme != "s3" || u.Host == "" {
		return nil, fmt.Errorf("invalid s3 bucket url %q", bucketURL)
	}
	bucket, err := s3blob.OpenBucketV2(ctx, client, u.Host, nil)
	if err != nil {
		return nil, fmt.Errorf("open S3 bucket %s: %w", u.Host, err)
	}
	if p := strings.Trim(u.Path, "/"); p != "" {
		bucket = blob.PrefixedBucket(bucket, p+"/")
	}
	return NewBlob(bucket, storeRoot, account, opts), nil
}

// PublishRaw uploads files to the bucket.
func (p *BlobPublisher) PublishRaw(ctx context.Context, files []Artifact, folder string) ([]Artifact, error) {
	return publishAll(ctx, p.opts.Logger, files, folder, p.opts.Concurrency, p.put)
}

func (p *BlobPublisher) put(ctx context.Context, a Artifact, key string) error {
	f, err := os.Open(a.LocalPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", a.LocalPath, err)
	}
	defer f.Close()

	w, err := p.bucket.NewWriter(ctx, p.objectKey(key), &blob.WriterOptions{
		ContentType: contentType(a.PublicName),
	})
	if err != nil {
		return fmt.Errorf("create writer for %s: %w", key, err)
	}

	if _, err := io.Copy(w, f); err != nil {
		w.Close()
		return fmt.Errorf("write data to %s: %w", key, err)
	}

	if err := w.Close(); err != nil {
		return fmt.Errorf("close writer for %s: %w", key, err)
	}

	return nil
}

// Delete removes objects, ignoring ones already gone.
func (p *BlobPublisher) Delete(ctx context.Context, folder string, names []string) error {
	var errs []error
	for _, name := range names {
		key := p.objectKey(ObjectKey(folder, name))
		if err := p.bucket.Delete(ctx, key); err != nil && gcerrors.Code(err) != gcerrors.NotFound {
			errs = append(errs, fmt.Errorf("delete %s: %w", key, err))
		}
	}
	return errors.Join(errs...)
}

// StoreRoot returns the delivery prefix of public URLs.
func (p *BlobPublisher) StoreRoot() string {
	return p.storeRoot
}

// Ping checks the bucket is reachable.
func (p *BlobPublisher) Ping(ctx context.Context) error {
	ok, err := p.bucket.IsAccessible(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("bucket not accessible")
	}
	return nil
}

// Exists reports whether a published object is present.
func (p *BlobPublisher) Exists(ctx context.Context, folder, name string) (bool, error) {
	return p.bucket.Exists(ctx, p.objectKey(ObjectKey(folder, name)))
}

// Close releases the bucket connection.
func (p *BlobPublisher) Close() error {
	if p.bucket != nil {
		return p.bucket.Close()
	}
	return nil
}

func (p *BlobPublisher) objectKey(key string) string {
	return path.Join(p.prefix, key)
}

func contentType(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".m3u8":
		return "application/vnd.apple.mpegurl"
	case ".ts":
		return "video/mp2t"
	case ".mp4":
		return "video/mp4"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	default:
		return "application/octet-stream"
	}
}
