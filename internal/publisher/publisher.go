// Package publisher uploads local artifacts to the remote media store as raw
// objects and derives their public URLs.
package publisher

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/amillerrr/movie-catalog/internal/config"
	"github.com/amillerrr/movie-catalog/internal/metrics"
	"github.com/amillerrr/movie-catalog/pkg/models"
)

var tracer = otel.Tracer("catalog-publisher")

// Artifact is one local file and the name it is published under.
type Artifact struct {
	LocalPath  string
	PublicName string
}

// Publisher writes raw objects to a content store.
type Publisher interface {
	// PublishRaw uploads every file to {folder}/{PublicName}, overwriting
	// existing objects. It stops at the first failure and returns the
	// artifacts confirmed uploaded so far alongside an ErrPublishFailed.
	PublishRaw(ctx context.Context, files []Artifact, folder string) ([]Artifact, error)
	// Delete removes objects from folder. Missing objects are not an error.
	Delete(ctx context.Context, folder string, names []string) error
	// StoreRoot is the host and account prefix of public URLs.
	StoreRoot() string
	Ping(ctx context.Context) error
}

// URLFor builds the public URL of a published raw object. It does not check
// that the object exists.
func URLFor(storeRoot, folder, filename string) string {
	return fmt.Sprintf("https://%s/raw/upload/%s/%s",
		strings.Trim(storeRoot, "/"), strings.Trim(folder, "/"), filename)
}

// ObjectKey is the store-relative key of a raw object.
func ObjectKey(folder, name string) string {
	return path.Join(strings.Trim(folder, "/"), name)
}

// Options configures behaviour shared by all backends.
type Options struct {
	// Concurrency bounds in-flight uploads within one batch.
	Concurrency int
	Logger      *slog.Logger
	// S3Client, when set, is used for s3:// bucket URLs.
	S3Client *s3.Client
}

func (o Options) withDefaults() Options {
	if o.Concurrency <= 0 {
		o.Concurrency = 1
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// putFunc uploads a single artifact to its final key.
type putFunc func(ctx context.Context, a Artifact, key string) error

// publishAll fans uploads out over at most limit goroutines and fails fast:
// after the first error no new upload starts and in-flight ones see a
// canceled context.
func publishAll(ctx context.Context, log *slog.Logger, files []Artifact, folder string, limit int, put putFunc) ([]Artifact, error) {
	ctx, span := tracer.Start(ctx, "publish-raw")
	defer span.End()
	span.SetAttributes(
		attribute.String("publish.folder", folder),
		attribute.Int("publish.files", len(files)),
	)

	start := time.Now()

	var (
		mu       sync.Mutex
		uploaded = make([]Artifact, 0, len(files))
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for _, f := range files {
		g.Go(func() error {
			key := ObjectKey(folder, f.PublicName)
			if gctx.Err() != nil {
				return fmt.Errorf("%w: %s: %v", models.ErrPublishFailed, key, context.Cause(gctx))
			}
			if err := put(gctx, f, key); err != nil {
				log.WarnContext(ctx, "Raw upload failed", "key", key, "error", err)
				return fmt.Errorf("%w: %s: %v", models.ErrPublishFailed, key, err)
			}
			mu.Lock()
			uploaded = append(uploaded, f)
			mu.Unlock()
			metrics.ObjectsPublished.Inc()
			return nil
		})
	}

	err := g.Wait()
	if err == nil && len(uploaded) < len(files) {
		err = fmt.Errorf("%w: %d of %d files uploaded: %v", models.ErrPublishFailed, len(uploaded), len(files), context.Cause(ctx))
	}
	if err != nil {
		span.RecordError(err)
		return uploaded, err
	}

	metrics.PublishDuration.Observe(time.Since(start).Seconds())
	log.InfoContext(ctx, "Artifacts published",
		"folder", folder,
		"files", len(uploaded),
		"duration", time.Since(start).String(),
	)

	return uploaded, nil
}

// Open builds the publisher selected by the media store configuration.
func Open(ctx context.Context, cfg config.MediaStoreConfig, opts Options) (Publisher, error) {
	switch cfg.Backend {
	case config.MediaBackendBlob:
		var (
			p   *BlobPublisher
			err error
		)
		if opts.S3Client != nil && strings.HasPrefix(cfg.BucketURL, "s3://") {
			p, err = OpenS3(ctx, opts.S3Client, cfg.BucketURL, cfg.StoreRoot(), cfg.Account, opts)
		} else {
			p, err = OpenBlob(ctx, cfg.BucketURL, cfg.StoreRoot(), cfg.Account, opts)
		}
		if err != nil {
			return nil, err
		}
		return p, nil
	case config.MediaBackendCloudinary, "":
		p, err := NewCloudinary(cfg, opts)
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown media store backend %q", cfg.Backend)
	}
}

// Names returns the public names of artifacts.
func Names(files []Artifact) []string {
	names := make([]string, len(files))
	for i, f := range files {
		names[i] = f.PublicName
	}
	return names
}
