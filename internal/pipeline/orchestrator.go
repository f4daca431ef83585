// Package pipeline coordinates media uploads: persist, segment, publish and
// catalog update.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/amillerrr/movie-catalog/internal/catalog"
	"github.com/amillerrr/movie-catalog/internal/events"
	"github.com/amillerrr/movie-catalog/internal/metrics"
	"github.com/amillerrr/movie-catalog/internal/publisher"
	"github.com/amillerrr/movie-catalog/internal/segmenter"
	"github.com/amillerrr/movie-catalog/pkg/models"
)

var tracer = otel.Tracer("catalog-pipeline")

// Segmenter turns a source file into an HLS set.
type Segmenter interface {
	Segment(ctx context.Context, sourcePath, outputDir, baseName string, segmentSeconds int) (*segmenter.SegmentSet, error)
}

// Upload is one uploaded file.
type Upload struct {
	Filename    string
	ContentType string
	Body        io.Reader
}

// Result describes a committed upload.
type Result struct {
	URL      string
	Filename string
	Folder   string
	Movie    *models.Movie
}

// Config holds orchestrator dependencies.
type Config struct {
	Movies    catalog.MovieStore
	Publisher publisher.Publisher // nil when no media store is configured
	Segmenter Segmenter
	Locker    Locker
	Notifier  events.Notifier

	Namespace      string
	SegmentSeconds int
	TempDir        string
	OrphanCleanup  bool
	Logger         *slog.Logger
}

// Orchestrator runs uploads. Stages within one upload are strictly
// sequential; uploads for the same movie are serialized by the Locker.
type Orchestrator struct {
	cfg Config
	log *slog.Logger
}

// New creates an Orchestrator, filling unset optional dependencies.
func New(cfg Config) *Orchestrator {
	if cfg.Locker == nil {
		cfg.Locker = NewLocalLocker()
	}
	if cfg.Notifier == nil {
		cfg.Notifier = events.Nop{}
	}
	if cfg.Namespace == "" {
		cfg.Namespace = "movies"
	}
	if cfg.SegmentSeconds <= 0 {
		cfg.SegmentSeconds = segmenter.DefaultSegmentSeconds
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Orchestrator{cfg: cfg, log: cfg.Logger}
}

// Authorize runs the checks that precede any I/O: the caller must be an
// admin, then a media store must be configured.
func (o *Orchestrator) Authorize(caller *models.User) error {
	if !caller.IsAdmin() {
		return models.ErrForbidden
	}
	if o.cfg.Publisher == nil {
		return models.ErrStoreNotConfigured
	}
	return nil
}

// Folder is the remote folder for a movie asset.
func (o *Orchestrator) Folder(movieID int64, baseName string) string {
	return path.Join(o.cfg.Namespace, strconv.FormatInt(movieID, 10), baseName)
}

// stage produces the published objects for one upload and returns what the
// catalog should point at. Confirmed uploads are returned even on error.
type stage func(ctx context.Context, ws *Workspace, sourcePath string) (*published, error)

type published struct {
	folder    string
	filename  string
	artifacts []publisher.Artifact
}

// HandleUpload segments a video, publishes the set and points video_url at
// the manifest.
func (o *Orchestrator) HandleUpload(ctx context.Context, movieID int64, caller *models.User, up Upload) (*Result, error) {
	base := BaseName(up.Filename, "video")
	return o.handle(ctx, movieID, caller, up, metrics.KindVideo, models.FieldVideoURL, "",
		func(ctx context.Context, ws *Workspace, src string) (*published, error) {
			return o.segmentAndPublish(ctx, ws, src, movieID, base)
		})
}

// HandleThumbnailUpload publishes an image/* file and points thumbnail_url
// at it.
func (o *Orchestrator) HandleThumbnailUpload(ctx context.Context, movieID int64, caller *models.User, up Upload) (*Result, error) {
	return o.handle(ctx, movieID, caller, up, metrics.KindThumbnail, models.FieldThumbnailURL, "image/",
		func(ctx context.Context, ws *Workspace, src string) (*published, error) {
			return o.publishSingle(ctx, src, movieID, metrics.KindThumbnail, up.Filename)
		})
}

// HandleTrailerUpload publishes a video/* file and points trailer_url at it.
func (o *Orchestrator) HandleTrailerUpload(ctx context.Context, movieID int64, caller *models.User, up Upload) (*Result, error) {
	return o.handle(ctx, movieID, caller, up, metrics.KindTrailer, models.FieldTrailerURL, "video/",
		func(ctx context.Context, ws *Workspace, src string) (*published, error) {
			return o.publishSingle(ctx, src, movieID, metrics.KindTrailer, up.Filename)
		})
}

func (o *Orchestrator) handle(ctx context.Context, movieID int64, caller *models.User, up Upload,
	kind string, field models.MediaField, mimePrefix string, run stage) (result *Result, err error) {
	// Client disconnects must not interrupt a transcode or upload
	ctx = context.WithoutCancel(ctx)

	ctx, span := tracer.Start(ctx, "handle-upload")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("movie.id", movieID),
		attribute.String("media.kind", kind),
	)

	if err := o.Authorize(caller); err != nil {
		return nil, err
	}

	start := time.Now()
	metrics.ActivePipelines.Inc()
	defer func() {
		metrics.ActivePipelines.Dec()
		metrics.PipelineDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
		if err != nil {
			metrics.RecordFailure(kind)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			o.log.ErrorContext(ctx, "Upload failed",
				"movieId", movieID,
				"kind", kind,
				"error", err,
			)
			return
		}
		metrics.RecordSuccess(kind)
	}()

	if mimePrefix != "" && !strings.HasPrefix(strings.ToLower(strings.TrimSpace(up.ContentType)), mimePrefix) {
		return nil, fmt.Errorf("%w: expected %s*, got %q", models.ErrInvalidMediaType, mimePrefix, up.ContentType)
	}

	unlock, err := o.cfg.Locker.Lock(ctx, movieID)
	if err != nil {
		return nil, fmt.Errorf("acquire upload lock: %w", err)
	}
	defer unlock()

	// Fail before the expensive stages when the movie is already gone
	if _, err := o.cfg.Movies.GetMovie(ctx, movieID); err != nil {
		return nil, err
	}

	ws, err := NewWorkspace(o.cfg.TempDir, o.log)
	if err != nil {
		return nil, err
	}
	defer ws.Release()

	persistStart := time.Now()
	src, err := ws.Persist(ctx, up.Filename, up.Body)
	if err != nil {
		return nil, err
	}
	metrics.PersistDuration.Observe(time.Since(persistStart).Seconds())

	pub, err := run(ctx, ws, src)
	if err != nil {
		return nil, err
	}

	url := publisher.URLFor(o.cfg.Publisher.StoreRoot(), pub.folder, pub.filename)
	span.SetAttributes(attribute.String("media.url", url))

	patch, err := models.MediaPatch(field, url)
	if err != nil {
		return nil, err
	}
	movie, err := o.cfg.Movies.PatchMovie(ctx, movieID, patch)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			o.cleanup(ctx, pub.folder, pub.artifacts)
		}
		return nil, err
	}

	o.log.InfoContext(ctx, "Upload committed",
		"movieId", movieID,
		"kind", kind,
		"url", url,
		"objects", len(pub.artifacts),
		"duration", time.Since(start).String(),
	)

	if err := o.cfg.Notifier.Notify(ctx, events.MediaPublished{
		Type:        events.TypeMediaPublished,
		MovieID:     movieID,
		Field:       string(field),
		URL:         url,
		PublishedAt: time.Now().UTC(),
	}); err != nil {
		o.log.WarnContext(ctx, "Failed to send media event", "movieId", movieID, "error", err)
	}

	return &Result{URL: url, Filename: pub.filename, Folder: pub.folder, Movie: movie}, nil
}

// segmentAndPublish publishes segments before the manifest so the manifest
// never references a missing segment.
func (o *Orchestrator) segmentAndPublish(ctx context.Context, ws *Workspace, src string, movieID int64, base string) (*published, error) {
	set, err := o.cfg.Segmenter.Segment(ctx, src, ws.OutputDir(), base, o.cfg.SegmentSeconds)
	if err != nil {
		return nil, err
	}

	folder := o.Folder(movieID, base)
	segments := make([]publisher.Artifact, 0, len(set.SegmentPaths))
	for _, p := range set.SegmentPaths {
		segments = append(segments, publisher.Artifact{LocalPath: p, PublicName: filepath.Base(p)})
	}
	manifest := publisher.Artifact{LocalPath: set.ManifestPath, PublicName: filepath.Base(set.ManifestPath)}

	done, err := o.cfg.Publisher.PublishRaw(ctx, segments, folder)
	if err != nil {
		o.cleanup(ctx, folder, done)
		return nil, err
	}
	last, err := o.cfg.Publisher.PublishRaw(ctx, []publisher.Artifact{manifest}, folder)
	done = append(done, last...)
	if err != nil {
		o.cleanup(ctx, folder, done)
		return nil, err
	}

	return &published{folder: folder, filename: manifest.PublicName, artifacts: done}, nil
}

func (o *Orchestrator) publishSingle(ctx context.Context, src string, movieID int64, kind, filename string) (*published, error) {
	folder := o.Folder(movieID, kind)
	name := BaseName(filename, kind) + safeExt(filename)

	done, err := o.cfg.Publisher.PublishRaw(ctx, []publisher.Artifact{{LocalPath: src, PublicName: name}}, folder)
	if err != nil {
		o.cleanup(ctx, folder, done)
		return nil, err
	}

	return &published{folder: folder, filename: name, artifacts: done}, nil
}

// cleanup makes one best-effort pass deleting objects that were published
// for an upload that did not commit, newest first. It never changes the
// error returned to the caller.
func (o *Orchestrator) cleanup(ctx context.Context, folder string, artifacts []publisher.Artifact) {
	if len(artifacts) == 0 {
		return
	}

	names := publisher.Names(artifacts)
	for i, j := 0, len(names)-1; i < j; i, j = i+1, j-1 {
		names[i], names[j] = names[j], names[i]
	}

	if !o.cfg.OrphanCleanup {
		metrics.OrphanedObjects.Add(float64(len(names)))
		o.log.WarnContext(ctx, "Leaving orphaned objects",
			"folder", folder,
			"objects", len(names),
		)
		return
	}

	ctx, span := tracer.Start(ctx, "cleanup-orphans")
	defer span.End()
	span.SetAttributes(attribute.Int("cleanup.objects", len(names)))

	if err := o.cfg.Publisher.Delete(ctx, folder, names); err != nil {
		span.RecordError(err)
		metrics.OrphanedObjects.Add(float64(len(names)))
		o.log.ErrorContext(ctx, "Failed to remove orphaned objects",
			"folder", folder,
			"objects", len(names),
			"error", err,
		)
		return
	}
	o.log.InfoContext(ctx, "Removed orphaned objects", "folder", folder, "objects", len(names))
}
