package api

import (
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"

	"go.opentelemetry.io/otel/attribute"

	"github.com/amillerrr/movie-catalog/internal/pipeline"
	"github.com/amillerrr/movie-catalog/pkg/models"
)

// UploadField is the multipart field holding the file.
const UploadField = "file"

// Uploader runs media uploads for a movie.
type Uploader interface {
	Authorize(caller *models.User) error
	HandleUpload(ctx context.Context, movieID int64, caller *models.User, up pipeline.Upload) (*pipeline.Result, error)
	HandleThumbnailUpload(ctx context.Context, movieID int64, caller *models.User, up pipeline.Upload) (*pipeline.Result, error)
	HandleTrailerUpload(ctx context.Context, movieID int64, caller *models.User, up pipeline.Upload) (*pipeline.Result, error)
}

type uploadFunc func(ctx context.Context, movieID int64, caller *models.User, up pipeline.Upload) (*pipeline.Result, error)

var errMissingFile = errors.New("field required")

// VideoUploadResponse is returned by UploadVideo.
type VideoUploadResponse struct {
	VideoURL         string        `json:"video_url"`
	PlaylistFilename string        `json:"playlist_filename"`
	Movie            *models.Movie `json:"movie"`
}

// MediaUploadResponse is returned by the thumbnail and trailer uploads.
type MediaUploadResponse struct {
	Movie *models.Movie `json:"movie"`
}

// UploadVideo segments the uploaded video and points video_url at its
// playlist.
func (h *Handlers) UploadVideo(w http.ResponseWriter, r *http.Request) {
	h.handleUpload(w, r, "upload-video", h.uploader.HandleUpload, func(res *pipeline.Result) any {
		return VideoUploadResponse{
			VideoURL:         res.URL,
			PlaylistFilename: res.Filename,
			Movie:            res.Movie,
		}
	})
}

// UploadThumbnail publishes an image and points thumbnail_url at it.
func (h *Handlers) UploadThumbnail(w http.ResponseWriter, r *http.Request) {
	h.handleUpload(w, r, "upload-thumbnail", h.uploader.HandleThumbnailUpload, mediaResponse)
}

// UploadTrailer publishes a video file and points trailer_url at it.
func (h *Handlers) UploadTrailer(w http.ResponseWriter, r *http.Request) {
	h.handleUpload(w, r, "upload-trailer", h.uploader.HandleTrailerUpload, mediaResponse)
}

func mediaResponse(res *pipeline.Result) any {
	return MediaUploadResponse{Movie: res.Movie}
}

// handleUpload authorizes the caller before touching the body, then streams
// the file part straight into the pipeline.
func (h *Handlers) handleUpload(w http.ResponseWriter, r *http.Request, name string, run uploadFunc, respond func(*pipeline.Result) any) {
	ctx, span := spanFromRequest(r, name)
	defer span.End()

	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	id, ok := h.movieID(w, r)
	if !ok {
		return
	}
	span.SetAttributes(attribute.Int64("movie.id", id))

	if err := h.uploader.Authorize(caller); err != nil {
		h.writeError(w, r, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.API.MaxUploadBytes)
	up, err := filePart(r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeError(w, r, err)
			return
		}
		writeValidation(ctx, h.log, w, r, "body", []models.FieldError{{Field: UploadField, Err: err}})
		return
	}
	span.SetAttributes(
		attribute.String("upload.filename", up.Filename),
		attribute.String("upload.content_type", up.ContentType),
	)

	res, err := run(ctx, id, caller, up)
	if err != nil {
		span.RecordError(err)
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(ctx, w, http.StatusOK, respond(res))
}

// filePart advances the multipart stream to the file field. The returned
// body reads directly from the request.
func filePart(r *http.Request) (pipeline.Upload, error) {
	mr, err := r.MultipartReader()
	if err != nil {
		return pipeline.Upload{}, err
	}

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return pipeline.Upload{}, errMissingFile
		}
		if err != nil {
			return pipeline.Upload{}, err
		}
		if part.FormName() == UploadField && part.FileName() != "" {
			return uploadFromPart(part), nil
		}
		_ = part.Close()
	}
}

func uploadFromPart(part *multipart.Part) pipeline.Upload {
	return pipeline.Upload{
		Filename:    part.FileName(),
		ContentType: part.Header.Get("Content-Type"),
		Body:        part,
	}
}
