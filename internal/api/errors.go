package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/amillerrr/movie-catalog/internal/identity"
	"github.com/amillerrr/movie-catalog/pkg/models"
)

// Error codes for faults an operator has to act on. Everything else uses the
// status code as its code.
const (
	CodeStoreNotConfigured = "STORE_NOT_CONFIGURED"
	CodeEngineNotAvailable = "ENGINE_NOT_AVAILABLE"
	CodeTranscodeFailed    = "TRANSCODE_FAILED"
	CodePublishFailed      = "PUBLISH_FAILED"
	CodeInternal           = "INTERNAL_ERROR"
)

// ErrorBody is the error half of the envelope.
type ErrorBody struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

// ErrorResponse is the envelope every failed request gets.
type ErrorResponse struct {
	Error   ErrorBody     `json:"error"`
	Path    string        `json:"path"`
	Details []FieldDetail `json:"details,omitempty"`
}

// FieldDetail describes one invalid request field.
type FieldDetail struct {
	Loc  []string `json:"loc"`
	Msg  string   `json:"msg"`
	Type string   `json:"type"`
}

type errorMapping struct {
	err     error
	status  int
	code    string
	message string
}

// Checked in order; the first match wins. Causes are logged, never returned.
var errorTable = []errorMapping{
	{models.ErrUserNotFound, http.StatusUnauthorized, "", "User not found"},
	{identity.ErrInvalidToken, http.StatusUnauthorized, "", "Invalid token"},
	{identity.ErrInvalidAuthFormat, http.StatusUnauthorized, "", "Invalid token"},
	{models.ErrUnauthenticated, http.StatusUnauthorized, "", "Not authenticated"},
	{models.ErrInvalidCredentials, http.StatusUnauthorized, "", "Invalid email or password"},
	{models.ErrForbidden, http.StatusForbidden, "", "Admin privileges required"},
	{models.ErrStoreNotConfigured, http.StatusInternalServerError, CodeStoreNotConfigured, "Media store is not configured"},
	{models.ErrEngineNotAvailable, http.StatusInternalServerError, CodeEngineNotAvailable, "Transcoding engine is not installed"},
	{models.ErrTranscodeFailed, http.StatusInternalServerError, CodeTranscodeFailed, "Failed to transcode video"},
	{models.ErrPublishFailed, http.StatusBadGateway, CodePublishFailed, "Failed to upload media"},
	{models.ErrNotFound, http.StatusNotFound, "", "Movie not found"},
	{models.ErrTitleTaken, http.StatusConflict, "", "Movie title already exists"},
	{models.ErrEmailTaken, http.StatusBadRequest, "", "Email already registered"},
	{models.ErrInvalidMediaType, http.StatusUnsupportedMediaType, "", "Unsupported media type"},
	{models.ErrEmptyUpload, http.StatusBadRequest, "", "Uploaded file is empty"},
}

// classify maps err to its status, code and caller-facing message.
func classify(err error) (int, string, string) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return http.StatusRequestEntityTooLarge, strconv.Itoa(http.StatusRequestEntityTooLarge), "Request body too large"
	}

	for _, m := range errorTable {
		if errors.Is(err, m.err) {
			code := m.code
			if code == "" {
				code = strconv.Itoa(m.status)
			}
			return m.status, code, m.message
		}
	}
	return http.StatusInternalServerError, CodeInternal, "Internal server error"
}

// writeError writes the envelope for err. Server faults are logged with
// their cause.
func writeError(ctx context.Context, log *slog.Logger, w http.ResponseWriter, r *http.Request, err error) {
	status, code, message := classify(err)
	if status >= http.StatusInternalServerError {
		log.ErrorContext(ctx, "Request failed",
			"path", r.URL.Path,
			"status", status,
			"error", err,
		)
	}
	writeJSON(ctx, log, w, status, ErrorResponse{
		Error: ErrorBody{Message: message, Code: code},
		Path:  r.URL.Path,
	})
}

// writeStatus writes an envelope with an explicit status and message.
func writeStatus(ctx context.Context, log *slog.Logger, w http.ResponseWriter, r *http.Request, status int, message string) {
	writeJSON(ctx, log, w, status, ErrorResponse{
		Error: ErrorBody{Message: message, Code: strconv.Itoa(status)},
		Path:  r.URL.Path,
	})
}

// writeValidation writes a 422 with one detail per field.
func writeValidation(ctx context.Context, log *slog.Logger, w http.ResponseWriter, r *http.Request, loc string, fields []models.FieldError) {
	details := make([]FieldDetail, 0, len(fields))
	for _, f := range fields {
		details = append(details, FieldDetail{
			Loc:  []string{loc, f.Field},
			Msg:  f.Err.Error(),
			Type: "value_error",
		})
	}
	writeJSON(ctx, log, w, http.StatusUnprocessableEntity, ErrorResponse{
		Error:   ErrorBody{Message: "Validation error", Code: strconv.Itoa(http.StatusUnprocessableEntity)},
		Path:    r.URL.Path,
		Details: details,
	})
}
