package models

import "errors"

// Sentinel errors for catalog and media operations.
var (
	// Access errors
	ErrUnauthenticated    = errors.New("not authenticated")
	ErrForbidden          = errors.New("admin privileges required")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrUserNotFound       = errors.New("user not found")
	ErrEmailTaken         = errors.New("email already registered")

	// Pipeline errors
	ErrStoreNotConfigured = errors.New("media store not configured")
	ErrEngineNotAvailable = errors.New("transcoding engine not available")
	ErrTranscodeFailed    = errors.New("failed to transcode video")
	ErrPublishFailed      = errors.New("failed to publish media")
	ErrInvalidMediaType   = errors.New("invalid media type")
	ErrEmptyUpload        = errors.New("uploaded file is empty")

	// Storage errors
	ErrNotFound   = errors.New("movie not found")
	ErrTitleTaken = errors.New("movie title already exists")

	// Validation errors
	ErrInvalidTitle       = errors.New("title must be between 1 and 255 characters")
	ErrInvalidGenre       = errors.New("invalid genre")
	ErrInvalidReleaseYear = errors.New("release_year must be between 1888 and 2100")
	ErrInvalidDuration    = errors.New("duration must be at least 1 minute")
	ErrInvalidRating      = errors.New("rating must be between 0 and 5")
	ErrInvalidEmail       = errors.New("invalid email address")
	ErrInvalidName        = errors.New("name must be between 1 and 255 characters")
	ErrPasswordTooShort   = errors.New("password must be at least 6 characters")
)
