package models

import (
	"fmt"
	"strings"
	"time"
)

// Genre is the closed set of movie genres.
type Genre string

const (
	GenreAction      Genre = "Action"
	GenreDrama       Genre = "Drama"
	GenreComedy      Genre = "Comedy"
	GenreThriller    Genre = "Thriller"
	GenreHorror      Genre = "Horror"
	GenreSciFi       Genre = "Sci-Fi"
	GenreRomance     Genre = "Romance"
	GenreDocumentary Genre = "Documentary"
	GenreAnimation   Genre = "Animation"
	GenreAdventure   Genre = "Adventure"
	GenreFantasy     Genre = "Fantasy"
	GenreCrime       Genre = "Crime"
	GenreMystery     Genre = "Mystery"
	GenreFamily      Genre = "Family"
)

// Genres lists every valid genre in declaration order.
var Genres = []Genre{
	GenreAction, GenreDrama, GenreComedy, GenreThriller, GenreHorror, GenreSciFi, GenreRomance,
	GenreDocumentary, GenreAnimation, GenreAdventure, GenreFantasy, GenreCrime, GenreMystery, GenreFamily,
}

// IsValid returns true if the genre is one of the known genres.
func (g Genre) IsValid() bool {
	for _, known := range Genres {
		if g == known {
			return true
		}
	}
	return false
}

// MediaField names a catalog column that holds a published media URL.
type MediaField string

const (
	FieldVideoURL     MediaField = "video_url"
	FieldThumbnailURL MediaField = "thumbnail_url"
	FieldTrailerURL   MediaField = "trailer_url"
)

// Movie is a catalog record.
type Movie struct {
	ID           int64     `dynamodbav:"movie_id" json:"id"`
	Title        string    `dynamodbav:"title" json:"title"`
	Description  *string   `dynamodbav:"description,omitempty" json:"description"`
	Genre        Genre     `dynamodbav:"genre" json:"genre"`
	ReleaseYear  *int      `dynamodbav:"release_year,omitempty" json:"release_year"`
	Duration     *int      `dynamodbav:"duration,omitempty" json:"duration"`
	Rating       *float64  `dynamodbav:"rating,omitempty" json:"rating"`
	VideoURL     *string   `dynamodbav:"video_url,omitempty" json:"video_url"`
	ThumbnailURL *string   `dynamodbav:"thumbnail_url,omitempty" json:"thumbnail_url"`
	TrailerURL   *string   `dynamodbav:"trailer_url,omitempty" json:"trailer_url"`
	IsPremium    bool      `dynamodbav:"is_premium" json:"is_premium"`
	CreatedAt    time.Time `dynamodbav:"created_at" json:"created_at"`
	UpdatedAt    time.Time `dynamodbav:"updated_at" json:"updated_at"`
}

// MediaURL returns the value of the given media field.
func (m *Movie) MediaURL(field MediaField) *string {
	switch field {
	case FieldVideoURL:
		return m.VideoURL
	case FieldThumbnailURL:
		return m.ThumbnailURL
	case FieldTrailerURL:
		return m.TrailerURL
	}
	return nil
}

// MovieInput holds the fields accepted when creating a movie.
type MovieInput struct {
	Title        string   `json:"title"`
	Description  *string  `json:"description"`
	Genre        Genre    `json:"genre"`
	ReleaseYear  *int     `json:"release_year"`
	Duration     *int     `json:"duration"`
	Rating       *float64 `json:"rating"`
	VideoURL     *string  `json:"video_url"`
	ThumbnailURL *string  `json:"thumbnail_url"`
	TrailerURL   *string  `json:"trailer_url"`
	IsPremium    *bool    `json:"is_premium"`
}

// Validate checks field constraints and returns every violation found.
func (in *MovieInput) Validate() []FieldError {
	var errs []FieldError
	if n := len(strings.TrimSpace(in.Title)); n == 0 || len(in.Title) > 255 {
		errs = append(errs, FieldError{Field: "title", Err: ErrInvalidTitle})
	}
	if !in.Genre.IsValid() {
		errs = append(errs, FieldError{Field: "genre", Err: ErrInvalidGenre})
	}
	errs = append(errs, validateOptional(in.ReleaseYear, in.Duration, in.Rating)...)
	return errs
}

// NewMovie builds a record from validated input.
func (in *MovieInput) NewMovie(id int64, now time.Time) *Movie {
	m := &Movie{
		ID:           id,
		Title:        in.Title,
		Description:  in.Description,
		Genre:        in.Genre,
		ReleaseYear:  in.ReleaseYear,
		Duration:     in.Duration,
		Rating:       in.Rating,
		VideoURL:     in.VideoURL,
		ThumbnailURL: in.ThumbnailURL,
		TrailerURL:   in.TrailerURL,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if in.IsPremium != nil {
		m.IsPremium = *in.IsPremium
	}
	return m
}

// MoviePatch is a partial update. Nil fields are left untouched; there is no
// way to clear a field through a patch.
type MoviePatch struct {
	Title        *string  `json:"title"`
	Description  *string  `json:"description"`
	Genre        *Genre   `json:"genre"`
	ReleaseYear  *int     `json:"release_year"`
	Duration     *int     `json:"duration"`
	Rating       *float64 `json:"rating"`
	VideoURL     *string  `json:"video_url"`
	ThumbnailURL *string  `json:"thumbnail_url"`
	TrailerURL   *string  `json:"trailer_url"`
	IsPremium    *bool    `json:"is_premium"`
}

// MediaPatch returns a patch that only sets the given media field.
func MediaPatch(field MediaField, url string) (MoviePatch, error) {
	var p MoviePatch
	switch field {
	case FieldVideoURL:
		p.VideoURL = &url
	case FieldThumbnailURL:
		p.ThumbnailURL = &url
	case FieldTrailerURL:
		p.TrailerURL = &url
	default:
		return p, fmt.Errorf("unknown media field %q", field)
	}
	return p, nil
}

// Validate checks constraints on the fields that are present.
func (p *MoviePatch) Validate() []FieldError {
	var errs []FieldError
	if p.Title != nil {
		if n := len(strings.TrimSpace(*p.Title)); n == 0 || len(*p.Title) > 255 {
			errs = append(errs, FieldError{Field: "title", Err: ErrInvalidTitle})
		}
	}
	if p.Genre != nil && !p.Genre.IsValid() {
		errs = append(errs, FieldError{Field: "genre", Err: ErrInvalidGenre})
	}
	errs = append(errs, validateOptional(p.ReleaseYear, p.Duration, p.Rating)...)
	return errs
}

// Assignment is one column/value pair of a patch.
type Assignment struct {
	Column string
	Value  any
}

// Assignments returns the set fields in a stable column order.
func (p *MoviePatch) Assignments() []Assignment {
	var out []Assignment
	add := func(col string, v any) {
		out = append(out, Assignment{Column: col, Value: v})
	}
	if p.Title != nil {
		add("title", *p.Title)
	}
	if p.Description != nil {
		add("description", *p.Description)
	}
	if p.Genre != nil {
		add("genre", string(*p.Genre))
	}
	if p.ReleaseYear != nil {
		add("release_year", *p.ReleaseYear)
	}
	if p.Duration != nil {
		add("duration", *p.Duration)
	}
	if p.Rating != nil {
		add("rating", *p.Rating)
	}
	if p.VideoURL != nil {
		add(string(FieldVideoURL), *p.VideoURL)
	}
	if p.ThumbnailURL != nil {
		add(string(FieldThumbnailURL), *p.ThumbnailURL)
	}
	if p.TrailerURL != nil {
		add(string(FieldTrailerURL), *p.TrailerURL)
	}
	if p.IsPremium != nil {
		add("is_premium", *p.IsPremium)
	}
	return out
}

// IsEmpty reports whether the patch sets no fields.
func (p *MoviePatch) IsEmpty() bool {
	return len(p.Assignments()) == 0
}

// Apply copies the set fields onto m.
func (p *MoviePatch) Apply(m *Movie) {
	if p.Title != nil {
		m.Title = *p.Title
	}
	if p.Description != nil {
		m.Description = p.Description
	}
	if p.Genre != nil {
		m.Genre = *p.Genre
	}
	if p.ReleaseYear != nil {
		m.ReleaseYear = p.ReleaseYear
	}
	if p.Duration != nil {
		m.Duration = p.Duration
	}
	if p.Rating != nil {
		m.Rating = p.Rating
	}
	if p.VideoURL != nil {
		m.VideoURL = p.VideoURL
	}
	if p.ThumbnailURL != nil {
		m.ThumbnailURL = p.ThumbnailURL
	}
	if p.TrailerURL != nil {
		m.TrailerURL = p.TrailerURL
	}
	if p.IsPremium != nil {
		m.IsPremium = *p.IsPremium
	}
}

func validateOptional(releaseYear, duration *int, rating *float64) []FieldError {
	var errs []FieldError
	if releaseYear != nil && (*releaseYear < 1888 || *releaseYear > 2100) {
		errs = append(errs, FieldError{Field: "release_year", Err: ErrInvalidReleaseYear})
	}
	if duration != nil && *duration < 1 {
		errs = append(errs, FieldError{Field: "duration", Err: ErrInvalidDuration})
	}
	if rating != nil && (*rating < 0 || *rating > 5) {
		errs = append(errs, FieldError{Field: "rating", Err: ErrInvalidRating})
	}
	return errs
}

// MovieOrder is a listing sort key. A leading "-" sorts descending.
type MovieOrder string

// Allowed listing orders.
var MovieOrders = map[MovieOrder]bool{
	"created_at": true, "-created_at": true,
	"title": true, "-title": true,
	"rating": true, "-rating": true,
}

// MovieFilter narrows a listing.
type MovieFilter struct {
	Query     string
	Genre     *Genre
	IsPremium *bool
	Limit     int
	Offset    int
	Order     MovieOrder
}

// Listing defaults.
const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// Normalize applies defaults and bounds.
func (f *MovieFilter) Normalize() {
	if f.Limit <= 0 {
		f.Limit = DefaultListLimit
	}
	if f.Limit > MaxListLimit {
		f.Limit = MaxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	if !MovieOrders[f.Order] {
		f.Order = "-created_at"
	}
}

// Matches reports whether m passes the filter's predicates.
func (f *MovieFilter) Matches(m *Movie) bool {
	if f.Query != "" && !strings.Contains(strings.ToLower(m.Title), strings.ToLower(f.Query)) {
		return false
	}
	if f.Genre != nil && m.Genre != *f.Genre {
		return false
	}
	if f.IsPremium != nil && m.IsPremium != *f.IsPremium {
		return false
	}
	return true
}

// FieldError ties a validation failure to a request field.
type FieldError struct {
	Field string
	Err   error
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %v", e.Field, e.Err)
}

func (e FieldError) Unwrap() error { return e.Err }
