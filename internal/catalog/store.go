// Package catalog persists movie and user records.
package catalog

import (
	"context"
	"sort"
	"strings"

	"github.com/amillerrr/movie-catalog/pkg/models"
)

// MovieStore is the keyed movie record store.
type MovieStore interface {
	// CreateMovie inserts a new movie. A duplicate title is ErrTitleTaken.
	CreateMovie(ctx context.Context, in *models.MovieInput) (*models.Movie, error)
	// GetMovie returns ErrNotFound when no record has the id.
	GetMovie(ctx context.Context, id int64) (*models.Movie, error)
	ListMovies(ctx context.Context, filter models.MovieFilter) ([]*models.Movie, error)
	// PatchMovie writes only the fields set in the patch and returns the
	// updated record. A missing record is ErrNotFound.
	PatchMovie(ctx context.Context, id int64, patch models.MoviePatch) (*models.Movie, error)
}

// UserStore is the account store.
type UserStore interface {
	// CreateUser inserts u. A duplicate email is ErrEmailTaken.
	CreateUser(ctx context.Context, u *models.User) (*models.User, error)
	// GetUser returns ErrUserNotFound when no user has the id.
	GetUser(ctx context.Context, id int64) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	SetUserRole(ctx context.Context, id int64, role string) error
}

// Store is a complete catalog backend.
type Store interface {
	MovieStore
	UserStore
	Ping(ctx context.Context) error
	Close()
}

// sortMovies orders movies in place by a listing order, breaking ties by id.
func sortMovies(movies []*models.Movie, order models.MovieOrder) {
	desc := strings.HasPrefix(string(order), "-")
	key := strings.TrimPrefix(string(order), "-")

	less := func(a, b *models.Movie) int {
		switch key {
		case "title":
			return strings.Compare(strings.ToLower(a.Title), strings.ToLower(b.Title))
		case "rating":
			return compareRating(a.Rating, b.Rating)
		default:
			return a.CreatedAt.Compare(b.CreatedAt)
		}
	}

	sort.SliceStable(movies, func(i, j int) bool {
		// unrated movies trail in both directions
		if key == "rating" && (movies[i].Rating == nil) != (movies[j].Rating == nil) {
			return movies[j].Rating == nil
		}
		c := less(movies[i], movies[j])
		if c == 0 {
			c = compareInt64(movies[i].ID, movies[j].ID)
		}
		if desc {
			return c > 0
		}
		return c < 0
	})
}

// compareRating sorts unrated movies after rated ones in ascending order.
func compareRating(a, b *float64) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	case *a < *b:
		return -1
	case *a > *b:
		return 1
	}
	return 0
}

func compareInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// page applies filter predicates, order and window to an unfiltered set.
func page(all []*models.Movie, filter models.MovieFilter) []*models.Movie {
	filter.Normalize()

	matched := make([]*models.Movie, 0, len(all))
	for _, m := range all {
		if filter.Matches(m) {
			matched = append(matched, m)
		}
	}
	sortMovies(matched, filter.Order)

	if filter.Offset >= len(matched) {
		return []*models.Movie{}
	}
	end := filter.Offset + filter.Limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[filter.Offset:end]
}
