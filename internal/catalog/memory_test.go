package catalog

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/amillerrr/movie-catalog/pkg/models"
)

func ptr[T any](v T) *T { return &v }

// steppedClock returns a clock that advances one second per call.
func steppedClock() func() time.Time {
	var mu sync.Mutex
	t := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}

func seed(t *testing.T, s *MemoryStore, inputs ...models.MovieInput) []*models.Movie {
	t.Helper()
	out := make([]*models.Movie, 0, len(inputs))
	for i := range inputs {
		m, err := s.CreateMovie(context.Background(), &inputs[i])
		if err != nil {
			t.Fatalf("CreateMovie(%q) error = %v", inputs[i].Title, err)
		}
		out = append(out, m)
	}
	return out
}

func TestMemoryStore_CreateAndGet(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	m, err := s.CreateMovie(ctx, &models.MovieInput{Title: "Heat", Genre: models.GenreCrime, Rating: ptr(4.5)})
	if err != nil {
		t.Fatalf("CreateMovie() error = %v", err)
	}
	if m.ID != 1 {
		t.Errorf("ID = %d, want 1", m.ID)
	}
	if m.IsPremium {
		t.Error("IsPremium should default to false")
	}
	if !m.CreatedAt.Equal(m.UpdatedAt) {
		t.Errorf("CreatedAt %v != UpdatedAt %v", m.CreatedAt, m.UpdatedAt)
	}

	got, err := s.GetMovie(ctx, m.ID)
	if err != nil {
		t.Fatalf("GetMovie() error = %v", err)
	}
	if got.Title != "Heat" || got.Genre != models.GenreCrime {
		t.Errorf("GetMovie() = %+v", got)
	}

	// Returned records are copies
	got.Title = "changed"
	again, _ := s.GetMovie(ctx, m.ID)
	if again.Title != "Heat" {
		t.Errorf("store record mutated through returned pointer: %q", again.Title)
	}

	if _, err := s.GetMovie(ctx, 99); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("GetMovie(99) error = %v, want ErrNotFound", err)
	}
}

func TestMemoryStore_TitleUniqueness(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seed(t, s,
		models.MovieInput{Title: "Alien", Genre: models.GenreSciFi},
		models.MovieInput{Title: "Aliens", Genre: models.GenreSciFi},
	)

	if _, err := s.CreateMovie(ctx, &models.MovieInput{Title: "Alien", Genre: models.GenreHorror}); !errors.Is(err, models.ErrTitleTaken) {
		t.Errorf("duplicate CreateMovie error = %v, want ErrTitleTaken", err)
	}
	// Case-sensitive comparison
	if _, err := s.CreateMovie(ctx, &models.MovieInput{Title: "alien", Genre: models.GenreHorror}); err != nil {
		t.Errorf("CreateMovie(lowercase) error = %v", err)
	}

	if _, err := s.PatchMovie(ctx, 2, models.MoviePatch{Title: ptr("Alien")}); !errors.Is(err, models.ErrTitleTaken) {
		t.Errorf("PatchMovie to taken title error = %v, want ErrTitleTaken", err)
	}
	// Renaming to its own title is allowed
	if _, err := s.PatchMovie(ctx, 1, models.MoviePatch{Title: ptr("Alien")}); err != nil {
		t.Errorf("PatchMovie to own title error = %v", err)
	}
}

func TestMemoryStore_PatchMovie(t *testing.T) {
	s := NewMemoryStore()
	s.now = steppedClock()
	ctx := context.Background()
	orig := seed(t, s, models.MovieInput{Title: "Up", Genre: models.GenreAnimation, Description: ptr("balloons")})[0]

	t.Run("sets only given fields", func(t *testing.T) {
		got, err := s.PatchMovie(ctx, orig.ID, models.MoviePatch{VideoURL: ptr("https://cdn/x.m3u8")})
		if err != nil {
			t.Fatalf("PatchMovie() error = %v", err)
		}
		if got.VideoURL == nil || *got.VideoURL != "https://cdn/x.m3u8" {
			t.Errorf("VideoURL = %v", got.VideoURL)
		}
		if got.Description == nil || *got.Description != "balloons" {
			t.Errorf("Description changed: %v", got.Description)
		}
		if got.ThumbnailURL != nil || got.TrailerURL != nil {
			t.Error("untouched media fields were set")
		}
		if !got.UpdatedAt.After(orig.UpdatedAt) {
			t.Errorf("UpdatedAt %v not after %v", got.UpdatedAt, orig.UpdatedAt)
		}
		if !got.CreatedAt.Equal(orig.CreatedAt) {
			t.Error("CreatedAt changed")
		}
	})

	t.Run("empty patch leaves record untouched", func(t *testing.T) {
		before, _ := s.GetMovie(ctx, orig.ID)
		got, err := s.PatchMovie(ctx, orig.ID, models.MoviePatch{})
		if err != nil {
			t.Fatalf("PatchMovie() error = %v", err)
		}
		if !got.UpdatedAt.Equal(before.UpdatedAt) {
			t.Errorf("UpdatedAt changed on empty patch")
		}
	})

	t.Run("missing record", func(t *testing.T) {
		_, err := s.PatchMovie(ctx, 404, models.MoviePatch{VideoURL: ptr("x")})
		if !errors.Is(err, models.ErrNotFound) {
			t.Errorf("error = %v, want ErrNotFound", err)
		}
	})

	t.Run("deleted record", func(t *testing.T) {
		m := seed(t, s, models.MovieInput{Title: "Gone", Genre: models.GenreDrama})[0]
		s.DeleteMovie(m.ID)
		_, err := s.PatchMovie(ctx, m.ID, models.MoviePatch{TrailerURL: ptr("x")})
		if !errors.Is(err, models.ErrNotFound) {
			t.Errorf("error = %v, want ErrNotFound", err)
		}
	})
}

func TestMemoryStore_ListMovies(t *testing.T) {
	s := NewMemoryStore()
	s.now = steppedClock()
	seed(t, s,
		models.MovieInput{Title: "Heat", Genre: models.GenreCrime, Rating: ptr(4.5)},
		models.MovieInput{Title: "Alien", Genre: models.GenreSciFi, Rating: ptr(4.8), IsPremium: ptr(true)},
		models.MovieInput{Title: "Casino", Genre: models.GenreCrime},
		models.MovieInput{Title: "Brazil", Genre: models.GenreSciFi, Rating: ptr(3.9)},
	)

	crime := models.GenreCrime
	tests := []struct {
		name   string
		filter models.MovieFilter
		want   []string
	}{
		{"default newest first", models.MovieFilter{}, []string{"Brazil", "Casino", "Alien", "Heat"}},
		{"oldest first", models.MovieFilter{Order: "created_at"}, []string{"Heat", "Alien", "Casino", "Brazil"}},
		{"title asc", models.MovieFilter{Order: "title"}, []string{"Alien", "Brazil", "Casino", "Heat"}},
		{"title desc", models.MovieFilter{Order: "-title"}, []string{"Heat", "Casino", "Brazil", "Alien"}},
		{"rating asc nulls last", models.MovieFilter{Order: "rating"}, []string{"Brazil", "Heat", "Alien", "Casino"}},
		{"rating desc nulls last", models.MovieFilter{Order: "-rating"}, []string{"Alien", "Heat", "Brazil", "Casino"}},
		{"genre", models.MovieFilter{Genre: &crime, Order: "title"}, []string{"Casino", "Heat"}},
		{"premium", models.MovieFilter{IsPremium: ptr(true)}, []string{"Alien"}},
		{"not premium", models.MovieFilter{IsPremium: ptr(false), Order: "title"}, []string{"Brazil", "Casino", "Heat"}},
		{"query case-insensitive", models.MovieFilter{Query: "A", Order: "title"}, []string{"Alien", "Brazil", "Casino", "Heat"}},
		{"query substring", models.MovieFilter{Query: "si"}, []string{"Casino"}},
		{"limit", models.MovieFilter{Order: "title", Limit: 2}, []string{"Alien", "Brazil"}},
		{"offset", models.MovieFilter{Order: "title", Limit: 2, Offset: 3}, []string{"Heat"}},
		{"offset past end", models.MovieFilter{Offset: 10}, []string{}},
		{"unknown order falls back", models.MovieFilter{Order: "budget"}, []string{"Brazil", "Casino", "Alien", "Heat"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.ListMovies(context.Background(), tt.filter)
			if err != nil {
				t.Fatalf("ListMovies() error = %v", err)
			}
			titles := make([]string, len(got))
			for i, m := range got {
				titles[i] = m.Title
			}
			if len(titles) != len(tt.want) {
				t.Fatalf("ListMovies() = %v, want %v", titles, tt.want)
			}
			for i := range titles {
				if titles[i] != tt.want[i] {
					t.Fatalf("ListMovies() = %v, want %v", titles, tt.want)
				}
			}
		})
	}
}

func TestMemoryStore_Users(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	u, err := s.CreateUser(ctx, &models.User{Email: " Ada@Example.com ", Name: "Ada", PasswordHash: "h"})
	if err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}
	if u.Email != "ada@example.com" {
		t.Errorf("Email = %q, want normalized", u.Email)
	}
	if u.Role != models.RoleUser {
		t.Errorf("Role = %q, want %q", u.Role, models.RoleUser)
	}

	if _, err := s.CreateUser(ctx, &models.User{Email: "ADA@example.com", Name: "Other"}); !errors.Is(err, models.ErrEmailTaken) {
		t.Errorf("duplicate CreateUser error = %v, want ErrEmailTaken", err)
	}

	got, err := s.GetUserByEmail(ctx, "ada@EXAMPLE.com")
	if err != nil || got.ID != u.ID {
		t.Fatalf("GetUserByEmail() = %v, %v", got, err)
	}

	if err := s.SetUserRole(ctx, u.ID, models.RoleAdmin); err != nil {
		t.Fatalf("SetUserRole() error = %v", err)
	}
	got, _ = s.GetUser(ctx, u.ID)
	if !got.IsAdmin() {
		t.Error("user should be admin after SetUserRole")
	}

	if err := s.SetUserRole(ctx, 42, models.RoleAdmin); !errors.Is(err, models.ErrUserNotFound) {
		t.Errorf("SetUserRole(42) error = %v, want ErrUserNotFound", err)
	}
	if _, err := s.GetUser(ctx, 42); !errors.Is(err, models.ErrUserNotFound) {
		t.Errorf("GetUser(42) error = %v, want ErrUserNotFound", err)
	}
	if _, err := s.GetUserByEmail(ctx, "nobody@example.com"); !errors.Is(err, models.ErrUserNotFound) {
		t.Errorf("GetUserByEmail(nobody) error = %v, want ErrUserNotFound", err)
	}
}

func TestMemoryStore_ConcurrentPatches(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	m := seed(t, s, models.MovieInput{Title: "Solaris", Genre: models.GenreSciFi})[0]

	var wg sync.WaitGroup
	for _, p := range []models.MoviePatch{
		{VideoURL: ptr("v")},
		{ThumbnailURL: ptr("t")},
		{TrailerURL: ptr("tr")},
	} {
		wg.Add(1)
		go func(p models.MoviePatch) {
			defer wg.Done()
			if _, err := s.PatchMovie(ctx, m.ID, p); err != nil {
				t.Errorf("PatchMovie() error = %v", err)
			}
		}(p)
	}
	wg.Wait()

	got, _ := s.GetMovie(ctx, m.ID)
	if got.VideoURL == nil || got.ThumbnailURL == nil || got.TrailerURL == nil {
		t.Errorf("lost update: %+v", got)
	}
}
