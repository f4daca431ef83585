package catalog

import (
	"context"
	"sync"
	"time"

	"github.com/amillerrr/movie-catalog/pkg/models"
)

// MemoryStore keeps records in process memory. It backs development runs and
// tests.
type MemoryStore struct {
	mu        sync.RWMutex
	movies    map[int64]*models.Movie
	users     map[int64]*models.User
	nextMovie int64
	nextUser  int64
	now       func() time.Time
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		movies: make(map[int64]*models.Movie),
		users:  make(map[int64]*models.User),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) CreateMovie(ctx context.Context, in *models.MovieInput) (*models.Movie, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.titleTaken(in.Title, 0) {
		return nil, models.ErrTitleTaken
	}

	s.nextMovie++
	m := in.NewMovie(s.nextMovie, s.now())
	s.movies[m.ID] = m

	cp := *m
	return &cp, nil
}

func (s *MemoryStore) GetMovie(ctx context.Context, id int64) (*models.Movie, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.movies[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *MemoryStore) ListMovies(ctx context.Context, filter models.MovieFilter) ([]*models.Movie, error) {
	s.mu.RLock()
	all := make([]*models.Movie, 0, len(s.movies))
	for _, m := range s.movies {
		cp := *m
		all = append(all, &cp)
	}
	s.mu.RUnlock()

	return page(all, filter), nil
}

func (s *MemoryStore) PatchMovie(ctx context.Context, id int64, patch models.MoviePatch) (*models.Movie, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.movies[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	if patch.Title != nil && s.titleTaken(*patch.Title, id) {
		return nil, models.ErrTitleTaken
	}

	if !patch.IsEmpty() {
		patch.Apply(m)
		m.UpdatedAt = s.now()
	}

	cp := *m
	return &cp, nil
}

// DeleteMovie removes a record. It exists so tests can simulate a movie
// vanishing mid-upload.
func (s *MemoryStore) DeleteMovie(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.movies, id)
}

func (s *MemoryStore) titleTaken(title string, except int64) bool {
	for id, m := range s.movies {
		if id != except && m.Title == title {
			return true
		}
	}
	return false
}

func (s *MemoryStore) CreateUser(ctx context.Context, u *models.User) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	email := models.NormalizeEmail(u.Email)
	for _, existing := range s.users {
		if existing.Email == email {
			return nil, models.ErrEmailTaken
		}
	}

	s.nextUser++
	now := s.now()
	cp := *u
	cp.ID = s.nextUser
	cp.Email = email
	if cp.Role == "" {
		cp.Role = models.RoleUser
	}
	cp.CreatedAt, cp.UpdatedAt = now, now
	s.users[cp.ID] = &cp

	out := cp
	return &out, nil
}

func (s *MemoryStore) GetUser(ctx context.Context, id int64) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, models.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *MemoryStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	email = models.NormalizeEmail(email)
	for _, u := range s.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, models.ErrUserNotFound
}

func (s *MemoryStore) SetUserRole(ctx context.Context, id int64, role string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return models.ErrUserNotFound
	}
	u.Role = role
	u.UpdatedAt = s.now()
	return nil
}

// Ping always succeeds.
func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

// Close is a no-op.
func (s *MemoryStore) Close() {}
