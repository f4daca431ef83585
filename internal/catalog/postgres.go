package catalog

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/amillerrr/movie-catalog/pkg/models"
)

//go:embed schema.sql
var schemaSQL string

const uniqueViolation = "23505"

const movieColumns = `id, title, description, genre, release_year, duration, rating,
video_url, thumbnail_url, trailer_url, is_premium, created_at, updated_at`

const userColumns = `id, email, name, password_hash, profile_picture, role, created_at, updated_at`

// orderClauses maps listing orders to SQL. Only these strings reach a query.
var orderClauses = map[models.MovieOrder]string{
	"created_at":  "created_at ASC, id ASC",
	"-created_at": "created_at DESC, id DESC",
	"title":       "title ASC, id ASC",
	"-title":      "title DESC, id DESC",
	"rating":      "rating ASC NULLS LAST, id ASC",
	"-rating":     "rating DESC NULLS LAST, id DESC",
}

// PostgresStore keeps records in Postgres.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore opens a pool for dsn and verifies connectivity.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn required")
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Migrate creates the tables if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateMovie(ctx context.Context, in *models.MovieInput) (*models.Movie, error) {
	isPremium := false
	if in.IsPremium != nil {
		isPremium = *in.IsPremium
	}

	row := s.pool.QueryRow(ctx, `
INSERT INTO movies (title, description, genre, release_year, duration, rating,
                    video_url, thumbnail_url, trailer_url, is_premium)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
RETURNING `+movieColumns,
		in.Title, in.Description, string(in.Genre), in.ReleaseYear, in.Duration, in.Rating,
		in.VideoURL, in.ThumbnailURL, in.TrailerURL, isPremium)

	m, err := scanMovie(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, models.ErrTitleTaken
		}
		return nil, fmt.Errorf("insert movie: %w", err)
	}
	return m, nil
}

func (s *PostgresStore) GetMovie(ctx context.Context, id int64) (*models.Movie, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+movieColumns+` FROM movies WHERE id = $1`, id)
	m, err := scanMovie(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("get movie: %w", err)
	}
	return m, nil
}

func (s *PostgresStore) ListMovies(ctx context.Context, filter models.MovieFilter) ([]*models.Movie, error) {
	query, args := buildListQuery(filter)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list movies: %w", err)
	}
	defer rows.Close()

	movies := make([]*models.Movie, 0, filter.Limit)
	for rows.Next() {
		m, err := scanMovie(rows)
		if err != nil {
			return nil, fmt.Errorf("scan movie: %w", err)
		}
		movies = append(movies, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list movies: %w", err)
	}
	return movies, nil
}

// buildListQuery renders a filtered listing. User input only travels as
// bind arguments.
func buildListQuery(filter models.MovieFilter) (string, []any) {
	filter.Normalize()

	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if filter.Query != "" {
		where = append(where, "title ILIKE '%' || "+arg(escapeLike(filter.Query))+" || '%'")
	}
	if filter.Genre != nil {
		where = append(where, "genre = "+arg(string(*filter.Genre)))
	}
	if filter.IsPremium != nil {
		where = append(where, "is_premium = "+arg(*filter.IsPremium))
	}

	var b strings.Builder
	b.WriteString("SELECT " + movieColumns + " FROM movies")
	if len(where) > 0 {
		b.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	b.WriteString(" ORDER BY " + orderClauses[filter.Order])
	b.WriteString(" LIMIT " + arg(filter.Limit))
	b.WriteString(" OFFSET " + arg(filter.Offset))

	return b.String(), args
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func (s *PostgresStore) PatchMovie(ctx context.Context, id int64, patch models.MoviePatch) (*models.Movie, error) {
	assignments := patch.Assignments()
	if len(assignments) == 0 {
		return s.GetMovie(ctx, id)
	}

	sets := make([]string, 0, len(assignments)+1)
	args := make([]any, 0, len(assignments)+1)
	for _, a := range assignments {
		args = append(args, a.Value)
		// column names come from MoviePatch, never from input
		sets = append(sets, a.Column+" = $"+strconv.Itoa(len(args)))
	}
	sets = append(sets, "updated_at = now()")
	args = append(args, id)

	row := s.pool.QueryRow(ctx,
		"UPDATE movies SET "+strings.Join(sets, ", ")+
			" WHERE id = $"+strconv.Itoa(len(args))+
			" RETURNING "+movieColumns,
		args...)

	m, err := scanMovie(row)
	if err != nil {
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			return nil, models.ErrNotFound
		case isUniqueViolation(err):
			return nil, models.ErrTitleTaken
		}
		return nil, fmt.Errorf("update movie: %w", err)
	}
	return m, nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, u *models.User) (*models.User, error) {
	role := u.Role
	if role == "" {
		role = models.RoleUser
	}

	row := s.pool.QueryRow(ctx, `
INSERT INTO users (email, name, password_hash, profile_picture, role)
VALUES ($1, $2, $3, $4, $5)
RETURNING `+userColumns,
		models.NormalizeEmail(u.Email), u.Name, u.PasswordHash, u.ProfilePicture, role)

	out, err := scanUser(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, models.ErrEmailTaken
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) GetUser(ctx context.Context, id int64) (*models.User, error) {
	return s.getUser(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.getUser(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, models.NormalizeEmail(email))
}

func (s *PostgresStore) getUser(ctx context.Context, query string, arg any) (*models.User, error) {
	u, err := scanUser(s.pool.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (s *PostgresStore) SetUserRole(ctx context.Context, id int64, role string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE users SET role = $1, updated_at = now() WHERE id = $2`, role, id)
	if err != nil {
		return fmt.Errorf("update user role: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrUserNotFound
	}
	return nil
}

// Ping checks the pool can reach the database.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the pool.
func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func scanMovie(row pgx.Row) (*models.Movie, error) {
	var (
		m     models.Movie
		genre string
	)
	err := row.Scan(&m.ID, &m.Title, &m.Description, &genre, &m.ReleaseYear, &m.Duration, &m.Rating,
		&m.VideoURL, &m.ThumbnailURL, &m.TrailerURL, &m.IsPremium, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	m.Genre = models.Genre(genre)
	m.CreatedAt = m.CreatedAt.UTC()
	m.UpdatedAt = m.UpdatedAt.UTC()
	return &m, nil
}

func scanUser(row pgx.Row) (*models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &u.ProfilePicture, &u.Role, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	u.CreatedAt = u.CreatedAt.UTC()
	u.UpdatedAt = u.UpdatedAt.UTC()
	return &u, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
