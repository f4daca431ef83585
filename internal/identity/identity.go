package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/amillerrr/movie-catalog/internal/catalog"
	"github.com/amillerrr/movie-catalog/pkg/models"
)

// Service signs users up and in and resolves callers from requests.
type Service struct {
	users  catalog.UserStore
	tokens *TokenService
	cookie CookieConfig
	log    *slog.Logger
}

// NewService creates a Service.
func NewService(users catalog.UserStore, tokens *TokenService, cookie CookieConfig, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	if cookie.MaxAge <= 0 {
		cookie.MaxAge = tokens.TTL()
	}
	return &Service{users: users, tokens: tokens, cookie: cookie, log: log}
}

// Cookie is the session cookie configuration.
func (s *Service) Cookie() CookieConfig { return s.cookie }

// Signup creates a user with a hashed password and issues a token. Input
// must already be validated.
func (s *Service) Signup(ctx context.Context, in models.SignupInput) (*models.User, string, error) {
	if _, err := s.users.GetUserByEmail(ctx, in.Email); err == nil {
		return nil, "", models.ErrEmailTaken
	} else if !errors.Is(err, models.ErrUserNotFound) {
		return nil, "", err
	}

	hash, err := HashPassword(in.Password)
	if err != nil {
		return nil, "", err
	}

	user, err := s.users.CreateUser(ctx, &models.User{
		Email:          in.Email,
		Name:           in.Name,
		PasswordHash:   hash,
		ProfilePicture: in.ProfilePicture,
		Role:           models.RoleUser,
	})
	if err != nil {
		return nil, "", err
	}

	token, err := s.tokens.GenerateToken(user.ID)
	if err != nil {
		return nil, "", err
	}

	s.log.InfoContext(ctx, "User signed up", "userId", user.ID)
	return user, token, nil
}

// Login checks credentials and issues a token. Unknown email and wrong
// password are indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, email, password string) (*models.User, string, error) {
	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrUserNotFound) {
			return nil, "", models.ErrInvalidCredentials
		}
		return nil, "", err
	}
	if !CheckPassword(user.PasswordHash, password) {
		return nil, "", models.ErrInvalidCredentials
	}

	token, err := s.tokens.GenerateToken(user.ID)
	if err != nil {
		return nil, "", err
	}
	return user, token, nil
}

// RequireCaller resolves the signed-in user of a request.
func (s *Service) RequireCaller(r *http.Request) (*models.User, error) {
	raw, err := s.cookie.ExtractToken(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrUnauthenticated, err)
	}

	claims, err := s.tokens.ValidateToken(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrUnauthenticated, err)
	}
	id, err := claims.UserID()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrUnauthenticated, err)
	}

	user, err := s.users.GetUser(r.Context(), id)
	if err != nil {
		if errors.Is(err, models.ErrUserNotFound) {
			return nil, fmt.Errorf("%w: %w", models.ErrUnauthenticated, models.ErrUserNotFound)
		}
		return nil, err
	}
	return user, nil
}

// IsAdmin reports whether the identity holds admin capability.
func IsAdmin(u *models.User) bool {
	return u.IsAdmin()
}

type ctxKey struct{}

// WithUser stores the caller in ctx.
func WithUser(ctx context.Context, u *models.User) context.Context {
	return context.WithValue(ctx, ctxKey{}, u)
}

// UserFromContext returns the caller stored by WithUser.
func UserFromContext(ctx context.Context) (*models.User, bool) {
	u, ok := ctx.Value(ctxKey{}).(*models.User)
	return u, ok && u != nil
}
