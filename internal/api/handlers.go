package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/amillerrr/movie-catalog/internal/catalog"
	"github.com/amillerrr/movie-catalog/internal/config"
	"github.com/amillerrr/movie-catalog/internal/identity"
	"github.com/amillerrr/movie-catalog/internal/metrics"
	"github.com/amillerrr/movie-catalog/pkg/models"
)

var tracer = otel.Tracer("catalog-api")

// MaxRequestBodySize caps JSON request bodies.
const MaxRequestBodySize = 1 << 20 // 1 MB

// Handlers contains all HTTP handlers for the API.
type Handlers struct {
	cfg      *config.Config
	log      *slog.Logger
	identity *identity.Service
	limiter  *identity.LoginLimiter
	movies   catalog.MovieStore
	uploader Uploader
}

// HandlersConfig holds dependencies for handlers.
type HandlersConfig struct {
	Config   *config.Config
	Logger   *slog.Logger
	Identity *identity.Service
	Limiter  *identity.LoginLimiter
	Movies   catalog.MovieStore
	Uploader Uploader
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(cfg *HandlersConfig) *Handlers {
	return &Handlers{
		cfg:      cfg.Config,
		log:      cfg.Logger,
		identity: cfg.Identity,
		limiter:  cfg.Limiter,
		movies:   cfg.Movies,
		uploader: cfg.Uploader,
	}
}

func writeJSON(ctx context.Context, log *slog.Logger, w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.ErrorContext(ctx, "Failed to encode JSON response", "error", err)
	}
}

func (h *Handlers) writeJSON(ctx context.Context, w http.ResponseWriter, status int, data any) {
	writeJSON(ctx, h.log, w, status, data)
}

func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	writeError(r.Context(), h.log, w, r, err)
}

// decodeJSON reads a size-limited JSON body into dst. It writes the error
// response itself and reports whether decoding succeeded.
func (h *Handlers) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)

	err := json.NewDecoder(r.Body).Decode(dst)
	if err == nil {
		return true
	}

	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		h.writeError(w, r, err)
		return false
	}

	field, msg := "", "Invalid JSON body"
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		field, msg = typeErr.Field, "invalid type, expected "+typeErr.Type.String()
	}
	writeValidation(r.Context(), h.log, w, r, "body", []models.FieldError{{Field: field, Err: errors.New(msg)}})
	return false
}

// caller resolves the signed-in user, writing a 401 on failure.
func (h *Handlers) caller(w http.ResponseWriter, r *http.Request) (*models.User, bool) {
	user, err := h.identity.RequireCaller(r)
	if err != nil {
		metrics.AuthFailures.WithLabelValues(authFailureReason(err)).Inc()
		h.writeError(w, r, err)
		return nil, false
	}
	return user, true
}

// admin resolves the caller and requires the admin role.
func (h *Handlers) admin(w http.ResponseWriter, r *http.Request) (*models.User, bool) {
	user, ok := h.caller(w, r)
	if !ok {
		return nil, false
	}
	if !identity.IsAdmin(user) {
		metrics.AuthFailures.WithLabelValues("forbidden").Inc()
		h.writeError(w, r, models.ErrForbidden)
		return nil, false
	}
	return user, true
}

func authFailureReason(err error) string {
	switch {
	case errors.Is(err, identity.ErrMissingToken):
		return "missing_token"
	case errors.Is(err, models.ErrUserNotFound):
		return "unknown_user"
	case errors.Is(err, models.ErrUnauthenticated):
		return "invalid_token"
	default:
		return "error"
	}
}

// movieID parses the {id} path segment, writing a 422 when it is not a
// positive integer.
func (h *Handlers) movieID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeValidation(r.Context(), h.log, w, r, "path", []models.FieldError{
			{Field: "id", Err: errors.New("must be a positive integer")},
		})
		return 0, false
	}
	return id, true
}

// Root reports that the server is up.
func (h *Handlers) Root(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(r.Context(), w, http.StatusOK, map[string]string{
		"message": "Movie catalog server is running",
	})
}

// AuthResponse is returned by signup and login.
type AuthResponse struct {
	AccessToken string       `json:"access_token"`
	TokenType   string       `json:"token_type"`
	User        *models.User `json:"user"`
	IssuedAt    time.Time    `json:"issued_at"`
	Message     string       `json:"message"`
}

// LoginRequest is the login payload.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Signup registers a user and starts a session.
func (h *Handlers) Signup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var in models.SignupInput
	if !h.decodeJSON(w, r, &in) {
		return
	}
	if errs := in.Validate(); len(errs) > 0 {
		writeValidation(ctx, h.log, w, r, "body", errs)
		return
	}

	user, token, err := h.identity.Signup(ctx, in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.identity.Cookie().SetCookie(w, token)
	h.writeJSON(ctx, w, http.StatusCreated, AuthResponse{
		AccessToken: token,
		TokenType:   "bearer",
		User:        user,
		IssuedAt:    time.Now().UTC(),
		Message:     "Account created successfully",
	})
}

// Login checks credentials and starts a session. Clients are throttled
// after repeated failures.
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	clientIP := identity.ClientIP(r, h.cfg.API.TrustProxy)

	if h.limiter != nil && h.limiter.Blocked(clientIP) {
		metrics.AuthFailures.WithLabelValues("rate_limited").Inc()
		h.log.WarnContext(ctx, "Login rate limited", "ip", clientIP)
		w.Header().Set("Retry-After", strconv.Itoa(int(identity.DefaultFailureWindow.Seconds())))
		writeStatus(ctx, h.log, w, r, http.StatusTooManyRequests, "Too many failed login attempts")
		return
	}

	var req LoginRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	var errs []models.FieldError
	if !models.ValidEmail(strings.TrimSpace(req.Email)) {
		errs = append(errs, models.FieldError{Field: "email", Err: models.ErrInvalidEmail})
	}
	if req.Password == "" {
		errs = append(errs, models.FieldError{Field: "password", Err: errors.New("field required")})
	}
	if len(errs) > 0 {
		writeValidation(ctx, h.log, w, r, "body", errs)
		return
	}

	user, token, err := h.identity.Login(ctx, req.Email, req.Password)
	if err != nil {
		if errors.Is(err, models.ErrInvalidCredentials) {
			metrics.AuthFailures.WithLabelValues("invalid_credentials").Inc()
			if h.limiter != nil {
				h.limiter.Fail(clientIP)
			}
			h.log.WarnContext(ctx, "Failed login attempt", "ip", clientIP)
		}
		h.writeError(w, r, err)
		return
	}
	if h.limiter != nil {
		h.limiter.Succeed(clientIP)
	}

	h.log.InfoContext(ctx, "Successful login", "userId", user.ID, "ip", clientIP)
	h.identity.Cookie().SetCookie(w, token)
	h.writeJSON(ctx, w, http.StatusOK, AuthResponse{
		AccessToken: token,
		TokenType:   "bearer",
		User:        user,
		IssuedAt:    time.Now().UTC(),
		Message:     "Signed in successfully",
	})
}

// Logout clears the session cookie.
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	h.identity.Cookie().ClearCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

// Me returns the signed-in user.
func (h *Handlers) Me(w http.ResponseWriter, r *http.Request) {
	user, ok := h.caller(w, r)
	if !ok {
		return
	}
	h.writeJSON(r.Context(), w, http.StatusOK, user)
}

// CreateMovie adds a catalog record.
func (h *Handlers) CreateMovie(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := h.admin(w, r); !ok {
		return
	}

	var in models.MovieInput
	if !h.decodeJSON(w, r, &in) {
		return
	}
	if errs := in.Validate(); len(errs) > 0 {
		writeValidation(ctx, h.log, w, r, "body", errs)
		return
	}

	movie, err := h.movies.CreateMovie(ctx, &in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.log.InfoContext(ctx, "Movie created", "movieId", movie.ID, "title", movie.Title)
	h.writeJSON(ctx, w, http.StatusCreated, movie)
}

// UpdateMovieResponse is returned by UpdateMovie.
type UpdateMovieResponse struct {
	Message string        `json:"message"`
	Movie   *models.Movie `json:"movie"`
}

// UpdateMovie patches the fields present in the body.
func (h *Handlers) UpdateMovie(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := h.admin(w, r); !ok {
		return
	}
	id, ok := h.movieID(w, r)
	if !ok {
		return
	}

	var patch models.MoviePatch
	if !h.decodeJSON(w, r, &patch) {
		return
	}
	if errs := patch.Validate(); len(errs) > 0 {
		writeValidation(ctx, h.log, w, r, "body", errs)
		return
	}

	movie, err := h.movies.PatchMovie(ctx, id, patch)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(ctx, w, http.StatusOK, UpdateMovieResponse{
		Message: "Movie updated successfully",
		Movie:   movie,
	})
}

// GetMovie returns one movie.
func (h *Handlers) GetMovie(w http.ResponseWriter, r *http.Request) {
	id, ok := h.movieID(w, r)
	if !ok {
		return
	}

	movie, err := h.movies.GetMovie(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(r.Context(), w, http.StatusOK, movie)
}

// ListMovies returns a filtered page of movies.
func (h *Handlers) ListMovies(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "list-movies")
	defer span.End()

	filter, errs := parseFilter(r)
	if len(errs) > 0 {
		writeValidation(ctx, h.log, w, r, "query", errs)
		return
	}
	span.SetAttributes(
		attribute.Int("filter.limit", filter.Limit),
		attribute.Int("filter.offset", filter.Offset),
		attribute.String("filter.order", string(filter.Order)),
	)

	movies, err := h.movies.ListMovies(ctx, filter)
	if err != nil {
		span.RecordError(err)
		h.writeError(w, r, err)
		return
	}
	if movies == nil {
		movies = []*models.Movie{}
	}
	span.SetAttributes(attribute.Int("result.count", len(movies)))
	h.writeJSON(ctx, w, http.StatusOK, movies)
}

func parseFilter(r *http.Request) (models.MovieFilter, []models.FieldError) {
	q := r.URL.Query()
	var (
		filter models.MovieFilter
		errs   []models.FieldError
	)

	filter.Query = strings.TrimSpace(q.Get("q"))

	if v := q.Get("genre"); v != "" {
		g := models.Genre(v)
		if !g.IsValid() {
			errs = append(errs, models.FieldError{Field: "genre", Err: models.ErrInvalidGenre})
		}
		filter.Genre = &g
	}
	if v := q.Get("is_premium"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, models.FieldError{Field: "is_premium", Err: errors.New("must be a boolean")})
		}
		filter.IsPremium = &b
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > models.MaxListLimit {
			errs = append(errs, models.FieldError{Field: "limit", Err: errors.New("must be between 1 and 100")})
		}
		filter.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			errs = append(errs, models.FieldError{Field: "offset", Err: errors.New("must be a non-negative integer")})
		}
		filter.Offset = n
	}
	if v := q.Get("order"); v != "" {
		if !models.MovieOrders[models.MovieOrder(v)] {
			errs = append(errs, models.FieldError{Field: "order", Err: errors.New("unknown sort order")})
		}
		filter.Order = models.MovieOrder(v)
	}

	filter.Normalize()
	return filter, errs
}

// spanFromRequest starts a handler span tagged with the request id.
func spanFromRequest(r *http.Request, name string) (context.Context, trace.Span) {
	return tracer.Start(r.Context(), name, trace.WithAttributes(
		attribute.String("request.id", RequestIDFromContext(r.Context())),
	))
}
