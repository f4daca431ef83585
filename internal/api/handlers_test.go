package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/amillerrr/movie-catalog/internal/catalog"
	"github.com/amillerrr/movie-catalog/internal/config"
	"github.com/amillerrr/movie-catalog/internal/health"
	"github.com/amillerrr/movie-catalog/internal/identity"
	"github.com/amillerrr/movie-catalog/internal/pipeline"
	"github.com/amillerrr/movie-catalog/pkg/models"
)

type fakeUploader struct {
	authorizeErr error
	err          error
	calls        int
	got          pipeline.Upload
	gotBody      string
	kind         string
}

func (f *fakeUploader) Authorize(caller *models.User) error {
	if !caller.IsAdmin() {
		return models.ErrForbidden
	}
	return f.authorizeErr
}

func (f *fakeUploader) run(kind string, movieID int64, up pipeline.Upload) (*pipeline.Result, error) {
	f.calls++
	f.kind = kind
	f.got = up
	body, err := io.ReadAll(up.Body)
	f.gotBody = string(body)
	if err != nil {
		return nil, fmt.Errorf("failed to write source file: %w", err)
	}
	if f.err != nil {
		return nil, f.err
	}
	url := fmt.Sprintf("res.cloudinary.com/demo/raw/upload/movies/%d/%s/clip.m3u8", movieID, kind)
	return &pipeline.Result{
		URL:      url,
		Filename: "clip.m3u8",
		Movie:    &models.Movie{ID: movieID, Title: "Sample", VideoURL: &url},
	}, nil
}

func (f *fakeUploader) HandleUpload(ctx context.Context, movieID int64, caller *models.User, up pipeline.Upload) (*pipeline.Result, error) {
	return f.run("video", movieID, up)
}

func (f *fakeUploader) HandleThumbnailUpload(ctx context.Context, movieID int64, caller *models.User, up pipeline.Upload) (*pipeline.Result, error) {
	return f.run("thumbnail", movieID, up)
}

func (f *fakeUploader) HandleTrailerUpload(ctx context.Context, movieID int64, caller *models.User, up pipeline.Upload) (*pipeline.Result, error) {
	return f.run("trailer", movieID, up)
}

type testServer struct {
	handler    http.Handler
	store      *catalog.MemoryStore
	tokens     *identity.TokenService
	uploader   *fakeUploader
	adminToken string
	userToken  string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	log := slog.New(slog.NewJSONHandler(io.Discard, nil))

	cfg := &config.Config{
		API: config.APIConfig{
			Port:           "0",
			MaxUploadBytes: 1 << 16,
		},
		CORS: config.CORSConfig{AllowedOrigins: []string{"http://localhost:5173"}},
	}

	tokens, err := identity.NewTokenService([]byte("test-secret-that-is-long-enough-for-testing"), time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	store := catalog.NewMemoryStore()
	ids := identity.NewService(store, tokens, identity.CookieConfig{Name: "access_token", SameSite: "lax"}, log)
	limiter := identity.NewLoginLimiter(identity.LimiterConfig{MaxFailures: 2, Window: time.Minute, CleanupInterval: time.Hour})
	t.Cleanup(limiter.Stop)

	uploader := &fakeUploader{}
	ts := &testServer{
		handler: NewRouter(&ServerConfig{
			Config:        cfg,
			Logger:        log,
			Identity:      ids,
			Limiter:       limiter,
			Movies:        store,
			Uploader:      uploader,
			HealthChecker: health.NewChecker(health.DefaultConfig("test", log)),
		}),
		store:    store,
		tokens:   tokens,
		uploader: uploader,
	}

	ctx := context.Background()
	admin, err := store.CreateUser(ctx, &models.User{Email: "admin@example.com", Name: "Admin"})
	if err != nil {
		t.Fatal(err)
	}
	if err := store.SetUserRole(ctx, admin.ID, models.RoleAdmin); err != nil {
		t.Fatal(err)
	}
	user, err := store.CreateUser(ctx, &models.User{Email: "user@example.com", Name: "User"})
	if err != nil {
		t.Fatal(err)
	}
	ts.adminToken, _ = tokens.GenerateToken(admin.ID)
	ts.userToken, _ = tokens.GenerateToken(user.ID)
	return ts
}

func (ts *testServer) do(method, target, token string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, body)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rr := httptest.NewRecorder()
	ts.handler.ServeHTTP(rr, req)
	return rr
}

func (ts *testServer) doJSON(method, target, token string, payload any) *httptest.ResponseRecorder {
	var body io.Reader
	if payload != nil {
		b, _ := json.Marshal(payload)
		body = bytes.NewReader(b)
	}
	return ts.do(method, target, token, body, "application/json")
}

func (ts *testServer) seedMovie(t *testing.T, title string) *models.Movie {
	t.Helper()
	m, err := ts.store.CreateMovie(context.Background(), &models.MovieInput{Title: title, Genre: models.GenreDrama})
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error envelope: %v (body %s)", err, rr.Body.String())
	}
	return resp
}

func multipartBody(t *testing.T, field, filename, contentType, content string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("note", "ignored")
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, field, filename))
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = part.Write([]byte(content))
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf, mw.FormDataContentType()
}

func TestRoot(t *testing.T) {
	ts := newTestServer(t)
	rr := ts.do(http.MethodGet, "/", "", nil, "")

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "server is running") {
		t.Errorf("body = %s", rr.Body.String())
	}
	if rr.Header().Get(RequestIDHeader) == "" {
		t.Error("request id header missing")
	}
}

func TestAuthFlow(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.doJSON(http.MethodPost, "/auth/signup", "", map[string]string{
		"email": "new@example.com", "name": "New", "password": "secret1",
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("signup status = %d body %s", rr.Code, rr.Body.String())
	}
	var auth AuthResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &auth); err != nil {
		t.Fatal(err)
	}
	if auth.TokenType != "bearer" || auth.AccessToken == "" || auth.Message != "Account created successfully" {
		t.Errorf("signup response = %+v", auth)
	}
	if strings.Contains(rr.Body.String(), "password") {
		t.Error("signup response leaks password hash")
	}
	if len(rr.Result().Cookies()) != 1 {
		t.Error("signup did not set the session cookie")
	}

	rr = ts.doJSON(http.MethodPost, "/auth/signup", "", map[string]string{
		"email": "new@example.com", "name": "New", "password": "secret1",
	})
	if rr.Code != http.StatusBadRequest || decodeError(t, rr).Error.Message != "Email already registered" {
		t.Errorf("duplicate signup = %d %s", rr.Code, rr.Body.String())
	}

	rr = ts.doJSON(http.MethodPost, "/auth/signup", "", map[string]string{
		"email": "bad", "name": "", "password": "123",
	})
	if rr.Code != http.StatusUnprocessableEntity || len(decodeError(t, rr).Details) != 3 {
		t.Errorf("invalid signup = %d %s", rr.Code, rr.Body.String())
	}

	rr = ts.doJSON(http.MethodPost, "/auth/login", "", map[string]string{
		"email": "new@example.com", "password": "secret1",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("login status = %d", rr.Code)
	}
	cookie := rr.Result().Cookies()[0]

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.AddCookie(cookie)
	me := httptest.NewRecorder()
	ts.handler.ServeHTTP(me, req)
	if me.Code != http.StatusOK || !strings.Contains(me.Body.String(), "new@example.com") {
		t.Errorf("me = %d %s", me.Code, me.Body.String())
	}

	rr = ts.do(http.MethodPost, "/auth/logout", "", nil, "")
	if rr.Code != http.StatusNoContent {
		t.Errorf("logout status = %d", rr.Code)
	}
	if c := rr.Result().Cookies(); len(c) != 1 || c[0].MaxAge >= 0 {
		t.Errorf("logout cookies = %+v", c)
	}
}

func TestMe_Unauthenticated(t *testing.T) {
	ts := newTestServer(t)
	ghost, _ := ts.tokens.GenerateToken(999)

	tests := []struct {
		name    string
		token   string
		message string
	}{
		{"no token", "", "Not authenticated"},
		{"bad token", "garbage", "Invalid token"},
		{"unknown user", ghost, "User not found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := ts.do(http.MethodGet, "/auth/me", tt.token, nil, "")
			if rr.Code != http.StatusUnauthorized {
				t.Fatalf("status = %d", rr.Code)
			}
			resp := decodeError(t, rr)
			if resp.Error.Message != tt.message || resp.Error.Code != "401" || resp.Path != "/auth/me" {
				t.Errorf("envelope = %+v", resp)
			}
		})
	}
}

func TestLogin_RateLimited(t *testing.T) {
	ts := newTestServer(t)
	creds := map[string]string{"email": "admin@example.com", "password": "wrong-password"}

	for i := 0; i < 2; i++ {
		if rr := ts.doJSON(http.MethodPost, "/auth/login", "", creds); rr.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d status = %d", i, rr.Code)
		}
	}

	rr := ts.doJSON(http.MethodPost, "/auth/login", "", creds)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rr.Code)
	}
	if rr.Header().Get("Retry-After") == "" {
		t.Error("Retry-After missing")
	}
}

func TestCreateMovie(t *testing.T) {
	ts := newTestServer(t)
	valid := map[string]any{"title": "Heat", "genre": "Crime", "release_year": 1995, "rating": 4.5}

	tests := []struct {
		name       string
		token      func(*testServer) string
		payload    any
		wantStatus int
	}{
		{"anonymous", func(*testServer) string { return "" }, valid, http.StatusUnauthorized},
		{"non-admin", func(ts *testServer) string { return ts.userToken }, valid, http.StatusForbidden},
		{"admin", func(ts *testServer) string { return ts.adminToken }, valid, http.StatusCreated},
		{"duplicate title", func(ts *testServer) string { return ts.adminToken }, valid, http.StatusConflict},
		{"invalid fields", func(ts *testServer) string { return ts.adminToken },
			map[string]any{"title": "", "genre": "Western", "rating": 9}, http.StatusUnprocessableEntity},
		{"wrong type", func(ts *testServer) string { return ts.adminToken },
			map[string]any{"title": "X", "genre": "Drama", "rating": "high"}, http.StatusUnprocessableEntity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := ts.doJSON(http.MethodPost, "/movies", tt.token(ts), tt.payload)
			if rr.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d (body %s)", rr.Code, tt.wantStatus, rr.Body.String())
			}
		})
	}

	rr := ts.doJSON(http.MethodPost, "/movies", ts.adminToken, map[string]any{"title": "", "genre": "Western", "rating": 9})
	if got := len(decodeError(t, rr).Details); got != 3 {
		t.Errorf("details = %d, want 3", got)
	}
}

func TestUpdateMovie(t *testing.T) {
	ts := newTestServer(t)
	heat := ts.seedMovie(t, "Heat")
	ts.seedMovie(t, "Alien")

	rr := ts.doJSON(http.MethodPut, fmt.Sprintf("/movies/%d", heat.ID), ts.adminToken, map[string]any{"rating": 4.9, "title": nil})
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d body %s", rr.Code, rr.Body.String())
	}
	var resp UpdateMovieResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Message != "Movie updated successfully" || resp.Movie.Title != "Heat" || *resp.Movie.Rating != 4.9 {
		t.Errorf("response = %+v", resp)
	}

	tests := []struct {
		name       string
		target     string
		payload    any
		wantStatus int
	}{
		{"missing movie", "/movies/999", map[string]any{"rating": 1}, http.StatusNotFound},
		{"title conflict", fmt.Sprintf("/movies/%d", heat.ID), map[string]any{"title": "Alien"}, http.StatusConflict},
		{"bad id", "/movies/abc", map[string]any{"rating": 1}, http.StatusUnprocessableEntity},
		{"invalid rating", fmt.Sprintf("/movies/%d", heat.ID), map[string]any{"rating": -1}, http.StatusUnprocessableEntity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := ts.doJSON(http.MethodPut, tt.target, ts.adminToken, tt.payload)
			if rr.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d (body %s)", rr.Code, tt.wantStatus, rr.Body.String())
			}
		})
	}
}

func TestGetAndListMovies(t *testing.T) {
	ts := newTestServer(t)
	heat := ts.seedMovie(t, "Heat")
	ts.seedMovie(t, "Heathers")
	ts.seedMovie(t, "Alien")

	rr := ts.do(http.MethodGet, fmt.Sprintf("/movies/%d", heat.ID), "", nil, "")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"title":"Heat"`) {
		t.Errorf("get = %d %s", rr.Code, rr.Body.String())
	}
	if rr := ts.do(http.MethodGet, "/movies/404", "", nil, ""); rr.Code != http.StatusNotFound {
		t.Errorf("get missing = %d", rr.Code)
	}

	tests := []struct {
		name       string
		query      string
		wantStatus int
		wantCount  int
	}{
		{"all", "", http.StatusOK, 3},
		{"search", "?q=heat", http.StatusOK, 2},
		{"paged", "?limit=1&offset=1&order=title", http.StatusOK, 1},
		{"genre", "?genre=Drama", http.StatusOK, 3},
		{"premium only", "?is_premium=true", http.StatusOK, 0},
		{"bad limit", "?limit=500", http.StatusUnprocessableEntity, 0},
		{"bad genre", "?genre=Western", http.StatusUnprocessableEntity, 0},
		{"bad order", "?order=random", http.StatusUnprocessableEntity, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := ts.do(http.MethodGet, "/movies"+tt.query, "", nil, "")
			if rr.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rr.Code, tt.wantStatus)
			}
			if tt.wantStatus != http.StatusOK {
				return
			}
			var movies []models.Movie
			if err := json.Unmarshal(rr.Body.Bytes(), &movies); err != nil {
				t.Fatal(err)
			}
			if len(movies) != tt.wantCount {
				t.Errorf("count = %d, want %d", len(movies), tt.wantCount)
			}
		})
	}
}

type countingReader struct {
	r     io.Reader
	reads int
}

func (c *countingReader) Read(p []byte) (int, error) {
	c.reads++
	return c.r.Read(p)
}

func TestUploadVideo(t *testing.T) {
	ts := newTestServer(t)
	movie := ts.seedMovie(t, "Sample")
	target := fmt.Sprintf("/movies/%d/upload-video", movie.ID)

	body, ct := multipartBody(t, "file", "clip.mp4", "video/mp4", "frames")
	rr := ts.do(http.MethodPost, target, ts.adminToken, body, ct)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d body %s", rr.Code, rr.Body.String())
	}

	var resp VideoUploadResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.PlaylistFilename != "clip.m3u8" || !strings.HasSuffix(resp.VideoURL, "/clip.m3u8") || resp.Movie == nil {
		t.Errorf("response = %+v", resp)
	}
	if ts.uploader.got.Filename != "clip.mp4" || ts.uploader.got.ContentType != "video/mp4" || ts.uploader.gotBody != "frames" {
		t.Errorf("upload = %+v body %q", ts.uploader.got, ts.uploader.gotBody)
	}
}

func TestUpload_ThumbnailAndTrailer(t *testing.T) {
	ts := newTestServer(t)
	movie := ts.seedMovie(t, "Sample")

	for _, kind := range []string{"thumbnail", "trailer"} {
		t.Run(kind, func(t *testing.T) {
			body, ct := multipartBody(t, "file", "poster.jpg", "image/jpeg", "pixels")
			rr := ts.do(http.MethodPost, fmt.Sprintf("/movies/%d/upload-%s", movie.ID, kind), ts.adminToken, body, ct)
			if rr.Code != http.StatusOK {
				t.Fatalf("status = %d", rr.Code)
			}
			if ts.uploader.kind != kind {
				t.Errorf("routed to %q", ts.uploader.kind)
			}
			var resp map[string]json.RawMessage
			_ = json.Unmarshal(rr.Body.Bytes(), &resp)
			if _, ok := resp["movie"]; !ok || len(resp) != 1 {
				t.Errorf("response keys = %v", resp)
			}
		})
	}
}

func TestUpload_Failures(t *testing.T) {
	tests := []struct {
		name         string
		token        func(*testServer) string
		authorizeErr error
		err          error
		wantStatus   int
		wantCode     string
	}{
		{"anonymous", func(*testServer) string { return "" }, nil, nil, http.StatusUnauthorized, "401"},
		{"non-admin", func(ts *testServer) string { return ts.userToken }, nil, nil, http.StatusForbidden, "403"},
		{"store not configured", func(ts *testServer) string { return ts.adminToken }, models.ErrStoreNotConfigured, nil, http.StatusInternalServerError, CodeStoreNotConfigured},
		{"engine missing", func(ts *testServer) string { return ts.adminToken }, nil, fmt.Errorf("%w: ffmpeg: not found", models.ErrEngineNotAvailable), http.StatusInternalServerError, CodeEngineNotAvailable},
		{"transcode failed", func(ts *testServer) string { return ts.adminToken }, nil, fmt.Errorf("%w: exit 1", models.ErrTranscodeFailed), http.StatusInternalServerError, CodeTranscodeFailed},
		{"publish failed", func(ts *testServer) string { return ts.adminToken }, nil, fmt.Errorf("%w: timeout", models.ErrPublishFailed), http.StatusBadGateway, CodePublishFailed},
		{"movie vanished", func(ts *testServer) string { return ts.adminToken }, nil, models.ErrNotFound, http.StatusNotFound, "404"},
		{"wrong media type", func(ts *testServer) string { return ts.adminToken }, nil, models.ErrInvalidMediaType, http.StatusUnsupportedMediaType, "415"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)
			ts.uploader.authorizeErr = tt.authorizeErr
			ts.uploader.err = tt.err

			raw, ct := multipartBody(t, "file", "clip.mp4", "video/mp4", "frames")
			body := &countingReader{r: raw}
			rr := ts.do(http.MethodPost, "/movies/1/upload-video", tt.token(ts), body, ct)

			if rr.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", rr.Code, tt.wantStatus, rr.Body.String())
			}
			resp := decodeError(t, rr)
			if resp.Error.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", resp.Error.Code, tt.wantCode)
			}
			if strings.Contains(resp.Error.Message, "ffmpeg") || strings.Contains(resp.Error.Message, "timeout") {
				t.Errorf("message leaks internals: %q", resp.Error.Message)
			}
			if tt.err == nil && body.reads != 0 {
				t.Errorf("body read %d times before authorization failed", body.reads)
			}
		})
	}
}

func TestUpload_BadRequests(t *testing.T) {
	ts := newTestServer(t)

	body, ct := multipartBody(t, "attachment", "clip.mp4", "video/mp4", "frames")
	rr := ts.do(http.MethodPost, "/movies/1/upload-video", ts.adminToken, body, ct)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Errorf("missing file field = %d", rr.Code)
	}

	rr = ts.do(http.MethodPost, "/movies/1/upload-video", ts.adminToken, strings.NewReader("{}"), "application/json")
	if rr.Code != http.StatusUnprocessableEntity {
		t.Errorf("non-multipart body = %d", rr.Code)
	}

	rr = ts.do(http.MethodPost, "/movies/0/upload-video", ts.adminToken, strings.NewReader(""), "")
	if rr.Code != http.StatusUnprocessableEntity {
		t.Errorf("bad id = %d", rr.Code)
	}

	if ts.uploader.calls != 0 {
		t.Errorf("uploader ran %d times", ts.uploader.calls)
	}
}

func TestUpload_TooLarge(t *testing.T) {
	ts := newTestServer(t)
	big := strings.Repeat("x", 1<<17)
	body, ct := multipartBody(t, "file", "clip.mp4", "video/mp4", big)

	rr := ts.do(http.MethodPost, "/movies/1/upload-video", ts.adminToken, body, ct)

	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413 (body %s)", rr.Code, rr.Body.String())
	}
	if len(ts.uploader.gotBody) >= len(big) {
		t.Errorf("read %d bytes past the cap", len(ts.uploader.gotBody))
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"wrapped forbidden", fmt.Errorf("upload: %w", models.ErrForbidden), http.StatusForbidden, "403"},
		{"title taken", models.ErrTitleTaken, http.StatusConflict, "409"},
		{"email taken", models.ErrEmailTaken, http.StatusBadRequest, "400"},
		{"empty upload", models.ErrEmptyUpload, http.StatusBadRequest, "400"},
		{"credentials", models.ErrInvalidCredentials, http.StatusUnauthorized, "401"},
		{"too large", fmt.Errorf("write: %w", &http.MaxBytesError{Limit: 10}), http.StatusRequestEntityTooLarge, "413"},
		{"unknown", fmt.Errorf("pool closed"), http.StatusInternalServerError, CodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, code, msg := classify(tt.err)
			if status != tt.wantStatus || code != tt.wantCode {
				t.Errorf("classify() = %d %q, want %d %q", status, code, tt.wantStatus, tt.wantCode)
			}
			if msg == "" || strings.Contains(msg, "pool") {
				t.Errorf("message = %q", msg)
			}
		})
	}
}
