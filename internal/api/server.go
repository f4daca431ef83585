// Package api provides the HTTP surface of the movie catalog.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/amillerrr/movie-catalog/internal/catalog"
	"github.com/amillerrr/movie-catalog/internal/config"
	"github.com/amillerrr/movie-catalog/internal/health"
	"github.com/amillerrr/movie-catalog/internal/identity"
)

// Server configuration constants. Reads and writes are long because a video
// upload is received and transcoded within one request.
const (
	ReadHeaderTimeout = 10 * time.Second
	WriteTimeout      = 60 * time.Minute
	IdleTimeout       = 120 * time.Second
	MaxHeaderBytes    = 1 << 20 // 1 MB
)

// Server represents the HTTP server for the API.
type Server struct {
	httpServer *http.Server
	cfg        *config.Config
	log        *slog.Logger
	limiter    *identity.LoginLimiter
}

// ServerConfig holds dependencies for the server.
type ServerConfig struct {
	Config        *config.Config
	Logger        *slog.Logger
	Identity      *identity.Service
	Limiter       *identity.LoginLimiter
	Movies        catalog.MovieStore
	Uploader      Uploader
	HealthChecker *health.Checker
}

// NewServer creates a new API server.
func NewServer(cfg *ServerConfig) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:              ":" + cfg.Config.API.Port,
			Handler:           NewRouter(cfg),
			ReadHeaderTimeout: ReadHeaderTimeout,
			WriteTimeout:      WriteTimeout,
			IdleTimeout:       IdleTimeout,
			MaxHeaderBytes:    MaxHeaderBytes,
		},
		cfg:     cfg.Config,
		log:     cfg.Logger,
		limiter: cfg.Limiter,
	}
}

// NewRouter builds the routed, middleware-wrapped handler.
func NewRouter(cfg *ServerConfig) http.Handler {
	h := NewHandlers(&HandlersConfig{
		Config:   cfg.Config,
		Logger:   cfg.Logger,
		Identity: cfg.Identity,
		Limiter:  cfg.Limiter,
		Movies:   cfg.Movies,
		Uploader: cfg.Uploader,
	})

	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", h.Root)
	mux.HandleFunc("GET /health", cfg.HealthChecker.Handler())
	mux.HandleFunc("GET /health/deep", cfg.HealthChecker.DeepHandler())
	mux.Handle("GET /metrics", internalOnlyMiddleware(promhttp.Handler()))

	mux.HandleFunc("POST /auth/signup", h.Signup)
	mux.HandleFunc("POST /auth/login", h.Login)
	mux.HandleFunc("POST /auth/logout", h.Logout)
	mux.HandleFunc("GET /auth/me", h.Me)

	mux.HandleFunc("GET /movies", h.ListMovies)
	mux.HandleFunc("POST /movies", h.CreateMovie)
	mux.HandleFunc("GET /movies/{id}", h.GetMovie)
	mux.HandleFunc("PUT /movies/{id}", h.UpdateMovie)
	mux.HandleFunc("POST /movies/{id}/upload-video", h.UploadVideo)
	mux.HandleFunc("POST /movies/{id}/upload-thumbnail", h.UploadThumbnail)
	mux.HandleFunc("POST /movies/{id}/upload-trailer", h.UploadTrailer)

	var handler http.Handler = mux
	handler = CORSMiddleware(cfg.Config.CORS.AllowedOrigins)(handler)
	handler = RecoverMiddleware(cfg.Logger)(handler)
	handler = LoggingMiddleware(cfg.Logger)(handler)
	handler = RequestIDMiddleware(handler)
	return handler
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.log.Info("Starting API server", "port", s.cfg.API.Port)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server. In-flight uploads run to
// completion unless ctx expires first.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("Shutting down API server...")

	if s.limiter != nil {
		s.limiter.Stop()
	}

	return s.httpServer.Shutdown(ctx)
}

var privateNetworks = []net.IPNet{
	{IP: net.ParseIP("10.0.0.0"), Mask: net.CIDRMask(8, 32)},
	{IP: net.ParseIP("172.16.0.0"), Mask: net.CIDRMask(12, 32)},
	{IP: net.ParseIP("192.168.0.0"), Mask: net.CIDRMask(16, 32)},
	{IP: net.ParseIP("127.0.0.0"), Mask: net.CIDRMask(8, 32)},
}

// internalOnlyMiddleware restricts access to internal networks.
func internalOnlyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Proxied requests came through the load balancer
		if r.Header.Get("X-Forwarded-For") != "" || !isInternalRequest(r.RemoteAddr) {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// isInternalRequest checks if the request is from an internal network.
func isInternalRequest(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return false
	}

	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}

	for _, network := range privateNetworks {
		if network.Contains(ip) {
			return true
		}
	}
	return ip.IsLoopback()
}
