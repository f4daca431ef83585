package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Environment   string
	API           APIConfig
	Store         StoreConfig
	MediaStore    MediaStoreConfig
	Media         MediaConfig
	Events        EventsConfig
	Observability ObservabilityConfig
	CORS          CORSConfig
}

// APIConfig holds API server and session configuration.
type APIConfig struct {
	Port           string
	JWTSecret      string
	JWTAlgorithm   string
	AccessTokenTTL time.Duration
	CookieName     string
	CookieSecure   bool
	CookieSameSite string
	MaxUploadBytes int64
	TrustProxy     bool
	ServiceName    string
	ServiceVersion string
}

// StoreConfig selects and configures the catalog record store.
type StoreConfig struct {
	Backend       string
	DatabaseURL   string
	DynamoDBTable string
	Region        string
}

// MediaStoreConfig is the remote content store configuration. It is read once
// at startup and handed to the publisher as an immutable value.
type MediaStoreConfig struct {
	Backend      string
	Account      string
	APIKey       string
	APISecret    string
	BucketURL    string
	DeliveryHost string
	Namespace    string
}

// MediaConfig holds upload pipeline configuration.
type MediaConfig struct {
	SegmentSeconds    int
	FFmpegPath        string
	UploadConcurrency int
	OrphanCleanup     bool
	LockBackend       string
	RedisAddr         string
	TempDir           string
}

// EventsConfig holds media notification configuration.
type EventsConfig struct {
	QueueURL string
}

// ObservabilityConfig holds observability configuration.
type ObservabilityConfig struct {
	OTLPEndpoint string
	TracingOn    bool
	LogLevel     string
}

// CORSConfig holds CORS configuration.
type CORSConfig struct {
	AllowedOrigins []string
}

// Store and media backends.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreDynamoDB = "dynamodb"

	MediaBackendCloudinary = "cloudinary"
	MediaBackendBlob       = "blob"

	LockLocal = "local"
	LockRedis = "redis"
)

// Default values
const (
	DefaultPort              = "8000"
	DefaultRegion            = "us-west-2"
	DefaultOTLPEndpoint      = "localhost:4317"
	DefaultAccessTokenTTL    = 7 * 24 * time.Hour
	DefaultCookieName        = "access_token"
	DefaultMaxUploadBytes    = 2 << 30 // 2 GiB
	DefaultSegmentSeconds    = 6
	DefaultDeliveryHost      = "res.cloudinary.com"
	DefaultNamespace         = "movies"
	DefaultUploadConcurrency = 1
	DevJWTSecret             = "CHANGE_ME_DEV_ONLY_SECRET"
)

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Environment: getEnv("ENV", "dev"),
		API: APIConfig{
			Port:           getEnv("PORT", DefaultPort),
			JWTSecret:      os.Getenv("JWT_SECRET"),
			JWTAlgorithm:   getEnv("JWT_ALGORITHM", "HS256"),
			AccessTokenTTL: time.Duration(getEnvInt("ACCESS_TOKEN_EXPIRE_MINUTES", int(DefaultAccessTokenTTL/time.Minute))) * time.Minute,
			CookieName:     getEnv("JWT_COOKIE_NAME", DefaultCookieName),
			CookieSecure:   getEnvBool("JWT_COOKIE_SECURE", true),
			CookieSameSite: strings.ToLower(getEnv("JWT_COOKIE_SAMESITE", "none")),
			MaxUploadBytes: getEnvInt64("MAX_UPLOAD_BYTES", DefaultMaxUploadBytes),
			TrustProxy:     getEnvBool("TRUST_PROXY", false),
			ServiceName:    getEnv("SERVICE_NAME", "movie-catalog"),
			ServiceVersion: getEnv("SERVICE_VERSION", "dev"),
		},
		Store: StoreConfig{
			Backend:       strings.ToLower(getEnv("STORE_BACKEND", StoreMemory)),
			DatabaseURL:   os.Getenv("DATABASE_URL"),
			DynamoDBTable: os.Getenv("DYNAMODB_TABLE"),
			Region:        getEnv("AWS_REGION", DefaultRegion),
		},
		MediaStore: MediaStoreConfig{
			Backend:      strings.ToLower(getEnv("MEDIA_STORE_BACKEND", MediaBackendCloudinary)),
			Account:      getEnvFirst("MEDIA_STORE_ACCOUNT", "CLOUDINARY_CLOUD_NAME"),
			APIKey:       getEnvFirst("MEDIA_STORE_API_KEY", "CLOUDINARY_API_KEY"),
			APISecret:    getEnvFirst("MEDIA_STORE_API_SECRET", "CLOUDINARY_API_SECRET"),
			BucketURL:    os.Getenv("MEDIA_STORE_BUCKET_URL"),
			DeliveryHost: getEnv("MEDIA_STORE_DELIVERY_HOST", DefaultDeliveryHost),
			Namespace:    getEnv("MEDIA_NAMESPACE", DefaultNamespace),
		},
		Media: MediaConfig{
			SegmentSeconds:    getEnvInt("SEGMENT_SECONDS", DefaultSegmentSeconds),
			FFmpegPath:        getEnv("FFMPEG_PATH", "ffmpeg"),
			UploadConcurrency: getEnvInt("UPLOAD_CONCURRENCY", DefaultUploadConcurrency),
			OrphanCleanup:     getEnvBool("ORPHAN_CLEANUP", true),
			LockBackend:       strings.ToLower(getEnv("MOVIE_LOCK_BACKEND", LockLocal)),
			RedisAddr:         os.Getenv("REDIS_ADDR"),
			TempDir:           os.Getenv("TEMP_DIR"),
		},
		Events: EventsConfig{
			QueueURL: os.Getenv("MEDIA_EVENTS_QUEUE_URL"),
		},
		Observability: ObservabilityConfig{
			OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", DefaultOTLPEndpoint),
			TracingOn:    getEnvBool("OTEL_ENABLED", false),
			LogLevel:     getEnv("LOG_LEVEL", "info"),
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnvSlice("CORS_ALLOWED_ORIGINS", []string{
				"http://localhost:5173",
			}),
		},
	}

	return cfg, nil
}

// LoadAPI loads configuration required for the API service.
func LoadAPI() (*Config, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}

	if err := cfg.ValidateAPI(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ValidateAPI validates configuration required for the API service.
// An incomplete media store is not an error here; uploads report it per request.
func (c *Config) ValidateAPI() error {
	var errs []string

	switch c.Store.Backend {
	case StoreMemory:
		if c.IsProduction() {
			errs = append(errs, "STORE_BACKEND=memory is not allowed in production")
		}
	case StorePostgres:
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "DATABASE_URL is required for the postgres store")
		}
	case StoreDynamoDB:
		if c.Store.DynamoDBTable == "" {
			errs = append(errs, "DYNAMODB_TABLE is required for the dynamodb store")
		}
	default:
		errs = append(errs, fmt.Sprintf("unknown STORE_BACKEND %q", c.Store.Backend))
	}

	switch c.MediaStore.Backend {
	case MediaBackendCloudinary, MediaBackendBlob:
	default:
		errs = append(errs, fmt.Sprintf("unknown MEDIA_STORE_BACKEND %q", c.MediaStore.Backend))
	}

	switch c.Media.LockBackend {
	case LockLocal:
	case LockRedis:
		if c.Media.RedisAddr == "" {
			errs = append(errs, "REDIS_ADDR is required for the redis lock backend")
		}
	default:
		errs = append(errs, fmt.Sprintf("unknown MOVIE_LOCK_BACKEND %q", c.Media.LockBackend))
	}

	if c.API.JWTAlgorithm != "HS256" {
		errs = append(errs, "JWT_ALGORITHM must be HS256")
	}

	switch c.API.CookieSameSite {
	case "lax", "strict", "none":
	default:
		errs = append(errs, "JWT_COOKIE_SAMESITE must be lax, strict or none")
	}

	// In production, require an explicit signing secret
	if c.IsProduction() {
		if c.API.JWTSecret == "" {
			errs = append(errs, "JWT_SECRET is required in production")
		} else if len(c.API.JWTSecret) < 32 {
			errs = append(errs, "JWT_SECRET must be at least 32 characters in production")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// IsProduction returns true if running in production environment.
func (c *Config) IsProduction() bool {
	env := strings.ToLower(c.Environment)
	return env == "prod" || env == "production"
}

// GetJWTSecret returns the JWT secret with fallback for development.
func (c *Config) GetJWTSecret() ([]byte, error) {
	secret := c.API.JWTSecret

	if secret == "" {
		if c.IsProduction() {
			return nil, errors.New("JWT_SECRET not configured")
		}
		return []byte(DevJWTSecret), nil
	}

	if len(secret) < 32 && c.IsProduction() {
		return nil, errors.New("JWT_SECRET must be at least 32 characters")
	}

	return []byte(secret), nil
}

// Complete reports whether the three store credentials are present.
func (m MediaStoreConfig) Complete() bool {
	return m.Account != "" && m.APIKey != "" && m.APISecret != ""
}

// Configured reports whether the selected backend has what it needs to publish.
// Blob backends take credentials from the ambient cloud SDK chain.
func (m MediaStoreConfig) Configured() bool {
	if m.Backend == MediaBackendBlob {
		return m.BucketURL != "" && m.Account != ""
	}
	return m.Complete()
}

// Missing lists the unset credential variables.
func (m MediaStoreConfig) Missing() []string {
	var missing []string
	if m.Account == "" {
		missing = append(missing, "MEDIA_STORE_ACCOUNT")
	}
	if m.APIKey == "" {
		missing = append(missing, "MEDIA_STORE_API_KEY")
	}
	if m.APISecret == "" {
		missing = append(missing, "MEDIA_STORE_API_SECRET")
	}
	return missing
}

// StoreRoot is the host and account prefix playback URLs are built on.
func (m MediaStoreConfig) StoreRoot() string {
	return strings.TrimSuffix(m.DeliveryHost, "/") + "/" + m.Account
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFirst(keys ...string) string {
	for _, key := range keys {
		if value := os.Getenv(key); value != "" {
			return value
		}
	}
	return ""
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil && intVal > 0 {
			return intVal
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil && intVal > 0 {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultValue
}
