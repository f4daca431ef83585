package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/joho/godotenv"
	"go.opentelemetry.io/contrib/instrumentation/github.com/aws/aws-sdk-go-v2/otelaws"

	"github.com/amillerrr/movie-catalog/internal/api"
	"github.com/amillerrr/movie-catalog/internal/catalog"
	"github.com/amillerrr/movie-catalog/internal/config"
	"github.com/amillerrr/movie-catalog/internal/events"
	"github.com/amillerrr/movie-catalog/internal/health"
	"github.com/amillerrr/movie-catalog/internal/identity"
	"github.com/amillerrr/movie-catalog/internal/logger"
	"github.com/amillerrr/movie-catalog/internal/observability"
	"github.com/amillerrr/movie-catalog/internal/pipeline"
	"github.com/amillerrr/movie-catalog/internal/publisher"
	"github.com/amillerrr/movie-catalog/internal/segmenter"
)

const (
	ShutdownTimeout       = 30 * time.Second
	TracerShutdownTimeout = 5 * time.Second
	StartupTimeout        = 30 * time.Second
)

func main() {
	// Load .env file if present
	envErr := godotenv.Load()

	cfg, err := config.LoadAPI()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Observability.LogLevel)
	slog.SetDefault(log)
	if envErr != nil {
		log.Info("No .env file found, using system environment variables")
	}

	shutdownTracer, err := observability.InitTracer(context.Background(), observability.TracerConfig{
		ServiceName:    cfg.API.ServiceName,
		ServiceVersion: cfg.API.ServiceVersion,
		Environment:    cfg.Environment,
		Endpoint:       cfg.Observability.OTLPEndpoint,
		Enabled:        cfg.Observability.TracingOn,
	})
	if err != nil {
		log.Error("Failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), TracerShutdownTimeout)
		defer cancel()
		if err := shutdownTracer(ctx); err != nil {
			log.Error("Failed to shutdown tracer", "error", err)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), StartupTimeout)
	defer cancel()

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Store.Region))
	if err != nil {
		log.Error("Failed to load AWS config", "error", err)
		os.Exit(1)
	}
	otelaws.AppendMiddlewares(&awsCfg.APIOptions)

	store, err := catalog.Open(ctx, cfg.Store, awsCfg)
	if err != nil {
		log.Error("Failed to open catalog store", "backend", cfg.Store.Backend, "error", err)
		os.Exit(1)
	}
	defer store.Close()
	log.Info("Catalog store ready", "backend", cfg.Store.Backend)

	pub := openPublisher(ctx, cfg, awsCfg, log)

	locker, closeLocker, err := openLocker(ctx, cfg, log)
	if err != nil {
		log.Error("Failed to initialize upload lock", "backend", cfg.Media.LockBackend, "error", err)
		os.Exit(1)
	}
	defer closeLocker()

	var notifier events.Notifier = events.Nop{}
	if cfg.Events.QueueURL != "" {
		notifier = events.NewSQSNotifier(sqs.NewFromConfig(awsCfg), cfg.Events.QueueURL, log)
		log.Info("Media events enabled", "queueUrl", cfg.Events.QueueURL)
	}

	engine := segmenter.New(segmenter.Config{EnginePath: cfg.Media.FFmpegPath, Logger: log})
	if _, err := engine.EnginePath(); err != nil {
		log.Warn("Segmenting engine not found; video uploads will fail", "error", err)
	}

	orchestrator := pipeline.New(pipeline.Config{
		Movies:         store,
		Publisher:      pub,
		Segmenter:      engine,
		Locker:         locker,
		Notifier:       notifier,
		Namespace:      cfg.MediaStore.Namespace,
		SegmentSeconds: cfg.Media.SegmentSeconds,
		TempDir:        cfg.Media.TempDir,
		OrphanCleanup:  cfg.Media.OrphanCleanup,
		Logger:         log,
	})

	jwtSecret, err := cfg.GetJWTSecret()
	if err != nil {
		log.Error("Failed to get JWT secret", "error", err)
		os.Exit(1)
	}
	if cfg.API.JWTSecret == "" {
		log.Warn("JWT_SECRET not set, using the development secret")
	}
	tokens, err := identity.NewTokenService(jwtSecret, cfg.API.AccessTokenTTL)
	if err != nil {
		log.Error("Failed to create token service", "error", err)
		os.Exit(1)
	}
	ids := identity.NewService(store, tokens, identity.CookieConfig{
		Name:     cfg.API.CookieName,
		Secure:   cfg.API.CookieSecure,
		SameSite: cfg.API.CookieSameSite,
	}, log)

	healthConfig := health.DefaultConfig(cfg.API.ServiceName, log)
	healthConfig.Probes = []health.Probe{
		{Name: "catalog", Check: store.Ping},
		{Name: "segmenter", Check: func(context.Context) error {
			_, err := engine.EnginePath()
			return err
		}},
		mediaStoreProbe(pub),
	}
	if l, ok := locker.(*pipeline.RedisLocker); ok {
		healthConfig.Probes = append(healthConfig.Probes, health.Probe{Name: "upload_lock", Check: l.Ping})
	}

	server := api.NewServer(&api.ServerConfig{
		Config:        cfg,
		Logger:        log,
		Identity:      ids,
		Limiter:       identity.NewLoginLimiter(identity.DefaultLimiterConfig()),
		Movies:        store,
		Uploader:      orchestrator,
		HealthChecker: health.NewChecker(healthConfig),
	})

	go func() {
		if err := server.Start(); err != nil {
			log.Error("Server error", "error", err)
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", "error", err)
	}

	log.Info("Server shutdown complete")
}

// openPublisher returns nil when no media store is configured; uploads then
// fail per request after authorization.
func openPublisher(ctx context.Context, cfg *config.Config, awsCfg aws.Config, log *slog.Logger) publisher.Publisher {
	if !cfg.MediaStore.Configured() {
		log.Warn("Media store not configured; uploads are disabled",
			"backend", cfg.MediaStore.Backend,
			"missing", cfg.MediaStore.Missing(),
		)
		return nil
	}

	pub, err := publisher.Open(ctx, cfg.MediaStore, publisher.Options{
		Concurrency: cfg.Media.UploadConcurrency,
		Logger:      log,
		S3Client:    s3.NewFromConfig(awsCfg),
	})
	if err != nil {
		log.Error("Failed to open media store; uploads are disabled", "backend", cfg.MediaStore.Backend, "error", err)
		return nil
	}
	log.Info("Media store ready", "backend", cfg.MediaStore.Backend, "storeRoot", pub.StoreRoot())
	return pub
}

func mediaStoreProbe(pub publisher.Publisher) health.Probe {
	if pub == nil {
		return health.Probe{Name: "media_store"}
	}
	return health.Probe{Name: "media_store", Check: pub.Ping}
}

func openLocker(ctx context.Context, cfg *config.Config, log *slog.Logger) (pipeline.Locker, func(), error) {
	if cfg.Media.LockBackend != config.LockRedis {
		return pipeline.NewLocalLocker(), func() {}, nil
	}

	l, err := pipeline.NewRedisLocker(ctx, pipeline.RedisLockerConfig{
		Addr:   cfg.Media.RedisAddr,
		Logger: log,
	})
	if err != nil {
		return nil, nil, err
	}
	return l, func() {
		if err := l.Close(); err != nil {
			log.Warn("Failed to close redis client", "error", err)
		}
	}, nil
}
