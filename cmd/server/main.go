package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"tradehub/backend/internal/blob"
	"tradehub/backend/internal/cache"
	"tradehub/backend/internal/config"
	"tradehub/backend/internal/httpapi"
	"tradehub/backend/internal/insight"
	"tradehub/backend/internal/logger"
	"tradehub/backend/internal/service"
	"tradehub/backend/internal/store"
	"tradehub/backend/internal/store/memory"
	pgstore "tradehub/backend/internal/store/postgres"
)

func main() {
	// Missing .env is fine; configuration falls back to process env.
	_ = godotenv.Load()

	app := &cli.App{
		Name:  "tradehub-backend",
		Usage: "electronics trade hub backend",
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "run the HTTP API server",
				Action: func(*cli.Context) error {
					return serve()
				},
			},
		},
		DefaultCommand: "serve",
	}

	if err := app.Run(os.Args); err != nil {
		logger.Log.Fatal().Err(err).Msg("fatal")
	}
}

func serve() error {
	cfg := config.Load()
	logger.SetLevel(cfg.LogLevel)
	if err := validateSecurityConfig(cfg); err != nil {
		return fmt.Errorf("invalid security configuration: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 2)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("postgres unavailable (%w) and DATABASE_URL is set; refusing to start with in-memory fallback", err)
		}
		repo = pg
		closers = append(closers, pg.Close)
		logger.Log.Info().Msg("repository: postgres")
	} else {
		repo = memory.NewSeeded()
		logger.Log.Info().Msg("repository: in-memory")
	}

	insightCache := cache.InsightCache(cache.NoopInsightCache{})
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisInsightCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			logger.Log.Warn().Err(err).Msg("redis unavailable, using noop cache")
		} else {
			insightCache = redisCache
			closers = append(closers, redisCache.Close)
			logger.Log.Info().Msg("cache: redis")
		}
	} else {
		logger.Log.Info().Msg("cache: noop")
	}

	blobs := blob.Store(blob.NewMemoryStore())
	if cfg.MinioEndpoint != "" {
		minioStore, err := blob.NewMinioStore(ctx, cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			logger.Log.Warn().Err(err).Msg("minio unavailable, using in-memory attachment store")
		} else {
			blobs = minioStore
			logger.Log.Info().Msg("attachments: minio")
		}
	} else {
		logger.Log.Info().Msg("attachments: in-memory")
	}

	generator := insight.Generator(insight.NewLocalGenerator())
	if cfg.OpenAIAPIKey != "" {
		generator = insight.NewOpenAIGenerator(cfg.OpenAIAPIKey, cfg.OpenAIModel)
		logger.Log.Info().Str("model", cfg.OpenAIModel).Msg("insights: openai")
	} else {
		logger.Log.Info().Msg("insights: local rules")
	}

	svc := service.New(repo, generator, insightCache, blobs,
		time.Duration(cfg.InsightTTLSeconds)*time.Second,
		time.Duration(cfg.InsightTimeoutSeconds)*time.Second)
	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, svc)
	api := httpapi.New(svc, auth, cfg.AllowedOrigin)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Log.Info().Str("addr", cfg.Address()).Msg("trade hub backend listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.Fatal().Err(err).Msg("server error")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Log.Error().Err(err).Msg("shutdown error")
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			logger.Log.Error().Err(err).Msg("close error")
		}
	}

	logger.Log.Info().Msg("server stopped")
	return nil
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	return nil
}
