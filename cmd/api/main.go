package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"server/internal/adapter/repo"
	"server/internal/blobstore"
	"server/internal/cache"
	"server/internal/http/handlers"
	httpapi "server/internal/http/httpapi"
	"server/internal/inference"
	"server/internal/infra"
	"server/internal/infra/geoip"
	"server/internal/jobs"
	"server/internal/middleware"
	"server/migrations"
)

func main() {
	// Load .env (optional)
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, "photo-api")

	if err := infra.RunMigrations(cfg.DatabaseURL, migrations.FS); err != nil {
		logger.Fatal().Err(err).Msg("failed to run migrations")
	}

	ctx := context.Background()
	dbpool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect database")
	}
	defer dbpool.Close()

	statusCache, err := cache.New(cfg.RedisURL, 30*time.Minute)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect redis")
	}
	if statusCache == nil {
		logger.Warn().Msg("redis not configured, job status cache disabled")
	} else if err := statusCache.Ping(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to ping redis")
	}

	countryResolver, err := geoip.NewResolver(cfg.GeoIPDBPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open geoip database")
	}

	blobs, err := blobstore.NewS3Store(ctx, blobstore.Options{
		Endpoint:        cfg.BlobEndpoint,
		Region:          cfg.BlobRegion,
		AccessKeyID:     cfg.BlobAccessKeyID,
		SecretAccessKey: cfg.BlobSecretKey,
		Bucket:          cfg.BlobBucket,
		PublicBaseURL:   cfg.BlobPublicBaseURL,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to init blob store")
	}

	infer := inference.NewClient(inference.Options{
		BaseURL:         cfg.ReplicateBaseURL,
		APIKey:          cfg.ReplicateAPIKey,
		PollInterval:    cfg.InferencePollWait,
		MaxPollAttempts: cfg.InferenceAttempts,
	})

	jobRepo := repo.NewJobRepository(dbpool, logger)
	trendingRepo := repo.NewTrendingRepository(dbpool)
	userRepo := repo.NewUserRepository(dbpool)

	svc := jobs.NewService(jobRepo, userRepo, blobs, infer, statusCache, logger)
	app := handlers.NewApp(svc, jobRepo, trendingRepo, userRepo, statusCache, logger)

	var lookup middleware.CountryLookup
	if countryResolver != nil {
		lookup = countryResolver.CountryCode
	}

	router := httpapi.NewRouter(app, httpapi.Options{
		Logger:          logger,
		CORSOrigins:     cfg.CORSOrigins,
		RateLimitPerMin: cfg.RateLimitPerMin,
		DefaultLocale:   cfg.DefaultLocale,
		CountryLookup:   lookup,
	})

	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Msgf("API listening on %s", server.Addr())
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}
