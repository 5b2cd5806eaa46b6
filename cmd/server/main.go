package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/imaginegw/imagine-gateway-go/internal/cache"
	"github.com/imaginegw/imagine-gateway-go/internal/config"
	"github.com/imaginegw/imagine-gateway-go/internal/handler"
	"github.com/imaginegw/imagine-gateway-go/internal/jobs"
	"github.com/imaginegw/imagine-gateway-go/internal/middleware"
	"github.com/imaginegw/imagine-gateway-go/internal/pool"
	"github.com/imaginegw/imagine-gateway-go/internal/store"
	"github.com/imaginegw/imagine-gateway-go/internal/upstream"
	"github.com/imaginegw/imagine-gateway-go/internal/verify"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setLogLevel(cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	credStore, err := newStore(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open credential store")
	}
	defer credStore.Close()
	log.Info().Str("backend", cfg.StoreBackend).Msg("credential store ready")

	artifactCache, err := cache.New(cfg.ImagesDir, cfg.PublicBaseURL())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open artifact cache")
	}

	verifier, err := verify.NewDriver(cfg.UpstreamAPIURL, cfg.CFClearance, cfg.ProxyURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build verification driver")
	}

	generator, err := upstream.NewClient(cfg.UpstreamWSURL, cfg.GenerationTimeout(), artifactCache, cfg.ProxyURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build upstream client")
	}

	strategy, err := pool.NewStrategy(cfg.RotationStrategy)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid rotation strategy")
	}

	sessionPool := pool.New(pool.Options{
		Store:       credStore,
		Strategy:    strategy,
		Quota:       pool.NewQuotaTracker(cfg.DailyLimit, config.DailyWindow),
		Verifier:    verifier,
		Generator:   generator,
		MaxAttempts: cfg.MaxAttempts,
	})

	reload := func(ctx context.Context) (int, error) {
		creds, err := store.LoadCredentials(cfg.CredentialsFile)
		if err != nil {
			return 0, err
		}
		return sessionPool.Reconcile(ctx, creds)
	}

	if _, err := reload(context.Background()); err != nil {
		log.Fatal().Err(err).Str("file", cfg.CredentialsFile).Msg("failed to load credentials")
	}

	authMiddleware := middleware.NewAuthMiddleware(cfg.APIKey)
	bodyLimitMiddleware := middleware.NewBodyLimitMiddleware(0)

	imagesHandler := handler.NewImagesHandler(sessionPool, cfg.DefaultAspectRatio, cfg.DefaultImageCount)
	chatHandler := handler.NewChatHandler(sessionPool, cfg.DefaultAspectRatio, cfg.DefaultImageCount)
	galleryHandler := handler.NewGalleryHandler(artifactCache)
	adminHandler := handler.NewAdminHandler(sessionPool, artifactCache, reload)
	healthHandler := handler.NewHealthHandler(sessionPool)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(bodyLimitMiddleware.Handler)

	r.Get("/", healthHandler.Root)
	r.Get("/health", healthHandler.Health)
	r.Get("/gallery", galleryHandler.Gallery)
	r.Get("/images/{file}", galleryHandler.ServeImage)

	r.Route("/v1", func(r chi.Router) {
		r.Use(authMiddleware.Handler)
		r.Post("/images/generations", imagesHandler.Generate)
		r.Post("/chat/completions", chatHandler.Completions)
		r.Get("/models", handler.Models)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(authMiddleware.Handler)
		r.Mount("/", adminHandler.Routes())
	})

	maintenanceJob := jobs.NewMaintenanceJob(sessionPool, config.PoolMaintenanceInterval)
	maintenanceJob.Start()
	defer maintenanceJob.Stop()

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: 0,
		IdleTimeout:  config.ServerIdleTimeout,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr()).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

func newStore(cfg *config.Config) (store.Store, error) {
	switch cfg.StoreBackend {
	case "redis":
		return store.NewRedisStore(cfg.RedisURL)
	case "postgres":
		return store.NewPostgresStore(cfg.DatabaseURL)
	default:
		return store.NewFileStore(store.StatePathFor(cfg.CredentialsFile))
	}
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
