package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	_ "go.uber.org/automaxprocs"

	"genstudio/internal/adapter/repo"
	"genstudio/internal/assets"
	"genstudio/internal/credits"
	"genstudio/internal/domain"
	"genstudio/internal/generation"
	"genstudio/internal/http/handlers"
	httpapi "genstudio/internal/http/httpapi"
	"genstudio/internal/infra"
	"genstudio/internal/infra/credentials"
	"genstudio/internal/infra/geoip"
	"genstudio/internal/metrics"
	"genstudio/internal/pause"
	"genstudio/internal/providers/fal"
	"genstudio/internal/providers/genai"
	"genstudio/internal/providers/image"
	"genstudio/internal/providers/nanobanana"
	"genstudio/internal/storage"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbpool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect database")
	}
	defer dbpool.Close()
	runner := infra.NewSQLRunner(dbpool, logger)

	profiles := repo.NewProfileRepository(runner)
	records := repo.NewGenerationRepository(runner)
	configs := repo.NewConfigRepository(runner)
	creds := credentials.NewStore(runner)

	store, err := storage.New(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to init storage")
	}

	m := metrics.New()
	providers := buildProviders(ctx, cfg, creds, logger)
	defer func() {
		for _, p := range providers {
			if c, ok := p.(interface{ Close() error }); ok {
				_ = c.Close()
			}
		}
	}()
	gateway := image.NewGateway(image.DefaultCatalog(cfg.GeminiImageModel), image.GatewayOptions{
		PollInterval: cfg.PollInterval,
		PollBudget:   cfg.PollBudget,
		Logger:       logger,
		Observer:     m,
	}, providers...)

	dispatcher, drain := buildDispatcher(cfg, logger)
	svc := generation.NewService(generation.Deps{
		Profiles:  profiles,
		Records:   records,
		Config:    configs,
		Store:     store,
		Resolver:  assets.NewResolver(store, logger, assets.Options{MaxBytes: cfg.MaxUploadBytes, PresignTTL: cfg.PresignTTL}),
		Gateway:   gateway,
		Admission: credits.NewController(profiles, dispatcher, logger),
		Pause:     pause.NewGate(configs, logger),
		Observer:  m,
		Logger:    logger,
	}, generation.Config{
		Cost:            cfg.GenerationCost,
		SafetyTolerance: cfg.SafetyTolerance,
		Selection: image.Selection{
			Default:     cfg.DefaultImageModel,
			MultiImage:  cfg.MultiImageModel,
			TextToImage: cfg.TextToImageModel,
		},
	})

	app := handlers.NewApp(svc, handlers.Limits{
		MaxReferences:  cfg.MaxReferenceImages,
		MaxFileBytes:   cfg.MaxUploadBytes,
		MaxTotalBytes:  cfg.MaxTotalUploadBytes,
		RequestTimeout: cfg.GenerateRequestLimit,
	}, logger)
	app.Ready = dbpool.Ping

	countries, err := geoip.NewResolver(cfg.GeoIPDBPath)
	if err != nil {
		logger.Warn().Err(err).Msg("geoip disabled")
	}
	defer countries.Close()

	routerOpts := httpapi.Options{
		JWTSecret:       cfg.JWTSecret,
		CORSOrigins:     cfg.CORSAllowedOrigins,
		RateLimitPerMin: cfg.RateLimitPerMin,
		CountryLookup:   countries.Lookup(),
		Metrics:         m,
		Logger:          logger,
	}
	if fs, ok := store.(*storage.FileStore); ok {
		routerOpts.StaticDir = fs.BasePath()
	}
	server := infra.NewHTTPServer(cfg, httpapi.NewRouter(app, routerOpts))

	go func() {
		logger.Info().Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	if err := drain(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("recharge tasks still running at shutdown")
	}
	logger.Info().Msg("server stopped")
}

// buildProviders returns every provider that has credentials. Keys from the
// environment win over keys stored in the database.
func buildProviders(ctx context.Context, cfg *infra.Config, creds *credentials.Store, logger zerolog.Logger) []image.Provider {
	key := func(provider, env string) string {
		lookupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		v, err := creds.Resolve(lookupCtx, provider, env)
		if err != nil {
			logger.Warn().Err(err).Str("provider", provider).Msg("failed to load stored api key")
		}
		return v
	}

	var out []image.Provider
	if k := key(credentials.ProviderNanoBanana, cfg.NanoBananaAPIKey); k != "" {
		c, err := nanobanana.NewClient(nanobanana.Options{
			APIKey:         k,
			BaseURL:        cfg.NanoBananaBaseURL,
			Logger:         &logger,
			RequestTimeout: cfg.ProviderTimeout,
			RetryDelay:     cfg.RateLimitRetryDelay,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to init nanobanana client")
		}
		out = append(out, c)
	}
	if k := key(credentials.ProviderFal, cfg.FalAPIKey); k != "" {
		c, err := fal.NewClient(fal.Options{
			APIKey:          k,
			BaseURL:         cfg.FalBaseURL,
			Logger:          &logger,
			RequestTimeout:  cfg.ProviderTimeout,
			SafetyTolerance: cfg.SafetyTolerance,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to init fal client")
		}
		out = append(out, c)
	}
	if k := key(credentials.ProviderGemini, cfg.GeminiAPIKey); k != "" {
		c, err := genai.NewClient(ctx, genai.Options{
			APIKey:     k,
			Model:      cfg.GeminiImageModel,
			Logger:     &logger,
			RetryDelay: cfg.RateLimitRetryDelay,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to init gemini client")
		}
		out = append(out, c)
	}
	if len(out) == 0 {
		logger.Warn().Msg("no image provider has credentials; every generation will fail")
	}
	return out
}

// buildDispatcher prefers the Redis queue consumed by cmd/worker. Without
// Redis, triggers run in-process. Either way pending work is drained on
// shutdown.
func buildDispatcher(cfg *infra.Config, logger zerolog.Logger) (credits.Dispatcher, func(context.Context) error) {
	if cfg.RedisURL != "" {
		client, err := credits.NewRedisClient(cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("invalid REDIS_URL")
		}
		d := credits.NewRedisDispatcher(client, credits.DefaultQueueKey, logger)
		return d, d.Drain
	}
	d := credits.NewAsyncDispatcher(newRecharger(cfg, logger), cfg.RechargeTimeout, logger)
	return d, d.Drain
}

func newRecharger(cfg *infra.Config, logger zerolog.Logger) domain.Recharger {
	if cfg.RechargeURL == "" {
		return credits.LogRecharger{Logger: logger}
	}
	return credits.NewHTTPRecharger(cfg.RechargeURL, cfg.RechargeTimeout)
}
