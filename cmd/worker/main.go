package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	_ "go.uber.org/automaxprocs"

	"genstudio/internal/credits"
	"genstudio/internal/domain"
	"genstudio/internal/infra"
)

// The worker drains the auto-recharge queue filled by the API when REDIS_URL
// is set.
func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv).With().Str("cmd", "worker").Logger()

	if cfg.RedisURL == "" {
		logger.Fatal().Msg("worker: REDIS_URL is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := credits.NewRedisClient(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: invalid REDIS_URL")
	}
	defer client.Close()

	if err := client.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("worker: redis unreachable")
	}

	var recharger domain.Recharger = credits.LogRecharger{Logger: logger}
	if cfg.RechargeURL != "" {
		recharger = credits.NewHTTPRecharger(cfg.RechargeURL, cfg.RechargeTimeout)
	}

	consumer := credits.NewConsumer(client, credits.DefaultQueueKey, recharger, cfg.RechargeTimeout, logger)
	if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("worker stopped with error")
		os.Exit(1)
	}
	logger.Info().Msg("worker stopped")
}
