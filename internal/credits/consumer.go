package credits

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"genstudio/internal/domain"
)

const consumerBlock = 5 * time.Second

// Consumer drains the Redis recharge queue and calls the Recharger for each
// trigger. Failed triggers are logged and dropped.
type Consumer struct {
	queue     listQueue
	key       string
	recharger domain.Recharger
	timeout   time.Duration
	logger    zerolog.Logger
}

func NewConsumer(client *redis.Client, key string, r domain.Recharger, timeout time.Duration, logger zerolog.Logger) *Consumer {
	return newConsumer(client, key, r, timeout, logger)
}

func newConsumer(q listQueue, key string, r domain.Recharger, timeout time.Duration, logger zerolog.Logger) *Consumer {
	if key == "" {
		key = DefaultQueueKey
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Consumer{
		queue:     q,
		key:       key,
		recharger: r,
		timeout:   timeout,
		logger:    logger.With().Str("component", "recharge_consumer").Logger(),
	}
}

// Run blocks until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info().Str("queue", c.key).Msg("recharge consumer started")
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := c.Next(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Error().Err(err).Msg("recharge queue read failed")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
		}
	}
}

// Next processes at most one trigger. It reports false when the queue stayed
// empty for the blocking window.
func (c *Consumer) Next(ctx context.Context) (bool, error) {
	res, err := c.queue.BRPop(ctx, consumerBlock, c.key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, err
	}
	if len(res) != 2 {
		return false, nil
	}
	var t domain.RechargeTrigger
	if err := json.Unmarshal([]byte(res[1]), &t); err != nil {
		c.logger.Warn().Err(err).Str("payload", res[1]).Msg("dropping malformed recharge trigger")
		return true, nil
	}
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := c.recharger.Trigger(callCtx, t); err != nil {
		c.logger.Error().Err(err).Str("user_id", t.UserID).Str("pack_id", t.PackID).Msg("auto-recharge failed")
		return true, nil
	}
	c.logger.Info().Str("user_id", t.UserID).Str("pack_id", t.PackID).Int("balance", t.NewBalance).Msg("auto-recharge requested")
	return true, nil
}
