package credits

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"genstudio/internal/domain"
)

// DefaultQueueKey is the Redis list holding pending recharge triggers.
const DefaultQueueKey = "genstudio:recharge"

// Dispatcher hands a recharge trigger to an independent task. Dispatch never
// blocks on the outcome and never reports failures to the caller.
type Dispatcher interface {
	Dispatch(t domain.RechargeTrigger)
}

// tasks tracks detached goroutines so shutdown can wait for them.
type tasks struct {
	wg sync.WaitGroup
}

func (t *tasks) spawn(fn func()) {
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		fn()
	}()
}

// Drain waits for in-flight dispatches or until ctx is done.
func (t *tasks) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AsyncDispatcher calls the Recharger on its own goroutine with a fresh
// context, detached from the request.
type AsyncDispatcher struct {
	tasks
	recharger domain.Recharger
	timeout   time.Duration
	logger    zerolog.Logger
}

func NewAsyncDispatcher(r domain.Recharger, timeout time.Duration, logger zerolog.Logger) *AsyncDispatcher {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &AsyncDispatcher{
		recharger: r,
		timeout:   timeout,
		logger:    logger.With().Str("component", "recharge_dispatch").Logger(),
	}
}

func (d *AsyncDispatcher) Dispatch(t domain.RechargeTrigger) {
	d.spawn(func() {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()
		if err := d.recharger.Trigger(ctx, t); err != nil {
			d.logger.Error().Err(err).Str("user_id", t.UserID).Str("pack_id", t.PackID).Msg("auto-recharge failed")
			return
		}
		d.logger.Info().Str("user_id", t.UserID).Str("pack_id", t.PackID).Msg("auto-recharge requested")
	})
}

// listQueue is the subset of the Redis client used for the recharge queue.
type listQueue interface {
	LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	BRPop(ctx context.Context, timeout time.Duration, keys ...string) *redis.StringSliceCmd
}

// RedisDispatcher pushes triggers onto a Redis list consumed by the worker.
type RedisDispatcher struct {
	tasks
	queue  listQueue
	key    string
	logger zerolog.Logger
}

func NewRedisDispatcher(client *redis.Client, key string, logger zerolog.Logger) *RedisDispatcher {
	return newRedisDispatcher(client, key, logger)
}

func newRedisDispatcher(q listQueue, key string, logger zerolog.Logger) *RedisDispatcher {
	if key == "" {
		key = DefaultQueueKey
	}
	return &RedisDispatcher{
		queue:  q,
		key:    key,
		logger: logger.With().Str("component", "recharge_dispatch").Logger(),
	}
}

func (d *RedisDispatcher) Dispatch(t domain.RechargeTrigger) {
	d.spawn(func() {
		payload, err := json.Marshal(t)
		if err != nil {
			d.logger.Error().Err(err).Str("user_id", t.UserID).Msg("encode recharge trigger")
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := d.queue.LPush(ctx, d.key, payload).Err(); err != nil {
			d.logger.Error().Err(err).Str("user_id", t.UserID).Msg("enqueue recharge trigger failed")
		}
	})
}

// NewRedisClient parses a redis:// URL.
func NewRedisClient(rawURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, err
	}
	return redis.NewClient(opts), nil
}
