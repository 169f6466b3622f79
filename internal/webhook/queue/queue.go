// Package queue moves webhook deliveries off the dispatching process via a
// redis list. Dispatch pushes delivery ids; the worker pops and sends.
package queue

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/entitle/internal/config"
)

const deliveryQueueKey = "webhook:deliveries"

var ErrDisabled = errors.New("webhook queue disabled")

type RedisQueue struct {
	client *redis.Client
}

// NewRedisQueue returns nil when async dispatch is off.
func NewRedisQueue(cfg config.Config) (*RedisQueue, error) {
	if !cfg.WebhookAsync {
		return nil, nil
	}
	addr := strings.TrimSpace(cfg.RedisAddr)
	if addr == "" {
		return nil, errors.New("webhook async dispatch requires redis addr")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(cfg.RedisPassword),
		DB:       cfg.RedisDB,
	})
	return &RedisQueue{client: client}, nil
}

func (q *RedisQueue) Enqueue(ctx context.Context, deliveryID snowflake.ID) error {
	if q == nil {
		return ErrDisabled
	}
	return q.client.LPush(ctx, deliveryQueueKey, deliveryID.String()).Err()
}

// Dequeue blocks up to timeout for the next delivery id. A zero id with
// nil error means the wait timed out.
func (q *RedisQueue) Dequeue(ctx context.Context, timeout time.Duration) (snowflake.ID, error) {
	if q == nil {
		return 0, ErrDisabled
	}
	values, err := q.client.BRPop(ctx, timeout, deliveryQueueKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, err
	}
	if len(values) != 2 {
		return 0, nil
	}
	return snowflake.ParseString(values[1])
}

func (q *RedisQueue) Close() error {
	if q == nil {
		return nil
	}
	return q.client.Close()
}
