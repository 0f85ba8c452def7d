package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nidhogg/nuka-council/internal/orchestrator"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const keyPrefix = "council:checkpoint:"

// Redis stores one JSON document per thread under council:checkpoint:<id>.
type Redis struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedis connects to redisURL. A zero ttl keeps checkpoints forever.
func NewRedis(redisURL string, ttl time.Duration, logger *zap.Logger) (*Redis, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Redis{rdb: rdb, ttl: ttl, logger: logger}, nil
}

func (r *Redis) Save(ctx context.Context, cp orchestrator.Checkpoint) error {
	data, err := encode(cp)
	if err != nil {
		return err
	}
	if err := r.rdb.Set(ctx, keyPrefix+cp.ThreadID, data, r.ttl).Err(); err != nil {
		return fmt.Errorf("save checkpoint %s: %w", cp.ThreadID, err)
	}
	r.logger.Debug("checkpoint saved",
		zap.String("thread", cp.ThreadID),
		zap.Int("step", cp.Step),
		zap.String("next", cp.Next))
	return nil
}

func (r *Redis) Load(ctx context.Context, threadID string) (*orchestrator.Checkpoint, error) {
	data, err := r.rdb.Get(ctx, keyPrefix+threadID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("load %s: %w", threadID, orchestrator.ErrCheckpointNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint %s: %w", threadID, err)
	}
	return decode(threadID, data)
}

// Close shuts down the Redis connection.
func (r *Redis) Close() error {
	return r.rdb.Close()
}
