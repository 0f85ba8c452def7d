package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nidhogg/nuka-council/internal/orchestrator"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const streamPrefix = "council:run:"

// StreamKey is the Redis stream holding a run's events.
func StreamKey(threadID string) string { return streamPrefix + threadID }

// StreamRecorder mirrors each step onto a per-run Redis stream so other
// processes can tail a run while it executes.
type StreamRecorder struct {
	rdb    *redis.Client
	maxLen int64
	logger *zap.Logger
}

// NewStreamRecorder connects to redisURL. Streams are trimmed to about
// maxLen entries.
func NewStreamRecorder(redisURL string, maxLen int64, logger *zap.Logger) (*StreamRecorder, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	if maxLen <= 0 {
		maxLen = 1000
	}
	return &StreamRecorder{rdb: rdb, maxLen: maxLen, logger: logger}, nil
}

// Record appends the step to the run's stream.
func (s *StreamRecorder) Record(ctx context.Context, step orchestrator.Step) error {
	data, err := json.Marshal(FromStep(step))
	if err != nil {
		return err
	}
	stream := StreamKey(step.ThreadID)
	_, err = s.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: s.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"data": string(data),
		},
	}).Result()
	if err != nil {
		return fmt.Errorf("publish to %s: %w", stream, err)
	}

	s.logger.Debug("step streamed",
		zap.String("stream", stream),
		zap.Int("step", step.Index),
		zap.String("agent", step.Agent))
	return nil
}

// Subscribe replays a run's stream from the start and follows it. The
// channel closes after the final event or when ctx is cancelled.
func (s *StreamRecorder) Subscribe(ctx context.Context, threadID string) <-chan Event {
	ch := make(chan Event, 16)
	stream := StreamKey(threadID)

	go func() {
		defer close(ch)
		lastID := "0"

		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			results, err := s.rdb.XRead(ctx, &redis.XReadArgs{
				Streams: []string{stream, lastID},
				Count:   10,
				Block:   time.Second * 2,
			}).Result()

			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return
				}
				if !errors.Is(err, redis.Nil) {
					s.logger.Warn("stream read", zap.String("stream", stream), zap.Error(err))
				}
				continue
			}

			for _, r := range results {
				for _, msg := range r.Messages {
					lastID = msg.ID
					data, ok := msg.Values["data"].(string)
					if !ok {
						continue
					}
					var ev Event
					if json.Unmarshal([]byte(data), &ev) != nil {
						continue
					}
					select {
					case ch <- ev:
					case <-ctx.Done():
						return
					}
					if ev.Final() {
						return
					}
				}
			}
		}
	}()

	return ch
}

// Close shuts down the Redis connection.
func (s *StreamRecorder) Close() error {
	return s.rdb.Close()
}
