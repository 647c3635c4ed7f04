package events

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/kalytamykhailo18-cyber/bookproof-platform-sub008/internal/model"
)

// DefaultStreamMaxLen — приблизительный предел длины потока Redis.
const DefaultStreamMaxLen = 100_000

// RedisStreamSink добавляет события в поток Redis (XADD) с ограничением длины.
type RedisStreamSink struct {
	client redis.Cmdable
	stream string
	maxLen int64
	codec  Codec
}

// NewRedisClient подключается к Redis и проверяет соединение.
func NewRedisClient(ctx context.Context, addr string) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return rdb, nil
}

// NewRedisStreamSink создаёт получателя для потока stream.
func NewRedisStreamSink(client redis.Cmdable, stream string, maxLen int64, codec Codec) *RedisStreamSink {
	if stream == "" {
		stream = "bookproof:events"
	}
	if maxLen <= 0 {
		maxLen = DefaultStreamMaxLen
	}
	if codec == nil {
		codec = JSONCodec{}
	}
	return &RedisStreamSink{client: client, stream: stream, maxLen: maxLen, codec: codec}
}

// Name реализует Sink.
func (s *RedisStreamSink) Name() string { return "redis" }

// Publish реализует Sink.
func (s *RedisStreamSink) Publish(ctx context.Context, ev model.Event) error {
	data, err := s.codec.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	err = s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: s.maxLen,
		Approx: true,
		Values: map[string]any{
			"id":       strconv.FormatInt(ev.ID, 10),
			"type":     string(ev.Type),
			"audience": string(ev.Audience),
			"data":     data,
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("xadd %s: %w", s.stream, err)
	}
	return nil
}
