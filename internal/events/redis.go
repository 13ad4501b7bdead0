package events

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisConfig describes the connection for the Redis event stream.
type RedisConfig struct {
	Address  string
	Password string
	DB       int
	Stream   string
	MaxLen   int64
}

// RedisPublisher pushes encoded events onto a capped Redis list.
type RedisPublisher struct {
	client *redis.Client
	stream string
	maxLen int64
}

// NewRedisPublisher connects to Redis and verifies the connection.
func NewRedisPublisher(cfg RedisConfig) (*RedisPublisher, error) {
	if cfg.Address == "" {
		return nil, errors.New("redis address cannot be empty")
	}
	stream := cfg.Stream
	if stream == "" {
		stream = "orchestrall:plugin-events"
	}
	maxLen := cfg.MaxLen
	if maxLen <= 0 {
		maxLen = 4096
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return &RedisPublisher{client: client, stream: stream, maxLen: maxLen}, nil
}

// Publish implements Publisher.
func (p *RedisPublisher) Publish(ctx context.Context, event Event) error {
	encoded, err := event.Encode()
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := p.client.LPush(ctx, p.stream, encoded).Err(); err != nil {
		return fmt.Errorf("publish event to redis: %w", err)
	}
	// Keep the stream bounded; trimming failures are harmless.
	_ = p.client.LTrim(ctx, p.stream, 0, p.maxLen-1).Err()
	return nil
}

// Close implements Publisher.
func (p *RedisPublisher) Close() error {
	if p == nil || p.client == nil {
		return nil
	}
	return p.client.Close()
}

var _ Publisher = (*RedisPublisher)(nil)
