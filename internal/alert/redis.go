package alert

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisConfig configures a RedisSink.
type RedisConfig struct {
	Addr     string `json:"addr" yaml:"addr"`
	Password string `json:"password" yaml:"password"`
	DB       int    `json:"db" yaml:"db"`
	Key      string `json:"key" yaml:"key"`
	MaxLen   int64  `json:"max_len" yaml:"max_len"`
}

// DefaultRedisConfig returns the default Redis sink settings.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:   "localhost:6379",
		Key:    "pathscout:alerts",
		MaxLen: 1000,
	}
}

// RedisSink keeps the newest alerts in a capped Redis list.
type RedisSink struct {
	client *redis.Client
	key    string
	maxLen int64
}

// NewRedisSink connects to Redis and verifies the connection.
func NewRedisSink(ctx context.Context, cfg RedisConfig) (*RedisSink, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}
	return NewRedisSinkFromClient(client, cfg), nil
}

// NewRedisSinkFromClient wraps an existing client. The sink owns the client.
func NewRedisSinkFromClient(client *redis.Client, cfg RedisConfig) *RedisSink {
	defaults := DefaultRedisConfig()
	if cfg.Key == "" {
		cfg.Key = defaults.Key
	}
	if cfg.MaxLen <= 0 {
		cfg.MaxLen = defaults.MaxLen
	}
	return &RedisSink{client: client, key: cfg.Key, maxLen: cfg.MaxLen}
}

// Push prepends a and trims the list to its maximum length.
func (s *RedisSink) Push(ctx context.Context, a Alert) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.LPush(ctx, s.key, data)
	pipe.LTrim(ctx, s.key, 0, s.maxLen-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to push alert: %w", err)
	}
	return nil
}

// List returns up to limit alerts, newest first. A non-positive limit
// returns all of them.
func (s *RedisSink) List(ctx context.Context, limit int) ([]Alert, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}

	raw, err := s.client.LRange(ctx, s.key, 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}

	alerts := make([]Alert, 0, len(raw))
	for _, item := range raw {
		var a Alert
		if err := json.Unmarshal([]byte(item), &a); err != nil {
			return nil, fmt.Errorf("failed to unmarshal alert: %w", err)
		}
		alerts = append(alerts, a)
	}
	return alerts, nil
}

// Close closes the Redis client.
func (s *RedisSink) Close() error {
	return s.client.Close()
}
