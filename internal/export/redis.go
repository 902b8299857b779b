package export

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nerrad567/fleet-bridge/internal/infrastructure/config"
	"github.com/nerrad567/fleet-bridge/internal/telemetry"
)

const (
	defaultKeyPrefix = "fleet:device:"
	redisPingTimeout = 5 * time.Second
	fieldLastUpdate  = "lastUpdate"
	fieldSourceTopic = "topic"
)

// hashStore is the part of *redis.Client the sink uses.
type hashStore interface {
	HSet(ctx context.Context, key string, values ...any) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	Close() error
}

// RedisSink merges each device publication into the hash <prefix><deviceId>.
// String fields are stored as-is; other values are stored as JSON.
//
// The pipeline's single worker applies publications in the order they were
// offered, which is broker receive order, so the last arrival wins field by
// field exactly as in the session projector. lastUpdate is the receive time,
// not the device's own timestamp.
type RedisSink struct {
	store  hashStore
	prefix string
	ttl    time.Duration
}

// NewRedisSink connects to the configured server and verifies it with PING.
func NewRedisSink(ctx context.Context, cfg config.RedisConfig) (*RedisSink, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("%w: redis addr is required", ErrInvalidConfig)
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("export: redis connection failed: %w", err)
	}

	return newRedisSink(client, cfg.KeyPrefix, time.Duration(cfg.TTL)*time.Second), nil
}

func newRedisSink(store hashStore, prefix string, ttl time.Duration) *RedisSink {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &RedisSink{store: store, prefix: prefix, ttl: ttl}
}

func (s *RedisSink) Name() string { return "redis" }

// Key returns the hash key for deviceID.
func (s *RedisSink) Key(deviceID string) string { return s.prefix + deviceID }

func (s *RedisSink) Export(ctx context.Context, pub telemetry.Publication) error {
	if pub.DeviceID == "" || len(pub.Fields) == 0 {
		return nil
	}

	values := make([]any, 0, 2*len(pub.Fields)+4)
	for k, v := range pub.Fields {
		encoded, err := hashValue(v)
		if err != nil {
			return fmt.Errorf("encoding field %q: %w", k, err)
		}
		values = append(values, k, encoded)
	}
	values = append(values,
		fieldLastUpdate, pub.Record.ReceivedAt.UTC().Format(time.RFC3339Nano),
		fieldSourceTopic, pub.Record.Topic,
	)

	key := s.Key(pub.DeviceID)
	if err := s.store.HSet(ctx, key, values...).Err(); err != nil {
		return fmt.Errorf("redis hset %s: %w", key, err)
	}
	if s.ttl > 0 {
		if err := s.store.Expire(ctx, key, s.ttl).Err(); err != nil {
			return fmt.Errorf("redis expire %s: %w", key, err)
		}
	}
	return nil
}

func (s *RedisSink) Close() error { return s.store.Close() }

func hashValue(v any) (string, error) {
	if s, ok := v.(string); ok {
		return s, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
