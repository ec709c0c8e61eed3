package cache

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultRedisTimeout = 5 * time.Second
	defaultRedisPrefix  = "inspectsync:"
)

// RedisConfig captures the connection parameters for the redis-backed aggregate cache.
type RedisConfig struct {
	Address  string
	Username string
	Password string
	DB       int
	TLS      bool
	Timeout  time.Duration
}

type redisEnvelope struct {
	Value     json.RawMessage `json:"v"`
	UpdatedAt int64           `json:"t"`
}

// RedisStore implements Store on redis so several agents on one device can share
// dashboard aggregates.
type RedisStore struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// NewRedisStore connects to redis and verifies the connection with PING so that
// misconfiguration is surfaced during start-up.
func NewRedisStore(ctx context.Context, cfg RedisConfig, opts ...Option) (*RedisStore, error) {
	cfg.Address = strings.TrimSpace(cfg.Address)
	if cfg.Address == "" {
		return nil, errors.New("redis: address is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultRedisTimeout
	}

	redisOpts := &redis.Options{
		Addr:         cfg.Address,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.Timeout,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
	}
	if cfg.TLS {
		redisOpts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	client := redis.NewClient(redisOpts)
	if err := client.Ping(ensuredContext(ctx)).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}

	return NewRedisStoreFromClient(client, opts...), nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client, opts ...Option) *RedisStore {
	o := buildOptions(opts)
	return &RedisStore{client: client, prefix: o.prefix, now: o.now}
}

// Close closes the underlying client.
func (s *RedisStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

// Ping checks the connection for health probes.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte) error {
	payload, err := json.Marshal(redisEnvelope{Value: value, UpdatedAt: s.now().UnixNano()})
	if err != nil {
		return fmt.Errorf("redis: encode entry: %w", err)
	}
	return s.client.Set(ensuredContext(ctx), s.prefixed(key), payload, 0).Err()
}

func (s *RedisStore) Get(ctx context.Context, key string) (Entry, bool, error) {
	raw, err := s.client.Get(ensuredContext(ctx), s.prefixed(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}

	var env redisEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Entry{}, false, fmt.Errorf("redis: decode entry %q: %w", key, err)
	}
	return Entry{Key: key, Value: []byte(env.Value), UpdatedAt: time.Unix(0, env.UpdatedAt)}, true, nil
}

func (s *RedisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	prefixed := make([]string, 0, len(keys))
	for _, key := range keys {
		prefixed = append(prefixed, s.prefixed(key))
	}
	return s.client.Del(ensuredContext(ctx), prefixed...).Err()
}

// PurgeOlderThan scans the prefix and removes entries stamped before cutoff.
func (s *RedisStore) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx = ensuredContext(ctx)

	var removed int64
	iter := s.client.Scan(ctx, 0, s.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		fullKey := iter.Val()
		entry, ok, err := s.Get(ctx, strings.TrimPrefix(fullKey, s.prefix))
		if err != nil || !ok {
			continue
		}
		if !entry.UpdatedAt.Before(cutoff) {
			continue
		}
		n, err := s.client.Del(ctx, fullKey).Result()
		if err != nil {
			return removed, err
		}
		removed += n
	}
	return removed, iter.Err()
}

func (s *RedisStore) prefixed(key string) string {
	return s.prefix + key
}
