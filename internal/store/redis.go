// ABOUTME: Redis implementation of the session tier using go-redis
// ABOUTME: Keys are namespaced per tab session and expire after an idle TTL

package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisSessionOptions configures the Redis session tier
type RedisSessionOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	IdleTTL  time.Duration
}

// RedisSessionStore implements SessionTier on Redis
type RedisSessionStore struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedisSessionStore connects to Redis and verifies the connection
func NewRedisSessionStore(ctx context.Context, opts RedisSessionOptions) (*RedisSessionStore, error) {
	prefix := opts.Prefix
	if prefix == "" {
		prefix = "convo-console"
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:        opts.Addr,
		Password:    opts.Password,
		DB:          opts.DB,
		DialTimeout: 10 * time.Second,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", opts.Addr, err)
	}

	logger := slog.Default().With("component", "store", "tier", "session")
	logger.Info("redis session store initialized", "addr", opts.Addr, "prefix", prefix)
	return &RedisSessionStore{
		rdb:    rdb,
		prefix: prefix,
		ttl:    opts.IdleTTL,
		logger: logger,
	}, nil
}

// sessionPrefix returns "<prefix>:<session>:"
func (s *RedisSessionStore) sessionPrefix(sessionID string) string {
	return s.prefix + ":" + sessionID + ":"
}

func (s *RedisSessionStore) key(sessionID, key string) string {
	return s.sessionPrefix(sessionID) + key
}

func (s *RedisSessionStore) Get(ctx context.Context, sessionID, key string) ([]byte, error) {
	v, err := s.rdb.Get(ctx, s.key(sessionID, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading session key %q: %w", key, err)
	}
	return v, nil
}

// Put writes the key with the idle TTL and refreshes the TTL of the rest of
// the session so the whole session expires together.
func (s *RedisSessionStore) Put(ctx context.Context, sessionID, key string, value []byte) error {
	if err := s.rdb.Set(ctx, s.key(sessionID, key), value, s.ttl).Err(); err != nil {
		return fmt.Errorf("writing session key %q: %w", key, err)
	}
	if s.ttl <= 0 {
		return nil
	}
	keys, err := s.scan(ctx, sessionID)
	if err != nil {
		return err
	}
	pipe := s.rdb.Pipeline()
	for _, k := range keys {
		pipe.Expire(ctx, k, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("refreshing session ttl: %w", err)
	}
	return nil
}

func (s *RedisSessionStore) Delete(ctx context.Context, sessionID, key string) error {
	if err := s.rdb.Del(ctx, s.key(sessionID, key)).Err(); err != nil {
		return fmt.Errorf("deleting session key %q: %w", key, err)
	}
	return nil
}

// Keys returns the unprefixed keys of a session
func (s *RedisSessionStore) Keys(ctx context.Context, sessionID string) ([]string, error) {
	full, err := s.scan(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	prefix := s.sessionPrefix(sessionID)
	keys := make([]string, 0, len(full))
	for _, k := range full {
		keys = append(keys, strings.TrimPrefix(k, prefix))
	}
	return keys, nil
}

// scan returns the fully-qualified keys of a session using SCAN
func (s *RedisSessionStore) scan(ctx context.Context, sessionID string) ([]string, error) {
	var keys []string
	var cursor uint64
	pattern := s.sessionPrefix(sessionID) + "*"
	for {
		batch, next, err := s.rdb.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, fmt.Errorf("scanning session keys: %w", err)
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			return keys, nil
		}
	}
}

func (s *RedisSessionStore) Close() error {
	return s.rdb.Close()
}
