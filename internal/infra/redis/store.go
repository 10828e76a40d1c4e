package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/driveport/api/pkg/logger"
)

// hitScript increments a window counter atomically. The expiry is set only
// when the key carries no TTL, so the first hit establishes the window and
// later hits never extend it. Returns the new count and the remaining TTL
// in milliseconds.
var hitScript = redis.NewScript(`
	local key = KEYS[1]
	local window_ms = tonumber(ARGV[1])

	local count = redis.call('INCR', key)
	local ttl = redis.call('PTTL', key)
	if ttl < 0 then
		redis.call('PEXPIRE', key, window_ms)
		ttl = window_ms
	end

	return {count, ttl}
`)

// CounterStore provides the counter and flag primitives the rate limiter is
// built on: atomic increment-with-expiry and conditional set for block flags.
type CounterStore struct {
	client    *Client
	keyPrefix string
	logger    *logger.Logger
}

// NewCounterStore creates a counter store.
func NewCounterStore(client *Client, prefix string, log *logger.Logger) (*CounterStore, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if prefix == "" {
		return nil, errors.New("key prefix is required")
	}
	if log == nil {
		return nil, errors.New("logger is required")
	}

	return &CounterStore{
		client:    client,
		keyPrefix: prefix,
		logger:    log,
	}, nil
}

// MustNewCounterStore creates a counter store or panics on error.
// Use only in initialization code where failure is unrecoverable.
func MustNewCounterStore(client *Client, prefix string, log *logger.Logger) *CounterStore {
	s, err := NewCounterStore(client, prefix, log)
	if err != nil {
		panic(fmt.Sprintf("failed to create counter store: %v", err))
	}
	return s
}

// buildKey creates the full key with prefix.
func (s *CounterStore) buildKey(key string) string {
	return fmt.Sprintf("%s:%s", s.keyPrefix, key)
}

// Hit increments the counter for key and returns the new count plus the
// window's remaining TTL. The first hit in a window sets the expiry;
// subsequent hits leave it untouched, so counts reset exactly at window
// expiry.
func (s *CounterStore) Hit(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	if key == "" {
		return 0, 0, errors.New("key is required")
	}
	if window <= 0 {
		return 0, 0, errors.New("window must be positive")
	}

	start := time.Now()
	result, err := hitScript.Run(ctx, s.client.client,
		[]string{s.buildKey(key)}, window.Milliseconds()).Slice()
	if err != nil {
		DefaultMetrics.ObserveOperation("counter_hit", time.Since(start), err)
		return 0, 0, fmt.Errorf("counter hit: %w", err)
	}
	DefaultMetrics.ObserveOperation("counter_hit", time.Since(start), nil)

	count := result[0].(int64)
	ttl := time.Duration(result[1].(int64)) * time.Millisecond
	return count, ttl, nil
}

// Count returns the current counter value without incrementing.
// A missing key counts as zero.
func (s *CounterStore) Count(ctx context.Context, key string) (int64, error) {
	if key == "" {
		return 0, errors.New("key is required")
	}

	val, err := s.client.client.Get(ctx, s.buildKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("counter get: %w", err)
	}

	count, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("counter parse %q: %w", val, err)
	}
	return count, nil
}

// SetFlag sets a flag key with TTL only if it does not already exist.
// Returns whether this call set the flag. Used for block-state transitions
// so two racing requests cannot both extend a block.
func (s *CounterStore) SetFlag(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	if key == "" {
		return false, errors.New("key is required")
	}
	if ttl <= 0 {
		return false, errors.New("TTL must be positive")
	}

	set, err := s.client.client.SetNX(ctx, s.buildKey(key), value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("set flag: %w", err)
	}
	return set, nil
}

// FlagTTL returns the remaining TTL of a flag key, or zero when the flag is
// absent or carries no expiry.
func (s *CounterStore) FlagTTL(ctx context.Context, key string) (time.Duration, error) {
	if key == "" {
		return 0, errors.New("key is required")
	}

	ttl, err := s.client.client.TTL(ctx, s.buildKey(key)).Result()
	if err != nil {
		return 0, fmt.Errorf("flag ttl: %w", err)
	}
	if ttl < 0 {
		return 0, nil
	}
	return ttl, nil
}

// TTL returns the remaining window TTL for a counter key, or zero when the
// key is absent.
func (s *CounterStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	return s.FlagTTL(ctx, key)
}

// Clear removes the counter and any related keys.
func (s *CounterStore) Clear(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	fullKeys := make([]string, len(keys))
	for i, key := range keys {
		if key == "" {
			return errors.New("key is required")
		}
		fullKeys[i] = s.buildKey(key)
	}

	if err := s.client.client.Del(ctx, fullKeys...).Err(); err != nil {
		return fmt.Errorf("counter clear: %w", err)
	}
	return nil
}
