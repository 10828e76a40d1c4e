package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/driveport/api/pkg/logger"
)

// recordFingerprintScript inserts a device hash into the principal's
// recent-set, evicting the least recently seen entries once the set is over
// capacity. Returns whether the hash was already known and the set size
// before the insert. Runs as one script so a burst of logins from the same
// principal cannot double-evict.
var recordFingerprintScript = redis.NewScript(`
	local key = KEYS[1]
	local hash = ARGV[1]
	local now = tonumber(ARGV[2])
	local cap = tonumber(ARGV[3])
	local ttl_ms = tonumber(ARGV[4])

	local known = redis.call('ZSCORE', key, hash)
	local prior = redis.call('ZCARD', key)

	redis.call('ZADD', key, now, hash)

	local size = redis.call('ZCARD', key)
	if size > cap then
		redis.call('ZREMRANGEBYRANK', key, 0, size - cap - 1)
	end
	redis.call('PEXPIRE', key, ttl_ms)

	if known then
		return {1, prior}
	end
	return {0, prior}
`)

// recordIPScript marks a principal as seen from an IP inside a trailing
// window and returns the distinct principal count for that window.
var recordIPScript = redis.NewScript(`
	local key = KEYS[1]
	local principal = ARGV[1]
	local now = tonumber(ARGV[2])
	local window_start = tonumber(ARGV[3])
	local window_ms = tonumber(ARGV[4])

	redis.call('ZREMRANGEBYSCORE', key, '-inf', window_start)
	redis.call('ZADD', key, now, principal)
	redis.call('PEXPIRE', key, window_ms)

	return redis.call('ZCARD', key)
`)

// FingerprintStore keeps a bounded recent-set of device hashes per
// principal, most recently seen retained.
type FingerprintStore struct {
	client *Client
	cap    int
	ttl    time.Duration
	logger *logger.Logger
}

// NewFingerprintStore creates a fingerprint store with the given set
// capacity and entry TTL.
func NewFingerprintStore(client *Client, cap int, ttl time.Duration, log *logger.Logger) (*FingerprintStore, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if cap < 1 {
		return nil, errors.New("capacity must be at least 1")
	}
	if ttl <= 0 {
		return nil, errors.New("TTL must be positive")
	}
	if log == nil {
		return nil, errors.New("logger is required")
	}

	return &FingerprintStore{
		client: client,
		cap:    cap,
		ttl:    ttl,
		logger: log,
	}, nil
}

// Record adds the hash to the principal's recent-set, evicting the oldest
// entry when the set is at capacity. Returns whether the hash was already
// known and the set size before the insert.
func (fs *FingerprintStore) Record(ctx context.Context, principalID, hash string) (bool, int, error) {
	if principalID == "" {
		return false, 0, errors.New("principalID is required")
	}
	if hash == "" {
		return false, 0, errors.New("hash is required")
	}

	key := fmt.Sprintf("fingerprint:%s", principalID)

	result, err := recordFingerprintScript.Run(ctx, fs.client.client, []string{key},
		hash, time.Now().UnixMilli(), fs.cap, fs.ttl.Milliseconds()).Slice()
	if err != nil {
		return false, 0, fmt.Errorf("record fingerprint: %w", err)
	}

	known := result[0].(int64) == 1
	prior := int(result[1].(int64))
	return known, prior, nil
}

// Known returns the hashes currently in the principal's recent-set, most
// recently seen first.
func (fs *FingerprintStore) Known(ctx context.Context, principalID string) ([]string, error) {
	if principalID == "" {
		return nil, errors.New("principalID is required")
	}

	key := fmt.Sprintf("fingerprint:%s", principalID)

	hashes, err := fs.client.client.ZRevRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list fingerprints: %w", err)
	}
	return hashes, nil
}

// IPActivityStore counts distinct principals per IP over a trailing window.
type IPActivityStore struct {
	client *Client
	window time.Duration
	logger *logger.Logger
}

// NewIPActivityStore creates an IP activity store with the given window.
func NewIPActivityStore(client *Client, window time.Duration, log *logger.Logger) (*IPActivityStore, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if window <= 0 {
		return nil, errors.New("window must be positive")
	}
	if log == nil {
		return nil, errors.New("logger is required")
	}

	return &IPActivityStore{
		client: client,
		window: window,
		logger: log,
	}, nil
}

// RecordPrincipal marks the principal as seen from the IP and returns how
// many distinct principals the IP has produced inside the current window.
func (is *IPActivityStore) RecordPrincipal(ctx context.Context, ip, principalID string) (int, error) {
	if ip == "" {
		return 0, errors.New("ip is required")
	}
	if principalID == "" {
		return 0, errors.New("principalID is required")
	}

	key := fmt.Sprintf("ipactivity:%s", ip)
	now := time.Now()

	distinct, err := recordIPScript.Run(ctx, is.client.client, []string{key},
		principalID,
		now.UnixMilli(),
		now.Add(-is.window).UnixMilli(),
		is.window.Milliseconds(),
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("record ip activity: %w", err)
	}

	return int(distinct), nil
}
