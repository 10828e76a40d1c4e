package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/driveport/api/pkg/logger"
)

// State is the rate-limit state of a key.
type State string

const (
	// StateOpen means attempts are being counted and the key is under limit.
	StateOpen State = "open"
	// StateThrottled means the current window's quota is exhausted. The key
	// returns to open when the window expires.
	StateThrottled State = "throttled"
	// StateBlocked means repeated violations escalated into a block with its
	// own expiry, independent of the attempt window.
	StateBlocked State = "blocked"
)

// Result is the outcome of a rate-limit evaluation.
type Result struct {
	Allowed   bool
	State     State
	Limit     int
	Remaining int

	// RetryAfter is how long the caller should wait before retrying.
	// Zero when allowed.
	RetryAfter time.Duration

	// ResetAt is when the current window or block expires.
	ResetAt time.Time
}

// Limiter enforces per-key quotas with fixed windows and escalates repeated
// violations into progressively longer blocks.
//
// The caller composes keys from scope, identity and optionally route; the
// limiter is agnostic to key semantics.
type Limiter struct {
	store           *CounterStore
	ladder          []time.Duration
	violationWindow time.Duration
	logger          *logger.Logger
}

// NewLimiter creates a limiter on top of a counter store. The ladder maps
// the Nth violation inside the violation window to a block duration; the
// last entry applies to all further violations.
func NewLimiter(store *CounterStore, ladder []time.Duration, violationWindow time.Duration, log *logger.Logger) (*Limiter, error) {
	if store == nil {
		return nil, errors.New("counter store is required")
	}
	if len(ladder) == 0 {
		return nil, errors.New("block ladder is required")
	}
	for i, d := range ladder {
		if d <= 0 {
			return nil, fmt.Errorf("block ladder entry %d must be positive", i)
		}
	}
	if violationWindow <= 0 {
		return nil, errors.New("violation window must be positive")
	}
	if log == nil {
		return nil, errors.New("logger is required")
	}

	return &Limiter{
		store:           store,
		ladder:          ladder,
		violationWindow: violationWindow,
		logger:          log,
	}, nil
}

// MustNewLimiter creates a limiter or panics on error.
func MustNewLimiter(store *CounterStore, ladder []time.Duration, violationWindow time.Duration, log *logger.Logger) *Limiter {
	l, err := NewLimiter(store, ladder, violationWindow, log)
	if err != nil {
		panic(fmt.Sprintf("failed to create limiter: %v", err))
	}
	return l
}

func blockKey(key string) string         { return key + ":block" }
func violationKey(key string) string     { return key + ":violations" }
func violationMarkKey(key string) string { return key + ":violated" }

// Hit consumes one attempt for key and evaluates the quota. An active block
// denies without touching the counter. The first attempt past the quota in a
// window registers a violation and may transition the key to blocked.
func (l *Limiter) Hit(ctx context.Context, key string, max int, window time.Duration) (*Result, error) {
	if key == "" {
		return nil, errors.New("key is required")
	}
	if max <= 0 {
		return nil, errors.New("max must be positive")
	}

	if res, err := l.checkBlocked(ctx, key, max); err != nil || res != nil {
		return res, err
	}

	count, ttl, err := l.store.Hit(ctx, key, window)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	if count <= int64(max) {
		DefaultMetrics.RecordRateLimitResult(l.store.keyPrefix, true)
		return &Result{
			Allowed:   true,
			State:     StateOpen,
			Limit:     max,
			Remaining: max - int(count),
			ResetAt:   now.Add(ttl),
		}, nil
	}

	DefaultMetrics.RecordRateLimitResult(l.store.keyPrefix, false)

	// Only the first denial in a window counts as a violation, so a client
	// hammering a throttled key cannot climb the ladder inside a single
	// window. The marker is shared with Check so consuming and
	// failure-counted paths cannot double-register.
	retryAfter := ttl
	state := StateThrottled
	if l.markViolation(ctx, key, ttl) {
		if blockFor, blocked := l.registerViolation(ctx, key); blocked {
			retryAfter = blockFor
			state = StateBlocked
		}
	}

	return &Result{
		Allowed:    false,
		State:      state,
		Limit:      max,
		Remaining:  0,
		RetryAfter: retryAfter,
		ResetAt:    now.Add(retryAfter),
	}, nil
}

// Check evaluates the quota without consuming an attempt. Used by scopes
// that only count failures, where the increment happens in a post-response
// hook via RecordFailure. A denial registers a violation once per window,
// so failure-counted keys escalate into blocks the same way consuming
// keys do.
func (l *Limiter) Check(ctx context.Context, key string, max int) (*Result, error) {
	if key == "" {
		return nil, errors.New("key is required")
	}
	if max <= 0 {
		return nil, errors.New("max must be positive")
	}

	if res, err := l.checkBlocked(ctx, key, max); err != nil || res != nil {
		return res, err
	}

	count, err := l.store.Count(ctx, key)
	if err != nil {
		return nil, err
	}
	ttl, err := l.store.TTL(ctx, key)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	remaining := max - int(count)
	if remaining < 0 {
		remaining = 0
	}

	if count >= int64(max) {
		DefaultMetrics.RecordRateLimitResult(l.store.keyPrefix, false)

		retryAfter := ttl
		state := StateThrottled
		if l.markViolation(ctx, key, ttl) {
			if blockFor, blocked := l.registerViolation(ctx, key); blocked {
				retryAfter = blockFor
				state = StateBlocked
			}
		}

		return &Result{
			Allowed:    false,
			State:      state,
			Limit:      max,
			Remaining:  0,
			RetryAfter: retryAfter,
			ResetAt:    now.Add(retryAfter),
		}, nil
	}

	return &Result{
		Allowed:   true,
		State:     StateOpen,
		Limit:     max,
		Remaining: remaining,
		ResetAt:   now.Add(ttl),
	}, nil
}

// RecordFailure consumes one attempt after a failed downstream response.
// The returned result reflects the state after the increment; callers
// usually ignore it.
func (l *Limiter) RecordFailure(ctx context.Context, key string, max int, window time.Duration) (*Result, error) {
	return l.Hit(ctx, key, max, window)
}

// checkBlocked returns a deny result when an active block exists.
func (l *Limiter) checkBlocked(ctx context.Context, key string, max int) (*Result, error) {
	blockTTL, err := l.store.FlagTTL(ctx, blockKey(key))
	if err != nil {
		return nil, err
	}
	if blockTTL <= 0 {
		return nil, nil
	}

	DefaultMetrics.RecordRateLimitResult(l.store.keyPrefix, false)
	return &Result{
		Allowed:    false,
		State:      StateBlocked,
		Limit:      max,
		Remaining:  0,
		RetryAfter: blockTTL,
		ResetAt:    time.Now().Add(blockTTL),
	}, nil
}

// markViolation records that the current window already produced a
// violation. The marker expires with the window. Returns whether this call
// set it, meaning the caller owns the registration.
func (l *Limiter) markViolation(ctx context.Context, key string, windowTTL time.Duration) bool {
	if windowTTL <= 0 {
		return false
	}
	set, err := l.store.SetFlag(ctx, violationMarkKey(key), "1", windowTTL)
	if err != nil {
		// The deny decision stands either way; escalation is best-effort.
		l.logger.Error("violation marker failed", "key", key, "error", err)
		return false
	}
	return set
}

// registerViolation bumps the violation counter for key and installs the
// block for the matching ladder step. The conditional set means two racing
// requests cannot both install or extend a block. Returns the block
// duration and whether a block is now active.
func (l *Limiter) registerViolation(ctx context.Context, key string) (time.Duration, bool) {
	violations, _, err := l.store.Hit(ctx, violationKey(key), l.violationWindow)
	if err != nil {
		// The deny decision stands either way; escalation is best-effort.
		l.logger.Error("violation count failed", "key", key, "error", err)
		return 0, false
	}

	idx := int(violations) - 1
	if idx >= len(l.ladder) {
		idx = len(l.ladder) - 1
	}
	blockFor := l.ladder[idx]

	set, err := l.store.SetFlag(ctx, blockKey(key), strconv.FormatInt(violations, 10), blockFor)
	if err != nil {
		l.logger.Error("block transition failed", "key", key, "error", err)
		return 0, false
	}
	if !set {
		// A block installed by a racing request is still a block.
		ttl, err := l.store.FlagTTL(ctx, blockKey(key))
		if err != nil || ttl <= 0 {
			return 0, false
		}
		return ttl, true
	}

	DefaultMetrics.RecordBlockTransition(l.store.keyPrefix, idx+1)
	l.logger.Warn("progressive block installed",
		"key", key,
		"violations", violations,
		"block_for", blockFor,
	)
	return blockFor, true
}

// TooManyAttempts reports whether the key is currently over quota or blocked.
// It is a pure query and never registers a violation.
func (l *Limiter) TooManyAttempts(ctx context.Context, key string, max int) (bool, error) {
	blockTTL, err := l.store.FlagTTL(ctx, blockKey(key))
	if err != nil {
		return false, err
	}
	if blockTTL > 0 {
		return true, nil
	}

	count, err := l.store.Count(ctx, key)
	if err != nil {
		return false, err
	}
	return count >= int64(max), nil
}

// AvailableIn returns how long until the key accepts attempts again: the
// block TTL when blocked, otherwise the window TTL. Zero means immediately.
func (l *Limiter) AvailableIn(ctx context.Context, key string) (time.Duration, error) {
	if key == "" {
		return 0, errors.New("key is required")
	}

	blockTTL, err := l.store.FlagTTL(ctx, blockKey(key))
	if err != nil {
		return 0, err
	}
	windowTTL, err := l.store.TTL(ctx, key)
	if err != nil {
		return 0, err
	}
	if blockTTL > windowTTL {
		return blockTTL, nil
	}
	return windowTTL, nil
}

// Remaining returns how many attempts are left in the current window,
// never negative.
func (l *Limiter) Remaining(ctx context.Context, key string, max int) (int, error) {
	count, err := l.store.Count(ctx, key)
	if err != nil {
		return 0, err
	}
	remaining := max - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// Reset clears the counter, violation history and any block for a key.
func (l *Limiter) Reset(ctx context.Context, key string) error {
	if key == "" {
		return errors.New("key is required")
	}
	return l.store.Clear(ctx, key, violationKey(key), blockKey(key), violationMarkKey(key))
}
