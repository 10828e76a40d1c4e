package redis

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driveport/api/pkg/logger"
)

func newTestStore(t *testing.T) (*CounterStore, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	store, err := NewCounterStore(NewFromClient(rdb, logger.NewNop()), "ratelimit", logger.NewNop())
	require.NoError(t, err)
	return store, mr
}

func newTestLimiter(t *testing.T, ladder []time.Duration, violationWindow time.Duration) (*Limiter, *miniredis.Miniredis) {
	t.Helper()

	store, mr := newTestStore(t)
	limiter, err := NewLimiter(store, ladder, violationWindow, logger.NewNop())
	require.NoError(t, err)
	return limiter, mr
}

func TestNewLimiter_Validation(t *testing.T) {
	store, _ := newTestStore(t)

	_, err := NewLimiter(nil, []time.Duration{time.Minute}, time.Hour, logger.NewNop())
	assert.Error(t, err)

	_, err = NewLimiter(store, nil, time.Hour, logger.NewNop())
	assert.Error(t, err)

	_, err = NewLimiter(store, []time.Duration{time.Minute, 0}, time.Hour, logger.NewNop())
	assert.Error(t, err)

	_, err = NewLimiter(store, []time.Duration{time.Minute}, 0, logger.NewNop())
	assert.Error(t, err)

	_, err = NewLimiter(store, []time.Duration{time.Minute}, time.Hour, nil)
	assert.Error(t, err)
}

func TestLimiter_Hit_WithinQuota(t *testing.T) {
	limiter, _ := newTestLimiter(t, []time.Duration{5 * time.Minute}, 24*time.Hour)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res, err := limiter.Hit(ctx, "login:ip:203.0.113.1", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
		assert.Equal(t, StateOpen, res.State)
		assert.Equal(t, 3, res.Limit)
		assert.Equal(t, 2-i, res.Remaining)
	}
}

func TestLimiter_Hit_FirstOverQuotaInstallsBlock(t *testing.T) {
	limiter, _ := newTestLimiter(t, []time.Duration{5 * time.Minute}, 24*time.Hour)
	ctx := context.Background()
	key := "login:ip:203.0.113.2"

	for i := 0; i < 2; i++ {
		_, err := limiter.Hit(ctx, key, 2, time.Minute)
		require.NoError(t, err)
	}

	res, err := limiter.Hit(ctx, key, 2, time.Minute)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, StateBlocked, res.State)
	assert.Equal(t, 0, res.Remaining)
	assert.InDelta(t, (5 * time.Minute).Seconds(), res.RetryAfter.Seconds(), 1)
}

func TestLimiter_Hit_HammeringBlockedKeyDoesNotEscalate(t *testing.T) {
	limiter, _ := newTestLimiter(t, []time.Duration{5 * time.Minute, time.Hour}, 24*time.Hour)
	ctx := context.Background()
	key := "otp:principal:p1"

	for i := 0; i < 2; i++ {
		_, err := limiter.Hit(ctx, key, 1, time.Minute)
		require.NoError(t, err)
	}

	// Repeated attempts against an active block keep denying at the same
	// ladder step and never touch the attempt counter.
	for i := 0; i < 5; i++ {
		res, err := limiter.Hit(ctx, key, 1, time.Minute)
		require.NoError(t, err)
		assert.False(t, res.Allowed)
		assert.Equal(t, StateBlocked, res.State)
		assert.LessOrEqual(t, res.RetryAfter, 5*time.Minute)
	}

	violations, err := limiter.store.Count(ctx, violationKey(key))
	require.NoError(t, err)
	assert.Equal(t, int64(1), violations)
}

func TestLimiter_LadderEscalatesAcrossWindows(t *testing.T) {
	ladder := []time.Duration{5 * time.Minute, 15 * time.Minute, time.Hour}
	limiter, mr := newTestLimiter(t, ladder, 24*time.Hour)
	ctx := context.Background()
	key := "login:ip:203.0.113.3"

	trip := func() *Result {
		t.Helper()
		var res *Result
		var err error
		for i := 0; i < 2; i++ {
			res, err = limiter.Hit(ctx, key, 1, time.Minute)
			require.NoError(t, err)
		}
		return res
	}

	res := trip()
	assert.Equal(t, StateBlocked, res.State)
	assert.InDelta(t, ladder[0].Seconds(), res.RetryAfter.Seconds(), 1)

	// Let the first block and attempt window lapse; the violation history
	// lives on inside its own window.
	mr.FastForward(6 * time.Minute)

	res = trip()
	assert.Equal(t, StateBlocked, res.State)
	assert.InDelta(t, ladder[1].Seconds(), res.RetryAfter.Seconds(), 1)

	mr.FastForward(16 * time.Minute)

	res = trip()
	assert.InDelta(t, ladder[2].Seconds(), res.RetryAfter.Seconds(), 1)

	// The last ladder entry caps further escalation.
	mr.FastForward(2 * time.Hour)

	res = trip()
	assert.InDelta(t, ladder[2].Seconds(), res.RetryAfter.Seconds(), 1)
}

func TestLimiter_ViolationWindowExpiryResetsLadder(t *testing.T) {
	ladder := []time.Duration{5 * time.Minute, time.Hour}
	limiter, mr := newTestLimiter(t, ladder, 10*time.Minute)
	ctx := context.Background()
	key := "login:ip:203.0.113.4"

	for i := 0; i < 2; i++ {
		_, err := limiter.Hit(ctx, key, 1, time.Minute)
		require.NoError(t, err)
	}

	// Past the violation window the history is gone, so the next violation
	// starts over at the first ladder step.
	mr.FastForward(11 * time.Minute)

	var res *Result
	for i := 0; i < 2; i++ {
		var err error
		res, err = limiter.Hit(ctx, key, 1, time.Minute)
		require.NoError(t, err)
	}
	assert.Equal(t, StateBlocked, res.State)
	assert.InDelta(t, ladder[0].Seconds(), res.RetryAfter.Seconds(), 1)
}

func TestLimiter_Check_DoesNotConsume(t *testing.T) {
	limiter, _ := newTestLimiter(t, []time.Duration{5 * time.Minute}, 24*time.Hour)
	ctx := context.Background()
	key := "login:ip:203.0.113.5"

	for i := 0; i < 10; i++ {
		res, err := limiter.Check(ctx, key, 3)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
		assert.Equal(t, 3, res.Remaining)
	}

	count, err := limiter.store.Count(ctx, key)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestLimiter_RecordFailure_CountsTowardQuota(t *testing.T) {
	limiter, _ := newTestLimiter(t, []time.Duration{5 * time.Minute}, 24*time.Hour)
	ctx := context.Background()
	key := "login:ip:203.0.113.6"

	for i := 0; i < 3; i++ {
		_, err := limiter.RecordFailure(ctx, key, 3, 15*time.Minute)
		require.NoError(t, err)
	}

	// Exhausting the quota through recorded failures escalates on the next
	// evaluation, same as a consuming scope would.
	res, err := limiter.Check(ctx, key, 3)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, StateBlocked, res.State)
	assert.InDelta(t, (5 * time.Minute).Seconds(), res.RetryAfter.Seconds(), 1)
}

func TestLimiter_Check_DenialsClimbLadderAcrossWindows(t *testing.T) {
	ladder := []time.Duration{5 * time.Minute, time.Hour}
	limiter, mr := newTestLimiter(t, ladder, 24*time.Hour)
	ctx := context.Background()
	key := "login:ip:203.0.113.10"

	exhaust := func() {
		t.Helper()
		for i := 0; i < 2; i++ {
			res, err := limiter.Check(ctx, key, 2)
			require.NoError(t, err)
			require.True(t, res.Allowed)
			_, err = limiter.RecordFailure(ctx, key, 2, 15*time.Minute)
			require.NoError(t, err)
		}
	}

	exhaust()
	res, err := limiter.Check(ctx, key, 2)
	require.NoError(t, err)
	assert.Equal(t, StateBlocked, res.State)
	assert.InDelta(t, ladder[0].Seconds(), res.RetryAfter.Seconds(), 1)

	// Repeated denials inside the same window keep the block at the same
	// ladder step.
	res, err = limiter.Check(ctx, key, 2)
	require.NoError(t, err)
	assert.Equal(t, StateBlocked, res.State)
	violations, err := limiter.store.Count(ctx, violationKey(key))
	require.NoError(t, err)
	assert.Equal(t, int64(1), violations)

	// Past the block and attempt window another round of failures trips the
	// next ladder step; the violation history persists in its own window.
	mr.FastForward(16 * time.Minute)

	exhaust()
	res, err = limiter.Check(ctx, key, 2)
	require.NoError(t, err)
	assert.Equal(t, StateBlocked, res.State)
	assert.InDelta(t, ladder[1].Seconds(), res.RetryAfter.Seconds(), 1)
}

func TestLimiter_WindowExpiryReopens(t *testing.T) {
	limiter, mr := newTestLimiter(t, []time.Duration{5 * time.Minute}, 24*time.Hour)
	ctx := context.Background()
	key := "api:principal:p2"

	for i := 0; i < 2; i++ {
		_, err := limiter.Hit(ctx, key, 3, time.Minute)
		require.NoError(t, err)
	}

	mr.FastForward(2 * time.Minute)

	res, err := limiter.Hit(ctx, key, 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, 2, res.Remaining)
}

func TestLimiter_TooManyAttempts(t *testing.T) {
	limiter, _ := newTestLimiter(t, []time.Duration{5 * time.Minute}, 24*time.Hour)
	ctx := context.Background()
	key := "login:ip:203.0.113.7"

	over, err := limiter.TooManyAttempts(ctx, key, 2)
	require.NoError(t, err)
	assert.False(t, over)

	for i := 0; i < 2; i++ {
		_, err := limiter.Hit(ctx, key, 2, time.Minute)
		require.NoError(t, err)
	}

	over, err = limiter.TooManyAttempts(ctx, key, 2)
	require.NoError(t, err)
	assert.True(t, over)

	// The query has no side effects: no violation is recorded and no block
	// installed for a key that merely sits at its quota.
	violations, err := limiter.store.Count(ctx, violationKey(key))
	require.NoError(t, err)
	assert.Zero(t, violations)
	blockTTL, err := limiter.store.FlagTTL(ctx, blockKey(key))
	require.NoError(t, err)
	assert.Zero(t, blockTTL)
}

func TestLimiter_ConcurrentHitsCountEachAttempt(t *testing.T) {
	limiter, _ := newTestLimiter(t, []time.Duration{5 * time.Minute}, 24*time.Hour)
	ctx := context.Background()
	key := "api:principal:p3"
	const attempts = 20

	var wg sync.WaitGroup
	errs := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := limiter.Hit(ctx, key, 50, time.Minute)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	// The increment is a single atomic script, so racing hits never lose
	// or double an attempt.
	count, err := limiter.store.Count(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(attempts), count)

	remaining, err := limiter.Remaining(ctx, key, 50)
	require.NoError(t, err)
	assert.Equal(t, 50-attempts, remaining)
}

func TestLimiter_AvailableIn(t *testing.T) {
	limiter, _ := newTestLimiter(t, []time.Duration{10 * time.Minute}, 24*time.Hour)
	ctx := context.Background()
	key := "login:ip:203.0.113.8"

	avail, err := limiter.AvailableIn(ctx, key)
	require.NoError(t, err)
	assert.Zero(t, avail)

	for i := 0; i < 2; i++ {
		_, err := limiter.Hit(ctx, key, 1, time.Minute)
		require.NoError(t, err)
	}

	// The block outlives the attempt window, so it wins.
	avail, err = limiter.AvailableIn(ctx, key)
	require.NoError(t, err)
	assert.Greater(t, avail, time.Minute)
}

func TestLimiter_Reset(t *testing.T) {
	limiter, _ := newTestLimiter(t, []time.Duration{5 * time.Minute, time.Hour}, 24*time.Hour)
	ctx := context.Background()
	key := "login:ip:203.0.113.9"

	for i := 0; i < 2; i++ {
		_, err := limiter.Hit(ctx, key, 1, time.Minute)
		require.NoError(t, err)
	}

	require.NoError(t, limiter.Reset(ctx, key))

	res, err := limiter.Hit(ctx, key, 1, time.Minute)
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	// Violation history was cleared too, so the next trip starts at the
	// bottom of the ladder.
	res, err = limiter.Hit(ctx, key, 1, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, StateBlocked, res.State)
	assert.InDelta(t, (5 * time.Minute).Seconds(), res.RetryAfter.Seconds(), 1)
}

func TestCounterStore_HitKeepsWindowExpiry(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	count, ttl, err := store.Hit(ctx, "w:key", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
	assert.InDelta(t, time.Minute.Seconds(), ttl.Seconds(), 1)

	mr.FastForward(30 * time.Second)

	// Subsequent hits never extend the window.
	count, ttl, err = store.Hit(ctx, "w:key", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
	assert.LessOrEqual(t, ttl, 30*time.Second)
}

func TestCounterStore_SetFlagIsConditional(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	set, err := store.SetFlag(ctx, "f:key", "1", time.Minute)
	require.NoError(t, err)
	assert.True(t, set)

	set, err = store.SetFlag(ctx, "f:key", "2", time.Hour)
	require.NoError(t, err)
	assert.False(t, set)

	ttl, err := store.FlagTTL(ctx, "f:key")
	require.NoError(t, err)
	assert.LessOrEqual(t, ttl, time.Minute)
}
