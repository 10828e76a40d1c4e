package redis

import (
	"context"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alicebob/miniredis/v2"

	"github.com/driveport/api/pkg/logger"
	"github.com/driveport/api/pkg/password"
)

func newTestTokenStore(t *testing.T) (*TokenStore, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	ts, err := NewTokenStore(NewFromClient(rdb, logger.NewNop()), logger.NewNop())
	require.NoError(t, err)
	return ts, mr
}

func TestTokenStore_Revocation(t *testing.T) {
	ts, mr := newTestTokenStore(t)
	ctx := context.Background()

	revoked, err := ts.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.False(t, revoked)

	require.NoError(t, ts.RevokeToken(ctx, "jti-1", time.Minute))

	revoked, err = ts.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.True(t, revoked)

	// The revocation entry lives no longer than the token it covers.
	mr.FastForward(2 * time.Minute)

	revoked, err = ts.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.False(t, revoked)
}

func TestTokenStore_RefreshLifecycle(t *testing.T) {
	ts, _ := newTestTokenStore(t)
	ctx := context.Background()

	require.NoError(t, ts.StoreRefreshToken(ctx, "p1", "hash-a", time.Hour))

	valid, err := ts.ValidateRefreshToken(ctx, "p1", "hash-a")
	require.NoError(t, err)
	assert.True(t, valid)

	valid, err = ts.ValidateRefreshToken(ctx, "p1", "hash-unknown")
	require.NoError(t, err)
	assert.False(t, valid)

	// Another principal's token is invisible.
	valid, err = ts.ValidateRefreshToken(ctx, "p2", "hash-a")
	require.NoError(t, err)
	assert.False(t, valid)
}

func TestTokenStore_RotateRefreshToken(t *testing.T) {
	ts, _ := newTestTokenStore(t)
	ctx := context.Background()

	require.NoError(t, ts.StoreRefreshToken(ctx, "p1", "hash-old", time.Hour))
	require.NoError(t, ts.RotateRefreshToken(ctx, "p1", "hash-old", "hash-new", time.Hour))

	valid, err := ts.ValidateRefreshToken(ctx, "p1", "hash-old")
	require.NoError(t, err)
	assert.False(t, valid, "rotated-out token must stop working")

	valid, err = ts.ValidateRefreshToken(ctx, "p1", "hash-new")
	require.NoError(t, err)
	assert.True(t, valid)
}

func TestTokenStore_RevokeAllRefreshTokens(t *testing.T) {
	ts, _ := newTestTokenStore(t)
	ctx := context.Background()

	require.NoError(t, ts.StoreRefreshToken(ctx, "p1", "hash-a", time.Hour))
	require.NoError(t, ts.StoreRefreshToken(ctx, "p1", "hash-b", time.Hour))
	require.NoError(t, ts.StoreRefreshToken(ctx, "p2", "hash-c", time.Hour))

	require.NoError(t, ts.RevokeAllRefreshTokens(ctx, "p1"))

	for _, hash := range []string{"hash-a", "hash-b"} {
		valid, err := ts.ValidateRefreshToken(ctx, "p1", hash)
		require.NoError(t, err)
		assert.False(t, valid, hash)
	}

	valid, err := ts.ValidateRefreshToken(ctx, "p2", "hash-c")
	require.NoError(t, err)
	assert.True(t, valid, "other principals keep their sessions")

	// Idempotent when nothing is left.
	require.NoError(t, ts.RevokeAllRefreshTokens(ctx, "p1"))
}

func TestTokenStore_OTPChallenge(t *testing.T) {
	ts, _ := newTestTokenStore(t)
	ctx := context.Background()
	hasher := password.New(password.WithCost(4))

	codeHash, err := hasher.Hash("482913")
	require.NoError(t, err)
	require.NoError(t, ts.StoreOTPChallenge(ctx, "p1", codeHash, 5*time.Minute))

	ok, err := ts.ConsumeOTPChallenge(ctx, "p1", "482913", hasher)
	require.NoError(t, err)
	assert.True(t, ok)

	// Single use: the same code cannot be replayed.
	ok, err = ts.ConsumeOTPChallenge(ctx, "p1", "482913", hasher)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTokenStore_OTPChallenge_WrongCodeBurnsChallenge(t *testing.T) {
	ts, _ := newTestTokenStore(t)
	ctx := context.Background()
	hasher := password.New(password.WithCost(4))

	codeHash, err := hasher.Hash("482913")
	require.NoError(t, err)
	require.NoError(t, ts.StoreOTPChallenge(ctx, "p1", codeHash, 5*time.Minute))

	ok, err := ts.ConsumeOTPChallenge(ctx, "p1", "000000", hasher)
	require.NoError(t, err)
	assert.False(t, ok)

	// The challenge is gone after a wrong guess; the right code no longer
	// helps.
	ok, err = ts.ConsumeOTPChallenge(ctx, "p1", "482913", hasher)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTokenStore_OTPChallenge_Expires(t *testing.T) {
	ts, mr := newTestTokenStore(t)
	ctx := context.Background()
	hasher := password.New(password.WithCost(4))

	codeHash, err := hasher.Hash("482913")
	require.NoError(t, err)
	require.NoError(t, ts.StoreOTPChallenge(ctx, "p1", codeHash, time.Minute))

	mr.FastForward(2 * time.Minute)

	ok, err := ts.ConsumeOTPChallenge(ctx, "p1", "482913", hasher)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTokenStore_OTPChallenge_ReplacesOutstanding(t *testing.T) {
	ts, _ := newTestTokenStore(t)
	ctx := context.Background()
	hasher := password.New(password.WithCost(4))

	firstHash, err := hasher.Hash("111111")
	require.NoError(t, err)
	require.NoError(t, ts.StoreOTPChallenge(ctx, "p1", firstHash, 5*time.Minute))

	secondHash, err := hasher.Hash("222222")
	require.NoError(t, err)
	require.NoError(t, ts.StoreOTPChallenge(ctx, "p1", secondHash, 5*time.Minute))

	ok, err := ts.ConsumeOTPChallenge(ctx, "p1", "111111", hasher)
	require.NoError(t, err)
	assert.False(t, ok, "superseded challenge must not verify")
}

func TestTokenStore_ReverificationMark(t *testing.T) {
	ts, mr := newTestTokenStore(t)
	ctx := context.Background()

	needs, err := ts.NeedsReverification(ctx, "p1")
	require.NoError(t, err)
	assert.False(t, needs)

	require.NoError(t, ts.MarkForReverification(ctx, "p1", time.Hour))

	needs, err = ts.NeedsReverification(ctx, "p1")
	require.NoError(t, err)
	assert.True(t, needs)

	require.NoError(t, ts.ClearReverification(ctx, "p1"))

	needs, err = ts.NeedsReverification(ctx, "p1")
	require.NoError(t, err)
	assert.False(t, needs)

	// The mark also lapses on its own.
	require.NoError(t, ts.MarkForReverification(ctx, "p2", time.Minute))
	mr.FastForward(2 * time.Minute)

	needs, err = ts.NeedsReverification(ctx, "p2")
	require.NoError(t, err)
	assert.False(t, needs)
}

func TestTokenStore_InputValidation(t *testing.T) {
	ts, _ := newTestTokenStore(t)
	ctx := context.Background()

	assert.Error(t, ts.RevokeToken(ctx, "", time.Minute))
	assert.Error(t, ts.RevokeToken(ctx, "jti", 0))
	assert.Error(t, ts.StoreRefreshToken(ctx, "", "hash", time.Minute))
	assert.Error(t, ts.StoreOTPChallenge(ctx, "p1", "", time.Minute))

	_, err := ts.ConsumeOTPChallenge(ctx, "p1", "", password.New())
	assert.Error(t, err)
}
