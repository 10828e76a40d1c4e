package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/driveport/api/pkg/logger"
	"github.com/driveport/api/pkg/password"
)

const (
	// Key prefixes for token store.
	prefixRevoked      = "revoked"
	prefixRefreshToken = "refresh"
	prefixOTP          = "otp"
	prefixReverify     = "reverify"
)

// TokenStore manages token revocation, refresh tokens and OTP challenges.
type TokenStore struct {
	client *Client
	logger *logger.Logger
}

// NewTokenStore creates a new token store.
func NewTokenStore(client *Client, log *logger.Logger) (*TokenStore, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if log == nil {
		return nil, errors.New("logger is required")
	}

	return &TokenStore{
		client: client,
		logger: log,
	}, nil
}

// MustNewTokenStore creates a token store or panics on error.
func MustNewTokenStore(client *Client, log *logger.Logger) *TokenStore {
	ts, err := NewTokenStore(client, log)
	if err != nil {
		panic(fmt.Sprintf("failed to create token store: %v", err))
	}
	return ts
}

// --- Revocation ---

// RevokeToken marks a token id as revoked. The entry expires together with
// the token itself, so the set never outgrows the live token population.
func (ts *TokenStore) RevokeToken(ctx context.Context, jti string, expiry time.Duration) error {
	if jti == "" {
		return errors.New("jti is required")
	}
	if expiry <= 0 {
		return errors.New("expiry must be positive")
	}

	key := fmt.Sprintf("%s:%s", prefixRevoked, jti)

	if err := ts.client.client.Set(ctx, key, "1", expiry).Err(); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}

	ts.logger.Debug("token revoked", "jti", jti, "expiry", expiry)
	return nil
}

// IsRevoked checks if a token id has been revoked.
func (ts *TokenStore) IsRevoked(ctx context.Context, jti string) (bool, error) {
	if jti == "" {
		return false, errors.New("jti is required")
	}

	key := fmt.Sprintf("%s:%s", prefixRevoked, jti)

	exists, err := ts.client.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("check revocation: %w", err)
	}

	return exists > 0, nil
}

// --- Refresh Tokens ---

// StoreRefreshToken stores a refresh token hash atomically.
func (ts *TokenStore) StoreRefreshToken(ctx context.Context, principalID, tokenHash string, ttl time.Duration) error {
	if principalID == "" {
		return errors.New("principalID is required")
	}
	if tokenHash == "" {
		return errors.New("tokenHash is required")
	}
	if ttl <= 0 {
		return errors.New("TTL must be positive")
	}

	key := fmt.Sprintf("%s:%s:%s", prefixRefreshToken, principalID, tokenHash)
	allKey := fmt.Sprintf("%s:%s:all", prefixRefreshToken, principalID)

	pipe := ts.client.client.TxPipeline()
	pipe.Set(ctx, key, "1", ttl)
	pipe.SAdd(ctx, allKey, tokenHash)
	pipe.Expire(ctx, allKey, ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store refresh token: %w", err)
	}

	ts.logger.Debug("refresh token stored", "principal_id", principalID)
	return nil
}

// ValidateRefreshToken checks if a refresh token is known and unrevoked.
func (ts *TokenStore) ValidateRefreshToken(ctx context.Context, principalID, tokenHash string) (bool, error) {
	if principalID == "" {
		return false, errors.New("principalID is required")
	}
	if tokenHash == "" {
		return false, errors.New("tokenHash is required")
	}

	key := fmt.Sprintf("%s:%s:%s", prefixRefreshToken, principalID, tokenHash)

	exists, err := ts.client.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("validate refresh token: %w", err)
	}

	return exists > 0, nil
}

// RotateRefreshToken atomically revokes the old token and stores the new one.
func (ts *TokenStore) RotateRefreshToken(ctx context.Context, principalID, oldTokenHash, newTokenHash string, ttl time.Duration) error {
	if principalID == "" {
		return errors.New("principalID is required")
	}
	if oldTokenHash == "" || newTokenHash == "" {
		return errors.New("token hashes are required")
	}
	if ttl <= 0 {
		return errors.New("TTL must be positive")
	}

	oldKey := fmt.Sprintf("%s:%s:%s", prefixRefreshToken, principalID, oldTokenHash)
	newKey := fmt.Sprintf("%s:%s:%s", prefixRefreshToken, principalID, newTokenHash)
	allKey := fmt.Sprintf("%s:%s:all", prefixRefreshToken, principalID)

	pipe := ts.client.client.TxPipeline()
	pipe.Del(ctx, oldKey)
	pipe.SRem(ctx, allKey, oldTokenHash)
	pipe.Set(ctx, newKey, "1", ttl)
	pipe.SAdd(ctx, allKey, newTokenHash)
	pipe.Expire(ctx, allKey, ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("rotate refresh token: %w", err)
	}

	ts.logger.Debug("refresh token rotated", "principal_id", principalID)
	return nil
}

// RevokeAllRefreshTokens revokes every refresh token for a principal.
// Used when an account is deactivated or flagged.
func (ts *TokenStore) RevokeAllRefreshTokens(ctx context.Context, principalID string) error {
	if principalID == "" {
		return errors.New("principalID is required")
	}

	allKey := fmt.Sprintf("%s:%s:all", prefixRefreshToken, principalID)

	members, err := ts.client.client.SMembers(ctx, allKey).Result()
	if err != nil {
		return fmt.Errorf("get refresh tokens: %w", err)
	}
	if len(members) == 0 {
		return nil
	}

	pipe := ts.client.client.TxPipeline()
	for _, member := range members {
		pipe.Del(ctx, fmt.Sprintf("%s:%s:%s", prefixRefreshToken, principalID, member))
	}
	pipe.Del(ctx, allKey)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("revoke refresh tokens: %w", err)
	}

	ts.logger.Info("all refresh tokens revoked", "principal_id", principalID, "count", len(members))
	return nil
}

// --- OTP Challenges ---

// consumeOTPScript reads and deletes a challenge in one step, so a passcode
// can be checked exactly once even under concurrent submissions.
var consumeOTPScript = redis.NewScript(`
	local key = KEYS[1]
	local value = redis.call('GET', key)
	if value then
		redis.call('DEL', key)
	end
	return value
`)

// StoreOTPChallenge stores a hashed passcode for a principal with a TTL.
// Any previous outstanding challenge is replaced.
func (ts *TokenStore) StoreOTPChallenge(ctx context.Context, principalID, codeHash string, ttl time.Duration) error {
	if principalID == "" {
		return errors.New("principalID is required")
	}
	if codeHash == "" {
		return errors.New("codeHash is required")
	}
	if ttl <= 0 {
		return errors.New("TTL must be positive")
	}

	key := fmt.Sprintf("%s:%s", prefixOTP, principalID)

	if err := ts.client.client.Set(ctx, key, codeHash, ttl).Err(); err != nil {
		return fmt.Errorf("store otp challenge: %w", err)
	}

	ts.logger.Debug("otp challenge stored", "principal_id", principalID, "ttl", ttl)
	return nil
}

// ConsumeOTPChallenge verifies a submitted passcode against the outstanding
// challenge and removes the challenge regardless of the outcome. Returns
// false when no challenge exists, it has expired, or the code is wrong.
func (ts *TokenStore) ConsumeOTPChallenge(ctx context.Context, principalID, code string, hasher *password.Hasher) (bool, error) {
	if principalID == "" {
		return false, errors.New("principalID is required")
	}
	if code == "" {
		return false, errors.New("code is required")
	}

	key := fmt.Sprintf("%s:%s", prefixOTP, principalID)

	stored, err := consumeOTPScript.Run(ctx, ts.client.client, []string{key}).Text()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("consume otp challenge: %w", err)
	}

	if err := hasher.Verify(code, stored); err != nil {
		if errors.Is(err, password.ErrMismatch) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// --- Re-verification marks ---

// MarkForReverification flags a principal so the next sensitive action
// requires an OTP challenge. Set by the anomaly path, cleared by a
// successful challenge.
func (ts *TokenStore) MarkForReverification(ctx context.Context, principalID string, ttl time.Duration) error {
	if principalID == "" {
		return errors.New("principalID is required")
	}
	if ttl <= 0 {
		return errors.New("TTL must be positive")
	}

	key := fmt.Sprintf("%s:%s", prefixReverify, principalID)

	if err := ts.client.client.Set(ctx, key, "1", ttl).Err(); err != nil {
		return fmt.Errorf("mark reverification: %w", err)
	}

	ts.logger.Info("principal marked for reverification", "principal_id", principalID, "ttl", ttl)
	return nil
}

// NeedsReverification reports whether the principal carries the mark.
func (ts *TokenStore) NeedsReverification(ctx context.Context, principalID string) (bool, error) {
	if principalID == "" {
		return false, errors.New("principalID is required")
	}

	key := fmt.Sprintf("%s:%s", prefixReverify, principalID)

	exists, err := ts.client.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("check reverification: %w", err)
	}
	return exists > 0, nil
}

// ClearReverification removes the mark after a successful challenge.
func (ts *TokenStore) ClearReverification(ctx context.Context, principalID string) error {
	if principalID == "" {
		return errors.New("principalID is required")
	}

	key := fmt.Sprintf("%s:%s", prefixReverify, principalID)

	if err := ts.client.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("clear reverification: %w", err)
	}
	return nil
}
