package jwt

import (
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testGenerator(accessTTL time.Duration) *Generator {
	return NewGenerator(TokenConfig{
		Secret:               "test-secret-0123456789abcdef0123",
		Issuer:               "driveport-test",
		AccessTokenDuration:  accessTTL,
		RefreshTokenDuration: 24 * time.Hour,
	})
}

func TestGenerator_AccessTokenRoundTrip(t *testing.T) {
	g := testGenerator(15 * time.Minute)

	token, expiresAt, err := g.GenerateAccessToken("p1", "driver", "session-1")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(15*time.Minute), expiresAt, 5*time.Second)

	claims, err := g.ValidateAccessToken(token)
	require.NoError(t, err)
	assert.Equal(t, "p1", claims.PrincipalID)
	assert.Equal(t, "driver", claims.Kind)
	assert.Equal(t, "session-1", claims.SessionID)
	assert.Equal(t, TokenTypeAccess, claims.TokenType)
	assert.Equal(t, "driveport-test", claims.Issuer)
	assert.NotEmpty(t, claims.ID, "tokens carry a jti for revocation")
}

func TestGenerator_EmptyPrincipalID(t *testing.T) {
	g := testGenerator(15 * time.Minute)

	_, _, err := g.GenerateAccessToken("", "driver", "s")
	assert.ErrorIs(t, err, ErrEmptyPrincipalID)

	_, _, err = g.GenerateRefreshToken("", "s")
	assert.ErrorIs(t, err, ErrEmptyPrincipalID)
}

func TestGenerator_TokenTypesAreNotInterchangeable(t *testing.T) {
	g := testGenerator(15 * time.Minute)

	pair, err := g.GenerateTokenPair("p1", "driver", "session-1")
	require.NoError(t, err)

	_, err = g.ValidateAccessToken(pair.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidTokenType)

	_, err = g.ValidateRefreshToken(pair.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidTokenType)

	claims, err := g.ValidateRefreshToken(pair.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, TokenTypeRefresh, claims.TokenType)
}

func TestGenerator_RejectsWrongSecret(t *testing.T) {
	g := testGenerator(15 * time.Minute)
	token, _, err := g.GenerateAccessToken("p1", "driver", "s")
	require.NoError(t, err)

	_, err = ValidateToken(token, "another-secret")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestGenerator_RejectsExpiredToken(t *testing.T) {
	g := testGenerator(-time.Minute)
	token, _, err := g.GenerateAccessToken("p1", "driver", "s")
	require.NoError(t, err)

	_, err = g.ValidateAccessToken(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestGenerator_RejectsGarbage(t *testing.T) {
	g := testGenerator(15 * time.Minute)

	for _, token := range []string{"", "garbage", "a.b.c"} {
		_, err := g.ValidateToken(token)
		assert.ErrorIs(t, err, ErrInvalidToken, token)
	}
}

func TestGenerator_LegacyClaimsStillParse(t *testing.T) {
	// Tokens minted by the previous stack carried the role and permission
	// list inline and no token_type. They must still validate so sessions
	// survive the cutover.
	secret := "test-secret-0123456789abcdef0123"
	legacy := Claims{
		PrincipalID: "p1",
		Role:        "admin",
		Permissions: []string{"drivers:read", "audit:read"},
		RegisteredClaims: jwtlib.RegisteredClaims{
			ExpiresAt: jwtlib.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwtlib.NewNumericDate(time.Now()),
		},
	}
	token, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, legacy).SignedString([]byte(secret))
	require.NoError(t, err)

	g := NewGenerator(TokenConfig{Secret: secret})
	claims, err := g.ValidateAccessToken(token)
	require.NoError(t, err, "missing token_type is accepted for legacy access tokens")
	assert.Equal(t, "admin", claims.Role)
	assert.Equal(t, []string{"drivers:read", "audit:read"}, claims.Permissions)
}
