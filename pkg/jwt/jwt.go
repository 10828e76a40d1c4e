// Package jwt provides JWT token generation and validation utilities.
package jwt

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	// ErrInvalidToken is returned when the token is invalid.
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken is returned when the token has expired.
	ErrExpiredToken = errors.New("token has expired")
	// ErrEmptyPrincipalID is returned when the principal id is empty.
	ErrEmptyPrincipalID = errors.New("principal id cannot be empty")
	// ErrInvalidTokenType is returned when token type is invalid.
	ErrInvalidTokenType = errors.New("invalid token type")
)

// TokenType represents the type of JWT token.
type TokenType string

const (
	// TokenTypeAccess is a short-lived access token.
	TokenTypeAccess TokenType = "access"
	// TokenTypeRefresh is a long-lived refresh token.
	TokenTypeRefresh TokenType = "refresh"
)

// Claims represents the JWT claims structure.
//
// Tokens carry identity only. Roles and permissions are resolved server-side
// per request, so a role change takes effect within the resolver's cache TTL
// instead of the token lifetime. The legacy Role and Permissions claims are
// still parsed for tokens minted by the previous stack; the auth middleware
// adapts them at the boundary.
type Claims struct {
	PrincipalID string    `json:"id"`
	Kind        string    `json:"kind,omitempty"` // admin, driver, company, system
	SessionID   string    `json:"session_id,omitempty"`
	TokenType   TokenType `json:"token_type,omitempty"`

	// Legacy flat-RBAC claims, adapted at the boundary only.
	Role        string   `json:"role,omitempty"`
	Permissions []string `json:"permissions,omitempty"`

	jwt.RegisteredClaims
}

// TokenConfig holds token generation settings.
type TokenConfig struct {
	Secret               string
	Issuer               string
	AccessTokenDuration  time.Duration
	RefreshTokenDuration time.Duration
}

// TokenPair contains both access and refresh tokens.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// Generator handles JWT token generation and validation.
type Generator struct {
	config TokenConfig
}

// NewGenerator creates a new token generator.
func NewGenerator(config TokenConfig) *Generator {
	return &Generator{config: config}
}

// GenerateAccessToken creates a new access token.
func (g *Generator) GenerateAccessToken(principalID, kind, sessionID string) (string, time.Time, error) {
	if principalID == "" {
		return "", time.Time{}, ErrEmptyPrincipalID
	}

	now := time.Now()
	expiresAt := now.Add(g.config.AccessTokenDuration)

	claims := Claims{
		PrincipalID: principalID,
		Kind:        kind,
		SessionID:   sessionID,
		TokenType:   TokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Issuer:    g.config.Issuer,
			Subject:   principalID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signedToken, err := token.SignedString([]byte(g.config.Secret))
	if err != nil {
		return "", time.Time{}, err
	}

	return signedToken, expiresAt, nil
}

// GenerateRefreshToken creates a new refresh token.
func (g *Generator) GenerateRefreshToken(principalID, sessionID string) (string, time.Time, error) {
	if principalID == "" {
		return "", time.Time{}, ErrEmptyPrincipalID
	}

	now := time.Now()
	expiresAt := now.Add(g.config.RefreshTokenDuration)

	claims := Claims{
		PrincipalID: principalID,
		SessionID:   sessionID,
		TokenType:   TokenTypeRefresh,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Issuer:    g.config.Issuer,
			Subject:   principalID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signedToken, err := token.SignedString([]byte(g.config.Secret))
	if err != nil {
		return "", time.Time{}, err
	}

	return signedToken, expiresAt, nil
}

// GenerateTokenPair creates both access and refresh tokens.
func (g *Generator) GenerateTokenPair(principalID, kind, sessionID string) (*TokenPair, error) {
	accessToken, expiresAt, err := g.GenerateAccessToken(principalID, kind, sessionID)
	if err != nil {
		return nil, err
	}

	refreshToken, _, err := g.GenerateRefreshToken(principalID, sessionID)
	if err != nil {
		return nil, err
	}

	return &TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    expiresAt,
	}, nil
}

// ValidateToken validates the token and returns the claims.
func (g *Generator) ValidateToken(tokenString string) (*Claims, error) {
	return ValidateToken(tokenString, g.config.Secret)
}

// ValidateAccessToken validates an access token specifically.
func (g *Generator) ValidateAccessToken(tokenString string) (*Claims, error) {
	claims, err := g.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}

	if claims.TokenType != TokenTypeAccess && claims.TokenType != "" {
		return nil, ErrInvalidTokenType
	}

	return claims, nil
}

// ValidateRefreshToken validates a refresh token specifically.
func (g *Generator) ValidateRefreshToken(tokenString string) (*Claims, error) {
	claims, err := g.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}

	if claims.TokenType != TokenTypeRefresh {
		return nil, ErrInvalidTokenType
	}

	return claims, nil
}

// ValidateToken validates the token and returns the claims.
func ValidateToken(tokenString, secret string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	return claims, nil
}
