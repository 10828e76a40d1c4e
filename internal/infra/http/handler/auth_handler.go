package handler

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/driveport/api/internal/infra/http/middleware"
	"github.com/driveport/api/internal/infra/redis"
	"github.com/driveport/api/pkg/apierror"
	"github.com/driveport/api/pkg/domain/principal"
	"github.com/driveport/api/pkg/jwt"
	"github.com/driveport/api/pkg/logger"
	"github.com/driveport/api/pkg/password"
)

// ErrInvalidCredentials is returned by credential verifiers when the
// identifier/secret pair does not match.
var ErrInvalidCredentials = principal.ErrInvalidCredentials

// CredentialVerifier checks a login identifier and secret against whatever
// backs authentication (drivers table, company accounts). Implementations
// live outside this package.
type CredentialVerifier interface {
	Verify(ctx context.Context, identifier, secret string) (*principal.Principal, error)
}

// OTPSender delivers a one-time passcode out of band. The jobs client
// implements it by enqueueing a notification task.
type OTPSender interface {
	SendOTP(ctx context.Context, principalID, code string) error
}

// AuthHandler serves login, token refresh, logout, and the OTP
// re-verification challenge.
type AuthHandler struct {
	verifier   CredentialVerifier
	tokens     *jwt.Generator
	store      *redis.TokenStore
	hasher     *password.Hasher
	sender     OTPSender
	otpLength  int
	otpTTL     time.Duration
	refreshTTL time.Duration
	log        *logger.Logger
}

// AuthHandlerConfig wires the auth handler.
type AuthHandlerConfig struct {
	Verifier   CredentialVerifier
	Tokens     *jwt.Generator
	Store      *redis.TokenStore
	Hasher     *password.Hasher
	Sender     OTPSender
	OTPLength  int
	OTPTTL     time.Duration
	RefreshTTL time.Duration
	Log        *logger.Logger
}

// NewAuthHandler creates the auth handler.
func NewAuthHandler(cfg AuthHandlerConfig) *AuthHandler {
	if cfg.OTPLength <= 0 {
		cfg.OTPLength = password.DefaultOTPLength
	}
	if cfg.OTPTTL <= 0 {
		cfg.OTPTTL = 10 * time.Minute
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = 30 * 24 * time.Hour
	}
	return &AuthHandler{
		verifier:   cfg.Verifier,
		tokens:     cfg.Tokens,
		store:      cfg.Store,
		hasher:     cfg.Hasher,
		sender:     cfg.Sender,
		otpLength:  cfg.OTPLength,
		otpTTL:     cfg.OTPTTL,
		refreshTTL: cfg.RefreshTTL,
		log:        cfg.Log,
	}
}

// LoginRequest is the login payload.
type LoginRequest struct {
	Identifier string `json:"identifier" validate:"required,min=3"`
	Secret     string `json:"secret" validate:"required,min=4"`
}

// TokenResponse carries an issued token pair.
type TokenResponse struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Login verifies credentials and issues a token pair. Failed attempts count
// against the login rate-limit scope.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if apiErr := decodeJSON(r, &req); apiErr != nil {
		apiErr.WriteJSON(w)
		return
	}

	p, err := h.verifier.Verify(r.Context(), req.Identifier, req.Secret)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			apierror.New(http.StatusUnauthorized, apierror.CodeAuthRequired, "Invalid credentials").WriteJSON(w)
			return
		}
		h.log.Error("credential verification failed", "error", err)
		apierror.InternalError(err).WriteJSON(w)
		return
	}

	if !p.IsActive() {
		apierror.New(http.StatusForbidden, apierror.CodeInsufficientPermission, "Account is not active").WriteJSON(w)
		return
	}

	pair, err := h.tokens.GenerateTokenPair(p.ID().String(), string(p.Kind()), uuid.New().String())
	if err != nil {
		apierror.InternalError(err).WriteJSON(w)
		return
	}

	if err := h.store.StoreRefreshToken(r.Context(), p.ID().String(), hashToken(pair.RefreshToken), h.refreshTTL); err != nil {
		h.log.Error("refresh token store failed", "error", err)
		apierror.InternalError(err).WriteJSON(w)
		return
	}

	respondJSON(w, http.StatusOK, TokenResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresAt:    pair.ExpiresAt,
	})
}

// RefreshRequest is the token refresh payload.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

// Refresh validates and rotates a refresh token.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if apiErr := decodeJSON(r, &req); apiErr != nil {
		apiErr.WriteJSON(w)
		return
	}

	claims, err := h.tokens.ValidateRefreshToken(req.RefreshToken)
	if err != nil {
		if errors.Is(err, jwt.ErrExpiredToken) {
			apierror.TokenExpired().WriteJSON(w)
			return
		}
		apierror.TokenInvalid().WriteJSON(w)
		return
	}

	oldHash := hashToken(req.RefreshToken)
	valid, err := h.store.ValidateRefreshToken(r.Context(), claims.PrincipalID, oldHash)
	if err != nil {
		apierror.InternalError(err).WriteJSON(w)
		return
	}
	if !valid {
		apierror.TokenInvalid().WriteJSON(w)
		return
	}

	pair, err := h.tokens.GenerateTokenPair(claims.PrincipalID, claims.Kind, uuid.New().String())
	if err != nil {
		apierror.InternalError(err).WriteJSON(w)
		return
	}

	if err := h.store.RotateRefreshToken(r.Context(), claims.PrincipalID, oldHash, hashToken(pair.RefreshToken), h.refreshTTL); err != nil {
		apierror.InternalError(err).WriteJSON(w)
		return
	}

	respondJSON(w, http.StatusOK, TokenResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresAt:    pair.ExpiresAt,
	})
}

// Logout revokes the current access token and all refresh tokens.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaims(r.Context())
	if claims == nil {
		apierror.AuthRequired().WriteJSON(w)
		return
	}

	if claims.ID != "" && claims.ExpiresAt != nil {
		if ttl := time.Until(claims.ExpiresAt.Time); ttl > 0 {
			if err := h.store.RevokeToken(r.Context(), claims.ID, ttl); err != nil {
				h.log.Error("token revocation failed", "error", err)
				apierror.InternalError(err).WriteJSON(w)
				return
			}
		}
	}

	if err := h.store.RevokeAllRefreshTokens(r.Context(), claims.PrincipalID); err != nil {
		h.log.Warn("refresh token revocation failed", "error", err, "principal_id", claims.PrincipalID)
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
}

// RequestOTP issues a one-time passcode for re-verification. The code is
// bcrypt-hashed at rest and delivered out of band; the response never
// contains it.
func (h *AuthHandler) RequestOTP(w http.ResponseWriter, r *http.Request) {
	principalID := middleware.GetPrincipalID(r.Context())
	if principalID == "" {
		apierror.AuthRequired().WriteJSON(w)
		return
	}

	code, err := password.GenerateOTP(h.otpLength)
	if err != nil {
		apierror.InternalError(err).WriteJSON(w)
		return
	}

	codeHash, err := h.hasher.Hash(code)
	if err != nil {
		apierror.InternalError(err).WriteJSON(w)
		return
	}

	if err := h.store.StoreOTPChallenge(r.Context(), principalID, codeHash, h.otpTTL); err != nil {
		apierror.InternalError(err).WriteJSON(w)
		return
	}

	if h.sender != nil {
		if err := h.sender.SendOTP(r.Context(), principalID, code); err != nil {
			h.log.Error("otp delivery failed", "error", err, "principal_id", principalID)
		}
	}

	respondJSON(w, http.StatusAccepted, map[string]any{
		"status":     "challenge_sent",
		"expires_in": int(h.otpTTL.Seconds()),
	})
}

// VerifyOTPRequest is the OTP verification payload.
type VerifyOTPRequest struct {
	Code string `json:"code" validate:"required,numeric"`
}

// VerifyOTP consumes the pending challenge. Success clears the principal's
// re-verification mark; failure counts against the otp rate-limit scope.
func (h *AuthHandler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	principalID := middleware.GetPrincipalID(r.Context())
	if principalID == "" {
		apierror.AuthRequired().WriteJSON(w)
		return
	}

	var req VerifyOTPRequest
	if apiErr := decodeJSON(r, &req); apiErr != nil {
		apiErr.WriteJSON(w)
		return
	}

	ok, err := h.store.ConsumeOTPChallenge(r.Context(), principalID, req.Code, h.hasher)
	if err != nil {
		apierror.InternalError(err).WriteJSON(w)
		return
	}
	if !ok {
		apierror.New(http.StatusUnauthorized, apierror.CodeAuthRequired, "Invalid or expired code").WriteJSON(w)
		return
	}

	if err := h.store.ClearReverification(r.Context(), principalID); err != nil {
		h.log.Warn("reverification clear failed", "error", err, "principal_id", principalID)
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "verified"})
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
