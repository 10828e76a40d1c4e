package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/driveport/api/internal/infra/redis"
	"github.com/driveport/api/internal/metrics"
	"github.com/driveport/api/pkg/apierror"
	"github.com/driveport/api/pkg/domain/principal"
	"github.com/driveport/api/pkg/jwt"
	"github.com/driveport/api/pkg/logger"
)

// Auth-related context keys, using logger.ContextKey so the logger can pick
// up the principal ID automatically.
const (
	PrincipalIDKey                  = logger.ContextKeyPrincipalID
	PrincipalKey  logger.ContextKey = "principal"
	ClaimsKey     logger.ContextKey = "claims"
	AbilitiesKey  logger.ContextKey = "abilities"
)

// AccessTokenCookie is the cookie consulted when no Authorization header is
// present.
const AccessTokenCookie = "access_token"

// GetPrincipalID extracts the authenticated principal ID from context.
func GetPrincipalID(ctx context.Context) string {
	if id, ok := ctx.Value(PrincipalIDKey).(string); ok {
		return id
	}
	return ""
}

// GetPrincipal extracts the loaded principal from context. Nil when the
// request is unauthenticated or the principal step has not run.
func GetPrincipal(ctx context.Context) *principal.Principal {
	if p, ok := ctx.Value(PrincipalKey).(*principal.Principal); ok {
		return p
	}
	return nil
}

// GetClaims extracts the validated token claims from context.
func GetClaims(ctx context.Context) *jwt.Claims {
	if claims, ok := ctx.Value(ClaimsKey).(*jwt.Claims); ok {
		return claims
	}
	return nil
}

// GetAbilities extracts the resolved permission set from context. Only set
// after the guard's permission step has resolved the principal.
func GetAbilities(ctx context.Context) []string {
	if abilities, ok := ctx.Value(AbilitiesKey).([]string); ok {
		return abilities
	}
	return nil
}

// extractToken pulls the bearer token from the Authorization header, falling
// back to the access-token cookie.
func extractToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		parts := strings.SplitN(auth, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}

	if cookie, err := r.Cookie(AccessTokenCookie); err == nil {
		return cookie.Value
	}
	return ""
}

// Authenticator validates tokens and checks revocation.
type Authenticator struct {
	tokens     *jwt.Generator
	revocation redis.RevocationChecker
	log        *logger.Logger
}

// NewAuthenticator creates an authenticator. The revocation checker may be
// nil, in which case revoked tokens are not detected until they expire.
func NewAuthenticator(tokens *jwt.Generator, revocation redis.RevocationChecker, log *logger.Logger) *Authenticator {
	return &Authenticator{
		tokens:     tokens,
		revocation: revocation,
		log:        log,
	}
}

// Authenticate validates the request's token and attaches identity to the
// context. Missing credentials yield AUTH_REQUIRED, expired tokens
// TOKEN_EXPIRED, everything else TOKEN_INVALID. Revocation-store errors deny
// with TOKEN_INVALID rather than letting a possibly revoked token through.
func (a *Authenticator) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := GetRequestID(r.Context())

		token := extractToken(r)
		if token == "" {
			metrics.AuthFailuresTotal.WithLabelValues("missing_credentials").Inc()
			apierror.AuthRequired().WriteJSONWithRequestID(w, requestID)
			return
		}

		claims, err := a.tokens.ValidateAccessToken(token)
		if err != nil {
			switch err {
			case jwt.ErrExpiredToken:
				metrics.AuthFailuresTotal.WithLabelValues("token_expired").Inc()
				apierror.TokenExpired().WriteJSONWithRequestID(w, requestID)
			default:
				metrics.AuthFailuresTotal.WithLabelValues("token_invalid").Inc()
				a.log.Warn("token validation failed",
					"error", err,
					"ip", ClientIP(r),
					"request_id", requestID,
				)
				apierror.TokenInvalid().WriteJSONWithRequestID(w, requestID)
			}
			return
		}

		if a.revocation != nil && claims.ID != "" {
			revoked, err := a.revocation.IsRevoked(r.Context(), claims.ID)
			if err != nil {
				a.log.Error("revocation check failed",
					"error", err,
					"request_id", requestID,
				)
				metrics.AuthFailuresTotal.WithLabelValues("revocation_check_failed").Inc()
				apierror.TokenInvalid().WriteJSONWithRequestID(w, requestID)
				return
			}
			if revoked {
				metrics.AuthFailuresTotal.WithLabelValues("token_revoked").Inc()
				apierror.TokenInvalid().WriteJSONWithRequestID(w, requestID)
				return
			}
		}

		ctx := context.WithValue(r.Context(), PrincipalIDKey, claims.PrincipalID)
		ctx = context.WithValue(ctx, ClaimsKey, claims)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// AuthenticateOptional attaches identity when a valid token is present but
// lets unauthenticated requests through. Used for routes that rate-limit by
// IP only.
func (a *Authenticator) AuthenticateOptional(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractToken(r)
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}

		claims, err := a.tokens.ValidateAccessToken(token)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}

		ctx := context.WithValue(r.Context(), PrincipalIDKey, claims.PrincipalID)
		ctx = context.WithValue(ctx, ClaimsKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// withDeadline bounds store calls made during the deny path so a slow Redis
// cannot hold the request open.
func withDeadline(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}
