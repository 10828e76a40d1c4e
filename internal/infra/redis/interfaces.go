package redis

import (
	"context"
	"time"

	"github.com/driveport/api/pkg/domain/accesscontrol"
	"github.com/driveport/api/pkg/domain/anomaly"
)

// Pinger is an interface for health check operations.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Closer is an interface for graceful shutdown.
type Closer interface {
	Close() error
}

// RateLimiter is the limiter surface consumed by the HTTP middleware.
// Use this interface in application code for better testability.
type RateLimiter interface {
	// Hit consumes one attempt and evaluates the quota.
	Hit(ctx context.Context, key string, max int, window time.Duration) (*Result, error)

	// Check evaluates the quota without consuming an attempt. A denial may
	// register a violation and escalate the key into a block.
	Check(ctx context.Context, key string, max int) (*Result, error)

	// RecordFailure consumes one attempt after a failed downstream response.
	RecordFailure(ctx context.Context, key string, max int, window time.Duration) (*Result, error)

	// TooManyAttempts reports whether the key is over quota or blocked.
	TooManyAttempts(ctx context.Context, key string, max int) (bool, error)

	// AvailableIn returns how long until the key accepts attempts again.
	AvailableIn(ctx context.Context, key string) (time.Duration, error)

	// Remaining returns the attempts left in the current window.
	Remaining(ctx context.Context, key string, max int) (int, error)

	// Reset clears the counter, violations and block for a key.
	Reset(ctx context.Context, key string) error
}

// RevocationChecker is the token store surface the auth middleware needs.
type RevocationChecker interface {
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// Ensure implementations satisfy interfaces.
var (
	_ Pinger                        = (*Client)(nil)
	_ Closer                        = (*Client)(nil)
	_ RateLimiter                   = (*Limiter)(nil)
	_ RevocationChecker             = (*TokenStore)(nil)
	_ accesscontrol.PermissionCache = (*PermissionCache)(nil)
	_ anomaly.FingerprintStore      = (*FingerprintStore)(nil)
	_ anomaly.IPActivityStore       = (*IPActivityStore)(nil)
)
