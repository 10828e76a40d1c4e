package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/driveport/api/internal/infra/redis"
	"github.com/driveport/api/pkg/logger"
)

// rateLimitKey composes the limiter key from scope, identity, and optionally
// the route. Scopes that count per route (api, admin) include the route name
// so one noisy endpoint cannot starve the rest.
func rateLimitKey(scope, identity, route string) string {
	var b strings.Builder
	b.WriteString(scope)
	b.WriteByte(':')
	b.WriteString(identity)
	if route != "" {
		b.WriteByte(':')
		b.WriteString(route)
	}
	return b.String()
}

// identityFor picks the limit identity: the authenticated principal when
// available, else a hash of the client IP and user agent.
func identityFor(r *http.Request) string {
	if id := GetPrincipalID(r.Context()); id != "" {
		return "principal:" + id
	}
	return AnonymousIdentity(ClientIP(r), r.UserAgent())
}

// AnonymousIdentity derives the limit identity for unauthenticated traffic
// from the client IP plus user agent. Hashing both keeps distinct clients
// behind one NAT from sharing a quota while keeping the key short. Exported
// so the admin unblock command can derive the same key.
func AnonymousIdentity(ip, userAgent string) string {
	sum := sha256.Sum256([]byte(ip + "\x00" + userAgent))
	return "ip:" + hex.EncodeToString(sum[:8])
}

// setRateHeaders writes the standard rate-limit headers from a result.
func setRateHeaders(w http.ResponseWriter, result *redis.Result) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	if !result.ResetAt.IsZero() {
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
	}
}

// retryAfterSeconds converts a retry duration to whole seconds, minimum 1.
func retryAfterSeconds(d time.Duration) int {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}

// MemoryLimiter is an in-process fallback used when Redis is disabled, for
// example in development. It approximates fixed windows with token buckets
// and does not escalate violations into blocks; production deployments use
// the Redis-backed limiter.
type MemoryLimiter struct {
	mu       sync.Mutex
	visitors map[string]*memoryVisitor
	log      *logger.Logger

	done     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
}

type memoryVisitor struct {
	limiter  *rate.Limiter
	window   time.Duration
	lastSeen time.Time
}

// NewMemoryLimiter creates an in-memory limiter and starts its cleanup
// goroutine. Call Stop during shutdown.
func NewMemoryLimiter(log *logger.Logger) *MemoryLimiter {
	ml := &MemoryLimiter{
		visitors: make(map[string]*memoryVisitor),
		log:      log,
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	go ml.cleanup()
	return ml
}

// Stop terminates the cleanup goroutine. Safe to call multiple times.
func (ml *MemoryLimiter) Stop() {
	ml.stopOnce.Do(func() {
		close(ml.done)
	})
	<-ml.stopped
}

func (ml *MemoryLimiter) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	defer close(ml.stopped)

	for {
		select {
		case <-ml.done:
			return
		case <-ticker.C:
			ml.mu.Lock()
			for key, v := range ml.visitors {
				if time.Since(v.lastSeen) > 3*v.window {
					delete(ml.visitors, key)
				}
			}
			ml.mu.Unlock()
		}
	}
}

func (ml *MemoryLimiter) visitor(key string, max int, window time.Duration) *memoryVisitor {
	ml.mu.Lock()
	defer ml.mu.Unlock()

	v, ok := ml.visitors[key]
	if !ok {
		limit := rate.Limit(float64(max) / window.Seconds())
		v = &memoryVisitor{
			limiter: rate.NewLimiter(limit, max),
			window:  window,
		}
		ml.visitors[key] = v
	}
	v.lastSeen = time.Now()
	return v
}

func (ml *MemoryLimiter) result(v *memoryVisitor, max int, allowed bool) *redis.Result {
	tokens := v.limiter.Tokens()
	remaining := int(math.Floor(tokens))
	if remaining < 0 {
		remaining = 0
	}

	res := &redis.Result{
		Allowed:   allowed,
		State:     redis.StateOpen,
		Limit:     max,
		Remaining: remaining,
		ResetAt:   time.Now().Add(v.window),
	}
	if !allowed {
		res.State = redis.StateThrottled
		res.RetryAfter = time.Duration(float64(time.Second) / float64(v.limiter.Limit()))
	}
	return res
}

// Hit consumes one attempt for the key.
func (ml *MemoryLimiter) Hit(_ context.Context, key string, max int, window time.Duration) (*redis.Result, error) {
	v := ml.visitor(key, max, window)
	return ml.result(v, max, v.limiter.Allow()), nil
}

// Check evaluates the key without consuming an attempt.
func (ml *MemoryLimiter) Check(_ context.Context, key string, max int) (*redis.Result, error) {
	ml.mu.Lock()
	v, ok := ml.visitors[key]
	ml.mu.Unlock()
	if !ok {
		return &redis.Result{
			Allowed:   true,
			State:     redis.StateOpen,
			Limit:     max,
			Remaining: max,
			ResetAt:   time.Now(),
		}, nil
	}
	return ml.result(v, max, v.limiter.Tokens() >= 1), nil
}

// RecordFailure consumes one attempt, mirroring the Redis limiter's
// failure-counting mode.
func (ml *MemoryLimiter) RecordFailure(ctx context.Context, key string, max int, window time.Duration) (*redis.Result, error) {
	return ml.Hit(ctx, key, max, window)
}

// TooManyAttempts reports whether the key is currently over quota.
func (ml *MemoryLimiter) TooManyAttempts(ctx context.Context, key string, max int) (bool, error) {
	res, err := ml.Check(ctx, key, max)
	if err != nil {
		return false, err
	}
	return !res.Allowed, nil
}

// AvailableIn returns the time until the next attempt is accepted.
func (ml *MemoryLimiter) AvailableIn(_ context.Context, key string) (time.Duration, error) {
	ml.mu.Lock()
	v, ok := ml.visitors[key]
	ml.mu.Unlock()
	if !ok || v.limiter.Tokens() >= 1 {
		return 0, nil
	}
	return time.Duration(float64(time.Second) / float64(v.limiter.Limit())), nil
}

// Remaining returns the attempts left for the key, never negative.
func (ml *MemoryLimiter) Remaining(ctx context.Context, key string, max int) (int, error) {
	res, err := ml.Check(ctx, key, max)
	if err != nil {
		return 0, err
	}
	return res.Remaining, nil
}

// Reset forgets the key entirely.
func (ml *MemoryLimiter) Reset(_ context.Context, key string) error {
	ml.mu.Lock()
	delete(ml.visitors, key)
	ml.mu.Unlock()
	return nil
}

var _ redis.RateLimiter = (*MemoryLimiter)(nil)
