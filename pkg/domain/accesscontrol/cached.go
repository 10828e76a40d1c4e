package accesscontrol

import (
	"context"

	"golang.org/x/sync/singleflight"

	"github.com/driveport/api/pkg/domain/permission"
	"github.com/driveport/api/pkg/domain/principal"
	"github.com/driveport/api/pkg/logger"
)

// PermissionCache stores resolved permission sets for a TTL. The Redis-backed
// implementation lives in internal/infra/redis; tests use miniredis or a map.
type PermissionCache interface {
	// Get returns the cached set, or (nil, false, nil) on a miss.
	Get(ctx context.Context, principalID string) ([]string, bool, error)
	// Set stores the set under the cache's TTL.
	Set(ctx context.Context, principalID string, perms []string) error
}

// CachedResolver wraps a Resolver with a per-principal TTL cache.
//
// Invalidation is TTL-only: after a role or permission change, callers may see
// the stale set for up to the TTL. That staleness window is a deliberate
// consistency trade-off, not a bug.
type CachedResolver struct {
	inner *Resolver
	cache PermissionCache
	group singleflight.Group
	log   *logger.Logger
}

// NewCachedResolver creates a caching layer over the resolver.
func NewCachedResolver(inner *Resolver, cache PermissionCache, log *logger.Logger) *CachedResolver {
	return &CachedResolver{
		inner: inner,
		cache: cache,
		log:   log,
	}
}

// ResolvePermissions returns the cached set when fresh, otherwise resolves and
// caches. Concurrent resolutions for the same principal are collapsed into a
// single underlying resolution.
//
// Cache read errors are treated as misses; cache write errors are logged and
// ignored. Only the underlying resolution failing propagates, and that still
// denies (fail closed) at the call sites.
func (c *CachedResolver) ResolvePermissions(ctx context.Context, p *principal.Principal) ([]string, error) {
	key := p.ID().String()

	if cached, ok, err := c.cache.Get(ctx, key); err != nil {
		c.log.Warn("permission cache read failed, resolving directly", "error", err)
	} else if ok {
		return cached, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		perms, err := c.inner.ResolvePermissions(ctx, p)
		if err != nil {
			return nil, err
		}
		if err := c.cache.Set(ctx, key, perms); err != nil {
			c.log.Warn("permission cache write failed", "error", err)
		}
		return perms, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]string), nil
}

// HasPermission checks the permission against the cached set, with the same
// super-admin bypass and fail-closed semantics as the inner resolver.
func (c *CachedResolver) HasPermission(ctx context.Context, p *principal.Principal, perm string) Decision {
	if !p.IsActive() {
		return Decision{Granted: false, Reason: ReasonInactivePrincipal}
	}

	if c.inner.IsSuperAdmin(p) {
		return Decision{Granted: true, Reason: ReasonSuperAdmin}
	}

	perms, err := c.ResolvePermissions(ctx, p)
	if err != nil {
		c.log.Error("permission resolution failed, denying",
			"principal_id", p.ID().String(),
			"permission", perm,
			"error", err,
		)
		return Decision{Granted: false, Reason: ReasonResolutionFailure}
	}

	if permission.Contains(permission.FromStrings(perms), permission.Permission(perm)) {
		return Decision{Granted: true, Reason: ReasonGranted}
	}
	return Decision{Granted: false, Reason: ReasonMissingPermission}
}

// HasRole delegates to the inner resolver; role membership is carried on the
// principal itself and needs no cache.
func (c *CachedResolver) HasRole(p *principal.Principal, name string) bool {
	return c.inner.HasRole(p, name)
}

// HasAnyRole delegates to the inner resolver.
func (c *CachedResolver) HasAnyRole(p *principal.Principal, names ...string) bool {
	return c.inner.HasAnyRole(p, names...)
}

// IsSuperAdmin delegates to the inner resolver.
func (c *CachedResolver) IsSuperAdmin(p *principal.Principal) bool {
	return c.inner.IsSuperAdmin(p)
}

// MeetsLevel delegates to the inner resolver.
func (c *CachedResolver) MeetsLevel(p *principal.Principal, level int) bool {
	return c.inner.MeetsLevel(p, level)
}
