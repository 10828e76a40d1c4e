// Package accesscontrol resolves effective permissions for principals.
// It handles role inheritance through parent chains, super-admin bypass,
// dynamic route-to-permission mappings, and TTL-based caching of resolved sets.
//
// Every lookup failure resolves to "no permissions". The access-control path
// never fails open.
package accesscontrol

import (
	"context"
	"fmt"
	"sort"

	"github.com/driveport/api/pkg/domain/permission"
	"github.com/driveport/api/pkg/domain/principal"
	"github.com/driveport/api/pkg/domain/role"
	"github.com/driveport/api/pkg/domain/shared"
	"github.com/driveport/api/pkg/logger"
)

// DefaultMaxDepth caps the role ancestor walk. A well-formed graph never gets
// close; hitting the cap means the stored graph has a cycle that slipped past
// creation-time validation.
const DefaultMaxDepth = 32

// RoleSource resolves role IDs to roles. role.Repository satisfies it.
type RoleSource interface {
	GetByID(ctx context.Context, id shared.ID) (*role.Role, error)
}

// Reason classifies why a permission decision came out the way it did.
type Reason string

// Decision reasons.
const (
	ReasonGranted           Reason = "granted"
	ReasonSuperAdmin        Reason = "super_admin_bypass"
	ReasonMissingPermission Reason = "missing_permission"
	ReasonInactivePrincipal Reason = "inactive_principal"
	ReasonResolutionFailure Reason = "resolution_failure"
)

// Decision is the outcome of a permission check. Checks return a Decision
// rather than an error so that infrastructure failures and genuine denials
// stay distinguishable without exceptions-as-flow-control.
type Decision struct {
	Granted bool
	Reason  Reason
}

// Resolver computes effective permission sets.
type Resolver struct {
	roles           RoleSource
	superAdminSlugs map[string]bool
	maxDepth        int
	log             *logger.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithMaxDepth overrides the ancestor-walk depth cap.
func WithMaxDepth(depth int) Option {
	return func(r *Resolver) {
		if depth > 0 {
			r.maxDepth = depth
		}
	}
}

// WithSuperAdminRoles sets the role names whose holders bypass all
// permission checks. Names are normalized before comparison.
func WithSuperAdminRoles(names ...string) Option {
	return func(r *Resolver) {
		r.superAdminSlugs = make(map[string]bool, len(names))
		for _, n := range names {
			r.superAdminSlugs[role.NormalizeName(n)] = true
		}
	}
}

// NewResolver creates a permission resolver.
func NewResolver(roles RoleSource, log *logger.Logger, opts ...Option) *Resolver {
	r := &Resolver{
		roles:           roles,
		superAdminSlugs: map[string]bool{role.SlugSuperAdmin: true},
		maxDepth:        DefaultMaxDepth,
		log:             log,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ResolvePermissions computes the principal's effective permission set:
// direct permissions plus the permissions of every role in the full ancestor
// chain of each assigned role, deduplicated and sorted.
//
// A cycle in the stored parent chain terminates within the depth cap and is
// logged as a data-integrity error; the permissions gathered up to that point
// are still returned. A store failure returns an error, which callers must
// treat as an empty set.
func (r *Resolver) ResolvePermissions(ctx context.Context, p *principal.Principal) ([]string, error) {
	permSet := make(map[string]struct{})

	for _, perm := range p.Permissions() {
		permSet[perm] = struct{}{}
	}

	for _, assigned := range p.Roles() {
		if err := r.collectRolePermissions(ctx, assigned, permSet); err != nil {
			return nil, fmt.Errorf("resolve role %s: %w", assigned.Slug(), err)
		}
	}

	result := make([]string, 0, len(permSet))
	for perm := range permSet {
		result = append(result, perm)
	}
	sort.Strings(result)
	return result, nil
}

// collectRolePermissions walks a role and its ancestor chain, adding own
// permissions of each visited role into permSet.
func (r *Resolver) collectRolePermissions(ctx context.Context, start *role.Role, permSet map[string]struct{}) error {
	seen := make(map[string]bool)
	current := start

	for depth := 0; current != nil; depth++ {
		if depth >= r.maxDepth {
			r.log.Error("role parent chain exceeds depth cap, possible cycle",
				"role", start.Slug(),
				"depth_cap", r.maxDepth,
			)
			return nil
		}
		if seen[current.ID().String()] {
			r.log.Error("cycle detected in role parent chain",
				"role", start.Slug(),
				"cycle_at", current.Slug(),
			)
			return nil
		}
		seen[current.ID().String()] = true

		for _, perm := range current.Permissions() {
			permSet[perm] = struct{}{}
		}

		parentID := current.ParentID()
		if parentID == nil {
			return nil
		}

		parent, err := r.roles.GetByID(ctx, *parentID)
		if err != nil {
			return fmt.Errorf("fetch parent role %s: %w", parentID, err)
		}
		current = parent
	}
	return nil
}

// HasPermission checks whether the principal holds the permission, either
// exactly, through the wildcard, or via super-admin bypass. Resolution
// failures deny.
func (r *Resolver) HasPermission(ctx context.Context, p *principal.Principal, perm string) Decision {
	if !p.IsActive() {
		return Decision{Granted: false, Reason: ReasonInactivePrincipal}
	}

	if r.IsSuperAdmin(p) {
		return Decision{Granted: true, Reason: ReasonSuperAdmin}
	}

	perms, err := r.ResolvePermissions(ctx, p)
	if err != nil {
		// Fail closed: a store failure is a denial, logged distinctly so
		// operators can tell infrastructure failures from real denials.
		r.log.Error("permission resolution failed, denying",
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

// HasRole reports whether the principal holds a role matching the given name
// after normalization ("Super Admin" matches "super_admin").
func (r *Resolver) HasRole(p *principal.Principal, name string) bool {
	slug := role.NormalizeName(name)
	for _, assigned := range p.Roles() {
		if assigned.Slug() == slug {
			return true
		}
	}
	return false
}

// HasAnyRole reports whether the principal holds any of the named roles.
func (r *Resolver) HasAnyRole(p *principal.Principal, names ...string) bool {
	for _, name := range names {
		if r.HasRole(p, name) {
			return true
		}
	}
	return false
}

// IsSuperAdmin reports whether any assigned role is a configured
// super-admin role.
func (r *Resolver) IsSuperAdmin(p *principal.Principal) bool {
	for _, assigned := range p.Roles() {
		if r.superAdminSlugs[assigned.Slug()] {
			return true
		}
	}
	return false
}

// MeetsLevel reports whether the principal's highest role level is at least
// the required level. Super admins always meet any level.
func (r *Resolver) MeetsLevel(p *principal.Principal, level int) bool {
	if r.IsSuperAdmin(p) {
		return true
	}
	return p.HighestRoleLevel() >= level
}
