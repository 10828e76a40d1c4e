package accesscontrol

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/driveport/api/pkg/domain/shared"
	"github.com/driveport/api/pkg/logger"
)

// ErrEmptyRouteName is returned when creating a mapping without a route name.
var ErrEmptyRouteName = errors.New("route name cannot be empty")

// RoutePermission is a dynamic route-to-permission mapping maintained by
// admins. It is consulted only when a route declares no static requirement;
// absence means "no additional requirement".
type RoutePermission struct {
	id                 shared.ID
	routeName          string
	requiredPermission string
	isActive           bool
	createdAt          time.Time
	updatedAt          time.Time
}

// NewRoutePermission creates an active mapping.
func NewRoutePermission(routeName, requiredPermission string) (*RoutePermission, error) {
	routeName = strings.TrimSpace(routeName)
	if routeName == "" {
		return nil, ErrEmptyRouteName
	}
	requiredPermission = strings.TrimSpace(requiredPermission)
	if requiredPermission == "" {
		return nil, errors.New("required permission cannot be empty")
	}
	now := time.Now().UTC()
	return &RoutePermission{
		id:                 shared.NewID(),
		routeName:          routeName,
		requiredPermission: requiredPermission,
		isActive:           true,
		createdAt:          now,
		updatedAt:          now,
	}, nil
}

// ReconstructRoutePermission creates a mapping from persistence data.
func ReconstructRoutePermission(
	id shared.ID,
	routeName, requiredPermission string,
	isActive bool,
	createdAt, updatedAt time.Time,
) *RoutePermission {
	return &RoutePermission{
		id:                 id,
		routeName:          routeName,
		requiredPermission: requiredPermission,
		isActive:           isActive,
		createdAt:          createdAt,
		updatedAt:          updatedAt,
	}
}

// ID returns the mapping ID.
func (rp *RoutePermission) ID() shared.ID { return rp.id }

// RouteName returns the route name the mapping applies to.
func (rp *RoutePermission) RouteName() string { return rp.routeName }

// RequiredPermission returns the permission the route requires.
func (rp *RoutePermission) RequiredPermission() string { return rp.requiredPermission }

// IsActive reports whether the mapping is consulted.
func (rp *RoutePermission) IsActive() bool { return rp.isActive }

// CreatedAt returns the creation timestamp.
func (rp *RoutePermission) CreatedAt() time.Time { return rp.createdAt }

// UpdatedAt returns the last update timestamp.
func (rp *RoutePermission) UpdatedAt() time.Time { return rp.updatedAt }

// Deactivate stops the mapping from being consulted. Mappings live until
// deactivated; they are not deleted.
func (rp *RoutePermission) Deactivate() {
	rp.isActive = false
	rp.updatedAt = time.Now().UTC()
}

// Activate re-enables the mapping.
func (rp *RoutePermission) Activate() {
	rp.isActive = true
	rp.updatedAt = time.Now().UTC()
}

// RoutePermissionRepository persists dynamic route-permission mappings.
type RoutePermissionRepository interface {
	// GetActiveByRoute returns the active mapping for a route, or
	// shared.ErrNotFound when none exists.
	GetActiveByRoute(ctx context.Context, routeName string) (*RoutePermission, error)

	// Create persists a new mapping.
	Create(ctx context.Context, rp *RoutePermission) error

	// Update persists changes to a mapping.
	Update(ctx context.Context, rp *RoutePermission) error

	// List returns all mappings, active and inactive.
	List(ctx context.Context) ([]*RoutePermission, error)
}

// RouteRequirementResolver answers "does this route carry an extra dynamic
// permission requirement?".
type RouteRequirementResolver struct {
	repo RoutePermissionRepository
	log  *logger.Logger
}

// NewRouteRequirementResolver creates a resolver over the repository.
func NewRouteRequirementResolver(repo RoutePermissionRepository, log *logger.Logger) *RouteRequirementResolver {
	return &RouteRequirementResolver{repo: repo, log: log}
}

// Resolve returns the required permission for the route, or ("", false) when
// the route carries no dynamic requirement. A store failure is reported as an
// error so the caller can deny (fail closed) rather than silently skip the
// requirement.
func (r *RouteRequirementResolver) Resolve(ctx context.Context, routeName string) (string, bool, error) {
	rp, err := r.repo.GetActiveByRoute(ctx, routeName)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return "", false, nil
		}
		r.log.Error("route requirement lookup failed", "route", routeName, "error", err)
		return "", false, err
	}
	if rp == nil || !rp.IsActive() {
		return "", false, nil
	}
	return rp.RequiredPermission(), true, nil
}
