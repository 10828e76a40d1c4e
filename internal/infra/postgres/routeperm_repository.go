package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/driveport/api/pkg/domain/accesscontrol"
	"github.com/driveport/api/pkg/domain/shared"
)

// RoutePermissionRepository implements accesscontrol.RoutePermissionRepository
// using PostgreSQL.
type RoutePermissionRepository struct {
	db *DB
}

// NewRoutePermissionRepository creates a new RoutePermissionRepository.
func NewRoutePermissionRepository(db *DB) *RoutePermissionRepository {
	return &RoutePermissionRepository{db: db}
}

var _ accesscontrol.RoutePermissionRepository = (*RoutePermissionRepository)(nil)

const routePermColumns = `id, route_name, required_permission, is_active, created_at, updated_at`

func scanRoutePerm(scanner interface{ Scan(...any) error }) (*accesscontrol.RoutePermission, error) {
	var (
		id        string
		routeName string
		required  string
		isActive  bool
		createdAt time.Time
		updatedAt time.Time
	)

	if err := scanner.Scan(&id, &routeName, &required, &isActive, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	rpID, err := shared.IDFromString(id)
	if err != nil {
		return nil, fmt.Errorf("invalid route permission id %q: %w", id, err)
	}

	return accesscontrol.ReconstructRoutePermission(rpID, routeName, required, isActive, createdAt, updatedAt), nil
}

// GetActiveByRoute returns the active mapping for a route.
func (r *RoutePermissionRepository) GetActiveByRoute(ctx context.Context, routeName string) (*accesscontrol.RoutePermission, error) {
	query := `
		SELECT ` + routePermColumns + `
		FROM route_permissions
		WHERE route_name = $1 AND is_active = TRUE
	`

	rp, err := scanRoutePerm(r.db.QueryRowContext(ctx, query, routeName))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get route permission: %w", err)
	}
	return rp, nil
}

// Create persists a new mapping.
func (r *RoutePermissionRepository) Create(ctx context.Context, rp *accesscontrol.RoutePermission) error {
	query := `
		INSERT INTO route_permissions (id, route_name, required_permission, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.db.ExecContext(ctx, query,
		rp.ID().String(),
		rp.RouteName(),
		rp.RequiredPermission(),
		rp.IsActive(),
		rp.CreatedAt(),
		rp.UpdatedAt(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return shared.ErrAlreadyExists
		}
		return fmt.Errorf("failed to create route permission: %w", err)
	}
	return nil
}

// Update persists changes to a mapping.
func (r *RoutePermissionRepository) Update(ctx context.Context, rp *accesscontrol.RoutePermission) error {
	query := `
		UPDATE route_permissions
		SET required_permission = $2, is_active = $3, updated_at = $4
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query,
		rp.ID().String(),
		rp.RequiredPermission(),
		rp.IsActive(),
		rp.UpdatedAt(),
	)
	if err != nil {
		return fmt.Errorf("failed to update route permission: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// List returns all mappings, active and inactive.
func (r *RoutePermissionRepository) List(ctx context.Context) ([]*accesscontrol.RoutePermission, error) {
	query := `
		SELECT ` + routePermColumns + `
		FROM route_permissions
		ORDER BY route_name
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list route permissions: %w", err)
	}
	defer rows.Close()

	var rps []*accesscontrol.RoutePermission
	for rows.Next() {
		rp, err := scanRoutePerm(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan route permission: %w", err)
		}
		rps = append(rps, rp)
	}
	return rps, rows.Err()
}
