package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/driveport/api/pkg/domain/role"
	"github.com/driveport/api/pkg/domain/shared"
)

// RoleRepository implements role.Repository using PostgreSQL.
type RoleRepository struct {
	db *DB
}

// NewRoleRepository creates a new RoleRepository.
func NewRoleRepository(db *DB) *RoleRepository {
	return &RoleRepository{db: db}
}

var _ role.Repository = (*RoleRepository)(nil)

// Create persists a new role and its permissions.
func (r *RoleRepository) Create(ctx context.Context, ro *role.Role) error {
	return r.db.Transaction(ctx, func(tx *sql.Tx) error {
		query := `
			INSERT INTO roles (id, slug, name, description, level, parent_id, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`

		_, err := tx.ExecContext(ctx, query,
			ro.ID().String(),
			ro.Slug(),
			ro.Name(),
			nullString(ro.Description()),
			ro.Level(),
			nullID(ro.ParentID()),
			ro.CreatedAt(),
			ro.UpdatedAt(),
		)
		if err != nil {
			if isUniqueViolation(err) {
				return shared.ErrAlreadyExists
			}
			return fmt.Errorf("failed to create role: %w", err)
		}

		return insertRolePermissions(ctx, tx, ro.ID().String(), ro.Permissions())
	})
}

// insertRolePermissions batch-inserts the role's own permissions.
func insertRolePermissions(ctx context.Context, tx *sql.Tx, roleID string, perms []string) error {
	if len(perms) == 0 {
		return nil
	}

	query := `
		INSERT INTO role_permissions (role_id, permission)
		SELECT $1, unnest($2::text[])
		ON CONFLICT DO NOTHING
	`

	if _, err := tx.ExecContext(ctx, query, roleID, pq.Array(perms)); err != nil {
		return fmt.Errorf("failed to insert role permissions: %w", err)
	}
	return nil
}

const roleColumns = `id, slug, name, description, level, parent_id, created_at, updated_at`

// scanRole scans one role row plus its permissions.
func (r *RoleRepository) scanRole(ctx context.Context, row *sql.Row) (*role.Role, error) {
	var (
		id          string
		slug        string
		name        string
		description sql.NullString
		level       int
		parentID    sql.NullString
		createdAt   time.Time
		updatedAt   time.Time
	)

	err := row.Scan(&id, &slug, &name, &description, &level, &parentID, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get role: %w", err)
	}

	roleID, err := shared.IDFromString(id)
	if err != nil {
		return nil, fmt.Errorf("invalid role id %q: %w", id, err)
	}

	perms, err := r.rolePermissions(ctx, id)
	if err != nil {
		return nil, err
	}

	return role.Reconstruct(
		roleID,
		slug,
		name,
		nullStringValue(description),
		level,
		parseNullID(parentID),
		perms,
		createdAt,
		updatedAt,
	), nil
}

// rolePermissions loads the role's own (non-inherited) permissions.
func (r *RoleRepository) rolePermissions(ctx context.Context, roleID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT permission FROM role_permissions WHERE role_id = $1 ORDER BY permission`, roleID)
	if err != nil {
		return nil, fmt.Errorf("failed to list role permissions: %w", err)
	}
	defer rows.Close()

	var perms []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("failed to scan permission: %w", err)
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

// GetByID retrieves a role by its ID.
func (r *RoleRepository) GetByID(ctx context.Context, id shared.ID) (*role.Role, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+roleColumns+` FROM roles WHERE id = $1`, id.String())
	return r.scanRole(ctx, row)
}

// GetBySlug retrieves a role by its normalized slug.
func (r *RoleRepository) GetBySlug(ctx context.Context, slug string) (*role.Role, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+roleColumns+` FROM roles WHERE slug = $1`, slug)
	return r.scanRole(ctx, row)
}

// ParentOf returns the parent role ID, or nil for root roles.
func (r *RoleRepository) ParentOf(ctx context.Context, id shared.ID) (*shared.ID, error) {
	var parentID sql.NullString

	err := r.db.QueryRowContext(ctx,
		`SELECT parent_id FROM roles WHERE id = $1`, id.String()).Scan(&parentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get role parent: %w", err)
	}

	return parseNullID(parentID), nil
}

// List returns all roles with their permissions.
func (r *RoleRepository) List(ctx context.Context) ([]*role.Role, error) {
	return r.queryRoles(ctx, `SELECT `+roleColumns+` FROM roles ORDER BY level DESC, slug`)
}

// GetPrincipalRoles returns all roles assigned to a principal.
func (r *RoleRepository) GetPrincipalRoles(ctx context.Context, principalID shared.ID) ([]*role.Role, error) {
	query := `
		SELECT r.id, r.slug, r.name, r.description, r.level, r.parent_id, r.created_at, r.updated_at
		FROM roles r
		JOIN principal_roles pr ON pr.role_id = r.id
		WHERE pr.principal_id = $1
		ORDER BY r.level DESC, r.slug
	`
	return r.queryRoles(ctx, query, principalID.String())
}

// queryRoles runs a multi-row role query and loads permissions for each role
// in one pass to avoid N+1 queries.
func (r *RoleRepository) queryRoles(ctx context.Context, query string, args ...any) ([]*role.Role, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	defer rows.Close()

	type rawRole struct {
		id          shared.ID
		slug        string
		name        string
		description string
		level       int
		parentID    *shared.ID
		createdAt   time.Time
		updatedAt   time.Time
	}

	var raws []rawRole
	var ids []string

	for rows.Next() {
		var (
			id          string
			slug        string
			name        string
			description sql.NullString
			level       int
			parentID    sql.NullString
			createdAt   time.Time
			updatedAt   time.Time
		)
		if err := rows.Scan(&id, &slug, &name, &description, &level, &parentID, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}

		roleID, err := shared.IDFromString(id)
		if err != nil {
			return nil, fmt.Errorf("invalid role id %q: %w", id, err)
		}

		raws = append(raws, rawRole{
			id:          roleID,
			slug:        slug,
			name:        name,
			description: nullStringValue(description),
			level:       level,
			parentID:    parseNullID(parentID),
			createdAt:   createdAt,
			updatedAt:   updatedAt,
		})
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(raws) == 0 {
		return nil, nil
	}

	permRows, err := r.db.QueryContext(ctx,
		`SELECT role_id, permission FROM role_permissions WHERE role_id = ANY($1) ORDER BY permission`,
		pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to list role permissions: %w", err)
	}
	defer permRows.Close()

	permsByRole := make(map[string][]string)
	for permRows.Next() {
		var roleID, perm string
		if err := permRows.Scan(&roleID, &perm); err != nil {
			return nil, fmt.Errorf("failed to scan permission: %w", err)
		}
		permsByRole[roleID] = append(permsByRole[roleID], perm)
	}
	if err := permRows.Err(); err != nil {
		return nil, err
	}

	roles := make([]*role.Role, 0, len(raws))
	for _, raw := range raws {
		roles = append(roles, role.Reconstruct(
			raw.id, raw.slug, raw.name, raw.description, raw.level,
			raw.parentID, permsByRole[raw.id.String()], raw.createdAt, raw.updatedAt,
		))
	}
	return roles, nil
}

// AssignRole assigns a role to a principal.
func (r *RoleRepository) AssignRole(ctx context.Context, principalID, roleID shared.ID) error {
	query := `
		INSERT INTO principal_roles (principal_id, role_id, assigned_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT DO NOTHING
	`

	_, err := r.db.ExecContext(ctx, query, principalID.String(), roleID.String())
	if err != nil {
		if isForeignKeyViolation(err) {
			return shared.ErrNotFound
		}
		return fmt.Errorf("failed to assign role: %w", err)
	}
	return nil
}

// RemoveRole removes a role from a principal.
func (r *RoleRepository) RemoveRole(ctx context.Context, principalID, roleID shared.ID) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM principal_roles WHERE principal_id = $1 AND role_id = $2`,
		principalID.String(), roleID.String())
	if err != nil {
		return fmt.Errorf("failed to remove role: %w", err)
	}
	return nil
}

// Update persists changes to a role and replaces its permissions.
func (r *RoleRepository) Update(ctx context.Context, ro *role.Role) error {
	return r.db.Transaction(ctx, func(tx *sql.Tx) error {
		query := `
			UPDATE roles
			SET name = $2, description = $3, level = $4, parent_id = $5, updated_at = $6
			WHERE id = $1
		`

		result, err := tx.ExecContext(ctx, query,
			ro.ID().String(),
			ro.Name(),
			nullString(ro.Description()),
			ro.Level(),
			nullID(ro.ParentID()),
			time.Now().UTC(),
		)
		if err != nil {
			return fmt.Errorf("failed to update role: %w", err)
		}
		if n, _ := result.RowsAffected(); n == 0 {
			return shared.ErrNotFound
		}

		if _, err := tx.ExecContext(ctx,
			`DELETE FROM role_permissions WHERE role_id = $1`, ro.ID().String()); err != nil {
			return fmt.Errorf("failed to clear role permissions: %w", err)
		}

		return insertRolePermissions(ctx, tx, ro.ID().String(), ro.Permissions())
	})
}

// Delete deletes a role. Assignments and permissions cascade.
func (r *RoleRepository) Delete(ctx context.Context, id shared.ID) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM roles WHERE id = $1`, id.String())
	if err != nil {
		return fmt.Errorf("failed to delete role: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return shared.ErrNotFound
	}
	return nil
}
