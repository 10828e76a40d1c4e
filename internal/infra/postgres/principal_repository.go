package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/driveport/api/pkg/domain/principal"
	"github.com/driveport/api/pkg/domain/shared"
)

// PrincipalRepository implements principal.Repository using PostgreSQL.
type PrincipalRepository struct {
	db    *DB
	roles *RoleRepository
}

// NewPrincipalRepository creates a new PrincipalRepository.
func NewPrincipalRepository(db *DB) *PrincipalRepository {
	return &PrincipalRepository{db: db, roles: NewRoleRepository(db)}
}

var _ principal.Repository = (*PrincipalRepository)(nil)

// GetByID retrieves a principal with its roles and direct permissions.
func (r *PrincipalRepository) GetByID(ctx context.Context, id shared.ID) (*principal.Principal, error) {
	query := `
		SELECT id, kind, status, created_at
		FROM principals
		WHERE id = $1
	`

	var (
		rawID     string
		kind      string
		status    string
		createdAt time.Time
	)

	err := r.db.QueryRowContext(ctx, query, id.String()).Scan(&rawID, &kind, &status, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get principal: %w", err)
	}

	principalID, err := shared.IDFromString(rawID)
	if err != nil {
		return nil, fmt.Errorf("invalid principal id %q: %w", rawID, err)
	}

	roles, err := r.roles.GetPrincipalRoles(ctx, principalID)
	if err != nil {
		return nil, err
	}

	perms, err := r.directPermissions(ctx, rawID)
	if err != nil {
		return nil, err
	}

	return principal.Reconstruct(
		principalID,
		principal.Kind(kind),
		principal.Status(status),
		roles,
		perms,
		createdAt,
	), nil
}

// directPermissions loads permissions granted directly to the principal,
// outside any role.
func (r *PrincipalRepository) directPermissions(ctx context.Context, principalID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT permission FROM principal_permissions WHERE principal_id = $1 ORDER BY permission`,
		principalID)
	if err != nil {
		return nil, fmt.Errorf("failed to list direct permissions: %w", err)
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

// Create persists a new principal with its role assignments and direct
// permissions.
func (r *PrincipalRepository) Create(ctx context.Context, p *principal.Principal) error {
	return r.db.Transaction(ctx, func(tx *sql.Tx) error {
		query := `
			INSERT INTO principals (id, kind, status, created_at)
			VALUES ($1, $2, $3, $4)
		`

		_, err := tx.ExecContext(ctx, query,
			p.ID().String(),
			string(p.Kind()),
			string(p.Status()),
			p.CreatedAt(),
		)
		if err != nil {
			if isUniqueViolation(err) {
				return shared.ErrAlreadyExists
			}
			return fmt.Errorf("failed to create principal: %w", err)
		}

		for _, ro := range p.Roles() {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO principal_roles (principal_id, role_id, assigned_at) VALUES ($1, $2, NOW())`,
				p.ID().String(), ro.ID().String()); err != nil {
				return fmt.Errorf("failed to assign role: %w", err)
			}
		}

		for _, perm := range p.Permissions() {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO principal_permissions (principal_id, permission) VALUES ($1, $2)`,
				p.ID().String(), perm); err != nil {
				return fmt.Errorf("failed to grant permission: %w", err)
			}
		}

		return nil
	})
}

// UpdateStatus activates or deactivates a principal.
func (r *PrincipalRepository) UpdateStatus(ctx context.Context, id shared.ID, status principal.Status) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE principals SET status = $2 WHERE id = $1`,
		id.String(), string(status))
	if err != nil {
		return fmt.Errorf("failed to update principal status: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// GrantPermission adds a direct permission to a principal.
func (r *PrincipalRepository) GrantPermission(ctx context.Context, id shared.ID, perm string) error {
	query := `
		INSERT INTO principal_permissions (principal_id, permission)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`

	_, err := r.db.ExecContext(ctx, query, id.String(), perm)
	if err != nil {
		if isForeignKeyViolation(err) {
			return shared.ErrNotFound
		}
		return fmt.Errorf("failed to grant permission: %w", err)
	}
	return nil
}

// RevokePermission removes a direct permission from a principal.
func (r *PrincipalRepository) RevokePermission(ctx context.Context, id shared.ID, perm string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM principal_permissions WHERE principal_id = $1 AND permission = $2`,
		id.String(), perm)
	if err != nil {
		return fmt.Errorf("failed to revoke permission: %w", err)
	}
	return nil
}
