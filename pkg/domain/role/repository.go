package role

import (
	"context"

	"github.com/driveport/api/pkg/domain/shared"
)

// Repository defines the interface for role persistence operations.
type Repository interface {
	// Create creates a new role.
	Create(ctx context.Context, role *Role) error

	// GetByID retrieves a role by its ID.
	GetByID(ctx context.Context, id shared.ID) (*Role, error)

	// GetBySlug retrieves a role by its normalized slug.
	GetBySlug(ctx context.Context, slug string) (*Role, error)

	// List returns all roles.
	List(ctx context.Context) ([]*Role, error)

	// ParentOf returns the parent role ID, or nil for root roles.
	// Used for cycle validation at role-creation time.
	ParentOf(ctx context.Context, id shared.ID) (*shared.ID, error)

	// GetPrincipalRoles returns all roles assigned to a principal.
	GetPrincipalRoles(ctx context.Context, principalID shared.ID) ([]*Role, error)

	// AssignRole assigns a role to a principal.
	AssignRole(ctx context.Context, principalID, roleID shared.ID) error

	// RemoveRole removes a role from a principal.
	RemoveRole(ctx context.Context, principalID, roleID shared.ID) error

	// Update persists changes to a role.
	Update(ctx context.Context, role *Role) error

	// Delete deletes a role.
	Delete(ctx context.Context, id shared.ID) error
}
