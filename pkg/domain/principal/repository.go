package principal

import (
	"context"
	"errors"

	"github.com/driveport/api/pkg/domain/shared"
)

// ErrInvalidCredentials is returned by credential stores when an
// identifier/secret pair does not match. Callers must not distinguish an
// unknown identifier from a wrong secret.
var ErrInvalidCredentials = errors.New("invalid credentials")

// Repository defines the interface for principal persistence operations.
type Repository interface {
	// GetByID retrieves a principal with its roles and direct permissions.
	GetByID(ctx context.Context, id shared.ID) (*Principal, error)

	// Create persists a new principal.
	Create(ctx context.Context, p *Principal) error

	// UpdateStatus activates or deactivates a principal.
	UpdateStatus(ctx context.Context, id shared.ID, status Status) error

	// GrantPermission adds a direct permission to a principal.
	GrantPermission(ctx context.Context, id shared.ID, perm string) error

	// RevokePermission removes a direct permission from a principal.
	RevokePermission(ctx context.Context, id shared.ID, perm string) error
}
