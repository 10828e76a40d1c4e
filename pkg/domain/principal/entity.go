// Package principal models the authenticated actor making a request:
// an admin, a driver, a company account, or a system job.
package principal

import (
	"errors"
	"slices"
	"time"

	"github.com/driveport/api/pkg/domain/role"
	"github.com/driveport/api/pkg/domain/shared"
)

// Kind identifies what sort of actor a principal is.
type Kind string

// Principal kinds.
const (
	KindAdmin   Kind = "admin"
	KindDriver  Kind = "driver"
	KindCompany Kind = "company"
	KindSystem  Kind = "system"
)

// IsValid reports whether the kind is known.
func (k Kind) IsValid() bool {
	switch k {
	case KindAdmin, KindDriver, KindCompany, KindSystem:
		return true
	default:
		return false
	}
}

// Status is the lifecycle state of a principal.
// Principals are never deleted, only deactivated.
type Status string

// Principal statuses.
const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// ErrInvalidKind is returned when constructing a principal with an unknown kind.
var ErrInvalidKind = errors.New("invalid principal kind")

// Principal is the authenticated actor. It is the single shape the
// access-control core reasons about; legacy representations are adapted into
// it at the boundary, never branched on inside the core.
type Principal struct {
	id                shared.ID
	kind              Kind
	status            Status
	roles             []*role.Role
	directPermissions []string
	createdAt         time.Time
}

// New creates an active principal.
func New(kind Kind, roles []*role.Role, directPermissions []string) (*Principal, error) {
	if !kind.IsValid() {
		return nil, ErrInvalidKind
	}
	return &Principal{
		id:                shared.NewID(),
		kind:              kind,
		status:            StatusActive,
		roles:             slices.Clone(roles),
		directPermissions: slices.Clone(directPermissions),
		createdAt:         time.Now().UTC(),
	}, nil
}

// Reconstruct creates a principal from persistence data.
func Reconstruct(
	id shared.ID,
	kind Kind,
	status Status,
	roles []*role.Role,
	directPermissions []string,
	createdAt time.Time,
) *Principal {
	return &Principal{
		id:                id,
		kind:              kind,
		status:            status,
		roles:             roles,
		directPermissions: directPermissions,
		createdAt:         createdAt,
	}
}

// FromLegacy adapts the old flat representation (a single role name plus a
// permission array) into a Principal. The synthetic role has no parent and no
// own permissions; the flat permissions become direct permissions.
func FromLegacy(id shared.ID, kind Kind, roleName string, permissions []string) *Principal {
	var roles []*role.Role
	if roleName != "" {
		legacy := role.Reconstruct(
			shared.NewID(),
			role.NormalizeName(roleName),
			roleName,
			"legacy flat role",
			0,
			nil,
			nil,
			time.Now().UTC(),
			time.Now().UTC(),
		)
		roles = append(roles, legacy)
	}
	return &Principal{
		id:                id,
		kind:              kind,
		status:            StatusActive,
		roles:             roles,
		directPermissions: slices.Clone(permissions),
	}
}

// ID returns the principal ID.
func (p *Principal) ID() shared.ID { return p.id }

// Kind returns the principal kind.
func (p *Principal) Kind() Kind { return p.kind }

// Status returns the lifecycle status.
func (p *Principal) Status() Status { return p.status }

// IsActive reports whether the principal may authenticate at all.
func (p *Principal) IsActive() bool { return p.status == StatusActive }

// Roles returns the principal's assigned roles.
func (p *Principal) Roles() []*role.Role { return p.roles }

// Permissions returns the principal's direct (non-role) permissions.
func (p *Principal) Permissions() []string {
	return slices.Clone(p.directPermissions)
}

// CreatedAt returns the creation timestamp.
func (p *Principal) CreatedAt() time.Time { return p.createdAt }

// HighestRoleLevel returns the maximum level across assigned roles, or -1
// when the principal has no roles.
func (p *Principal) HighestRoleLevel() int {
	level := -1
	for _, r := range p.roles {
		if r.Level() > level {
			level = r.Level()
		}
	}
	return level
}

// Deactivate marks the principal inactive. Deactivation is the only removal
// path; principals are never deleted.
func (p *Principal) Deactivate() {
	p.status = StatusInactive
}

// Activate re-enables the principal.
func (p *Principal) Activate() {
	p.status = StatusActive
}

// GrantPermission adds a direct permission if not already present.
func (p *Principal) GrantPermission(perm string) {
	if !slices.Contains(p.directPermissions, perm) {
		p.directPermissions = append(p.directPermissions, perm)
	}
}

// AssignRole attaches a role to the principal if not already assigned.
func (p *Principal) AssignRole(r *role.Role) {
	for _, existing := range p.roles {
		if existing.ID().Equals(r.ID()) {
			return
		}
	}
	p.roles = append(p.roles, r)
}
