// Package role provides domain entities for hierarchical role-based access control.
// A role carries its own permissions and may inherit from a parent role; a
// principal's effective permissions are the union of its direct permissions and
// the permissions of every role in its roles' ancestor chains.
package role

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/driveport/api/pkg/domain/shared"
)

// Validation errors.
var (
	ErrEmptyName     = errors.New("role name cannot be empty")
	ErrNegativeLevel = errors.New("role level cannot be negative")
	ErrSelfParent    = errors.New("role cannot be its own parent")
	ErrParentCycle   = errors.New("role parent chain contains a cycle")
)

// Well-known role slugs.
const (
	SlugSuperAdmin = "super_admin"
	SlugAdmin      = "admin"
	SlugCompany    = "company_admin"
	SlugDriver     = "driver"
)

var lowerCaser = cases.Lower(language.Und)

// NormalizeName canonicalizes a role name for comparison:
// "Super Admin" and "super_admin" normalize to the same slug.
func NormalizeName(name string) string {
	name = lowerCaser.String(strings.TrimSpace(name))
	fields := strings.FieldsFunc(name, func(r rune) bool {
		return r == ' ' || r == '-' || r == '_' || r == '\t'
	})
	return strings.Join(fields, "_")
}

// Role represents a role entity that defines a set of permissions.
type Role struct {
	id          shared.ID
	slug        string
	name        string
	description string
	level       int
	parentID    *shared.ID
	permissions []string
	createdAt   time.Time
	updatedAt   time.Time
}

// ParentLookup resolves a role ID to its parent role ID, or nil for root roles.
// Used for cycle detection at creation time.
type ParentLookup func(id shared.ID) (*shared.ID, error)

// New creates a new role. The parent chain is validated for cycles here, at
// creation time, so resolution never has to trust the stored graph.
func New(name, description string, level int, parentID *shared.ID, permissions []string, lookup ParentLookup) (*Role, error) {
	if strings.TrimSpace(name) == "" {
		return nil, ErrEmptyName
	}
	if level < 0 {
		return nil, ErrNegativeLevel
	}

	r := &Role{
		id:          shared.NewID(),
		slug:        NormalizeName(name),
		name:        name,
		description: description,
		level:       level,
		parentID:    parentID,
		permissions: slices.Clone(permissions),
		createdAt:   time.Now().UTC(),
		updatedAt:   time.Now().UTC(),
	}

	if parentID != nil {
		if parentID.Equals(r.id) {
			return nil, ErrSelfParent
		}
		if lookup != nil {
			if err := checkParentChain(r.id, *parentID, lookup); err != nil {
				return nil, err
			}
		}
	}

	return r, nil
}

// checkParentChain walks upward from parentID and fails if it reaches start.
func checkParentChain(start, parentID shared.ID, lookup ParentLookup) error {
	seen := map[string]bool{start.String(): true}
	current := &parentID
	for current != nil {
		key := current.String()
		if seen[key] {
			return fmt.Errorf("%w: via role %s", ErrParentCycle, key)
		}
		seen[key] = true

		next, err := lookup(*current)
		if err != nil {
			return fmt.Errorf("resolve parent %s: %w", key, err)
		}
		current = next
	}
	return nil
}

// Reconstruct creates a role from persistence data.
func Reconstruct(
	id shared.ID,
	slug string,
	name string,
	description string,
	level int,
	parentID *shared.ID,
	permissions []string,
	createdAt time.Time,
	updatedAt time.Time,
) *Role {
	return &Role{
		id:          id,
		slug:        slug,
		name:        name,
		description: description,
		level:       level,
		parentID:    parentID,
		permissions: permissions,
		createdAt:   createdAt,
		updatedAt:   updatedAt,
	}
}

// ID returns the role ID.
func (r *Role) ID() shared.ID { return r.id }

// Slug returns the normalized role name.
func (r *Role) Slug() string { return r.slug }

// Name returns the display name.
func (r *Role) Name() string { return r.name }

// Description returns the role description.
func (r *Role) Description() string { return r.description }

// Level returns the hierarchy level. Higher levels outrank lower ones.
func (r *Role) Level() int { return r.level }

// ParentID returns the parent role ID, or nil for root roles.
func (r *Role) ParentID() *shared.ID { return r.parentID }

// Permissions returns a copy of the role's own (non-inherited) permissions.
func (r *Role) Permissions() []string {
	return slices.Clone(r.permissions)
}

// CreatedAt returns the creation timestamp.
func (r *Role) CreatedAt() time.Time { return r.createdAt }

// UpdatedAt returns the last update timestamp.
func (r *Role) UpdatedAt() time.Time { return r.updatedAt }

// Matches reports whether the given name refers to this role after
// normalization.
func (r *Role) Matches(name string) bool {
	return r.slug == NormalizeName(name)
}

// GrantPermission adds a permission to the role if not already present.
func (r *Role) GrantPermission(perm string) {
	if !slices.Contains(r.permissions, perm) {
		r.permissions = append(r.permissions, perm)
		r.updatedAt = time.Now().UTC()
	}
}

// RevokePermission removes a permission from the role.
func (r *Role) RevokePermission(perm string) {
	r.permissions = slices.DeleteFunc(r.permissions, func(p string) bool {
		return p == perm
	})
	r.updatedAt = time.Now().UTC()
}
