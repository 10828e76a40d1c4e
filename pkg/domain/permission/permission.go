// Package permission defines granular permissions for resource-based authorization.
//
// Permission naming convention follows a hierarchical pattern:
//
//	{module}:{subfeature}:{action}
//
// Examples:
//   - drivers:documents:read (read driver documents)
//   - fleet:vehicles:assign (assign vehicles to drivers)
//
// For simpler permissions without subfeatures:
//
//	{module}:{action}
//
// Examples:
//   - drivers:read
//   - requests:approve
package permission

import "slices"

// Permission represents a granular permission for a specific action on a resource.
type Permission string

// String returns the string representation of the permission.
func (p Permission) String() string {
	return string(p)
}

// Wildcard grants every permission. Only assignable to super-admin roles.
const Wildcard Permission = "*"

// Driver module permissions.
const (
	DriversRead   Permission = "drivers:read"
	DriversWrite  Permission = "drivers:write"
	DriversDelete Permission = "drivers:delete"
	DriversVerify Permission = "drivers:verify"

	DriverDocumentsRead  Permission = "drivers:documents:read"
	DriverDocumentsWrite Permission = "drivers:documents:write"
)

// Company module permissions.
const (
	CompaniesRead  Permission = "companies:read"
	CompaniesWrite Permission = "companies:write"

	CompanyStaffRead   Permission = "companies:staff:read"
	CompanyStaffWrite  Permission = "companies:staff:write"
	CompanyStaffInvite Permission = "companies:staff:invite"
)

// Request (driver matching) module permissions.
const (
	RequestsRead    Permission = "requests:read"
	RequestsWrite   Permission = "requests:write"
	RequestsApprove Permission = "requests:approve"
	RequestsAssign  Permission = "requests:assign"
)

// Fleet module permissions.
const (
	FleetVehiclesRead   Permission = "fleet:vehicles:read"
	FleetVehiclesWrite  Permission = "fleet:vehicles:write"
	FleetVehiclesAssign Permission = "fleet:vehicles:assign"
)

// Administration permissions.
const (
	AdminRolesRead       Permission = "admin:roles:read"
	AdminRolesWrite      Permission = "admin:roles:write"
	AdminRoutePermsRead  Permission = "admin:routeperms:read"
	AdminRoutePermsWrite Permission = "admin:routeperms:write"
	AuditRead            Permission = "audit:read"
	ReportsRead          Permission = "reports:read"
)

// AllPermissions returns every known permission. Used for validation and
// for seeding role definitions.
func AllPermissions() []Permission {
	return []Permission{
		DriversRead, DriversWrite, DriversDelete, DriversVerify,
		DriverDocumentsRead, DriverDocumentsWrite,
		CompaniesRead, CompaniesWrite,
		CompanyStaffRead, CompanyStaffWrite, CompanyStaffInvite,
		RequestsRead, RequestsWrite, RequestsApprove, RequestsAssign,
		FleetVehiclesRead, FleetVehiclesWrite, FleetVehiclesAssign,
		AdminRolesRead, AdminRolesWrite,
		AdminRoutePermsRead, AdminRoutePermsWrite,
		AuditRead, ReportsRead,
	}
}

// IsValid reports whether the permission is a known permission or the wildcard.
func (p Permission) IsValid() bool {
	if p == Wildcard {
		return true
	}
	return slices.Contains(AllPermissions(), p)
}

// ParsePermission parses a string into a Permission.
// Returns false when the string is not a known permission.
func ParsePermission(s string) (Permission, bool) {
	p := Permission(s)
	if !p.IsValid() {
		return "", false
	}
	return p, true
}

// ToStrings converts a slice of permissions to strings.
func ToStrings(perms []Permission) []string {
	strs := make([]string, len(perms))
	for i, p := range perms {
		strs[i] = string(p)
	}
	return strs
}

// FromStrings converts strings to permissions without validation.
// Unknown strings are kept as-is so dynamic route mappings created by admins
// survive round-trips; validation happens where the mapping is created.
func FromStrings(strs []string) []Permission {
	perms := make([]Permission, len(strs))
	for i, s := range strs {
		perms[i] = Permission(s)
	}
	return perms
}

// Contains reports whether perms includes target or the wildcard.
func Contains(perms []Permission, target Permission) bool {
	return slices.Contains(perms, target) || slices.Contains(perms, Wildcard)
}

// ContainsAny reports whether perms includes any of targets.
func ContainsAny(perms []Permission, targets ...Permission) bool {
	for _, t := range targets {
		if Contains(perms, t) {
			return true
		}
	}
	return false
}

// ContainsAll reports whether perms includes all of targets.
func ContainsAll(perms []Permission, targets ...Permission) bool {
	for _, t := range targets {
		if !Contains(perms, t) {
			return false
		}
	}
	return true
}
