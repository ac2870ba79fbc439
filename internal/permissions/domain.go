package permissions

import "time"

// Category groups permissions for presentation.
type Category struct {
	Key          string
	Name         string
	DisplayOrder int
}

// Permission is one immutable capability in the catalog. Catalog rows are
// created by seeding and never mutated at runtime by this engine.
type Permission struct {
	ID           int64
	Key          string
	Name         string
	Description  string
	ResourceType string
	ActionType   string
	IsSystem     bool
	DisplayOrder int
	Category     Category
}

// CategoryGroup pairs a category with its permissions, ordered for display.
type CategoryGroup struct {
	Category    Category
	Permissions []Permission
}

// RoleTemplate is a named role whose default permission set the engine
// manages. A system role sits at the top of the hierarchy and its set is
// immutable at runtime.
type RoleTemplate struct {
	ID             int64
	Name           string
	HierarchyLevel int
	IsSystem       bool
}

// Override is a per-user grant or revoke for exactly one permission key.
// At most one override exists per (user, permission) pair.
type Override struct {
	UserID        int64
	PermissionID  int64
	PermissionKey string
	IsGranted     bool
	GrantedBy     int64
	GrantedAt     time.Time
	Reason        string
	ExpiresAt     *time.Time
}

// Expired reports whether the override has lapsed at the given instant.
// A nil ExpiresAt never expires.
func (o Override) Expired(now time.Time) bool {
	return o.ExpiresAt != nil && o.ExpiresAt.Before(now)
}

// User carries the authorization-relevant slice of a user record.
type User struct {
	ID           int64
	Email        string
	RoleName     string
	IsActive     bool
	HasOverrides bool
}

// ProtectedRoleName is the canonical top role. Its default permission set can
// never be altered at runtime, regardless of caller identity.
const ProtectedRoleName = "superadmin"
