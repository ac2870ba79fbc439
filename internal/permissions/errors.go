package permissions

import "errors"

// Error taxonomy for the permission engine. Mutation-path errors abort the
// operation before anything is observable; resolution-path errors collapse to
// an empty decision set so callers stay deny-by-default.
var (
	// ErrCatalogUnavailable indicates the backing store could not serve the
	// permission catalog. The catalog cache is never populated on this path.
	ErrCatalogUnavailable = errors.New("permissions: catalog unavailable")
	// ErrRoleNotFound indicates the role template does not exist.
	ErrRoleNotFound = errors.New("permissions: role not found")
	// ErrProtectedRole indicates an attempt to modify the protected system role.
	ErrProtectedRole = errors.New("permissions: protected role cannot be modified")
	// ErrPermissionNotFound indicates the permission key is unknown or inactive.
	ErrPermissionNotFound = errors.New("permissions: permission not found")
	// ErrUserNotFound indicates the user record does not exist.
	ErrUserNotFound = errors.New("permissions: user not found")
	// ErrStoreTimeout indicates a backing-store call exceeded its deadline.
	ErrStoreTimeout = errors.New("permissions: store timeout")
)
