package permissions

import (
	"github.com/go-chi/chi/v5"

	"github.com/helixdesk/helixdesk/internal/shared"
)

// MountRoutes registers the engine's administrative endpoints.
func (h *Handler) MountRoutes(r chi.Router, authz Middleware) {
	r.Group(func(r chi.Router) {
		r.Use(authz.RequireAny(shared.PermPermissionsView, shared.PermPermissionsManage))
		r.Get("/catalog", h.handleCatalog)
	})

	r.Group(func(r chi.Router) {
		r.Use(authz.RequireAny(shared.PermRolesView, shared.PermRolesEdit))
		r.Get("/roles/{role}", h.handleGetRolePermissions)
	})
	r.Group(func(r chi.Router) {
		r.Use(authz.RequireAll(shared.PermRolesEdit))
		r.Put("/roles/{role}", h.handleReplaceRolePermissions)
	})

	r.Group(func(r chi.Router) {
		r.Use(authz.RequireAny(shared.PermUsersView, shared.PermUsersEdit))
		r.Get("/users/{userID}/overrides", h.handleListOverrides)
		r.Get("/users/{userID}/effective", h.handleEffective)
	})
	r.Group(func(r chi.Router) {
		r.Use(authz.RequireAll(shared.PermPermissionsManage))
		r.Post("/users/{userID}/grants", h.handleGrant)
		r.Post("/users/{userID}/revocations", h.handleRevoke)
		r.Delete("/users/{userID}/overrides", h.handleClearOverrides)
	})
}
