package permissions

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/helixdesk/helixdesk/internal/platform/httpx"
	"github.com/helixdesk/helixdesk/internal/shared"
)

// Handler exposes the engine's administrative surface over HTTP. It is a
// pure adapter: requests are validated, translated into engine calls, and
// results serialized back out.
type Handler struct {
	logger   *slog.Logger
	catalog  *Catalog
	service  *Service
	validate *validator.Validate
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, catalog *Catalog, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:   logger,
		catalog:  catalog,
		service:  service,
		validate: validator.New(),
	}
}

type permissionDTO struct {
	Key          string `json:"key"`
	Name         string `json:"name"`
	Description  string `json:"description,omitempty"`
	ResourceType string `json:"resource_type"`
	ActionType   string `json:"action_type"`
	IsSystem     bool   `json:"is_system"`
}

type categoryGroupDTO struct {
	Key         string          `json:"key"`
	Name        string          `json:"name"`
	Permissions []permissionDTO `json:"permissions"`
}

type rolePermissionsDTO struct {
	Role        string   `json:"role"`
	Permissions []string `json:"permissions"`
}

type overrideDTO struct {
	Permission string     `json:"permission"`
	IsGranted  bool       `json:"is_granted"`
	GrantedBy  int64      `json:"granted_by"`
	GrantedAt  time.Time  `json:"granted_at"`
	Reason     string     `json:"reason,omitempty"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
}

type replaceRoleRequest struct {
	Permissions []string `json:"permissions" validate:"required"`
	Reason      string   `json:"reason"`
}

type grantRequest struct {
	Permission string     `json:"permission" validate:"required"`
	Reason     string     `json:"reason" validate:"required"`
	ExpiresAt  *time.Time `json:"expires_at"`
}

type revokeRequest struct {
	Permission string `json:"permission" validate:"required"`
	Reason     string `json:"reason" validate:"required"`
}

func (h *Handler) handleCatalog(w http.ResponseWriter, r *http.Request) {
	groups, err := h.catalog.ListByCategory(r.Context())
	if err != nil {
		h.respondError(w, err)
		return
	}
	out := make([]categoryGroupDTO, 0, len(groups))
	for _, group := range groups {
		dto := categoryGroupDTO{Key: group.Category.Key, Name: group.Category.Name}
		dto.Permissions = make([]permissionDTO, 0, len(group.Permissions))
		for _, p := range group.Permissions {
			dto.Permissions = append(dto.Permissions, permissionDTO{
				Key:          p.Key,
				Name:         p.Name,
				Description:  p.Description,
				ResourceType: p.ResourceType,
				ActionType:   p.ActionType,
				IsSystem:     p.IsSystem,
			})
		}
		out = append(out, dto)
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) handleGetRolePermissions(w http.ResponseWriter, r *http.Request) {
	role := chi.URLParam(r, "role")
	keys, err := h.service.GetRolePermissions(r.Context(), role)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rolePermissionsDTO{Role: role, Permissions: keys})
}

func (h *Handler) handleReplaceRolePermissions(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusForbidden, "Forbidden", "no actor")
		return
	}
	var req replaceRoleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	role := chi.URLParam(r, "role")
	applied, err := h.service.ReplaceRolePermissions(r.Context(), role, req.Permissions, actor.UserID, req.Reason)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rolePermissionsDTO{Role: role, Permissions: applied})
}

func (h *Handler) handleGrant(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusForbidden, "Forbidden", "no actor")
		return
	}
	userID, err := parseUserID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid User ID", err.Error())
		return
	}
	var req grantRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	err = h.service.Grant(r.Context(), GrantInput{
		UserID:    userID,
		Key:       req.Permission,
		GrantedBy: actor.UserID,
		Reason:    req.Reason,
		ExpiresAt: req.ExpiresAt,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleRevoke(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusForbidden, "Forbidden", "no actor")
		return
	}
	userID, err := parseUserID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid User ID", err.Error())
		return
	}
	var req revokeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	err = h.service.Revoke(r.Context(), RevokeInput{
		UserID:    userID,
		Key:       req.Permission,
		RevokedBy: actor.UserID,
		Reason:    req.Reason,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleClearOverrides(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusForbidden, "Forbidden", "no actor")
		return
	}
	userID, err := parseUserID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid User ID", err.Error())
		return
	}
	reason := r.URL.Query().Get("reason")
	if err := h.service.ClearOverrides(r.Context(), userID, actor.UserID, reason); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleListOverrides(w http.ResponseWriter, r *http.Request) {
	userID, err := parseUserID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid User ID", err.Error())
		return
	}
	granted, revoked, err := h.service.ListOverrides(r.Context(), userID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string][]overrideDTO{
		"granted": toOverrideDTOs(granted),
		"revoked": toOverrideDTOs(revoked),
	})
}

func (h *Handler) handleEffective(w http.ResponseWriter, r *http.Request) {
	userID, err := parseUserID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid User ID", err.Error())
		return
	}
	keys, err := h.service.Resolve(r.Context(), userID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"user_id": userID, "permissions": keys})
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrProtectedRole):
		httpx.Problem(w, http.StatusForbidden, "Protected Role", err.Error())
	case errors.Is(err, ErrRoleNotFound), errors.Is(err, ErrPermissionNotFound), errors.Is(err, ErrUserNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrCatalogUnavailable):
		httpx.Problem(w, http.StatusServiceUnavailable, "Catalog Unavailable", err.Error())
	case errors.Is(err, ErrStoreTimeout):
		httpx.Problem(w, http.StatusGatewayTimeout, "Store Timeout", err.Error())
	default:
		h.logger.Error("permissions handler", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func parseUserID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
}

func toOverrideDTOs(overrides []Override) []overrideDTO {
	out := make([]overrideDTO, 0, len(overrides))
	for _, ov := range overrides {
		out = append(out, overrideDTO{
			Permission: ov.PermissionKey,
			IsGranted:  ov.IsGranted,
			GrantedBy:  ov.GrantedBy,
			GrantedAt:  ov.GrantedAt,
			Reason:     ov.Reason,
			ExpiresAt:  ov.ExpiresAt,
		})
	}
	return out
}
