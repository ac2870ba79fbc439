// Package audithttp adapts the audit trail query service to HTTP.
package audithttp

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/helixdesk/helixdesk/internal/audit"
	"github.com/helixdesk/helixdesk/internal/platform/httpx"
)

const maxDateRange = 90 * 24 * time.Hour

// TrailService defines the business contract for audit listings.
type TrailService interface {
	List(ctx context.Context, filters audit.Filters) (audit.Result, error)
}

// Handler serves the audit trail listing.
type Handler struct {
	logger  *slog.Logger
	service TrailService
	now     func() time.Time
}

// NewHandler builds a new audit handler.
func NewHandler(logger *slog.Logger, service TrailService) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, now: time.Now}
}

type entryDTO struct {
	ID            string    `json:"id"`
	ActionType    string    `json:"action_type"`
	TargetType    string    `json:"target_type"`
	TargetID      string    `json:"target_id"`
	PermissionKey *string   `json:"permission_key,omitempty"`
	OldValue      string    `json:"old_value,omitempty"`
	NewValue      string    `json:"new_value,omitempty"`
	PerformedBy   int64     `json:"performed_by"`
	Reason        string    `json:"reason,omitempty"`
	PerformedAt   time.Time `json:"performed_at"`
}

type listResponse struct {
	Entries []entryDTO `json:"entries"`
	Page    int        `json:"page"`
	HasNext bool       `json:"has_next"`
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	filters, err := h.parseFilters(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Filters", err.Error())
		return
	}
	result, err := h.service.List(r.Context(), filters)
	if err != nil {
		h.logger.Error("list audit entries", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	entries := make([]entryDTO, 0, len(result.Entries))
	for _, e := range result.Entries {
		entries = append(entries, entryDTO{
			ID:            e.ID.String(),
			ActionType:    e.ActionType,
			TargetType:    e.TargetType,
			TargetID:      e.TargetID,
			PermissionKey: e.PermissionKey,
			OldValue:      e.OldValue,
			NewValue:      e.NewValue,
			PerformedBy:   e.PerformedBy,
			Reason:        e.Reason,
			PerformedAt:   e.PerformedAt,
		})
	}
	httpx.JSON(w, http.StatusOK, listResponse{Entries: entries, Page: result.Paging.Page, HasNext: result.Paging.HasNext})
}

func (h *Handler) parseFilters(r *http.Request) (audit.Filters, error) {
	q := r.URL.Query()
	filters := audit.Filters{
		Action:     strings.ToUpper(strings.TrimSpace(q.Get("action"))),
		TargetType: strings.ToUpper(strings.TrimSpace(q.Get("target_type"))),
		TargetID:   strings.TrimSpace(q.Get("target_id")),
	}
	if raw := q.Get("performed_by"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return audit.Filters{}, err
		}
		filters.PerformedBy = id
	}
	if raw := q.Get("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return audit.Filters{}, err
		}
		filters.From = t
	}
	if raw := q.Get("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return audit.Filters{}, err
		}
		filters.To = t
	}
	if !filters.From.IsZero() && filters.To.IsZero() && h.now().Sub(filters.From) > maxDateRange {
		filters.To = filters.From.Add(maxDateRange)
	}
	if raw := q.Get("page"); raw != "" {
		page, err := strconv.Atoi(raw)
		if err != nil {
			return audit.Filters{}, err
		}
		filters.Page = page
	}
	if raw := q.Get("page_size"); raw != "" {
		size, err := strconv.Atoi(raw)
		if err != nil {
			return audit.Filters{}, err
		}
		filters.PageSize = size
	}
	return filters, nil
}
