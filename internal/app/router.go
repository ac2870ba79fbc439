package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	audithttp "github.com/helixdesk/helixdesk/internal/audit/http"
	"github.com/helixdesk/helixdesk/internal/permissions"
	"github.com/helixdesk/helixdesk/internal/shared"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger             *slog.Logger
	Config             *Config
	PermissionsHandler *permissions.Handler
	AuditHandler       *audithttp.Handler
	Authz              permissions.Middleware
}

// NewRouter constructs the chi.Router with helixdesk defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger: params.Logger,
		Config: params.Config,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	if params.PermissionsHandler != nil {
		r.Route("/permissions", func(r chi.Router) {
			params.PermissionsHandler.MountRoutes(r, params.Authz)
		})
	}
	if params.AuditHandler != nil {
		r.Group(func(r chi.Router) {
			r.Use(params.Authz.RequireAny(shared.PermAuditView))
			params.AuditHandler.MountRoutes(r)
		})
	}

	return r
}
