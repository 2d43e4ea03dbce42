package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	audithttp "github.com/salespulse/salespulse/internal/audit/http"
	"github.com/salespulse/salespulse/internal/auth"
	"github.com/salespulse/salespulse/internal/dashboard"
	"github.com/salespulse/salespulse/internal/observability"
	"github.com/salespulse/salespulse/internal/platform/httpx"
	"github.com/salespulse/salespulse/internal/rbac"
	"github.com/salespulse/salespulse/internal/roles"
	"github.com/salespulse/salespulse/internal/users"
	"github.com/salespulse/salespulse/jobs"
)

// ReadinessCheck reports whether a dependency is reachable.
type ReadinessCheck func(ctx context.Context) error

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger             *slog.Logger
	Config             *Config
	Tokens             *auth.TokenManager
	AuthHandler        *auth.Handler
	PermissionsHandler *rbac.PermissionsHandler
	RolesHandler       *roles.Handler
	UsersHandler       *users.Handler
	AuditHandler       *audithttp.Handler
	DashboardHandler   *dashboard.Handler
	JobHandler         *jobs.Handler
	Metrics            *observability.Metrics
	Readiness          map[string]ReadinessCheck
}

// NewRouter constructs the chi.Router with salespulse defaults.
func NewRouter(params RouterParams) http.Handler {
	logger := params.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)
	if params.Tokens != nil {
		r.Use(auth.Identify(params.Tokens, logger))
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", readinessHandler(logger, params.Readiness))
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}

	if params.AuthHandler != nil {
		r.Route("/auth", params.AuthHandler.MountRoutes)
	}
	if params.DashboardHandler != nil {
		params.DashboardHandler.MountRoutes(r)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(auth.RequireUser)
		if params.PermissionsHandler != nil {
			r.Route("/me", params.PermissionsHandler.MountMe)
			r.Route("/permissions", params.PermissionsHandler.MountRoutes)
		}
		if params.RolesHandler != nil {
			r.Route("/roles", params.RolesHandler.MountRoutes)
		}
		if params.UsersHandler != nil {
			r.Route("/users", params.UsersHandler.MountRoutes)
		}
		if params.AuditHandler != nil {
			r.Route("/audit", params.AuditHandler.MountRoutes)
		}
	})

	return r
}

type readiness struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func readinessHandler(logger *slog.Logger, checks map[string]ReadinessCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		resp := readiness{Status: "ok", Checks: map[string]string{}}
		status := http.StatusOK
		for name, check := range checks {
			if err := check(ctx); err != nil {
				logger.Warn("readiness check failed", slog.String("check", name), slog.Any("error", err))
				resp.Checks[name] = "down"
				resp.Status = "degraded"
				status = http.StatusServiceUnavailable
				continue
			}
			resp.Checks[name] = "up"
		}
		httpx.JSON(w, status, resp)
	}
}
