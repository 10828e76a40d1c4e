package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/driveport/api/internal/config"
	"github.com/driveport/api/internal/infra/http/handler"
	"github.com/driveport/api/internal/infra/http/middleware"
	"github.com/driveport/api/pkg/logger"
)

// RouterDeps carries everything the router needs. Handlers may be nil when
// their backing store is not configured; their routes are then skipped.
type RouterDeps struct {
	Config        *config.Config
	Log           *logger.Logger
	Auth          *middleware.Authenticator
	Guard         *middleware.Guard
	Health        *handler.HealthHandler
	AuthHandler   *handler.AuthHandler
	Roles         *handler.RoleHandler
	RoutePerms    *handler.RoutePermissionHandler
	Audit         *handler.AuditHandler
	Verifications *handler.VerificationHandler
}

// NewRouter builds the chi router with the global middleware chain and all
// route registrations. Route directives live here, next to the routes they
// protect.
func NewRouter(deps RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(chimw.CleanPath)
	r.Use(chimw.StripSlashes)

	r.Use(middleware.Recovery(deps.Log, !deps.Config.IsProduction()))
	r.Use(middleware.RequestID)
	r.Use(middleware.Metrics)
	r.Use(middleware.LoggerWithConfig(deps.Log, middleware.DefaultLoggerConfig()))
	r.Use(middleware.Decompress(nil))
	r.Use(middleware.BodyLimit(deps.Config.Server.MaxBodySize))
	r.Use(middleware.Timeout(deps.Config.Server.RequestTimeout))

	r.Get("/healthz", deps.Health.Health)
	r.Get("/readyz", deps.Health.Ready)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	guard := deps.Guard

	r.Route("/api/v1", func(api chi.Router) {
		if deps.AuthHandler != nil {
			api.With(guard.PublicLimits("auth.login", "rate_limit:login")).
				Post("/auth/login", deps.AuthHandler.Login)
			api.With(guard.PublicLimits("auth.refresh", "rate_limit:api")).
				Post("/auth/refresh", deps.AuthHandler.Refresh)
		}

		api.Group(func(authed chi.Router) {
			authed.Use(deps.Auth.Authenticate)

			if deps.AuthHandler != nil {
				authed.With(guard.Protect("auth.logout", "rate_limit:api")).
					Post("/auth/logout", deps.AuthHandler.Logout)
				authed.With(guard.Protect("auth.otp.request", "rate_limit:api")).
					Post("/auth/otp/request", deps.AuthHandler.RequestOTP)
				authed.With(guard.Protect("auth.otp.verify", "rate_limit:otp")).
					Post("/auth/otp/verify", deps.AuthHandler.VerifyOTP)
			}

			if deps.Verifications != nil {
				authed.With(guard.Protect("verification.submit",
					"permission:drivers:verify", "rate_limit:verification")).
					Post("/verification", deps.Verifications.Submit)
			}

			authed.Route("/admin", func(admin chi.Router) {
				if deps.Roles != nil {
					admin.With(guard.Protect("admin.roles.list",
						"permission:admin:roles:read", "rate_limit:admin")).
						Get("/roles", deps.Roles.List)
					admin.With(guard.Protect("admin.roles.create",
						"permission:admin:roles:write", "rbac:level:50", "rate_limit:admin")).
						Post("/roles", deps.Roles.Create)
					admin.With(guard.Protect("admin.roles.assign",
						"permission:admin:roles:write", "rate_limit:admin")).
						Post("/roles/assign", deps.Roles.Assign)
					admin.With(guard.Protect("admin.roles.remove",
						"permission:admin:roles:write", "rate_limit:admin")).
						Post("/roles/remove", deps.Roles.Remove)
				}

				if deps.RoutePerms != nil {
					admin.With(guard.Protect("admin.routeperms.list",
						"permission:admin:routeperms:read", "rate_limit:admin")).
						Get("/route-permissions", deps.RoutePerms.List)
					admin.With(guard.Protect("admin.routeperms.create",
						"permission:admin:routeperms:write", "rate_limit:admin")).
						Post("/route-permissions", deps.RoutePerms.Create)
					admin.With(guard.Protect("admin.routeperms.deactivate",
						"permission:admin:routeperms:write", "rate_limit:admin")).
						Post("/route-permissions/{routeName}/deactivate", deps.RoutePerms.Deactivate)
				}

				if deps.Audit != nil {
					admin.With(guard.Protect("admin.audit.list",
						"permission:audit:read", "rate_limit:admin")).
						Get("/audit", deps.Audit.List)
				}
			})
		})
	})

	return r
}
