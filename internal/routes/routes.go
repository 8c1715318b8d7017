package routes

import (
	"log/slog"
	"net/http"

	"github.com/BradenHooton/assetdesk/internal/auth"
	"github.com/BradenHooton/assetdesk/internal/clock"
	"github.com/BradenHooton/assetdesk/internal/handlers"
	"github.com/BradenHooton/assetdesk/internal/metrics"
	"github.com/BradenHooton/assetdesk/internal/middleware"
	"github.com/BradenHooton/assetdesk/internal/services"
	pkghttp "github.com/BradenHooton/assetdesk/pkg/http"
	"github.com/go-chi/chi/v5"
)

const loginPath = "/auth/login"

// Dependencies is everything the route table needs
type Dependencies struct {
	AuthHandler  *handlers.AuthHandler
	AdminHandler *handlers.AdminHandler
	CSPHandler   *handlers.CSPReportHandler
	Health       handlers.HealthChecker

	Sessions    *auth.SessionManager
	RateLimiter *middleware.RateLimiter
	Lockout     middleware.LockoutChecker
	Users       auth.UserRepository
	Events      services.SecurityEventLogger

	// Metrics is optional; /metrics is only mounted when set
	Metrics  *metrics.Metrics
	Clock    clock.Clock
	IPConfig *pkghttp.IPConfig
	CSRF     middleware.CSRFConfig
	Logger   *slog.Logger
}

// RegisterRoutes registers all application routes.
// Every unsafe route runs its checks in a fixed order through one Guard:
// rate limits first, then CSRF. Login puts the lockout check between the API
// and login limiters so a locked account answers 423 and is not counted.
func RegisterRoutes(router chi.Router, deps Dependencies) {
	rl := deps.RateLimiter
	csrf := middleware.CSRFCheck(deps.CSRF)
	guard := func(checks ...middleware.Check) func(http.Handler) http.Handler {
		return middleware.Guard(deps.Events, checks...)
	}

	// Outside the session: probes, scraping and browser CSP reports
	router.Get("/health", handlers.Health(deps.Health))
	if deps.Metrics != nil {
		router.Handle("/metrics", deps.Metrics.Handler())
	}
	router.Post(middleware.CSPReportPath, deps.CSPHandler.Report)

	router.Group(func(r chi.Router) {
		r.Use(auth.SessionMiddleware(deps.Sessions, deps.Logger))
		r.Use(middleware.CSRFToken(deps.Logger))

		r.Get(loginPath, deps.AuthHandler.LoginForm)
		r.With(guard(
			rl.API(),
			middleware.LockoutCheck(deps.Lockout, deps.Clock, deps.IPConfig, loginPath),
			rl.Login(),
			csrf,
		)).Post(loginPath, deps.AuthHandler.Login)

		r.With(guard(rl.API(), csrf)).Post("/auth/logout", deps.AuthHandler.Logout)
		r.With(guard(rl.PasswordReset(), csrf)).Post("/auth/password-reset", deps.AuthHandler.PasswordReset)
		r.With(guard(rl.Register(), csrf)).Post("/auth/register", deps.AuthHandler.Register)

		// Admin-only routes
		r.Route("/admin", func(r chi.Router) {
			r.Use(auth.RequireRole(deps.Users, "admin"))
			r.Use(guard(rl.API(), csrf))

			r.Get("/lockouts", deps.AdminHandler.ListLockouts)
			r.Delete("/lockouts/{identifier}", deps.AdminHandler.Unlock)
			r.Get("/security-events", deps.AdminHandler.ListSecurityEvents)
		})
	})
}
