package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/BradenHooton/assetdesk/internal/auth"
	"github.com/BradenHooton/assetdesk/internal/metrics"
	"github.com/BradenHooton/assetdesk/internal/models"
	"github.com/BradenHooton/assetdesk/internal/ratelimit"
	"github.com/BradenHooton/assetdesk/internal/services"
	pkghttp "github.com/BradenHooton/assetdesk/pkg/http"
	"github.com/go-chi/httprate"
)

const CodeRateLimitExceeded = "RATE_LIMIT_EXCEEDED"

// RateLimitPolicies holds the window for each protected surface
type RateLimitPolicies struct {
	Login         ratelimit.Policy
	API           ratelimit.Policy
	PasswordReset ratelimit.Policy
	Register      ratelimit.Policy
}

// DefaultRateLimitPolicies returns login 5/15m, api 100/15m, reset 3/60m, register 3/60m
func DefaultRateLimitPolicies() RateLimitPolicies {
	return RateLimitPolicies{
		Login:         ratelimit.Policy{Name: ratelimit.SurfaceLogin, Window: 15 * time.Minute, Max: 5},
		API:           ratelimit.Policy{Name: ratelimit.SurfaceAPI, Window: 15 * time.Minute, Max: 100},
		PasswordReset: ratelimit.Policy{Name: ratelimit.SurfacePasswordReset, Window: 60 * time.Minute, Max: 3},
		Register:      ratelimit.Policy{Name: ratelimit.SurfaceRegister, Window: 60 * time.Minute, Max: 3},
	}
}

// RateLimiter builds the per-surface rate limit checks. A store failure lets
// the request through and logs an error event; the lockout store is separate,
// so a lockout outage never disables these limits.
type RateLimiter struct {
	limiter  *ratelimit.Limiter
	policies RateLimitPolicies
	events   services.SecurityEventLogger
	metrics  *metrics.Metrics
	ipConfig *pkghttp.IPConfig
}

func NewRateLimiter(limiter *ratelimit.Limiter, policies RateLimitPolicies, events services.SecurityEventLogger, m *metrics.Metrics, ipConfig *pkghttp.IPConfig) *RateLimiter {
	return &RateLimiter{
		limiter:  limiter,
		policies: policies,
		events:   events,
		metrics:  m,
		ipConfig: ipConfig,
	}
}

// Login limits by client address and submitted identifier. Safe methods and
// already authenticated sessions are not counted.
func (rl *RateLimiter) Login() Check {
	return func(r *http.Request) *Denial {
		if pkghttp.IsSafeMethod(r.Method) {
			return nil
		}
		if auth.SessionFromContext(r.Context()).Authenticated() {
			return nil
		}

		ip := pkghttp.ExtractClientIP(r, rl.ipConfig)
		identifier := LoginIdentifier(r)
		var group string
		if identifier != "" {
			group = ratelimit.LoginGroup(identifier)
		}
		return rl.takeGrouped(r, rl.policies.Login, ratelimit.LoginKey(ip, identifier), group, ip, identifier)
	}
}

// API limits every request by user id, or by client address when anonymous
func (rl *RateLimiter) API() Check {
	return func(r *http.Request) *Denial {
		ip := pkghttp.ExtractClientIP(r, rl.ipConfig)
		var userID string
		if sess := auth.SessionFromContext(r.Context()); sess.Authenticated() {
			userID = sess.UserID
		}
		return rl.take(r, rl.policies.API, ratelimit.APIKey(userID, ip), ip, "")
	}
}

// PasswordReset limits by client address and email
func (rl *RateLimiter) PasswordReset() Check {
	return func(r *http.Request) *Denial {
		if pkghttp.IsSafeMethod(r.Method) {
			return nil
		}
		ip := pkghttp.ExtractClientIP(r, rl.ipConfig)
		email := pkghttp.ReadBodyFields(r, "email")["email"]
		return rl.take(r, rl.policies.PasswordReset, ratelimit.PasswordResetKey(ip, email), ip, email)
	}
}

// Register limits by client address
func (rl *RateLimiter) Register() Check {
	return func(r *http.Request) *Denial {
		if pkghttp.IsSafeMethod(r.Method) {
			return nil
		}
		ip := pkghttp.ExtractClientIP(r, rl.ipConfig)
		return rl.take(r, rl.policies.Register, ratelimit.RegisterKey(ip), ip, "")
	}
}

// ResetLogin drops the login windows of identifier for every client address
func (rl *RateLimiter) ResetLogin(ctx context.Context, identifier string) error {
	return rl.limiter.ResetLogin(ctx, identifier)
}

func (rl *RateLimiter) take(r *http.Request, p ratelimit.Policy, key, ip, identifier string) *Denial {
	return rl.takeGrouped(r, p, key, "", ip, identifier)
}

func (rl *RateLimiter) takeGrouped(r *http.Request, p ratelimit.Policy, key, group, ip, identifier string) *Denial {
	d, err := rl.limiter.AllowGrouped(r.Context(), p, key, group)
	if err != nil {
		rl.events.LogEvent(r.Context(), models.EventRateLimitStoreError, models.SeverityError, map[string]interface{}{
			"surface":        p.Name,
			services.FieldIP: ip,
			"error":          err.Error(),
			"path":           r.URL.Path,
		})
		// The window was counted; only filing it under its group failed
		if d.Key == "" {
			return nil
		}
	}

	rl.metrics.ObserveRateLimit(p.Name, d.Allowed)
	if d.Allowed {
		return nil
	}

	fields := map[string]interface{}{
		"surface":        p.Name,
		"bucket":         key,
		"hits":           d.Count,
		"limit":          d.Limit,
		services.FieldIP: ip,
	}
	if identifier != "" {
		fields[services.FieldIdentifier] = identifier
	}

	return &Denial{
		Status:     http.StatusTooManyRequests,
		Code:       CodeRateLimitExceeded,
		Message:    "Too many requests, please try again later.",
		Event:      models.EventRateLimitExceeded,
		Severity:   models.SeverityWarn,
		Fields:     fields,
		RetryAfter: d.RetryAfterSeconds(),
	}
}

// LoginIdentifier returns the submitted email or login id
func LoginIdentifier(r *http.Request) string {
	fields := pkghttp.ReadBodyFields(r, "email", "login", "identifier")
	for _, name := range []string{"email", "login", "identifier"} {
		if v := fields[name]; v != "" {
			return v
		}
	}
	return ""
}

// FloodGuard is a coarse per-address limit in front of the whole router
func FloodGuard(requestsPerMinute int, ipConfig *pkghttp.IPConfig) func(next http.Handler) http.Handler {
	return httprate.Limit(
		requestsPerMinute,
		1*time.Minute,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			return pkghttp.ClientKey(pkghttp.ExtractClientIP(r, ipConfig)), nil
		}),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			retry := 60
			if v, err := strconv.Atoi(w.Header().Get("Retry-After")); err == nil && v > 0 {
				retry = v
			}
			pkghttp.WriteDenial(w, http.StatusTooManyRequests, pkghttp.DenialResponse{
				Error:      "Rate limit exceeded",
				Code:       CodeRateLimitExceeded,
				RetryAfter: &retry,
			})
		}),
	)
}
