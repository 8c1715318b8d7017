package middleware

import (
	"net/http"
	"strings"
)

// CSPReportPath receives browser CSP violation reports
const CSPReportPath = "/csp-report"

// SecurityHeadersConfig holds security headers configuration
type SecurityHeadersConfig struct {
	Env       string
	ReportURI string
}

func buildCSP(config SecurityHeadersConfig) string {
	var directives []string
	if config.Env == "production" {
		directives = []string{
			"default-src 'self'",
			"script-src 'self'",
			"style-src 'self' 'unsafe-inline'",
			"img-src 'self' data:",
			"font-src 'self'",
			"connect-src 'self'",
			"object-src 'none'",
			"frame-ancestors 'none'",
			"base-uri 'self'",
			"form-action 'self'",
			"upgrade-insecure-requests",
		}
	} else {
		// Development allows inline scripts and websocket live reload
		directives = []string{
			"default-src 'self' http: https: ws:",
			"script-src 'self' 'unsafe-inline' 'unsafe-eval' http: https:",
			"style-src 'self' 'unsafe-inline' http: https:",
			"img-src 'self' data: http: https:",
			"font-src 'self' data: http: https:",
			"connect-src 'self' http: https: ws: wss:",
			"frame-ancestors 'self'",
			"base-uri 'self'",
			"form-action 'self'",
		}
	}

	reportURI := config.ReportURI
	if reportURI == "" {
		reportURI = CSPReportPath
	}
	directives = append(directives, "report-uri "+reportURI)

	return strings.Join(directives, "; ")
}

// SecurityHeaders returns a middleware that adds security headers to all responses
func SecurityHeaders(config SecurityHeadersConfig) func(http.Handler) http.Handler {
	csp := buildCSP(config)
	production := config.Env == "production"

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("X-Frame-Options", "DENY")
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
			h.Set("Content-Security-Policy", csp)
			h.Set("Permissions-Policy", "camera=(), geolocation=(), microphone=(), payment=(), usb=()")
			h.Set("X-DNS-Prefetch-Control", "off")
			h.Set("Cross-Origin-Opener-Policy", "same-origin")

			// HSTS only over HTTPS
			if production && (r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https") {
				h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains; preload")
			}

			next.ServeHTTP(w, r)
		})
	}
}
