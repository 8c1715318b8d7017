package middleware

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func serveHeaders(t *testing.T, config SecurityHeadersConfig, req *http.Request) http.Header {
	t.Helper()
	handler := SecurityHeaders(config)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w.Header()
}

func TestSecurityHeaders_Production(t *testing.T) {
	h := serveHeaders(t, SecurityHeadersConfig{Env: "production"}, httptest.NewRequest("GET", "/", nil))

	tests := []struct {
		header   string
		expected string
	}{
		{"X-Frame-Options", "DENY"},
		{"X-Content-Type-Options", "nosniff"},
		{"Referrer-Policy", "strict-origin-when-cross-origin"},
		{"Cross-Origin-Opener-Policy", "same-origin"},
	}

	for _, tt := range tests {
		if got := h.Get(tt.header); got != tt.expected {
			t.Errorf("Header %s: got %q, want %q", tt.header, got, tt.expected)
		}
	}

	csp := h.Get("Content-Security-Policy")
	assert.Contains(t, csp, "default-src 'self'")
	assert.Contains(t, csp, "frame-ancestors 'none'")
	assert.Contains(t, csp, "report-uri /csp-report")
	assert.NotContains(t, csp, "unsafe-eval")
	assert.NotEmpty(t, h.Get("Permissions-Policy"))

	// Plain HTTP gets no HSTS
	assert.Empty(t, h.Get("Strict-Transport-Security"))
}

func TestSecurityHeaders_Development(t *testing.T) {
	h := serveHeaders(t, SecurityHeadersConfig{Env: "development"}, httptest.NewRequest("GET", "/", nil))

	assert.Equal(t, "DENY", h.Get("X-Frame-Options"))

	csp := h.Get("Content-Security-Policy")
	assert.Contains(t, csp, "unsafe-inline")
	assert.True(t, strings.HasSuffix(csp, "report-uri /csp-report"))
}

func TestSecurityHeaders_HSTS(t *testing.T) {
	forwarded := httptest.NewRequest("GET", "/", nil)
	forwarded.Header.Set("X-Forwarded-Proto", "https")
	assert.NotEmpty(t, serveHeaders(t, SecurityHeadersConfig{Env: "production"}, forwarded).Get("Strict-Transport-Security"))

	direct := httptest.NewRequest("GET", "/", nil)
	direct.TLS = &tls.ConnectionState{}
	assert.NotEmpty(t, serveHeaders(t, SecurityHeadersConfig{Env: "production"}, direct).Get("Strict-Transport-Security"))

	dev := httptest.NewRequest("GET", "/", nil)
	dev.Header.Set("X-Forwarded-Proto", "https")
	assert.Empty(t, serveHeaders(t, SecurityHeadersConfig{Env: "development"}, dev).Get("Strict-Transport-Security"))
}

func TestSecurityHeaders_CustomReportURI(t *testing.T) {
	h := serveHeaders(t, SecurityHeadersConfig{Env: "production", ReportURI: "/reports/csp"}, httptest.NewRequest("GET", "/", nil))
	assert.Contains(t, h.Get("Content-Security-Policy"), "report-uri /reports/csp")
}
