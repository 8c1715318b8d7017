package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/BradenHooton/assetdesk/internal/auth"
	"github.com/BradenHooton/assetdesk/internal/models"
	"github.com/BradenHooton/assetdesk/internal/services"
	pkghttp "github.com/BradenHooton/assetdesk/pkg/http"
)

// CSRFConfig lists paths that accept unsafe methods without a token
type CSRFConfig struct {
	ExemptPaths []string
	IPConfig    *pkghttp.IPConfig
}

func (c CSRFConfig) exempt(path string) bool {
	for _, p := range c.ExemptPaths {
		if path == p || (strings.HasSuffix(p, "/") && strings.HasPrefix(path, p)) {
			return true
		}
	}
	return false
}

// CSRFCheck validates the supplied token on unsafe, non-exempt requests
// against the token the session held when the request arrived.
// It must run after SessionMiddleware.
func CSRFCheck(config CSRFConfig) Check {
	return func(r *http.Request) *Denial {
		if pkghttp.IsSafeMethod(r.Method) || config.exempt(r.URL.Path) {
			return nil
		}

		sess := auth.SessionFromContext(r.Context())
		err := auth.ValidateCSRF(sess.RequestCSRFToken(), auth.ExtractCSRFToken(r))
		if err == nil {
			return nil
		}

		code := auth.CSRFCode(err)
		return &Denial{
			Status:  http.StatusForbidden,
			Code:    code,
			Message: csrfMessage(code),
			Event:   csrfEvent(code),
			Fields: map[string]interface{}{
				services.FieldIP: pkghttp.ExtractClientIP(r, config.IPConfig),
			},
		}
	}
}

func csrfMessage(code string) string {
	switch code {
	case auth.CodeCSRFSessionMissing:
		return "Your session has expired. Please reload the page and try again."
	case auth.CodeCSRFTokenMissing:
		return "Security token missing. Please reload the page and try again."
	default:
		return "Invalid security token. Please reload the page and try again."
	}
}

func csrfEvent(code string) string {
	switch code {
	case auth.CodeCSRFSessionMissing:
		return models.EventCSRFSessionMissing
	case auth.CodeCSRFTokenMissing:
		return models.EventCSRFTokenMissing
	default:
		return models.EventCSRFTokenInvalid
	}
}

// CSRFToken issues the session's token on every request and mirrors it in
// the X-CSRF-Token response header
func CSRFToken(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if sess := auth.SessionFromContext(r.Context()); sess != nil {
				token, err := auth.EnsureToken(sess)
				if err != nil {
					logger.Error("failed to issue CSRF token", "error", err)
					pkghttp.WriteInternalError(w, "internal server error")
					return
				}
				w.Header().Set(auth.CSRFHeaderName, token)
			}
			next.ServeHTTP(w, r)
		})
	}
}
