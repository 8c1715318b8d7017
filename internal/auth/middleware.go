package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/BradenHooton/assetdesk/internal/models"
	pkghttp "github.com/BradenHooton/assetdesk/pkg/http"
)

// UserRepository interface for fetching user data
type UserRepository interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
}

// SessionMiddleware loads the request's session into the context and saves it
// before the response headers are sent if a handler changed it
func SessionMiddleware(manager *SessionManager, logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess, err := manager.Load(r)
			if err != nil {
				logger.Error("failed to load session", "error", err, "path", r.URL.Path)
				pkghttp.WriteServiceUnavailable(w, "session store unavailable")
				return
			}

			sw := &sessionWriter{ResponseWriter: w, manager: manager, session: sess, ctx: r.Context(), logger: logger}
			next.ServeHTTP(sw, r.WithContext(WithSession(r.Context(), sess)))

			// Handlers that wrote nothing still need the cookie committed
			sw.commit()
		})
	}
}

// sessionWriter saves a dirty session just before the first header write
type sessionWriter struct {
	http.ResponseWriter
	manager   *SessionManager
	session   *Session
	ctx       context.Context
	logger    *slog.Logger
	committed bool
}

func (sw *sessionWriter) commit() {
	if sw.committed {
		return
	}
	sw.committed = true

	if !sw.session.Dirty() {
		return
	}
	if err := sw.manager.Save(sw.ctx, sw.ResponseWriter, sw.session); err != nil {
		sw.logger.Error("failed to save session", "error", err)
	}
}

func (sw *sessionWriter) WriteHeader(statusCode int) {
	sw.commit()
	sw.ResponseWriter.WriteHeader(statusCode)
}

func (sw *sessionWriter) Write(b []byte) (int, error) {
	sw.commit()
	return sw.ResponseWriter.Write(b)
}

// Unwrap lets http.ResponseController reach the underlying writer
func (sw *sessionWriter) Unwrap() http.ResponseWriter {
	return sw.ResponseWriter
}

// RequireAuthenticated rejects requests without a logged-in session
func RequireAuthenticated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !SessionFromContext(r.Context()).Authenticated() {
			pkghttp.WriteUnauthorized(w, "authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireRole creates a middleware that enforces role-based access control.
// The role is re-read from the user store so demotions apply immediately.
func RequireRole(userRepo UserRepository, role string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess := SessionFromContext(r.Context())
			if !sess.Authenticated() {
				pkghttp.WriteUnauthorized(w, "authentication required")
				return
			}

			user, err := userRepo.GetByID(r.Context(), sess.UserID)
			if err != nil {
				if errors.Is(err, models.ErrNotFound) {
					pkghttp.WriteUnauthorized(w, "user not found")
					return
				}
				pkghttp.WriteInternalError(w, "internal server error")
				return
			}

			if !user.Active || user.Role != role {
				pkghttp.WriteForbidden(w, "forbidden: insufficient permissions")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
