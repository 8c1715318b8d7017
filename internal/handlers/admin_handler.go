package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/BradenHooton/assetdesk/internal/auth"
	"github.com/BradenHooton/assetdesk/internal/models"
	pkghttp "github.com/BradenHooton/assetdesk/pkg/http"
	"github.com/go-chi/chi/v5"
)

// LockoutAdminService is the slice of the lockout policy exposed to administrators
type LockoutAdminService interface {
	ListActive(ctx context.Context) ([]*models.AccountLockout, error)
	Unlock(ctx context.Context, identifier, actorID string) (bool, error)
}

// SecurityEventLister reads persisted security events
type SecurityEventLister interface {
	ListRecent(ctx context.Context, kind string, limit, offset int) ([]*models.SecurityEvent, error)
}

// AdminHandler handles lockout management and security event review
type AdminHandler struct {
	lockouts LockoutAdminService
	events   SecurityEventLister
	logger   *slog.Logger
}

// NewAdminHandler creates a new AdminHandler. events may be nil when
// security events are not persisted.
func NewAdminHandler(lockouts LockoutAdminService, events SecurityEventLister, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{lockouts: lockouts, events: events, logger: logger}
}

// LockoutResponse is one active lockout
type LockoutResponse struct {
	Identifier   string    `json:"identifier"`
	LockedAt     time.Time `json:"locked_at"`
	LockedUntil  time.Time `json:"locked_until"`
	AttemptCount int       `json:"attempt_count"`
	Reason       string    `json:"reason"`
}

// SecurityEventResponse is one persisted security event
type SecurityEventResponse struct {
	ID         string                 `json:"id"`
	Kind       string                 `json:"kind"`
	Severity   string                 `json:"severity"`
	Identifier *string                `json:"identifier,omitempty"`
	IPAddress  *string                `json:"ip_address,omitempty"`
	Context    map[string]interface{} `json:"context,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
}

// ListLockouts handles GET /admin/lockouts
func (h *AdminHandler) ListLockouts(w http.ResponseWriter, r *http.Request) {
	lockouts, err := h.lockouts.ListActive(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to list lockouts", slog.Any("error", err))
		pkghttp.WriteInternalError(w, "Failed to retrieve lockouts")
		return
	}

	resp := make([]LockoutResponse, 0, len(lockouts))
	for _, l := range lockouts {
		resp = append(resp, LockoutResponse{
			Identifier:   l.Identifier,
			LockedAt:     l.LockedAt,
			LockedUntil:  l.LockedUntil,
			AttemptCount: l.AttemptCount,
			Reason:       string(l.Reason),
		})
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]interface{}{"lockouts": resp})
}

// Unlock handles DELETE /admin/lockouts/{identifier}
func (h *AdminHandler) Unlock(w http.ResponseWriter, r *http.Request) {
	identifier, err := url.PathUnescape(chi.URLParam(r, "identifier"))
	identifier = strings.TrimSpace(identifier)
	if err != nil || identifier == "" {
		pkghttp.WriteBadRequest(w, "identifier is required")
		return
	}

	var actorID string
	if sess := auth.SessionFromContext(r.Context()); sess != nil {
		actorID = sess.UserID
	}

	removed, err := h.lockouts.Unlock(r.Context(), identifier, actorID)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to unlock account", slog.Any("error", err))
		pkghttp.WriteInternalError(w, "Failed to unlock account")
		return
	}
	if !removed {
		pkghttp.WriteNotFound(w, "No lockout exists for this identifier")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"success":    true,
		"identifier": identifier,
	})
}

// ListSecurityEvents handles GET /admin/security-events
// Accepts optional ?kind=, ?limit=N (1-200, default 50) and ?offset=N.
func (h *AdminHandler) ListSecurityEvents(w http.ResponseWriter, r *http.Request) {
	if h.events == nil {
		pkghttp.WriteServiceUnavailable(w, "Security event storage is not configured")
		return
	}

	q := r.URL.Query()
	limit := 50
	if l := q.Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}
	offset := 0
	if o := q.Get("offset"); o != "" {
		if n, err := strconv.Atoi(o); err == nil && n >= 0 {
			offset = n
		}
	}

	events, err := h.events.ListRecent(r.Context(), q.Get("kind"), limit, offset)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to list security events", slog.Any("error", err))
		pkghttp.WriteInternalError(w, "Failed to retrieve security events")
		return
	}

	resp := make([]SecurityEventResponse, 0, len(events))
	for _, ev := range events {
		resp = append(resp, SecurityEventResponse{
			ID:         ev.ID,
			Kind:       ev.Kind,
			Severity:   string(ev.Severity),
			Identifier: ev.Identifier,
			IPAddress:  ev.IPAddress,
			Context:    ev.Context,
			CreatedAt:  ev.CreatedAt,
		})
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"events": resp,
		"limit":  limit,
		"offset": offset,
	})
}
