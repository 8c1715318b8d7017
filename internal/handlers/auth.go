package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/BradenHooton/assetdesk/internal/auth"
	"github.com/BradenHooton/assetdesk/internal/models"
	"github.com/BradenHooton/assetdesk/internal/services"
	pkgauth "github.com/BradenHooton/assetdesk/pkg/auth"
	pkghttp "github.com/BradenHooton/assetdesk/pkg/http"
)

const (
	loginPath       = "/auth/login"
	defaultRedirect = "/"

	invalidCredentialsMessage = "Invalid email/login or password."
)

// AuthServiceInterface defines the interface for auth business logic
type AuthServiceInterface interface {
	Login(ctx context.Context, identifier, password string, rc models.RequestContext) (*services.LoginResult, error)
}

// AuthHandler handles the login, logout, password reset and registration surfaces
type AuthHandler struct {
	service  AuthServiceInterface
	sessions *auth.SessionManager
	ipConfig *pkghttp.IPConfig
	logger   *slog.Logger
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(service AuthServiceInterface, sessions *auth.SessionManager, ipConfig *pkghttp.IPConfig, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		service:  service,
		sessions: sessions,
		ipConfig: ipConfig,
		logger:   logger,
	}
}

// Request DTOs

// LoginRequest accepts either an email or a login id
type LoginRequest struct {
	Email    string `json:"email" validate:"required_without=Login,omitempty,email,max=254"`
	Login    string `json:"login" validate:"required_without=Email,omitempty,max=64"`
	Password string `json:"password" validate:"required,max=72"`
}

func (req *LoginRequest) bindForm(v url.Values) {
	req.Email = v.Get("email")
	req.Login = v.Get("login")
	req.Password = v.Get("password")
}

func (req *LoginRequest) identifier() string {
	if req.Email != "" {
		return strings.TrimSpace(req.Email)
	}
	return strings.TrimSpace(req.Login)
}

// PasswordResetRequest represents the request body for a password reset
type PasswordResetRequest struct {
	Email string `json:"email" validate:"required,email,max=254"`
}

func (req *PasswordResetRequest) bindForm(v url.Values) {
	req.Email = v.Get("email")
}

// RegisterRequest represents the request body for registration
type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Login    string `json:"login" validate:"required,min=3,max=64,login_id"`
	Password string `json:"password" validate:"required,max=72"`
}

func (req *RegisterRequest) bindForm(v url.Values) {
	req.Email = v.Get("email")
	req.Login = v.Get("login")
	req.Password = v.Get("password")
}

// Response DTOs

// LoginFormResponse carries what a client needs to render the login form
type LoginFormResponse struct {
	CSRFToken string   `json:"csrfToken"`
	Flash     []string `json:"flash,omitempty"`
}

// LoginSuccessResponse is returned to AJAX clients after a successful login
type LoginSuccessResponse struct {
	Success  bool   `json:"success"`
	Redirect string `json:"redirect"`
}

// LoginFailureResponse is returned on bad credentials. Once the failure
// triggers a lockout it carries the lock details instead of a remaining count.
type LoginFailureResponse struct {
	Success           bool   `json:"success"`
	Message           string `json:"message"`
	RemainingAttempts *int   `json:"remainingAttempts,omitempty"`
	Locked            bool   `json:"locked,omitempty"`
	RemainingMinutes  *int   `json:"remainingMinutes,omitempty"`
}

// AcceptedResponse is the generic answer of the reset and registration surfaces
type AcceptedResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// LoginForm handles GET /auth/login
func (h *AuthHandler) LoginForm(w http.ResponseWriter, r *http.Request) {
	sess := auth.SessionFromContext(r.Context())
	if sess == nil {
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, LoginFormResponse{
		CSRFToken: sess.CSRFToken,
		Flash:     sess.PopFlash(),
	})
}

// Login handles POST /auth/login. Lockout, rate limit and CSRF checks have
// already run by the time this is reached.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	sess := auth.SessionFromContext(r.Context())
	if sess == nil {
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	var req LoginRequest
	if err := decodeRequest(w, r, &req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	rc := models.RequestContext{
		IPAddress: pkghttp.ExtractClientIP(r, h.ipConfig),
		UserAgent: r.Header.Get("User-Agent"),
	}

	result, err := h.service.Login(r.Context(), req.identifier(), req.Password, rc)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrBadRequest):
			pkghttp.WriteBadRequest(w, "Email or login and password are required")
		case errors.Is(err, models.ErrInvalidCredentials), errors.Is(err, models.ErrAccountDisabled):
			h.writeLoginFailure(w, r, sess, result)
		default:
			h.logger.ErrorContext(r.Context(), "login failed unexpectedly", slog.Any("error", err))
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	sess.UserID = result.User.ID
	sess.Role = result.User.Role
	sess.Identifier = req.identifier()
	sess.MarkDirty()

	if !pkghttp.WantsJSON(r) {
		http.Redirect(w, r, defaultRedirect, http.StatusSeeOther)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, LoginSuccessResponse{Success: true, Redirect: defaultRedirect})
}

func (h *AuthHandler) writeLoginFailure(w http.ResponseWriter, r *http.Request, sess *auth.Session, result *services.LoginResult) {
	resp := LoginFailureResponse{Message: invalidCredentialsMessage}

	if result != nil && result.Failed != nil {
		failed := result.Failed
		if failed.Locked {
			mins := int(failed.LockoutDuration.Minutes())
			resp.Locked = true
			resp.RemainingMinutes = &mins
			resp.Message = fmt.Sprintf("Too many failed login attempts. Account locked for %d minutes.", mins)
		} else {
			remaining := failed.RemainingAttempts
			resp.RemainingAttempts = &remaining
			if remaining <= 2 {
				resp.Message = fmt.Sprintf("%s %d attempts remaining before the account is locked.", invalidCredentialsMessage, remaining)
			}
		}
	}

	if !pkghttp.WantsJSON(r) {
		sess.AddFlash(resp.Message)
		http.Redirect(w, r, loginPath, http.StatusSeeOther)
		return
	}
	pkghttp.WriteJSON(w, http.StatusUnauthorized, resp)
}

// Logout handles POST /auth/logout. The session and its CSRF token are destroyed.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	sess := auth.SessionFromContext(r.Context())
	if err := h.sessions.Destroy(r.Context(), w, sess); err != nil {
		h.logger.ErrorContext(r.Context(), "failed to destroy session", slog.Any("error", err))
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	if !pkghttp.WantsJSON(r) {
		http.Redirect(w, r, loginPath, http.StatusSeeOther)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// PasswordReset handles POST /auth/password-reset. The answer is the same
// whether or not the address is registered; delivery happens elsewhere.
func (h *AuthHandler) PasswordReset(w http.ResponseWriter, r *http.Request) {
	var req PasswordResetRequest
	if err := decodeRequest(w, r, &req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	pkghttp.WriteJSON(w, http.StatusAccepted, AcceptedResponse{
		Success: true,
		Message: "If the address is registered, password reset instructions will be sent.",
	})
}

// Register handles POST /auth/register. Requests that pass validation get a
// generic 202; account provisioning happens outside this service.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := decodeRequest(w, r, &req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}
	if err := pkgauth.ValidatePassword(req.Password); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	pkghttp.WriteJSON(w, http.StatusAccepted, AcceptedResponse{
		Success: true,
		Message: "Registration received. An administrator will review the request.",
	})
}
