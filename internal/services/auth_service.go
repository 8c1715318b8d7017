package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BradenHooton/assetdesk/internal/auth"
	"github.com/BradenHooton/assetdesk/internal/metrics"
	"github.com/BradenHooton/assetdesk/internal/models"
	pkgauth "github.com/BradenHooton/assetdesk/pkg/auth"
	pkglogger "github.com/BradenHooton/assetdesk/pkg/logger"
)

// UserRepository is the credential lookup used by the login flow
type UserRepository interface {
	GetByIdentifier(ctx context.Context, identifier string) (*models.User, error)
}

// LoginRecorder reports login outcomes into the lockout policy
type LoginRecorder interface {
	RecordFailedAttempt(ctx context.Context, identifier string, rc models.RequestContext) (*models.FailedAttemptResult, error)
	RecordSuccessfulLogin(ctx context.Context, identifier string, rc models.RequestContext)
}

// LoginResult is the outcome of a credential check
type LoginResult struct {
	User   *models.User
	Failed *models.FailedAttemptResult // set on invalid credentials when the ledger could be read
}

// AuthService handles the credential check of the login flow. Lockout and
// rate limits are enforced in front of it; it only reports outcomes back.
type AuthService struct {
	users   UserRepository
	lockout LoginRecorder
	timing  *auth.TimingDelay
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewAuthService(users UserRepository, lockout LoginRecorder, timing *auth.TimingDelay, m *metrics.Metrics, logger *slog.Logger) *AuthService {
	return &AuthService{
		users:   users,
		lockout: lockout,
		timing:  timing,
		metrics: m,
		logger:  logger,
	}
}

// Login checks identifier (email or login id) and password.
// On bad credentials it returns ErrInvalidCredentials together with the
// lockout policy's view of the failure.
func (s *AuthService) Login(ctx context.Context, identifier, password string, rc models.RequestContext) (*LoginResult, error) {
	start := time.Now()
	identifier = strings.TrimSpace(identifier)
	if identifier == "" || password == "" {
		return nil, models.ErrBadRequest
	}

	user, err := s.users.GetByIdentifier(ctx, identifier)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			s.logger.ErrorContext(ctx, "user lookup failed", slog.Any("error", err))
			return nil, fmt.Errorf("lookup user: %w", err)
		}
		// Same bcrypt cost as a real comparison
		pkgauth.DummyCompare(password)
		return s.fail(ctx, identifier, rc, start, "unknown_identifier")
	}

	if err := pkgauth.ComparePassword(user.PasswordHash, password); err != nil {
		return s.fail(ctx, identifier, rc, start, "invalid_password")
	}

	// A disabled account is answered exactly like a wrong password, including
	// the attempt count, so the response does not confirm the password
	if !user.Active {
		res, _ := s.fail(ctx, identifier, rc, start, "account_disabled")
		return res, models.ErrAccountDisabled
	}

	s.lockout.RecordSuccessfulLogin(ctx, identifier, rc)
	s.metrics.ObserveLogin("success")
	s.logger.InfoContext(ctx, "login succeeded",
		slog.String("user_id", user.ID),
		slog.String("ip_address", rc.IPAddress),
	)

	return &LoginResult{User: user}, nil
}

func (s *AuthService) fail(ctx context.Context, identifier string, rc models.RequestContext, start time.Time, reason string) (*LoginResult, error) {
	s.metrics.ObserveLogin("failed")

	failed, err := s.lockout.RecordFailedAttempt(ctx, identifier, rc)
	if err != nil {
		// Policy store trouble is already logged; the caller still sees a plain 401
		failed = nil
	}

	s.logger.InfoContext(ctx, "login failed",
		slog.String("identifier", pkglogger.MaskIdentifier(identifier)),
		slog.String("reason", reason),
	)

	s.timing.WaitFrom(start, false)
	return &LoginResult{Failed: failed}, models.ErrInvalidCredentials
}
