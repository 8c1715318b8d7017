package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BradenHooton/assetdesk/internal/clock"
	"github.com/BradenHooton/assetdesk/internal/metrics"
	"github.com/BradenHooton/assetdesk/internal/models"
)

// LoginAttemptRepository is the attempt ledger
type LoginAttemptRepository interface {
	RecordAttempt(ctx context.Context, attempt *models.LoginAttempt) error
	CountRecentFailures(ctx context.Context, identifier string, since time.Time) (int, error)
	Clear(ctx context.Context, identifier string) (int64, error)
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// AccountLockoutRepository holds at most one lockout row per identifier
type AccountLockoutRepository interface {
	GetActive(ctx context.Context, identifier string, now time.Time) (*models.AccountLockout, error)
	Upsert(ctx context.Context, identifier string, now, until time.Time, reason models.LockoutReason) (*models.AccountLockout, error)
	Delete(ctx context.Context, identifier string) (bool, error)
	ListActive(ctx context.Context, now time.Time) ([]*models.AccountLockout, error)
}

// LoginThrottle is the login rate limiter, reset alongside the lockout so an
// unlocked account is not held back by windows its failures filled
type LoginThrottle interface {
	ResetLogin(ctx context.Context, identifier string) error
}

// LockoutConfig holds the lockout policy
type LockoutConfig struct {
	MaxAttempts     int
	LockoutDuration time.Duration
	LookbackWindow  time.Duration
	// QueryTimeout bounds each store call made by the policy
	QueryTimeout time.Duration
	// FailClosed denies logins when the lockout status cannot be read.
	// When false the check lets the request through and logs an error.
	FailClosed bool
}

// DefaultLockoutConfig is 5 failures within an hour locking for 30 minutes
func DefaultLockoutConfig() LockoutConfig {
	return LockoutConfig{
		MaxAttempts:     5,
		LockoutDuration: 30 * time.Minute,
		LookbackWindow:  time.Hour,
		QueryTimeout:    5 * time.Second,
	}
}

// LockoutService implements the lockout policy on top of the attempt ledger
type LockoutService struct {
	attempts LoginAttemptRepository
	lockouts AccountLockoutRepository
	events   SecurityEventLogger
	metrics  *metrics.Metrics
	clock    clock.Clock
	config   LockoutConfig
	logger   *slog.Logger
	throttle LoginThrottle
}

func NewLockoutService(
	attempts LoginAttemptRepository,
	lockouts AccountLockoutRepository,
	events SecurityEventLogger,
	m *metrics.Metrics,
	clk clock.Clock,
	config LockoutConfig,
	logger *slog.Logger,
) *LockoutService {
	if clk == nil {
		clk = clock.Real{}
	}
	return &LockoutService{
		attempts: attempts,
		lockouts: lockouts,
		events:   events,
		metrics:  m,
		clock:    clk,
		config:   config,
		logger:   logger,
	}
}

// SetLoginThrottle registers the login rate limiter to reset on a clean
// login or an administrative unlock
func (s *LockoutService) SetLoginThrottle(t LoginThrottle) {
	s.throttle = t
}

func (s *LockoutService) resetThrottle(ctx context.Context, identifier string) {
	if s.throttle == nil {
		return
	}
	if err := s.throttle.ResetLogin(ctx, identifier); err != nil {
		s.logger.ErrorContext(ctx, "failed to reset login rate limit", slog.Any("error", err))
	}
}

// Config returns the active policy
func (s *LockoutService) Config() LockoutConfig {
	return s.config
}

// lockKey folds case so "A@x.com" and "a@x.com" share one lockout row
func lockKey(identifier string) string {
	return strings.ToLower(strings.TrimSpace(identifier))
}

func (s *LockoutService) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.config.QueryTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.config.QueryTimeout)
}

// IsLocked reports whether identifier currently has an active lockout.
// If the store cannot be read, the result depends on FailClosed: either
// ErrLockoutUnavailable, or an unlocked status. Both paths log an error event.
func (s *LockoutService) IsLocked(ctx context.Context, identifier string) (models.LockStatus, error) {
	now := s.clock.Now()

	qctx, cancel := s.withTimeout(ctx)
	defer cancel()

	lockout, err := s.lockouts.GetActive(qctx, lockKey(identifier), now)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.LockStatus{Locked: false}, nil
		}

		s.events.LogEvent(ctx, models.EventLockoutCheckFailed, models.SeverityError, map[string]interface{}{
			FieldIdentifier: identifier,
			"error":         err.Error(),
			"fail_closed":   s.config.FailClosed,
		})
		if s.config.FailClosed {
			return models.LockStatus{}, fmt.Errorf("%w: %v", models.ErrLockoutUnavailable, err)
		}
		return models.LockStatus{Locked: false}, nil
	}

	if !lockout.IsActive(now) {
		return models.LockStatus{Locked: false}, nil
	}

	until := lockout.LockedUntil
	return models.LockStatus{
		Locked:       true,
		LockedUntil:  &until,
		AttemptCount: lockout.AttemptCount,
	}, nil
}

// RecordFailedAttempt writes a failure to the ledger, recounts failures in the
// lookback window and locks the identifier once the threshold is reached.
// A ledger write failure is logged and does not stop the recount.
func (s *LockoutService) RecordFailedAttempt(ctx context.Context, identifier string, rc models.RequestContext) (*models.FailedAttemptResult, error) {
	now := s.clock.Now()

	s.recordAttempt(ctx, identifier, rc, models.AttemptFailed, now)

	qctx, cancel := s.withTimeout(ctx)
	count, err := s.attempts.CountRecentFailures(qctx, identifier, now.Add(-s.config.LookbackWindow))
	cancel()
	if err != nil {
		s.events.LogEvent(ctx, models.EventLockoutCheckFailed, models.SeverityError, map[string]interface{}{
			FieldIdentifier: identifier,
			FieldIP:         rc.IPAddress,
			"stage":         "count_failures",
			"error":         err.Error(),
		})
		return nil, fmt.Errorf("count recent failures: %w", err)
	}

	result := &models.FailedAttemptResult{FailedCount: count}

	if count < s.config.MaxAttempts {
		result.RemainingAttempts = s.config.MaxAttempts - count
		return result, nil
	}

	until := now.Add(s.config.LockoutDuration)

	qctx, cancel = s.withTimeout(ctx)
	lockout, err := s.lockouts.Upsert(qctx, lockKey(identifier), now, until, models.LockoutReasonTooManyFailedAttempts)
	cancel()
	if err != nil {
		s.events.LogEvent(ctx, models.EventLockoutCheckFailed, models.SeverityError, map[string]interface{}{
			FieldIdentifier: identifier,
			FieldIP:         rc.IPAddress,
			"stage":         "upsert_lockout",
			"error":         err.Error(),
		})
		return nil, fmt.Errorf("apply lockout: %w", err)
	}

	lockedUntil := lockout.LockedUntil
	result.Locked = true
	result.LockoutDuration = s.config.LockoutDuration
	result.LockedUntil = &lockedUntil
	result.AttemptCount = lockout.AttemptCount

	s.metrics.ObserveLockout()
	s.events.LogEvent(ctx, models.EventAccountLocked, models.SeverityWarn, map[string]interface{}{
		FieldIdentifier:  identifier,
		FieldIP:          rc.IPAddress,
		"failed_count":   count,
		"attempt_count":  lockout.AttemptCount,
		"locked_until":   lockedUntil.Format(time.RFC3339),
		"lockout_reason": string(lockout.Reason),
	})

	return result, nil
}

// RecordSuccessfulLogin clears the ledger and any lockout for identifier,
// then records the success. Store errors are logged, never returned.
func (s *LockoutService) RecordSuccessfulLogin(ctx context.Context, identifier string, rc models.RequestContext) {
	now := s.clock.Now()

	qctx, cancel := s.withTimeout(ctx)
	if _, err := s.attempts.Clear(qctx, identifier); err != nil {
		s.logger.ErrorContext(ctx, "failed to clear login attempts", slog.Any("error", err))
	}
	cancel()

	qctx, cancel = s.withTimeout(ctx)
	if _, err := s.lockouts.Delete(qctx, lockKey(identifier)); err != nil {
		s.logger.ErrorContext(ctx, "failed to clear account lockout", slog.Any("error", err))
	}
	cancel()

	s.resetThrottle(ctx, identifier)
	s.recordAttempt(ctx, identifier, rc, models.AttemptSuccess, now)
}

// Unlock removes the lockout row for identifier and drops its login rate
// limit windows. Ledger rows are left for the next clean login to clear.
func (s *LockoutService) Unlock(ctx context.Context, identifier, actorID string) (bool, error) {
	qctx, cancel := s.withTimeout(ctx)
	defer cancel()

	removed, err := s.lockouts.Delete(qctx, lockKey(identifier))
	if err != nil {
		return false, fmt.Errorf("unlock: %w", err)
	}
	s.resetThrottle(ctx, identifier)

	if removed {
		s.events.LogEvent(ctx, models.EventAdminUnlock, models.SeverityInfo, map[string]interface{}{
			FieldIdentifier: identifier,
			"actor_id":      actorID,
		})
	}

	return removed, nil
}

// ListActive returns lockouts still in force
func (s *LockoutService) ListActive(ctx context.Context) ([]*models.AccountLockout, error) {
	qctx, cancel := s.withTimeout(ctx)
	defer cancel()

	return s.lockouts.ListActive(qctx, s.clock.Now())
}

// CountRecentFailures exposes the ledger count used by the policy
func (s *LockoutService) CountRecentFailures(ctx context.Context, identifier string) (int, error) {
	qctx, cancel := s.withTimeout(ctx)
	defer cancel()

	return s.attempts.CountRecentFailures(qctx, identifier, s.clock.Now().Add(-s.config.LookbackWindow))
}

// PurgeAttempts deletes ledger rows older than retention
func (s *LockoutService) PurgeAttempts(ctx context.Context, retention time.Duration) (int64, error) {
	return s.attempts.PurgeOlderThan(ctx, s.clock.Now().Add(-retention))
}

func (s *LockoutService) recordAttempt(ctx context.Context, identifier string, rc models.RequestContext, kind models.AttemptType, now time.Time) {
	attempt := &models.LoginAttempt{
		Identifier:  identifier,
		IPAddress:   rc.IPAddress,
		AttemptTime: now,
		AttemptType: kind,
	}
	if rc.UserAgent != "" {
		ua := rc.UserAgent
		attempt.UserAgent = &ua
	}

	qctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.attempts.RecordAttempt(qctx, attempt); err != nil {
		s.events.LogEvent(ctx, models.EventLedgerWriteFailed, models.SeverityError, map[string]interface{}{
			FieldIdentifier: identifier,
			FieldIP:         rc.IPAddress,
			"attempt_type":  string(kind),
			"error":         err.Error(),
		})
	}
}
