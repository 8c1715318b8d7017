package middleware

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"

	"github.com/BradenHooton/assetdesk/internal/clock"
	"github.com/BradenHooton/assetdesk/internal/models"
	"github.com/BradenHooton/assetdesk/internal/services"
	pkghttp "github.com/BradenHooton/assetdesk/pkg/http"
)

const (
	CodeAccountLocked      = "ACCOUNT_LOCKED"
	CodeLockoutUnavailable = "LOCKOUT_UNAVAILABLE"
)

// LockoutChecker reads the lockout status for an identifier
type LockoutChecker interface {
	IsLocked(ctx context.Context, identifier string) (models.LockStatus, error)
}

// LockoutCheck refuses login attempts for locked identifiers before any
// credential check runs. Browsers are redirected to redirect with a flash.
func LockoutCheck(checker LockoutChecker, clk clock.Clock, ipConfig *pkghttp.IPConfig, redirect string) Check {
	if clk == nil {
		clk = clock.Real{}
	}

	return func(r *http.Request) *Denial {
		if pkghttp.IsSafeMethod(r.Method) {
			return nil
		}

		identifier := LoginIdentifier(r)
		if identifier == "" {
			return nil
		}

		status, err := checker.IsLocked(r.Context(), identifier)
		if err != nil {
			// IsLocked has already logged the store failure
			if errors.Is(err, models.ErrLockoutUnavailable) {
				return &Denial{
					Status:  http.StatusServiceUnavailable,
					Code:    CodeLockoutUnavailable,
					Message: "Sign-in is temporarily unavailable. Please try again shortly.",
				}
			}
			return nil
		}
		if !status.Locked || status.LockedUntil == nil {
			return nil
		}

		minutes := remainingMinutes(status, clk)
		return &Denial{
			Status:  http.StatusLocked,
			Code:    CodeAccountLocked,
			Message: fmt.Sprintf("Account temporarily locked due to too many failed login attempts. Try again in %d minutes.", minutes),
			Event:   models.EventLockoutDenied,
			Fields: map[string]interface{}{
				services.FieldIdentifier: identifier,
				services.FieldIP:         pkghttp.ExtractClientIP(r, ipConfig),
				"locked_until":           status.LockedUntil.UTC(),
				"lockout_count":          status.AttemptCount,
				"remaining_minutes":      minutes,
			},
			Locked:           true,
			RemainingMinutes: minutes,
			Redirect:         redirect,
		}
	}
}

// remainingMinutes rounds up so a lock with seconds left still reads 1 minute
func remainingMinutes(status models.LockStatus, clk clock.Clock) int {
	left := status.LockedUntil.Sub(clk.Now())
	mins := int(math.Ceil(left.Minutes()))
	if mins < 1 {
		return 1
	}
	return mins
}
