package models

import "time"

// LockoutReason explains why an identifier was locked
type LockoutReason string

const (
	LockoutReasonTooManyFailedAttempts LockoutReason = "too_many_failed_attempts"
)

// AccountLockout is the single lockout row kept per identifier
type AccountLockout struct {
	Identifier   string        `db:"identifier"`
	LockedAt     time.Time     `db:"locked_at"`
	LockedUntil  time.Time     `db:"locked_until"`
	AttemptCount int           `db:"attempt_count"`
	Reason       LockoutReason `db:"reason"`
}

// IsActive reports whether the lockout still applies at now
func (l *AccountLockout) IsActive(now time.Time) bool {
	return l != nil && l.LockedUntil.After(now)
}

// Remaining returns how long the lockout still lasts at now
func (l *AccountLockout) Remaining(now time.Time) time.Duration {
	if !l.IsActive(now) {
		return 0
	}
	return l.LockedUntil.Sub(now)
}

// LockStatus is the answer to "is this identifier locked?"
type LockStatus struct {
	Locked       bool       `json:"locked"`
	LockedUntil  *time.Time `json:"locked_until,omitempty"`
	AttemptCount int        `json:"attempt_count,omitempty"`
}

// FailedAttemptResult is returned after a failed attempt is recorded
type FailedAttemptResult struct {
	Locked            bool
	FailedCount       int
	RemainingAttempts int
	LockoutDuration   time.Duration
	LockedUntil       *time.Time
	AttemptCount      int
}
