package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// Security event kinds
const (
	EventAccountLocked       = "account_locked"
	EventLockoutDenied       = "lockout_denied"
	EventRateLimitExceeded   = "rate_limit_exceeded"
	EventCSRFSessionMissing  = "csrf_session_missing"
	EventCSRFTokenMissing    = "csrf_token_missing"
	EventCSRFTokenInvalid    = "csrf_token_invalid"
	EventCSPViolation        = "csp_violation"
	EventLedgerWriteFailed   = "ledger_write_failed"
	EventLockoutCheckFailed  = "lockout_check_failed"
	EventRateLimitStoreError = "rate_limit_store_error"
	EventAdminUnlock         = "admin_unlock"
)

// Severity separates expected policy denials from unexpected failures
type Severity string

const (
	SeverityInfo  Severity = "info"
	SeverityWarn  Severity = "warn"
	SeverityError Severity = "error"
)

// SecurityEvent is the structured record of a denial or security-relevant failure
type SecurityEvent struct {
	ID         string          `db:"id"`
	Kind       string          `db:"kind"`
	Severity   Severity        `db:"severity"`
	Identifier *string         `db:"identifier"`
	IPAddress  *string         `db:"ip_address"`
	Context    SecurityContext `db:"context"`
	CreatedAt  time.Time       `db:"created_at"`
}

// SecurityContext holds free-form event details, already redacted
type SecurityContext map[string]interface{}

// Scan implements sql.Scanner for JSONB
func (sc *SecurityContext) Scan(value interface{}) error {
	if value == nil {
		*sc = make(SecurityContext)
		return nil
	}

	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return ErrBadRequest
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return err
	}
	*sc = SecurityContext(m)
	return nil
}

// Value implements driver.Valuer for JSONB
func (sc SecurityContext) Value() (driver.Value, error) {
	if sc == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(map[string]interface{}(sc))
}
