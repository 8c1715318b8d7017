package models

import "time"

// AttemptType records the outcome of a single authentication try
type AttemptType string

const (
	AttemptFailed  AttemptType = "failed"
	AttemptSuccess AttemptType = "success"
)

// LoginAttempt is one immutable row of the attempt ledger
type LoginAttempt struct {
	ID          string      `db:"id"`
	Identifier  string      `db:"identifier"` // email or login id, case preserved as submitted
	IPAddress   string      `db:"ip_address"`
	UserAgent   *string     `db:"user_agent"`
	AttemptTime time.Time   `db:"attempt_time"`
	AttemptType AttemptType `db:"attempt_type"`
}

// RequestContext carries the request facts the lockout policy records
type RequestContext struct {
	IPAddress string
	UserAgent string
}
