package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/BradenHooton/assetdesk/internal/database"
	"github.com/BradenHooton/assetdesk/internal/models"
	"github.com/google/uuid"
)

// LoginAttemptRepository is the attempt ledger: append-only rows purged by age
type LoginAttemptRepository struct {
	db *database.DB
}

func NewLoginAttemptRepository(db *database.DB) *LoginAttemptRepository {
	return &LoginAttemptRepository{db: db}
}

// RecordAttempt inserts one ledger row. AttemptTime must be set by the caller's clock.
func (r *LoginAttemptRepository) RecordAttempt(ctx context.Context, attempt *models.LoginAttempt) error {
	if attempt.ID == "" {
		attempt.ID = uuid.New().String()
	}

	query := `
		INSERT INTO login_attempts (id, identifier, ip_address, user_agent, attempt_time, attempt_type)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.db.Pool.Exec(ctx, query,
		attempt.ID,
		attempt.Identifier,
		attempt.IPAddress,
		attempt.UserAgent,
		attempt.AttemptTime,
		string(attempt.AttemptType),
	)
	if err != nil {
		return fmt.Errorf("failed to record login attempt: %w", database.MapPostgresError(err))
	}

	return nil
}

// CountRecentFailures counts failed attempts for identifier at or after since.
// Identifiers are compared case-insensitively.
func (r *LoginAttemptRepository) CountRecentFailures(ctx context.Context, identifier string, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*) FROM login_attempts
		WHERE LOWER(identifier) = LOWER($1) AND attempt_type = 'failed' AND attempt_time >= $2
	`

	var count int
	if err := r.db.Pool.QueryRow(ctx, query, identifier, since).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count login failures: %w", err)
	}

	return count, nil
}

// Clear deletes every ledger row for identifier
func (r *LoginAttemptRepository) Clear(ctx context.Context, identifier string) (int64, error) {
	query := `DELETE FROM login_attempts WHERE LOWER(identifier) = LOWER($1)`

	tag, err := r.db.Pool.Exec(ctx, query, identifier)
	if err != nil {
		return 0, fmt.Errorf("failed to clear login attempts: %w", err)
	}

	return tag.RowsAffected(), nil
}

// PurgeOlderThan deletes ledger rows written before cutoff
func (r *LoginAttemptRepository) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `DELETE FROM login_attempts WHERE attempt_time < $1`

	tag, err := r.db.Pool.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge login attempts: %w", err)
	}

	return tag.RowsAffected(), nil
}
