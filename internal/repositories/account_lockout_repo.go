package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/BradenHooton/assetdesk/internal/database"
	"github.com/BradenHooton/assetdesk/internal/models"
	"github.com/jackc/pgx/v5"
)

// AccountLockoutRepository defines lockout row persistence
type AccountLockoutRepository interface {
	GetActive(ctx context.Context, identifier string, now time.Time) (*models.AccountLockout, error)
	Upsert(ctx context.Context, identifier string, now, until time.Time, reason models.LockoutReason) (*models.AccountLockout, error)
	Delete(ctx context.Context, identifier string) (bool, error)
	ListActive(ctx context.Context, now time.Time) ([]*models.AccountLockout, error)
}

type accountLockoutRepoImpl struct {
	db *database.DB
}

func NewAccountLockoutRepository(db *database.DB) AccountLockoutRepository {
	return &accountLockoutRepoImpl{db: db}
}

const lockoutColumns = `identifier, locked_at, locked_until, attempt_count, reason`

func scanLockoutRow(row rowScanner) (*models.AccountLockout, error) {
	var l models.AccountLockout
	var reason string

	if err := row.Scan(&l.Identifier, &l.LockedAt, &l.LockedUntil, &l.AttemptCount, &reason); err != nil {
		return nil, database.MapPostgresError(err)
	}
	l.Reason = models.LockoutReason(reason)

	return &l, nil
}

// GetActive returns the lockout for identifier if locked_until is after now,
// or models.ErrNotFound
func (r *accountLockoutRepoImpl) GetActive(ctx context.Context, identifier string, now time.Time) (*models.AccountLockout, error) {
	query := `SELECT ` + lockoutColumns + ` FROM account_lockouts WHERE identifier = $1 AND locked_until > $2`

	return scanLockoutRow(r.db.Pool.QueryRow(ctx, query, identifier, now))
}

// Upsert locks identifier until the given time in one statement.
// A still-active row is extended and keeps its locked_at and attempt_count, so
// concurrent threshold crossings merge into one lockout. An expired row starts
// a new lockout and increments attempt_count.
func (r *accountLockoutRepoImpl) Upsert(ctx context.Context, identifier string, now, until time.Time, reason models.LockoutReason) (*models.AccountLockout, error) {
	query := `
		INSERT INTO account_lockouts (identifier, locked_at, locked_until, attempt_count, reason)
		VALUES ($1, $2, $3, 1, $4)
		ON CONFLICT (identifier) DO UPDATE SET
			locked_at = CASE
				WHEN account_lockouts.locked_until > $2 THEN account_lockouts.locked_at
				ELSE EXCLUDED.locked_at
			END,
			locked_until = GREATEST(account_lockouts.locked_until, EXCLUDED.locked_until),
			attempt_count = CASE
				WHEN account_lockouts.locked_until > $2 THEN account_lockouts.attempt_count
				ELSE account_lockouts.attempt_count + 1
			END,
			reason = EXCLUDED.reason
		RETURNING ` + lockoutColumns

	lockout, err := scanLockoutRow(r.db.Pool.QueryRow(ctx, query, identifier, now, until, string(reason)))
	if err != nil {
		return nil, fmt.Errorf("failed to upsert account lockout: %w", err)
	}

	return lockout, nil
}

// Delete removes the lockout row; reports whether one existed
func (r *accountLockoutRepoImpl) Delete(ctx context.Context, identifier string) (bool, error) {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM account_lockouts WHERE identifier = $1`, identifier)
	if err != nil {
		return false, fmt.Errorf("failed to delete account lockout: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}

func (r *accountLockoutRepoImpl) ListActive(ctx context.Context, now time.Time) ([]*models.AccountLockout, error) {
	query := `SELECT ` + lockoutColumns + ` FROM account_lockouts WHERE locked_until > $1 ORDER BY locked_until DESC`

	rows, err := r.db.Pool.Query(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list account lockouts: %w", err)
	}

	return scanLockoutRows(rows)
}

func scanLockoutRows(rows pgx.Rows) ([]*models.AccountLockout, error) {
	defer rows.Close()

	lockouts := make([]*models.AccountLockout, 0)
	for rows.Next() {
		l, err := scanLockoutRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account lockout: %w", err)
		}
		lockouts = append(lockouts, l)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating account lockout rows: %w", err)
	}

	return lockouts, nil
}
