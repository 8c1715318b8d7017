package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/BradenHooton/assetdesk/internal/database"
	"github.com/BradenHooton/assetdesk/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SecurityEventRepository persists security events for later review
type SecurityEventRepository struct {
	pool *pgxpool.Pool
}

func NewSecurityEventRepository(db *database.DB) *SecurityEventRepository {
	return &SecurityEventRepository{pool: db.Pool}
}

func scanSecurityEventRow(row rowScanner) (*models.SecurityEvent, error) {
	var ev models.SecurityEvent
	var severity string

	err := row.Scan(
		&ev.ID, &ev.Kind, &severity, &ev.Identifier,
		&ev.IPAddress, &ev.Context, &ev.CreatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	ev.Severity = models.Severity(severity)

	return &ev, nil
}

func scanSecurityEventRows(rows pgx.Rows) ([]*models.SecurityEvent, error) {
	defer rows.Close()

	events := make([]*models.SecurityEvent, 0)
	for rows.Next() {
		ev, err := scanSecurityEventRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan security event: %w", err)
		}
		events = append(events, ev)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating security event rows: %w", err)
	}

	return events, nil
}

func (r *SecurityEventRepository) Create(ctx context.Context, ev *models.SecurityEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}

	query := `
		INSERT INTO security_events (id, kind, severity, identifier, ip_address, context, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.pool.Exec(ctx, query,
		ev.ID, ev.Kind, string(ev.Severity), ev.Identifier,
		ev.IPAddress, ev.Context, ev.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create security event: %w", database.MapPostgresError(err))
	}

	return nil
}

// ListRecent returns the newest events, optionally filtered by kind
func (r *SecurityEventRepository) ListRecent(ctx context.Context, kind string, limit, offset int) ([]*models.SecurityEvent, error) {
	query := `
		SELECT id, kind, severity, identifier, ip_address, context, created_at
		FROM security_events
		WHERE ($1 = '' OR kind = $1)
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.pool.Query(ctx, query, kind, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list security events: %w", err)
	}

	return scanSecurityEventRows(rows)
}

// PurgeOlderThan deletes events created before cutoff
func (r *SecurityEventRepository) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM security_events WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge security events: %w", err)
	}

	return tag.RowsAffected(), nil
}
