package services

import (
	"context"
	"log/slog"

	"github.com/BradenHooton/assetdesk/internal/clock"
	"github.com/BradenHooton/assetdesk/internal/metrics"
	"github.com/BradenHooton/assetdesk/internal/models"
	pkglogger "github.com/BradenHooton/assetdesk/pkg/logger"
)

// Context fields lifted out of the free-form context into their own columns
const (
	FieldIdentifier = "identifier"
	FieldIP         = "ip"
)

// SecurityEventLogger is what every check calls on a denial or failure path
type SecurityEventLogger interface {
	LogEvent(ctx context.Context, kind string, severity models.Severity, fields map[string]interface{})
}

// SecurityEventRepository is the optional persistence sink
type SecurityEventRepository interface {
	Create(ctx context.Context, ev *models.SecurityEvent) error
}

// logOnlyKinds are written to slog and counted but never stored. CSP reports
// come from unauthenticated browsers and would let anyone fill the table.
var logOnlyKinds = map[string]bool{
	models.EventCSPViolation: true,
}

// SecurityEventService writes every event to slog and, when a repository is
// configured, to the security_events table
type SecurityEventService struct {
	audit   *pkglogger.AuditLogger
	repo    SecurityEventRepository
	metrics *metrics.Metrics
	clock   clock.Clock
	logger  *slog.Logger
}

func NewSecurityEventService(logger *slog.Logger, repo SecurityEventRepository, m *metrics.Metrics, clk clock.Clock) *SecurityEventService {
	if clk == nil {
		clk = clock.Real{}
	}
	return &SecurityEventService{
		audit:   pkglogger.NewAuditLogger(logger),
		repo:    repo,
		metrics: m,
		clock:   clk,
		logger:  logger,
	}
}

// LogEvent records one event. Sensitive fields are redacted before anything
// is written; persistence failures are logged and otherwise ignored.
func (s *SecurityEventService) LogEvent(ctx context.Context, kind string, severity models.Severity, fields map[string]interface{}) {
	redacted := pkglogger.RedactContext(fields)

	identifier, _ := redacted[FieldIdentifier].(string)
	ip, _ := redacted[FieldIP].(string)
	delete(redacted, FieldIdentifier)
	delete(redacted, FieldIP)

	now := s.clock.Now()

	s.audit.LogSecurityEvent(ctx, pkglogger.SecurityRecord{
		Kind:       kind,
		Severity:   string(severity),
		Identifier: identifier,
		IPAddress:  ip,
		Context:    redacted,
		Time:       now,
	})
	s.metrics.ObserveSecurityEvent(kind, string(severity))

	if s.repo == nil || logOnlyKinds[kind] {
		return
	}

	ev := &models.SecurityEvent{
		Kind:      kind,
		Severity:  severity,
		Context:   models.SecurityContext(redacted),
		CreatedAt: now,
	}
	if identifier != "" {
		ev.Identifier = &identifier
	}
	if ip != "" {
		ev.IPAddress = &ip
	}

	if err := s.repo.Create(ctx, ev); err != nil {
		s.logger.ErrorContext(ctx, "failed to persist security event",
			slog.String("event_type", kind),
			slog.Any("error", err),
		)
	}
}
