package logger

import (
	"context"
	"log/slog"
	"sort"
	"time"
)

// SecurityRecord is one security event as it is written to the log
type SecurityRecord struct {
	Kind       string
	Severity   string // "info", "warn" or "error"
	Identifier string
	IPAddress  string
	Context    map[string]interface{}
	Time       time.Time
}

// AuditLogger writes security records as structured slog entries
type AuditLogger struct {
	logger *slog.Logger
}

func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	return &AuditLogger{
		logger: logger,
	}
}

// LogSecurityEvent writes rec with identifiers masked and context redacted.
// Error severity is reserved for failures of the security machinery itself.
func (al *AuditLogger) LogSecurityEvent(ctx context.Context, rec SecurityRecord) {
	attrs := []slog.Attr{
		slog.String("audit_type", "security"),
		slog.String("event_type", rec.Kind),
		slog.String("severity", rec.Severity),
		slog.String("timestamp", rec.Time.UTC().Format(time.RFC3339)),
	}

	if rec.Identifier != "" {
		attrs = append(attrs, slog.String("identifier", MaskIdentifier(rec.Identifier)))
	}
	if rec.IPAddress != "" {
		attrs = append(attrs, slog.String("ip_address", rec.IPAddress))
	}

	redacted := RedactContext(rec.Context)
	if len(redacted) > 0 {
		keys := make([]string, 0, len(redacted))
		for k := range redacted {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		fields := make([]any, 0, len(keys))
		for _, k := range keys {
			fields = append(fields, slog.Any(k, redacted[k]))
		}
		attrs = append(attrs, slog.Group("context", fields...))
	}

	al.logger.LogAttrs(ctx, levelFor(rec.Severity), "security_event", attrs...)
}

func levelFor(severity string) slog.Level {
	switch severity {
	case "error":
		return slog.LevelError
	case "info":
		return slog.LevelInfo
	default:
		return slog.LevelWarn
	}
}
