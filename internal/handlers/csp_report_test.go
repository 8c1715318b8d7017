package handlers_test

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/BradenHooton/assetdesk/internal/handlers"
	"github.com/BradenHooton/assetdesk/internal/models"
	"github.com/BradenHooton/assetdesk/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCSPReport(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantEvent bool
	}{
		{
			name:      "violation",
			body:      `{"csp-report":{"document-uri":"https://assets.example.com/","violated-directive":"script-src 'self'","blocked-uri":"https://evil.example"}}`,
			wantEvent: true,
		},
		{name: "malformed", body: `{not json`},
		{name: "empty", body: ``},
		{name: "no directive", body: `{"csp-report":{"document-uri":"https://assets.example.com/"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events := &services.RecordingEventLogger{}
			h := handlers.NewCSPReportHandler(events, nil)

			req := httptest.NewRequest("POST", "/csp-report", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/csp-report")
			w := httptest.NewRecorder()
			h.Report(w, req)

			assert.Equal(t, 204, w.Code)
			assert.Empty(t, w.Body.String())
			if !tt.wantEvent {
				assert.Empty(t, events.Events)
				return
			}

			ev, ok := events.Last()
			require.True(t, ok)
			assert.Equal(t, models.EventCSPViolation, ev.Kind)
			assert.Equal(t, models.SeverityWarn, ev.Severity)
			assert.Equal(t, "script-src 'self'", ev.Fields["violated_directive"])
			assert.Equal(t, "https://evil.example", ev.Fields["blocked_uri"])
		})
	}
}
