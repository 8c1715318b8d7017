package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/BradenHooton/assetdesk/internal/models"
	"github.com/BradenHooton/assetdesk/internal/services"
	pkghttp "github.com/BradenHooton/assetdesk/pkg/http"
)

const maxCSPReportBytes = 16 << 10

// CSPReportHandler accepts browser Content-Security-Policy violation reports
type CSPReportHandler struct {
	events   services.SecurityEventLogger
	ipConfig *pkghttp.IPConfig
}

func NewCSPReportHandler(events services.SecurityEventLogger, ipConfig *pkghttp.IPConfig) *CSPReportHandler {
	return &CSPReportHandler{events: events, ipConfig: ipConfig}
}

// cspReport is the legacy report-uri body: {"csp-report": {...}}
type cspReport struct {
	Report struct {
		DocumentURI        string `json:"document-uri"`
		ViolatedDirective  string `json:"violated-directive"`
		EffectiveDirective string `json:"effective-directive"`
		BlockedURI         string `json:"blocked-uri"`
		SourceFile         string `json:"source-file"`
		LineNumber         int    `json:"line-number"`
		Disposition        string `json:"disposition"`
	} `json:"csp-report"`
}

// Report handles POST /csp-report. Malformed bodies are dropped; the
// browser always gets 204.
func (h *CSPReportHandler) Report(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxCSPReportBytes))
	if err == nil && len(raw) > 0 {
		var report cspReport
		if json.Unmarshal(raw, &report) == nil && report.Report.ViolatedDirective != "" {
			rep := report.Report
			h.events.LogEvent(r.Context(), models.EventCSPViolation, models.SeverityWarn, map[string]interface{}{
				services.FieldIP:      pkghttp.ExtractClientIP(r, h.ipConfig),
				"document_uri":        rep.DocumentURI,
				"violated_directive":  rep.ViolatedDirective,
				"effective_directive": rep.EffectiveDirective,
				"blocked_uri":         rep.BlockedURI,
				"source_file":         rep.SourceFile,
				"line_number":         rep.LineNumber,
				"disposition":         rep.Disposition,
			})
		}
	}

	w.WriteHeader(http.StatusNoContent)
}
