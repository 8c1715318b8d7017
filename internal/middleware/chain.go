package middleware

import (
	"net/http"

	"github.com/BradenHooton/assetdesk/internal/auth"
	"github.com/BradenHooton/assetdesk/internal/models"
	"github.com/BradenHooton/assetdesk/internal/services"
	pkghttp "github.com/BradenHooton/assetdesk/pkg/http"
)

// Denial is a security check's refusal. Event and Fields describe the
// security event logged for it; the rest shapes the response.
type Denial struct {
	Status  int
	Code    string
	Message string

	Event    string
	Severity models.Severity
	Fields   map[string]interface{}

	RetryAfter       int
	Locked           bool
	RemainingMinutes int

	// Redirect is where browsers that did not ask for JSON are sent, with
	// Message queued as a flash. Empty means always answer with JSON.
	Redirect string
}

// Check inspects a request and returns nil to continue or a Denial to stop
type Check func(r *http.Request) *Denial

// Evaluate runs checks in order and returns the first denial
func Evaluate(r *http.Request, checks ...Check) *Denial {
	for _, check := range checks {
		if d := check(r); d != nil {
			return d
		}
	}
	return nil
}

// Guard turns an ordered list of checks into middleware. The first denial
// is logged as a security event and written; later checks and the handler
// never run.
func Guard(events services.SecurityEventLogger, checks ...Check) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d := Evaluate(r, checks...)
			if d == nil {
				next.ServeHTTP(w, r)
				return
			}

			if d.Event != "" && events != nil {
				severity := d.Severity
				if severity == "" {
					severity = models.SeverityWarn
				}
				fields := map[string]interface{}{
					"path":   r.URL.Path,
					"method": r.Method,
					"code":   d.Code,
				}
				for k, v := range d.Fields {
					fields[k] = v
				}
				events.LogEvent(r.Context(), d.Event, severity, fields)
			}

			WriteDenial(w, r, d)
		})
	}
}

// WriteDenial answers with a JSON denial, or a flash and redirect for plain
// browser requests when the denial names a redirect target
func WriteDenial(w http.ResponseWriter, r *http.Request, d *Denial) {
	if d.Redirect != "" && !pkghttp.WantsJSON(r) {
		if sess := auth.SessionFromContext(r.Context()); sess != nil {
			sess.AddFlash(d.Message)
			http.Redirect(w, r, d.Redirect, http.StatusSeeOther)
			return
		}
	}

	resp := pkghttp.DenialResponse{
		Error:  d.Message,
		Code:   d.Code,
		Locked: d.Locked,
	}
	if d.RetryAfter > 0 {
		retry := d.RetryAfter
		resp.RetryAfter = &retry
	}
	if d.Locked {
		mins := d.RemainingMinutes
		resp.RemainingMinutes = &mins
	}
	pkghttp.WriteDenial(w, d.Status, resp)
}
