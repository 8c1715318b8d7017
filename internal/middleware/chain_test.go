package middleware

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/BradenHooton/assetdesk/internal/auth"
	"github.com/BradenHooton/assetdesk/internal/models"
	"github.com/BradenHooton/assetdesk/internal/services"
	pkghttp "github.com/BradenHooton/assetdesk/pkg/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func jsonPost(target, body, remoteAddr string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	r.RemoteAddr = remoteAddr
	return r
}

func formPost(target, body string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return r
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func withSession(r *http.Request, s *auth.Session) *http.Request {
	return r.WithContext(auth.WithSession(r.Context(), s))
}

func decodeDenial(t *testing.T, rec *httptest.ResponseRecorder) pkghttp.DenialResponse {
	t.Helper()
	var resp pkghttp.DenialResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestEvaluate_FirstDenialWins(t *testing.T) {
	var ran []string
	check := func(name string, deny bool) Check {
		return func(r *http.Request) *Denial {
			ran = append(ran, name)
			if deny {
				return &Denial{Status: http.StatusForbidden, Code: name}
			}
			return nil
		}
	}

	r := httptest.NewRequest(http.MethodPost, "/", nil)
	d := Evaluate(r, check("a", false), check("b", true), check("c", true))

	require.NotNil(t, d)
	assert.Equal(t, "b", d.Code)
	assert.Equal(t, []string{"a", "b"}, ran)
}

func TestEvaluate_AllContinue(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Nil(t, Evaluate(r))
	assert.Nil(t, Evaluate(r, func(*http.Request) *Denial { return nil }))
}

func TestGuard_LogsEventAndShortCircuits(t *testing.T) {
	events := &services.RecordingEventLogger{}
	called := false
	h := Guard(events, func(r *http.Request) *Denial {
		return &Denial{
			Status:  http.StatusForbidden,
			Code:    "NOPE",
			Message: "denied",
			Event:   models.EventCSRFTokenInvalid,
			Fields:  map[string]interface{}{"extra": 1},
		}
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/things", nil))

	assert.False(t, called)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	resp := decodeDenial(t, rec)
	assert.False(t, resp.Success)
	assert.Equal(t, "NOPE", resp.Code)
	assert.Equal(t, "denied", resp.Error)

	ev, ok := events.Last()
	require.True(t, ok)
	assert.Equal(t, models.EventCSRFTokenInvalid, ev.Kind)
	assert.Equal(t, models.SeverityWarn, ev.Severity)
	assert.Equal(t, "/things", ev.Fields["path"])
	assert.Equal(t, 1, ev.Fields["extra"])
}

func TestGuard_PassesThrough(t *testing.T) {
	events := &services.RecordingEventLogger{}
	h := Guard(events, func(*http.Request) *Denial { return nil })(okHandler())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, events.Events)
}

func TestWriteDenial_FlashRedirectForBrowsers(t *testing.T) {
	sess := &auth.Session{ID: "s"}
	d := &Denial{Status: http.StatusLocked, Code: CodeAccountLocked, Message: "locked", Locked: true, RemainingMinutes: 30, Redirect: "/auth/login"}

	form := formPost("/auth/login", "email=a%40x.com")
	rec := httptest.NewRecorder()
	WriteDenial(rec, withSession(form, sess), d)

	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/auth/login", rec.Header().Get("Location"))
	assert.Equal(t, []string{"locked"}, sess.Flash)

	// AJAX callers get JSON even when a redirect is configured
	ajax := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
	ajax.Header.Set("X-Requested-With", "XMLHttpRequest")
	rec = httptest.NewRecorder()
	WriteDenial(rec, withSession(ajax, &auth.Session{ID: "s2"}), d)

	assert.Equal(t, http.StatusLocked, rec.Code)
	resp := decodeDenial(t, rec)
	assert.True(t, resp.Locked)
	require.NotNil(t, resp.RemainingMinutes)
	assert.Equal(t, 30, *resp.RemainingMinutes)
}

func TestWriteDenial_RetryAfterHeader(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteDenial(rec, httptest.NewRequest(http.MethodPost, "/", nil), &Denial{
		Status: http.StatusTooManyRequests, Code: CodeRateLimitExceeded, Message: "slow down", RetryAfter: 42,
	})

	assert.Equal(t, "42", rec.Header().Get("Retry-After"))
	resp := decodeDenial(t, rec)
	require.NotNil(t, resp.RetryAfter)
	assert.Equal(t, 42, *resp.RetryAfter)
	assert.Nil(t, resp.RemainingMinutes)
}

// staticLockout answers IsLocked with a fixed status or error
type staticLockout struct {
	status models.LockStatus
	err    error
	calls  int
}

func (s *staticLockout) IsLocked(ctx context.Context, identifier string) (models.LockStatus, error) {
	s.calls++
	return s.status, s.err
}
