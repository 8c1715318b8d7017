package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/BradenHooton/assetdesk/internal/auth"
	"github.com/BradenHooton/assetdesk/internal/clock"
	"github.com/BradenHooton/assetdesk/internal/models"
	"github.com/BradenHooton/assetdesk/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-32-characters-long!!"

// csrfStack mirrors the router: session, token issue, then the guarded handler
func csrfStack(t *testing.T, events services.SecurityEventLogger, config CSRFConfig) (http.Handler, *auth.SessionManager) {
	t.Helper()
	clk := clock.NewFake(epoch)
	manager := auth.NewSessionManager(auth.NewMemorySessionStore(clk), auth.NewSessionCodec(testSecret, clk), clk, time.Hour, auth.CookieConfig{})

	h := auth.SessionMiddleware(manager, discardLogger())(
		CSRFToken(discardLogger())(
			Guard(events, CSRFCheck(config))(okHandler()),
		),
	)
	return h, manager
}

// primeSession performs a GET and returns the cookie and issued token
func primeSession(t *testing.T, h http.Handler) (*http.Cookie, string) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/form", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	token := rec.Header().Get(auth.CSRFHeaderName)
	require.Len(t, token, 64)
	return cookies[0], token
}

func TestCSRF_MissingTokenWithValidSession(t *testing.T) {
	events := &services.RecordingEventLogger{}
	h, _ := csrfStack(t, events, CSRFConfig{})
	cookie, _ := primeSession(t, h)

	r := formPost("/assets", "name=laptop")
	r.AddCookie(cookie)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	resp := decodeDenial(t, rec)
	assert.False(t, resp.Success)
	assert.Equal(t, auth.CodeCSRFTokenMissing, resp.Code)
	assert.Equal(t, []string{models.EventCSRFTokenMissing}, events.Kinds())
}

func TestCSRF_SessionWithoutToken(t *testing.T) {
	events := &services.RecordingEventLogger{}
	h, _ := csrfStack(t, events, CSRFConfig{})

	// No cookie: the request arrives with a fresh session that has no token yet
	r := formPost("/assets", "_csrf=anything")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, auth.CodeCSRFSessionMissing, decodeDenial(t, rec).Code)
}

func TestCSRF_InvalidToken(t *testing.T) {
	h, _ := csrfStack(t, &services.RecordingEventLogger{}, CSRFConfig{})
	cookie, _ := primeSession(t, h)

	r := formPost("/assets", "_csrf="+strings.Repeat("0", 64))
	r.AddCookie(cookie)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, auth.CodeCSRFTokenInvalid, decodeDenial(t, rec).Code)
}

func TestCSRF_ValidTokenReusableAcrossRequests(t *testing.T) {
	h, _ := csrfStack(t, &services.RecordingEventLogger{}, CSRFConfig{})
	cookie, token := primeSession(t, h)

	send := func(r *http.Request) *httptest.ResponseRecorder {
		r.AddCookie(cookie)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, r)
		return rec
	}

	assert.Equal(t, http.StatusOK, send(formPost("/assets", "_csrf="+token)).Code)

	header := httptest.NewRequest(http.MethodDelete, "/assets/1", nil)
	header.Header.Set(auth.CSRFHeaderName, token+", "+token)
	rec := send(header)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, token, rec.Header().Get(auth.CSRFHeaderName), "token is not rotated")

	assert.Equal(t, http.StatusOK, send(httptest.NewRequest(http.MethodPut, "/assets/1?_csrf="+token, nil)).Code)
}

func TestCSRF_ExemptPathsAndSafeMethods(t *testing.T) {
	h, _ := csrfStack(t, &services.RecordingEventLogger{}, CSRFConfig{ExemptPaths: []string{"/csp-report", "/hooks/"}})

	for _, r := range []*http.Request{
		httptest.NewRequest(http.MethodPost, "/csp-report", nil),
		httptest.NewRequest(http.MethodPost, "/hooks/inventory", nil),
		httptest.NewRequest(http.MethodHead, "/assets", nil),
		httptest.NewRequest(http.MethodOptions, "/assets", nil),
	} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, r)
		assert.Equal(t, http.StatusOK, rec.Code, "%s %s", r.Method, r.URL.Path)
	}
}

func TestCSRF_DestroyedSessionReportsSessionMissing(t *testing.T) {
	h, manager := csrfStack(t, &services.RecordingEventLogger{}, CSRFConfig{})
	cookie, token := primeSession(t, h)

	// Logout elsewhere removes the stored session
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(cookie)
	sess, err := manager.Load(r)
	require.NoError(t, err)
	require.NoError(t, manager.Store().Delete(context.Background(), sess.ID))

	post := formPost("/assets", "_csrf="+token)
	post.AddCookie(cookie)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, post)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, auth.CodeCSRFSessionMissing, decodeDenial(t, rec).Code)
}
