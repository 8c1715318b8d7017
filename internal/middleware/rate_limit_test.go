package middleware

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BradenHooton/assetdesk/internal/auth"
	"github.com/BradenHooton/assetdesk/internal/clock"
	"github.com/BradenHooton/assetdesk/internal/models"
	"github.com/BradenHooton/assetdesk/internal/ratelimit"
	"github.com/BradenHooton/assetdesk/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingStore struct{}

func (failingStore) Take(context.Context, string, ratelimit.Policy, time.Time) (ratelimit.Window, error) {
	return ratelimit.Window{}, fmt.Errorf("connection refused")
}
func (failingStore) Reset(context.Context, string) error { return nil }
func (failingStore) AddToGroup(context.Context, string, string, time.Duration) error {
	return fmt.Errorf("connection refused")
}
func (failingStore) ResetGroup(context.Context, string) (int, error) { return 0, fmt.Errorf("connection refused") }
func (failingStore) Close() error                                     { return nil }

func newTestRateLimiter(store ratelimit.Store) (*RateLimiter, *services.RecordingEventLogger, *clock.Fake) {
	clk := clock.NewFake(epoch)
	events := &services.RecordingEventLogger{}
	rl := NewRateLimiter(ratelimit.NewLimiter(store, clk), DefaultRateLimitPolicies(), events, nil, nil)
	return rl, events, clk
}

func TestPasswordReset_KeyedByIPAndEmail(t *testing.T) {
	rl, events, _ := newTestRateLimiter(ratelimit.NewMemoryStore())
	h := Guard(events, rl.PasswordReset())(okHandler())

	send := func(email string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, jsonPost("/auth/password-reset", `{"email":"`+email+`"}`, "1.2.3.4:5000"))
		return rec
	}

	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, send("b@y.com").Code, "request %d", i+1)
	}

	fourth := send("b@y.com")
	assert.Equal(t, http.StatusTooManyRequests, fourth.Code)
	resp := decodeDenial(t, fourth)
	require.NotNil(t, resp.RetryAfter)
	assert.Greater(t, *resp.RetryAfter, 0)
	assert.Equal(t, CodeRateLimitExceeded, resp.Code)

	assert.Equal(t, http.StatusTooManyRequests, send("b@y.com").Code)

	// Different email from the same address has its own bucket
	assert.Equal(t, http.StatusOK, send("other@y.com").Code)

	ev, ok := events.Last()
	require.True(t, ok)
	assert.Equal(t, models.EventRateLimitExceeded, ev.Kind)
	assert.Equal(t, ratelimit.SurfacePasswordReset, ev.Fields["surface"])
	assert.Equal(t, 3, ev.Fields["hits"])
}

func TestLoginRateLimit_WindowResets(t *testing.T) {
	rl, _, clk := newTestRateLimiter(ratelimit.NewMemoryStore())
	check := rl.Login()

	req := func() *http.Request {
		return withSession(jsonPost("/auth/login", `{"email":"a@x.com","password":"x"}`, "1.2.3.4:5000"), &auth.Session{ID: "s"})
	}

	for i := 0; i < 5; i++ {
		require.Nil(t, check(req()))
	}
	d := check(req())
	require.NotNil(t, d)
	assert.Equal(t, http.StatusTooManyRequests, d.Status)
	assert.Equal(t, 15*60, d.RetryAfter)

	clk.Advance(15*time.Minute + time.Second)
	assert.Nil(t, check(req()))
}

func TestLoginRateLimit_Exemptions(t *testing.T) {
	rl, _, _ := newTestRateLimiter(ratelimit.NewMemoryStore())
	check := rl.Login()

	// Showing the login form never counts
	for i := 0; i < 10; i++ {
		r := httptest.NewRequest(http.MethodGet, "/auth/login", nil)
		assert.Nil(t, check(r))
	}

	// Authenticated sessions re-posting the form are not counted
	authed := &auth.Session{ID: "s", UserID: "u1"}
	for i := 0; i < 10; i++ {
		assert.Nil(t, check(withSession(jsonPost("/auth/login", `{"email":"a@x.com"}`, "1.2.3.4:5000"), authed)))
	}
}

func TestLoginRateLimit_KeyIncludesIdentifier(t *testing.T) {
	rl, _, _ := newTestRateLimiter(ratelimit.NewMemoryStore())
	check := rl.Login()

	for i := 0; i < 5; i++ {
		require.Nil(t, check(jsonPost("/auth/login", `{"email":"a@x.com"}`, "1.2.3.4:5000")))
	}
	assert.NotNil(t, check(jsonPost("/auth/login", `{"email":"A@X.com"}`, "1.2.3.4:5000")))
	assert.Nil(t, check(jsonPost("/auth/login", `{"email":"c@x.com"}`, "1.2.3.4:5000")))
	assert.Nil(t, check(jsonPost("/auth/login", `{"email":"a@x.com"}`, "5.6.7.8:5000")))
}

func TestAPIRateLimit_ByUserThenIP(t *testing.T) {
	store := ratelimit.NewMemoryStore()
	rl, _, _ := newTestRateLimiter(store)
	rl.policies.API.Max = 2
	check := rl.API()

	user := &auth.Session{ID: "s", UserID: "u1"}
	get := func(remote string, sess *auth.Session) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/admin/lockouts", nil)
		r.RemoteAddr = remote
		if sess != nil {
			r = withSession(r, sess)
		}
		return r
	}

	// Same user across addresses shares a bucket
	assert.Nil(t, check(get("1.1.1.1:1", user)))
	assert.Nil(t, check(get("2.2.2.2:1", user)))
	assert.NotNil(t, check(get("3.3.3.3:1", user)))

	// Anonymous callers are bucketed by address
	assert.Nil(t, check(get("1.1.1.1:1", nil)))
	assert.Nil(t, check(get("1.1.1.1:1", nil)))
	assert.NotNil(t, check(get("1.1.1.1:1", nil)))
}

func TestRegisterRateLimit_IPv6AndUnknown(t *testing.T) {
	rl, _, _ := newTestRateLimiter(ratelimit.NewMemoryStore())
	check := rl.Register()

	// Hosts in one /64 share a bucket
	for i := 1; i <= 3; i++ {
		require.Nil(t, check(jsonPost("/auth/register", `{}`, fmt.Sprintf("[2001:db8::%d]:443", i))))
	}
	assert.NotNil(t, check(jsonPost("/auth/register", `{}`, "[2001:db8::99]:443")))

	// No usable address falls back to the shared unknown bucket rather than failing
	r := jsonPost("/auth/register", `{}`, "")
	assert.Nil(t, check(r))
}

func TestRateLimit_StoreFailureFailsOpen(t *testing.T) {
	rl, events, _ := newTestRateLimiter(failingStore{})

	d := rl.Login()(jsonPost("/auth/login", `{"email":"a@x.com"}`, "1.2.3.4:5000"))

	assert.Nil(t, d)
	ev, ok := events.Last()
	require.True(t, ok)
	assert.Equal(t, models.EventRateLimitStoreError, ev.Kind)
	assert.Equal(t, models.SeverityError, ev.Severity)
}

func TestLoginIdentifier(t *testing.T) {
	assert.Equal(t, "a@x.com", LoginIdentifier(jsonPost("/", `{"email":"a@x.com"}`, "")))
	assert.Equal(t, "jdoe", LoginIdentifier(jsonPost("/", `{"login":"jdoe"}`, "")))
	assert.Equal(t, "", LoginIdentifier(jsonPost("/", `{}`, "")))
}

func TestFloodGuard(t *testing.T) {
	h := FloodGuard(2, nil)(okHandler())

	send := func() *httptest.ResponseRecorder {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.RemoteAddr = "9.9.9.9:1234"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, r)
		return rec
	}

	assert.Equal(t, http.StatusOK, send().Code)
	assert.Equal(t, http.StatusOK, send().Code)

	rec := send()
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, CodeRateLimitExceeded, decodeDenial(t, rec).Code)
}
