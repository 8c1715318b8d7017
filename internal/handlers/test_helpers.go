package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/BradenHooton/assetdesk/internal/auth"
	"github.com/BradenHooton/assetdesk/internal/models"
	"github.com/BradenHooton/assetdesk/internal/services"
	pkghttp "github.com/BradenHooton/assetdesk/pkg/http"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
)

// NewTestRequest creates an HTTP request with JSON body for testing
func NewTestRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// NewFormRequest creates a urlencoded browser form post
func NewFormRequest(method, target string, values url.Values) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

// WithSession attaches a session to the request context
func WithSession(req *http.Request, sess *auth.Session) *http.Request {
	return req.WithContext(auth.WithSession(req.Context(), sess))
}

// WithURLParam adds a chi URL parameter to the request
func WithURLParam(req *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

// AssertJSONResponse checks that response has correct status and decodes JSON body
func AssertJSONResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, target interface{}) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	contentType := w.Header().Get("Content-Type")
	assert.Equal(t, "application/json", contentType, "Content-Type should be application/json")

	if target != nil {
		err := json.Unmarshal(w.Body.Bytes(), target)
		assert.NoError(t, err, "Failed to decode response JSON")
	}
}

// AssertErrorResponse checks that response is a valid error response
func AssertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedError string) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	var resp pkghttp.ErrorResponse
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	assert.NoError(t, err, "Failed to decode error response")
	assert.Equal(t, expectedError, resp.Error, "Error code mismatch")
	assert.NotEmpty(t, resp.Message, "Error message should not be empty")
}

// MockAuthService implements AuthServiceInterface for testing
type MockAuthService struct {
	LoginFunc func(ctx context.Context, identifier, password string, rc models.RequestContext) (*services.LoginResult, error)
}

func (m *MockAuthService) Login(ctx context.Context, identifier, password string, rc models.RequestContext) (*services.LoginResult, error) {
	if m.LoginFunc == nil {
		return &services.LoginResult{}, models.ErrInvalidCredentials
	}
	return m.LoginFunc(ctx, identifier, password, rc)
}

// MockLockoutAdminService implements LockoutAdminService for testing
type MockLockoutAdminService struct {
	ListActiveFunc func(ctx context.Context) ([]*models.AccountLockout, error)
	UnlockFunc     func(ctx context.Context, identifier, actorID string) (bool, error)
}

func (m *MockLockoutAdminService) ListActive(ctx context.Context) ([]*models.AccountLockout, error) {
	if m.ListActiveFunc == nil {
		return nil, nil
	}
	return m.ListActiveFunc(ctx)
}

func (m *MockLockoutAdminService) Unlock(ctx context.Context, identifier, actorID string) (bool, error) {
	if m.UnlockFunc == nil {
		return false, nil
	}
	return m.UnlockFunc(ctx, identifier, actorID)
}

// MockSecurityEventLister implements SecurityEventLister for testing
type MockSecurityEventLister struct {
	ListRecentFunc func(ctx context.Context, kind string, limit, offset int) ([]*models.SecurityEvent, error)
}

func (m *MockSecurityEventLister) ListRecent(ctx context.Context, kind string, limit, offset int) ([]*models.SecurityEvent, error) {
	if m.ListRecentFunc == nil {
		return nil, nil
	}
	return m.ListRecentFunc(ctx, kind, limit, offset)
}

// MockHealthChecker implements HealthChecker for testing
type MockHealthChecker struct {
	Err error
}

func (m *MockHealthChecker) HealthCheck(ctx context.Context) error {
	return m.Err
}
