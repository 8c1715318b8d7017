//go:build integration

package integration

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/BradenHooton/assetdesk/internal/auth"
	"github.com/BradenHooton/assetdesk/internal/clock"
	"github.com/BradenHooton/assetdesk/internal/database"
	"github.com/BradenHooton/assetdesk/internal/handlers"
	"github.com/BradenHooton/assetdesk/internal/metrics"
	middlewareCustom "github.com/BradenHooton/assetdesk/internal/middleware"
	"github.com/BradenHooton/assetdesk/internal/ratelimit"
	"github.com/BradenHooton/assetdesk/internal/routes"
	"github.com/BradenHooton/assetdesk/internal/services"
)

// TestServer wraps httptest.Server with Postgres repositories and Redis-backed
// sessions and rate limits
type TestServer struct {
	Server  *httptest.Server
	DB      *database.DB
	Repos   Repositories
	Lockout *services.LockoutService
	logger  *slog.Logger
}

// NewTestServer initializes a complete HTTP server the way cmd/api wires it
func NewTestServer(db *database.DB, redisClient *redis.Client) *TestServer {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))
	clk := clock.Real{}
	m := metrics.New()

	repos := InitializeRepositories(db)
	events := services.NewSecurityEventService(logger, repos.SecurityEvents, m, clk)
	lockout := services.NewLockoutService(repos.Attempts, repos.Lockouts, events, m, clk, services.DefaultLockoutConfig(), logger)
	authService := services.NewAuthService(repos.Users, lockout, nil, m, logger)

	sessions := auth.NewSessionManager(
		auth.NewRedisSessionStore(redisClient, clk),
		auth.NewSessionCodec("integration-secret-0123456789abcdef", clk),
		clk, time.Hour, auth.CookieConfig{},
	)
	limiter := ratelimit.NewLimiter(ratelimit.NewRedisStore(redisClient), clk)
	rateLimiter := middlewareCustom.NewRateLimiter(limiter, middlewareCustom.DefaultRateLimitPolicies(), events, m, nil)
	lockout.SetLoginThrottle(rateLimiter)

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: "test"}))
	r.Use(chiMiddleware.Recoverer)

	routes.RegisterRoutes(r, routes.Dependencies{
		AuthHandler:  handlers.NewAuthHandler(authService, sessions, nil, logger),
		AdminHandler: handlers.NewAdminHandler(lockout, repos.SecurityEvents, logger),
		CSPHandler:   handlers.NewCSPReportHandler(events, nil),
		Health:       db,
		Sessions:     sessions,
		RateLimiter:  rateLimiter,
		Lockout:      lockout,
		Users:        repos.Users,
		Events:       events,
		Metrics:      m,
		Clock:        clk,
		CSRF:         middlewareCustom.CSRFConfig{ExemptPaths: []string{middlewareCustom.CSPReportPath}},
		Logger:       logger,
	})

	return &TestServer{
		Server:  httptest.NewServer(r),
		DB:      db,
		Repos:   repos,
		Lockout: lockout,
		logger:  logger,
	}
}

// Close shuts down the test server
func (ts *TestServer) Close() {
	if ts.Server != nil {
		ts.Server.Close()
	}
}

// Client is a cookie-keeping browser that remembers the last CSRF token
type Client struct {
	ts    *TestServer
	http  *http.Client
	Token string
}

// NewClient returns a client with an empty cookie jar
func (ts *TestServer) NewClient() *Client {
	jar, _ := cookiejar.New(nil)
	return &Client{
		ts: ts,
		http: &http.Client{
			Jar: jar,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// Request makes a JSON request; token, when set, goes in the X-CSRF-Token header
func (c *Client) Request(method, path string, body interface{}, token string) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequest(method, c.ts.Server.URL+path, bodyReader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set(auth.CSRFHeaderName, token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if tok := resp.Header.Get(auth.CSRFHeaderName); tok != "" {
		c.Token = tok
	}
	return resp, nil
}

// OpenLoginForm loads GET /auth/login so the client holds a session and token
func (c *Client) OpenLoginForm() error {
	resp, err := c.Request("GET", "/auth/login", nil, "")
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// Login posts credentials with the current CSRF token
func (c *Client) Login(identifier, password string) (*http.Response, error) {
	field := "login"
	if strings.Contains(identifier, "@") {
		field = "email"
	}
	return c.Request("POST", "/auth/login", map[string]string{
		field:      identifier,
		"password": password,
	}, c.Token)
}

// ParseJSONResponse parses JSON response body into target struct
func ParseJSONResponse(resp *http.Response, target interface{}) error {
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(target)
}
