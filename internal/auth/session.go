package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/BradenHooton/assetdesk/internal/clock"
	"github.com/BradenHooton/assetdesk/internal/models"
)

// Session is the server-side record addressed by the session cookie
type Session struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id,omitempty"`
	Role       string    `json:"role,omitempty"`
	Identifier string    `json:"identifier,omitempty"`
	CSRFToken  string    `json:"csrf_token,omitempty"`
	Flash      []string  `json:"flash,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`

	isNew bool
	dirty bool
	// loadedCSRF is the token the session held when the request arrived
	loadedCSRF string
}

// Authenticated reports whether a user has logged in on this session
func (s *Session) Authenticated() bool {
	return s != nil && s.UserID != ""
}

// RequestCSRFToken returns the CSRF token stored before this request began.
// Tokens issued during the request do not count for validating it.
func (s *Session) RequestCSRFToken() string {
	if s == nil {
		return ""
	}
	return s.loadedCSRF
}

// IsNew reports whether the session has never been stored
func (s *Session) IsNew() bool {
	return s.isNew
}

// AddFlash queues a message for the next page view
func (s *Session) AddFlash(msg string) {
	s.Flash = append(s.Flash, msg)
	s.dirty = true
}

// PopFlash returns and clears queued messages
func (s *Session) PopFlash() []string {
	msgs := s.Flash
	if len(msgs) > 0 {
		s.Flash = nil
		s.dirty = true
	}
	return msgs
}

// MarkDirty flags the session for saving at the end of the request
func (s *Session) MarkDirty() {
	s.dirty = true
}

// Dirty reports whether the session changed since it was loaded
func (s *Session) Dirty() bool {
	return s.dirty
}

// SessionStore persists sessions. Get returns models.ErrSessionNotFound for
// unknown or expired ids.
type SessionStore interface {
	Get(ctx context.Context, id string) (*Session, error)
	Save(ctx context.Context, s *Session) error
	Delete(ctx context.Context, id string) error
	Close() error
}

// SessionManager ties the store, the signed cookie and the session lifetime together
type SessionManager struct {
	store  SessionStore
	codec  *SessionCodec
	clock  clock.Clock
	ttl    time.Duration
	cookie CookieConfig
}

func NewSessionManager(store SessionStore, codec *SessionCodec, clk clock.Clock, ttl time.Duration, cookie CookieConfig) *SessionManager {
	if clk == nil {
		clk = clock.Real{}
	}
	if cookie.Name == "" {
		cookie.Name = DefaultSessionCookieName
	}
	return &SessionManager{store: store, codec: codec, clock: clk, ttl: ttl, cookie: cookie}
}

// Store returns the underlying session store
func (m *SessionManager) Store() SessionStore {
	return m.store
}

// New returns an unsaved session with a fresh id
func (m *SessionManager) New() (*Session, error) {
	id, err := randomHex(32)
	if err != nil {
		return nil, fmt.Errorf("generate session id: %w", err)
	}
	now := m.clock.Now()
	return &Session{
		ID:        id,
		CreatedAt: now,
		ExpiresAt: now.Add(m.ttl),
		isNew:     true,
	}, nil
}

// Load resolves the session named by the request cookie. A missing, forged or
// expired cookie yields a new unsaved session. Store errors are returned.
func (m *SessionManager) Load(r *http.Request) (*Session, error) {
	raw, err := GetSessionCookie(r, m.cookie.Name)
	if err != nil {
		return m.New()
	}

	id, err := m.codec.Decode(raw)
	if err != nil {
		return m.New()
	}

	sess, err := m.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, models.ErrSessionNotFound) {
			return m.New()
		}
		return nil, err
	}

	sess.loadedCSRF = sess.CSRFToken
	return sess, nil
}

// Save stores the session and refreshes the cookie
func (m *SessionManager) Save(ctx context.Context, w http.ResponseWriter, s *Session) error {
	if err := m.store.Save(ctx, s); err != nil {
		return fmt.Errorf("save session: %w", err)
	}

	value, err := m.codec.Encode(s.ID, s.ExpiresAt)
	if err != nil {
		return err
	}

	SetSessionCookie(w, value, s.ExpiresAt, m.clock.Now(), m.cookie)
	s.isNew = false
	s.dirty = false
	return nil
}

// Destroy deletes the session and its CSRF token, and clears the cookie
func (m *SessionManager) Destroy(ctx context.Context, w http.ResponseWriter, s *Session) error {
	ClearSessionCookie(w, m.cookie)
	if s == nil {
		return nil
	}
	// Nothing left to save at the end of the request
	s.dirty = false
	s.CSRFToken = ""
	if s.isNew {
		return nil
	}
	if err := m.store.Delete(ctx, s.ID); err != nil {
		return fmt.Errorf("destroy session: %w", err)
	}
	return nil
}

type sessionContextKey struct{}

// WithSession stores s in ctx
func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, s)
}

// SessionFromContext returns the request's session, or nil outside SessionMiddleware
func SessionFromContext(ctx context.Context) *Session {
	s, _ := ctx.Value(sessionContextKey{}).(*Session)
	return s
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
