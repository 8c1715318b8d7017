package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"

	pkghttp "github.com/BradenHooton/assetdesk/pkg/http"
)

const (
	// CSRFFieldName is the form/JSON body field and query parameter carrying the token
	CSRFFieldName = "_csrf"
	// CSRFHeaderName is the request and response header carrying the token
	CSRFHeaderName = "X-CSRF-Token"

	csrfTokenBytes = 32
)

// CSRF failure codes returned to clients
const (
	CodeCSRFSessionMissing = "CSRF_SESSION_MISSING"
	CodeCSRFTokenMissing   = "CSRF_TOKEN_MISSING"
	CodeCSRFTokenInvalid   = "CSRF_TOKEN_INVALID"
)

// CSRFError is a validation failure carrying its client-facing code
type CSRFError struct {
	Code    string
	Message string
}

func (e *CSRFError) Error() string {
	return e.Message
}

var (
	ErrCSRFSessionMissing = &CSRFError{Code: CodeCSRFSessionMissing, Message: "session has no CSRF token"}
	ErrCSRFTokenMissing   = &CSRFError{Code: CodeCSRFTokenMissing, Message: "CSRF token missing"}
	ErrCSRFTokenInvalid   = &CSRFError{Code: CodeCSRFTokenInvalid, Message: "CSRF token invalid"}
)

// EnsureToken returns the session's CSRF token, generating one on first use.
// The token is not rotated for the life of the session.
func EnsureToken(s *Session) (string, error) {
	if s.CSRFToken != "" {
		return s.CSRFToken, nil
	}

	token, err := randomHex(csrfTokenBytes)
	if err != nil {
		return "", fmt.Errorf("generate csrf token: %w", err)
	}

	s.CSRFToken = token
	s.MarkDirty()
	return token, nil
}

// ExtractCSRFToken finds the supplied token: body field, then header, then query.
// A header folded into "tok, tok" by an intermediary yields its first segment.
func ExtractCSRFToken(r *http.Request) string {
	if token := pkghttp.ReadBodyFields(r, CSRFFieldName)[CSRFFieldName]; token != "" {
		return cleanToken(token)
	}
	if token := r.Header.Get(CSRFHeaderName); token != "" {
		return cleanToken(token)
	}
	return cleanToken(r.URL.Query().Get(CSRFFieldName))
}

func cleanToken(token string) string {
	if i := strings.IndexByte(token, ','); i >= 0 {
		token = token[:i]
	}
	return strings.TrimSpace(token)
}

// ValidateCSRF checks supplied against the token the session holds
func ValidateCSRF(sessionToken, supplied string) error {
	if sessionToken == "" {
		return ErrCSRFSessionMissing
	}
	if supplied == "" {
		return ErrCSRFTokenMissing
	}
	if !tokensEqual(sessionToken, supplied) {
		return ErrCSRFTokenInvalid
	}
	return nil
}

// tokensEqual hashes both sides to a fixed length so the comparison time does
// not depend on the supplied token's length or content
func tokensEqual(expected, supplied string) bool {
	a := sha256.Sum256([]byte(expected))
	b := sha256.Sum256([]byte(supplied))
	return subtle.ConstantTimeCompare(a[:], b[:]) == 1
}

// CSRFCode returns the client code for err, or "" when err is not a CSRF failure
func CSRFCode(err error) string {
	var csrfErr *CSRFError
	if errors.As(err, &csrfErr) {
		return csrfErr.Code
	}
	return ""
}
