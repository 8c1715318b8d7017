package auth

import (
	"fmt"
	"time"

	"github.com/BradenHooton/assetdesk/internal/clock"
	"github.com/golang-jwt/jwt/v5"
)

const sessionIssuer = "assetdesk"

// SessionCodec signs the session id into the cookie value so a client cannot
// probe the store with guessed ids
type SessionCodec struct {
	secret []byte
	clock  clock.Clock
}

func NewSessionCodec(secret string, clk clock.Clock) *SessionCodec {
	if clk == nil {
		clk = clock.Real{}
	}
	return &SessionCodec{secret: []byte(secret), clock: clk}
}

// Encode returns an HS256 token carrying sid as its jti
func (c *SessionCodec) Encode(sid string, expiresAt time.Time) (string, error) {
	now := c.clock.Now()
	claims := jwt.RegisteredClaims{
		ID:        sid,
		Issuer:    sessionIssuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign session cookie: %w", err)
	}
	return signed, nil
}

// Decode verifies the token and returns the session id
func (c *SessionCodec) Decode(value string) (string, error) {
	claims := &jwt.RegisteredClaims{}

	_, err := jwt.ParseWithClaims(value, claims,
		func(*jwt.Token) (interface{}, error) { return c.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(sessionIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.clock.Now),
	)
	if err != nil {
		return "", fmt.Errorf("failed to parse session cookie: %w", err)
	}
	if claims.ID == "" {
		return "", fmt.Errorf("session cookie has no id")
	}

	return claims.ID, nil
}
