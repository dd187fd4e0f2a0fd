package session

import (
	"crypto/subtle"
	"errors"
)

// ErrEmptyToken indicates a relay configured without a bearer token.
var ErrEmptyToken = errors.New("bearer token must not be empty")

// AuthGate checks the first message of each connection against the
// configured bearer token.
type AuthGate struct {
	token []byte
}

// NewAuthGate creates a gate for the given token. An empty token is a
// configuration error, not an open relay.
func NewAuthGate(token string) (*AuthGate, error) {
	if token == "" {
		return nil, ErrEmptyToken
	}
	return &AuthGate{token: []byte(token)}, nil
}

// Verify reports whether candidate matches the configured token.
// The comparison is constant-time in the token contents.
func (g *AuthGate) Verify(candidate []byte) bool {
	return subtle.ConstantTimeCompare(g.token, candidate) == 1
}
