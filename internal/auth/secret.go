// Package auth holds the credential checks used by the trigger endpoints.
package auth

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
)

var (
	ErrMissingCredentials = errors.New("missing credentials")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// BearerToken extracts the token from an "Authorization: Bearer <token>" header.
func BearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// SharedSecret guards a family of trigger endpoints. An empty secret puts the
// endpoints in open mode.
type SharedSecret struct {
	secret []byte
}

func NewSharedSecret(secret string) SharedSecret {
	return SharedSecret{secret: []byte(secret)}
}

func (s SharedSecret) Enabled() bool {
	return len(s.secret) > 0
}

// Verify compares the presented token in constant time.
func (s SharedSecret) Verify(token string) error {
	if !s.Enabled() {
		return nil
	}
	if token == "" {
		return ErrMissingCredentials
	}
	if subtle.ConstantTimeCompare([]byte(token), s.secret) != 1 {
		return ErrInvalidCredentials
	}
	return nil
}
