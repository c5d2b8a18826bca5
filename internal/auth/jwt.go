package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenVerifier validates user access tokens (HS256, user_id claim).
type TokenVerifier struct {
	secret []byte
}

func NewTokenVerifier(secret string) *TokenVerifier {
	return &TokenVerifier{secret: []byte(secret)}
}

func (v *TokenVerifier) Enabled() bool {
	return v != nil && len(v.secret) > 0
}

// GenerateToken creates a token for a given user ID.
func (v *TokenVerifier) GenerateToken(userID string, ttl time.Duration) (string, error) {
	claims := jwt.MapClaims{
		"user_id": userID,
		"exp":     time.Now().Add(ttl).Unix(),
		"iat":     time.Now().Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}

// Verify validates the token and returns its user ID.
func (v *TokenVerifier) Verify(tokenStr string) (string, error) {
	if tokenStr == "" {
		return "", ErrMissingCredentials
	}
	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", ErrInvalidCredentials
	}
	switch uid := claims["user_id"].(type) {
	case string:
		if uid != "" {
			return uid, nil
		}
	case float64:
		return fmt.Sprintf("%.0f", uid), nil
	}
	return "", fmt.Errorf("%w: missing user_id claim", ErrInvalidCredentials)
}
