package auth

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBearerToken(t *testing.T) {
	r := httptest.NewRequest("POST", "/", nil)
	assert.Equal(t, "", BearerToken(r))

	r.Header.Set("Authorization", "Bearer s3cret")
	assert.Equal(t, "s3cret", BearerToken(r))

	r.Header.Set("Authorization", "bearer s3cret")
	assert.Equal(t, "s3cret", BearerToken(r))

	r.Header.Set("Authorization", "Basic abc")
	assert.Equal(t, "", BearerToken(r))
}

func TestSharedSecret(t *testing.T) {
	open := NewSharedSecret("")
	assert.False(t, open.Enabled())
	assert.NoError(t, open.Verify(""))

	s := NewSharedSecret("s3cret")
	assert.NoError(t, s.Verify("s3cret"))
	assert.ErrorIs(t, s.Verify(""), ErrMissingCredentials)
	assert.ErrorIs(t, s.Verify("wrong"), ErrInvalidCredentials)
}

func TestTokenVerifier(t *testing.T) {
	v := NewTokenVerifier("jwt-secret")
	token, err := v.GenerateToken("user-1", time.Hour)
	require.NoError(t, err)

	uid, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", uid)

	_, err = NewTokenVerifier("other").Verify(token)
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	expired, err := v.GenerateToken("user-1", -time.Minute)
	require.NoError(t, err)
	_, err = v.Verify(expired)
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = v.Verify("")
	assert.ErrorIs(t, err, ErrMissingCredentials)
}

func TestMemoryLimiter(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	l := NewMemoryLimiter(2, time.Minute)
	l.now = func() time.Time { return now }

	assert.False(t, l.Blocked(ctx, "webhook:1.2.3.4"))
	l.RecordFailure(ctx, "webhook:1.2.3.4")
	assert.False(t, l.Blocked(ctx, "webhook:1.2.3.4"))
	l.RecordFailure(ctx, "webhook:1.2.3.4")
	assert.True(t, l.Blocked(ctx, "webhook:1.2.3.4"))
	assert.False(t, l.Blocked(ctx, "cron:1.2.3.4"))

	now = now.Add(2 * time.Minute)
	assert.False(t, l.Blocked(ctx, "webhook:1.2.3.4"))
}
