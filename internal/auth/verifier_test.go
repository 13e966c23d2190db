package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hs256(t *testing.T, secret string, claims map[string]any) string {
	t.Helper()
	enc := base64.RawURLEncoding
	hdr, _ := json.Marshal(map[string]string{"alg": "HS256", "typ": "JWT"})
	body, err := json.Marshal(claims)
	require.NoError(t, err)
	input := enc.EncodeToString(hdr) + "." + enc.EncodeToString(body)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(input))
	return input + "." + enc.EncodeToString(mac.Sum(nil))
}

func TestModes(t *testing.T) {
	_, err := NewVerifier(Config{Mode: "token"})
	require.Error(t, err)
	_, err = NewVerifier(Config{Mode: "jwks"})
	require.Error(t, err)

	v, err := NewVerifier(Config{})
	require.NoError(t, err)
	p, err := v.Request(httptest.NewRequest("GET", "/", nil))
	require.NoError(t, err)
	assert.True(t, p.IsAdmin())
}

func TestTokenMode(t *testing.T) {
	v, err := NewVerifier(Config{Mode: "token", Token: "s3cret"})
	require.NoError(t, err)

	r := httptest.NewRequest("GET", "/", nil)
	_, err = v.Request(r)
	require.ErrorIs(t, err, ErrUnauthorized)

	r.Header.Set("Authorization", "Bearer wrong")
	_, err = v.Request(r)
	require.ErrorIs(t, err, ErrUnauthorized)

	r.Header.Set("Authorization", "Bearer s3cret")
	p, err := v.Request(r)
	require.NoError(t, err)
	assert.True(t, p.IsAdmin())
}

func TestHMACMode(t *testing.T) {
	v, err := NewVerifier(Config{Mode: "hmac", HMACSecret: "k"})
	require.NoError(t, err)
	v.now = func() time.Time { return time.Unix(1_700_000_000, 0) }

	p, err := v.Verify(hs256(t, "k", map[string]any{"sub": "ops", "role": "Admin", "exp": 1_700_000_100}))
	require.NoError(t, err)
	assert.Equal(t, "ops", p.Subject)
	assert.True(t, p.IsAdmin())

	p, err = v.Verify(hs256(t, "k", map[string]any{"sub": "viewer", "role": "viewer"}))
	require.NoError(t, err)
	assert.False(t, p.IsAdmin())

	_, err = v.Verify(hs256(t, "other", map[string]any{"role": "admin"}))
	require.ErrorIs(t, err, ErrUnauthorized)

	_, err = v.Verify(hs256(t, "k", map[string]any{"role": "admin", "exp": 1_600_000_000}))
	require.Error(t, err)

	_, err = v.Verify("not.a-jwt")
	require.Error(t, err)
}
