// Package auth guards the operator endpoints (sync triggers, circuit admin).
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"
)

var ErrUnauthorized = errors.New("unauthorized")

// Config selects how operator requests are authenticated.
//   - none: every request is an operator (local development)
//   - token: Authorization: Bearer <Token>
//   - hmac: HS256 JWT signed with HMACSecret whose RoleClaim is "admin"
type Config struct {
	Mode       string `mapstructure:"mode"`
	Token      string `mapstructure:"token"`
	HMACSecret string `mapstructure:"hmac_secret"`
	RoleClaim  string `mapstructure:"role_claim"`
}

type Principal struct {
	Subject string
	Role    string
}

func (p Principal) IsAdmin() bool { return p.Role == "admin" }

type Verifier struct {
	mode      string
	token     []byte
	secret    []byte
	roleClaim string
	now       func() time.Time
}

func NewVerifier(cfg Config) (*Verifier, error) {
	v := &Verifier{
		mode:      strings.ToLower(strings.TrimSpace(cfg.Mode)),
		token:     []byte(cfg.Token),
		secret:    []byte(cfg.HMACSecret),
		roleClaim: cfg.RoleClaim,
		now:       time.Now,
	}
	if v.mode == "" {
		v.mode = "none"
	}
	if v.roleClaim == "" {
		v.roleClaim = "role"
	}
	switch v.mode {
	case "none":
	case "token":
		if len(v.token) == 0 {
			return nil, errors.New("auth: token mode needs a token")
		}
	case "hmac":
		if len(v.secret) == 0 {
			return nil, errors.New("auth: hmac mode needs hmac_secret")
		}
	default:
		return nil, errors.New("auth: unsupported mode " + v.mode)
	}
	return v, nil
}

// Request authenticates r from its Authorization header.
func (v *Verifier) Request(r *http.Request) (Principal, error) {
	if v.mode == "none" {
		return Principal{Subject: "anonymous", Role: "admin"}, nil
	}
	authz := r.Header.Get("Authorization")
	if !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
		return Principal{}, ErrUnauthorized
	}
	return v.Verify(strings.TrimSpace(authz[len("Bearer "):]))
}

func (v *Verifier) Verify(token string) (Principal, error) {
	switch v.mode {
	case "none":
		return Principal{Subject: "anonymous", Role: "admin"}, nil
	case "token":
		if subtle.ConstantTimeCompare([]byte(token), v.token) != 1 {
			return Principal{}, ErrUnauthorized
		}
		return Principal{Subject: "operator", Role: "admin"}, nil
	}

	segs := strings.Split(token, ".")
	if len(segs) != 3 {
		return Principal{}, errors.New("invalid JWT")
	}
	headerJSON, err := b64urlDecode(segs[0])
	if err != nil {
		return Principal{}, err
	}
	payloadJSON, err := b64urlDecode(segs[1])
	if err != nil {
		return Principal{}, err
	}
	sig, err := b64urlDecode(segs[2])
	if err != nil {
		return Principal{}, err
	}
	var hdr struct {
		Alg string `json:"alg"`
	}
	if err := json.Unmarshal(headerJSON, &hdr); err != nil {
		return Principal{}, err
	}
	if hdr.Alg != "HS256" {
		return Principal{}, errors.New("unsupported alg for hmac")
	}
	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(segs[0] + "." + segs[1]))
	if !hmac.Equal(mac.Sum(nil), sig) {
		return Principal{}, ErrUnauthorized
	}

	var claims map[string]any
	if err := json.Unmarshal(payloadJSON, &claims); err != nil {
		return Principal{}, err
	}
	if exp, ok := claims["exp"].(float64); ok && v.now().Unix() >= int64(exp) {
		return Principal{}, errors.New("token expired")
	}
	role, _ := claims[v.roleClaim].(string)
	sub, _ := claims["sub"].(string)
	return Principal{Subject: sub, Role: strings.ToLower(role)}, nil
}

func b64urlDecode(s string) ([]byte, error) { return base64.RawURLEncoding.DecodeString(s) }
