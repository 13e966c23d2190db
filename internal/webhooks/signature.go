// Package webhooks authenticates inbound provider webhooks.
package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var ErrSignatureInvalid = errors.New("webhook signature invalid")

// Verify checks signatureHeader against HMAC-SHA256(secret, timestamp + "." + payload).
// Every malformed input is a verification failure, never a panic.
func Verify(rawPayload []byte, signatureHeader, timestampHeader, secret string) bool {
	return Check(rawPayload, signatureHeader, timestampHeader, secret, 0, time.Time{}) == nil
}

// Check is Verify with a reason. When maxSkew > 0 the timestamp must be unix
// seconds within maxSkew of now.
func Check(rawPayload []byte, signatureHeader, timestampHeader, secret string, maxSkew time.Duration, now time.Time) error {
	if secret == "" {
		return fmt.Errorf("%w: no secret configured", ErrSignatureInvalid)
	}
	if timestampHeader == "" {
		return fmt.Errorf("%w: missing timestamp", ErrSignatureInvalid)
	}
	sig := strings.TrimPrefix(strings.TrimSpace(signatureHeader), "sha256=")
	if sig == "" {
		return fmt.Errorf("%w: missing signature", ErrSignatureInvalid)
	}
	provided, err := hex.DecodeString(sig)
	if err != nil {
		return fmt.Errorf("%w: signature is not hex", ErrSignatureInvalid)
	}
	if len(provided) != sha256.Size {
		return fmt.Errorf("%w: signature length %d", ErrSignatureInvalid, len(provided))
	}
	if !hmac.Equal(mac(secret, timestampHeader, rawPayload), provided) {
		return fmt.Errorf("%w: mismatch", ErrSignatureInvalid)
	}
	if maxSkew > 0 {
		secs, err := strconv.ParseInt(timestampHeader, 10, 64)
		if err != nil {
			return fmt.Errorf("%w: timestamp not unix seconds", ErrSignatureInvalid)
		}
		skew := now.Sub(time.Unix(secs, 0))
		if skew < 0 {
			skew = -skew
		}
		if skew > maxSkew {
			return fmt.Errorf("%w: timestamp outside %s window", ErrSignatureInvalid, maxSkew)
		}
	}
	return nil
}

// Sign returns the lowercase hex signature Verify expects.
func Sign(rawPayload []byte, timestamp, secret string) string {
	return hex.EncodeToString(mac(secret, timestamp, rawPayload))
}

func mac(secret, timestamp string, payload []byte) []byte {
	m := hmac.New(sha256.New, []byte(secret))
	m.Write([]byte(timestamp))
	m.Write([]byte("."))
	m.Write(payload)
	return m.Sum(nil)
}

// VerifyHMAC checks an HMAC-SHA256 signature over the raw body using the shared secret.
// Used by providers that sign the body without a timestamp.
func VerifyHMAC(secret string, body []byte, provided string) bool {
	m := hmac.New(sha256.New, []byte(secret))
	m.Write(body)
	expected := m.Sum(nil)
	b, err := hex.DecodeString(strings.TrimPrefix(provided, "sha256="))
	if err != nil {
		return false
	}
	return hmac.Equal(expected, b)
}

// SignHMAC returns lowercase hex of HMAC-SHA256 for use in headers
func SignHMAC(secret string, body []byte) string {
	m := hmac.New(sha256.New, []byte(secret))
	m.Write(body)
	return fmt.Sprintf("%x", m.Sum(nil))
}
