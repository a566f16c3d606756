// Package auth verifies the HMAC signature presented by the decision source
// over the raw request body. Verification happens before any decoding or
// validation: re-encoding JSON can change the byte sequence and invalidate
// the signature, so only the exact captured bytes are signed.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
)

var (
	// ErrMissingSignature is returned when a secret is configured but the
	// request carries no signature header.
	ErrMissingSignature = errors.New("auth: missing signature")

	// ErrInvalidSignature is returned when the presented signature does not
	// match the HMAC computed over the raw body.
	ErrInvalidSignature = errors.New("auth: invalid signature")
)

// Authenticator checks X-Signature values against a shared secret. The
// secret is fixed at construction; an empty secret disables authentication
// entirely (every request passes), which is logged once so a misconfigured
// deployment is visible.
type Authenticator struct {
	secret  []byte
	enabled bool
}

// New creates an Authenticator for the given shared secret. An empty secret
// means authentication is disabled.
func New(secret string) *Authenticator {
	if secret == "" {
		slog.Warn("webhook secret not configured, signature verification disabled")
		return &Authenticator{}
	}
	return &Authenticator{secret: []byte(secret), enabled: true}
}

// Enabled reports whether a shared secret is configured.
func (a *Authenticator) Enabled() bool { return a.enabled }

// Verify checks the hex-encoded HMAC-SHA256 signature over rawBody.
// The comparison is constant-time.
func (a *Authenticator) Verify(rawBody []byte, presented string) error {
	if !a.enabled {
		return nil
	}
	if presented == "" {
		return ErrMissingSignature
	}

	mac := hmac.New(sha256.New, a.secret)
	mac.Write(rawBody)
	want := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(want), []byte(presented)) {
		return ErrInvalidSignature
	}
	return nil
}

// Sign computes the hex HMAC-SHA256 of body with the configured secret.
// Used by tests and by callers producing signed payloads.
func (a *Authenticator) Sign(body []byte) string {
	mac := hmac.New(sha256.New, a.secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
