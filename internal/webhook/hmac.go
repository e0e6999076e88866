package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
)

// ErrMissingSignature means the configured signature header was absent.
var ErrMissingSignature = errors.New("webhook: missing signature header")

// ErrSignatureMismatch means the computed HMAC did not match the header.
var ErrSignatureMismatch = errors.New("webhook: signature mismatch")

// HMACAuthenticator verifies Envelope.Body against a hex-encoded
// HMAC-SHA256 digest carried in a named header, the common signing
// scheme providers use for webhook delivery.
type HMACAuthenticator struct {
	secret        []byte
	signatureHead string
}

// NewHMACAuthenticator builds an authenticator that checks the
// hex(HMAC-SHA256(secret, body)) digest against signatureHeader.
func NewHMACAuthenticator(secret []byte, signatureHeader string) *HMACAuthenticator {
	return &HMACAuthenticator{secret: secret, signatureHead: signatureHeader}
}

// Authenticate implements Authenticator.
func (a *HMACAuthenticator) Authenticate(_ context.Context, env Envelope) error {
	values := env.Headers[a.signatureHead]
	if len(values) == 0 {
		return ErrMissingSignature
	}

	mac := hmac.New(sha256.New, a.secret)
	mac.Write(env.Body)
	expected := mac.Sum(nil)

	got, err := hex.DecodeString(values[0])
	if err != nil || !hmac.Equal(got, expected) {
		return fmt.Errorf("%w: provided %q", ErrSignatureMismatch, values[0])
	}

	return nil
}
