// Package ids generates the opaque identifiers used throughout the
// messaging core: owner tokens for claim ownership and run ids for
// scheduler job-runs and webhook event records.
package ids

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

const ownerTokenBytes = 16 // 128 bits

// NewOwnerToken returns a new 128-bit random owner token, hex-encoded.
// Never reused: callers must treat distinct calls as distinct identities
// even across process restarts.
func NewOwnerToken() (string, error) {
	buf := make([]byte, ownerTokenBytes)

	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate owner token: %w", err)
	}

	return hex.EncodeToString(buf), nil
}

// MustOwnerToken panics if token generation fails. Reserved for paths
// where crypto/rand failure indicates a broken host and continuing would
// be unsafe (e.g. dispatcher startup), never for request-scoped calls.
func MustOwnerToken() string {
	token, err := NewOwnerToken()
	if err != nil {
		panic(err)
	}

	return token
}

// NewRunID returns a new opaque run identifier for scheduler job-runs.
func NewRunID() string {
	return uuid.NewString()
}

// NewRecordID returns a new opaque identifier for a webhook event record.
func NewRecordID() string {
	return uuid.NewString()
}
