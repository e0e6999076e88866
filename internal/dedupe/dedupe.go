// Package dedupe derives the deterministic keys the webhook pipeline and
// idempotency gate use to recognise a logically-unique message across
// retransmissions.
//
// Adapted from the SHA256-over-concatenated-components pattern used for
// correlation identity (see the teacher's canonicalization package): same
// formula, applied to webhook provider/event identity instead of job-run
// identity.
package dedupe

import (
	"crypto/sha256"
	"encoding/hex"
)

// Key resolves the dedupe key for a webhook envelope: prefer the
// classifier's own dedupe key; else fall back to
// "provider:providerEventId"; else "provider:sha256:<hex of body>".
func Key(provider, classifierDedupeKey, providerEventID string, body []byte) string {
	switch {
	case classifierDedupeKey != "":
		return classifierDedupeKey
	case providerEventID != "":
		return provider + ":" + providerEventID
	default:
		return provider + ":sha256:" + HashBody(body)
	}
}

// HashBody returns the lowercase hex SHA256 digest of body.
func HashBody(body []byte) string {
	sum := sha256.Sum256(body)

	return hex.EncodeToString(sum[:])
}

// IdempotencyKey derives a deterministic key for the exactly-once executor,
// combining a logical operation name with a caller-supplied business key so
// the same handler invoked for two different entities never collides.
func IdempotencyKey(operation, businessKey string) string {
	input := operation + ":" + businessKey
	sum := sha256.Sum256([]byte(input))

	return operation + ":" + hex.EncodeToString(sum[:])[:32]
}
