// Package webhook implements the webhook ingestion and processing
// pipeline, built on top of the inbox primitive.
package webhook

import (
	"context"
	"encoding/json"
)

// ClassificationOutcome is the verdict a classifier reaches for one
// envelope.
type ClassificationOutcome string

const (
	Accepted ClassificationOutcome = "accepted"
	Ignored  ClassificationOutcome = "ignored"
	Rejected ClassificationOutcome = "rejected"
)

// Envelope is the raw inbound webhook request, reduced to what
// authentication and classification need.
type Envelope struct {
	Provider string
	Headers  map[string][]string
	Body     []byte
}

// Classification is what a Classifier derives from an Envelope.
type Classification struct {
	Outcome         ClassificationOutcome
	EventType       string
	ProviderEventID string
	DedupeKey       string // empty: caller falls back to provider:providerEventId / provider:sha256:body
	PartitionKey    string // empty: route to the default inbox
	Summary         string
}

// Authenticator verifies an inbound envelope belongs to its claimed
// provider.
type Authenticator interface {
	Authenticate(ctx context.Context, env Envelope) error
}

// Classifier derives a Classification from an authenticated envelope.
type Classifier interface {
	Classify(ctx context.Context, env Envelope) (Classification, error)
}

// EventHandler processes one accepted, decoded webhook record for a
// provider's event type.
type EventHandler func(ctx context.Context, record EventRecord) error

// Provider bundles the authenticator, classifier, and per-event-type
// handlers for one webhook source.
type Provider struct {
	Name          string
	Authenticator Authenticator
	Classifier    Classifier
	Handlers      map[string]EventHandler // eventType -> handler
}

// EventRecord is the WebhookEventRecord persisted as the inbox payload.
type EventRecord struct {
	Provider     string `json:"provider"`
	DedupeKey    string `json:"dedupeKey"`
	Status       string `json:"status"`
	AttemptCount int    `json:"attemptCount"`
	BodyBytes    []byte `json:"bodyBytes"`
	HeadersJSON  string `json:"headersJson"`
	PartitionKey string `json:"partitionKey,omitempty"`
	EventType    string `json:"eventType"`
}

// AttemptSnapshot is a read-only view of a record's attempt count,
// carried in the handler context. The stored record's attempt count is
// authoritative; this snapshot never feeds back into it.
type AttemptSnapshot struct {
	Count int
}

type contextKey int

const attemptSnapshotKey contextKey = 0

// WithAttemptSnapshot returns a copy of ctx carrying snapshot, so a
// handler can read the attempt count without depending on its own
// EventRecord parameter for it.
func WithAttemptSnapshot(ctx context.Context, snapshot AttemptSnapshot) context.Context {
	return context.WithValue(ctx, attemptSnapshotKey, snapshot)
}

// AttemptFromContext returns the AttemptSnapshot carried by ctx, if any.
func AttemptFromContext(ctx context.Context) (AttemptSnapshot, bool) {
	snapshot, ok := ctx.Value(attemptSnapshotKey).(AttemptSnapshot)

	return snapshot, ok
}

func marshalHeaders(headers map[string][]string) string {
	b, err := json.Marshal(headers)
	if err != nil {
		return "{}"
	}

	return string(b)
}
