package webhook_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/correlator-io/correlator/internal/inboxstore"
	"github.com/correlator-io/correlator/internal/webhook"
)

type staticClassifier struct {
	out webhook.Classification
	err error
}

func (c staticClassifier) Classify(context.Context, webhook.Envelope) (webhook.Classification, error) {
	return c.out, c.err
}

func sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)

	return hex.EncodeToString(mac.Sum(nil))
}

func newIngestor(t *testing.T, secret []byte, classifier webhook.Classifier, cfg *webhook.Config) (*webhook.Ingestor, inboxstore.Store) {
	t.Helper()

	store := inboxstore.NewMemoryStore()
	router := webhook.NewPartitionRouter(store)
	provider := &webhook.Provider{
		Name:          "github",
		Authenticator: webhook.NewHMACAuthenticator(secret, "X-Signature"),
		Classifier:    classifier,
	}

	return webhook.NewIngestor([]*webhook.Provider{provider}, router, cfg, nil), store
}

func TestIngestAcceptsAuthenticatedEnvelope(t *testing.T) {
	secret := []byte("shh")
	body := []byte(`{"action":"opened"}`)
	classifier := staticClassifier{out: webhook.Classification{Outcome: webhook.Accepted, EventType: "pull_request", ProviderEventID: "evt-1"}}

	in, store := newIngestor(t, secret, classifier, &webhook.Config{})
	ctx := context.Background()

	env := webhook.Envelope{
		Provider: "github",
		Headers:  map[string][]string{"X-Signature": {sign(secret, body)}},
		Body:     body,
	}

	result, err := in.Ingest(ctx, env)
	require.NoError(t, err)
	require.Equal(t, webhook.IngestAccepted, result.Outcome)
	require.False(t, result.Duplicate)

	row, ok, err := store.Get(ctx, "github:evt-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "pull_request", row.Topic)
}

func TestIngestRejectsBadSignature(t *testing.T) {
	classifier := staticClassifier{out: webhook.Classification{Outcome: webhook.Accepted}}
	in, _ := newIngestor(t, []byte("shh"), classifier, &webhook.Config{})
	ctx := context.Background()

	env := webhook.Envelope{
		Provider: "github",
		Headers:  map[string][]string{"X-Signature": {"deadbeef"}},
		Body:     []byte(`{}`),
	}

	result, err := in.Ingest(ctx, env)
	require.ErrorIs(t, err, webhook.ErrUnauthenticated)
	require.Equal(t, webhook.IngestRejected, result.Outcome)
}

func TestIngestDuplicateIsAcceptedWithoutReenqueue(t *testing.T) {
	secret := []byte("shh")
	body := []byte(`{"action":"opened"}`)
	classifier := staticClassifier{out: webhook.Classification{Outcome: webhook.Accepted, EventType: "pull_request", ProviderEventID: "evt-1"}}

	in, store := newIngestor(t, secret, classifier, &webhook.Config{})
	ctx := context.Background()

	env := webhook.Envelope{
		Provider: "github",
		Headers:  map[string][]string{"X-Signature": {sign(secret, body)}},
		Body:     body,
	}

	_, err := in.Ingest(ctx, env)
	require.NoError(t, err)

	rows, err := store.ClaimAsync(ctx, "owner-1", 30, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	_, err = store.MarkProcessed(ctx, "github:evt-1")
	require.NoError(t, err)

	result, err := in.Ingest(ctx, env)
	require.NoError(t, err)
	require.True(t, result.Duplicate)
	require.Equal(t, webhook.IngestAccepted, result.Outcome)
}

func TestIngestUnknownProvider(t *testing.T) {
	in, _ := newIngestor(t, []byte("shh"), staticClassifier{}, &webhook.Config{})

	result, err := in.Ingest(context.Background(), webhook.Envelope{Provider: "unknown"})
	require.ErrorIs(t, err, webhook.ErrUnknownProvider)
	require.Equal(t, webhook.IngestRejected, result.Outcome)
}

func TestIngestRateLimitsPerProvider(t *testing.T) {
	secret := []byte("shh")
	body := []byte(`{"action":"opened"}`)
	classifier := staticClassifier{out: webhook.Classification{Outcome: webhook.Accepted, EventType: "pull_request"}}

	cfg := &webhook.Config{RateLimitPerSecond: 1, RateLimitBurst: 1}
	in, _ := newIngestor(t, secret, classifier, cfg)
	ctx := context.Background()

	env := webhook.Envelope{
		Provider: "github",
		Headers:  map[string][]string{"X-Signature": {sign(secret, body)}},
		Body:     body,
	}

	first, err := in.Ingest(ctx, env)
	require.NoError(t, err)
	require.Equal(t, webhook.IngestAccepted, first.Outcome)

	second, err := in.Ingest(ctx, env)
	require.ErrorIs(t, err, webhook.ErrRateLimited)
	require.Equal(t, webhook.IngestRejected, second.Outcome)
}

func TestIngestIgnoredClassificationSkipsEnqueue(t *testing.T) {
	secret := []byte("shh")
	body := []byte(`{}`)
	classifier := staticClassifier{out: webhook.Classification{Outcome: webhook.Ignored, Summary: "ping event"}}

	in, store := newIngestor(t, secret, classifier, &webhook.Config{})
	ctx := context.Background()

	env := webhook.Envelope{
		Provider: "github",
		Headers:  map[string][]string{"X-Signature": {sign(secret, body)}},
		Body:     body,
	}

	result, err := in.Ingest(ctx, env)
	require.NoError(t, err)
	require.Equal(t, webhook.IngestIgnored, result.Outcome)

	rows, err := store.ClaimAsync(ctx, "owner-1", 30, 10)
	require.NoError(t, err)
	require.Empty(t, rows)
}
