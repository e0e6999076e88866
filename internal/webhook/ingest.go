package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/time/rate"

	"github.com/correlator-io/correlator/internal/dedupe"
	"github.com/correlator-io/correlator/internal/inboxstore"
	"github.com/correlator-io/correlator/internal/metrics"
)

// ErrUnknownProvider means the envelope names a provider with no
// registered Provider.
var ErrUnknownProvider = errors.New("webhook: unknown provider")

// ErrUnauthenticated means the envelope failed provider authentication.
var ErrUnauthenticated = errors.New("webhook: unauthenticated")

// ErrRateLimited means the provider exceeded its configured envelope rate.
var ErrRateLimited = errors.New("webhook: rate limited")

// IngestOutcome is what Ingest actually did with one envelope.
type IngestOutcome string

const (
	IngestAccepted IngestOutcome = "accepted"
	IngestIgnored  IngestOutcome = "ignored"
	IngestRejected IngestOutcome = "rejected"
)

// IngestResult reports the outcome of one Ingest call.
type IngestResult struct {
	Outcome   IngestOutcome
	Duplicate bool
	Summary   string
}

// Ingestor runs the webhook ingestion pipeline: resolve provider,
// authenticate, classify, dedupe, and enqueue into the partitioned inbox.
type Ingestor struct {
	providers map[string]*Provider
	router    *PartitionRouter
	cfg       *Config
	logger    *slog.Logger

	limiterMu sync.Mutex
	limiters  map[string]*rate.Limiter

	// Metrics is optional; set it after construction to report
	// duplicate-detection counts per provider.
	Metrics *metrics.Registry
}

// NewIngestor builds an Ingestor over the given providers, keyed by name.
// Each provider gets its own token-bucket limiter, sized from cfg, so one
// noisy or compromised source can't starve the others sharing an Ingestor.
func NewIngestor(providers []*Provider, router *PartitionRouter, cfg *Config, logger *slog.Logger) *Ingestor {
	if logger == nil {
		logger = slog.Default()
	}

	byName := make(map[string]*Provider, len(providers))
	for _, p := range providers {
		byName[p.Name] = p
	}

	return &Ingestor{
		providers: byName,
		router:    router,
		cfg:       cfg,
		logger:    logger,
		limiters:  make(map[string]*rate.Limiter),
	}
}

// limiterFor returns the token-bucket limiter for providerName, creating
// it lazily on first use.
func (in *Ingestor) limiterFor(providerName string) *rate.Limiter {
	in.limiterMu.Lock()
	defer in.limiterMu.Unlock()

	l, ok := in.limiters[providerName]
	if !ok {
		l = rate.NewLimiter(rate.Limit(in.cfg.RateLimitPerSecond), in.cfg.RateLimitBurst)
		in.limiters[providerName] = l
	}

	return l
}

// Ingest runs one envelope through the pipeline:
//  1. resolve the provider by name; unknown -> ErrUnknownProvider.
//  2. authenticate; failure -> Rejected (optionally persisted, redacted).
//  3. classify into Accepted/Ignored/Rejected.
//  4. resolve the dedupe key: classifier output, else
//     provider:providerEventId, else provider:sha256:<body>.
//  5. resolve the partition key and route to its inbox, or the default.
//  6. check AlreadyProcessed; on duplicate, return Accepted with
//     Duplicate=true without re-enqueuing.
//  7. enqueue a WebhookEventRecord under the inbox topic equal to the
//     event type, or "webhook" when absent.
func (in *Ingestor) Ingest(ctx context.Context, env Envelope) (IngestResult, error) {
	provider, ok := in.providers[env.Provider]
	if !ok {
		return IngestResult{Outcome: IngestRejected, Summary: "unknown provider"}, ErrUnknownProvider
	}

	if in.cfg.RateLimitPerSecond > 0 && !in.limiterFor(env.Provider).Allow() {
		in.logger.Warn("webhook: rate limited", slog.String("provider", env.Provider))

		return IngestResult{Outcome: IngestRejected, Summary: "rate limited"}, ErrRateLimited
	}

	if err := provider.Authenticator.Authenticate(ctx, env); err != nil {
		in.logger.Warn("webhook: authentication failed", slog.String("provider", env.Provider), slog.Any("error", err))
		in.storeRejected(ctx, provider, env, "authentication failed")

		return IngestResult{Outcome: IngestRejected, Summary: "authentication failed"}, ErrUnauthenticated
	}

	classification, err := provider.Classifier.Classify(ctx, env)
	if err != nil {
		return IngestResult{Outcome: IngestRejected, Summary: err.Error()}, fmt.Errorf("webhook: classify: %w", err)
	}

	switch classification.Outcome {
	case Ignored:
		return IngestResult{Outcome: IngestIgnored, Summary: classification.Summary}, nil
	case Rejected:
		in.storeRejected(ctx, provider, env, classification.Summary)

		return IngestResult{Outcome: IngestRejected, Summary: classification.Summary}, nil
	}

	dedupeKey := dedupe.Key(provider.Name, classification.DedupeKey, classification.ProviderEventID, env.Body)
	hash := dedupe.HashBody(env.Body)
	inbox := in.router.Resolve(classification.PartitionKey)

	alreadyDone, err := inbox.AlreadyProcessed(ctx, dedupeKey, provider.Name, hash)
	if err != nil {
		return IngestResult{}, fmt.Errorf("webhook: check duplicate: %w", err)
	}

	if alreadyDone {
		if in.Metrics != nil {
			in.Metrics.Duplicate(metrics.Tags{Queue: "inbox", Provider: provider.Name})
		}

		return IngestResult{Outcome: IngestAccepted, Duplicate: true, Summary: "duplicate"}, nil
	}

	eventType := classification.EventType
	if eventType == "" {
		eventType = "webhook"
	}

	record := EventRecord{
		Provider:     provider.Name,
		DedupeKey:    dedupeKey,
		Status:       string(inboxstore.StatusSeen),
		BodyBytes:    env.Body,
		HeadersJSON:  marshalHeaders(env.Headers),
		PartitionKey: classification.PartitionKey,
		EventType:    eventType,
	}

	payload, err := json.Marshal(record)
	if err != nil {
		return IngestResult{}, fmt.Errorf("webhook: marshal record: %w", err)
	}

	if err := inbox.Enqueue(ctx, eventType, provider.Name, dedupeKey, payload, hash, nil); err != nil {
		return IngestResult{}, fmt.Errorf("webhook: enqueue: %w", err)
	}

	return IngestResult{Outcome: IngestAccepted, Summary: classification.Summary}, nil
}

func (in *Ingestor) storeRejected(ctx context.Context, provider *Provider, env Envelope, reason string) {
	if !in.cfg.StoreRejected {
		return
	}

	body := env.Body
	if in.cfg.RedactRejectedBody {
		body = []byte("[redacted]")
	}

	record := EventRecord{
		Provider:    provider.Name,
		Status:      string(inboxstore.StatusDead),
		BodyBytes:   body,
		HeadersJSON: marshalHeaders(env.Headers),
		EventType:   "webhook.rejected",
	}

	payload, err := json.Marshal(record)
	if err != nil {
		in.logger.Error("webhook: marshal rejected record failed", slog.Any("error", err))

		return
	}

	dedupeKey := dedupe.Key(provider.Name, "", "", append([]byte(reason), env.Body...))
	inbox := in.router.Resolve("")

	if err := inbox.Enqueue(ctx, "webhook.rejected", provider.Name, dedupeKey, payload, dedupe.HashBody(body), nil); err != nil {
		in.logger.Error("webhook: store rejected record failed", slog.Any("error", err))
	}
}
