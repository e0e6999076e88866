package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/correlator-io/correlator/internal/inbox"
	"github.com/correlator-io/correlator/internal/inboxstore"
	"github.com/correlator-io/correlator/internal/lease"
)

// NewProcessor builds an inbox.Dispatcher that decodes EventRecord
// payloads and routes each to the matching provider's registered
// EventHandler. cfg's missing-handler policy applies to event types that
// no provider has a handler for. A record whose provider is unknown, or
// whose provider has no handler for its event type while another
// provider does, fails like any handler error and is retried with
// backoff up to MaxAttempts; the policy is not applied to it.
func NewProcessor(
	store inboxstore.Store, leases *lease.Manager, providers []*Provider, cfg *Config, logger *slog.Logger,
) *inbox.Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}

	byName := make(map[string]*Provider, len(providers))
	for _, p := range providers {
		byName[p.Name] = p
	}

	registry := inbox.NewRegistry()

	for _, p := range providers {
		for eventType := range p.Handlers {
			registry.Register(eventType, dispatchToProvider(byName, logger))
		}
	}

	inboxCfg := &inbox.Config{
		MaxAttempts:            cfg.MaxAttempts,
		LeaseSeconds:           cfg.LeaseSeconds,
		BatchSize:              cfg.BatchSize,
		BaseBackoff:            cfg.BaseBackoff,
		MaxBackoff:             cfg.MaxBackoff,
		IdlePoll:               inbox.LoadConfig().IdlePoll,
		MissingHandlerBehavior: cfg.MissingHandlerBehavior,
	}

	return inbox.NewDispatcher(store, leases, registry, inboxCfg, logger)
}

// dispatchToProvider decodes msg.Payload as an EventRecord and invokes the
// handler its provider registered for the record's event type.
func dispatchToProvider(providers map[string]*Provider, logger *slog.Logger) inbox.Handler {
	return func(ctx context.Context, msg inbox.Message) error {
		var record EventRecord
		if err := json.Unmarshal(msg.Payload, &record); err != nil {
			return fmt.Errorf("webhook: decode event record: %w", err)
		}

		record.AttemptCount = msg.Attempts

		provider, ok := providers[record.Provider]
		if !ok {
			return fmt.Errorf("%w: provider %q", ErrUnknownProvider, record.Provider)
		}

		handler, ok := provider.Handlers[record.EventType]
		if !ok {
			logger.Warn("webhook processor: no handler for event type",
				slog.String("provider", record.Provider), slog.String("eventType", record.EventType))

			return inbox.ErrNoHandlerForTopic
		}

		ctx = WithAttemptSnapshot(ctx, AttemptSnapshot{Count: record.AttemptCount})

		return handler(ctx, record)
	}
}
