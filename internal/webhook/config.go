package webhook

import (
	"time"

	"github.com/correlator-io/correlator/internal/config"
	"github.com/correlator-io/correlator/internal/inbox"
)

// Config is the webhook pipeline's configuration record.
type Config struct {
	StoreRejected          bool
	RedactRejectedBody     bool
	MissingHandlerBehavior inbox.MissingHandlerPolicy
	BatchSize              int
	LeaseSeconds           int
	MaxAttempts            int
	BaseBackoff            time.Duration
	MaxBackoff             time.Duration

	// RateLimitPerSecond and RateLimitBurst bound how fast any single
	// provider may push envelopes through Ingest. RateLimitPerSecond <=
	// 0 disables rate limiting entirely.
	RateLimitPerSecond float64
	RateLimitBurst     int
}

const (
	defaultBatchSize          = 50
	defaultLeaseSecs          = 30
	defaultMaxAttempts        = 5
	defaultBaseBackoff        = time.Second
	defaultMaxBackoff         = 5 * time.Minute
	defaultRateLimitPerSecond = 200.0
	defaultRateLimitBurst     = 400
)

// LoadConfig loads webhook configuration from environment variables.
func LoadConfig() *Config {
	return &Config{
		StoreRejected:          config.GetEnvBool("WEBHOOK_STORE_REJECTED", false),
		RedactRejectedBody:     config.GetEnvBool("WEBHOOK_REDACT_REJECTED_BODY", true),
		MissingHandlerBehavior: inbox.MissingHandlerPolicy(config.GetEnvStr("WEBHOOK_MISSING_HANDLER_BEHAVIOR", string(inbox.PolicyRetry))),
		BatchSize:              config.GetEnvInt("WEBHOOK_BATCH_SIZE", defaultBatchSize),
		LeaseSeconds:           config.GetEnvInt("WEBHOOK_LEASE_SECONDS", defaultLeaseSecs),
		MaxAttempts:            config.GetEnvInt("WEBHOOK_MAX_ATTEMPTS", defaultMaxAttempts),
		BaseBackoff:            config.GetEnvDuration("WEBHOOK_BASE_BACKOFF", defaultBaseBackoff),
		MaxBackoff:             config.GetEnvDuration("WEBHOOK_MAX_BACKOFF", defaultMaxBackoff),
		RateLimitPerSecond:     config.GetEnvFloat("WEBHOOK_RATE_LIMIT_PER_SECOND", defaultRateLimitPerSecond),
		RateLimitBurst:         config.GetEnvInt("WEBHOOK_RATE_LIMIT_BURST", defaultRateLimitBurst),
	}
}
