// Package inbox implements the at-most-once ingestion dispatcher:
// identical shape to the outbox dispatcher, plus a missing-handler
// policy and dedupe-on-ingest semantics.
package inbox

import (
	"time"

	"github.com/correlator-io/correlator/internal/config"
)

// MissingHandlerPolicy controls what happens when a claimed row's topic
// has no registered handler.
type MissingHandlerPolicy string

const (
	// PolicyComplete acks the row as if it had succeeded.
	PolicyComplete MissingHandlerPolicy = "complete"
	// PolicyRetry abandons the row with backoff, same as a handler error.
	PolicyRetry MissingHandlerPolicy = "retry"
	// PolicyPoison fails the row immediately.
	PolicyPoison MissingHandlerPolicy = "poison"
)

// Config is the inbox dispatcher's configuration record.
type Config struct {
	SchemaName             string
	EnableSchemaDeploy     bool
	MaxAttempts            int
	LeaseSeconds           int
	BatchSize              int
	BaseBackoff            time.Duration
	MaxBackoff             time.Duration
	IdlePoll               time.Duration
	CleanupInterval        time.Duration
	RetentionPeriod        time.Duration
	MissingHandlerBehavior MissingHandlerPolicy
}

const (
	defaultSchemaName      = "infra"
	defaultMaxAttempts     = 5
	defaultLeaseSeconds    = 30
	defaultBatchSize       = 50
	defaultBaseBackoff     = time.Second
	defaultMaxBackoff      = 5 * time.Minute
	defaultIdlePoll        = 2 * time.Second
	defaultCleanupInterval = time.Hour
	defaultRetentionPeriod = 7 * 24 * time.Hour
)

// LoadConfig loads inbox configuration from environment variables.
func LoadConfig() *Config {
	return &Config{
		SchemaName:             config.GetEnvStr("INBOX_SCHEMA", defaultSchemaName),
		EnableSchemaDeploy:     config.GetEnvBool("INBOX_ENABLE_SCHEMA_DEPLOYMENT", true),
		MaxAttempts:            config.GetEnvInt("INBOX_MAX_ATTEMPTS", defaultMaxAttempts),
		LeaseSeconds:           config.GetEnvInt("INBOX_LEASE_SECONDS", defaultLeaseSeconds),
		BatchSize:              config.GetEnvInt("INBOX_BATCH_SIZE", defaultBatchSize),
		BaseBackoff:            config.GetEnvDuration("INBOX_BASE_BACKOFF", defaultBaseBackoff),
		MaxBackoff:             config.GetEnvDuration("INBOX_MAX_BACKOFF", defaultMaxBackoff),
		IdlePoll:               config.GetEnvDuration("INBOX_IDLE_POLL", defaultIdlePoll),
		CleanupInterval:        config.GetEnvDuration("INBOX_CLEANUP_INTERVAL", defaultCleanupInterval),
		RetentionPeriod:        config.GetEnvDuration("INBOX_RETENTION_PERIOD", defaultRetentionPeriod),
		MissingHandlerBehavior: MissingHandlerPolicy(config.GetEnvStr("INBOX_MISSING_HANDLER_BEHAVIOR", string(PolicyRetry))),
	}
}

func backoff(base, maxBackoff time.Duration, attempts int) time.Duration {
	d := base

	for i := 0; i < attempts; i++ {
		d *= 2

		if d >= maxBackoff {
			return maxBackoff
		}
	}

	return d
}
