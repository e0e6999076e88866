// Package outbox implements the enqueue-and-forget publisher dispatcher:
// claim, handle, ack/reschedule/fail, sleep.
package outbox

import (
	"time"

	"github.com/correlator-io/correlator/internal/config"
)

// Config is the outbox dispatcher's configuration record.
type Config struct {
	SchemaName         string
	EnableSchemaDeploy bool
	MaxAttempts        int
	LeaseSeconds       int
	BatchSize          int
	BaseBackoff        time.Duration
	MaxBackoff         time.Duration
	IdlePoll           time.Duration
	CleanupInterval    time.Duration
	RetentionPeriod    time.Duration
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

// LoadConfig loads outbox configuration from environment variables.
func LoadConfig() *Config {
	return &Config{
		SchemaName:         config.GetEnvStr("OUTBOX_SCHEMA", defaultSchemaName),
		EnableSchemaDeploy: config.GetEnvBool("OUTBOX_ENABLE_SCHEMA_DEPLOYMENT", true),
		MaxAttempts:        config.GetEnvInt("OUTBOX_MAX_ATTEMPTS", defaultMaxAttempts),
		LeaseSeconds:       config.GetEnvInt("OUTBOX_LEASE_SECONDS", defaultLeaseSeconds),
		BatchSize:          config.GetEnvInt("OUTBOX_BATCH_SIZE", defaultBatchSize),
		BaseBackoff:        config.GetEnvDuration("OUTBOX_BASE_BACKOFF", defaultBaseBackoff),
		MaxBackoff:         config.GetEnvDuration("OUTBOX_MAX_BACKOFF", defaultMaxBackoff),
		IdlePoll:           config.GetEnvDuration("OUTBOX_IDLE_POLL", defaultIdlePoll),
		CleanupInterval:    config.GetEnvDuration("OUTBOX_CLEANUP_INTERVAL", defaultCleanupInterval),
		RetentionPeriod:    config.GetEnvDuration("OUTBOX_RETENTION_PERIOD", defaultRetentionPeriod),
	}
}

// backoff returns min(maxBackoff, base*2^attempts).
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
