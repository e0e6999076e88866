package scheduler

import (
	"time"

	"github.com/correlator-io/correlator/internal/config"
)

// Config is the scheduler's configuration record.
type Config struct {
	SchemaName             string
	EnableSchedulerWorkers bool
	LeaseSeconds           int
	BatchSize              int
	IdlePoll               time.Duration
	MaterialiseInterval    time.Duration
}

const (
	defaultSchemaName          = "infra"
	defaultLeaseSeconds        = 30
	defaultBatchSize           = 50
	defaultIdlePoll            = 2 * time.Second
	defaultMaterialiseInterval = 10 * time.Second
)

// LoadConfig loads scheduler configuration from environment variables.
func LoadConfig() *Config {
	return &Config{
		SchemaName:             config.GetEnvStr("SCHEDULER_SCHEMA", defaultSchemaName),
		EnableSchedulerWorkers: config.GetEnvBool("SCHEDULER_ENABLE_WORKERS", true),
		LeaseSeconds:           config.GetEnvInt("SCHEDULER_LEASE_SECONDS", defaultLeaseSeconds),
		BatchSize:              config.GetEnvInt("SCHEDULER_BATCH_SIZE", defaultBatchSize),
		IdlePoll:               config.GetEnvDuration("SCHEDULER_IDLE_POLL", defaultIdlePoll),
		MaterialiseInterval:    config.GetEnvDuration("SCHEDULER_MATERIALISE_INTERVAL", defaultMaterialiseInterval),
	}
}
