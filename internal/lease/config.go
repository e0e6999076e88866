package lease

import (
	"time"

	"github.com/correlator-io/correlator/internal/config"
)

// Config controls lease-manager behavior: schemaName,
// defaultLeaseDuration, renewPercent, useGate, gateTimeoutMs,
// enableSchemaDeployment.
type Config struct {
	SchemaName            string
	DefaultLeaseDuration  time.Duration
	RenewPercent          float64
	UseGate               bool
	GateTimeout           time.Duration
	EnableSchemaDeploy    bool
}

const (
	defaultSchemaName   = "infra"
	defaultLeaseSeconds = 30 * time.Second
	defaultRenewPercent = 0.6
	defaultGateTimeout  = 200 * time.Millisecond
)

// LoadConfig loads lease configuration from environment variables.
func LoadConfig() *Config {
	return &Config{
		SchemaName:           config.GetEnvStr("LEASE_SCHEMA", defaultSchemaName),
		DefaultLeaseDuration: config.GetEnvDuration("LEASE_DEFAULT_DURATION", defaultLeaseSeconds),
		RenewPercent:         defaultRenewPercent,
		UseGate:              config.GetEnvBool("LEASE_USE_GATE", false),
		GateTimeout:          config.GetEnvDuration("LEASE_GATE_TIMEOUT", defaultGateTimeout),
		EnableSchemaDeploy:   config.GetEnvBool("LEASE_ENABLE_SCHEMA_DEPLOYMENT", true),
	}
}
