// Package dbconn provides the pooled PostgreSQL connection shared by every
// store in the messaging core (outbox, inbox, scheduler, lease,
// idempotency). Adapted from the teacher's internal/storage.Connection/
// Config: same pooling defaults and health-check-on-open behavior,
// generalized out of the API-key-store package so every primitive's
// store can depend on it without pulling in unrelated domain types.
package dbconn

import (
	"errors"
	"strings"
	"time"

	"github.com/correlator-io/correlator/internal/config"
)

const (
	defaultMaxOpenConns    = 25
	defaultMaxIdleConns    = 5
	defaultConnMaxLifetime = 30 * time.Minute
	defaultConnMaxIdleTime = 10 * time.Minute
)

// ErrDatabaseURLEmpty is returned when the database url is an empty string.
var ErrDatabaseURLEmpty = errors.New("database URL cannot be empty")

// Config holds PostgreSQL connection configuration with production-ready
// defaults, loaded from environment variables with an explicit prefix so
// multiple primitives sharing a process can each bind their own DSN.
type Config struct {
	databaseURL     string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// LoadConfig loads PostgreSQL configuration from environment variables
// named "<prefix>_DATABASE_URL" etc., falling back to production defaults
// for pool sizing.
func LoadConfig(prefix string) *Config {
	return &Config{
		databaseURL:     config.GetEnvStr(prefix+"_DATABASE_URL", ""),
		MaxOpenConns:    config.GetEnvInt(prefix+"_MAX_OPEN_CONNS", defaultMaxOpenConns),
		MaxIdleConns:    config.GetEnvInt(prefix+"_MAX_IDLE_CONNS", defaultMaxIdleConns),
		ConnMaxLifetime: config.GetEnvDuration(prefix+"_CONN_MAX_LIFETIME", defaultConnMaxLifetime),
		ConnMaxIdleTime: config.GetEnvDuration(prefix+"_CONN_MAX_IDLE_TIME", defaultConnMaxIdleTime),
	}
}

// NewConfig builds a Config directly from a connection string, bypassing
// environment lookup — used when the DSN comes from database discovery
// rather than process environment.
func NewConfig(databaseURL string) *Config {
	return &Config{
		databaseURL:     databaseURL,
		MaxOpenConns:    defaultMaxOpenConns,
		MaxIdleConns:    defaultMaxIdleConns,
		ConnMaxLifetime: defaultConnMaxLifetime,
		ConnMaxIdleTime: defaultConnMaxIdleTime,
	}
}

// Validate checks if the PostgreSQL configuration is valid.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.databaseURL) == "" {
		return ErrDatabaseURLEmpty
	}

	return nil
}

// MaskDatabaseURL returns a masked databaseURL safe for logging.
func (c *Config) MaskDatabaseURL() string {
	if c.databaseURL == "" {
		return ""
	}

	schemeEnd := strings.Index(c.databaseURL, "://")
	if schemeEnd == -1 {
		return c.databaseURL
	}

	afterScheme := c.databaseURL[schemeEnd+3:]

	lastAtIndex := strings.LastIndex(afterScheme, "@")
	if lastAtIndex == -1 {
		return c.databaseURL
	}

	userInfo := afterScheme[:lastAtIndex]

	colonIndex := strings.Index(userInfo, ":")
	if colonIndex == -1 {
		return c.databaseURL
	}

	username := userInfo[:colonIndex]
	password := userInfo[colonIndex+1:]

	if password == "" {
		return c.databaseURL
	}

	scheme := c.databaseURL[:schemeEnd]
	hostAndRest := afterScheme[lastAtIndex:]

	return scheme + "://" + username + ":***" + hostAndRest
}
