package postgres

import (
	"fmt"
	"time"
)

// Config holds PostgreSQL connection settings for the driver.
// Prefer providing a DSN via ConnString. When empty, a DSN will be
// synthesized from the individual fields.
type Config struct {
	ConnString string
	Host       string
	Port       string
	User       string
	Password   string
	DBName     string
	SSLMode    string

	// Pool tuning. Zero values fall back to the package defaults.
	MaxConns           int
	MinConns           int
	ConnMaxLifetime    time.Duration
	ConnMaxIdleTime    time.Duration
	HealthCheckPeriod  time.Duration
	ConnectTimeout     time.Duration
	PingTimeout        time.Duration
	HealthCheckTimeout time.Duration
}

// DSN returns ConnString when set, otherwise a keyword/value DSN built from
// the individual fields with local defaults.
func (c *Config) DSN() string {
	if c.ConnString != "" {
		return c.ConnString
	}
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		orDefault(c.Host, "localhost"),
		orDefault(c.Port, "5432"),
		orDefault(c.User, "postgres"),
		c.Password,
		orDefault(c.DBName, "pulstrate"),
		orDefault(c.SSLMode, "disable"),
	)
}

func orDefault(val, def string) string {
	if val == "" {
		return def
	}
	return val
}
