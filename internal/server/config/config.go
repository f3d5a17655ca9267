// Package config handles configuration for the server component,
// including defaults, JSON overlay, environment variables and command-line flags.
package config

import "time"

// DefaultSecretKey is the development signing secret. It is public, so a
// server running with it accepts forged tokens.
const DefaultSecretKey = "dev-secret-please-change"

// Storage backends understood by the server.
const (
	StorageMemory   = "memory"
	StorageSQLite   = "sqlite"
	StoragePostgres = "postgres"
)

// Config holds runtime settings for the gophauth server.
//
// Fields:
//   - EndpointAddrHTTP: bind address for the public HTTP endpoint.
//   - StorageBackend: one of memory, sqlite, postgres.
//   - DatabaseDSN: sqlite file/DSN or PostgreSQL DSN (pgx), depending on StorageBackend.
//   - SecretKey: HMAC secret for signing session tokens (HS256). Do not use test defaults in prod.
//   - AccessTokenValidityDuration: session token lifetime.
//   - OTPEcho: return the issued OTP in the login response (demo only).
//   - AdminEmail / AdminPassword: bootstrap admin account, seeded when both are set.
//   - LogBackend / LogLevel: logger selection.
type Config struct {
	EndpointAddrHTTP            string
	StorageBackend              string
	DatabaseDSN                 string
	SecretKey                   string
	AccessTokenValidityDuration time.Duration
	OTPEcho                     bool
	AdminEmail                  string
	AdminPassword               string
	LogBackend                  string
	LogLevel                    string
}

// LoadDefaults populates Config with development defaults.
// NOTE: SecretKey and OTPEcho are insecure for production and must be overridden.
func (c *Config) LoadDefaults() {
	c.EndpointAddrHTTP = ":8080"
	c.StorageBackend = StorageSQLite
	c.DatabaseDSN = "file:users.db?_pragma=busy_timeout(5000)"
	c.SecretKey = DefaultSecretKey
	c.AccessTokenValidityDuration = 60 * time.Minute
	c.OTPEcho = true
	c.AdminEmail = "admin@example.com"
	c.AdminPassword = ""
	c.LogBackend = "slog"
	c.LogLevel = "info"
}

// LoadConfig builds a Config by applying defaults, then overlaying values
// from an optional JSON file, the environment (and .env) and finally
// command-line flags. Later sources win.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseEnv(cfg)
	parseFlags(cfg)
	return cfg
}
