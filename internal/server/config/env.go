package config

import (
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// EnvConfig lists the environment variables the server reads. Unset
// variables leave the corresponding Config field alone.
type EnvConfig struct {
	EndpointAddrHTTP            *string        `env:"GOPHAUTH_ADDR"`
	StorageBackend              *string        `env:"GOPHAUTH_STORAGE"`
	DatabaseDSN                 *string        `env:"GOPHAUTH_DATABASE_DSN"`
	SecretKey                   *string        `env:"GOPHAUTH_SECRET"`
	AccessTokenValidityDuration *time.Duration `env:"GOPHAUTH_TOKEN_TTL"`
	OTPEcho                     *bool          `env:"GOPHAUTH_OTP_ECHO"`
	AdminEmail                  *string        `env:"GOPHAUTH_ADMIN_EMAIL"`
	AdminPassword               *string        `env:"GOPHAUTH_ADMIN_PASSWORD"`
	LogBackend                  *string        `env:"GOPHAUTH_LOG_BACKEND"`
	LogLevel                    *string        `env:"GOPHAUTH_LOG_LEVEL"`
}

// parseEnv overlays environment variables onto config. A .env file in the
// working directory is loaded first if present; real environment wins over it.
// Malformed values panic, like a broken JSON file does.
func parseEnv(config *Config) {
	_ = godotenv.Load()

	c, err := env.ParseAs[EnvConfig]()
	if err != nil {
		panic(err)
	}

	setString(&config.EndpointAddrHTTP, c.EndpointAddrHTTP)
	setString(&config.StorageBackend, c.StorageBackend)
	setString(&config.DatabaseDSN, c.DatabaseDSN)
	setString(&config.SecretKey, c.SecretKey)
	setString(&config.AdminEmail, c.AdminEmail)
	setString(&config.AdminPassword, c.AdminPassword)
	setString(&config.LogBackend, c.LogBackend)
	setString(&config.LogLevel, c.LogLevel)
	if c.AccessTokenValidityDuration != nil {
		config.AccessTokenValidityDuration = *c.AccessTokenValidityDuration
	}
	if c.OTPEcho != nil {
		config.OTPEcho = *c.OTPEcho
	}
}
