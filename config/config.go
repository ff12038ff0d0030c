package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	serrors "github.com/keygate-dev/keygate/errors"
)

// ServerConfig holds all configuration for the server. Tags use mapstructure
// for viper unmarshalling; every key is also bindable as an env variable.
type ServerConfig struct {
	HTTPPort    string `mapstructure:"HTTP_PORT"`
	MongoURI    string `mapstructure:"MONGO_URI"`
	MongoDBName string `mapstructure:"MONGO_DB_NAME"`

	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogPretty bool   `mapstructure:"LOG_PRETTY"`

	OtelServiceName string `mapstructure:"OTEL_SERVICE_NAME"`

	// CacheBackend selects the refresh-token cache: "memory" or "redis".
	CacheBackend  string `mapstructure:"CACHE_BACKEND"`
	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`

	// JWTSigningKey has no default. An empty key is a fatal startup error,
	// never a per-request one.
	JWTSigningKey       string `mapstructure:"JWT_SIGNING_KEY"`
	TokenIssuer         string `mapstructure:"TOKEN_ISSUER"`
	AccessTokenTTLMin   int    `mapstructure:"ACCESS_TOKEN_TTL_MIN"`
	RefreshTokenTTLHour int    `mapstructure:"REFRESH_TOKEN_TTL_HOUR"`

	LockoutThreshold   int `mapstructure:"LOCKOUT_THRESHOLD"`
	LockoutDurationMin int `mapstructure:"LOCKOUT_DURATION_MIN"`

	// TOTPIssuer is the name shown in authenticator apps.
	TOTPIssuer string `mapstructure:"TOTP_ISSUER"`
}

// LoadConfig reads configuration from file, environment variables, and defaults.
func LoadConfig() (*ServerConfig, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("/etc/keygate/")
	v.AddConfigPath("$HOME/.keygate")
	v.AddConfigPath(".")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Keys without defaults need an explicit binding, or AutomaticEnv never
	// surfaces them to Unmarshal.
	for _, key := range []string{"JWT_SIGNING_KEY", "REDIS_PASSWORD"} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind env var %s: %w", key, err)
		}
	}

	v.SetDefault("HTTP_PORT", "8080")
	v.SetDefault("MONGO_URI", "mongodb://localhost:27017/keygate_dev")
	v.SetDefault("MONGO_DB_NAME", "keygate_dev")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_PRETTY", true)
	v.SetDefault("OTEL_SERVICE_NAME", "keygate-server")
	v.SetDefault("CACHE_BACKEND", "memory")
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("TOKEN_ISSUER", "keygate")
	v.SetDefault("ACCESS_TOKEN_TTL_MIN", 15)
	v.SetDefault("REFRESH_TOKEN_TTL_HOUR", 168) // 7 days
	v.SetDefault("LOCKOUT_THRESHOLD", 5)
	v.SetDefault("LOCKOUT_DURATION_MIN", 120) // 2 hours
	v.SetDefault("TOTP_ISSUER", "Keygate")

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine; env vars and defaults apply.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg ServerConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	return &cfg, nil
}

// Validate checks the invariants that must hold before the server starts.
func (c *ServerConfig) Validate() error {
	if c.JWTSigningKey == "" {
		return serrors.ErrMissingSigningKey
	}
	if c.CacheBackend != "memory" && c.CacheBackend != "redis" {
		return fmt.Errorf("unknown cache backend %q", c.CacheBackend)
	}
	return nil
}
