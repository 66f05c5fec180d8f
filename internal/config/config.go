// Package config provides application configuration loading and management.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const defaultJWTSecret = "dealroom-dev-secret-change-in-production"

// Config holds application configuration values loaded from file or environment variables.
type Config struct {
	Env            string `mapstructure:"APP_ENV"`
	Port           string `mapstructure:"PORT"`
	JWTSecret      string `mapstructure:"JWT_SECRET"`
	JWTTTLMinutes  int    `mapstructure:"JWT_TTL_MINUTES"`
	AllowedOrigins string `mapstructure:"ALLOWED_ORIGINS"`
	FeatureFlags   string `mapstructure:"FEATURE_FLAGS"`
	RedisURL       string `mapstructure:"REDIS_URL"`

	StorageDriver  string `mapstructure:"STORAGE_DRIVER"`
	StoragePath    string `mapstructure:"STORAGE_PATH"`
	PersistRootKey string `mapstructure:"PERSIST_ROOT_KEY"`

	DirectoryDriver string `mapstructure:"DIRECTORY_DRIVER"`
	DBHost          string `mapstructure:"DB_HOST"`
	DBPort          string `mapstructure:"DB_PORT"`
	DBUser          string `mapstructure:"DB_USER"`
	DBPassword      string `mapstructure:"DB_PASSWORD"`
	DBName          string `mapstructure:"DB_NAME"`
	DBSSLMode       string `mapstructure:"DB_SSLMODE"`
	SQLitePath      string `mapstructure:"SQLITE_PATH"`
	SeedDemoData    bool   `mapstructure:"SEED_DEMO_DATA"`

	TypingTimeoutMS     int    `mapstructure:"TYPING_TIMEOUT_MS"`
	ReplyDelayMinMS     int    `mapstructure:"REPLY_DELAY_MIN_MS"`
	ReplyDelayMaxMS     int    `mapstructure:"REPLY_DELAY_MAX_MS"`
	TypingSimIntervalMS int    `mapstructure:"TYPING_SIM_INTERVAL_MS"`
	ReplySource         string `mapstructure:"REPLY_SOURCE"`

	BadgeCap   int `mapstructure:"BADGE_CAP"`
	BannerSize int `mapstructure:"BANNER_SIZE"`

	MessageRateLimit         int `mapstructure:"MESSAGE_RATE_LIMIT"`
	MessageRateWindowSeconds int `mapstructure:"MESSAGE_RATE_WINDOW_SECONDS"`

	TracingEnabled   bool    `mapstructure:"TRACING_ENABLED"`
	OTLPEndpoint     string  `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	TraceSampleRatio float64 `mapstructure:"TRACE_SAMPLE_RATIO"`
}

// LoadConfig loads application configuration from file and environment variables.
func LoadConfig() (*Config, error) {
	viper.AddConfigPath(".")
	viper.AddConfigPath("..")
	viper.AddConfigPath("../..")
	viper.SetConfigName("config")
	viper.SetConfigType("yml")
	viper.AutomaticEnv()

	// The base file is optional; env vars and defaults cover everything.
	_ = viper.ReadInConfig()

	env := viper.GetString("APP_ENV")
	if env != "" && env != "development" && env != "test" {
		viper.SetConfigName("config." + env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("required profile-specific config 'config.%s.yml' not found: %w", env, err)
		}
		slog.Info("loaded profile-specific configuration", slog.String("file", "config."+env+".yml"))
	}

	setDefaults()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}
	config.normalize()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("APP_ENV", "development")
	viper.SetDefault("PORT", "8375")
	viper.SetDefault("JWT_SECRET", defaultJWTSecret)
	viper.SetDefault("JWT_TTL_MINUTES", 720)
	viper.SetDefault("ALLOWED_ORIGINS", "http://localhost:5173,http://localhost:3000")
	viper.SetDefault("FEATURE_FLAGS", "")
	viper.SetDefault("REDIS_URL", "")

	viper.SetDefault("STORAGE_DRIVER", "memory")
	viper.SetDefault("STORAGE_PATH", "dealroom-state.json")
	viper.SetDefault("PERSIST_ROOT_KEY", "persist:root")

	viper.SetDefault("DIRECTORY_DRIVER", "memory")
	viper.SetDefault("DB_HOST", "localhost")
	viper.SetDefault("DB_PORT", "5432")
	viper.SetDefault("DB_USER", "user")
	viper.SetDefault("DB_PASSWORD", "password")
	viper.SetDefault("DB_NAME", "dealroom")
	viper.SetDefault("DB_SSLMODE", "disable")
	viper.SetDefault("SQLITE_PATH", "dealroom.db")
	viper.SetDefault("SEED_DEMO_DATA", true)

	viper.SetDefault("TYPING_TIMEOUT_MS", 2000)
	viper.SetDefault("REPLY_DELAY_MIN_MS", 2000)
	viper.SetDefault("REPLY_DELAY_MAX_MS", 3000)
	viper.SetDefault("TYPING_SIM_INTERVAL_MS", 8000)
	viper.SetDefault("REPLY_SOURCE", "synthetic")

	viper.SetDefault("BADGE_CAP", 9)
	viper.SetDefault("BANNER_SIZE", 3)

	viper.SetDefault("MESSAGE_RATE_LIMIT", 30)
	viper.SetDefault("MESSAGE_RATE_WINDOW_SECONDS", 60)

	viper.SetDefault("TRACING_ENABLED", false)
	viper.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	viper.SetDefault("TRACE_SAMPLE_RATIO", 1.0)
}

func (c *Config) normalize() {
	c.Env = strings.ToLower(strings.TrimSpace(c.Env))
	c.StorageDriver = strings.ToLower(strings.TrimSpace(c.StorageDriver))
	c.DirectoryDriver = strings.ToLower(strings.TrimSpace(c.DirectoryDriver))
	c.ReplySource = strings.ToLower(strings.TrimSpace(c.ReplySource))
	c.DBSSLMode = strings.ToLower(strings.TrimSpace(c.DBSSLMode))
}

// IsProduction reports whether the service runs with production safeguards.
func (c *Config) IsProduction() bool {
	return c.Env == "production" || c.Env == "prod"
}

// TypingTimeout is how long a typing flag survives without a refresh.
func (c *Config) TypingTimeout() time.Duration {
	return time.Duration(c.TypingTimeoutMS) * time.Millisecond
}

// ReplyDelayBounds returns the closed interval a synthetic reply waits for.
func (c *Config) ReplyDelayBounds() (time.Duration, time.Duration) {
	return time.Duration(c.ReplyDelayMinMS) * time.Millisecond,
		time.Duration(c.ReplyDelayMaxMS) * time.Millisecond
}

// TypingSimInterval is the period of the simulated counterparty typing pulse.
func (c *Config) TypingSimInterval() time.Duration {
	return time.Duration(c.TypingSimIntervalMS) * time.Millisecond
}

// JWTTTL is the lifetime of issued session tokens.
func (c *Config) JWTTTL() time.Duration {
	return time.Duration(c.JWTTTLMinutes) * time.Minute
}

// Validate ensures that required configuration values are present and meet security standards.
func (c *Config) Validate() error {
	if c.Port == "" {
		return errors.New("PORT is required")
	}
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}

	switch c.StorageDriver {
	case "memory", "file", "redis", "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported STORAGE_DRIVER %q", c.StorageDriver)
	}
	if c.StorageDriver == "file" && c.StoragePath == "" {
		return errors.New("STORAGE_PATH is required for the file storage driver")
	}
	if c.StorageDriver == "redis" && c.RedisURL == "" {
		return errors.New("REDIS_URL is required for the redis storage driver")
	}
	if c.PersistRootKey == "" {
		return errors.New("PERSIST_ROOT_KEY is required")
	}

	switch c.DirectoryDriver {
	case "memory", "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported DIRECTORY_DRIVER %q", c.DirectoryDriver)
	}

	switch c.ReplySource {
	case "synthetic":
	case "redis":
		if c.RedisURL == "" {
			return errors.New("REDIS_URL is required when REPLY_SOURCE is redis")
		}
	default:
		return fmt.Errorf("unsupported REPLY_SOURCE %q", c.ReplySource)
	}

	if c.TypingTimeoutMS <= 0 {
		return errors.New("TYPING_TIMEOUT_MS must be positive")
	}
	if c.ReplyDelayMinMS < 0 || c.ReplyDelayMaxMS < c.ReplyDelayMinMS {
		return fmt.Errorf("reply delay bounds [%d, %d] are invalid", c.ReplyDelayMinMS, c.ReplyDelayMaxMS)
	}
	if c.BadgeCap <= 0 {
		return errors.New("BADGE_CAP must be positive")
	}
	if c.BannerSize < 0 {
		return errors.New("BANNER_SIZE must not be negative")
	}

	if c.IsProduction() {
		if c.JWTSecret == defaultJWTSecret {
			return errors.New("JWT_SECRET must be changed from the default value in production")
		}
		if len(c.JWTSecret) < 32 {
			return errors.New("JWT_SECRET must be at least 32 characters in production")
		}
		usesPostgres := c.StorageDriver == "postgres" || c.DirectoryDriver == "postgres"
		if usesPostgres && (c.DBPassword == "password" || c.DBPassword == "") {
			return errors.New("a strong DB_PASSWORD is required in production")
		}
		if usesPostgres && (c.DBSSLMode == "disable" || c.DBSSLMode == "") {
			return errors.New("DB_SSLMODE must enable SSL in production")
		}
		if c.AllowedOrigins == "*" {
			slog.Warn("ALLOWED_ORIGINS is set to '*' in production. This is insecure.")
		}
	} else if len(c.JWTSecret) < 32 {
		slog.Warn("JWT_SECRET is shorter than 32 characters. Consider using a stronger secret for production.")
	}

	return nil
}
