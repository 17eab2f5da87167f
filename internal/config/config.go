// Package config loads service configuration from the environment.
package config

import (
	"net/url"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the complete service configuration.
type Config struct {
	AppPort string
	AppEnv  string
	AppURL  string

	DatabaseDriver string
	DatabaseDSN    string

	UploadDir           string
	UploadMaxFileSize   int64
	UploadVerifyContent bool

	JWTSecret   string
	RabbitMQURL string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	CacheTTL      time.Duration

	LogLevel        string
	ShutdownTimeout time.Duration
}

// IsProduction reports whether the service runs with production settings.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.AppEnv, "production")
}

// SetDefaults registers the default of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("APP_PORT", ":8080")
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("APP_URL", "http://localhost:8080")
	v.SetDefault("DATABASE_DRIVER", "postgres")
	v.SetDefault("DATABASE_DSN", "host=127.0.0.1 user=postgres password=postgres dbname=katalog port=5432 sslmode=disable")
	v.SetDefault("UPLOAD_DIR", "./uploads")
	v.SetDefault("UPLOAD_MAX_FILE_SIZE", 5<<20)
	v.SetDefault("UPLOAD_VERIFY_CONTENT", false)
	v.SetDefault("JWT_SECRET", "")
	v.SetDefault("RABBITMQ_URL", "")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("CACHE_TTL", 5*time.Minute)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("SHUTDOWN_TIMEOUT", 10*time.Second)
}

// Load reads an optional .env file and then the environment.
func Load() (*Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	v := viper.New()
	SetDefaults(v)
	v.AutomaticEnv()
	return FromViper(v)
}

// FromViper builds and validates a Config from v.
func FromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		AppPort:             v.GetString("APP_PORT"),
		AppEnv:              v.GetString("APP_ENV"),
		AppURL:              strings.TrimRight(v.GetString("APP_URL"), "/"),
		DatabaseDriver:      strings.ToLower(v.GetString("DATABASE_DRIVER")),
		DatabaseDSN:         v.GetString("DATABASE_DSN"),
		UploadDir:           v.GetString("UPLOAD_DIR"),
		UploadMaxFileSize:   v.GetInt64("UPLOAD_MAX_FILE_SIZE"),
		UploadVerifyContent: v.GetBool("UPLOAD_VERIFY_CONTENT"),
		JWTSecret:           v.GetString("JWT_SECRET"),
		RabbitMQURL:         v.GetString("RABBITMQ_URL"),
		RedisAddr:           v.GetString("REDIS_ADDR"),
		RedisPassword:       v.GetString("REDIS_PASSWORD"),
		RedisDB:             v.GetInt("REDIS_DB"),
		CacheTTL:            v.GetDuration("CACHE_TTL"),
		LogLevel:            v.GetString("LOG_LEVEL"),
		ShutdownTimeout:     v.GetDuration("SHUTDOWN_TIMEOUT"),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks settings that would otherwise fail late or silently.
func (c *Config) Validate() error {
	u, err := url.Parse(c.AppURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.Errorf("APP_URL must be an absolute http(s) URL, got %q", c.AppURL)
	}
	switch c.DatabaseDriver {
	case "postgres", "sqlite":
	default:
		return errors.Errorf("DATABASE_DRIVER must be postgres or sqlite, got %q", c.DatabaseDriver)
	}
	if c.UploadMaxFileSize <= 0 {
		return errors.New("UPLOAD_MAX_FILE_SIZE must be positive")
	}
	if c.UploadDir == "" {
		return errors.New("UPLOAD_DIR is required")
	}
	if c.JWTSecret == "" {
		if c.IsProduction() {
			return errors.New("JWT_SECRET is required in production")
		}
		c.JWTSecret = "development-secret"
	}
	return nil
}
