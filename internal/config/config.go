package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// General
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// Persistence
	StoreBackend string `envconfig:"STORE_BACKEND" default:"yaml"` // "yaml" or "sqlite"
	DataDir      string `envconfig:"DATA_DIR" default:"./data"`
	SQLitePath   string `envconfig:"SQLITE_PATH" default:"./data/access.db"`

	// Engine
	TokenTTL      time.Duration `envconfig:"TOKEN_TTL" default:"1h"`
	SweepInterval time.Duration `envconfig:"SWEEP_INTERVAL" default:"5m"` // 0 disables the sweep

	// HTTP API
	ListenAddr     string        `envconfig:"LISTEN_ADDR" default:":8080"`
	AuthMode       string        `envconfig:"AUTH_MODE" default:"api-key"` // "none", "api-key" or "jwt"
	APIKey         string        `envconfig:"API_KEY"`
	JWTSecret      string        `envconfig:"JWT_SECRET"`
	RateLimitRPS   int           `envconfig:"RATE_LIMIT_RPS" default:"100"`
	RateLimitBurst int           `envconfig:"RATE_LIMIT_BURST" default:"200"`
	CORSOrigins    string        `envconfig:"CORS_ORIGINS"`
	ReadTimeout    time.Duration `envconfig:"READ_TIMEOUT" default:"10s"`
	WriteTimeout   time.Duration `envconfig:"WRITE_TIMEOUT" default:"10s"`
}

// SQLiteEnabled returns true if the sqlite backend is selected.
func (c *Config) SQLiteEnabled() bool {
	return strings.EqualFold(c.StoreBackend, "sqlite")
}

// SweepEnabled returns true if the background sweep should run.
func (c *Config) SweepEnabled() bool {
	return c.SweepInterval > 0
}

// Development returns true in the development environment.
func (c *Config) Development() bool {
	return strings.EqualFold(c.Environment, "development")
}

// Validate checks cross-field constraints that envconfig cannot express.
func (c *Config) Validate() error {
	switch strings.ToLower(c.StoreBackend) {
	case "yaml", "sqlite":
	default:
		return fmt.Errorf("invalid STORE_BACKEND %q, expected yaml or sqlite", c.StoreBackend)
	}
	switch strings.ToLower(c.AuthMode) {
	case "none":
	case "api-key":
		if c.APIKey == "" {
			return fmt.Errorf("AUTH_MODE=api-key requires API_KEY")
		}
	case "jwt":
		if c.JWTSecret == "" {
			return fmt.Errorf("AUTH_MODE=jwt requires JWT_SECRET")
		}
	default:
		return fmt.Errorf("invalid AUTH_MODE %q, expected none, api-key or jwt", c.AuthMode)
	}
	return nil
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadWithPrefix reads configuration with a prefix.
func LoadWithPrefix(prefix string) (*Config, error) {
	var cfg Config
	if err := envconfig.Process(prefix, &cfg); err != nil {
		return nil, fmt.Errorf("loading config with prefix %s: %w", prefix, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
