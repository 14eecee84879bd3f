package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/spf13/viper"
)

// Config is the service configuration read from the environment and an optional .env file
type Config struct {
	Port              string        `mapstructure:"PORT"`
	DatabaseURL       string        `mapstructure:"DATABASE_URL"`
	LogLevel          string        `mapstructure:"LOG_LEVEL"`
	DefaultClinic     string        `mapstructure:"DEFAULT_CLINIC"`
	PolicyFile        string        `mapstructure:"POLICY_FILE"`
	LookupTimeout     time.Duration `mapstructure:"LOOKUP_TIMEOUT"`
	RequestTimeout    time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	MigrationsOnStart bool          `mapstructure:"MIGRATIONS_ON_START"`
	DecisionPageSize  int           `mapstructure:"DECISION_PAGE_SIZE"`
}

var keys = []string{
	"PORT",
	"DATABASE_URL",
	"LOG_LEVEL",
	"DEFAULT_CLINIC",
	"POLICY_FILE",
	"LOOKUP_TIMEOUT",
	"REQUEST_TIMEOUT",
	"MIGRATIONS_ON_START",
	"DECISION_PAGE_SIZE",
}

// Load reads configuration. An empty DATABASE_URL selects the in-memory stores.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	v.SetDefault("PORT", "8080")
	v.SetDefault("LOG_LEVEL", "INFO")
	v.SetDefault("DEFAULT_CLINIC", "default")
	v.SetDefault("LOOKUP_TIMEOUT", "2s")
	v.SetDefault("REQUEST_TIMEOUT", "60s")
	v.SetDefault("MIGRATIONS_ON_START", false)
	v.SetDefault("DECISION_PAGE_SIZE", 50)

	for _, k := range keys {
		if err := v.BindEnv(k); err != nil {
			return nil, fmt.Errorf("bind %s: %w", k, err)
		}
	}

	// .env is optional, but one that exists must be readable
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the values Load cannot default
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT must not be empty")
	}
	if c.DefaultClinic == "" {
		return fmt.Errorf("DEFAULT_CLINIC must not be empty")
	}
	if c.LookupTimeout <= 0 {
		return fmt.Errorf("LOOKUP_TIMEOUT must be positive, got %s", c.LookupTimeout)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be positive, got %s", c.RequestTimeout)
	}
	if c.DecisionPageSize < 1 || c.DecisionPageSize > 1000 {
		return fmt.Errorf("DECISION_PAGE_SIZE must be between 1 and 1000, got %d", c.DecisionPageSize)
	}
	if c.MigrationsOnStart && c.DatabaseURL == "" {
		return fmt.Errorf("MIGRATIONS_ON_START requires DATABASE_URL")
	}
	return nil
}

// InMemory reports whether the service runs without a database
func (c *Config) InMemory() bool {
	return c.DatabaseURL == ""
}
