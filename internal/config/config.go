// Package config handles configuration loading and validation, following
// the teacher's internal/config: a YAML file with environment-variable
// expansion, hand-rolled per-section validation, and a typed ValidationError.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the complete engine configuration (spec §6.3).
type Config struct {
	Commission float64 `yaml:"commission"`
	CashAsset  string  `yaml:"cash_asset"`

	MinSettle int `yaml:"min_settle"`
	MaxSettle int `yaml:"max_settle"`
	SigmaFill float64 `yaml:"sigma_fill"`

	TickPeriod  int `yaml:"tick_period"`
	PrunePeriod int `yaml:"prune_period"`
	AuditPeriod int `yaml:"audit_period"`

	StaleAge  int `yaml:"stale_age"`
	ExpireAge int `yaml:"expire_age"`

	Store StoreConfig `yaml:"store"`

	Leader  LeaderConfig  `yaml:"leader"`
	System  SystemConfig  `yaml:"system"`
}

// StoreConfig selects and configures the persistence backend.
type StoreConfig struct {
	Driver string `yaml:"driver" validate:"oneof=memory sqlite"`
	DSN    string `yaml:"dsn"`
}

// LeaderConfig controls the leader-election lock (spec §5).
type LeaderConfig struct {
	TTLSeconds     int `yaml:"ttl_seconds"`
	RefreshSeconds int `yaml:"refresh_seconds"`
}

// SystemConfig contains ambient process settings.
type SystemConfig struct {
	LogLevel   string `yaml:"log_level" validate:"oneof=DEBUG INFO WARN ERROR"`
	HealthAddr string `yaml:"health_addr"`
}

// ValidationError represents one configuration validation failure.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s' (value: %v): %s", e.Field, e.Value, e.Message)
}

// Default returns the configuration defaults called out in spec §6.3.
func Default() Config {
	return Config{
		Commission:  0,
		CashAsset:   "USDT",
		MinSettle:   0,
		MaxSettle:   2,
		SigmaFill:   0.1,
		TickPeriod:  5,
		PrunePeriod: 3600,
		AuditPeriod: 60,
		StaleAge:    86400,
		ExpireAge:   86400,
		Store:       StoreConfig{Driver: "memory"},
		Leader:      LeaderConfig{TTLSeconds: 15, RefreshSeconds: 5},
		System:      SystemConfig{LogLevel: "INFO", HealthAddr: ":9090"},
	}
}

// LoadConfig reads filename, expands ${VAR} environment references, and
// validates the result against Default()-filled zero fields.
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// Validate performs comprehensive validation of the configuration,
// aggregating every per-section error before returning.
func (c *Config) Validate() error {
	var errs []string

	if c.Commission < 0 || c.Commission > 1 {
		errs = append(errs, ValidationError{"commission", c.Commission, "must be in [0,1]"}.Error())
	}
	if c.CashAsset == "" {
		errs = append(errs, ValidationError{"cash_asset", c.CashAsset, "must not be empty"}.Error())
	}
	if c.MinSettle < 0 || c.MaxSettle < c.MinSettle {
		errs = append(errs, ValidationError{"min_settle/max_settle", fmt.Sprintf("%d/%d", c.MinSettle, c.MaxSettle), "min_settle must be >=0 and <= max_settle"}.Error())
	}
	if c.SigmaFill < 0 {
		errs = append(errs, ValidationError{"sigma_fill", c.SigmaFill, "must be >= 0"}.Error())
	}
	if c.TickPeriod <= 0 {
		errs = append(errs, ValidationError{"tick_period", c.TickPeriod, "must be > 0"}.Error())
	}
	if c.PrunePeriod <= 0 {
		errs = append(errs, ValidationError{"prune_period", c.PrunePeriod, "must be > 0"}.Error())
	}
	if c.AuditPeriod <= 0 {
		errs = append(errs, ValidationError{"audit_period", c.AuditPeriod, "must be > 0"}.Error())
	}
	if c.StaleAge <= 0 {
		errs = append(errs, ValidationError{"stale_age", c.StaleAge, "must be > 0"}.Error())
	}
	if c.ExpireAge <= 0 {
		errs = append(errs, ValidationError{"expire_age", c.ExpireAge, "must be > 0"}.Error())
	}
	if c.Store.Driver != "memory" && c.Store.Driver != "sqlite" {
		errs = append(errs, ValidationError{"store.driver", c.Store.Driver, "must be one of: memory, sqlite"}.Error())
	}
	if c.Store.Driver == "sqlite" && c.Store.DSN == "" {
		errs = append(errs, ValidationError{"store.dsn", c.Store.DSN, "required when store.driver=sqlite"}.Error())
	}
	if c.Leader.TTLSeconds <= 0 {
		errs = append(errs, ValidationError{"leader.ttl_seconds", c.Leader.TTLSeconds, "must be > 0"}.Error())
	}
	if c.Leader.RefreshSeconds <= 0 || c.Leader.RefreshSeconds >= c.Leader.TTLSeconds {
		errs = append(errs, ValidationError{"leader.refresh_seconds", c.Leader.RefreshSeconds, "must be > 0 and < leader.ttl_seconds"}.Error())
	}
	switch c.System.LogLevel {
	case "DEBUG", "INFO", "WARN", "ERROR":
	default:
		errs = append(errs, ValidationError{"system.log_level", c.System.LogLevel, "must be one of: DEBUG, INFO, WARN, ERROR"}.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n%s", strings.Join(errs, "\n"))
	}
	return nil
}

func expandEnvVars(s string) string {
	return os.Expand(s, func(key string) string {
		return os.Getenv(key)
	})
}
