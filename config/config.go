// Package config loads engine configuration from a YAML file with
// environment variable overrides and sensible defaults. A missing file is
// not an error: the defaults describe a working local setup.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Server struct {
		Port int `yaml:"port"`
	} `yaml:"server"`
	Database struct {
		SQLitePath string `yaml:"sqlite_path"`
	} `yaml:"database"`
	Pool struct {
		// Default split applied when an allocation omits percentages.
		ReservesPercent float64 `yaml:"reserves_percent"`
		BusinessPercent float64 `yaml:"business_percent"`
		DividendPercent float64 `yaml:"dividend_percent"`

		// Subsidy caps used by the calculator and the settlement runner.
		MaxSurplusPercent float64 `yaml:"max_surplus_percent"`
		MaxServicePercent float64 `yaml:"max_service_percent"`

		// EnforceCaps re-validates the caps at subsidy-application time.
		EnforceCaps bool `yaml:"enforce_caps"`
	} `yaml:"pool"`
	Fare struct {
		// Default per-seat revenue model for routes without their own.
		ExpectedFare float64 `yaml:"expected_fare"`
		SeatCapacity int64   `yaml:"seat_capacity"`
	} `yaml:"fare"`
	Settlement struct {
		Enabled bool   `yaml:"enabled"`
		Cron    string `yaml:"cron"`
	} `yaml:"settlement"`
}

// Load reads config from a YAML file, then applies environment variable
// overrides and defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	if v := os.Getenv("SURPLUS_SQLITE_PATH"); v != "" {
		cfg.Database.SQLitePath = v
	}
	if v := os.Getenv("SURPLUS_SETTLEMENT_CRON"); v != "" {
		cfg.Settlement.Cron = v
	}
	if v := os.Getenv("SURPLUS_PORT"); v != "" {
		var port int
		if _, err := fmt.Sscanf(v, "%d", &port); err == nil {
			cfg.Server.Port = port
		}
	}

	// Defaults
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Database.SQLitePath == "" {
		cfg.Database.SQLitePath = "data/surplus.db"
	}
	if cfg.Pool.ReservesPercent == 0 && cfg.Pool.BusinessPercent == 0 && cfg.Pool.DividendPercent == 0 {
		cfg.Pool.ReservesPercent = 20
		cfg.Pool.BusinessPercent = 20
		cfg.Pool.DividendPercent = 60
	}
	if cfg.Pool.MaxSurplusPercent == 0 {
		cfg.Pool.MaxSurplusPercent = 50
	}
	if cfg.Pool.MaxServicePercent == 0 {
		cfg.Pool.MaxServicePercent = 30
	}
	if cfg.Fare.ExpectedFare == 0 {
		cfg.Fare.ExpectedFare = 2.50
	}
	if cfg.Fare.SeatCapacity == 0 {
		cfg.Fare.SeatCapacity = 16
	}
	if cfg.Settlement.Cron == "" {
		cfg.Settlement.Cron = "0 2 * * *" // nightly at 02:00
	}

	return cfg, nil
}

// Validate checks the loaded values are usable.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}
	sum := c.Pool.ReservesPercent + c.Pool.BusinessPercent + c.Pool.DividendPercent
	if sum > 100 {
		return fmt.Errorf("pool split percentages must sum to at most 100, got %.2f", sum)
	}
	for _, pct := range []float64{c.Pool.ReservesPercent, c.Pool.BusinessPercent, c.Pool.DividendPercent,
		c.Pool.MaxSurplusPercent, c.Pool.MaxServicePercent} {
		if pct < 0 || pct > 100 {
			return fmt.Errorf("percentages must be between 0 and 100")
		}
	}
	if c.Fare.SeatCapacity < 0 {
		return fmt.Errorf("fare.seat_capacity must not be negative")
	}
	return nil
}
