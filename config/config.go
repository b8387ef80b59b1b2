// Package config loads the loyalty server configuration from a YAML file,
// environment variables and built-in defaults, in increasing precedence
// order of defaults < file < environment. Command-line flags are applied
// by cmd/server on top.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/warp/loyalty-engine/loyalty"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "LOYALTY_"

// Config is the full server configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Loyalty  LoyaltyConfig  `yaml:"loyalty"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
}

type DatabaseConfig struct {
	// Path is a SQLite file path or ":memory:".
	Path string `yaml:"path"`
}

// LoyaltyConfig holds engine defaults. Money values are strings so that
// they parse as exact decimals.
type LoyaltyConfig struct {
	DefaultAmountUnit    string        `yaml:"default_amount_unit"`
	DefaultPointsPerUnit string        `yaml:"default_points_per_unit"`
	ClaimTTL             time.Duration `yaml:"claim_ttl"`
}

type LoggingConfig struct {
	Level   string `yaml:"level"`
	Service string `yaml:"service"`
	Env     string `yaml:"env"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			AllowedOrigins:  []string{"*"},
		},
		Database: DatabaseConfig{Path: "loyalty.db"},
		Loyalty: LoyaltyConfig{
			DefaultAmountUnit:    loyalty.DefaultAmountUnit.String(),
			DefaultPointsPerUnit: loyalty.DefaultPointsPerUnit.String(),
			ClaimTTL:             loyalty.DefaultClaimTTL,
		},
		Logging: LoggingConfig{
			Level:   "info",
			Service: "loyalty-engine",
			Env:     "development",
		},
		Metrics: MetricsConfig{Enabled: true, Path: "/metrics"},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing config %s: %w", path, err)
			}
		case os.IsNotExist(err):
		default:
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	get := func(name string) (string, bool) {
		v, ok := lookup(EnvPrefix + name)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}

	if v, ok := get("PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sPORT: %w", EnvPrefix, err)
		}
		c.Server.Port = port
	}
	if v, ok := get("ALLOWED_ORIGINS"); ok {
		var origins []string
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				origins = append(origins, o)
			}
		}
		c.Server.AllowedOrigins = origins
	}
	if v, ok := get("DB_PATH"); ok {
		c.Database.Path = v
	}
	if v, ok := get("DEFAULT_AMOUNT_UNIT"); ok {
		c.Loyalty.DefaultAmountUnit = v
	}
	if v, ok := get("DEFAULT_POINTS_PER_UNIT"); ok {
		c.Loyalty.DefaultPointsPerUnit = v
	}
	if v, ok := get("CLAIM_TTL"); ok {
		ttl, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%sCLAIM_TTL: %w", EnvPrefix, err)
		}
		c.Loyalty.ClaimTTL = ttl
	}
	if v, ok := get("LOG_LEVEL"); ok {
		c.Logging.Level = v
	}
	if v, ok := get("ENV"); ok {
		c.Logging.Env = v
	}
	if v, ok := get("METRICS_ENABLED"); ok {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%sMETRICS_ENABLED: %w", EnvPrefix, err)
		}
		c.Metrics.Enabled = enabled
	}
	return nil
}

// Validate rejects configurations the server cannot start with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if strings.TrimSpace(c.Database.Path) == "" {
		return fmt.Errorf("database.path is required")
	}
	if _, err := c.DefaultRatio(); err != nil {
		return err
	}
	if c.Loyalty.ClaimTTL <= 0 {
		return fmt.Errorf("loyalty.claim_ttl must be positive")
	}
	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with /")
	}
	return nil
}

// DefaultRatio parses the ratio applied to programs created lazily.
func (c *Config) DefaultRatio() (loyalty.Ratio, error) {
	unit, err := decimal.NewFromString(c.Loyalty.DefaultAmountUnit)
	if err != nil {
		return loyalty.Ratio{}, fmt.Errorf("loyalty.default_amount_unit: %w", err)
	}
	ppu, err := decimal.NewFromString(c.Loyalty.DefaultPointsPerUnit)
	if err != nil {
		return loyalty.Ratio{}, fmt.Errorf("loyalty.default_points_per_unit: %w", err)
	}
	if !unit.IsPositive() || !ppu.IsPositive() {
		return loyalty.Ratio{}, fmt.Errorf("loyalty default ratio must be positive, got %s -> %s", unit, ppu)
	}
	return loyalty.Ratio{AmountUnit: unit, PointsPerUnit: ppu}, nil
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}
