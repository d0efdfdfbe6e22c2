// Package config handles configuration management with validation
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	apperrors "funding_harvester/pkg/errors"

	"gopkg.in/yaml.v3"
)

// Default endpoints of the venue. Overridable per environment.
const (
	DefaultSpotBaseURL = "https://sapi.asterdex.com"
	DefaultPerpBaseURL = "https://fapi.asterdex.com"
)

// Config represents the complete configuration structure
type Config struct {
	Venue       VenueConfig       `yaml:"venue"`
	Strategy    StrategyConfig    `yaml:"strategy"`
	Scheduler   SchedulerConfig   `yaml:"scheduler"`
	System      SystemConfig      `yaml:"system"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	Concurrency ConcurrencyConfig `yaml:"concurrency"`
	HTTP        HTTPConfig        `yaml:"http"`
}

// VenueConfig carries the five venue credentials and base URL overrides.
// The perp surface signs with the Ethereum key pair (user, signer,
// private key); the spot surface signs with the v1 HMAC key pair.
type VenueConfig struct {
	Name          string `yaml:"name"`
	APIUser       Secret `yaml:"api_user"`
	APISigner     Secret `yaml:"api_signer"`
	APIPrivateKey Secret `yaml:"api_private_key"`
	APIV1Public   Secret `yaml:"apiv1_public"`
	APIV1Private  Secret `yaml:"apiv1_private"`
	SpotBaseURL   string `yaml:"spot_base_url"`
	PerpBaseURL   string `yaml:"perp_base_url"`
}

// StrategyConfig contains position sizing and opportunity screening
// parameters.
type StrategyConfig struct {
	DefaultCapitalUSD float64 `yaml:"default_capital_usd"`
	MinLiquidityUSD   float64 `yaml:"min_liquidity_usd"`
	MinViableAPRPct   float64 `yaml:"min_viable_apr_pct"`
	MinFundingHistory int     `yaml:"min_funding_history"`
	MaxRateCoV        float64 `yaml:"max_rate_cov"`
}

// SchedulerConfig contains refresh loop settings.
type SchedulerConfig struct {
	RefreshIntervalSeconds int `yaml:"refresh_interval_seconds"`
}

// RefreshInterval returns the refresh cadence as a duration.
func (s SchedulerConfig) RefreshInterval() time.Duration {
	return time.Duration(s.RefreshIntervalSeconds) * time.Second
}

// SystemConfig contains system settings
type SystemConfig struct {
	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file"`
}

// TelemetryConfig contains telemetry settings
type TelemetryConfig struct {
	EnableMetrics bool `yaml:"enable_metrics"`
	MetricsPort   int  `yaml:"metrics_port"`
}

// ConcurrencyConfig contains worker pool settings for request fan-out.
type ConcurrencyConfig struct {
	FanoutPoolSize   int `yaml:"fanout_pool_size"`
	FanoutPoolBuffer int `yaml:"fanout_pool_buffer"`
}

// HTTPConfig contains venue client settings.
type HTTPConfig struct {
	TimeoutSeconds    int     `yaml:"timeout_seconds"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

// Timeout returns the per-request timeout as a duration.
func (h HTTPConfig) Timeout() time.Duration {
	return time.Duration(h.TimeoutSeconds) * time.Second
}

// LoadConfig loads configuration from a YAML file with environment variable
// expansion.
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	var config Config
	if err := yaml.Unmarshal([]byte(expandedData), &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// applyDefaults fills unset fields with operational defaults.
func (c *Config) applyDefaults() {
	if c.Venue.Name == "" {
		c.Venue.Name = "aster"
	}
	if c.Venue.SpotBaseURL == "" {
		c.Venue.SpotBaseURL = DefaultSpotBaseURL
	}
	if c.Venue.PerpBaseURL == "" {
		c.Venue.PerpBaseURL = DefaultPerpBaseURL
	}
	if c.Strategy.DefaultCapitalUSD == 0 {
		c.Strategy.DefaultCapitalUSD = 100
	}
	if c.Strategy.MinLiquidityUSD == 0 {
		c.Strategy.MinLiquidityUSD = 100000
	}
	if c.Strategy.MinViableAPRPct == 0 {
		c.Strategy.MinViableAPRPct = 15
	}
	if c.Strategy.MinFundingHistory == 0 {
		c.Strategy.MinFundingHistory = 5
	}
	if c.Strategy.MaxRateCoV == 0 {
		c.Strategy.MaxRateCoV = 0.5
	}
	if c.Scheduler.RefreshIntervalSeconds == 0 {
		c.Scheduler.RefreshIntervalSeconds = 30
	}
	if c.System.LogLevel == "" {
		c.System.LogLevel = "INFO"
	}
	if c.Telemetry.MetricsPort == 0 {
		c.Telemetry.MetricsPort = 9090
	}
	if c.Concurrency.FanoutPoolSize == 0 {
		c.Concurrency.FanoutPoolSize = 16
	}
	if c.Concurrency.FanoutPoolBuffer == 0 {
		c.Concurrency.FanoutPoolBuffer = 64
	}
	if c.HTTP.TimeoutSeconds == 0 {
		c.HTTP.TimeoutSeconds = 10
	}
	if c.HTTP.RequestsPerSecond == 0 {
		c.HTTP.RequestsPerSecond = 8
	}
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	var errors []string

	if err := c.validateVenueConfig(); err != nil {
		errors = append(errors, err.Error())
	}
	if err := c.validateStrategyConfig(); err != nil {
		errors = append(errors, err.Error())
	}
	if err := c.validateSystemConfig(); err != nil {
		errors = append(errors, err.Error())
	}
	if err := c.validateSchedulerConfig(); err != nil {
		errors = append(errors, err.Error())
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n%s", strings.Join(errors, "\n"))
	}

	return nil
}

func (c *Config) validateVenueConfig() error {
	required := []struct {
		field string
		value Secret
	}{
		{"venue.api_user", c.Venue.APIUser},
		{"venue.api_signer", c.Venue.APISigner},
		{"venue.api_private_key", c.Venue.APIPrivateKey},
		{"venue.apiv1_public", c.Venue.APIV1Public},
		{"venue.apiv1_private", c.Venue.APIV1Private},
	}

	for _, cred := range required {
		if cred.value == "" {
			return apperrors.ValidationError{
				Field:   cred.field,
				Message: "credential is required",
			}
		}
	}

	for _, addr := range []struct {
		field string
		value Secret
	}{
		{"venue.api_user", c.Venue.APIUser},
		{"venue.api_signer", c.Venue.APISigner},
	} {
		if !strings.HasPrefix(string(addr.value), "0x") {
			return apperrors.ValidationError{
				Field:   addr.field,
				Message: "must be a 0x-prefixed Ethereum address",
			}
		}
	}

	return nil
}

func (c *Config) validateStrategyConfig() error {
	if c.Strategy.DefaultCapitalUSD <= 0 {
		return apperrors.ValidationError{
			Field:   "strategy.default_capital_usd",
			Value:   c.Strategy.DefaultCapitalUSD,
			Message: "must be positive",
		}
	}
	if c.Strategy.MaxRateCoV <= 0 {
		return apperrors.ValidationError{
			Field:   "strategy.max_rate_cov",
			Value:   c.Strategy.MaxRateCoV,
			Message: "must be positive",
		}
	}
	return nil
}

func (c *Config) validateSystemConfig() error {
	validLevels := []string{"DEBUG", "INFO", "WARN", "ERROR", "FATAL"}
	if !contains(validLevels, strings.ToUpper(c.System.LogLevel)) {
		return apperrors.ValidationError{
			Field:   "system.log_level",
			Value:   c.System.LogLevel,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(validLevels, ", ")),
		}
	}
	return nil
}

func (c *Config) validateSchedulerConfig() error {
	if c.Scheduler.RefreshIntervalSeconds < 5 {
		return apperrors.ValidationError{
			Field:   "scheduler.refresh_interval_seconds",
			Value:   c.Scheduler.RefreshIntervalSeconds,
			Message: "must be at least 5 seconds",
		}
	}
	return nil
}

// String returns the configuration as YAML with credentials redacted by the
// Secret marshaler.
func (c *Config) String() string {
	data, _ := yaml.Marshal(c)
	return string(data)
}

// Helper functions

func expandEnvVars(s string) string {
	return os.Expand(s, os.Getenv)
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

// DefaultConfig returns a default configuration for testing
func DefaultConfig() *Config {
	cfg := &Config{
		Venue: VenueConfig{
			Name:      "aster",
			APIUser:   "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266",
			APISigner: "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266",
			// Well-known development key, never funded.
			APIPrivateKey: "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80",
			APIV1Public:   "test_public_key",
			APIV1Private:  "test_private_key",
		},
		System: SystemConfig{
			LogLevel: "INFO",
		},
	}
	cfg.applyDefaults()
	return cfg
}
