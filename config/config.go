// Package config manages application configuration loading and validation.
package config

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment identifies the runtime environment where the service operates.
type Environment string

const (
	// EnvDev marks the development environment.
	EnvDev Environment = "dev"
	// EnvStaging marks the staging environment.
	EnvStaging Environment = "staging"
	// EnvProd marks the production environment.
	EnvProd Environment = "prod"
)

// DatabaseConfig carries the Postgres connection settings for the ledger.
type DatabaseConfig struct {
	DSN              string `yaml:"dsn"`
	MaxConns         int32  `yaml:"maxConns"`
	MigrateOnStart   bool   `yaml:"migrateOnStart"`
	StatementTimeout string `yaml:"statementTimeout"`
}

// ServerConfig configures the HTTP API surface.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	MaxBodyBytes    int64         `yaml:"maxBodyBytes"`
}

// SettlementConfig defines trade settlement parameters.
type SettlementConfig struct {
	FeeBps        int64   `yaml:"feeBps"`
	Tolerance     string  `yaml:"tolerance"`
	OrderThrottle float64 `yaml:"orderThrottle"`
	OrderBurst    int     `yaml:"orderBurst"`
}

// PricingConfig configures the price oracle and the simulated ticker.
type PricingConfig struct {
	Symbols      []string      `yaml:"symbols"`
	TickInterval time.Duration `yaml:"tickInterval"`
	FeedURL      string        `yaml:"feedURL"`
	FeedTimeout  time.Duration `yaml:"feedTimeout"`
	FeedInterval time.Duration `yaml:"feedInterval"`
}

// PaymentsConfig configures webhook verification for the payment provider.
type PaymentsConfig struct {
	WebhookSecret string        `yaml:"webhookSecret"`
	SignatureSkew time.Duration `yaml:"signatureSkew"`
}

// TelemetryConfig configures OTLP exporters (metrics only).
type TelemetryConfig struct {
	OTLPEndpoint  string `yaml:"otlpEndpoint"`
	ServiceName   string `yaml:"serviceName"`
	OTLPInsecure  bool   `yaml:"otlpInsecure"`
	EnableMetrics bool   `yaml:"enableMetrics"`
}

// Settings is the unified application configuration sourced from YAML.
type Settings struct {
	Environment Environment      `yaml:"environment"`
	Database    DatabaseConfig   `yaml:"database"`
	Server      ServerConfig     `yaml:"server"`
	Settlement  SettlementConfig `yaml:"settlement"`
	Pricing     PricingConfig    `yaml:"pricing"`
	Payments    PaymentsConfig   `yaml:"payments"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
}

// Default returns the baseline configuration used when no YAML file is supplied.
func Default() Settings {
	return Settings{
		Environment: EnvDev,
		Database: DatabaseConfig{
			DSN:              "",
			MaxConns:         8,
			MigrateOnStart:   true,
			StatementTimeout: "5s",
		},
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			MaxBodyBytes:    1 << 20,
		},
		Settlement: SettlementConfig{
			FeeBps:        10,
			Tolerance:     "0.000000000001",
			OrderThrottle: 10,
			OrderBurst:    5,
		},
		Pricing: PricingConfig{
			Symbols:      []string{"BTC", "ETH", "BNB", "LTC", "XRP"},
			TickInterval: 1250 * time.Millisecond,
			FeedURL:      "",
			FeedTimeout:  5 * time.Second,
			FeedInterval: 30 * time.Second,
		},
		Payments: PaymentsConfig{
			WebhookSecret: "",
			SignatureSkew: 5 * time.Minute,
		},
		Telemetry: TelemetryConfig{
			OTLPEndpoint:  "localhost:4318",
			ServiceName:   "cryptox",
			OTLPInsecure:  true,
			EnableMetrics: true,
		},
	}
}

// Load reads Settings from the provided YAML file, layering defaults underneath
// and environment variable overrides on top.
func Load(ctx context.Context, configPath string) (Settings, error) {
	_ = ctx

	cfg := Default()

	if strings.TrimSpace(configPath) != "" {
		reader, closer, err := openConfigFile(configPath)
		if err != nil {
			return Settings{}, err
		}
		defer closer()

		raw, err := io.ReadAll(reader)
		if err != nil {
			return Settings{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Settings{}, fmt.Errorf("unmarshal config: %w", err)
		}
	}

	cfg.applyEnv()
	cfg.normalise()

	if err := cfg.Validate(); err != nil {
		return Settings{}, err
	}
	return cfg, nil
}

// applyEnv layers environment variable overrides on top of file values.
// Secrets are expected to arrive this way rather than in the YAML tree.
func (c *Settings) applyEnv() {
	if v := strings.TrimSpace(os.Getenv("CRYPTOX_ENV")); v != "" {
		c.Environment = Environment(strings.ToLower(v))
	}
	if v := strings.TrimSpace(os.Getenv("CRYPTOX_DATABASE_URL")); v != "" {
		c.Database.DSN = v
	}
	if v := strings.TrimSpace(os.Getenv("CRYPTOX_HTTP_ADDR")); v != "" {
		c.Server.Addr = v
	}
	if v := strings.TrimSpace(os.Getenv("CRYPTOX_WEBHOOK_SECRET")); v != "" {
		c.Payments.WebhookSecret = v
	}
	if v := strings.TrimSpace(os.Getenv("CRYPTOX_PRICE_FEED_URL")); v != "" {
		c.Pricing.FeedURL = v
	}
	if v := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")); v != "" {
		c.Telemetry.OTLPEndpoint = v
	}
}

func (c *Settings) normalise() {
	c.Environment = Environment(strings.ToLower(strings.TrimSpace(string(c.Environment))))
	c.Database.DSN = strings.TrimSpace(c.Database.DSN)
	c.Server.Addr = strings.TrimSpace(c.Server.Addr)
	c.Settlement.Tolerance = strings.TrimSpace(c.Settlement.Tolerance)
	c.Telemetry.OTLPEndpoint = strings.TrimSpace(c.Telemetry.OTLPEndpoint)
	c.Telemetry.ServiceName = strings.TrimSpace(c.Telemetry.ServiceName)

	symbols := make([]string, 0, len(c.Pricing.Symbols))
	for _, sym := range c.Pricing.Symbols {
		trimmed := strings.ToUpper(strings.TrimSpace(sym))
		if trimmed != "" {
			symbols = append(symbols, trimmed)
		}
	}
	c.Pricing.Symbols = symbols

	if c.Settlement.OrderBurst <= 0 {
		c.Settlement.OrderBurst = 1
	}
	if c.Server.MaxBodyBytes <= 0 {
		c.Server.MaxBodyBytes = 1 << 20
	}
}

// Validate performs semantic validation on the configuration.
func (c Settings) Validate() error {
	switch c.Environment {
	case EnvDev, EnvStaging, EnvProd:
	default:
		return fmt.Errorf("environment must be one of dev, staging, prod")
	}

	if c.Database.DSN == "" {
		return fmt.Errorf("database dsn required")
	}
	if c.Database.MaxConns <= 0 {
		return fmt.Errorf("database maxConns must be > 0")
	}

	if c.Server.Addr == "" {
		return fmt.Errorf("server addr required")
	}

	if c.Settlement.FeeBps < 0 {
		return fmt.Errorf("settlement feeBps must be >= 0")
	}
	if c.Settlement.Tolerance == "" {
		return fmt.Errorf("settlement tolerance required")
	}
	if c.Settlement.OrderThrottle <= 0 {
		return fmt.Errorf("settlement orderThrottle must be > 0")
	}

	if len(c.Pricing.Symbols) == 0 {
		return fmt.Errorf("pricing symbols required")
	}
	if c.Pricing.TickInterval <= 0 {
		return fmt.Errorf("pricing tickInterval must be > 0")
	}
	if c.Pricing.FeedURL != "" && c.Pricing.FeedInterval <= 0 {
		return fmt.Errorf("pricing feedInterval must be > 0 when feedURL set")
	}

	if c.Telemetry.ServiceName == "" {
		return fmt.Errorf("telemetry serviceName required")
	}

	return nil
}

func openConfigFile(path string) (io.Reader, func(), error) {
	candidate := strings.TrimSpace(path)
	candidate = filepath.Clean(candidate)

	file, err := os.Open(candidate) // #nosec G304 -- path is operator controlled.
	if err != nil {
		return nil, nil, fmt.Errorf("open app config: %w", err)
	}
	return file, func() { _ = file.Close() }, nil
}
