// Package config loads the paylink server configuration from an optional
// YAML file, a .env file and PAYLINK_* environment variables, in that order
// of increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/lojacheckout/paylink"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "PAYLINK_"

// ErrMissingSupportToken is returned when support tools are enabled without a token
var ErrMissingSupportToken = errors.New("config: support.token is required when support is enabled")

// Config is the complete process configuration
type Config struct {
	Server    ServerConfig          `yaml:"server"`
	Gateway   paylink.GatewayConfig `yaml:"gateway"`
	Database  DatabaseConfig        `yaml:"database"`
	Redis     RedisConfig           `yaml:"redis"`
	Kafka     KafkaConfig           `yaml:"kafka"`
	Telemetry TelemetryConfig       `yaml:"telemetry"`
	Support   SupportConfig         `yaml:"support"`
	Log       LogConfig             `yaml:"log"`
}

// ServerConfig configures the HTTP listener
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	TrustProxy      bool          `yaml:"trust_proxy"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig selects the order store. An empty driver uses the in-memory store.
type DatabaseConfig struct {
	Driver  string `yaml:"driver"`
	DSN     string `yaml:"dsn"`
	Migrate bool   `yaml:"migrate"`
}

// RedisConfig configures the shared replay guard. An empty address keeps the
// guard in process.
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// KafkaConfig configures order.paid events. No brokers means events are logged.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// TelemetryConfig configures the OTLP metrics exporter
type TelemetryConfig struct {
	Endpoint    string        `yaml:"endpoint"`
	Insecure    bool          `yaml:"insecure"`
	ServiceName string        `yaml:"service_name"`
	Interval    time.Duration `yaml:"interval"`
}

// SupportConfig configures the MCP support tools endpoint
type SupportConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
	// Token is the bearer token support staff present. Required when enabled.
	Token string `yaml:"token"`
}

// LogConfig configures the process logger
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when nothing is set
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: 15 * time.Second,
		},
		Kafka: KafkaConfig{
			Topic: "paylink.orders",
		},
		Telemetry: TelemetryConfig{
			ServiceName: "paylink",
			Interval:    15 * time.Second,
		},
		Support: SupportConfig{
			Path: "/support/mcp",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load builds the configuration. path may be empty; a missing .env file is
// not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	if err := applyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}

	cfg.Gateway = cfg.Gateway.WithDefaults()
	if err := cfg.Gateway.Validate(); err != nil {
		return nil, err
	}
	if cfg.Support.Enabled && strings.TrimSpace(cfg.Support.Token) == "" {
		return nil, ErrMissingSupportToken
	}

	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// applyEnv overrides cfg with PAYLINK_* variables
func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	var errs []error

	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = strings.TrimSpace(v)
		}
	}
	boolean := func(name string, dst *bool) {
		if v, ok := lookup(EnvPrefix + name); ok {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = b
		}
	}
	integer := func(name string, dst *int) {
		if v, ok := lookup(EnvPrefix + name); ok {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = n
		}
	}
	duration := func(name string, dst *time.Duration) {
		if v, ok := lookup(EnvPrefix + name); ok {
			d, err := time.ParseDuration(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = d
		}
	}

	g := &cfg.Gateway
	boolean("ENABLED", &g.Enabled)
	str("TITLE", &g.Title)
	str("DESCRIPTION", &g.Description)
	str("HANDLE", &g.Handle)
	boolean("DEBUG", &g.Debug)
	boolean("SEND_CUSTOMER", &g.SendCustomer)
	boolean("SEND_ADDRESS", &g.SendAddress)
	str("WEBHOOK_SECRET", &g.WebhookSecret)
	str("LINKS_URL", &g.LinksURL)
	str("PAYMENT_CHECK_URL", &g.PaymentCheckURL)
	str("REDIRECT_URL", &g.RedirectURL)
	str("WEBHOOK_URL", &g.WebhookURL)
	str("DEFAULT_REGION", &g.DefaultRegion)
	duration("CHECKOUT_TIMEOUT", &g.CheckoutTimeout)
	integer("CHECKOUT_ATTEMPTS", &g.CheckoutAttempts)
	duration("VERIFY_TIMEOUT", &g.VerifyTimeout)
	integer("RATE_LIMIT", &g.RateLimit)

	str("ADDR", &cfg.Server.Addr)
	boolean("TRUST_PROXY", &cfg.Server.TrustProxy)

	str("DB_DRIVER", &cfg.Database.Driver)
	str("DB_DSN", &cfg.Database.DSN)
	boolean("DB_MIGRATE", &cfg.Database.Migrate)

	str("REDIS_ADDR", &cfg.Redis.Addr)
	str("REDIS_PASSWORD", &cfg.Redis.Password)
	integer("REDIS_DB", &cfg.Redis.DB)

	if v, ok := lookup(EnvPrefix + "KAFKA_BROKERS"); ok {
		cfg.Kafka.Brokers = splitList(v)
	}
	str("KAFKA_TOPIC", &cfg.Kafka.Topic)

	str("OTLP_ENDPOINT", &cfg.Telemetry.Endpoint)
	boolean("OTLP_INSECURE", &cfg.Telemetry.Insecure)

	boolean("SUPPORT_ENABLED", &cfg.Support.Enabled)
	str("SUPPORT_TOKEN", &cfg.Support.Token)

	str("LOG_LEVEL", &cfg.Log.Level)
	str("LOG_FORMAT", &cfg.Log.Format)

	return errors.Join(errs...)
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// NewLogger builds the process logger. Gateway debug mode forces the debug level.
func (c *Config) NewLogger() *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(c.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if c.Gateway.Debug {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.Log.Format, "text") {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}
