// Package config loads the contact server configuration from YAML with
// environment overrides.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/ais-contact-manager/core"
	"github.com/signalsfoundry/ais-contact-manager/internal/logging"
	"github.com/signalsfoundry/ais-contact-manager/internal/observability"
)

// Persistence drivers.
const (
	DriverNone     = "none"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config is the full server configuration.
type Config struct {
	Server      ServerConfig                `yaml:"server"`
	Logging     LoggingConfig               `yaml:"logging"`
	Tracing     observability.TracingConfig `yaml:"tracing"`
	Persistence PersistenceConfig           `yaml:"persistence"`
	Stream      StreamConfig                `yaml:"stream"`
	Prediction  PredictionConfig            `yaml:"prediction"`
}

// ServerConfig holds listener addresses. An empty HTTP or metrics address
// disables that listener.
type ServerConfig struct {
	GRPCAddr        string        `yaml:"grpc_addr" validate:"required"`
	HTTPAddr        string        `yaml:"http_addr"`
	MetricsAddr     string        `yaml:"metrics_addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gte=0"`
}

// LoggingConfig mirrors logging.Config.
type LoggingConfig struct {
	Level     string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	Format    string `yaml:"format" validate:"omitempty,oneof=json text"`
	AddSource bool   `yaml:"add_source"`
}

// PersistenceConfig selects where contact histories are saved between
// runs.
type PersistenceConfig struct {
	Driver        string        `yaml:"driver" validate:"oneof=none sqlite postgres"`
	DSN           string        `yaml:"dsn" validate:"required_unless=Driver none"`
	SaveInterval  time.Duration `yaml:"save_interval" validate:"gte=0"`
	ReplaceOnLoad bool          `yaml:"replace_on_load"`
}

// StreamConfig wires the redis fan-out and ingest channels. An empty
// RedisAddr keeps streaming local only.
type StreamConfig struct {
	RedisAddr        string `yaml:"redis_addr"`
	ContactsChannel  string `yaml:"contacts_channel" validate:"required"`
	ReportsChannel   string `yaml:"reports_channel" validate:"required"`
	SubscriberBuffer int    `yaml:"subscriber_buffer" validate:"gte=1"`
}

// PredictionConfig picks the motion model used for predicted positions.
type PredictionConfig struct {
	Model           string `yaml:"model" validate:"oneof=great_circle static"`
	DefaultOffsetMs int64  `yaml:"default_offset_ms"`
}

// Default returns a configuration that runs without a file: in-memory
// only, no redis, tracing off.
func Default() Config {
	return Config{
		Server: ServerConfig{
			GRPCAddr:        ":50051",
			HTTPAddr:        ":8080",
			MetricsAddr:     ":9090",
			ShutdownTimeout: 5 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Tracing: observability.TracingConfig{
			ServiceName: observability.DefaultServiceName,
			Exporter:    "stdout",
			SampleRatio: 1,
		},
		Persistence: PersistenceConfig{
			Driver:       DriverNone,
			SaveInterval: time.Minute,
		},
		Stream: StreamConfig{
			ContactsChannel:  "ais:contacts",
			ReportsChannel:   "ais:reports",
			SubscriberBuffer: 64,
		},
		Prediction: PredictionConfig{
			Model:           core.MotionGreatCircle,
			DefaultOffsetMs: 60_000,
		},
	}
}

// Load reads path over Default, applies environment overrides and
// validates the result. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg = ApplyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv overlays AIS_* and LOG_* environment variables onto cfg.
func ApplyEnv(cfg Config) Config {
	overrides := []struct {
		env string
		dst *string
	}{
		{"AIS_GRPC_ADDR", &cfg.Server.GRPCAddr},
		{"AIS_HTTP_ADDR", &cfg.Server.HTTPAddr},
		{"AIS_METRICS_ADDR", &cfg.Server.MetricsAddr},
		{"AIS_PERSIST_DRIVER", &cfg.Persistence.Driver},
		{"AIS_PERSIST_DSN", &cfg.Persistence.DSN},
		{"AIS_REDIS_ADDR", &cfg.Stream.RedisAddr},
		{"AIS_MOTION_MODEL", &cfg.Prediction.Model},
		{"LOG_LEVEL", &cfg.Logging.Level},
		{"LOG_FORMAT", &cfg.Logging.Format},
	}
	for _, o := range overrides {
		if v, ok := os.LookupEnv(o.env); ok {
			*o.dst = v
		}
	}
	cfg.Tracing = observability.ApplyTracingEnv(cfg.Tracing)
	return cfg
}

// Validate checks struct constraints.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// LoggerConfig converts the logging section for logging.New.
func (c Config) LoggerConfig() logging.Config {
	return logging.Config{
		Level:     c.Logging.Level,
		Format:    c.Logging.Format,
		AddSource: c.Logging.AddSource,
	}
}
