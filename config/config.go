// Package config loads process configuration from EVENTPULSE_* environment
// variables.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/sirupsen/logrus"
)

// Config selects and tunes the event persistor.
type Config struct {
	// Driver is one of memory, sqlite, postgres, mysql, disk, kurrentdb or nats.
	Driver       string        `env:"EVENTPULSE_DB_DRIVER"     envDefault:"sqlite"`
	DSN          string        `env:"EVENTPULSE_DB_DSN"        envDefault:"file:eventpulse.db?_pragma=busy_timeout(5000)"`
	EventsTable  string        `env:"EVENTPULSE_EVENTS_TABLE"  envDefault:"Events"`
	FlushTimeout time.Duration `env:"EVENTPULSE_FLUSH_TIMEOUT" envDefault:"3s"`
	LogLevel     string        `env:"EVENTPULSE_LOG_LEVEL"     envDefault:"info"`
	KurrentDBURL string        `env:"EVENTPULSE_KURRENTDB_URL" envDefault:"kurrentdb://localhost:2113?tls=false"`
	NATSURL      string        `env:"EVENTPULSE_NATS_URL"      envDefault:"nats://127.0.0.1:4222"`
	DataDir      string        `env:"EVENTPULSE_DATA_DIR"      envDefault:"./data"`

	// OTLPEndpoint enables span export when set, e.g. http://localhost:4318.
	OTLPEndpoint string `env:"EVENTPULSE_OTEL_ENDPOINT"`
	// MetricsAddr enables the Prometheus /metrics listener when set.
	MetricsAddr string `env:"EVENTPULSE_METRICS_ADDR"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Load returns the configuration with defaults for unset variables.
func Load() (Config, error) {
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the driver and log level.
func (c Config) Validate() error {
	switch c.Driver {
	case "memory", "sqlite", "postgres", "mysql", "disk", "kurrentdb", "nats":
	default:
		return fmt.Errorf("unsupported driver %q", c.Driver)
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	return nil
}

// Logger returns a text logger writing to stderr at the configured level.
func (c Config) Logger() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if level, err := logrus.ParseLevel(c.LogLevel); err == nil {
		logger.SetLevel(level)
	}
	return logrus.NewEntry(logger).WithField("driver", c.Driver)
}
