package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/mcdev12/watchsync/go/internal/broadcast"
	"github.com/mcdev12/watchsync/go/internal/dbconfig"
	"github.com/mcdev12/watchsync/go/internal/gateway"
	"github.com/mcdev12/watchsync/go/internal/player/sim"
	"github.com/mcdev12/watchsync/go/internal/reconciler"
	"github.com/mcdev12/watchsync/go/internal/session"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Bus backends.
const (
	BusMemory    = "memory"
	BusJetStream = "jetstream"
)

// Store backends.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

// Config is the full configuration shared by the watchsync binaries.
type Config struct {
	LogLevel string `yaml:"log_level"`

	Server  gateway.ServerConfig `yaml:"server"`
	Gateway gateway.Config       `yaml:"gateway"`

	Bus struct {
		Backend string                    `yaml:"backend"`
		NATS    broadcast.JetStreamConfig `yaml:"nats"`
	} `yaml:"bus"`

	Store struct {
		Backend   string          `yaml:"backend"`
		Retention time.Duration   `yaml:"retention"` // saved sessions older than this are pruned; 0 keeps them
		Database  dbconfig.Config `yaml:"database"`
	} `yaml:"store"`

	Session    session.Config    `yaml:"session"`
	Reconciler reconciler.Config `yaml:"reconciler"`
	Player     sim.Config        `yaml:"player"`
}

// Default returns the configuration used when no file or env overrides it.
func Default() *Config {
	c := &Config{
		LogLevel:   "info",
		Server:     gateway.DefaultServerConfig(),
		Gateway:    gateway.DefaultConfig(),
		Session:    session.DefaultConfig(),
		Reconciler: reconciler.DefaultConfig(),
		Player:     sim.DefaultConfig(),
	}
	c.Bus.Backend = BusMemory
	c.Bus.NATS = broadcast.DefaultJetStreamConfig()
	c.Store.Backend = StoreMemory
	c.Store.Retention = 30 * 24 * time.Hour
	return c
}

// Load reads the YAML file at path over the defaults and then applies
// environment overrides. An empty path skips the file.
func Load(path string) (*Config, error) {
	c := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, c); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}
	c.applyEnv()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) applyEnv() {
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)

	if port := os.Getenv("GATEWAY_PORT"); port != "" {
		c.Server.Addr = ":" + port
	}

	c.Bus.Backend = getEnv("BUS_BACKEND", c.Bus.Backend)
	c.Bus.NATS.URL = getEnv("NATS_URL", c.Bus.NATS.URL)
	c.Bus.NATS.StreamName = getEnv("NATS_STREAM", c.Bus.NATS.StreamName)
	c.Bus.NATS.Replicas = getEnvAsInt("NATS_REPLICAS", c.Bus.NATS.Replicas)
	c.Bus.NATS.MaxAge = getEnvAsDuration("NATS_MAX_AGE", c.Bus.NATS.MaxAge)

	c.Store.Backend = getEnv("STORE_BACKEND", c.Store.Backend)
	c.Store.Retention = getEnvAsDuration("STORE_RETENTION", c.Store.Retention)
	c.Store.Database = c.Store.Database.WithEnv()

	c.Session.CatchUpTimeout = getEnvAsDuration("SESSION_CATCH_UP_TIMEOUT", c.Session.CatchUpTimeout)

	c.Reconciler.TickInterval = getEnvAsDuration("RECONCILER_TICK_INTERVAL", c.Reconciler.TickInterval)
	c.Reconciler.DriftTolerance = getEnvAsDuration("RECONCILER_DRIFT_TOLERANCE", c.Reconciler.DriftTolerance)
	c.Reconciler.SpuriousEndWindow = getEnvAsDuration("RECONCILER_SPURIOUS_END_WINDOW", c.Reconciler.SpuriousEndWindow)
}

// Validate rejects unknown backends and unusable timings.
func (c *Config) Validate() error {
	var errs []error
	switch c.Bus.Backend {
	case BusMemory, BusJetStream:
	default:
		errs = append(errs, fmt.Errorf("unknown bus backend %q", c.Bus.Backend))
	}
	switch c.Store.Backend {
	case StoreMemory, StorePostgres:
	default:
		errs = append(errs, fmt.Errorf("unknown store backend %q", c.Store.Backend))
	}
	if c.Reconciler.TickInterval <= 0 {
		errs = append(errs, errors.New("reconciler tick_interval must be positive"))
	}
	if c.Reconciler.DriftTolerance <= 0 {
		errs = append(errs, errors.New("reconciler drift_tolerance must be positive"))
	}
	if c.Session.CatchUpTimeout <= 0 {
		errs = append(errs, errors.New("session catch_up_timeout must be positive"))
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	return errors.Join(errs...)
}

// Level returns the configured zerolog level.
func (c *Config) Level() zerolog.Level {
	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		return zerolog.InfoLevel
	}
	return level
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
