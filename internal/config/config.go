// Package config loads the admin host configuration from a YAML file with
// environment variable overrides.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Store drivers accepted in store.driver.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
	DriverMongo    = "mongo"
	DriverMemory   = "memory"
)

// Environment variables that override file values.
const (
	EnvDriver       = "WFSTORE_DRIVER"
	EnvDSN          = "WFSTORE_DSN"
	EnvHTTPAddr     = "WFSTORE_HTTP_ADDR"
	EnvRedisAddr    = "WFSTORE_REDIS_ADDR"
	EnvOTLPEndpoint = "WFSTORE_OTLP_ENDPOINT"
	EnvLogLevel     = "WFSTORE_LOG_LEVEL"
)

// DefaultYAML documents every key with its default value. It is printed by
// `wfstore-admin config`.
const DefaultYAML = `# wfstore admin host configuration
store:
  # sqlite | postgres | mysql | mongo | memory
  driver: sqlite
  dsn: file:wfstore.db
  # database name, mongo only
  database: wfstore
  auto_migrate: true

http:
  addr: ":8080"
  read_timeout: 10s
  shutdown_timeout: 15s

lock:
  # leave empty to use an in-process lock
  redis_addr: ""
  ttl: 30s

tracing:
  enabled: false
  otlp_endpoint: localhost:4317
  service_name: wfstore-admin

log:
  # debug | info | warn | error
  level: info
  # text | json
  format: text
`

type StoreConfig struct {
	Driver      string `yaml:"driver"`
	DSN         string `yaml:"dsn"`
	Database    string `yaml:"database,omitempty"`
	AutoMigrate bool   `yaml:"auto_migrate"`
}

type HTTPConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type LockConfig struct {
	RedisAddr string        `yaml:"redis_addr,omitempty"`
	TTL       time.Duration `yaml:"ttl"`
}

type TracingConfig struct {
	Enabled      bool   `yaml:"enabled"`
	OTLPEndpoint string `yaml:"otlp_endpoint,omitempty"`
	ServiceName  string `yaml:"service_name"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config models the admin host configuration file.
type Config struct {
	Store   StoreConfig   `yaml:"store"`
	HTTP    HTTPConfig    `yaml:"http"`
	Lock    LockConfig    `yaml:"lock"`
	Tracing TracingConfig `yaml:"tracing"`
	Log     LogConfig     `yaml:"log"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Store: StoreConfig{
			Driver:      DriverSQLite,
			DSN:         "file:wfstore.db",
			Database:    "wfstore",
			AutoMigrate: true,
		},
		HTTP: HTTPConfig{
			Addr:            ":8080",
			ReadTimeout:     10 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Lock: LockConfig{TTL: 30 * time.Second},
		Tracing: TracingConfig{
			OTLPEndpoint: "localhost:4317",
			ServiceName:  "wfstore-admin",
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads path (if non-empty) over the defaults, applies environment
// overrides and validates the result. A missing file is an error only when
// path was given explicitly.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found", path)
			}
			return nil, err
		}
		if err := Parse(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	cfg.ApplyEnv(os.LookupEnv)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML into cfg, keeping the values of keys not present.
func Parse(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	// An empty document leaves the defaults in place.
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// ApplyEnv overrides fields from environment variables looked up with
// lookup (os.LookupEnv in production).
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvDriver); ok && v != "" {
		c.Store.Driver = v
	}
	if v, ok := lookup(EnvDSN); ok && v != "" {
		c.Store.DSN = v
	}
	if v, ok := lookup(EnvHTTPAddr); ok && v != "" {
		c.HTTP.Addr = v
	}
	if v, ok := lookup(EnvRedisAddr); ok {
		c.Lock.RedisAddr = v
	}
	if v, ok := lookup(EnvOTLPEndpoint); ok && v != "" {
		c.Tracing.OTLPEndpoint = v
		c.Tracing.Enabled = true
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		c.Log.Level = v
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	c.Store.Driver = strings.ToLower(strings.TrimSpace(c.Store.Driver))
	switch c.Store.Driver {
	case DriverSQLite, DriverPostgres, DriverMySQL, DriverMongo:
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required for driver %q", c.Store.Driver)
		}
	case DriverMemory:
	default:
		return fmt.Errorf("store.driver: unsupported driver %q", c.Store.Driver)
	}

	if c.HTTP.Addr == "" {
		return errors.New("http.addr is required")
	}
	if c.HTTP.ReadTimeout < 0 || c.HTTP.ShutdownTimeout < 0 {
		return errors.New("http timeouts must not be negative")
	}
	if c.Lock.TTL <= 0 {
		return errors.New("lock.ttl must be > 0")
	}
	if c.Tracing.Enabled && c.Tracing.ServiceName == "" {
		return errors.New("tracing.service_name is required when tracing is enabled")
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		return err
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format: unsupported format %q", c.Log.Format)
	}
	return nil
}

// SlogLevel maps Level onto a slog.Level.
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		if n, nerr := strconv.Atoi(l.Level); nerr == nil {
			return slog.Level(n), nil
		}
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}
