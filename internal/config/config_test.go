package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultYAMLMatchesDefault(t *testing.T) {
	cfg := &Config{}
	require.NoError(t, Parse([]byte(DefaultYAML), cfg))
	assert.Equal(t, Default(), cfg)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wfstore.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
store:
  driver: postgres
  dsn: postgres://wf:wf@localhost/wf?sslmode=disable
http:
  addr: 127.0.0.1:9090
lock:
  redis_addr: localhost:6379
  ttl: 1m
log:
  level: debug
  format: json
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DriverPostgres, cfg.Store.Driver)
	assert.Equal(t, "127.0.0.1:9090", cfg.HTTP.Addr)
	assert.Equal(t, 10*time.Second, cfg.HTTP.ReadTimeout)
	assert.Equal(t, "localhost:6379", cfg.Lock.RedisAddr)
	assert.Equal(t, time.Minute, cfg.Lock.TTL)
	assert.True(t, cfg.Store.AutoMigrate)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_EmptyPathUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DriverSQLite, cfg.Store.Driver)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestParse_RejectsUnknownKeys(t *testing.T) {
	err := Parse([]byte("store:\n  drvier: sqlite\n"), Default())
	require.Error(t, err)
}

func TestParse_EmptyDocumentKeepsDefaults(t *testing.T) {
	cfg := Default()
	require.NoError(t, Parse(nil, cfg))
	assert.Equal(t, Default(), cfg)
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		EnvDriver:       "mongo",
		EnvDSN:          "mongodb://localhost:27017",
		EnvHTTPAddr:     ":9999",
		EnvRedisAddr:    "redis:6379",
		EnvOTLPEndpoint: "collector:4317",
		EnvLogLevel:     "warn",
	}
	cfg := Default()
	cfg.ApplyEnv(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})

	assert.Equal(t, DriverMongo, cfg.Store.Driver)
	assert.Equal(t, "mongodb://localhost:27017", cfg.Store.DSN)
	assert.Equal(t, ":9999", cfg.HTTP.Addr)
	assert.Equal(t, "redis:6379", cfg.Lock.RedisAddr)
	assert.True(t, cfg.Tracing.Enabled)
	assert.Equal(t, "collector:4317", cfg.Tracing.OTLPEndpoint)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	t.Setenv(EnvDriver, "memory")
	t.Setenv(EnvDSN, "")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DriverMemory, cfg.Store.Driver)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(c *Config) {}, true},
		{"driver is case-insensitive", func(c *Config) { c.Store.Driver = " MySQL " }, true},
		{"memory needs no dsn", func(c *Config) { c.Store.Driver = DriverMemory; c.Store.DSN = "" }, true},
		{"unknown driver", func(c *Config) { c.Store.Driver = "oracle" }, false},
		{"missing dsn", func(c *Config) { c.Store.DSN = "" }, false},
		{"missing addr", func(c *Config) { c.HTTP.Addr = "" }, false},
		{"negative timeout", func(c *Config) { c.HTTP.ShutdownTimeout = -time.Second }, false},
		{"zero lock ttl", func(c *Config) { c.Lock.TTL = 0 }, false},
		{"tracing without service", func(c *Config) { c.Tracing.Enabled = true; c.Tracing.ServiceName = "" }, false},
		{"bad level", func(c *Config) { c.Log.Level = "loud" }, false},
		{"bad format", func(c *Config) { c.Log.Format = "xml" }, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestSlogLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{
		"debug": slog.LevelDebug,
		"INFO":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
		"-4":    slog.LevelDebug,
	} {
		got, err := LogConfig{Level: in}.SlogLevel()
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}
