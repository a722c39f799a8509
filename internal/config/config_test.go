package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, Default(), cfg)
	assert.Equal(t, 1.0, cfg.Proximity.AlertRadiusKm)
	assert.Equal(t, StorageDriverFile, cfg.Storage.Driver)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("HAZARDWATCH_SERVER__PORT", "8181")
	t.Setenv("HAZARDWATCH_PROXIMITY__ALERT_RADIUS_KM", "0.5")
	t.Setenv("HAZARDWATCH_PROXIMITY__SESSION_TTL", "5m")
	t.Setenv("HAZARDWATCH_PROXIMITY__KAFKA__ENABLED", "true")
	t.Setenv("HAZARDWATCH_PROXIMITY__KAFKA__BROKERS", "kafka-1:9092,kafka-2:9092")
	t.Setenv("HAZARDWATCH_RATE_LIMIT__BURST", "20")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "8181", cfg.Server.Port)
	assert.Equal(t, 0.5, cfg.Proximity.AlertRadiusKm)
	assert.Equal(t, 5*time.Minute, cfg.Proximity.SessionTTL)
	assert.True(t, cfg.Proximity.Kafka.Enabled)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Proximity.Kafka.Brokers)
	assert.Equal(t, 20, cfg.RateLimit.Burst)

	// Untouched values keep their defaults.
	assert.Equal(t, "9090", cfg.Server.MetricsPort)
	assert.Equal(t, "hazardwatch.alerts", cfg.Proximity.Kafka.AlertsTopic)
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log:
  level: debug
  format: text
storage:
  driver: postgres
database:
  url: postgres://localhost/hazardwatch
proximity:
  alert_radius_km: 0.5
`), 0o600))

	t.Setenv("HAZARDWATCH_PROXIMITY__ALERT_RADIUS_KM", "2")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, StorageDriverPostgres, cfg.Storage.Driver)
	assert.Equal(t, "postgres://localhost/hazardwatch", cfg.Database.URL)
	assert.Equal(t, 2.0, cfg.Proximity.AlertRadiusKm)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"bad port", func(c *Config) { c.Server.Port = "http" }, "server.port"},
		{"bad log level", func(c *Config) { c.Log.Level = "trace" }, "log.level"},
		{"unknown driver", func(c *Config) { c.Storage.Driver = "sqlite" }, "storage.driver"},
		{"postgres without url", func(c *Config) { c.Storage.Driver = StorageDriverPostgres }, "database.url"},
		{"redis without url", func(c *Config) { c.Redis.Enabled = true }, "redis.url"},
		{"zero radius", func(c *Config) { c.Proximity.AlertRadiusKm = 0 }, "alert_radius_km"},
		{"empty alert queue", func(c *Config) { c.Proximity.AlertQueueSize = 0 }, "alert_queue_size"},
		{"watch point off the map", func(c *Config) { c.Proximity.Watch = WatchConfig{ID: "depot", Latitude: 95, RefreshInterval: time.Second} }, "proximity.watch"},
		{"kafka without brokers", func(c *Config) { c.Proximity.Kafka.Enabled = true }, "kafka.brokers"},
		{"rate limit without burst", func(c *Config) { c.RateLimit.Burst = 0 }, "rate_limit"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_ExampleFile(t *testing.T) {
	cfg, err := Load("../../config.example.yaml")
	require.NoError(t, err)

	assert.Equal(t, StorageDriverFile, cfg.Storage.Driver)
	assert.Equal(t, 1.0, cfg.Proximity.AlertRadiusKm)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Proximity.Kafka.Brokers)
	assert.Equal(t, 10*time.Second, cfg.Redis.CacheTTL)
}
