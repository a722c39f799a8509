// Package config loads service configuration from defaults, an optional YAML
// file and HAZARDWATCH_* environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes every environment variable read by Load. Nested keys
// are separated by a double underscore: HAZARDWATCH_SERVER__PORT.
const EnvPrefix = "HAZARDWATCH_"

// Storage drivers.
const (
	StorageDriverFile     = "file"
	StorageDriverPostgres = "postgres"
)

// Config is the service configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Log       LogConfig       `koanf:"log"`
	CORS      CORSConfig      `koanf:"cors"`
	Storage   StorageConfig   `koanf:"storage"`
	Database  DatabaseConfig  `koanf:"database"`
	Redis     RedisConfig     `koanf:"redis"`
	RateLimit RateLimitConfig `koanf:"rate_limit"`
	Proximity ProximityConfig `koanf:"proximity"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host              string        `koanf:"host"`
	Port              string        `koanf:"port"`
	MetricsPort       string        `koanf:"metrics_port"`
	ReadTimeout       time.Duration `koanf:"read_timeout"`
	ReadHeaderTimeout time.Duration `koanf:"read_header_timeout"`
	WriteTimeout      time.Duration `koanf:"write_timeout"`
	IdleTimeout       time.Duration `koanf:"idle_timeout"`
	OpenAPISpecPath   string        `koanf:"openapi_spec_path"`
}

// LogConfig contains logger settings.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// CORSConfig contains CORS settings.
type CORSConfig struct {
	AllowedOrigins []string `koanf:"allowed_origins"`
}

// StorageConfig selects the incident repository.
type StorageConfig struct {
	Driver   string `koanf:"driver"`
	FilePath string `koanf:"file_path"`
}

// DatabaseConfig contains PostgreSQL settings, used when Storage.Driver is postgres.
type DatabaseConfig struct {
	URL             string        `koanf:"url"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	ConnectTimeout  time.Duration `koanf:"connect_timeout"`
	ConnectAttempts int           `koanf:"connect_attempts"`
	MigrateOnStart  bool          `koanf:"migrate_on_start"`
}

// RedisConfig contains incident list cache settings.
type RedisConfig struct {
	Enabled  bool          `koanf:"enabled"`
	URL      string        `koanf:"url"`
	CacheTTL time.Duration `koanf:"cache_ttl"`
}

// RateLimitConfig limits incident reports per client IP.
type RateLimitConfig struct {
	Enabled           bool          `koanf:"enabled"`
	RequestsPerSecond float64       `koanf:"requests_per_second"`
	Burst             int           `koanf:"burst"`
	VisitorTTL        time.Duration `koanf:"visitor_ttl"`
}

// ProximityConfig contains proximity engine settings.
type ProximityConfig struct {
	AlertRadiusKm   float64       `koanf:"alert_radius_km"`
	SessionTTL      time.Duration `koanf:"session_ttl"`
	JanitorInterval time.Duration `koanf:"janitor_interval"`
	// AlertQueueSize bounds alerts waiting for delivery; AlertWorkers drain it.
	AlertQueueSize  int           `koanf:"alert_queue_size"`
	AlertWorkers    int           `koanf:"alert_workers"`
	Webhook         WebhookConfig `koanf:"webhook"`
	Kafka           KafkaConfig   `koanf:"kafka"`
	Watch           WatchConfig   `koanf:"watch"`
}

// WatchConfig runs a monitor for a fixed point inside the server. An empty
// ID disables it.
type WatchConfig struct {
	ID              string        `koanf:"id"`
	Latitude        float64       `koanf:"latitude"`
	Longitude       float64       `koanf:"longitude"`
	RefreshInterval time.Duration `koanf:"refresh_interval"`
}

// WebhookConfig configures the alert webhook sink. Empty URL disables it.
type WebhookConfig struct {
	URL         string        `koanf:"url"`
	Timeout     time.Duration `koanf:"timeout"`
	MaxAttempts int           `koanf:"max_attempts"`
}

// KafkaConfig configures the alert publisher and position consumer.
type KafkaConfig struct {
	Enabled        bool     `koanf:"enabled"`
	Brokers        []string `koanf:"brokers"`
	AlertsTopic    string   `koanf:"alerts_topic"`
	PositionsTopic string   `koanf:"positions_topic"`
	GroupID        string   `koanf:"group_id"`
	// CreateTopics creates both topics at start-up when they do not exist.
	CreateTopics      bool `koanf:"create_topics"`
	Partitions        int  `koanf:"partitions"`
	ReplicationFactor int  `koanf:"replication_factor"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              "8080",
			MetricsPort:       "9090",
			ReadTimeout:       15 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      15 * time.Second,
			IdleTimeout:       60 * time.Second,
			OpenAPISpecPath:   "api/openapi/openapi.yaml",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		CORS: CORSConfig{
			AllowedOrigins: []string{"*"},
		},
		Storage: StorageConfig{
			Driver:   StorageDriverFile,
			FilePath: "data/db.json",
		},
		Database: DatabaseConfig{
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 30 * time.Minute,
			ConnectTimeout:  30 * time.Second,
			ConnectAttempts: 5,
			MigrateOnStart:  true,
		},
		Redis: RedisConfig{
			CacheTTL: 10 * time.Second,
		},
		RateLimit: RateLimitConfig{
			Enabled:           true,
			RequestsPerSecond: 1,
			Burst:             5,
			VisitorTTL:        10 * time.Minute,
		},
		Proximity: ProximityConfig{
			AlertRadiusKm:   1.0,
			SessionTTL:      30 * time.Minute,
			JanitorInterval: time.Minute,
			AlertQueueSize:  1024,
			AlertWorkers:    2,
			Webhook: WebhookConfig{
				Timeout:     10 * time.Second,
				MaxAttempts: 3,
			},
			Kafka: KafkaConfig{
				AlertsTopic:       "hazardwatch.alerts",
				PositionsTopic:    "hazardwatch.positions",
				GroupID:           "hazardwatch",
				Partitions:        3,
				ReplicationFactor: 1,
			},
			Watch: WatchConfig{
				RefreshInterval: 10 * time.Second,
			},
		},
	}
}

// Load reads configuration. path may be empty to skip the YAML file.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := Default()
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// envKey maps HAZARDWATCH_PROXIMITY__ALERT_RADIUS_KM to proximity.alert_radius_km.
func envKey(s string) string {
	s = strings.TrimPrefix(s, EnvPrefix)
	return strings.ReplaceAll(strings.ToLower(s), "__", ".")
}

// Validate checks the configuration for values the service cannot run with.
func (c *Config) Validate() error {
	var errs []error

	if err := validatePort("server.port", c.Server.Port); err != nil {
		errs = append(errs, err)
	}
	if err := validatePort("server.metrics_port", c.Server.MetricsPort); err != nil {
		errs = append(errs, err)
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level must be one of debug, info, warn, error"))
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("log.format must be json or text"))
	}

	switch c.Storage.Driver {
	case StorageDriverFile:
		if c.Storage.FilePath == "" {
			errs = append(errs, errors.New("storage.file_path is required for the file driver"))
		}
	case StorageDriverPostgres:
		if c.Database.URL == "" {
			errs = append(errs, errors.New("database.url is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.driver must be %q or %q", StorageDriverFile, StorageDriverPostgres))
	}

	if c.Redis.Enabled {
		if c.Redis.URL == "" {
			errs = append(errs, errors.New("redis.url is required when redis is enabled"))
		}
		if c.Redis.CacheTTL <= 0 {
			errs = append(errs, errors.New("redis.cache_ttl must be positive"))
		}
	}

	if c.RateLimit.Enabled && (c.RateLimit.RequestsPerSecond <= 0 || c.RateLimit.Burst <= 0) {
		errs = append(errs, errors.New("rate_limit.requests_per_second and rate_limit.burst must be positive"))
	}

	if c.Proximity.AlertRadiusKm <= 0 {
		errs = append(errs, errors.New("proximity.alert_radius_km must be positive"))
	}
	if c.Proximity.SessionTTL <= 0 || c.Proximity.JanitorInterval <= 0 {
		errs = append(errs, errors.New("proximity.session_ttl and proximity.janitor_interval must be positive"))
	}
	if c.Proximity.AlertQueueSize <= 0 || c.Proximity.AlertWorkers <= 0 {
		errs = append(errs, errors.New("proximity.alert_queue_size and proximity.alert_workers must be positive"))
	}
	if c.Proximity.Kafka.Enabled && len(c.Proximity.Kafka.Brokers) == 0 {
		errs = append(errs, errors.New("proximity.kafka.brokers is required when kafka is enabled"))
	}
	if w := c.Proximity.Watch; w.ID != "" {
		if w.Latitude < -90 || w.Latitude > 90 || w.Longitude < -180 || w.Longitude > 180 {
			errs = append(errs, errors.New("proximity.watch latitude/longitude out of range"))
		}
		if w.RefreshInterval <= 0 {
			errs = append(errs, errors.New("proximity.watch.refresh_interval must be positive"))
		}
	}
	if c.Proximity.Kafka.CreateTopics && (c.Proximity.Kafka.Partitions <= 0 || c.Proximity.Kafka.ReplicationFactor <= 0) {
		errs = append(errs, errors.New("proximity.kafka.partitions and proximity.kafka.replication_factor must be positive"))
	}

	return errors.Join(errs...)
}

func validatePort(name, value string) error {
	port, err := strconv.Atoi(value)
	if err != nil || port < 0 || port > 65535 {
		return fmt.Errorf("%s must be a port number, got %q", name, value)
	}
	return nil
}
