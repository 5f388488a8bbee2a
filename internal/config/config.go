// Package config provides configuration loading for incidentd.
// Configuration sources (in priority order): env vars > config file > defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/marcus-qen/incidentd/internal/directory"
	"github.com/marcus-qen/incidentd/internal/incident"
	"github.com/marcus-qen/incidentd/internal/incident/sqlstore"
)

const (
	DefaultSchedule      = "@every 5m"
	DefaultPurgeSchedule = "30 3 * * *"
)

// Config holds all incidentd configuration.
type Config struct {
	// Listen address for /metrics and /healthz (default ":9464")
	ListenAddr string `yaml:"listen_addr"`
	// Data directory for the default SQLite database
	DataDir string `yaml:"data_dir"`

	DB      DBConfig      `yaml:"db"`
	Redis   RedisConfig   `yaml:"redis"`

	// CooldownGate picks the cooldown backend: sql, redis or memory.
	// Empty selects redis when redis.addr is set, sql otherwise.
	CooldownGate string `yaml:"cooldown_gate"`

	Kafka   KafkaConfig   `yaml:"kafka"`
	Webhook WebhookConfig `yaml:"webhook"`
	Notify  NotifyConfig  `yaml:"notify"`

	// Log level (debug, info, warn, error)
	LogLevel string        `yaml:"log_level"`
	Tracing  TracingConfig `yaml:"tracing"`

	// Recipients are inline directory entries. DirectoryFile, when set, is
	// loaded and appended.
	Recipients    []directory.Entry `yaml:"recipients"`
	DirectoryFile string            `yaml:"directory_file"`

	// Domains overrides the built-in domain definitions by name. A section
	// replaces the built-in alert config as a whole.
	Domains map[string]DomainConfig `yaml:"domains"`
}

// DBConfig selects the SQL store.
type DBConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// RedisConfig enables the shared Redis cooldown gate when Addr is set.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// KafkaConfig enables the kafka notification channel when Brokers is set.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// WebhookConfig configures the default webhook channel.
type WebhookConfig struct {
	URL    string `yaml:"url"`
	Secret string `yaml:"secret"`
}

// NotifyConfig throttles dispatches per channel.
type NotifyConfig struct {
	PerSecond float64 `yaml:"per_second"`
	Burst     int     `yaml:"burst"`
}

// TracingConfig configures OTLP trace export. Tracing is off without an
// endpoint.
type TracingConfig struct {
	Endpoint    string  `yaml:"endpoint"`
	Insecure    bool    `yaml:"insecure"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

// DomainConfig is the per-domain section.
type DomainConfig struct {
	Alert         incident.AlertConfig     `yaml:"alert"`
	Schedule      string                   `yaml:"schedule"`
	Retention     incident.RetentionPolicy `yaml:"retention"`
	PurgeSchedule string                   `yaml:"purge_schedule"`
}

// WithDefaults fills the schedules and retention target.
func (d DomainConfig) WithDefaults() DomainConfig {
	if d.Schedule == "" {
		d.Schedule = DefaultSchedule
	}
	if d.PurgeSchedule == "" {
		d.PurgeSchedule = DefaultPurgeSchedule
	}
	if d.Retention.Target == "" {
		d.Retention.Target = incident.TargetAll
	}
	return d
}

// HasRetention reports whether a retention policy is configured.
func (d DomainConfig) HasRetention() bool {
	return d.Retention.Days != 0 || d.Retention.Months != 0
}

// Default returns configuration with sensible defaults.
func Default() Config {
	return Config{
		ListenAddr: ":9464",
		DataDir:    "/var/lib/incidentd",
		DB:         DBConfig{Driver: "sqlite"},
		LogLevel:   "info",
		Notify:     NotifyConfig{PerSecond: 20, Burst: 20},
		Kafka:      KafkaConfig{Topic: "incident-notifications"},
	}
}

// Load reads configuration from a file, then overlays environment variables.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(&cfg)

	for name, d := range cfg.Domains {
		cfg.Domains[name] = d.WithDefaults()
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("INCIDENTD_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("INCIDENTD_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("INCIDENTD_DB_DRIVER"); v != "" {
		cfg.DB.Driver = v
	}
	if v := os.Getenv("INCIDENTD_DB_DSN"); v != "" {
		cfg.DB.DSN = v
	}
	if v := os.Getenv("INCIDENTD_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("INCIDENTD_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("INCIDENTD_COOLDOWN_GATE"); v != "" {
		cfg.CooldownGate = v
	}
	if v := os.Getenv("INCIDENTD_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = splitList(v)
	}
	if v := os.Getenv("INCIDENTD_KAFKA_TOPIC"); v != "" {
		cfg.Kafka.Topic = v
	}
	if v := os.Getenv("INCIDENTD_WEBHOOK_URL"); v != "" {
		cfg.Webhook.URL = v
	}
	if v := os.Getenv("INCIDENTD_WEBHOOK_SECRET"); v != "" {
		cfg.Webhook.Secret = v
	}
	if v := os.Getenv("INCIDENTD_NOTIFY_RATE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Notify.PerSecond = f
		}
	}
	if v := os.Getenv("INCIDENTD_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("INCIDENTD_OTLP_ENDPOINT"); v != "" {
		cfg.Tracing.Endpoint = v
	}
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// DatabaseDSN returns the configured DSN, defaulting to a SQLite file in
// DataDir.
func (c Config) DatabaseDSN() string {
	if c.DB.DSN != "" {
		return c.DB.DSN
	}
	return filepath.Join(c.DataDir, "incidentd.db")
}

// HasRedis returns true if the shared cooldown gate is configured.
func (c Config) HasRedis() bool { return c.Redis.Addr != "" }

// Cooldown gate backends.
const (
	GateSQL    = "sql"
	GateRedis  = "redis"
	GateMemory = "memory"
)

// GateBackend resolves CooldownGate.
func (c Config) GateBackend() string {
	if c.CooldownGate != "" {
		return c.CooldownGate
	}
	if c.HasRedis() {
		return GateRedis
	}
	return GateSQL
}

// HasKafka returns true if the kafka channel is configured.
func (c Config) HasKafka() bool { return len(c.Kafka.Brokers) > 0 }

// DirectoryEntries returns the inline recipients plus the directory file.
func (c Config) DirectoryEntries() ([]directory.Entry, error) {
	entries := append([]directory.Entry(nil), c.Recipients...)
	if c.DirectoryFile == "" {
		return entries, nil
	}
	fromFile, err := directory.LoadFile(c.DirectoryFile)
	if err != nil {
		return nil, err
	}
	return append(entries, fromFile...), nil
}

// Validate reports every invalid setting.
func (c Config) Validate() error {
	var errs []error
	if c.ListenAddr == "" {
		errs = append(errs, errors.New("listen_addr is required"))
	}
	if _, err := sqlstore.ParseDialect(c.DB.Driver); err != nil {
		errs = append(errs, err)
	}
	switch c.GateBackend() {
	case GateSQL, GateMemory:
	case GateRedis:
		if !c.HasRedis() {
			errs = append(errs, errors.New("cooldown_gate redis requires redis.addr"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown cooldown_gate %q", c.CooldownGate))
	}
	if c.HasKafka() && c.Kafka.Topic == "" {
		errs = append(errs, errors.New("kafka.topic is required when brokers are set"))
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		errs = append(errs, errors.New("tracing.sample_ratio must be within [0,1]"))
	}
	if c.Notify.PerSecond < 0 || c.Notify.Burst < 0 {
		errs = append(errs, errors.New("notify rate and burst must be >= 0"))
	}
	for name, d := range c.Domains {
		if err := d.Alert.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("domain %s: %w", name, err))
		}
		if d.HasRetention() {
			if err := d.Retention.Validate(); err != nil {
				errs = append(errs, fmt.Errorf("domain %s: %w", name, err))
			}
		}
	}
	return errors.Join(errs...)
}
