package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Storage drivers.
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	Log       LogConfig       `mapstructure:"log"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Webhook   WebhookConfig   `mapstructure:"webhook"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"` // debug, release, test
	MaxBodyBytes    int64         `mapstructure:"max_body_bytes"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	Migrate         bool          `mapstructure:"migrate"`
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns the Redis address string.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

type JWTConfig struct {
	Secret string        `mapstructure:"secret"`
	Expiry time.Duration `mapstructure:"expiry"`
	Issuer string        `mapstructure:"issuer"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Pretty bool   `mapstructure:"pretty"` // human-readable output (dev only)
}

type StorageConfig struct {
	Driver   string `mapstructure:"driver"`    // postgres, memory
	SeedFile string `mapstructure:"seed_file"` // memory driver only, optional
}

// WebhookConfig controls outbound delivery.
type WebhookConfig struct {
	Timeout         time.Duration `mapstructure:"timeout"`
	SignatureHeader string        `mapstructure:"signature_header"`
	EventHeader     string        `mapstructure:"event_header"`
	UserAgent       string        `mapstructure:"user_agent"`
	MaxResponseBody int           `mapstructure:"max_response_body"`
	MaxConcurrency  int           `mapstructure:"max_concurrency"` // 0 = one goroutine per subscriber
	QueueSize       int           `mapstructure:"queue_size"`
	QueueWorkers    int           `mapstructure:"queue_workers"`
	DedupTTL        time.Duration `mapstructure:"dedup_ttl"`
}

// RateRule is a fixed-window limit.
type RateRule struct {
	Limit  int           `mapstructure:"limit"`
	Window time.Duration `mapstructure:"window"`
}

type RateLimitConfig struct {
	Enabled      bool     `mapstructure:"enabled"`
	Backend      string   `mapstructure:"backend"` // memory, redis
	Events       RateRule `mapstructure:"events"`
	Webhooks     RateRule `mapstructure:"webhooks"`
	Search       RateRule `mapstructure:"search"`
	Integrations RateRule `mapstructure:"integrations"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// Validate checks cross-field constraints that defaults cannot express.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case DriverPostgres, DriverMemory:
	default:
		return fmt.Errorf("storage.driver must be %q or %q, got %q", DriverPostgres, DriverMemory, c.Storage.Driver)
	}
	if c.Webhook.Timeout <= 0 {
		return fmt.Errorf("webhook.timeout must be positive")
	}
	if c.Webhook.QueueSize <= 0 || c.Webhook.QueueWorkers <= 0 {
		return fmt.Errorf("webhook.queue_size and webhook.queue_workers must be positive")
	}
	if c.Webhook.MaxConcurrency < 0 {
		return fmt.Errorf("webhook.max_concurrency must not be negative")
	}
	if c.RateLimit.Enabled && c.RateLimit.Backend == "redis" && !c.Redis.Enabled {
		return fmt.Errorf("ratelimit.backend=redis requires redis.enabled")
	}
	return nil
}

// Load reads configuration from file and environment variables.
// Environment variables override file values. Prefix: CWE_ (CRM Webhook Engine).
// Nested keys use underscore: CWE_DATABASE_HOST, CWE_WEBHOOK_TIMEOUT, etc.
func Load(path string) (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.max_body_bytes", 1<<20)
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "crm")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.migrate", true)
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.expiry", "24h")
	v.SetDefault("jwt.issuer", "crm-webhook-engine")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
	v.SetDefault("storage.driver", DriverPostgres)
	v.SetDefault("storage.seed_file", "")
	v.SetDefault("webhook.timeout", "8s")
	v.SetDefault("webhook.signature_header", "X-Webhook-Signature")
	v.SetDefault("webhook.event_header", "X-Webhook-Event")
	v.SetDefault("webhook.user_agent", "crm-webhook-engine/1.0")
	v.SetDefault("webhook.max_response_body", 1024)
	v.SetDefault("webhook.max_concurrency", 0)
	v.SetDefault("webhook.queue_size", 1024)
	v.SetDefault("webhook.queue_workers", 4)
	v.SetDefault("webhook.dedup_ttl", "24h")
	v.SetDefault("ratelimit.enabled", true)
	v.SetDefault("ratelimit.backend", "memory")
	v.SetDefault("ratelimit.events.limit", 600)
	v.SetDefault("ratelimit.events.window", "1m")
	v.SetDefault("ratelimit.webhooks.limit", 60)
	v.SetDefault("ratelimit.webhooks.window", "1m")
	v.SetDefault("ratelimit.search.limit", 120)
	v.SetDefault("ratelimit.search.window", "1m")
	v.SetDefault("ratelimit.integrations.limit", 30)
	v.SetDefault("ratelimit.integrations.window", "1m")
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	// File config
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// Environment variables: CWE_DATABASE_HOST -> database.host
	v.SetEnvPrefix("CWE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (not required, env vars can suffice)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}
