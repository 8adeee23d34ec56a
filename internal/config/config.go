package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Store drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

// Config top-level struct
type Config struct {
	Server    ServerConfig    `yaml:"server" envPrefix:"SERVER_"`
	Store     StoreConfig     `yaml:"store" envPrefix:"STORE_"`
	Redis     RedisConfig     `yaml:"redis" envPrefix:"REDIS_"`
	Kafka     KafkaConfig     `yaml:"kafka" envPrefix:"KAFKA_"`
	RateLimit RateLimitConfig `yaml:"ratelimit" envPrefix:"RATELIMIT_"`
	Retry     RetryConfig     `yaml:"retry" envPrefix:"RETRY_"`
	Cache     CacheConfig     `yaml:"cache" envPrefix:"CACHE_"`
	Poller    PollerConfig    `yaml:"poller" envPrefix:"POLLER_"`
	Log       LogConfig       `yaml:"log" envPrefix:"LOG_"`

	// PostgresPassword is appended to a postgres DSN; never read from the file.
	PostgresPassword string `yaml:"-" env:"POSTGRES_PASSWORD"`
}

type ServerConfig struct {
	Port int `yaml:"port" env:"PORT"`
}

type StoreConfig struct {
	Driver string `yaml:"driver" env:"DRIVER"`
	DSN    string `yaml:"dsn" env:"DSN"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr" env:"ADDR"`
	Password string `yaml:"password" env:"PASSWORD"`
	DB       int    `yaml:"db" env:"DB"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers" env:"BROKERS" envSeparator:","`
	Topic   string   `yaml:"topic" env:"TOPIC"`
}

type RateLimitConfig struct {
	RPS   int `yaml:"rps" env:"RPS"`
	Burst int `yaml:"burst" env:"BURST"`
}

// RetryConfig bounds how often a command is re-resolved after losing a
// version race. MaxAttempts of 1 disables retries.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts" env:"MAX_ATTEMPTS"`
	Backoff     time.Duration `yaml:"backoff" env:"BACKOFF"`
}

type CacheConfig struct {
	Enabled bool          `yaml:"enabled" env:"ENABLED"`
	TTL     time.Duration `yaml:"ttl" env:"TTL"`
}

type PollerConfig struct {
	Interval  time.Duration `yaml:"interval" env:"INTERVAL"`
	BatchSize int           `yaml:"batch_size" env:"BATCH_SIZE"`
}

type LogConfig struct {
	Level    string `yaml:"level" env:"LEVEL"`
	Encoding string `yaml:"encoding" env:"ENCODING"`
}

// Default returns the settings used for anything the file and environment leave unset.
func Default() Config {
	return Config{
		Server:    ServerConfig{Port: 8080},
		Store:     StoreConfig{Driver: DriverMemory},
		RateLimit: RateLimitConfig{RPS: 50, Burst: 100},
		Retry:     RetryConfig{MaxAttempts: 1, Backoff: 10 * time.Millisecond},
		Cache:     CacheConfig{TTL: 5 * time.Minute},
		Poller:    PollerConfig{Interval: time.Second, BatchSize: 100},
		Log:       LogConfig{Level: "info", Encoding: "json"},
	}
}

// Load reads yaml file, then applies environment overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("env overrides: %w", err)
	}
	// override DSN password from env if present
	if cfg.PostgresPassword != "" && cfg.Store.Driver == DriverPostgres {
		cfg.Store.DSN = cfg.Store.DSN + " password=" + cfg.PostgresPassword
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the server cannot start with.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case DriverPostgres, DriverSQLite:
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required for driver %q", c.Store.Driver)
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unknown store.driver %q", c.Store.Driver)
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1")
	}
	return nil
}
