// Package config loads the trade engine's YAML configuration and applies
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for the trade engine.
type Config struct {
	Server  Server  `yaml:"server"`
	Storage Storage `yaml:"storage"`
	Quotes  Quotes  `yaml:"quotes"`
	Watch   Watch   `yaml:"watch"`
	Logging Logging `yaml:"logging"`
}

// Server holds network listener configuration.
type Server struct {
	Addr            string        `yaml:"addr"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Storage selects and configures the ledger backend. An empty PostgresURL
// selects the in-memory store; RedisAddr optionally layers a read cache over
// Postgres.
type Storage struct {
	PostgresURL string        `yaml:"postgres_url"`
	RedisAddr   string        `yaml:"redis_addr"`
	CacheTTL    time.Duration `yaml:"cache_ttl"`
}

// Quotes configures the upstream quote APIs.
type Quotes struct {
	StockURL       string `yaml:"stock_url"`
	CryptoURL      string `yaml:"crypto_url"`
	RequestsPerMin int    `yaml:"requests_per_min"`
}

// Watch configures the alert and limit-order matcher.
type Watch struct {
	Interval time.Duration `yaml:"interval"`
}

// Logging configures the application logger.
type Logging struct {
	Level string `yaml:"level"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server: Server{
			Addr:            ":8080",
			RequestTimeout:  30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Storage: Storage{
			CacheTTL: 30 * time.Second,
		},
		Quotes: Quotes{
			RequestsPerMin: 60,
		},
		Watch: Watch{
			Interval: time.Minute,
		},
		Logging: Logging{
			Level: "info",
		},
	}
}

// Load reads the YAML configuration file at the given path over the defaults
// and then applies environment variable overrides. An empty path loads
// defaults plus overrides only.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	return cfg, nil
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Storage.PostgresURL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Storage.RedisAddr = v
	}
	if v := os.Getenv("QUOTE_STOCK_URL"); v != "" {
		cfg.Quotes.StockURL = v
	}
	if v := os.Getenv("QUOTE_CRYPTO_URL"); v != "" {
		cfg.Quotes.CryptoURL = v
	}
	if v := os.Getenv("QUOTE_RPM"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Quotes.RequestsPerMin = n
		}
	}
	if v := os.Getenv("WATCH_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Watch.Interval = d
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}
