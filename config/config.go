package config

import (
	"log"
	"os"

	"gopkg.in/yaml.v3"
)

// NumericPolicy selects how the ingestion endpoint treats a particulate
// field that is present but not numeric.
type NumericPolicy string

const (
	// PolicyCoerce carries a zero value through instead of rejecting
	// the write. This matches the historical server behavior.
	PolicyCoerce NumericPolicy = "coerce"
	// PolicyReject fails the request with HTTP 400.
	PolicyReject NumericPolicy = "reject"
)

// Config represents the overall application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Ingest     IngestConfig     `yaml:"ingest"`
	Query      QueryConfig      `yaml:"query"`
	Push       PushConfig       `yaml:"push"`
	WorkerPool WorkerPoolConfig `yaml:"worker_pool"`
	Simulator  SimulatorConfig  `yaml:"simulator"`
}

// ServerConfig holds the server-related configuration.
type ServerConfig struct {
	Port            int     `yaml:"port"`
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec"`
	RateLimitBurst  int     `yaml:"rate_limit_burst"`
	CacheTTLSeconds int     `yaml:"cache_ttl_seconds"`
}

// DatabaseConfig holds the database connection configuration.
type DatabaseConfig struct {
	Driver                 string `yaml:"driver"` // postgres, mysql or sqlite
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
}

// IngestConfig gates writes and selects the bad-input policy.
type IngestConfig struct {
	// APIKey is the optional shared secret. Empty means every request
	// is accepted regardless of the api_key it carries.
	APIKey        string        `yaml:"api_key"`
	NumericPolicy NumericPolicy `yaml:"numeric_policy"`
}

// QueryConfig bounds the history read path.
type QueryConfig struct {
	DefaultLimit int `yaml:"default_limit"`
	MaxLimit     int `yaml:"max_limit"`
}

// PushConfig holds the VAPID keys for web push notifications.
type PushConfig struct {
	PublicKey  string `yaml:"vapid_public_key"`
	PrivateKey string `yaml:"vapid_private_key"`
	Subject    string `yaml:"subject"`
	TTL        int    `yaml:"ttl"`
}

// WorkerPoolConfig holds the configuration for the push worker pool.
type WorkerPoolConfig struct {
	Size int `yaml:"size"`
}

// SimulatorConfig drives the fake-device loop used in development.
type SimulatorConfig struct {
	Enabled         bool   `yaml:"enabled"`
	IntervalSeconds int    `yaml:"interval_seconds"`
	TargetURL       string `yaml:"target_url"`
}

// Load reads the configuration from the given path, applies defaults and
// environment overrides.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.RateLimitPerSec <= 0 {
		cfg.Server.RateLimitPerSec = 10
	}
	if cfg.Server.RateLimitBurst <= 0 {
		cfg.Server.RateLimitBurst = 5
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "postgres"
	}

	switch cfg.Ingest.NumericPolicy {
	case PolicyCoerce, PolicyReject:
	case "":
		cfg.Ingest.NumericPolicy = PolicyCoerce
	default:
		log.Printf("unknown ingest.numeric_policy %q; defaulting to %q", cfg.Ingest.NumericPolicy, PolicyCoerce)
		cfg.Ingest.NumericPolicy = PolicyCoerce
	}

	if cfg.Query.DefaultLimit <= 0 {
		cfg.Query.DefaultLimit = 100
	}
	if cfg.Query.MaxLimit <= 0 {
		cfg.Query.MaxLimit = 1000
	}

	if cfg.Push.TTL <= 0 {
		cfg.Push.TTL = 3600
	}
	if cfg.WorkerPool.Size <= 0 {
		cfg.WorkerPool.Size = 1
	}

	if cfg.Simulator.IntervalSeconds <= 0 {
		cfg.Simulator.IntervalSeconds = 5
	}
}

// applyEnvOverrides lets the deployment environment win over the file
// for the two values devices and hosts actually vary on.
func applyEnvOverrides(cfg *Config) {
	if dsn := os.Getenv("DATABASE_DSN"); dsn != "" {
		cfg.Database.DSN = dsn
	}
	if key := os.Getenv("API_SECRET_KEY"); key != "" {
		cfg.Ingest.APIKey = key
	}
}
