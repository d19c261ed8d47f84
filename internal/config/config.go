package config

import (
	"embed"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed example.yaml
var exampleConfig embed.FS

// Config represents the complete pulsr configuration
type Config struct {
	Relays   Relays   `yaml:"relays"`
	Ingest   Ingest   `yaml:"ingest"`
	Trending Trending `yaml:"trending"`
	Scoring  Scoring  `yaml:"scoring"`
	Storage  Storage  `yaml:"storage"`
	Caching  Caching  `yaml:"caching"`
	API      API      `yaml:"api"`
	Logging  Logging  `yaml:"logging"`
}

// Relays contains relay configuration
type Relays struct {
	Seeds  []string    `yaml:"seeds"`
	Policy RelayPolicy `yaml:"policy"`
}

// RelayPolicy contains relay connection policies
type RelayPolicy struct {
	ConnectTimeoutMs int `yaml:"connect_timeout_ms"`
}

// ConnectTimeout returns the relay connect timeout
func (rp *RelayPolicy) ConnectTimeout() time.Duration {
	if rp.ConnectTimeoutMs == 0 {
		return 5 * time.Second
	}
	return time.Duration(rp.ConnectTimeoutMs) * time.Millisecond
}

// Ingest contains ingestion coordinator settings
type Ingest struct {
	Enabled         bool   `yaml:"enabled"`
	IntervalSeconds int    `yaml:"interval_seconds"`
	GlobalCap       int    `yaml:"global_cap"`
	PerRelayCap     int    `yaml:"per_relay_cap"`
	BudgetSeconds   int    `yaml:"budget_seconds"`
	Concurrency     int    `yaml:"concurrency"`
	Kinds           string `yaml:"kinds"` // profiles|contacts|posts|"" = all
	OverlapSeconds  int    `yaml:"overlap_seconds"`
	LookbackSeconds int    `yaml:"lookback_seconds"`
}

// Budget returns the wall-clock budget for one ingestion pass
func (i *Ingest) Budget() time.Duration {
	return time.Duration(i.BudgetSeconds) * time.Second
}

// Trending contains aggregation and snapshot settings
type Trending struct {
	Enabled         bool `yaml:"enabled"`
	IntervalSeconds int  `yaml:"interval_seconds"`
	WindowHours     int  `yaml:"window_hours"`
	CandidateCap    int  `yaml:"candidate_cap"`
	RetentionHours  int  `yaml:"retention_hours"`
}

// Window returns the trailing aggregation window duration
func (t *Trending) Window() time.Duration {
	return time.Duration(t.WindowHours) * time.Hour
}

// Retention returns the snapshot retention horizon
func (t *Trending) Retention() time.Duration {
	return time.Duration(t.RetentionHours) * time.Hour
}

// Scoring contains ranking weights. The recency/engagement pair defaults
// to 0.6/0.4 and stays fixed between runs.
type Scoring struct {
	RecencyWeight    float64         `yaml:"recency_weight"`
	EngagementWeight float64         `yaml:"engagement_weight"`
	KindDamping      map[int]float64 `yaml:"kind_damping"`
}

// Storage contains storage configuration
type Storage struct {
	SQLitePath string `yaml:"sqlite_path"`
}

// Caching contains feed page caching configuration
type Caching struct {
	Engine     string `yaml:"engine"` // memory|redis
	RedisURL   string `yaml:"redis_url"`
	TTLSeconds int    `yaml:"ttl_seconds"`
}

// TTL returns the cache entry lifetime
func (c *Caching) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// API contains read API server settings
type API struct {
	Enabled bool   `yaml:"enabled"`
	Bind    string `yaml:"bind"`
	Port    int    `yaml:"port"`
}

// Logging contains logging configuration
type Logging struct {
	Level  string `yaml:"level"`  // debug|info|warn|error
	Format string `yaml:"format"` // text|json
}

// Load reads and parses a configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// applyDefaults fills in missing fields from Default
func applyDefaults(cfg *Config) {
	defaults := Default()

	if len(cfg.Relays.Seeds) == 0 {
		cfg.Relays.Seeds = defaults.Relays.Seeds
	}
	if cfg.Relays.Policy.ConnectTimeoutMs == 0 {
		cfg.Relays.Policy.ConnectTimeoutMs = defaults.Relays.Policy.ConnectTimeoutMs
	}

	if cfg.Ingest.IntervalSeconds == 0 {
		cfg.Ingest.IntervalSeconds = defaults.Ingest.IntervalSeconds
	}
	if cfg.Ingest.GlobalCap == 0 {
		cfg.Ingest.GlobalCap = defaults.Ingest.GlobalCap
	}
	if cfg.Ingest.PerRelayCap == 0 {
		cfg.Ingest.PerRelayCap = defaults.Ingest.PerRelayCap
	}
	if cfg.Ingest.BudgetSeconds == 0 {
		cfg.Ingest.BudgetSeconds = defaults.Ingest.BudgetSeconds
	}
	if cfg.Ingest.Concurrency == 0 {
		cfg.Ingest.Concurrency = defaults.Ingest.Concurrency
	}
	if cfg.Ingest.OverlapSeconds == 0 {
		cfg.Ingest.OverlapSeconds = defaults.Ingest.OverlapSeconds
	}
	if cfg.Ingest.LookbackSeconds == 0 {
		cfg.Ingest.LookbackSeconds = defaults.Ingest.LookbackSeconds
	}

	if cfg.Trending.IntervalSeconds == 0 {
		cfg.Trending.IntervalSeconds = defaults.Trending.IntervalSeconds
	}
	if cfg.Trending.WindowHours == 0 {
		cfg.Trending.WindowHours = defaults.Trending.WindowHours
	}
	if cfg.Trending.CandidateCap == 0 {
		cfg.Trending.CandidateCap = defaults.Trending.CandidateCap
	}
	if cfg.Trending.RetentionHours == 0 {
		cfg.Trending.RetentionHours = defaults.Trending.RetentionHours
	}

	if cfg.Scoring.RecencyWeight == 0 && cfg.Scoring.EngagementWeight == 0 {
		cfg.Scoring.RecencyWeight = defaults.Scoring.RecencyWeight
		cfg.Scoring.EngagementWeight = defaults.Scoring.EngagementWeight
	}
	if cfg.Scoring.KindDamping == nil {
		cfg.Scoring.KindDamping = defaults.Scoring.KindDamping
	}

	if cfg.Storage.SQLitePath == "" {
		cfg.Storage.SQLitePath = defaults.Storage.SQLitePath
	}

	if cfg.Caching.Engine == "" {
		cfg.Caching.Engine = defaults.Caching.Engine
	}
	if cfg.Caching.TTLSeconds == 0 {
		cfg.Caching.TTLSeconds = defaults.Caching.TTLSeconds
	}

	if cfg.API.Bind == "" {
		cfg.API.Bind = defaults.API.Bind
	}
	if cfg.API.Port == 0 {
		cfg.API.Port = defaults.API.Port
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = defaults.Logging.Level
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = defaults.Logging.Format
	}
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(cfg *Config) error {
	if redisURL := os.Getenv("PULSR_REDIS_URL"); redisURL != "" {
		cfg.Caching.RedisURL = redisURL
	}
	if dbPath := os.Getenv("PULSR_SQLITE_PATH"); dbPath != "" {
		cfg.Storage.SQLitePath = dbPath
	}
	if port := os.Getenv("PULSR_API_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("invalid PULSR_API_PORT: %w", err)
		}
		cfg.API.Port = p
	}
	return nil
}

// GetExampleConfig returns the embedded example configuration
func GetExampleConfig() ([]byte, error) {
	return exampleConfig.ReadFile("example.yaml")
}

// Default returns a configuration with sensible defaults
func Default() *Config {
	return &Config{
		Relays: Relays{
			Seeds: []string{
				"wss://relay.damus.io",
				"wss://relay.nostr.band",
				"wss://nos.lol",
			},
			Policy: RelayPolicy{
				ConnectTimeoutMs: 5000,
			},
		},
		Ingest: Ingest{
			Enabled:         true,
			IntervalSeconds: 300,
			GlobalCap:       5000,
			PerRelayCap:     1000,
			BudgetSeconds:   120,
			Concurrency:     4,
			Kinds:           "",
			OverlapSeconds:  60,
			LookbackSeconds: 86400,
		},
		Trending: Trending{
			Enabled:         true,
			IntervalSeconds: 900,
			WindowHours:     24,
			CandidateCap:    2000,
			RetentionHours:  48,
		},
		Scoring: Scoring{
			RecencyWeight:    0.6,
			EngagementWeight: 0.4,
			KindDamping:      map[int]float64{6: 0.7},
		},
		Storage: Storage{
			SQLitePath: "./pulsr.db",
		},
		Caching: Caching{
			Engine:     "memory",
			TTLSeconds: 30,
		},
		API: API{
			Enabled: true,
			Bind:    "0.0.0.0",
			Port:    8080,
		},
		Logging: Logging{
			Level:  "info",
			Format: "text",
		},
	}
}

// Validate checks the configuration for fatal problems
func Validate(cfg *Config) error {
	if len(cfg.Relays.Seeds) == 0 {
		return fmt.Errorf("relays.seeds must not be empty")
	}
	for _, seed := range cfg.Relays.Seeds {
		if !strings.HasPrefix(seed, "wss://") && !strings.HasPrefix(seed, "ws://") {
			return fmt.Errorf("relay seed %q must be a ws:// or wss:// URL", seed)
		}
	}

	switch cfg.Ingest.Kinds {
	case "", "profiles", "contacts", "posts":
	default:
		return fmt.Errorf("ingest.kinds must be one of profiles, contacts, posts or empty, got %q", cfg.Ingest.Kinds)
	}

	if cfg.Ingest.Concurrency < 1 {
		return fmt.Errorf("ingest.concurrency must be >= 1")
	}
	if cfg.Ingest.GlobalCap < cfg.Ingest.PerRelayCap {
		return fmt.Errorf("ingest.global_cap (%d) must be >= ingest.per_relay_cap (%d)",
			cfg.Ingest.GlobalCap, cfg.Ingest.PerRelayCap)
	}

	weightSum := cfg.Scoring.RecencyWeight + cfg.Scoring.EngagementWeight
	if weightSum < 0.99 || weightSum > 1.01 {
		return fmt.Errorf("scoring weights must sum to 1.0, got %.2f", weightSum)
	}

	if cfg.Storage.SQLitePath == "" {
		return fmt.Errorf("storage.sqlite_path is required")
	}

	switch cfg.Caching.Engine {
	case "memory":
	case "redis":
		if cfg.Caching.RedisURL == "" {
			return fmt.Errorf("caching.redis_url is required when caching.engine is redis")
		}
	default:
		return fmt.Errorf("unsupported caching engine: %s", cfg.Caching.Engine)
	}

	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unsupported log level: %s", cfg.Logging.Level)
	}

	return nil
}
