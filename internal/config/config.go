package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Backend kinds accepted in engines.<role>.backend.
const (
	BackendWeaviate = "weaviate"
	BackendValkey   = "valkey"
)

// Config holds the conceptgraph service configuration.
type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Logging   LoggingConfig   `yaml:"logging"`
	Engines   EnginesConfig   `yaml:"engines"`
	Search    SearchConfig    `yaml:"search"`
	Images    ImagesConfig    `yaml:"images"`
	Database  DatabaseConfig  `yaml:"database"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Health    HealthConfig    `yaml:"health"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int `yaml:"port"`
	ReadTimeoutSec  int `yaml:"read_timeout_sec"`
	WriteTimeoutSec int `yaml:"write_timeout_sec"`
	ShutdownSec     int `yaml:"shutdown_timeout_sec"`
}

// EnginesConfig holds the role-specific vector backend settings.
type EnginesConfig struct {
	Primary EngineConfig `yaml:"primary"`
	Backup  EngineConfig `yaml:"backup"`
}

// EngineConfig describes one vector backend.
type EngineConfig struct {
	Backend   string `yaml:"backend"` // weaviate (default), valkey
	Endpoint  string `yaml:"endpoint"`
	APIKey    string `yaml:"api_key"`
	ClassName string `yaml:"class_name"`
	Limit     int    `yaml:"limit"`
}

// SearchConfig holds expansion and cache tuning.
type SearchConfig struct {
	ExpandTop         int   `yaml:"expand_top"`
	CacheTTLSec       int   `yaml:"cache_ttl_sec"`
	CacheCapacity     int   `yaml:"cache_capacity"`
	CacheEvictBatch   int   `yaml:"cache_evict_batch"`
	QueryTimeoutSec   int   `yaml:"query_timeout_sec"`
	EnrichConcurrency int   `yaml:"enrich_concurrency"`
	DedupeInflight    *bool `yaml:"dedupe_inflight"`
}

// ImagesConfig holds image API settings.
type ImagesConfig struct {
	BaseURL           string  `yaml:"base_url"`
	APIKey            string  `yaml:"api_key"`
	DailyQuota        int64   `yaml:"daily_quota"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
	PageSize          int     `yaml:"page_size"`
	TimeoutSec        int     `yaml:"timeout_sec"`
	PersistQuota      bool    `yaml:"persist_quota"`
}

// DatabaseConfig holds Valkey/Redis connection settings.
type DatabaseConfig struct {
	Driver           string   `yaml:"driver"` // valkey, redis (default: valkey)
	Addrs            []string `yaml:"addrs"`
	Password         string   `yaml:"password"`
	ReadinessTimeout int      `yaml:"readiness_timeout_sec"`
	IndexName        string   `yaml:"index_name"`
	KeyPrefix        string   `yaml:"key_prefix"`
}

// EmbeddingConfig holds query embedding settings for the valkey backend.
type EmbeddingConfig struct {
	APIKey           string `yaml:"api_key"`
	BaseURL          string `yaml:"base_url"`
	Model            string `yaml:"model"`
	Dimensions       int    `yaml:"dimensions"`
	QueryInstruction string `yaml:"query_instruction"`
	Cache            bool   `yaml:"cache"`
}

// TelemetryConfig holds aggregator settings.
type TelemetryConfig struct {
	HistoryCapacity int `yaml:"history_capacity"`
}

// HealthConfig holds health sampler settings.
type HealthConfig struct {
	SampleIntervalSec int `yaml:"sample_interval_sec"`
}

// CacheTTL returns the result cache time-to-live.
func (s SearchConfig) CacheTTL() time.Duration {
	return time.Duration(s.CacheTTLSec) * time.Second
}

// QueryTimeout returns the per-search deadline. Zero means no deadline.
func (s SearchConfig) QueryTimeout() time.Duration {
	return time.Duration(s.QueryTimeoutSec) * time.Second
}

// Dedupe reports whether concurrent misses for the same query share one backend round.
func (s SearchConfig) Dedupe() bool {
	return s.DedupeInflight == nil || *s.DedupeInflight
}

// SampleInterval returns the health sampling period.
func (h HealthConfig) SampleInterval() time.Duration {
	return time.Duration(h.SampleIntervalSec) * time.Second
}

// UsesValkey reports whether any engine needs the Valkey store.
func (c *Config) UsesValkey() bool {
	return c.Engines.Primary.Backend == BackendValkey ||
		c.Engines.Backup.Backend == BackendValkey ||
		c.Images.PersistQuota
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
func Load(env string) (Config, error) {
	configPath := findConfigPath(env)

	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}

	return Parse(data)
}

// Parse decodes raw YAML, substitutes env variables, applies defaults and validates.
func Parse(data []byte) (Config, error) {
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.HTTP.Port == 0 {
		c.HTTP.Port = 9000
	}
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 10
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		c.HTTP.WriteTimeoutSec = 30
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}

	applyEngineDefaults(&c.Engines.Primary, "http://localhost:8080")
	applyEngineDefaults(&c.Engines.Backup, "http://backup-weaviate:8080")

	if c.Search.ExpandTop <= 0 {
		c.Search.ExpandTop = 3
	}
	if c.Search.CacheTTLSec <= 0 {
		c.Search.CacheTTLSec = 600
	}
	if c.Search.CacheCapacity <= 0 {
		c.Search.CacheCapacity = 1000
	}
	if c.Search.CacheEvictBatch <= 0 {
		c.Search.CacheEvictBatch = 100
	}
	if c.Search.QueryTimeoutSec < 0 {
		c.Search.QueryTimeoutSec = 0
	}
	if c.Search.EnrichConcurrency <= 0 {
		c.Search.EnrichConcurrency = 64
	}

	if c.Images.BaseURL == "" {
		c.Images.BaseURL = "https://api.pinterest.com/v5"
	}
	if c.Images.DailyQuota <= 0 {
		c.Images.DailyQuota = 1000
	}
	if c.Images.RequestsPerSecond <= 0 {
		c.Images.RequestsPerSecond = 10
	}
	if c.Images.Burst <= 0 {
		c.Images.Burst = 5
	}
	if c.Images.PageSize <= 0 {
		c.Images.PageSize = 10
	}
	if c.Images.TimeoutSec <= 0 {
		c.Images.TimeoutSec = 15
	}

	if c.Database.Driver == "" {
		c.Database.Driver = "valkey"
	}
	if c.Database.ReadinessTimeout <= 0 {
		c.Database.ReadinessTimeout = 10
	}
	if c.Database.IndexName == "" {
		c.Database.IndexName = "concepts"
	}
	if c.Database.KeyPrefix == "" {
		c.Database.KeyPrefix = "conceptgraph:"
	}

	if c.Embedding.Model == "" {
		c.Embedding.Model = "text-embedding-3-small"
	}

	if c.Telemetry.HistoryCapacity <= 0 {
		c.Telemetry.HistoryCapacity = 10000
	}
	if c.Health.SampleIntervalSec <= 0 {
		c.Health.SampleIntervalSec = 5
	}
}

func applyEngineDefaults(e *EngineConfig, endpoint string) {
	if e.Backend == "" {
		e.Backend = BackendWeaviate
	}
	if e.Endpoint == "" && e.Backend == BackendWeaviate {
		e.Endpoint = endpoint
	}
	if e.ClassName == "" {
		e.ClassName = "Concept"
	}
	if e.Limit <= 0 {
		e.Limit = 10
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	for name, e := range map[string]EngineConfig{"primary": c.Engines.Primary, "backup": c.Engines.Backup} {
		switch e.Backend {
		case BackendWeaviate:
			if e.Endpoint == "" {
				return fmt.Errorf("engines.%s.endpoint is required for weaviate", name)
			}
		case BackendValkey:
			if c.Embedding.APIKey == "" {
				return fmt.Errorf("embedding.api_key is required when engines.%s.backend is valkey", name)
			}
		default:
			return fmt.Errorf("engines.%s.backend must be %q or %q, got %q",
				name, BackendWeaviate, BackendValkey, e.Backend)
		}
	}
	if c.UsesValkey() && len(c.Database.Addrs) == 0 {
		return fmt.Errorf("database.addrs is required")
	}
	switch c.Database.Driver {
	case "valkey", "redis":
	default:
		return fmt.Errorf("database.driver must be \"valkey\" or \"redis\", got %q", c.Database.Driver)
	}
	if c.Search.CacheEvictBatch > c.Search.CacheCapacity {
		return fmt.Errorf("search.cache_evict_batch (%d) must not exceed search.cache_capacity (%d)",
			c.Search.CacheEvictBatch, c.Search.CacheCapacity)
	}
	return nil
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	// Relative to the source file, for tests and `go run` from other dirs.
	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1])
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
