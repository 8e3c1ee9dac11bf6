// Package config loads and validates the Scout configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	scouterrors "github.com/odvcencio/scout/pkg/errors"
)

// Default configuration values exported for documentation and validation
const (
	DefaultBind                = "127.0.0.1:8080"
	DefaultRedisAddr           = "localhost:6379"
	DefaultCacheTTL            = 3600
	DefaultReportTTL           = 7200
	DefaultSectionTTL          = 1800
	DefaultCacheMaxRetries     = 3
	DefaultCacheRetryDelayMS   = 1000
	DefaultHealthCheckInterval = 30
	DefaultMaxSections         = 10
	DefaultSectionTimeout      = 30
	DefaultAggregateTimeout    = 300
	DefaultWorkerRetries       = 3
	DefaultWorkerRetryDelay    = 2
	DefaultMinTopicLength      = 3
	DefaultMaxTopicLength      = 200
	DefaultMaxGuidanceLength   = 1000
)

// Config represents the complete Scout configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Cache    CacheConfig    `yaml:"cache"`
	Research ResearchConfig `yaml:"research"`
	Model    ModelConfig    `yaml:"model"`
	Bus      BusConfig      `yaml:"bus"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig configures the HTTP API server
type ServerConfig struct {
	Bind string `yaml:"bind"`
}

// CacheConfig configures the Redis-backed cache store
type CacheConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`

	DialTimeoutSeconds  int `yaml:"dial_timeout_seconds"`
	ReadTimeoutSeconds  int `yaml:"read_timeout_seconds"`
	WriteTimeoutSeconds int `yaml:"write_timeout_seconds"`
	PoolSize            int `yaml:"pool_size"`

	DefaultTTLSeconds int `yaml:"default_ttl_seconds"`
	ReportTTLSeconds  int `yaml:"report_ttl_seconds"`
	SectionTTLSeconds int `yaml:"section_ttl_seconds"`

	MaxRetries                 int `yaml:"max_retries"`
	RetryDelayMillis           int `yaml:"retry_delay_millis"`
	HealthCheckIntervalSeconds int `yaml:"health_check_interval_seconds"`
}

// ResearchConfig configures the orchestration pipeline
type ResearchConfig struct {
	MaxSections              int  `yaml:"max_sections"`
	SectionTimeoutSeconds    int  `yaml:"section_timeout_seconds"`
	AggregateTimeoutSeconds  int  `yaml:"aggregate_timeout_seconds"`
	WorkerRetries            int  `yaml:"worker_retries"`
	WorkerRetryDelaySeconds  int  `yaml:"worker_retry_delay_seconds"`
	RetryOnValidationFailure bool `yaml:"retry_on_validation_failure"`
	ConcurrentSections       bool `yaml:"concurrent_sections"`
	MinTopicLength           int  `yaml:"min_topic_length"`
	MaxTopicLength           int  `yaml:"max_topic_length"`
	MaxGuidanceLength        int  `yaml:"max_guidance_length"`
}

// ModelConfig configures the LLM backing the section and report workers
type ModelConfig struct {
	BaseURL     string  `yaml:"base_url"`
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
}

// BusConfig configures the progress-event message bus
type BusConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Name    string `yaml:"name"`
}

// LoggingConfig configures structured logging
type LoggingConfig struct {
	Dir   string `yaml:"dir"`
	Level string `yaml:"level"`
}

// DefaultConfig returns a Config populated with defaults
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Bind: DefaultBind,
		},
		Cache: CacheConfig{
			Enabled:                    true,
			Addr:                       DefaultRedisAddr,
			DialTimeoutSeconds:         5,
			ReadTimeoutSeconds:         5,
			WriteTimeoutSeconds:        5,
			PoolSize:                   10,
			DefaultTTLSeconds:          DefaultCacheTTL,
			ReportTTLSeconds:           DefaultReportTTL,
			SectionTTLSeconds:          DefaultSectionTTL,
			MaxRetries:                 DefaultCacheMaxRetries,
			RetryDelayMillis:           DefaultCacheRetryDelayMS,
			HealthCheckIntervalSeconds: DefaultHealthCheckInterval,
		},
		Research: ResearchConfig{
			MaxSections:              DefaultMaxSections,
			SectionTimeoutSeconds:    DefaultSectionTimeout,
			AggregateTimeoutSeconds:  DefaultAggregateTimeout,
			WorkerRetries:            DefaultWorkerRetries,
			WorkerRetryDelaySeconds:  DefaultWorkerRetryDelay,
			RetryOnValidationFailure: true,
			ConcurrentSections:       true,
			MinTopicLength:           DefaultMinTopicLength,
			MaxTopicLength:           DefaultMaxTopicLength,
			MaxGuidanceLength:        DefaultMaxGuidanceLength,
		},
		Model: ModelConfig{
			BaseURL:     "https://openrouter.ai/api/v1",
			Model:       "openai/gpt-5.2",
			MaxTokens:   4096,
			Temperature: 0.2,
		},
		Bus: BusConfig{
			URL:  "nats://localhost:4222",
			Name: "scout",
		},
		Logging: LoggingConfig{
			Dir:   defaultLogDir(),
			Level: "info",
		},
	}
}

func defaultLogDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".scout/logs"
	}
	return home + "/.scout/logs"
}

// Load builds the configuration from defaults, an optional YAML file,
// and environment overrides, in that order.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		if err := loadAndMerge(cfg, path); err != nil {
			return nil, scouterrors.Wrap(err, scouterrors.ErrCodeConfigLoad, "loading config file").
				WithContext("path", path)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadAndMerge loads a YAML file and merges it into the config.
func loadAndMerge(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing YAML: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides for settings
// that commonly differ between deployments.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SCOUT_BIND"); v != "" {
		cfg.Server.Bind = v
	}
	if v := os.Getenv("SCOUT_REDIS_ADDR"); v != "" {
		cfg.Cache.Addr = v
	}
	if v := os.Getenv("SCOUT_REDIS_PASSWORD"); v != "" {
		cfg.Cache.Password = v
	}
	if v := os.Getenv("SCOUT_REDIS_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Cache.DB = db
		}
	}
	if v := os.Getenv("SCOUT_CACHE_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			cfg.Cache.Enabled = enabled
		}
	}
	if v := os.Getenv("SCOUT_NATS_URL"); v != "" {
		cfg.Bus.URL = v
		cfg.Bus.Enabled = true
	}
	if v := os.Getenv("SCOUT_MODEL_API_KEY"); v != "" {
		cfg.Model.APIKey = v
	} else if v := os.Getenv("OPENROUTER_API_KEY"); v != "" {
		cfg.Model.APIKey = v
	}
	if v := os.Getenv("SCOUT_MODEL"); v != "" {
		cfg.Model.Model = v
	}
	if v := os.Getenv("SCOUT_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks configuration invariants
func (c *Config) Validate() error {
	if c.Research.MaxSections < 1 || c.Research.MaxSections > 20 {
		return scouterrors.New(scouterrors.ErrCodeConfigInvalid, "research.max_sections must be between 1 and 20").
			WithContext("max_sections", c.Research.MaxSections)
	}
	if c.Research.SectionTimeoutSeconds <= 0 {
		return scouterrors.New(scouterrors.ErrCodeConfigInvalid, "research.section_timeout_seconds must be positive")
	}
	if c.Research.AggregateTimeoutSeconds <= 0 {
		return scouterrors.New(scouterrors.ErrCodeConfigInvalid, "research.aggregate_timeout_seconds must be positive")
	}
	if c.Research.WorkerRetries < 1 {
		return scouterrors.New(scouterrors.ErrCodeConfigInvalid, "research.worker_retries must be at least 1")
	}
	if c.Cache.Enabled {
		if c.Cache.Addr == "" {
			return scouterrors.New(scouterrors.ErrCodeConfigInvalid, "cache.addr is required when cache is enabled")
		}
		if c.Cache.DB < 0 || c.Cache.DB > 15 {
			return scouterrors.New(scouterrors.ErrCodeConfigInvalid, "cache.db must be between 0 and 15").
				WithContext("db", c.Cache.DB)
		}
		if c.Cache.MaxRetries < 1 {
			return scouterrors.New(scouterrors.ErrCodeConfigInvalid, "cache.max_retries must be at least 1")
		}
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return scouterrors.New(scouterrors.ErrCodeConfigInvalid, "logging.level must be one of debug, info, warn, error").
			WithContext("level", c.Logging.Level)
	}
	return nil
}

// Duration accessors keep yaml fields as plain integers while callers
// work in time.Duration.

func (c CacheConfig) DialTimeout() time.Duration  { return time.Duration(c.DialTimeoutSeconds) * time.Second }
func (c CacheConfig) ReadTimeout() time.Duration  { return time.Duration(c.ReadTimeoutSeconds) * time.Second }
func (c CacheConfig) WriteTimeout() time.Duration { return time.Duration(c.WriteTimeoutSeconds) * time.Second }
func (c CacheConfig) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelayMillis) * time.Millisecond
}
func (c CacheConfig) HealthCheckInterval() time.Duration {
	return time.Duration(c.HealthCheckIntervalSeconds) * time.Second
}
func (c CacheConfig) DefaultTTL() time.Duration {
	return time.Duration(c.DefaultTTLSeconds) * time.Second
}
func (c CacheConfig) ReportTTL() time.Duration {
	return time.Duration(c.ReportTTLSeconds) * time.Second
}
func (c CacheConfig) SectionTTL() time.Duration {
	return time.Duration(c.SectionTTLSeconds) * time.Second
}

func (r ResearchConfig) SectionTimeout() time.Duration {
	return time.Duration(r.SectionTimeoutSeconds) * time.Second
}
func (r ResearchConfig) AggregateTimeout() time.Duration {
	return time.Duration(r.AggregateTimeoutSeconds) * time.Second
}
func (r ResearchConfig) WorkerRetryDelay() time.Duration {
	return time.Duration(r.WorkerRetryDelaySeconds) * time.Second
}
