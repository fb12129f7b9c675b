// Package config loads Cortex's process configuration from a YAML file
// with environment-variable overrides, following the teacher's pattern of
// one nested struct built once at startup and passed explicitly to every
// component constructor.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// RuntimeMode selects logging verbosity and default worker-pool sizes.
type RuntimeMode string

const (
	ModeDevelopment RuntimeMode = "development"
	ModeProduction  RuntimeMode = "production"
)

// ServerConfig configures the HTTP front door.
type ServerConfig struct {
	Port                int           `yaml:"port"`
	EnqueueBudget       time.Duration `yaml:"enqueue_budget"`
	ShutdownGracePeriod time.Duration `yaml:"shutdown_grace_period"`
}

// StoreConfig configures the relational Store.
type StoreConfig struct {
	URL             string        `yaml:"url"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout"`
}

// CacheConfig configures the fast KV tier.
type CacheConfig struct {
	URL              string        `yaml:"url"`
	DedupTTL         time.Duration `yaml:"dedup_ttl"`
	ShaperStateTTL   time.Duration `yaml:"shaper_state_ttl"`
	SemanticCacheTTL time.Duration `yaml:"semantic_cache_ttl"`
}

// SaaSConfig configures the ToolExecutor's credential to the external
// SaaS-connector SDK.
type SaaSConfig struct {
	Secret string `yaml:"secret"`
}

// ToolConfig declares one entry of the ToolExecutor registry, populated
// at startup per spec §9 ("a registry populated at startup from a
// config file"). Endpoint is a generic HTTP-backed tool invocation
// against the connected SaaS provider's proxy surface; AuthValue
// defaults to SaaSConfig.Secret when empty.
type ToolConfig struct {
	Provider    string   `yaml:"provider"`
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Required    []string `yaml:"required"`
	Optional    []string `yaml:"optional"`
	ReadOnly    bool     `yaml:"read_only"`

	Method     string `yaml:"method"`
	URL        string `yaml:"url"`
	AuthHeader string `yaml:"auth_header"`
	AuthValue  string `yaml:"auth_value"`
}

// LLMConfig configures the LLMClient.
type LLMConfig struct {
	Provider    string        `yaml:"provider"` // "anthropic" | "openai"
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	CacheTTL    time.Duration `yaml:"cache_ttl"`
	CacheMaxLen int           `yaml:"cache_max_len"`
}

// DispatcherConfig sizes the three bounded worker pools.
type DispatcherConfig struct {
	ShaperWorkers     int `yaml:"shaper_workers"`
	ShaperQueueDepth  int `yaml:"shaper_queue_depth"`
	MatcherWorkers    int `yaml:"matcher_workers"`
	MatcherQueueDepth int `yaml:"matcher_queue_depth"`
	RuntimeWorkers    int `yaml:"runtime_workers"`
	RuntimeQueueDepth int `yaml:"runtime_queue_depth"`
}

// ShaperConfig configures EventShaper retention policy.
type ShaperConfig struct {
	RetainRawPayload  bool          `yaml:"retain_raw_payload"`
	StateTTL          time.Duration `yaml:"state_ttl"`
	StateMaxPerSource int           `yaml:"state_max_per_source"`
}

// RuntimeConfig configures Runtime's default per-kind timeouts and retry.
type RuntimeConfig struct {
	ToolTimeout time.Duration `yaml:"tool_timeout"`
	LLMTimeout  time.Duration `yaml:"llm_timeout"`
	MaxWait     time.Duration `yaml:"max_wait"`
	MaxAttempts int           `yaml:"max_attempts"`
}

// LoggingConfig configures slog handler selection.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// TracingConfig configures the OTLP trace exporter wrapping every
// inbound HTTP request. Endpoint empty disables export and runs a
// no-op tracer.
type TracingConfig struct {
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
}

// Config is the complete process configuration.
type Config struct {
	RuntimeMode RuntimeMode      `yaml:"runtime_mode"`
	Server      ServerConfig     `yaml:"server"`
	Store       StoreConfig      `yaml:"store"`
	Cache       CacheConfig      `yaml:"cache"`
	SaaS        SaaSConfig       `yaml:"saas"`
	LLM         LLMConfig        `yaml:"llm"`
	Dispatcher  DispatcherConfig `yaml:"dispatcher"`
	Shaper      ShaperConfig     `yaml:"shaper"`
	Runtime     RuntimeConfig    `yaml:"runtime"`
	Logging     LoggingConfig    `yaml:"logging"`
	Tracing     TracingConfig    `yaml:"tracing"`
	Tools       []ToolConfig     `yaml:"tools"`
}

// Default returns a Config with the spec's defaults filled in.
func Default() Config {
	return Config{
		RuntimeMode: ModeDevelopment,
		Server: ServerConfig{
			Port:                8080,
			EnqueueBudget:       50 * time.Millisecond,
			ShutdownGracePeriod: 5 * time.Second,
		},
		Store: StoreConfig{
			MaxOpenConns:    20,
			MaxIdleConns:    10,
			ConnMaxLifetime: time.Hour,
			ConnMaxIdleTime: 10 * time.Minute,
			ConnectTimeout:  5 * time.Second,
		},
		Cache: CacheConfig{
			DedupTTL:         24 * time.Hour,
			ShaperStateTTL:   7 * 24 * time.Hour,
			SemanticCacheTTL: 5 * time.Minute,
		},
		LLM: LLMConfig{
			Provider:    "anthropic",
			CacheTTL:    5 * time.Minute,
			CacheMaxLen: 100,
		},
		Dispatcher: DispatcherConfig{
			ShaperWorkers:     4,
			ShaperQueueDepth:  256,
			MatcherWorkers:    8,
			MatcherQueueDepth: 256,
			RuntimeWorkers:    32,
			RuntimeQueueDepth: 512,
		},
		Shaper: ShaperConfig{
			RetainRawPayload:  false,
			StateTTL:          7 * 24 * time.Hour,
			StateMaxPerSource: 50000,
		},
		Runtime: RuntimeConfig{
			ToolTimeout: 30 * time.Second,
			LLMTimeout:  60 * time.Second,
			MaxWait:     15 * time.Minute,
			MaxAttempts: 3,
		},
		Logging:    LoggingConfig{Level: "info"},
		Tracing:    TracingConfig{SamplingRate: 1.0},
	}
}

// Load reads a YAML file at path (if non-empty) into Default(), then
// applies environment-variable overrides per spec §6.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)

	if cfg.RuntimeMode == ModeProduction && cfg.Dispatcher.RuntimeWorkers < 32 {
		cfg.Dispatcher.RuntimeWorkers = 32
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("STORE_URL"); v != "" {
		cfg.Store.URL = v
	}
	if v := os.Getenv("CACHE_URL"); v != "" {
		cfg.Cache.URL = v
	}
	if v := os.Getenv("SAAS_SECRET"); v != "" {
		cfg.SaaS.Secret = v
	}
	if v := os.Getenv("LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("RUNTIME_MODE"); v != "" {
		cfg.RuntimeMode = RuntimeMode(v)
	}
	if v := os.Getenv("LLM_PROVIDER"); v != "" {
		cfg.LLM.Provider = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("OTEL_ENDPOINT"); v != "" {
		cfg.Tracing.Endpoint = v
	}
}

// Validate reports a configuration error (exit code 2 per spec §6) if
// required fields are missing. A production runtime_mode must point at
// real Store/Cache backends; development mode may leave store.url and
// cache.url empty to run against the in-memory backends instead.
func (c Config) Validate() error {
	if c.RuntimeMode != ModeDevelopment && c.RuntimeMode != ModeProduction {
		return fmt.Errorf("config: runtime_mode must be %q or %q, got %q", ModeDevelopment, ModeProduction, c.RuntimeMode)
	}
	if c.RuntimeMode == ModeProduction && c.Store.URL == "" {
		return fmt.Errorf("config: STORE_URL / store.url is required in production")
	}
	if c.LLM.APIKey == "" {
		return fmt.Errorf("config: LLM_API_KEY / llm.api_key is required")
	}
	return nil
}
