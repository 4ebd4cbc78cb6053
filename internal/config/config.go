// Package config holds drover's layered configuration: defaults, an
// optional config file (YAML or JSON), then environment overrides.
package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Duration marshals as a Go duration string ("90s", "2m") in both YAML
// and JSON.
type Duration time.Duration

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	return d.parse(raw)
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var raw string
	if err := unmarshal(&raw); err != nil {
		return err
	}
	return d.parse(raw)
}

func (d *Duration) parse(raw string) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Config is the full runtime configuration.
type Config struct {
	// Workspace is the project directory the agent works in.
	Workspace string `json:"workspace" yaml:"workspace" mapstructure:"workspace"`
	// RulesFile points at the hook rules YAML; empty runs without rules.
	RulesFile string `json:"rules_file,omitempty" yaml:"rules_file" mapstructure:"rules_file"`
	// RunsDir stores run snapshots.
	RunsDir string `json:"runs_dir" yaml:"runs_dir" mapstructure:"runs_dir"`
	// AuditDir holds the daily JSONL audit files; empty disables the
	// file sink.
	AuditDir string `json:"audit_dir,omitempty" yaml:"audit_dir" mapstructure:"audit_dir"`

	Agent   AgentConfig   `json:"agent" yaml:"agent" mapstructure:"agent"`
	Cache   CacheConfig   `json:"cache" yaml:"cache" mapstructure:"cache"`
	Hooks   HooksConfig   `json:"hooks" yaml:"hooks" mapstructure:"hooks"`
	Server  ServerConfig  `json:"server" yaml:"server" mapstructure:"server"`
	Logging LoggingConfig `json:"logging" yaml:"logging" mapstructure:"logging"`
	Tracing TracingConfig `json:"tracing" yaml:"tracing" mapstructure:"tracing"`
}

// AgentConfig bounds a run.
type AgentConfig struct {
	MaxIterations  int      `json:"max_iterations" yaml:"max_iterations" mapstructure:"max_iterations"`
	TokenBudget    int      `json:"token_budget" yaml:"token_budget" mapstructure:"token_budget"`
	CommandTimeout Duration `json:"command_timeout" yaml:"command_timeout" mapstructure:"command_timeout"`
}

// CacheConfig tunes the tool result cache.
type CacheConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled" mapstructure:"enabled"`
	MaxSize int      `json:"max_size" yaml:"max_size" mapstructure:"max_size"`
	TTL     Duration `json:"ttl" yaml:"ttl" mapstructure:"ttl"`
}

// HooksConfig tunes webhook delivery.
type HooksConfig struct {
	MaxConcurrent   int      `json:"max_concurrent" yaml:"max_concurrent" mapstructure:"max_concurrent"`
	DeliveryTimeout Duration `json:"delivery_timeout" yaml:"delivery_timeout" mapstructure:"delivery_timeout"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Addr           string   `json:"addr" yaml:"addr" mapstructure:"addr"`
	AllowedOrigins []string `json:"allowed_origins,omitempty" yaml:"allowed_origins" mapstructure:"allowed_origins"`
	// RateLimit throttles API requests per client IP. Zero disables it.
	RateLimit RateLimitConfig `json:"rate_limit,omitempty" yaml:"rate_limit" mapstructure:"rate_limit"`
}

// RateLimitConfig bounds request rates on the API routes. The
// websocket stream and /metrics are exempt.
type RateLimitConfig struct {
	RequestsPerMinute int `json:"requests_per_minute" yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
	Burst             int `json:"burst" yaml:"burst" mapstructure:"burst"`
}

// LoggingConfig selects level and destination.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `json:"level" yaml:"level" mapstructure:"level"`
	// File receives logs in addition to stderr when set.
	File string `json:"file,omitempty" yaml:"file" mapstructure:"file"`
}

// TracingConfig configures span export.
type TracingConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled" mapstructure:"enabled"`
	// Exporter is otlp or zipkin.
	Exporter string `json:"exporter,omitempty" yaml:"exporter" mapstructure:"exporter"`
	Endpoint string `json:"endpoint,omitempty" yaml:"endpoint" mapstructure:"endpoint"`
	// SampleRatio in [0,1]; 0 means always sample.
	SampleRatio float64 `json:"sample_ratio,omitempty" yaml:"sample_ratio" mapstructure:"sample_ratio"`
}

// Default returns the configuration used when nothing else is set.
func Default() Config {
	return Config{
		Workspace: ".",
		RunsDir:   "~/.drover/runs",
		AuditDir:  "~/.drover/audit",
		Agent: AgentConfig{
			MaxIterations:  10,
			TokenBudget:    12000,
			CommandTimeout: Duration(2 * time.Minute),
		},
		Cache: CacheConfig{
			Enabled: true,
			MaxSize: 256,
			TTL:     Duration(5 * time.Minute),
		},
		Hooks: HooksConfig{
			MaxConcurrent:   8,
			DeliveryTimeout: Duration(10 * time.Second),
		},
		Server: ServerConfig{
			Addr: ":8420",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Tracing: TracingConfig{
			Exporter: "otlp",
		},
	}
}

// Validate rejects configurations the runtime cannot honor.
func (c Config) Validate() error {
	if c.Workspace == "" {
		return fmt.Errorf("workspace cannot be empty")
	}
	if c.Agent.MaxIterations <= 0 {
		return fmt.Errorf("agent.max_iterations must be positive, got %d", c.Agent.MaxIterations)
	}
	if c.Agent.TokenBudget < 0 {
		return fmt.Errorf("agent.token_budget cannot be negative")
	}
	if c.Cache.Enabled && c.Cache.MaxSize <= 0 {
		return fmt.Errorf("cache.max_size must be positive when the cache is enabled")
	}
	if c.Hooks.MaxConcurrent <= 0 {
		return fmt.Errorf("hooks.max_concurrent must be positive")
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	if c.Tracing.Enabled {
		switch c.Tracing.Exporter {
		case "otlp", "zipkin":
		default:
			return fmt.Errorf("tracing.exporter %q is not one of otlp, zipkin", c.Tracing.Exporter)
		}
		if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
			return fmt.Errorf("tracing.sample_ratio must be within [0, 1]")
		}
	}
	return nil
}
