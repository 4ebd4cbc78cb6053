package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// envPrefix namespaces every environment override recognized by Load.
const envPrefix = "DROVER_"

// Load builds the effective configuration by layering, in order: built-in
// defaults, the optional config file at path, and DROVER_* environment
// variables. The merged result is validated before it is returned.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	default:
		return fmt.Errorf("config %s has unsupported extension, want .yaml, .yml or .json", path)
	}
	return nil
}

// applyEnv overlays DROVER_* variables onto cfg. Set-but-invalid values are
// reported as errors rather than silently ignored.
func applyEnv(cfg *Config) error {
	var envErr error

	setString := func(key string, dst *string) {
		if v, ok := os.LookupEnv(envPrefix + key); ok {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) {
		v, ok := os.LookupEnv(envPrefix + key)
		if !ok {
			return
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			envErr = fmt.Errorf("%s%s: %w", envPrefix, key, err)
			return
		}
		*dst = n
	}
	setBool := func(key string, dst *bool) {
		v, ok := os.LookupEnv(envPrefix + key)
		if !ok {
			return
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			envErr = fmt.Errorf("%s%s: %w", envPrefix, key, err)
			return
		}
		*dst = b
	}
	setDuration := func(key string, dst *Duration) {
		v, ok := os.LookupEnv(envPrefix + key)
		if !ok {
			return
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			envErr = fmt.Errorf("%s%s: %w", envPrefix, key, err)
			return
		}
		*dst = Duration(d)
	}
	setFloat := func(key string, dst *float64) {
		v, ok := os.LookupEnv(envPrefix + key)
		if !ok {
			return
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			envErr = fmt.Errorf("%s%s: %w", envPrefix, key, err)
			return
		}
		*dst = f
	}

	setString("WORKSPACE", &cfg.Workspace)
	setString("RULES_FILE", &cfg.RulesFile)
	setString("RUNS_DIR", &cfg.RunsDir)
	setString("AUDIT_DIR", &cfg.AuditDir)

	setInt("MAX_ITERATIONS", &cfg.Agent.MaxIterations)
	setInt("TOKEN_BUDGET", &cfg.Agent.TokenBudget)
	setDuration("COMMAND_TIMEOUT", &cfg.Agent.CommandTimeout)

	setBool("CACHE_ENABLED", &cfg.Cache.Enabled)
	setInt("CACHE_MAX_SIZE", &cfg.Cache.MaxSize)
	setDuration("CACHE_TTL", &cfg.Cache.TTL)

	setInt("HOOKS_MAX_CONCURRENT", &cfg.Hooks.MaxConcurrent)
	setDuration("HOOKS_DELIVERY_TIMEOUT", &cfg.Hooks.DeliveryTimeout)

	setString("SERVER_ADDR", &cfg.Server.Addr)

	setString("LOG_LEVEL", &cfg.Logging.Level)
	setString("LOG_FILE", &cfg.Logging.File)

	setBool("TRACING_ENABLED", &cfg.Tracing.Enabled)
	setString("TRACING_EXPORTER", &cfg.Tracing.Exporter)
	setString("TRACING_ENDPOINT", &cfg.Tracing.Endpoint)
	setFloat("TRACING_SAMPLE_RATIO", &cfg.Tracing.SampleRatio)

	return envErr
}
