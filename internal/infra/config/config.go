package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Router       RouterConfig       `yaml:"router"`
	Store        StoreConfig        `yaml:"store"`
	Personas     PersonasConfig     `yaml:"personas"`
	Logger       LoggerConfig       `yaml:"logger"`
	Tracer       TracerConfig       `yaml:"tracer"`
}

// OrchestratorConfig holds agent lifecycle, spawning and sub-agent limits.
type OrchestratorConfig struct {
	MaxConcurrentAgents       int           `yaml:"max_concurrent_agents"`
	AgentIdleTimeoutMinutes   int           `yaml:"agent_idle_timeout_minutes"` // 0 disables sweeping
	SweepInterval             time.Duration `yaml:"sweep_interval"`
	MaxSubAgentsPerAgent      int           `yaml:"max_sub_agents_per_agent"`
	AutoTerminateOnCompletion bool          `yaml:"auto_terminate_on_completion"`
	DefaultPersonaType        string        `yaml:"default_persona_type"`
	CascadeTerminate          bool          `yaml:"cascade_terminate"`
}

// IdleTimeout returns the idle timeout as a duration.
func (o OrchestratorConfig) IdleTimeout() time.Duration {
	return time.Duration(o.AgentIdleTimeoutMinutes) * time.Minute
}

// RouterConfig holds message routing settings.
type RouterConfig struct {
	EnableBroadcast       bool    `yaml:"enable_broadcast"`
	MaxQueueSize          int     `yaml:"max_queue_size"`
	RetryFailedDeliveries bool    `yaml:"retry_failed_deliveries"` // reserved
	MaxRetries            int     `yaml:"max_retries"`             // reserved
	SerializePerRecipient bool    `yaml:"serialize_per_recipient"`
	RateLimitPerSecond    float64 `yaml:"rate_limit_per_second"` // 0 disables
	RateLimitBurst        int     `yaml:"rate_limit_burst"`
	SchemaValidation      bool    `yaml:"schema_validation"`
}

// StoreConfig selects the AgentStore/ChannelManager backend.
type StoreConfig struct {
	Backend string        `yaml:"backend"` // "memory" or "sqlite"
	Path    string        `yaml:"path"`    // sqlite database file
	Breaker BreakerConfig `yaml:"breaker"`
}

// BreakerConfig configures the circuit breaker around channel storage.
type BreakerConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
	Interval    time.Duration `yaml:"interval"`
}

// PersonasConfig points at an optional persona definition file.
type PersonasConfig struct {
	File         string `yaml:"file"`
	SkipBuiltins bool   `yaml:"skip_builtins"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"`
}

// defaultDataDir returns the persistent data directory under $HOME/.secureagent/data.
// Falls back to "./data" if $HOME cannot be determined.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./data"
	}
	return filepath.Join(home, ".secureagent", "data")
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Orchestrator: OrchestratorConfig{
			MaxConcurrentAgents:       10,
			AgentIdleTimeoutMinutes:   30,
			SweepInterval:             time.Minute,
			MaxSubAgentsPerAgent:      5,
			AutoTerminateOnCompletion: true,
			DefaultPersonaType:        "general",
		},
		Router: RouterConfig{
			EnableBroadcast:  true,
			MaxQueueSize:     100,
			MaxRetries:       3,
			SchemaValidation: true,
		},
		Store: StoreConfig{
			Backend: "memory",
			Path:    filepath.Join(defaultDataDir(), "orchestrator.db"),
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Exporter: "noop",
		},
	}
}

// Load reads a YAML config file, applies env var overrides and validates the result.
// A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		if err := validatePermissions(path); err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	ApplyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides maps SECUREAGENT_* env vars to config fields.
func ApplyEnvOverrides(cfg *Config) {
	if v, ok := envInt("SECUREAGENT_MAX_CONCURRENT_AGENTS"); ok {
		cfg.Orchestrator.MaxConcurrentAgents = v
	}
	if v, ok := envInt("SECUREAGENT_AGENT_IDLE_TIMEOUT_MINUTES"); ok {
		cfg.Orchestrator.AgentIdleTimeoutMinutes = v
	}
	if v, ok := envInt("SECUREAGENT_MAX_SUB_AGENTS_PER_AGENT"); ok {
		cfg.Orchestrator.MaxSubAgentsPerAgent = v
	}
	if v, ok := envBool("SECUREAGENT_AUTO_TERMINATE_ON_COMPLETION"); ok {
		cfg.Orchestrator.AutoTerminateOnCompletion = v
	}
	if v := os.Getenv("SECUREAGENT_DEFAULT_PERSONA_TYPE"); v != "" {
		cfg.Orchestrator.DefaultPersonaType = v
	}
	if v, ok := envBool("SECUREAGENT_CASCADE_TERMINATE"); ok {
		cfg.Orchestrator.CascadeTerminate = v
	}
	if v, ok := envBool("SECUREAGENT_ENABLE_BROADCAST"); ok {
		cfg.Router.EnableBroadcast = v
	}
	if v, ok := envInt("SECUREAGENT_MAX_QUEUE_SIZE"); ok {
		cfg.Router.MaxQueueSize = v
	}
	if v := os.Getenv("SECUREAGENT_STORE_BACKEND"); v != "" {
		cfg.Store.Backend = v
	}
	if v := os.Getenv("SECUREAGENT_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("SECUREAGENT_PERSONAS_FILE"); v != "" {
		cfg.Personas.File = v
	}
	if v := os.Getenv("SECUREAGENT_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("SECUREAGENT_LOGGER_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv("SECUREAGENT_TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := os.Getenv("SECUREAGENT_TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}
}

func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func envBool(key string) (bool, bool) {
	v := os.Getenv(key)
	if v == "" {
		return false, false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, false
	}
	return b, true
}

// validatePermissions checks the config file has restrictive permissions.
func validatePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat config: %w", err)
	}
	mode := info.Mode().Perm()
	// Readable by others is fine; writable by group or others is not.
	if mode&0o022 != 0 {
		return fmt.Errorf("config file %s has insecure permissions %o (want 0600 or 0644)", path, mode)
	}
	return nil
}
