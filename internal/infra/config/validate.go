package config

import (
	"fmt"
	"strings"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...interface{}) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a *ValidationError
// when one or more problems are found, allowing callers to inspect all issues.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateOrchestrator(cfg, ve)
	validateRouter(cfg, ve)
	validateStore(cfg, ve)
	validateLogger(cfg, ve)
	validateTracer(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

func validateOrchestrator(cfg *Config, ve *ValidationError) {
	o := cfg.Orchestrator
	if o.MaxConcurrentAgents <= 0 {
		ve.Add("orchestrator.max_concurrent_agents must be > 0")
	}
	if o.AgentIdleTimeoutMinutes < 0 {
		ve.Add("orchestrator.agent_idle_timeout_minutes must be >= 0")
	}
	if o.AgentIdleTimeoutMinutes > 0 && o.SweepInterval <= 0 {
		ve.Add("orchestrator.sweep_interval must be > 0 when idle timeout is enabled")
	}
	if o.MaxSubAgentsPerAgent < 0 {
		ve.Add("orchestrator.max_sub_agents_per_agent must be >= 0")
	}
	if strings.TrimSpace(o.DefaultPersonaType) == "" {
		ve.Add("orchestrator.default_persona_type is required")
	}
}

func validateRouter(cfg *Config, ve *ValidationError) {
	r := cfg.Router
	if r.MaxQueueSize < 0 {
		ve.Add("router.max_queue_size must be >= 0")
	}
	if r.MaxRetries < 0 {
		ve.Add("router.max_retries must be >= 0")
	}
	if r.RateLimitPerSecond < 0 {
		ve.Add("router.rate_limit_per_second must be >= 0")
	}
	if r.RateLimitPerSecond > 0 && r.RateLimitBurst <= 0 {
		ve.Add("router.rate_limit_burst must be > 0 when rate limiting is enabled")
	}
}

func validateStore(cfg *Config, ve *ValidationError) {
	switch cfg.Store.Backend {
	case "memory":
	case "sqlite":
		if cfg.Store.Path == "" {
			ve.Add("store.path is required for the sqlite backend")
		}
	default:
		ve.Add("store.backend %q is not supported (want memory or sqlite)", cfg.Store.Backend)
	}
	if b := cfg.Store.Breaker; b.Enabled {
		if b.Timeout < 0 || b.Interval < 0 {
			ve.Add("store.breaker durations must be >= 0")
		}
	}
}

func validateLogger(cfg *Config, ve *ValidationError) {
	switch strings.ToLower(cfg.Logger.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		ve.Add("logger.level %q is not supported", cfg.Logger.Level)
	}
	switch strings.ToLower(cfg.Logger.Format) {
	case "", "text", "json":
	default:
		ve.Add("logger.format %q is not supported (want text or json)", cfg.Logger.Format)
	}
}

func validateTracer(cfg *Config, ve *ValidationError) {
	if !cfg.Tracer.Enabled {
		return
	}
	switch cfg.Tracer.Exporter {
	case "", "noop", "stdout":
	default:
		ve.Add("tracer.exporter %q is not supported (want stdout or noop)", cfg.Tracer.Exporter)
	}
}
