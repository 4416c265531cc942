package config

import (
	"strings"
	"testing"
)

func TestValidateDefaultsPass(t *testing.T) {
	cfg := Defaults()
	if err := Validate(cfg); err != nil {
		t.Fatalf("Defaults should pass validation: %v", err)
	}
}

func TestValidateMaxConcurrentAgentsZero(t *testing.T) {
	cfg := Defaults()
	cfg.Orchestrator.MaxConcurrentAgents = 0
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation error")
	}
	assertContains(t, err.Error(), "orchestrator.max_concurrent_agents must be > 0")
}

func TestValidateIdleTimeoutNeedsSweepInterval(t *testing.T) {
	cfg := Defaults()
	cfg.Orchestrator.SweepInterval = 0
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation error")
	}
	assertContains(t, err.Error(), "orchestrator.sweep_interval must be > 0")

	cfg.Orchestrator.AgentIdleTimeoutMinutes = 0
	if err := Validate(cfg); err != nil {
		t.Errorf("disabled idle timeout should not require a sweep interval: %v", err)
	}
}

func TestValidateNegativeLimits(t *testing.T) {
	cfg := Defaults()
	cfg.Orchestrator.AgentIdleTimeoutMinutes = -1
	cfg.Orchestrator.MaxSubAgentsPerAgent = -1
	cfg.Router.MaxQueueSize = -1
	cfg.Router.MaxRetries = -1
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation error")
	}
	ve, ok := err.(*ValidationError)
	if !ok {
		t.Fatalf("error type = %T, want *ValidationError", err)
	}
	if len(ve.Errors) != 4 {
		t.Errorf("got %d errors, want 4: %v", len(ve.Errors), ve.Errors)
	}
}

func TestValidateZeroQueueAllowed(t *testing.T) {
	cfg := Defaults()
	cfg.Router.MaxQueueSize = 0
	if err := Validate(cfg); err != nil {
		t.Errorf("max_queue_size 0 should be valid: %v", err)
	}
}

func TestValidateDefaultPersonaTypeEmpty(t *testing.T) {
	cfg := Defaults()
	cfg.Orchestrator.DefaultPersonaType = "  "
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation error")
	}
	assertContains(t, err.Error(), "orchestrator.default_persona_type is required")
}

func TestValidateRateLimitBurst(t *testing.T) {
	cfg := Defaults()
	cfg.Router.RateLimitPerSecond = 2
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation error")
	}
	assertContains(t, err.Error(), "router.rate_limit_burst must be > 0")
}

func TestValidateStoreBackend(t *testing.T) {
	cfg := Defaults()
	cfg.Store.Backend = "postgres"
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation error")
	}
	assertContains(t, err.Error(), `store.backend "postgres" is not supported`)

	cfg.Store.Backend = "sqlite"
	cfg.Store.Path = ""
	err = Validate(cfg)
	if err == nil {
		t.Fatal("expected validation error")
	}
	assertContains(t, err.Error(), "store.path is required")
}

func TestValidateLogger(t *testing.T) {
	cfg := Defaults()
	cfg.Logger.Level = "verbose"
	cfg.Logger.Format = "xml"
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation error")
	}
	assertContains(t, err.Error(), `logger.level "verbose"`)
	assertContains(t, err.Error(), `logger.format "xml"`)
}

func TestValidateTracerExporter(t *testing.T) {
	cfg := Defaults()
	cfg.Tracer.Exporter = "jaeger"
	if err := Validate(cfg); err != nil {
		t.Errorf("disabled tracer should not validate exporter: %v", err)
	}
	cfg.Tracer.Enabled = true
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation error")
	}
	assertContains(t, err.Error(), `tracer.exporter "jaeger"`)
}

func TestValidationErrorFormat(t *testing.T) {
	ve := &ValidationError{}
	if ve.HasErrors() {
		t.Error("empty ValidationError should report no errors")
	}
	ve.Add("first %d", 1)
	ve.Add("second")
	if !ve.HasErrors() {
		t.Error("HasErrors should be true")
	}
	want := "config validation failed:\n  - first 1\n  - second"
	if ve.Error() != want {
		t.Errorf("Error() = %q, want %q", ve.Error(), want)
	}
}

func assertContains(t *testing.T, s, substr string) {
	t.Helper()
	if !strings.Contains(s, substr) {
		t.Errorf("expected %q to contain %q", s, substr)
	}
}
