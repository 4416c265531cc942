package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/Francosimon53/secureagent-sub018/internal/infra/config"
)

func writeTestFile(t *testing.T, path, content string) error {
	t.Helper()
	return os.WriteFile(path, []byte(content), 0o600)
}

func TestCheckConfigFile_Missing(t *testing.T) {
	result := checkConfigFile("/nonexistent/secureagent.yaml", nil)(nil)
	if result.Status != StatusWarn {
		t.Errorf("expected WARN for missing config, got %s", result.Status)
	}
}

func TestCheckConfigFile_LoadError(t *testing.T) {
	result := checkConfigFile("/whatever", &config.ValidationError{Errors: []string{"bad"}})(nil)
	if result.Status != StatusFail {
		t.Errorf("expected FAIL for load error, got %s", result.Status)
	}
	if result.Fix == "" {
		t.Error("expected fix suggestion")
	}
}

func TestCheckConfigFile_Valid(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "secureagent.yaml")
	if err := writeTestFile(t, cfgPath, "orchestrator:\n  max_concurrent_agents: 3\n"); err != nil {
		t.Fatal(err)
	}
	result := checkConfigFile(cfgPath, nil)(nil)
	if result.Status != StatusPass {
		t.Errorf("expected PASS, got %s: %s", result.Status, result.Message)
	}
}

func TestCheckStore(t *testing.T) {
	if r := checkStore(nil); r.Status != StatusFail {
		t.Errorf("nil config: expected FAIL, got %s", r.Status)
	}

	cfg := config.Defaults()
	if r := checkStore(cfg); r.Status != StatusPass {
		t.Errorf("memory backend: expected PASS, got %s", r.Status)
	}

	cfg.Store.Backend = "sqlite"
	cfg.Store.Path = filepath.Join(t.TempDir(), "nested", "orchestrator.db")
	if r := checkStore(cfg); r.Status != StatusPass {
		t.Errorf("sqlite backend: expected PASS, got %s: %s", r.Status, r.Message)
	}
}

func TestCheckPersonas(t *testing.T) {
	cfg := config.Defaults()
	if r := checkPersonas(cfg); r.Status != StatusPass {
		t.Errorf("builtins: expected PASS, got %s: %s", r.Status, r.Message)
	}

	cfg.Orchestrator.DefaultPersonaType = "astronaut"
	if r := checkPersonas(cfg); r.Status != StatusFail {
		t.Errorf("unknown default type: expected FAIL, got %s", r.Status)
	}

	cfg = config.Defaults()
	cfg.Personas.File = filepath.Join(t.TempDir(), "personas.yaml")
	if err := writeTestFile(t, cfg.Personas.File, "personas:\n  - name: no id\n"); err != nil {
		t.Fatal(err)
	}
	if r := checkPersonas(cfg); r.Status != StatusFail {
		t.Errorf("invalid persona file: expected FAIL, got %s", r.Status)
	}
}

func TestCheckCapacity(t *testing.T) {
	cfg := config.Defaults()
	if r := checkCapacity(cfg); r.Status != StatusPass {
		t.Errorf("defaults: expected PASS, got %s", r.Status)
	}
	cfg.Orchestrator.MaxSubAgentsPerAgent = 0
	if r := checkCapacity(cfg); r.Status != StatusWarn {
		t.Errorf("no sub-agents: expected WARN, got %s", r.Status)
	}
	cfg.Orchestrator.MaxSubAgentsPerAgent = 2
	cfg.Orchestrator.MaxConcurrentAgents = 1
	if r := checkCapacity(cfg); r.Status != StatusWarn {
		t.Errorf("cap of one: expected WARN, got %s", r.Status)
	}
}

func TestStatusIcon(t *testing.T) {
	if statusIcon(StatusPass) != "[PASS]" || statusIcon(CheckStatus("x")) != "[????]" {
		t.Error("unexpected icon")
	}
}
