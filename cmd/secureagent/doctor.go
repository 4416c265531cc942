package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Francosimon53/secureagent-sub018/internal/adapter/store"
	"github.com/Francosimon53/secureagent-sub018/internal/infra/config"
	"github.com/Francosimon53/secureagent-sub018/internal/infra/logger"
)

// CheckStatus represents the result of a health check.
type CheckStatus string

const (
	StatusPass CheckStatus = "PASS"
	StatusWarn CheckStatus = "WARN"
	StatusFail CheckStatus = "FAIL"
)

// CheckResult holds the outcome of a single health check.
type CheckResult struct {
	Name    string
	Status  CheckStatus
	Message string
	Fix     string // optional fix suggestion
}

// Check is a named health check function.
type Check struct {
	Name string
	Fn   func(cfg *config.Config) CheckResult
}

// runDoctor executes all health checks and reports results.
func runDoctor() error {
	cfgPath := configPath()
	cfg, cfgErr := config.Load(cfgPath)

	checks := []Check{
		{Name: "Config file", Fn: checkConfigFile(cfgPath, cfgErr)},
		{Name: "Agent store", Fn: checkStore},
		{Name: "Personas", Fn: checkPersonas},
		{Name: "Capacity", Fn: checkCapacity},
	}

	fmt.Println("secureagent doctor")
	fmt.Println(strings.Repeat("=", 50))
	fmt.Println()

	var pass, warn, fail int
	for _, check := range checks {
		result := check.Fn(cfg)
		result.Name = check.Name

		fmt.Printf("  %s %s: %s\n", statusIcon(result.Status), result.Name, result.Message)
		if result.Fix != "" {
			fmt.Printf("      Fix: %s\n", result.Fix)
		}

		switch result.Status {
		case StatusPass:
			pass++
		case StatusWarn:
			warn++
		case StatusFail:
			fail++
		}
	}

	fmt.Println()
	fmt.Println(strings.Repeat("-", 50))
	fmt.Printf("Results: %d passed, %d warnings, %d failed\n", pass, warn, fail)
	if fail > 0 {
		return fmt.Errorf("%d check(s) failed", fail)
	}
	return nil
}

func statusIcon(s CheckStatus) string {
	switch s {
	case StatusPass:
		return "[PASS]"
	case StatusWarn:
		return "[WARN]"
	case StatusFail:
		return "[FAIL]"
	default:
		return "[????]"
	}
}

// checkConfigFile reports whether the config file exists and loads cleanly.
// A missing file is a warning since defaults apply.
func checkConfigFile(cfgPath string, cfgErr error) func(*config.Config) CheckResult {
	return func(_ *config.Config) CheckResult {
		if cfgErr != nil {
			return CheckResult{
				Status:  StatusFail,
				Message: fmt.Sprintf("config error: %v", cfgErr),
				Fix:     "Run 'secureagent validate' and fix the reported fields",
			}
		}
		if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
			return CheckResult{
				Status:  StatusWarn,
				Message: fmt.Sprintf("no config file at %s, using defaults", cfgPath),
			}
		}
		return CheckResult{
			Status:  StatusPass,
			Message: fmt.Sprintf("config loaded from %s", cfgPath),
		}
	}
}

// checkStore opens the configured backend once.
func checkStore(cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Status: StatusFail, Message: "cannot check: config not loaded"}
	}
	if cfg.Store.Backend != "sqlite" {
		return CheckResult{Status: StatusPass, Message: "memory backend (no persistence)"}
	}

	absPath, _ := filepath.Abs(cfg.Store.Path)
	s, err := store.NewSQLiteStore(absPath)
	if err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("cannot open sqlite store at %s: %v", absPath, err),
			Fix:     fmt.Sprintf("Check permissions on %s", filepath.Dir(absPath)),
		}
	}
	_ = s.Close()
	return CheckResult{Status: StatusPass, Message: fmt.Sprintf("sqlite store at %s", absPath)}
}

// checkPersonas loads the persona set and confirms the default type resolves.
func checkPersonas(cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Status: StatusFail, Message: "cannot check: config not loaded"}
	}
	reg, err := loadPersonas(cfg.Personas, logger.Discard())
	if err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("persona file: %v", err),
			Fix:     "Every persona needs an id and a type",
		}
	}
	if _, err := reg.GetByType(cfg.Orchestrator.DefaultPersonaType); err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("default persona type %q is not registered", cfg.Orchestrator.DefaultPersonaType),
			Fix:     "Set orchestrator.default_persona_type to a registered type",
		}
	}
	return CheckResult{Status: StatusPass, Message: fmt.Sprintf("%d personas available", len(reg.List()))}
}

// checkCapacity flags limits that make sub-agents unusable.
func checkCapacity(cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Status: StatusFail, Message: "cannot check: config not loaded"}
	}
	o := cfg.Orchestrator
	switch {
	case o.MaxSubAgentsPerAgent == 0:
		return CheckResult{
			Status:  StatusWarn,
			Message: "max_sub_agents_per_agent is 0, sub-agents are disabled",
		}
	case o.MaxConcurrentAgents < 2 && o.MaxSubAgentsPerAgent > 0:
		return CheckResult{
			Status:  StatusWarn,
			Message: "max_concurrent_agents leaves no room for sub-agents",
			Fix:     "Raise orchestrator.max_concurrent_agents",
		}
	}
	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("%d agents, %d sub-agents per parent", o.MaxConcurrentAgents, o.MaxSubAgentsPerAgent),
	}
}
