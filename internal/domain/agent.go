package domain

import (
	"maps"
	"slices"
	"time"
)

// AgentStatus is the lifecycle state of an orchestrated agent.
type AgentStatus string

const (
	AgentStatusIdle       AgentStatus = "idle"
	AgentStatusWorking    AgentStatus = "working"
	AgentStatusWaiting    AgentStatus = "waiting"
	AgentStatusError      AgentStatus = "error"
	AgentStatusTerminated AgentStatus = "terminated"
)

// Valid reports whether s is a known status.
func (s AgentStatus) Valid() bool {
	switch s {
	case AgentStatusIdle, AgentStatusWorking, AgentStatusWaiting, AgentStatusError, AgentStatusTerminated:
		return true
	}
	return false
}

// IsTerminal reports whether no further transitions are accepted from s.
func (s AgentStatus) IsTerminal() bool { return s == AgentStatusTerminated }

// transitions lists the allowed target states per source state.
// Staying in the same non-terminal state is always allowed (it refreshes activity).
var transitions = map[AgentStatus][]AgentStatus{
	AgentStatusIdle:    {AgentStatusWorking, AgentStatusWaiting, AgentStatusError, AgentStatusTerminated},
	AgentStatusWorking: {AgentStatusIdle, AgentStatusWaiting, AgentStatusError, AgentStatusTerminated},
	AgentStatusWaiting: {AgentStatusIdle, AgentStatusWorking, AgentStatusError, AgentStatusTerminated},
	AgentStatusError:   {AgentStatusIdle, AgentStatusTerminated},
}

// CanTransition reports whether an agent in status from may move to status to.
func CanTransition(from, to AgentStatus) bool {
	if from.IsTerminal() || !to.Valid() {
		return false
	}
	if from == to {
		return true
	}
	return slices.Contains(transitions[from], to)
}

// ModelConfig describes the model an agent persona runs on.
type ModelConfig struct {
	Provider    string         `json:"provider,omitempty"    yaml:"provider,omitempty"`
	Model       string         `json:"model,omitempty"       yaml:"model,omitempty"`
	Temperature *float64       `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	MaxTokens   int            `json:"max_tokens,omitempty"  yaml:"max_tokens,omitempty"`
	Extra       map[string]any `json:"extra,omitempty"       yaml:"extra,omitempty"`
}

// AgentPersona is a named template an agent is instantiated with.
type AgentPersona struct {
	ID           string      `json:"id"                      yaml:"id"`
	Name         string      `json:"name"                    yaml:"name"`
	Type         string      `json:"type"                    yaml:"type"`
	Description  string      `json:"description,omitempty"   yaml:"description,omitempty"`
	SystemPrompt string      `json:"system_prompt,omitempty" yaml:"system_prompt,omitempty"`
	ModelConfig  ModelConfig `json:"model_config"            yaml:"model_config"`
	Capabilities []string    `json:"capabilities,omitempty"  yaml:"capabilities,omitempty"`
	Constraints  []string    `json:"constraints,omitempty"   yaml:"constraints,omitempty"`
}

// Clone returns a deep copy of the persona.
func (p AgentPersona) Clone() AgentPersona {
	out := p
	if p.ModelConfig.Temperature != nil {
		t := *p.ModelConfig.Temperature
		out.ModelConfig.Temperature = &t
	}
	out.ModelConfig.Extra = maps.Clone(p.ModelConfig.Extra)
	out.Capabilities = slices.Clone(p.Capabilities)
	out.Constraints = slices.Clone(p.Constraints)
	return out
}

// AgentMetrics tracks per-agent task accounting.
type AgentMetrics struct {
	TasksCompleted    int           `json:"tasks_completed"`
	TasksFailed       int           `json:"tasks_failed"`
	ErrorCount        int           `json:"error_count"`
	TotalTaskDuration time.Duration `json:"total_task_duration"`
	Uptime            time.Duration `json:"uptime"`
}

// OrchestratedAgent is the identity and runtime state of one agent.
// Values returned by the control plane are copies; mutate only through
// the lifecycle manager.
type OrchestratedAgent struct {
	ID             string         `json:"id"`
	Persona        AgentPersona   `json:"persona"`
	Status         AgentStatus    `json:"status"`
	ChannelID      string         `json:"channel_id,omitempty"`
	ParentAgentID  string         `json:"parent_agent_id,omitempty"`
	CurrentTask    string         `json:"current_task,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	LastActivityAt time.Time      `json:"last_activity_at"`
	TerminatedAt   *time.Time     `json:"terminated_at,omitempty"`
	Metrics        AgentMetrics   `json:"metrics"`
}

// IsActive reports whether the agent counts against concurrency caps.
func (a *OrchestratedAgent) IsActive() bool { return a.Status != AgentStatusTerminated }

// IsSubAgent reports whether the agent was created under a parent.
func (a *OrchestratedAgent) IsSubAgent() bool { return a.ParentAgentID != "" }

// Clone returns a deep copy of the agent. Metadata values are copied shallowly.
func (a *OrchestratedAgent) Clone() *OrchestratedAgent {
	if a == nil {
		return nil
	}
	out := *a
	out.Persona = a.Persona.Clone()
	out.Metadata = maps.Clone(a.Metadata)
	if a.TerminatedAt != nil {
		t := *a.TerminatedAt
		out.TerminatedAt = &t
	}
	return &out
}

// Snapshot returns a copy with Metrics.Uptime computed against now.
// Uptime stops counting at termination.
func (a *OrchestratedAgent) Snapshot(now time.Time) *OrchestratedAgent {
	out := a.Clone()
	if out == nil {
		return nil
	}
	end := now
	if out.TerminatedAt != nil {
		end = *out.TerminatedAt
	}
	if end.After(out.CreatedAt) {
		out.Metrics.Uptime = end.Sub(out.CreatedAt)
	}
	return out
}
