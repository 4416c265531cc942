package domain

import "context"

// AgentFilter narrows AgentStore.List results. Zero fields match everything.
type AgentFilter struct {
	Status        AgentStatus
	ChannelID     string
	ParentAgentID string
	ActiveOnly    bool
}

// Matches reports whether a satisfies the filter.
func (f AgentFilter) Matches(a *OrchestratedAgent) bool {
	if f.Status != "" && a.Status != f.Status {
		return false
	}
	if f.ChannelID != "" && a.ChannelID != f.ChannelID {
		return false
	}
	if f.ParentAgentID != "" && a.ParentAgentID != f.ParentAgentID {
		return false
	}
	if f.ActiveOnly && !a.IsActive() {
		return false
	}
	return true
}

// AgentStore is the source of truth for agent existence, status and counts.
type AgentStore interface {
	// Create persists a new agent. Returns ErrDuplicate if the id exists.
	Create(ctx context.Context, agent *OrchestratedAgent) error
	// Update replaces a stored agent. Returns ErrNotFound if the id is unknown.
	Update(ctx context.Context, agent *OrchestratedAgent) error
	// Get returns a copy of the agent, or ErrNotFound.
	Get(ctx context.Context, id string) (*OrchestratedAgent, error)
	// List returns copies of matching agents in creation order.
	List(ctx context.Context, filter AgentFilter) ([]*OrchestratedAgent, error)
	// CountActive returns the number of agents whose status is not terminated.
	CountActive(ctx context.Context) (int, error)
}

// ChannelManager owns channel membership and message persistence.
type ChannelManager interface {
	// StoreMessage records a routed message.
	StoreMessage(ctx context.Context, msg AgentMessage) error
	// GetParticipants returns the channel's agent ids in join order.
	GetParticipants(ctx context.Context, channelID string) ([]string, error)
}

// PersonaRegistry supplies named persona templates.
type PersonaRegistry interface {
	// Get returns the persona with the given id, or ErrNotFound.
	Get(id string) (AgentPersona, error)
	// GetByType returns the preferred persona of the given type, or ErrNotFound.
	GetByType(personaType string) (AgentPersona, error)
	// List returns every registered persona.
	List() []AgentPersona
}
