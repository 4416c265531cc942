// Package subagent creates agents under a parent and enforces the per-parent cap.
package subagent

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/Francosimon53/secureagent-sub018/internal/domain"
	"github.com/Francosimon53/secureagent-sub018/internal/usecase/lifecycle"
)

// Lifecycle is the subset of the lifecycle manager the factory drives.
type Lifecycle interface {
	CreateAgent(ctx context.Context, p lifecycle.CreateParams) (*domain.OrchestratedAgent, error)
	GetAgent(ctx context.Context, id string) (*domain.OrchestratedAgent, error)
	GetSubAgents(ctx context.Context, parentID string) ([]*domain.OrchestratedAgent, error)
	SetWorking(ctx context.Context, id, task string) (*domain.OrchestratedAgent, error)
	SetIdle(ctx context.Context, id string) (*domain.OrchestratedAgent, error)
	SetMetadata(ctx context.Context, id string, kv map[string]any) (*domain.OrchestratedAgent, error)
	RecordTaskCompletion(ctx context.Context, id string, success bool, d time.Duration) (*domain.OrchestratedAgent, error)
	Terminate(ctx context.Context, id, reason string) (bool, error)
}

// Config controls sub-agent limits and completion behavior.
type Config struct {
	MaxSubAgentsPerAgent int // 0 forbids sub-agents
	AutoTerminate        bool
	DefaultPersonaType   string
}

// Request describes one sub-agent.
type Request struct {
	ParentAgentID string
	Task          string
	PersonaType   string
	PersonaID     string // wins over PersonaType
	ChannelID     string // inherited from the parent when empty
	Metadata      map[string]any
}

// Result is what a sub-agent reports when its task ends.
type Result struct {
	Success  bool
	Output   string
	Error    string
	Duration time.Duration
}

// Factory creates sub-agents. Check-and-create is serialized so concurrent
// requests each observe the cap as it stands when they run.
type Factory struct {
	lifecycle Lifecycle
	personas  domain.PersonaRegistry
	bus       domain.EventBus
	config    Config
	logger    *slog.Logger

	mu sync.Mutex
}

// NewFactory creates a sub-agent factory. bus may be nil.
func NewFactory(lc Lifecycle, personas domain.PersonaRegistry, bus domain.EventBus, cfg Config, logger *slog.Logger) *Factory {
	if cfg.DefaultPersonaType == "" {
		cfg.DefaultPersonaType = "general"
	}
	return &Factory{
		lifecycle: lc,
		personas:  personas,
		bus:       bus,
		config:    cfg,
		logger:    logger.With("component", "subagent"),
	}
}

// CanCreateSubAgent reports whether parentID is below its sub-agent cap.
// Unknown parents report false.
func (f *Factory) CanCreateSubAgent(ctx context.Context, parentID string) (bool, error) {
	parent, err := f.lifecycle.GetAgent(ctx, parentID)
	if err != nil || parent == nil {
		return false, err
	}
	active, err := f.activeChildren(ctx, parentID)
	if err != nil {
		return false, err
	}
	return active < f.config.MaxSubAgentsPerAgent, nil
}

// CreateSubAgent creates one sub-agent and, when a task is given, starts it working.
func (f *Factory) CreateSubAgent(ctx context.Context, req Request) (*domain.OrchestratedAgent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.createLocked(ctx, req)
}

func (f *Factory) createLocked(ctx context.Context, req Request) (*domain.OrchestratedAgent, error) {
	const op = "SubAgentFactory.CreateSubAgent"

	parent, err := f.lifecycle.GetAgent(ctx, req.ParentAgentID)
	if err != nil {
		return nil, domain.WrapOp(op, err)
	}
	if parent == nil {
		return nil, domain.NewSubSystemError(domain.SubSystemParent, op, domain.ErrNotFound, req.ParentAgentID)
	}

	active, err := f.activeChildren(ctx, parent.ID)
	if err != nil {
		return nil, domain.WrapOp(op, err)
	}
	if active >= f.config.MaxSubAgentsPerAgent {
		return nil, domain.NewSubSystemError(domain.SubSystemSubAgent, op, domain.ErrLimitReached,
			fmt.Sprintf("parent %q has %d/%d active sub-agents", parent.ID, active, f.config.MaxSubAgentsPerAgent))
	}

	persona, err := f.resolvePersona(req.PersonaID, req.PersonaType)
	if err != nil {
		return nil, domain.WrapOp(op, err)
	}

	channelID := req.ChannelID
	if channelID == "" {
		channelID = parent.ChannelID
	}
	agent, err := f.lifecycle.CreateAgent(ctx, lifecycle.CreateParams{
		Persona:       persona,
		ChannelID:     channelID,
		ParentAgentID: parent.ID,
		Metadata:      maps.Clone(req.Metadata),
	})
	if err != nil {
		return nil, domain.WrapOp(op, err)
	}

	if req.Task != "" {
		working, err := f.lifecycle.SetWorking(ctx, agent.ID, req.Task)
		if err != nil {
			return nil, domain.WrapOp(op, err)
		}
		if working != nil {
			agent = working
		}
	}

	f.emit(ctx, domain.EventSubAgentCreated, agent.ID, map[string]any{
		"parent_agent_id": parent.ID,
		"persona_id":      persona.ID,
		"task":            req.Task,
	})
	f.logger.Info("sub-agent created", "agent_id", agent.ID, "parent", parent.ID, "persona", persona.ID)
	return agent, nil
}

// CreateSubAgents creates reqs under parentID one at a time, stopping at the
// first failure. Agents created before the failure are returned with the error
// and are not rolled back. Capacity is checked per request, not reserved up
// front, so callers racing outside this factory can leave a partial batch;
// pre-flight with CanCreateSubAgent when that matters.
func (f *Factory) CreateSubAgents(ctx context.Context, parentID string, reqs []Request) ([]*domain.OrchestratedAgent, error) {
	created := make([]*domain.OrchestratedAgent, 0, len(reqs))
	for i, req := range reqs {
		req.ParentAgentID = parentID
		agent, err := f.CreateSubAgent(ctx, req)
		if err != nil {
			return created, fmt.Errorf("sub-agent %d of %d: %w", i+1, len(reqs), err)
		}
		created = append(created, agent)
	}
	return created, nil
}

// CompleteSubAgent records the outcome of a sub-agent's task, stores the
// result in its metadata and returns it to idle, terminating it when
// AutoTerminate is set. Unknown agents yield (nil, nil).
func (f *Factory) CompleteSubAgent(ctx context.Context, id string, res Result) (*domain.OrchestratedAgent, error) {
	const op = "SubAgentFactory.CompleteSubAgent"

	agent, err := f.lifecycle.GetAgent(ctx, id)
	if err != nil || agent == nil {
		return nil, domain.WrapOp(op, err)
	}
	if !agent.IsSubAgent() {
		return nil, domain.NewSubSystemError(domain.SubSystemSubAgent, op, domain.ErrInvalidInput, id+" is not a sub-agent")
	}

	if _, err := f.lifecycle.RecordTaskCompletion(ctx, id, res.Success, res.Duration); err != nil {
		return nil, domain.WrapOp(op, err)
	}
	result := map[string]any{"result_success": res.Success}
	if res.Output != "" {
		result["result"] = res.Output
	}
	if res.Error != "" {
		result["result_error"] = res.Error
	}
	if _, err := f.lifecycle.SetMetadata(ctx, id, result); err != nil {
		return nil, domain.WrapOp(op, err)
	}
	if _, err := f.lifecycle.SetIdle(ctx, id); err != nil {
		return nil, domain.WrapOp(op, err)
	}
	if f.config.AutoTerminate {
		if _, err := f.lifecycle.Terminate(ctx, id, "task completed"); err != nil {
			return nil, domain.WrapOp(op, err)
		}
	}

	f.emit(ctx, domain.EventSubAgentCompleted, id, map[string]any{
		"parent_agent_id": agent.ParentAgentID,
		"success":         res.Success,
		"terminated":      f.config.AutoTerminate,
	})
	final, err := f.lifecycle.GetAgent(ctx, id)
	return final, domain.WrapOp(op, err)
}

// GetSubAgents returns every child of parentID.
func (f *Factory) GetSubAgents(ctx context.Context, parentID string) ([]*domain.OrchestratedAgent, error) {
	return f.lifecycle.GetSubAgents(ctx, parentID)
}

func (f *Factory) activeChildren(ctx context.Context, parentID string) (int, error) {
	children, err := f.lifecycle.GetSubAgents(ctx, parentID)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, c := range children {
		if c.IsActive() {
			n++
		}
	}
	return n, nil
}

func (f *Factory) resolvePersona(id, personaType string) (domain.AgentPersona, error) {
	switch {
	case id != "":
		return f.personas.Get(id)
	case personaType != "":
		return f.personas.GetByType(personaType)
	default:
		return f.personas.GetByType(f.config.DefaultPersonaType)
	}
}

func (f *Factory) emit(ctx context.Context, eventType domain.EventType, agentID string, payload any) {
	if f.bus == nil {
		return
	}
	ev := domain.NewEvent(eventType, domain.SourceSubAgent, payload)
	ev.AgentID = agentID
	f.bus.Publish(ctx, ev)
}
