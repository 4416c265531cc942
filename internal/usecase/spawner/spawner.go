// Package spawner creates top-level agents and sub-agents under a global
// concurrency cap.
package spawner

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/Francosimon53/secureagent-sub018/internal/domain"
	"github.com/Francosimon53/secureagent-sub018/internal/infra/tracer"
	"github.com/Francosimon53/secureagent-sub018/internal/usecase/lifecycle"
	"github.com/Francosimon53/secureagent-sub018/internal/usecase/subagent"
)

// Config controls the global cap and persona fallback.
type Config struct {
	MaxConcurrentAgents int
	DefaultPersonaType  string
}

// Request describes one top-level agent.
type Request struct {
	ID            string // generated when empty
	PersonaType   string
	PersonaID     string               // wins over PersonaType
	CustomPersona *domain.AgentPersona // merged over the resolved persona
	ChannelID     string
	InitialTask   string // starts the agent working when set
	Metadata      map[string]any
}

// Spawner is the entry point for creating agents. Every creation holds a
// reserved slot until the agent is visible in the store, so concurrent
// spawns cannot overshoot MaxConcurrentAgents.
type Spawner struct {
	lifecycle *lifecycle.Manager
	factory   *subagent.Factory
	personas  domain.PersonaRegistry
	bus       domain.EventBus
	config    Config
	logger    *slog.Logger

	mu       sync.Mutex
	reserved int
}

// New creates a Spawner. bus may be nil.
func New(lc *lifecycle.Manager, factory *subagent.Factory, personas domain.PersonaRegistry, bus domain.EventBus, cfg Config, logger *slog.Logger) *Spawner {
	if cfg.DefaultPersonaType == "" {
		cfg.DefaultPersonaType = "general"
	}
	return &Spawner{
		lifecycle: lc,
		factory:   factory,
		personas:  personas,
		bus:       bus,
		config:    cfg,
		logger:    logger.With("component", "spawner"),
	}
}

// Spawn creates a top-level agent.
func (s *Spawner) Spawn(ctx context.Context, req Request) (*domain.OrchestratedAgent, error) {
	const op = "Spawner.Spawn"

	ctx, span := tracer.StartSpan(ctx, "spawner.spawn",
		tracer.StringAttr(tracer.AttrPersonaType, req.PersonaType),
		tracer.StringAttr(tracer.AttrChannelID, req.ChannelID),
	)
	defer span.End()

	release, err := s.reserve(ctx, op, 1)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}
	defer release()

	agent, err := s.spawnOne(ctx, op, req)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}
	span.SetAttributes(
		tracer.StringAttr(tracer.AttrAgentID, agent.ID),
		tracer.StringAttr(tracer.AttrPersonaID, agent.Persona.ID),
	)
	tracer.SetOK(span)
	return agent, nil
}

// SpawnMultiple reserves a slot for every request up front and rejects the
// whole batch when they do not all fit. Creation then proceeds in order and
// stops at the first failure, returning the agents already created.
func (s *Spawner) SpawnMultiple(ctx context.Context, reqs []Request) ([]*domain.OrchestratedAgent, error) {
	const op = "Spawner.SpawnMultiple"

	if len(reqs) == 0 {
		return nil, nil
	}
	release, err := s.reserve(ctx, op, len(reqs))
	if err != nil {
		return nil, err
	}
	defer release()

	created := make([]*domain.OrchestratedAgent, 0, len(reqs))
	for i, req := range reqs {
		agent, err := s.spawnOne(ctx, op, req)
		if err != nil {
			return created, fmt.Errorf("agent %d of %d: %w", i+1, len(reqs), err)
		}
		created = append(created, agent)
	}
	return created, nil
}

// SpawnSubAgent creates a sub-agent through the factory while holding a global slot.
func (s *Spawner) SpawnSubAgent(ctx context.Context, req subagent.Request) (*domain.OrchestratedAgent, error) {
	const op = "Spawner.SpawnSubAgent"

	release, err := s.reserve(ctx, op, 1)
	if err != nil {
		return nil, err
	}
	defer release()

	agent, err := s.factory.CreateSubAgent(ctx, req)
	if err != nil {
		s.emit(ctx, domain.EventSpawnFailed, "", map[string]any{
			"parent_agent_id": req.ParentAgentID,
			"error":           err.Error(),
		})
		return nil, err
	}
	s.emit(ctx, domain.EventSpawnSuccess, agent.ID, map[string]any{
		"persona_id":      agent.Persona.ID,
		"parent_agent_id": agent.ParentAgentID,
	})
	return agent, nil
}

// SpawnSubAgents creates sub-agents of parentID, reserving global slots for the
// whole batch first. Partial results are returned with the first error.
func (s *Spawner) SpawnSubAgents(ctx context.Context, parentID string, reqs []subagent.Request) ([]*domain.OrchestratedAgent, error) {
	const op = "Spawner.SpawnSubAgents"

	if len(reqs) == 0 {
		return nil, nil
	}
	release, err := s.reserve(ctx, op, len(reqs))
	if err != nil {
		return nil, err
	}
	defer release()

	return s.factory.CreateSubAgents(ctx, parentID, reqs)
}

func (s *Spawner) spawnOne(ctx context.Context, op string, req Request) (*domain.OrchestratedAgent, error) {
	persona, err := s.resolvePersona(req)
	if err != nil {
		s.fail(ctx, op, req, err)
		return nil, domain.WrapOp(op, err)
	}

	agent, err := s.lifecycle.CreateAgent(ctx, lifecycle.CreateParams{
		ID:        req.ID,
		Persona:   persona,
		ChannelID: req.ChannelID,
		Metadata:  maps.Clone(req.Metadata),
	})
	if err != nil {
		s.fail(ctx, op, req, err)
		return nil, domain.WrapOp(op, err)
	}

	if req.InitialTask != "" {
		working, err := s.lifecycle.SetWorking(ctx, agent.ID, req.InitialTask)
		if err != nil {
			// The agent exists but the caller gets no handle to it.
			if _, terr := s.lifecycle.ForceTerminate(ctx, agent.ID, "initial task failed"); terr != nil {
				s.logger.Error("terminate unstarted agent", "agent_id", agent.ID, "error", terr)
			}
			s.fail(ctx, op, req, err)
			return nil, domain.WrapOp(op, err)
		}
		if working != nil {
			agent = working
		}
	}

	s.emit(ctx, domain.EventSpawnSuccess, agent.ID, map[string]any{
		"persona_id":   agent.Persona.ID,
		"persona_type": agent.Persona.Type,
		"channel_id":   agent.ChannelID,
	})
	s.logger.Info("agent spawned", "agent_id", agent.ID, "persona", agent.Persona.ID)
	return agent, nil
}

func (s *Spawner) resolvePersona(req Request) (domain.AgentPersona, error) {
	var (
		base domain.AgentPersona
		err  error
	)
	switch {
	case req.PersonaID != "":
		base, err = s.personas.Get(req.PersonaID)
	case req.PersonaType != "":
		base, err = s.personas.GetByType(req.PersonaType)
	default:
		base, err = s.personas.GetByType(s.config.DefaultPersonaType)
	}
	if err != nil {
		return domain.AgentPersona{}, err
	}
	if req.CustomPersona != nil {
		base = MergePersona(base, *req.CustomPersona)
	}
	return base, nil
}

// reserve claims n slots against the global cap and returns the release func.
func (s *Spawner) reserve(ctx context.Context, op string, n int) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	active, err := s.lifecycle.GetActiveCount(ctx)
	if err != nil {
		return nil, domain.WrapOp(op, err)
	}
	if active+s.reserved+n > s.config.MaxConcurrentAgents {
		s.emit(ctx, domain.EventSpawnLimitReached, "", map[string]any{
			"active":    active,
			"reserved":  s.reserved,
			"requested": n,
			"max":       s.config.MaxConcurrentAgents,
		})
		s.logger.Warn("spawn limit reached", "active", active, "requested", n, "max", s.config.MaxConcurrentAgents)
		return nil, domain.NewSubSystemError(domain.SubSystemSpawn, op, domain.ErrLimitReached,
			fmt.Sprintf("%d active, %d requested, max %d", active+s.reserved, n, s.config.MaxConcurrentAgents))
	}
	s.reserved += n

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			s.reserved -= n
			s.mu.Unlock()
		})
	}, nil
}

// AvailableSlots returns how many more agents fit under the global cap.
func (s *Spawner) AvailableSlots(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	active, err := s.lifecycle.GetActiveCount(ctx)
	if err != nil {
		return 0, domain.WrapOp("Spawner.AvailableSlots", err)
	}
	return max(0, s.config.MaxConcurrentAgents-active-s.reserved), nil
}

func (s *Spawner) GetAgent(ctx context.Context, id string) (*domain.OrchestratedAgent, error) {
	return s.lifecycle.GetAgent(ctx, id)
}

func (s *Spawner) GetActiveAgents(ctx context.Context) ([]*domain.OrchestratedAgent, error) {
	return s.lifecycle.GetActiveAgents(ctx)
}

func (s *Spawner) GetAgentsByStatus(ctx context.Context, status domain.AgentStatus) ([]*domain.OrchestratedAgent, error) {
	return s.lifecycle.GetAgentsByStatus(ctx, status)
}

func (s *Spawner) GetAgentsInChannel(ctx context.Context, channelID string) ([]*domain.OrchestratedAgent, error) {
	return s.lifecycle.GetAgentsInChannel(ctx, channelID)
}

func (s *Spawner) GetSubAgents(ctx context.Context, parentID string) ([]*domain.OrchestratedAgent, error) {
	return s.factory.GetSubAgents(ctx, parentID)
}

func (s *Spawner) GetActiveCount(ctx context.Context) (int, error) {
	return s.lifecycle.GetActiveCount(ctx)
}

func (s *Spawner) SetWorking(ctx context.Context, id, task string) (*domain.OrchestratedAgent, error) {
	return s.lifecycle.SetWorking(ctx, id, task)
}

func (s *Spawner) SetIdle(ctx context.Context, id string) (*domain.OrchestratedAgent, error) {
	return s.lifecycle.SetIdle(ctx, id)
}

func (s *Spawner) SetWaiting(ctx context.Context, id string) (*domain.OrchestratedAgent, error) {
	return s.lifecycle.SetWaiting(ctx, id)
}

func (s *Spawner) SetError(ctx context.Context, id, cause string) (*domain.OrchestratedAgent, error) {
	return s.lifecycle.SetError(ctx, id, cause)
}

func (s *Spawner) Terminate(ctx context.Context, id, reason string) (bool, error) {
	return s.lifecycle.Terminate(ctx, id, reason)
}

func (s *Spawner) ForceTerminate(ctx context.Context, id, reason string) (bool, error) {
	return s.lifecycle.ForceTerminate(ctx, id, reason)
}

// CompleteTask records a finished task and returns the agent to idle.
// Unknown agents yield (nil, nil).
func (s *Spawner) CompleteTask(ctx context.Context, id string, success bool, duration time.Duration) (*domain.OrchestratedAgent, error) {
	const op = "Spawner.CompleteTask"

	agent, err := s.lifecycle.RecordTaskCompletion(ctx, id, success, duration)
	if err != nil || agent == nil {
		return nil, domain.WrapOp(op, err)
	}
	idle, err := s.lifecycle.SetIdle(ctx, id)
	return idle, domain.WrapOp(op, err)
}

func (s *Spawner) CompleteSubAgent(ctx context.Context, id string, res subagent.Result) (*domain.OrchestratedAgent, error) {
	return s.factory.CompleteSubAgent(ctx, id, res)
}

func (s *Spawner) fail(ctx context.Context, op string, req Request, err error) {
	s.emit(ctx, domain.EventSpawnFailed, req.ID, map[string]any{
		"persona_id":   req.PersonaID,
		"persona_type": req.PersonaType,
		"code":         domain.ErrorCodeOf(err),
		"error":        err.Error(),
	})
	s.logger.Warn("spawn failed", "op", op, "error", err)
}

func (s *Spawner) emit(ctx context.Context, eventType domain.EventType, agentID string, payload any) {
	if s.bus == nil {
		return
	}
	ev := domain.NewEvent(eventType, domain.SourceSpawner, payload)
	ev.AgentID = agentID
	s.bus.Publish(ctx, ev)
}
