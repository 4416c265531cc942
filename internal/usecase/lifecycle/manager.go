// Package lifecycle tracks orchestrated agents through their status state machine.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/Francosimon53/secureagent-sub018/internal/domain"
)

// Config controls idle sweeping and termination behavior.
type Config struct {
	IdleTimeout      time.Duration // 0 disables the idle sweep
	SweepInterval    time.Duration // default: 1m
	CascadeTerminate bool          // terminating a parent also terminates its live sub-agents
}

// CreateParams describes a new agent.
type CreateParams struct {
	ID            string // generated when empty
	Persona       domain.AgentPersona
	ChannelID     string
	ParentAgentID string
	Metadata      map[string]any
}

// Stats aggregates agent counts and task totals.
type Stats struct {
	Total          int                        `json:"total"`
	Active         int                        `json:"active"`
	ByStatus       map[domain.AgentStatus]int `json:"by_status"`
	SubAgents      int                        `json:"sub_agents"`
	TasksCompleted int                        `json:"tasks_completed"`
	TasksFailed    int                        `json:"tasks_failed"`
	Errors         int                        `json:"errors"`
}

// Manager is the single mutation point for agent state. Mutations are
// serialized; reads go straight to the store.
type Manager struct {
	store  domain.AgentStore
	bus    domain.EventBus
	config Config
	logger *slog.Logger
	now    func() time.Time

	mu sync.Mutex // serializes read-modify-write cycles against the store

	sweeper *sweeper
}

// NewManager creates a lifecycle manager. bus may be nil.
func NewManager(store domain.AgentStore, bus domain.EventBus, cfg Config, logger *slog.Logger) *Manager {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	m := &Manager{
		store:  store,
		bus:    bus,
		config: cfg,
		logger: logger.With("component", "lifecycle"),
		now:    time.Now,
	}
	m.sweeper = newSweeper(m)
	return m
}

// CreateAgent registers a new idle agent. A sub-agent's parent must already exist.
func (m *Manager) CreateAgent(ctx context.Context, p CreateParams) (*domain.OrchestratedAgent, error) {
	const op = "Lifecycle.CreateAgent"

	m.mu.Lock()
	defer m.mu.Unlock()

	if p.ParentAgentID != "" {
		parent, err := m.load(ctx, p.ParentAgentID)
		if err != nil {
			return nil, domain.WrapOp(op, err)
		}
		if parent == nil {
			return nil, domain.NewSubSystemError(domain.SubSystemParent, op, domain.ErrNotFound, p.ParentAgentID)
		}
	}

	id := p.ID
	if id == "" {
		id = newID()
	}
	now := m.now()
	agent := &domain.OrchestratedAgent{
		ID:             id,
		Persona:        p.Persona.Clone(),
		Status:         domain.AgentStatusIdle,
		ChannelID:      p.ChannelID,
		ParentAgentID:  p.ParentAgentID,
		Metadata:       maps.Clone(p.Metadata),
		CreatedAt:      now,
		LastActivityAt: now,
	}

	if err := m.store.Create(ctx, agent); err != nil {
		if errors.Is(err, domain.ErrDuplicate) {
			return nil, domain.NewSubSystemError(domain.SubSystemAgent, op, domain.ErrDuplicate, id)
		}
		return nil, domain.WrapOp(op, err)
	}

	m.emit(ctx, domain.EventAgentCreated, id, map[string]any{
		"persona_id":      agent.Persona.ID,
		"persona_type":    agent.Persona.Type,
		"channel_id":      agent.ChannelID,
		"parent_agent_id": agent.ParentAgentID,
	})
	m.logger.Info("agent created", "agent_id", id, "persona", agent.Persona.ID, "parent", agent.ParentAgentID)
	return agent.Snapshot(now), nil
}

// UpdateStatus moves an agent to status. A non-empty task replaces the current
// task; moving to idle clears it otherwise. Unknown agents yield (nil, nil).
func (m *Manager) UpdateStatus(ctx context.Context, id string, status domain.AgentStatus, task string) (*domain.OrchestratedAgent, error) {
	return m.transition(ctx, "Lifecycle.UpdateStatus", id, status, task, nil)
}

// SetWorking marks the agent busy with task.
func (m *Manager) SetWorking(ctx context.Context, id, task string) (*domain.OrchestratedAgent, error) {
	return m.transition(ctx, "Lifecycle.SetWorking", id, domain.AgentStatusWorking, task, nil)
}

// SetIdle marks the agent idle and clears its task.
func (m *Manager) SetIdle(ctx context.Context, id string) (*domain.OrchestratedAgent, error) {
	return m.transition(ctx, "Lifecycle.SetIdle", id, domain.AgentStatusIdle, "", nil)
}

// SetWaiting marks the agent as blocked on an external input.
func (m *Manager) SetWaiting(ctx context.Context, id string) (*domain.OrchestratedAgent, error) {
	return m.transition(ctx, "Lifecycle.SetWaiting", id, domain.AgentStatusWaiting, "", nil)
}

// SetError moves the agent to error, counts the error and records cause.
func (m *Manager) SetError(ctx context.Context, id, cause string) (*domain.OrchestratedAgent, error) {
	agent, err := m.transition(ctx, "Lifecycle.SetError", id, domain.AgentStatusError, "", func(a *domain.OrchestratedAgent) {
		a.Metrics.ErrorCount++
		if cause != "" {
			if a.Metadata == nil {
				a.Metadata = make(map[string]any)
			}
			a.Metadata["last_error"] = cause
		}
	})
	if err == nil && agent != nil {
		m.emit(ctx, domain.EventAgentError, id, map[string]any{"error": cause, "error_count": agent.Metrics.ErrorCount})
	}
	return agent, err
}

func (m *Manager) transition(ctx context.Context, op, id string, to domain.AgentStatus, task string, mutate func(*domain.OrchestratedAgent)) (*domain.OrchestratedAgent, error) {
	if !to.Valid() {
		return nil, domain.NewSubSystemError(domain.SubSystemAgent, op, domain.ErrInvalidInput, fmt.Sprintf("unknown status %q", to))
	}
	if to == domain.AgentStatusTerminated {
		m.mu.Lock()
		defer m.mu.Unlock()
		agent, err := m.load(ctx, id)
		if err != nil || agent == nil {
			return nil, domain.WrapOp(op, err)
		}
		if agent.Status.IsTerminal() {
			return nil, invalidTransition(op, agent.Status, to)
		}
		if err := m.terminateLocked(ctx, agent, "status update", false); err != nil {
			return nil, domain.WrapOp(op, err)
		}
		return agent.Snapshot(m.now()), nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	agent, err := m.load(ctx, id)
	if err != nil || agent == nil {
		return nil, domain.WrapOp(op, err)
	}
	from := agent.Status
	if !domain.CanTransition(from, to) {
		return nil, invalidTransition(op, from, to)
	}

	now := m.now()
	agent.Status = to
	agent.LastActivityAt = now
	switch {
	case task != "":
		agent.CurrentTask = task
	case to == domain.AgentStatusIdle:
		agent.CurrentTask = ""
	}
	if mutate != nil {
		mutate(agent)
	}
	if err := m.store.Update(ctx, agent); err != nil {
		return nil, domain.WrapOp(op, err)
	}

	m.emit(ctx, domain.EventAgentStatusChanged, id, map[string]any{
		"from": from,
		"to":   to,
		"task": agent.CurrentTask,
	})
	m.logger.Debug("agent status changed", "agent_id", id, "from", from, "to", to)
	return agent.Snapshot(now), nil
}

func invalidTransition(op string, from, to domain.AgentStatus) error {
	return domain.NewSubSystemError(domain.SubSystemAgent, op, domain.ErrInvalidTransition, fmt.Sprintf("%s -> %s", from, to))
}

// Terminate gracefully stops an agent. An in-flight task is counted as failed.
// Returns false for unknown agents and ErrAlreadyTerminated for terminated ones.
func (m *Manager) Terminate(ctx context.Context, id, reason string) (bool, error) {
	const op = "Lifecycle.Terminate"

	m.mu.Lock()
	defer m.mu.Unlock()

	agent, err := m.load(ctx, id)
	if err != nil || agent == nil {
		return false, domain.WrapOp(op, err)
	}
	if agent.Status.IsTerminal() {
		return false, domain.NewSubSystemError(domain.SubSystemAgent, op, domain.ErrAlreadyTerminated, id)
	}
	if err := m.terminateLocked(ctx, agent, reason, true); err != nil {
		return false, domain.WrapOp(op, err)
	}
	return true, nil
}

// ForceTerminate stops an agent without task bookkeeping. Terminated and
// unknown agents are a no-op returning false.
func (m *Manager) ForceTerminate(ctx context.Context, id, reason string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	agent, err := m.load(ctx, id)
	if err != nil || agent == nil || agent.Status.IsTerminal() {
		return false, domain.WrapOp("Lifecycle.ForceTerminate", err)
	}
	if err := m.terminateLocked(ctx, agent, reason, false); err != nil {
		return false, domain.WrapOp("Lifecycle.ForceTerminate", err)
	}
	return true, nil
}

// terminateLocked must be called with m.mu held.
func (m *Manager) terminateLocked(ctx context.Context, agent *domain.OrchestratedAgent, reason string, graceful bool) error {
	now := m.now()
	prev := agent.Status
	if graceful && agent.CurrentTask != "" {
		agent.Metrics.TasksFailed++
		agent.CurrentTask = ""
	}
	agent.Status = domain.AgentStatusTerminated
	agent.LastActivityAt = now
	agent.TerminatedAt = &now
	if reason != "" {
		if agent.Metadata == nil {
			agent.Metadata = make(map[string]any)
		}
		agent.Metadata["termination_reason"] = reason
	}
	if err := m.store.Update(ctx, agent); err != nil {
		return err
	}

	m.emit(ctx, domain.EventAgentTerminated, agent.ID, map[string]any{
		"reason":          reason,
		"graceful":        graceful,
		"previous_status": prev,
	})
	m.logger.Info("agent terminated", "agent_id", agent.ID, "reason", reason, "graceful", graceful)

	if !m.config.CascadeTerminate {
		return nil
	}
	children, err := m.store.List(ctx, domain.AgentFilter{ParentAgentID: agent.ID, ActiveOnly: true})
	if err != nil {
		return fmt.Errorf("list sub-agents of %s: %w", agent.ID, err)
	}
	for _, child := range children {
		if err := m.terminateLocked(ctx, child, "parent terminated", false); err != nil {
			m.logger.Warn("cascade terminate failed", "agent_id", child.ID, "parent", agent.ID, "error", err)
		}
	}
	return nil
}

// RecordTaskCompletion updates task metrics without changing status.
func (m *Manager) RecordTaskCompletion(ctx context.Context, id string, success bool, duration time.Duration) (*domain.OrchestratedAgent, error) {
	const op = "Lifecycle.RecordTaskCompletion"

	m.mu.Lock()
	defer m.mu.Unlock()

	agent, err := m.load(ctx, id)
	if err != nil || agent == nil {
		return nil, domain.WrapOp(op, err)
	}
	if agent.Status.IsTerminal() {
		return nil, domain.NewSubSystemError(domain.SubSystemAgent, op, domain.ErrAlreadyTerminated, id)
	}
	if success {
		agent.Metrics.TasksCompleted++
	} else {
		agent.Metrics.TasksFailed++
	}
	if duration > 0 {
		agent.Metrics.TotalTaskDuration += duration
	}
	if err := m.store.Update(ctx, agent); err != nil {
		return nil, domain.WrapOp(op, err)
	}

	m.emit(ctx, domain.EventAgentTaskCompleted, id, map[string]any{
		"success":     success,
		"duration_ms": duration.Milliseconds(),
	})
	return agent.Snapshot(m.now()), nil
}

// SetMetadata merges kv into the agent's metadata. A nil value deletes the key.
func (m *Manager) SetMetadata(ctx context.Context, id string, kv map[string]any) (*domain.OrchestratedAgent, error) {
	const op = "Lifecycle.SetMetadata"

	m.mu.Lock()
	defer m.mu.Unlock()

	agent, err := m.load(ctx, id)
	if err != nil || agent == nil {
		return nil, domain.WrapOp(op, err)
	}
	if agent.Status.IsTerminal() {
		return nil, domain.NewSubSystemError(domain.SubSystemAgent, op, domain.ErrAlreadyTerminated, id)
	}
	if agent.Metadata == nil {
		agent.Metadata = make(map[string]any, len(kv))
	}
	for k, v := range kv {
		if v == nil {
			delete(agent.Metadata, k)
			continue
		}
		agent.Metadata[k] = v
	}
	if err := m.store.Update(ctx, agent); err != nil {
		return nil, domain.WrapOp(op, err)
	}
	return agent.Snapshot(m.now()), nil
}

// Sweep force-terminates agents idle for longer than the configured timeout
// and returns how many were terminated. Per-agent failures are logged and skipped.
func (m *Manager) Sweep(ctx context.Context) int {
	if m.config.IdleTimeout <= 0 {
		return 0
	}
	candidates, err := m.store.List(ctx, domain.AgentFilter{ActiveOnly: true})
	if err != nil {
		m.logger.Error("idle sweep: list agents", "error", err)
		return 0
	}

	terminated := 0
	for _, c := range candidates {
		ok, err := m.terminateIfIdle(ctx, c.ID)
		if err != nil {
			m.logger.Warn("idle sweep: terminate failed", "agent_id", c.ID, "error", err)
			continue
		}
		if ok {
			terminated++
		}
	}
	if terminated > 0 {
		m.logger.Info("idle sweep finished", "terminated", terminated)
	}
	return terminated
}

// terminateIfIdle re-checks idleness under the lock so activity recorded
// after the sweep listed the agent is honored.
func (m *Manager) terminateIfIdle(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	agent, err := m.load(ctx, id)
	if err != nil || agent == nil || agent.Status.IsTerminal() {
		return false, err
	}
	idle := m.now().Sub(agent.LastActivityAt)
	if idle < m.config.IdleTimeout {
		return false, nil
	}
	if err := m.terminateLocked(ctx, agent, "idle timeout", false); err != nil {
		return false, err
	}
	m.emit(ctx, domain.EventAgentIdleTimeout, id, map[string]any{"idle_ms": idle.Milliseconds()})
	return true, nil
}

// Start schedules the idle sweep. It is a no-op when the idle timeout is disabled.
func (m *Manager) Start(ctx context.Context) error {
	if m.config.IdleTimeout <= 0 {
		m.logger.Info("idle sweep disabled")
		return nil
	}
	return m.sweeper.start(ctx, m.config.SweepInterval)
}

// Stop halts the sweep and waits for a running pass to finish.
func (m *Manager) Stop() {
	m.sweeper.stop()
}

// GetAgent returns the agent or (nil, nil) when unknown.
func (m *Manager) GetAgent(ctx context.Context, id string) (*domain.OrchestratedAgent, error) {
	agent, err := m.load(ctx, id)
	if err != nil || agent == nil {
		return nil, domain.WrapOp("Lifecycle.GetAgent", err)
	}
	return agent.Snapshot(m.now()), nil
}

func (m *Manager) GetActiveAgents(ctx context.Context) ([]*domain.OrchestratedAgent, error) {
	return m.list(ctx, domain.AgentFilter{ActiveOnly: true})
}

func (m *Manager) GetAgentsByStatus(ctx context.Context, status domain.AgentStatus) ([]*domain.OrchestratedAgent, error) {
	return m.list(ctx, domain.AgentFilter{Status: status})
}

// GetAgentsInChannel returns the non-terminated agents assigned to channelID.
func (m *Manager) GetAgentsInChannel(ctx context.Context, channelID string) ([]*domain.OrchestratedAgent, error) {
	return m.list(ctx, domain.AgentFilter{ChannelID: channelID, ActiveOnly: true})
}

// GetSubAgents returns every child of parentID, terminated ones included.
func (m *Manager) GetSubAgents(ctx context.Context, parentID string) ([]*domain.OrchestratedAgent, error) {
	return m.list(ctx, domain.AgentFilter{ParentAgentID: parentID})
}

func (m *Manager) GetActiveCount(ctx context.Context) (int, error) {
	n, err := m.store.CountActive(ctx)
	return n, domain.WrapOp("Lifecycle.GetActiveCount", err)
}

// Stats computes aggregate counts over every tracked agent.
func (m *Manager) Stats(ctx context.Context) (Stats, error) {
	all, err := m.store.List(ctx, domain.AgentFilter{})
	if err != nil {
		return Stats{}, domain.WrapOp("Lifecycle.Stats", err)
	}
	s := Stats{Total: len(all), ByStatus: make(map[domain.AgentStatus]int)}
	for _, a := range all {
		s.ByStatus[a.Status]++
		if a.IsActive() {
			s.Active++
		}
		if a.IsSubAgent() {
			s.SubAgents++
		}
		s.TasksCompleted += a.Metrics.TasksCompleted
		s.TasksFailed += a.Metrics.TasksFailed
		s.Errors += a.Metrics.ErrorCount
	}
	return s, nil
}

func (m *Manager) list(ctx context.Context, f domain.AgentFilter) ([]*domain.OrchestratedAgent, error) {
	agents, err := m.store.List(ctx, f)
	if err != nil {
		return nil, domain.WrapOp("Lifecycle.List", err)
	}
	now := m.now()
	for i, a := range agents {
		agents[i] = a.Snapshot(now)
	}
	return agents, nil
}

// load returns (nil, nil) for unknown ids.
func (m *Manager) load(ctx context.Context, id string) (*domain.OrchestratedAgent, error) {
	agent, err := m.store.Get(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	return agent, err
}

func (m *Manager) emit(ctx context.Context, eventType domain.EventType, agentID string, payload any) {
	if m.bus == nil {
		return
	}
	ev := domain.NewEvent(eventType, domain.SourceLifecycle, payload)
	ev.AgentID = agentID
	m.bus.Publish(ctx, ev)
}

func newID() string {
	return ulid.Make().String()
}
