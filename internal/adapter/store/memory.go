// Package store provides AgentStore and ChannelManager implementations.
package store

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/Francosimon53/secureagent-sub018/internal/domain"
)

// MemoryAgentStore is a goroutine-safe in-process AgentStore.
// Listings preserve creation order.
type MemoryAgentStore struct {
	mu     sync.RWMutex
	agents map[string]*domain.OrchestratedAgent
	order  []string
}

// NewMemoryAgentStore creates an empty store.
func NewMemoryAgentStore() *MemoryAgentStore {
	return &MemoryAgentStore{agents: make(map[string]*domain.OrchestratedAgent)}
}

func (s *MemoryAgentStore) Create(_ context.Context, agent *domain.OrchestratedAgent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.agents[agent.ID]; ok {
		return fmt.Errorf("agent %s: %w", agent.ID, domain.ErrDuplicate)
	}
	s.agents[agent.ID] = agent.Clone()
	s.order = append(s.order, agent.ID)
	return nil
}

func (s *MemoryAgentStore) Update(_ context.Context, agent *domain.OrchestratedAgent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.agents[agent.ID]; !ok {
		return fmt.Errorf("agent %s: %w", agent.ID, domain.ErrNotFound)
	}
	s.agents[agent.ID] = agent.Clone()
	return nil
}

func (s *MemoryAgentStore) Get(_ context.Context, id string) (*domain.OrchestratedAgent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.agents[id]
	if !ok {
		return nil, fmt.Errorf("agent %s: %w", id, domain.ErrNotFound)
	}
	return a.Clone(), nil
}

func (s *MemoryAgentStore) List(_ context.Context, filter domain.AgentFilter) ([]*domain.OrchestratedAgent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.OrchestratedAgent, 0, len(s.order))
	for _, id := range s.order {
		if a := s.agents[id]; filter.Matches(a) {
			out = append(out, a.Clone())
		}
	}
	return out, nil
}

func (s *MemoryAgentStore) CountActive(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, a := range s.agents {
		if a.IsActive() {
			n++
		}
	}
	return n, nil
}

// MemoryChannelManager keeps channel membership and message history in memory.
// Channels exist implicitly; an unknown channel has no participants.
type MemoryChannelManager struct {
	mu           sync.RWMutex
	participants map[string][]string
	messages     map[string][]domain.AgentMessage
}

// NewMemoryChannelManager creates an empty channel manager.
func NewMemoryChannelManager() *MemoryChannelManager {
	return &MemoryChannelManager{
		participants: make(map[string][]string),
		messages:     make(map[string][]domain.AgentMessage),
	}
}

// AddParticipant joins agentID to channelID. Joining twice keeps the original position.
func (c *MemoryChannelManager) AddParticipant(_ context.Context, channelID, agentID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !slices.Contains(c.participants[channelID], agentID) {
		c.participants[channelID] = append(c.participants[channelID], agentID)
	}
	return nil
}

// RemoveParticipant removes agentID from channelID. It reports whether the agent was a member.
func (c *MemoryChannelManager) RemoveParticipant(_ context.Context, channelID, agentID string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	before := len(c.participants[channelID])
	c.participants[channelID] = slices.DeleteFunc(c.participants[channelID], func(id string) bool { return id == agentID })
	return len(c.participants[channelID]) < before, nil
}

func (c *MemoryChannelManager) GetParticipants(_ context.Context, channelID string) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.participants[channelID]), nil
}

func (c *MemoryChannelManager) StoreMessage(_ context.Context, msg domain.AgentMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages[msg.ChannelID] = append(c.messages[msg.ChannelID], msg.Clone())
	return nil
}

// Messages returns the stored history of channelID, oldest first.
func (c *MemoryChannelManager) Messages(_ context.Context, channelID string) ([]domain.AgentMessage, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]domain.AgentMessage, len(c.messages[channelID]))
	for i, m := range c.messages[channelID] {
		out[i] = m.Clone()
	}
	return out, nil
}
