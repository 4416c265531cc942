package router

import (
	"cmp"
	"context"
	"slices"

	"github.com/google/uuid"

	"github.com/Francosimon53/secureagent-sub018/internal/domain"
)

// Handler receives a delivered message. A returned error marks the delivery failed.
type Handler func(ctx context.Context, msg domain.AgentMessage) error

// Subscription binds a handler to an agent's incoming messages.
type Subscription struct {
	ID           string // assigned by Subscribe when empty
	AgentID      string
	ChannelID    string               // empty matches any channel
	MessageTypes []domain.MessageType // empty matches any type
	Filter       func(domain.AgentMessage) bool
	Handler      Handler
	Priority     int // higher runs first
}

func (s *Subscription) matches(agentID string, msg domain.AgentMessage) bool {
	if s.AgentID != agentID {
		return false
	}
	if s.ChannelID != "" && s.ChannelID != msg.ChannelID {
		return false
	}
	if len(s.MessageTypes) > 0 && !slices.Contains(s.MessageTypes, msg.Type) {
		return false
	}
	return s.Filter == nil || s.Filter(msg)
}

// Subscribe registers sub and returns its id. A caller-supplied id must be unused.
func (r *Router) Subscribe(sub Subscription) (string, error) {
	const op = "Router.Subscribe"
	if sub.AgentID == "" || sub.Handler == nil {
		return "", domain.NewSubSystemError(domain.SubSystemRouter, op, domain.ErrInvalidInput,
			"agent id and handler are required")
	}
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	sub.MessageTypes = slices.Clone(sub.MessageTypes)

	r.subMu.Lock()
	if slices.ContainsFunc(r.subs, func(s *Subscription) bool { return s.ID == sub.ID }) {
		r.subMu.Unlock()
		return "", domain.NewSubSystemError(domain.SubSystemRouter, op, domain.ErrDuplicate, sub.ID)
	}
	r.subs = append(r.subs, &sub)
	r.subMu.Unlock()

	r.logger.Debug("subscribed", "subscription_id", sub.ID, "agent_id", sub.AgentID, "priority", sub.Priority)
	return sub.ID, nil
}

// Unsubscribe removes the subscription with the given id.
func (r *Router) Unsubscribe(id string) bool {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	n := len(r.subs)
	r.subs = slices.DeleteFunc(r.subs, func(s *Subscription) bool { return s.ID == id })
	return len(r.subs) < n
}

// UnsubscribeAll removes every subscription of agentID and returns how many were removed.
func (r *Router) UnsubscribeAll(agentID string) int {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	n := len(r.subs)
	r.subs = slices.DeleteFunc(r.subs, func(s *Subscription) bool { return s.AgentID == agentID })
	return n - len(r.subs)
}

// Subscriptions returns copies of agentID's subscriptions in registration order.
func (r *Router) Subscriptions(agentID string) []Subscription {
	r.subMu.RLock()
	defer r.subMu.RUnlock()
	var out []Subscription
	for _, s := range r.subs {
		if s.AgentID == agentID {
			c := *s
			c.MessageTypes = slices.Clone(s.MessageTypes)
			out = append(out, c)
		}
	}
	return out
}

// matching returns agentID's subscriptions accepting msg, highest priority
// first and registration order among equals.
func (r *Router) matching(agentID string, msg domain.AgentMessage) []*Subscription {
	r.subMu.RLock()
	var out []*Subscription
	for _, s := range r.subs {
		if s.AgentID == agentID {
			out = append(out, s)
		}
	}
	r.subMu.RUnlock()

	// Filters run outside the lock so they may call back into the router.
	out = slices.DeleteFunc(out, func(s *Subscription) bool { return !s.matches(agentID, msg) })
	slices.SortStableFunc(out, func(a, b *Subscription) int { return cmp.Compare(b.Priority, a.Priority) })
	return out
}
