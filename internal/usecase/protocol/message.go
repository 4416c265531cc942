package protocol

import (
	"maps"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/Francosimon53/secureagent-sub018/internal/domain"
)

// NewID returns a new lexicographically sortable message id.
func NewID() string {
	return ulid.Make().String()
}

// Option customizes a message built by NewDirect, NewBroadcast or NewReply.
type Option func(*domain.AgentMessage)

func WithPriority(p domain.MessagePriority) Option {
	return func(m *domain.AgentMessage) { m.Priority = p }
}

func WithType(t domain.MessageType) Option {
	return func(m *domain.AgentMessage) { m.Type = t }
}

// WithContext merges kv into the message context.
func WithContext(kv map[string]any) Option {
	return func(m *domain.AgentMessage) {
		if m.Context == nil {
			m.Context = make(map[string]any, len(kv))
		}
		maps.Copy(m.Context, kv)
	}
}

func WithReplyTo(messageID string) Option {
	return func(m *domain.AgentMessage) { m.ReplyToMessageID = messageID }
}

// WithTTL expires the message ttl after its timestamp.
func WithTTL(ttl time.Duration) Option {
	return func(m *domain.AgentMessage) {
		exp := m.Timestamp.Add(ttl)
		m.ExpiresAt = &exp
	}
}

func WithExpiry(at time.Time) Option {
	return func(m *domain.AgentMessage) { m.ExpiresAt = &at }
}

func build(base domain.AgentMessage, opts []Option) domain.AgentMessage {
	base.ID = NewID()
	base.Timestamp = time.Now().UTC()
	if base.Priority == "" {
		base.Priority = domain.PriorityNormal
	}
	for _, opt := range opts {
		opt(&base)
	}
	return base
}

// NewDirect builds a request addressed to a single agent.
func NewDirect(from, to, channelID, content string, opts ...Option) domain.AgentMessage {
	return build(domain.AgentMessage{
		Type:        domain.MessageTypeRequest,
		FromAgentID: from,
		ToAgentID:   to,
		ChannelID:   channelID,
		Content:     content,
	}, opts)
}

// NewBroadcast builds a message for every participant of channelID except the sender.
func NewBroadcast(from, channelID, content string, opts ...Option) domain.AgentMessage {
	return build(domain.AgentMessage{
		Type:        domain.MessageTypeBroadcast,
		FromAgentID: from,
		ChannelID:   channelID,
		Content:     content,
	}, opts)
}

// NewReply builds a response to original, addressed back to its sender on the same channel.
func NewReply(original domain.AgentMessage, from, content string, opts ...Option) domain.AgentMessage {
	return build(domain.AgentMessage{
		Type:             domain.MessageTypeResponse,
		FromAgentID:      from,
		ToAgentID:        original.FromAgentID,
		ChannelID:        original.ChannelID,
		Content:          content,
		Priority:         original.Priority,
		ReplyToMessageID: original.ID,
	}, opts)
}
