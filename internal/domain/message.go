package domain

import (
	"maps"
	"time"
)

// MessageType classifies an inter-agent message.
type MessageType string

const (
	MessageTypeRequest      MessageType = "request"
	MessageTypeResponse     MessageType = "response"
	MessageTypeBroadcast    MessageType = "broadcast"
	MessageTypeNotification MessageType = "notification"
	MessageTypeHandoff      MessageType = "handoff"
	MessageTypeStatus       MessageType = "status"
)

// MessageTypes lists every known message type.
var MessageTypes = []MessageType{
	MessageTypeRequest,
	MessageTypeResponse,
	MessageTypeBroadcast,
	MessageTypeNotification,
	MessageTypeHandoff,
	MessageTypeStatus,
}

// MessagePriority orders message urgency.
type MessagePriority string

const (
	PriorityLow    MessagePriority = "low"
	PriorityNormal MessagePriority = "normal"
	PriorityHigh   MessagePriority = "high"
	PriorityUrgent MessagePriority = "urgent"
)

// MessagePriorities lists every known priority, lowest first.
var MessagePriorities = []MessagePriority{PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent}

// AgentMessage is the immutable unit of communication between agents.
// An empty ToAgentID addresses every participant of ChannelID except the sender.
type AgentMessage struct {
	ID               string          `json:"id"`
	Type             MessageType     `json:"type"`
	FromAgentID      string          `json:"from_agent_id"`
	ToAgentID        string          `json:"to_agent_id,omitempty"`
	ChannelID        string          `json:"channel_id"`
	Content          string          `json:"content"`
	Context          map[string]any  `json:"context,omitempty"`
	Priority         MessagePriority `json:"priority"`
	ReplyToMessageID string          `json:"reply_to_message_id,omitempty"`
	Timestamp        time.Time       `json:"timestamp"`
	ExpiresAt        *time.Time      `json:"expires_at,omitempty"`
}

// IsBroadcast reports whether the message fans out to the whole channel.
func (m AgentMessage) IsBroadcast() bool { return m.ToAgentID == "" }

// Clone returns a copy that shares no maps or pointers with m.
func (m AgentMessage) Clone() AgentMessage {
	out := m
	out.Context = maps.Clone(m.Context)
	if m.ExpiresAt != nil {
		t := *m.ExpiresAt
		out.ExpiresAt = &t
	}
	return out
}

// DeliveryFailure records why one recipient did not receive a message.
type DeliveryFailure struct {
	AgentID string    `json:"agent_id"`
	Error   string    `json:"error"`
	Code    ErrorCode `json:"code,omitempty"`
}

// DeliveryResult is the outcome of routing one message.
// Success is true when no recipient failed; queued recipients are not failures.
type DeliveryResult struct {
	MessageID string            `json:"message_id"`
	Delivered []string          `json:"delivered"`
	Queued    []string          `json:"queued,omitempty"`
	Failed    []DeliveryFailure `json:"failed"`
	Success   bool              `json:"success"`
}
