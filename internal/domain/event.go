package domain

import (
	"context"
	"encoding/json"
	"time"
)

// EventType identifies the kind of event being published.
type EventType string

const (
	// Lifecycle events.
	EventAgentCreated       EventType = "agent.created"
	EventAgentStatusChanged EventType = "agent.status_changed"
	EventAgentError         EventType = "agent.error"
	EventAgentTaskCompleted EventType = "agent.task_completed"
	EventAgentTerminated    EventType = "agent.terminated"
	EventAgentIdleTimeout   EventType = "agent.idle_timeout"

	// Spawner events.
	EventSpawnSuccess      EventType = "spawn.success"
	EventSpawnFailed       EventType = "spawn.failed"
	EventSpawnLimitReached EventType = "spawn.limit_reached"

	// Sub-agent events.
	EventSubAgentCreated   EventType = "subagent.created"
	EventSubAgentCompleted EventType = "subagent.completed"

	// Router events.
	EventMessageRouted    EventType = "message.routed"
	EventMessageDelivered EventType = "message.delivered"
	EventMessageFailed    EventType = "message.failed"
	EventMessageQueued    EventType = "message.queued"
	EventMessageEvicted   EventType = "message.evicted"
	EventBroadcastSent    EventType = "broadcast.sent"
)

// Event sources identify the component that emitted an event.
const (
	SourceLifecycle = "lifecycle"
	SourceSpawner   = "spawner"
	SourceSubAgent  = "subagent"
	SourceRouter    = "router"
)

// Event is the envelope published on the event bus.
type Event struct {
	Type      EventType       `json:"type"`
	Source    string          `json:"source"`
	Timestamp time.Time       `json:"timestamp"`
	AgentID   string          `json:"agent_id,omitempty"`
	MessageID string          `json:"message_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// NewEvent builds an Event stamped with the current time. payload is
// marshalled to JSON; a nil payload leaves Payload empty.
func NewEvent(eventType EventType, source string, payload any) Event {
	e := Event{
		Type:      eventType,
		Source:    source,
		Timestamp: time.Now(),
	}
	if payload != nil {
		if data, err := json.Marshal(payload); err == nil {
			e.Payload = data
		}
	}
	return e
}

// EventHandler is a callback invoked when an event is received.
type EventHandler func(ctx context.Context, event Event)

// EventBus provides a publish/subscribe mechanism for domain events.
// Handlers run independently; registration order does not imply delivery order.
type EventBus interface {
	// Publish sends an event to all matching subscribers.
	Publish(ctx context.Context, event Event)
	// Subscribe registers a handler for a specific event type.
	// Returns an unsubscribe function.
	Subscribe(eventType EventType, handler EventHandler) func()
	// SubscribeAll registers a handler that receives every event.
	// Returns an unsubscribe function.
	SubscribeAll(handler EventHandler) func()
	// Close drains in-flight handlers and prevents new publishes.
	Close()
}
