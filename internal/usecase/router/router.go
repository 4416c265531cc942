// Package router delivers agent messages to subscription handlers, fans out
// channel broadcasts and holds undeliverable messages in bounded per-agent queues.
package router

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/Francosimon53/secureagent-sub018/internal/domain"
	"github.com/Francosimon53/secureagent-sub018/internal/infra/tracer"
	"github.com/Francosimon53/secureagent-sub018/internal/usecase/protocol"
)

// AgentLookup resolves recipients. Unknown agents yield (nil, nil).
type AgentLookup interface {
	GetAgent(ctx context.Context, id string) (*domain.OrchestratedAgent, error)
}

// Config controls broadcast, queueing and rate limiting.
type Config struct {
	EnableBroadcast       bool
	MaxQueueSize          int     // per agent; 0 keeps nothing
	SerializePerRecipient bool    // FIFO per recipient across concurrent Route calls
	RateLimitPerSecond    float64 // per sender; 0 disables
	RateLimitBurst        int
}

// Stats is a point-in-time view of router state and counters.
type Stats struct {
	Subscriptions  int    `json:"subscriptions"`
	QueuedMessages int    `json:"queued_messages"`
	AgentsQueued   int    `json:"agents_queued"`
	Routed         uint64 `json:"routed"`
	Delivered      uint64 `json:"delivered"`
	Failed         uint64 `json:"failed"`
	Queued         uint64 `json:"queued"`
	Evicted        uint64 `json:"evicted"`
}

// Router routes messages. Subscriptions and queues live in memory only.
type Router struct {
	agents    AgentLookup
	channels  domain.ChannelManager
	validator *protocol.Validator
	bus       domain.EventBus
	config    Config
	logger    *slog.Logger
	now       func() time.Time

	subMu sync.RWMutex
	subs  []*Subscription // registration order

	queueMu sync.Mutex
	queues  map[string]*list.List // agentID -> FIFO of domain.AgentMessage

	limMu    sync.Mutex
	limiters map[string]*rate.Limiter

	lockMu         sync.Mutex
	recipientLocks map[string]*sync.Mutex

	routed, delivered, failed, queued, evicted atomic.Uint64
}

// New creates a Router. bus may be nil.
func New(agents AgentLookup, channels domain.ChannelManager, validator *protocol.Validator, bus domain.EventBus, cfg Config, logger *slog.Logger) *Router {
	return &Router{
		agents:         agents,
		channels:       channels,
		validator:      validator,
		bus:            bus,
		config:         cfg,
		logger:         logger.With("component", "router"),
		now:            time.Now,
		queues:         make(map[string]*list.List),
		limiters:       make(map[string]*rate.Limiter),
		recipientLocks: make(map[string]*sync.Mutex),
	}
}

// Route validates msg, records it and delivers it to every recipient
// independently. Per-recipient failures land in the result; an error is
// returned only when the message is rejected or cannot be recorded or fanned out.
func (r *Router) Route(ctx context.Context, msg domain.AgentMessage) (*domain.DeliveryResult, error) {
	const op = "Router.Route"

	ctx, span := tracer.StartSpan(ctx, "router.route",
		tracer.StringAttr(tracer.AttrMessageID, msg.ID),
		tracer.StringAttr(tracer.AttrMessageType, string(msg.Type)),
		tracer.StringAttr(tracer.AttrChannelID, msg.ChannelID),
	)
	defer span.End()

	res, err := r.route(ctx, op, msg)
	if err != nil {
		tracer.RecordError(span, err)
		r.logger.Warn("message rejected", "message_id", msg.ID, "error", err)
		return nil, err
	}
	span.SetAttributes(
		tracer.IntAttr(tracer.AttrRecipients, len(res.Delivered)+len(res.Queued)+len(res.Failed)),
		tracer.IntAttr(tracer.AttrDelivered, len(res.Delivered)),
		tracer.IntAttr(tracer.AttrFailed, len(res.Failed)),
	)
	tracer.SetOK(span)
	return res, nil
}

func (r *Router) route(ctx context.Context, op string, msg domain.AgentMessage) (*domain.DeliveryResult, error) {
	if err := r.validator.Validate(msg); err != nil {
		return nil, err
	}
	if err := protocol.CheckExpiry(msg, r.now()); err != nil {
		return nil, err
	}
	if !r.allow(msg.FromAgentID) {
		return nil, domain.NewSubSystemError(domain.SubSystemRouter, op, domain.ErrLimitReached,
			fmt.Sprintf("sender %q exceeded %.2f msg/s", msg.FromAgentID, r.config.RateLimitPerSecond))
	}
	if msg.IsBroadcast() && !r.config.EnableBroadcast {
		return nil, domain.NewSubSystemError(domain.SubSystemRouter, op, domain.ErrDisabled, "broadcast")
	}

	if err := r.channels.StoreMessage(ctx, msg); err != nil {
		return nil, domain.WrapOp(op, err)
	}
	recipients, err := r.recipients(ctx, msg)
	if err != nil {
		return nil, domain.WrapOp(op, err)
	}

	res := &domain.DeliveryResult{
		MessageID: msg.ID,
		Delivered: []string{},
		Failed:    []domain.DeliveryFailure{},
	}
	for _, id := range recipients {
		queued, err := r.deliverToAgent(ctx, msg, id)
		switch {
		case err != nil:
			res.Failed = append(res.Failed, domain.DeliveryFailure{AgentID: id, Error: err.Error(), Code: domain.ErrorCodeOf(err)})
		case queued:
			res.Queued = append(res.Queued, id)
		default:
			res.Delivered = append(res.Delivered, id)
		}
	}
	res.Success = len(res.Failed) == 0

	r.routed.Add(1)
	r.emit(ctx, domain.EventMessageRouted, msg, "", map[string]any{
		"delivered": len(res.Delivered),
		"queued":    len(res.Queued),
		"failed":    len(res.Failed),
	})
	if msg.IsBroadcast() {
		r.emit(ctx, domain.EventBroadcastSent, msg, msg.FromAgentID, map[string]any{
			"channel_id": msg.ChannelID,
			"recipients": len(recipients),
		})
	}
	r.logger.Debug("message routed", "message_id", msg.ID, "delivered", len(res.Delivered),
		"queued", len(res.Queued), "failed", len(res.Failed))
	return res, nil
}

// recipients returns the direct target, or the channel participants minus
// the sender in participant order.
func (r *Router) recipients(ctx context.Context, msg domain.AgentMessage) ([]string, error) {
	if !msg.IsBroadcast() {
		return []string{msg.ToAgentID}, nil
	}
	participants, err := r.channels.GetParticipants(ctx, msg.ChannelID)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(participants))
	for _, p := range participants {
		if p != msg.FromAgentID {
			out = append(out, p)
		}
	}
	return out, nil
}

// deliverToAgent hands msg to agentID's matching handlers, or queues it when
// none match. It reports queued=true for the latter.
func (r *Router) deliverToAgent(ctx context.Context, msg domain.AgentMessage, agentID string) (queued bool, err error) {
	const op = "Router.deliverToAgent"

	defer func() {
		if err != nil {
			r.failed.Add(1)
			r.emit(ctx, domain.EventMessageFailed, msg, agentID, map[string]any{
				"error": err.Error(),
				"code":  domain.ErrorCodeOf(err),
			})
		}
	}()

	agent, err := r.agents.GetAgent(ctx, agentID)
	if err != nil {
		return false, domain.WrapOp(op, err)
	}
	if agent == nil {
		return false, domain.NewSubSystemError(domain.SubSystemRouter, op, domain.ErrNotFound, "recipient "+agentID)
	}
	if agent.Status.IsTerminal() {
		return false, domain.NewSubSystemError(domain.SubSystemRouter, op, domain.ErrAlreadyTerminated, "recipient "+agentID)
	}

	if r.config.SerializePerRecipient {
		l := r.recipientLock(agentID)
		l.Lock()
		defer l.Unlock()
	}

	matched, err := r.dispatch(ctx, msg, agentID)
	if err != nil {
		return false, err
	}
	if !matched {
		r.enqueue(ctx, agentID, msg)
		return true, nil
	}
	r.delivered.Add(1)
	r.emit(ctx, domain.EventMessageDelivered, msg, agentID, nil)
	return false, nil
}

// dispatch invokes every matching handler in descending priority. A failing
// or panicking handler does not stop the others; their errors are joined.
func (r *Router) dispatch(ctx context.Context, msg domain.AgentMessage, agentID string) (bool, error) {
	subs := r.matching(agentID, msg)
	if len(subs) == 0 {
		return false, nil
	}
	var errs []error
	for _, sub := range subs {
		if err := r.invoke(ctx, sub, msg); err != nil {
			r.logger.Warn("subscription handler failed",
				"subscription_id", sub.ID, "agent_id", agentID, "message_id", msg.ID, "error", err)
			errs = append(errs, fmt.Errorf("subscription %s: %w", sub.ID, err))
		}
	}
	return true, errors.Join(errs...)
}

func (r *Router) invoke(ctx context.Context, sub *Subscription, msg domain.AgentMessage) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("handler panic: %v", p)
		}
	}()
	return sub.Handler(ctx, msg.Clone())
}

func (r *Router) allow(sender string) bool {
	if r.config.RateLimitPerSecond <= 0 {
		return true
	}
	r.limMu.Lock()
	lim, ok := r.limiters[sender]
	if !ok {
		burst := r.config.RateLimitBurst
		if burst <= 0 {
			burst = 1
		}
		lim = rate.NewLimiter(rate.Limit(r.config.RateLimitPerSecond), burst)
		r.limiters[sender] = lim
	}
	r.limMu.Unlock()
	return lim.Allow()
}

// recipientLock returns the delivery lock for agentID. Handlers must not
// route back to their own recipient while it is held.
func (r *Router) recipientLock(agentID string) *sync.Mutex {
	r.lockMu.Lock()
	defer r.lockMu.Unlock()
	l, ok := r.recipientLocks[agentID]
	if !ok {
		l = &sync.Mutex{}
		r.recipientLocks[agentID] = l
	}
	return l
}

// SendDirect builds a request from from to to and routes it.
func (r *Router) SendDirect(ctx context.Context, from, to, channelID, content string, opts ...protocol.Option) (*domain.DeliveryResult, error) {
	return r.Route(ctx, protocol.NewDirect(from, to, channelID, content, opts...))
}

// Broadcast builds a broadcast on channelID and routes it.
func (r *Router) Broadcast(ctx context.Context, from, channelID, content string, opts ...protocol.Option) (*domain.DeliveryResult, error) {
	return r.Route(ctx, protocol.NewBroadcast(from, channelID, content, opts...))
}

// Stats returns current subscription and queue counts plus lifetime counters.
func (r *Router) Stats() Stats {
	s := Stats{
		Routed:    r.routed.Load(),
		Delivered: r.delivered.Load(),
		Failed:    r.failed.Load(),
		Queued:    r.queued.Load(),
		Evicted:   r.evicted.Load(),
	}
	r.subMu.RLock()
	s.Subscriptions = len(r.subs)
	r.subMu.RUnlock()

	r.queueMu.Lock()
	for _, q := range r.queues {
		if q.Len() > 0 {
			s.AgentsQueued++
			s.QueuedMessages += q.Len()
		}
	}
	r.queueMu.Unlock()
	return s
}

func (r *Router) emit(ctx context.Context, eventType domain.EventType, msg domain.AgentMessage, agentID string, payload any) {
	if r.bus == nil {
		return
	}
	ev := domain.NewEvent(eventType, domain.SourceRouter, payload)
	ev.MessageID = msg.ID
	ev.AgentID = agentID
	r.bus.Publish(ctx, ev)
}
