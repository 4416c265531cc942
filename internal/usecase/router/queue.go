package router

import (
	"container/list"
	"context"

	"github.com/Francosimon53/secureagent-sub018/internal/domain"
	"github.com/Francosimon53/secureagent-sub018/internal/usecase/protocol"
)

// QueueFailure is a queued message whose redelivery failed. It is dropped.
type QueueFailure struct {
	MessageID string           `json:"message_id"`
	Error     string           `json:"error"`
	Code      domain.ErrorCode `json:"code,omitempty"`
}

// DrainResult summarizes one ProcessQueuedMessages pass. Slices hold message ids.
type DrainResult struct {
	Delivered []string       `json:"delivered"`
	Retained  []string       `json:"retained"`
	Expired   []string       `json:"expired"`
	Failed    []QueueFailure `json:"failed"`
}

// enqueue appends msg to agentID's queue, evicting the oldest entries past
// MaxQueueSize.
func (r *Router) enqueue(ctx context.Context, agentID string, msg domain.AgentMessage) {
	r.queueMu.Lock()
	q := r.queueLocked(agentID)
	q.PushBack(msg.Clone())
	evicted := r.trimLocked(q)
	r.queueMu.Unlock()

	r.queued.Add(1)
	r.emit(ctx, domain.EventMessageQueued, msg, agentID, nil)
	r.reportEvicted(ctx, agentID, evicted)
}

func (r *Router) queueLocked(agentID string) *list.List {
	q, ok := r.queues[agentID]
	if !ok {
		q = list.New()
		r.queues[agentID] = q
	}
	return q
}

// trimLocked drops from the front until q fits MaxQueueSize.
func (r *Router) trimLocked(q *list.List) []domain.AgentMessage {
	var evicted []domain.AgentMessage
	for q.Len() > max(r.config.MaxQueueSize, 0) {
		evicted = append(evicted, q.Remove(q.Front()).(domain.AgentMessage))
	}
	return evicted
}

func (r *Router) reportEvicted(ctx context.Context, agentID string, evicted []domain.AgentMessage) {
	for _, m := range evicted {
		r.evicted.Add(1)
		r.emit(ctx, domain.EventMessageEvicted, m, agentID, map[string]any{"max_queue_size": r.config.MaxQueueSize})
		r.logger.Warn("queued message evicted", "agent_id", agentID, "message_id", m.ID)
	}
}

// GetPendingMessages returns copies of agentID's queued messages, oldest first.
func (r *Router) GetPendingMessages(agentID string) []domain.AgentMessage {
	r.queueMu.Lock()
	defer r.queueMu.Unlock()
	q, ok := r.queues[agentID]
	if !ok {
		return nil
	}
	out := make([]domain.AgentMessage, 0, q.Len())
	for e := q.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(domain.AgentMessage).Clone())
	}
	return out
}

// ClearQueue discards agentID's queue and returns how many messages it held.
func (r *Router) ClearQueue(agentID string) int {
	r.queueMu.Lock()
	defer r.queueMu.Unlock()
	q, ok := r.queues[agentID]
	if !ok {
		return 0
	}
	delete(r.queues, agentID)
	return q.Len()
}

// ProcessQueuedMessages makes one redelivery pass over agentID's queue.
// Expired messages are dropped, as is everything when the recipient is gone or
// terminated. Messages that still match no subscription, or whose handlers
// fail, are put back ahead of anything queued during the pass.
func (r *Router) ProcessQueuedMessages(ctx context.Context, agentID string) (*DrainResult, error) {
	const op = "Router.ProcessQueuedMessages"

	r.queueMu.Lock()
	pending, ok := r.queues[agentID]
	if ok {
		delete(r.queues, agentID)
	}
	r.queueMu.Unlock()

	res := &DrainResult{Delivered: []string{}, Retained: []string{}, Expired: []string{}, Failed: []QueueFailure{}}
	if !ok || pending.Len() == 0 {
		return res, nil
	}

	agent, err := r.agents.GetAgent(ctx, agentID)
	if err != nil {
		r.restore(ctx, agentID, pending)
		return nil, domain.WrapOp(op, err)
	}

	retained := list.New()
	for e := pending.Front(); e != nil; e = e.Next() {
		msg := e.Value.(domain.AgentMessage)
		if protocol.IsExpired(msg, r.now()) {
			res.Expired = append(res.Expired, msg.ID)
			continue
		}
		if agent == nil || agent.Status.IsTerminal() {
			sentinel := domain.ErrNotFound
			if agent != nil {
				sentinel = domain.ErrAlreadyTerminated
			}
			err := domain.NewSubSystemError(domain.SubSystemRouter, op, sentinel, "recipient "+agentID)
			res.Failed = append(res.Failed, QueueFailure{MessageID: msg.ID, Error: err.Error(), Code: domain.ErrorCodeOf(err)})
			r.failed.Add(1)
			continue
		}

		matched, err := r.dispatchSerialized(ctx, msg, agentID)
		switch {
		case err != nil:
			retained.PushBack(msg)
			res.Failed = append(res.Failed, QueueFailure{MessageID: msg.ID, Error: err.Error(), Code: domain.ErrorCodeOf(err)})
			r.failed.Add(1)
			r.emit(ctx, domain.EventMessageFailed, msg, agentID, map[string]any{"error": err.Error(), "retained": true})
		case !matched:
			retained.PushBack(msg)
			res.Retained = append(res.Retained, msg.ID)
		default:
			res.Delivered = append(res.Delivered, msg.ID)
			r.delivered.Add(1)
			r.emit(ctx, domain.EventMessageDelivered, msg, agentID, map[string]any{"from_queue": true})
		}
	}

	r.restore(ctx, agentID, retained)
	r.logger.Debug("queue processed", "agent_id", agentID, "delivered", len(res.Delivered),
		"retained", len(res.Retained), "expired", len(res.Expired), "failed", len(res.Failed))
	return res, nil
}

func (r *Router) dispatchSerialized(ctx context.Context, msg domain.AgentMessage, agentID string) (bool, error) {
	if r.config.SerializePerRecipient {
		l := r.recipientLock(agentID)
		l.Lock()
		defer l.Unlock()
	}
	return r.dispatch(ctx, msg, agentID)
}

// restore puts msgs back at the front of agentID's queue, oldest first.
func (r *Router) restore(ctx context.Context, agentID string, msgs *list.List) {
	if msgs.Len() == 0 {
		return
	}
	r.queueMu.Lock()
	q := r.queueLocked(agentID)
	q.PushFrontList(msgs)
	evicted := r.trimLocked(q)
	r.queueMu.Unlock()
	r.reportEvicted(ctx, agentID, evicted)
}
