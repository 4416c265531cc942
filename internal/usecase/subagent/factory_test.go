package subagent

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Francosimon53/secureagent-sub018/internal/adapter/persona"
	"github.com/Francosimon53/secureagent-sub018/internal/adapter/store"
	"github.com/Francosimon53/secureagent-sub018/internal/domain"
	"github.com/Francosimon53/secureagent-sub018/internal/infra/logger"
	"github.com/Francosimon53/secureagent-sub018/internal/usecase/lifecycle"
)

type mockEventBus struct {
	mu     sync.Mutex
	events []domain.Event
}

func (b *mockEventBus) Publish(_ context.Context, e domain.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, e)
}
func (b *mockEventBus) Subscribe(_ domain.EventType, _ domain.EventHandler) func() { return func() {} }
func (b *mockEventBus) SubscribeAll(_ domain.EventHandler) func()                  { return func() {} }
func (b *mockEventBus) Close()                                                     {}

func (b *mockEventBus) count(t domain.EventType) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, e := range b.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

func newTestFactory(t *testing.T, cfg Config) (*Factory, *lifecycle.Manager, *mockEventBus) {
	t.Helper()
	bus := &mockEventBus{}
	lc := lifecycle.NewManager(store.NewMemoryAgentStore(), bus, lifecycle.Config{}, logger.Discard())
	f := NewFactory(lc, persona.NewDefaultRegistry(logger.Discard()), bus, cfg, logger.Discard())
	return f, lc, bus
}

func createParent(t *testing.T, lc *lifecycle.Manager, id string) *domain.OrchestratedAgent {
	t.Helper()
	p, err := lc.CreateAgent(context.Background(), lifecycle.CreateParams{
		ID:        id,
		Persona:   domain.AgentPersona{ID: "coordinator", Type: "coordinator"},
		ChannelID: "team",
	})
	require.NoError(t, err)
	return p
}

func TestCreateSubAgent(t *testing.T) {
	f, lc, bus := newTestFactory(t, Config{MaxSubAgentsPerAgent: 2})
	createParent(t, lc, "p")
	ctx := context.Background()

	child, err := f.CreateSubAgent(ctx, Request{ParentAgentID: "p", Task: "research", PersonaType: "researcher"})
	require.NoError(t, err)
	assert.Equal(t, "p", child.ParentAgentID)
	assert.Equal(t, "team", child.ChannelID, "inherits the parent channel")
	assert.Equal(t, "researcher", child.Persona.ID)
	assert.Equal(t, domain.AgentStatusWorking, child.Status)
	assert.Equal(t, "research", child.CurrentTask)
	assert.Equal(t, 1, bus.count(domain.EventSubAgentCreated))

	byID, err := f.CreateSubAgent(ctx, Request{ParentAgentID: "p", PersonaID: "coder", PersonaType: "researcher", ChannelID: "side"})
	require.NoError(t, err)
	assert.Equal(t, "coder", byID.Persona.ID, "persona id wins over type")
	assert.Equal(t, "side", byID.ChannelID)
	assert.Equal(t, domain.AgentStatusIdle, byID.Status, "no task stays idle")
}

func TestCreateSubAgentDefaultPersona(t *testing.T) {
	f, lc, _ := newTestFactory(t, Config{MaxSubAgentsPerAgent: 1, DefaultPersonaType: "planner"})
	createParent(t, lc, "p")

	child, err := f.CreateSubAgent(context.Background(), Request{ParentAgentID: "p"})
	require.NoError(t, err)
	assert.Equal(t, "planner", child.Persona.ID)
}

func TestCreateSubAgentErrors(t *testing.T) {
	f, lc, _ := newTestFactory(t, Config{MaxSubAgentsPerAgent: 1})
	createParent(t, lc, "p")
	ctx := context.Background()

	_, err := f.CreateSubAgent(ctx, Request{ParentAgentID: "ghost"})
	assert.Equal(t, domain.CodeParentNotFound, domain.ErrorCodeOf(err))

	_, err = f.CreateSubAgent(ctx, Request{ParentAgentID: "p", PersonaType: "astronaut"})
	assert.Equal(t, domain.CodePersonaNotFound, domain.ErrorCodeOf(err))

	_, err = f.CreateSubAgent(ctx, Request{ParentAgentID: "p"})
	require.NoError(t, err)

	before, _ := lc.GetActiveCount(ctx)
	_, err = f.CreateSubAgent(ctx, Request{ParentAgentID: "p"})
	require.Error(t, err)
	assert.True(t, domain.IsCapacityError(err))
	assert.Equal(t, domain.CodeSubAgentLimit, domain.ErrorCodeOf(err))
	after, _ := lc.GetActiveCount(ctx)
	assert.Equal(t, before, after, "rejected before any mutation")
}

func TestZeroCapForbidsSubAgents(t *testing.T) {
	f, lc, _ := newTestFactory(t, Config{MaxSubAgentsPerAgent: 0})
	createParent(t, lc, "p")

	ok, err := f.CanCreateSubAgent(context.Background(), "p")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = f.CreateSubAgent(context.Background(), Request{ParentAgentID: "p"})
	assert.True(t, domain.IsCapacityError(err))
}

func TestCanCreateSubAgentCountsOnlyActiveChildren(t *testing.T) {
	f, lc, _ := newTestFactory(t, Config{MaxSubAgentsPerAgent: 1})
	createParent(t, lc, "p")
	ctx := context.Background()

	ok, err := f.CanCreateSubAgent(ctx, "ghost")
	require.NoError(t, err)
	assert.False(t, ok, "unknown parent")

	child, err := f.CreateSubAgent(ctx, Request{ParentAgentID: "p"})
	require.NoError(t, err)
	ok, _ = f.CanCreateSubAgent(ctx, "p")
	assert.False(t, ok)

	_, err = lc.Terminate(ctx, child.ID, "done")
	require.NoError(t, err)
	ok, _ = f.CanCreateSubAgent(ctx, "p")
	assert.True(t, ok, "terminated children free the slot")
}

func TestCreateSubAgentsStopsAtFirstFailure(t *testing.T) {
	f, lc, _ := newTestFactory(t, Config{MaxSubAgentsPerAgent: 2})
	createParent(t, lc, "p")

	created, err := f.CreateSubAgents(context.Background(), "p", []Request{
		{Task: "one"}, {Task: "two"}, {Task: "three"}, {Task: "four"},
	})
	require.Error(t, err)
	assert.True(t, domain.IsCapacityError(err))
	assert.Contains(t, err.Error(), "sub-agent 3 of 4")
	require.Len(t, created, 2, "already-created agents are kept")
	assert.Equal(t, "one", created[0].CurrentTask)

	subs, _ := f.GetSubAgents(context.Background(), "p")
	assert.Len(t, subs, 2)
}

func TestConcurrentCreateRespectsCap(t *testing.T) {
	f, lc, _ := newTestFactory(t, Config{MaxSubAgentsPerAgent: 3})
	createParent(t, lc, "p")

	var ok, rejected atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.CreateSubAgent(context.Background(), Request{ParentAgentID: "p", Task: "t"})
			if err == nil {
				ok.Add(1)
			} else if domain.IsCapacityError(err) {
				rejected.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(3), ok.Load())
	assert.Equal(t, int32(17), rejected.Load())
}

func TestCompleteSubAgent(t *testing.T) {
	for _, auto := range []bool{false, true} {
		f, lc, bus := newTestFactory(t, Config{MaxSubAgentsPerAgent: 2, AutoTerminate: auto})
		createParent(t, lc, "p")
		ctx := context.Background()

		child, err := f.CreateSubAgent(ctx, Request{ParentAgentID: "p", Task: "summarize"})
		require.NoError(t, err)

		got, err := f.CompleteSubAgent(ctx, child.ID, Result{Success: true, Output: "summary"})
		require.NoError(t, err)
		assert.Equal(t, 1, got.Metrics.TasksCompleted)
		assert.Equal(t, 0, got.Metrics.TasksFailed, "task cleared before termination")
		assert.Equal(t, "summary", got.Metadata["result"])
		assert.Empty(t, got.CurrentTask)
		if auto {
			assert.Equal(t, domain.AgentStatusTerminated, got.Status)
		} else {
			assert.Equal(t, domain.AgentStatusIdle, got.Status)
		}
		assert.Equal(t, 1, bus.count(domain.EventSubAgentCompleted))
	}
}

func TestCompleteSubAgentEdgeCases(t *testing.T) {
	f, lc, _ := newTestFactory(t, Config{MaxSubAgentsPerAgent: 1})
	createParent(t, lc, "p")
	ctx := context.Background()

	got, err := f.CompleteSubAgent(ctx, "ghost", Result{Success: true})
	assert.NoError(t, err)
	assert.Nil(t, got)

	_, err = f.CompleteSubAgent(ctx, "p", Result{Success: true})
	assert.True(t, errors.Is(err, domain.ErrInvalidInput), "top-level agents are not sub-agents")
}
