package spawner

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
	"github.com/Francosimon53/secureagent-sub018/internal/usecase/subagent"
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

func newTestSpawner(t *testing.T, maxAgents, maxSub int) (*Spawner, *mockEventBus) {
	t.Helper()
	bus := &mockEventBus{}
	log := logger.Discard()
	reg := persona.NewDefaultRegistry(log)
	lc := lifecycle.NewManager(store.NewMemoryAgentStore(), bus, lifecycle.Config{}, log)
	f := subagent.NewFactory(lc, reg, bus, subagent.Config{MaxSubAgentsPerAgent: maxSub, AutoTerminate: true}, log)
	return New(lc, f, reg, bus, Config{MaxConcurrentAgents: maxAgents}, log), bus
}

func TestSpawn(t *testing.T) {
	s, bus := newTestSpawner(t, 5, 2)
	ctx := context.Background()

	a, err := s.Spawn(ctx, Request{PersonaType: "coder", ChannelID: "dev", InitialTask: "write tests"})
	require.NoError(t, err)
	assert.NotEmpty(t, a.ID)
	assert.Equal(t, "coder", a.Persona.ID)
	assert.Equal(t, "dev", a.ChannelID)
	assert.Equal(t, domain.AgentStatusWorking, a.Status)
	assert.Equal(t, 1, bus.count(domain.EventSpawnSuccess))

	d, err := s.Spawn(ctx, Request{ID: "fixed"})
	require.NoError(t, err)
	assert.Equal(t, "fixed", d.ID)
	assert.Equal(t, "general", d.Persona.ID, "default persona type")
	assert.Equal(t, domain.AgentStatusIdle, d.Status)
}

func TestSpawnFailures(t *testing.T) {
	s, bus := newTestSpawner(t, 5, 2)
	ctx := context.Background()

	_, err := s.Spawn(ctx, Request{PersonaID: "nobody"})
	assert.Equal(t, domain.CodePersonaNotFound, domain.ErrorCodeOf(err))

	_, err = s.Spawn(ctx, Request{ID: "dup"})
	require.NoError(t, err)
	_, err = s.Spawn(ctx, Request{ID: "dup"})
	assert.Equal(t, domain.CodeAgentDuplicate, domain.ErrorCodeOf(err))

	assert.Equal(t, 2, bus.count(domain.EventSpawnFailed))
	slots, err := s.AvailableSlots(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, slots, "failed spawns release their reservation")
}

// workFailingStore rejects updates that move an agent to working.
type workFailingStore struct {
	*store.MemoryAgentStore
}

func (s workFailingStore) Update(ctx context.Context, a *domain.OrchestratedAgent) error {
	if a.Status == domain.AgentStatusWorking {
		return errors.New("disk full")
	}
	return s.MemoryAgentStore.Update(ctx, a)
}

func TestSpawnTerminatesAgentWhenInitialTaskFails(t *testing.T) {
	bus := &mockEventBus{}
	log := logger.Discard()
	reg := persona.NewDefaultRegistry(log)
	lc := lifecycle.NewManager(workFailingStore{store.NewMemoryAgentStore()}, bus, lifecycle.Config{}, log)
	f := subagent.NewFactory(lc, reg, bus, subagent.Config{MaxSubAgentsPerAgent: 1}, log)
	s := New(lc, f, reg, bus, Config{MaxConcurrentAgents: 1}, log)
	ctx := context.Background()

	a, err := s.Spawn(ctx, Request{ID: "w1", InitialTask: "index repo"})
	require.Error(t, err)
	assert.Nil(t, a)
	assert.Equal(t, 1, bus.count(domain.EventSpawnFailed))

	left, err := s.GetAgent(ctx, "w1")
	require.NoError(t, err)
	require.NotNil(t, left)
	assert.Equal(t, domain.AgentStatusTerminated, left.Status)

	slots, err := s.AvailableSlots(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, slots, "the unstarted agent does not hold a slot")
}

func TestSpawnRespectsGlobalCap(t *testing.T) {
	s, bus := newTestSpawner(t, 2, 2)
	ctx := context.Background()

	_, err := s.Spawn(ctx, Request{})
	require.NoError(t, err)
	_, err = s.Spawn(ctx, Request{})
	require.NoError(t, err)

	_, err = s.Spawn(ctx, Request{})
	require.Error(t, err)
	assert.True(t, domain.IsCapacityError(err))
	assert.Equal(t, domain.CodeSpawnLimit, domain.ErrorCodeOf(err))
	assert.Equal(t, 1, bus.count(domain.EventSpawnLimitReached))

	n, _ := s.GetActiveCount(ctx)
	assert.Equal(t, 2, n)
}

func TestTerminationFreesSlot(t *testing.T) {
	s, _ := newTestSpawner(t, 1, 0)
	ctx := context.Background()

	a, err := s.Spawn(ctx, Request{})
	require.NoError(t, err)
	_, err = s.Spawn(ctx, Request{})
	require.Error(t, err)

	ok, err := s.Terminate(ctx, a.ID, "done")
	require.NoError(t, err)
	require.True(t, ok)

	_, err = s.Spawn(ctx, Request{})
	assert.NoError(t, err)
}

func TestConcurrentSpawnNeverExceedsCap(t *testing.T) {
	s, _ := newTestSpawner(t, 4, 0)

	var ok atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Spawn(context.Background(), Request{}); err == nil {
				ok.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(4), ok.Load())
	n, _ := s.GetActiveCount(context.Background())
	assert.Equal(t, 4, n)
}

func TestSpawnMultipleIsAllOrNothing(t *testing.T) {
	s, _ := newTestSpawner(t, 3, 0)
	ctx := context.Background()

	_, err := s.SpawnMultiple(ctx, []Request{{}, {}, {}, {}})
	assert.True(t, domain.IsCapacityError(err))
	n, _ := s.GetActiveCount(ctx)
	assert.Equal(t, 0, n, "oversized batch creates nothing")

	agents, err := s.SpawnMultiple(ctx, []Request{{PersonaType: "planner"}, {PersonaType: "reviewer"}})
	require.NoError(t, err)
	require.Len(t, agents, 2)
	assert.Equal(t, "planner", agents[0].Persona.ID)
	assert.Equal(t, "reviewer", agents[1].Persona.ID)
}

func TestSubAgentsCountAgainstGlobalCap(t *testing.T) {
	s, _ := newTestSpawner(t, 2, 5)
	ctx := context.Background()

	parent, err := s.Spawn(ctx, Request{ChannelID: "team"})
	require.NoError(t, err)

	child, err := s.SpawnSubAgent(ctx, subagent.Request{ParentAgentID: parent.ID, Task: "dig"})
	require.NoError(t, err)
	assert.Equal(t, parent.ID, child.ParentAgentID)
	assert.Equal(t, "team", child.ChannelID)

	_, err = s.SpawnSubAgent(ctx, subagent.Request{ParentAgentID: parent.ID})
	assert.Equal(t, domain.CodeSpawnLimit, domain.ErrorCodeOf(err))

	subs, err := s.GetSubAgents(ctx, parent.ID)
	require.NoError(t, err)
	assert.Len(t, subs, 1)

	done, err := s.CompleteSubAgent(ctx, child.ID, subagent.Result{Success: true, Output: "found it"})
	require.NoError(t, err)
	assert.Equal(t, domain.AgentStatusTerminated, done.Status)

	created, err := s.SpawnSubAgents(ctx, parent.ID, []subagent.Request{{Task: "a"}})
	require.NoError(t, err)
	assert.Len(t, created, 1)
}

func TestCompleteTask(t *testing.T) {
	s, _ := newTestSpawner(t, 2, 0)
	ctx := context.Background()

	a, err := s.Spawn(ctx, Request{InitialTask: "build"})
	require.NoError(t, err)

	got, err := s.CompleteTask(ctx, a.ID, true, 0)
	require.NoError(t, err)
	assert.Equal(t, domain.AgentStatusIdle, got.Status)
	assert.Empty(t, got.CurrentTask)
	assert.Equal(t, 1, got.Metrics.TasksCompleted)

	got, err = s.CompleteTask(ctx, "ghost", true, 0)
	assert.NoError(t, err)
	assert.Nil(t, got)
}

func TestSpawnWithCustomPersona(t *testing.T) {
	s, _ := newTestSpawner(t, 2, 0)
	temp := 0.1

	a, err := s.Spawn(context.Background(), Request{
		PersonaType: "coder",
		CustomPersona: &domain.AgentPersona{
			ID:           "ignored",
			Name:         "Go Coder",
			ModelConfig:  domain.ModelConfig{Temperature: &temp},
			Capabilities: []string{"go"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "coder", a.Persona.ID)
	assert.Equal(t, "Go Coder", a.Persona.Name)
	require.NotNil(t, a.Persona.ModelConfig.Temperature)
	assert.InDelta(t, 0.1, *a.Persona.ModelConfig.Temperature, 1e-9)
	assert.Contains(t, a.Persona.Capabilities, "go")
}
