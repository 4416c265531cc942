package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Francosimon53/secureagent-sub018/internal/adapter/persona"
	"github.com/Francosimon53/secureagent-sub018/internal/adapter/store"
	"github.com/Francosimon53/secureagent-sub018/internal/domain"
	"github.com/Francosimon53/secureagent-sub018/internal/infra/config"
	"github.com/Francosimon53/secureagent-sub018/internal/usecase/eventbus"
	"github.com/Francosimon53/secureagent-sub018/internal/usecase/lifecycle"
	"github.com/Francosimon53/secureagent-sub018/internal/usecase/protocol"
	"github.com/Francosimon53/secureagent-sub018/internal/usecase/router"
	"github.com/Francosimon53/secureagent-sub018/internal/usecase/spawner"
	"github.com/Francosimon53/secureagent-sub018/internal/usecase/subagent"
)

// app holds the wired control plane.
type app struct {
	bus       *eventbus.Bus
	personas  *persona.Registry
	lifecycle *lifecycle.Manager
	factory   *subagent.Factory
	spawner   *spawner.Spawner
	router    *router.Router
	members   channelMembership

	closers []func() error
}

// channelMembership is how agents join channels.
type channelMembership interface {
	AddParticipant(ctx context.Context, channelID, agentID string) error
	RemoveParticipant(ctx context.Context, channelID, agentID string) (bool, error)
}

// agentChannelStore is what a backend must provide to host the control plane.
type agentChannelStore interface {
	domain.AgentStore
	domain.ChannelManager
	channelMembership
}

func buildApp(cfg *config.Config, log *slog.Logger) (*app, error) {
	a := &app{bus: eventbus.New(log)}
	a.closers = append(a.closers, func() error { a.bus.Close(); return nil })

	personas, err := loadPersonas(cfg.Personas, log)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("personas: %w", err)
	}
	a.personas = personas

	backend, err := openStore(cfg.Store)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("store: %w", err)
	}
	if c, ok := backend.(interface{ Close() error }); ok {
		a.closers = append(a.closers, c.Close)
	}

	a.members = backend
	var channels domain.ChannelManager = backend
	if cfg.Store.Breaker.Enabled {
		channels = store.NewBreakerChannelManager(backend, store.BreakerConfig{
			MaxFailures: cfg.Store.Breaker.MaxFailures,
			Timeout:     cfg.Store.Breaker.Timeout,
			Interval:    cfg.Store.Breaker.Interval,
		}, log)
	}

	orch := cfg.Orchestrator
	a.lifecycle = lifecycle.NewManager(backend, a.bus, lifecycle.Config{
		IdleTimeout:      orch.IdleTimeout(),
		SweepInterval:    orch.SweepInterval,
		CascadeTerminate: orch.CascadeTerminate,
	}, log)
	a.factory = subagent.NewFactory(a.lifecycle, personas, a.bus, subagent.Config{
		MaxSubAgentsPerAgent: orch.MaxSubAgentsPerAgent,
		AutoTerminate:        orch.AutoTerminateOnCompletion,
		DefaultPersonaType:   orch.DefaultPersonaType,
	}, log)
	a.spawner = spawner.New(a.lifecycle, a.factory, personas, a.bus, spawner.Config{
		MaxConcurrentAgents: orch.MaxConcurrentAgents,
		DefaultPersonaType:  orch.DefaultPersonaType,
	}, log)

	var vopts []protocol.ValidatorOption
	if !cfg.Router.SchemaValidation {
		vopts = append(vopts, protocol.WithoutSchema())
	}
	validator, err := protocol.NewValidator(vopts...)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("protocol: %w", err)
	}
	a.router = router.New(a.lifecycle, channels, validator, a.bus, router.Config{
		EnableBroadcast:       cfg.Router.EnableBroadcast,
		MaxQueueSize:          cfg.Router.MaxQueueSize,
		SerializePerRecipient: cfg.Router.SerializePerRecipient,
		RateLimitPerSecond:    cfg.Router.RateLimitPerSecond,
		RateLimitBurst:        cfg.Router.RateLimitBurst,
	}, log)

	return a, nil
}

func openStore(cfg config.StoreConfig) (agentChannelStore, error) {
	switch cfg.Backend {
	case "sqlite":
		return store.NewSQLiteStore(cfg.Path)
	case "memory", "":
		return memoryStore{
			MemoryAgentStore:     store.NewMemoryAgentStore(),
			MemoryChannelManager: store.NewMemoryChannelManager(),
		}, nil
	default:
		return nil, fmt.Errorf("unsupported backend %q", cfg.Backend)
	}
}

type memoryStore struct {
	*store.MemoryAgentStore
	*store.MemoryChannelManager
}

func loadPersonas(cfg config.PersonasConfig, log *slog.Logger) (*persona.Registry, error) {
	reg := persona.NewDefaultRegistry(log)
	if cfg.SkipBuiltins {
		reg = persona.NewRegistry(log)
	}
	if cfg.File == "" {
		return reg, nil
	}
	n, err := reg.LoadFile(cfg.File)
	if err != nil {
		return nil, err
	}
	log.Info("personas loaded", "file", cfg.File, "count", n)
	return reg, nil
}

// logEvents mirrors every bus event to the debug log.
func (a *app) logEvents(log *slog.Logger) func() {
	return a.bus.SubscribeAll(func(_ context.Context, e domain.Event) {
		log.Debug("event", "type", e.Type, "source", e.Source, "agent_id", e.AgentID, "message_id", e.MessageID)
	})
}

// close releases resources in reverse order of acquisition.
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i]()
	}
}
