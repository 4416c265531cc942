// Package persona provides the PersonaRegistry used to resolve agent templates.
package persona

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/Francosimon53/secureagent-sub018/internal/domain"
)

// Registry holds persona templates keyed by id. The first persona registered
// for a type is that type's preferred persona. Values handed out are copies.
type Registry struct {
	mu       sync.RWMutex
	personas map[string]domain.AgentPersona
	order    []string
	byType   map[string]string // type -> preferred persona id
	logger   *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		personas: make(map[string]domain.AgentPersona),
		byType:   make(map[string]string),
		logger:   logger.With("component", "persona"),
	}
}

// NewDefaultRegistry creates a registry preloaded with the builtin personas.
func NewDefaultRegistry(logger *slog.Logger) *Registry {
	r := NewRegistry(logger)
	for _, p := range Builtins() {
		r.put(p)
	}
	return r
}

// Register adds p. Returns ErrDuplicate if the id is taken.
func (r *Registry) Register(p domain.AgentPersona) error {
	const op = "PersonaRegistry.Register"
	if err := validate(op, &p); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.personas[p.ID]; exists {
		return domain.NewSubSystemError(domain.SubSystemPersona, op, domain.ErrDuplicate, p.ID)
	}
	r.putLocked(p)
	r.logger.Info("persona registered", "persona_id", p.ID, "type", p.Type)
	return nil
}

func validate(op string, p *domain.AgentPersona) error {
	p.ID = strings.TrimSpace(p.ID)
	p.Type = strings.TrimSpace(p.Type)
	if p.ID == "" || p.Type == "" {
		return domain.NewSubSystemError(domain.SubSystemPersona, op, domain.ErrInvalidInput, "persona id and type are required")
	}
	if p.Name == "" {
		p.Name = p.ID
	}
	return nil
}

func (r *Registry) put(p domain.AgentPersona) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.putLocked(p)
}

func (r *Registry) putLocked(p domain.AgentPersona) {
	if old, exists := r.personas[p.ID]; exists {
		if old.Type != p.Type && r.byType[old.Type] == p.ID {
			delete(r.byType, old.Type)
		}
	} else {
		r.order = append(r.order, p.ID)
	}
	r.personas[p.ID] = p.Clone()
	if _, ok := r.byType[p.Type]; !ok {
		r.byType[p.Type] = p.ID
	}
}

// Get returns the persona with the given id, or ErrNotFound.
func (r *Registry) Get(id string) (domain.AgentPersona, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.personas[id]
	if !ok {
		return domain.AgentPersona{}, domain.NewSubSystemError(domain.SubSystemPersona, "PersonaRegistry.Get", domain.ErrNotFound, id)
	}
	return p.Clone(), nil
}

// GetByType returns the preferred persona of personaType, or ErrNotFound.
func (r *Registry) GetByType(personaType string) (domain.AgentPersona, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byType[personaType]
	if !ok {
		return domain.AgentPersona{}, domain.NewSubSystemError(domain.SubSystemPersona, "PersonaRegistry.GetByType", domain.ErrNotFound,
			"no persona of type "+personaType)
	}
	return r.personas[id].Clone(), nil
}

// List returns every persona in registration order.
func (r *Registry) List() []domain.AgentPersona {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.AgentPersona, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.personas[id].Clone())
	}
	return out
}

// personaFile is the on-disk layout read by LoadFile.
type personaFile struct {
	Personas []domain.AgentPersona `yaml:"personas"`
}

// LoadFile reads personas from a YAML file. Entries replace registered
// personas with the same id, so a file can customize the builtins.
// Returns the number of personas loaded.
func (r *Registry) LoadFile(path string) (int, error) {
	const op = "PersonaRegistry.LoadFile"

	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read persona file: %w", err)
	}
	var f personaFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return 0, fmt.Errorf("parse persona file: %w", err)
	}
	for i := range f.Personas {
		if err := validate(op, &f.Personas[i]); err != nil {
			return 0, fmt.Errorf("persona #%d: %w", i+1, err)
		}
	}
	for _, p := range f.Personas {
		r.put(p)
	}
	r.logger.Info("personas loaded", "path", path, "count", len(f.Personas))
	return len(f.Personas), nil
}
