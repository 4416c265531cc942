package persona

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Francosimon53/secureagent-sub018/internal/domain"
	"github.com/Francosimon53/secureagent-sub018/internal/infra/logger"
)

func TestDefaultRegistryBuiltins(t *testing.T) {
	r := NewDefaultRegistry(logger.Discard())

	list := r.List()
	require.Len(t, list, len(Builtins()))
	assert.Equal(t, "general", list[0].ID)

	for _, typ := range []string{"general", "researcher", "coder", "reviewer", "planner", "coordinator"} {
		p, err := r.GetByType(typ)
		require.NoError(t, err, typ)
		assert.Equal(t, typ, p.ID)
	}
}

func TestRegisterAndLookup(t *testing.T) {
	r := NewRegistry(logger.Discard())

	require.NoError(t, r.Register(domain.AgentPersona{ID: "sql", Type: "coder"}))
	require.NoError(t, r.Register(domain.AgentPersona{ID: "go", Type: "coder"}))

	p, err := r.Get("sql")
	require.NoError(t, err)
	assert.Equal(t, "sql", p.Name, "name defaults to id")

	byType, err := r.GetByType("coder")
	require.NoError(t, err)
	assert.Equal(t, "sql", byType.ID, "first registered persona of a type is preferred")

	err = r.Register(domain.AgentPersona{ID: "sql", Type: "coder"})
	assert.True(t, errors.Is(err, domain.ErrDuplicate))
	assert.Equal(t, domain.CodePersonaDuplicate, domain.ErrorCodeOf(err))

	err = r.Register(domain.AgentPersona{ID: " ", Type: "coder"})
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))
}

func TestLookupMissing(t *testing.T) {
	r := NewRegistry(logger.Discard())

	_, err := r.Get("nope")
	assert.Equal(t, domain.CodePersonaNotFound, domain.ErrorCodeOf(err))
	_, err = r.GetByType("nope")
	assert.Equal(t, domain.CodePersonaNotFound, domain.ErrorCodeOf(err))
}

func TestRegistryHandsOutCopies(t *testing.T) {
	r := NewDefaultRegistry(logger.Discard())

	p, err := r.Get("coder")
	require.NoError(t, err)
	p.Capabilities[0] = "mutated"
	*p.ModelConfig.Temperature = 2

	again, err := r.Get("coder")
	require.NoError(t, err)
	assert.Equal(t, "code_generation", again.Capabilities[0])
	assert.Equal(t, 0.2, *again.ModelConfig.Temperature)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "personas.yaml")
	content := `
personas:
  - id: coder
    type: coder
    name: Strict Coder
    model_config:
      model: local-coder
      temperature: 0
    capabilities: [code_generation]
  - id: triage
    type: support
    system_prompt: "Sort incoming requests."
    model_config:
      extra:
        region: eu
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	r := NewDefaultRegistry(logger.Discard())
	n, err := r.LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	coder, err := r.Get("coder")
	require.NoError(t, err)
	assert.Equal(t, "Strict Coder", coder.Name)
	assert.Equal(t, "local-coder", coder.ModelConfig.Model)
	require.NotNil(t, coder.ModelConfig.Temperature)
	assert.Equal(t, 0.0, *coder.ModelConfig.Temperature)

	triage, err := r.GetByType("support")
	require.NoError(t, err)
	assert.Equal(t, "triage", triage.ID)
	assert.Equal(t, "eu", triage.ModelConfig.Extra["region"])

	assert.Len(t, r.List(), len(Builtins())+1)
}

func TestLoadFileRejectsInvalid(t *testing.T) {
	dir := t.TempDir()

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("personas:\n  - id: x\n"), 0o600))

	r := NewRegistry(logger.Discard())
	_, err := r.LoadFile(bad)
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))
	assert.Empty(t, r.List(), "a rejected file loads nothing")

	_, err = r.LoadFile(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}
