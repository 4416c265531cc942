package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to AgentStatus
		want     bool
	}{
		{AgentStatusIdle, AgentStatusWorking, true},
		{AgentStatusIdle, AgentStatusIdle, true},
		{AgentStatusWorking, AgentStatusWaiting, true},
		{AgentStatusWaiting, AgentStatusWorking, true},
		{AgentStatusError, AgentStatusIdle, true},
		{AgentStatusError, AgentStatusWorking, false},
		{AgentStatusWorking, AgentStatusTerminated, true},
		{AgentStatusTerminated, AgentStatusIdle, false},
		{AgentStatusTerminated, AgentStatusTerminated, false},
		{AgentStatusIdle, AgentStatus("sleeping"), false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestAgentCloneIsDeep(t *testing.T) {
	temp := 0.5
	now := time.Now()
	a := &OrchestratedAgent{
		ID: "a",
		Persona: AgentPersona{
			ID:           "coder",
			ModelConfig:  ModelConfig{Temperature: &temp, Extra: map[string]any{"k": 1}},
			Capabilities: []string{"code"},
		},
		Metadata:     map[string]any{"x": 1},
		TerminatedAt: &now,
	}

	c := a.Clone()
	c.Metadata["x"] = 2
	c.Persona.Capabilities[0] = "changed"
	*c.Persona.ModelConfig.Temperature = 0.9
	c.Persona.ModelConfig.Extra["k"] = 2
	*c.TerminatedAt = now.Add(time.Hour)

	assert.Equal(t, 1, a.Metadata["x"])
	assert.Equal(t, "code", a.Persona.Capabilities[0])
	assert.InDelta(t, 0.5, *a.Persona.ModelConfig.Temperature, 1e-9)
	assert.Equal(t, 1, a.Persona.ModelConfig.Extra["k"])
	assert.Equal(t, now, *a.TerminatedAt)

	var nilAgent *OrchestratedAgent
	assert.Nil(t, nilAgent.Clone())
}

func TestSnapshotUptime(t *testing.T) {
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	a := &OrchestratedAgent{ID: "a", Status: AgentStatusIdle, CreatedAt: created}

	s := a.Snapshot(created.Add(time.Minute))
	assert.Equal(t, time.Minute, s.Metrics.Uptime)
	assert.Zero(t, a.Metrics.Uptime, "snapshot does not mutate")

	end := created.Add(10 * time.Second)
	a.TerminatedAt = &end
	s = a.Snapshot(created.Add(time.Hour))
	assert.Equal(t, 10*time.Second, s.Metrics.Uptime, "uptime stops at termination")
}

func TestAgentPredicates(t *testing.T) {
	a := &OrchestratedAgent{Status: AgentStatusWaiting}
	assert.True(t, a.IsActive())
	assert.False(t, a.IsSubAgent())

	a.ParentAgentID = "p"
	a.Status = AgentStatusTerminated
	assert.False(t, a.IsActive())
	assert.True(t, a.IsSubAgent())
}

func TestAgentFilterMatches(t *testing.T) {
	a := &OrchestratedAgent{Status: AgentStatusWorking, ChannelID: "c", ParentAgentID: "p"}
	assert.True(t, AgentFilter{}.Matches(a))
	assert.True(t, AgentFilter{Status: AgentStatusWorking, ChannelID: "c", ParentAgentID: "p", ActiveOnly: true}.Matches(a))
	assert.False(t, AgentFilter{Status: AgentStatusIdle}.Matches(a))
	assert.False(t, AgentFilter{ChannelID: "other"}.Matches(a))

	a.Status = AgentStatusTerminated
	assert.False(t, AgentFilter{ActiveOnly: true}.Matches(a))
}

func TestAgentStatusJSON(t *testing.T) {
	data, err := json.Marshal(OrchestratedAgent{ID: "a", Status: AgentStatusWaiting})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"status":"waiting"`)
	assert.NotContains(t, string(data), "terminated_at")
}
