package spawner

import (
	"maps"
	"slices"

	"github.com/Francosimon53/secureagent-sub018/internal/domain"
)

// MergePersona overlays override onto base. Non-zero scalars replace, model
// settings merge field by field, and capability and constraint lists are
// appended after the base entries. The base ID is always kept.
func MergePersona(base, override domain.AgentPersona) domain.AgentPersona {
	out := base.Clone()

	if override.Name != "" {
		out.Name = override.Name
	}
	if override.Type != "" {
		out.Type = override.Type
	}
	if override.Description != "" {
		out.Description = override.Description
	}
	if override.SystemPrompt != "" {
		out.SystemPrompt = override.SystemPrompt
	}

	mc := override.ModelConfig
	if mc.Provider != "" {
		out.ModelConfig.Provider = mc.Provider
	}
	if mc.Model != "" {
		out.ModelConfig.Model = mc.Model
	}
	if mc.Temperature != nil {
		t := *mc.Temperature
		out.ModelConfig.Temperature = &t
	}
	if mc.MaxTokens != 0 {
		out.ModelConfig.MaxTokens = mc.MaxTokens
	}
	if len(mc.Extra) > 0 {
		if out.ModelConfig.Extra == nil {
			out.ModelConfig.Extra = make(map[string]any, len(mc.Extra))
		}
		maps.Copy(out.ModelConfig.Extra, mc.Extra)
	}

	out.Capabilities = append(out.Capabilities, slices.Clone(override.Capabilities)...)
	out.Constraints = append(out.Constraints, slices.Clone(override.Constraints)...)
	return out
}
