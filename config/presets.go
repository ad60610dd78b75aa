package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Preset is a named specialist configuration: the role it runs as, its
// default provider and model, and the preset prompt header recorded on
// every session created with this preset.
type Preset struct {
	// ID identifies the preset (e.g. "implementor-default").
	ID string `yaml:"id"`
	// Role is one of COORDINATOR, IMPLEMENTOR, VERIFIER, SOLO.
	Role string `yaml:"role"`
	// Provider is the default provider identifier for this preset.
	Provider string `yaml:"provider"`
	// Model is the default model identifier, provider-specific.
	Model string `yaml:"model"`
	// SystemPromptHeader is stored as the SystemPromptHeader of sessions
	// created with this preset; it is not added to any prompt text.
	SystemPromptHeader string `yaml:"system_prompt_header"`
}

// PresetRegistry resolves specialist presets by ID. Loaded once at startup
// from a YAML file; presets are immutable for the process lifetime.
type PresetRegistry struct {
	byID map[string]Preset
}

// NewPresetRegistry constructs a registry from a slice of presets, typically
// produced by LoadPresets.
func NewPresetRegistry(presets []Preset) *PresetRegistry {
	r := &PresetRegistry{byID: make(map[string]Preset, len(presets))}
	for _, p := range presets {
		r.byID[p.ID] = p
	}
	return r
}

// LoadPresets reads a YAML document of the form:
//
//	presets:
//	  - id: implementor-default
//	    role: IMPLEMENTOR
//	    provider: claude
//	    model: claude-sonnet
//	    system_prompt_header: |
//	      You are the implementor...
func LoadPresets(path string) ([]Preset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read preset file %s: %w", path, err)
	}
	var doc struct {
		Presets []Preset `yaml:"presets"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse preset file %s: %w", path, err)
	}
	return doc.Presets, nil
}

// Get returns the preset for id, or false if no such preset was loaded.
func (r *PresetRegistry) Get(id string) (Preset, bool) {
	p, ok := r.byID[id]
	return p, ok
}

// DefaultForRole returns a registered preset matching role, used when a
// delegation names a role but not a specific preset. When several presets
// share the role, which one is returned is not defined (map iteration order).
func (r *PresetRegistry) DefaultForRole(role string) (Preset, bool) {
	for _, p := range r.byID {
		if p.Role == role {
			return p, true
		}
	}
	return Preset{}, false
}

// List returns every registered preset, in no particular order.
func (r *PresetRegistry) List() []Preset {
	if r == nil {
		return nil
	}
	out := make([]Preset, 0, len(r.byID))
	for _, p := range r.byID {
		out = append(out, p)
	}
	return out
}

// Resolve interprets agentID as a preset ID first, falling back to treating
// it as a raw provider identifier with no preset (empty role/presetID/
// header). Callers that need a role regardless should default the
// returned role themselves when presetID is empty.
func (r *PresetRegistry) Resolve(agentID string) (provider, role, presetID, header string) {
	if r == nil {
		return agentID, "", "", ""
	}
	if p, ok := r.Get(agentID); ok {
		return p.Provider, p.Role, p.ID, p.SystemPromptHeader
	}
	return agentID, "", "", ""
}
