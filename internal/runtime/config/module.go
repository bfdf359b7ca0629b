package config

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// ModuleConfig is one entry of the ordered module list. The reserved keys
// name, id and active are lifted out; everything else is handed to the
// module constructor untouched as Params.
type ModuleConfig struct {
	Name   string
	ID     string
	Active bool
	Params map[string]any
}

// InstanceID returns the configured id, or the type name when none is set.
func (m ModuleConfig) InstanceID() string {
	if m.ID != "" {
		return m.ID
	}
	return m.Name
}

// UnmarshalYAML accepts a flat mapping. A missing active key means active.
func (m *ModuleConfig) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: module entry must be a mapping", node.Line)
	}

	var raw map[string]any
	if err := node.Decode(&raw); err != nil {
		return err
	}

	out := ModuleConfig{Active: true, Params: make(map[string]any, len(raw))}
	for key, value := range raw {
		switch key {
		case "name":
			name, ok := value.(string)
			if !ok {
				return fmt.Errorf("line %d: module name must be a string, got %T", node.Line, value)
			}
			out.Name = name
		case "id":
			id, ok := value.(string)
			if !ok {
				return fmt.Errorf("line %d: module id must be a string, got %T", node.Line, value)
			}
			out.ID = id
		case "active":
			active, ok := value.(bool)
			if !ok {
				return fmt.Errorf("line %d: module active flag must be a boolean, got %T", node.Line, value)
			}
			out.Active = active
		default:
			out.Params[key] = value
		}
	}

	*m = out
	return nil
}

// MarshalYAML writes the entry back in the same flat shape.
func (m ModuleConfig) MarshalYAML() (any, error) {
	out := make(map[string]any, len(m.Params)+3)
	for k, v := range m.Params {
		out[k] = v
	}
	out["name"] = m.Name
	out["active"] = m.Active
	if m.ID != "" {
		out["id"] = m.ID
	}
	return out, nil
}
