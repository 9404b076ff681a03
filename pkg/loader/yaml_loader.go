// Package loader parses YAML flow definitions.
package loader

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/cjbester78/Integrixs-Host-2-Host-sub001/pkg/models"
)

// FlowLoader parses flow definitions
type FlowLoader interface {
	// Parse converts YAML content into a flow definition
	Parse(content []byte) (*models.FlowDefinition, error)
}

// YAMLLoader implements FlowLoader for YAML documents
type YAMLLoader struct{}

// NewYAMLLoader creates a new YAML flow loader
func NewYAMLLoader() *YAMLLoader {
	return &YAMLLoader{}
}

// Parse converts YAML content into a flow definition. The format is
// deliberately small: a name, an ordered node list and optional edges.
// Unknown keys are ignored so newer definitions keep loading.
func (l *YAMLLoader) Parse(content []byte) (*models.FlowDefinition, error) {
	var flow models.FlowDefinition
	if err := yaml.Unmarshal(content, &flow); err != nil {
		return nil, fmt.Errorf("failed to parse flow YAML: %w", err)
	}
	if err := l.validate(&flow); err != nil {
		return nil, err
	}
	normalizeConfigs(&flow)
	return &flow, nil
}

// validate enforces the structural minimum for an executable flow
func (l *YAMLLoader) validate(flow *models.FlowDefinition) error {
	if flow.Name == "" {
		return fmt.Errorf("flow definition has no name")
	}
	if len(flow.Nodes) == 0 {
		return fmt.Errorf("flow %q has no nodes", flow.Name)
	}

	seen := make(map[string]bool, len(flow.Nodes))
	for i := range flow.Nodes {
		node := &flow.Nodes[i]
		if node.ID == "" {
			return fmt.Errorf("flow %q: node at position %d has no id", flow.Name, i)
		}
		if node.Type == "" {
			return fmt.Errorf("flow %q: node %s has no type", flow.Name, node.ID)
		}
		if seen[node.ID] {
			return fmt.Errorf("flow %q: duplicate node id %s", flow.Name, node.ID)
		}
		seen[node.ID] = true
	}

	for _, edge := range flow.Edges {
		if !seen[edge.From] || !seen[edge.To] {
			return fmt.Errorf("flow %q: edge %s -> %s references an unknown node", flow.Name, edge.From, edge.To)
		}
	}
	return nil
}

// normalizeConfigs rewrites yaml map keys to the string-keyed maps the
// node handlers expect.
func normalizeConfigs(flow *models.FlowDefinition) {
	for i := range flow.Nodes {
		flow.Nodes[i].Config = normalizeMap(flow.Nodes[i].Config)
	}
}

// normalizeMap converts nested map[interface{}]interface{} values,
// which yaml decoding of older documents can produce, into
// map[string]interface{} recursively.
func normalizeMap(in map[string]interface{}) map[string]interface{} {
	if in == nil {
		return nil
	}
	out := make(map[string]interface{}, len(in))
	for key, value := range in {
		out[key] = normalizeValue(value)
	}
	return out
}

func normalizeValue(value interface{}) interface{} {
	switch typed := value.(type) {
	case map[string]interface{}:
		return normalizeMap(typed)
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(typed))
		for key, entry := range typed {
			out[fmt.Sprintf("%v", key)] = normalizeValue(entry)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(typed))
		for i, entry := range typed {
			out[i] = normalizeValue(entry)
		}
		return out
	default:
		return value
	}
}
