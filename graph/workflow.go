package graph

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"go.yaml.in/yaml/v2"
)

// Workflow is the serializable definition of a graph.
type Workflow struct {
	ID    string `json:"id,omitempty" yaml:"id,omitempty"`
	Name  string `json:"name,omitempty" yaml:"name,omitempty"`
	Nodes []Node `json:"nodes" yaml:"nodes" validate:"dive"`
	Edges []Edge `json:"edges" yaml:"edges" validate:"dive"`
}

// Workflow file formats.
const (
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// WorkflowFormat infers the format of a workflow file from its extension.
// Anything other than .yaml or .yml is treated as JSON.
func WorkflowFormat(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	}
	return FormatJSON
}

// DecodeWorkflow parses a workflow definition. YAML documents are decoded
// with JSON semantics, so node configuration holds the same value types
// whichever format it was written in.
func DecodeWorkflow(data []byte, format string) (Workflow, error) {
	var wf Workflow
	switch format {
	case FormatJSON:
		if err := json.Unmarshal(data, &wf); err != nil {
			return Workflow{}, fmt.Errorf("invalid workflow JSON: %w", err)
		}
	case FormatYAML:
		var doc any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return Workflow{}, fmt.Errorf("invalid workflow YAML: %w", err)
		}
		raw, err := json.Marshal(NormalizeYAML(doc))
		if err != nil {
			return Workflow{}, fmt.Errorf("invalid workflow YAML: %w", err)
		}
		if err := json.Unmarshal(raw, &wf); err != nil {
			return Workflow{}, fmt.Errorf("invalid workflow YAML: %w", err)
		}
	default:
		return Workflow{}, fmt.Errorf("unsupported workflow format %q", format)
	}
	return wf, nil
}

// EncodeWorkflow renders wf in format.
func EncodeWorkflow(wf Workflow, format string) ([]byte, error) {
	switch format {
	case FormatJSON:
		return json.MarshalIndent(wf, "", "  ")
	case FormatYAML:
		return yaml.Marshal(wf)
	}
	return nil, fmt.Errorf("unsupported workflow format %q", format)
}

// NormalizeYAML converts yaml.v2's map[interface{}]interface{} into
// JSON-compatible maps. Integers become float64, as encoding/json would
// decode them.
func NormalizeYAML(v any) any {
	switch t := v.(type) {
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = NormalizeYAML(val)
		}
		return out
	case []any:
		for i := range t {
			t[i] = NormalizeYAML(t[i])
		}
		return t
	case int:
		return float64(t)
	case int64:
		return float64(t)
	default:
		return v
	}
}
