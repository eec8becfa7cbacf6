// Package tool provides the tools a tool node runs directly and an agent
// calls through its tool port.
package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/dshills/nodegraph-go/graph/model"
)

// Tool is an executable action.
//
// Call receives the tool input as a map and returns structured output. It
// must validate its input, respect ctx cancellation and report failures as
// errors rather than panics.
type Tool interface {
	// Name identifies the tool; it must match the ToolSpec name an LLM
	// sees.
	Name() string

	Call(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error)
}

// Described is implemented by tools that can describe themselves to an
// LLM.
type Described interface {
	Spec() model.ToolSpec
}

// Supported tool types for the tool_type config key.
const (
	TypeHTTPRequest = "http_request"
)

// FromConfig builds the tool a tool node's configuration describes and
// the default input taken from the same configuration.
func FromConfig(cfg map[string]any) (Tool, map[string]interface{}, error) {
	toolType, _ := cfg["tool_type"].(string)
	if toolType == "" {
		toolType = TypeHTTPRequest
	}

	switch toolType {
	case TypeHTTPRequest:
		input := map[string]interface{}{}
		for _, k := range []string{"url", "method", "headers", "body"} {
			if v, ok := cfg[k]; ok && v != nil && v != "" {
				input[k] = v
			}
		}
		return NewHTTPTool(), input, nil
	default:
		return nil, nil, fmt.Errorf("unsupported tool type %q", toolType)
	}
}

// Bound is a tool with default input taken from a node's configuration.
// Input supplied at call time overrides the defaults key by key.
type Bound struct {
	Tool     Tool
	Defaults map[string]interface{}
}

// Name implements Tool.
func (b Bound) Name() string { return b.Tool.Name() }

// Call implements Tool.
func (b Bound) Call(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
	merged := make(map[string]interface{}, len(b.Defaults)+len(input))
	for k, v := range b.Defaults {
		merged[k] = v
	}
	for k, v := range input {
		merged[k] = v
	}
	return b.Tool.Call(ctx, merged)
}

// Spec implements Described, falling back to a bare name when the wrapped
// tool does not describe itself.
func (b Bound) Spec() model.ToolSpec {
	if d, ok := b.Tool.(Described); ok {
		return d.Spec()
	}
	return model.ToolSpec{Name: b.Tool.Name()}
}

// Set is a collection of tools keyed by name.
type Set map[string]Tool

// NewSet builds a Set. A later tool with the same name replaces an earlier
// one.
func NewSet(tools ...Tool) Set {
	s := make(Set, len(tools))
	for _, t := range tools {
		s[t.Name()] = t
	}
	return s
}

// Specs returns the LLM-facing description of every tool, sorted by name.
func (s Set) Specs() []model.ToolSpec {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)

	specs := make([]model.ToolSpec, 0, len(names))
	for _, name := range names {
		if d, ok := s[name].(Described); ok {
			specs = append(specs, d.Spec())
		} else {
			specs = append(specs, model.ToolSpec{Name: name})
		}
	}
	return specs
}

// Call runs the named tool.
func (s Set) Call(ctx context.Context, name string, input map[string]interface{}) (map[string]interface{}, error) {
	t, ok := s[name]
	if !ok {
		return nil, fmt.Errorf("unknown tool %q", name)
	}
	return t.Call(ctx, input)
}

// decodeObject accepts a map or a JSON object string, the two shapes
// headers arrive in from node configuration.
func decodeObject(v interface{}) (map[string]interface{}, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case map[string]interface{}:
		return t, nil
	case map[string]string:
		out := make(map[string]interface{}, len(t))
		for k, s := range t {
			out[k] = s
		}
		return out, nil
	case string:
		if t == "" {
			return nil, nil
		}
		var out map[string]interface{}
		if err := json.Unmarshal([]byte(t), &out); err != nil {
			return nil, fmt.Errorf("invalid JSON object: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected object, got %T", v)
	}
}
