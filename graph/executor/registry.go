package executor

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/dshills/nodegraph-go/graph"
)

// Factory creates the executor of one invocation.
type Factory func(c *Context) Executor

// Registry maps every node type to its executor factory.
//
// The table is built and checked at startup. Registry is not safe for
// concurrent Register calls; Get may be called concurrently once
// registration is done.
type Registry struct {
	factories map[graph.NodeType]Factory
}

// NewRegistry builds the registry of every built-in node type and checks
// that none is missing.
func NewRegistry() (*Registry, error) {
	r := &Registry{factories: builtins()}
	if err := r.Check(); err != nil {
		return nil, err
	}
	return r, nil
}

func builtins() map[graph.NodeType]Factory {
	return map[graph.NodeType]Factory{
		graph.TypeParseFile:            newParseFile,
		graph.TypeEditData:             newEditData,
		graph.TypeFilterData:           newFilterData,
		graph.TypeValidateData:         newValidateData,
		graph.TypeExportFile:           newExportFile,
		graph.TypeAnalyzeStructure:     newAnalyzeStructure,
		graph.TypeGenerateEditorConfig: newGenerateEditorConfig,
		graph.TypeGenerateWorkflow:     newGenerateWorkflow,
		graph.TypeSmartEdit:            newSmartEdit,
		graph.TypeChatGPT:              newProviderCall,
		graph.TypeGemini:               newProviderCall,
		graph.TypeDeepSeek:             newProviderCall,
		graph.TypeChatModel:            newProviderCall,
		graph.TypeAIAgent:              newAIAgent,
		graph.TypeGPTAgent:             newVendorAgent,
		graph.TypeGeminiAgent:          newVendorAgent,
		graph.TypeMemory:               newMemory,
		graph.TypeTool:                 newToolCall,
	}
}

// Register sets the factory of t, replacing any previous one.
func (r *Registry) Register(t graph.NodeType, f Factory) error {
	if t == "" {
		return errors.New("node type must not be empty")
	}
	if f == nil {
		return fmt.Errorf("nil factory for node type %q", t)
	}
	r.factories[t] = f
	return nil
}

// Check reports every known node type without a factory.
func (r *Registry) Check() error {
	var missing []string
	for _, t := range graph.NodeTypes() {
		if r.factories[t] == nil {
			missing = append(missing, string(t))
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("no executor registered for node types %v", missing)
	}
	return nil
}

// Types returns every registered node type in lexical order.
func (r *Registry) Types() []graph.NodeType {
	out := make([]graph.NodeType, 0, len(r.factories))
	for t := range r.factories {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Supports reports whether t has a registered factory.
func (r *Registry) Supports(t graph.NodeType) bool {
	return r.factories[t] != nil
}

// Get returns the executor for t bound to c. It never returns nil: a type
// without a factory yields an Unsupported executor.
func (r *Registry) Get(t graph.NodeType, c *Context) Executor {
	if f := r.factories[t]; f != nil {
		if ex := f(c); ex != nil {
			return ex
		}
	}
	return Unsupported{Type: t}
}

// Unsupported is the executor of a node type with no implementation. Its
// failure is not fatal and leaves the node untouched.
type Unsupported struct {
	Type graph.NodeType
}

// Execute implements Executor.
func (u Unsupported) Execute(context.Context) Result {
	return Result{Error: fmt.Sprintf("execution not implemented for node type %q", u.Type)}
}

// IsUnsupported reports whether ex is the unsupported variant.
func IsUnsupported(ex Executor) bool {
	switch ex.(type) {
	case Unsupported, *Unsupported:
		return true
	}
	return false
}
