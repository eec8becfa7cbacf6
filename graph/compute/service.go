// Package compute is the boundary between node executors and the work they
// delegate: file parsing, data operations, AI structure analysis, provider
// chat calls, agents and memory.
//
// Service is implemented by Client (the backend REST API), Direct (SDK and
// in-process operations, delegating the rest) and Fake (tests). Every error
// that crosses this boundary can be turned into a structured *Error with
// Classify.
package compute

import (
	"context"

	"github.com/dshills/nodegraph-go/graph"
)

// Service performs the operation behind each node type. Each method returns
// the node's output fields, which the executor merges over its input.
type Service interface {
	ParseFile(ctx context.Context, req ParseFileRequest) (graph.Bag, error)
	ExportFile(ctx context.Context, req ExportFileRequest) (graph.Bag, error)

	EditData(ctx context.Context, req EditDataRequest) (graph.Bag, error)
	FilterData(ctx context.Context, req FilterDataRequest) (graph.Bag, error)
	ValidateData(ctx context.Context, req ValidateDataRequest) (graph.Bag, error)

	AnalyzeStructure(ctx context.Context, req AnalyzeRequest) (graph.Bag, error)
	GenerateEditorConfig(ctx context.Context, req EditorConfigRequest) (graph.Bag, error)
	SmartEdit(ctx context.Context, req SmartEditRequest) (graph.Bag, error)
	GenerateWorkflow(ctx context.Context, req GenerateWorkflowRequest) (graph.Bag, error)

	Chat(ctx context.Context, req ChatRequest) (graph.Bag, error)
	RunAgent(ctx context.Context, req AgentRequest) (graph.Bag, error)

	Memory(ctx context.Context, req MemoryRequest) (graph.Bag, error)
}
