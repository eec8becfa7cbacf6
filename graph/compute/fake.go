package compute

import (
	"context"
	"sync"

	"github.com/dshills/nodegraph-go/graph"
)

// Operation names used by Fake's call counters.
const (
	OpParseFile            = "ParseFile"
	OpExportFile           = "ExportFile"
	OpEditData             = "EditData"
	OpFilterData           = "FilterData"
	OpValidateData         = "ValidateData"
	OpAnalyzeStructure     = "AnalyzeStructure"
	OpGenerateEditorConfig = "GenerateEditorConfig"
	OpSmartEdit            = "SmartEdit"
	OpGenerateWorkflow     = "GenerateWorkflow"
	OpChat                 = "Chat"
	OpRunAgent             = "RunAgent"
	OpMemory               = "Memory"
)

// Fake is a scripted Service for tests. Each operation runs its Func field
// when set and otherwise succeeds with an empty result. Every call is
// counted and its request recorded.
//
// Fake is safe for concurrent use.
type Fake struct {
	ParseFileFunc            func(context.Context, ParseFileRequest) (graph.Bag, error)
	ExportFileFunc           func(context.Context, ExportFileRequest) (graph.Bag, error)
	EditDataFunc             func(context.Context, EditDataRequest) (graph.Bag, error)
	FilterDataFunc           func(context.Context, FilterDataRequest) (graph.Bag, error)
	ValidateDataFunc         func(context.Context, ValidateDataRequest) (graph.Bag, error)
	AnalyzeStructureFunc     func(context.Context, AnalyzeRequest) (graph.Bag, error)
	GenerateEditorConfigFunc func(context.Context, EditorConfigRequest) (graph.Bag, error)
	SmartEditFunc            func(context.Context, SmartEditRequest) (graph.Bag, error)
	GenerateWorkflowFunc     func(context.Context, GenerateWorkflowRequest) (graph.Bag, error)
	ChatFunc                 func(context.Context, ChatRequest) (graph.Bag, error)
	RunAgentFunc             func(context.Context, AgentRequest) (graph.Bag, error)
	MemoryFunc               func(context.Context, MemoryRequest) (graph.Bag, error)

	mu       sync.Mutex
	calls    map[string]int
	requests []any
}

func (f *Fake) record(op string, req any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[op]++
	f.requests = append(f.requests, req)
}

// Count returns how many times op was called.
func (f *Fake) Count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// Total returns the number of calls across every operation.
func (f *Fake) Total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

// Requests returns every recorded request in call order.
func (f *Fake) Requests() []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]any(nil), f.requests...)
}

// ChatRequests returns the recorded Chat requests.
func (f *Fake) ChatRequests() []ChatRequest {
	var out []ChatRequest
	for _, r := range f.Requests() {
		if c, ok := r.(ChatRequest); ok {
			out = append(out, c)
		}
	}
	return out
}

// AgentRequests returns the recorded RunAgent requests.
func (f *Fake) AgentRequests() []AgentRequest {
	var out []AgentRequest
	for _, r := range f.Requests() {
		if a, ok := r.(AgentRequest); ok {
			out = append(out, a)
		}
	}
	return out
}

// Reset clears counters and recorded requests.
func (f *Fake) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
	f.requests = nil
}

func run[R any](ctx context.Context, fn func(context.Context, R) (graph.Bag, error), req R) (graph.Bag, error) {
	if fn == nil {
		return graph.Bag{}, nil
	}
	return fn(ctx, req)
}

func (f *Fake) ParseFile(ctx context.Context, req ParseFileRequest) (graph.Bag, error) {
	f.record(OpParseFile, req)
	return run(ctx, f.ParseFileFunc, req)
}

func (f *Fake) ExportFile(ctx context.Context, req ExportFileRequest) (graph.Bag, error) {
	f.record(OpExportFile, req)
	return run(ctx, f.ExportFileFunc, req)
}

func (f *Fake) EditData(ctx context.Context, req EditDataRequest) (graph.Bag, error) {
	f.record(OpEditData, req)
	return run(ctx, f.EditDataFunc, req)
}

func (f *Fake) FilterData(ctx context.Context, req FilterDataRequest) (graph.Bag, error) {
	f.record(OpFilterData, req)
	return run(ctx, f.FilterDataFunc, req)
}

func (f *Fake) ValidateData(ctx context.Context, req ValidateDataRequest) (graph.Bag, error) {
	f.record(OpValidateData, req)
	return run(ctx, f.ValidateDataFunc, req)
}

func (f *Fake) AnalyzeStructure(ctx context.Context, req AnalyzeRequest) (graph.Bag, error) {
	f.record(OpAnalyzeStructure, req)
	return run(ctx, f.AnalyzeStructureFunc, req)
}

func (f *Fake) GenerateEditorConfig(ctx context.Context, req EditorConfigRequest) (graph.Bag, error) {
	f.record(OpGenerateEditorConfig, req)
	return run(ctx, f.GenerateEditorConfigFunc, req)
}

func (f *Fake) SmartEdit(ctx context.Context, req SmartEditRequest) (graph.Bag, error) {
	f.record(OpSmartEdit, req)
	return run(ctx, f.SmartEditFunc, req)
}

func (f *Fake) GenerateWorkflow(ctx context.Context, req GenerateWorkflowRequest) (graph.Bag, error) {
	f.record(OpGenerateWorkflow, req)
	return run(ctx, f.GenerateWorkflowFunc, req)
}

func (f *Fake) Chat(ctx context.Context, req ChatRequest) (graph.Bag, error) {
	f.record(OpChat, req)
	return run(ctx, f.ChatFunc, req)
}

func (f *Fake) RunAgent(ctx context.Context, req AgentRequest) (graph.Bag, error) {
	f.record(OpRunAgent, req)
	return run(ctx, f.RunAgentFunc, req)
}

func (f *Fake) Memory(ctx context.Context, req MemoryRequest) (graph.Bag, error) {
	f.record(OpMemory, req)
	return run(ctx, f.MemoryFunc, req)
}

var (
	_ Service = (*Fake)(nil)
	_ Service = (*Client)(nil)
	_ Service = (*Direct)(nil)
)
