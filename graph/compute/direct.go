package compute

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/dshills/nodegraph-go/graph"
	"github.com/dshills/nodegraph-go/graph/model"
	"github.com/dshills/nodegraph-go/graph/model/anthropic"
	"github.com/dshills/nodegraph-go/graph/model/google"
	"github.com/dshills/nodegraph-go/graph/model/openai"
	"github.com/dshills/nodegraph-go/graph/store"
	"github.com/dshills/nodegraph-go/graph/tool"
)

// ErrNoBackend is returned by Direct for an operation it cannot perform
// in-process when no fallback Service is configured.
var ErrNoBackend = errors.New("operation requires a compute backend")

// DefaultMaxToolRounds bounds the model/tool exchange of one agent turn.
const DefaultMaxToolRounds = 5

// memoryContextLimit is how many stored entries an agent sees as context.
const memoryContextLimit = 5

// DefaultFactories returns the SDK adapters for every provider family.
func DefaultFactories() map[model.Family]model.Factory {
	return map[model.Family]model.Factory{
		model.FamilyOpenAI:    openai.Factory,
		model.FamilyDeepSeek:  openai.DeepSeekFactory,
		model.FamilyAnthropic: anthropic.Factory,
		model.FamilyGoogle:    google.Factory,
	}
}

// Direct is a Service that calls provider SDKs itself and runs data,
// memory and export operations in-process. Structure analysis, generation
// and parsing of formats it cannot read are delegated to a fallback.
type Direct struct {
	fallback  Service
	factories map[model.Family]model.Factory
	memory    store.MemoryStore
	logger    *slog.Logger
	exportDir string
	maxRounds int
	now       func() time.Time
}

// DirectOption configures a Direct service.
type DirectOption func(*Direct)

// WithFactory overrides the ChatModel factory of one provider family.
func WithFactory(f model.Family, factory model.Factory) DirectOption {
	return func(d *Direct) { d.factories[f] = factory }
}

// WithMemoryStore serves memory operations and agent memory from ms.
func WithMemoryStore(ms store.MemoryStore) DirectOption {
	return func(d *Direct) { d.memory = ms }
}

// WithDirectLogger sets the logger.
func WithDirectLogger(l *slog.Logger) DirectOption {
	return func(d *Direct) { d.logger = l }
}

// WithDirectExportDir sets where exports without an output path go.
func WithDirectExportDir(dir string) DirectOption {
	return func(d *Direct) { d.exportDir = dir }
}

// WithMaxToolRounds bounds how many tool calls one agent turn may make.
func WithMaxToolRounds(n int) DirectOption {
	return func(d *Direct) {
		if n > 0 {
			d.maxRounds = n
		}
	}
}

// NewDirect creates a Direct service. fallback may be nil.
func NewDirect(fallback Service, opts ...DirectOption) *Direct {
	d := &Direct{
		fallback:  fallback,
		factories: DefaultFactories(),
		logger:    slog.Default(),
		maxRounds: DefaultMaxToolRounds,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// ParseFile reads JSON, YAML and CSV locally and delegates other formats.
func (d *Direct) ParseFile(ctx context.Context, req ParseFileRequest) (graph.Bag, error) {
	out, ok, err := parseLocal(req.FilePath)
	if ok {
		return out, err
	}
	if d.fallback == nil {
		return nil, fmt.Errorf("%w: parse %s", ErrNoBackend, filepath.Ext(req.FilePath))
	}
	return d.fallback.ParseFile(ctx, req)
}

// ExportFile renders and writes the export file locally.
func (d *Direct) ExportFile(_ context.Context, req ExportFileRequest) (graph.Bag, error) {
	content, err := encodeExport(req)
	if err != nil {
		return nil, err
	}
	path := req.OutputPath
	if path == "" {
		path = filepath.Join(d.exportDir, fmt.Sprintf("export_%s.%s", d.now().Format("20060102_150405"), req.OutputFormat))
	} else if filepath.Ext(path) == "" {
		path += "." + req.OutputFormat
	}
	if err := writeExport(path, content); err != nil {
		return nil, err
	}
	return exportResult(req, path), nil
}

// EditData runs in-process.
func (d *Direct) EditData(_ context.Context, req EditDataRequest) (graph.Bag, error) {
	return editData(req)
}

// FilterData runs in-process.
func (d *Direct) FilterData(_ context.Context, req FilterDataRequest) (graph.Bag, error) {
	return filterData(req)
}

// ValidateData runs in-process with JSON Schema validation.
func (d *Direct) ValidateData(_ context.Context, req ValidateDataRequest) (graph.Bag, error) {
	return validateData(req)
}

// AnalyzeStructure is delegated.
func (d *Direct) AnalyzeStructure(ctx context.Context, req AnalyzeRequest) (graph.Bag, error) {
	if d.fallback == nil {
		return nil, fmt.Errorf("%w: analyze structure", ErrNoBackend)
	}
	return d.fallback.AnalyzeStructure(ctx, req)
}

// GenerateEditorConfig is delegated.
func (d *Direct) GenerateEditorConfig(ctx context.Context, req EditorConfigRequest) (graph.Bag, error) {
	if d.fallback == nil {
		return nil, fmt.Errorf("%w: generate editor config", ErrNoBackend)
	}
	return d.fallback.GenerateEditorConfig(ctx, req)
}

// SmartEdit is delegated.
func (d *Direct) SmartEdit(ctx context.Context, req SmartEditRequest) (graph.Bag, error) {
	if d.fallback == nil {
		return nil, fmt.Errorf("%w: smart edit", ErrNoBackend)
	}
	return d.fallback.SmartEdit(ctx, req)
}

// GenerateWorkflow is delegated.
func (d *Direct) GenerateWorkflow(ctx context.Context, req GenerateWorkflowRequest) (graph.Bag, error) {
	if d.fallback == nil {
		return nil, fmt.Errorf("%w: generate workflow", ErrNoBackend)
	}
	return d.fallback.GenerateWorkflow(ctx, req)
}

// Chat sends the prompt through the provider family's SDK.
func (d *Direct) Chat(ctx context.Context, req ChatRequest) (graph.Bag, error) {
	cm, err := d.chatModel(req.Provider, 0)
	if err != nil {
		return nil, err
	}
	out, err := cm.Chat(ctx, []model.Message{{Role: model.RoleUser, Content: req.Prompt}}, nil)
	if err != nil {
		return nil, withProvider(err, req.Provider.Model)
	}
	return graph.Bag{graph.FieldChatModelResponse: map[string]any{
		"model":      firstNonEmpty(out.Model, req.Provider.Model),
		"content":    out.Text,
		"usage":      usageMap(out.Usage),
		"prompt":     req.Prompt,
		"model_type": req.Provider.WireModelType(),
	}}, nil
}

// RunAgent runs one agent turn: optional memory context, a bounded
// model/tool exchange, JSON output repair and automatic memory storage.
func (d *Direct) RunAgent(ctx context.Context, req AgentRequest) (graph.Bag, error) {
	cm, err := d.chatModel(req.Provider, req.MaxTokens)
	if err != nil {
		return nil, err
	}

	var tools tool.Set
	if req.Tool != nil {
		t, defaults, err := tool.FromConfig(req.Tool.Config)
		if err != nil {
			return nil, fmt.Errorf("tool port: %w", err)
		}
		tools = tool.NewSet(tool.Bound{Tool: t, Defaults: defaults})
	}

	messages, err := d.agentMessages(ctx, req)
	if err != nil {
		return nil, err
	}
	var specs []model.ToolSpec
	if tools != nil {
		specs = tools.Specs()
	}

	var (
		final     model.ChatOut
		usage     model.Usage
		toolCalls []any
	)
	for round := 0; ; round++ {
		out, err := cm.Chat(ctx, messages, specs)
		if err != nil {
			return nil, withProvider(err, req.Provider.Model)
		}
		usage.InputTokens += out.Usage.InputTokens
		usage.OutputTokens += out.Usage.OutputTokens
		final = out

		if len(out.ToolCalls) == 0 || tools == nil {
			break
		}
		if round >= d.maxRounds {
			d.logger.Warn("agent tool rounds exhausted", "node", req.Provider.NodeID, "rounds", round)
			break
		}

		if out.Text != "" {
			messages = append(messages, model.Message{Role: model.RoleAssistant, Content: out.Text})
		}
		for _, call := range out.ToolCalls {
			result, callErr := tools.Call(ctx, call.Name, call.Input)
			record := map[string]any{"name": call.Name, "input": call.Input}
			var content string
			if callErr != nil {
				record["error"] = callErr.Error()
				content = fmt.Sprintf("Tool %s failed: %v", call.Name, callErr)
			} else {
				record["output"] = result
				content = fmt.Sprintf("Tool %s returned: %s", call.Name, textOf(result))
			}
			toolCalls = append(toolCalls, record)
			messages = append(messages,
				model.Message{Role: model.RoleAssistant, Content: fmt.Sprintf("Calling tool %s with %s", call.Name, textOf(call.Input))},
				model.Message{Role: model.RoleUser, Content: content},
			)
		}
	}

	modelName := firstNonEmpty(final.Model, req.Provider.Model)
	output := agentOutput(final.Text, modelName, req.OutputFormat, usageMap(usage))
	if len(toolCalls) > 0 {
		output["tool_calls"] = toolCalls
	}

	if req.Memory != nil && d.memory != nil && memoryStrategy(req.Memory) == "auto" {
		d.rememberTurn(ctx, req, final.Text)
	}

	return graph.Bag{
		graph.FieldAgentOutput: output,
		graph.FieldChatModelResponse: map[string]any{
			"model":      modelName,
			"content":    final.Text,
			"usage":      usageMap(usage),
			"model_type": req.Provider.WireModelType(),
		},
	}, nil
}

// Memory runs against the configured MemoryStore, or is delegated when
// there is none.
func (d *Direct) Memory(ctx context.Context, req MemoryRequest) (graph.Bag, error) {
	if d.memory == nil {
		if d.fallback == nil {
			return nil, fmt.Errorf("%w: memory", ErrNoBackend)
		}
		return d.fallback.Memory(ctx, req)
	}

	q := store.MemoryQuery{
		Type:       req.MemoryType,
		Key:        req.Key,
		WorkflowID: req.WorkflowID,
		SessionID:  req.SessionID,
		Text:       req.Query,
		Limit:      req.Limit,
	}

	result := map[string]any{"operation": req.Operation}
	switch req.Operation {
	case MemoryStore:
		m := store.Memory{
			Type:       req.MemoryType,
			Key:        req.Key,
			Value:      req.Value,
			WorkflowID: req.WorkflowID,
			SessionID:  req.SessionID,
			Metadata:   req.Metadata,
		}
		if req.TTL > 0 {
			exp := d.now().Add(time.Duration(req.TTL) * time.Second)
			m.ExpiresAt = &exp
		}
		saved, err := d.memory.PutMemory(ctx, m)
		if err != nil {
			return nil, errLocal(http.StatusInternalServerError, "failed to store memory: %v", err)
		}
		result["memory"] = memoryMap(saved)
		result["message"] = "memory stored"

	case MemoryRetrieve, MemorySearch:
		var (
			ms  []store.Memory
			err error
		)
		if req.Operation == MemoryRetrieve {
			ms, err = d.memory.RetrieveMemories(ctx, q)
		} else {
			ms, err = d.memory.SearchMemories(ctx, q)
		}
		if err != nil {
			return nil, errLocal(http.StatusInternalServerError, "failed to %s memory: %v", req.Operation, err)
		}
		list := make([]any, 0, len(ms))
		for _, m := range ms {
			list = append(list, memoryMap(m))
		}
		result["memories"] = list
		result["count"] = len(list)

	case MemoryDelete:
		n, err := d.memory.DeleteMemories(ctx, q)
		if errors.Is(err, store.ErrNoCondition) {
			return nil, errLocal(http.StatusBadRequest, "%v", err)
		}
		if err != nil {
			return nil, errLocal(http.StatusInternalServerError, "failed to delete memory: %v", err)
		}
		result["deleted_count"] = n

	default:
		return nil, errLocal(http.StatusBadRequest, "unsupported memory operation %q", req.Operation)
	}
	return graph.Bag{graph.FieldMemoryResult: result}, nil
}

func (d *Direct) chatModel(p Provider, maxTokens int) (model.ChatModel, error) {
	family := p.Family()
	factory, ok := d.factories[family]
	if !ok {
		return nil, fmt.Errorf("no chat model factory for provider family %q", family)
	}
	cfg := model.Config{
		APIKey:      p.APIKey,
		Model:       p.Model,
		BaseURL:     sdkBaseURL(family, p.APIURL),
		Temperature: p.Temperature,
		MaxTokens:   maxTokens,
		Timeout:     p.Timeout,
		MaxRetries:  p.MaxRetries,
	}
	cm, err := factory(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s chat model: %w", family, err)
	}
	return cm, nil
}

// agentMessages builds the system and user turns of an agent call.
func (d *Direct) agentMessages(ctx context.Context, req AgentRequest) ([]model.Message, error) {
	var system []string
	if req.SystemPrompt != "" {
		system = append(system, req.SystemPrompt)
	}
	if req.Instructions != "" {
		system = append(system, req.Instructions)
	}
	if req.OutputFormat == "json" {
		system = append(system, "Respond with a single valid JSON document and nothing else.")
	}

	if req.Memory != nil && d.memory != nil {
		ms, err := d.memory.RetrieveMemories(ctx, store.MemoryQuery{
			Type:       req.Memory.MemoryType,
			WorkflowID: req.Memory.WorkflowID,
			Limit:      memoryContextLimit,
		})
		if err != nil {
			d.logger.Warn("agent memory lookup failed", "node", req.Provider.NodeID, "error", err)
		} else if len(ms) > 0 {
			lines := make([]string, 0, len(ms))
			for _, m := range ms {
				lines = append(lines, fmt.Sprintf("- %s: %s", m.Key, textOf(m.Value)))
			}
			system = append(system, "Relevant memory:\n"+strings.Join(lines, "\n"))
		}
	}

	var user strings.Builder
	if req.Goal != "" {
		fmt.Fprintf(&user, "Goal: %s\n\n", req.Goal)
	}
	input, err := json.MarshalIndent(req.Input, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode agent input: %w", err)
	}
	user.WriteString("Input data:\n")
	user.Write(input)

	var messages []model.Message
	if len(system) > 0 {
		messages = append(messages, model.Message{Role: model.RoleSystem, Content: strings.Join(system, "\n\n")})
	}
	return append(messages, model.Message{Role: model.RoleUser, Content: user.String()}), nil
}

func (d *Direct) rememberTurn(ctx context.Context, req AgentRequest, output string) {
	input, _ := json.Marshal(req.Input)
	sum := sha256.Sum256(input)
	m := store.Memory{
		Type:       req.Memory.MemoryType,
		WorkflowID: req.Memory.WorkflowID,
		SessionID:  req.Memory.SessionID,
		Key:        string(req.Type) + "_" + hex.EncodeToString(sum[:8]),
		Value:      map[string]any{"input": map[string]any(req.Input), "output": output},
	}
	if m.Type == "" {
		m.Type = "workflow"
	}
	if req.Memory.TTL > 0 {
		exp := d.now().Add(time.Duration(req.Memory.TTL) * time.Second)
		m.ExpiresAt = &exp
	}
	if _, err := d.memory.PutMemory(ctx, m); err != nil {
		d.logger.Warn("agent memory store failed", "node", req.Provider.NodeID, "error", err)
	}
}

func memoryStrategy(b *MemoryBinding) string {
	if b.Strategy == "" {
		return "auto"
	}
	return b.Strategy
}

// sdkBaseURL derives an SDK base URL from a node's full endpoint URL. The
// vendor default hosts map to "" so each SDK uses its own default.
func sdkBaseURL(family model.Family, apiURL string) string {
	if apiURL == "" {
		return ""
	}
	u, err := url.Parse(apiURL)
	if err != nil || u.Host == "" {
		return ""
	}
	switch family {
	case model.FamilyGoogle:
		if u.Host == "generativelanguage.googleapis.com" {
			return ""
		}
		return u.Host
	case model.FamilyAnthropic:
		if u.Host == "api.anthropic.com" {
			return ""
		}
		u.Path = strings.TrimSuffix(strings.TrimSuffix(u.Path, "/messages"), "/v1")
	default:
		if u.Host == "api.openai.com" {
			return ""
		}
		for _, suffix := range []string{"/chat/completions", "/responses", "/completions"} {
			u.Path = strings.TrimSuffix(u.Path, suffix)
		}
	}
	u.RawQuery = ""
	return strings.TrimRight(u.String(), "/")
}

func usageMap(u model.Usage) map[string]any {
	return map[string]any{
		"prompt_tokens":     u.InputTokens,
		"completion_tokens": u.OutputTokens,
		"total_tokens":      u.Total(),
	}
}

func memoryMap(m store.Memory) map[string]any {
	out := map[string]any{
		"id":          m.ID,
		"memory_type": m.Type,
		"key":         m.Key,
		"value":       m.Value,
		"created_at":  m.CreatedAt.Format(time.RFC3339),
		"updated_at":  m.UpdatedAt.Format(time.RFC3339),
	}
	if m.WorkflowID != "" {
		out["workflow_id"] = m.WorkflowID
	}
	if m.SessionID != "" {
		out["session_id"] = m.SessionID
	}
	if len(m.Metadata) > 0 {
		out["metadata"] = m.Metadata
	}
	if m.ExpiresAt != nil {
		out["expires_at"] = m.ExpiresAt.Format(time.RFC3339)
	}
	return out
}
