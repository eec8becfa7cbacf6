package compute

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dshills/nodegraph-go/graph"
	"github.com/dshills/nodegraph-go/graph/model"
)

// Defaults applied when a node leaves the corresponding option unset.
const (
	DefaultTimeout      = 60 * time.Second
	DefaultMaxRetries   = 3
	DefaultTemperature  = 0.7
	DefaultMaxTokens    = 2000
	DefaultOutputFormat = "json"
	DefaultPrompt       = "Hello, please help me."
)

// Default model per provider node type.
var defaultModels = map[graph.NodeType]string{
	graph.TypeChatGPT:     "gpt-3.5-turbo",
	graph.TypeGemini:      "gemini-pro",
	graph.TypeDeepSeek:    "deepseek-chat",
	graph.TypeGPTAgent:    "gpt-5",
	graph.TypeGeminiAgent: "gemini-1.5-flash",
}

// Provider describes the model endpoint behind a provider-calling node,
// built from that node's configuration.
type Provider struct {
	NodeID   string
	NodeType graph.NodeType

	// ModelType is the chat_model node's provider selector
	// (chatgpt, gemini, deepseek or claude). Other types leave it empty.
	ModelType string

	APIKey      string
	APIURL      string
	Model       string
	Headers     map[string]string
	Body        map[string]any
	Temperature *float64
	Timeout     time.Duration
	MaxRetries  int
}

// NewProvider builds a descriptor from a provider or agent node.
func NewProvider(n graph.Node) (Provider, error) {
	cfg := n.Config
	p := Provider{
		NodeID:     n.ID,
		NodeType:   n.Type,
		ModelType:  stringValue(cfg, "model_type"),
		APIKey:     stringValue(cfg, "api_key"),
		APIURL:     stringValue(cfg, "api_url"),
		Model:      stringValue(cfg, "model"),
		Timeout:    DefaultTimeout,
		MaxRetries: DefaultMaxRetries,
	}

	headers, err := objectValue(cfg, "request_headers")
	if err != nil {
		return Provider{}, fmt.Errorf("request_headers: %w", err)
	}
	if len(headers) > 0 {
		p.Headers = make(map[string]string, len(headers))
		for k, v := range headers {
			p.Headers[k] = fmt.Sprint(v)
		}
	}

	body, err := objectValue(cfg, "request_body")
	if err != nil {
		return Provider{}, fmt.Errorf("request_body: %w", err)
	}
	p.Body = body

	if p.Model == "" {
		if m, ok := body["model"].(string); ok {
			p.Model = m
		}
	}
	if p.Model == "" {
		p.Model = defaultModels[n.Type]
	}
	if p.Model == "" && p.NodeType == graph.TypeChatModel {
		p.Model = defaultModels[chatModelNodeType(p.ModelType)]
	}

	if t, ok := floatValue(cfg, "temperature"); ok {
		p.Temperature = model.Temperature(t)
	}
	if secs, ok := floatValue(cfg, "timeout"); ok && secs > 0 {
		p.Timeout = time.Duration(secs * float64(time.Second))
	}
	if r, ok := floatValue(cfg, "max_retries"); ok && r > 0 {
		p.MaxRetries = int(r)
	}
	return p, nil
}

// Family reports which SDK adapter serves this provider.
func (p Provider) Family() model.Family {
	switch p.NodeType {
	case graph.TypeChatGPT, graph.TypeGPTAgent:
		return model.FamilyOpenAI
	case graph.TypeGemini, graph.TypeGeminiAgent:
		return model.FamilyGoogle
	case graph.TypeDeepSeek:
		return model.FamilyDeepSeek
	}
	switch strings.ToLower(p.ModelType) {
	case "gemini", "google":
		return model.FamilyGoogle
	case "deepseek":
		return model.FamilyDeepSeek
	case "claude", "anthropic":
		return model.FamilyAnthropic
	}
	return model.FamilyOpenAI
}

// WireModelType is the model_type value the backend chat endpoint expects.
func (p Provider) WireModelType() string {
	switch p.NodeType {
	case graph.TypeChatGPT:
		return "chatgpt"
	case graph.TypeGemini:
		return "gemini"
	case graph.TypeDeepSeek:
		return "deepseek"
	}
	if p.ModelType != "" {
		return p.ModelType
	}
	return "chatgpt"
}

// WithModel returns a copy of p targeting m.
func (p Provider) WithModel(m string) Provider {
	out := p
	out.Model = m
	if p.Body != nil {
		out.Body = cloneObject(p.Body)
		if _, ok := out.Body["model"]; ok {
			out.Body["model"] = m
		}
	}
	return out
}

func chatModelNodeType(modelType string) graph.NodeType {
	switch strings.ToLower(modelType) {
	case "gemini", "google":
		return graph.TypeGemini
	case "deepseek":
		return graph.TypeDeepSeek
	}
	return graph.TypeChatGPT
}

// MemoryBinding is the configuration of a memory node wired into an agent's
// memory port.
type MemoryBinding struct {
	NodeID     string `json:"-"`
	MemoryType string `json:"memory_type"`
	Strategy   string `json:"memory_strategy,omitempty"`
	TTL        int    `json:"memory_ttl,omitempty"`
	WorkflowID string `json:"workflow_id,omitempty"`
	SessionID  string `json:"session_id,omitempty"`
}

// ToolBinding is the configuration of a tool node wired into an agent's tool
// port.
type ToolBinding struct {
	NodeID string         `json:"-"`
	Name   string         `json:"name"`
	Type   string         `json:"tool_type"`
	Config map[string]any `json:"config,omitempty"`
}

// ParseFileRequest reads a file into structured data.
type ParseFileRequest struct {
	FilePath string `json:"file_path"`
}

// ExportFileRequest writes data in one of json, yaml, csv or xml.
type ExportFileRequest struct {
	Data         any    `json:"data"`
	OutputFormat string `json:"output_format"`
	OutputPath   string `json:"-"`
	PrettyPrint  bool   `json:"pretty_print"`
	SortBy       string `json:"sort_by,omitempty"`
}

// Filename returns the export file name without extension, derived from
// OutputPath.
func (r ExportFileRequest) Filename() string {
	if r.OutputPath == "" {
		return ""
	}
	base := r.OutputPath
	if i := strings.LastIndexAny(base, `/\`); i >= 0 {
		base = base[i+1:]
	}
	if i := strings.LastIndex(base, "."); i > 0 {
		base = base[:i]
	}
	return base
}

// EditDataRequest applies create, update or delete to the list at Path.
type EditDataRequest struct {
	Data            any            `json:"data"`
	Operation       string         `json:"operation"`
	Path            string         `json:"path"`
	ItemData        map[string]any `json:"item_data,omitempty"`
	FilterCondition map[string]any `json:"filter_condition,omitempty"`
}

// FilterDataRequest keeps the items matching FilterCondition.
type FilterDataRequest struct {
	Data            any            `json:"data"`
	FilterCondition map[string]any `json:"filter_condition"`
	Path            string         `json:"path,omitempty"`
}

// ValidateDataRequest checks required fields and, optionally, a JSON Schema.
type ValidateDataRequest struct {
	Data           any            `json:"data"`
	Schema         map[string]any `json:"schema,omitempty"`
	RequiredFields []string       `json:"required_fields,omitempty"`
}

// AnalyzeRequest asks for a structure analysis of parsed data.
type AnalyzeRequest struct {
	Data              any    `json:"xml_data"`
	Schema            any    `json:"xml_schema,omitempty"`
	SampleContent     string `json:"sample_content,omitempty"`
	AdditionalContext string `json:"additional_context,omitempty"`
}

// EditorConfigRequest asks for an editor configuration from an analysis.
type EditorConfigRequest struct {
	Structure    any      `json:"xml_structure"`
	EditorType   string   `json:"editor_type"`
	CustomFields []string `json:"custom_fields,omitempty"`
}

// SmartEditRequest applies a natural-language instruction to data.
type SmartEditRequest struct {
	Data         any    `json:"data"`
	Instruction  string `json:"instruction"`
	Structure    any    `json:"xml_structure,omitempty"`
	EditorConfig any    `json:"editor_config,omitempty"`
}

// GenerateWorkflowRequest asks for a generated workflow definition.
type GenerateWorkflowRequest struct {
	Structure    any    `json:"xml_structure"`
	EditorConfig any    `json:"editor_config,omitempty"`
	WorkflowType string `json:"workflow_type"`
	TargetFormat string `json:"target_format,omitempty"`
	Description  string `json:"description,omitempty"`
}

// ChatRequest is one prompt sent to a provider.
type ChatRequest struct {
	Provider Provider
	Prompt   string
}

// AgentRequest runs one agent turn.
type AgentRequest struct {
	// Type is the agent node type: ai_agent, gpt_agent or gemini_agent.
	Type graph.NodeType

	Provider     Provider
	SystemPrompt string
	Goal         string
	Instructions string
	Input        graph.Bag
	Temperature  float64
	MaxTokens    int
	OutputFormat string

	Memory *MemoryBinding
	Tool   *ToolBinding
}

// Memory operations.
const (
	MemoryStore    = "store"
	MemoryRetrieve = "retrieve"
	MemorySearch   = "search"
	MemoryDelete   = "delete"
)

// MemoryRequest is one memory node operation.
type MemoryRequest struct {
	Operation  string         `json:"-"`
	MemoryType string         `json:"memory_type,omitempty"`
	Key        string         `json:"key,omitempty"`
	Value      any            `json:"value,omitempty"`
	WorkflowID string         `json:"workflow_id,omitempty"`
	SessionID  string         `json:"session_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	TTL        int            `json:"ttl,omitempty"`
	Query      string         `json:"query,omitempty"`
	Limit      int            `json:"limit,omitempty"`
}

func stringValue(cfg map[string]any, key string) string {
	s, _ := cfg[key].(string)
	return strings.TrimSpace(s)
}

func floatValue(cfg map[string]any, key string) (float64, bool) {
	switch v := cfg[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	}
	return 0, false
}

// objectValue reads a config field holding either an object or a JSON
// object string. Absent and blank values yield a nil map.
func objectValue(cfg map[string]any, key string) (map[string]any, error) {
	switch v := cfg[key].(type) {
	case nil:
		return nil, nil
	case map[string]any:
		return cloneObject(v), nil
	case string:
		if strings.TrimSpace(v) == "" {
			return nil, nil
		}
		var out map[string]any
		if err := json.Unmarshal([]byte(v), &out); err != nil {
			return nil, fmt.Errorf("invalid JSON object: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected a JSON object, got %T", v)
	}
}

func cloneObject(m map[string]any) map[string]any {
	return map[string]any(graph.Bag(m).Clone())
}
