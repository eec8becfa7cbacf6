package compute

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"github.com/dshills/nodegraph-go/graph"
	"github.com/dshills/nodegraph-go/graph/model"
)

// Output fields contributed by compute operations beyond graph's well-known
// fields.
const (
	FieldEditSummary  = "edit_summary"
	FieldFilterCount  = "filter_count"
	FieldFilterTotal  = "filter_total"
	FieldOutputFormat = "output_format"
	FieldExported     = "exported"
	FieldExportPath   = "export_path"
)

// Placeholders substituted by the backend in request headers and bodies.
const (
	PlaceholderAPIKey = "${API_KEY}"
	PlaceholderPrompt = "${PROMPT}"
	PlaceholderModel  = "${MODEL}"
)

// RequestTemplate returns the provider's request body with the fields every
// chat call needs filled in: model, a single user message carrying the
// prompt placeholder, and the configured temperature.
func (p Provider) RequestTemplate() map[string]any {
	body := cloneObject(p.Body)
	if body == nil {
		body = map[string]any{}
	}

	if p.Family() == model.FamilyGoogle {
		if _, ok := body["contents"]; !ok {
			body["contents"] = []any{
				map[string]any{"parts": []any{map[string]any{"text": PlaceholderPrompt}}},
			}
		}
		if p.Temperature != nil {
			gen, _ := body["generationConfig"].(map[string]any)
			if gen == nil {
				gen = map[string]any{}
			}
			if _, ok := gen["temperature"]; !ok {
				gen["temperature"] = *p.Temperature
			}
			body["generationConfig"] = gen
		}
		return body
	}

	if _, ok := body["model"]; !ok && p.Model != "" {
		body["model"] = p.Model
	}
	if _, ok := body["messages"]; !ok {
		body["messages"] = []any{
			map[string]any{"role": model.RoleUser, "content": PlaceholderPrompt},
		}
	}
	if _, ok := body["temperature"]; !ok && p.Temperature != nil {
		body["temperature"] = *p.Temperature
	}
	return body
}

type chatWireRequest struct {
	ModelType      string `json:"model_type"`
	APIKey         string `json:"api_key"`
	APIURL         string `json:"api_url"`
	RequestHeaders string `json:"request_headers,omitempty"`
	RequestBody    string `json:"request_body"`
	Prompt         string `json:"prompt"`
	Timeout        int    `json:"timeout"`
	MaxRetries     int    `json:"max_retries"`
}

type chatModelConfig struct {
	ModelType      string `json:"model_type"`
	APIKey         string `json:"api_key"`
	APIURL         string `json:"api_url"`
	RequestHeaders string `json:"request_headers"`
	RequestBody    string `json:"request_body"`
}

func chatWire(p Provider, prompt string) (chatWireRequest, error) {
	body, err := json.Marshal(p.RequestTemplate())
	if err != nil {
		return chatWireRequest{}, fmt.Errorf("failed to encode request body: %w", err)
	}
	w := chatWireRequest{
		ModelType:   p.WireModelType(),
		APIKey:      p.APIKey,
		APIURL:      p.APIURL,
		RequestBody: string(body),
		Prompt:      prompt,
		Timeout:     int(p.Timeout.Seconds()),
		MaxRetries:  p.MaxRetries,
	}
	if len(p.Headers) > 0 {
		h, err := json.Marshal(p.Headers)
		if err != nil {
			return chatWireRequest{}, fmt.Errorf("failed to encode request headers: %w", err)
		}
		w.RequestHeaders = string(h)
	}
	return w, nil
}

func chatResponse(req ChatRequest, out graph.Bag) map[string]any {
	return map[string]any{
		"model":        firstNonEmpty(stringOf(out["model"]), req.Provider.Model),
		"content":      stringOf(out["content"]),
		"usage":        out["usage"],
		"raw_response": out["raw_response"],
		"prompt":       req.Prompt,
		"model_type":   req.Provider.WireModelType(),
	}
}

type aiAgentWireRequest struct {
	InputData       graph.Bag       `json:"input_data"`
	SystemPrompt    string          `json:"system_prompt"`
	Goal            string          `json:"goal,omitempty"`
	Temperature     float64         `json:"temperature"`
	MaxTokens       int             `json:"max_tokens"`
	OutputFormat    string          `json:"output_format"`
	ChatModelConfig chatModelConfig `json:"chat_model_config"`
	UseMemory       bool            `json:"use_memory"`
	MemoryConfig    *MemoryBinding  `json:"memory_config,omitempty"`
	UseTool         bool            `json:"use_tool"`
	ToolConfig      map[string]any  `json:"tool_config,omitempty"`
}

func aiAgentWire(req AgentRequest) (aiAgentWireRequest, error) {
	chat, err := chatWire(req.Provider, "")
	if err != nil {
		return aiAgentWireRequest{}, err
	}
	return aiAgentWireRequest{
		InputData:    req.Input,
		SystemPrompt: req.SystemPrompt,
		Goal:         req.Goal,
		Temperature:  req.Temperature,
		MaxTokens:    req.MaxTokens,
		OutputFormat: req.OutputFormat,
		ChatModelConfig: chatModelConfig{
			ModelType:      chat.ModelType,
			APIKey:         chat.APIKey,
			APIURL:         chat.APIURL,
			RequestHeaders: chat.RequestHeaders,
			RequestBody:    chat.RequestBody,
		},
		UseMemory:    req.Memory != nil,
		MemoryConfig: req.Memory,
		UseTool:      req.Tool != nil,
		ToolConfig:   toolConfig(req.Tool),
	}, nil
}

type vendorAgentWireRequest struct {
	APIKey          string         `json:"api_key"`
	APIURL          string         `json:"api_url,omitempty"`
	Model           string         `json:"model"`
	SystemPrompt    string         `json:"system_prompt,omitempty"`
	Instructions    string         `json:"instructions,omitempty"`
	InputData       graph.Bag      `json:"input_data"`
	OutputFormat    string         `json:"output_format"`
	Temperature     float64        `json:"temperature"`
	MaxTokens       int            `json:"max_tokens,omitempty"`
	Timeout         int            `json:"timeout"`
	MaxRetries      int            `json:"max_retries"`
	UseMemory       bool           `json:"use_memory"`
	MemoryConnected bool           `json:"memory_connected"`
	MemoryConfig    *MemoryBinding `json:"memory_config,omitempty"`
	UseTool         bool           `json:"use_tool"`
	ToolConfig      map[string]any `json:"tool_config,omitempty"`
}

func vendorAgentWire(req AgentRequest) vendorAgentWireRequest {
	p := req.Provider
	return vendorAgentWireRequest{
		APIKey:          p.APIKey,
		APIURL:          p.APIURL,
		Model:           p.Model,
		SystemPrompt:    req.SystemPrompt,
		Instructions:    req.Instructions,
		InputData:       req.Input,
		OutputFormat:    req.OutputFormat,
		Temperature:     req.Temperature,
		MaxTokens:       req.MaxTokens,
		Timeout:         int(p.Timeout.Seconds()),
		MaxRetries:      p.MaxRetries,
		UseMemory:       req.Memory != nil,
		MemoryConnected: req.Memory != nil,
		MemoryConfig:    req.Memory,
		UseTool:         req.Tool != nil,
		ToolConfig:      toolConfig(req.Tool),
	}
}

func toolConfig(t *ToolBinding) map[string]any {
	if t == nil {
		return nil
	}
	out := cloneObject(t.Config)
	if out == nil {
		out = map[string]any{}
	}
	out["tool_type"] = t.Type
	out["name"] = t.Name
	return out
}

// agentResult normalizes the differently shaped agent responses into
// agent_output plus, when present, chat_model_response.
func agentResult(req AgentRequest, out graph.Bag) graph.Bag {
	var response map[string]any
	for _, k := range []string{"chat_model_response", "gpt_agent_response", "gemini_agent_response"} {
		if r, ok := out[k].(map[string]any); ok {
			response = r
			break
		}
	}

	content := ""
	for _, k := range []string{"ai_agent_output", "gpt_agent_output", "gemini_agent_output", "agent_output", "content"} {
		if v, ok := out[k]; ok && v != nil {
			content = textOf(v)
			break
		}
	}
	if content == "" && response != nil {
		content = stringOf(response["content"])
	}

	modelName := req.Provider.Model
	var usage any
	if response != nil {
		modelName = firstNonEmpty(stringOf(response["model"]), modelName)
		usage = response["usage"]
	}

	result := graph.Bag{
		graph.FieldAgentOutput: agentOutput(content, modelName, req.OutputFormat, usage),
	}
	if response != nil {
		result[graph.FieldChatModelResponse] = response
	}
	return result
}

func agentOutput(content, modelName, format string, usage any) map[string]any {
	out := map[string]any{
		"content":       content,
		"model":         modelName,
		"output_format": format,
	}
	if usage != nil {
		out["usage"] = usage
	}
	if format == "json" {
		if parsed, err := ParseJSONOutput(content); err == nil {
			out["parsed"] = parsed
		}
	}
	return out
}

// ParseJSONOutput decodes model output that is meant to be JSON. Markdown
// code fences are stripped and malformed JSON is repaired before decoding.
func ParseJSONOutput(content string) (any, error) {
	s := stripCodeFence(content)
	if s == "" {
		return nil, fmt.Errorf("empty output")
	}

	var v any
	if err := json.Unmarshal([]byte(s), &v); err == nil {
		return v, nil
	}
	repaired, err := jsonrepair.JSONRepair(s)
	if err != nil {
		return nil, fmt.Errorf("failed to repair JSON output: %w", err)
	}
	if err := json.Unmarshal([]byte(repaired), &v); err != nil {
		return nil, fmt.Errorf("failed to decode repaired JSON output: %w", err)
	}
	return v, nil
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func textOf(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
}

func normalizeEditOperation(op string) string {
	switch op {
	case "add_item":
		return "create"
	case "remove_item":
		return "delete"
	}
	return op
}
