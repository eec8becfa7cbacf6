// Package google adapts the Gemini API to model.ChatModel.
package google

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/dshills/nodegraph-go/graph/model"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gemini-1.5-flash"

// ChatModel implements model.ChatModel for Google's Gemini API.
//
// Content blocked by Gemini safety filters is reported as
// *SafetyFilterError:
//
//	var safetyErr *google.SafetyFilterError
//	if errors.As(err, &safetyErr) {
//	    log.Printf("content blocked: %s", safetyErr.Category())
//	}
type ChatModel struct {
	modelName   string
	temperature *float64
	maxTokens   int
	client      googleClient
}

// request is one generate call, already split into the shapes Gemini
// wants.
type request struct {
	model       string
	system      string
	parts       []genai.Part
	tools       []*genai.Tool
	temperature *float64
	maxTokens   int
}

type googleClient interface {
	generateContent(ctx context.Context, req request) (*genai.GenerateContentResponse, error)
}

// NewChatModel creates a Gemini model with default settings.
func NewChatModel(apiKey, modelName string) *ChatModel {
	m, _ := New(model.Config{APIKey: apiKey, Model: modelName})
	return m
}

// New creates a ChatModel from cfg.
func New(cfg model.Config) (*ChatModel, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("google API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	return &ChatModel{
		modelName:   cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		client:      &defaultClient{apiKey: cfg.APIKey, endpoint: cfg.BaseURL},
	}, nil
}

// Factory adapts New to model.Factory.
func Factory(cfg model.Config) (model.ChatModel, error) {
	return New(cfg)
}

// ModelName returns the configured model.
func (m *ChatModel) ModelName() string {
	return m.modelName
}

// Chat implements model.ChatModel.
func (m *ChatModel) Chat(ctx context.Context, messages []model.Message, tools []model.ToolSpec) (model.ChatOut, error) {
	if ctx.Err() != nil {
		return model.ChatOut{}, ctx.Err()
	}

	system, parts := convertMessages(messages)
	req := request{
		model:       m.modelName,
		system:      system,
		parts:       parts,
		temperature: m.temperature,
		maxTokens:   m.maxTokens,
	}
	if len(tools) > 0 {
		req.tools = convertTools(tools)
	}

	resp, err := m.client.generateContent(ctx, req)
	if err != nil {
		var safetyErr *SafetyFilterError
		if errors.As(err, &safetyErr) {
			return model.ChatOut{}, safetyErr
		}
		return model.ChatOut{}, fmt.Errorf("gemini generate (%s): %w", m.modelName, err)
	}
	if err := checkBlocked(resp); err != nil {
		return model.ChatOut{}, err
	}

	out := convertResponse(resp)
	out.Model = m.modelName
	return out, nil
}

// defaultClient opens a genai client per call. Gemini clients hold a gRPC
// connection, so short-lived provider nodes do not keep one open.
type defaultClient struct {
	apiKey   string
	endpoint string
}

func (c *defaultClient) generateContent(ctx context.Context, req request) (*genai.GenerateContentResponse, error) {
	opts := []option.ClientOption{option.WithAPIKey(c.apiKey)}
	if c.endpoint != "" {
		opts = append(opts, option.WithEndpoint(c.endpoint))
	}
	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Google client: %w", err)
	}
	defer func() { _ = client.Close() }()

	genModel := client.GenerativeModel(req.model)
	if req.system != "" {
		genModel.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(req.system)}}
	}
	if req.temperature != nil {
		genModel.SetTemperature(float32(*req.temperature))
	}
	if req.maxTokens > 0 {
		genModel.SetMaxOutputTokens(int32(req.maxTokens))
	}
	genModel.Tools = req.tools

	resp, err := genModel.GenerateContent(ctx, req.parts...)
	if err != nil {
		var blocked *genai.BlockedError
		if errors.As(err, &blocked) {
			return nil, safetyErrorFromBlocked(blocked)
		}
		return nil, err
	}
	return resp, nil
}

// convertMessages returns the joined system instruction and the remaining
// turns as text parts. Gemini single-shot generation has no assistant role,
// so prior assistant turns are sent as plain text.
func convertMessages(messages []model.Message) (string, []genai.Part) {
	var system []string
	var parts []genai.Part

	for _, msg := range messages {
		if msg.Content == "" {
			continue
		}
		if msg.Role == model.RoleSystem {
			system = append(system, msg.Content)
			continue
		}
		parts = append(parts, genai.Text(msg.Content))
	}
	return strings.Join(system, "\n\n"), parts
}

func convertTools(tools []model.ToolSpec) []*genai.Tool {
	declarations := make([]*genai.FunctionDeclaration, len(tools))
	for i, tool := range tools {
		declarations[i] = &genai.FunctionDeclaration{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  convertSchema(tool.Schema),
		}
	}
	return []*genai.Tool{{FunctionDeclarations: declarations}}
}

// convertSchema converts a JSON Schema map to genai.Schema, recursing into
// object properties and array items.
func convertSchema(schema map[string]interface{}) *genai.Schema {
	if schema == nil {
		return nil
	}

	result := &genai.Schema{Type: genai.TypeObject}
	if typeStr, ok := schema["type"].(string); ok {
		result.Type = convertTypeString(typeStr)
	}
	if desc, ok := schema["description"].(string); ok {
		result.Description = desc
	}
	if props, ok := schema["properties"].(map[string]interface{}); ok {
		result.Properties = make(map[string]*genai.Schema, len(props))
		for key, val := range props {
			if propMap, ok := val.(map[string]interface{}); ok {
				result.Properties[key] = convertSchema(propMap)
			}
		}
	}
	if items, ok := schema["items"].(map[string]interface{}); ok {
		result.Items = convertSchema(items)
	}

	switch required := schema["required"].(type) {
	case []string:
		result.Required = required
	case []interface{}:
		for _, v := range required {
			if s, ok := v.(string); ok {
				result.Required = append(result.Required, s)
			}
		}
	}
	return result
}

func convertTypeString(typeStr string) genai.Type {
	switch typeStr {
	case "string":
		return genai.TypeString
	case "number":
		return genai.TypeNumber
	case "integer":
		return genai.TypeInteger
	case "boolean":
		return genai.TypeBoolean
	case "array":
		return genai.TypeArray
	case "object":
		return genai.TypeObject
	default:
		return genai.TypeUnspecified
	}
}

func convertResponse(resp *genai.GenerateContentResponse) model.ChatOut {
	out := model.ChatOut{}
	if resp == nil {
		return out
	}
	if resp.UsageMetadata != nil {
		out.Usage = model.Usage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		}
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return out
	}

	for _, part := range resp.Candidates[0].Content.Parts {
		switch p := part.(type) {
		case genai.Text:
			if out.Text != "" {
				out.Text += "\n"
			}
			out.Text += string(p)
		case genai.FunctionCall:
			out.ToolCalls = append(out.ToolCalls, model.ToolCall{Name: p.Name, Input: p.Args})
		}
	}
	return out
}

// checkBlocked reports a response whose first candidate stopped on a
// safety filter.
func checkBlocked(resp *genai.GenerateContentResponse) error {
	if resp == nil || len(resp.Candidates) == 0 {
		return nil
	}
	c := resp.Candidates[0]
	if c.FinishReason != genai.FinishReasonSafety {
		return nil
	}
	return &SafetyFilterError{reason: "SAFETY", category: blockedCategory(c.SafetyRatings)}
}

func safetyErrorFromBlocked(b *genai.BlockedError) *SafetyFilterError {
	if b.Candidate != nil {
		return &SafetyFilterError{reason: b.Candidate.FinishReason.String(), category: blockedCategory(b.Candidate.SafetyRatings)}
	}
	if b.PromptFeedback != nil {
		return &SafetyFilterError{reason: b.PromptFeedback.BlockReason.String(), category: blockedCategory(b.PromptFeedback.SafetyRatings)}
	}
	return &SafetyFilterError{reason: "SAFETY"}
}

func blockedCategory(ratings []*genai.SafetyRating) string {
	for _, r := range ratings {
		if r != nil && r.Blocked {
			return r.Category.String()
		}
	}
	return "unspecified"
}

// SafetyFilterError reports content blocked by a Gemini safety filter.
type SafetyFilterError struct {
	reason   string
	category string
}

// Error implements the error interface.
func (e *SafetyFilterError) Error() string {
	return "content blocked by safety filter: " + e.category
}

// Category returns the safety category that triggered the block.
func (e *SafetyFilterError) Category() string {
	return e.category
}

// Reason returns why the content was blocked.
func (e *SafetyFilterError) Reason() string {
	return e.reason
}
