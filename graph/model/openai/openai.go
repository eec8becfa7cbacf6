// Package openai adapts the OpenAI chat completions API, and any
// OpenAI-compatible endpoint such as DeepSeek, to model.ChatModel.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/dshills/nodegraph-go/graph/model"
)

// Default models.
const (
	DefaultModel         = "gpt-3.5-turbo"
	DefaultDeepSeekModel = "deepseek-chat"
	DeepSeekBaseURL      = "https://api.deepseek.com/v1"
)

// ChatModel implements model.ChatModel on the official openai-go SDK.
//
// SDK errors are returned wrapped, so callers can inspect *openai.Error
// with errors.As. The SDK retries connection errors, 408, 409, 429 and 5xx
// responses itself, up to Config.MaxRetries times.
type ChatModel struct {
	modelName   string
	temperature *float64
	maxTokens   int
	client      completionsAPI
}

// completionsAPI is the subset of the SDK the adapter calls. Tests replace
// it with a fake.
type completionsAPI interface {
	New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// NewChatModel creates an OpenAI model with default settings.
func NewChatModel(apiKey, modelName string) *ChatModel {
	m, _ := New(model.Config{APIKey: apiKey, Model: modelName})
	return m
}

// New creates a ChatModel from cfg. An empty API key is rejected.
func New(cfg model.Config) (*ChatModel, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("OpenAI API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.MaxRetries > 0 {
		opts = append(opts, option.WithMaxRetries(cfg.MaxRetries))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}
	client := openai.NewClient(opts...)

	return &ChatModel{
		modelName:   cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		client:      &client.Chat.Completions,
	}, nil
}

// NewDeepSeek creates a ChatModel against the DeepSeek API, which speaks
// the OpenAI protocol.
func NewDeepSeek(cfg model.Config) (*ChatModel, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DeepSeekBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultDeepSeekModel
	}
	return New(cfg)
}

// Factory adapts New to model.Factory.
func Factory(cfg model.Config) (model.ChatModel, error) {
	return New(cfg)
}

// DeepSeekFactory adapts NewDeepSeek to model.Factory.
func DeepSeekFactory(cfg model.Config) (model.ChatModel, error) {
	return NewDeepSeek(cfg)
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

	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(m.modelName),
		Messages: convertMessages(messages),
	}
	if m.temperature != nil {
		params.Temperature = openai.Float(*m.temperature)
	}
	if m.maxTokens > 0 {
		params.MaxTokens = openai.Int(int64(m.maxTokens))
	}
	if len(tools) > 0 {
		params.Tools = convertTools(tools)
	}

	completion, err := m.client.New(ctx, params)
	if err != nil {
		return model.ChatOut{}, fmt.Errorf("openai chat completion (%s): %w", m.modelName, err)
	}
	return convertResponse(completion)
}

func convertMessages(messages []model.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case model.RoleSystem:
			out = append(out, openai.SystemMessage(msg.Content))
		case model.RoleAssistant:
			out = append(out, openai.AssistantMessage(msg.Content))
		default:
			out = append(out, openai.UserMessage(msg.Content))
		}
	}
	return out
}

func convertTools(tools []model.ToolSpec) []openai.ChatCompletionToolParam {
	out := make([]openai.ChatCompletionToolParam, 0, len(tools))
	for _, t := range tools {
		fn := shared.FunctionDefinitionParam{Name: t.Name}
		if t.Description != "" {
			fn.Description = openai.String(t.Description)
		}
		if t.Schema != nil {
			fn.Parameters = shared.FunctionParameters(t.Schema)
		}
		out = append(out, openai.ChatCompletionToolParam{Function: fn})
	}
	return out
}

func convertResponse(c *openai.ChatCompletion) (model.ChatOut, error) {
	if c == nil || len(c.Choices) == 0 {
		return model.ChatOut{}, errors.New("openai returned no choices")
	}

	msg := c.Choices[0].Message
	out := model.ChatOut{
		Text:  msg.Content,
		Model: c.Model,
		Usage: model.Usage{
			InputTokens:  int(c.Usage.PromptTokens),
			OutputTokens: int(c.Usage.CompletionTokens),
		},
	}
	for _, call := range msg.ToolCalls {
		var input map[string]interface{}
		if call.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(call.Function.Arguments), &input); err != nil {
				return model.ChatOut{}, fmt.Errorf("invalid arguments for tool %s: %w", call.Function.Name, err)
			}
		}
		out.ToolCalls = append(out.ToolCalls, model.ToolCall{
			ID:    call.ID,
			Name:  call.Function.Name,
			Input: input,
		})
	}
	return out, nil
}
