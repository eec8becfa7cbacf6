// Package anthropic adapts the Anthropic Messages API to model.ChatModel.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/dshills/nodegraph-go/graph/model"
)

// Defaults.
const (
	DefaultModel     = "claude-3-5-sonnet-20241022"
	DefaultMaxTokens = 4096
)

// ChatModel implements model.ChatModel on anthropic-sdk-go.
//
// System messages are lifted into the separate system parameter the
// Messages API expects. SDK errors are returned wrapped so *anthropic.Error
// stays reachable with errors.As.
type ChatModel struct {
	modelName   string
	temperature *float64
	maxTokens   int
	client      messagesAPI
}

type messagesAPI interface {
	New(ctx context.Context, body anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

// NewChatModel creates a Claude model with default settings.
func NewChatModel(apiKey, modelName string) *ChatModel {
	m, _ := New(model.Config{APIKey: apiKey, Model: modelName})
	return m
}

// New creates a ChatModel from cfg.
func New(cfg model.Config) (*ChatModel, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("Anthropic API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
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
	client := anthropic.NewClient(opts...)

	return &ChatModel{
		modelName:   cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		client:      &client.Messages,
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

	systemPrompt, conversation := extractSystemPrompt(messages)
	maxTokens := m.maxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(m.modelName),
		MaxTokens: int64(maxTokens),
		Messages:  convertMessages(conversation),
	}
	if systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: systemPrompt}}
	}
	if m.temperature != nil {
		params.Temperature = anthropic.Float(*m.temperature)
	}
	if len(tools) > 0 {
		params.Tools = convertTools(tools)
	}

	message, err := m.client.New(ctx, params)
	if err != nil {
		return model.ChatOut{}, fmt.Errorf("anthropic messages (%s): %w", m.modelName, err)
	}
	return convertResponse(message)
}

// extractSystemPrompt joins every system message into one prompt and
// returns the remaining turns.
func extractSystemPrompt(messages []model.Message) (string, []model.Message) {
	var systemPrompt string
	var conversation []model.Message

	for _, msg := range messages {
		if msg.Role == model.RoleSystem {
			if systemPrompt != "" {
				systemPrompt += "\n\n"
			}
			systemPrompt += msg.Content
			continue
		}
		conversation = append(conversation, msg)
	}
	return systemPrompt, conversation
}

func convertMessages(messages []model.Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(messages))
	for _, msg := range messages {
		block := anthropic.NewTextBlock(msg.Content)
		if msg.Role == model.RoleAssistant {
			out = append(out, anthropic.NewAssistantMessage(block))
		} else {
			out = append(out, anthropic.NewUserMessage(block))
		}
	}
	return out
}

func convertTools(tools []model.ToolSpec) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		tool := &anthropic.ToolParam{
			Name:        t.Name,
			InputSchema: anthropic.ToolInputSchemaParam{Properties: t.Schema["properties"]},
		}
		if t.Description != "" {
			tool.Description = anthropic.String(t.Description)
		}
		out = append(out, anthropic.ToolUnionParam{OfTool: tool})
	}
	return out
}

func convertResponse(message *anthropic.Message) (model.ChatOut, error) {
	if message == nil {
		return model.ChatOut{}, errors.New("anthropic returned no message")
	}

	out := model.ChatOut{
		Model: string(message.Model),
		Usage: model.Usage{
			InputTokens:  int(message.Usage.InputTokens),
			OutputTokens: int(message.Usage.OutputTokens),
		},
	}
	for _, block := range message.Content {
		switch block.Type {
		case "text":
			out.Text += block.Text
		case "tool_use":
			var input map[string]interface{}
			if len(block.Input) > 0 {
				if err := json.Unmarshal(block.Input, &input); err != nil {
					return model.ChatOut{}, fmt.Errorf("invalid input for tool %s: %w", block.Name, err)
				}
			}
			out.ToolCalls = append(out.ToolCalls, model.ToolCall{ID: block.ID, Name: block.Name, Input: input})
		}
	}
	return out, nil
}
