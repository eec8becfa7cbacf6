// Package model defines the chat contract every provider adapter
// implements. Provider nodes and agents call models through ChatModel; the
// adapters under model/openai, model/anthropic and model/google translate
// to each vendor SDK.
package model

import (
	"context"
	"time"
)

// ChatModel sends a conversation to an LLM provider.
//
// Implementations return the provider SDK error unchanged (wrapped with %w)
// so the compute layer can classify quota, model and authentication
// failures. They must respect ctx cancellation.
type ChatModel interface {
	Chat(ctx context.Context, messages []Message, tools []ToolSpec) (ChatOut, error)
}

// Message is one turn of a conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Standard roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ToolSpec describes a tool the model may call. Schema is a JSON Schema
// object describing the tool input.
type ToolSpec struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Schema      map[string]interface{} `json:"schema,omitempty"`
}

// ChatOut is a model reply: text, requested tool calls, or both.
type ChatOut struct {
	Text      string     `json:"text"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// Model is the model that actually served the request, as reported by
	// the provider. Empty when the provider does not report it.
	Model string `json:"model,omitempty"`
	Usage Usage  `json:"usage"`
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID    string                 `json:"id,omitempty"`
	Name  string                 `json:"name"`
	Input map[string]interface{} `json:"input,omitempty"`
}

// Usage reports token consumption of one call.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Total returns input plus output tokens.
func (u Usage) Total() int {
	return u.InputTokens + u.OutputTokens
}

// Config carries the settings shared by every adapter. Zero values select
// the adapter defaults.
type Config struct {
	APIKey  string
	Model   string
	BaseURL string

	// Temperature is only sent when non-nil so providers keep their own
	// default otherwise.
	Temperature *float64
	MaxTokens   int

	Timeout    time.Duration
	MaxRetries int
}

// Temperature is a helper for Config.Temperature.
func Temperature(t float64) *float64 {
	return &t
}

// Family names a provider API. Models within one family can substitute for
// each other during recovery.
type Family string

// Supported families.
const (
	FamilyOpenAI    Family = "openai"
	FamilyAnthropic Family = "anthropic"
	FamilyGoogle    Family = "google"
	FamilyDeepSeek  Family = "deepseek"
)

// Factory builds a ChatModel for one family.
type Factory func(cfg Config) (ChatModel, error)
