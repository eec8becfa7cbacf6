package openai

import (
	"context"
	"errors"
	"testing"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/dshills/nodegraph-go/graph/model"
)

type fakeCompletions struct {
	resp  *openai.ChatCompletion
	err   error
	calls []openai.ChatCompletionNewParams
}

func (f *fakeCompletions) New(_ context.Context, body openai.ChatCompletionNewParams, _ ...option.RequestOption) (*openai.ChatCompletion, error) {
	f.calls = append(f.calls, body)
	return f.resp, f.err
}

func completion(text string) *openai.ChatCompletion {
	return &openai.ChatCompletion{
		Model: "gpt-4o-mini-2024-07-18",
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: text}},
		},
		Usage: openai.CompletionUsage{PromptTokens: 11, CompletionTokens: 7, TotalTokens: 18},
	}
}

func TestNew(t *testing.T) {
	t.Run("requires API key", func(t *testing.T) {
		if _, err := New(model.Config{}); err == nil {
			t.Error("New() without key should fail")
		}
	})

	t.Run("defaults model", func(t *testing.T) {
		m, err := New(model.Config{APIKey: "sk-test"})
		if err != nil {
			t.Fatal(err)
		}
		if m.ModelName() != DefaultModel {
			t.Errorf("ModelName() = %q, want %q", m.ModelName(), DefaultModel)
		}
	})

	t.Run("deepseek defaults", func(t *testing.T) {
		m, err := NewDeepSeek(model.Config{APIKey: "sk-test"})
		if err != nil {
			t.Fatal(err)
		}
		if m.ModelName() != DefaultDeepSeekModel {
			t.Errorf("ModelName() = %q, want %q", m.ModelName(), DefaultDeepSeekModel)
		}
	})
}

func TestChatModel_Chat(t *testing.T) {
	t.Run("returns text and usage", func(t *testing.T) {
		fake := &fakeCompletions{resp: completion("Paris")}
		m := &ChatModel{modelName: "gpt-4o-mini", temperature: model.Temperature(0.2), maxTokens: 100, client: fake}

		out, err := m.Chat(context.Background(), []model.Message{
			{Role: model.RoleSystem, Content: "Be brief."},
			{Role: model.RoleUser, Content: "Capital of France?"},
		}, nil)
		if err != nil {
			t.Fatalf("Chat() error = %v", err)
		}
		if out.Text != "Paris" {
			t.Errorf("Text = %q", out.Text)
		}
		if out.Usage.InputTokens != 11 || out.Usage.OutputTokens != 7 {
			t.Errorf("Usage = %+v", out.Usage)
		}
		if out.Model != "gpt-4o-mini-2024-07-18" {
			t.Errorf("Model = %q", out.Model)
		}

		if len(fake.calls) != 1 {
			t.Fatalf("expected 1 call, got %d", len(fake.calls))
		}
		params := fake.calls[0]
		if string(params.Model) != "gpt-4o-mini" || len(params.Messages) != 2 {
			t.Errorf("params = %+v", params)
		}
		if params.Messages[0].OfSystem == nil || params.Messages[1].OfUser == nil {
			t.Error("roles not mapped to system and user messages")
		}
		if !params.Temperature.Valid() || params.Temperature.Value != 0.2 {
			t.Errorf("Temperature = %+v", params.Temperature)
		}
		if params.MaxTokens.Value != 100 {
			t.Errorf("MaxTokens = %+v", params.MaxTokens)
		}
	})

	t.Run("decodes tool calls", func(t *testing.T) {
		resp := completion("")
		resp.Choices[0].Message.ToolCalls = []openai.ChatCompletionMessageToolCall{{
			ID: "call_1",
			Function: openai.ChatCompletionMessageToolCallFunction{
				Name:      "http_request",
				Arguments: `{"url":"https://example.com"}`,
			},
		}}
		fake := &fakeCompletions{resp: resp}
		m := &ChatModel{modelName: "gpt-4o", client: fake}

		out, err := m.Chat(context.Background(), []model.Message{{Role: model.RoleUser, Content: "fetch"}},
			[]model.ToolSpec{{Name: "http_request", Description: "HTTP call", Schema: map[string]interface{}{"type": "object"}}})
		if err != nil {
			t.Fatal(err)
		}
		if len(out.ToolCalls) != 1 || out.ToolCalls[0].Input["url"] != "https://example.com" {
			t.Errorf("ToolCalls = %+v", out.ToolCalls)
		}
		if len(fake.calls[0].Tools) != 1 || fake.calls[0].Tools[0].Function.Name != "http_request" {
			t.Errorf("tools not forwarded: %+v", fake.calls[0].Tools)
		}
	})

	t.Run("wraps SDK errors", func(t *testing.T) {
		apiErr := &openai.Error{StatusCode: 429}
		m := &ChatModel{modelName: "gpt-4", client: &fakeCompletions{err: apiErr}}

		_, err := m.Chat(context.Background(), []model.Message{{Role: model.RoleUser, Content: "x"}}, nil)
		var got *openai.Error
		if !errors.As(err, &got) || got.StatusCode != 429 {
			t.Errorf("Chat() error = %v, want wrapped *openai.Error", err)
		}
	})

	t.Run("empty choices", func(t *testing.T) {
		m := &ChatModel{modelName: "gpt-4", client: &fakeCompletions{resp: &openai.ChatCompletion{}}}
		if _, err := m.Chat(context.Background(), nil, nil); err == nil {
			t.Error("expected error for empty choices")
		}
	})

	t.Run("cancelled context", func(t *testing.T) {
		fake := &fakeCompletions{resp: completion("x")}
		m := &ChatModel{modelName: "gpt-4", client: fake}
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if _, err := m.Chat(ctx, nil, nil); !errors.Is(err, context.Canceled) {
			t.Errorf("Chat() error = %v", err)
		}
		if len(fake.calls) != 0 {
			t.Error("client called after cancellation")
		}
	})
}
