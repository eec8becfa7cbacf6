package google

import (
	"context"
	"errors"
	"testing"

	"github.com/google/generative-ai-go/genai"

	"github.com/dshills/nodegraph-go/graph/model"
)

type mockGoogleClient struct {
	resp  *genai.GenerateContentResponse
	err   error
	calls []request
}

func (m *mockGoogleClient) generateContent(_ context.Context, req request) (*genai.GenerateContentResponse, error) {
	m.calls = append(m.calls, req)
	return m.resp, m.err
}

func textResponse(parts ...genai.Part) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content:      &genai.Content{Parts: parts},
			FinishReason: genai.FinishReasonStop,
		}},
		UsageMetadata: &genai.UsageMetadata{PromptTokenCount: 9, CandidatesTokenCount: 4},
	}
}

func TestNew(t *testing.T) {
	if _, err := New(model.Config{}); err == nil {
		t.Error("New() without key should fail")
	}
	m := NewChatModel("key", "")
	if m.ModelName() != DefaultModel {
		t.Errorf("ModelName() = %q", m.ModelName())
	}
}

func TestGoogleChatModel_Chat(t *testing.T) {
	t.Run("text, usage and system instruction", func(t *testing.T) {
		client := &mockGoogleClient{resp: textResponse(genai.Text("Hello"), genai.Text("again"))}
		m := &ChatModel{modelName: "gemini-1.5-flash", temperature: model.Temperature(0.5), client: client}

		out, err := m.Chat(context.Background(), []model.Message{
			{Role: model.RoleSystem, Content: "You are terse."},
			{Role: model.RoleUser, Content: "Hi"},
		}, nil)
		if err != nil {
			t.Fatal(err)
		}
		if out.Text != "Hello\nagain" {
			t.Errorf("Text = %q", out.Text)
		}
		if out.Usage.InputTokens != 9 || out.Usage.OutputTokens != 4 {
			t.Errorf("Usage = %+v", out.Usage)
		}
		if out.Model != "gemini-1.5-flash" {
			t.Errorf("Model = %q", out.Model)
		}

		req := client.calls[0]
		if req.system != "You are terse." || len(req.parts) != 1 {
			t.Errorf("request = %+v", req)
		}
		if req.temperature == nil || *req.temperature != 0.5 {
			t.Error("temperature not forwarded")
		}
	})

	t.Run("function calls", func(t *testing.T) {
		client := &mockGoogleClient{resp: textResponse(genai.FunctionCall{Name: "search", Args: map[string]any{"q": "go"}})}
		m := &ChatModel{modelName: "gemini-pro", client: client}

		out, err := m.Chat(context.Background(), []model.Message{{Role: model.RoleUser, Content: "find"}},
			[]model.ToolSpec{{Name: "search", Schema: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{"q": map[string]interface{}{"type": "string"}},
				"required":   []interface{}{"q"},
			}}})
		if err != nil {
			t.Fatal(err)
		}
		if len(out.ToolCalls) != 1 || out.ToolCalls[0].Input["q"] != "go" {
			t.Errorf("ToolCalls = %+v", out.ToolCalls)
		}
		decl := client.calls[0].tools[0].FunctionDeclarations[0]
		if decl.Parameters.Properties["q"].Type != genai.TypeString || decl.Parameters.Required[0] != "q" {
			t.Errorf("schema = %+v", decl.Parameters)
		}
	})

	t.Run("safety finish reason", func(t *testing.T) {
		resp := textResponse()
		resp.Candidates[0].FinishReason = genai.FinishReasonSafety
		resp.Candidates[0].SafetyRatings = []*genai.SafetyRating{{Category: genai.HarmCategoryDangerousContent, Blocked: true}}
		m := &ChatModel{modelName: "gemini-pro", client: &mockGoogleClient{resp: resp}}

		_, err := m.Chat(context.Background(), []model.Message{{Role: model.RoleUser, Content: "x"}}, nil)
		var safetyErr *SafetyFilterError
		if !errors.As(err, &safetyErr) {
			t.Fatalf("Chat() error = %v, want SafetyFilterError", err)
		}
		if safetyErr.Category() != genai.HarmCategoryDangerousContent.String() {
			t.Errorf("Category() = %q", safetyErr.Category())
		}
	})

	t.Run("passes through other errors", func(t *testing.T) {
		apiErr := errors.New("googleapi: Error 429: quota exceeded")
		m := &ChatModel{modelName: "gemini-pro", client: &mockGoogleClient{err: apiErr}}

		_, err := m.Chat(context.Background(), []model.Message{{Role: model.RoleUser, Content: "x"}}, nil)
		if !errors.Is(err, apiErr) {
			t.Errorf("Chat() error = %v", err)
		}
		var safetyErr *SafetyFilterError
		if errors.As(err, &safetyErr) {
			t.Error("unexpected SafetyFilterError")
		}
	})

	t.Run("respects context cancellation", func(t *testing.T) {
		client := &mockGoogleClient{resp: textResponse(genai.Text("x"))}
		m := &ChatModel{modelName: "gemini-pro", client: client}
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if _, err := m.Chat(ctx, nil, nil); !errors.Is(err, context.Canceled) {
			t.Errorf("Chat() error = %v", err)
		}
	})
}

func TestConvertSchema_Nested(t *testing.T) {
	s := convertSchema(map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"tags": map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}},
		},
	})
	tags := s.Properties["tags"]
	if tags.Type != genai.TypeArray || tags.Items == nil || tags.Items.Type != genai.TypeString {
		t.Errorf("nested schema = %+v", tags)
	}
	if convertSchema(nil) != nil {
		t.Error("convertSchema(nil) should be nil")
	}
}
