package compute

import (
	"testing"
	"time"

	"github.com/dshills/nodegraph-go/graph"
	"github.com/dshills/nodegraph-go/graph/model"
)

func TestNewProvider(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		p, err := NewProvider(graph.Node{ID: "n1", Type: graph.TypeGemini, Config: map[string]any{"api_key": " key "}})
		if err != nil {
			t.Fatalf("NewProvider() error = %v", err)
		}
		if p.Model != "gemini-pro" || p.APIKey != "key" {
			t.Errorf("got %+v", p)
		}
		if p.Timeout != DefaultTimeout || p.MaxRetries != DefaultMaxRetries || p.Temperature != nil {
			t.Errorf("defaults not applied: %+v", p)
		}
	})

	t.Run("string body and headers", func(t *testing.T) {
		n := graph.Node{ID: "n2", Type: graph.TypeChatGPT, Config: map[string]any{
			"request_body":    `{"model": "gpt-4o", "max_tokens": 10}`,
			"request_headers": `{"Authorization": "Bearer ${API_KEY}"}`,
			"temperature":     0.2,
			"timeout":         float64(30),
			"max_retries":     5,
		}}
		p, err := NewProvider(n)
		if err != nil {
			t.Fatalf("NewProvider() error = %v", err)
		}
		if p.Model != "gpt-4o" {
			t.Errorf("Model = %q, want taken from body", p.Model)
		}
		if p.Headers["Authorization"] != "Bearer ${API_KEY}" {
			t.Errorf("Headers = %v", p.Headers)
		}
		if p.Temperature == nil || *p.Temperature != 0.2 {
			t.Errorf("Temperature = %v", p.Temperature)
		}
		if p.Timeout != 30*time.Second || p.MaxRetries != 5 {
			t.Errorf("Timeout/MaxRetries = %v/%d", p.Timeout, p.MaxRetries)
		}
	})

	t.Run("chat_model default follows model_type", func(t *testing.T) {
		p, err := NewProvider(graph.Node{ID: "n3", Type: graph.TypeChatModel, Config: map[string]any{"model_type": "deepseek"}})
		if err != nil {
			t.Fatal(err)
		}
		if p.Model != "deepseek-chat" || p.Family() != model.FamilyDeepSeek || p.WireModelType() != "deepseek" {
			t.Errorf("got model %q family %q wire %q", p.Model, p.Family(), p.WireModelType())
		}
	})

	t.Run("invalid body", func(t *testing.T) {
		_, err := NewProvider(graph.Node{ID: "n4", Type: graph.TypeChatGPT, Config: map[string]any{"request_body": "{not json"}})
		if err == nil {
			t.Error("expected error")
		}
		_, err = NewProvider(graph.Node{ID: "n5", Type: graph.TypeChatGPT, Config: map[string]any{"request_body": 42}})
		if err == nil {
			t.Error("expected error for non-object body")
		}
	})
}

func TestProvider_Family(t *testing.T) {
	tests := []struct {
		typ       graph.NodeType
		modelType string
		want      model.Family
	}{
		{graph.TypeChatGPT, "", model.FamilyOpenAI},
		{graph.TypeGPTAgent, "", model.FamilyOpenAI},
		{graph.TypeGemini, "", model.FamilyGoogle},
		{graph.TypeGeminiAgent, "", model.FamilyGoogle},
		{graph.TypeDeepSeek, "", model.FamilyDeepSeek},
		{graph.TypeChatModel, "", model.FamilyOpenAI},
		{graph.TypeChatModel, "claude", model.FamilyAnthropic},
		{graph.TypeChatModel, "Gemini", model.FamilyGoogle},
	}
	for _, tt := range tests {
		p := Provider{NodeType: tt.typ, ModelType: tt.modelType}
		if got := p.Family(); got != tt.want {
			t.Errorf("Family(%s/%s) = %q, want %q", tt.typ, tt.modelType, got, tt.want)
		}
	}
}

func TestProvider_WithModel(t *testing.T) {
	p := Provider{Model: "a", Body: map[string]any{"model": "a", "stream": false}}
	q := p.WithModel("b")

	if q.Model != "b" || q.Body["model"] != "b" {
		t.Errorf("WithModel = %+v", q)
	}
	if p.Body["model"] != "a" {
		t.Error("original body mutated")
	}

	bare := Provider{Model: "a"}.WithModel("c")
	if bare.Body != nil {
		t.Errorf("Body = %v, want nil", bare.Body)
	}
}

func TestProvider_RequestTemplate(t *testing.T) {
	temp := model.Temperature(0.5)

	openaiBody := Provider{NodeType: graph.TypeChatGPT, Model: "gpt-4o", Temperature: temp}.RequestTemplate()
	if openaiBody["model"] != "gpt-4o" || openaiBody["temperature"] != 0.5 {
		t.Errorf("openai template = %#v", openaiBody)
	}
	msgs := openaiBody["messages"].([]any)
	if m := msgs[0].(map[string]any); m["content"] != PlaceholderPrompt {
		t.Errorf("messages = %#v", msgs)
	}

	custom := Provider{NodeType: graph.TypeChatGPT, Model: "gpt-4o", Body: map[string]any{"model": "x", "messages": []any{}}}.RequestTemplate()
	if custom["model"] != "x" {
		t.Errorf("configured body overwritten: %#v", custom)
	}

	googleBody := Provider{NodeType: graph.TypeGemini, Model: "gemini-pro", Temperature: temp}.RequestTemplate()
	if _, ok := googleBody["contents"]; !ok {
		t.Errorf("google template = %#v", googleBody)
	}
	gen := googleBody["generationConfig"].(map[string]any)
	if gen["temperature"] != 0.5 {
		t.Errorf("generationConfig = %#v", gen)
	}
}

func TestExportFileRequest_Filename(t *testing.T) {
	tests := map[string]string{
		"":                   "",
		"out/result.xml":     "result",
		"result":             "result",
		`C:\exports\a.b.csv`: "a.b",
		".hidden":            ".hidden",
	}
	for in, want := range tests {
		if got := (ExportFileRequest{OutputPath: in}).Filename(); got != want {
			t.Errorf("Filename(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestParseJSONOutput(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		wantErr bool
	}{
		{"plain", `{"a": 1}`, false},
		{"fenced", "```json\n{\"a\": 1}\n```", false},
		{"trailing comma", `{"a": 1,}`, false},
		{"empty", "   ", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := ParseJSONOutput(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseJSONOutput() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr {
				if m, ok := v.(map[string]any); !ok || m["a"] != float64(1) {
					t.Errorf("got %#v", v)
				}
			}
		})
	}
}
