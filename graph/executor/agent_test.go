package executor

import (
	"context"
	"strings"
	"testing"

	"github.com/dshills/nodegraph-go/graph"
	"github.com/dshills/nodegraph-go/graph/compute"
	"github.com/dshills/nodegraph-go/graph/recovery"
)

func chatGPTConfig(model string) map[string]any {
	return map[string]any{
		"api_key":      "sk-test",
		"api_url":      "https://api.openai.com/v1/chat/completions",
		"model":        model,
		"request_body": map[string]any{"model": model, "messages": []any{}},
	}
}

func agentOutput(_ context.Context, req compute.AgentRequest) (graph.Bag, error) {
	return graph.Bag{graph.FieldAgentOutput: map[string]any{"model": req.Provider.Model, "content": "done"}}, nil
}

func TestAIAgent_MissingChatModelPort(t *testing.T) {
	h := newHarness(t)
	h.fake.ParseFileFunc = parsedItems
	h.add(t, "P", graph.TypeParseFile, map[string]any{"file_path": "a.xml"})
	h.add(t, "A", graph.TypeAIAgent, map[string]any{"system_prompt": "You are helpful."})
	h.connect(t, "P", "A", graph.DefaultPort)
	h.run(t, "P")

	res := h.run(t, "A")
	if res.Success {
		t.Fatal("expected failure")
	}
	for _, want := range []string{`"chat_model"`, "chatgpt", "gemini", "deepseek"} {
		if !strings.Contains(res.Error, want) {
			t.Errorf("error %q does not mention %s", res.Error, want)
		}
	}
	if n := h.fake.Count(compute.OpRunAgent); n != 0 {
		t.Errorf("RunAgent calls = %d, want 0", n)
	}
	if s := h.status(t, "A"); s != graph.StatusFailed {
		t.Errorf("status = %q, want failed", s)
	}
}

func TestAIAgent_PortCheckedBeforeInput(t *testing.T) {
	h := newHarness(t)
	h.add(t, "A", graph.TypeAIAgent, map[string]any{"system_prompt": "x"})

	res := h.run(t, "A")
	if !strings.HasPrefix(res.Error, `missing capability port "chat_model"`) {
		t.Errorf("error = %q", res.Error)
	}
	if h.fake.Total() != 0 {
		t.Errorf("service calls = %d, want 0", h.fake.Total())
	}
}

func TestAIAgent_WrongPortType(t *testing.T) {
	h := newHarness(t)
	h.add(t, "M", graph.TypeMemory, nil)
	h.add(t, "A", graph.TypeAIAgent, map[string]any{"system_prompt": "x"})
	h.connect(t, "M", "A", graph.PortChatModel)

	res := h.run(t, "A")
	if !strings.Contains(res.Error, "wired to a memory node") {
		t.Errorf("error = %q", res.Error)
	}
}

func TestAIAgent_ResolvesEveryPort(t *testing.T) {
	h := newHarness(t)
	h.fake.ParseFileFunc = parsedItems
	h.fake.RunAgentFunc = agentOutput

	h.add(t, "P", graph.TypeParseFile, map[string]any{"file_path": "a.xml"})
	h.add(t, "C", graph.TypeChatGPT, chatGPTConfig("gpt-4o"))
	h.add(t, "M", graph.TypeMemory, map[string]any{"memory_ttl": 3600})
	h.add(t, "T", graph.TypeTool, map[string]any{"tool_type": "http_request", "name": "lookup", "url": "https://example.com"})
	h.add(t, "E", graph.TypeAIAgent, map[string]any{"system_prompt": "Summarize.", "goal": "summary"})
	h.connect(t, "P", "E", graph.DefaultPort)
	h.connect(t, "C", "E", graph.PortChatModel)
	h.connect(t, "M", "E", graph.PortMemory)
	h.connect(t, "T", "E", graph.PortTool)
	h.run(t, "P")

	res := h.run(t, "E")
	if !res.Success {
		t.Fatalf("agent failed: %s", res.Error)
	}

	reqs := h.fake.AgentRequests()
	if len(reqs) != 1 {
		t.Fatalf("agent requests = %d, want 1", len(reqs))
	}
	req := reqs[0]
	if req.Provider.NodeID != "C" || req.Provider.Model != "gpt-4o" || req.Provider.APIKey != "sk-test" {
		t.Errorf("provider = %+v", req.Provider)
	}
	if req.Memory == nil || req.Memory.NodeID != "M" || req.Memory.MemoryType != "workflow" || req.Memory.TTL != 3600 || req.Memory.SessionID != "s1" {
		t.Errorf("memory binding = %+v", req.Memory)
	}
	if req.Tool == nil || req.Tool.NodeID != "T" || req.Tool.Name != "lookup" || req.Tool.Type != "http_request" {
		t.Errorf("tool binding = %+v", req.Tool)
	}
	if req.SystemPrompt != "Summarize." || req.Goal != "summary" {
		t.Errorf("prompt = %q goal = %q", req.SystemPrompt, req.Goal)
	}
	if req.Temperature != 0.7 || req.MaxTokens != 2000 || req.OutputFormat != "json" {
		t.Errorf("defaults = %v %v %q", req.Temperature, req.MaxTokens, req.OutputFormat)
	}
	if !req.Input.Has(graph.FieldData) {
		t.Errorf("input = %#v", req.Input)
	}
	if !res.Result.Has(graph.FieldAgentOutput) || !res.Result.Has(graph.FieldSchema) {
		t.Errorf("result = %#v", res.Result)
	}
}

func TestAIAgent_ProviderNeedsAPIKey(t *testing.T) {
	h := newHarness(t)
	cfg := chatGPTConfig("gpt-4o")
	delete(cfg, "api_key")
	h.add(t, "C", graph.TypeChatGPT, cfg)
	h.add(t, "A", graph.TypeAIAgent, map[string]any{"system_prompt": "x"})
	h.connect(t, "C", "A", graph.PortChatModel)

	res := h.run(t, "A")
	if !strings.Contains(res.Error, "chat_model node C") || !strings.Contains(res.Error, "api_key") {
		t.Errorf("error = %q", res.Error)
	}
}

func TestAIAgent_RecoveryPersistsOnProviderNode(t *testing.T) {
	chooser := &recovery.ScriptedChooser{Decisions: []recovery.Decision{recovery.Use("gpt-4o-mini")}}
	h := newHarness(t, WithRecovery(recovery.NewDriver(chooser)))
	h.fake.ParseFileFunc = parsedItems
	h.fake.RunAgentFunc = func(ctx context.Context, req compute.AgentRequest) (graph.Bag, error) {
		if req.Provider.Model == "gpt-4" {
			return nil, &compute.Error{Kind: compute.KindQuotaExhausted, Message: "You exceeded your current quota"}
		}
		return agentOutput(ctx, req)
	}

	h.add(t, "P", graph.TypeParseFile, map[string]any{"file_path": "a.xml"})
	h.add(t, "C", graph.TypeChatGPT, chatGPTConfig("gpt-4"))
	h.add(t, "A", graph.TypeAIAgent, map[string]any{"system_prompt": "x"})
	h.connect(t, "P", "A", graph.DefaultPort)
	h.connect(t, "C", "A", graph.PortChatModel)
	h.run(t, "P")

	res := h.run(t, "A")
	if !res.Success {
		t.Fatalf("agent failed: %s", res.Error)
	}
	if got := res.Result[graph.FieldAgentOutput].(map[string]any)["model"]; got != "gpt-4o-mini" {
		t.Errorf("answered by %v", got)
	}

	cfg := h.config(t, "C")
	if cfg["model"] != "gpt-4o-mini" {
		t.Errorf("provider model = %v", cfg["model"])
	}
	if body := cfg["request_body"].(map[string]any); body["model"] != "gpt-4o-mini" {
		t.Errorf("request_body model = %v", body["model"])
	}
	if _, ok := h.config(t, "A")["model"]; ok {
		t.Error("substitution written to the agent node")
	}

	prompts := chooser.Prompts()
	if len(prompts) != 1 || prompts[0].NodeID != "A" || prompts[0].Current != "gpt-4" {
		t.Errorf("prompts = %+v", prompts)
	}
}

func TestVendorAgent(t *testing.T) {
	tests := []struct {
		name      string
		typ       graph.NodeType
		cfg       map[string]any
		wantModel string
		wantURL   string
		wantErr   string
	}{
		{
			name:      "gpt agent defaults",
			typ:       graph.TypeGPTAgent,
			cfg:       map[string]any{"api_key": "k", "instructions": "be brief"},
			wantModel: "gpt-5",
			wantURL:   "https://api.openai.com/v1/responses",
		},
		{
			name:      "gemini agent defaults",
			typ:       graph.TypeGeminiAgent,
			cfg:       map[string]any{"api_key": "k"},
			wantModel: "gemini-1.5-flash",
		},
		{
			name:      "explicit model",
			typ:       graph.TypeGPTAgent,
			cfg:       map[string]any{"api_key": "k", "model": "gpt-4o", "api_url": "http://proxy"},
			wantModel: "gpt-4o",
			wantURL:   "http://proxy",
		},
		{
			name:    "missing key",
			typ:     graph.TypeGeminiAgent,
			cfg:     map[string]any{},
			wantErr: "missing required configuration: api_key",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.fake.ParseFileFunc = parsedItems
			h.fake.RunAgentFunc = agentOutput
			h.add(t, "P", graph.TypeParseFile, map[string]any{"file_path": "a.json"})
			h.add(t, "G", tt.typ, tt.cfg)
			h.connect(t, "P", "G", graph.DefaultPort)
			h.run(t, "P")

			res := h.run(t, "G")
			if tt.wantErr != "" {
				if res.Success || res.Error != tt.wantErr {
					t.Errorf("result = %+v, want error %q", res, tt.wantErr)
				}
				return
			}
			if !res.Success {
				t.Fatalf("run failed: %s", res.Error)
			}
			req := h.fake.AgentRequests()[0]
			if req.Type != tt.typ || req.Provider.Model != tt.wantModel || req.Provider.APIURL != tt.wantURL {
				t.Errorf("request = %+v", req)
			}
			if req.Instructions != str(tt.cfg, "instructions") {
				t.Errorf("instructions = %q", req.Instructions)
			}
		})
	}
}

func TestVendorAgent_RecoveryPersistsOnOwnNode(t *testing.T) {
	chooser := &recovery.ScriptedChooser{Decisions: []recovery.Decision{recovery.Use("gemini-1.5-flash")}}
	h := newHarness(t, WithRecovery(recovery.NewDriver(chooser)))
	h.fake.ParseFileFunc = parsedItems
	h.fake.RunAgentFunc = func(ctx context.Context, req compute.AgentRequest) (graph.Bag, error) {
		if req.Provider.Model == "gemini-1.5-pro" {
			return nil, &compute.Error{Kind: compute.KindModelUnavailable, Message: "model not found"}
		}
		return agentOutput(ctx, req)
	}
	h.add(t, "P", graph.TypeParseFile, map[string]any{"file_path": "a.json"})
	h.add(t, "G", graph.TypeGeminiAgent, map[string]any{"api_key": "k", "model": "gemini-1.5-pro"})
	h.connect(t, "P", "G", graph.DefaultPort)
	h.run(t, "P")

	if res := h.run(t, "G"); !res.Success {
		t.Fatalf("run failed: %s", res.Error)
	}
	if m := h.config(t, "G")["model"]; m != "gemini-1.5-flash" {
		t.Errorf("model = %v, want gemini-1.5-flash", m)
	}
}
