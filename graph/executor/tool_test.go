package executor

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	"github.com/dshills/nodegraph-go/graph"
	"github.com/dshills/nodegraph-go/graph/tool"
)

func TestToolCall_HTTPRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Token") != "abc" {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"ok": true}`)
	}))
	defer srv.Close()

	h := newHarness(t)
	h.add(t, "T", graph.TypeTool, map[string]any{
		"tool_type": "http_request",
		"url":       srv.URL,
		"headers":   `{"X-Token": "abc"}`,
	})

	res := h.run(t, "T")
	if !res.Success {
		t.Fatalf("run failed: %s", res.Error)
	}
	result := res.Result[graph.FieldToolResult].(map[string]any)
	if result["tool_type"] != "http_request" || result["name"] != "http_request" {
		t.Errorf("tool_result = %#v", result)
	}
	out := result["output"].(map[string]interface{})
	if out["status_code"] != http.StatusOK || !reflect.DeepEqual(out["json"], map[string]interface{}{"ok": true}) {
		t.Errorf("output = %#v", out)
	}
}

func TestToolCall_SendsUpstreamData(t *testing.T) {
	mock := &tool.MockTool{ToolName: "poster", Responses: []map[string]interface{}{{"status_code": 201}}}
	h := newHarness(t, WithToolFactory(func(cfg map[string]any) (tool.Tool, map[string]interface{}, error) {
		_, defaults, err := tool.FromConfig(cfg)
		return mock, defaults, err
	}))
	h.fake.ParseFileFunc = parsedItems
	h.add(t, "P", graph.TypeParseFile, map[string]any{"file_path": "a.json"})
	h.add(t, "T", graph.TypeTool, map[string]any{"url": "https://example.com/hook", "method": "post"})
	h.connect(t, "P", "T", graph.DefaultPort)
	h.run(t, "P")

	res := h.run(t, "T")
	if !res.Success {
		t.Fatalf("run failed: %s", res.Error)
	}
	if mock.CallCount() != 1 {
		t.Fatalf("calls = %d, want 1", mock.CallCount())
	}
	input := mock.Calls[0].Input
	parsed, _ := h.session.Result("P")
	if input["url"] != "https://example.com/hook" || !reflect.DeepEqual(input["body"], parsed[graph.FieldData]) {
		t.Errorf("input = %#v", input)
	}
	if name := res.Result[graph.FieldToolResult].(map[string]any)["name"]; name != "poster" {
		t.Errorf("name = %v", name)
	}
	if !res.Result.Has(graph.FieldData) {
		t.Error("upstream data not carried through")
	}
}

func TestToolCall_Failures(t *testing.T) {
	tests := []struct {
		name    string
		cfg     map[string]any
		toolErr error
		wantErr string
	}{
		{name: "missing url", cfg: map[string]any{}, wantErr: "missing required configuration: url"},
		{name: "unknown type", cfg: map[string]any{"tool_type": "shell", "url": "x"}, wantErr: `invalid tool_type: "shell" is not one of http_request`},
		{name: "tool error", cfg: map[string]any{"url": "x"}, toolErr: errors.New("connection refused"), wantErr: "connection refused"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &tool.MockTool{ToolName: "m", Err: tt.toolErr}
			h := newHarness(t, WithToolFactory(func(map[string]any) (tool.Tool, map[string]interface{}, error) {
				return mock, nil, nil
			}))
			h.add(t, "T", graph.TypeTool, tt.cfg)

			res := h.run(t, "T")
			if res.Success || res.Error != tt.wantErr {
				t.Errorf("result = %+v, want error %q", res, tt.wantErr)
			}
			if tt.toolErr == nil && mock.CallCount() != 0 {
				t.Error("tool called for an invalid node")
			}
		})
	}
}

func TestSendsBody(t *testing.T) {
	for method, want := range map[string]bool{"": false, "GET": false, "post": true, "PUT": true, "PATCH": true, "DELETE": false} {
		if got := sendsBody(map[string]interface{}{"method": method}); got != want {
			t.Errorf("sendsBody(%q) = %v, want %v", method, got, want)
		}
	}
}
