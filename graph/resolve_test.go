package graph

import (
	"context"
	"reflect"
	"testing"
)

func TestDefaultUpstreamResult(t *testing.T) {
	ctx := context.Background()
	s := newTestSession(t)
	mustAdd(t, s, "a", TypeParseFile)
	mustAdd(t, s, "b", TypeFilterData)
	mustAdd(t, s, "m", TypeMemory)

	if _, ok := s.DefaultUpstreamResult("b"); ok {
		t.Fatal("no edge yet, expected absent")
	}

	mustConnect(t, s, Edge{Source: "m", Target: "b", TargetPort: PortMemory})
	mustConnect(t, s, Edge{Source: "a", Target: "b"})

	if _, ok := s.DefaultUpstreamResult("b"); ok {
		t.Fatal("upstream not executed yet, expected absent")
	}
	if err := s.SetResult(ctx, "m", Bag{"memory_result": "ignored"}); err != nil {
		t.Fatal(err)
	}
	if _, ok := s.DefaultUpstreamResult("b"); ok {
		t.Fatal("capability port must not count as default input")
	}

	if err := s.SetResult(ctx, "a", Bag{"data": []any{"x"}}); err != nil {
		t.Fatal(err)
	}
	got, ok := s.DefaultUpstreamResult("b")
	if !ok || !reflect.DeepEqual(got, Bag{"data": []any{"x"}}) {
		t.Fatalf("DefaultUpstreamResult() = %v, %v", got, ok)
	}

	up, ok := s.DefaultUpstream("b")
	if !ok || up.ID != "a" {
		t.Errorf("DefaultUpstream() = %v, %v; want a", up.ID, ok)
	}
}

func TestResolutionPurity(t *testing.T) {
	ctx := context.Background()
	s := newTestSession(t)
	mustAdd(t, s, "a", TypeParseFile)
	mustAdd(t, s, "b", TypeAIAgent)
	mustAdd(t, s, "g", TypeChatGPT)
	mustConnect(t, s, Edge{Source: "a", Target: "b"})
	mustConnect(t, s, Edge{Source: "g", Target: "b", TargetPort: PortChatModel})
	if err := s.SetResult(ctx, "a", Bag{"data": 1.0}); err != nil {
		t.Fatal(err)
	}

	first, _ := s.DefaultUpstreamResult("b")
	second, _ := s.DefaultUpstreamResult("b")
	if !reflect.DeepEqual(first, second) {
		t.Errorf("repeated DefaultUpstreamResult differ: %v vs %v", first, second)
	}

	c1, _ := s.ResolveCapability("b", PortChatModel)
	c2, _ := s.ResolveCapability("b", PortChatModel)
	if !reflect.DeepEqual(c1, c2) {
		t.Errorf("repeated ResolveCapability differ: %+v vs %+v", c1, c2)
	}

	// Re-query after a mutation sees the new state.
	if err := s.SetResult(ctx, "a", Bag{"data": 2.0}); err != nil {
		t.Fatal(err)
	}
	third, _ := s.DefaultUpstreamResult("b")
	if third["data"] != 2.0 {
		t.Errorf("DefaultUpstreamResult after mutation = %v", third)
	}
}

func TestResolveCapability_PortDisambiguation(t *testing.T) {
	ctx := context.Background()
	s := newTestSession(t)
	mustAdd(t, s, "E", TypeGPTAgent)
	if _, err := s.AddNode(Node{ID: "M", Type: TypeMemory, Config: map[string]any{"memory_type": "workflow"}}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.AddNode(Node{ID: "T", Type: TypeTool, Config: map[string]any{"tool_type": "http_request"}}); err != nil {
		t.Fatal(err)
	}
	mustConnect(t, s, Edge{ID: "edge1", Source: "M", Target: "E", TargetPort: PortMemory})
	mustConnect(t, s, Edge{ID: "edge2", Source: "T", Target: "E", TargetPort: PortTool})

	mem, ok := s.ResolveCapability("E", PortMemory)
	if !ok || mem.Node.ID != "M" {
		t.Fatalf("memory port resolved to %v, %v; want M", mem.Node.ID, ok)
	}
	if mem.Node.Config["memory_type"] != "workflow" {
		t.Errorf("memory capability config = %v", mem.Node.Config)
	}
	if mem.HasResult {
		t.Error("memory node has not executed, HasResult should be false")
	}

	tool, ok := s.ResolveCapability("E", PortTool)
	if !ok || tool.Node.ID != "T" {
		t.Fatalf("tool port resolved to %v, %v; want T", tool.Node.ID, ok)
	}

	if _, ok := s.ResolveCapability("E", PortChatModel); ok {
		t.Error("unconnected port should be absent")
	}

	if err := s.SetResult(ctx, "T", Bag{"tool_result": "ok"}); err != nil {
		t.Fatal(err)
	}
	tool, _ = s.ResolveCapability("E", PortTool)
	if !tool.HasResult || tool.Result["tool_result"] != "ok" {
		t.Errorf("tool capability result = %+v", tool)
	}
}
