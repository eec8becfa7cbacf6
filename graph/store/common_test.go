package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dshills/nodegraph-go/graph"
)

// clock is a controllable time source shared by the store under test.
type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newClock() *clock {
	return &clock{t: time.UnixMilli(1_700_000_000_000)}
}

// testStore runs the Store contract against s.
func testStore(t *testing.T, s Store, clk *clock) {
	t.Run("workflows", func(t *testing.T) { testWorkflows(t, s) })
	t.Run("results", func(t *testing.T) { testResults(t, s) })
	t.Run("memory", func(t *testing.T) { testMemoryStore(t, s, clk) })
}

func testWorkflows(t *testing.T, s Store) {
	ctx := context.Background()

	wf := graph.Workflow{
		ID:   "wf-1",
		Name: "parse and filter",
		Nodes: []graph.Node{
			{ID: "a", Type: graph.TypeParseFile, Config: map[string]any{"file_path": "in.json"}, Status: graph.StatusPending},
			{ID: "b", Type: graph.TypeFilterData, Status: graph.StatusPending},
		},
		Edges: []graph.Edge{{ID: "e1", Source: "a", Target: "b"}},
	}

	if _, err := s.LoadWorkflow(ctx, "wf-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("LoadWorkflow(missing) error = %v, want ErrNotFound", err)
	}
	if err := s.SaveWorkflow(ctx, graph.Workflow{}); err == nil {
		t.Error("SaveWorkflow without id should fail")
	}
	if err := s.SaveWorkflow(ctx, wf); err != nil {
		t.Fatalf("SaveWorkflow() error = %v", err)
	}

	wf.Name = "renamed"
	if err := s.SaveWorkflow(ctx, wf); err != nil {
		t.Fatalf("SaveWorkflow(update) error = %v", err)
	}

	got, err := s.LoadWorkflow(ctx, "wf-1")
	if err != nil {
		t.Fatalf("LoadWorkflow() error = %v", err)
	}
	if got.Name != "renamed" || len(got.Nodes) != 2 || len(got.Edges) != 1 {
		t.Errorf("LoadWorkflow() = %+v", got)
	}
	if got.Nodes[0].Config["file_path"] != "in.json" {
		t.Errorf("node config not preserved: %v", got.Nodes[0].Config)
	}

	list, err := s.ListWorkflows(ctx)
	if err != nil || len(list) != 1 || list[0].Name != "renamed" {
		t.Errorf("ListWorkflows() = %v, %v", list, err)
	}

	if err := s.DeleteWorkflow(ctx, "wf-1"); err != nil {
		t.Fatalf("DeleteWorkflow() error = %v", err)
	}
	if err := s.DeleteWorkflow(ctx, "wf-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second DeleteWorkflow() error = %v, want ErrNotFound", err)
	}
}

func testResults(t *testing.T, s Store) {
	ctx := context.Background()

	if err := s.SaveResult(ctx, "s-1", "a", map[string]any{"data": []any{"x"}, "file_path": "in.json"}); err != nil {
		t.Fatalf("SaveResult() error = %v", err)
	}
	if err := s.SaveResult(ctx, "s-1", "b", map[string]any{"data": "old"}); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveResult(ctx, "s-1", "b", map[string]any{"data": "new"}); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveResult(ctx, "s-2", "a", map[string]any{"other": true}); err != nil {
		t.Fatal(err)
	}

	got, err := s.LoadResults(ctx, "s-1")
	if err != nil {
		t.Fatalf("LoadResults() error = %v", err)
	}
	if len(got) != 2 || got["b"]["data"] != "new" || got["a"]["file_path"] != "in.json" {
		t.Errorf("LoadResults() = %v", got)
	}

	if err := s.DeleteResult(ctx, "s-1", "a"); err != nil {
		t.Fatal(err)
	}
	got, _ = s.LoadResults(ctx, "s-1")
	if _, ok := got["a"]; ok {
		t.Error("DeleteResult left the result behind")
	}

	if err := s.ClearResults(ctx, "s-1"); err != nil {
		t.Fatal(err)
	}
	got, _ = s.LoadResults(ctx, "s-1")
	if len(got) != 0 {
		t.Errorf("ClearResults left %v", got)
	}
	other, _ := s.LoadResults(ctx, "s-2")
	if len(other) != 1 {
		t.Errorf("ClearResults affected another session: %v", other)
	}
}

func testMemoryStore(t *testing.T, s MemoryStore, clk *clock) {
	ctx := context.Background()

	if _, err := s.PutMemory(ctx, Memory{Key: "k"}); err == nil {
		t.Error("PutMemory without type should fail")
	}

	first, err := s.PutMemory(ctx, Memory{
		Type: "workflow", WorkflowID: "wf-1", Key: "greeting",
		Value: map[string]any{"text": "Hello World"}, Metadata: map[string]any{"source": "test"},
	})
	if err != nil {
		t.Fatalf("PutMemory() error = %v", err)
	}
	if first.ID == "" {
		t.Error("PutMemory() returned empty ID")
	}

	clk.advance(time.Second)
	if _, err := s.PutMemory(ctx, Memory{Type: "workflow", WorkflowID: "wf-1", Key: "color", Value: "blue"}); err != nil {
		t.Fatal(err)
	}
	clk.advance(time.Second)
	expires := clk.now().Add(time.Minute)
	if _, err := s.PutMemory(ctx, Memory{Type: "session", SessionID: "s-1", Key: "draft", Value: "temp", ExpiresAt: &expires}); err != nil {
		t.Fatal(err)
	}

	// Same identity replaces the value but keeps ID and creation time.
	clk.advance(time.Second)
	replaced, err := s.PutMemory(ctx, Memory{Type: "workflow", WorkflowID: "wf-1", Key: "greeting", Value: "hi again"})
	if err != nil {
		t.Fatal(err)
	}
	if replaced.ID != first.ID || !replaced.CreatedAt.Equal(first.CreatedAt) {
		t.Errorf("upsert changed identity: %+v vs %+v", replaced, first)
	}

	all, err := s.RetrieveMemories(ctx, MemoryQuery{})
	if err != nil {
		t.Fatalf("RetrieveMemories() error = %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("RetrieveMemories() = %d entries, want 3", len(all))
	}
	if all[0].Key != "draft" || all[2].Key != "greeting" {
		t.Errorf("expected newest first, got %s, %s, %s", all[0].Key, all[1].Key, all[2].Key)
	}

	wf, _ := s.RetrieveMemories(ctx, MemoryQuery{Type: "workflow", Limit: 1})
	if len(wf) != 1 || wf[0].Key != "color" {
		t.Errorf("limited retrieve = %v", wf)
	}

	found, err := s.SearchMemories(ctx, MemoryQuery{Text: "AGAIN"})
	if err != nil {
		t.Fatalf("SearchMemories() error = %v", err)
	}
	if len(found) != 1 || found[0].Value != "hi again" {
		t.Errorf("SearchMemories(value) = %v", found)
	}
	byKey, _ := s.SearchMemories(ctx, MemoryQuery{Text: "col"})
	if len(byKey) != 1 || byKey[0].Key != "color" {
		t.Errorf("SearchMemories(key) = %v", byKey)
	}

	clk.advance(2 * time.Minute)
	live, _ := s.RetrieveMemories(ctx, MemoryQuery{SessionID: "s-1"})
	if len(live) != 0 {
		t.Errorf("expired entry returned: %v", live)
	}
	if _, err := s.ClearExpired(ctx); err != nil {
		t.Fatalf("ClearExpired() error = %v", err)
	}

	if _, err := s.DeleteMemories(ctx, MemoryQuery{}); !errors.Is(err, ErrNoCondition) {
		t.Errorf("DeleteMemories(no condition) error = %v", err)
	}
	n, err := s.DeleteMemories(ctx, MemoryQuery{Type: "workflow", Key: "color"})
	if err != nil || n != 1 {
		t.Errorf("DeleteMemories() = %d, %v; want 1", n, err)
	}
	rest, _ := s.RetrieveMemories(ctx, MemoryQuery{})
	if len(rest) != 1 || rest[0].Key != "greeting" {
		t.Errorf("remaining memories = %v", rest)
	}
}
