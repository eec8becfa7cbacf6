package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/dshills/nodegraph-go/graph"
)

func newTestSQLiteStore(t *testing.T, path string) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteStore(t *testing.T) {
	s := newTestSQLiteStore(t, ":memory:")
	clk := newClock()
	s.now = clk.now
	testStore(t, s, clk)
}

func TestSQLiteStore_Persistence(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nodegraph.db")

	first, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := first.SaveWorkflow(ctx, graph.Workflow{ID: "wf", Nodes: []graph.Node{{ID: "a", Type: graph.TypeParseFile}}}); err != nil {
		t.Fatal(err)
	}
	if err := first.SaveResult(ctx, "s", "a", map[string]any{"data": 1.0}); err != nil {
		t.Fatal(err)
	}
	if err := first.Close(); err != nil {
		t.Fatal(err)
	}

	second := newTestSQLiteStore(t, path)
	if second.Path() != path {
		t.Errorf("Path() = %q", second.Path())
	}
	wf, err := second.LoadWorkflow(ctx, "wf")
	if err != nil || len(wf.Nodes) != 1 {
		t.Errorf("LoadWorkflow after reopen = %+v, %v", wf, err)
	}
	results, err := second.LoadResults(ctx, "s")
	if err != nil || results["a"]["data"] != 1.0 {
		t.Errorf("LoadResults after reopen = %v, %v", results, err)
	}
}

func TestSQLiteStore_Closed(t *testing.T) {
	s, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if err := s.Ping(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Ping after Close = %v, want ErrClosed", err)
	}
}

func TestSessionWriteThrough(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLiteStore(t, ":memory:")

	sess, err := graph.NewSession(graph.WithSessionID("s-1"), graph.WithResultStore(s))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := sess.AddNode(graph.Node{ID: "a", Type: graph.TypeParseFile}); err != nil {
		t.Fatal(err)
	}
	if err := sess.SetResult(ctx, "a", graph.Bag{"file_path": "in.json"}); err != nil {
		t.Fatal(err)
	}

	reopened, _ := graph.NewSession(graph.WithSessionID("s-1"), graph.WithResultStore(s))
	if _, err := reopened.AddNode(graph.Node{ID: "a", Type: graph.TypeParseFile}); err != nil {
		t.Fatal(err)
	}
	if n, err := reopened.Restore(ctx); err != nil || n != 1 {
		t.Fatalf("Restore() = %d, %v", n, err)
	}
	r, _ := reopened.Result("a")
	if r.String("file_path") != "in.json" {
		t.Errorf("restored result = %v", r)
	}
}
