package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/dshills/nodegraph-go/graph"
	"github.com/dshills/nodegraph-go/graph/store"
)

// loadWorkflow reads ref as a workflow file, or as the ID of a saved
// workflow when no such file exists.
func (a *app) loadWorkflow(ctx context.Context, ref string) (graph.Workflow, error) {
	data, err := os.ReadFile(ref)
	if err == nil {
		return graph.DecodeWorkflow(data, graph.WorkflowFormat(ref))
	}
	if !errors.Is(err, os.ErrNotExist) {
		return graph.Workflow{}, fmt.Errorf("failed to read workflow: %w", err)
	}

	wf, loadErr := a.store.LoadWorkflow(ctx, ref)
	if errors.Is(loadErr, store.ErrNotFound) {
		return graph.Workflow{}, fmt.Errorf("workflow %q: no such file or saved workflow", ref)
	}
	return wf, loadErr
}

// openSession loads wf into a new session. A named session keeps the
// results persisted by earlier invocations; an anonymous one starts empty.
func (a *app) openSession(ctx context.Context, wf graph.Workflow, sessionID string) (*graph.Session, error) {
	s, err := a.session(sessionID)
	if err != nil {
		return nil, err
	}
	if sessionID == "" {
		if err := s.Load(ctx, wf); err != nil {
			return nil, err
		}
		return s, nil
	}

	for _, n := range wf.Nodes {
		if _, err := s.AddNode(n); err != nil {
			return nil, err
		}
	}
	for _, e := range wf.Edges {
		if _, err := s.Connect(e); err != nil {
			return nil, err
		}
	}
	restored, err := s.Restore(ctx)
	if err != nil {
		return nil, err
	}
	a.logger.Debug("session restored", "session", s.ID(), "results", restored)
	return s, nil
}
