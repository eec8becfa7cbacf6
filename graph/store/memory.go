package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/nodegraph-go/graph"
)

// MemStore is an in-process implementation of Store.
//
// Values are stored as JSON so that callers never share mutable state with
// the store, matching what the SQL backends do. Data is lost when the
// process exits.
type MemStore struct {
	mu        sync.RWMutex
	closed    bool
	workflows map[string]savedWorkflow
	results   map[string]map[string][]byte // sessionID -> nodeID -> JSON bag
	memories  map[string]Memory            // identity -> entry
	now       func() time.Time
}

type savedWorkflow struct {
	data      []byte
	name      string
	updatedAt time.Time
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		workflows: make(map[string]savedWorkflow),
		results:   make(map[string]map[string][]byte),
		memories:  make(map[string]Memory),
		now:       time.Now,
	}
}

// SaveWorkflow stores wf under wf.ID, replacing any previous version.
func (m *MemStore) SaveWorkflow(_ context.Context, wf graph.Workflow) error {
	if wf.ID == "" {
		return fmt.Errorf("workflow id is required")
	}
	data, err := json.Marshal(wf)
	if err != nil {
		return fmt.Errorf("failed to marshal workflow: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.workflows[wf.ID] = savedWorkflow{data: data, name: wf.Name, updatedAt: m.now()}
	return nil
}

// LoadWorkflow returns the workflow saved under id.
func (m *MemStore) LoadWorkflow(_ context.Context, id string) (graph.Workflow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return graph.Workflow{}, ErrClosed
	}

	saved, ok := m.workflows[id]
	if !ok {
		return graph.Workflow{}, ErrNotFound
	}
	var wf graph.Workflow
	if err := json.Unmarshal(saved.data, &wf); err != nil {
		return graph.Workflow{}, fmt.Errorf("failed to unmarshal workflow: %w", err)
	}
	return wf, nil
}

// DeleteWorkflow removes a saved workflow.
func (m *MemStore) DeleteWorkflow(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if _, ok := m.workflows[id]; !ok {
		return ErrNotFound
	}
	delete(m.workflows, id)
	return nil
}

// ListWorkflows returns saved workflows ordered by ID.
func (m *MemStore) ListWorkflows(_ context.Context) ([]WorkflowSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}

	out := make([]WorkflowSummary, 0, len(m.workflows))
	for id, w := range m.workflows {
		out = append(out, WorkflowSummary{ID: id, Name: w.name, UpdatedAt: w.updatedAt})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// SaveResult stores a node's committed context bag.
func (m *MemStore) SaveResult(_ context.Context, sessionID, nodeID string, result map[string]any) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if m.results[sessionID] == nil {
		m.results[sessionID] = make(map[string][]byte)
	}
	m.results[sessionID][nodeID] = data
	return nil
}

// LoadResults returns every stored result for a session.
func (m *MemStore) LoadResults(_ context.Context, sessionID string) (map[string]map[string]any, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}

	out := make(map[string]map[string]any, len(m.results[sessionID]))
	for nodeID, data := range m.results[sessionID] {
		var r map[string]any
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, fmt.Errorf("failed to unmarshal result for %s: %w", nodeID, err)
		}
		out[nodeID] = r
	}
	return out, nil
}

// DeleteResult removes one node's result.
func (m *MemStore) DeleteResult(_ context.Context, sessionID, nodeID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	delete(m.results[sessionID], nodeID)
	return nil
}

// ClearResults removes every result of a session.
func (m *MemStore) ClearResults(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	delete(m.results, sessionID)
	return nil
}

// PutMemory stores an entry, replacing any entry with the same identity.
func (m *MemStore) PutMemory(_ context.Context, mem Memory) (Memory, error) {
	if err := validateMemory(mem); err != nil {
		return Memory{}, err
	}
	value, err := roundTrip(mem.Value)
	if err != nil {
		return Memory{}, fmt.Errorf("failed to encode memory value: %w", err)
	}
	mem.Value = value
	if mem.Metadata != nil {
		md, err := roundTrip(mem.Metadata)
		if err != nil {
			return Memory{}, fmt.Errorf("failed to encode memory metadata: %w", err)
		}
		mem.Metadata, _ = md.(map[string]any)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return Memory{}, ErrClosed
	}

	now := m.now()
	id := memoryIdentity(mem)
	if existing, ok := m.memories[id]; ok {
		mem.ID = existing.ID
		mem.CreatedAt = existing.CreatedAt
	} else {
		mem.ID = uuid.NewString()
		mem.CreatedAt = now
	}
	mem.UpdatedAt = now
	m.memories[id] = mem
	return mem, nil
}

// RetrieveMemories returns unexpired entries matching q, newest first.
func (m *MemStore) RetrieveMemories(_ context.Context, q MemoryQuery) ([]Memory, error) {
	return m.collect(q, DefaultRetrieveLimit, func(Memory) bool { return true })
}

// SearchMemories returns unexpired entries whose key or value contains
// q.Text, newest first.
func (m *MemStore) SearchMemories(_ context.Context, q MemoryQuery) ([]Memory, error) {
	return m.collect(q, DefaultSearchLimit, func(mem Memory) bool {
		encoded, _ := json.Marshal(mem.Value)
		return q.matchesText(mem, string(encoded))
	})
}

// DeleteMemories removes every entry matching q and returns the count.
func (m *MemStore) DeleteMemories(_ context.Context, q MemoryQuery) (int, error) {
	if !q.hasCondition() {
		return 0, ErrNoCondition
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrClosed
	}

	n := 0
	for id, mem := range m.memories {
		if q.matches(mem) {
			delete(m.memories, id)
			n++
		}
	}
	return n, nil
}

// ClearExpired removes expired entries and returns the count.
func (m *MemStore) ClearExpired(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrClosed
	}

	now := m.now()
	n := 0
	for id, mem := range m.memories {
		if mem.Expired(now) {
			delete(m.memories, id)
			n++
		}
	}
	return n, nil
}

// Close marks the store closed. Further calls return ErrClosed.
func (m *MemStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *MemStore) collect(q MemoryQuery, defaultLimit int, keep func(Memory) bool) ([]Memory, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}

	now := m.now()
	out := []Memory{}
	for _, mem := range m.memories {
		if mem.Expired(now) || !q.matches(mem) || !keep(mem) {
			continue
		}
		out = append(out, mem)
	}
	newestFirst(out)
	if limit := q.limit(defaultLimit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func roundTrip(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
