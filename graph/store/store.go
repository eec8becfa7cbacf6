// Package store persists workflow definitions, session results and agent
// memory entries.
//
// Three backends implement the full Store interface: MemStore (process
// memory), SQLiteStore (single file, zero setup) and MySQLStore (shared,
// multi-process). RedisMemory implements MemoryStore only.
package store

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/dshills/nodegraph-go/graph"
)

// ErrNotFound is returned when a requested workflow does not exist.
var ErrNotFound = errors.New("not found")

// ErrClosed is returned by every operation on a closed store.
var ErrClosed = errors.New("store is closed")

// ErrNoCondition is returned by DeleteMemories when the query has no
// filtering field, which would otherwise delete every entry.
var ErrNoCondition = errors.New("memory delete requires at least one condition")

// Store is the complete persistence surface.
type Store interface {
	graph.ResultStore
	WorkflowStore
	MemoryStore
	Close() error
}

// WorkflowStore saves and loads graph definitions.
type WorkflowStore interface {
	SaveWorkflow(ctx context.Context, wf graph.Workflow) error
	LoadWorkflow(ctx context.Context, id string) (graph.Workflow, error)
	DeleteWorkflow(ctx context.Context, id string) error
	ListWorkflows(ctx context.Context) ([]WorkflowSummary, error)
}

// WorkflowSummary describes a saved workflow without its graph.
type WorkflowSummary struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MemoryStore holds the entries memory nodes and agents read and write.
//
// An entry is identified by (Type, WorkflowID, SessionID, Key); storing the
// same identity again replaces the value. Expired entries are never
// returned.
type MemoryStore interface {
	PutMemory(ctx context.Context, m Memory) (Memory, error)
	RetrieveMemories(ctx context.Context, q MemoryQuery) ([]Memory, error)
	SearchMemories(ctx context.Context, q MemoryQuery) ([]Memory, error)
	DeleteMemories(ctx context.Context, q MemoryQuery) (int, error)
	ClearExpired(ctx context.Context) (int, error)
}

// Memory is one stored memory entry.
type Memory struct {
	ID         string         `json:"id"`
	Type       string         `json:"memory_type"`
	WorkflowID string         `json:"workflow_id,omitempty"`
	SessionID  string         `json:"session_id,omitempty"`
	Key        string         `json:"key"`
	Value      any            `json:"value"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	ExpiresAt  *time.Time     `json:"expires_at,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// Expired reports whether m has an expiry at or before now.
func (m Memory) Expired(now time.Time) bool {
	return m.ExpiresAt != nil && !m.ExpiresAt.After(now)
}

// MemoryQuery filters memory operations. Empty fields match anything.
// Text is the search needle for SearchMemories, matched case-insensitively
// against the key and the JSON-encoded value.
type MemoryQuery struct {
	Type       string
	Key        string
	WorkflowID string
	SessionID  string
	Text       string
	Limit      int
}

// Default result limits.
const (
	DefaultRetrieveLimit = 100
	DefaultSearchLimit   = 10
)

func (q MemoryQuery) hasCondition() bool {
	return q.Type != "" || q.Key != "" || q.WorkflowID != "" || q.SessionID != ""
}

func (q MemoryQuery) limit(def int) int {
	if q.Limit <= 0 {
		return def
	}
	return q.Limit
}

func (q MemoryQuery) matches(m Memory) bool {
	if q.Type != "" && m.Type != q.Type {
		return false
	}
	if q.Key != "" && m.Key != q.Key {
		return false
	}
	if q.WorkflowID != "" && m.WorkflowID != q.WorkflowID {
		return false
	}
	if q.SessionID != "" && m.SessionID != q.SessionID {
		return false
	}
	return true
}

func (q MemoryQuery) matchesText(m Memory, encodedValue string) bool {
	needle := strings.ToLower(q.Text)
	return strings.Contains(strings.ToLower(m.Key), needle) ||
		strings.Contains(strings.ToLower(encodedValue), needle)
}

func memoryIdentity(m Memory) string {
	return m.Type + "\x00" + m.WorkflowID + "\x00" + m.SessionID + "\x00" + m.Key
}

// newestFirst orders entries by creation time, most recent first, breaking
// ties by key for a stable order.
func newestFirst(ms []Memory) {
	sort.SliceStable(ms, func(i, j int) bool {
		if !ms[i].CreatedAt.Equal(ms[j].CreatedAt) {
			return ms[i].CreatedAt.After(ms[j].CreatedAt)
		}
		return ms[i].Key < ms[j].Key
	})
}

func validateMemory(m Memory) error {
	if m.Type == "" {
		return errors.New("memory type is required")
	}
	if m.Key == "" {
		return errors.New("memory key is required")
	}
	return nil
}
