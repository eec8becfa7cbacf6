package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/nodegraph-go/graph"
)

// dialect holds the statements that differ between SQL backends. Both
// supported drivers use ? placeholders.
type dialect struct {
	name           string
	schema         []string
	upsertWorkflow string
	upsertResult   string
	upsertMemory   string
}

// sqlStore implements Store on database/sql. SQLiteStore and MySQLStore
// embed it with their own dialect and connection settings.
//
// Timestamps are stored as Unix milliseconds so both drivers scan them the
// same way.
type sqlStore struct {
	db      *sql.DB
	dialect dialect
	mu      sync.RWMutex
	closed  bool
	now     func() time.Time
}

func newSQLStore(ctx context.Context, db *sql.DB, d dialect) (*sqlStore, error) {
	s := &sqlStore{db: db, dialect: d, now: time.Now}
	for _, stmt := range d.schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("failed to create %s schema: %w", d.name, err)
		}
	}
	return s, nil
}

func (s *sqlStore) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// SaveWorkflow stores wf under wf.ID, replacing any previous version.
func (s *sqlStore) SaveWorkflow(ctx context.Context, wf graph.Workflow) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if wf.ID == "" {
		return errors.New("workflow id is required")
	}
	data, err := json.Marshal(wf)
	if err != nil {
		return fmt.Errorf("failed to marshal workflow: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, s.dialect.upsertWorkflow, wf.ID, wf.Name, string(data), s.now().UnixMilli()); err != nil {
		return fmt.Errorf("failed to save workflow: %w", err)
	}
	return nil
}

// LoadWorkflow returns the workflow saved under id.
func (s *sqlStore) LoadWorkflow(ctx context.Context, id string) (graph.Workflow, error) {
	if err := s.checkOpen(); err != nil {
		return graph.Workflow{}, err
	}
	var data string
	err := s.db.QueryRowContext(ctx, "SELECT definition FROM workflows WHERE id = ?", id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return graph.Workflow{}, ErrNotFound
	}
	if err != nil {
		return graph.Workflow{}, fmt.Errorf("failed to load workflow: %w", err)
	}
	var wf graph.Workflow
	if err := json.Unmarshal([]byte(data), &wf); err != nil {
		return graph.Workflow{}, fmt.Errorf("failed to unmarshal workflow: %w", err)
	}
	return wf, nil
}

// DeleteWorkflow removes a saved workflow.
func (s *sqlStore) DeleteWorkflow(ctx context.Context, id string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, "DELETE FROM workflows WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete workflow: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListWorkflows returns saved workflows ordered by ID.
func (s *sqlStore) ListWorkflows(ctx context.Context) ([]WorkflowSummary, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, "SELECT id, name, updated_at FROM workflows ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}
	defer rows.Close()

	out := []WorkflowSummary{}
	for rows.Next() {
		var (
			w       WorkflowSummary
			updated int64
		)
		if err := rows.Scan(&w.ID, &w.Name, &updated); err != nil {
			return nil, fmt.Errorf("failed to scan workflow: %w", err)
		}
		w.UpdatedAt = time.UnixMilli(updated)
		out = append(out, w)
	}
	return out, rows.Err()
}

// SaveResult stores a node's committed context bag.
func (s *sqlStore) SaveResult(ctx context.Context, sessionID, nodeID string, result map[string]any) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, s.dialect.upsertResult, sessionID, nodeID, string(data), s.now().UnixMilli()); err != nil {
		return fmt.Errorf("failed to save result: %w", err)
	}
	return nil
}

// LoadResults returns every stored result for a session.
func (s *sqlStore) LoadResults(ctx context.Context, sessionID string) (map[string]map[string]any, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, "SELECT node_id, result FROM session_results WHERE session_id = ?", sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load results: %w", err)
	}
	defer rows.Close()

	out := map[string]map[string]any{}
	for rows.Next() {
		var nodeID, data string
		if err := rows.Scan(&nodeID, &data); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		var r map[string]any
		if err := json.Unmarshal([]byte(data), &r); err != nil {
			return nil, fmt.Errorf("failed to unmarshal result for %s: %w", nodeID, err)
		}
		out[nodeID] = r
	}
	return out, rows.Err()
}

// DeleteResult removes one node's result.
func (s *sqlStore) DeleteResult(ctx context.Context, sessionID, nodeID string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, "DELETE FROM session_results WHERE session_id = ? AND node_id = ?", sessionID, nodeID); err != nil {
		return fmt.Errorf("failed to delete result: %w", err)
	}
	return nil
}

// ClearResults removes every result of a session.
func (s *sqlStore) ClearResults(ctx context.Context, sessionID string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, "DELETE FROM session_results WHERE session_id = ?", sessionID); err != nil {
		return fmt.Errorf("failed to clear results: %w", err)
	}
	return nil
}

// PutMemory stores an entry, replacing the value of any entry with the same
// identity while keeping its ID and creation time.
func (s *sqlStore) PutMemory(ctx context.Context, m Memory) (Memory, error) {
	if err := s.checkOpen(); err != nil {
		return Memory{}, err
	}
	if err := validateMemory(m); err != nil {
		return Memory{}, err
	}
	value, err := json.Marshal(m.Value)
	if err != nil {
		return Memory{}, fmt.Errorf("failed to encode memory value: %w", err)
	}
	var metadata sql.NullString
	if m.Metadata != nil {
		md, err := json.Marshal(m.Metadata)
		if err != nil {
			return Memory{}, fmt.Errorf("failed to encode memory metadata: %w", err)
		}
		metadata = sql.NullString{String: string(md), Valid: true}
	}
	var expires sql.NullInt64
	if m.ExpiresAt != nil {
		expires = sql.NullInt64{Int64: m.ExpiresAt.UnixMilli(), Valid: true}
	}

	now := s.now().UnixMilli()
	_, err = s.db.ExecContext(ctx, s.dialect.upsertMemory,
		uuid.NewString(), m.Type, m.WorkflowID, m.SessionID, m.Key, string(value), metadata, expires, now, now)
	if err != nil {
		return Memory{}, fmt.Errorf("failed to store memory: %w", err)
	}

	stored, err := s.queryMemories(ctx,
		"memory_type = ? AND workflow_id = ? AND session_id = ? AND mem_key = ?",
		[]any{m.Type, m.WorkflowID, m.SessionID, m.Key}, 1)
	if err != nil {
		return Memory{}, err
	}
	if len(stored) == 0 {
		return Memory{}, fmt.Errorf("memory %s/%s not found after store", m.Type, m.Key)
	}
	return stored[0], nil
}

// RetrieveMemories returns unexpired entries matching q, newest first.
func (s *sqlStore) RetrieveMemories(ctx context.Context, q MemoryQuery) ([]Memory, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	where, args := s.memoryConditions(q, true)
	return s.queryMemories(ctx, where, args, q.limit(DefaultRetrieveLimit))
}

// SearchMemories returns unexpired entries whose key or value contains
// q.Text, newest first.
func (s *sqlStore) SearchMemories(ctx context.Context, q MemoryQuery) ([]Memory, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	where, args := s.memoryConditions(q, true)
	needle := "%" + strings.ToLower(q.Text) + "%"
	where += " AND (LOWER(mem_key) LIKE ? OR LOWER(value) LIKE ?)"
	args = append(args, needle, needle)
	return s.queryMemories(ctx, where, args, q.limit(DefaultSearchLimit))
}

// DeleteMemories removes every entry matching q and returns the count.
func (s *sqlStore) DeleteMemories(ctx context.Context, q MemoryQuery) (int, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	if !q.hasCondition() {
		return 0, ErrNoCondition
	}
	where, args := s.memoryConditions(q, false)
	res, err := s.db.ExecContext(ctx, "DELETE FROM memories WHERE "+where, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete memories: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted memories: %w", err)
	}
	return int(n), nil
}

// ClearExpired removes expired entries and returns the count.
func (s *sqlStore) ClearExpired(ctx context.Context) (int, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM memories WHERE expires_at IS NOT NULL AND expires_at <= ?", s.now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to clear expired memories: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count cleared memories: %w", err)
	}
	return int(n), nil
}

// Ping verifies the database connection.
func (s *sqlStore) Ping(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.db.PingContext(ctx)
}

// Close closes the database. Closing twice is a no-op.
func (s *sqlStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func (s *sqlStore) memoryConditions(q MemoryQuery, unexpiredOnly bool) (string, []any) {
	conditions := []string{"1 = 1"}
	var args []any
	if q.Type != "" {
		conditions = append(conditions, "memory_type = ?")
		args = append(args, q.Type)
	}
	if q.Key != "" {
		conditions = append(conditions, "mem_key = ?")
		args = append(args, q.Key)
	}
	if q.WorkflowID != "" {
		conditions = append(conditions, "workflow_id = ?")
		args = append(args, q.WorkflowID)
	}
	if q.SessionID != "" {
		conditions = append(conditions, "session_id = ?")
		args = append(args, q.SessionID)
	}
	if unexpiredOnly {
		conditions = append(conditions, "(expires_at IS NULL OR expires_at > ?)")
		args = append(args, s.now().UnixMilli())
	}
	return strings.Join(conditions, " AND "), args
}

func (s *sqlStore) queryMemories(ctx context.Context, where string, args []any, limit int) ([]Memory, error) {
	query := `SELECT id, memory_type, workflow_id, session_id, mem_key, value, metadata, expires_at, created_at, updated_at
		FROM memories WHERE ` + where + ` ORDER BY created_at DESC, mem_key ASC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, append(args, limit)...)
	if err != nil {
		return nil, fmt.Errorf("failed to query memories: %w", err)
	}
	defer rows.Close()

	out := []Memory{}
	for rows.Next() {
		var (
			m                  Memory
			value              string
			metadata           sql.NullString
			expires            sql.NullInt64
			created, updatedAt int64
		)
		if err := rows.Scan(&m.ID, &m.Type, &m.WorkflowID, &m.SessionID, &m.Key, &value, &metadata, &expires, &created, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan memory: %w", err)
		}
		if err := json.Unmarshal([]byte(value), &m.Value); err != nil {
			m.Value = value
		}
		if metadata.Valid {
			_ = json.Unmarshal([]byte(metadata.String), &m.Metadata)
		}
		if expires.Valid {
			t := time.UnixMilli(expires.Int64)
			m.ExpiresAt = &t
		}
		m.CreatedAt = time.UnixMilli(created)
		m.UpdatedAt = time.UnixMilli(updatedAt)
		out = append(out, m)
	}
	return out, rows.Err()
}
