package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

var sqliteDialect = dialect{
	name: "sqlite",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS workflows (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			definition TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS session_results (
			session_id TEXT NOT NULL,
			node_id TEXT NOT NULL,
			result TEXT NOT NULL,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (session_id, node_id)
		)`,
		`CREATE TABLE IF NOT EXISTS memories (
			id TEXT PRIMARY KEY,
			memory_type TEXT NOT NULL,
			workflow_id TEXT NOT NULL DEFAULT '',
			session_id TEXT NOT NULL DEFAULT '',
			mem_key TEXT NOT NULL,
			value TEXT NOT NULL,
			metadata TEXT,
			expires_at INTEGER,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			UNIQUE (memory_type, workflow_id, session_id, mem_key)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_memories_type_workflow ON memories(memory_type, workflow_id)`,
		`CREATE INDEX IF NOT EXISTS idx_memories_session ON memories(session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_memories_created_at ON memories(created_at)`,
	},
	upsertWorkflow: `INSERT INTO workflows (id, name, definition, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, definition = excluded.definition, updated_at = excluded.updated_at`,
	upsertResult: `INSERT INTO session_results (session_id, node_id, result, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(session_id, node_id) DO UPDATE SET result = excluded.result, updated_at = excluded.updated_at`,
	upsertMemory: `INSERT INTO memories
		(id, memory_type, workflow_id, session_id, mem_key, value, metadata, expires_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(memory_type, workflow_id, session_id, mem_key) DO UPDATE SET
			value = excluded.value, metadata = excluded.metadata,
			expires_at = excluded.expires_at, updated_at = excluded.updated_at`,
}

// SQLiteStore is a Store in a single SQLite file.
//
// Suited to a single editor process and to tests (path ":memory:"). The
// connection pool is limited to one connection, so an in-memory database
// is shared by every call. WAL mode is enabled for file databases.
type SQLiteStore struct {
	*sqlStore
	path string
}

// NewSQLiteStore opens (creating if needed) the database at path and
// migrates its schema.
//
//	store, err := store.NewSQLiteStore("./nodegraph.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer store.Close()
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite connection: %w", err)
	}

	// SQLite supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}

	core, err := newSQLStore(ctx, db, sqliteDialect)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{sqlStore: core, path: path}, nil
}

// Path returns the database path the store was opened with.
func (s *SQLiteStore) Path() string {
	return s.path
}
