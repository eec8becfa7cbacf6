package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

var mysqlDialect = dialect{
	name: "mysql",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS workflows (
			id VARCHAR(128) NOT NULL PRIMARY KEY,
			name VARCHAR(255) NOT NULL DEFAULT '',
			definition LONGTEXT NOT NULL,
			updated_at BIGINT NOT NULL
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		`CREATE TABLE IF NOT EXISTS session_results (
			session_id VARCHAR(128) NOT NULL,
			node_id VARCHAR(128) NOT NULL,
			result LONGTEXT NOT NULL,
			updated_at BIGINT NOT NULL,
			PRIMARY KEY (session_id, node_id)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		`CREATE TABLE IF NOT EXISTS memories (
			id VARCHAR(36) NOT NULL PRIMARY KEY,
			memory_type VARCHAR(64) NOT NULL,
			workflow_id VARCHAR(128) NOT NULL DEFAULT '',
			session_id VARCHAR(128) NOT NULL DEFAULT '',
			mem_key VARCHAR(191) NOT NULL,
			value LONGTEXT NOT NULL,
			metadata LONGTEXT NULL,
			expires_at BIGINT NULL,
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL,
			UNIQUE KEY uq_memory_identity (memory_type, workflow_id, session_id, mem_key),
			INDEX idx_memories_session (session_id),
			INDEX idx_memories_created_at (created_at)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	},
	upsertWorkflow: `INSERT INTO workflows (id, name, definition, updated_at) VALUES (?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE name = VALUES(name), definition = VALUES(definition), updated_at = VALUES(updated_at)`,
	upsertResult: `INSERT INTO session_results (session_id, node_id, result, updated_at) VALUES (?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE result = VALUES(result), updated_at = VALUES(updated_at)`,
	upsertMemory: `INSERT INTO memories
		(id, memory_type, workflow_id, session_id, mem_key, value, metadata, expires_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE value = VALUES(value), metadata = VALUES(metadata),
			expires_at = VALUES(expires_at), updated_at = VALUES(updated_at)`,
}

// MySQLStore is a Store backed by MySQL or Aurora MySQL, for editors that
// share workflows and memory across processes.
//
// DSN format: user:password@tcp(host:port)/dbname
type MySQLStore struct {
	*sqlStore
}

// NewMySQLStore connects to dsn, verifies the connection and migrates the
// schema.
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL connection: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}

	core, err := newSQLStore(ctx, db, mysqlDialect)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &MySQLStore{sqlStore: core}, nil
}

// Stats returns connection pool statistics.
func (m *MySQLStore) Stats() sql.DBStats {
	return m.db.Stats()
}
