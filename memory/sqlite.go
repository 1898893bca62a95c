package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mkragh/ensemble/core"
	"github.com/mkragh/ensemble/internal/util"
)

const memorySchema = `
CREATE TABLE IF NOT EXISTS memories (
	id       TEXT PRIMARY KEY,
	owner_id TEXT NOT NULL,
	content  TEXT NOT NULL,
	topics   TEXT NOT NULL DEFAULT '[]',
	updated  TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_memories_owner ON memories(owner_id, updated DESC);
`

// SQLiteStore is a durable MemoryStore backed by SQLite. Topics are stored
// as a JSON array; overlap matching happens in the WHERE clause by matching
// the quoted topic literal inside the serialized array, so filtering stays
// at the query boundary.
type SQLiteStore struct {
	conn *sql.DB
}

// OpenSQLiteStore opens (and migrates) a memory database at path.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := conn.Exec(memorySchema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return &SQLiteStore{conn: conn}, nil
}

// Close closes the underlying database connection.
func (m *SQLiteStore) Close() error { return m.conn.Close() }

// Append stores one immutable entry for ownerID with normalized topics.
func (m *SQLiteStore) Append(ctx context.Context, ownerID, content string, topics []string) (*core.MemoryEntry, error) {
	entry := core.MemoryEntry{
		ID:      util.NewID(),
		OwnerID: ownerID,
		Content: content,
		Topics:  NormalizeTopics(topics),
		Updated: time.Now().UTC(),
	}
	encoded, err := json.Marshal(entry.Topics)
	if err != nil {
		return nil, fmt.Errorf("encode topics: %w", err)
	}
	if _, err := m.conn.ExecContext(ctx,
		`INSERT INTO memories (id, owner_id, content, topics, updated) VALUES (?, ?, ?, ?, ?)`,
		entry.ID, entry.OwnerID, entry.Content, string(encoded), entry.Updated); err != nil {
		return nil, fmt.Errorf("append memory: %w", err)
	}
	return &entry, nil
}

// Search returns ownerID's entries whose topic set overlaps topics, newest
// first, truncated to limit. An empty topics query falls back to the most
// recent limit entries.
func (m *SQLiteStore) Search(ctx context.Context, ownerID string, topics []string, limit int) ([]core.MemoryEntry, error) {
	if limit <= 0 {
		limit = 10
	}
	query := NormalizeTopics(topics)

	var (
		sb   strings.Builder
		args []any
	)
	sb.WriteString(`SELECT id, owner_id, content, topics, updated FROM memories WHERE owner_id = ?`)
	args = append(args, ownerID)
	if len(query) > 0 {
		sb.WriteString(" AND (")
		for i, t := range query {
			if i > 0 {
				sb.WriteString(" OR ")
			}
			sb.WriteString("topics LIKE ?")
			args = append(args, `%"`+t+`"%`)
		}
		sb.WriteString(")")
	}
	sb.WriteString(" ORDER BY updated DESC LIMIT ?")
	args = append(args, limit)

	rows, err := m.conn.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("search memories: %w", err)
	}
	defer rows.Close()

	entries := make([]core.MemoryEntry, 0, limit)
	for rows.Next() {
		var (
			entry   core.MemoryEntry
			encoded string
		)
		if err := rows.Scan(&entry.ID, &entry.OwnerID, &entry.Content, &encoded, &entry.Updated); err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		if err := json.Unmarshal([]byte(encoded), &entry.Topics); err != nil {
			return nil, fmt.Errorf("decode topics: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate memories: %w", err)
	}
	return entries, nil
}
