package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mkragh/ensemble/core"
)

const sessionSchema = `
CREATE TABLE IF NOT EXISTS sessions (
	id       TEXT PRIMARY KEY,
	owner_id TEXT NOT NULL,
	name     TEXT NOT NULL DEFAULT '',
	state    TEXT NOT NULL DEFAULT '{}',
	created  TIMESTAMP NOT NULL,
	updated  TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS turns (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	role       TEXT NOT NULL,
	content    TEXT NOT NULL,
	timestamp  TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_turns_session ON turns(session_id, id);
CREATE INDEX IF NOT EXISTS idx_sessions_owner ON sessions(owner_id);
`

// SQLiteStore is a durable SessionStore backed by a single SQLite file.
// WAL mode is enabled so reads proceed concurrently with the serialized
// writes. State merges happen read-before-write inside one transaction, and
// locked writes are retried once before surfacing core.ErrStoreConflict.
type SQLiteStore struct {
	conn *sql.DB
	path string
}

// OpenSQLiteStore opens (and migrates) a session database at path, creating
// parent directories as needed.
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
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if _, err := conn.Exec(sessionSchema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	return &SQLiteStore{conn: conn, path: path}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error { return s.conn.Close() }

// Create inserts a new session owned by ownerID, or returns the existing one
// when the id is already present. Idempotent: it never overwrites.
func (s *SQLiteStore) Create(ctx context.Context, id, ownerID string) (*core.Session, error) {
	now := time.Now().UTC()
	err := s.retryLocked(func() error {
		_, err := s.conn.ExecContext(ctx,
			`INSERT INTO sessions (id, owner_id, name, state, created, updated)
			 VALUES (?, ?, '', '{}', ?, ?)
			 ON CONFLICT(id) DO NOTHING`,
			id, ownerID, now, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, id, ownerID)
}

// Get loads the session with its full turn history. Absence and foreign
// ownership both yield core.ErrSessionNotFound.
func (s *SQLiteStore) Get(ctx context.Context, id, ownerID string) (*core.Session, error) {
	var (
		sess     core.Session
		stateRaw string
	)
	row := s.conn.QueryRowContext(ctx,
		`SELECT id, owner_id, name, state, created, updated FROM sessions WHERE id = ? AND owner_id = ?`,
		id, ownerID)
	if err := row.Scan(&sess.ID, &sess.OwnerID, &sess.Name, &stateRaw, &sess.Created, &sess.Updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, core.ErrSessionNotFound
		}
		return nil, fmt.Errorf("load session: %w", err)
	}
	if err := json.Unmarshal([]byte(stateRaw), &sess.State); err != nil {
		return nil, fmt.Errorf("decode session state: %w", err)
	}

	rows, err := s.conn.QueryContext(ctx,
		`SELECT role, content, timestamp FROM turns WHERE session_id = ? ORDER BY id`, id)
	if err != nil {
		return nil, fmt.Errorf("load turns: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var t core.Turn
		if err := rows.Scan(&t.Role, &t.Content, &t.Timestamp); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		sess.History = append(sess.History, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turns: %w", err)
	}
	return &sess, nil
}

// AppendTurn appends one turn to the session history.
func (s *SQLiteStore) AppendTurn(ctx context.Context, id string, t core.Turn) error {
	return s.retryLocked(func() error {
		tx, err := s.conn.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		res, err := tx.ExecContext(ctx,
			`UPDATE sessions SET updated = ? WHERE id = ?`, time.Now().UTC(), id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return core.ErrSessionNotFound
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO turns (session_id, role, content, timestamp) VALUES (?, ?, ?, ?)`,
			id, t.Role, t.Content, t.Timestamp); err != nil {
			return err
		}
		return tx.Commit()
	})
}

// MergeState merges delta into the persisted state inside one transaction:
// the currently persisted value is read, delta keys overwrite it, absent
// keys are retained, and the merged document is written back.
func (s *SQLiteStore) MergeState(ctx context.Context, id string, delta map[string]any) error {
	return s.retryLocked(func() error {
		tx, err := s.conn.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		var stateRaw string
		row := tx.QueryRowContext(ctx, `SELECT state FROM sessions WHERE id = ?`, id)
		if err := row.Scan(&stateRaw); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return core.ErrSessionNotFound
			}
			return err
		}
		state := map[string]any{}
		if err := json.Unmarshal([]byte(stateRaw), &state); err != nil {
			return fmt.Errorf("decode session state: %w", err)
		}
		for k, v := range delta {
			state[k] = v
		}
		merged, err := json.Marshal(state)
		if err != nil {
			return fmt.Errorf("encode session state: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE sessions SET state = ?, updated = ? WHERE id = ?`,
			string(merged), time.Now().UTC(), id); err != nil {
			return err
		}
		return tx.Commit()
	})
}

// SetNameIfUnset persists name only when no name is set yet. The condition
// is evaluated in the UPDATE itself so two concurrent namers cannot both
// win.
func (s *SQLiteStore) SetNameIfUnset(ctx context.Context, id, name string) (bool, error) {
	var applied bool
	err := s.retryLocked(func() error {
		res, err := s.conn.ExecContext(ctx,
			`UPDATE sessions SET name = ?, updated = ? WHERE id = ? AND name = ''`,
			name, time.Now().UTC(), id)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			var exists int
			row := s.conn.QueryRowContext(ctx, `SELECT 1 FROM sessions WHERE id = ?`, id)
			if err := row.Scan(&exists); err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					return core.ErrSessionNotFound
				}
				return err
			}
			applied = false
			return nil
		}
		applied = true
		return nil
	})
	return applied, err
}

// retryLocked runs fn and retries exactly once when SQLite reports the
// database as locked or busy. A second failure surfaces as
// core.ErrStoreConflict.
func (s *SQLiteStore) retryLocked(fn func() error) error {
	err := fn()
	if err == nil || !isLocked(err) {
		return err
	}
	time.Sleep(25 * time.Millisecond)
	if err := fn(); err != nil {
		if isLocked(err) {
			return core.ErrStoreConflict
		}
		return err
	}
	return nil
}

func isLocked(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}
