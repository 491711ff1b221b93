package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// tsLayout is fixed-width so stored timestamps sort lexically.
const tsLayout = "2006-01-02T15:04:05.000000000Z"

// Entry is one stored tool call.
type Entry struct {
	ID        string
	Timestamp time.Time
	SessionID string
	Tool      string
	Args      string // JSON
	Result    string
}

// Store keeps the full record of every tool call in SQLite. All public
// methods are safe for concurrent use (SQLite serializes writes).
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the audit database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open audit database: %w", err)
	}
	s, err := NewStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewStore wraps an open database, creating the schema on first use.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate audit schema: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS tool_calls (
		id         TEXT PRIMARY KEY,
		timestamp  TEXT NOT NULL,
		session_id TEXT,
		tool       TEXT NOT NULL,
		args       TEXT NOT NULL,
		result     TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_tool_calls_timestamp ON tool_calls(timestamp);
	CREATE INDEX IF NOT EXISTS idx_tool_calls_tool ON tool_calls(tool);
	`)
	return err
}

// Record stores one call under a new UUIDv7. The session ID comes from
// ctx (see WithSession).
func (s *Store) Record(ctx context.Context, name string, args map[string]any, result string) error {
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("generate audit record ID: %w", err)
	}
	if args == nil {
		args = map[string]any{}
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode args: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO tool_calls (id, timestamp, session_id, tool, args, result)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		id.String(),
		time.Now().UTC().Format(tsLayout),
		SessionFrom(ctx),
		name,
		string(raw),
		result,
	)
	if err != nil {
		return fmt.Errorf("insert audit record: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, timestamp, COALESCE(session_id, ''), tool, args, result
		 FROM tool_calls
		 ORDER BY rowid DESC
		 LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit records: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var ts string
		if err := rows.Scan(&e.ID, &ts, &e.SessionID, &e.Tool, &e.Args, &e.Result); err != nil {
			return nil, fmt.Errorf("scan audit record: %w", err)
		}
		e.Timestamp, _ = time.Parse(tsLayout, ts)
		out = append(out, e)
	}
	return out, rows.Err()
}

// CountByTool returns per-tool call counts within [start, end).
func (s *Store) CountByTool(ctx context.Context, start, end time.Time) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT tool, COUNT(*) FROM tool_calls
		 WHERE timestamp >= ? AND timestamp < ?
		 GROUP BY tool`,
		start.UTC().Format(tsLayout),
		end.UTC().Format(tsLayout),
	)
	if err != nil {
		return nil, fmt.Errorf("query audit counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var tool string
		var n int
		if err := rows.Scan(&tool, &n); err != nil {
			return nil, fmt.Errorf("scan audit count: %w", err)
		}
		counts[tool] = n
	}
	return counts, rows.Err()
}
