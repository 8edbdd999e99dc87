package tools

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// MemoryNote is one stored note.
type MemoryNote struct {
	ID        int64     `json:"id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// MemoryStore keeps long-term notes in SQLite.
type MemoryStore struct {
	db *sql.DB
}

// OpenMemoryStore opens (creating if needed) the notes database at path.
func OpenMemoryStore(path string) (*MemoryStore, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("creating memory dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening memory db: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &MemoryStore{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *MemoryStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS notes (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			content    TEXT NOT NULL,
			created_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_notes_created ON notes(created_at);
	`)
	if err != nil {
		return fmt.Errorf("creating memory schema: %w", err)
	}
	return nil
}

// Save stores a note and returns its id.
func (s *MemoryStore) Save(ctx context.Context, content string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO notes (content, created_at) VALUES (?, ?)`,
		content, time.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("saving note: %w", err)
	}
	return res.LastInsertId()
}

// Search returns notes containing every keyword of query, newest first.
func (s *MemoryStore) Search(ctx context.Context, query string, limit int) ([]MemoryNote, error) {
	words := strings.Fields(query)
	if len(words) == 0 {
		return s.List(ctx, limit)
	}

	clauses := make([]string, len(words))
	args := make([]any, 0, len(words)+1)
	for i, w := range words {
		clauses[i] = `content LIKE ? ESCAPE '\'`
		args = append(args, "%"+escapeLike(w)+"%")
	}
	args = append(args, limitOrDefault(limit))

	q := `SELECT id, content, created_at FROM notes WHERE ` +
		strings.Join(clauses, " AND ") +
		` ORDER BY created_at DESC, id DESC LIMIT ?`
	return s.query(ctx, q, args...)
}

// List returns the newest notes.
func (s *MemoryStore) List(ctx context.Context, limit int) ([]MemoryNote, error) {
	return s.query(ctx,
		`SELECT id, content, created_at FROM notes ORDER BY created_at DESC, id DESC LIMIT ?`,
		limitOrDefault(limit))
}

// Delete removes a note. It reports whether a note was removed.
func (s *MemoryStore) Delete(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM notes WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("deleting note: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// Prune removes notes created before cutoff and returns how many were removed.
func (s *MemoryStore) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM notes WHERE created_at < ?`, cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("pruning notes: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the database.
func (s *MemoryStore) Close() error {
	return s.db.Close()
}

func (s *MemoryStore) query(ctx context.Context, q string, args ...any) ([]MemoryNote, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying notes: %w", err)
	}
	defer rows.Close()

	var notes []MemoryNote
	for rows.Next() {
		var (
			n  MemoryNote
			ts int64
		)
		if err := rows.Scan(&n.ID, &n.Content, &ts); err != nil {
			return nil, fmt.Errorf("scanning note: %w", err)
		}
		n.CreatedAt = time.Unix(ts, 0)
		notes = append(notes, n)
	}
	return notes, rows.Err()
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func limitOrDefault(limit int) int {
	if limit <= 0 || limit > 50 {
		return 10
	}
	return limit
}

// Memory is the memory tool.
type Memory struct {
	store *MemoryStore
}

type memoryArgs struct {
	Action  string `json:"action" jsonschema:"enum=save,enum=search,enum=list,enum=delete,description=Operation to perform"`
	Content string `json:"content,omitempty" jsonschema:"description=Note to save (action=save)"`
	Query   string `json:"query,omitempty" jsonschema:"description=Keywords to look for (action=search)"`
	ID      int64  `json:"id,omitempty" jsonschema:"description=Note id (action=delete)"`
	Limit   int    `json:"limit,omitempty" jsonschema:"description=Maximum notes to return"`
}

// NewMemory creates the memory tool over store.
func NewMemory(store *MemoryStore) *Memory {
	return &Memory{store: store}
}

func (m *Memory) Name() string { return "memory" }

func (m *Memory) Description() string {
	return "Long-term memory shared across conversations. Save facts worth remembering, " +
		"search or list saved notes, or delete an outdated note."
}

func (m *Memory) Parameters() map[string]any { return SchemaFor(&memoryArgs{}) }

func (m *Memory) Execute(ctx context.Context, raw json.RawMessage) (string, error) {
	args, err := DecodeArgs[memoryArgs](raw)
	if err != nil {
		return "", err
	}

	switch args.Action {
	case "save":
		if strings.TrimSpace(args.Content) == "" {
			return "", fmt.Errorf("content is required")
		}
		id, err := m.store.Save(ctx, args.Content)
		if err != nil {
			return "", err
		}
		return JSONResult(map[string]any{"saved": true, "id": id})
	case "search":
		notes, err := m.store.Search(ctx, args.Query, args.Limit)
		if err != nil {
			return "", err
		}
		return JSONResult(map[string]any{"notes": notes})
	case "list":
		notes, err := m.store.List(ctx, args.Limit)
		if err != nil {
			return "", err
		}
		return JSONResult(map[string]any{"notes": notes})
	case "delete":
		ok, err := m.store.Delete(ctx, args.ID)
		if err != nil {
			return "", err
		}
		return JSONResult(map[string]any{"deleted": ok})
	default:
		return "", fmt.Errorf("unknown action %q", args.Action)
	}
}
