// Package store persists conversations and user language preferences in a
// local SQLite database.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

var ErrInvalidPath = errors.New("invalid store path")

const schema = `
CREATE TABLE IF NOT EXISTS conversations (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id TEXT NOT NULL,
	channel TEXT NOT NULL DEFAULT '',
	message TEXT NOT NULL,
	response TEXT NOT NULL,
	language TEXT NOT NULL,
	strategy TEXT NOT NULL,
	degraded INTEGER NOT NULL DEFAULT 0,
	run_id TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_conversations_user ON conversations(user_id, created_at);

CREATE TABLE IF NOT EXISTS user_profiles (
	user_id TEXT PRIMARY KEY,
	preferred_language TEXT NOT NULL DEFAULT '',
	last_active INTEGER NOT NULL
);
`

// Conversation is one persisted exchange.
type Conversation struct {
	ID        int64
	UserID    string
	Channel   string
	Message   string
	Response  string
	Language  string
	Strategy  string
	Degraded  bool
	RunID     string
	CreatedAt time.Time
}

// Store wraps the SQLite handle. It is safe for concurrent use.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open creates or opens the database at path and applies the schema.
// ":memory:" opens a private in-memory database.
func Open(ctx context.Context, path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, ErrInvalidPath
	}

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	// SQLite allows one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("configure store: %w", err)
		}
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply store schema: %w", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// SaveConversation records one exchange and touches the user's profile.
func (s *Store) SaveConversation(ctx context.Context, c Conversation) (int64, error) {
	if strings.TrimSpace(c.UserID) == "" {
		return 0, errors.New("conversation user id is required")
	}

	createdAt := c.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin conversation insert: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		INSERT INTO conversations (user_id, channel, message, response, language, strategy, degraded, run_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.UserID, c.Channel, c.Message, c.Response, c.Language, c.Strategy, boolToInt(c.Degraded), c.RunID, createdAt.UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("insert conversation: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO user_profiles (user_id, last_active) VALUES (?, ?)
		ON CONFLICT(user_id) DO UPDATE SET last_active = excluded.last_active`,
		c.UserID, createdAt.UnixMilli(),
	); err != nil {
		return 0, fmt.Errorf("touch user profile: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit conversation: %w", err)
	}

	return result.LastInsertId()
}

// PreferredLanguage returns the remembered language for userID, or "" when
// none is known.
func (s *Store) PreferredLanguage(ctx context.Context, userID string) (string, error) {
	var code string
	err := s.db.QueryRowContext(ctx,
		`SELECT preferred_language FROM user_profiles WHERE user_id = ?`, userID,
	).Scan(&code)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("query preferred language: %w", err)
	}

	return code, nil
}

// RememberLanguage stores code as the user's preferred language. An empty
// code is ignored.
func (s *Store) RememberLanguage(ctx context.Context, userID string, code string) error {
	code = strings.TrimSpace(code)
	if code == "" || strings.TrimSpace(userID) == "" {
		return nil
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO user_profiles (user_id, preferred_language, last_active) VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET preferred_language = excluded.preferred_language, last_active = excluded.last_active`,
		userID, code, s.now().UnixMilli(),
	); err != nil {
		return fmt.Errorf("remember language: %w", err)
	}

	return nil
}

// RecentConversations returns up to limit exchanges for userID, newest first.
func (s *Store) RecentConversations(ctx context.Context, userID string, limit int) ([]Conversation, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, channel, message, response, language, strategy, degraded, run_id, created_at
		FROM conversations
		WHERE user_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}
	defer rows.Close()

	var conversations []Conversation
	for rows.Next() {
		var (
			c         Conversation
			degraded  int
			createdAt int64
		)
		if err := rows.Scan(&c.ID, &c.UserID, &c.Channel, &c.Message, &c.Response, &c.Language, &c.Strategy, &degraded, &c.RunID, &createdAt); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		c.Degraded = degraded != 0
		c.CreatedAt = time.UnixMilli(createdAt)
		conversations = append(conversations, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversations: %w", err)
	}

	return conversations, nil
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
