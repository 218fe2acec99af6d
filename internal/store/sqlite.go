// Package store is the SQLite persistence layer: conversations,
// append-only messages, immutable compacts, and the pipeline audit log.
package store

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

	"github.com/mattn/go-sqlite3"

	"github.com/aria-assistant/aria/internal/models"
)

// ErrCompactExists is returned when a compact row for the same
// (conversation, boundary) already exists. Callers treat it as an
// idempotent no-op, not a failure.
var ErrCompactExists = errors.New("compact already exists for boundary")

// Store wraps the SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at dbPath and initializes the schema.
func Open(dbPath string) (*Store, error) {
	if strings.HasPrefix(dbPath, "~/") {
		home, _ := os.UserHomeDir()
		dbPath = filepath.Join(home, dbPath[2:])
	}

	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

// initSchema creates the tables. The UNIQUE constraint on compacts is a
// required invariant, not an optimization: it is the storage-level
// backstop guaranteeing at most one compact per boundary.
func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS conversations (
		id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		started_at DATETIME NOT NULL,
		last_activity DATETIME NOT NULL,
		message_count INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (user_id, id)
	);

	CREATE TABLE IF NOT EXISTS messages (
		user_id TEXT NOT NULL,
		conversation_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		PRIMARY KEY (user_id, conversation_id, seq)
	);

	CREATE TABLE IF NOT EXISTS compacts (
		id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		conversation_id TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		messages_up_to INTEGER NOT NULL,
		summary TEXT NOT NULL,
		topics TEXT NOT NULL DEFAULT '[]',
		UNIQUE (user_id, conversation_id, messages_up_to)
	);

	CREATE TABLE IF NOT EXISTS audit_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		request_id TEXT NOT NULL,
		user_id TEXT,
		conversation_id TEXT,
		route TEXT,
		guard_reason TEXT,
		fallback_kind TEXT,
		approved BOOLEAN,
		duration_ms INTEGER,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_messages_conv ON messages(user_id, conversation_id);
	CREATE INDEX IF NOT EXISTS idx_compacts_conv ON compacts(user_id, conversation_id);
	CREATE INDEX IF NOT EXISTS idx_audit_created ON audit_log(created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// SaveInteraction transactionally appends the user and assistant
// messages of one completed pipeline run and upserts the conversation
// row. Sequence numbers continue from the conversation's current count.
func (s *Store) SaveInteraction(ctx context.Context, userID, convID, title, question, response string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var count int
	err = tx.QueryRowContext(ctx,
		`SELECT message_count FROM conversations WHERE user_id = ? AND id = ?`,
		userID, convID).Scan(&count)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("failed to read conversation: %w", err)
	}

	now := time.Now()

	insertMsg := `INSERT INTO messages (user_id, conversation_id, seq, role, content, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`
	if _, err := tx.ExecContext(ctx, insertMsg, userID, convID, count+1, string(models.RoleUser), question, now); err != nil {
		return fmt.Errorf("failed to insert user message: %w", err)
	}
	if _, err := tx.ExecContext(ctx, insertMsg, userID, convID, count+2, string(models.RoleAssistant), response, now); err != nil {
		return fmt.Errorf("failed to insert assistant message: %w", err)
	}

	upsert := `INSERT INTO conversations (id, user_id, title, started_at, last_activity, message_count)
		VALUES (?, ?, ?, ?, ?, 2)
		ON CONFLICT (user_id, id) DO UPDATE SET
			last_activity = excluded.last_activity,
			message_count = conversations.message_count + 2`
	if _, err := tx.ExecContext(ctx, upsert, convID, userID, title, now, now); err != nil {
		return fmt.Errorf("failed to upsert conversation: %w", err)
	}

	return tx.Commit()
}

// MessageCount returns the number of messages in a conversation.
func (s *Store) MessageCount(ctx context.Context, userID, convID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT message_count FROM conversations WHERE user_id = ? AND id = ?`,
		userID, convID).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return count, nil
}

// MessagesAfter returns all messages with seq > boundary, in order.
func (s *Store) MessagesAfter(ctx context.Context, userID, convID string, boundary int) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT conversation_id, seq, role, content, created_at
		 FROM messages
		 WHERE user_id = ? AND conversation_id = ? AND seq > ?
		 ORDER BY seq`,
		userID, convID, boundary)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var msgs []models.Message
	for rows.Next() {
		var m models.Message
		var role string
		if err := rows.Scan(&m.ConversationID, &m.Seq, &role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		m.Role = models.Role(role)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// MessagesBetween returns messages with lo <= seq <= hi, in order.
func (s *Store) MessagesBetween(ctx context.Context, userID, convID string, lo, hi int) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT conversation_id, seq, role, content, created_at
		 FROM messages
		 WHERE user_id = ? AND conversation_id = ? AND seq >= ? AND seq <= ?
		 ORDER BY seq`,
		userID, convID, lo, hi)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var msgs []models.Message
	for rows.Next() {
		var m models.Message
		var role string
		if err := rows.Scan(&m.ConversationID, &m.Seq, &role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		m.Role = models.Role(role)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// InsertCompact persists a new compact row. A unique-constraint
// violation maps to ErrCompactExists.
func (s *Store) InsertCompact(ctx context.Context, userID string, compact *models.Compact) error {
	topics, err := json.Marshal(compact.Topics)
	if err != nil {
		return fmt.Errorf("failed to marshal topics: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO compacts (id, user_id, conversation_id, created_at, messages_up_to, summary, topics)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		compact.ID, userID, compact.ConversationID, compact.CreatedAt,
		compact.MessagesUpTo, compact.Summary, string(topics))

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
		return fmt.Errorf("%w: boundary %d", ErrCompactExists, compact.MessagesUpTo)
	}
	if err != nil {
		return fmt.Errorf("failed to insert compact: %w", err)
	}
	return nil
}

func scanCompact(row *sql.Row) (*models.Compact, error) {
	var c models.Compact
	var topics string
	err := row.Scan(&c.ID, &c.ConversationID, &c.CreatedAt, &c.MessagesUpTo, &c.Summary, &topics)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan compact: %w", err)
	}
	if err := json.Unmarshal([]byte(topics), &c.Topics); err != nil {
		c.Topics = nil
	}
	return &c, nil
}

// CompactAtBoundary returns the compact whose boundary equals boundary,
// or nil when absent.
func (s *Store) CompactAtBoundary(ctx context.Context, userID, convID string, boundary int) (*models.Compact, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, conversation_id, created_at, messages_up_to, summary, topics
		 FROM compacts
		 WHERE user_id = ? AND conversation_id = ? AND messages_up_to = ?`,
		userID, convID, boundary)
	return scanCompact(row)
}

// LatestCompactAtOrBelow returns the compact with the greatest boundary
// <= boundary, or nil when none exists.
func (s *Store) LatestCompactAtOrBelow(ctx context.Context, userID, convID string, boundary int) (*models.Compact, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, conversation_id, created_at, messages_up_to, summary, topics
		 FROM compacts
		 WHERE user_id = ? AND conversation_id = ? AND messages_up_to <= ?
		 ORDER BY messages_up_to DESC LIMIT 1`,
		userID, convID, boundary)
	return scanCompact(row)
}

// LatestCompactBoundary returns the greatest compact boundary for a
// conversation, 0 when no compact exists.
func (s *Store) LatestCompactBoundary(ctx context.Context, userID, convID string) (int, error) {
	var boundary sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(messages_up_to) FROM compacts WHERE user_id = ? AND conversation_id = ?`,
		userID, convID).Scan(&boundary)
	if err != nil {
		return 0, fmt.Errorf("failed to read compact boundary: %w", err)
	}
	if !boundary.Valid {
		return 0, nil
	}
	return int(boundary.Int64), nil
}

// Conversation returns the conversation row, or nil when absent.
func (s *Store) Conversation(ctx context.Context, userID, convID string) (*models.Conversation, error) {
	var c models.Conversation
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, title, started_at, last_activity, message_count
		 FROM conversations WHERE user_id = ? AND id = ?`,
		userID, convID).Scan(&c.ID, &c.UserID, &c.Title, &c.StartedAt, &c.LastActivity, &c.MessageCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read conversation: %w", err)
	}
	return &c, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
