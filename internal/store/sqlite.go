// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides conversation/message persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite.
//
// Every exported operation runs under a single store-wide mutex. The store
// is the serialization point with the database, and correctness of the
// read-modify-write sequences (lazy conversation creation, message_count
// updates, retention deletes) matters more than cross-user parallelism here.
type SQLiteStore struct {
	mu     sync.Mutex
	db     *sql.DB
	window int
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist, and parent
// directories are created if needed. window caps how many recent messages
// GetConversation returns per user.
func NewSQLiteStore(path string, window int, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "store")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		window: window,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path, "window", window)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS conversations (
			user_id       TEXT PRIMARY KEY,
			last_activity TEXT NOT NULL,
			message_count INTEGER NOT NULL DEFAULT 0,
			created_at    TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_conversations_last_activity
			ON conversations(last_activity);

		CREATE TABLE IF NOT EXISTS messages (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id    TEXT NOT NULL,
			role       TEXT NOT NULL,
			content    TEXT NOT NULL,
			timestamp  TEXT NOT NULL,
			message_id TEXT,
			FOREIGN KEY (user_id) REFERENCES conversations(user_id),

			CHECK (role IN ('user', 'assistant'))
		);

		CREATE INDEX IF NOT EXISTS idx_messages_user_timestamp
			ON messages(user_id, timestamp);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// storageError wraps a driver error so callers can detect persistence
// failures with errors.Is(err, ErrStorage).
func storageError(op string, err error) error {
	return fmt.Errorf("%s: %w", op, errors.Join(ErrStorage, err))
}

// GetConversation returns the conversation for userID, creating an empty
// record on first contact. The returned Messages slice holds at most the
// configured window of most recent messages, ordered oldest first.
func (s *SQLiteStore) GetConversation(ctx context.Context, userID string) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureConversation(ctx, userID); err != nil {
		return nil, err
	}

	conv := &Conversation{UserID: userID}
	var lastActivityStr, createdAtStr string

	err := s.db.QueryRowContext(ctx, `
		SELECT last_activity, message_count, created_at
		FROM conversations
		WHERE user_id = ?
	`, userID).Scan(&lastActivityStr, &conv.MessageCount, &createdAtStr)
	if err != nil {
		return nil, storageError("querying conversation", err)
	}

	conv.LastActivity, err = time.Parse(time.RFC3339, lastActivityStr)
	if err != nil {
		return nil, fmt.Errorf("parsing last_activity: %w", err)
	}
	conv.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}

	// Get the N most recent messages, but return them in chronological order.
	// A subquery selects the most recent window, the outer query flips it.
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, role, content, timestamp, message_id
		FROM (
			SELECT id, user_id, role, content, timestamp, message_id
			FROM messages
			WHERE user_id = ?
			ORDER BY timestamp DESC, id DESC
			LIMIT ?
		)
		ORDER BY timestamp ASC, id ASC
	`, userID, s.window)
	if err != nil {
		return nil, storageError("querying messages", err)
	}
	defer rows.Close()

	conv.Messages, err = scanMessages(rows)
	if err != nil {
		return nil, err
	}

	return conv, nil
}

// ensureConversation lazily creates the conversation row for userID.
// INSERT OR IGNORE makes creation first-write-wins under concurrency.
// Must be called with mu held.
func (s *SQLiteStore) ensureConversation(ctx context.Context, userID string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO conversations (user_id, last_activity, message_count, created_at)
		VALUES (?, ?, 0, ?)
	`, userID, now, now)
	if err != nil {
		return storageError("creating conversation", err)
	}
	return nil
}

// AddMessage appends one message to the user's conversation, advances
// last_activity to now and increments message_count. The insert and the
// conversation update commit in a single transaction.
func (s *SQLiteStore) AddMessage(ctx context.Context, userID, role, content, externalID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureConversation(ctx, userID); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageError("beginning transaction", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (user_id, role, content, timestamp, message_id)
		VALUES (?, ?, ?, ?, ?)
	`, userID, role, content, now.Format(time.RFC3339), nullString(externalID))
	if err != nil {
		return storageError("inserting message", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE conversations
		SET last_activity = ?, message_count = message_count + 1
		WHERE user_id = ?
	`, now.Format(time.RFC3339), userID)
	if err != nil {
		return storageError("updating conversation", err)
	}

	if err := tx.Commit(); err != nil {
		return storageError("committing message", err)
	}

	s.logger.Debug("saved message", "user_id", userID, "role", role, "external_id", externalID)
	return nil
}

// nullString returns nil for empty strings, otherwise the string
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// GetFullHistory returns every message for userID in chronological order.
// Returns ErrNotFound if no conversation exists for the user.
func (s *SQLiteStore) GetFullHistory(ctx context.Context, userID string) ([]*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM conversations WHERE user_id = ?`, userID).Scan(&exists)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storageError("querying conversation", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, role, content, timestamp, message_id
		FROM messages
		WHERE user_id = ?
		ORDER BY timestamp ASC, id ASC
	`, userID)
	if err != nil {
		return nil, storageError("querying messages", err)
	}
	defer rows.Close()

	return scanMessages(rows)
}

// scanMessages reads message rows into Message structs
func scanMessages(rows *sql.Rows) ([]*Message, error) {
	var messages []*Message
	for rows.Next() {
		var msg Message
		var timestampStr string
		var externalID sql.NullString

		if err := rows.Scan(&msg.ID, &msg.UserID, &msg.Role, &msg.Content, &timestampStr, &externalID); err != nil {
			return nil, fmt.Errorf("scanning message row: %w", err)
		}

		var err error
		msg.Timestamp, err = time.Parse(time.RFC3339, timestampStr)
		if err != nil {
			return nil, fmt.Errorf("parsing message timestamp: %w", err)
		}
		if externalID.Valid {
			msg.ExternalID = externalID.String
		}

		messages = append(messages, &msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating message rows: %w", err)
	}

	return messages, nil
}

// CleanupOlderThan deletes every conversation whose last_activity is before
// cutoff, together with all of its messages. The deletes run in one
// transaction so a conversation is never left with orphaned messages or a
// dangling record. Returns the number of conversations removed.
func (s *SQLiteStore) CleanupOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, storageError("beginning transaction", err)
	}
	defer tx.Rollback()

	cutoffStr := cutoff.UTC().Format(time.RFC3339)

	_, err = tx.ExecContext(ctx, `
		DELETE FROM messages
		WHERE user_id IN (
			SELECT user_id FROM conversations WHERE last_activity < ?
		)
	`, cutoffStr)
	if err != nil {
		return 0, storageError("deleting expired messages", err)
	}

	result, err := tx.ExecContext(ctx, `
		DELETE FROM conversations WHERE last_activity < ?
	`, cutoffStr)
	if err != nil {
		return 0, storageError("deleting expired conversations", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, storageError("getting rows affected", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, storageError("committing cleanup", err)
	}

	if deleted > 0 {
		s.logger.Info("cleaned up expired conversations", "count", deleted, "cutoff", cutoffStr)
	}
	return int(deleted), nil
}

// Stats returns aggregate counts across all conversations.
// Zero counts are valid output, not errors.
func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stats Stats

	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM conversations`).Scan(&stats.TotalConversations)
	if err != nil {
		return nil, storageError("counting conversations", err)
	}

	err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages`).Scan(&stats.TotalMessages)
	if err != nil {
		return nil, storageError("counting messages", err)
	}

	dayAgo := time.Now().UTC().Add(-24 * time.Hour).Format(time.RFC3339)
	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM conversations WHERE last_activity >= ?
	`, dayAgo).Scan(&stats.ActiveLast24h)
	if err != nil {
		return nil, storageError("counting active conversations", err)
	}

	return &stats, nil
}

// Ensure SQLiteStore implements Store interface
var _ Store = (*SQLiteStore)(nil)
