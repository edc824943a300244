// Package storage persists conversations for the chat client.
package storage

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"relaychat/internal/models"
	"relaychat/internal/store"
)

const lastIDCounter = "last_conversation_id"

var _ store.Persister = (*Database)(nil)

// Database handles SQLite operations for conversations and messages
type Database struct {
	db *sql.DB
}

// NewDatabase opens (or creates) the database at dbPath and initializes tables
func NewDatabase(dbPath string) (*Database, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrap(err, "creating database directory")
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", dbPath)
	}
	// One connection keeps writes serialized and PRAGMAs in effect.
	db.SetMaxOpenConns(1)

	database := &Database{db: db}
	if err := database.createTables(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return database, nil
}

func (d *Database) createTables() error {
	statements := []string{
		`PRAGMA foreign_keys = ON`,
		`CREATE TABLE IF NOT EXISTS conversations (
			id INTEGER PRIMARY KEY,
			title TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			conversation_id INTEGER NOT NULL,
			position INTEGER NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			PRIMARY KEY (conversation_id, position),
			FOREIGN KEY (conversation_id) REFERENCES conversations (id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS counters (
			name TEXT PRIMARY KEY,
			value INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_created_at ON conversations(created_at DESC)`,
	}

	for _, query := range statements {
		if _, err := d.db.Exec(query); err != nil {
			return errors.Wrap(err, "creating tables")
		}
	}

	return nil
}

// SaveConversation saves or updates a conversation and all its messages
func (d *Database) SaveConversation(ctx context.Context, conv models.Conversation) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "beginning transaction")
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO conversations (id, title, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET title = excluded.title, updated_at = excluded.updated_at`,
		conv.ID, conv.Title, conv.Created.UnixNano(), time.Now().UnixNano())
	if err != nil {
		return errors.Wrapf(err, "saving conversation %d", conv.ID)
	}

	_, err = tx.ExecContext(ctx, "DELETE FROM messages WHERE conversation_id = ?", conv.ID)
	if err != nil {
		return errors.Wrapf(err, "clearing messages of conversation %d", conv.ID)
	}

	for i, msg := range conv.Messages {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO messages (conversation_id, position, role, content)
			VALUES (?, ?, ?, ?)`,
			conv.ID, i, string(msg.Role), msg.Content)
		if err != nil {
			return errors.Wrapf(err, "saving message %d of conversation %d", i, conv.ID)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO counters (name, value) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET value = max(value, excluded.value)`,
		lastIDCounter, conv.ID)
	if err != nil {
		return errors.Wrap(err, "raising id counter")
	}

	return errors.Wrap(tx.Commit(), "committing conversation")
}

// Load returns every conversation with its messages, and the highest id ever
// saved.
func (d *Database) Load(ctx context.Context) ([]models.Conversation, int64, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, title, created_at
		FROM conversations
		ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, 0, errors.Wrap(err, "querying conversations")
	}

	var conversations []models.Conversation
	for rows.Next() {
		var conv models.Conversation
		var created int64
		if err := rows.Scan(&conv.ID, &conv.Title, &created); err != nil {
			_ = rows.Close()
			return nil, 0, errors.Wrap(err, "scanning conversation")
		}
		conv.Created = time.Unix(0, created)
		conversations = append(conversations, conv)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, 0, errors.Wrap(err, "reading conversations")
	}
	_ = rows.Close()

	// Messages are read after the conversation cursor is closed: the pool has
	// a single connection.
	for i := range conversations {
		messages, err := d.loadMessages(ctx, conversations[i].ID)
		if err != nil {
			return nil, 0, err
		}
		conversations[i].Messages = messages
	}

	var lastID int64
	err = d.db.QueryRowContext(ctx, "SELECT value FROM counters WHERE name = ?", lastIDCounter).Scan(&lastID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, 0, errors.Wrap(err, "reading id counter")
	}

	return conversations, lastID, nil
}

func (d *Database) loadMessages(ctx context.Context, conversationID int64) ([]models.Message, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT role, content
		FROM messages
		WHERE conversation_id = ?
		ORDER BY position ASC`,
		conversationID)
	if err != nil {
		return nil, errors.Wrapf(err, "querying messages of conversation %d", conversationID)
	}
	defer rows.Close()

	messages := []models.Message{}
	for rows.Next() {
		var role, content string
		if err := rows.Scan(&role, &content); err != nil {
			return nil, errors.Wrap(err, "scanning message")
		}
		r, err := models.ParseRole(role)
		if err != nil {
			return nil, errors.Wrapf(err, "conversation %d", conversationID)
		}
		messages = append(messages, models.Message{Role: r, Content: content})
	}

	return messages, errors.Wrap(rows.Err(), "reading messages")
}

// DeleteConversation removes a conversation and all its messages
func (d *Database) DeleteConversation(ctx context.Context, id int64) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "beginning transaction")
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM messages WHERE conversation_id = ?", id); err != nil {
		return errors.Wrapf(err, "deleting messages of conversation %d", id)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM conversations WHERE id = ?", id); err != nil {
		return errors.Wrapf(err, "deleting conversation %d", id)
	}

	return errors.Wrap(tx.Commit(), "committing delete")
}

// Close closes the database connection
func (d *Database) Close() error {
	return d.db.Close()
}
