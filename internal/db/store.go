package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/deepchat-dev/deepchat/internal/models"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// ErrConversationNotFound signals an unknown conversation id.
var ErrConversationNotFound = errors.New("conversation not found")

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS conversations (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    title TEXT NOT NULL DEFAULT '新对话',
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    conversation_id INTEGER NOT NULL,
    role TEXT NOT NULL,
    content TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_messages_conversation_id ON messages (conversation_id);`

const postgresSchema = `
CREATE TABLE IF NOT EXISTS conversations (
    id BIGSERIAL PRIMARY KEY,
    title TEXT NOT NULL DEFAULT '新对话',
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
    id BIGSERIAL PRIMARY KEY,
    conversation_id BIGINT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
    role TEXT NOT NULL,
    content TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_conversation_id ON messages (conversation_id);`

type Database struct {
	db       *sql.DB
	postgres bool
	logger   *zap.Logger
	now      func() time.Time
}

// New wraps an existing connection. Callers that want schema
// management should use Open instead.
func New(conn *sql.DB, postgres bool, logger *zap.Logger) *Database {
	return &Database{db: conn, postgres: postgres, logger: logger, now: time.Now}
}

// Open connects to the database behind dsn and applies the schema. A
// postgres:// or postgresql:// DSN selects the postgres driver; any
// other value is treated as an SQLite file path.
func Open(dsn string, logger *zap.Logger) (*Database, error) {
	driver := "sqlite3"
	isPostgres := strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
	if isPostgres {
		driver = "postgres"
	}

	conn, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	schema := sqliteSchema
	if isPostgres {
		schema = postgresSchema
	}
	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	logger.Info("database initialized", zap.String("driver", driver))
	return New(conn, isPostgres, logger), nil
}

func (d *Database) Close() error {
	return d.db.Close()
}

// rebind rewrites ? placeholders to $N for postgres. Queries in this
// package are written once against the sqlite placeholder style.
func (d *Database) rebind(query string) string {
	if !d.postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// querier abstracts *sql.DB and *sql.Tx so the read helpers serve both.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

const conversationColumns = `
        SELECT c.id, c.title, c.created_at, c.updated_at,
               (SELECT COUNT(*) FROM messages m WHERE m.conversation_id = c.id)
        FROM conversations c`

// CreateConversation inserts a conversation with the default title.
func (d *Database) CreateConversation(ctx context.Context) (*models.Conversation, error) {
	now := d.now().UTC()
	conv := &models.Conversation{
		Title:     models.DefaultTitle,
		CreatedAt: now,
		UpdatedAt: now,
	}

	query := d.rebind(`
        INSERT INTO conversations (title, created_at, updated_at)
        VALUES (?, ?, ?)
        RETURNING id`)

	if err := d.db.QueryRowContext(ctx, query, conv.Title, now, now).Scan(&conv.ID); err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	return conv, nil
}

// GetConversation returns a conversation with its message count, or
// ErrConversationNotFound.
func (d *Database) GetConversation(ctx context.Context, id int64) (*models.Conversation, error) {
	return getConversation(ctx, d, d.db, id)
}

func getConversation(ctx context.Context, d *Database, q querier, id int64) (*models.Conversation, error) {
	query := d.rebind(conversationColumns + ` WHERE c.id = ?`)

	var conv models.Conversation
	err := q.QueryRowContext(ctx, query, id).
		Scan(&conv.ID, &conv.Title, &conv.CreatedAt, &conv.UpdatedAt, &conv.MessageCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation %d: %w", id, err)
	}
	return &conv, nil
}

// ListConversations returns all conversations, most recently updated
// first.
func (d *Database) ListConversations(ctx context.Context) ([]models.Conversation, error) {
	query := conversationColumns + ` ORDER BY c.updated_at DESC, c.id DESC`

	rows, err := d.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	conversations := make([]models.Conversation, 0)
	for rows.Next() {
		var conv models.Conversation
		if err := rows.Scan(&conv.ID, &conv.Title, &conv.CreatedAt, &conv.UpdatedAt, &conv.MessageCount); err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		conversations = append(conversations, conv)
	}
	return conversations, rows.Err()
}

// DeleteConversation removes a conversation and all of its messages in
// one transaction.
func (d *Database) DeleteConversation(ctx context.Context, id int64) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, d.rebind("DELETE FROM messages WHERE conversation_id = ?"), id); err != nil {
		return fmt.Errorf("failed to delete messages: %w", err)
	}

	result, err := tx.ExecContext(ctx, d.rebind("DELETE FROM conversations WHERE id = ?"), id)
	if err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrConversationNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit delete: %w", err)
	}
	d.logger.Info("conversation deleted", zap.Int64("conversation_id", id))
	return nil
}

// ListMessages returns every message in a conversation, oldest first.
func (d *Database) ListMessages(ctx context.Context, conversationID int64) ([]models.Message, error) {
	return listMessages(ctx, d, d.db, conversationID)
}

func listMessages(ctx context.Context, d *Database, q querier, conversationID int64) ([]models.Message, error) {
	query := d.rebind(`
        SELECT id, conversation_id, role, content, created_at
        FROM messages
        WHERE conversation_id = ?
        ORDER BY created_at ASC, id ASC`)

	rows, err := q.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	messages := make([]models.Message, 0)
	for rows.Next() {
		var msg models.Message
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.Role, &msg.Content, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}
