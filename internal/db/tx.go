package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/deepchat-dev/deepchat/internal/models"
)

// Tx scopes the writes of a single request. Callers open it at request
// start, commit on the success path only, and roll back otherwise;
// Rollback after Commit is a no-op.
type Tx struct {
	tx *sql.Tx
	d  *Database
}

func (d *Database) Begin(ctx context.Context) (*Tx, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &Tx{tx: tx, d: d}, nil
}

func (t *Tx) Commit() error {
	return t.tx.Commit()
}

func (t *Tx) Rollback() error {
	return t.tx.Rollback()
}

// GetConversation reads a conversation inside the transaction.
func (t *Tx) GetConversation(ctx context.Context, id int64) (*models.Conversation, error) {
	return getConversation(ctx, t.d, t.tx, id)
}

// AppendMessage inserts msg, assigning its id and creation timestamp.
// The role must validate; messages are never mutated afterwards.
func (t *Tx) AppendMessage(ctx context.Context, msg *models.Message) error {
	if !msg.Role.Valid() {
		return fmt.Errorf("invalid message role %q", msg.Role)
	}

	msg.CreatedAt = t.d.now().UTC()
	query := t.d.rebind(`
        INSERT INTO messages (conversation_id, role, content, created_at)
        VALUES (?, ?, ?, ?)
        RETURNING id`)

	err := t.tx.QueryRowContext(ctx, query, msg.ConversationID, msg.Role, msg.Content, msg.CreatedAt).
		Scan(&msg.ID)
	if err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}
	return nil
}

// UpdateTitle overwrites the conversation title.
func (t *Tx) UpdateTitle(ctx context.Context, conversationID int64, title string) error {
	query := t.d.rebind("UPDATE conversations SET title = ? WHERE id = ?")
	if _, err := t.tx.ExecContext(ctx, query, title, conversationID); err != nil {
		return fmt.Errorf("failed to update title: %w", err)
	}
	return nil
}

// Touch refreshes the conversation's updated_at timestamp.
func (t *Tx) Touch(ctx context.Context, conversationID int64, at time.Time) error {
	query := t.d.rebind("UPDATE conversations SET updated_at = ? WHERE id = ?")
	if _, err := t.tx.ExecContext(ctx, query, at, conversationID); err != nil {
		return fmt.Errorf("failed to touch conversation: %w", err)
	}
	return nil
}

// ListMessages returns the conversation's messages oldest first, seeing
// this transaction's uncommitted writes.
func (t *Tx) ListMessages(ctx context.Context, conversationID int64) ([]models.Message, error) {
	return listMessages(ctx, t.d, t.tx, conversationID)
}

// RecentMessages returns at most limit of the newest messages,
// reordered oldest first for prompt building.
func (t *Tx) RecentMessages(ctx context.Context, conversationID int64, limit int) ([]models.Message, error) {
	query := t.d.rebind(`
        SELECT id, conversation_id, role, content, created_at
        FROM messages
        WHERE conversation_id = ?
        ORDER BY created_at DESC, id DESC
        LIMIT ?`)

	rows, err := t.tx.QueryContext(ctx, query, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent messages: %w", err)
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
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}
