// internal/chat/postgres.go
// PostgreSQL implementation of the chat repositories

package chat

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

type postgresRepo struct {
	db *sqlx.DB
}

// NewPostgresRepository creates the sqlx-backed chat repository
func NewPostgresRepository(db *sqlx.DB) Repository {
	return &postgresRepo{db: db}
}

// Conversations

func (r *postgresRepo) GetConversation(ctx context.Context, id uuid.UUID) (*Conversation, error) {
	query := `
		SELECT id, customer_id, status, assigned_user_id, message_count,
		       internal_comment_count, last_message_at, created_at
		FROM conversations
		WHERE id = $1`

	var conv Conversation
	if err := r.db.GetContext(ctx, &conv, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrConversationNotFound
		}
		return nil, fmt.Errorf("get conversation: %w", err)
	}

	return &conv, nil
}

func (r *postgresRepo) IncrementMessageCount(ctx context.Context, id uuid.UUID) error {
	// Counter moves inside the database so concurrent writers never
	// lose an increment
	query := `UPDATE conversations SET message_count = message_count + 1 WHERE id = $1`

	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("increment message count: %w", err)
	}
	return nil
}

func (r *postgresRepo) IncrementCommentCount(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE conversations SET internal_comment_count = internal_comment_count + 1 WHERE id = $1`

	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("increment comment count: %w", err)
	}
	return nil
}

func (r *postgresRepo) TouchLastMessageAt(ctx context.Context, id uuid.UUID, at time.Time) error {
	query := `
		UPDATE conversations
		SET last_message_at = $2
		WHERE id = $1 AND (last_message_at IS NULL OR last_message_at < $2)`

	if _, err := r.db.ExecContext(ctx, query, id, at); err != nil {
		return fmt.Errorf("touch last message at: %w", err)
	}
	return nil
}

// Messages

func (r *postgresRepo) CreateMessage(ctx context.Context, m *Message) error {
	query := `
		INSERT INTO messages (
			id, conversation_id, sender_kind, sender_user_id, sender_customer_id,
			content, message_type, status, reply_to,
			media_url, thumbnail_url, media_size,
			latitude, longitude, location_name,
			contact_name, contact_phone,
			read_by_user, created_at
		) VALUES (
			:id, :conversation_id, :sender_kind, :sender_user_id, :sender_customer_id,
			:content, :message_type, :status, :reply_to,
			:media_url, :thumbnail_url, :media_size,
			:latitude, :longitude, :location_name,
			:contact_name, :contact_phone,
			:read_by_user, :created_at
		)`

	if _, err := r.db.NamedExecContext(ctx, query, m); err != nil {
		return fmt.Errorf("create message: %w", err)
	}
	return nil
}

func (r *postgresRepo) GetMessage(ctx context.Context, id uuid.UUID) (*Message, error) {
	query := `
		SELECT id, conversation_id, sender_kind, sender_user_id, sender_customer_id,
		       content, message_type, status, reply_to,
		       media_url, thumbnail_url, media_size,
		       latitude, longitude, location_name,
		       contact_name, contact_phone,
		       read_by_user, read_at, created_at, sent_at
		FROM messages
		WHERE id = $1`

	var m Message
	if err := r.db.GetContext(ctx, &m, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMessageNotFound
		}
		return nil, fmt.Errorf("get message: %w", err)
	}

	return &m, nil
}

func (r *postgresRepo) SetMessageStatus(ctx context.Context, id uuid.UUID, status MessageStatus, sentAt *time.Time) error {
	query := `UPDATE messages SET status = $2, sent_at = COALESCE($3, sent_at) WHERE id = $1`

	if _, err := r.db.ExecContext(ctx, query, id, status, sentAt); err != nil {
		return fmt.Errorf("set message status: %w", err)
	}
	return nil
}

func (r *postgresRepo) MarkMessageRead(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	// The WHERE clause makes the receipt idempotent under races:
	// only one caller ever flips the flag. Failed messages never gain
	// a read receipt.
	query := `
		UPDATE messages
		SET read_by_user = TRUE, read_at = $2, status = 'read'
		WHERE id = $1 AND read_by_user = FALSE AND status <> 'failed'`

	result, err := r.db.ExecContext(ctx, query, id, at)
	if err != nil {
		return false, fmt.Errorf("mark message read: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark message read: %w", err)
	}
	return affected > 0, nil
}

func (r *postgresRepo) ListMessages(ctx context.Context, conversationID uuid.UUID, limit, offset int) ([]*Message, error) {
	query := `
		SELECT id, conversation_id, sender_kind, sender_user_id, sender_customer_id,
		       content, message_type, status, reply_to,
		       media_url, thumbnail_url, media_size,
		       latitude, longitude, location_name,
		       contact_name, contact_phone,
		       read_by_user, read_at, created_at, sent_at
		FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`

	messages := []*Message{}
	if err := r.db.SelectContext(ctx, &messages, query, conversationID, limit, offset); err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	return messages, nil
}

// Internal comments

func (r *postgresRepo) CreateComment(ctx context.Context, c *InternalComment) error {
	query := `
		INSERT INTO internal_comments (
			id, conversation_id, author_id, content, priority, reply_to,
			is_private, notify_assigned, notify_managers, created_at
		) VALUES (
			:id, :conversation_id, :author_id, :content, :priority, :reply_to,
			:is_private, :notify_assigned, :notify_managers, :created_at
		)`

	if _, err := r.db.NamedExecContext(ctx, query, c); err != nil {
		return fmt.Errorf("create comment: %w", err)
	}
	return nil
}

func (r *postgresRepo) ListComments(ctx context.Context, conversationID uuid.UUID, limit, offset int) ([]*InternalComment, error) {
	query := `
		SELECT id, conversation_id, author_id, content, priority, reply_to,
		       is_private, notify_assigned, notify_managers, created_at
		FROM internal_comments
		WHERE conversation_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`

	comments := []*InternalComment{}
	if err := r.db.SelectContext(ctx, &comments, query, conversationID, limit, offset); err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}

	return comments, nil
}

// Customers

func (r *postgresRepo) UpdateLastContact(ctx context.Context, customerID uuid.UUID, at time.Time) error {
	query := `
		UPDATE customers
		SET last_message_at = $2
		WHERE id = $1 AND (last_message_at IS NULL OR last_message_at < $2)`

	if _, err := r.db.ExecContext(ctx, query, customerID, at); err != nil {
		return fmt.Errorf("update customer last contact: %w", err)
	}
	return nil
}

func (r *postgresRepo) CustomerName(ctx context.Context, customerID uuid.UUID) (string, error) {
	query := `SELECT display_name FROM customers WHERE id = $1`

	var name string
	if err := r.db.GetContext(ctx, &name, query, customerID); err != nil {
		return "", fmt.Errorf("get customer name: %w", err)
	}
	return name, nil
}

// Users

func (r *postgresRepo) UserName(ctx context.Context, userID int64) (string, error) {
	query := `SELECT display_name FROM users WHERE id = $1`

	var name string
	if err := r.db.GetContext(ctx, &name, query, userID); err != nil {
		return "", fmt.Errorf("get user name: %w", err)
	}
	return name, nil
}

func (r *postgresRepo) LookupUsername(ctx context.Context, username string) (int64, bool, error) {
	query := `SELECT id FROM users WHERE username = $1`

	var id int64
	if err := r.db.GetContext(ctx, &id, query, username); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("lookup username: %w", err)
	}
	return id, true, nil
}

func (r *postgresRepo) ManagerIDs(ctx context.Context) ([]int64, error) {
	query := `SELECT id FROM users WHERE role IN ('manager', 'system_admin') AND is_active = TRUE`

	ids := []int64{}
	if err := r.db.SelectContext(ctx, &ids, query); err != nil {
		return nil, fmt.Errorf("list manager ids: %w", err)
	}
	return ids, nil
}
