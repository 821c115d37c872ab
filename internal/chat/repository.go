// internal/chat/repository.go

package chat

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ConversationStore reads and mutates conversation rows
type ConversationStore interface {
	GetConversation(ctx context.Context, id uuid.UUID) (*Conversation, error)
	IncrementMessageCount(ctx context.Context, id uuid.UUID) error
	IncrementCommentCount(ctx context.Context, id uuid.UUID) error
	// TouchLastMessageAt only moves the timestamp forward
	TouchLastMessageAt(ctx context.Context, id uuid.UUID, at time.Time) error
}

// MessageRepository persists messages
type MessageRepository interface {
	CreateMessage(ctx context.Context, m *Message) error
	GetMessage(ctx context.Context, id uuid.UUID) (*Message, error)
	SetMessageStatus(ctx context.Context, id uuid.UUID, status MessageStatus, sentAt *time.Time) error
	// MarkMessageRead flips the read flag once; reports whether this call did it
	MarkMessageRead(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
	ListMessages(ctx context.Context, conversationID uuid.UUID, limit, offset int) ([]*Message, error)
}

// CommentRepository persists internal comments
type CommentRepository interface {
	CreateComment(ctx context.Context, c *InternalComment) error
	ListComments(ctx context.Context, conversationID uuid.UUID, limit, offset int) ([]*InternalComment, error)
}

// CustomerStore is the slice of the customer directory this service
// touches: last-contact bookkeeping and display names
type CustomerStore interface {
	UpdateLastContact(ctx context.Context, customerID uuid.UUID, at time.Time) error
	CustomerName(ctx context.Context, customerID uuid.UUID) (string, error)
}

// UserDirectory resolves internal users for mentions and team fan-out
type UserDirectory interface {
	UserName(ctx context.Context, userID int64) (string, error)
	LookupUsername(ctx context.Context, username string) (int64, bool, error)
	ManagerIDs(ctx context.Context) ([]int64, error)
}

// Repository bundles everything the chat surface needs from storage
type Repository interface {
	ConversationStore
	MessageRepository
	CommentRepository
	CustomerStore
	UserDirectory
}
