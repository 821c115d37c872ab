// internal/chat/models.go

package chat

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// SenderKind discriminates who authored a message
type SenderKind string

const (
	SenderCustomer SenderKind = "customer"
	SenderInternal SenderKind = "internal_user"
	SenderSystem   SenderKind = "system"
)

// SenderRef is a tagged reference to a message author. Exactly one of
// UserID / CustomerID is set for internal_user / customer senders;
// system messages carry neither.
type SenderRef struct {
	Kind       SenderKind `json:"kind"`
	UserID     *int64     `json:"user_id,omitempty"`
	CustomerID *uuid.UUID `json:"customer_id,omitempty"`
}

// CustomerSender builds a customer-origin sender reference
func CustomerSender(customerID uuid.UUID) SenderRef {
	return SenderRef{Kind: SenderCustomer, CustomerID: &customerID}
}

// UserSender builds an internal-user sender reference
func UserSender(userID int64) SenderRef {
	return SenderRef{Kind: SenderInternal, UserID: &userID}
}

// SystemSender builds a system-origin sender reference
func SystemSender() SenderRef {
	return SenderRef{Kind: SenderSystem}
}

// Validate checks the reference is internally consistent
func (s SenderRef) Validate() error {
	switch s.Kind {
	case SenderCustomer:
		if s.CustomerID == nil || s.UserID != nil {
			return errors.New("customer sender requires a customer id and no user id")
		}
	case SenderInternal:
		if s.UserID == nil || s.CustomerID != nil {
			return errors.New("internal sender requires a user id and no customer id")
		}
	case SenderSystem:
		if s.UserID != nil || s.CustomerID != nil {
			return errors.New("system sender carries no id")
		}
	default:
		return errors.New("unknown sender kind")
	}
	return nil
}

// MessageType enumerates supported message payloads
type MessageType string

const (
	TypeText     MessageType = "text"
	TypeImage    MessageType = "image"
	TypeDocument MessageType = "document"
	TypeAudio    MessageType = "audio"
	TypeVideo    MessageType = "video"
	TypeLocation MessageType = "location"
	TypeContact  MessageType = "contact"
	TypeSystem   MessageType = "system"
)

// MessageStatus is the delivery state of a message
type MessageStatus string

const (
	StatusPending   MessageStatus = "pending"
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
	StatusFailed    MessageStatus = "failed"
)

// statusRank orders the delivery progression. failed sits outside the
// progression as a terminal state of its own.
var statusRank = map[MessageStatus]int{
	StatusPending:   0,
	StatusSent:      1,
	StatusDelivered: 2,
	StatusRead:      3,
}

// CanTransition reports whether a status move is allowed. Delivery
// states only move forward; failed can be entered from any state short
// of read and nothing ever leaves it.
func CanTransition(from, to MessageStatus) bool {
	if from == StatusFailed {
		return false
	}
	if to == StatusFailed {
		_, ok := statusRank[from]
		return ok && from != StatusRead
	}
	fromRank, ok := statusRank[from]
	if !ok {
		return false
	}
	toRank, ok := statusRank[to]
	if !ok {
		return false
	}
	return toRank > fromRank
}

// Message is one entry in a conversation timeline
type Message struct {
	ID             uuid.UUID     `db:"id" json:"id"`
	ConversationID uuid.UUID     `db:"conversation_id" json:"conversation_id"`
	SenderKind     SenderKind    `db:"sender_kind" json:"sender_kind"`
	SenderUserID   *int64        `db:"sender_user_id" json:"sender_user_id,omitempty"`
	SenderCustomer *uuid.UUID    `db:"sender_customer_id" json:"sender_customer_id,omitempty"`
	Content        string        `db:"content" json:"content"`
	MessageType    MessageType   `db:"message_type" json:"message_type"`
	Status         MessageStatus `db:"status" json:"status"`
	ReplyTo        *uuid.UUID    `db:"reply_to" json:"reply_to,omitempty"`

	// Media payload
	MediaURL     string `db:"media_url" json:"media_url,omitempty"`
	ThumbnailURL string `db:"thumbnail_url" json:"thumbnail_url,omitempty"`
	MediaSize    int64  `db:"media_size" json:"media_size,omitempty"`

	// Location payload
	Latitude     *float64 `db:"latitude" json:"latitude,omitempty"`
	Longitude    *float64 `db:"longitude" json:"longitude,omitempty"`
	LocationName string   `db:"location_name" json:"location_name,omitempty"`

	// Contact payload
	ContactName  string `db:"contact_name" json:"contact_name,omitempty"`
	ContactPhone string `db:"contact_phone" json:"contact_phone,omitempty"`

	// Read receipt (single assigned reader per conversation)
	ReadByUser bool       `db:"read_by_user" json:"read_by_user"`
	ReadAt     *time.Time `db:"read_at" json:"read_at,omitempty"`

	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	SentAt    *time.Time `db:"sent_at" json:"sent_at,omitempty"`
}

// Sender reconstructs the tagged sender reference from the row
func (m *Message) Sender() SenderRef {
	return SenderRef{Kind: m.SenderKind, UserID: m.SenderUserID, CustomerID: m.SenderCustomer}
}

// ConversationStatus is the lifecycle state of a conversation
type ConversationStatus string

const (
	ConversationActive   ConversationStatus = "active"
	ConversationPending  ConversationStatus = "pending"
	ConversationResolved ConversationStatus = "resolved"
	ConversationClosed   ConversationStatus = "closed"
)

// Conversation is a customer thread worked by at most one assigned user
type Conversation struct {
	ID             uuid.UUID          `db:"id" json:"id"`
	CustomerID     uuid.UUID          `db:"customer_id" json:"customer_id"`
	Status         ConversationStatus `db:"status" json:"status"`
	AssignedUserID *int64             `db:"assigned_user_id" json:"assigned_user_id,omitempty"`
	MessageCount   int                `db:"message_count" json:"message_count"`
	CommentCount   int                `db:"internal_comment_count" json:"internal_comment_count"`
	LastMessageAt  *time.Time         `db:"last_message_at" json:"last_message_at,omitempty"`
	CreatedAt      time.Time          `db:"created_at" json:"created_at"`
}

// CommentPriority mirrors notification priorities for internal comments
type CommentPriority string

const (
	CommentLow    CommentPriority = "low"
	CommentNormal CommentPriority = "normal"
	CommentHigh   CommentPriority = "high"
	CommentUrgent CommentPriority = "urgent"
)

// InternalComment is an agent-only note on a conversation, never
// visible to the customer
type InternalComment struct {
	ID             uuid.UUID       `db:"id" json:"id"`
	ConversationID uuid.UUID       `db:"conversation_id" json:"conversation_id"`
	AuthorID       int64           `db:"author_id" json:"author_id"`
	Content        string          `db:"content" json:"content"`
	Priority       CommentPriority `db:"priority" json:"priority"`
	ReplyTo        *uuid.UUID      `db:"reply_to" json:"reply_to,omitempty"`
	IsPrivate      bool            `db:"is_private" json:"is_private"`
	NotifyAssigned bool            `db:"notify_assigned" json:"notify_assigned"`
	NotifyManagers bool            `db:"notify_managers" json:"notify_managers"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
}

// ClientFrame is a client-to-server websocket frame
type ClientFrame struct {
	Type      string     `json:"type" validate:"required"`
	Content   string     `json:"content,omitempty"`
	ReplyTo   *uuid.UUID `json:"reply_to,omitempty"`
	MessageID *uuid.UUID `json:"message_id,omitempty"`
}

// Client frame types
const (
	FrameChatMessage = "chat_message"
	FrameTypingStart = "typing_start"
	FrameTypingStop  = "typing_stop"
	FrameMessageRead = "message_read"
)

// Server event payloads

type messageEvent struct {
	Message *Message `json:"message"`
}

// TypingEvent announces a typing transition to a room
type TypingEvent struct {
	UserID   int64  `json:"user_id"`
	UserName string `json:"user_name"`
	IsTyping bool   `json:"is_typing"`
}

// ReadEvent announces a read receipt to a room
type ReadEvent struct {
	MessageID uuid.UUID `json:"message_id"`
	ReadBy    int64     `json:"read_by"`
	ReadAt    time.Time `json:"read_at"`
}

type errorEvent struct {
	Error string `json:"error"`
}
