// internal/chat/pipeline.go
// Message submission pipeline: validate, persist, bump counters,
// broadcast, notify. Persistence always completes before any
// broadcast leaves the process.

package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/connectdesk/crm-backend/internal/realtime"
)

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrConversationClosed   = errors.New("conversation is not active")
	ErrMessageNotFound      = errors.New("message not found")
	ErrEmptyMessage         = errors.New("message must have content or media")
	ErrMissingCoordinates   = errors.New("location message requires latitude and longitude")
	ErrMissingContact       = errors.New("contact message requires a name and phone number")
	ErrMissingMedia         = errors.New("media message requires a media url")
	ErrInvalidMedia         = errors.New("media reference could not be resolved")
	ErrInvalidStatusChange  = errors.New("message status can only move forward")
)

// Notifier is the slice of the notification service the pipeline
// drives. Implemented by notification.ChatNotifier.
type Notifier interface {
	MessageReceived(ctx context.Context, msg *Message, customerName string, recipient int64)
	CommentAdded(ctx context.Context, c *InternalComment, authorName, customerName string, recipient int64)
	Mentioned(ctx context.Context, c *InternalComment, authorName, customerName string, recipient int64)
}

// SubmitRequest carries one message into the pipeline
type SubmitRequest struct {
	ConversationID uuid.UUID   `json:"conversation_id" validate:"required"`
	Sender         SenderRef   `json:"sender"`
	Content        string      `json:"content"`
	MessageType    MessageType `json:"message_type"`
	ReplyTo        *uuid.UUID  `json:"reply_to,omitempty"`

	MediaURL     string   `json:"media_url,omitempty"`
	Latitude     *float64 `json:"latitude,omitempty"`
	Longitude    *float64 `json:"longitude,omitempty"`
	LocationName string   `json:"location_name,omitempty"`
	ContactName  string   `json:"contact_name,omitempty"`
	ContactPhone string   `json:"contact_phone,omitempty"`
}

// CommentRequest carries one internal comment into the pipeline
type CommentRequest struct {
	ConversationID uuid.UUID       `json:"conversation_id" validate:"required"`
	AuthorID       int64           `json:"author_id"`
	Content        string          `json:"content" validate:"required"`
	Priority       CommentPriority `json:"priority"`
	ReplyTo        *uuid.UUID      `json:"reply_to,omitempty"`
	IsPrivate      bool            `json:"is_private"`
	NotifyManagers bool            `json:"notify_managers"`
}

// Pipeline owns every mutation of conversation timelines
type Pipeline struct {
	repo        Repository
	storage     StorageService
	broadcaster realtime.Broadcaster
	notifier    Notifier
	mentions    MentionExtractor

	// one lock per conversation keeps submissions serialized without
	// stalling unrelated conversations. Entries are reference counted
	// and dropped once the last holder releases, so the table only
	// covers conversations being written right now.
	locksMux sync.Mutex
	locks    map[uuid.UUID]*convLock
}

type convLock struct {
	sync.Mutex
	refs int
}

// NewPipeline wires the pipeline to its collaborators
func NewPipeline(repo Repository, storage StorageService, broadcaster realtime.Broadcaster, notifier Notifier, mentions MentionExtractor) *Pipeline {
	return &Pipeline{
		repo:        repo,
		storage:     storage,
		broadcaster: broadcaster,
		notifier:    notifier,
		mentions:    mentions,
		locks:       make(map[uuid.UUID]*convLock),
	}
}

func (p *Pipeline) lockConversation(id uuid.UUID) *convLock {
	p.locksMux.Lock()
	lock, ok := p.locks[id]
	if !ok {
		lock = &convLock{}
		p.locks[id] = lock
	}
	lock.refs++
	p.locksMux.Unlock()

	lock.Lock()
	return lock
}

func (p *Pipeline) unlockConversation(id uuid.UUID, lock *convLock) {
	lock.Unlock()

	p.locksMux.Lock()
	lock.refs--
	if lock.refs == 0 {
		delete(p.locks, id)
	}
	p.locksMux.Unlock()
}

// Submit runs one message through the pipeline. On return the message
// is durably stored with status "sent", counters are bumped, the room
// has been broadcast to and the assigned user notified when the
// sender is a customer.
func (p *Pipeline) Submit(ctx context.Context, req *SubmitRequest) (*Message, error) {
	lock := p.lockConversation(req.ConversationID)
	defer p.unlockConversation(req.ConversationID, lock)

	conv, err := p.repo.GetConversation(ctx, req.ConversationID)
	if err != nil {
		return nil, err
	}
	if conv.Status != ConversationActive {
		return nil, ErrConversationClosed
	}

	if err := req.Sender.Validate(); err != nil {
		return nil, err
	}

	msg, err := p.buildMessage(ctx, req)
	if err != nil {
		return nil, err
	}

	// Persist before anything observable happens. A store failure
	// here means no counters moved and no frame left the process.
	if err := p.repo.CreateMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("persist message: %w", err)
	}

	if err := p.repo.IncrementMessageCount(ctx, conv.ID); err != nil {
		return nil, err
	}
	if err := p.repo.TouchLastMessageAt(ctx, conv.ID, msg.CreatedAt); err != nil {
		return nil, err
	}

	// The customer directory is another service's table; losing this
	// write must not fail the submission
	if msg.SenderKind == SenderCustomer && msg.SenderCustomer != nil {
		if err := p.repo.UpdateLastContact(ctx, *msg.SenderCustomer, msg.CreatedAt); err != nil {
			log.Printf("Failed to update customer last contact: %v", err)
		}
	}

	now := time.Now()
	if err := p.repo.SetMessageStatus(ctx, msg.ID, StatusSent, &now); err != nil {
		return nil, err
	}
	msg.Status = StatusSent
	msg.SentAt = &now

	p.broadcaster.Broadcast(realtime.RoomKey(conv.ID), realtime.NewEvent("chat_message", messageEvent{Message: msg}))

	if msg.SenderKind == SenderCustomer && conv.AssignedUserID != nil {
		customerName := p.customerName(ctx, conv.CustomerID)
		p.notifier.MessageReceived(ctx, msg, customerName, *conv.AssignedUserID)
	}

	return msg, nil
}

func (p *Pipeline) buildMessage(ctx context.Context, req *SubmitRequest) (*Message, error) {
	messageType := req.MessageType
	if messageType == "" {
		messageType = TypeText
	}

	msg := &Message{
		ID:             uuid.New(),
		ConversationID: req.ConversationID,
		SenderKind:     req.Sender.Kind,
		SenderUserID:   req.Sender.UserID,
		SenderCustomer: req.Sender.CustomerID,
		Content:        strings.TrimSpace(req.Content),
		MessageType:    messageType,
		Status:         StatusPending,
		ReplyTo:        req.ReplyTo,
		MediaURL:       req.MediaURL,
		Latitude:       req.Latitude,
		Longitude:      req.Longitude,
		LocationName:   req.LocationName,
		ContactName:    req.ContactName,
		ContactPhone:   req.ContactPhone,
		CreatedAt:      time.Now(),
	}

	switch messageType {
	case TypeLocation:
		if msg.Latitude == nil || msg.Longitude == nil {
			return nil, ErrMissingCoordinates
		}
	case TypeContact:
		if msg.ContactName == "" || msg.ContactPhone == "" {
			return nil, ErrMissingContact
		}
	case TypeImage, TypeDocument, TypeAudio, TypeVideo:
		if msg.MediaURL == "" {
			return nil, ErrMissingMedia
		}
		info, err := p.storage.ResolveMedia(ctx, msg.MediaURL, messageType)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidMedia, err)
		}
		msg.ThumbnailURL = info.ThumbnailURL
		msg.MediaSize = info.Size
	default:
		if msg.Content == "" {
			return nil, ErrEmptyMessage
		}
	}

	return msg, nil
}

// MarkRead flips the read receipt. Only the first call per message
// broadcasts; later calls are silent no-ops that report the stored
// state.
func (p *Pipeline) MarkRead(ctx context.Context, messageID uuid.UUID, readerID int64) (*Message, error) {
	msg, err := p.repo.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	changed, err := p.repo.MarkMessageRead(ctx, messageID, now)
	if err != nil {
		return nil, err
	}
	if !changed {
		return msg, nil
	}

	msg.ReadByUser = true
	msg.ReadAt = &now
	msg.Status = StatusRead

	p.broadcaster.Broadcast(realtime.RoomKey(msg.ConversationID), realtime.NewEvent("message_read", ReadEvent{
		MessageID: msg.ID,
		ReadBy:    readerID,
		ReadAt:    now,
	}))

	return msg, nil
}

// MarkDelivered records a provider delivery receipt
func (p *Pipeline) MarkDelivered(ctx context.Context, messageID uuid.UUID) error {
	return p.advanceStatus(ctx, messageID, StatusDelivered)
}

// MarkFailed records a provider delivery failure
func (p *Pipeline) MarkFailed(ctx context.Context, messageID uuid.UUID) error {
	return p.advanceStatus(ctx, messageID, StatusFailed)
}

func (p *Pipeline) advanceStatus(ctx context.Context, messageID uuid.UUID, to MessageStatus) error {
	msg, err := p.repo.GetMessage(ctx, messageID)
	if err != nil {
		return err
	}

	if !CanTransition(msg.Status, to) {
		return ErrInvalidStatusChange
	}

	return p.repo.SetMessageStatus(ctx, messageID, to, nil)
}

// ListMessages returns a page of a conversation's timeline
func (p *Pipeline) ListMessages(ctx context.Context, conversationID uuid.UUID, limit, offset int) ([]*Message, error) {
	return p.repo.ListMessages(ctx, conversationID, limit, offset)
}

// SubmitComment stores an internal comment, bumps the comment
// counter and fans out comment/mention notifications
func (p *Pipeline) SubmitComment(ctx context.Context, req *CommentRequest) (*InternalComment, error) {
	conv, err := p.repo.GetConversation(ctx, req.ConversationID)
	if err != nil {
		return nil, err
	}

	priority := req.Priority
	if priority == "" {
		priority = CommentNormal
	}

	comment := &InternalComment{
		ID:             uuid.New(),
		ConversationID: req.ConversationID,
		AuthorID:       req.AuthorID,
		Content:        strings.TrimSpace(req.Content),
		Priority:       priority,
		ReplyTo:        req.ReplyTo,
		IsPrivate:      req.IsPrivate,
		NotifyAssigned: true,
		NotifyManagers: req.NotifyManagers,
		CreatedAt:      time.Now(),
	}

	if comment.Content == "" {
		return nil, ErrEmptyMessage
	}

	if err := p.repo.CreateComment(ctx, comment); err != nil {
		return nil, fmt.Errorf("persist comment: %w", err)
	}

	if err := p.repo.IncrementCommentCount(ctx, conv.ID); err != nil {
		return nil, err
	}

	authorName := p.userName(ctx, comment.AuthorID)
	customerName := p.customerName(ctx, conv.CustomerID)

	notified := map[int64]bool{comment.AuthorID: true}

	if conv.AssignedUserID != nil && !notified[*conv.AssignedUserID] {
		p.notifier.CommentAdded(ctx, comment, authorName, customerName, *conv.AssignedUserID)
		notified[*conv.AssignedUserID] = true
	}

	if comment.NotifyManagers {
		managers, err := p.repo.ManagerIDs(ctx)
		if err != nil {
			log.Printf("Failed to list managers for comment fan-out: %v", err)
		}
		for _, managerID := range managers {
			if notified[managerID] {
				continue
			}
			p.notifier.CommentAdded(ctx, comment, authorName, customerName, managerID)
			notified[managerID] = true
		}
	}

	for _, mentionedID := range p.mentions.Extract(ctx, comment.Content) {
		if mentionedID == comment.AuthorID {
			continue
		}
		p.notifier.Mentioned(ctx, comment, authorName, customerName, mentionedID)
	}

	return comment, nil
}

// ListComments returns a page of a conversation's internal comments
func (p *Pipeline) ListComments(ctx context.Context, conversationID uuid.UUID, limit, offset int) ([]*InternalComment, error) {
	return p.repo.ListComments(ctx, conversationID, limit, offset)
}

func (p *Pipeline) customerName(ctx context.Context, customerID uuid.UUID) string {
	name, err := p.repo.CustomerName(ctx, customerID)
	if err != nil {
		log.Printf("Failed to resolve customer %s: %v", customerID, err)
		return "customer"
	}
	return name
}

func (p *Pipeline) userName(ctx context.Context, userID int64) string {
	name, err := p.repo.UserName(ctx, userID)
	if err != nil {
		log.Printf("Failed to resolve user %d: %v", userID, err)
		return "teammate"
	}
	return name
}
