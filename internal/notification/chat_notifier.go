// internal/notification/chat_notifier.go
// Adapter the chat pipeline drives when conversations produce
// notification-worthy events.

package notification

import (
	"context"
	"fmt"
	"log"

	"github.com/connectdesk/crm-backend/internal/chat"
)

// ChatNotifier implements chat.Notifier on top of the dispatcher
type ChatNotifier struct {
	dispatcher *Dispatcher
}

// NewChatNotifier creates the adapter
func NewChatNotifier(dispatcher *Dispatcher) *ChatNotifier {
	return &ChatNotifier{dispatcher: dispatcher}
}

// MessageReceived alerts the assigned user about a customer message
func (c *ChatNotifier) MessageReceived(ctx context.Context, msg *chat.Message, customerName string, recipient int64) {
	_, err := c.dispatcher.Dispatch(ctx, &DispatchRequest{
		RecipientID: recipient,
		Type:        TypeMessage,
		Title:       "New message",
		Body:        fmt.Sprintf("New message from %s", customerName),
		Priority:    PriorityNormal,
		Related:     &RelatedEntity{Kind: RelatedMessage, ID: msg.ID},
	})
	if err != nil {
		log.Printf("Message notification for user %d failed: %v", recipient, err)
	}
}

// CommentAdded alerts a teammate about an internal comment
func (c *ChatNotifier) CommentAdded(ctx context.Context, comment *chat.InternalComment, authorName, customerName string, recipient int64) {
	_, err := c.dispatcher.Dispatch(ctx, &DispatchRequest{
		RecipientID: recipient,
		Type:        TypeComment,
		Title:       "New internal comment",
		Body:        fmt.Sprintf("%s commented on %s's conversation", authorName, customerName),
		Priority:    commentPriority(comment.Priority),
		SenderID:    &comment.AuthorID,
		Related:     &RelatedEntity{Kind: RelatedComment, ID: comment.ID},
	})
	if err != nil {
		log.Printf("Comment notification for user %d failed: %v", recipient, err)
	}
}

// Mentioned alerts a user that a comment names them
func (c *ChatNotifier) Mentioned(ctx context.Context, comment *chat.InternalComment, authorName, customerName string, recipient int64) {
	_, err := c.dispatcher.Dispatch(ctx, &DispatchRequest{
		RecipientID: recipient,
		Type:        TypeMention,
		Title:       "You were mentioned",
		Body:        fmt.Sprintf("%s mentioned you on %s's conversation", authorName, customerName),
		Priority:    PriorityHigh,
		SenderID:    &comment.AuthorID,
		Related:     &RelatedEntity{Kind: RelatedComment, ID: comment.ID},
	})
	if err != nil {
		log.Printf("Mention notification for user %d failed: %v", recipient, err)
	}
}

// commentPriority maps comment urgency onto notification priority;
// routine comments still notify at normal
func commentPriority(p chat.CommentPriority) Priority {
	switch p {
	case chat.CommentHigh:
		return PriorityHigh
	case chat.CommentUrgent:
		return PriorityUrgent
	default:
		return PriorityNormal
	}
}
