// internal/chat/guard.go

package chat

import (
	"context"
	"log"

	"github.com/google/uuid"

	"github.com/connectdesk/crm-backend/internal/auth"
)

// AccessGuard decides whether an internal user may attach to a
// conversation room. Managers and admins see every conversation;
// agents only the ones assigned to them. Any lookup failure denies.
type AccessGuard struct {
	conversations ConversationStore
}

// NewAccessGuard creates a guard over the conversation store
func NewAccessGuard(conversations ConversationStore) *AccessGuard {
	return &AccessGuard{conversations: conversations}
}

// Authorize reports whether the principal may join the conversation
func (g *AccessGuard) Authorize(ctx context.Context, principal *auth.Principal, conversationID uuid.UUID) bool {
	if principal == nil {
		return false
	}

	conv, err := g.conversations.GetConversation(ctx, conversationID)
	if err != nil {
		// Fail closed: a missing row and a store outage both deny
		log.Printf("Access check failed for conversation %s: %v", conversationID, err)
		return false
	}

	if principal.IsElevated() {
		return true
	}

	return conv.AssignedUserID != nil && *conv.AssignedUserID == principal.UserID
}
