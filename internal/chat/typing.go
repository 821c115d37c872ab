// internal/chat/typing.go

package chat

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/connectdesk/crm-backend/internal/realtime"
)

type typingKey struct {
	conversationID uuid.UUID
	userID         int64
}

type typingState struct {
	userName     string
	isTyping     bool
	lastActivity time.Time
}

// TypingTracker keeps at most one typing record per (conversation,
// user) pair and broadcasts only on actual transitions. Records idle
// past the window are swept away.
type TypingTracker struct {
	mu          sync.Mutex
	states      map[typingKey]*typingState
	window      time.Duration
	broadcaster realtime.Broadcaster
}

// NewTypingTracker creates a tracker with the given inactivity window
func NewTypingTracker(broadcaster realtime.Broadcaster, window time.Duration) *TypingTracker {
	return &TypingTracker{
		states:      make(map[typingKey]*typingState),
		window:      window,
		broadcaster: broadcaster,
	}
}

// Start records that a user is typing. A repeated start only
// refreshes the activity timestamp; the room hears about the
// transition once.
func (t *TypingTracker) Start(conversationID uuid.UUID, userID int64, userName string) {
	key := typingKey{conversationID: conversationID, userID: userID}

	t.mu.Lock()
	state, ok := t.states[key]
	if !ok {
		state = &typingState{userName: userName}
		t.states[key] = state
	}
	alreadyTyping := state.isTyping
	state.isTyping = true
	state.userName = userName
	state.lastActivity = time.Now()
	t.mu.Unlock()

	if alreadyTyping {
		return
	}

	t.broadcast(conversationID, userID, userName, true)
}

// Stop records that a user stopped typing. Stopping when not typing
// is a no-op.
func (t *TypingTracker) Stop(conversationID uuid.UUID, userID int64, userName string) {
	key := typingKey{conversationID: conversationID, userID: userID}

	t.mu.Lock()
	state, ok := t.states[key]
	if !ok || !state.isTyping {
		t.mu.Unlock()
		return
	}
	state.isTyping = false
	state.lastActivity = time.Now()
	t.mu.Unlock()

	t.broadcast(conversationID, userID, userName, false)
}

// IsTyping reports the current state for a (conversation, user) pair
func (t *TypingTracker) IsTyping(conversationID uuid.UUID, userID int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	state, ok := t.states[typingKey{conversationID: conversationID, userID: userID}]
	return ok && state.isTyping
}

// Sweep deletes records idle past the window and returns how many
// were removed. Swept records are not broadcast; a client that went
// away mid-keystroke already dropped off the room.
func (t *TypingTracker) Sweep() int {
	cutoff := time.Now().Add(-t.window)

	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for key, state := range t.states {
		if state.lastActivity.Before(cutoff) {
			delete(t.states, key)
			removed++
		}
	}
	return removed
}

// Run sweeps periodically until the context is cancelled
func (t *TypingTracker) Run(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := t.Sweep(); n > 0 {
				log.Printf("Swept %d stale typing indicators", n)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (t *TypingTracker) broadcast(conversationID uuid.UUID, userID int64, userName string, isTyping bool) {
	t.broadcaster.Broadcast(realtime.RoomKey(conversationID), realtime.NewEvent("typing_indicator", TypingEvent{
		UserID:   userID,
		UserName: userName,
		IsTyping: isTyping,
	}))
}
