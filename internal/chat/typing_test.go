package chat

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/connectdesk/crm-backend/internal/realtime"
)

// recordingBroadcaster captures events for assertions
type recordingBroadcaster struct {
	mu     sync.Mutex
	groups []string
	events []realtime.Event
}

func (b *recordingBroadcaster) Broadcast(group string, event realtime.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.groups = append(b.groups, group)
	b.events = append(b.events, event)
}

func (b *recordingBroadcaster) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}

func (b *recordingBroadcaster) typingPayload(t *testing.T, i int) TypingEvent {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()

	var payload TypingEvent
	require.NoError(t, json.Unmarshal(b.events[i].Data, &payload))
	return payload
}

func TestTypingTracker_StartBroadcastsTransition(t *testing.T) {
	broadcaster := &recordingBroadcaster{}
	tracker := NewTypingTracker(broadcaster, 5*time.Minute)
	conversationID := uuid.New()

	tracker.Start(conversationID, 7, "Ada")

	require.Equal(t, 1, broadcaster.count())
	assert.Equal(t, realtime.RoomKey(conversationID), broadcaster.groups[0])
	assert.Equal(t, "typing_indicator", broadcaster.events[0].Type)

	payload := broadcaster.typingPayload(t, 0)
	assert.Equal(t, int64(7), payload.UserID)
	assert.Equal(t, "Ada", payload.UserName)
	assert.True(t, payload.IsTyping)
	assert.True(t, tracker.IsTyping(conversationID, 7))
}

func TestTypingTracker_RepeatedStartDoesNotRebroadcast(t *testing.T) {
	broadcaster := &recordingBroadcaster{}
	tracker := NewTypingTracker(broadcaster, 5*time.Minute)
	conversationID := uuid.New()

	tracker.Start(conversationID, 7, "Ada")
	tracker.Start(conversationID, 7, "Ada")
	tracker.Start(conversationID, 7, "Ada")

	// The room hears about the transition once; repeats only refresh
	// the activity timestamp
	assert.Equal(t, 1, broadcaster.count())
	assert.True(t, tracker.IsTyping(conversationID, 7))
}

func TestTypingTracker_StopBroadcastsTransition(t *testing.T) {
	broadcaster := &recordingBroadcaster{}
	tracker := NewTypingTracker(broadcaster, 5*time.Minute)
	conversationID := uuid.New()

	tracker.Start(conversationID, 7, "Ada")
	tracker.Stop(conversationID, 7, "Ada")

	require.Equal(t, 2, broadcaster.count())
	payload := broadcaster.typingPayload(t, 1)
	assert.False(t, payload.IsTyping)
	assert.False(t, tracker.IsTyping(conversationID, 7))
}

func TestTypingTracker_StopWhenNotTypingIsNoOp(t *testing.T) {
	broadcaster := &recordingBroadcaster{}
	tracker := NewTypingTracker(broadcaster, 5*time.Minute)
	conversationID := uuid.New()

	tracker.Stop(conversationID, 7, "Ada")

	assert.Equal(t, 0, broadcaster.count())

	// Also idempotent after a real start/stop pair
	tracker.Start(conversationID, 7, "Ada")
	tracker.Stop(conversationID, 7, "Ada")
	tracker.Stop(conversationID, 7, "Ada")
	assert.Equal(t, 2, broadcaster.count())
}

func TestTypingTracker_UsersAreIndependent(t *testing.T) {
	broadcaster := &recordingBroadcaster{}
	tracker := NewTypingTracker(broadcaster, 5*time.Minute)
	conversationID := uuid.New()

	tracker.Start(conversationID, 7, "Ada")
	tracker.Start(conversationID, 8, "Grace")
	tracker.Stop(conversationID, 7, "Ada")

	assert.False(t, tracker.IsTyping(conversationID, 7))
	assert.True(t, tracker.IsTyping(conversationID, 8))
	assert.Equal(t, 3, broadcaster.count())
}

func TestTypingTracker_SweepRemovesIdleWithoutBroadcast(t *testing.T) {
	broadcaster := &recordingBroadcaster{}
	tracker := NewTypingTracker(broadcaster, time.Nanosecond)
	conversationID := uuid.New()

	tracker.Start(conversationID, 7, "Ada")
	require.Equal(t, 1, broadcaster.count())

	time.Sleep(5 * time.Millisecond)

	removed := tracker.Sweep()
	assert.Equal(t, 1, removed)
	assert.False(t, tracker.IsTyping(conversationID, 7))

	// Sweeping never broadcasts a stop frame
	assert.Equal(t, 1, broadcaster.count())
}

func TestTypingTracker_SweepKeepsFreshRecords(t *testing.T) {
	broadcaster := &recordingBroadcaster{}
	tracker := NewTypingTracker(broadcaster, time.Hour)
	conversationID := uuid.New()

	tracker.Start(conversationID, 7, "Ada")

	assert.Equal(t, 0, tracker.Sweep())
	assert.True(t, tracker.IsTyping(conversationID, 7))
}
