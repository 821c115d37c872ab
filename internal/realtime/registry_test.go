package realtime

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSession records frames; accept controls whether Send succeeds
type fakeSession struct {
	id     string
	accept bool
	frames [][]byte
	closed bool
}

func newFakeSession(accept bool) *fakeSession {
	return &fakeSession{id: uuid.New().String(), accept: accept}
}

func (s *fakeSession) ID() string { return s.id }

func (s *fakeSession) Send(data []byte) bool {
	if !s.accept {
		return false
	}
	s.frames = append(s.frames, data)
	return true
}

func (s *fakeSession) Close() { s.closed = true }

func TestRegistry_JoinIsIdempotent(t *testing.T) {
	r := NewRegistry()
	s := newFakeSession(true)

	r.Join("room:abc", s)
	r.Join("room:abc", s)

	assert.Equal(t, 1, r.Count("room:abc"))
}

func TestRegistry_BroadcastReachesEveryMember(t *testing.T) {
	r := NewRegistry()
	a := newFakeSession(true)
	b := newFakeSession(true)
	outsider := newFakeSession(true)

	r.Join("room:abc", a)
	r.Join("room:abc", b)
	r.Join("room:other", outsider)

	r.Broadcast("room:abc", NewEvent("chat_message", map[string]string{"content": "hello"}))

	require.Len(t, a.frames, 1)
	require.Len(t, b.frames, 1)
	assert.Empty(t, outsider.frames)
}

func TestRegistry_BroadcastToEmptyGroupIsNoOp(t *testing.T) {
	r := NewRegistry()

	// Must not panic or block
	r.Broadcast("room:nobody-home", NewEvent("chat_message", nil))
}

func TestRegistry_SlowSessionIsDropped(t *testing.T) {
	r := NewRegistry()
	healthy := newFakeSession(true)
	slow := newFakeSession(false)

	r.Join("room:abc", healthy)
	r.Join("room:abc", slow)

	r.Broadcast("room:abc", NewEvent("chat_message", map[string]string{"content": "hi"}))

	// The healthy member got the frame, the slow one was evicted and closed
	require.Len(t, healthy.frames, 1)
	assert.True(t, slow.closed)
	assert.Equal(t, 1, r.Count("room:abc"))
}

func TestRegistry_LeaveAllClearsEveryMembership(t *testing.T) {
	r := NewRegistry()
	s := newFakeSession(true)

	r.Join("room:abc", s)
	r.Join("user:42", s)
	require.Len(t, r.Groups(s), 2)

	r.LeaveAll(s)

	assert.Empty(t, r.Groups(s))
	assert.Equal(t, 0, r.Count("room:abc"))
	assert.Equal(t, 0, r.Count("user:42"))
}

func TestRegistry_LeaveUnknownGroupIsNoOp(t *testing.T) {
	r := NewRegistry()
	s := newFakeSession(true)

	r.Leave("room:never-joined", s)
}

func TestEvent_MarshalFlattensPayload(t *testing.T) {
	event := NewEvent("typing_indicator", map[string]interface{}{
		"user_id":   int64(7),
		"is_typing": true,
	})

	data, err := json.Marshal(event)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))

	// Payload fields sit next to the envelope fields, not nested under "data"
	assert.Equal(t, "typing_indicator", decoded["type"])
	assert.Equal(t, float64(7), decoded["user_id"])
	assert.Equal(t, true, decoded["is_typing"])
	assert.Contains(t, decoded, "timestamp")
}

func TestGroupKeys(t *testing.T) {
	conversationID := uuid.New()

	assert.Equal(t, "room:"+conversationID.String(), RoomKey(conversationID))
	assert.Equal(t, "user:42", UserKey(42))
}
