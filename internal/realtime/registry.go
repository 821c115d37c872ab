// internal/realtime/registry.go

package realtime

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is the envelope for every server-to-client frame
type Event struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"-"`
	Timestamp time.Time       `json:"timestamp"`
}

// MarshalJSON flattens the payload into the envelope so clients see
// {"type": ..., "timestamp": ..., <payload fields>}
func (e Event) MarshalJSON() ([]byte, error) {
	base := map[string]json.RawMessage{}
	if len(e.Data) > 0 {
		if err := json.Unmarshal(e.Data, &base); err != nil {
			return nil, err
		}
	}
	typeJSON, _ := json.Marshal(e.Type)
	tsJSON, _ := json.Marshal(e.Timestamp)
	base["type"] = typeJSON
	base["timestamp"] = tsJSON
	return json.Marshal(base)
}

// NewEvent builds an event with the payload marshalled in place
func NewEvent(eventType string, payload interface{}) Event {
	return Event{
		Type:      eventType,
		Data:      mustMarshalJSON(payload),
		Timestamp: time.Now(),
	}
}

// Broadcaster fans an event out to every member of a group
type Broadcaster interface {
	Broadcast(group string, event Event)
}

// Session is a registered connection handle. Send must not block:
// it reports false when the session cannot accept the frame, and the
// registry drops the session in response.
type Session interface {
	ID() string
	Send(data []byte) bool
	Close()
}

// RoomKey is the group key for a conversation room
func RoomKey(conversationID uuid.UUID) string {
	return "room:" + conversationID.String()
}

// UserKey is the group key for a user's personal notification group
func UserKey(userID int64) string {
	return fmt.Sprintf("user:%d", userID)
}

// Registry tracks which sessions belong to which groups.
// A session may be in many groups and a group holds many sessions.
type Registry struct {
	mu     sync.RWMutex
	groups map[string]map[string]Session
	// reverse index, session id -> group keys, so LeaveAll is O(memberships)
	members map[string]map[string]bool
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		groups:  make(map[string]map[string]Session),
		members: make(map[string]map[string]bool),
	}
}

// Join adds a session to a group. Joining twice is a no-op.
func (r *Registry) Join(group string, s Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.groups[group] == nil {
		r.groups[group] = make(map[string]Session)
	}
	r.groups[group][s.ID()] = s

	if r.members[s.ID()] == nil {
		r.members[s.ID()] = make(map[string]bool)
	}
	r.members[s.ID()][group] = true

	if strings.HasPrefix(group, "room:") {
		activeRoomMembers.Inc()
	}
}

// Leave removes a session from a group. Leaving a group the session
// is not in is a no-op.
func (r *Registry) Leave(group string, s Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked(group, s.ID())
}

// LeaveAll removes a session from every group it joined.
// Called when a session closes.
func (r *Registry) LeaveAll(s Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for group := range r.members[s.ID()] {
		r.leaveLocked(group, s.ID())
	}
}

func (r *Registry) leaveLocked(group, sessionID string) {
	sessions, ok := r.groups[group]
	if !ok {
		return
	}
	if _, ok := sessions[sessionID]; !ok {
		return
	}

	delete(sessions, sessionID)
	if len(sessions) == 0 {
		delete(r.groups, group)
	}

	delete(r.members[sessionID], group)
	if len(r.members[sessionID]) == 0 {
		delete(r.members, sessionID)
	}

	if strings.HasPrefix(group, "room:") {
		activeRoomMembers.Dec()
	}
}

// Broadcast delivers an event to every session in the group.
// A group with no members is a silent no-op. Sessions that cannot
// keep up are dropped rather than awaited, so one slow consumer
// never stalls the rest of the group.
func (r *Registry) Broadcast(group string, event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("Error marshalling event %q: %v", event.Type, err)
		return
	}

	r.mu.RLock()
	sessions := make([]Session, 0, len(r.groups[group]))
	for _, s := range r.groups[group] {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()

	var slow []Session
	for _, s := range sessions {
		if !s.Send(data) {
			slow = append(slow, s)
		}
	}

	broadcastsTotal.WithLabelValues(event.Type).Inc()

	for _, s := range slow {
		log.Printf("Dropping slow session %s from group %s", s.ID(), group)
		droppedSessions.Inc()
		r.Drop(s)
	}
}

// Drop force-removes a session from every group and closes it
func (r *Registry) Drop(s Session) {
	r.LeaveAll(s)
	s.Close()
}

// Count returns the number of sessions in a group
func (r *Registry) Count(group string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.groups[group])
}

// Groups returns the group keys a session currently belongs to
func (r *Registry) Groups(s Session) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]string, 0, len(r.members[s.ID()]))
	for group := range r.members[s.ID()] {
		keys = append(keys, group)
	}
	return keys
}

func mustMarshalJSON(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("Error marshaling: %v", err)
		return json.RawMessage(`{}`)
	}
	return json.RawMessage(data)
}
