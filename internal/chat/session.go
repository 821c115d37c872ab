// internal/chat/session.go
// One websocket session attached to a conversation room.
// Lifecycle: connecting -> authorized -> joined -> closed, with
// closed terminal from any state.

package chat

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"github.com/google/uuid"

	"github.com/connectdesk/crm-backend/internal/auth"
	"github.com/connectdesk/crm-backend/internal/realtime"
)

type sessionState int

const (
	stateConnecting sessionState = iota
	stateAuthorized
	stateJoined
	stateClosed
)

// Session is a live agent connection to one conversation room
type Session struct {
	conn           *realtime.Conn
	registry       *realtime.Registry
	pipeline       *Pipeline
	typing         *TypingTracker
	principal      *auth.Principal
	conversationID uuid.UUID

	mu    sync.Mutex
	state sessionState
}

// NewSession wraps an authorized connection before it joins the room
func NewSession(conn *realtime.Conn, registry *realtime.Registry, pipeline *Pipeline, typing *TypingTracker, principal *auth.Principal, conversationID uuid.UUID) *Session {
	return &Session{
		conn:           conn,
		registry:       registry,
		pipeline:       pipeline,
		typing:         typing,
		principal:      principal,
		conversationID: conversationID,
		state:          stateConnecting,
	}
}

// ID implements realtime.Session
func (s *Session) ID() string {
	return s.conn.ID()
}

// Send implements realtime.Session. Typing indicators authored by
// this session's own user are suppressed here, on the receiving
// side, so every other member still hears them.
func (s *Session) Send(data []byte) bool {
	var probe struct {
		Type   string `json:"type"`
		UserID int64  `json:"user_id"`
	}
	if err := json.Unmarshal(data, &probe); err == nil {
		if probe.Type == "typing_indicator" && probe.UserID == s.principal.UserID {
			return true
		}
	}
	return s.conn.Send(data)
}

// Close implements realtime.Session
func (s *Session) Close() {
	s.mu.Lock()
	s.state = stateClosed
	s.mu.Unlock()
	s.conn.Close()
}

// Authorized marks the access check as passed
func (s *Session) Authorized() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == stateConnecting {
		s.state = stateAuthorized
	}
}

// Join registers the session with its conversation room
func (s *Session) Join() {
	s.mu.Lock()
	if s.state != stateAuthorized {
		s.mu.Unlock()
		return
	}
	s.state = stateJoined
	s.mu.Unlock()

	s.registry.Join(realtime.RoomKey(s.conversationID), s)
	log.Printf("User %d joined room %s", s.principal.UserID, s.conversationID)
}

// Run pumps frames until the peer disconnects, then tears down:
// leave the room, clear any typing state, close.
func (s *Session) Run(ctx context.Context) {
	go s.conn.WritePump()

	s.conn.ReadPump(func(data []byte) {
		s.handleFrame(ctx, data)
	})

	s.teardown()
}

func (s *Session) teardown() {
	s.mu.Lock()
	wasJoined := s.state == stateJoined
	s.state = stateClosed
	s.mu.Unlock()

	if wasJoined {
		s.typing.Stop(s.conversationID, s.principal.UserID, s.principal.Name)
		s.registry.LeaveAll(s)
		log.Printf("User %d left room %s", s.principal.UserID, s.conversationID)
	}
	s.conn.Close()
}

func (s *Session) handleFrame(ctx context.Context, data []byte) {
	var frame ClientFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		s.sendError("malformed frame")
		return
	}

	switch frame.Type {
	case FrameChatMessage:
		s.handleChatMessage(ctx, &frame)

	case FrameTypingStart:
		s.typing.Start(s.conversationID, s.principal.UserID, s.principal.Name)

	case FrameTypingStop:
		s.typing.Stop(s.conversationID, s.principal.UserID, s.principal.Name)

	case FrameMessageRead:
		s.handleMessageRead(ctx, &frame)

	default:
		log.Printf("Unknown frame type from user %d: %s", s.principal.UserID, frame.Type)
	}
}

func (s *Session) handleChatMessage(ctx context.Context, frame *ClientFrame) {
	_, err := s.pipeline.Submit(ctx, &SubmitRequest{
		ConversationID: s.conversationID,
		Sender:         UserSender(s.principal.UserID),
		Content:        frame.Content,
		ReplyTo:        frame.ReplyTo,
	})
	if err != nil {
		log.Printf("Submit from user %d failed: %v", s.principal.UserID, err)
		s.sendError(err.Error())
	}
}

func (s *Session) handleMessageRead(ctx context.Context, frame *ClientFrame) {
	if frame.MessageID == nil {
		s.sendError("message_read requires message_id")
		return
	}

	if _, err := s.pipeline.MarkRead(ctx, *frame.MessageID, s.principal.UserID); err != nil {
		log.Printf("Mark read from user %d failed: %v", s.principal.UserID, err)
		s.sendError(err.Error())
	}
}

// sendError reports a failure to this session only, never the room
func (s *Session) sendError(message string) {
	event := realtime.NewEvent("error", errorEvent{Error: message})
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	s.conn.Send(data)
}
