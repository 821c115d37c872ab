// internal/notification/session.go
// One websocket session on a user's personal notification group.

package notification

import (
	"context"
	"encoding/json"
	"log"

	"github.com/google/uuid"

	"github.com/connectdesk/crm-backend/internal/auth"
	"github.com/connectdesk/crm-backend/internal/realtime"
)

// ackFrame is the only client-to-server frame on this socket
type ackFrame struct {
	Type           string     `json:"type"`
	NotificationID *uuid.UUID `json:"notification_id,omitempty"`
}

// Session is a live connection on a user's notification group
type Session struct {
	conn       *realtime.Conn
	registry   *realtime.Registry
	dispatcher *Dispatcher
	principal  *auth.Principal
}

// NewSession wraps an authenticated connection
func NewSession(conn *realtime.Conn, registry *realtime.Registry, dispatcher *Dispatcher, principal *auth.Principal) *Session {
	return &Session{
		conn:       conn,
		registry:   registry,
		dispatcher: dispatcher,
		principal:  principal,
	}
}

// ID implements realtime.Session
func (s *Session) ID() string {
	return s.conn.ID()
}

// Send implements realtime.Session
func (s *Session) Send(data []byte) bool {
	return s.conn.Send(data)
}

// Close implements realtime.Session
func (s *Session) Close() {
	s.conn.Close()
}

// Run joins the user group and pumps frames until disconnect
func (s *Session) Run(ctx context.Context) {
	s.registry.Join(realtime.UserKey(s.principal.UserID), s)
	log.Printf("User %d connected to notification feed", s.principal.UserID)

	go s.conn.WritePump()
	s.conn.ReadPump(func(data []byte) {
		s.handleFrame(ctx, data)
	})

	s.registry.LeaveAll(s)
	s.conn.Close()
	log.Printf("User %d disconnected from notification feed", s.principal.UserID)
}

func (s *Session) handleFrame(ctx context.Context, data []byte) {
	var frame ackFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return
	}

	if frame.Type != "notification_ack" || frame.NotificationID == nil {
		return
	}

	if err := s.dispatcher.MarkRead(ctx, *frame.NotificationID, s.principal.UserID); err != nil {
		log.Printf("Notification ack from user %d failed: %v", s.principal.UserID, err)
	}
}
