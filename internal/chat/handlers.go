// internal/chat/handlers.go

package chat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/connectdesk/crm-backend/internal/auth"
	"github.com/connectdesk/crm-backend/internal/common/utils"
	"github.com/connectdesk/crm-backend/internal/realtime"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Configure CORS as needed
		return true
	},
}

// Handler serves the chat websocket and REST surface
type Handler struct {
	pipeline *Pipeline
	guard    *AccessGuard
	typing   *TypingTracker
	registry *realtime.Registry
	limiter  *realtime.ConnLimiter

	sendBufferSize int
	idleTimeout    time.Duration
}

// NewHandler creates the chat handler
func NewHandler(pipeline *Pipeline, guard *AccessGuard, typing *TypingTracker, registry *realtime.Registry, limiter *realtime.ConnLimiter, sendBufferSize int, idleTimeout time.Duration) *Handler {
	return &Handler{
		pipeline:       pipeline,
		guard:          guard,
		typing:         typing,
		registry:       registry,
		limiter:        limiter,
		sendBufferSize: sendBufferSize,
		idleTimeout:    idleTimeout,
	}
}

// HandleChatSocket upgrades an agent connection into a conversation
// room session. Authorization happens before the upgrade; an
// unauthorized principal never touches the registry.
func (h *Handler) HandleChatSocket(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.FromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conversationID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "Invalid conversation ID", http.StatusBadRequest)
		return
	}

	if !h.limiter.Allow(realtime.UserKey(principal.UserID)) {
		realtime.RejectedConnections.WithLabelValues("rate_limited").Inc()
		http.Error(w, "Too many connection attempts", http.StatusTooManyRequests)
		return
	}

	if !h.guard.Authorize(r.Context(), principal, conversationID) {
		realtime.RejectedConnections.WithLabelValues("unauthorized").Inc()
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	session := NewSession(
		realtime.NewConn(conn, h.sendBufferSize, h.idleTimeout),
		h.registry,
		h.pipeline,
		h.typing,
		principal,
		conversationID,
	)
	session.Authorized()
	session.Join()

	realtime.ActiveSessions.WithLabelValues("chat").Inc()
	defer realtime.ActiveSessions.WithLabelValues("chat").Dec()

	// The request context dies with this handler; frames outlive it
	session.Run(context.Background())
}

// SendMessage submits a message over REST (agent fallback path)
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.FromContext(r.Context())
	if !ok {
		utils.ErrorResponse(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conversationID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		utils.ErrorResponse(w, "Invalid conversation ID", http.StatusBadRequest)
		return
	}

	if !h.guard.Authorize(r.Context(), principal, conversationID) {
		utils.ErrorResponse(w, "Forbidden", http.StatusForbidden)
		return
	}

	var req SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.ErrorResponse(w, "Invalid request", http.StatusBadRequest)
		return
	}
	req.ConversationID = conversationID
	req.Sender = UserSender(principal.UserID)

	message, err := h.pipeline.Submit(r.Context(), &req)
	if err != nil {
		utils.ErrorResponse(w, err.Error(), statusForError(err))
		return
	}

	utils.SuccessResponse(w, message, http.StatusCreated)
}

// WebhookMessageRequest is an inbound customer message relayed by the
// channel provider integration. Provider payload parsing happens
// upstream; this endpoint receives the already-structured form.
type WebhookMessageRequest struct {
	ConversationID uuid.UUID   `json:"conversation_id" validate:"required"`
	CustomerID     uuid.UUID   `json:"customer_id" validate:"required"`
	Content        string      `json:"content"`
	MessageType    MessageType `json:"message_type"`

	MediaURL     string   `json:"media_url,omitempty"`
	Latitude     *float64 `json:"latitude,omitempty"`
	Longitude    *float64 `json:"longitude,omitempty"`
	LocationName string   `json:"location_name,omitempty"`
	ContactName  string   `json:"contact_name,omitempty"`
	ContactPhone string   `json:"contact_phone,omitempty"`
}

// ReceiveWebhookMessage submits a customer-origin message
func (h *Handler) ReceiveWebhookMessage(w http.ResponseWriter, r *http.Request) {
	var req WebhookMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.ErrorResponse(w, "Invalid request", http.StatusBadRequest)
		return
	}

	if err := utils.ValidateStruct(req); err != nil {
		utils.ErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	message, err := h.pipeline.Submit(r.Context(), &SubmitRequest{
		ConversationID: req.ConversationID,
		Sender:         CustomerSender(req.CustomerID),
		Content:        req.Content,
		MessageType:    req.MessageType,
		MediaURL:       req.MediaURL,
		Latitude:       req.Latitude,
		Longitude:      req.Longitude,
		LocationName:   req.LocationName,
		ContactName:    req.ContactName,
		ContactPhone:   req.ContactPhone,
	})
	if err != nil {
		utils.ErrorResponse(w, err.Error(), statusForError(err))
		return
	}

	utils.SuccessResponse(w, message, http.StatusCreated)
}

// GetMessages returns a page of a conversation timeline
func (h *Handler) GetMessages(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.FromContext(r.Context())
	if !ok {
		utils.ErrorResponse(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conversationID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		utils.ErrorResponse(w, "Invalid conversation ID", http.StatusBadRequest)
		return
	}

	if !h.guard.Authorize(r.Context(), principal, conversationID) {
		utils.ErrorResponse(w, "Forbidden", http.StatusForbidden)
		return
	}

	limit, offset := pagination(r, 50)
	messages, err := h.pipeline.ListMessages(r.Context(), conversationID, limit, offset)
	if err != nil {
		utils.ErrorResponse(w, err.Error(), http.StatusInternalServerError)
		return
	}

	utils.SuccessResponse(w, messages, http.StatusOK)
}

// MarkRead records a read receipt over REST
func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.FromContext(r.Context())
	if !ok {
		utils.ErrorResponse(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	messageID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		utils.ErrorResponse(w, "Invalid message ID", http.StatusBadRequest)
		return
	}

	message, err := h.pipeline.MarkRead(r.Context(), messageID, principal.UserID)
	if err != nil {
		utils.ErrorResponse(w, err.Error(), statusForError(err))
		return
	}

	utils.SuccessResponse(w, message, http.StatusOK)
}

// MarkDelivered records a provider delivery receipt
func (h *Handler) MarkDelivered(w http.ResponseWriter, r *http.Request) {
	h.advanceStatus(w, r, h.pipeline.MarkDelivered)
}

// MarkFailed records a provider delivery failure
func (h *Handler) MarkFailed(w http.ResponseWriter, r *http.Request) {
	h.advanceStatus(w, r, h.pipeline.MarkFailed)
}

func (h *Handler) advanceStatus(w http.ResponseWriter, r *http.Request, advance func(context.Context, uuid.UUID) error) {
	messageID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		utils.ErrorResponse(w, "Invalid message ID", http.StatusBadRequest)
		return
	}

	if err := advance(r.Context(), messageID); err != nil {
		utils.ErrorResponse(w, err.Error(), statusForError(err))
		return
	}

	utils.MessageResponse(w, "status updated", http.StatusOK)
}

// CreateComment posts an internal comment on a conversation
func (h *Handler) CreateComment(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.FromContext(r.Context())
	if !ok {
		utils.ErrorResponse(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conversationID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		utils.ErrorResponse(w, "Invalid conversation ID", http.StatusBadRequest)
		return
	}

	if !h.guard.Authorize(r.Context(), principal, conversationID) {
		utils.ErrorResponse(w, "Forbidden", http.StatusForbidden)
		return
	}

	var req CommentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.ErrorResponse(w, "Invalid request", http.StatusBadRequest)
		return
	}
	req.ConversationID = conversationID
	req.AuthorID = principal.UserID

	if err := utils.ValidateStruct(req); err != nil {
		utils.ErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	comment, err := h.pipeline.SubmitComment(r.Context(), &req)
	if err != nil {
		utils.ErrorResponse(w, err.Error(), statusForError(err))
		return
	}

	utils.SuccessResponse(w, comment, http.StatusCreated)
}

// GetComments returns a page of a conversation's internal comments
func (h *Handler) GetComments(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.FromContext(r.Context())
	if !ok {
		utils.ErrorResponse(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conversationID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		utils.ErrorResponse(w, "Invalid conversation ID", http.StatusBadRequest)
		return
	}

	if !h.guard.Authorize(r.Context(), principal, conversationID) {
		utils.ErrorResponse(w, "Forbidden", http.StatusForbidden)
		return
	}

	limit, offset := pagination(r, 20)
	comments, err := h.pipeline.ListComments(r.Context(), conversationID, limit, offset)
	if err != nil {
		utils.ErrorResponse(w, err.Error(), http.StatusInternalServerError)
		return
	}

	utils.SuccessResponse(w, comments, http.StatusOK)
}

// HealthCheck reports the chat service is up
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	utils.SuccessResponse(w, map[string]string{"status": "ok"}, http.StatusOK)
}

func pagination(r *http.Request, defaultLimit int) (int, int) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if limit <= 0 {
		limit = defaultLimit
	}
	return limit, offset
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, ErrConversationNotFound), errors.Is(err, ErrMessageNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConversationClosed), errors.Is(err, ErrInvalidStatusChange):
		return http.StatusConflict
	case errors.Is(err, ErrEmptyMessage), errors.Is(err, ErrMissingCoordinates),
		errors.Is(err, ErrMissingContact), errors.Is(err, ErrMissingMedia),
		errors.Is(err, ErrInvalidMedia):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
