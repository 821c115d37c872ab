// internal/notification/handlers.go

package notification

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

// Handler serves the notification websocket and REST surface
type Handler struct {
	dispatcher *Dispatcher
	registry   *realtime.Registry
	limiter    *realtime.ConnLimiter

	sendBufferSize int
	idleTimeout    time.Duration
}

// NewHandler creates the notification handler
func NewHandler(dispatcher *Dispatcher, registry *realtime.Registry, limiter *realtime.ConnLimiter, sendBufferSize int, idleTimeout time.Duration) *Handler {
	return &Handler{
		dispatcher:     dispatcher,
		registry:       registry,
		limiter:        limiter,
		sendBufferSize: sendBufferSize,
		idleTimeout:    idleTimeout,
	}
}

// HandleNotificationSocket upgrades a connection onto the user's
// personal notification group
func (h *Handler) HandleNotificationSocket(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.FromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	if !h.limiter.Allow(realtime.UserKey(principal.UserID)) {
		realtime.RejectedConnections.WithLabelValues("rate_limited").Inc()
		http.Error(w, "Too many connection attempts", http.StatusTooManyRequests)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	session := NewSession(
		realtime.NewConn(conn, h.sendBufferSize, h.idleTimeout),
		h.registry,
		h.dispatcher,
		principal,
	)

	realtime.ActiveSessions.WithLabelValues("notifications").Inc()
	defer realtime.ActiveSessions.WithLabelValues("notifications").Dec()

	session.Run(context.Background())
}

// Dispatch creates and routes a notification. This is the hook other
// CRM services (assignment, reminders, system alerts) call.
func (h *Handler) Dispatch(w http.ResponseWriter, r *http.Request) {
	var req DispatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.ErrorResponse(w, "Invalid request", http.StatusBadRequest)
		return
	}

	if err := utils.ValidateStruct(req); err != nil {
		utils.ErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	notification, err := h.dispatcher.Dispatch(r.Context(), &req)
	if err != nil {
		utils.ErrorResponse(w, err.Error(), http.StatusInternalServerError)
		return
	}

	utils.SuccessResponse(w, notification, http.StatusCreated)
}

// List returns a page of the caller's notification feed
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.FromContext(r.Context())
	if !ok {
		utils.ErrorResponse(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if limit <= 0 {
		limit = 20
	}
	unreadOnly := r.URL.Query().Get("unread") == "true"

	notifications, err := h.dispatcher.List(r.Context(), principal.UserID, unreadOnly, limit, offset)
	if err != nil {
		utils.ErrorResponse(w, err.Error(), http.StatusInternalServerError)
		return
	}

	utils.SuccessResponse(w, notifications, http.StatusOK)
}

// UnreadCount returns the caller's unread total
func (h *Handler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.FromContext(r.Context())
	if !ok {
		utils.ErrorResponse(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	count, err := h.dispatcher.UnreadCount(r.Context(), principal.UserID)
	if err != nil {
		utils.ErrorResponse(w, err.Error(), http.StatusInternalServerError)
		return
	}

	utils.SuccessResponse(w, map[string]int{"unread": count}, http.StatusOK)
}

// MarkRead acknowledges one notification
func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.FromContext(r.Context())
	if !ok {
		utils.ErrorResponse(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		utils.ErrorResponse(w, "Invalid notification ID", http.StatusBadRequest)
		return
	}

	if err := h.dispatcher.MarkRead(r.Context(), id, principal.UserID); err != nil {
		if errors.Is(err, ErrNotificationNotFound) {
			utils.ErrorResponse(w, err.Error(), http.StatusNotFound)
			return
		}
		utils.ErrorResponse(w, err.Error(), http.StatusInternalServerError)
		return
	}

	utils.MessageResponse(w, "notification read", http.StatusOK)
}

// MarkAllRead acknowledges the caller's whole unread feed
func (h *Handler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.FromContext(r.Context())
	if !ok {
		utils.ErrorResponse(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	updated, err := h.dispatcher.MarkAllRead(r.Context(), principal.UserID)
	if err != nil {
		utils.ErrorResponse(w, err.Error(), http.StatusInternalServerError)
		return
	}

	utils.SuccessResponse(w, map[string]int64{"updated": updated}, http.StatusOK)
}

// GetPreferences returns the caller's stored delivery rules
func (h *Handler) GetPreferences(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.FromContext(r.Context())
	if !ok {
		utils.ErrorResponse(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	prefs, err := h.dispatcher.Preferences(r.Context(), principal.UserID)
	if err != nil {
		utils.ErrorResponse(w, err.Error(), http.StatusInternalServerError)
		return
	}

	utils.SuccessResponse(w, prefs, http.StatusOK)
}

// SavePreference upserts one delivery rule for the caller
func (h *Handler) SavePreference(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.FromContext(r.Context())
	if !ok {
		utils.ErrorResponse(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var pref Preference
	if err := json.NewDecoder(r.Body).Decode(&pref); err != nil {
		utils.ErrorResponse(w, "Invalid request", http.StatusBadRequest)
		return
	}
	pref.UserID = principal.UserID

	if pref.Type == "" || pref.Channel == "" {
		utils.ErrorResponse(w, "type and channel are required", http.StatusBadRequest)
		return
	}
	if pref.MinimumPriority == "" {
		pref.MinimumPriority = PriorityNormal
	}

	if err := h.dispatcher.SavePreference(r.Context(), &pref); err != nil {
		utils.ErrorResponse(w, err.Error(), http.StatusInternalServerError)
		return
	}

	utils.SuccessResponse(w, pref, http.StatusOK)
}

// HealthCheck reports the notification service is up
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	utils.SuccessResponse(w, map[string]string{"status": "ok"}, http.StatusOK)
}
