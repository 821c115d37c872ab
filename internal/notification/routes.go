// internal/notification/routes.go

package notification

import (
	"net/http"

	"github.com/gorilla/mux"
)

// AuthMiddleware wraps a handler with token verification
type AuthMiddleware func(http.Handler) http.Handler

// RegisterRoutes registers all notification routes
func RegisterRoutes(router *mux.Router, handler *Handler, authMiddleware, elevatedOnly AuthMiddleware) {
	// WebSocket endpoint - the user's personal notification feed
	router.Handle("/ws/notifications", authMiddleware(http.HandlerFunc(handler.HandleNotificationSocket))).Methods("GET")

	// REST API endpoints
	api := router.PathPrefix("/api/v1/notifications").Subrouter()
	api.Use(mux.MiddlewareFunc(authMiddleware))

	// Feed
	api.HandleFunc("", handler.List).Methods("GET")
	api.HandleFunc("/unread-count", handler.UnreadCount).Methods("GET")
	api.HandleFunc("/read-all", handler.MarkAllRead).Methods("POST")
	api.HandleFunc("/{id}/read", handler.MarkRead).Methods("POST")

	// Preferences
	api.HandleFunc("/preferences", handler.GetPreferences).Methods("GET")
	api.HandleFunc("/preferences", handler.SavePreference).Methods("PUT")

	// Internal dispatch hook for other CRM services; manager/admin only
	api.Handle("/dispatch", elevatedOnly(http.HandlerFunc(handler.Dispatch))).Methods("POST")
}

// RegisterHealthCheck registers the notification health endpoint
func RegisterHealthCheck(router *mux.Router, handler *Handler) {
	router.HandleFunc("/health/notifications", handler.HealthCheck).Methods("GET")
}
