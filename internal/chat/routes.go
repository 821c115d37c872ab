// internal/chat/routes.go

package chat

import (
	"net/http"

	"github.com/gorilla/mux"
)

// AuthMiddleware wraps a handler with token verification
type AuthMiddleware func(http.Handler) http.Handler

// RegisterRoutes registers all chat routes
func RegisterRoutes(router *mux.Router, handler *Handler, authMiddleware AuthMiddleware) {
	// WebSocket endpoint - one session per conversation room
	router.Handle("/ws/conversations/{id}", authMiddleware(http.HandlerFunc(handler.HandleChatSocket))).Methods("GET")

	// Webhook ingress for customer messages. The provider integration
	// authenticates upstream at the gateway, not with agent tokens.
	router.HandleFunc("/api/v1/webhooks/messages", handler.ReceiveWebhookMessage).Methods("POST")

	// REST API endpoints
	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(mux.MiddlewareFunc(authMiddleware))

	// Conversation timeline
	api.HandleFunc("/conversations/{id}/messages", handler.GetMessages).Methods("GET")
	api.HandleFunc("/conversations/{id}/messages", handler.SendMessage).Methods("POST")

	// Internal comments
	api.HandleFunc("/conversations/{id}/comments", handler.GetComments).Methods("GET")
	api.HandleFunc("/conversations/{id}/comments", handler.CreateComment).Methods("POST")

	// Message status
	api.HandleFunc("/messages/{id}/read", handler.MarkRead).Methods("POST")
	api.HandleFunc("/messages/{id}/delivered", handler.MarkDelivered).Methods("POST")
	api.HandleFunc("/messages/{id}/failed", handler.MarkFailed).Methods("POST")
}

// RegisterHealthCheck registers the chat health endpoint
func RegisterHealthCheck(router *mux.Router, handler *Handler) {
	router.HandleFunc("/health/chat", handler.HealthCheck).Methods("GET")
}
