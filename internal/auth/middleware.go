// internal/auth/middleware.go

package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v4"

	"github.com/connectdesk/crm-backend/internal/common/utils"
)

var ErrInvalidToken = errors.New("invalid or expired token")

// Claims are the JWT claims issued by the identity service
type Claims struct {
	UserID int64  `json:"user_id"`
	Name   string `json:"name"`
	Role   string `json:"role"`
	Type   string `json:"type"`
	jwt.RegisteredClaims
}

// Middleware verifies access tokens issued by the identity service.
// Token issuance, refresh and revocation live outside this service.
type Middleware struct {
	secret []byte
}

// NewMiddleware creates a new auth middleware
func NewMiddleware(secret string) *Middleware {
	return &Middleware{
		secret: []byte(secret),
	}
}

// Authenticate is the main middleware function that protects routes
// It verifies the JWT token and adds the principal to the request context
func (m *Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// 1. Extract token from Authorization header (or query param for websockets)
		token := m.extractToken(r)
		if token == "" {
			utils.ErrorResponse(w, "Missing or invalid authorization header", http.StatusUnauthorized)
			return
		}

		// 2. Validate token
		principal, err := m.VerifyToken(token)
		if err != nil {
			utils.ErrorResponse(w, "Invalid or expired token", http.StatusUnauthorized)
			return
		}

		// 3. Pass to the next handler with the principal in context
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
	})
}

// RequireElevated rejects non manager/admin principals.
// Must run after Authenticate.
func (m *Middleware) RequireElevated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, ok := FromContext(r.Context())
		if !ok {
			utils.ErrorResponse(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		if !principal.IsElevated() {
			utils.ErrorResponse(w, "Insufficient permissions", http.StatusForbidden)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// VerifyToken parses and validates an access token and returns its principal
func (m *Middleware) VerifyToken(tokenString string) (*Principal, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}

	// Refresh tokens must not reach protected routes
	if claims.Type != "access" {
		return nil, ErrInvalidToken
	}

	return &Principal{
		UserID: claims.UserID,
		Name:   claims.Name,
		Role:   Role(claims.Role),
	}, nil
}

// extractToken extracts the JWT token from the Authorization header.
// Browsers cannot set headers on websocket upgrades, so a `token`
// query parameter is accepted as a fallback.
func (m *Middleware) extractToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader != "" {
		parts := strings.Split(authHeader, " ")
		if len(parts) == 2 && parts[0] == "Bearer" {
			return parts[1]
		}
		return ""
	}

	return r.URL.Query().Get("token")
}
