// internal/auth/principal.go

package auth

import "context"

// Role is the CRM role carried in the access token
type Role string

const (
	RoleAgent       Role = "agent"
	RoleManager     Role = "manager"
	RoleSystemAdmin Role = "system_admin"
)

// Principal is the authenticated internal user attached to a request
type Principal struct {
	UserID int64  `json:"user_id"`
	Name   string `json:"name"`
	Role   Role   `json:"role"`
}

// IsElevated reports whether the principal bypasses assignment checks
func (p *Principal) IsElevated() bool {
	return p.Role == RoleManager || p.Role == RoleSystemAdmin
}

type contextKey string

const principalKey contextKey = "principal"

// WithPrincipal returns a context carrying the authenticated principal
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// FromContext extracts the principal set by the middleware
func FromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey).(*Principal)
	return p, ok
}
