package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func nextHandler() (http.Handler, *bool) {
	called := false
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}), &called
}

func TestRequireElevated(t *testing.T) {
	m := NewMiddleware("secret")

	cases := []struct {
		name   string
		role   Role
		status int
	}{
		{"manager passes", RoleManager, http.StatusOK},
		{"system admin passes", RoleSystemAdmin, http.StatusOK},
		{"agent is rejected", RoleAgent, http.StatusForbidden},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			next, called := nextHandler()
			req := httptest.NewRequest("POST", "/api/v1/notifications/dispatch", nil)
			req = req.WithContext(WithPrincipal(req.Context(), &Principal{UserID: 7, Role: tc.role}))
			rec := httptest.NewRecorder()

			m.RequireElevated(next).ServeHTTP(rec, req)

			assert.Equal(t, tc.status, rec.Code)
			assert.Equal(t, tc.status == http.StatusOK, *called)
		})
	}
}

func TestRequireElevated_MissingPrincipal(t *testing.T) {
	m := NewMiddleware("secret")
	next, called := nextHandler()
	rec := httptest.NewRecorder()

	m.RequireElevated(next).ServeHTTP(rec, httptest.NewRequest("POST", "/api/v1/notifications/dispatch", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.False(t, *called)
}
