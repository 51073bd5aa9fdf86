package httputil

import (
	"context"
	"net/http"
)

type contextKey int

const userIDKey contextKey = iota

// WithUserID returns a request whose context carries the authenticated user
// id. Set by the auth middleware after token verification.
func WithUserID(r *http.Request, userID string) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), userIDKey, userID))
}

// GetUserID returns the authenticated user id, or "" on an unauthenticated
// request (the /health bypass).
func GetUserID(r *http.Request) string {
	userID, _ := r.Context().Value(userIDKey).(string)
	return userID
}
