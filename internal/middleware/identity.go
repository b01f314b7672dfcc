package middleware

import (
	"context"
	"net/http"
	"strings"
)

type userIDContextKey struct{}

// Identity extracts the caller's user id from the X-User-ID header set by the
// authenticating edge. Requests without one are rejected; validating the
// session itself happens upstream.
func Identity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimSpace(r.Header.Get("X-User-ID"))
		if userID == "" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"unauthorized","message":"missing user identity"}`))
			return
		}
		ctx := context.WithValue(r.Context(), userIDContextKey{}, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// UserIDFromContext returns the authenticated user id, if present.
func UserIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(userIDContextKey{}).(string); ok {
		return v
	}
	return ""
}
