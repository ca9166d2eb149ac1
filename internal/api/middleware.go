package api

// This file contains the middleware for verifying that the caller is a
// trusted user.

import (
	"context"
	"net/http"
	"strconv"
)

// contextKey is a private type to prevent collisions with other context keys.
type contextKey string

const userContextKey = contextKey("user")

// TrustMiddleware verifies the X-User-ID header against the trust list and
// injects the user id into the request's context for downstream handlers.
func (s *Server) TrustMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("X-User-ID")
		if header == "" {
			RespondWithError(w, http.StatusUnauthorized, "Unauthorized: No user id")
			return
		}

		userID, err := strconv.ParseInt(header, 10, 64)
		if err != nil {
			RespondWithError(w, http.StatusBadRequest, "Invalid user id")
			return
		}

		if !s.app.TrustList().UserIsTrusted(userID) {
			RespondWithError(w, http.StatusForbidden, "Forbidden: User is not trusted")
			return
		}

		ctx := context.WithValue(r.Context(), userContextKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// getUserIDFromContext retrieves the caller's id from the request context.
// It returns 0 if the id is not present.
func getUserIDFromContext(r *http.Request) int64 {
	userID, ok := r.Context().Value(userContextKey).(int64)
	if !ok {
		return 0
	}
	return userID
}
