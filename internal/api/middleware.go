package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/podiumapp/podium-server/internal/http/response"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const (
	contextKeyUserID      contextKey = "user_id"
	contextKeyDisplayName contextKey = "display_name"
	contextKeyIsRoot      contextKey = "is_root"
	contextKeySessionID   contextKey = "session_id"
)

// requireAuth is middleware that validates access tokens and attaches user
// context. A valid token alone is not enough: the backing session must still
// exist, so suspension (which deletes sessions) takes effect before token
// expiry.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			response.Unauthorized(w, "Missing authorization header", s.logger)
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			response.Unauthorized(w, "Invalid authorization header format", s.logger)
			return
		}

		claims, err := s.tokens.VerifyAccessToken(parts[1])
		if err != nil {
			response.Unauthorized(w, "Invalid or expired token", s.logger)
			return
		}

		session, err := s.store.GetSessionByTokenID(r.Context(), claims.TokenID)
		if err != nil {
			response.Unauthorized(w, "Session revoked or expired", s.logger)
			return
		}

		if err := s.store.TouchSession(r.Context(), session.ID, time.Now()); err != nil {
			s.logger.Warn("Failed to touch session", "error", err, "session_id", session.ID)
		}

		ctx := context.WithValue(r.Context(), contextKeyUserID, claims.UserID)
		ctx = context.WithValue(ctx, contextKeyDisplayName, claims.DisplayName)
		ctx = context.WithValue(ctx, contextKeyIsRoot, claims.IsRoot)
		ctx = context.WithValue(ctx, contextKeySessionID, session.ID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireRoot is middleware that ensures the authenticated user is a root
// user. Must be used after requireAuth.
func (s *Server) requireRoot(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !isRoot(r.Context()) {
			response.Forbidden(w, "Root access required", s.logger)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// edgeRateLimit applies the per-IP token bucket at the outermost layer,
// before any handler work. The domain sliding-window limiter inside the
// action pipeline is separate and per-user.
func (s *Server) edgeRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := getClientIP(r)

		if !s.edge.Allow(key) {
			s.logger.Warn("Edge rate limit exceeded", "ip", key, "path", r.URL.Path)
			response.TooManyRequests(w, "Too many requests. Please try again later.", s.logger)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// getUserID extracts the authenticated user ID from request context.
// Returns empty string if not authenticated.
func getUserID(ctx context.Context) string {
	if userID, ok := ctx.Value(contextKeyUserID).(string); ok {
		return userID
	}
	return ""
}

// isRoot checks if the authenticated user is a root user.
// Returns false if not authenticated.
func isRoot(ctx context.Context) bool {
	if isRoot, ok := ctx.Value(contextKeyIsRoot).(bool); ok {
		return isRoot
	}
	return false
}

// getClientIP extracts the client IP from the request.
// Checks X-Forwarded-For and X-Real-IP headers before falling back to
// RemoteAddr.
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		// Take first IP in the chain.
		for i := 0; i < len(xff); i++ {
			if xff[i] == ',' {
				return xff[:i]
			}
		}
		return xff
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	// Fall back to RemoteAddr (strip port).
	ip := r.RemoteAddr
	for i := len(ip) - 1; i >= 0; i-- {
		if ip[i] == ':' {
			return ip[:i]
		}
	}
	return ip
}
