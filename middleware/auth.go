package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"chatapp/database"
	"chatapp/models"
)

type contextKey string

const UserContextKey contextKey = "user"

// SessionCookieName is the cookie carrying the session token.
const SessionCookieName = "session"

// Authenticator resolves a session token to a user.
type Authenticator struct {
	sessions database.SessionStore
	users    database.UserRepository
	logger   *zap.Logger
}

func NewAuthenticator(sessions database.SessionStore, users database.UserRepository, logger *zap.Logger) *Authenticator {
	return &Authenticator{sessions: sessions, users: users, logger: logger}
}

// Require rejects the request with 401 unless it carries a valid session,
// and otherwise adds the user to the request context.
func (a *Authenticator) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := TokenFromRequest(r)
		if token == "" {
			unauthorized(w, "Unauthorized")
			return
		}

		user, err := a.Resolve(r.Context(), token)
		if err != nil {
			if !errors.Is(err, database.ErrNotFound) {
				a.logger.Error("session lookup failed", zap.Error(err))
			}
			unauthorized(w, "Invalid session")
			return
		}

		ctx := context.WithValue(r.Context(), UserContextKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Resolve returns the user owning an unexpired session token.
func (a *Authenticator) Resolve(ctx context.Context, token string) (*models.User, error) {
	session, err := a.sessions.GetSession(ctx, token)
	if err != nil {
		return nil, err
	}
	return a.users.GetUserByID(ctx, session.UserID)
}

// TokenFromRequest reads the session token from the session cookie, a
// bearer Authorization header, or the token query parameter (browsers
// cannot set headers on websocket handshakes).
func TokenFromRequest(r *http.Request) string {
	if cookie, err := r.Cookie(SessionCookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	if auth := r.Header.Get("Authorization"); auth != "" {
		scheme, token, ok := strings.Cut(auth, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}
	return r.URL.Query().Get("token")
}

// GetUserFromContext retrieves the user from the request context
func GetUserFromContext(r *http.Request) *models.User {
	user, ok := r.Context().Value(UserContextKey).(*models.User)
	if !ok {
		return nil
	}
	return user
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
