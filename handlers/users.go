package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"chatapp/database"
	"chatapp/middleware"
	"chatapp/models"
)

const maxSearchResults = 20

// UserHandler serves user lookups.
type UserHandler struct {
	users    database.UserRepository
	presence interface{ IsOnline(string) bool }
	logger   *zap.Logger
}

func NewUserHandler(users database.UserRepository, presence interface{ IsOnline(string) bool }, logger *zap.Logger) *UserHandler {
	return &UserHandler{users: users, presence: presence, logger: logger}
}

type userResult struct {
	models.UserResponse
	Online bool `json:"online"`
}

// SearchUsers searches for other users by username prefix or substring.
func (h *UserHandler) SearchUsers(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUserFromContext(r)
	if user == nil {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	query := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("q")))
	if query == "" {
		writeJSON(w, http.StatusOK, []userResult{})
		return
	}

	users, err := h.users.ListUsersExcept(r.Context(), user.ID)
	if err != nil {
		h.logger.Error("user search failed", zap.String("user_id", user.ID), zap.Error(err))
		writeError(w, http.StatusBadGateway, "Search failed")
		return
	}

	results := make([]userResult, 0)
	for i := range users {
		if !strings.Contains(strings.ToLower(users[i].Username), query) {
			continue
		}
		results = append(results, h.result(&users[i]))
		if len(results) == maxSearchResults {
			break
		}
	}
	writeJSON(w, http.StatusOK, results)
}

// GetUser returns one user's public profile.
func (h *UserHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	user, err := h.users.GetUserByID(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			writeError(w, http.StatusNotFound, "User not found")
			return
		}
		h.logger.Error("user lookup failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, "Failed to get user")
		return
	}
	writeJSON(w, http.StatusOK, h.result(user))
}

func (h *UserHandler) result(u *models.User) userResult {
	return userResult{UserResponse: u.ToResponse(), Online: h.presence != nil && h.presence.IsOnline(u.ID)}
}
