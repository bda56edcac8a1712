package handlers

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"chatapp/database"
	"chatapp/middleware"
	"chatapp/models"
)

type signupRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type authResponse struct {
	Success bool                `json:"success"`
	Token   string              `json:"token"`
	User    models.UserResponse `json:"user"`
}

// AuthHandler issues and revokes session tokens.
type AuthHandler struct {
	users    database.UserRepository
	sessions database.SessionStore
	ttl      time.Duration
	logger   *zap.Logger
}

func NewAuthHandler(users database.UserRepository, sessions database.SessionStore, ttl time.Duration, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{users: users, sessions: sessions, ttl: ttl, logger: logger}
}

// Signup handles user registration
func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))

	if len(req.Username) < 3 || len(req.Username) > 20 {
		writeError(w, http.StatusBadRequest, "Username must be 3-20 characters")
		return
	}
	if !strings.Contains(req.Email, "@") {
		writeError(w, http.StatusBadRequest, "Invalid email address")
		return
	}
	if len(req.Password) < 6 {
		writeError(w, http.StatusBadRequest, "Password must be at least 6 characters")
		return
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		h.logger.Error("failed to hash password", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Server error")
		return
	}

	user, err := h.users.CreateUser(r.Context(), req.Username, req.Email, string(hashedPassword))
	if err != nil {
		if errors.Is(err, database.ErrDuplicate) {
			writeError(w, http.StatusConflict, "Username or email already registered")
			return
		}
		h.logger.Error("failed to create user", zap.String("username", req.Username), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to create user")
		return
	}

	h.startSession(w, r, user, http.StatusCreated)
}

// Login accepts a username or an email address.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	req.Username = strings.TrimSpace(req.Username)

	user, err := h.users.GetUserByUsername(r.Context(), req.Username)
	if errors.Is(err, database.ErrNotFound) {
		user, err = h.users.GetUserByEmail(r.Context(), strings.ToLower(req.Username))
	}
	if err != nil {
		if !errors.Is(err, database.ErrNotFound) {
			h.logger.Error("failed to look up user", zap.Error(err))
			writeError(w, http.StatusBadGateway, "Login failed")
			return
		}
		writeError(w, http.StatusUnauthorized, "Invalid username or password")
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)); err != nil {
		writeError(w, http.StatusUnauthorized, "Invalid username or password")
		return
	}

	h.startSession(w, r, user, http.StatusOK)
}

func (h *AuthHandler) startSession(w http.ResponseWriter, r *http.Request, user *models.User, status int) {
	sessionID, err := generateSessionID()
	if err != nil {
		h.logger.Error("failed to generate session id", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Server error")
		return
	}

	expiresAt := time.Now().Add(h.ttl)
	session := models.Session{ID: sessionID, UserID: user.ID, ExpiresAt: expiresAt}
	if err := h.sessions.CreateSession(r.Context(), session); err != nil {
		h.logger.Error("failed to create session", zap.String("user_id", user.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to create session")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    sessionID,
		Path:     "/",
		Expires:  expiresAt,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	writeJSON(w, status, authResponse{Success: true, Token: sessionID, User: user.ToResponse()})
}

// Logout handles user logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if token := middleware.TokenFromRequest(r); token != "" {
		if err := h.sessions.DeleteSession(r.Context(), token); err != nil {
			h.logger.Warn("failed to delete session", zap.Error(err))
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
	})

	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// Me returns the current authenticated user
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUserFromContext(r)
	if user == nil {
		writeError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}

	writeJSON(w, http.StatusOK, user.ToResponse())
}

func generateSessionID() (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}
