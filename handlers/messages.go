package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"chatapp/middleware"
	"chatapp/models"
	"chatapp/service"
)

// MessageHandler exposes the chat service over HTTP.
type MessageHandler struct {
	chat           *service.ChatService
	maxUploadBytes int64
	logger         *zap.Logger
}

func NewMessageHandler(chat *service.ChatService, maxUploadBytes int64, logger *zap.Logger) *MessageHandler {
	return &MessageHandler{chat: chat, maxUploadBytes: maxUploadBytes, logger: logger}
}

// GetUsers returns every other user with their unread count.
func (h *MessageHandler) GetUsers(w http.ResponseWriter, r *http.Request) {
	roster, err := h.chat.Roster(r.Context(), currentUserID(r))
	if err != nil {
		writeServiceError(w, h.logger, err, "Failed to get users")
		return
	}
	writeJSON(w, http.StatusOK, roster)
}

// GetMessages returns the conversation with the user in the path.
func (h *MessageHandler) GetMessages(w http.ResponseWriter, r *http.Request) {
	peerID := mux.Vars(r)["id"]

	messages, err := h.chat.History(r.Context(), currentUserID(r), peerID)
	if err != nil {
		writeServiceError(w, h.logger, err, "Failed to get messages")
		return
	}
	writeJSON(w, http.StatusOK, messages)
}

// SendMessage stores a message for the user in the path and returns it.
func (h *MessageHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	receiverID := mux.Vars(r)["id"]

	if h.maxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	}

	var payload models.SendPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "Message too large")
			return
		}
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	msg, err := h.chat.Send(r.Context(), currentUserID(r), receiverID, payload)
	if err != nil {
		writeServiceError(w, h.logger, err, "Failed to send message")
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

// MarkAsRead marks messages from the user in the path as read
func (h *MessageHandler) MarkAsRead(w http.ResponseWriter, r *http.Request) {
	peerID := mux.Vars(r)["userId"]

	updated, err := h.chat.MarkRead(r.Context(), currentUserID(r), peerID)
	if err != nil {
		writeServiceError(w, h.logger, err, "Failed to mark as read")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "updated": updated})
}

func currentUserID(r *http.Request) string {
	if user := middleware.GetUserFromContext(r); user != nil {
		return user.ID
	}
	return ""
}
