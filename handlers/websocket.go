package handlers

import (
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"chatapp/middleware"
	"chatapp/models"
	"chatapp/realtime"
	"chatapp/service"
)

// WebSocketHandler upgrades authenticated requests into realtime connections.
type WebSocketHandler struct {
	router   *realtime.Router
	chat     *service.ChatService
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

func NewWebSocketHandler(router *realtime.Router, chat *service.ChatService, allowedOrigins []string, logger *zap.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		router: router,
		chat:   chat,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return middleware.OriginAllowed(allowedOrigins, r.Header.Get("Origin"), r.Host)
			},
		},
		logger: logger,
	}
}

// ServeHTTP registers the connection and blocks until it closes.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUserFromContext(r)
	if user == nil {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.String("user_id", user.ID), zap.Error(err))
		return
	}

	conn := realtime.NewConn(user.ID, ws, h.logger)
	h.router.Connect(user.ID, conn)
	defer h.router.Disconnect(user.ID, conn)

	conn.Run(func(ev models.WebSocketMessage) {
		h.handleInbound(user.ID, ev)
	})
}

func (h *WebSocketHandler) handleInbound(userID string, ev models.WebSocketMessage) {
	switch ev.Type {
	case models.EventTyping:
		var payload models.TypingPayload
		if err := ev.Decode(&payload); err != nil {
			h.logger.Debug("invalid typing payload", zap.String("user_id", userID), zap.Error(err))
			return
		}
		h.chat.Typing(userID, payload.RecipientID, payload.Typing)
	default:
		h.logger.Debug("unknown event type", zap.String("user_id", userID), zap.String("event", ev.Type))
	}
}
