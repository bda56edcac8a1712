package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"chatapp/blobstore"
	"chatapp/database"
	"chatapp/middleware"
	"chatapp/realtime"
	"chatapp/service"
)

// Dependencies are the collaborators the HTTP surface is built from.
type Dependencies struct {
	Users          database.UserRepository
	Sessions       database.SessionStore
	Chat           *service.ChatService
	Realtime       *realtime.Router
	Media          http.Handler
	Ping           func(ctx context.Context) error
	AllowedOrigins []string
	SessionTTL     time.Duration
	MaxUploadBytes int64
	Logger         *zap.Logger
}

// NewHandler wires every route behind request logging and CORS.
func NewHandler(deps Dependencies) http.Handler {
	logger := deps.Logger
	authenticator := middleware.NewAuthenticator(deps.Sessions, deps.Users, logger)
	authHandler := NewAuthHandler(deps.Users, deps.Sessions, deps.SessionTTL, logger)
	messageHandler := NewMessageHandler(deps.Chat, deps.MaxUploadBytes, logger)
	userHandler := NewUserHandler(deps.Users, deps.Realtime.Registry(), logger)
	wsHandler := NewWebSocketHandler(deps.Realtime, deps.Chat, deps.AllowedOrigins, logger)

	r := mux.NewRouter()

	r.HandleFunc("/health", health(deps.Ping)).Methods(http.MethodGet)

	// Auth routes (public)
	r.HandleFunc("/api/auth/signup", authHandler.Signup).Methods(http.MethodPost)
	r.HandleFunc("/api/auth/login", authHandler.Login).Methods(http.MethodPost)
	r.HandleFunc("/api/auth/logout", authHandler.Logout).Methods(http.MethodPost)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(authenticator.Require)

	api.HandleFunc("/auth/me", authHandler.Me).Methods(http.MethodGet)

	api.HandleFunc("/messages/users", messageHandler.GetUsers).Methods(http.MethodGet)
	api.HandleFunc("/messages/send/{id}", messageHandler.SendMessage).Methods(http.MethodPost)
	api.HandleFunc("/messages/read/{userId}", messageHandler.MarkAsRead).Methods(http.MethodPost)
	api.HandleFunc("/messages/{id}", messageHandler.GetMessages).Methods(http.MethodGet)

	api.HandleFunc("/users/search", userHandler.SearchUsers).Methods(http.MethodGet)
	api.HandleFunc("/users/{id}", userHandler.GetUser).Methods(http.MethodGet)

	r.Handle("/ws", authenticator.Require(wsHandler)).Methods(http.MethodGet)

	if deps.Media != nil {
		r.PathPrefix(blobstore.URLPrefix).Handler(deps.Media).Methods(http.MethodGet, http.MethodHead)
	}

	return middleware.RequestLogger(logger)(middleware.CORS(deps.AllowedOrigins)(r))
}

func health(ping func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if ping != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := ping(ctx); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
