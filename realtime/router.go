package realtime

import (
	"go.uber.org/zap"

	"chatapp/models"
)

// Router pushes events to whichever connection a user currently has
// registered. Every push is best effort: an offline user or a full
// connection buffer is logged and reported as false, never as an error.
type Router struct {
	registry *Registry
	logger   *zap.Logger
}

func NewRouter(registry *Registry, logger *zap.Logger) *Router {
	return &Router{registry: registry, logger: logger}
}

// Registry returns the presence registry the router reads from.
func (r *Router) Registry() *Registry {
	return r.registry
}

// Route pushes a newMessage event to the receiver of a stored message.
// It must only be called after the message has been persisted.
func (r *Router) Route(msg models.Message) bool {
	ev, err := models.NewEvent(models.EventNewMessage, msg)
	if err != nil {
		r.logger.Error("failed to encode message event", zap.String("message_id", msg.ID), zap.Error(err))
		return false
	}
	return r.push(msg.ReceiverID, ev)
}

// NotifyRead tells peerID that readerID has read the messages peerID sent.
func (r *Router) NotifyRead(peerID, readerID string) bool {
	ev, err := models.NewEvent(models.EventMessagesRead, models.MessagesReadPayload{ReaderUserID: readerID})
	if err != nil {
		r.logger.Error("failed to encode read event", zap.String("peer_id", peerID), zap.Error(err))
		return false
	}
	return r.push(peerID, ev)
}

// Forward pushes an already built event to userID.
func (r *Router) Forward(userID string, ev models.WebSocketMessage) bool {
	return r.push(userID, ev)
}

// Connect registers h for userID and announces the user as online when
// they had no connection before.
func (r *Router) Connect(userID string, h Handle) {
	previous := r.registry.Register(userID, h)
	if previous != nil {
		r.logger.Info("connection replaced",
			zap.String("user_id", userID),
			zap.String("conn_id", h.ID()),
			zap.String("replaced_conn_id", previous.ID()),
		)
		return
	}
	r.logger.Info("client connected",
		zap.String("user_id", userID),
		zap.String("conn_id", h.ID()),
		zap.Int("online", r.registry.Len()),
	)
	r.BroadcastPresence(userID, true)
}

// Disconnect unregisters h and announces the user as offline, unless h had
// already been replaced by a newer connection.
func (r *Router) Disconnect(userID string, h Handle) {
	if !r.registry.Unregister(userID, h) {
		r.logger.Debug("stale disconnect ignored", zap.String("user_id", userID), zap.String("conn_id", h.ID()))
		return
	}
	r.logger.Info("client disconnected",
		zap.String("user_id", userID),
		zap.String("conn_id", h.ID()),
		zap.Int("online", r.registry.Len()),
	)
	r.BroadcastPresence(userID, false)
}

// BroadcastPresence sends a presence event to every other connected user
// and returns how many accepted it.
func (r *Router) BroadcastPresence(userID string, online bool) int {
	ev, err := models.NewEvent(models.EventPresence, models.PresencePayload{UserID: userID, Online: online})
	if err != nil {
		r.logger.Error("failed to encode presence event", zap.String("user_id", userID), zap.Error(err))
		return 0
	}

	delivered := 0
	for _, h := range r.registry.others(userID) {
		if h.Deliver(ev) {
			delivered++
		}
	}
	return delivered
}

func (r *Router) push(userID string, ev models.WebSocketMessage) bool {
	h, ok := r.registry.Lookup(userID)
	if !ok {
		r.logger.Debug("recipient offline", zap.String("user_id", userID), zap.String("event", ev.Type))
		return false
	}
	if !h.Deliver(ev) {
		r.logger.Warn("event dropped",
			zap.String("user_id", userID),
			zap.String("conn_id", h.ID()),
			zap.String("event", ev.Type),
		)
		return false
	}
	return true
}
