// Package service implements the chat operations behind the HTTP API:
// sending, history, the unread roster, and read marking.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"chatapp/blobstore"
	"chatapp/database"
	"chatapp/models"
)

// Delivery pushes events to live connections. Every method is best effort.
type Delivery interface {
	Route(msg models.Message) bool
	NotifyRead(peerID, readerID string) bool
	Forward(userID string, ev models.WebSocketMessage) bool
}

// Presence lists the users that currently have a live connection.
type Presence interface {
	OnlineUsers() []string
}

// ChatService coordinates the repositories, blob store and delivery router.
type ChatService struct {
	messages database.MessageRepository
	users    database.UserRepository
	blobs    blobstore.Store
	delivery Delivery
	presence Presence
	timeout  time.Duration
	logger   *zap.Logger
}

// Options configures a ChatService.
type Options struct {
	Messages database.MessageRepository
	Users    database.UserRepository
	Blobs    blobstore.Store
	Delivery Delivery
	Presence Presence
	// RequestTimeout bounds each repository and blob store call. Zero disables it.
	RequestTimeout time.Duration
	Logger         *zap.Logger
}

func NewChatService(opts Options) *ChatService {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChatService{
		messages: opts.Messages,
		users:    opts.Users,
		blobs:    opts.Blobs,
		delivery: opts.Delivery,
		presence: opts.Presence,
		timeout:  opts.RequestTimeout,
		logger:   logger,
	}
}

func (s *ChatService) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

// rosterConcurrency bounds parallel unread-count queries per roster request.
const rosterConcurrency = 8

type pendingMedia struct {
	kind     blobstore.MediaKind
	data     []byte
	mimeType string
	url      string
}

// Send validates payload, uploads any media, stores the message and then
// routes it to the receiver's live connection. Nothing is stored when an
// upload fails, and uploads that did succeed are removed again.
func (s *ChatService) Send(ctx context.Context, senderID, receiverID string, payload models.SendPayload) (*models.Message, error) {
	if senderID == "" {
		return nil, ErrAuthenticationRequired
	}
	if receiverID == "" {
		return nil, fmt.Errorf("%w: receiver is required", ErrValidation)
	}

	payload.Normalize()
	if payload.Empty() {
		return nil, fmt.Errorf("%w: message must contain text or media", ErrValidation)
	}

	media, err := decodeMedia(payload)
	if err != nil {
		return nil, err
	}

	ctx, cancel := s.bound(ctx)
	defer cancel()

	if err := s.ensureUser(ctx, receiverID); err != nil {
		return nil, err
	}

	if err := s.upload(ctx, media); err != nil {
		return nil, err
	}

	msg := models.Message{SenderID: senderID, ReceiverID: receiverID, Text: payload.Text}
	for _, m := range media {
		switch m.kind {
		case blobstore.KindImage:
			msg.Image = m.url
		case blobstore.KindAudio:
			msg.Audio = m.url
		case blobstore.KindVideo:
			msg.Video = m.url
		}
	}

	stored, err := s.messages.InsertMessage(ctx, msg)
	if err != nil {
		s.discard(media)
		s.logger.Error("failed to store message",
			zap.String("user_id", senderID),
			zap.String("peer_id", receiverID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: store message: %w", ErrUpstream, err)
	}

	if !s.delivery.Route(*stored) {
		s.logger.Debug("message left for pull",
			zap.String("message_id", stored.ID),
			zap.String("peer_id", receiverID),
			zap.String("kind", string(stored.Kind())),
		)
	}
	return stored, nil
}

func decodeMedia(payload models.SendPayload) ([]*pendingMedia, error) {
	fields := []struct {
		kind blobstore.MediaKind
		raw  string
	}{
		{blobstore.KindImage, payload.Image},
		{blobstore.KindAudio, payload.Audio},
		{blobstore.KindVideo, payload.Video},
	}

	media := make([]*pendingMedia, 0, len(fields))
	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		data, mimeType, err := blobstore.ParseDataURL(f.raw, f.kind)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrValidation, f.kind, err)
		}
		media = append(media, &pendingMedia{kind: f.kind, data: data, mimeType: mimeType})
	}
	return media, nil
}

func (s *ChatService) upload(ctx context.Context, media []*pendingMedia) error {
	for i, m := range media {
		url, err := s.blobs.Upload(ctx, m.data, m.kind)
		if err != nil {
			s.discard(media[:i])
			s.logger.Error("media upload failed",
				zap.String("kind", string(m.kind)),
				zap.String("mime_type", m.mimeType),
				zap.Error(err),
			)
			return fmt.Errorf("%w: upload %s: %w", ErrUpstream, m.kind, err)
		}
		m.url = url
	}
	return nil
}

// discard removes already uploaded blobs when the store supports it.
func (s *ChatService) discard(media []*pendingMedia) {
	deleter, ok := s.blobs.(blobstore.Deleter)
	if !ok {
		return
	}
	ctx, cancel := s.bound(context.Background())
	defer cancel()

	for _, m := range media {
		if m.url == "" {
			continue
		}
		if err := deleter.Delete(ctx, m.url); err != nil {
			s.logger.Warn("failed to remove orphaned upload", zap.String("url", m.url), zap.Error(err))
		}
	}
}

func (s *ChatService) ensureUser(ctx context.Context, userID string) error {
	if _, err := s.users.GetUserByID(ctx, userID); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return fmt.Errorf("%w: user %s", ErrNotFound, userID)
		}
		return fmt.Errorf("%w: look up user: %w", ErrUpstream, err)
	}
	return nil
}

// History returns the conversation between userID and peerID, oldest first.
func (s *ChatService) History(ctx context.Context, userID, peerID string) ([]models.Message, error) {
	if userID == "" {
		return nil, ErrAuthenticationRequired
	}
	if peerID == "" {
		return nil, fmt.Errorf("%w: peer is required", ErrValidation)
	}

	ctx, cancel := s.bound(ctx)
	defer cancel()

	if err := s.ensureUser(ctx, peerID); err != nil {
		return nil, err
	}

	messages, err := s.messages.FindConversation(ctx, userID, peerID)
	if err != nil {
		s.logger.Error("failed to load conversation",
			zap.String("user_id", userID),
			zap.String("peer_id", peerID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: load conversation: %w", ErrUpstream, err)
	}
	return messages, nil
}

// Roster lists every other user with the number of messages they sent to
// userID that are still unread. Counts are read fresh on every call.
func (s *ChatService) Roster(ctx context.Context, userID string) ([]models.RosterEntry, error) {
	if userID == "" {
		return nil, ErrAuthenticationRequired
	}

	ctx, cancel := s.bound(ctx)
	defer cancel()

	users, err := s.users.ListUsersExcept(ctx, userID)
	if err != nil {
		s.logger.Error("failed to list users", zap.String("user_id", userID), zap.Error(err))
		return nil, fmt.Errorf("%w: list users: %w", ErrUpstream, err)
	}

	online := make(map[string]bool)
	if s.presence != nil {
		for _, id := range s.presence.OnlineUsers() {
			online[id] = true
		}
	}

	roster := make([]models.RosterEntry, len(users))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(rosterConcurrency)
	for i := range users {
		i := i
		peer := &users[i]
		g.Go(func() error {
			unread, err := s.messages.CountUnread(gctx, peer.ID, userID)
			if err != nil {
				return fmt.Errorf("count unread from %s: %w", peer.ID, err)
			}
			roster[i] = models.RosterEntry{
				UserResponse: peer.ToResponse(),
				UnreadCount:  unread,
				Online:       online[peer.ID],
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.logger.Error("failed to count unread", zap.String("user_id", userID), zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrUpstream, err)
	}
	return roster, nil
}

// MarkRead marks every message peerID sent to readerID as read, then tells
// peerID's connection. Repeating it changes nothing in the repository.
func (s *ChatService) MarkRead(ctx context.Context, readerID, peerID string) (int64, error) {
	if readerID == "" {
		return 0, ErrAuthenticationRequired
	}
	if peerID == "" {
		return 0, fmt.Errorf("%w: peer is required", ErrValidation)
	}

	ctx, cancel := s.bound(ctx)
	defer cancel()

	updated, err := s.messages.MarkRead(ctx, peerID, readerID)
	if err != nil {
		s.logger.Error("failed to mark messages read",
			zap.String("user_id", readerID),
			zap.String("peer_id", peerID),
			zap.Error(err),
		)
		return 0, fmt.Errorf("%w: mark read: %w", ErrUpstream, err)
	}

	s.delivery.NotifyRead(peerID, readerID)
	return updated, nil
}

// Typing forwards a typing indicator from senderID to recipientID.
func (s *ChatService) Typing(senderID, recipientID string, typing bool) bool {
	if senderID == "" || recipientID == "" || senderID == recipientID {
		return false
	}
	ev, err := models.NewEvent(models.EventTyping, models.TypingPayload{UserID: senderID, Typing: typing})
	if err != nil {
		return false
	}
	return s.delivery.Forward(recipientID, ev)
}
