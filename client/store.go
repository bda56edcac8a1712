// Package client holds the per-session chat state a client renders from,
// together with the API client and realtime subscription that feed it.
package client

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"chatapp/models"
)

var (
	// ErrEmptyMessage is returned when a send carries no text or media.
	ErrEmptyMessage = errors.New("message is empty")
	// ErrNoActivePeer is returned when sending without an open conversation.
	ErrNoActivePeer = errors.New("no conversation selected")
	// ErrSuperseded is returned by SelectPeer when a later selection started
	// before this one finished.
	ErrSuperseded = errors.New("selection superseded")
)

// Notifier shows a transient message to the user.
type Notifier interface {
	Notify(msg string)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(msg string)

func (f NotifierFunc) Notify(msg string) { f(msg) }

// Snapshot is a copy of the store state.
type Snapshot struct {
	ActivePeer string
	Messages   []models.Message
	Roster     []models.RosterEntry
	Unread     map[string]int
	Online     map[string]bool
	Typing     map[string]bool
}

// Store is the single state container for one signed-in client. Push
// events reach it through one long-lived subscription; which conversation
// they land in is decided by the active peer at the moment they arrive.
//
// The displayed message list only ever holds server-acknowledged messages,
// in arrival order. A failed call leaves the state as it was.
type Store struct {
	api      API
	notifier Notifier
	selfID   string
	logger   *zap.Logger

	mu         sync.Mutex
	activePeer string
	messages   []models.Message
	inView     map[string]struct{}
	roster     []models.RosterEntry
	unread     map[string]int
	online     map[string]bool
	typing     map[string]bool

	// selecting is the peer whose history is being fetched; pushes for
	// that conversation are held in pending until the fetch resolves.
	selecting string
	selectSeq uint64
	pending   []models.Message

	listenersMu sync.Mutex
	listeners   []func()
}

func NewStore(api API, selfID string, notifier Notifier, logger *zap.Logger) *Store {
	if notifier == nil {
		notifier = NotifierFunc(func(string) {})
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		api:      api,
		notifier: notifier,
		selfID:   selfID,
		logger:   logger,
		inView:   make(map[string]struct{}),
		unread:   make(map[string]int),
		online:   make(map[string]bool),
		typing:   make(map[string]bool),
	}
}

// OnChange registers fn to run after every state change.
func (s *Store) OnChange(fn func()) {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	s.listeners = append(s.listeners, fn)
}

func (s *Store) changed() {
	s.listenersMu.Lock()
	listeners := append([]func(){}, s.listeners...)
	s.listenersMu.Unlock()

	for _, fn := range listeners {
		fn()
	}
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		ActivePeer: s.activePeer,
		Messages:   append([]models.Message(nil), s.messages...),
		Roster:     append([]models.RosterEntry(nil), s.roster...),
		Unread:     make(map[string]int, len(s.unread)),
		Online:     make(map[string]bool, len(s.online)),
		Typing:     make(map[string]bool, len(s.typing)),
	}
	for k, v := range s.unread {
		snap.Unread[k] = v
	}
	for k, v := range s.online {
		snap.Online[k] = v
	}
	for k, v := range s.typing {
		snap.Typing[k] = v
	}
	return snap
}

// ActivePeer returns the peer of the open conversation, or "".
func (s *Store) ActivePeer() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activePeer
}

// Unread returns the unread counter for peerID.
func (s *Store) Unread(peerID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unread[peerID]
}

// LoadRoster fetches the roster and resets every unread counter and
// presence flag to what the server reports.
func (s *Store) LoadRoster(ctx context.Context) error {
	roster, err := s.api.Roster(ctx)
	if err != nil {
		s.fail("Failed to load users", err)
		return err
	}

	s.mu.Lock()
	s.roster = roster
	s.unread = make(map[string]int, len(roster))
	s.online = make(map[string]bool, len(roster))
	for _, entry := range roster {
		if entry.UnreadCount > 0 {
			s.unread[entry.ID] = entry.UnreadCount
		}
		if entry.Online {
			s.online[entry.ID] = true
		}
	}
	s.mu.Unlock()

	s.changed()
	return nil
}

// SelectPeer opens the conversation with peerID: it fetches the history,
// clears the peer's unread counter and marks the peer's messages read.
// If the fetch fails the previous conversation stays open.
func (s *Store) SelectPeer(ctx context.Context, peerID string) error {
	s.mu.Lock()
	s.selectSeq++
	seq := s.selectSeq
	released := s.releasePendingLocked()
	s.selecting = peerID
	s.mu.Unlock()
	if released {
		s.changed()
	}

	history, err := s.api.History(ctx, peerID)

	s.mu.Lock()
	if seq != s.selectSeq {
		s.mu.Unlock()
		return ErrSuperseded
	}
	if err != nil {
		released = s.releasePendingLocked()
		s.selecting = ""
		s.mu.Unlock()
		if released {
			s.changed()
		}
		s.fail("Failed to load messages", err)
		return err
	}
	held := s.pending
	s.selecting = ""
	s.pending = nil

	s.activePeer = peerID
	s.messages = make([]models.Message, 0, len(history)+len(held))
	s.inView = make(map[string]struct{}, len(history)+len(held))
	for _, msg := range history {
		s.appendLocked(msg)
	}
	for _, msg := range held {
		s.appendLocked(msg)
	}
	delete(s.unread, peerID)
	delete(s.typing, peerID)
	s.mu.Unlock()
	s.changed()

	if err := s.api.MarkRead(ctx, peerID); err != nil {
		s.fail("Failed to mark messages as read", err)
		return err
	}
	return nil
}

// ClearSelection closes the open conversation.
func (s *Store) ClearSelection() {
	s.mu.Lock()
	s.selectSeq++
	s.releasePendingLocked()
	s.selecting = ""
	s.activePeer = ""
	s.messages = nil
	s.inView = make(map[string]struct{})
	s.mu.Unlock()
	s.changed()
}

// releasePendingLocked drops the pushes held for an in-flight selection
// that will not be applied. Those from the peer count as unread.
func (s *Store) releasePendingLocked() bool {
	counted := false
	for _, msg := range s.pending {
		if msg.SenderID != s.selfID {
			s.unread[msg.SenderID]++
			counted = true
		}
	}
	s.pending = nil
	return counted
}

// SendMessage posts payload to the active peer and appends the stored
// message once the server has acknowledged it.
func (s *Store) SendMessage(ctx context.Context, payload models.SendPayload) (*models.Message, error) {
	payload.Normalize()
	if payload.Empty() {
		s.notifier.Notify("Message cannot be empty")
		return nil, ErrEmptyMessage
	}

	peerID := s.ActivePeer()
	if peerID == "" {
		s.notifier.Notify("Select a conversation first")
		return nil, ErrNoActivePeer
	}

	msg, err := s.api.Send(ctx, peerID, payload)
	if err != nil {
		s.fail("Failed to send message", err)
		return nil, err
	}

	s.mu.Lock()
	appended := false
	if s.activePeer == peerID {
		appended = s.appendLocked(*msg)
	}
	s.mu.Unlock()

	if appended {
		s.changed()
	}
	return msg, nil
}

// ReceivePush applies a newMessage event.
func (s *Store) ReceivePush(msg models.Message) {
	s.mu.Lock()
	changed := false
	switch {
	case s.activePeer != "" && msg.Involves(s.selfID, s.activePeer):
		changed = s.appendLocked(msg)
		if msg.SenderID == s.activePeer {
			delete(s.typing, msg.SenderID)
		}
	case s.selecting != "" && msg.Involves(s.selfID, s.selecting):
		s.pending = append(s.pending, msg)
	case msg.SenderID == s.selfID:
		// Own message to a conversation that is not open.
	default:
		s.unread[msg.SenderID]++
		changed = true
	}
	s.mu.Unlock()

	if changed {
		s.changed()
	}
}

// ReceiveRead applies a messagesRead event: when the reader is the active
// peer, every message this client sent to them is shown as read.
func (s *Store) ReceiveRead(readerID string) {
	s.mu.Lock()
	changed := false
	if readerID != "" && readerID == s.activePeer {
		for i := range s.messages {
			m := &s.messages[i]
			if m.SenderID == s.selfID && m.ReceiverID == readerID && !m.IsRead {
				m.IsRead = true
				changed = true
			}
		}
	}
	s.mu.Unlock()

	if changed {
		s.changed()
	}
}

// ReceivePresence records a user going online or offline.
func (s *Store) ReceivePresence(userID string, online bool) {
	s.mu.Lock()
	if online {
		s.online[userID] = true
	} else {
		delete(s.online, userID)
		delete(s.typing, userID)
	}
	for i := range s.roster {
		if s.roster[i].ID == userID {
			s.roster[i].Online = online
		}
	}
	s.mu.Unlock()
	s.changed()
}

// ReceiveTyping records a typing indicator from userID.
func (s *Store) ReceiveTyping(userID string, typing bool) {
	s.mu.Lock()
	if typing {
		s.typing[userID] = true
	} else {
		delete(s.typing, userID)
	}
	s.mu.Unlock()
	s.changed()
}

// HandleEvent decodes a realtime event and applies it.
func (s *Store) HandleEvent(ev models.WebSocketMessage) {
	switch ev.Type {
	case models.EventNewMessage:
		var msg models.Message
		if err := ev.Decode(&msg); err != nil {
			s.logger.Warn("invalid message event", zap.Error(err))
			return
		}
		s.ReceivePush(msg)
	case models.EventMessagesRead:
		var payload models.MessagesReadPayload
		if err := ev.Decode(&payload); err != nil {
			s.logger.Warn("invalid read event", zap.Error(err))
			return
		}
		s.ReceiveRead(payload.ReaderUserID)
	case models.EventPresence:
		var payload models.PresencePayload
		if err := ev.Decode(&payload); err != nil {
			s.logger.Warn("invalid presence event", zap.Error(err))
			return
		}
		s.ReceivePresence(payload.UserID, payload.Online)
	case models.EventTyping:
		var payload models.TypingPayload
		if err := ev.Decode(&payload); err != nil {
			s.logger.Warn("invalid typing event", zap.Error(err))
			return
		}
		s.ReceiveTyping(payload.UserID, payload.Typing)
	default:
		s.logger.Debug("unknown event type", zap.String("event", ev.Type))
	}
}

// appendLocked appends msg unless a message with the same id is already shown.
func (s *Store) appendLocked(msg models.Message) bool {
	if msg.ID != "" {
		if _, ok := s.inView[msg.ID]; ok {
			return false
		}
		s.inView[msg.ID] = struct{}{}
	}
	s.messages = append(s.messages, msg)
	return true
}

func (s *Store) fail(msg string, err error) {
	s.logger.Warn(msg, zap.Error(err))
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		s.notifier.Notify(msg + ": " + apiErr.Message)
		return
	}
	s.notifier.Notify(msg)
}
