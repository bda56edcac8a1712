package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"chatapp/models"
)

type fakeAPI struct {
	self string

	mu          sync.Mutex
	roster      []models.RosterEntry
	rosterErr   error
	history     map[string][]models.Message
	historyErr  error
	historyGate chan struct{}
	historyCall chan string
	sendErr     error
	sent        []models.SendPayload
	sendHook    func()
	markReadErr error
	marked      []string
	nextID      int
}

func newFakeAPI(self string) *fakeAPI {
	return &fakeAPI{self: self, history: make(map[string][]models.Message)}
}

func (f *fakeAPI) Roster(ctx context.Context) ([]models.RosterEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rosterErr != nil {
		return nil, f.rosterErr
	}
	return append([]models.RosterEntry(nil), f.roster...), nil
}

func (f *fakeAPI) History(ctx context.Context, peerID string) ([]models.Message, error) {
	f.mu.Lock()
	gate, call := f.historyGate, f.historyCall
	f.mu.Unlock()

	if call != nil {
		call <- peerID
	}
	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.historyErr != nil {
		return nil, f.historyErr
	}
	return append([]models.Message(nil), f.history[peerID]...), nil
}

func (f *fakeAPI) Send(ctx context.Context, peerID string, payload models.SendPayload) (*models.Message, error) {
	f.mu.Lock()
	hook := f.sendHook
	f.mu.Unlock()
	if hook != nil {
		hook()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.sent = append(f.sent, payload)
	f.nextID++
	return &models.Message{
		ID:         fmt.Sprintf("sent-%d", f.nextID),
		SenderID:   f.self,
		ReceiverID: peerID,
		Text:       payload.Text,
		Image:      payload.Image,
		CreatedAt:  time.Now().UTC(),
	}, nil
}

func (f *fakeAPI) MarkRead(ctx context.Context, peerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.marked = append(f.marked, peerID)
	return f.markReadErr
}

func (f *fakeAPI) markedPeers() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.marked...)
}

type recordingNotifier struct {
	mu   sync.Mutex
	msgs []string
}

func (n *recordingNotifier) Notify(msg string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, msg)
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.msgs)
}

func msgFrom(id, sender, receiver, text string) models.Message {
	return models.Message{ID: id, SenderID: sender, ReceiverID: receiver, Text: text}
}
