package realtime

import (
	"sync"

	"chatapp/models"
)

type fakeHandle struct {
	id     string
	userID string

	mu     sync.Mutex
	events []models.WebSocketMessage
	reject bool
	closed bool
}

func newFakeHandle(id, userID string) *fakeHandle {
	return &fakeHandle{id: id, userID: userID}
}

func (f *fakeHandle) ID() string     { return f.id }
func (f *fakeHandle) UserID() string { return f.userID }

func (f *fakeHandle) Deliver(ev models.WebSocketMessage) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reject || f.closed {
		return false
	}
	f.events = append(f.events, ev)
	return true
}

func (f *fakeHandle) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakeHandle) received() []models.WebSocketMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.WebSocketMessage, len(f.events))
	copy(out, f.events)
	return out
}
