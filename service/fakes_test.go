package service

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"go.uber.org/zap"

	"chatapp/blobstore"
	"chatapp/database"
	"chatapp/models"
)

type fakeBlobs struct {
	mu      sync.Mutex
	failOn  blobstore.MediaKind
	uploads []string
	deleted []string
}

func (f *fakeBlobs) Upload(_ context.Context, data []byte, kind blobstore.MediaKind) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if kind == f.failOn {
		return "", errors.New("blob store unavailable")
	}
	url := "http://blobs.test/" + string(kind) + "/" + string(rune('a'+len(f.uploads)))
	f.uploads = append(f.uploads, url)
	return url, nil
}

func (f *fakeBlobs) Delete(_ context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, url)
	return nil
}

type fakeDelivery struct {
	mu       sync.Mutex
	online   map[string]bool
	routed   []models.Message
	reads    []models.MessagesReadPayload
	readPeer []string
	typing   []models.WebSocketMessage
}

func newFakeDelivery(online ...string) *fakeDelivery {
	d := &fakeDelivery{online: make(map[string]bool)}
	for _, id := range online {
		d.online[id] = true
	}
	return d
}

func (d *fakeDelivery) Route(msg models.Message) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.online[msg.ReceiverID] {
		return false
	}
	d.routed = append(d.routed, msg)
	return true
}

func (d *fakeDelivery) NotifyRead(peerID, readerID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.readPeer = append(d.readPeer, peerID)
	d.reads = append(d.reads, models.MessagesReadPayload{ReaderUserID: readerID})
	return d.online[peerID]
}

func (d *fakeDelivery) Forward(userID string, ev models.WebSocketMessage) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.typing = append(d.typing, ev)
	return d.online[userID]
}

func (d *fakeDelivery) OnlineUsers() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	ids := make([]string, 0, len(d.online))
	for id, ok := range d.online {
		if ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// failingStore wraps a real store and fails selected operations.
type failingStore struct {
	database.Store
	failInsert bool
	failFind   bool
	failCount  bool
	failMark   bool
}

var errStoreDown = errors.New("store down")

func (f *failingStore) InsertMessage(ctx context.Context, msg models.Message) (*models.Message, error) {
	if f.failInsert {
		return nil, errStoreDown
	}
	return f.Store.InsertMessage(ctx, msg)
}

func (f *failingStore) FindConversation(ctx context.Context, a, b string) ([]models.Message, error) {
	if f.failFind {
		return nil, errStoreDown
	}
	return f.Store.FindConversation(ctx, a, b)
}

func (f *failingStore) CountUnread(ctx context.Context, sender, receiver string) (int, error) {
	if f.failCount {
		return 0, errStoreDown
	}
	return f.Store.CountUnread(ctx, sender, receiver)
}

func (f *failingStore) MarkRead(ctx context.Context, sender, receiver string) (int64, error) {
	if f.failMark {
		return 0, errStoreDown
	}
	return f.Store.MarkRead(ctx, sender, receiver)
}

type testEnv struct {
	svc      *ChatService
	store    *failingStore
	blobs    *fakeBlobs
	delivery *fakeDelivery
	users    map[string]string
}

func newTestEnv(t *testing.T, online ...string) *testEnv {
	t.Helper()

	sqlStore, err := database.OpenSQLite(filepath.Join(t.TempDir(), "chat.db"))
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() { _ = sqlStore.Close() })

	env := &testEnv{
		store:    &failingStore{Store: sqlStore},
		blobs:    &fakeBlobs{},
		delivery: newFakeDelivery(),
		users:    make(map[string]string),
	}
	for _, name := range []string{"alice", "bob", "carol"} {
		u, err := sqlStore.CreateUser(context.Background(), name, name+"@example.com", "hash")
		if err != nil {
			t.Fatalf("create user %s: %v", name, err)
		}
		env.users[name] = u.ID
	}
	for _, name := range online {
		env.delivery.online[env.users[name]] = true
	}

	env.svc = NewChatService(Options{
		Messages: env.store,
		Users:    env.store,
		Blobs:    env.blobs,
		Delivery: env.delivery,
		Presence: env.delivery,
		Logger:   zap.NewNop(),
	})
	return env
}
