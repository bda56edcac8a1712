package client

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"chatapp/models"
)

func newTestStore(api *fakeAPI) (*Store, *recordingNotifier) {
	n := &recordingNotifier{}
	return NewStore(api, api.self, n, zap.NewNop()), n
}

func rosterEntry(id string, unread int, online bool) models.RosterEntry {
	return models.RosterEntry{
		UserResponse: models.UserResponse{ID: id, Username: id},
		UnreadCount:  unread,
		Online:       online,
	}
}

func TestLoadRosterMirrorsServerCounts(t *testing.T) {
	api := newFakeAPI("me")
	api.roster = []models.RosterEntry{rosterEntry("a", 2, true), rosterEntry("b", 0, false)}
	store, _ := newTestStore(api)

	store.ReceivePush(msgFrom("x", "b", "me", "stale"))
	if err := store.LoadRoster(context.Background()); err != nil {
		t.Fatalf("LoadRoster failed: %v", err)
	}

	snap := store.Snapshot()
	if snap.Unread["a"] != 2 || snap.Unread["b"] != 0 {
		t.Fatalf("unexpected unread counters: %v", snap.Unread)
	}
	if !snap.Online["a"] || snap.Online["b"] {
		t.Fatalf("unexpected online set: %v", snap.Online)
	}
	if len(snap.Roster) != 2 {
		t.Fatalf("expected 2 roster entries, got %d", len(snap.Roster))
	}
}

func TestLoadRosterFailureLeavesState(t *testing.T) {
	api := newFakeAPI("me")
	api.roster = []models.RosterEntry{rosterEntry("a", 1, false)}
	store, notifier := newTestStore(api)

	if err := store.LoadRoster(context.Background()); err != nil {
		t.Fatalf("LoadRoster failed: %v", err)
	}
	api.rosterErr = errors.New("down")
	if err := store.LoadRoster(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if store.Unread("a") != 1 || len(store.Snapshot().Roster) != 1 {
		t.Fatal("failed roster load mutated state")
	}
	if notifier.count() != 1 {
		t.Fatalf("expected one notification, got %d", notifier.count())
	}
}

func TestSelectPeerClearsUnreadAndMarksRead(t *testing.T) {
	api := newFakeAPI("me")
	api.roster = []models.RosterEntry{rosterEntry("d", 3, true)}
	api.history["d"] = []models.Message{
		msgFrom("1", "d", "me", "one"),
		msgFrom("2", "me", "d", "two"),
	}
	store, _ := newTestStore(api)

	if err := store.LoadRoster(context.Background()); err != nil {
		t.Fatalf("LoadRoster failed: %v", err)
	}
	if store.Unread("d") != 3 {
		t.Fatalf("expected 3 unread before select, got %d", store.Unread("d"))
	}

	if err := store.SelectPeer(context.Background(), "d"); err != nil {
		t.Fatalf("SelectPeer failed: %v", err)
	}

	snap := store.Snapshot()
	if snap.ActivePeer != "d" {
		t.Fatalf("unexpected active peer %q", snap.ActivePeer)
	}
	if snap.Unread["d"] != 0 {
		t.Fatalf("expected unread reset to 0, got %d", snap.Unread["d"])
	}
	if len(snap.Messages) != 2 || snap.Messages[0].ID != "1" || snap.Messages[1].ID != "2" {
		t.Fatalf("unexpected messages: %+v", snap.Messages)
	}
	if marked := api.markedPeers(); len(marked) != 1 || marked[0] != "d" {
		t.Fatalf("expected one MarkRead for d, got %v", marked)
	}
}

func TestSelectPeerFailureKeepsPreviousConversation(t *testing.T) {
	api := newFakeAPI("me")
	api.history["a"] = []models.Message{msgFrom("1", "a", "me", "hi")}
	store, notifier := newTestStore(api)

	if err := store.SelectPeer(context.Background(), "a"); err != nil {
		t.Fatalf("SelectPeer failed: %v", err)
	}
	store.ReceivePush(msgFrom("b1", "b", "me", "hey"))

	api.historyErr = errors.New("down")
	if err := store.SelectPeer(context.Background(), "b"); err == nil {
		t.Fatal("expected SelectPeer to fail")
	}

	snap := store.Snapshot()
	if snap.ActivePeer != "a" || len(snap.Messages) != 1 {
		t.Fatalf("failed select changed the open conversation: %+v", snap)
	}
	if snap.Unread["b"] != 1 {
		t.Fatalf("failed select must not clear unread, got %d", snap.Unread["b"])
	}
	if marked := api.markedPeers(); len(marked) != 1 {
		t.Fatalf("failed select must not mark read, got %v", marked)
	}
	if notifier.count() != 1 {
		t.Fatalf("expected one notification, got %d", notifier.count())
	}
}

func TestReceivePushRules(t *testing.T) {
	api := newFakeAPI("me")
	store, _ := newTestStore(api)
	if err := store.SelectPeer(context.Background(), "a"); err != nil {
		t.Fatalf("SelectPeer failed: %v", err)
	}

	store.ReceivePush(msgFrom("1", "a", "me", "from active"))
	store.ReceivePush(msgFrom("2", "b", "me", "from other"))
	store.ReceivePush(msgFrom("3", "b", "me", "from other again"))
	store.ReceivePush(msgFrom("4", "me", "a", "own, other tab"))
	store.ReceivePush(msgFrom("5", "me", "b", "own, to inactive peer"))
	store.ReceivePush(msgFrom("1", "a", "me", "duplicate"))

	snap := store.Snapshot()
	if len(snap.Messages) != 2 || snap.Messages[0].ID != "1" || snap.Messages[1].ID != "4" {
		t.Fatalf("unexpected messages: %+v", snap.Messages)
	}
	if snap.Unread["b"] != 2 {
		t.Fatalf("expected 2 unread from b, got %d", snap.Unread["b"])
	}
	if snap.Unread["a"] != 0 || snap.Unread["me"] != 0 {
		t.Fatalf("unexpected unread counters: %v", snap.Unread)
	}
}

func TestReceivePushKeepsArrivalOrder(t *testing.T) {
	api := newFakeAPI("me")
	store, _ := newTestStore(api)
	if err := store.SelectPeer(context.Background(), "a"); err != nil {
		t.Fatalf("SelectPeer failed: %v", err)
	}

	late := msgFrom("late", "a", "me", "sent second")
	late.CreatedAt = time.Now()
	early := msgFrom("early", "a", "me", "sent first")
	early.CreatedAt = late.CreatedAt.Add(-time.Minute)

	store.ReceivePush(late)
	store.ReceivePush(early)

	msgs := store.Snapshot().Messages
	if len(msgs) != 2 || msgs[0].ID != "late" || msgs[1].ID != "early" {
		t.Fatalf("expected arrival order, got %+v", msgs)
	}
}

func TestPushDuringSelectionIsMerged(t *testing.T) {
	api := newFakeAPI("me")
	api.history["p"] = []models.Message{msgFrom("1", "p", "me", "old"), msgFrom("2", "p", "me", "raced")}
	api.historyGate = make(chan struct{})
	api.historyCall = make(chan string, 1)
	store, _ := newTestStore(api)

	done := make(chan error, 1)
	go func() { done <- store.SelectPeer(context.Background(), "p") }()

	<-api.historyCall
	// One push the history already contains, one it does not.
	store.ReceivePush(msgFrom("2", "p", "me", "raced"))
	store.ReceivePush(msgFrom("3", "p", "me", "new"))
	if store.Unread("p") != 0 {
		t.Fatal("pushes for the conversation being opened must not count as unread")
	}
	close(api.historyGate)

	if err := <-done; err != nil {
		t.Fatalf("SelectPeer failed: %v", err)
	}

	msgs := store.Snapshot().Messages
	if len(msgs) != 3 || msgs[0].ID != "1" || msgs[1].ID != "2" || msgs[2].ID != "3" {
		t.Fatalf("unexpected merged messages: %+v", msgs)
	}
}

func TestPushDuringFailedSelectionCountsUnread(t *testing.T) {
	api := newFakeAPI("me")
	api.historyErr = errors.New("down")
	api.historyGate = make(chan struct{})
	api.historyCall = make(chan string, 1)
	store, _ := newTestStore(api)

	done := make(chan error, 1)
	go func() { done <- store.SelectPeer(context.Background(), "p") }()

	<-api.historyCall
	store.ReceivePush(msgFrom("1", "p", "me", "while loading"))
	close(api.historyGate)

	if err := <-done; err == nil {
		t.Fatal("expected SelectPeer to fail")
	}
	if store.Unread("p") != 1 {
		t.Fatalf("expected held push to count as unread, got %d", store.Unread("p"))
	}
	if store.ActivePeer() != "" {
		t.Fatalf("unexpected active peer %q", store.ActivePeer())
	}
}

func TestSupersededSelectionIsDropped(t *testing.T) {
	api := newFakeAPI("me")
	api.history["slow"] = []models.Message{msgFrom("s", "slow", "me", "slow")}
	api.history["fast"] = []models.Message{msgFrom("f", "fast", "me", "fast")}
	gate := make(chan struct{})
	api.historyGate = gate
	api.historyCall = make(chan string, 1)
	store, _ := newTestStore(api)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() { done <- store.SelectPeer(ctx, "slow") }()
	<-api.historyCall

	api.mu.Lock()
	api.historyGate = nil
	api.historyCall = nil
	api.mu.Unlock()

	if err := store.SelectPeer(ctx, "fast"); err != nil {
		t.Fatalf("SelectPeer fast failed: %v", err)
	}
	close(gate)

	if err := <-done; !errors.Is(err, ErrSuperseded) {
		t.Fatalf("expected ErrSuperseded, got %v", err)
	}

	snap := store.Snapshot()
	if snap.ActivePeer != "fast" || len(snap.Messages) != 1 || snap.Messages[0].ID != "f" {
		t.Fatalf("stale selection overwrote state: %+v", snap)
	}
	if marked := api.markedPeers(); len(marked) != 1 || marked[0] != "fast" {
		t.Fatalf("unexpected MarkRead calls: %v", marked)
	}
}

func TestPushDuringSupersededSelectionCountsUnread(t *testing.T) {
	api := newFakeAPI("me")
	api.history["fast"] = []models.Message{msgFrom("f", "fast", "me", "fast")}
	gate := make(chan struct{})
	api.historyGate = gate
	api.historyCall = make(chan string, 1)
	store, _ := newTestStore(api)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() { done <- store.SelectPeer(ctx, "slow") }()
	<-api.historyCall

	store.ReceivePush(msgFrom("m1", "slow", "me", "while loading"))
	store.ReceivePush(msgFrom("m2", "me", "slow", "own, other tab"))

	api.mu.Lock()
	api.historyGate = nil
	api.historyCall = nil
	api.mu.Unlock()

	if err := store.SelectPeer(ctx, "fast"); err != nil {
		t.Fatalf("SelectPeer fast failed: %v", err)
	}
	close(gate)
	if err := <-done; !errors.Is(err, ErrSuperseded) {
		t.Fatalf("expected ErrSuperseded, got %v", err)
	}

	snap := store.Snapshot()
	if snap.ActivePeer != "fast" || len(snap.Messages) != 1 {
		t.Fatalf("unexpected state: %+v", snap)
	}
	if got := store.Unread("slow"); got != 1 {
		t.Fatalf("expected push from the replaced selection to count as unread, got %d", got)
	}
	if got := store.Unread("me"); got != 0 {
		t.Fatalf("own messages must never count as unread, got %d", got)
	}
}

func TestClearSelectionDuringFetchCountsUnread(t *testing.T) {
	api := newFakeAPI("me")
	gate := make(chan struct{})
	api.historyGate = gate
	api.historyCall = make(chan string, 1)
	store, _ := newTestStore(api)

	done := make(chan error, 1)
	go func() { done <- store.SelectPeer(context.Background(), "p") }()
	<-api.historyCall

	store.ReceivePush(msgFrom("1", "p", "me", "held"))
	store.ClearSelection()
	close(gate)

	if err := <-done; !errors.Is(err, ErrSuperseded) {
		t.Fatalf("expected ErrSuperseded, got %v", err)
	}
	if store.ActivePeer() != "" {
		t.Fatalf("unexpected active peer %q", store.ActivePeer())
	}
	if got := store.Unread("p"); got != 1 {
		t.Fatalf("expected held push to count as unread, got %d", got)
	}
	if marked := api.markedPeers(); len(marked) != 0 {
		t.Fatalf("unexpected MarkRead calls: %v", marked)
	}
}

func TestSendMessage(t *testing.T) {
	api := newFakeAPI("me")
	store, notifier := newTestStore(api)
	ctx := context.Background()

	if _, err := store.SendMessage(ctx, models.SendPayload{Text: "hi"}); !errors.Is(err, ErrNoActivePeer) {
		t.Fatalf("expected ErrNoActivePeer, got %v", err)
	}
	if err := store.SelectPeer(ctx, "a"); err != nil {
		t.Fatalf("SelectPeer failed: %v", err)
	}
	if _, err := store.SendMessage(ctx, models.SendPayload{Text: "   "}); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("expected ErrEmptyMessage, got %v", err)
	}
	if len(api.sent) != 0 {
		t.Fatal("rejected sends must not reach the server")
	}

	msg, err := store.SendMessage(ctx, models.SendPayload{Text: " hello "})
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if api.sent[0].Text != "hello" {
		t.Fatalf("expected trimmed text to be sent, got %q", api.sent[0].Text)
	}

	// The realtime echo of the same message must not duplicate it.
	store.ReceivePush(*msg)

	msgs := store.Snapshot().Messages
	if len(msgs) != 1 || msgs[0].ID != msg.ID {
		t.Fatalf("unexpected messages after send: %+v", msgs)
	}

	api.sendErr = errors.New("down")
	before := notifier.count()
	if _, err := store.SendMessage(ctx, models.SendPayload{Text: "lost"}); err == nil {
		t.Fatal("expected send failure")
	}
	if len(store.Snapshot().Messages) != 1 {
		t.Fatal("failed send must not change the message list")
	}
	if notifier.count() != before+1 {
		t.Fatal("failed send must notify")
	}
}

func TestSendMessageAfterSwitchIsNotAppended(t *testing.T) {
	api := newFakeAPI("me")
	store, _ := newTestStore(api)
	ctx := context.Background()

	if err := store.SelectPeer(ctx, "a"); err != nil {
		t.Fatalf("SelectPeer failed: %v", err)
	}
	api.sendHook = func() {
		api.mu.Lock()
		api.sendHook = nil
		api.mu.Unlock()
		if err := store.SelectPeer(ctx, "b"); err != nil {
			t.Errorf("SelectPeer b failed: %v", err)
		}
	}

	if _, err := store.SendMessage(ctx, models.SendPayload{Text: "to a"}); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}

	snap := store.Snapshot()
	if snap.ActivePeer != "b" || len(snap.Messages) != 0 {
		t.Fatalf("message for a leaked into b's conversation: %+v", snap)
	}
}

func TestReceiveReadMarksOwnMessages(t *testing.T) {
	api := newFakeAPI("me")
	api.history["a"] = []models.Message{
		msgFrom("1", "me", "a", "mine"),
		msgFrom("2", "a", "me", "theirs"),
	}
	store, _ := newTestStore(api)
	if err := store.SelectPeer(context.Background(), "a"); err != nil {
		t.Fatalf("SelectPeer failed: %v", err)
	}

	store.ReceiveRead("someone-else")
	if store.Snapshot().Messages[0].IsRead {
		t.Fatal("read event from another user must not change the view")
	}

	store.HandleEvent(mustEvent(t, models.EventMessagesRead, models.MessagesReadPayload{ReaderUserID: "a"}))
	msgs := store.Snapshot().Messages
	if !msgs[0].IsRead {
		t.Fatal("own message should be marked read")
	}
	if msgs[1].IsRead {
		t.Fatal("peer's message read state must not change")
	}
}

func TestHandleEventPresenceAndTyping(t *testing.T) {
	api := newFakeAPI("me")
	api.roster = []models.RosterEntry{rosterEntry("a", 0, false)}
	store, _ := newTestStore(api)
	if err := store.LoadRoster(context.Background()); err != nil {
		t.Fatalf("LoadRoster failed: %v", err)
	}

	changes := 0
	store.OnChange(func() { changes++ })

	store.HandleEvent(mustEvent(t, models.EventPresence, models.PresencePayload{UserID: "a", Online: true}))
	store.HandleEvent(mustEvent(t, models.EventTyping, models.TypingPayload{UserID: "a", Typing: true}))
	store.HandleEvent(mustEvent(t, models.EventNewMessage, msgFrom("1", "a", "me", "hi")))
	store.HandleEvent(models.WebSocketMessage{Type: "unknown"})

	snap := store.Snapshot()
	if !snap.Online["a"] || !snap.Roster[0].Online {
		t.Fatalf("expected a online: %+v", snap)
	}
	if !snap.Typing["a"] {
		t.Fatal("expected typing indicator for a")
	}
	if snap.Unread["a"] != 1 {
		t.Fatalf("expected 1 unread from a, got %d", snap.Unread["a"])
	}
	if changes != 3 {
		t.Fatalf("expected 3 change notifications, got %d", changes)
	}

	store.HandleEvent(mustEvent(t, models.EventPresence, models.PresencePayload{UserID: "a", Online: false}))
	snap = store.Snapshot()
	if snap.Online["a"] || snap.Typing["a"] {
		t.Fatalf("expected a offline and not typing: %+v", snap)
	}
}

func mustEvent(t *testing.T, eventType string, payload interface{}) models.WebSocketMessage {
	t.Helper()
	ev, err := models.NewEvent(eventType, payload)
	if err != nil {
		t.Fatalf("build event: %v", err)
	}
	return ev
}
