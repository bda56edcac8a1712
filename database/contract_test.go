package database

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"chatapp/models"
)

// runStoreContract exercises the behavior every Store backend shares.
// open must return an empty or shared store; user names are suffixed so
// runs against a shared server do not collide.
func runStoreContract(t *testing.T, open func(t *testing.T) Store) {
	t.Run("users", func(t *testing.T) { testUserLookupAndDuplicates(t, open(t)) })
	t.Run("conversation", func(t *testing.T) { testConversationOrderingAndIsolation(t, open(t)) })
	t.Run("media", func(t *testing.T) { testInsertMessageKeepsMediaFields(t, open(t)) })
	t.Run("unread", func(t *testing.T) { testUnreadCountAndMarkRead(t, open(t)) })
	t.Run("sessions", func(t *testing.T) { testSessionLifecycle(t, open(t)) })
}

type testUser struct {
	ID       string
	Username string
	Email    string
}

func createContractUser(t *testing.T, store Store, name string) testUser {
	t.Helper()

	username := name + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:10]
	email := username + "@example.com"
	user, err := store.CreateUser(context.Background(), username, email, "hash-"+name)
	if err != nil {
		t.Fatalf("create user %q: %v", username, err)
	}
	return testUser{ID: user.ID, Username: username, Email: email}
}

func testUserLookupAndDuplicates(t *testing.T, store Store) {
	ctx := context.Background()

	alice := createContractUser(t, store, "alice")
	bob := createContractUser(t, store, "bob")
	carol := createContractUser(t, store, "carol")

	got, err := store.GetUserByUsername(ctx, alice.Username)
	if err != nil {
		t.Fatalf("GetUserByUsername failed: %v", err)
	}
	if got.ID != alice.ID {
		t.Fatalf("unexpected user id: got %q want %q", got.ID, alice.ID)
	}
	if got.Password != "hash-alice" {
		t.Fatalf("unexpected password hash: %q", got.Password)
	}

	byEmail, err := store.GetUserByEmail(ctx, bob.Email)
	if err != nil {
		t.Fatalf("GetUserByEmail failed: %v", err)
	}
	if byEmail.ID != bob.ID {
		t.Fatalf("unexpected user for email: %q", byEmail.ID)
	}

	if _, err := store.GetUserByID(ctx, uuid.NewString()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if _, err := store.CreateUser(ctx, alice.Username, "other-"+alice.Email, "x"); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate for username, got %v", err)
	}
	if _, err := store.CreateUser(ctx, alice.Username+"2", alice.Email, "x"); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate for email, got %v", err)
	}

	others, err := store.ListUsersExcept(ctx, alice.ID)
	if err != nil {
		t.Fatalf("ListUsersExcept failed: %v", err)
	}
	var seen []string
	for _, u := range others {
		switch u.ID {
		case alice.ID:
			t.Fatal("ListUsersExcept returned the excluded user")
		case bob.ID, carol.ID:
			seen = append(seen, u.ID)
		}
	}
	if len(seen) != 2 || seen[0] != bob.ID || seen[1] != carol.ID {
		t.Fatalf("expected bob then carol in username order, got %v", seen)
	}
}

func testConversationOrderingAndIsolation(t *testing.T, store Store) {
	ctx := context.Background()

	alice := createContractUser(t, store, "alice").ID
	bob := createContractUser(t, store, "bob").ID
	carol := createContractUser(t, store, "carol").ID

	// Inserted back to back, so several share a millisecond timestamp and
	// only the insertion sequence orders them.
	texts := []string{"one", "two", "three", "four", "five", "six"}
	for i, text := range texts {
		from, to := alice, bob
		if i%2 == 1 {
			from, to = bob, alice
		}
		msg, err := store.InsertMessage(ctx, models.Message{SenderID: from, ReceiverID: to, Text: text, IsRead: true})
		if err != nil {
			t.Fatalf("InsertMessage %d failed: %v", i, err)
		}
		if msg.ID == "" || msg.IsRead || msg.CreatedAt.IsZero() {
			t.Fatalf("unexpected stored message: %+v", msg)
		}
	}
	if _, err := store.InsertMessage(ctx, models.Message{SenderID: carol, ReceiverID: alice, Text: "hi"}); err != nil {
		t.Fatalf("InsertMessage from carol failed: %v", err)
	}

	conv, err := store.FindConversation(ctx, bob, alice)
	if err != nil {
		t.Fatalf("FindConversation failed: %v", err)
	}
	if len(conv) != len(texts) {
		t.Fatalf("expected %d messages, got %d", len(texts), len(conv))
	}
	for i, msg := range conv {
		if msg.Text != texts[i] {
			t.Fatalf("message %d out of order: got %q want %q", i, msg.Text, texts[i])
		}
		if !msg.Involves(alice, bob) {
			t.Fatalf("message %d leaked from another conversation: %+v", i, msg)
		}
		if msg.IsRead {
			t.Fatalf("message %d stored as read", i)
		}
		if i > 0 && msg.CreatedAt.Before(conv[i-1].CreatedAt) {
			t.Fatalf("message %d created before its predecessor", i)
		}
	}

	empty, err := store.FindConversation(ctx, bob, carol)
	if err != nil {
		t.Fatalf("FindConversation (empty) failed: %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("expected empty conversation, got %d messages", len(empty))
	}
}

func testInsertMessageKeepsMediaFields(t *testing.T, store Store) {
	ctx := context.Background()

	alice := createContractUser(t, store, "alice").ID
	bob := createContractUser(t, store, "bob").ID

	_, err := store.InsertMessage(ctx, models.Message{
		SenderID:   alice,
		ReceiverID: bob,
		Image:      "http://localhost/uploads/image/a.png",
		Audio:      "http://localhost/uploads/audio/a.webm",
	})
	if err != nil {
		t.Fatalf("InsertMessage failed: %v", err)
	}

	conv, err := store.FindConversation(ctx, alice, bob)
	if err != nil {
		t.Fatalf("FindConversation failed: %v", err)
	}
	if len(conv) != 1 {
		t.Fatalf("expected 1 message, got %d", len(conv))
	}
	if conv[0].Image == "" || conv[0].Audio == "" {
		t.Fatalf("media fields lost: %+v", conv[0])
	}
	if conv[0].Text != "" || conv[0].Video != "" {
		t.Fatalf("unexpected empty fields populated: %+v", conv[0])
	}

	if _, err := store.InsertMessage(ctx, models.Message{SenderID: alice}); err == nil {
		t.Fatal("expected error for message without receiver")
	}
}

func testUnreadCountAndMarkRead(t *testing.T, store Store) {
	ctx := context.Background()

	alice := createContractUser(t, store, "alice").ID
	bob := createContractUser(t, store, "bob").ID

	for i := 0; i < 3; i++ {
		if _, err := store.InsertMessage(ctx, models.Message{SenderID: alice, ReceiverID: bob, Text: "ping"}); err != nil {
			t.Fatalf("InsertMessage failed: %v", err)
		}
	}
	if _, err := store.InsertMessage(ctx, models.Message{SenderID: bob, ReceiverID: alice, Text: "pong"}); err != nil {
		t.Fatalf("InsertMessage reply failed: %v", err)
	}

	count, err := store.CountUnread(ctx, alice, bob)
	if err != nil {
		t.Fatalf("CountUnread failed: %v", err)
	}
	if count != 3 {
		t.Fatalf("expected 3 unread, got %d", count)
	}

	n, err := store.MarkRead(ctx, alice, bob)
	if err != nil {
		t.Fatalf("MarkRead failed: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 rows marked, got %d", n)
	}

	n, err = store.MarkRead(ctx, alice, bob)
	if err != nil {
		t.Fatalf("second MarkRead failed: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected idempotent MarkRead, got %d rows", n)
	}

	// A message arriving after the bulk update starts unread; the earlier
	// ones stay read.
	if _, err := store.InsertMessage(ctx, models.Message{SenderID: alice, ReceiverID: bob, Text: "late"}); err != nil {
		t.Fatalf("InsertMessage late failed: %v", err)
	}
	count, err = store.CountUnread(ctx, alice, bob)
	if err != nil {
		t.Fatalf("CountUnread after MarkRead failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected only the late message unread, got %d", count)
	}

	// The opposite direction is untouched.
	count, err = store.CountUnread(ctx, bob, alice)
	if err != nil {
		t.Fatalf("CountUnread reverse failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected reverse unread 1, got %d", count)
	}

	conv, err := store.FindConversation(ctx, alice, bob)
	if err != nil {
		t.Fatalf("FindConversation failed: %v", err)
	}
	for _, msg := range conv {
		wantRead := msg.SenderID == alice && msg.Text == "ping"
		if msg.IsRead != wantRead {
			t.Fatalf("message %q from %s: is_read=%v, want %v", msg.Text, msg.SenderID, msg.IsRead, wantRead)
		}
	}
}

func testSessionLifecycle(t *testing.T, store Store) {
	ctx := context.Background()

	alice := createContractUser(t, store, "alice").ID

	live := models.Session{ID: uuid.NewString(), UserID: alice, ExpiresAt: time.Now().Add(time.Hour)}
	expired := models.Session{ID: uuid.NewString(), UserID: alice, ExpiresAt: time.Now().Add(-time.Minute)}
	for _, s := range []models.Session{live, expired} {
		if err := store.CreateSession(ctx, s); err != nil {
			t.Fatalf("CreateSession %q failed: %v", s.ID, err)
		}
	}

	got, err := store.GetSession(ctx, live.ID)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if got.UserID != alice {
		t.Fatalf("unexpected session user: %q", got.UserID)
	}

	if _, err := store.GetSession(ctx, expired.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for expired session, got %v", err)
	}

	if err := store.DeleteSession(ctx, live.ID); err != nil {
		t.Fatalf("DeleteSession failed: %v", err)
	}
	if _, err := store.GetSession(ctx, live.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}
