package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"chatapp/models"
)

type eventRecorder struct {
	mu     sync.Mutex
	events []models.WebSocketMessage
	ch     chan struct{}
}

func newEventRecorder() *eventRecorder {
	return &eventRecorder{ch: make(chan struct{}, 16)}
}

func (r *eventRecorder) HandleEvent(ev models.WebSocketMessage) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	r.ch <- struct{}{}
}

func (r *eventRecorder) wait(t *testing.T) {
	t.Helper()
	select {
	case <-r.ch:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestSubscriptionReconnects(t *testing.T) {
	var dials atomic.Int32
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()

		n := dials.Add(1)
		ev, _ := models.NewEvent(models.EventMessagesRead, models.MessagesReadPayload{ReaderUserID: "peer"})
		_ = ws.WriteJSON(ev)
		if n == 1 {
			// Drop the first connection to force a redial.
			return
		}
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	rec := newEventRecorder()
	sub := NewSubscription("ws"+strings.TrimPrefix(srv.URL, "http"), "tok", rec, zap.NewNop())
	sub.initialInterval = 10 * time.Millisecond
	sub.maxInterval = 50 * time.Millisecond

	var connects atomic.Int32
	sub.OnConnect = func(context.Context) { connects.Add(1) }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sub.Run(ctx) }()

	rec.wait(t)
	rec.wait(t)

	if got := connects.Load(); got < 2 {
		t.Fatalf("expected at least 2 connects, got %d", got)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error after cancel: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestSubscriptionStopsOnUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer srv.Close()

	sub := NewSubscription("ws"+strings.TrimPrefix(srv.URL, "http"), "bad", newEventRecorder(), zap.NewNop())
	sub.initialInterval = 10 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sub.Run(ctx); err != ErrUnauthorized {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestSendTypingWithoutConnection(t *testing.T) {
	sub := NewSubscription("ws://unused", "tok", newEventRecorder(), zap.NewNop())
	if err := sub.SendTyping("peer", true); err == nil {
		t.Fatal("expected error when not connected")
	}
}
